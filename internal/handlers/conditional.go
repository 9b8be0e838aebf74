package handlers

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/internal/engine/template"
)

// ConditionalHandler evaluates a boolean condition set against node input
// and reports which branch downstream edges should take.
type ConditionalHandler struct{}

// Condition is one field comparison.
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

type conditionalConfig struct {
	Conditions  []Condition `json:"conditions"`
	CombineMode string      `json:"combineMode"`
}

// NewConditionalHandler creates a conditional handler.
func NewConditionalHandler() *ConditionalHandler {
	return &ConditionalHandler{}
}

func (h *ConditionalHandler) Execute(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
	var cfg conditionalConfig
	if err := parseConfig(nc.Config, &cfg); err != nil {
		return invalidConfig(fmt.Sprintf("invalid conditional config: %v", err)), nil
	}
	if len(cfg.Conditions) == 0 {
		return missingConfig("conditional node requires at least one condition"), nil
	}

	scope := nc.InputScope()
	mode := cfg.CombineMode
	if mode == "" {
		mode = "and"
	}

	matched := mode == "and"
	for _, cond := range cfg.Conditions {
		ok, err := evaluateCondition(cond, scope)
		if err != nil {
			return workflow.Failure(errcode.Config(errcode.InvalidConfig, err.Error())), nil
		}
		if mode == "or" {
			if ok {
				matched = true
				break
			}
		} else if !ok {
			matched = false
			break
		}
	}

	branch := "false"
	if matched {
		branch = "true"
	}
	return workflow.Ok(map[string]interface{}{
		"result": matched,
		"branch": branch,
	}), nil
}

// evaluateCondition applies one operator. A field path that resolves to
// nothing yields nil, which most operators treat as a non-match rather than
// an error.
func evaluateCondition(cond Condition, scope map[string]interface{}) (bool, error) {
	var actual interface{}
	if cond.Field != "" {
		actual = template.GetPath(scope, cond.Field)
	}

	switch cond.Operator {
	case "equals", "==", "eq":
		return looseEquals(actual, cond.Value), nil
	case "notEquals", "!=", "ne":
		return !looseEquals(actual, cond.Value), nil
	case "contains":
		return strings.Contains(toString(actual), toString(cond.Value)), nil
	case "notContains":
		return !strings.Contains(toString(actual), toString(cond.Value)), nil
	case "startsWith":
		return strings.HasPrefix(toString(actual), toString(cond.Value)), nil
	case "endsWith":
		return strings.HasSuffix(toString(actual), toString(cond.Value)), nil
	case "greaterThan", ">", "gt":
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a > b })
	case "greaterThanOrEqual", ">=", "gte":
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a >= b })
	case "lessThan", "<", "lt":
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a < b })
	case "lessThanOrEqual", "<=", "lte":
		return compareNumeric(actual, cond.Value, func(a, b float64) bool { return a <= b })
	case "isEmpty":
		return isEmpty(actual), nil
	case "isNotEmpty":
		return !isEmpty(actual), nil
	case "isNull":
		return actual == nil, nil
	case "isNotNull":
		return actual != nil, nil
	case "isTrue":
		return toBool(actual), nil
	case "isFalse":
		return !toBool(actual), nil
	case "regex", "matches":
		re, err := regexp.Compile(toString(cond.Value))
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %v", toString(cond.Value), err)
		}
		return re.MatchString(toString(actual)), nil
	case "in":
		return inList(actual, cond.Value), nil
	case "notIn":
		return !inList(actual, cond.Value), nil
	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

func looseEquals(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Numeric configs arrive as float64 after JSON decoding; compare
	// numerically before falling back to text.
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toString(a) == toString(b)
}

func compareNumeric(a, b interface{}, cmp func(a, b float64) bool) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, fmt.Errorf("cannot compare non-numeric values %v and %v", a, b)
	}
	return cmp(af, bf), nil
}

func inList(needle, haystack interface{}) bool {
	list, ok := haystack.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEquals(needle, item) {
			return true
		}
	}
	return false
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	default:
		return false
	}
}

func toBool(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "1"
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// SwitchHandler routes on a single field value across named cases.
type SwitchHandler struct{}

type switchCase struct {
	Value  interface{} `json:"value"`
	Branch string      `json:"branch"`
}

type switchConfig struct {
	Field         string       `json:"field"`
	Cases         []switchCase `json:"cases"`
	DefaultBranch string       `json:"defaultBranch"`
}

// NewSwitchHandler creates a switch handler.
func NewSwitchHandler() *SwitchHandler {
	return &SwitchHandler{}
}

func (h *SwitchHandler) Execute(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
	var cfg switchConfig
	if err := parseConfig(nc.Config, &cfg); err != nil {
		return invalidConfig(fmt.Sprintf("invalid switch config: %v", err)), nil
	}
	if cfg.Field == "" {
		return missingConfig("switch node requires a field"), nil
	}
	if len(cfg.Cases) == 0 {
		return missingConfig("switch node requires at least one case"), nil
	}

	actual := template.GetPath(nc.InputScope(), cfg.Field)

	branch := cfg.DefaultBranch
	if branch == "" {
		branch = "default"
	}
	matched := false
	for i, c := range cfg.Cases {
		if looseEquals(actual, c.Value) {
			matched = true
			branch = c.Branch
			if branch == "" {
				branch = fmt.Sprintf("case%d", i)
			}
			break
		}
	}

	return workflow.Ok(map[string]interface{}{
		"branch":  branch,
		"matched": matched,
		"value":   actual,
	}), nil
}
