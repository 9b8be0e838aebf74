// Package template resolves {{path.to.value}} expressions against run state.
//
// Two substitution modes exist for strings: a string that is exactly one
// template resolves to the raw value, preserving its type; a string that
// merely contains templates interpolates them textually, marshaling
// non-primitive values as JSON. Unresolved embedded templates are left
// verbatim so a missing variable cannot corrupt surrounding text.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	exactExpr    = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)
	embeddedExpr = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
)

// Context is the composed state templates resolve against. Nodes holds only
// outputs of nodes that already completed, so a config can never observe a
// phantom reference to a node that has not run yet.
type Context struct {
	Nodes     map[string]interface{}
	Trigger   map[string]interface{}
	Variables map[string]interface{}
}

func (c Context) root() map[string]interface{} {
	return map[string]interface{}{
		"nodes":     c.Nodes,
		"trigger":   c.Trigger,
		"variables": c.Variables,
	}
}

// Resolve walks a dot path against the context. Any missing or non-container
// intermediate short-circuits to nil.
func Resolve(path string, ctx Context) interface{} {
	return GetPath(ctx.root(), path)
}

// Substitute resolves templates in a value, recursing through maps and
// slices. Non-string scalars pass through unchanged.
func Substitute(value interface{}, ctx Context) interface{} {
	switch v := value.(type) {
	case string:
		return substituteString(v, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = Substitute(item, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = Substitute(item, ctx)
		}
		return out
	default:
		return value
	}
}

// SubstituteConfig resolves templates in a node config map.
func SubstituteConfig(config map[string]interface{}, ctx Context) map[string]interface{} {
	if config == nil {
		return nil
	}
	resolved, _ := Substitute(config, ctx).(map[string]interface{})
	return resolved
}

func substituteString(s string, ctx Context) interface{} {
	if m := exactExpr.FindStringSubmatch(s); m != nil {
		// Whole-value mode: preserve the resolved value's type.
		return Resolve(m[1], ctx)
	}

	if !embeddedExpr.MatchString(s) {
		return s
	}

	return embeddedExpr.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(strings.Trim(match, "{}"))
		resolved := Resolve(path, ctx)
		if resolved == nil {
			return match
		}
		return stringify(resolved)
	})
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

// GetPath resolves a dot path against nested maps and slices. Numeric
// segments index into slices.
func GetPath(data interface{}, path string) interface{} {
	current := data
	for _, part := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]interface{}:
			current = c[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil
			}
			current = c[idx]
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}
	return current
}

// SetPath writes a value at a dot path, creating intermediate maps as needed.
// Existing non-map intermediates are replaced.
func SetPath(data map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
