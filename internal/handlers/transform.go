package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
)

const maxTransformOutputs = 1000

// TransformHandler reshapes node input with a jq program. Single-result
// programs produce that value directly; multi-result programs produce a
// list.
type TransformHandler struct{}

type transformConfig struct {
	Query string `json:"query"`
}

// NewTransformHandler creates a transform handler.
func NewTransformHandler() *TransformHandler {
	return &TransformHandler{}
}

func (h *TransformHandler) Execute(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
	var cfg transformConfig
	if err := parseConfig(nc.Config, &cfg); err != nil {
		return invalidConfig(fmt.Sprintf("invalid transform config: %v", err)), nil
	}
	if cfg.Query == "" {
		return missingConfig("transform node requires a query"), nil
	}

	query, err := gojq.Parse(cfg.Query)
	if err != nil {
		return workflow.Failure(errcode.Config(errcode.InvalidConfig,
			fmt.Sprintf("invalid jq query: %v", err))), nil
	}

	input, err := normalizeForJQ(nc.InputScope())
	if err != nil {
		return workflow.Failure(errcode.Runtime(errcode.OperationFailed,
			fmt.Sprintf("input is not jq-compatible: %v", err), false)), nil
	}

	var outputs []interface{}
	iter := query.RunWithContext(ctx, input)
	for len(outputs) < maxTransformOutputs {
		value, ok := iter.Next()
		if !ok {
			break
		}
		if runErr, isErr := value.(error); isErr {
			return workflow.Failure(errcode.Runtime(errcode.OperationFailed,
				fmt.Sprintf("jq evaluation failed: %v", runErr), false)), nil
		}
		outputs = append(outputs, value)
	}

	var result interface{}
	switch len(outputs) {
	case 0:
		result = nil
	case 1:
		result = outputs[0]
	default:
		result = outputs
	}

	return workflow.Ok(map[string]interface{}{
		"result": result,
	}), nil
}

// normalizeForJQ round-trips the input through JSON because gojq only
// accepts the plain decoded forms (nil, bool, float64, string, slices and
// maps of interface{}).
func normalizeForJQ(input map[string]interface{}) (interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var normalized interface{}
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}
