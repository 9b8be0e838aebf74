package handlers

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/pkg/logger"
)

// CodeHandler evaluates a sandboxed expression against run state. The
// expression sees inputs, variables, nodes and trigger; it cannot reach the
// filesystem, network or clock.
type CodeHandler struct {
	logger logger.Logger
}

type codeConfig struct {
	Expression string `json:"expression"`
	AssignTo   string `json:"assignTo"`
}

// NewCodeHandler creates a code handler.
func NewCodeHandler(log logger.Logger) *CodeHandler {
	return &CodeHandler{logger: log}
}

func (h *CodeHandler) Execute(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
	var cfg codeConfig
	if err := parseConfig(nc.Config, &cfg); err != nil {
		return invalidConfig(fmt.Sprintf("invalid code config: %v", err)), nil
	}
	if cfg.Expression == "" {
		return missingConfig("code node requires an expression"), nil
	}

	program, err := h.compile(cfg.Expression)
	if err != nil {
		return workflow.Failure(errcode.Config(errcode.InvalidConfig,
			fmt.Sprintf("expression does not compile: %v", err))), nil
	}

	env := map[string]interface{}{
		"inputs":    nc.InputScope(),
		"variables": nc.Variables,
		"nodes":     nc.NodeOutputs,
		"trigger":   nc.Trigger.Payload,
	}

	value, err := expr.Run(program, env)
	if err != nil {
		// Evaluation errors depend on data, not config, but re-running with
		// the same inputs cannot change the outcome.
		return workflow.Failure(errcode.Runtime(errcode.OperationFailed,
			fmt.Sprintf("expression failed: %v", err), false)), nil
	}

	if cfg.AssignTo != "" && nc.Variables != nil {
		nc.Variables[cfg.AssignTo] = value
	}

	return workflow.Ok(map[string]interface{}{
		"result": value,
	}), nil
}

func (h *CodeHandler) compile(src string) (program *vm.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return expr.Compile(src, expr.AllowUndefinedVariables())
}
