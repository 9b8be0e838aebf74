package node

import (
	"context"

	"github.com/nodeflow-go/internal/domain/workflow"
)

// Handler implements one node type's behavior. Expected failures come back
// inside the NodeResult; a non-nil error (or a panic) means the handler hit
// something it could not classify, and the executor converts it to a
// HANDLER_EXCEPTION. Handlers must not keep state across invocations beyond
// their own resource pools.
type Handler interface {
	Execute(ctx context.Context, nc *Context) (*workflow.NodeResult, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, nc *Context) (*workflow.NodeResult, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, nc *Context) (*workflow.NodeResult, error) {
	return f(ctx, nc)
}

// Metadata describes a registered node type. ConfigSchema, when set, is a
// JSON Schema document applied to node configs by the workflow validator.
type Metadata struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	ConfigSchema string `json:"configSchema,omitempty"`
}
