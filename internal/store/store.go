// Package store defines the narrow CRUD surface the executor needs from
// workflow and execution persistence. The executor treats storage as a
// document store; how documents are kept is an adapter concern.
package store

import (
	"context"
	"errors"

	"github.com/nodeflow-go/internal/domain/workflow"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
)

// Store is the persistence collaborator for workflow runs.
type Store interface {
	GetWorkflowByID(ctx context.Context, id string) (*workflow.Workflow, error)
	GetExecutionByID(ctx context.Context, id string) (*workflow.Execution, error)
	UpdateExecutionStatus(ctx context.Context, exec *workflow.Execution) error
	AddExecutionLog(ctx context.Context, entry *workflow.ExecutionLog) error
	UpdateWorkflowStats(ctx context.Context, workflowID string, success bool, durationMs int64) error
}
