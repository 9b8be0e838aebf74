package store

import (
	"context"
	"sync"
	"time"

	"github.com/nodeflow-go/internal/domain/workflow"
)

// Memory is an in-process Store. Used by tests and single-binary setups.
type Memory struct {
	mu         sync.RWMutex
	workflows  map[string]*workflow.Workflow
	executions map[string]*workflow.Execution
	logs       []*workflow.ExecutionLog
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		workflows:  make(map[string]*workflow.Workflow),
		executions: make(map[string]*workflow.Execution),
	}
}

// PutWorkflow stores a workflow document.
func (m *Memory) PutWorkflow(wf *workflow.Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = wf
}

// PutExecution stores an execution record.
func (m *Memory) PutExecution(exec *workflow.Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[exec.ID] = exec
}

func (m *Memory) GetWorkflowByID(ctx context.Context, id string) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return wf, nil
}

func (m *Memory) GetExecutionByID(ctx context.Context, id string) (*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exec, ok := m.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return exec, nil
}

func (m *Memory) UpdateExecutionStatus(ctx context.Context, exec *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[exec.ID] = exec
	return nil
}

func (m *Memory) AddExecutionLog(ctx context.Context, entry *workflow.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *Memory) UpdateWorkflowStats(ctx context.Context, workflowID string, success bool, durationMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[workflowID]
	if !ok {
		return ErrWorkflowNotFound
	}
	wf.RunCount++
	if !success {
		wf.ErrorCount++
	}
	now := time.Now().UTC()
	wf.LastRunAt = &now
	return nil
}

// Logs returns a snapshot of recorded log entries, in append order.
func (m *Memory) Logs() []*workflow.ExecutionLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*workflow.ExecutionLog, len(m.logs))
	copy(out, m.logs)
	return out
}
