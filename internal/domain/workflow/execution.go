package workflow

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of a run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Trigger is the external event that started a run. The payload is opaque to
// the executor and interpreted only by trigger-type handlers.
type Trigger struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Job is the unit of work dequeued by a worker.
type Job struct {
	ID          string  `json:"id"`
	WorkflowID  string  `json:"workflowId"`
	ExecutionID string  `json:"executionId"`
	OrgID       string  `json:"orgId"`
	Trigger     Trigger `json:"trigger"`
	Attempts    int     `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Execution is the mutable record of one workflow run. It is created before
// the executor starts, updated incrementally and finalized exactly once.
type Execution struct {
	ID             string           `json:"id" gorm:"primaryKey"`
	WorkflowID     string           `json:"workflowId" gorm:"not null;index"`
	OrgID          string           `json:"orgId" gorm:"index"`
	Status         ExecutionStatus  `json:"status"`
	StartedAt      *time.Time       `json:"startedAt"`
	CompletedAt    *time.Time       `json:"completedAt"`
	CompletedNodes []string         `json:"completedNodes" gorm:"serializer:json"`
	FailedNodes    []string         `json:"failedNodes" gorm:"serializer:json"`
	Context        ExecutionContext `json:"context" gorm:"serializer:json"`
	Result         *RunResult       `json:"result,omitempty" gorm:"serializer:json"`
	Metrics        ExecutionMetrics `json:"metrics" gorm:"serializer:json"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// ExecutionContext accumulates run state visible to downstream nodes.
type ExecutionContext struct {
	Variables   map[string]interface{} `json:"variables"`
	NodeOutputs map[string]interface{} `json:"nodeOutputs"`
	Errors      []NodeError            `json:"errors"`
}

// RunResult is the user-visible outcome of a run.
type RunResult struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   *NodeError  `json:"error,omitempty"`
}

// ExecutionMetrics aggregates per-run timing.
type ExecutionMetrics struct {
	TotalDurationMs int64                  `json:"totalDurationMs"`
	NodeMetrics     map[string]NodeMetrics `json:"nodeMetrics"`
}

// NodeMetrics is recorded once per executed node.
type NodeMetrics struct {
	DurationMs     int64 `json:"durationMs"`
	BytesProcessed int64 `json:"bytesProcessed,omitempty"`
}

// NodeResult is the contract every handler must satisfy.
type NodeResult struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    *NodeError             `json:"error,omitempty"`
	Metadata *NodeMetrics           `json:"metadata,omitempty"`
}

// NodeError describes a node failure with its retry classification.
type NodeError struct {
	NodeID    string    `json:"nodeId,omitempty"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// Log event kinds.
const (
	LogEventNodeStart    = "node_start"
	LogEventNodeComplete = "node_complete"
	LogEventNodeError    = "node_error"
	LogEventCustom       = "custom"
)

// ExecutionLog is an append-only log entry keyed by (execution, node).
// Entries are write-once and never mutated during a run.
type ExecutionLog struct {
	ID          string                 `json:"id" gorm:"primaryKey"`
	ExecutionID string                 `json:"executionId" gorm:"not null;index"`
	NodeID      string                 `json:"nodeId,omitempty" gorm:"index"`
	Level       string                 `json:"level"`
	Event       string                 `json:"event"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty" gorm:"serializer:json"`
	Timestamp   time.Time              `json:"timestamp"`
}

// NewExecution creates a pending run record for a workflow.
func NewExecution(workflowID, orgID string) *Execution {
	return &Execution{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		OrgID:      orgID,
		Status:     ExecutionPending,
		Context: ExecutionContext{
			Variables:   make(map[string]interface{}),
			NodeOutputs: make(map[string]interface{}),
			Errors:      []NodeError{},
		},
		Metrics: ExecutionMetrics{
			NodeMetrics: make(map[string]NodeMetrics),
		},
		CreatedAt: time.Now().UTC(),
	}
}

// NewLog creates a log entry stamped with the current time.
func NewLog(executionID, nodeID, level, event, message string, data map[string]interface{}) *ExecutionLog {
	return &ExecutionLog{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Level:       level,
		Event:       event,
		Message:     message,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
}

// Failure builds a failed NodeResult carrying the given error.
func Failure(err *NodeError) *NodeResult {
	return &NodeResult{Success: false, Error: err}
}

// Ok builds a successful NodeResult with the given data.
func Ok(data map[string]interface{}) *NodeResult {
	return &NodeResult{Success: true, Data: data}
}
