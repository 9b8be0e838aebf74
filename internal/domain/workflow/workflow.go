package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Error handling modes for a workflow run.
const (
	ErrorHandlingStop     = "stop"
	ErrorHandlingContinue = "continue"
)

// DefaultHandle is the input slot used when an edge does not name one.
const DefaultHandle = "default"

// Workflow is the stored definition of a processing graph. It is read-only
// for the executor; a run never mutates it.
type Workflow struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	OrgID       string     `json:"orgId" gorm:"not null;index"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Nodes       []Node     `json:"nodes" gorm:"serializer:json"`
	Edges       []Edge     `json:"edges" gorm:"serializer:json"`
	Variables   []Variable `json:"variables" gorm:"serializer:json"`
	Settings    Settings   `json:"settings" gorm:"serializer:json"`
	IsActive    bool       `json:"isActive" gorm:"default:false"`
	RunCount    int64      `json:"runCount"`
	ErrorCount  int64      `json:"errorCount"`
	LastRunAt   *time.Time `json:"lastRunAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Node is a single typed step in a workflow graph. Config may contain
// unresolved {{...}} template strings.
type Node struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Type    string                 `json:"type"`
	Enabled bool                   `json:"enabled"`
	Config  map[string]interface{} `json:"config"`
}

// Edge directs the output of Source into Target's named input slot.
// When Mapping is present only the listed fields are routed; otherwise the
// whole upstream output is assigned under TargetHandle.
type Edge struct {
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	TargetHandle string         `json:"targetHandle,omitempty"`
	Mapping      []FieldMapping `json:"mapping,omitempty"`
}

// FieldMapping routes a single dot-path field across an edge.
type FieldMapping struct {
	SourceField string `json:"sourceField"`
	TargetField string `json:"targetField"`
}

// Variable is a workflow-level variable with its default value. Handlers may
// overwrite values during a run but keys are never removed.
type Variable struct {
	Name         string      `json:"name"`
	DefaultValue interface{} `json:"defaultValue"`
}

// Settings holds per-workflow execution policy.
type Settings struct {
	// ErrorHandling is "stop" (default) or "continue".
	ErrorHandling string `json:"errorHandling"`
	// OutputNodeID optionally designates the node whose output becomes the
	// run result. When empty the executor falls back to terminal-node output.
	OutputNodeID string `json:"outputNodeId,omitempty"`
}

// Handle returns the edge's input slot, defaulting when unset.
func (e Edge) Handle() string {
	if e.TargetHandle == "" {
		return DefaultHandle
	}
	return e.TargetHandle
}

// ErrorMode returns the effective error handling mode.
func (s Settings) ErrorMode() string {
	if s.ErrorHandling == ErrorHandlingContinue {
		return ErrorHandlingContinue
	}
	return ErrorHandlingStop
}

// NewWorkflow creates an empty workflow owned by an organization.
func NewWorkflow(name, orgID string) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Name:      name,
		Nodes:     []Node{},
		Edges:     []Edge{},
		Variables: []Variable{},
		Settings:  Settings{ErrorHandling: ErrorHandlingStop},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NodeByID returns the node with the given id, if present.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// DefaultVariables materializes the declared variables with their defaults.
func (w *Workflow) DefaultVariables() map[string]interface{} {
	vars := make(map[string]interface{}, len(w.Variables))
	for _, v := range w.Variables {
		vars[v.Name] = v.DefaultValue
	}
	return vars
}
