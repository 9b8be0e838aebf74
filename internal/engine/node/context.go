package node

import (
	"github.com/nodeflow-go/internal/domain/workflow"
)

// Connection is a decrypted datasource secret supplied by the vault. The
// executor hands these to handlers per call and never caches them.
type Connection struct {
	ConnectionString string `json:"connectionString"`
	Database         string `json:"database"`
	Driver           string `json:"driver,omitempty"`
}

// LogFunc lets a handler append structured entries to the execution log.
type LogFunc func(level, message string, data map[string]interface{})

// ConnectionFunc resolves a vault id to a decrypted connection, or nil when
// no such connection exists.
type ConnectionFunc func(vaultID string) (*Connection, error)

// Context is assembled per node invocation. Inputs are gathered from
// upstream edges, Config has already been through template substitution, and
// Variables is the live run-wide map that handlers may mutate (keys are
// never removed). NodeOutputs and Trigger are read-only views of run state.
type Context struct {
	ExecutionID string
	WorkflowID  string
	OrgID       string
	NodeID      string
	NodeType    string

	Inputs      map[string]interface{}
	Config      map[string]interface{}
	Variables   map[string]interface{}
	NodeOutputs map[string]interface{}
	Trigger     workflow.Trigger

	Log           LogFunc
	GetConnection ConnectionFunc
}

// InputScope returns the data a handler's field paths evaluate against.
// When the only input arrived on the default handle as an object, the
// wrapper is unwrapped so single-edge graphs can address fields directly.
func (c *Context) InputScope() map[string]interface{} {
	if len(c.Inputs) == 1 {
		if d, ok := c.Inputs[workflow.DefaultHandle].(map[string]interface{}); ok {
			return d
		}
	}
	if c.Inputs == nil {
		return map[string]interface{}{}
	}
	return c.Inputs
}
