package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	known   map[string]bool
	failFor map[string]string
}

func (f *fakeValidator) Has(nodeType string) bool {
	return f.known[nodeType]
}

func (f *fakeValidator) ValidateConfig(nodeType string, config map[string]interface{}) error {
	if msg, ok := f.failFor[nodeType]; ok {
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func validWorkflow() *Workflow {
	wf := NewWorkflow("test", "org-1")
	wf.Nodes = []Node{
		{ID: "a", Type: "manualTrigger", Enabled: true},
		{ID: "b", Type: "http", Enabled: true},
	}
	wf.Edges = []Edge{{Source: "a", Target: "b"}}
	return wf
}

func TestValidate(t *testing.T) {
	cv := &fakeValidator{known: map[string]bool{"manualTrigger": true, "http": true}}

	t.Run("valid workflow has no issues", func(t *testing.T) {
		issues, err := Validate(validWorkflow(), cv)
		require.NoError(t, err)
		assert.Empty(t, issues)
	})

	t.Run("nil workflow", func(t *testing.T) {
		_, err := Validate(nil, cv)
		assert.Error(t, err)
	})

	t.Run("duplicate node id", func(t *testing.T) {
		wf := validWorkflow()
		wf.Nodes = append(wf.Nodes, Node{ID: "a", Type: "http", Enabled: true})
		_, err := Validate(wf, cv)
		assert.ErrorContains(t, err, "duplicate node id")
	})

	t.Run("node without id", func(t *testing.T) {
		wf := validWorkflow()
		wf.Nodes = append(wf.Nodes, Node{Type: "http"})
		_, err := Validate(wf, cv)
		assert.Error(t, err)
	})

	t.Run("edge with unknown source", func(t *testing.T) {
		wf := validWorkflow()
		wf.Edges = append(wf.Edges, Edge{Source: "ghost", Target: "b"})
		_, err := Validate(wf, cv)
		assert.ErrorContains(t, err, "unknown source")
	})

	t.Run("edge with unknown target", func(t *testing.T) {
		wf := validWorkflow()
		wf.Edges = append(wf.Edges, Edge{Source: "a", Target: "ghost"})
		_, err := Validate(wf, cv)
		assert.ErrorContains(t, err, "unknown target")
	})

	t.Run("unknown error handling mode", func(t *testing.T) {
		wf := validWorkflow()
		wf.Settings.ErrorHandling = "explode"
		_, err := Validate(wf, cv)
		assert.ErrorContains(t, err, "error handling mode")
	})

	t.Run("missing output node", func(t *testing.T) {
		wf := validWorkflow()
		wf.Settings.OutputNodeID = "ghost"
		_, err := Validate(wf, cv)
		assert.ErrorContains(t, err, "output node")
	})

	t.Run("unregistered node type is an issue not an error", func(t *testing.T) {
		wf := validWorkflow()
		wf.Nodes = append(wf.Nodes, Node{ID: "c", Type: "martian", Enabled: true})
		issues, err := Validate(wf, cv)
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Equal(t, "c", issues[0].NodeID)
	})

	t.Run("disabled node skips type check", func(t *testing.T) {
		wf := validWorkflow()
		wf.Nodes = append(wf.Nodes, Node{ID: "c", Type: "martian", Enabled: false})
		issues, err := Validate(wf, cv)
		require.NoError(t, err)
		assert.Empty(t, issues)
	})

	t.Run("bad node config is an error", func(t *testing.T) {
		bad := &fakeValidator{
			known:   map[string]bool{"manualTrigger": true, "http": true},
			failFor: map[string]string{"http": "url is required"},
		}
		_, err := Validate(validWorkflow(), bad)
		assert.ErrorContains(t, err, "url is required")
	})

	t.Run("cycle is a warning issue", func(t *testing.T) {
		wf := validWorkflow()
		wf.Edges = append(wf.Edges, Edge{Source: "b", Target: "a"})
		issues, err := Validate(wf, cv)
		require.NoError(t, err)
		require.Len(t, issues, 1)
		assert.Contains(t, issues[0].Message, "cycle")
	})

	t.Run("nil config validator skips config checks", func(t *testing.T) {
		issues, err := Validate(validWorkflow(), nil)
		require.NoError(t, err)
		assert.Empty(t, issues)
	})
}

func TestEdgeHandle(t *testing.T) {
	assert.Equal(t, "default", Edge{Source: "a", Target: "b"}.Handle())
	assert.Equal(t, "true", Edge{Source: "a", Target: "b", TargetHandle: "true"}.Handle())
}

func TestErrorMode(t *testing.T) {
	assert.Equal(t, ErrorHandlingStop, Settings{}.ErrorMode())
	assert.Equal(t, ErrorHandlingStop, Settings{ErrorHandling: "stop"}.ErrorMode())
	assert.Equal(t, ErrorHandlingContinue, Settings{ErrorHandling: "continue"}.ErrorMode())
}
