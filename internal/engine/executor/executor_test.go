package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/internal/handlers"
	"github.com/nodeflow-go/internal/store"
)

type fakeReporter struct {
	completed []string
	failed    []string
	retryable map[string]bool
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{retryable: make(map[string]bool)}
}

func (r *fakeReporter) CompleteJob(ctx context.Context, job *workflow.Job) error {
	r.completed = append(r.completed, job.ID)
	return nil
}

func (r *fakeReporter) FailJob(ctx context.Context, job *workflow.Job, reason string, retryable bool) error {
	r.failed = append(r.failed, job.ID)
	r.retryable[job.ID] = retryable
	return nil
}

type harness struct {
	registry *node.Registry
	store    *store.Memory
	reporter *fakeReporter
	executor *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry := node.NewRegistry(nil)
	closeHandlers, err := handlers.RegisterAll(registry, nil)
	require.NoError(t, err)
	t.Cleanup(closeHandlers)

	mem := store.NewMemory()
	reporter := newFakeReporter()
	return &harness{
		registry: registry,
		store:    mem,
		reporter: reporter,
		executor: New(registry, mem, reporter, nil, nil, nil),
	}
}

// register adds a test-local handler type.
func (h *harness) register(t *testing.T, nodeType string, fn node.HandlerFunc) {
	t.Helper()
	require.NoError(t, h.registry.Register(node.Metadata{Type: nodeType}, fn))
}

func (h *harness) seed(wf *workflow.Workflow, trigger workflow.Trigger) *workflow.Job {
	exec := workflow.NewExecution(wf.ID, wf.OrgID)
	h.store.PutWorkflow(wf)
	h.store.PutExecution(exec)
	return &workflow.Job{
		ID:          "job-1",
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		OrgID:       wf.OrgID,
		Trigger:     trigger,
	}
}

func (h *harness) execution(t *testing.T, id string) *workflow.Execution {
	t.Helper()
	exec, err := h.store.GetExecutionByID(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func staticNode(data map[string]interface{}) node.HandlerFunc {
	return func(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
		return workflow.Ok(data), nil
	}
}

func failingNode(err *workflow.NodeError) node.HandlerFunc {
	return func(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
		return workflow.Failure(err), nil
	}
}

func buildWorkflow(nodes []workflow.Node, edges []workflow.Edge) *workflow.Workflow {
	wf := workflow.NewWorkflow("test", "org-1")
	wf.Nodes = nodes
	wf.Edges = edges
	return wf
}

func TestExecuteJobLinearRun(t *testing.T) {
	h := newHarness(t)
	var seenInputs map[string]interface{}
	h.register(t, "sink", func(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
		seenInputs = nc.Inputs
		return workflow.Ok(map[string]interface{}{"done": true}), nil
	})
	h.register(t, "producer", staticNode(map[string]interface{}{"value": 7}))

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "n1", Type: "producer", Enabled: true},
			{ID: "n2", Type: "sink", Enabled: true},
		},
		[]workflow.Edge{{Source: "n1", Target: "n2"}},
	)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	ok := h.executor.ExecuteJob(context.Background(), job)
	require.True(t, ok)

	exec := h.execution(t, job.ExecutionID)
	assert.Equal(t, workflow.ExecutionCompleted, exec.Status)
	assert.Equal(t, []string{"n1", "n2"}, exec.CompletedNodes)
	assert.Empty(t, exec.FailedNodes)
	require.NotNil(t, exec.Result)
	assert.True(t, exec.Result.Success)
	assert.NotNil(t, exec.StartedAt)
	assert.NotNil(t, exec.CompletedAt)

	// Upstream output arrives under the default handle.
	assert.Equal(t, map[string]interface{}{
		"default": map[string]interface{}{"value": 7},
	}, seenInputs)

	assert.Equal(t, []string{"job-1"}, h.reporter.completed)
	assert.Empty(t, h.reporter.failed)
}

func TestExecuteJobStopMode(t *testing.T) {
	h := newHarness(t)
	h.register(t, "boom", failingNode(errcode.Runtime(errcode.OperationFailed, "backend exploded", true)))
	h.register(t, "after", staticNode(map[string]interface{}{"ran": true}))

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "n1", Type: "boom", Enabled: true},
			{ID: "n2", Type: "after", Enabled: true},
		},
		[]workflow.Edge{{Source: "n1", Target: "n2"}},
	)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	ok := h.executor.ExecuteJob(context.Background(), job)
	require.False(t, ok)

	exec := h.execution(t, job.ExecutionID)
	assert.Equal(t, workflow.ExecutionFailed, exec.Status)
	assert.Equal(t, []string{"n1"}, exec.FailedNodes)
	assert.Empty(t, exec.CompletedNodes)

	require.NotNil(t, exec.Result.Error)
	assert.Equal(t, "n1", exec.Result.Error.NodeID)
	assert.Equal(t, errcode.OperationFailed, exec.Result.Error.Code)
	assert.True(t, h.reporter.retryable["job-1"])
}

func TestExecuteJobContinueMode(t *testing.T) {
	h := newHarness(t)
	h.register(t, "boom", failingNode(errcode.Runtime(errcode.OperationFailed, "nope", false)))
	h.register(t, "after", staticNode(map[string]interface{}{"ran": true}))

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "n1", Type: "boom", Enabled: true},
			{ID: "n2", Type: "after", Enabled: true},
		},
		nil, // independent branches
	)
	wf.Settings.ErrorHandling = workflow.ErrorHandlingContinue
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	ok := h.executor.ExecuteJob(context.Background(), job)
	require.False(t, ok)

	exec := h.execution(t, job.ExecutionID)
	assert.Equal(t, workflow.ExecutionFailed, exec.Status)
	assert.Equal(t, []string{"n1"}, exec.FailedNodes)
	assert.Equal(t, []string{"n2"}, exec.CompletedNodes)
	assert.False(t, h.reporter.retryable["job-1"])
}

func TestExecuteJobSkipsDisabledNodes(t *testing.T) {
	h := newHarness(t)
	h.register(t, "step", staticNode(map[string]interface{}{"ran": true}))

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "n1", Type: "step", Enabled: true},
			{ID: "n2", Type: "step", Enabled: false},
			{ID: "n3", Type: "step", Enabled: true},
		},
		[]workflow.Edge{{Source: "n1", Target: "n2"}, {Source: "n2", Target: "n3"}},
	)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	ok := h.executor.ExecuteJob(context.Background(), job)
	require.True(t, ok)

	exec := h.execution(t, job.ExecutionID)
	assert.Equal(t, []string{"n1", "n3"}, exec.CompletedNodes)
	assert.NotContains(t, exec.Context.NodeOutputs, "n2")
}

func TestExecuteJobMissingHandler(t *testing.T) {
	h := newHarness(t)

	wf := buildWorkflow(
		[]workflow.Node{{ID: "n1", Type: "martian", Enabled: true}},
		nil,
	)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	ok := h.executor.ExecuteJob(context.Background(), job)
	require.False(t, ok)

	exec := h.execution(t, job.ExecutionID)
	require.Len(t, exec.Context.Errors, 1)
	assert.Equal(t, errcode.HandlerNotFound, exec.Context.Errors[0].Code)
	assert.False(t, exec.Context.Errors[0].Retryable)
	assert.False(t, h.reporter.retryable["job-1"])
}

func TestExecuteJobPanicBecomesException(t *testing.T) {
	h := newHarness(t)
	h.register(t, "panicky", func(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
		panic("kaboom")
	})

	wf := buildWorkflow([]workflow.Node{{ID: "n1", Type: "panicky", Enabled: true}}, nil)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	ok := h.executor.ExecuteJob(context.Background(), job)
	require.False(t, ok)

	exec := h.execution(t, job.ExecutionID)
	require.Len(t, exec.Context.Errors, 1)
	assert.Equal(t, errcode.HandlerException, exec.Context.Errors[0].Code)
	assert.True(t, exec.Context.Errors[0].Retryable)
	assert.Contains(t, exec.Context.Errors[0].Message, "kaboom")
}

func TestExecuteJobNakedErrorBecomesException(t *testing.T) {
	h := newHarness(t)
	h.register(t, "rude", func(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
		return nil, errors.New("unclassified failure")
	})

	wf := buildWorkflow([]workflow.Node{{ID: "n1", Type: "rude", Enabled: true}}, nil)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	require.False(t, h.executor.ExecuteJob(context.Background(), job))

	exec := h.execution(t, job.ExecutionID)
	require.Len(t, exec.Context.Errors, 1)
	assert.Equal(t, errcode.HandlerException, exec.Context.Errors[0].Code)
}

func TestExecuteJobTemplateSubstitution(t *testing.T) {
	h := newHarness(t)
	h.register(t, "producer", staticNode(map[string]interface{}{"token": "abc123", "count": 5}))

	var seenConfig map[string]interface{}
	h.register(t, "consumer", func(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
		seenConfig = nc.Config
		return workflow.Ok(map[string]interface{}{}), nil
	})

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "src", Type: "producer", Enabled: true},
			{ID: "dst", Type: "consumer", Enabled: true, Config: map[string]interface{}{
				"header":  "Bearer {{nodes.src.token}}",
				"count":   "{{nodes.src.count}}",
				"from":    "{{trigger.origin}}",
				"env":     "{{variables.env}}",
				"missing": "{{nodes.src.nothing}}",
			}},
		},
		[]workflow.Edge{{Source: "src", Target: "dst"}},
	)
	wf.Variables = []workflow.Variable{{Name: "env", DefaultValue: "prod"}}
	job := h.seed(wf, workflow.Trigger{Type: "webhook", Payload: map[string]interface{}{"origin": "hook"}})

	require.True(t, h.executor.ExecuteJob(context.Background(), job))

	assert.Equal(t, "Bearer abc123", seenConfig["header"])
	assert.Equal(t, 5, seenConfig["count"])
	assert.Equal(t, "hook", seenConfig["from"])
	assert.Equal(t, "prod", seenConfig["env"])
	assert.Nil(t, seenConfig["missing"])
}

func TestExecuteJobConditionalFlow(t *testing.T) {
	h := newHarness(t)

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "start", Type: "manualTrigger", Enabled: true},
			{ID: "check", Type: "conditional", Enabled: true, Config: map[string]interface{}{
				"conditions": []interface{}{
					map[string]interface{}{"field": "data.age", "operator": "gte", "value": 18},
				},
			}},
		},
		[]workflow.Edge{{Source: "start", Target: "check"}},
	)
	job := h.seed(wf, workflow.Trigger{
		Type:    "manual",
		Payload: map[string]interface{}{"data": map[string]interface{}{"age": 21}},
	})

	require.True(t, h.executor.ExecuteJob(context.Background(), job))

	exec := h.execution(t, job.ExecutionID)
	out, ok := exec.Context.NodeOutputs["check"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, out["result"])
	assert.Equal(t, "true", out["branch"])
}

func TestExecuteJobKebabCaseNodeTypes(t *testing.T) {
	h := newHarness(t)

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "A", Type: "manual-trigger", Enabled: true},
			{ID: "B", Type: "conditional", Enabled: true, Config: map[string]interface{}{
				"conditions": []interface{}{
					map[string]interface{}{"field": "data.age", "operator": "gte", "value": 18},
				},
			}},
		},
		[]workflow.Edge{{Source: "A", Target: "B"}},
	)
	job := h.seed(wf, workflow.Trigger{
		Type:    "manual",
		Payload: map[string]interface{}{"data": map[string]interface{}{"age": 21}},
	})

	require.True(t, h.executor.ExecuteJob(context.Background(), job))

	exec := h.execution(t, job.ExecutionID)
	assert.Equal(t, workflow.ExecutionCompleted, exec.Status)
	out, ok := exec.Context.NodeOutputs["B"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "true", out["branch"])
}

func TestExecuteJobValidationFailureIsInvalidConfig(t *testing.T) {
	h := newHarness(t)
	h.register(t, "producer", staticNode(map[string]interface{}{"value": 7}))

	wf := buildWorkflow(
		[]workflow.Node{{ID: "n1", Type: "producer", Enabled: true}},
		[]workflow.Edge{{Source: "n1", Target: "ghost"}},
	)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	require.False(t, h.executor.ExecuteJob(context.Background(), job))

	exec := h.execution(t, job.ExecutionID)
	assert.Equal(t, workflow.ExecutionFailed, exec.Status)
	require.NotNil(t, exec.Result)
	require.NotNil(t, exec.Result.Error)
	assert.Equal(t, errcode.InvalidConfig, exec.Result.Error.Code)
	assert.False(t, exec.Result.Error.Retryable)
	assert.False(t, h.reporter.retryable["job-1"])
}

func TestExecuteJobOutputSelection(t *testing.T) {
	t.Run("designated output node wins", func(t *testing.T) {
		h := newHarness(t)
		h.register(t, "stepA", staticNode(map[string]interface{}{"which": "a"}))
		h.register(t, "stepB", staticNode(map[string]interface{}{"which": "b"}))

		wf := buildWorkflow(
			[]workflow.Node{
				{ID: "a", Type: "stepA", Enabled: true},
				{ID: "b", Type: "stepB", Enabled: true},
			},
			[]workflow.Edge{{Source: "a", Target: "b"}},
		)
		wf.Settings.OutputNodeID = "a"
		job := h.seed(wf, workflow.Trigger{Type: "manual"})

		require.True(t, h.executor.ExecuteJob(context.Background(), job))

		exec := h.execution(t, job.ExecutionID)
		assert.Equal(t, map[string]interface{}{"which": "a"}, exec.Result.Output)
	})

	t.Run("falls back to terminal node output", func(t *testing.T) {
		h := newHarness(t)
		h.register(t, "stepA", staticNode(map[string]interface{}{"which": "a"}))
		h.register(t, "stepB", staticNode(map[string]interface{}{"which": "b"}))

		wf := buildWorkflow(
			[]workflow.Node{
				{ID: "a", Type: "stepA", Enabled: true},
				{ID: "b", Type: "stepB", Enabled: true},
			},
			[]workflow.Edge{{Source: "a", Target: "b"}},
		)
		job := h.seed(wf, workflow.Trigger{Type: "manual"})

		require.True(t, h.executor.ExecuteJob(context.Background(), job))

		exec := h.execution(t, job.ExecutionID)
		assert.Equal(t, map[string]interface{}{"which": "b"}, exec.Result.Output)
	})
}

func TestExecuteJobCycleDegrades(t *testing.T) {
	h := newHarness(t)
	h.register(t, "step", staticNode(map[string]interface{}{"ran": true}))

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "solo", Type: "step", Enabled: true},
			{ID: "c1", Type: "step", Enabled: true},
			{ID: "c2", Type: "step", Enabled: true},
		},
		[]workflow.Edge{{Source: "c1", Target: "c2"}, {Source: "c2", Target: "c1"}},
	)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	require.True(t, h.executor.ExecuteJob(context.Background(), job))

	exec := h.execution(t, job.ExecutionID)
	assert.Equal(t, []string{"solo"}, exec.CompletedNodes)
	assert.NotContains(t, exec.Context.NodeOutputs, "c1")
	assert.NotContains(t, exec.Context.NodeOutputs, "c2")
}

func TestExecuteJobVariablesVisibleDownstream(t *testing.T) {
	h := newHarness(t)
	h.register(t, "writer", func(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
		nc.Variables["computed"] = 99
		return workflow.Ok(map[string]interface{}{}), nil
	})

	var seen interface{}
	h.register(t, "reader", func(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
		seen = nc.Variables["computed"]
		return workflow.Ok(map[string]interface{}{}), nil
	})

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "w", Type: "writer", Enabled: true},
			{ID: "r", Type: "reader", Enabled: true},
		},
		[]workflow.Edge{{Source: "w", Target: "r"}},
	)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	require.True(t, h.executor.ExecuteJob(context.Background(), job))
	assert.Equal(t, 99, seen)
}

func TestExecuteJobFieldMapping(t *testing.T) {
	h := newHarness(t)
	h.register(t, "producer", staticNode(map[string]interface{}{
		"user": map[string]interface{}{"name": "ada", "email": "ada@example.com"},
		"meta": map[string]interface{}{"internal": true},
	}))

	var seenInputs map[string]interface{}
	h.register(t, "consumer", func(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
		seenInputs = nc.Inputs
		return workflow.Ok(map[string]interface{}{}), nil
	})

	h.register(t, "audit", staticNode(map[string]interface{}{"trace": "xyz"}))

	wf := buildWorkflow(
		[]workflow.Node{
			{ID: "src", Type: "producer", Enabled: true},
			{ID: "aud", Type: "audit", Enabled: true},
			{ID: "dst", Type: "consumer", Enabled: true},
		},
		[]workflow.Edge{
			{
				Source: "src",
				Target: "dst",
				Mapping: []workflow.FieldMapping{
					{SourceField: "user.email", TargetField: "to"},
					{SourceField: "user.name", TargetField: "who"},
					{SourceField: "user.missing", TargetField: "never"},
				},
			},
			{Source: "aud", Target: "dst", TargetHandle: "audit"},
		},
	)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	require.True(t, h.executor.ExecuteJob(context.Background(), job))

	// Mapped fields sit at the inputs root even when another edge feeds a
	// named handle.
	assert.Equal(t, "ada@example.com", seenInputs["to"])
	assert.Equal(t, "ada", seenInputs["who"])
	assert.NotContains(t, seenInputs, "never")
	assert.NotContains(t, seenInputs, "meta")
	assert.Equal(t, map[string]interface{}{"trace": "xyz"}, seenInputs["audit"])
}

func TestExecuteJobMissingWorkflowIsRetryable(t *testing.T) {
	h := newHarness(t)
	job := &workflow.Job{ID: "job-1", WorkflowID: "ghost", ExecutionID: "ghost"}

	require.False(t, h.executor.ExecuteJob(context.Background(), job))
	assert.True(t, h.reporter.retryable["job-1"])
}

func TestExecuteJobLogsEmitted(t *testing.T) {
	h := newHarness(t)
	h.register(t, "step", staticNode(map[string]interface{}{"ran": true}))

	wf := buildWorkflow([]workflow.Node{{ID: "n1", Type: "step", Enabled: true}}, nil)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	require.True(t, h.executor.ExecuteJob(context.Background(), job))

	var events []string
	for _, entry := range h.store.Logs() {
		events = append(events, entry.Event)
	}
	assert.Contains(t, events, workflow.LogEventNodeStart)
	assert.Contains(t, events, workflow.LogEventNodeComplete)
}

func TestExecuteJobMetricsRecorded(t *testing.T) {
	h := newHarness(t)
	h.register(t, "step", staticNode(map[string]interface{}{"ran": true}))

	wf := buildWorkflow([]workflow.Node{{ID: "n1", Type: "step", Enabled: true}}, nil)
	job := h.seed(wf, workflow.Trigger{Type: "manual"})

	require.True(t, h.executor.ExecuteJob(context.Background(), job))

	exec := h.execution(t, job.ExecutionID)
	assert.Contains(t, exec.Metrics.NodeMetrics, "n1")
	assert.GreaterOrEqual(t, exec.Metrics.TotalDurationMs, int64(0))

	wfAfter, err := h.store.GetWorkflowByID(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wfAfter.RunCount)
	assert.Equal(t, int64(0), wfAfter.ErrorCount)
	assert.NotNil(t, wfAfter.LastRunAt)
}
