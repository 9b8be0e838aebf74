// Package executor drives a workflow job from dequeue to finalized
// execution record. A run is strictly sequential: nodes execute one at a
// time in scheduler order, so a handler can assume every upstream output is
// already materialized without any synchronization.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/internal/engine/schedule"
	"github.com/nodeflow-go/internal/engine/template"
	"github.com/nodeflow-go/internal/store"
	"github.com/nodeflow-go/internal/usage"
	"github.com/nodeflow-go/pkg/logger"
	"github.com/nodeflow-go/pkg/metrics"
)

// JobReporter receives the run verdict. The executor reports exactly once
// per job and never retries internally; retry scheduling belongs to the
// queue behind this interface.
type JobReporter interface {
	CompleteJob(ctx context.Context, job *workflow.Job) error
	FailJob(ctx context.Context, job *workflow.Job, reason string, retryable bool) error
}

// ConnectionResolver resolves vault ids to decrypted connections.
type ConnectionResolver interface {
	GetConnection(ctx context.Context, vaultID string) (*node.Connection, error)
}

// Executor runs workflow jobs to completion.
type Executor struct {
	registry *node.Registry
	store    store.Store
	jobs     JobReporter
	conns    ConnectionResolver
	usage    usage.Tracker
	logger   logger.Logger
}

// New creates an executor. The registry and collaborators are injected so
// each test can build an isolated instance.
func New(registry *node.Registry, st store.Store, jobs JobReporter, conns ConnectionResolver, tracker usage.Tracker, log logger.Logger) *Executor {
	if tracker == nil {
		tracker = usage.Nop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Executor{
		registry: registry,
		store:    st,
		jobs:     jobs,
		conns:    conns,
		usage:    tracker,
		logger:   log,
	}
}

// ExecuteJob consumes one job and returns overall success. Fatal errors
// (missing workflow or execution record, unexpected internal failure) mark
// the execution failed and report the job as retryable, since such errors
// are typically infrastructural.
func (e *Executor) ExecuteJob(ctx context.Context, job *workflow.Job) bool {
	log := e.logger.With("jobId", job.ID, "workflowId", job.WorkflowID, "executionId", job.ExecutionID)

	wf, err := e.store.GetWorkflowByID(ctx, job.WorkflowID)
	if err != nil {
		log.Error("Failed to load workflow", "error", err)
		return e.failFatal(ctx, job, nil, errcode.Runtime(errcode.OperationFailed, fmt.Sprintf("failed to load workflow: %v", err), true))
	}

	exec, err := e.store.GetExecutionByID(ctx, job.ExecutionID)
	if err != nil {
		log.Error("Failed to load execution record", "error", err)
		return e.failFatal(ctx, job, nil, errcode.Runtime(errcode.OperationFailed, fmt.Sprintf("failed to load execution: %v", err), true))
	}

	issues, err := workflow.Validate(wf, e.registry)
	if err != nil {
		// Configuration-class: retrying without a fix cannot succeed.
		log.Error("Workflow failed validation", "error", err)
		return e.failFatal(ctx, job, exec, errcode.Config(errcode.InvalidConfig, err.Error()))
	}
	for _, issue := range issues {
		log.Warn("Workflow validation issue", "nodeId", issue.NodeID, "issue", issue.Message)
	}

	result, retryable := e.run(ctx, wf, exec, job, log)

	if result.Success {
		if err := e.jobs.CompleteJob(ctx, job); err != nil {
			log.Error("Failed to complete job", "error", err)
		}
		return true
	}

	reason := "workflow execution failed"
	if result.Error != nil {
		reason = fmt.Sprintf("node %s: %s (%s)", result.Error.NodeID, result.Error.Message, result.Error.Code)
	}
	if err := e.jobs.FailJob(ctx, job, reason, retryable); err != nil {
		log.Error("Failed to report job failure", "error", err)
	}
	return false
}

// run executes every scheduled node and finalizes the execution record.
func (e *Executor) run(ctx context.Context, wf *workflow.Workflow, exec *workflow.Execution, job *workflow.Job, log logger.Logger) (*workflow.RunResult, bool) {
	started := time.Now()
	now := started.UTC()
	exec.Status = workflow.ExecutionRunning
	exec.StartedAt = &now

	if exec.Context.Variables == nil {
		exec.Context.Variables = make(map[string]interface{})
	}
	for name, value := range wf.DefaultVariables() {
		if _, seeded := exec.Context.Variables[name]; !seeded {
			exec.Context.Variables[name] = value
		}
	}
	if exec.Context.NodeOutputs == nil {
		exec.Context.NodeOutputs = make(map[string]interface{})
	}
	if exec.Metrics.NodeMetrics == nil {
		exec.Metrics.NodeMetrics = make(map[string]workflow.NodeMetrics)
	}

	if err := e.store.UpdateExecutionStatus(ctx, exec); err != nil {
		log.Error("Failed to persist running status", "error", err)
	}

	graph := schedule.NewGraph(wf.Nodes, wf.Edges)
	order, cyclic := graph.Order()
	if len(cyclic) > 0 {
		// Degrade, don't crash: valid branches still run, cycle members never do.
		log.Warn("Workflow contains a cycle; skipping unreachable nodes", "nodes", cyclic)
	}

	mode := wf.Settings.ErrorMode()
	var firstErr *workflow.NodeError

	for _, n := range order {
		if !n.Enabled {
			log.Debug("Skipping disabled node", "nodeId", n.ID)
			continue
		}

		nodeErr := e.executeNode(ctx, wf, exec, job, n, log)
		if nodeErr == nil {
			continue
		}

		if firstErr == nil {
			firstErr = nodeErr
		}
		if mode == workflow.ErrorHandlingStop {
			log.Info("Stopping run on node failure", "nodeId", n.ID, "code", nodeErr.Code)
			break
		}
	}

	return e.finalize(ctx, wf, exec, graph, firstErr, started, log)
}

// executeNode runs a single node and records its outcome. A nil return
// means success; anything else is the node's classified failure.
func (e *Executor) executeNode(ctx context.Context, wf *workflow.Workflow, exec *workflow.Execution, job *workflow.Job, n workflow.Node, log logger.Logger) *workflow.NodeError {
	handler := e.registry.Get(n.Type)
	if handler == nil {
		nodeErr := errcode.Config(errcode.HandlerNotFound, fmt.Sprintf("no handler registered for node type %q", n.Type))
		e.recordFailure(ctx, exec, n, nodeErr, 0)
		return nodeErr
	}

	// Snapshot of prior outputs only; nodes not yet executed cannot be
	// referenced, so a config can never observe a phantom value.
	tmplCtx := template.Context{
		Nodes:     copyMap(exec.Context.NodeOutputs),
		Trigger:   job.Trigger.Payload,
		Variables: exec.Context.Variables,
	}
	resolvedConfig := template.SubstituteConfig(n.Config, tmplCtx)

	inputs := gatherInputs(n.ID, wf.Edges, exec.Context.NodeOutputs)

	nc := &node.Context{
		ExecutionID: exec.ID,
		WorkflowID:  wf.ID,
		OrgID:       wf.OrgID,
		NodeID:      n.ID,
		NodeType:    n.Type,
		Inputs:      inputs,
		Config:      resolvedConfig,
		Variables:   exec.Context.Variables,
		NodeOutputs: copyMap(exec.Context.NodeOutputs),
		Trigger:     job.Trigger,
		Log: func(level, message string, data map[string]interface{}) {
			e.emitLog(ctx, exec.ID, n.ID, level, workflow.LogEventCustom, message, data)
		},
		GetConnection: func(vaultID string) (*node.Connection, error) {
			if e.conns == nil {
				return nil, nil
			}
			return e.conns.GetConnection(ctx, vaultID)
		},
	}

	e.emitLog(ctx, exec.ID, n.ID, "info", workflow.LogEventNodeStart, fmt.Sprintf("Executing node %s (%s)", n.ID, n.Type), nil)

	nodeStart := time.Now()
	result := e.invoke(ctx, handler, nc)
	duration := time.Since(nodeStart)
	durationMs := duration.Milliseconds()

	if result.Success {
		// Written at most once per run; the scheduler never emits a node twice.
		exec.Context.NodeOutputs[n.ID] = result.Data
		exec.CompletedNodes = append(exec.CompletedNodes, n.ID)

		nm := workflow.NodeMetrics{DurationMs: durationMs}
		if result.Metadata != nil {
			nm.BytesProcessed = result.Metadata.BytesProcessed
		}
		exec.Metrics.NodeMetrics[n.ID] = nm

		metrics.RecordNode(n.Type, "completed", duration.Seconds())
		e.emitLog(ctx, exec.ID, n.ID, "info", workflow.LogEventNodeComplete,
			fmt.Sprintf("Node %s completed", n.ID),
			map[string]interface{}{"durationMs": durationMs})

		if err := e.store.UpdateExecutionStatus(ctx, exec); err != nil {
			log.Error("Failed to persist node outcome", "nodeId", n.ID, "error", err)
		}
		return nil
	}

	nodeErr := result.Error
	if nodeErr == nil {
		nodeErr = errcode.Runtime(errcode.OperationFailed, "handler reported failure without detail", false)
	}
	metrics.RecordNode(n.Type, "failed", duration.Seconds())
	e.recordFailure(ctx, exec, n, nodeErr, durationMs)
	return nodeErr
}

// invoke calls the handler with a catch-all so no failure ever escapes the
// node-processing step as a panic or naked error.
func (e *Executor) invoke(ctx context.Context, handler node.Handler, nc *node.Context) (result *workflow.NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Handler panicked", "nodeId", nc.NodeID, "nodeType", nc.NodeType, "panic", r)
			result = workflow.Failure(errcode.Exception(fmt.Sprintf("handler panic: %v", r)))
		}
	}()

	res, err := handler.Execute(ctx, nc)
	if err != nil {
		return workflow.Failure(errcode.Exception(err.Error()))
	}
	if res == nil {
		return workflow.Failure(errcode.Exception("handler returned no result"))
	}
	return res
}

func (e *Executor) recordFailure(ctx context.Context, exec *workflow.Execution, n workflow.Node, nodeErr *workflow.NodeError, durationMs int64) {
	nodeErr.NodeID = n.ID
	if nodeErr.Timestamp.IsZero() {
		nodeErr.Timestamp = time.Now().UTC()
	}

	exec.FailedNodes = append(exec.FailedNodes, n.ID)
	exec.Context.Errors = append(exec.Context.Errors, *nodeErr)
	if durationMs > 0 {
		exec.Metrics.NodeMetrics[n.ID] = workflow.NodeMetrics{DurationMs: durationMs}
	}

	e.emitLog(ctx, exec.ID, n.ID, "error", workflow.LogEventNodeError, nodeErr.Message, map[string]interface{}{
		"code":      nodeErr.Code,
		"retryable": nodeErr.Retryable,
	})

	if err := e.store.UpdateExecutionStatus(ctx, exec); err != nil {
		e.logger.Error("Failed to persist node failure", "nodeId", n.ID, "error", err)
	}
}

// finalize closes out the execution record exactly once and returns the
// run result plus the job-level retry verdict.
func (e *Executor) finalize(ctx context.Context, wf *workflow.Workflow, exec *workflow.Execution, graph *schedule.Graph, firstErr *workflow.NodeError, started time.Time, log logger.Logger) (*workflow.RunResult, bool) {
	completedAt := time.Now().UTC()
	exec.CompletedAt = &completedAt
	exec.Metrics.TotalDurationMs = time.Since(started).Milliseconds()

	success := len(exec.FailedNodes) == 0
	if success {
		exec.Status = workflow.ExecutionCompleted
	} else {
		exec.Status = workflow.ExecutionFailed
	}

	result := &workflow.RunResult{Success: success}
	if success {
		result.Output = e.finalOutput(wf, exec, graph)
	} else {
		result.Error = firstErr
	}
	exec.Result = result

	if err := e.store.UpdateExecutionStatus(ctx, exec); err != nil {
		log.Error("Failed to persist final execution status", "error", err)
	}
	if err := e.store.UpdateWorkflowStats(ctx, wf.ID, success, exec.Metrics.TotalDurationMs); err != nil {
		log.Error("Failed to update workflow stats", "error", err)
	}

	metrics.RecordExecution(string(exec.Status), time.Since(started).Seconds())
	e.usage.Report(usage.Record{
		OrgID:         wf.OrgID,
		WorkflowID:    wf.ID,
		ExecutionID:   exec.ID,
		Status:        string(exec.Status),
		DurationMs:    exec.Metrics.TotalDurationMs,
		NodesExecuted: len(exec.CompletedNodes) + len(exec.FailedNodes),
	})

	log.Info("Workflow run finished",
		"status", exec.Status,
		"completedNodes", len(exec.CompletedNodes),
		"failedNodes", len(exec.FailedNodes),
		"durationMs", exec.Metrics.TotalDurationMs,
	)

	retryable := false
	if firstErr != nil {
		retryable = firstErr.Retryable
	}
	return result, retryable
}

// finalOutput picks the run's output. An explicitly designated output node
// wins; otherwise terminal nodes that produced output are consulted in
// declaration order with the last one winning, and as a last resort the
// last-completed node's output is used. The fallback is a heuristic, not a
// guarantee.
func (e *Executor) finalOutput(wf *workflow.Workflow, exec *workflow.Execution, graph *schedule.Graph) interface{} {
	outputs := exec.Context.NodeOutputs

	if id := wf.Settings.OutputNodeID; id != "" {
		return outputs[id]
	}

	var terminalOut interface{}
	for _, id := range graph.Terminals() {
		if out, ok := outputs[id]; ok {
			terminalOut = out
		}
	}
	if terminalOut != nil {
		return terminalOut
	}

	if n := len(exec.CompletedNodes); n > 0 {
		return outputs[exec.CompletedNodes[n-1]]
	}
	return nil
}

// failFatal handles executor-level failures that short-circuit the job. The
// caller classifies the error so the persisted code matches its cause.
func (e *Executor) failFatal(ctx context.Context, job *workflow.Job, exec *workflow.Execution, fatalErr *workflow.NodeError) bool {
	if exec != nil {
		now := time.Now().UTC()
		exec.Status = workflow.ExecutionFailed
		exec.CompletedAt = &now
		exec.Result = &workflow.RunResult{
			Success: false,
			Error:   fatalErr,
		}
		if err := e.store.UpdateExecutionStatus(ctx, exec); err != nil {
			e.logger.Error("Failed to persist fatal execution status", "error", err)
		}
	}
	metrics.RecordExecution(string(workflow.ExecutionFailed), 0)
	if err := e.jobs.FailJob(ctx, job, fatalErr.Message, fatalErr.Retryable); err != nil {
		e.logger.Error("Failed to report fatal job failure", "error", err)
	}
	return false
}

func (e *Executor) emitLog(ctx context.Context, executionID, nodeID, level, event, message string, data map[string]interface{}) {
	entry := workflow.NewLog(executionID, nodeID, level, event, message, data)
	if err := e.store.AddExecutionLog(ctx, entry); err != nil {
		e.logger.Error("Failed to append execution log", "executionId", executionID, "error", err)
	}
}

func copyMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
