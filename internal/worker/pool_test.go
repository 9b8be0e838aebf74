package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/executor"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/internal/handlers"
	"github.com/nodeflow-go/internal/queue"
	"github.com/nodeflow-go/internal/store"
	"github.com/nodeflow-go/pkg/logger"
)

type channelSource struct {
	jobs chan *workflow.Job
}

func (s *channelSource) Consume(ctx context.Context, wait time.Duration) (*workflow.Job, error) {
	select {
	case job := <-s.jobs:
		return job, nil
	case <-time.After(10 * time.Millisecond):
		return nil, queue.ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type countingReporter struct {
	mu        sync.Mutex
	completed int
	failed    int
	done      chan struct{}
	expect    int
}

func (r *countingReporter) CompleteJob(ctx context.Context, job *workflow.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	if r.completed+r.failed == r.expect {
		close(r.done)
	}
	return nil
}

func (r *countingReporter) FailJob(ctx context.Context, job *workflow.Job, reason string, retryable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	if r.completed+r.failed == r.expect {
		close(r.done)
	}
	return nil
}

func TestPoolProcessesJobs(t *testing.T) {
	registry := node.NewRegistry(nil)
	closeHandlers, err := handlers.RegisterAll(registry, nil)
	require.NoError(t, err)
	t.Cleanup(closeHandlers)

	mem := store.NewMemory()
	const jobCount = 5
	reporter := &countingReporter{done: make(chan struct{}), expect: jobCount}
	exec := executor.New(registry, mem, reporter, nil, nil, nil)

	source := &channelSource{jobs: make(chan *workflow.Job, jobCount)}
	for i := 0; i < jobCount; i++ {
		wf := workflow.NewWorkflow("test", "org-1")
		wf.Nodes = []workflow.Node{{ID: "start", Type: "manualTrigger", Enabled: true}}
		run := workflow.NewExecution(wf.ID, wf.OrgID)
		mem.PutWorkflow(wf)
		mem.PutExecution(run)
		source.jobs <- &workflow.Job{
			ID:          wf.ID,
			WorkflowID:  wf.ID,
			ExecutionID: run.ID,
			Trigger:     workflow.Trigger{Type: "manual"},
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(source, exec, 3, logger.NewNop())
	pool.Start(ctx)

	select {
	case <-reporter.done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs not processed in time")
	}

	cancel()
	require.NoError(t, pool.Wait(context.Background()))
	assert.Equal(t, jobCount, reporter.completed)
	assert.Zero(t, reporter.failed)
}

func TestPoolClampsCount(t *testing.T) {
	pool := NewPool(&channelSource{jobs: make(chan *workflow.Job)}, nil, 0, logger.NewNop())
	assert.Equal(t, 1, pool.count)
}
