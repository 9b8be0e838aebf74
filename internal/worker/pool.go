// Package worker runs the job-consuming loop. Each worker blocks on the
// queue, hands jobs to the executor one at a time, and exits when its
// context is cancelled.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/executor"
	"github.com/nodeflow-go/internal/queue"
	"github.com/nodeflow-go/pkg/logger"
)

const consumeWait = 5 * time.Second

// JobSource is the queue side the pool consumes from.
type JobSource interface {
	Consume(ctx context.Context, wait time.Duration) (*workflow.Job, error)
}

// Pool runs a fixed number of concurrent job consumers.
type Pool struct {
	source   JobSource
	executor *executor.Executor
	logger   logger.Logger
	count    int

	wg sync.WaitGroup
}

// NewPool creates a pool of count workers. Counts below one are clamped.
func NewPool(source JobSource, exec *executor.Executor, count int, log logger.Logger) *Pool {
	if count < 1 {
		count = 1
	}
	return &Pool{
		source:   source,
		executor: exec,
		logger:   log,
		count:    count,
	}
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.run(ctx, i+1)
	}
	p.logger.Info("Worker pool started", "workers", p.count)
}

// Wait blocks until every worker has drained its in-flight job and exited.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("All workers stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Timed out waiting for workers to stop")
		return ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.With("workerId", id)
	log.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker stopped")
			return
		default:
		}

		job, err := p.source.Consume(ctx, consumeWait)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Error("Failed to consume job", "error", err)
			// Back off so a broken broker does not spin the loop.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		log.Info("Processing job", "jobId", job.ID, "workflowId", job.WorkflowID, "attempt", job.Attempts)
		// The job runs on background context so cancellation during
		// shutdown finishes the current run instead of abandoning it.
		p.executor.ExecuteJob(context.Background(), job)
	}
}
