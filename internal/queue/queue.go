// Package queue is the Redis-backed job queue the worker consumes from.
// The executor never retries internally; retry scheduling happens here,
// driven by the single retryable verdict it reports.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/pkg/logger"
	"github.com/nodeflow-go/pkg/metrics"
)

// ErrEmpty is returned by Consume when no job arrived within the wait.
var ErrEmpty = errors.New("queue is empty")

// Manager moves jobs through a Redis list. Failed-but-retryable jobs are
// requeued with their attempt counter bumped until MaxAttempts, then parked
// on the dead-letter list.
type Manager struct {
	client      *redis.Client
	key         string
	deadKey     string
	maxAttempts int
	logger      logger.Logger
}

// NewManager creates a queue manager over an existing Redis client.
func NewManager(client *redis.Client, key string, maxAttempts int, log logger.Logger) *Manager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		client:      client,
		key:         key,
		deadKey:     key + ":dead",
		maxAttempts: maxAttempts,
		logger:      log,
	}
}

// Enqueue pushes a job onto the queue.
func (m *Manager) Enqueue(ctx context.Context, job *workflow.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return m.client.LPush(ctx, m.key, data).Err()
}

// Consume blocks up to wait for the next job. Returns ErrEmpty on timeout.
func (m *Manager) Consume(ctx context.Context, wait time.Duration) (*workflow.Job, error) {
	res, err := m.client.BRPop(ctx, wait, m.key).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	var job workflow.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("malformed job payload: %w", err)
	}

	metrics.JobsConsumed.WithLabelValues(job.Trigger.Type).Inc()
	return &job, nil
}

// CompleteJob acknowledges a successful run.
func (m *Manager) CompleteJob(ctx context.Context, job *workflow.Job) error {
	m.logger.Info("Job completed",
		"jobId", job.ID,
		"workflowId", job.WorkflowID,
		"executionId", job.ExecutionID,
	)
	return nil
}

// FailJob records a failed run. Retryable failures go back on the queue
// until attempts run out; everything else lands on the dead-letter list.
func (m *Manager) FailJob(ctx context.Context, job *workflow.Job, reason string, retryable bool) error {
	attempt := job.Attempts + 1

	if retryable && attempt < m.maxAttempts {
		requeued := *job
		requeued.Attempts = attempt
		m.logger.Warn("Requeueing failed job",
			"jobId", job.ID,
			"attempt", attempt,
			"reason", reason,
		)
		metrics.JobRetries.Inc()
		return m.Enqueue(ctx, &requeued)
	}

	m.logger.Error("Job failed permanently",
		"jobId", job.ID,
		"workflowId", job.WorkflowID,
		"attempts", attempt,
		"retryable", retryable,
		"reason", reason,
	)

	dead := *job
	dead.Attempts = attempt
	data, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}
	return m.client.LPush(ctx, m.deadKey, data).Err()
}

// DeadLetters returns the jobs currently parked on the dead-letter list.
func (m *Manager) DeadLetters(ctx context.Context) ([]*workflow.Job, error) {
	raw, err := m.client.LRange(ctx, m.deadKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*workflow.Job, 0, len(raw))
	for _, item := range raw {
		var job workflow.Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}
