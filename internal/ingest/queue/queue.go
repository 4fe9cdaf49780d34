// Package queue delivers live-subscription events to the projector through a
// durable job table, with bounded retries and a dead-letter state.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/core/retry"
	"github.com/rwalabs/chainsync/internal/infra/storage"
	"github.com/rwalabs/chainsync/internal/ingest/metrics"
)

// Applier consumes one decoded event. Satisfied by the projector.
type Applier interface {
	Apply(ctx context.Context, ev *domain.RawEvent) error
}

// Queue persists events as jobs and works them off with a small worker pool.
// A job survives process crashes: enqueued means eventually delivered or
// dead-lettered with its payload intact.
type Queue struct {
	jobs         storage.JobRepository
	applier      Applier
	policy       retry.Policy
	workers      int
	pollInterval time.Duration
	log          *slog.Logger
	now          func() time.Time
	wg           sync.WaitGroup
}

// New creates a queue. workers and pollInterval bound how fast pending jobs
// are picked up.
func New(jobs storage.JobRepository, applier Applier, policy retry.Policy, workers int, pollInterval time.Duration, log *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		jobs:         jobs,
		applier:      applier,
		policy:       policy,
		workers:      workers,
		pollInterval: pollInterval,
		log:          log,
		now:          time.Now,
	}
}

// Enqueue durably stores one event for delivery. Returns only after the job
// is persisted.
func (q *Queue) Enqueue(ctx context.Context, ev *domain.RawEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s/%s: %w", ev.TxHash, ev.Type, err)
	}
	job := &domain.Job{
		ID:        uuid.NewString(),
		EventType: ev.Type,
		TxHash:    ev.TxHash,
		Payload:   payload,
	}
	if err := q.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue job for %s/%s: %w", ev.TxHash, ev.Type, err)
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Start releases jobs stranded in processing by a previous crash and launches
// the worker pool. Workers run until ctx is done; call Wait to join them.
func (q *Queue) Start(ctx context.Context) error {
	released, err := q.jobs.ReleaseStale(ctx)
	if err != nil {
		return fmt.Errorf("release stale jobs: %w", err)
	}
	if released > 0 {
		q.log.Info("released stale jobs from previous run", "count", released)
	}
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.log.Info("queue workers started", "workers", q.workers)
	return nil
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		claimed, err := q.processNext(ctx)
		if err != nil {
			q.log.Error("worker claim failed", "worker", id, "error", err)
		}
		if claimed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.pollInterval):
		}
	}
}

// processNext claims and works one job. Returns whether a job was claimed.
func (q *Queue) processNext(ctx context.Context) (bool, error) {
	job, err := q.jobs.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	var ev domain.RawEvent
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		// Malformed payloads never become deliverable; straight to dead.
		q.deadLetter(ctx, job, fmt.Errorf("unmarshal payload: %w", err))
		return true, nil
	}

	if err := q.applier.Apply(ctx, &ev); err != nil {
		q.retryOrBury(ctx, job, err)
		return true, nil
	}

	if err := q.jobs.Complete(ctx, job.ID); err != nil {
		return true, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return true, nil
}

func (q *Queue) retryOrBury(ctx context.Context, job *domain.Job, cause error) {
	attempts := job.Attempts + 1
	if q.policy.Exhausted(attempts) {
		q.deadLetter(ctx, job, cause)
		return
	}
	delay := q.policy.Delay(attempts)
	q.log.Warn("job failed, retrying",
		"job_id", job.ID,
		"event_type", job.EventType,
		"tx_hash", job.TxHash,
		"attempt", attempts,
		"delay", delay,
		"error", cause)
	metrics.JobRetriesTotal.WithLabelValues(string(job.EventType)).Inc()
	if err := q.jobs.Fail(ctx, job.ID, cause.Error(), q.now().Add(delay)); err != nil {
		q.log.Error("failed to reschedule job", "job_id", job.ID, "error", err)
	}
}

func (q *Queue) deadLetter(ctx context.Context, job *domain.Job, cause error) {
	q.log.Error("job exhausted retries, dead-lettering",
		"job_id", job.ID,
		"event_type", job.EventType,
		"tx_hash", job.TxHash,
		"attempts", job.Attempts+1,
		"error", cause)
	metrics.DeadLettersTotal.WithLabelValues(string(job.EventType)).Inc()
	if err := q.jobs.DeadLetter(ctx, job.ID, cause.Error()); err != nil {
		q.log.Error("failed to dead-letter job", "job_id", job.ID, "error", err)
	}
}
