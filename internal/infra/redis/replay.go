package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/storage"
	"github.com/rwalabs/chainsync/internal/ingest/metrics"
)

// replayKey is the sorted set holding pending replay requests, scored by
// request time so the oldest request pops first.
const replayKey = "replay_requests"

// popBatch caps how many requests one worker tick consumes.
const popBatch = 32

// ReplayRequest identifies one dead-lettered job by its event identity.
type ReplayRequest struct {
	TxHash    string
	EventType domain.EventType
}

func replayMember(txHash string, et domain.EventType) string {
	return txHash + ":" + string(et)
}

func parseReplayMember(member string) (ReplayRequest, error) {
	txHash, et, ok := strings.Cut(member, ":")
	if !ok || txHash == "" || et == "" {
		return ReplayRequest{}, fmt.Errorf("malformed replay member %q", member)
	}
	return ReplayRequest{TxHash: txHash, EventType: domain.EventType(et)}, nil
}

// ReplayQueue is the shared channel between operator tooling, which pushes
// replay requests, and the worker, which consumes them.
type ReplayQueue struct {
	client *goredis.Client
}

// NewReplayQueue wraps an established redis connection.
func NewReplayQueue(client *goredis.Client) *ReplayQueue {
	return &ReplayQueue{client: client}
}

// Push records a replay request for a dead-lettered job. Pushing the same
// identity twice collapses into one request.
func (q *ReplayQueue) Push(ctx context.Context, txHash string, et domain.EventType) error {
	err := q.client.ZAdd(ctx, replayKey, goredis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: replayMember(txHash, et),
	}).Err()
	if err != nil {
		return fmt.Errorf("push replay request: %w", err)
	}
	return nil
}

// Pop removes and returns up to n pending requests, oldest first. Malformed
// members are dropped.
func (q *ReplayQueue) Pop(ctx context.Context, n int64) ([]ReplayRequest, error) {
	members, err := q.client.ZPopMin(ctx, replayKey, n).Result()
	if err != nil {
		return nil, fmt.Errorf("pop replay requests: %w", err)
	}
	out := make([]ReplayRequest, 0, len(members))
	for _, m := range members {
		member, ok := m.Member.(string)
		if !ok {
			continue
		}
		req, err := parseReplayMember(member)
		if err != nil {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Pending returns the number of queued replay requests.
func (q *ReplayQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, replayKey).Result()
}

// ReplayWorker turns replay requests into requeued jobs. A request naming no
// dead job is logged and discarded.
type ReplayWorker struct {
	queue    *ReplayQueue
	jobs     storage.JobRepository
	interval time.Duration
	log      *slog.Logger
}

// NewReplayWorker creates a worker polling at the given interval.
func NewReplayWorker(queue *ReplayQueue, jobs storage.JobRepository, interval time.Duration, log *slog.Logger) *ReplayWorker {
	return &ReplayWorker{queue: queue, jobs: jobs, interval: interval, log: log}
}

// Run polls for replay requests until ctx is done.
func (w *ReplayWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				w.log.Error("replay tick failed", "error", err)
			}
		}
	}
}

func (w *ReplayWorker) tick(ctx context.Context) error {
	requests, err := w.queue.Pop(ctx, popBatch)
	if err != nil {
		return err
	}
	for _, req := range requests {
		job, err := w.jobs.FindDead(ctx, req.TxHash, req.EventType)
		if err != nil {
			return fmt.Errorf("find dead job %s/%s: %w", req.TxHash, req.EventType, err)
		}
		if job == nil {
			w.log.Warn("replay request matches no dead job",
				"tx_hash", req.TxHash, "event_type", req.EventType)
			continue
		}
		if err := w.jobs.Requeue(ctx, job.ID); err != nil {
			return fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		metrics.DeadLetterReplaysTotal.Inc()
		w.log.Info("dead-lettered job requeued",
			"job_id", job.ID, "tx_hash", req.TxHash, "event_type", req.EventType)
	}
	return nil
}
