package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/core/retry"
	"github.com/rwalabs/chainsync/internal/infra/storage/memory"
)

// fakeApplier fails a configured number of times before succeeding.
type fakeApplier struct {
	mu       sync.Mutex
	failures int
	applied  []*domain.RawEvent
}

func (f *fakeApplier) Apply(ctx context.Context, ev *domain.RawEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("simulated failure")
	}
	f.applied = append(f.applied, ev)
	return nil
}

func (f *fakeApplier) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func testQueue(t *testing.T, applier Applier, policy retry.Policy) (*Queue, *memory.JobRepo) {
	t.Helper()
	jobs := memory.NewJobRepo()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(jobs, applier, policy, 1, time.Millisecond, log), jobs
}

func rawEvent(t *testing.T, txHash string) *domain.RawEvent {
	t.Helper()
	payload, err := json.Marshal(domain.MintPayload{To: "0xaa", Amount: "10", Token: "0xbb"})
	if err != nil {
		t.Fatal(err)
	}
	return &domain.RawEvent{
		Type:        domain.EventTokensMinted,
		TxHash:      txHash,
		BlockNumber: 5,
		Payload:     payload,
	}
}

// immediate retries, no waiting between attempts
var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: 0, Multiplier: 2, MaxDelay: 0}

func drain(t *testing.T, q *Queue) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		claimed, err := q.processNext(ctx)
		if err != nil {
			t.Fatalf("processNext: %v", err)
		}
		if !claimed {
			return
		}
	}
	t.Fatal("queue did not drain after 100 iterations")
}

func TestEnqueueAndDeliver(t *testing.T) {
	applier := &fakeApplier{}
	q, jobs := testQueue(t, applier, fastPolicy)
	ctx := context.Background()

	if err := q.Enqueue(ctx, rawEvent(t, "0x01")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	drain(t, q)

	if applier.appliedCount() != 1 {
		t.Errorf("applied = %d, want 1", applier.appliedCount())
	}
	if applier.applied[0].TxHash != "0x01" {
		t.Errorf("delivered event tx = %s, want 0x01", applier.applied[0].TxHash)
	}
	count, _ := jobs.CountDead(ctx)
	if count != 0 {
		t.Errorf("dead jobs = %d, want 0", count)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	applier := &fakeApplier{failures: 2}
	q, jobs := testQueue(t, applier, fastPolicy)
	ctx := context.Background()

	if err := q.Enqueue(ctx, rawEvent(t, "0x01")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	drain(t, q)

	if applier.appliedCount() != 1 {
		t.Errorf("applied = %d, want 1 after retries", applier.appliedCount())
	}
	count, _ := jobs.CountDead(ctx)
	if count != 0 {
		t.Errorf("dead jobs = %d, want 0", count)
	}
}

func TestExhaustedRetriesDeadLetter(t *testing.T) {
	applier := &fakeApplier{failures: 10}
	q, jobs := testQueue(t, applier, fastPolicy)
	ctx := context.Background()

	ev := rawEvent(t, "0x01")
	if err := q.Enqueue(ctx, ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	drain(t, q)

	if applier.appliedCount() != 0 {
		t.Errorf("applied = %d, want 0", applier.appliedCount())
	}
	dead, err := jobs.FindDead(ctx, "0x01", domain.EventTokensMinted)
	if err != nil {
		t.Fatalf("find dead: %v", err)
	}
	if dead == nil {
		t.Fatal("expected a dead-lettered job")
	}
	if dead.Attempts != fastPolicy.MaxAttempts {
		t.Errorf("attempts = %d, want %d", dead.Attempts, fastPolicy.MaxAttempts)
	}
	if dead.LastError == "" {
		t.Error("dead job missing last error")
	}

	// Payload must survive intact for replay.
	var stored domain.RawEvent
	if err := json.Unmarshal(dead.Payload, &stored); err != nil {
		t.Fatalf("unmarshal dead payload: %v", err)
	}
	if stored.TxHash != ev.TxHash || stored.Type != ev.Type {
		t.Errorf("dead payload = %s/%s, want %s/%s", stored.TxHash, stored.Type, ev.TxHash, ev.Type)
	}
}

func TestMalformedPayloadDeadLettersImmediately(t *testing.T) {
	applier := &fakeApplier{}
	q, jobs := testQueue(t, applier, fastPolicy)
	ctx := context.Background()

	if err := jobs.Enqueue(ctx, &domain.Job{
		ID:        "broken",
		EventType: domain.EventTransfer,
		TxHash:    "0x01",
		Payload:   json.RawMessage(`{not json`),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	drain(t, q)

	if applier.appliedCount() != 0 {
		t.Errorf("applied = %d, want 0", applier.appliedCount())
	}
	count, _ := jobs.CountDead(ctx)
	if count != 1 {
		t.Errorf("dead jobs = %d, want 1", count)
	}
}

func TestRequeuedDeadJobDelivers(t *testing.T) {
	applier := &fakeApplier{failures: 10}
	q, jobs := testQueue(t, applier, fastPolicy)
	ctx := context.Background()

	if err := q.Enqueue(ctx, rawEvent(t, "0x01")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	drain(t, q)

	dead, _ := jobs.FindDead(ctx, "0x01", domain.EventTokensMinted)
	if dead == nil {
		t.Fatal("expected a dead-lettered job")
	}

	// Operator requeues after the underlying fault clears.
	applier.mu.Lock()
	applier.failures = 0
	applier.mu.Unlock()
	if err := jobs.Requeue(ctx, dead.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	drain(t, q)

	if applier.appliedCount() != 1 {
		t.Errorf("applied = %d, want 1 after requeue", applier.appliedCount())
	}
	count, _ := jobs.CountDead(ctx)
	if count != 0 {
		t.Errorf("dead jobs = %d, want 0", count)
	}
}

func TestWorkerPoolStops(t *testing.T) {
	applier := &fakeApplier{}
	q, _ := testQueue(t, applier, fastPolicy)

	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Enqueue(ctx, rawEvent(t, "0x01")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for applier.appliedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event not delivered before deadline")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}
