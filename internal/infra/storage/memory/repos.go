package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/storage"
)

// JobRepo implements storage.JobRepository in memory.
type JobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewJobRepo creates an empty in-memory job repository.
func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*domain.Job), now: time.Now}
}

// SetClock overrides the repository clock, for tests.
func (r *JobRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *JobRepo) Enqueue(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	cp.Status = domain.JobPending
	cp.NextRunAt = r.now()
	cp.CreatedAt = r.now()
	r.jobs[cp.ID] = &cp
	return nil
}

func (r *JobRepo) ClaimNext(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *domain.Job
	for _, j := range r.jobs {
		if j.Status != domain.JobPending || j.NextRunAt.After(r.now()) {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = domain.JobProcessing
	cp := *oldest
	return &cp, nil
}

func (r *JobRepo) Complete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *JobRepo) Fail(ctx context.Context, id string, lastError string, nextRunAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	j.Status = domain.JobPending
	j.Attempts++
	j.LastError = lastError
	j.NextRunAt = nextRunAt
	return nil
}

func (r *JobRepo) DeadLetter(ctx context.Context, id string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	j.Status = domain.JobDead
	j.Attempts++
	j.LastError = lastError
	return nil
}

func (r *JobRepo) Requeue(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != domain.JobDead {
		return storage.ErrJobNotFound
	}
	j.Status = domain.JobPending
	j.Attempts = 0
	j.LastError = ""
	j.NextRunAt = r.now()
	return nil
}

func (r *JobRepo) FindDead(ctx context.Context, txHash string, eventType domain.EventType) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Status == domain.JobDead && j.TxHash == txHash && j.EventType == eventType {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *JobRepo) ListDead(ctx context.Context, limit int) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Job
	for _, j := range r.jobs {
		if j.Status == domain.JobDead {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) CountDead(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, j := range r.jobs {
		if j.Status == domain.JobDead {
			count++
		}
	}
	return count, nil
}

func (r *JobRepo) ReleaseStale(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, j := range r.jobs {
		if j.Status == domain.JobProcessing {
			j.Status = domain.JobPending
			count++
		}
	}
	return count, nil
}

// CursorRepo implements storage.CursorRepository in memory.
type CursorRepo struct {
	mu      sync.Mutex
	cursors map[string]*domain.SyncCursor
}

// NewCursorRepo creates an empty in-memory cursor repository.
func NewCursorRepo() *CursorRepo {
	return &CursorRepo{cursors: make(map[string]*domain.SyncCursor)}
}

func (r *CursorRepo) Get(ctx context.Context, contract string) (*domain.SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[contract]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.SyncCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.cursors[cursor.Contract]; ok && cur.BlockNumber >= cursor.BlockNumber {
		return nil
	}
	cp := *cursor
	cp.UpdatedAt = time.Now()
	r.cursors[cursor.Contract] = &cp
	return nil
}
