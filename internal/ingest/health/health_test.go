package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/storage/memory"
	"github.com/rwalabs/chainsync/internal/ingest/syncer"
)

type fakeDB struct{ err error }

func (f *fakeDB) Health(ctx context.Context) error { return f.err }

type fakeScanner struct{ status map[string]syncer.ContractStatus }

func (f *fakeScanner) Status() map[string]syncer.ContractStatus { return f.status }

func deadJobRepo(t *testing.T, deadCount int) *memory.JobRepo {
	t.Helper()
	jobs := memory.NewJobRepo()
	ctx := context.Background()
	for i := 0; i < deadCount; i++ {
		job := &domain.Job{ID: string(rune('a' + i)), EventType: domain.EventTransfer}
		if err := jobs.Enqueue(ctx, job); err != nil {
			t.Fatal(err)
		}
		if err := jobs.DeadLetter(ctx, job.ID, "boom"); err != nil {
			t.Fatal(err)
		}
	}
	return jobs
}

func TestCheckHealthAllHealthy(t *testing.T) {
	m := NewMonitor(&fakeDB{}, &fakeScanner{status: map[string]syncer.ContractStatus{
		"PermissionedToken": {Cursor: 4990, Head: 5000, Lag: 10},
	}}, deadJobRepo(t, 0))

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("system status = %s, want healthy", report.SystemStatus)
	}
	if report.Contracts["PermissionedToken"].BlockLag != 10 {
		t.Errorf("lag = %d, want 10", report.Contracts["PermissionedToken"].BlockLag)
	}
}

func TestCheckHealthDatabaseDown(t *testing.T) {
	m := NewMonitor(&fakeDB{err: errors.New("connection refused")},
		&fakeScanner{status: map[string]syncer.ContractStatus{}}, deadJobRepo(t, 0))

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("system status = %s, want critical", report.SystemStatus)
	}
	if report.Database != StatusCritical {
		t.Errorf("database status = %s, want critical", report.Database)
	}
}

func TestCheckHealthDeadJobsDegrade(t *testing.T) {
	m := NewMonitor(&fakeDB{}, &fakeScanner{status: map[string]syncer.ContractStatus{}},
		deadJobRepo(t, 2))

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Errorf("system status = %s, want degraded", report.SystemStatus)
	}
	if report.DeadJobs != 2 {
		t.Errorf("dead jobs = %d, want 2", report.DeadJobs)
	}
}

func TestCheckHealthLagThresholds(t *testing.T) {
	tests := []struct {
		name string
		lag  uint64
		want SystemStatus
	}{
		{"small lag", 50, StatusHealthy},
		{"moderate lag", 500, StatusDegraded},
		{"large lag", 5000, StatusCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(&fakeDB{}, &fakeScanner{status: map[string]syncer.ContractStatus{
				"Vault": {Cursor: 0, Head: tt.lag, Lag: tt.lag},
			}}, deadJobRepo(t, 0))
			report := m.CheckHealth(context.Background())
			if report.SystemStatus != tt.want {
				t.Errorf("system status = %s, want %s", report.SystemStatus, tt.want)
			}
		})
	}
}

func TestHealthEndpointStatusCodes(t *testing.T) {
	healthy := NewServer(NewMonitor(&fakeDB{},
		&fakeScanner{status: map[string]syncer.ContractStatus{}}, deadJobRepo(t, 0)), 0)
	rec := httptest.NewRecorder()
	healthy.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status code = %d, want 200", rec.Code)
	}

	critical := NewServer(NewMonitor(&fakeDB{err: errors.New("down")},
		&fakeScanner{status: map[string]syncer.ContractStatus{}}, deadJobRepo(t, 0)), 0)
	rec = httptest.NewRecorder()
	critical.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("critical status code = %d, want 503", rec.Code)
	}
}

func TestDetailedEndpointBody(t *testing.T) {
	srv := NewServer(NewMonitor(&fakeDB{}, &fakeScanner{status: map[string]syncer.ContractStatus{
		"SPVRegistry": {Cursor: 100, Head: 110, Lag: 10},
	}}, deadJobRepo(t, 1)), 0)

	rec := httptest.NewRecorder()
	srv.handleDetailed(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if report.DeadJobs != 1 {
		t.Errorf("dead jobs = %d, want 1", report.DeadJobs)
	}
	if report.Contracts["SPVRegistry"].Cursor != 100 {
		t.Errorf("cursor = %d, want 100", report.Contracts["SPVRegistry"].Cursor)
	}
}
