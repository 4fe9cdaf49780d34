package health

import (
	"context"
	"sync"
	"time"

	"github.com/rwalabs/chainsync/internal/infra/storage"
	"github.com/rwalabs/chainsync/internal/ingest/syncer"
)

// Lag thresholds, in blocks behind the confirmed head.
const (
	degradedLag = 100
	criticalLag = 1000
)

// Pinger verifies the database connection is alive.
type Pinger interface {
	Health(ctx context.Context) error
}

// StatusSource reports each contract's scan position.
type StatusSource interface {
	Status() map[string]syncer.ContractStatus
}

// Monitor aggregates health status from the database, the catch-up scanner
// and the dead-letter count.
type Monitor struct {
	db         Pinger
	scanner    StatusSource
	jobs       storage.JobRepository
	lastCheck  time.Time
	lastReport *Report
	mu         sync.Mutex
}

// NewMonitor creates a health monitor.
func NewMonitor(db Pinger, scanner StatusSource, jobs storage.JobRepository) *Monitor {
	return &Monitor{db: db, scanner: scanner, jobs: jobs}
}

// CheckHealth builds the current health report. Checks are rate limited to
// once per 10s so probes don't hammer the database.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	report := &Report{
		SystemStatus: StatusHealthy,
		Database:     StatusHealthy,
		Contracts:    make(map[string]ContractHealth),
	}

	if err := m.db.Health(ctx); err != nil {
		report.Database = StatusCritical
		report.SystemStatus = StatusCritical
	}

	if count, err := m.jobs.CountDead(ctx); err == nil {
		report.DeadJobs = count
		if count > 0 {
			report.degradeTo(StatusDegraded)
		}
	}

	for name, st := range m.scanner.Status() {
		ch := ContractHealth{
			Contract: name,
			Status:   StatusHealthy,
			Cursor:   st.Cursor,
			Head:     st.Head,
			BlockLag: st.Lag,
		}
		switch {
		case st.Lag > criticalLag:
			ch.Status = StatusCritical
		case st.Lag > degradedLag:
			ch.Status = StatusDegraded
		}
		report.degradeTo(ch.Status)
		report.Contracts[name] = ch
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

// degradeTo lowers the system status; it never raises it.
func (r *Report) degradeTo(s SystemStatus) {
	if s == StatusCritical {
		r.SystemStatus = StatusCritical
		return
	}
	if s == StatusDegraded && r.SystemStatus == StatusHealthy {
		r.SystemStatus = StatusDegraded
	}
}
