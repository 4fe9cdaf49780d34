package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rwalabs/chainsync/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a job doesn't exist
	ErrJobNotFound = errors.New("job not found")
)

// Store is the projector's entry point into the relational store. Every event
// application runs inside a single unit of work so the idempotency marker and
// the projection mutations commit or roll back together.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork bundles the idempotency check and the projection mutations of one
// event into a single transaction.
type UnitOfWork interface {
	// ClaimEvent upserts the processed-event row for the given event and
	// returns whether it was already processed. The claim holds a row-level
	// lock until commit/rollback, serializing concurrent deliveries of the
	// same (tx hash, event type).
	ClaimEvent(ctx context.Context, ev *domain.RawEvent) (alreadyProcessed bool, err error)

	// MarkProcessed flips the claimed row to processed in the same
	// transaction as the mutations below.
	MarkProcessed(ctx context.Context, txHash string, eventType domain.EventType) error

	// Token holdings. Credit creates the holding row if absent; debit is an
	// atomic in-database decrement (no row means nothing to debit, matching
	// the upstream behavior).
	CreditHolding(ctx context.Context, userAddr, tokenAddr, amount string) error
	DebitHolding(ctx context.Context, userAddr, amount string) error

	// Vault positions.
	CreditVaultPosition(ctx context.Context, userAddr, amount, shares string) error
	DebitVaultShares(ctx context.Context, userAddr, shares string) error

	// Tranche ledger.
	CreateTranche(ctx context.Context, tr *domain.Tranche) error
	AddTranchePayment(ctx context.Context, spvID, tokenAddr, amount string) error

	// Registry and append-only records.
	LinkSPV(ctx context.Context, name, onChainID, owner, txHash string) error
	InsertProperty(ctx context.Context, p *domain.Property) error
	InsertDividend(ctx context.Context, d *domain.DividendDistribution) error
	InsertCashflow(ctx context.Context, c *domain.CashflowDistribution) error
	InsertHarvest(ctx context.Context, h *domain.VaultHarvest) error
	InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error

	Commit() error
	Rollback() error
}

// JobRepository is the durable backend of the event queue.
type JobRepository interface {
	// Enqueue persists a new pending job; returns once durably stored.
	Enqueue(ctx context.Context, job *domain.Job) error

	// ClaimNext atomically claims the oldest runnable pending job, marking
	// it processing. Returns (nil, nil) when no job is runnable.
	ClaimNext(ctx context.Context) (*domain.Job, error)

	// Complete removes a successfully processed job.
	Complete(ctx context.Context, id string) error

	// Fail records a failed attempt and schedules the next delivery.
	Fail(ctx context.Context, id string, lastError string, nextRunAt time.Time) error

	// DeadLetter moves a job to the terminal dead state, payload intact.
	DeadLetter(ctx context.Context, id string, lastError string) error

	// Requeue resets a dead job to pending with a fresh retry budget.
	Requeue(ctx context.Context, id string) error

	// FindDead looks up a dead job by its event identity.
	FindDead(ctx context.Context, txHash string, eventType domain.EventType) (*domain.Job, error)

	// ListDead returns dead jobs, oldest first.
	ListDead(ctx context.Context, limit int) ([]*domain.Job, error)

	// CountDead returns the number of dead jobs.
	CountDead(ctx context.Context) (int, error)

	// ReleaseStale resets processing jobs back to pending. Called on
	// startup to recover deliveries interrupted by a crash.
	ReleaseStale(ctx context.Context) (int, error)
}

// CursorRepository persists the catch-up scanner's per-contract watermark.
type CursorRepository interface {
	// Get retrieves the cursor for a contract; (nil, nil) when absent.
	Get(ctx context.Context, contract string) (*domain.SyncCursor, error)

	// Save upserts the cursor. The block number never regresses: saving a
	// lower value than the stored one is a no-op.
	Save(ctx context.Context, cursor *domain.SyncCursor) error
}
