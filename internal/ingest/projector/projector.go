// Package projector applies decoded contract events to the relational
// projection, exactly once per (tx hash, event type).
package projector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/storage"
	"github.com/rwalabs/chainsync/internal/ingest/metrics"
)

// handlerFunc applies one event's mutations inside the given unit of work.
type handlerFunc func(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error

// Projector routes events to their handlers. Every application runs in a
// single transaction with the idempotency marker, so a crash mid-apply leaves
// no partial state and the retry starts clean.
type Projector struct {
	store    storage.Store
	log      *slog.Logger
	handlers map[domain.EventType]handlerFunc
}

// New creates a projector with the full handler set registered.
func New(store storage.Store, log *slog.Logger) *Projector {
	p := &Projector{store: store, log: log}
	p.handlers = map[domain.EventType]handlerFunc{
		domain.EventTransfer:            handleTransfer,
		domain.EventTokensMinted:        handleMint,
		domain.EventTokensBurned:        handleBurn,
		domain.EventDividendDistributed: handleDividend,
		domain.EventVaultDeposit:        handleVaultDeposit,
		domain.EventVaultWithdraw:       handleVaultWithdraw,
		domain.EventVaultHarvest:        handleVaultHarvest,
		domain.EventTrancheCreated:      handleTrancheCreated,
		domain.EventCashflowDistributed: handleCashflow,
		domain.EventTranchePayment:      handleTranchePayment,
		domain.EventSPVRegistered:       handleSPVRegistered,
		domain.EventPropertyAdded:       handlePropertyAdded,
	}
	return p
}

// Handles reports whether the projector has a handler for the event type.
func (p *Projector) Handles(et domain.EventType) bool {
	_, ok := p.handlers[et]
	return ok
}

// Apply runs one event through its handler. Re-delivery of an already
// processed event is a silent no-op. Any error rolls back both the mutations
// and the idempotency claim.
func (p *Projector) Apply(ctx context.Context, ev *domain.RawEvent) error {
	handler, ok := p.handlers[ev.Type]
	if !ok {
		return fmt.Errorf("no handler for event type %q", ev.Type)
	}

	uow, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	processed, err := uow.ClaimEvent(ctx, ev)
	if err != nil {
		metrics.EventsProcessedTotal.WithLabelValues(string(ev.Type), "failed").Inc()
		return fmt.Errorf("claim event %s/%s: %w", ev.TxHash, ev.Type, err)
	}
	if processed {
		if err := uow.Commit(); err != nil {
			return fmt.Errorf("commit skip of %s/%s: %w", ev.TxHash, ev.Type, err)
		}
		p.log.Debug("event already processed, skipping",
			"event_type", ev.Type, "tx_hash", ev.TxHash)
		metrics.EventsProcessedTotal.WithLabelValues(string(ev.Type), "skipped").Inc()
		return nil
	}

	if err := handler(ctx, uow, ev); err != nil {
		metrics.EventsProcessedTotal.WithLabelValues(string(ev.Type), "failed").Inc()
		return fmt.Errorf("apply %s/%s: %w", ev.Type, ev.TxHash, err)
	}
	if err := uow.MarkProcessed(ctx, ev.TxHash, ev.Type); err != nil {
		metrics.EventsProcessedTotal.WithLabelValues(string(ev.Type), "failed").Inc()
		return fmt.Errorf("mark processed %s/%s: %w", ev.TxHash, ev.Type, err)
	}
	if err := uow.Commit(); err != nil {
		metrics.EventsProcessedTotal.WithLabelValues(string(ev.Type), "failed").Inc()
		return fmt.Errorf("commit %s/%s: %w", ev.TxHash, ev.Type, err)
	}

	p.log.Info("event applied",
		"event_type", ev.Type,
		"tx_hash", ev.TxHash,
		"block", ev.BlockNumber)
	metrics.EventsProcessedTotal.WithLabelValues(string(ev.Type), "applied").Inc()
	return nil
}
