// Package listener bridges live contract subscriptions into the durable
// queue. It is the low-latency path; the catch-up scanner is the safety net.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/chain"
)

// Enqueuer accepts decoded events for durable delivery. Satisfied by the
// event queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev *domain.RawEvent) error
}

// Listener runs one subscription goroutine per tracked contract.
type Listener struct {
	adapter   chain.Adapter
	queue     Enqueuer
	contracts []domain.Contract
	log       *slog.Logger
	wg        sync.WaitGroup
}

// New creates a listener over the given contracts.
func New(adapter chain.Adapter, queue Enqueuer, contracts []domain.Contract, log *slog.Logger) *Listener {
	return &Listener{
		adapter:   adapter,
		queue:     queue,
		contracts: contracts,
		log:       log,
	}
}

// Start opens one subscription per contract and consumes each on its own
// goroutine until ctx ends. Call Wait to join them.
func (l *Listener) Start(ctx context.Context) error {
	for _, contract := range l.contracts {
		events, err := l.adapter.Subscribe(ctx, contract)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", contract.Name, err)
		}
		l.wg.Add(1)
		go l.consume(ctx, contract, events)
	}
	l.log.Info("live subscriptions started", "contracts", len(l.contracts))
	return nil
}

// Wait blocks until all subscription goroutines have exited.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) consume(ctx context.Context, contract domain.Contract, events <-chan domain.RawEvent) {
	defer l.wg.Done()
	for ev := range events {
		if err := l.queue.Enqueue(ctx, &ev); err != nil {
			// Lost from the live path only; the catch-up scanner
			// re-covers the block.
			l.log.Error("failed to enqueue live event",
				"contract", contract.Name,
				"event_type", ev.Type,
				"tx_hash", ev.TxHash,
				"error", err)
		}
	}
	l.log.Info("live subscription closed", "contract", contract.Name)
}
