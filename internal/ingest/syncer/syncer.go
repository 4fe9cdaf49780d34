// Package syncer runs the catch-up scanner: a periodic range sweep per
// tracked contract that re-covers anything the live subscription missed.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/chain"
	"github.com/rwalabs/chainsync/internal/infra/storage"
	"github.com/rwalabs/chainsync/internal/ingest/metrics"
)

// Applier consumes one decoded event. Satisfied by the projector; catch-up
// events bypass the durable queue and apply directly.
type Applier interface {
	Apply(ctx context.Context, ev *domain.RawEvent) error
}

// Config bounds the scanner's pace and reach.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// WindowSize caps the block span of one range query.
	WindowSize uint64
	// Lookback bounds the first sweep on a fresh database: the initial
	// cursor lands Lookback blocks behind the confirmed head.
	Lookback uint64
	// ConfirmationBlocks keeps the scanner that many blocks behind the
	// head, so shallow reorgs settle before a block is scanned.
	ConfirmationBlocks uint64
}

// ContractStatus is one contract's scan position, for health reporting.
type ContractStatus struct {
	Cursor uint64 `json:"cursor"`
	Head   uint64 `json:"head"`
	Lag    uint64 `json:"lag"`
}

// Syncer sweeps each tracked contract's cursor toward the confirmed head.
// Cursors are independent: one contract failing never stalls the others.
type Syncer struct {
	adapter   chain.Adapter
	cursors   storage.CursorRepository
	applier   Applier
	contracts []domain.Contract
	cfg       Config
	log       *slog.Logger

	mu     sync.Mutex
	status map[string]ContractStatus
}

// New creates a syncer over the given contracts.
func New(adapter chain.Adapter, cursors storage.CursorRepository, applier Applier, contracts []domain.Contract, cfg Config, log *slog.Logger) *Syncer {
	return &Syncer{
		adapter:   adapter,
		cursors:   cursors,
		applier:   applier,
		contracts: contracts,
		cfg:       cfg,
		log:       log,
		status:    make(map[string]ContractStatus, len(contracts)),
	}
}

// Run sweeps immediately, then on every interval until ctx is done. Sweeps
// never overlap: a slow sweep delays the next one.
func (s *Syncer) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Status returns each contract's last observed scan position.
func (s *Syncer) Status() map[string]ContractStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ContractStatus, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}

// sweep runs one pass over all contracts.
func (s *Syncer) sweep(ctx context.Context) {
	head, err := s.adapter.HeadBlock(ctx)
	if err != nil {
		s.log.Error("failed to fetch chain head", "error", err)
		return
	}
	metrics.ChainHeadBlock.Set(float64(head))
	if head < s.cfg.ConfirmationBlocks {
		return
	}
	safeHead := head - s.cfg.ConfirmationBlocks

	for _, contract := range s.contracts {
		if ctx.Err() != nil {
			return
		}
		if err := s.syncContract(ctx, contract, safeHead); err != nil {
			// Cursor untouched; the same window is retried next sweep.
			s.log.Error("contract sweep failed",
				"contract", contract.Name, "error", err)
		}
	}
}

// syncContract advances one contract's cursor by at most one window. The
// cursor moves only after every event in the window applied, so a mid-window
// failure re-covers the whole window next sweep.
func (s *Syncer) syncContract(ctx context.Context, contract domain.Contract, safeHead uint64) error {
	cursor, err := s.cursors.Get(ctx, contract.Name)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cursor == nil {
		cursor, err = s.bootstrap(ctx, contract, safeHead)
		if err != nil {
			return err
		}
	}

	if cursor.BlockNumber >= safeHead {
		s.recordStatus(contract.Name, cursor.BlockNumber, safeHead)
		return nil
	}

	fromBlock := cursor.BlockNumber + 1
	toBlock := cursor.BlockNumber + s.cfg.WindowSize
	if toBlock > safeHead {
		toBlock = safeHead
	}

	events, err := s.adapter.FetchRange(ctx, contract, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("fetch [%d, %d]: %w", fromBlock, toBlock, err)
	}
	for i := range events {
		if err := s.applier.Apply(ctx, &events[i]); err != nil {
			return fmt.Errorf("apply %s/%s: %w", events[i].TxHash, events[i].Type, err)
		}
	}

	if err := s.cursors.Save(ctx, &domain.SyncCursor{Contract: contract.Name, BlockNumber: toBlock}); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	s.recordStatus(contract.Name, toBlock, safeHead)
	if len(events) > 0 {
		s.log.Info("window scanned",
			"contract", contract.Name,
			"from", fromBlock,
			"to", toBlock,
			"events", len(events))
	}
	return nil
}

// bootstrap seeds a fresh contract's cursor a bounded distance behind the
// confirmed head. History older than the lookback is not replayed.
func (s *Syncer) bootstrap(ctx context.Context, contract domain.Contract, safeHead uint64) (*domain.SyncCursor, error) {
	start := uint64(0)
	if safeHead > s.cfg.Lookback {
		start = safeHead - s.cfg.Lookback
	}
	cursor := &domain.SyncCursor{Contract: contract.Name, BlockNumber: start}
	if err := s.cursors.Save(ctx, cursor); err != nil {
		return nil, fmt.Errorf("save bootstrap cursor: %w", err)
	}
	s.log.Info("bootstrapped sync cursor",
		"contract", contract.Name, "block", start, "head", safeHead)
	return cursor, nil
}

func (s *Syncer) recordStatus(contract string, cursor, safeHead uint64) {
	metrics.SyncCursorBlock.WithLabelValues(contract).Set(float64(cursor))
	lag := uint64(0)
	if safeHead > cursor {
		lag = safeHead - cursor
	}
	s.mu.Lock()
	s.status[contract] = ContractStatus{Cursor: cursor, Head: safeHead, Lag: lag}
	s.mu.Unlock()
}
