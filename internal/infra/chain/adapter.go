// Package chain defines the event source abstraction over a blockchain node.
package chain

import (
	"context"

	"github.com/rwalabs/chainsync/internal/core/domain"
)

// Adapter translates node-specific log formats into RawEvents and offers the
// two retrieval modes the pipeline needs: a push subscription for the live
// path and a pull range query for the catch-up scanner.
type Adapter interface {
	// Subscribe returns a long-lived stream of decoded events for one
	// contract. On transport disconnect the adapter reconnects with
	// backoff and keeps emitting on the same channel; the channel closes
	// only when ctx is done. Logs that fail to decode are dropped with a
	// warning, never retried.
	Subscribe(ctx context.Context, contract domain.Contract) (<-chan domain.RawEvent, error)

	// FetchRange returns all decodable events for the contract in
	// [fromBlock, toBlock], ordered by (block number, log index). RPC
	// errors surface to the caller so the scanner owns retry policy and
	// window sizing.
	FetchRange(ctx context.Context, contract domain.Contract, fromBlock, toBlock uint64) ([]domain.RawEvent, error)

	// HeadBlock returns the current chain head block number.
	HeadBlock(ctx context.Context) (uint64, error)

	// Close releases the underlying node connections.
	Close()
}
