// Package evm implements the event source adapter over go-ethereum.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/core/retry"
	"github.com/rwalabs/chainsync/internal/ingest/metrics"
)

// Adapter wraps two node connections: an HTTP client for range queries and a
// websocket client for live subscriptions.
type Adapter struct {
	http    *ethclient.Client
	ws      *ethclient.Client
	schemas map[string]*contractSchema
	policy  retry.Policy
	log     *slog.Logger
}

// NewAdapter dials both endpoints and prepares the event schemas.
func NewAdapter(ctx context.Context, rpcURL, wsURL string, policy retry.Policy, log *slog.Logger) (*Adapter, error) {
	httpClient, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	wsClient, err := ethclient.DialContext(ctx, wsURL)
	if err != nil {
		httpClient.Close()
		return nil, fmt.Errorf("failed to dial ws endpoint: %w", err)
	}
	return &Adapter{
		http:    httpClient,
		ws:      wsClient,
		schemas: newSchemas(),
		policy:  policy,
		log:     log,
	}, nil
}

// Close releases both node connections.
func (a *Adapter) Close() {
	a.http.Close()
	a.ws.Close()
}

// HeadBlock returns the current chain head block number.
func (a *Adapter) HeadBlock(ctx context.Context) (uint64, error) {
	return a.http.BlockNumber(ctx)
}

// FetchRange returns all decodable events for the contract in
// [fromBlock, toBlock], ordered by (block number, log index). Errors surface
// to the caller; decode failures drop the single log with a warning.
func (a *Adapter) FetchRange(ctx context.Context, contract domain.Contract, fromBlock, toBlock uint64) ([]domain.RawEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(contract.Address)},
	}
	logs, err := a.http.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d, %d]: %w", fromBlock, toBlock, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	events := make([]domain.RawEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := a.decodeLog(contract, lg)
		if errors.Is(err, ErrUnknownEvent) {
			continue
		}
		if err != nil {
			a.log.Warn("dropping undecodable log",
				"contract", contract.Name,
				"block", lg.BlockNumber,
				"tx", lg.TxHash.Hex(),
				"error", err)
			metrics.DecodeFailuresTotal.WithLabelValues(contract.Name).Inc()
			continue
		}
		events = append(events, *ev)
	}
	return events, nil
}

// Subscribe returns a stream of decoded events for one contract. The
// subscription loop reconnects with backoff on transport failure; the channel
// stays open across reconnects and closes only when ctx ends.
func (a *Adapter) Subscribe(ctx context.Context, contract domain.Contract) (<-chan domain.RawEvent, error) {
	if _, ok := a.schemas[contract.Name]; !ok {
		return nil, fmt.Errorf("no event schemas for contract %q", contract.Name)
	}
	out := make(chan domain.RawEvent, 128)
	go a.subscriptionLoop(ctx, contract, out)
	return out, nil
}

func (a *Adapter) subscriptionLoop(ctx context.Context, contract domain.Contract, out chan<- domain.RawEvent) {
	defer close(out)

	query := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(contract.Address)},
	}

	attempt := 0
	for ctx.Err() == nil {
		logs := make(chan types.Log, 128)
		sub, err := a.ws.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			attempt++
			delay := a.policy.Delay(attempt)
			a.log.Warn("subscription failed, reconnecting",
				"contract", contract.Name, "attempt", attempt, "delay", delay, "error", err)
			metrics.SubscriptionReconnectsTotal.WithLabelValues(contract.Name).Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		if attempt > 0 {
			a.log.Info("subscription restored", "contract", contract.Name)
		}
		attempt = 0

		err = a.consume(ctx, contract, sub, logs, out)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return
		}
		a.log.Warn("subscription dropped, reconnecting", "contract", contract.Name, "error", err)
		metrics.SubscriptionReconnectsTotal.WithLabelValues(contract.Name).Inc()
	}
}

func (a *Adapter) consume(
	ctx context.Context,
	contract domain.Contract,
	sub ethereum.Subscription,
	logs <-chan types.Log,
	out chan<- domain.RawEvent,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case lg := <-logs:
			ev, err := a.decodeLog(contract, lg)
			if errors.Is(err, ErrUnknownEvent) {
				continue
			}
			if err != nil {
				a.log.Warn("dropping undecodable log",
					"contract", contract.Name,
					"block", lg.BlockNumber,
					"tx", lg.TxHash.Hex(),
					"error", err)
				metrics.DecodeFailuresTotal.WithLabelValues(contract.Name).Inc()
				continue
			}
			select {
			case out <- *ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decodeLog decodes one raw log against the contract's schemas.
func (a *Adapter) decodeLog(contract domain.Contract, lg types.Log) (*domain.RawEvent, error) {
	sch, ok := a.schemas[contract.Name]
	if !ok {
		return nil, fmt.Errorf("no event schemas for contract %q", contract.Name)
	}
	if lg.Removed {
		// Reorged-out log; the scanner re-covers the canonical chain.
		return nil, ErrUnknownEvent
	}
	if len(lg.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	es, ok := sch.events[lg.Topics[0]]
	if !ok {
		return nil, ErrUnknownEvent
	}

	args := make(map[string]any)
	if err := sch.abi.UnpackIntoMap(args, es.name, lg.Data); err != nil {
		return nil, fmt.Errorf("unpack %s data: %w", es.name, err)
	}
	var indexed abi.Arguments
	for _, in := range sch.abi.Events[es.name].Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse %s topics: %w", es.name, err)
	}

	payload, err := es.build(args, lower(lg.Address))
	if err != nil {
		return nil, fmt.Errorf("build %s payload: %w", es.name, err)
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	return &domain.RawEvent{
		Type:        es.typ,
		Contract:    contract.Name,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		Payload:     raw,
		ObservedAt:  time.Now().UTC(),
	}, nil
}
