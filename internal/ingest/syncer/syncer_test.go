package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/storage/memory"
)

type fetchCall struct {
	contract string
	from, to uint64
}

// fakeAdapter serves canned events per contract and records range queries.
type fakeAdapter struct {
	mu       sync.Mutex
	head     uint64
	events   map[string][]domain.RawEvent
	fetchErr map[string]error
	calls    []fetchCall
}

func newFakeAdapter(head uint64) *fakeAdapter {
	return &fakeAdapter{
		head:     head,
		events:   make(map[string][]domain.RawEvent),
		fetchErr: make(map[string]error),
	}
}

func (f *fakeAdapter) HeadBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeAdapter) FetchRange(ctx context.Context, contract domain.Contract, from, to uint64) ([]domain.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{contract: contract.Name, from: from, to: to})
	if err := f.fetchErr[contract.Name]; err != nil {
		return nil, err
	}
	var out []domain.RawEvent
	for _, ev := range f.events[contract.Name] {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeAdapter) Subscribe(ctx context.Context, contract domain.Contract) (<-chan domain.RawEvent, error) {
	ch := make(chan domain.RawEvent)
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) Close() {}

func (f *fakeAdapter) fetchCalls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

// fakeApplier records applied events and optionally fails.
type fakeApplier struct {
	mu      sync.Mutex
	err     error
	applied []domain.RawEvent
}

func (f *fakeApplier) Apply(ctx context.Context, ev *domain.RawEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, *ev)
	return nil
}

func (f *fakeApplier) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

var tokenContract = domain.Contract{
	Name:    domain.ContractPermissionedToken,
	Address: "0x1111111111111111111111111111111111111111",
}

func testSyncer(adapter *fakeAdapter, applier Applier, cursors *memory.CursorRepo, cfg Config, contracts ...domain.Contract) *Syncer {
	if len(contracts) == 0 {
		contracts = []domain.Contract{tokenContract}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(adapter, cursors, applier, contracts, cfg, log)
}

func cursorBlock(t *testing.T, cursors *memory.CursorRepo, contract string) uint64 {
	t.Helper()
	c, err := cursors.Get(context.Background(), contract)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if c == nil {
		t.Fatalf("no cursor for %s", contract)
	}
	return c.BlockNumber
}

func TestBootstrapAndFirstWindow(t *testing.T) {
	adapter := newFakeAdapter(5000)
	applier := &fakeApplier{}
	cursors := memory.NewCursorRepo()
	s := testSyncer(adapter, applier, cursors,
		Config{Interval: time.Second, WindowSize: 100, Lookback: 1000})

	s.sweep(context.Background())

	calls := adapter.fetchCalls()
	if len(calls) != 1 {
		t.Fatalf("fetch calls = %d, want 1", len(calls))
	}
	if calls[0].from != 4001 || calls[0].to != 4100 {
		t.Errorf("first window = [%d, %d], want [4001, 4100]", calls[0].from, calls[0].to)
	}
	if got := cursorBlock(t, cursors, tokenContract.Name); got != 4100 {
		t.Errorf("cursor = %d, want 4100", got)
	}
}

func TestWindowClampedToConfirmedHead(t *testing.T) {
	adapter := newFakeAdapter(5000)
	applier := &fakeApplier{}
	cursors := memory.NewCursorRepo()
	if err := cursors.Save(context.Background(),
		&domain.SyncCursor{Contract: tokenContract.Name, BlockNumber: 4950}); err != nil {
		t.Fatal(err)
	}
	s := testSyncer(adapter, applier, cursors,
		Config{Interval: time.Second, WindowSize: 100, Lookback: 1000, ConfirmationBlocks: 3})

	s.sweep(context.Background())

	calls := adapter.fetchCalls()
	if len(calls) != 1 {
		t.Fatalf("fetch calls = %d, want 1", len(calls))
	}
	if calls[0].from != 4951 || calls[0].to != 4997 {
		t.Errorf("window = [%d, %d], want [4951, 4997]", calls[0].from, calls[0].to)
	}
	if got := cursorBlock(t, cursors, tokenContract.Name); got != 4997 {
		t.Errorf("cursor = %d, want 4997", got)
	}
}

func TestCaughtUpSkipsFetch(t *testing.T) {
	adapter := newFakeAdapter(5000)
	applier := &fakeApplier{}
	cursors := memory.NewCursorRepo()
	if err := cursors.Save(context.Background(),
		&domain.SyncCursor{Contract: tokenContract.Name, BlockNumber: 5000}); err != nil {
		t.Fatal(err)
	}
	s := testSyncer(adapter, applier, cursors,
		Config{Interval: time.Second, WindowSize: 100, Lookback: 1000})

	s.sweep(context.Background())

	if calls := adapter.fetchCalls(); len(calls) != 0 {
		t.Errorf("fetch calls = %d, want 0 when caught up", len(calls))
	}
}

func TestApplyFailureHoldsCursor(t *testing.T) {
	adapter := newFakeAdapter(5000)
	adapter.events[tokenContract.Name] = []domain.RawEvent{
		{Type: domain.EventTransfer, TxHash: "0x01", BlockNumber: 4050},
	}
	applier := &fakeApplier{err: errors.New("db down")}
	cursors := memory.NewCursorRepo()
	s := testSyncer(adapter, applier, cursors,
		Config{Interval: time.Second, WindowSize: 100, Lookback: 1000})
	ctx := context.Background()

	s.sweep(ctx)
	if got := cursorBlock(t, cursors, tokenContract.Name); got != 4000 {
		t.Fatalf("cursor after failed sweep = %d, want bootstrap 4000", got)
	}

	// Fault clears; the same window is re-covered.
	applier.mu.Lock()
	applier.err = nil
	applier.mu.Unlock()
	s.sweep(ctx)

	if applier.appliedCount() != 1 {
		t.Errorf("applied = %d, want 1", applier.appliedCount())
	}
	if got := cursorBlock(t, cursors, tokenContract.Name); got != 4100 {
		t.Errorf("cursor = %d, want 4100", got)
	}
	calls := adapter.fetchCalls()
	if len(calls) != 2 || calls[1].from != 4001 {
		t.Errorf("expected the failed window retried from 4001, got %+v", calls)
	}
}

func TestContractFailureDoesNotStallOthers(t *testing.T) {
	vaultContract := domain.Contract{
		Name:    domain.ContractVault,
		Address: "0x2222222222222222222222222222222222222222",
	}
	adapter := newFakeAdapter(5000)
	adapter.fetchErr[tokenContract.Name] = errors.New("rpc error")
	applier := &fakeApplier{}
	cursors := memory.NewCursorRepo()
	s := testSyncer(adapter, applier, cursors,
		Config{Interval: time.Second, WindowSize: 100, Lookback: 1000},
		tokenContract, vaultContract)

	s.sweep(context.Background())

	if got := cursorBlock(t, cursors, tokenContract.Name); got != 4000 {
		t.Errorf("failing contract cursor = %d, want bootstrap 4000", got)
	}
	if got := cursorBlock(t, cursors, vaultContract.Name); got != 4100 {
		t.Errorf("healthy contract cursor = %d, want 4100", got)
	}
}

func TestShortLookbackOnYoungChain(t *testing.T) {
	adapter := newFakeAdapter(50)
	applier := &fakeApplier{}
	cursors := memory.NewCursorRepo()
	s := testSyncer(adapter, applier, cursors,
		Config{Interval: time.Second, WindowSize: 100, Lookback: 1000})

	s.sweep(context.Background())

	calls := adapter.fetchCalls()
	if len(calls) != 1 {
		t.Fatalf("fetch calls = %d, want 1", len(calls))
	}
	if calls[0].from != 1 || calls[0].to != 50 {
		t.Errorf("window = [%d, %d], want [1, 50]", calls[0].from, calls[0].to)
	}
}

func TestStatusReportsLag(t *testing.T) {
	adapter := newFakeAdapter(5000)
	applier := &fakeApplier{}
	cursors := memory.NewCursorRepo()
	s := testSyncer(adapter, applier, cursors,
		Config{Interval: time.Second, WindowSize: 100, Lookback: 1000})

	s.sweep(context.Background())

	st, ok := s.Status()[tokenContract.Name]
	if !ok {
		t.Fatal("missing status entry")
	}
	if st.Cursor != 4100 || st.Head != 5000 || st.Lag != 900 {
		t.Errorf("status = %+v, want cursor 4100 head 5000 lag 900", st)
	}
}
