package projector

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/storage/memory"
)

const (
	alice = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	token = "0x1111111111111111111111111111111111111111"
)

func testProjector(t *testing.T) (*Projector, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, log), store
}

func event(t *testing.T, et domain.EventType, txHash string, payload any) *domain.RawEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &domain.RawEvent{
		Type:        et,
		TxHash:      txHash,
		BlockNumber: 100,
		Payload:     raw,
	}
}

func TestHandlerRegistrationIsExhaustive(t *testing.T) {
	p, _ := testProjector(t)
	for _, et := range domain.AllEventTypes {
		if !p.Handles(et) {
			t.Errorf("no handler registered for %s", et)
		}
	}
}

func TestApplyUnknownEventType(t *testing.T) {
	p, _ := testProjector(t)
	ev := event(t, domain.EventType("Unknown"), "0xdead", struct{}{})
	if err := p.Apply(context.Background(), ev); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestTransferMovesBalance(t *testing.T) {
	p, store := testProjector(t)
	ctx := context.Background()

	mint := event(t, domain.EventTokensMinted, "0x01",
		domain.MintPayload{To: alice, Amount: "1000", Token: token})
	if err := p.Apply(ctx, mint); err != nil {
		t.Fatalf("apply mint: %v", err)
	}

	transfer := event(t, domain.EventTransfer, "0x02",
		domain.TransferPayload{From: alice, To: bob, Value: "300", Token: token})
	if err := p.Apply(ctx, transfer); err != nil {
		t.Fatalf("apply transfer: %v", err)
	}

	if got := store.Holding(alice, token); got != "700" {
		t.Errorf("alice balance = %s, want 700", got)
	}
	if got := store.Holding(bob, token); got != "300" {
		t.Errorf("bob balance = %s, want 300", got)
	}

	ledger := store.Ledger()
	if len(ledger) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(ledger))
	}
	if ledger[1].Type != domain.LedgerTransfer || ledger[1].Amount != "300" {
		t.Errorf("unexpected transfer ledger entry: %+v", ledger[1])
	}
}

func TestTransferZeroAddressSentinel(t *testing.T) {
	p, store := testProjector(t)
	ctx := context.Background()

	// From the zero address: pure credit.
	in := event(t, domain.EventTransfer, "0x01",
		domain.TransferPayload{From: domain.ZeroAddress, To: alice, Value: "500", Token: token})
	if err := p.Apply(ctx, in); err != nil {
		t.Fatalf("apply mint-transfer: %v", err)
	}
	if got := store.Holding(alice, token); got != "500" {
		t.Errorf("balance after mint-transfer = %s, want 500", got)
	}

	// To the zero address: pure debit.
	out := event(t, domain.EventTransfer, "0x02",
		domain.TransferPayload{From: alice, To: domain.ZeroAddress, Value: "200", Token: token})
	if err := p.Apply(ctx, out); err != nil {
		t.Fatalf("apply burn-transfer: %v", err)
	}
	if got := store.Holding(alice, token); got != "300" {
		t.Errorf("balance after burn-transfer = %s, want 300", got)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	p, store := testProjector(t)
	ctx := context.Background()

	mint := event(t, domain.EventTokensMinted, "0x01",
		domain.MintPayload{To: alice, Amount: "1000", Token: token})
	for i := 0; i < 3; i++ {
		if err := p.Apply(ctx, mint); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	if got := store.Holding(alice, token); got != "1000" {
		t.Errorf("balance after replays = %s, want 1000", got)
	}
	if len(store.Ledger()) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(store.Ledger()))
	}
}

func TestDistinctTxHashesBothApply(t *testing.T) {
	p, store := testProjector(t)
	ctx := context.Background()

	for _, tx := range []string{"0x01", "0x02"} {
		dep := event(t, domain.EventVaultDeposit, tx,
			domain.VaultDepositPayload{User: alice, Amount: "200", Shares: "200"})
		if err := p.Apply(ctx, dep); err != nil {
			t.Fatalf("apply deposit %s: %v", tx, err)
		}
	}

	pos := store.VaultPosition(alice)
	if pos == nil {
		t.Fatal("missing vault position")
	}
	if pos.Deposited != "400" || pos.Shares != "400" {
		t.Errorf("position = deposited %s shares %s, want 400/400", pos.Deposited, pos.Shares)
	}
}

func TestVaultWithdrawDebitsShares(t *testing.T) {
	p, store := testProjector(t)
	ctx := context.Background()

	dep := event(t, domain.EventVaultDeposit, "0x01",
		domain.VaultDepositPayload{User: alice, Amount: "1000", Shares: "900"})
	if err := p.Apply(ctx, dep); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}
	wd := event(t, domain.EventVaultWithdraw, "0x02",
		domain.VaultWithdrawPayload{User: alice, Amount: "400", Shares: "350"})
	if err := p.Apply(ctx, wd); err != nil {
		t.Fatalf("apply withdraw: %v", err)
	}

	pos := store.VaultPosition(alice)
	if pos.Shares != "550" {
		t.Errorf("shares = %s, want 550", pos.Shares)
	}
	if pos.Deposited != "1000" {
		t.Errorf("deposited = %s, want 1000 (withdrawals do not reduce it)", pos.Deposited)
	}
}

func TestTrancheCreatedNamesByPosition(t *testing.T) {
	p, store := testProjector(t)
	ctx := context.Background()

	ev := event(t, domain.EventTrancheCreated, "0x01", domain.TrancheCreatedPayload{
		SPVID:         "7",
		TrancheTokens: []string{"0xaa01", "0xaa02", "0xaa03"},
		Priorities:    []int{0, 1, 2},
	})
	if err := p.Apply(ctx, ev); err != nil {
		t.Fatalf("apply tranche created: %v", err)
	}

	tranches := store.Tranches("7")
	if len(tranches) != 3 {
		t.Fatalf("tranches = %d, want 3", len(tranches))
	}
	wantNames := []string{"Tranche A", "Tranche B", "Tranche C"}
	for i, tr := range tranches {
		if tr.Name != wantNames[i] {
			t.Errorf("tranche %d name = %q, want %q", i, tr.Name, wantNames[i])
		}
		if tr.Paid != "0" {
			t.Errorf("tranche %d paid = %s, want 0", i, tr.Paid)
		}
	}
}

func TestTrancheCreatedLengthMismatch(t *testing.T) {
	p, store := testProjector(t)
	ev := event(t, domain.EventTrancheCreated, "0x01", domain.TrancheCreatedPayload{
		SPVID:         "7",
		TrancheTokens: []string{"0xaa01", "0xaa02"},
		Priorities:    []int{0},
	})
	if err := p.Apply(context.Background(), ev); err == nil {
		t.Fatal("expected length mismatch error")
	}
	// The failed apply must leave no idempotency claim behind.
	if store.ProcessedEvent("0x01", domain.EventTrancheCreated) != nil {
		t.Error("failed apply left an idempotency marker")
	}
}

func TestTranchePaymentAccumulates(t *testing.T) {
	p, store := testProjector(t)
	ctx := context.Background()

	created := event(t, domain.EventTrancheCreated, "0x01", domain.TrancheCreatedPayload{
		SPVID: "7", TrancheTokens: []string{"0xaa01"}, Priorities: []int{0},
	})
	if err := p.Apply(ctx, created); err != nil {
		t.Fatalf("apply tranche created: %v", err)
	}
	for i, tx := range []string{"0x02", "0x03"} {
		pay := event(t, domain.EventTranchePayment, tx,
			domain.TranchePaymentPayload{SPVID: "7", TrancheToken: "0xaa01", Amount: "150"})
		if err := p.Apply(ctx, pay); err != nil {
			t.Fatalf("apply payment %d: %v", i, err)
		}
	}

	tranches := store.Tranches("7")
	if tranches[0].Paid != "300" {
		t.Errorf("paid = %s, want 300", tranches[0].Paid)
	}
}

func TestSPVRegisteredLinksByName(t *testing.T) {
	p, store := testProjector(t)
	ctx := context.Background()
	store.SeedSPV("Maple Street SPV")

	ev := event(t, domain.EventSPVRegistered, "0xreg", domain.SPVRegisteredPayload{
		SPVID: "12", Owner: alice, Name: "Maple Street SPV",
	})
	if err := p.Apply(ctx, ev); err != nil {
		t.Fatalf("apply spv registered: %v", err)
	}

	spv := store.SPV("Maple Street SPV")
	if spv.OnChainID != "12" || spv.OwnerAddr != alice || spv.TxHash != "0xreg" {
		t.Errorf("unexpected linked spv: %+v", spv)
	}
}

func TestSPVRegisteredWithoutRecordIsNoop(t *testing.T) {
	p, _ := testProjector(t)
	ev := event(t, domain.EventSPVRegistered, "0xreg", domain.SPVRegisteredPayload{
		SPVID: "12", Owner: alice, Name: "Unknown SPV",
	})
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("apply without record: %v", err)
	}
}

func TestDividendTimestampParsing(t *testing.T) {
	p, store := testProjector(t)
	ev := event(t, domain.EventDividendDistributed, "0x01", domain.DividendPayload{
		Token: token, Amount: "5000", Timestamp: "1700000000",
	})
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("apply dividend: %v", err)
	}

	divs := store.Dividends()
	if len(divs) != 1 {
		t.Fatalf("dividends = %d, want 1", len(divs))
	}
	if got := divs[0].Timestamp.Unix(); got != 1700000000 {
		t.Errorf("timestamp = %d, want 1700000000", got)
	}

	bad := event(t, domain.EventDividendDistributed, "0x02", domain.DividendPayload{
		Token: token, Amount: "5000", Timestamp: "not-a-number",
	})
	if err := p.Apply(context.Background(), bad); err == nil {
		t.Fatal("expected timestamp parse error")
	}
}

func TestPropertyAdded(t *testing.T) {
	p, store := testProjector(t)
	ev := event(t, domain.EventPropertyAdded, "0x01", domain.PropertyAddedPayload{
		SPVID: "7", PropertyID: "3", PropertyAddress: "12 Maple Street",
	})
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("apply property added: %v", err)
	}
	props := store.Properties("7")
	if len(props) != 1 || props[0].Address != "12 Maple Street" {
		t.Errorf("unexpected properties: %+v", props)
	}
}

func TestHarvestRecorded(t *testing.T) {
	p, store := testProjector(t)
	ev := event(t, domain.EventVaultHarvest, "0x01", domain.VaultHarvestPayload{
		Profit: "900", PerformanceFee: "100",
	})
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("apply harvest: %v", err)
	}
	hs := store.Harvests()
	if len(hs) != 1 || hs[0].Profit != "900" || hs[0].PerformanceFee != "100" {
		t.Errorf("unexpected harvests: %+v", hs)
	}
}

// TestConvergenceUnderInterleavedReplays simulates the live subscription and
// the catch-up scanner covering the same blocks: every event arrives twice,
// interleaved. The projection must match a single clean pass.
func TestConvergenceUnderInterleavedReplays(t *testing.T) {
	ctx := context.Background()
	events := []*domain.RawEvent{
		event(t, domain.EventTokensMinted, "0x01",
			domain.MintPayload{To: alice, Amount: "1000", Token: token}),
		event(t, domain.EventTransfer, "0x02",
			domain.TransferPayload{From: alice, To: bob, Value: "400", Token: token}),
		event(t, domain.EventTokensBurned, "0x03",
			domain.BurnPayload{From: bob, Amount: "100", Token: token}),
	}

	p, store := testProjector(t)
	for _, ev := range events {
		if err := p.Apply(ctx, ev); err != nil {
			t.Fatalf("first delivery of %s: %v", ev.TxHash, err)
		}
		if err := p.Apply(ctx, ev); err != nil {
			t.Fatalf("duplicate delivery of %s: %v", ev.TxHash, err)
		}
	}
	for _, ev := range events {
		if err := p.Apply(ctx, ev); err != nil {
			t.Fatalf("late replay of %s: %v", ev.TxHash, err)
		}
	}

	if got := store.Holding(alice, token); got != "600" {
		t.Errorf("alice = %s, want 600", got)
	}
	if got := store.Holding(bob, token); got != "300" {
		t.Errorf("bob = %s, want 300", got)
	}
	if got := len(store.Ledger()); got != 3 {
		t.Errorf("ledger entries = %d, want 3", got)
	}
}
