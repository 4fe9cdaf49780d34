package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/storage"
)

// statusConfirmed marks ledger rows written from confirmed chain logs.
const statusConfirmed = "CONFIRMED"

func decode(ev *domain.RawEvent, v any) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	return nil
}

// unixTime parses a decimal seconds-since-epoch string, as emitted by
// block.timestamp.
func unixTime(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// handleTransfer moves balance between holders. The zero address marks mints
// and burns surfaced as transfers: from zero is a pure credit, to zero a pure
// debit. Every transfer also lands in the transaction ledger.
func handleTransfer(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.TransferPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	if p.From != domain.ZeroAddress {
		if err := uow.DebitHolding(ctx, p.From, p.Value); err != nil {
			return err
		}
	}
	if p.To != domain.ZeroAddress {
		if err := uow.CreditHolding(ctx, p.To, p.Token, p.Value); err != nil {
			return err
		}
	}
	return uow.InsertLedgerEntry(ctx, &domain.LedgerEntry{
		Type:        domain.LedgerTransfer,
		FromAddress: p.From,
		ToAddress:   p.To,
		Amount:      p.Value,
		TxHash:      ev.TxHash,
		BlockNumber: ev.BlockNumber,
		Status:      statusConfirmed,
	})
}

func handleMint(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.MintPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	if err := uow.CreditHolding(ctx, p.To, p.Token, p.Amount); err != nil {
		return err
	}
	return uow.InsertLedgerEntry(ctx, &domain.LedgerEntry{
		Type:        domain.LedgerMint,
		ToAddress:   p.To,
		Amount:      p.Amount,
		TxHash:      ev.TxHash,
		BlockNumber: ev.BlockNumber,
		Status:      statusConfirmed,
	})
}

func handleBurn(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.BurnPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	if err := uow.DebitHolding(ctx, p.From, p.Amount); err != nil {
		return err
	}
	return uow.InsertLedgerEntry(ctx, &domain.LedgerEntry{
		Type:        domain.LedgerBurn,
		FromAddress: p.From,
		Amount:      p.Amount,
		TxHash:      ev.TxHash,
		BlockNumber: ev.BlockNumber,
		Status:      statusConfirmed,
	})
}

func handleDividend(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.DividendPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	ts, err := unixTime(p.Timestamp)
	if err != nil {
		return err
	}
	return uow.InsertDividend(ctx, &domain.DividendDistribution{
		TokenAddress: p.Token,
		Amount:       p.Amount,
		Timestamp:    ts,
		TxHash:       ev.TxHash,
	})
}

func handleVaultDeposit(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.VaultDepositPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	return uow.CreditVaultPosition(ctx, p.User, p.Amount, p.Shares)
}

func handleVaultWithdraw(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.VaultWithdrawPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	return uow.DebitVaultShares(ctx, p.User, p.Shares)
}

func handleVaultHarvest(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.VaultHarvestPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	return uow.InsertHarvest(ctx, &domain.VaultHarvest{
		Profit:         p.Profit,
		PerformanceFee: p.PerformanceFee,
		TxHash:         ev.TxHash,
	})
}

// handleTrancheCreated creates one tranche row per token, named by position:
// "Tranche A", "Tranche B" and so on.
func handleTrancheCreated(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.TrancheCreatedPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	if len(p.TrancheTokens) != len(p.Priorities) {
		return fmt.Errorf("tranche token/priority length mismatch: %d vs %d",
			len(p.TrancheTokens), len(p.Priorities))
	}
	for i, token := range p.TrancheTokens {
		tr := &domain.Tranche{
			SPVID:        p.SPVID,
			TokenAddress: token,
			Priority:     uint8(p.Priorities[i]),
			Name:         fmt.Sprintf("Tranche %c", rune('A'+i)),
			Paid:         "0",
		}
		if err := uow.CreateTranche(ctx, tr); err != nil {
			return err
		}
	}
	return nil
}

func handleCashflow(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.CashflowPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	ts, err := unixTime(p.Timestamp)
	if err != nil {
		return err
	}
	return uow.InsertCashflow(ctx, &domain.CashflowDistribution{
		SPVID:     p.SPVID,
		Amount:    p.Amount,
		Timestamp: ts,
		TxHash:    ev.TxHash,
	})
}

func handleTranchePayment(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.TranchePaymentPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	return uow.AddTranchePayment(ctx, p.SPVID, p.TrancheToken, p.Amount)
}

// handleSPVRegistered links an existing off-chain SPV record, matched by name,
// to its on-chain identity. No matching record is not an error: registration
// can land before the back office creates the record.
func handleSPVRegistered(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.SPVRegisteredPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	return uow.LinkSPV(ctx, p.Name, p.SPVID, p.Owner, ev.TxHash)
}

func handlePropertyAdded(ctx context.Context, uow storage.UnitOfWork, ev *domain.RawEvent) error {
	var p domain.PropertyAddedPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	return uow.InsertProperty(ctx, &domain.Property{
		SPVID:      p.SPVID,
		PropertyID: p.PropertyID,
		Address:    p.PropertyAddress,
	})
}
