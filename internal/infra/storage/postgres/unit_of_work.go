package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/storage"
)

// ProjectionStore implements storage.Store over PostgreSQL.
type ProjectionStore struct {
	db *DB
}

// NewProjectionStore creates a new PostgreSQL-backed projection store.
func NewProjectionStore(db *DB) *ProjectionStore {
	return &ProjectionStore{db: db}
}

// Begin opens a unit of work with an active transaction.
func (s *ProjectionStore) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// UnitOfWork bundles the idempotency marker write and the projection
// mutations of one event into a single database transaction.
type UnitOfWork struct {
	tx *sql.Tx
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call after Commit.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// ClaimEvent upserts the processed-event row and returns its processed flag.
// The ON CONFLICT DO UPDATE takes the row lock even when the row already
// exists, so two concurrent deliveries of the same event serialize here and
// the loser observes processed = true.
func (u *UnitOfWork) ClaimEvent(ctx context.Context, ev *domain.RawEvent) (bool, error) {
	query := `
		INSERT INTO chain_events (transaction_hash, event_type, payload, processed, created_at)
		VALUES ($1, $2, $3, false, NOW())
		ON CONFLICT (transaction_hash, event_type)
		DO UPDATE SET transaction_hash = EXCLUDED.transaction_hash
		RETURNING processed
	`
	var processed bool
	err := u.tx.QueryRowContext(ctx, query, ev.TxHash, ev.Type, []byte(ev.Payload)).Scan(&processed)
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	return processed, nil
}

// MarkProcessed flips the claimed row to processed.
func (u *UnitOfWork) MarkProcessed(ctx context.Context, txHash string, eventType domain.EventType) error {
	query := `
		UPDATE chain_events SET processed = true, processed_at = NOW()
		WHERE transaction_hash = $1 AND event_type = $2
	`
	_, err := u.tx.ExecContext(ctx, query, txHash, eventType)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// CreditHolding adds amount to a holder's balance, creating the row if absent.
func (u *UnitOfWork) CreditHolding(ctx context.Context, userAddr, tokenAddr, amount string) error {
	query := `
		INSERT INTO token_holdings (user_address, token_address, balance, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (user_address, token_address)
		DO UPDATE SET balance = token_holdings.balance + EXCLUDED.balance, updated_at = NOW()
	`
	_, err := u.tx.ExecContext(ctx, query, userAddr, tokenAddr, amount)
	return err
}

// DebitHolding subtracts amount from a holder's balance atomically in the
// database; two concurrent debits against the same holder cannot lose an
// update.
func (u *UnitOfWork) DebitHolding(ctx context.Context, userAddr, amount string) error {
	query := `
		UPDATE token_holdings
		SET balance = balance - $2::numeric, updated_at = NOW()
		WHERE user_address = $1
	`
	_, err := u.tx.ExecContext(ctx, query, userAddr, amount)
	return err
}

// CreditVaultPosition adds to a holder's vault shares and deposited total,
// creating the position if absent.
func (u *UnitOfWork) CreditVaultPosition(ctx context.Context, userAddr, amount, shares string) error {
	query := `
		INSERT INTO vault_positions (user_address, shares, deposited, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, NOW())
		ON CONFLICT (user_address)
		DO UPDATE SET
			shares = vault_positions.shares + EXCLUDED.shares,
			deposited = vault_positions.deposited + EXCLUDED.deposited,
			updated_at = NOW()
	`
	_, err := u.tx.ExecContext(ctx, query, userAddr, shares, amount)
	return err
}

// DebitVaultShares subtracts shares from a holder's position.
func (u *UnitOfWork) DebitVaultShares(ctx context.Context, userAddr, shares string) error {
	query := `
		UPDATE vault_positions
		SET shares = shares - $2::numeric, updated_at = NOW()
		WHERE user_address = $1
	`
	_, err := u.tx.ExecContext(ctx, query, userAddr, shares)
	return err
}

// CreateTranche inserts one tranche ledger row.
func (u *UnitOfWork) CreateTranche(ctx context.Context, tr *domain.Tranche) error {
	query := `
		INSERT INTO tranches (spv_id, token_address, priority, name, paid, created_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
		ON CONFLICT (spv_id, token_address) DO NOTHING
	`
	_, err := u.tx.ExecContext(ctx, query, tr.SPVID, tr.TokenAddress, tr.Priority, tr.Name)
	return err
}

// AddTranchePayment accumulates a payment into the tranche's cumulative paid
// amount.
func (u *UnitOfWork) AddTranchePayment(ctx context.Context, spvID, tokenAddr, amount string) error {
	query := `
		UPDATE tranches
		SET paid = paid + $3::numeric
		WHERE spv_id = $1 AND token_address = $2
	`
	_, err := u.tx.ExecContext(ctx, query, spvID, tokenAddr, amount)
	return err
}

// LinkSPV records the on-chain registration of an SPV on the off-chain record
// matched by name. Matching zero rows is not an error: the CRUD side may not
// have created the record yet, and the registry read model tolerates the lag.
func (u *UnitOfWork) LinkSPV(ctx context.Context, name, onChainID, owner, txHash string) error {
	query := `
		UPDATE spvs
		SET on_chain_id = $2, owner_address = $3, tx_hash = $4
		WHERE name = $1
	`
	_, err := u.tx.ExecContext(ctx, query, name, onChainID, owner, txHash)
	return err
}

// InsertProperty records a property registered under an SPV.
func (u *UnitOfWork) InsertProperty(ctx context.Context, p *domain.Property) error {
	query := `
		INSERT INTO properties (spv_id, property_id, address, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (spv_id, property_id) DO NOTHING
	`
	_, err := u.tx.ExecContext(ctx, query, p.SPVID, p.PropertyID, p.Address)
	return err
}

// InsertDividend records a dividend distribution.
func (u *UnitOfWork) InsertDividend(ctx context.Context, d *domain.DividendDistribution) error {
	query := `
		INSERT INTO dividend_distributions (token_address, amount, distributed_at, tx_hash)
		VALUES ($1, $2::numeric, $3, $4)
	`
	_, err := u.tx.ExecContext(ctx, query, d.TokenAddress, d.Amount, d.Timestamp, d.TxHash)
	return err
}

// InsertCashflow records an SPV cashflow distribution.
func (u *UnitOfWork) InsertCashflow(ctx context.Context, c *domain.CashflowDistribution) error {
	query := `
		INSERT INTO cashflow_distributions (spv_id, amount, distributed_at, tx_hash)
		VALUES ($1, $2::numeric, $3, $4)
	`
	_, err := u.tx.ExecContext(ctx, query, c.SPVID, c.Amount, c.Timestamp, c.TxHash)
	return err
}

// InsertHarvest records a vault harvest.
func (u *UnitOfWork) InsertHarvest(ctx context.Context, h *domain.VaultHarvest) error {
	query := `
		INSERT INTO vault_harvests (profit, performance_fee, tx_hash, created_at)
		VALUES ($1::numeric, $2::numeric, $3, NOW())
	`
	_, err := u.tx.ExecContext(ctx, query, h.Profit, h.PerformanceFee, h.TxHash)
	return err
}

// InsertLedgerEntry appends a confirmed token movement to the transaction
// ledger.
func (u *UnitOfWork) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO transactions (type, from_address, to_address, amount, tx_hash, block_number, status, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, NOW())
	`
	_, err := u.tx.ExecContext(ctx, query,
		e.Type, nullable(e.FromAddress), nullable(e.ToAddress), e.Amount, e.TxHash, e.BlockNumber, e.Status)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
