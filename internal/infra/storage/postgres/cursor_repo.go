package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rwalabs/chainsync/internal/core/domain"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Get retrieves the cursor for a contract.
func (r *CursorRepo) Get(ctx context.Context, contract string) (*domain.SyncCursor, error) {
	query := `
		SELECT contract, block_number, updated_at
		FROM sync_cursors
		WHERE contract = $1
	`
	var c domain.SyncCursor
	err := r.db.QueryRowContext(ctx, query, contract).Scan(&c.Contract, &c.BlockNumber, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &c, nil
}

// Save upserts the cursor. GREATEST keeps the stored block number monotonic
// even if a lagging scan tries to write an older value.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.SyncCursor) error {
	query := `
		INSERT INTO sync_cursors (contract, block_number, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (contract)
		DO UPDATE SET
			block_number = GREATEST(sync_cursors.block_number, EXCLUDED.block_number),
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, cursor.Contract, cursor.BlockNumber)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
