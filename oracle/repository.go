package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the administrator-set exchange rate.
type Repository interface {
	Rate(ctx context.Context) (int64, error)
	UpdateRate(ctx context.Context, tx pgx.Tx, newRate int64) (int64, error)
}

// PGRepository stores the rate in the settings table.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Rate returns the current local-per-settlement-unit price.
func (r *PGRepository) Rate(ctx context.Context) (int64, error) {
	const q = `SELECT value FROM settings WHERE key = 'exchange_rate'`
	var rate int64
	if err := r.pool.QueryRow(ctx, q).Scan(&rate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultRate, nil
		}
		return 0, fmt.Errorf("oracle: read rate: %w", err)
	}
	return rate, nil
}

// UpdateRate swaps the stored rate inside the caller's transaction and
// returns the previous value. The row lock serializes concurrent updates.
func (r *PGRepository) UpdateRate(ctx context.Context, tx pgx.Tx, newRate int64) (int64, error) {
	var old int64
	err := tx.QueryRow(ctx, `SELECT value FROM settings WHERE key = 'exchange_rate' FOR UPDATE`).Scan(&old)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		old = DefaultRate
	case err != nil:
		return 0, fmt.Errorf("oracle: lock rate: %w", err)
	}

	const q = `
INSERT INTO settings (key, value) VALUES ('exchange_rate', $1)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`
	if _, err := tx.Exec(ctx, q, newRate); err != nil {
		return 0, fmt.Errorf("oracle: update rate: %w", err)
	}
	return old, nil
}
