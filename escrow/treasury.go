package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grievflow/fault"
)

// Transferor moves settlement funds to an account as part of a release
// transaction. Implementations must be transactional with the caller: a
// returned error aborts the whole release.
type Transferor interface {
	Credit(ctx context.Context, tx pgx.Tx, account string, grievanceID, amount int64, kind string) error
}

// Transfer kinds recorded in the ledger.
const (
	TransferKindWorkerPayment = "worker_payment"
	TransferKindPlatformFee   = "platform_fee"
)

// Ledger is the internal double-entry treasury: every credit appends a
// transfers row and bumps the account balance in the same transaction.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Credit applies a payout leg inside the caller's transaction.
func (l *Ledger) Credit(ctx context.Context, tx pgx.Tx, account string, grievanceID, amount int64, kind string) error {
	if amount < 0 {
		return fmt.Errorf("escrow: negative credit %d to %s: %w", amount, account, fault.ErrTransfer)
	}
	if amount == 0 {
		return nil
	}

	const insertTransfer = `
INSERT INTO transfers (grievance_id, account, amount, kind)
VALUES ($1, $2, $3, $4)
`
	if _, err := tx.Exec(ctx, insertTransfer, grievanceID, account, amount, kind); err != nil {
		return fmt.Errorf("escrow: record transfer to %s: %w: %w", account, err, fault.ErrTransfer)
	}

	const upsertBalance = `
INSERT INTO balances (account, amount)
VALUES ($1, $2)
ON CONFLICT (account) DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
`
	if _, err := tx.Exec(ctx, upsertBalance, account, amount); err != nil {
		return fmt.Errorf("escrow: credit %s: %w: %w", account, err, fault.ErrTransfer)
	}
	return nil
}

// Balance reads an account's settled balance.
func (l *Ledger) Balance(ctx context.Context, account string) (int64, error) {
	const q = `SELECT amount FROM balances WHERE account = $1`
	var amount int64
	if err := l.pool.QueryRow(ctx, q, account).Scan(&amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("escrow: read balance: %w", err)
	}
	return amount, nil
}
