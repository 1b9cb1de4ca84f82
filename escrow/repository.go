package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grievflow/bid"
	"grievflow/fault"
	"grievflow/grievance"
)

// ResolvedRow carries the grievance fields needed to pay out a release.
type ResolvedRow struct {
	LockedAmount int64
	ProviderID   string
	RequesterID  string
}

// Repository provides data access for escrow assignment and release.
type Repository interface {
	LockGrievance(ctx context.Context, tx pgx.Tx, grievanceID int64) (grievance.Grievance, error)
	GetBid(ctx context.Context, tx pgx.Tx, bidID int64) (bid.Bid, error)
	MarkAssigned(ctx context.Context, tx pgx.Tx, grievanceID int64, providerID string, amount int64) error
	UpsertAccount(ctx context.Context, tx pgx.Tx, grievanceID, amount int64) error
	MarkResolved(ctx context.Context, tx pgx.Tx, grievanceID int64) (ResolvedRow, error)
	ZeroAccount(ctx context.Context, tx pgx.Tx, grievanceID int64) (int64, error)
	GetAccount(ctx context.Context, grievanceID int64) (Account, error)
	FeeBasisPoints(ctx context.Context) (int64, error)
	UpdateFee(ctx context.Context, tx pgx.Tx, newFeeBasisPoints int64) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LockGrievance takes the per-aggregate row lock.
func (r *PGRepository) LockGrievance(ctx context.Context, tx pgx.Tx, grievanceID int64) (grievance.Grievance, error) {
	const q = `
SELECT id, requester_id::text, content_ref, status::text, assigned_provider_id::text, escrow_amount, live, created_at, updated_at
FROM grievances
WHERE id = $1
FOR UPDATE
`
	var (
		g        grievance.Grievance
		provider *string
	)
	err := tx.QueryRow(ctx, q, grievanceID).Scan(
		&g.ID,
		&g.RequesterID,
		&g.ContentRef,
		&g.Status,
		&provider,
		&g.EscrowAmount,
		&g.Live,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return grievance.Grievance{}, fmt.Errorf("escrow: grievance %d: %w", grievanceID, fault.ErrNotFound)
		}
		return grievance.Grievance{}, fmt.Errorf("escrow: lock grievance: %w", err)
	}
	g.AssignedProviderID = provider
	return g, nil
}

// GetBid reads the candidate winning bid inside the transaction.
func (r *PGRepository) GetBid(ctx context.Context, tx pgx.Tx, bidID int64) (bid.Bid, error) {
	const q = `
SELECT id, grievance_id, provider_id::text, amount_local, amount_settlement, rate_used, active, created_at
FROM bids
WHERE id = $1
`
	var b bid.Bid
	err := tx.QueryRow(ctx, q, bidID).Scan(
		&b.ID,
		&b.GrievanceID,
		&b.ProviderID,
		&b.AmountLocal,
		&b.AmountSettlement,
		&b.RateUsed,
		&b.Active,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bid.Bid{}, fmt.Errorf("escrow: bid %d: %w", bidID, fault.ErrNotFound)
		}
		return bid.Bid{}, fmt.Errorf("escrow: get bid: %w", err)
	}
	return b, nil
}

// MarkAssigned flips the grievance to assigned. The status predicate in
// the UPDATE is the final guard against a concurrent assigner; the caller
// holds the row lock so a zero row count means the status already moved.
func (r *PGRepository) MarkAssigned(ctx context.Context, tx pgx.Tx, grievanceID int64, providerID string, amount int64) error {
	const q = `
UPDATE grievances
SET status = 'assigned',
    assigned_provider_id = $2,
    escrow_amount = $3,
    updated_at = now()
WHERE id = $1 AND status = 'open'
`
	tag, err := tx.Exec(ctx, q, grievanceID, providerID, amount)
	if err != nil {
		return fmt.Errorf("escrow: mark assigned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow: grievance %d is no longer open: %w", grievanceID, fault.ErrState)
	}
	return nil
}

// UpsertAccount locks the settlement amount against the grievance.
func (r *PGRepository) UpsertAccount(ctx context.Context, tx pgx.Tx, grievanceID, amount int64) error {
	const q = `
INSERT INTO escrow_accounts (grievance_id, locked_amount)
VALUES ($1, $2)
ON CONFLICT (grievance_id) DO UPDATE SET locked_amount = EXCLUDED.locked_amount, updated_at = now()
`
	if _, err := tx.Exec(ctx, q, grievanceID, amount); err != nil {
		return fmt.Errorf("escrow: upsert account: %w", err)
	}
	return nil
}

// MarkResolved flips completed -> resolved and returns the payout fields.
// The status predicate makes the transition the single-release gate: a
// second release attempt sees zero rows.
func (r *PGRepository) MarkResolved(ctx context.Context, tx pgx.Tx, grievanceID int64) (ResolvedRow, error) {
	const q = `
UPDATE grievances
SET status = 'resolved',
    updated_at = now()
WHERE id = $1 AND status = 'completed'
RETURNING escrow_amount, assigned_provider_id::text, requester_id::text
`
	var row ResolvedRow
	err := tx.QueryRow(ctx, q, grievanceID).Scan(&row.LockedAmount, &row.ProviderID, &row.RequesterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResolvedRow{}, fmt.Errorf("escrow: grievance %d is not completed: %w", grievanceID, fault.ErrState)
		}
		return ResolvedRow{}, fmt.Errorf("escrow: mark resolved: %w", err)
	}
	return row, nil
}

// ZeroAccount empties the escrow account and returns the amount that was
// locked. The read takes its own row lock so the prior balance cannot
// move between the read and the update.
func (r *PGRepository) ZeroAccount(ctx context.Context, tx pgx.Tx, grievanceID int64) (int64, error) {
	var prev int64
	err := tx.QueryRow(ctx, `SELECT locked_amount FROM escrow_accounts WHERE grievance_id = $1 FOR UPDATE`, grievanceID).Scan(&prev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("escrow: account for grievance %d: %w", grievanceID, fault.ErrNotFound)
		}
		return 0, fmt.Errorf("escrow: read account: %w", err)
	}
	if prev <= 0 {
		return 0, fmt.Errorf("escrow: account for grievance %d already drained: %w", grievanceID, fault.ErrState)
	}
	if _, err := tx.Exec(ctx, `UPDATE escrow_accounts SET locked_amount = 0, updated_at = now() WHERE grievance_id = $1`, grievanceID); err != nil {
		return 0, fmt.Errorf("escrow: zero account: %w", err)
	}
	return prev, nil
}

// GetAccount reads the escrow account for reporting.
func (r *PGRepository) GetAccount(ctx context.Context, grievanceID int64) (Account, error) {
	const q = `SELECT grievance_id, locked_amount, updated_at FROM escrow_accounts WHERE grievance_id = $1`
	var a Account
	err := r.pool.QueryRow(ctx, q, grievanceID).Scan(&a.GrievanceID, &a.LockedAmount, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("escrow: account for grievance %d: %w", grievanceID, fault.ErrNotFound)
		}
		return Account{}, fmt.Errorf("escrow: get account: %w", err)
	}
	return a, nil
}

// FeeBasisPoints returns the configured platform fee.
func (r *PGRepository) FeeBasisPoints(ctx context.Context) (int64, error) {
	const q = `SELECT value FROM settings WHERE key = 'fee_bps'`
	var bps int64
	if err := r.pool.QueryRow(ctx, q).Scan(&bps); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultFeeBasisPoints, nil
		}
		return 0, fmt.Errorf("escrow: read fee: %w", err)
	}
	return bps, nil
}

// UpdateFee stores a new platform fee.
func (r *PGRepository) UpdateFee(ctx context.Context, tx pgx.Tx, newFeeBasisPoints int64) error {
	const q = `
INSERT INTO settings (key, value) VALUES ('fee_bps', $1)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`
	if _, err := tx.Exec(ctx, q, newFeeBasisPoints); err != nil {
		return fmt.Errorf("escrow: update fee: %w", err)
	}
	return nil
}
