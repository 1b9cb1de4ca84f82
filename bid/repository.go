package bid

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grievflow/fault"
	"grievflow/grievance"
)

// InsertParams enumerates the fields written for a new bid.
type InsertParams struct {
	GrievanceID      int64
	ProviderID       string
	AmountLocal      int64
	AmountSettlement int64
	RateUsed         int64
}

// Repository provides data access for bids.
type Repository interface {
	LockGrievance(ctx context.Context, tx pgx.Tx, grievanceID int64) (grievance.Grievance, error)
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Bid, error)
	Get(ctx context.Context, id int64) (Bid, error)
	ListForGrievance(ctx context.Context, grievanceID int64) ([]Bid, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const bidColumns = `id, grievance_id, provider_id::text, amount_local, amount_settlement, rate_used, active, created_at`

// LockGrievance takes the row lock that serializes all mutations of the
// grievance aggregate for the duration of the transaction.
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
			return grievance.Grievance{}, fmt.Errorf("bid: grievance %d: %w", grievanceID, fault.ErrNotFound)
		}
		return grievance.Grievance{}, fmt.Errorf("bid: lock grievance: %w", err)
	}
	g.AssignedProviderID = provider
	return g, nil
}

// Insert appends a new bid under the caller's transaction.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Bid, error) {
	insertSQL := fmt.Sprintf(`
INSERT INTO bids (grievance_id, provider_id, amount_local, amount_settlement, rate_used, active)
VALUES ($1, $2, $3, $4, $5, true)
RETURNING %s
`, bidColumns)

	b, err := scanBid(tx.QueryRow(ctx, insertSQL,
		params.GrievanceID,
		params.ProviderID,
		params.AmountLocal,
		params.AmountSettlement,
		params.RateUsed,
	))
	if err != nil {
		return Bid{}, fmt.Errorf("bid: insert: %w", err)
	}
	return b, nil
}

// Get fetches a bid by identity.
func (r *PGRepository) Get(ctx context.Context, id int64) (Bid, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM bids WHERE id = $1`, bidColumns)

	b, err := scanBid(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, fmt.Errorf("bid: id %d: %w", id, fault.ErrNotFound)
		}
		return Bid{}, fmt.Errorf("bid: get: %w", err)
	}
	return b, nil
}

// ListForGrievance returns the grievance's bids in identity order.
func (r *PGRepository) ListForGrievance(ctx context.Context, grievanceID int64) ([]Bid, error) {
	listSQL := fmt.Sprintf(`SELECT %s FROM bids WHERE grievance_id = $1 ORDER BY id`, bidColumns)

	rows, err := r.pool.Query(ctx, listSQL, grievanceID)
	if err != nil {
		return nil, fmt.Errorf("bid: list: %w", err)
	}
	defer rows.Close()

	bids := make([]Bid, 0, 8)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("bid: scan: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid: iterate: %w", err)
	}
	return bids, nil
}

func scanBid(row pgx.Row) (Bid, error) {
	var b Bid
	err := row.Scan(
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
		return Bid{}, err
	}
	return b, nil
}
