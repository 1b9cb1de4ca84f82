package grievance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grievflow/fault"
)

// Repository provides data access for grievances.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, requesterID, contentRef string) (Grievance, error)
	Get(ctx context.Context, id int64) (Grievance, error)
	ListOpenIDs(ctx context.Context) ([]int64, error)
	CountsByStatus(ctx context.Context) (StatusCounts, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const grievanceColumns = `id, requester_id::text, content_ref, status::text, assigned_provider_id::text, escrow_amount, live, created_at, updated_at`

// Insert allocates the next grievance identity and creates the row in
// status open with liveness true.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, requesterID, contentRef string) (Grievance, error) {
	insertSQL := fmt.Sprintf(`
INSERT INTO grievances (requester_id, content_ref, status, live)
VALUES ($1, $2, 'open', true)
RETURNING %s
`, grievanceColumns)

	g, err := scanGrievance(tx.QueryRow(ctx, insertSQL, requesterID, contentRef))
	if err != nil {
		return Grievance{}, fmt.Errorf("grievance: insert: %w", err)
	}
	return g, nil
}

// Get fetches a grievance by identity.
func (r *PGRepository) Get(ctx context.Context, id int64) (Grievance, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM grievances WHERE id = $1`, grievanceColumns)

	g, err := scanGrievance(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Grievance{}, fmt.Errorf("grievance: id %d: %w", id, fault.ErrNotFound)
		}
		return Grievance{}, fmt.Errorf("grievance: get: %w", err)
	}
	return g, nil
}

// ListOpenIDs returns the identities of all live, non-resolved grievances
// in identity order. The result is a point-in-time snapshot.
func (r *PGRepository) ListOpenIDs(ctx context.Context) ([]int64, error) {
	const q = `
SELECT id FROM grievances
WHERE live AND status <> 'resolved'
ORDER BY id
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("grievance: list open: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 16)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("grievance: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("grievance: iterate ids: %w", err)
	}
	return ids, nil
}

// CountsByStatus tallies grievances per lifecycle state.
func (r *PGRepository) CountsByStatus(ctx context.Context) (StatusCounts, error) {
	const q = `SELECT status::text, COUNT(*) FROM grievances GROUP BY status`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("grievance: counts: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, fmt.Errorf("grievance: scan count: %w", err)
		}
		switch status {
		case StatusOpen:
			counts.Open = n
		case StatusAssigned:
			counts.Assigned = n
		case StatusCompleted:
			counts.Completed = n
		case StatusResolved:
			counts.Resolved = n
		}
	}
	if err := rows.Err(); err != nil {
		return StatusCounts{}, fmt.Errorf("grievance: iterate counts: %w", err)
	}
	return counts, nil
}

func scanGrievance(row pgx.Row) (Grievance, error) {
	var (
		g        Grievance
		provider *string
	)
	err := row.Scan(
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
		return Grievance{}, err
	}
	g.AssignedProviderID = provider
	return g, nil
}
