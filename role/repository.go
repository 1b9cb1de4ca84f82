package role

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists capability grants.
type Repository interface {
	Has(ctx context.Context, userID string, cap Capability) (bool, error)
	Insert(ctx context.Context, userID string, cap Capability, grantedBy string) error
	ListForUser(ctx context.Context, userID string) ([]Capability, error)
}

// PGRepository implements Repository backed by PostgreSQL. The grants table
// is append-only in the core path; revocation is an administrative concern
// outside this service.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Has(ctx context.Context, userID string, cap Capability) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM role_grants WHERE user_id = $1 AND capability = $2::capability)`
	var ok bool
	if err := r.pool.QueryRow(ctx, q, userID, cap).Scan(&ok); err != nil {
		return false, fmt.Errorf("role: check capability: %w", err)
	}
	return ok, nil
}

func (r *PGRepository) Insert(ctx context.Context, userID string, cap Capability, grantedBy string) error {
	const q = `
INSERT INTO role_grants (user_id, capability, granted_by)
VALUES ($1, $2::capability, $3)
ON CONFLICT (user_id, capability) DO NOTHING
`
	if _, err := r.pool.Exec(ctx, q, userID, cap, grantedBy); err != nil {
		return fmt.Errorf("role: insert grant: %w", err)
	}
	return nil
}

func (r *PGRepository) ListForUser(ctx context.Context, userID string) ([]Capability, error) {
	const q = `SELECT capability::text FROM role_grants WHERE user_id = $1 ORDER BY capability`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("role: list grants: %w", err)
	}
	defer rows.Close()

	caps := make([]Capability, 0, 3)
	for rows.Next() {
		var c Capability
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("role: scan grant: %w", err)
		}
		caps = append(caps, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("role: iterate grants: %w", err)
	}
	return caps, nil
}
