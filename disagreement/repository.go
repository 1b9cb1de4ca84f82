package disagreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grievflow/fault"
	"grievflow/grievance"
)

type Repository interface {
	GetGrievance(ctx context.Context, tx pgx.Tx, id int64) (grievance.Grievance, error)
	Insert(ctx context.Context, tx pgx.Tx, grievanceID int64, authorID, body string) (Note, error)
	ListForGrievance(ctx context.Context, grievanceID int64) ([]Note, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) GetGrievance(ctx context.Context, tx pgx.Tx, id int64) (grievance.Grievance, error) {
	const q = `
		SELECT id, requester_id, status::text, assigned_provider_id
		FROM grievances
		WHERE id = $1 AND live
	`
	var g grievance.Grievance
	err := tx.QueryRow(ctx, q, id).Scan(&g.ID, &g.RequesterID, &g.Status, &g.AssignedProviderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return grievance.Grievance{}, fmt.Errorf("disagreement: grievance %d: %w", id, fault.ErrNotFound)
	}
	if err != nil {
		return grievance.Grievance{}, fmt.Errorf("disagreement: fetch grievance %d: %w", id, err)
	}
	return g, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, grievanceID int64, authorID, body string) (Note, error) {
	const q = `
		INSERT INTO disagreements (grievance_id, author_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, grievance_id, author_id, body, created_at
	`
	var n Note
	err := tx.QueryRow(ctx, q, grievanceID, authorID, body).
		Scan(&n.ID, &n.GrievanceID, &n.AuthorID, &n.Body, &n.CreatedAt)
	if err != nil {
		return Note{}, fmt.Errorf("disagreement: insert: %w", err)
	}
	return n, nil
}

func (r *PGRepository) ListForGrievance(ctx context.Context, grievanceID int64) ([]Note, error) {
	const q = `
		SELECT id, grievance_id, author_id, body, created_at
		FROM disagreements
		WHERE grievance_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, q, grievanceID)
	if err != nil {
		return nil, fmt.Errorf("disagreement: list: %w", err)
	}
	defer rows.Close()

	out := make([]Note, 0, 8)
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.GrievanceID, &n.AuthorID, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("disagreement: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disagreement: iterate: %w", err)
	}
	return out, nil
}
