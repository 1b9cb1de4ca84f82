package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grievflow/fault"
	"grievflow/grievance"
)

// Repository provides data access for completion records.
type Repository interface {
	LockGrievance(ctx context.Context, tx pgx.Tx, grievanceID int64) (grievance.Grievance, error)
	InsertRecord(ctx context.Context, tx pgx.Tx, grievanceID int64, providerID, proofRef string) error
	MarkCompleted(ctx context.Context, tx pgx.Tx, grievanceID int64) error
	GetRecordLocked(ctx context.Context, tx pgx.Tx, grievanceID int64) (Record, error)
	SetConfirmed(ctx context.Context, tx pgx.Tx, grievanceID int64, side Side) error
	Get(ctx context.Context, grievanceID int64) (Record, error)
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
			return grievance.Grievance{}, fmt.Errorf("completion: grievance %d: %w", grievanceID, fault.ErrNotFound)
		}
		return grievance.Grievance{}, fmt.Errorf("completion: lock grievance: %w", err)
	}
	g.AssignedProviderID = provider
	return g, nil
}

// InsertRecord creates the completion record with both confirmations
// unset.
func (r *PGRepository) InsertRecord(ctx context.Context, tx pgx.Tx, grievanceID int64, providerID, proofRef string) error {
	const q = `
INSERT INTO completion_records (grievance_id, provider_id, proof_ref)
VALUES ($1, $2, $3)
`
	if _, err := tx.Exec(ctx, q, grievanceID, providerID, proofRef); err != nil {
		return fmt.Errorf("completion: insert record: %w", err)
	}
	return nil
}

// MarkCompleted flips assigned -> completed under the held row lock.
func (r *PGRepository) MarkCompleted(ctx context.Context, tx pgx.Tx, grievanceID int64) error {
	const q = `
UPDATE grievances
SET status = 'completed',
    updated_at = now()
WHERE id = $1 AND status = 'assigned'
`
	tag, err := tx.Exec(ctx, q, grievanceID)
	if err != nil {
		return fmt.Errorf("completion: mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("completion: grievance %d is not assigned: %w", grievanceID, fault.ErrState)
	}
	return nil
}

// GetRecordLocked reads the completion record under FOR UPDATE.
func (r *PGRepository) GetRecordLocked(ctx context.Context, tx pgx.Tx, grievanceID int64) (Record, error) {
	const q = `
SELECT grievance_id, provider_id::text, proof_ref, requester_confirmed, assigner_confirmed, submitted_at, updated_at
FROM completion_records
WHERE grievance_id = $1
FOR UPDATE
`
	rec, err := scanRecord(tx.QueryRow(ctx, q, grievanceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("completion: record for grievance %d: %w", grievanceID, fault.ErrNotFound)
		}
		return Record{}, fmt.Errorf("completion: lock record: %w", err)
	}
	return rec, nil
}

// SetConfirmed raises one side's confirmation flag.
func (r *PGRepository) SetConfirmed(ctx context.Context, tx pgx.Tx, grievanceID int64, side Side) error {
	var q string
	switch side {
	case SideRequester:
		q = `UPDATE completion_records SET requester_confirmed = true, updated_at = now() WHERE grievance_id = $1`
	case SideAssigner:
		q = `UPDATE completion_records SET assigner_confirmed = true, updated_at = now() WHERE grievance_id = $1`
	default:
		return fmt.Errorf("completion: unknown side %q: %w", side, fault.ErrValidation)
	}
	if _, err := tx.Exec(ctx, q, grievanceID); err != nil {
		return fmt.Errorf("completion: set %s confirmation: %w", side, err)
	}
	return nil
}

// Get reads the completion record outside any transaction.
func (r *PGRepository) Get(ctx context.Context, grievanceID int64) (Record, error) {
	const q = `
SELECT grievance_id, provider_id::text, proof_ref, requester_confirmed, assigner_confirmed, submitted_at, updated_at
FROM completion_records
WHERE grievance_id = $1
`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, grievanceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("completion: record for grievance %d: %w", grievanceID, fault.ErrNotFound)
		}
		return Record{}, fmt.Errorf("completion: get record: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.GrievanceID,
		&rec.ProviderID,
		&rec.ProofRef,
		&rec.RequesterConfirmed,
		&rec.AssignerConfirmed,
		&rec.SubmittedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
