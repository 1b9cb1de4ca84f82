package disagreement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"grievflow/eventlog"
	"grievflow/fault"
	"grievflow/grievance"
	"grievflow/role"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type CapabilityChecker interface {
	Require(ctx context.Context, userID string, cap role.Capability) error
}

type Service struct {
	pool   TxBeginner
	repo   Repository
	roles  CapabilityChecker
	events eventlog.Writer
}

func NewService(pool TxBeginner, repo Repository, roles CapabilityChecker, events eventlog.Writer) *Service {
	return &Service{pool: pool, repo: repo, roles: roles, events: events}
}

// Record appends a disagreement note while a completion claim is
// pending confirmation. It never moves the grievance status and never
// touches escrow; confirmation remains the only path forward.
func (s *Service) Record(ctx context.Context, grievanceID int64, authorID, body string) (Note, error) {
	if strings.TrimSpace(body) == "" {
		return Note{}, fmt.Errorf("disagreement: empty note: %w", fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Note{}, fmt.Errorf("disagreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := s.repo.GetGrievance(ctx, tx, grievanceID)
	if err != nil {
		return Note{}, err
	}
	if g.Status != grievance.StatusCompleted {
		return Note{}, fmt.Errorf("disagreement: grievance %d is not awaiting confirmation: %w", grievanceID, fault.ErrState)
	}
	if err := s.authorize(ctx, g, authorID); err != nil {
		return Note{}, err
	}

	note, err := s.repo.Insert(ctx, tx, grievanceID, authorID, body)
	if err != nil {
		return Note{}, err
	}
	err = s.events.Append(ctx, tx, grievanceID, eventlog.EventDisagreementRecorded, authorID, map[string]any{
		"note_id": note.ID,
	})
	if err != nil {
		return Note{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Note{}, fmt.Errorf("disagreement: commit: %w", err)
	}
	return note, nil
}

func (s *Service) List(ctx context.Context, grievanceID int64) ([]Note, error) {
	return s.repo.ListForGrievance(ctx, grievanceID)
}

// authorize admits the three parties to the completion: the requester,
// the assigned provider, and any assigner.
func (s *Service) authorize(ctx context.Context, g grievance.Grievance, authorID string) error {
	if authorID == g.RequesterID {
		return nil
	}
	if g.AssignedProviderID != nil && authorID == *g.AssignedProviderID {
		return nil
	}
	err := s.roles.Require(ctx, authorID, role.CapAssigner)
	if err == nil {
		return nil
	}
	if errors.Is(err, fault.ErrUnauthorized) {
		return fmt.Errorf("disagreement: %s is not a party to grievance %d: %w", authorID, g.ID, fault.ErrUnauthorized)
	}
	return err
}
