package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"grievflow/escrow"
	"grievflow/eventlog"
	"grievflow/fault"
	"grievflow/grievance"
	"grievflow/role"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CapabilityChecker gates the assigner-side confirmation.
type CapabilityChecker interface {
	Require(ctx context.Context, userID string, cap role.Capability) error
}

// Releaser pays out the escrow inside the confirmation transaction.
type Releaser interface {
	Release(ctx context.Context, tx pgx.Tx, grievanceID int64, actorID string) (escrow.Split, error)
}

// Service owns the two-party confirmation handshake that authorizes the
// escrow release. The requester and the assigner confirm independently;
// whichever confirmation lands second triggers the release in its own
// transaction, and the completed->resolved gate inside the release keeps
// it single-fire under any interleaving.
type Service struct {
	pool     TxBeginner
	repo     Repository
	roles    CapabilityChecker
	releaser Releaser
	events   eventlog.Writer
}

func NewService(pool TxBeginner, repo Repository, roles CapabilityChecker, releaser Releaser, events eventlog.Writer) *Service {
	return &Service{pool: pool, repo: repo, roles: roles, releaser: releaser, events: events}
}

// SubmitProof records the assigned provider's completion proof and moves
// the grievance to completed.
func (s *Service) SubmitProof(ctx context.Context, grievanceID int64, providerID, proofRef string) error {
	if strings.TrimSpace(proofRef) == "" {
		return fmt.Errorf("completion: missing proof ref: %w", fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("completion: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := s.repo.LockGrievance(ctx, tx, grievanceID)
	if err != nil {
		return err
	}
	if g.Status != grievance.StatusAssigned {
		return fmt.Errorf("completion: grievance %d is %s, not assigned: %w", grievanceID, g.Status, fault.ErrState)
	}
	if g.AssignedProviderID == nil || *g.AssignedProviderID != providerID {
		return fmt.Errorf("completion: %s is not the assigned provider: %w", providerID, fault.ErrUnauthorized)
	}

	if err := s.repo.InsertRecord(ctx, tx, grievanceID, providerID, proofRef); err != nil {
		return err
	}
	if err := s.repo.MarkCompleted(ctx, tx, grievanceID); err != nil {
		return err
	}

	payload := map[string]any{
		"provider_id": providerID,
		"proof_ref":   proofRef,
	}
	if err := s.events.Append(ctx, tx, grievanceID, eventlog.EventTaskCompleted, providerID, payload); err != nil {
		return err
	}
	if err := s.events.Enqueue(ctx, tx, eventlog.TopicTaskCompleted, map[string]any{
		"grievance_id": grievanceID,
		"provider_id":  providerID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("completion: commit proof: %w", err)
	}
	return nil
}

// ConfirmAsRequester records the requester's confirmation. Reports
// whether this call fired the release.
func (s *Service) ConfirmAsRequester(ctx context.Context, grievanceID int64, callerID string) (bool, error) {
	return s.confirm(ctx, grievanceID, callerID, SideRequester)
}

// ConfirmAsAssigner records the assigner-side confirmation. Reports
// whether this call fired the release.
func (s *Service) ConfirmAsAssigner(ctx context.Context, grievanceID int64, callerID string) (bool, error) {
	return s.confirm(ctx, grievanceID, callerID, SideAssigner)
}

func (s *Service) confirm(ctx context.Context, grievanceID int64, callerID string, side Side) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("completion: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := s.repo.LockGrievance(ctx, tx, grievanceID)
	if err != nil {
		return false, err
	}

	// Confirming after resolution is a duplicate of an already-counted
	// confirmation: a no-op success, never a second release.
	if g.Status == grievance.StatusResolved {
		return false, nil
	}
	if g.Status != grievance.StatusCompleted {
		return false, fmt.Errorf("completion: grievance %d is %s, not completed: %w", grievanceID, g.Status, fault.ErrState)
	}

	if err := s.authorize(ctx, g, callerID, side); err != nil {
		return false, err
	}

	rec, err := s.repo.GetRecordLocked(ctx, tx, grievanceID)
	if err != nil {
		return false, err
	}

	already := rec.RequesterConfirmed
	other := rec.AssignerConfirmed
	if side == SideAssigner {
		already = rec.AssignerConfirmed
		other = rec.RequesterConfirmed
	}
	if already {
		// Repeat call from the same side: no-op success.
		return false, nil
	}

	if err := s.repo.SetConfirmed(ctx, tx, grievanceID, side); err != nil {
		return false, err
	}

	released := false
	if other {
		if _, err := s.releaser.Release(ctx, tx, grievanceID, callerID); err != nil {
			return false, err
		}
		released = true
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("completion: commit confirmation: %w", err)
	}
	return released, nil
}

func (s *Service) authorize(ctx context.Context, g grievance.Grievance, callerID string, side Side) error {
	switch side {
	case SideRequester:
		if callerID != g.RequesterID {
			return fmt.Errorf("completion: %s is not the requester: %w", callerID, fault.ErrUnauthorized)
		}
		return nil
	case SideAssigner:
		return s.roles.Require(ctx, callerID, role.CapAssigner)
	default:
		return fmt.Errorf("completion: unknown side %q: %w", side, fault.ErrValidation)
	}
}

// Get returns the completion record for a grievance.
func (s *Service) Get(ctx context.Context, grievanceID int64) (Record, error) {
	return s.repo.Get(ctx, grievanceID)
}
