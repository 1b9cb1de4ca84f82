package grievance

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"grievflow/eventlog"
	"grievflow/fault"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service owns grievance identity and lifecycle reads. Status mutations
// past open belong to the escrow and completion services, which operate
// on the same rows under their own transactions.
type Service struct {
	pool   TxBeginner
	repo   Repository
	events eventlog.Writer
}

func NewService(pool TxBeginner, repo Repository, events eventlog.Writer) *Service {
	return &Service{pool: pool, repo: repo, events: events}
}

// Submit files a new grievance and returns its identity. The content
// reference is required but never inspected.
func (s *Service) Submit(ctx context.Context, requesterID, contentRef string) (int64, error) {
	if requesterID == "" {
		return 0, fmt.Errorf("grievance: missing requester id: %w", fault.ErrValidation)
	}
	if strings.TrimSpace(contentRef) == "" {
		return 0, fmt.Errorf("grievance: missing content ref: %w", fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("grievance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := s.repo.Insert(ctx, tx, requesterID, contentRef)
	if err != nil {
		return 0, err
	}

	payload := map[string]any{
		"requester_id": requesterID,
		"content_ref":  contentRef,
	}
	if err := s.events.Append(ctx, tx, g.ID, eventlog.EventGrievanceSubmitted, requesterID, payload); err != nil {
		return 0, err
	}
	if err := s.events.Enqueue(ctx, tx, eventlog.TopicGrievanceSubmitted, map[string]any{
		"grievance_id": g.ID,
		"requester_id": requesterID,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("grievance: commit submit: %w", err)
	}
	return g.ID, nil
}

// Get returns the grievance for the identity or fault.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (Grievance, error) {
	return s.repo.Get(ctx, id)
}

// ListOpen returns all live, non-resolved grievance identities in
// identity order.
func (s *Service) ListOpen(ctx context.Context) ([]int64, error) {
	return s.repo.ListOpenIDs(ctx)
}

// DashboardCounts reports per-status grievance counts for external
// reporting.
func (s *Service) DashboardCounts(ctx context.Context) (StatusCounts, error) {
	return s.repo.CountsByStatus(ctx)
}
