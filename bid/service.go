package bid

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"grievflow/eventlog"
	"grievflow/fault"
	"grievflow/grievance"
	"grievflow/role"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CapabilityChecker gates bid submission on the provider capability.
type CapabilityChecker interface {
	Require(ctx context.Context, userID string, cap role.Capability) error
}

// Converter quotes a local amount in settlement units at the current
// oracle rate.
type Converter interface {
	Convert(ctx context.Context, amountLocal int64) (settlement int64, rate int64, err error)
}

// Service owns the bid ledger.
type Service struct {
	pool      TxBeginner
	repo      Repository
	roles     CapabilityChecker
	converter Converter
	events    eventlog.Writer
}

func NewService(pool TxBeginner, repo Repository, roles CapabilityChecker, converter Converter, events eventlog.Writer) *Service {
	return &Service{pool: pool, repo: repo, roles: roles, converter: converter, events: events}
}

// Submit records a provider's bid against an open grievance. The
// settlement amount is quoted once here and frozen on the bid.
func (s *Service) Submit(ctx context.Context, grievanceID int64, providerID string, amountLocal int64) (int64, error) {
	if err := s.roles.Require(ctx, providerID, role.CapProvider); err != nil {
		return 0, err
	}
	if amountLocal <= 0 {
		return 0, fmt.Errorf("bid: amount must be positive: %w", fault.ErrValidation)
	}

	settlement, rate, err := s.converter.Convert(ctx, amountLocal)
	if err != nil {
		return 0, err
	}
	if settlement <= 0 {
		return 0, fmt.Errorf("bid: amount too small to settle: %w", fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := s.repo.LockGrievance(ctx, tx, grievanceID)
	if err != nil {
		return 0, err
	}
	if g.Status != grievance.StatusOpen {
		return 0, fmt.Errorf("bid: grievance %d is %s, not open: %w", grievanceID, g.Status, fault.ErrState)
	}

	b, err := s.repo.Insert(ctx, tx, InsertParams{
		GrievanceID:      grievanceID,
		ProviderID:       providerID,
		AmountLocal:      amountLocal,
		AmountSettlement: settlement,
		RateUsed:         rate,
	})
	if err != nil {
		return 0, err
	}

	payload := map[string]any{
		"bid_id":            b.ID,
		"provider_id":       providerID,
		"amount_local":      amountLocal,
		"amount_settlement": settlement,
		"rate_used":         rate,
	}
	if err := s.events.Append(ctx, tx, grievanceID, eventlog.EventBidSubmitted, providerID, payload); err != nil {
		return 0, err
	}
	if err := s.events.Enqueue(ctx, tx, eventlog.TopicBidSubmitted, map[string]any{
		"grievance_id": grievanceID,
		"bid_id":       b.ID,
		"provider_id":  providerID,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("bid: commit submit: %w", err)
	}
	return b.ID, nil
}

// Get returns the bid for the identity or fault.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (Bid, error) {
	return s.repo.Get(ctx, id)
}

// ListForGrievance returns all bids filed against the grievance in
// identity order.
func (s *Service) ListForGrievance(ctx context.Context, grievanceID int64) ([]Bid, error) {
	return s.repo.ListForGrievance(ctx, grievanceID)
}
