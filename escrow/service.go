package escrow

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

// CapabilityChecker gates assignment and fee administration.
type CapabilityChecker interface {
	Require(ctx context.Context, userID string, cap role.Capability) error
}

// Service owns locked settlement funds per grievance: it locks funds at
// assignment and performs the fee-split payout at release.
type Service struct {
	pool     TxBeginner
	repo     Repository
	roles    CapabilityChecker
	treasury Transferor
	events   eventlog.Writer
}

func NewService(pool TxBeginner, repo Repository, roles CapabilityChecker, treasury Transferor, events eventlog.Writer) *Service {
	return &Service{pool: pool, repo: repo, roles: roles, treasury: treasury, events: events}
}

// Assign selects the winning bid and locks exactly its frozen settlement
// amount in escrow. The open->assigned transition under the row lock is
// the mutual-exclusion gate: of N concurrent assigners exactly one
// succeeds and the rest observe a non-open status.
func (s *Service) Assign(ctx context.Context, grievanceID, winningBidID, suppliedFunds int64, assignerID string) error {
	if err := s.roles.Require(ctx, assignerID, role.CapAssigner); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := s.repo.LockGrievance(ctx, tx, grievanceID)
	if err != nil {
		return err
	}
	if g.Status != grievance.StatusOpen {
		return fmt.Errorf("escrow: grievance %d is %s, not open: %w", grievanceID, g.Status, fault.ErrState)
	}

	b, err := s.repo.GetBid(ctx, tx, winningBidID)
	if err != nil {
		return err
	}
	if b.GrievanceID != grievanceID {
		return fmt.Errorf("escrow: bid %d does not belong to grievance %d: %w", winningBidID, grievanceID, fault.ErrNotFound)
	}
	if !b.Active {
		return fmt.Errorf("escrow: bid %d is inactive: %w", winningBidID, fault.ErrNotFound)
	}
	// Exact match only: partial or excess funding is rejected rather
	// than refunded.
	if suppliedFunds != b.AmountSettlement {
		return fmt.Errorf("escrow: supplied %d does not match bid settlement %d: %w", suppliedFunds, b.AmountSettlement, fault.ErrArithmetic)
	}

	if err := s.repo.MarkAssigned(ctx, tx, grievanceID, b.ProviderID, b.AmountSettlement); err != nil {
		return err
	}
	if err := s.repo.UpsertAccount(ctx, tx, grievanceID, b.AmountSettlement); err != nil {
		return err
	}

	payload := map[string]any{
		"bid_id":        winningBidID,
		"provider_id":   b.ProviderID,
		"escrow_amount": b.AmountSettlement,
		"assigner_id":   assignerID,
	}
	if err := s.events.Append(ctx, tx, grievanceID, eventlog.EventTaskAssigned, assignerID, payload); err != nil {
		return err
	}
	if err := s.events.Enqueue(ctx, tx, eventlog.TopicTaskAssigned, map[string]any{
		"grievance_id":  grievanceID,
		"bid_id":        winningBidID,
		"provider_id":   b.ProviderID,
		"escrow_amount": b.AmountSettlement,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit assignment: %w", err)
	}
	return nil
}

// Release pays out a completed grievance inside the caller's transaction.
// Invoked only by the completion protocol once both confirmations are
// present. The completed->resolved transition and the account zeroing
// happen before the transfer legs within the same transaction, so a
// failed leg rolls everything back and a retry cannot double-pay.
func (s *Service) Release(ctx context.Context, tx pgx.Tx, grievanceID int64, actorID string) (Split, error) {
	row, err := s.repo.MarkResolved(ctx, tx, grievanceID)
	if err != nil {
		return Split{}, err
	}
	if row.LockedAmount <= 0 {
		return Split{}, fmt.Errorf("escrow: grievance %d has no locked funds: %w", grievanceID, fault.ErrState)
	}
	if row.ProviderID == "" {
		return Split{}, fmt.Errorf("escrow: grievance %d has no assigned provider: %w", grievanceID, fault.ErrState)
	}

	drained, err := s.repo.ZeroAccount(ctx, tx, grievanceID)
	if err != nil {
		return Split{}, err
	}
	if drained != row.LockedAmount {
		return Split{}, fmt.Errorf("escrow: account balance %d diverged from locked amount %d: %w", drained, row.LockedAmount, fault.ErrArithmetic)
	}

	feeBps, err := s.repo.FeeBasisPoints(ctx)
	if err != nil {
		return Split{}, err
	}
	split := FeeSplit(row.LockedAmount, feeBps)

	if err := s.treasury.Credit(ctx, tx, row.ProviderID, grievanceID, split.WorkerPayment, TransferKindWorkerPayment); err != nil {
		return Split{}, err
	}
	if err := s.treasury.Credit(ctx, tx, FeeCollectorAccount, grievanceID, split.PlatformFee, TransferKindPlatformFee); err != nil {
		return Split{}, err
	}

	payload := map[string]any{
		"worker_payment": split.WorkerPayment,
		"platform_fee":   split.PlatformFee,
		"provider_id":    row.ProviderID,
	}
	if err := s.events.Append(ctx, tx, grievanceID, eventlog.EventFundsReleased, actorID, payload); err != nil {
		return Split{}, err
	}
	if err := s.events.Enqueue(ctx, tx, eventlog.TopicFundsReleased, map[string]any{
		"grievance_id":   grievanceID,
		"worker_payment": split.WorkerPayment,
		"platform_fee":   split.PlatformFee,
		"provider_id":    row.ProviderID,
	}); err != nil {
		return Split{}, err
	}

	return split, nil
}

// SetFee updates the platform fee in basis points, capped at 10%.
func (s *Service) SetFee(ctx context.Context, newFeeBasisPoints int64, callerID string) error {
	if err := s.roles.Require(ctx, callerID, role.CapAdministrator); err != nil {
		return err
	}
	if newFeeBasisPoints < 0 {
		return fmt.Errorf("escrow: negative fee: %w", fault.ErrValidation)
	}
	if newFeeBasisPoints > FeeCapBasisPoints {
		return fmt.Errorf("escrow: fee %d exceeds %d bps cap: %w", newFeeBasisPoints, FeeCapBasisPoints, fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.UpdateFee(ctx, tx, newFeeBasisPoints); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit fee update: %w", err)
	}
	return nil
}

// Account reads the escrow account for a grievance.
func (s *Service) Account(ctx context.Context, grievanceID int64) (Account, error) {
	return s.repo.GetAccount(ctx, grievanceID)
}
