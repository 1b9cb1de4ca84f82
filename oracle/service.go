package oracle

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"grievflow/eventlog"
	"grievflow/fault"
	"grievflow/role"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CapabilityChecker gates administrative operations.
type CapabilityChecker interface {
	Require(ctx context.Context, userID string, cap role.Capability) error
}

// OutboxWriter publishes rate-change notifications transactionally.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service converts between the local currency and the settlement currency
// using a single administrator-settable rate. Conversions are fixed-point
// integer math; a bid's converted amount is frozen by the caller at
// submission time and never re-quoted here.
type Service struct {
	pool   TxBeginner
	repo   Repository
	roles  CapabilityChecker
	outbox OutboxWriter
}

func NewService(pool TxBeginner, repo Repository, roles CapabilityChecker, outbox OutboxWriter) *Service {
	return &Service{pool: pool, repo: repo, roles: roles, outbox: outbox}
}

// Convert turns amountLocal into settlement smallest units at the current
// rate and returns both the converted amount and the rate used.
func (s *Service) Convert(ctx context.Context, amountLocal int64) (int64, int64, error) {
	if amountLocal <= 0 {
		return 0, 0, fmt.Errorf("oracle: amount must be positive: %w", fault.ErrValidation)
	}

	rate, err := s.repo.Rate(ctx)
	if err != nil {
		return 0, 0, err
	}

	settlement, err := ConvertAt(amountLocal, rate)
	if err != nil {
		return 0, 0, err
	}
	return settlement, rate, nil
}

// ConvertAt computes amountLocal * UnitScale / rate without floating point.
func ConvertAt(amountLocal, rate int64) (int64, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("oracle: non-positive rate %d: %w", rate, fault.ErrArithmetic)
	}
	if amountLocal > math.MaxInt64/UnitScale {
		return 0, fmt.Errorf("oracle: conversion overflow for %d: %w", amountLocal, fault.ErrArithmetic)
	}
	return amountLocal * UnitScale / rate, nil
}

// InvertAt converts a settlement amount back to local units at the given
// rate. The round trip through ConvertAt loses at most one smallest
// settlement unit to integer truncation.
func InvertAt(amountSettlement, rate int64) (int64, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("oracle: non-positive rate %d: %w", rate, fault.ErrArithmetic)
	}
	if amountSettlement > math.MaxInt64/rate {
		return 0, fmt.Errorf("oracle: inversion overflow for %d: %w", amountSettlement, fault.ErrArithmetic)
	}
	return amountSettlement * rate / UnitScale, nil
}

// SetRate updates the exchange rate and returns the rate it replaced.
// Requires the administrator capability and a positive rate; no staleness
// or bounds checks beyond positivity are applied. Publishes an
// oracle.rate_updated outbox message carrying the old and new values in
// the same transaction.
func (s *Service) SetRate(ctx context.Context, newRate int64, callerID string) (int64, error) {
	if err := s.roles.Require(ctx, callerID, role.CapAdministrator); err != nil {
		return 0, err
	}
	if newRate <= 0 {
		return 0, fmt.Errorf("oracle: rate must be positive: %w", fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("oracle: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	old, err := s.repo.UpdateRate(ctx, tx, newRate)
	if err != nil {
		return 0, err
	}

	if err := s.outbox.Enqueue(ctx, tx, eventlog.TopicExchangeRate, map[string]any{
		"old_rate": old,
		"new_rate": newRate,
		"actor_id": callerID,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("oracle: commit rate update: %w", err)
	}
	return old, nil
}
