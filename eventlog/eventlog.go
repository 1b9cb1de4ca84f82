// Package eventlog provides the transactional timeline and outbox writers
// shared by the domain packages. Both writes happen inside the caller's
// transaction so observers never see an event for a mutation that did not
// commit.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Timeline event types recorded against a grievance.
const (
	EventGrievanceSubmitted   = "GRIEVANCE_SUBMITTED"
	EventBidSubmitted         = "BID_SUBMITTED"
	EventTaskAssigned         = "TASK_ASSIGNED"
	EventTaskCompleted        = "TASK_COMPLETED"
	EventFundsReleased        = "FUNDS_RELEASED"
	EventExchangeRateUpdated  = "EXCHANGE_RATE_UPDATED"
	EventDisagreementRecorded = "DISAGREEMENT_RECORDED"
)

// Outbox topics published for external collaborators.
const (
	TopicGrievanceSubmitted = "grievance.submitted"
	TopicBidSubmitted       = "grievance.bid_submitted"
	TopicTaskAssigned       = "escrow.task_assigned"
	TopicTaskCompleted      = "grievance.task_completed"
	TopicFundsReleased      = "escrow.funds_released"
	TopicExchangeRate       = "oracle.rate_updated"
)

// Writer appends timeline events and enqueues outbox messages within an
// open transaction.
type Writer interface {
	Append(ctx context.Context, tx pgx.Tx, grievanceID int64, eventType string, actorID string, payload map[string]any) error
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// PGWriter is the PostgreSQL implementation of Writer.
type PGWriter struct{}

func NewWriter() *PGWriter {
	return &PGWriter{}
}

// Append inserts an immutable timeline event for the grievance.
func (w *PGWriter) Append(ctx context.Context, tx pgx.Tx, grievanceID int64, eventType string, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventlog: marshal timeline payload: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}

	const q = `
INSERT INTO timeline_events (grievance_id, type, payload, actor_id)
VALUES ($1, $2, $3::jsonb, $4::uuid)
`
	if _, err := tx.Exec(ctx, q, grievanceID, eventType, body, actor); err != nil {
		return fmt.Errorf("eventlog: insert timeline event: %w", err)
	}
	return nil
}

// Enqueue writes a transactional outbox message for downstream delivery.
func (w *PGWriter) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventlog: marshal outbox payload: %w", err)
	}

	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("eventlog: enqueue outbox: %w", err)
	}
	return nil
}
