// Package actors holds the concurrent workloads for the stress run.
// Each actor loops until stopped, driving one side of the marketplace
// through the real services so the row locks and status gates see
// genuine contention.
package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"grievflow/bid"
	"grievflow/completion"
	"grievflow/escrow"
	"grievflow/fault"
	"grievflow/grievance"
)

// Submitter files fresh grievances so the open pool never drains.
func Submitter(ctx context.Context, svc *grievance.Service, requesterID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Submit(ctx, requesterID, "ipfs://stress-claim")
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Bidder spams bids against one grievance. Rejections with the state
// fault are expected once the grievance leaves open.
func Bidder(ctx context.Context, svc *bid.Service, grievanceID int64, providerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Submit(ctx, grievanceID, providerID, int64(1_000+rand.Intn(9_000)))
		if err != nil && !errors.Is(err, fault.ErrState) && !errors.Is(err, context.Canceled) {
			return err
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Assigner races to lock escrow for the winning bid. Exactly one call
// may succeed; the rest must fail on the status gate.
func Assigner(ctx context.Context, svc *escrow.Service, grievanceID, winningBidID, suppliedFunds int64, assignerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		err := svc.Assign(ctx, grievanceID, winningBidID, suppliedFunds, assignerID)
		if err != nil && !errors.Is(err, fault.ErrState) && !errors.Is(err, context.Canceled) {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Prover submits completion proof for the assigned provider. Rejected
// with the state fault until the assignment lands and after the proof
// is recorded.
func Prover(ctx context.Context, svc *completion.Service, grievanceID int64, providerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		err := svc.SubmitProof(ctx, grievanceID, providerID, "ipfs://stress-proof")
		if err != nil && !errors.Is(err, fault.ErrState) && !errors.Is(err, context.Canceled) {
			return err
		}
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

// Confirmer hammers one side of the completion handshake. Duplicate
// confirmations are no-ops; the state fault covers the window before
// the proof lands.
func Confirmer(ctx context.Context, svc *completion.Service, grievanceID int64, callerID string, side completion.Side, released chan<- struct{}, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var (
			fired bool
			err   error
		)
		switch side {
		case completion.SideRequester:
			fired, err = svc.ConfirmAsRequester(ctx, grievanceID, callerID)
		case completion.SideAssigner:
			fired, err = svc.ConfirmAsAssigner(ctx, grievanceID, callerID)
		}
		if err != nil && !errors.Is(err, fault.ErrState) && !errors.Is(err, context.Canceled) {
			return err
		}
		if fired {
			select {
			case released <- struct{}{}:
			default:
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// OutboxWorker drains pending outbox messages with SKIP LOCKED so two
// workers never publish the same message.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE published_at IS NULL ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			_, _ = tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
