// Package oracles holds the SQL invariants checked during the stress
// run. Each query returns rows only when the invariant is violated.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_assignment_fields",
			SQL: `SELECT id FROM grievances
                  WHERE status IN ('assigned','completed','resolved')
                    AND (assigned_provider_id IS NULL OR escrow_amount <= 0)`,
		},
		{
			Name: "O2_open_has_no_assignment",
			SQL: `SELECT id FROM grievances
                  WHERE status = 'open'
                    AND (assigned_provider_id IS NOT NULL OR escrow_amount <> 0)`,
		},
		{
			Name: "O3_fund_conservation",
			SQL: `SELECT g.id, g.escrow_amount, COALESCE(SUM(t.amount), 0) AS paid
                  FROM grievances g
                  LEFT JOIN transfers t ON t.grievance_id = g.id
                  WHERE g.status = 'resolved'
                  GROUP BY g.id, g.escrow_amount
                  HAVING COALESCE(SUM(t.amount), 0) <> g.escrow_amount`,
		},
		{
			Name: "O4_single_release",
			SQL: `SELECT grievance_id, COUNT(*) FROM timeline_events
                  WHERE type = 'FUNDS_RELEASED'
                  GROUP BY grievance_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_escrow_zero_after_release",
			SQL: `SELECT a.grievance_id, a.locked_amount
                  FROM escrow_accounts a
                  JOIN grievances g ON g.id = a.grievance_id
                  WHERE g.status = 'resolved' AND a.locked_amount <> 0`,
		},
		{
			Name: "O6_frozen_bid_conversion",
			SQL: `SELECT id FROM bids
                  WHERE amount_settlement <> amount_local * 1000000 / rate_used`,
		},
		{
			Name: "O7_release_requires_both_confirmations",
			SQL: `SELECT g.id FROM grievances g
                  JOIN completion_records c ON c.grievance_id = g.id
                  WHERE g.status = 'resolved'
                    AND NOT (c.requester_confirmed AND c.assigner_confirmed)`,
		},
		{
			Name: "O8_transfer_legs",
			SQL: `SELECT grievance_id FROM transfers
                  GROUP BY grievance_id, kind
                  HAVING COUNT(*) > 1
                  UNION ALL
                  SELECT id FROM transfers
                  WHERE kind NOT IN ('worker_payment','platform_fee') OR amount <= 0`,
		},
		{
			Name: "O9_worker_leg_covers_fee_split",
			SQL: `SELECT w.grievance_id
                  FROM transfers w
                  JOIN transfers f ON f.grievance_id = w.grievance_id AND f.kind = 'platform_fee'
                  JOIN grievances g ON g.id = w.grievance_id
                  WHERE w.kind = 'worker_payment'
                    AND w.amount + f.amount <> g.escrow_amount`,
		},
		{
			Name: "O10_completed_has_proof",
			SQL: `SELECT g.id FROM grievances g
                  LEFT JOIN completion_records c ON c.grievance_id = g.id
                  WHERE g.status IN ('completed','resolved') AND c.grievance_id IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
