package disagreement

import "time"

// Note mirrors the disagreements table. Notes are append-only: they
// record one party's objection to a completion claim without changing
// the grievance status or touching escrow.
type Note struct {
	ID          string
	GrievanceID int64
	AuthorID    string
	Body        string
	CreatedAt   time.Time
}
