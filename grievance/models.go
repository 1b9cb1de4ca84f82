package grievance

import "time"

// Status is the lifecycle state of a grievance. Transitions are strictly
// forward: open -> assigned -> completed -> resolved.
type Status string

const (
	StatusOpen      Status = "open"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
	StatusResolved  Status = "resolved"
)

var statusRank = map[Status]int{
	StatusOpen:      0,
	StatusAssigned:  1,
	StatusCompleted: 2,
	StatusResolved:  3,
}

// CanTransition reports whether moving from -> to advances the lifecycle
// by exactly one step. Regressions and skips are never valid.
func CanTransition(from, to Status) bool {
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr == fr+1
}

// Grievance mirrors the grievances table. ContentRef is an opaque pointer
// to off-core content; the core never inspects it.
type Grievance struct {
	ID                 int64
	RequesterID        string
	ContentRef         string
	Status             Status
	AssignedProviderID *string
	EscrowAmount       int64
	Live               bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StatusCounts reports how many grievances sit in each lifecycle state,
// for external dashboards.
type StatusCounts struct {
	Open      int
	Assigned  int
	Completed int
	Resolved  int
}

// Total sums all buckets.
func (c StatusCounts) Total() int {
	return c.Open + c.Assigned + c.Completed + c.Resolved
}
