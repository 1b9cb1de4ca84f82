package completion

import "time"

// Record is the two-party confirmation state for a grievance whose
// provider has submitted completion proof. A record exists if and only if
// the grievance reached status completed.
type Record struct {
	GrievanceID        int64
	ProviderID         string
	ProofRef           string
	RequesterConfirmed bool
	AssignerConfirmed  bool
	SubmittedAt        time.Time
	UpdatedAt          time.Time
}

// Side identifies which party a confirmation came from.
type Side string

const (
	SideRequester Side = "requester"
	SideAssigner  Side = "assigner"
)
