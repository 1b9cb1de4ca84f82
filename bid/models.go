package bid

import "time"

// Bid is a provider's offer against an open grievance. AmountSettlement
// is computed once at submission via the price oracle and frozen; later
// rate changes never re-quote an existing bid. Bids carry no update or
// cancel operation, which removes any race between bid mutation and
// assignment.
type Bid struct {
	ID               int64
	GrievanceID      int64
	ProviderID       string
	AmountLocal      int64
	AmountSettlement int64
	RateUsed         int64
	Active           bool
	CreatedAt        time.Time
}
