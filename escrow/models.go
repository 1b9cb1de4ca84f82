package escrow

import "time"

const (
	// FeeDenominator expresses fees in basis points: 10000 = 100%.
	FeeDenominator int64 = 10_000
	// FeeCapBasisPoints caps the platform fee at 10%.
	FeeCapBasisPoints int64 = 1_000
	// DefaultFeeBasisPoints is the fee applied until an administrator
	// sets one: 2.5%.
	DefaultFeeBasisPoints int64 = 250

	// FeeCollectorAccount receives the platform fee leg of every release.
	FeeCollectorAccount = "platform_fees"
)

// Account is the settlement balance locked against a grievance. The
// locked amount is non-zero exactly while the grievance is assigned or
// completed, and permanently zero once resolved.
type Account struct {
	GrievanceID  int64
	LockedAmount int64
	UpdatedAt    time.Time
}

// Split is the outcome of a release: the locked amount divided between
// the worker and the fee collector with no remainder.
type Split struct {
	WorkerPayment int64
	PlatformFee   int64
}

// FeeSplit computes the platform fee and worker payment for a locked
// amount at the given fee. Integer basis-point math; the two legs always
// sum back to the locked amount.
func FeeSplit(lockedAmount, feeBasisPoints int64) Split {
	fee := lockedAmount * feeBasisPoints / FeeDenominator
	return Split{
		WorkerPayment: lockedAmount - fee,
		PlatformFee:   fee,
	}
}
