package role

// Capability identifies a granted marketplace role.
type Capability string

const (
	// CapAdministrator may set the exchange rate and platform fee and
	// grant any capability.
	CapAdministrator Capability = "administrator"
	// CapAssigner selects winning bids, co-confirms completion, and may
	// grant the provider capability.
	CapAssigner Capability = "assigner"
	// CapProvider may submit bids and completion proofs.
	CapProvider Capability = "provider"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapAdministrator, CapAssigner, CapProvider:
		return true
	default:
		return false
	}
}
