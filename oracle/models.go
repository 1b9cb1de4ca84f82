package oracle

// UnitScale is the fixed-point scale of the settlement currency: one
// settlement unit is 1_000_000 smallest units (six decimal places). All
// settlement-amount math is integer math against this constant; floating
// point would change rounding direction and break fund conservation.
const UnitScale int64 = 1_000_000

// DefaultRate seeds new deployments: 25_000 local smallest units buy one
// settlement unit.
const DefaultRate int64 = 25_000
