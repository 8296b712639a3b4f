package registry

import "fmt"

// A BlockPolicy decides which statuses prevent a vehicle from moving to another station.
//
// Registration and explicit transfer historically disagreed on this rule, so each operation
// takes its own policy.
type BlockPolicy string

const (
	// BlockStationary refuses to move parked, noted and maintenance vehicles.
	BlockStationary BlockPolicy = "stationary"
	// BlockParked refuses to move parked vehicles only.
	BlockParked BlockPolicy = "parked"
	// BlockNone never refuses.
	BlockNone BlockPolicy = "none"
)

const (
	DefaultRegisterBlock = BlockStationary
	DefaultTransferBlock = BlockParked
)

// ParseBlockPolicy resolves a configured policy name.
func ParseBlockPolicy(s string) (BlockPolicy, error) {
	switch p := BlockPolicy(s); p {
	case BlockStationary, BlockParked, BlockNone:
		return p, nil
	default:
		return "", fmt.Errorf("unknown block policy %q (want %s, %s or %s)", s, BlockStationary, BlockParked, BlockNone)
	}
}

// Blocks reports whether a vehicle in status s may not move under p.
func (p BlockPolicy) Blocks(s Status) bool {
	switch p {
	case BlockStationary:
		return s.Stationary()
	case BlockParked:
		return s == Parked
	default:
		return false
	}
}
