package metadata

// AllocationStrategy chooses between the ways a free region can be selected for a new
// allocation. If none is set, a balanced strategy is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory chooses the smallest free region that fits, minimizing
	// fragmentation at the cost of search time
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime chooses the first region that is cheap to find and large enough
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset chooses the free region with the lowest offset, which packs
	// allocations tightly toward the start of the block
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyMinMemory: "MinMemory",
	AllocationStrategyMinTime:   "MinTime",
	AllocationStrategyMinOffset: "MinOffset",
}

func (s AllocationStrategy) String() string {
	if s == 0 {
		return "Balanced"
	}

	str, ok := allocationStrategyMapping[s]
	if !ok {
		return "Mixed"
	}
	return str
}
