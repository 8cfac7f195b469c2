package metadata

import "math"

// BlockAllocationHandle identifies one region, free or allocated, inside a BlockMetadata
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)
