package metadata

// AllocationRequest is returned from BlockMetadata.CreateAllocationRequest and describes where the
// metadata intends to place a new suballocation. Passing it to BlockMetadata.Alloc commits it.
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free region the allocation will be carved from
	BlockAllocationHandle BlockAllocationHandle
	// Size is the size in bytes of the allocation, not counting any debug margin
	Size int
	// Offset is the aligned offset in bytes the allocation will start at
	Offset int
}
