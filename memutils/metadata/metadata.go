package metadata

import (
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/pureheap/memutils"
)

// BlockMetadata tracks suballocations within one contiguous region of memory. It never touches
// the memory itself: consumers turn the offsets it hands out into addresses.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. size is the size in bytes of the
	// region being managed.
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive.
	// When the implementation is functioning correctly, it should not be possible for this method to
	// return an error.
	Validate() error
	// AllocationCount returns the number of live suballocations
	AllocationCount() int
	// FreeRegionsCount returns the number of distinct free regions in the block. Adjacent free
	// regions are merged, so they count once.
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes in the block.
	SumFreeSize() int
	// IsEmpty will return true if this block has no live suballocations
	IsEmpty() bool

	// VisitAllRegions calls handleRegion once for each allocation and free region in the block.
	// This walks every region and should be kept to diagnostics.
	VisitAllRegions(handleRegion func(handle BlockAllocationHandle, offset int, size int, free bool) error) error
	// AllocationOffset returns the offset in bytes of the region identified by allocHandle
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)

	// AddDetailedStatistics sums this block's statistics into stats
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's statistics into stats
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CheckCorruption returns an error if the debug margin after any live suballocation in blockData
	// no longer holds the marker written by memutils.WriteMagicValue. Markers only exist when built
	// with the debug_mem_utils tag, and consumers are responsible for writing them after each Alloc.
	CheckCorruption(blockData unsafe.Pointer) error

	// CreateAllocationRequest finds a place for an allocation of allocSize bytes aligned to
	// allocAlignment without committing it. The boolean result is false if no region can fit the
	// request.
	CreateAllocationRequest(allocSize int, allocAlignment uint, strategy AllocationStrategy) (bool, AllocationRequest, error)
	// Alloc commits a request from CreateAllocationRequest and returns the handle of the new
	// suballocation. It fails if the request no longer matches the state of the block.
	Alloc(request AllocationRequest) (BlockAllocationHandle, error)
	// Free turns a live suballocation back into free space, merging it with free neighbors.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase holds the state shared by BlockMetadata implementations in this package
type BlockMetadataBase struct {
	size int
}

// Init sizes the block in bytes
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

func (m *BlockMetadataBase) blockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
