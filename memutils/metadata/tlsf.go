package metadata

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/pureheap/memutils"
)

const (
	SmallBufferSize        = 256
	SecondLevelIndex uint8 = 5
	MemoryClassShift       = 7
	MaxMemoryClasses       = 65 - MemoryClassShift
)

var regionPool = sync.Pool{
	New: func() any {
		return &tlsfRegion{}
	},
}

// tlsfRegion is one physically contiguous span of the block. Regions form a doubly-linked
// physical chain ordered by offset; free regions additionally sit in a segregated free list.
type tlsfRegion struct {
	offset       int
	size         int
	prevPhysical *tlsfRegion
	nextPhysical *tlsfRegion

	prevFree *tlsfRegion
	nextFree *tlsfRegion

	handle BlockAllocationHandle
}

func (r *tlsfRegion) MarkFree() {
	r.prevFree = nil
}

// MarkTaken points prevFree at the region itself, which can never happen for a free region
func (r *tlsfRegion) MarkTaken() {
	r.prevFree = r
}

func (r *tlsfRegion) IsFree() bool {
	return r.prevFree != r
}

// TLSFBlockMetadata is a two-level segregated fit implementation of BlockMetadata. Allocation
// and free are O(1) in the number of regions, and freed regions are merged with their free
// neighbors immediately, so a freed range is available to the next request that fits it.
type TLSFBlockMetadata struct {
	BlockMetadataBase

	allocCount        int
	regionsFreeCount  int
	regionsFreeSize   int
	isFreeBitmap      uint64
	memoryClasses     int
	innerIsFreeBitmap [MaxMemoryClasses]uint32

	nextHandle BlockAllocationHandle
	handles    *swiss.Map[BlockAllocationHandle, *tlsfRegion]
	freeList   []*tlsfRegion
	// nullRegion is the free tail of the block that has never been split off
	nullRegion *tlsfRegion
	// headRegion is the region at offset 0
	headRegion *tlsfRegion
}

var _ BlockMetadata = &TLSFBlockMetadata{}

func NewTLSFBlockMetadata() *TLSFBlockMetadata {
	return &TLSFBlockMetadata{}
}

func (m *TLSFBlockMetadata) newRegion() *tlsfRegion {
	r := regionPool.Get().(*tlsfRegion)
	*r = tlsfRegion{}
	m.nextHandle++
	r.handle = m.nextHandle
	m.handles.Put(r.handle, r)
	return r
}

func (m *TLSFBlockMetadata) releaseRegion(r *tlsfRegion) {
	m.handles.Delete(r.handle)
	regionPool.Put(r)
}

func (m *TLSFBlockMetadata) getRegion(handle BlockAllocationHandle) (*tlsfRegion, error) {
	region, ok := m.handles.Get(handle)
	if !ok {
		return nil, errors.Errorf("handle %d does not belong to this metadata", handle)
	}
	return region, nil
}

func (m *TLSFBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.handles = swiss.NewMap[BlockAllocationHandle, *tlsfRegion](42)

	m.nullRegion = m.newRegion()
	m.nullRegion.size = size
	m.nullRegion.MarkFree()
	m.headRegion = m.nullRegion

	memoryClass := m.sizeToMemoryClass(size)
	sli := m.sizeToSecondIndex(size, memoryClass)

	listSize := 1
	if memoryClass != 0 {
		listSize = int(memoryClass-1)*(1<<SecondLevelIndex) + int(sli+1)
	}
	listSize += 4

	m.memoryClasses = int(memoryClass + 2)
	m.freeList = make([]*tlsfRegion, listSize)
}

func (m *TLSFBlockMetadata) Validate() error {
	if m.SumFreeSize() > m.Size() {
		return errors.New("invalid metadata free size")
	}

	calculatedSize := m.nullRegion.size
	calculatedFreeSize := m.nullRegion.size
	var allocCount, freeCount, freeListCount int

	for listIndex := 0; listIndex < len(m.freeList); listIndex++ {
		region := m.freeList[listIndex]
		if region == nil {
			continue
		}

		if !region.IsFree() {
			return errors.Errorf("region at offset %d is in the free list but is not free", region.offset)
		}

		if region.prevFree != nil {
			return errors.Errorf("region at offset %d is the head of a free list but has a previous region", region.offset)
		}

		freeListCount++
		for region.nextFree != nil {
			if !region.nextFree.IsFree() {
				return errors.Errorf("region at offset %d is in the free list but it is not free", region.nextFree.offset)
			}
			if region.nextFree.prevFree != region {
				return errors.Errorf("region at offset %d lists the region at offset %d as its next region, but the reverse reference is broken", region.offset, region.nextFree.offset)
			}

			freeListCount++
			region = region.nextFree
		}
	}

	if m.nullRegion.nextPhysical != nil {
		return errors.New("null region must be the tail of the physical chain")
	}

	if m.nullRegion.prevPhysical != nil && m.nullRegion.prevPhysical.nextPhysical != m.nullRegion {
		return errors.New("null region has a physical region before it, but the reverse reference is broken")
	}

	nextOffset := m.nullRegion.offset
	for prev := m.nullRegion.prevPhysical; prev != nil; prev = prev.prevPhysical {
		if prev.offset+prev.size != nextOffset {
			return errors.Errorf("physical region at offset %d does not end at the next region's start offset", prev.offset)
		}

		nextOffset = prev.offset
		calculatedSize += prev.size

		if prev.IsFree() {
			freeCount++
			calculatedFreeSize += prev.size
		} else {
			allocCount++
		}

		if prev.prevPhysical != nil && prev.prevPhysical.nextPhysical != prev {
			return errors.Errorf("region at offset %d has a previous physical region, but the reverse reference is broken", prev.offset)
		}
	}

	if freeListCount != freeCount {
		return errors.Errorf("the free lists hold %d regions but the physical chain has %d free regions", freeListCount, freeCount)
	}

	if nextOffset != 0 {
		return errors.Errorf("the first physical region should have an offset of 0, but instead it has an offset of %d", nextOffset)
	}

	if calculatedSize != m.size {
		return errors.Errorf("the full size of the metadata is %d, but the regions only added up to %d", m.size, calculatedSize)
	}

	if calculatedFreeSize != m.SumFreeSize() {
		return errors.Errorf("the free size of the metadata is %d, but the free regions only added up to %d", m.SumFreeSize(), calculatedFreeSize)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the taken regions only added up to %d", m.allocCount, allocCount)
	}

	if freeCount != m.regionsFreeCount {
		return errors.Errorf("the free region count of the metadata is %d, but there were %d free regions", m.regionsFreeCount, freeCount)
	}

	return nil
}

func (m *TLSFBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size
	if m.nullRegion.size > 0 {
		stats.AddUnusedRange(m.nullRegion.size)
	}

	for region := m.nullRegion.prevPhysical; region != nil; region = region.prevPhysical {
		if region.IsFree() {
			stats.AddUnusedRange(region.size)
		} else {
			stats.AddAllocation(region.size)
		}
	}
}

func (m *TLSFBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.size - m.SumFreeSize()
}

func (m *TLSFBlockMetadata) AllocationCount() int {
	return m.allocCount
}

func (m *TLSFBlockMetadata) FreeRegionsCount() int {
	count := m.regionsFreeCount
	if m.nullRegion.size > 0 {
		count++
	}
	return count
}

func (m *TLSFBlockMetadata) SumFreeSize() int {
	return m.regionsFreeSize + m.nullRegion.size
}

func (m *TLSFBlockMetadata) IsEmpty() bool {
	return m.nullRegion.offset == 0
}

func (m *TLSFBlockMetadata) sizeToMemoryClass(size int) uint8 {
	if size > SmallBufferSize {
		mostSignificantBit := uint8(63 - bits.LeadingZeros64(uint64(size)))
		return mostSignificantBit - MemoryClassShift
	}

	return 0
}

func (m *TLSFBlockMetadata) sizeToSecondIndex(size int, memoryClass uint8) uint16 {
	if memoryClass != 0 {
		mask := uint(1) << SecondLevelIndex
		indexVal := uint(size) >> (memoryClass + MemoryClassShift - SecondLevelIndex)
		return uint16(indexVal ^ mask)
	}

	return uint16((size - 1) / 64)
}

func (m *TLSFBlockMetadata) getListIndex(memoryClass uint8, secondIndex uint16) int {
	if memoryClass == 0 {
		return int(secondIndex)
	}

	return int(memoryClass-1)*(1<<SecondLevelIndex) + int(secondIndex) + 4
}

func (m *TLSFBlockMetadata) getListIndexFromSize(size int) int {
	memoryClass := m.sizeToMemoryClass(size)
	return m.getListIndex(memoryClass, m.sizeToSecondIndex(size, memoryClass))
}

func (m *TLSFBlockMetadata) CreateAllocationRequest(
	allocSize int, allocAlignment uint,
	strategy AllocationStrategy,
) (bool, AllocationRequest, error) {
	var request AllocationRequest

	if allocSize < 1 {
		return false, request, errors.Errorf("invalid allocation size: %d", allocSize)
	}

	if err := memutils.CheckPow2(allocAlignment, "allocAlignment"); err != nil {
		return false, request, err
	}

	memutils.DebugValidate(m)

	allocSize += memutils.DebugMargin

	if allocSize > m.SumFreeSize() {
		return false, request, nil
	}

	// No free regions, so only the tail can serve
	if m.regionsFreeCount == 0 {
		return m.checkRegion(m.nullRegion, len(m.freeList), allocSize, allocAlignment, &request), request, nil
	}

	// Any region in the list for sizeForNextList fits without checking its size
	sizeForNextList := allocSize
	smallSizeStep := SmallBufferSize / 4
	if allocSize > SmallBufferSize {
		mostSignificantBit := 63 - bits.LeadingZeros64(uint64(allocSize))
		sizeForNextList += 1 << (mostSignificantBit - int(SecondLevelIndex))
	} else if allocSize > SmallBufferSize-smallSizeStep {
		sizeForNextList = SmallBufferSize + 1
	} else {
		sizeForNextList += smallSizeStep
	}

	var nextListIndex, prevListIndex int
	var nextListRegion, prevListRegion *tlsfRegion
	doFullSearch := false

	switch {
	case strategy&AllocationStrategyMinTime != 0:
		nextListRegion, nextListIndex = m.findFreeRegion(sizeForNextList)
		if nextListRegion != nil {
			doFullSearch = true
			if m.checkRegion(nextListRegion, nextListIndex, allocSize, allocAlignment, &request) {
				return true, request, nil
			}
		}

		if m.checkRegion(m.nullRegion, len(m.freeList), allocSize, allocAlignment, &request) {
			return true, request, nil
		}

		for ; nextListRegion != nil; nextListRegion = nextListRegion.nextFree {
			if m.checkRegion(nextListRegion, nextListIndex, allocSize, allocAlignment, &request) {
				return true, request, nil
			}
		}

		prevListRegion, prevListIndex = m.findFreeRegion(allocSize)
		for ; prevListRegion != nil; prevListRegion = prevListRegion.nextFree {
			if m.checkRegion(prevListRegion, prevListIndex, allocSize, allocAlignment, &request) {
				return true, request, nil
			}
		}

	case strategy&AllocationStrategyMinMemory != 0:
		prevListRegion, prevListIndex = m.findFreeRegion(allocSize)
		for ; prevListRegion != nil; prevListRegion = prevListRegion.nextFree {
			if m.checkRegion(prevListRegion, prevListIndex, allocSize, allocAlignment, &request) {
				return true, request, nil
			}
		}

		if m.checkRegion(m.nullRegion, len(m.freeList), allocSize, allocAlignment, &request) {
			return true, request, nil
		}

		nextListRegion, nextListIndex = m.findFreeRegion(sizeForNextList)
		for ; nextListRegion != nil; nextListRegion = nextListRegion.nextFree {
			doFullSearch = true
			if m.checkRegion(nextListRegion, nextListIndex, allocSize, allocAlignment, &request) {
				return true, request, nil
			}
		}

	case strategy&AllocationStrategyMinOffset != 0:
		for region := m.headRegion; region != nil; region = region.nextPhysical {
			if region == m.nullRegion || !region.IsFree() || region.size < allocSize {
				continue
			}
			if m.checkRegion(region, m.getListIndexFromSize(region.size), allocSize, allocAlignment, &request) {
				return true, request, nil
			}
		}

		return m.checkRegion(m.nullRegion, len(m.freeList), allocSize, allocAlignment, &request), request, nil

	default:
		nextListRegion, nextListIndex = m.findFreeRegion(sizeForNextList)
		for ; nextListRegion != nil; nextListRegion = nextListRegion.nextFree {
			doFullSearch = true
			if m.checkRegion(nextListRegion, nextListIndex, allocSize, allocAlignment, &request) {
				return true, request, nil
			}
		}

		if m.checkRegion(m.nullRegion, len(m.freeList), allocSize, allocAlignment, &request) {
			return true, request, nil
		}

		prevListRegion, prevListIndex = m.findFreeRegion(allocSize)
		for ; prevListRegion != nil; prevListRegion = prevListRegion.nextFree {
			if m.checkRegion(prevListRegion, prevListIndex, allocSize, allocAlignment, &request) {
				return true, request, nil
			}
		}
	}

	if !doFullSearch {
		return false, request, nil
	}

	// Worst case, walk every larger list
	for nextListIndex++; nextListIndex < len(m.freeList); nextListIndex++ {
		for region := m.freeList[nextListIndex]; region != nil; region = region.nextFree {
			if m.checkRegion(region, nextListIndex, allocSize, allocAlignment, &request) {
				return true, request, nil
			}
		}
	}

	return false, request, nil
}

func (m *TLSFBlockMetadata) checkRegion(
	region *tlsfRegion,
	listIndex int,
	allocSize int,
	allocAlignment uint,
	request *AllocationRequest,
) bool {
	memutils.DebugCheckPow2(allocAlignment, "allocAlignment")
	if !region.IsFree() {
		panic(fmt.Sprintf("region at offset %d is already taken", region.offset))
	}

	alignedOffset := memutils.AlignUp(region.offset, int(allocAlignment))
	if region.size < allocSize+alignedOffset-region.offset {
		return false
	}

	request.BlockAllocationHandle = region.handle
	request.Size = allocSize - memutils.DebugMargin
	request.Offset = alignedOffset

	// Move the region to the head of its list so the next lookup finds it first
	if listIndex != len(m.freeList) && region.prevFree != nil {
		region.prevFree.nextFree = region.nextFree
		if region.nextFree != nil {
			region.nextFree.prevFree = region.prevFree
		}

		region.prevFree = nil
		region.nextFree = m.freeList[listIndex]
		m.freeList[listIndex] = region
		if region.nextFree != nil {
			region.nextFree.prevFree = region
		}
	}

	return true
}

func (m *TLSFBlockMetadata) findFreeRegion(size int) (*tlsfRegion, int) {
	memoryClass := m.sizeToMemoryClass(size)
	innerFreeMap := m.innerIsFreeBitmap[memoryClass] & (math.MaxUint32 << m.sizeToSecondIndex(size, memoryClass))

	if innerFreeMap == 0 {
		freeMap := m.isFreeBitmap & (math.MaxUint64 << (memoryClass + 1))
		if freeMap == 0 {
			return nil, 0
		}

		memoryClass = uint8(bits.TrailingZeros64(freeMap))
		innerFreeMap = m.innerIsFreeBitmap[memoryClass]
		if innerFreeMap == 0 {
			panic("free bitmap is in an invalid state")
		}
	}

	listIndex := m.getListIndex(memoryClass, uint16(bits.TrailingZeros32(innerFreeMap)))
	if m.freeList[listIndex] == nil {
		panic(fmt.Sprintf("free list index %d was listed as having free regions, but the list is empty", listIndex))
	}

	return m.freeList[listIndex], listIndex
}

func (m *TLSFBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	m.AddDetailedStatistics(&stats)

	m.blockJsonData(json, stats.BlockBytes-stats.AllocationBytes, stats.AllocationCount, stats.UnusedRangeCount)

	regions := json.Name("Regions").Array()
	defer regions.End()

	for region := m.headRegion; region != nil; region = region.nextPhysical {
		if region.size == 0 {
			continue
		}

		obj := regions.Object()
		obj.Name("Offset").Int(region.offset)
		obj.Name("Size").Int(region.size)
		obj.Name("Free").Bool(region.IsFree())
		obj.End()
	}
}

func (m *TLSFBlockMetadata) CheckCorruption(blockData unsafe.Pointer) error {
	for region := m.nullRegion.prevPhysical; region != nil; region = region.prevPhysical {
		if !region.IsFree() {
			if !memutils.ValidateMagicValue(blockData, region.offset+region.size) {
				return errors.Errorf("memory corruption detected after allocation at offset %d", region.offset)
			}
		}
	}

	return nil
}

func (m *TLSFBlockMetadata) Alloc(request AllocationRequest) (BlockAllocationHandle, error) {
	current, err := m.getRegion(request.BlockAllocationHandle)
	if err != nil {
		return NoAllocation, err
	}

	offset := request.Offset
	if current.offset > offset {
		return NoAllocation, errors.New("allocation request offset lies before the region it was created for")
	}
	if !current.IsFree() {
		return NoAllocation, errors.New("allocation request refers to a region that is no longer free")
	}

	if current != m.nullRegion {
		m.removeFreeRegion(current)
	}

	// Alignment padding either grows the free region before us or becomes a free region of its own
	missingAlignment := offset - current.offset
	if missingAlignment != 0 {
		prev := current.prevPhysical
		if prev == nil {
			return NoAllocation, errors.New("allocation request has alignment padding at offset 0")
		}

		if prev.IsFree() && prev.size != memutils.DebugMargin {
			oldListIndex := m.getListIndexFromSize(prev.size)
			prev.size += missingAlignment

			if oldListIndex != m.getListIndexFromSize(prev.size) {
				prev.size -= missingAlignment
				m.removeFreeRegion(prev)

				prev.size += missingAlignment
				m.insertFreeRegion(prev)
			} else {
				m.regionsFreeSize += missingAlignment
			}
		} else {
			padding := m.newRegion()
			current.prevPhysical = padding
			prev.nextPhysical = padding
			padding.prevPhysical = prev
			padding.nextPhysical = current
			padding.size = missingAlignment
			padding.offset = current.offset
			padding.MarkTaken()

			m.insertFreeRegion(padding)
		}

		current.size -= missingAlignment
		current.offset += missingAlignment
	}

	size := request.Size + memutils.DebugMargin
	if current.size == size {
		if current == m.nullRegion {
			m.nullRegion = m.newRegion()
			m.nullRegion.offset = current.offset + size
			m.nullRegion.prevPhysical = current
			m.nullRegion.MarkFree()
			current.nextPhysical = m.nullRegion
			current.MarkTaken()
		}
	} else if current.size < size {
		return NoAllocation, errors.New("allocation request is larger than the region it was created for")
	} else {
		remainder := m.newRegion()
		remainder.size = current.size - size
		remainder.offset = current.offset + size
		remainder.prevPhysical = current
		remainder.nextPhysical = current.nextPhysical
		current.nextPhysical = remainder
		current.size = size

		if current == m.nullRegion {
			m.nullRegion = remainder
			m.nullRegion.MarkFree()
			current.MarkTaken()
		} else {
			remainder.nextPhysical.prevPhysical = remainder
			remainder.MarkTaken()
			m.insertFreeRegion(remainder)
		}
	}

	if memutils.DebugMargin > 0 {
		current.size -= memutils.DebugMargin
		margin := m.newRegion()
		margin.size = memutils.DebugMargin
		margin.offset = current.offset + current.size
		margin.prevPhysical = current
		margin.nextPhysical = current.nextPhysical
		margin.MarkTaken()
		current.nextPhysical.prevPhysical = margin
		current.nextPhysical = margin
		m.insertFreeRegion(margin)
	}

	m.allocCount++

	return current.handle, nil
}

func (m *TLSFBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	region, err := m.getRegion(allocHandle)
	if err != nil {
		return err
	}
	if region.IsFree() {
		return errors.Errorf("region at offset %d is already free", region.offset)
	}

	next := region.nextPhysical
	m.allocCount--

	if memutils.DebugMargin > 0 {
		m.removeFreeRegion(next)
		m.mergeRegion(next, region)

		region = next
		next = next.nextPhysical
	}

	prev := region.prevPhysical
	if prev != nil && prev.IsFree() && prev.size != memutils.DebugMargin {
		m.removeFreeRegion(prev)
		m.mergeRegion(region, prev)
	}

	if !next.IsFree() {
		m.insertFreeRegion(region)
	} else if next == m.nullRegion {
		m.mergeRegion(m.nullRegion, region)
	} else {
		m.removeFreeRegion(next)
		m.mergeRegion(next, region)
		m.insertFreeRegion(next)
	}

	return nil
}

func (m *TLSFBlockMetadata) removeFreeRegion(region *tlsfRegion) {
	if region == m.nullRegion {
		panic("cannot remove the null region")
	}
	if !region.IsFree() {
		panic("provided region is not free")
	}

	if region.nextFree != nil {
		region.nextFree.prevFree = region.prevFree
	}
	if region.prevFree != nil {
		region.prevFree.nextFree = region.nextFree
	} else {
		memClass := m.sizeToMemoryClass(region.size)
		secondIndex := m.sizeToSecondIndex(region.size, memClass)
		index := m.getListIndex(memClass, secondIndex)

		if m.freeList[index] != region {
			panic("region was not in the free list at the expected location")
		}
		m.freeList[index] = region.nextFree
		if region.nextFree == nil {
			m.innerIsFreeBitmap[memClass] &^= 1 << secondIndex
			if m.innerIsFreeBitmap[memClass] == 0 {
				m.isFreeBitmap &^= 1 << memClass
			}
		}
	}

	region.MarkTaken()
	region.nextFree = nil
	m.regionsFreeCount--
	m.regionsFreeSize -= region.size
}

func (m *TLSFBlockMetadata) insertFreeRegion(region *tlsfRegion) {
	if region == m.nullRegion {
		panic("cannot insert the null region")
	}
	if region.IsFree() {
		panic("region is already free")
	}

	memClass := m.sizeToMemoryClass(region.size)
	secondIndex := m.sizeToSecondIndex(region.size, memClass)
	index := m.getListIndex(memClass, secondIndex)

	if index >= len(m.freeList) {
		panic("invalid free list index found for region")
	}

	region.prevFree = nil
	region.nextFree = m.freeList[index]
	m.freeList[index] = region
	if region.nextFree != nil {
		region.nextFree.prevFree = region
	} else {
		m.innerIsFreeBitmap[memClass] |= 1 << secondIndex
		m.isFreeBitmap |= 1 << memClass
	}
	m.regionsFreeCount++
	m.regionsFreeSize += region.size
}

// mergeRegion folds prev into region, which must directly follow it physically
func (m *TLSFBlockMetadata) mergeRegion(region *tlsfRegion, prev *tlsfRegion) {
	if region.prevPhysical != prev {
		panic("cannot merge separate physical regions")
	}
	if prev.IsFree() {
		panic("cannot merge a region that belongs to the free list")
	}

	region.offset = prev.offset
	region.size += prev.size
	region.prevPhysical = prev.prevPhysical
	if region.prevPhysical != nil {
		region.prevPhysical.nextPhysical = region
	} else {
		m.headRegion = region
	}

	m.releaseRegion(prev)
}

func (m *TLSFBlockMetadata) VisitAllRegions(handleRegion func(handle BlockAllocationHandle, offset int, size int, free bool) error) error {
	for region := m.nullRegion; region != nil; region = region.prevPhysical {
		err := handleRegion(region.handle, region.offset, region.size, region.IsFree())
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *TLSFBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	region, err := m.getRegion(allocHandle)
	if err != nil {
		return 0, err
	}

	return region.offset, nil
}

func (m *TLSFBlockMetadata) Clear() {
	m.allocCount = 0
	m.regionsFreeCount = 0
	m.regionsFreeSize = 0
	m.isFreeBitmap = 0
	m.nullRegion.offset = 0
	m.nullRegion.size = m.size
	region := m.nullRegion.prevPhysical
	m.nullRegion.prevPhysical = nil
	m.headRegion = m.nullRegion

	for region != nil {
		prev := region.prevPhysical
		m.releaseRegion(region)
		region = prev
	}

	m.freeList = make([]*tlsfRegion, len(m.freeList))
	m.innerIsFreeBitmap = [MaxMemoryClasses]uint32{}
}
