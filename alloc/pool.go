package alloc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/hashicorp/go-multierror"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/pureheap/internal/utils"
	"github.com/vkngwrapper/pureheap/memutils"
	"github.com/vkngwrapper/pureheap/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Pool sub-allocates blocks from one fixed region using two-level segregated fit. Released
// blocks merge with their free neighbors immediately and are handed out again, so a Pool never
// grows: a request that does not fit in the remaining space fails with ErrAllocFailed.
type Pool struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex
	flags  PoolCreateFlags

	strategy     metadata.AllocationStrategy
	backing      Allocator
	region       unsafe.Pointer
	regionLayout Layout

	metadata *metadata.TLSFBlockMetadata
	live     *swiss.Map[uintptr, poolBlock]
}

var _ Allocator = &Pool{}

type poolBlock struct {
	handle metadata.BlockAllocationHandle
	layout Layout
}

func (p *Pool) AllocZeroed(layout Layout) (unsafe.Pointer, error) {
	p.logger.Debug("Pool::AllocZeroed", slog.Any("Layout", layout))

	ptr, err := p.allocate(layout)
	if err != nil {
		return nil, err
	}

	// Released blocks are reused as-is
	zeroBytes(ptr, layout.size)
	return ptr, nil
}

func (p *Pool) Alloc(layout Layout) (unsafe.Pointer, error) {
	p.logger.Debug("Pool::Alloc", slog.Any("Layout", layout))

	return p.allocate(layout)
}

func (p *Pool) allocate(layout Layout) (unsafe.Pointer, error) {
	if layout.IsZeroSized() {
		return nil, errors.WithStack(ErrZeroSized)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.region == nil {
		return nil, errors.Wrap(ErrAllocFailed, "pool has been destroyed")
	}

	if layout.align > p.regionLayout.align {
		return nil, errors.Wrapf(ErrAllocFailed, "alignment %d exceeds the pool's region alignment %d", layout.align, p.regionLayout.align)
	}

	success, request, err := p.metadata.CreateAllocationRequest(int(layout.size), uint(layout.align), p.strategy)
	if err != nil {
		return nil, errors.Mark(err, ErrAllocFailed)
	}
	if !success {
		p.logger.Debug("    Pool::allocate FAILED", slog.Int("SumFreeSize", p.metadata.SumFreeSize()))
		return nil, errors.Wrapf(ErrAllocFailed, "pool has no free range for %s", layout)
	}

	handle, err := p.metadata.Alloc(request)
	if err != nil {
		return nil, errors.Mark(err, ErrAllocFailed)
	}

	memutils.WriteMagicValue(p.region, request.Offset+request.Size)

	ptr := unsafe.Add(p.region, request.Offset)
	p.live.Put(uintptr(ptr), poolBlock{handle: handle, layout: layout})

	return ptr, nil
}

func (p *Pool) Dealloc(ptr unsafe.Pointer, layout Layout) {
	p.logger.Debug("Pool::Dealloc", slog.Any("Layout", layout))

	p.mutex.Lock()
	defer p.mutex.Unlock()

	block, ok := p.live.Get(uintptr(ptr))
	if !ok {
		panic(errors.Wrapf(ErrUnknownBlock, "pool does not own %p", ptr))
	}
	if block.layout != layout {
		panic(errors.Wrapf(ErrLayoutMismatch, "block at %p was allocated as %s but released as %s", ptr, block.layout, layout))
	}

	if err := p.metadata.Free(block.handle); err != nil {
		panic(errors.Wrapf(err, "releasing %p", ptr))
	}
	p.live.Delete(uintptr(ptr))
}

// Size returns the size in bytes of the pool's region
func (p *Pool) Size() int {
	return p.metadata.Size()
}

// LiveBlocks returns the number of blocks that have not been released
func (p *Pool) LiveBlocks() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.live.Count()
}

// Statistics summarizes the pool's region and the blocks currently allocated from it
func (p *Pool) Statistics() memutils.Statistics {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var stats memutils.Statistics
	p.metadata.AddStatistics(&stats)
	return stats
}

// DetailedStatistics is Statistics plus the spread of block and free range sizes
func (p *Pool) DetailedStatistics() memutils.DetailedStatistics {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	p.metadata.AddDetailedStatistics(&stats)
	return stats
}

// Validate runs consistency checks over the pool's metadata
func (p *Pool) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	combinedErr := &multierror.Error{}
	if p.live.Count() != p.metadata.AllocationCount() {
		combinedErr = multierror.Append(combinedErr, errors.Newf("pool tracks %d live blocks but its metadata has %d allocations", p.live.Count(), p.metadata.AllocationCount()))
	}
	if p.region != nil && p.metadata.Size() != int(p.regionLayout.size) {
		combinedErr = multierror.Append(combinedErr, errors.Newf("pool region is %d bytes but its metadata covers %d", p.regionLayout.size, p.metadata.Size()))
	}
	if err := p.metadata.Validate(); err != nil {
		combinedErr = multierror.Append(combinedErr, err)
	}
	return combinedErr.ErrorOrNil()
}

// CheckCorruption verifies the debug margins after every live block. Margins are only written
// when built with the debug_mem_utils tag; otherwise this always succeeds.
func (p *Pool) CheckCorruption() error {
	p.logger.Debug("Pool::CheckCorruption")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.region == nil {
		return errors.New("pool has been destroyed")
	}
	return p.metadata.CheckCorruption(p.region)
}

// BuildStatsString renders the pool's configuration, statistics and region map as json
func (p *Pool) BuildStatsString() (string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	p.metadata.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Flags").String(p.flags.String())
	obj.Name("Strategy").String(p.strategy.String())
	obj.Name("RegionAlignment").Int(int(p.regionLayout.align))

	statsObj := obj.Name("Statistics").Object()
	stats.PrintJson(&statsObj)
	statsObj.End()

	blockObj := obj.Name("Block").Object()
	p.metadata.BlockJsonData(&blockObj)
	blockObj.End()

	obj.End()

	if err := writer.Error(); err != nil {
		return "", err
	}
	return string(writer.Bytes()), nil
}

// Destroy returns the pool's region to its backing allocator. It fails if any block is still
// live, since releasing the region would leave those blocks dangling.
func (p *Pool) Destroy() error {
	p.logger.Debug("Pool::Destroy")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.region == nil {
		return errors.New("pool has already been destroyed")
	}

	if count := p.metadata.AllocationCount(); count > 0 {
		return errors.Newf("cannot destroy a pool with %d live blocks", count)
	}

	p.backing.Dealloc(p.region, p.regionLayout)
	p.region = nil
	p.metadata.Clear()

	return nil
}
