//go:build linux

package alloc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/vkngwrapper/pureheap/internal/utils"
	"github.com/vkngwrapper/pureheap/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

const (
	// ArenaSlabSize is the number of bytes mapped from the operating system at a time
	ArenaSlabSize = 1 << 24
	// ArenaChunkSize is the largest block an arena can hand out. Each slab is cut into chunks of
	// this size.
	ArenaChunkSize = 1 << 18
)

// ArenaCreateFlags indicate specific arena behaviors to activate or deactivate
type ArenaCreateFlags int32

const (
	// ArenaCreateExternallySynchronized ensures that the arena will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time. Cells never release
	// arena blocks from a GC cleanup, so only the consumer's own calls need to be serialized.
	ArenaCreateExternallySynchronized ArenaCreateFlags = 1 << iota
)

// ArenaOptions contains optional settings when creating an Arena
type ArenaOptions struct {
	Flags ArenaCreateFlags
}

// Arena is a bump allocator. Slabs are mapped from the operating system and cut into chunks,
// and blocks are laid end to end within the current chunk. Dealloc only records the release:
// memory comes back all at once through Reset or Destroy.
//
// A block may not be larger than ArenaChunkSize or aligned beyond the page size.
//
// Dealloc panics with ErrUnknownBlock when the arena has no live blocks, or when the block does
// not lie within a chunk handed out since the last Reset. A block released twice inside a valid
// chunk is not detected.
type Arena struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex

	slabs    [][]byte
	freeSlab []byte
	chunks   []unsafe.Pointer
	current  int
	offset   uintptr

	liveBlocks int
	liveBytes  int
}

var _ Allocator = &Arena{}

// NewArena creates an empty Arena. No memory is mapped until the first allocation.
func NewArena(logger *slog.Logger, options ArenaOptions) *Arena {
	return &Arena{
		logger:  utils.LoggerOrDiscard(logger),
		mutex:   utils.OptionalMutex{UseMutex: options.Flags&ArenaCreateExternallySynchronized == 0},
		current: -1,
	}
}

func (a *Arena) nextChunk() (unsafe.Pointer, error) {
	if len(a.freeSlab) == 0 {
		slab, err := unix.Mmap(-1, 0, ArenaSlabSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "mapping arena slab"), ErrAllocFailed)
		}

		a.logger.Debug("    Arena::nextChunk mapped slab", slog.Int("SlabCount", len(a.slabs)+1))
		a.slabs = append(a.slabs, slab)
		a.freeSlab = slab
	}

	chunk := unsafe.Pointer(&a.freeSlab[0])
	a.freeSlab = a.freeSlab[ArenaChunkSize:]
	return chunk, nil
}

func (a *Arena) AllocZeroed(layout Layout) (unsafe.Pointer, error) {
	a.logger.Debug("Arena::AllocZeroed", slog.Any("Layout", layout))

	ptr, err := a.allocate(layout)
	if err != nil {
		return nil, err
	}

	// Chunks are reused after Reset
	zeroBytes(ptr, layout.size)
	return ptr, nil
}

func (a *Arena) Alloc(layout Layout) (unsafe.Pointer, error) {
	a.logger.Debug("Arena::Alloc", slog.Any("Layout", layout))

	return a.allocate(layout)
}

func (a *Arena) allocate(layout Layout) (unsafe.Pointer, error) {
	if layout.IsZeroSized() {
		return nil, errors.WithStack(ErrZeroSized)
	}
	if layout.size > ArenaChunkSize {
		return nil, errors.Wrapf(ErrAllocFailed, "%s is larger than an arena chunk", layout)
	}
	if layout.align > uintptr(unix.Getpagesize()) {
		return nil, errors.Wrapf(ErrAllocFailed, "arena cannot align beyond a page, requested %s", layout)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	offset := memutils.AlignUp(a.offset, layout.align)
	if a.current < 0 || offset+layout.size > ArenaChunkSize {
		a.current++
		if a.current == len(a.chunks) {
			chunk, err := a.nextChunk()
			if err != nil {
				a.current--
				return nil, err
			}
			a.chunks = append(a.chunks, chunk)
		}
		offset = 0
	}

	ptr := unsafe.Add(a.chunks[a.current], offset)
	a.offset = offset + layout.size
	a.liveBlocks++
	a.liveBytes += int(layout.size)

	return ptr, nil
}

func (a *Arena) Dealloc(ptr unsafe.Pointer, layout Layout) {
	a.logger.Debug("Arena::Dealloc", slog.Any("Layout", layout))

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.liveBlocks == 0 {
		panic(errors.Wrapf(ErrUnknownBlock, "arena has no live blocks, cannot release %p", ptr))
	}
	if !a.inUseChunk(ptr, layout.size) {
		panic(errors.Wrapf(ErrUnknownBlock, "%p with %s does not lie within an arena chunk", ptr, layout))
	}

	a.liveBlocks--
	a.liveBytes -= int(layout.size)
}

func (a *Arena) inUseChunk(ptr unsafe.Pointer, size uintptr) bool {
	addr := uintptr(ptr)
	for i := 0; i <= a.current && i < len(a.chunks); i++ {
		start := uintptr(a.chunks[i])
		if addr >= start && size <= ArenaChunkSize && addr-start <= ArenaChunkSize-size {
			return true
		}
	}

	return false
}

// LiveBlocks returns the number of blocks handed out and not yet released
func (a *Arena) LiveBlocks() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.liveBlocks
}

// Statistics summarizes the arena's chunks and the blocks still live in them
func (a *Arena) Statistics() memutils.Statistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return memutils.Statistics{
		BlockCount:      len(a.chunks),
		BlockBytes:      len(a.chunks) * ArenaChunkSize,
		AllocationCount: a.liveBlocks,
		AllocationBytes: a.liveBytes,
	}
}

// Reset rewinds the arena to its first chunk so all mapped memory is handed out again. Every
// block must have been released first.
func (a *Arena) Reset() error {
	a.logger.Debug("Arena::Reset")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.liveBlocks > 0 {
		return errors.Newf("cannot reset an arena with %d live blocks", a.liveBlocks)
	}

	a.current = -1
	a.offset = 0
	return nil
}

// Destroy unmaps every slab. Every block must have been released first.
func (a *Arena) Destroy() error {
	a.logger.Debug("Arena::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.liveBlocks > 0 {
		return errors.Newf("cannot destroy an arena with %d live blocks", a.liveBlocks)
	}

	combinedErr := &multierror.Error{}
	var kept [][]byte
	for _, slab := range a.slabs {
		if err := unix.Munmap(slab); err != nil {
			a.logger.Error("error attempting to unmap arena slab", slog.Any("error", err))
			combinedErr = multierror.Append(combinedErr, errors.Wrap(err, "unmapping arena slab"))
			kept = append(kept, slab)
		}
	}

	// Slabs that failed to unmap stay owned so a later Destroy can retry them
	a.slabs = kept
	a.freeSlab = nil
	a.chunks = nil
	a.current = -1
	a.offset = 0
	return combinedErr.ErrorOrNil()
}
