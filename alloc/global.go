package alloc

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/pureheap/memutils"
)

// Global is the process-wide default allocator. It carves blocks out of byte slices on the Go
// heap and keeps each slice reachable until the block is released, so the garbage collector
// never reclaims a live block and reclaims a released one on its next cycle.
//
// The Go heap has no notion of uninitialized memory, so Alloc and AllocZeroed behave the same.
// Global is safe for use from multiple goroutines.
type Global struct{}

var _ Allocator = Global{}

type globalBlock struct {
	backing []byte
	layout  Layout
}

var globalHeap = struct {
	sync.Mutex
	blocks *swiss.Map[uintptr, globalBlock]
}{
	blocks: swiss.NewMap[uintptr, globalBlock](64),
}

func (g Global) AllocZeroed(layout Layout) (unsafe.Pointer, error) {
	return g.allocate(layout)
}

func (g Global) Alloc(layout Layout) (unsafe.Pointer, error) {
	return g.allocate(layout)
}

func (g Global) allocate(layout Layout) (ptr unsafe.Pointer, err error) {
	if layout.IsZeroSized() {
		return nil, errors.WithStack(ErrZeroSized)
	}

	defer func() {
		if r := recover(); r != nil {
			ptr = nil
			err = errors.Wrapf(ErrAllocFailed, "go heap could not provide %s: %v", layout, r)
		}
	}()

	// Pad by the alignment so an aligned start always fits
	backing := make([]byte, layout.size+layout.align-1)
	base := unsafe.Pointer(unsafe.SliceData(backing))
	shift := memutils.AlignUp(uintptr(base), layout.align) - uintptr(base)
	ptr = unsafe.Add(base, shift)

	globalHeap.Lock()
	defer globalHeap.Unlock()

	globalHeap.blocks.Put(uintptr(ptr), globalBlock{backing: backing, layout: layout})
	return ptr, nil
}

func (g Global) Dealloc(ptr unsafe.Pointer, layout Layout) {
	globalHeap.Lock()
	defer globalHeap.Unlock()

	block, ok := globalHeap.blocks.Get(uintptr(ptr))
	if !ok {
		panic(errors.Wrapf(ErrUnknownBlock, "global heap does not own %p", ptr))
	}
	if block.layout != layout {
		panic(errors.Wrapf(ErrLayoutMismatch, "block at %p was allocated as %s but released as %s", ptr, block.layout, layout))
	}

	globalHeap.blocks.Delete(uintptr(ptr))
}

// HeapBacked always reports true: a released block's backing slice stays alive for as long as
// anything points into it
func (g Global) HeapBacked() bool {
	return true
}

// Owns reports whether ptr is a live block of the global heap
func (g Global) Owns(ptr unsafe.Pointer) bool {
	globalHeap.Lock()
	defer globalHeap.Unlock()

	_, ok := globalHeap.blocks.Get(uintptr(ptr))
	return ok
}

// LiveBlocks returns the number of global heap blocks that have not been released
func (g Global) LiveBlocks() int {
	globalHeap.Lock()
	defer globalHeap.Unlock()

	return globalHeap.blocks.Count()
}
