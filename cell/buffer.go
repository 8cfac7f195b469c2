package cell

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pureheap/alloc"
)

// Buffer is a run of n values of T in one block of the Global allocator. A Buffer holding
// exactly one element can be handed to FromBuffer to become a Cell without copying.
type Buffer[T any] struct {
	ptr   unsafe.Pointer
	n     int
	freed bool

	cleanup    runtime.Cleanup
	hasCleanup bool
}

// NewBuffer allocates a zeroed Buffer of n elements on the Global allocator. A size that
// cannot be represented is reported through alloc.CapacityOverflow, and a failed allocation
// through alloc.HandleAllocError. Neither returns.
func NewBuffer[T any](n int) *Buffer[T] {
	if n < 0 {
		alloc.CapacityOverflow(errors.Newf("negative buffer length %d", n))
	}

	layout, err := alloc.ArrayLayout[T](n)
	if err != nil {
		alloc.CapacityOverflow(err)
	}
	if err := alloc.AllocGuard(layout); err != nil {
		alloc.CapacityOverflow(err)
	}

	if layout.IsZeroSized() {
		return &Buffer[T]{ptr: alloc.Dangling(), n: n}
	}

	ptr, err := alloc.Global{}.AllocZeroed(layout)
	if err != nil || ptr == nil {
		alloc.HandleAllocError(layout, err)
	}

	b := &Buffer[T]{ptr: ptr, n: n}
	b.cleanup = runtime.AddCleanup(b, releaseBlock[alloc.Global], release[alloc.Global]{ptr: ptr, layout: layout})
	b.hasCleanup = true
	return b
}

// Len returns the number of elements in the buffer
func (b *Buffer[T]) Len() int {
	return b.n
}

// Slice views the buffer's elements. The slice is only valid until the buffer is freed or
// handed to FromBuffer. Like the pointers from Cell.Ptr, it does not keep the buffer reachable.
func (b *Buffer[T]) Slice() []T {
	if b.freed {
		return nil
	}
	return unsafe.Slice((*T)(b.ptr), b.n)
}

// Ptr returns the first element, or nil once the buffer has been freed or handed to FromBuffer
func (b *Buffer[T]) Ptr() *T {
	return (*T)(b.ptr)
}

// IsFreed reports whether the buffer no longer owns its storage
func (b *Buffer[T]) IsFreed() bool {
	return b.freed
}

// Free releases the buffer's block. Calling Free again does nothing.
func (b *Buffer[T]) Free() {
	ptr, ok := b.forget()
	if !ok {
		return
	}

	layout, err := alloc.ArrayLayout[T](b.n)
	if err != nil {
		alloc.CapacityOverflow(err)
	}
	if layout.IsZeroSized() {
		return
	}

	alloc.Global{}.Dealloc(ptr, layout)
}

// forget gives up ownership of the block without releasing it
func (b *Buffer[T]) forget() (unsafe.Pointer, bool) {
	if b.freed {
		return nil, false
	}
	b.freed = true

	if b.hasCleanup {
		b.cleanup.Stop()
		b.hasCleanup = false
	}

	ptr := b.ptr
	b.ptr = nil
	return ptr, true
}

// FromBuffer converts a single-element buffer into a Cell that takes over its block. The
// buffer is left empty and must not be used again, though calling its Free does nothing.
//
// For a zero-sized T a buffer of any length is accepted, since every such buffer shares the
// same sentinel storage. Otherwise a buffer whose length is not exactly one would leave the
// cell releasing a block with the wrong layout, so FromBuffer panics with an error matching
// alloc.ErrLayoutMismatch. It also panics if the buffer was already freed.
func FromBuffer[T any](b *Buffer[T]) *Cell[T, alloc.Global] {
	layout := layoutOrOverflow[T]()

	if b.freed {
		panic(errors.Wrap(alloc.ErrUnknownBlock, "buffer has already been released"))
	}
	if !layout.IsZeroSized() && b.n != 1 {
		panic(errors.Wrapf(alloc.ErrLayoutMismatch, "cell needs a buffer of exactly one element, got %d", b.n))
	}

	ptr, _ := b.forget()
	if layout.IsZeroSized() {
		return &Cell[T, alloc.Global]{ptr: alloc.Dangling()}
	}

	c := &Cell[T, alloc.Global]{ptr: ptr}
	c.armCleanup(layout)
	return c
}
