// Package cell provides Cell, an owning handle to exactly one value of some type stored in
// memory obtained from an alloc.Allocator.
//
// A Cell owns both its block and its allocator. The block is sized and aligned for one T, is
// never resized, and is released exactly once through Free, with the same layout it was
// requested with. Zero-sized types never reach the allocator: their storage is the shared
// alloc.Dangling sentinel.
//
// A Cell manages storage only. Nothing is constructed or destroyed inside it; the value at Ptr
// starts out zeroed or unspecified, depending on how the cell was created.
//
// When the allocator is heap backed (see alloc.HeapBacked), a cell that becomes unreachable
// without being freed is released by a GC cleanup. Cells on any other allocator are only ever
// released by Free, and a forgotten one leaks its block. In both cases the pointers returned by
// Ptr and UnsafePointer do not keep the cell reachable: keep the cell alive for as long as they
// are used, with runtime.KeepAlive(c) after the last use if nothing else refers to it.
package cell

import (
	"runtime"
	"unsafe"

	"github.com/vkngwrapper/pureheap/alloc"
)

// Cell owns one block of memory holding a T, and the allocator of type A that the block came
// from. The allocator is stored by value, so calls to it are statically dispatched.
//
// A Cell is not safe for concurrent use.
type Cell[T any, A alloc.Allocator] struct {
	ptr   unsafe.Pointer
	a     A
	freed bool

	cleanup    runtime.Cleanup
	hasCleanup bool
}

type release[A alloc.Allocator] struct {
	ptr    unsafe.Pointer
	a      A
	layout alloc.Layout
}

func releaseBlock[A alloc.Allocator](r release[A]) {
	r.a.Dealloc(r.ptr, r.layout)
}

// New creates a cell on the Global allocator with zeroed storage.
//
// If the allocator cannot provide the storage, New reports it through alloc.HandleAllocError,
// which does not return.
func New[T any]() *Cell[T, alloc.Global] {
	return NewIn[T](alloc.Global{})
}

// NewIn creates a cell on a with zeroed storage. The cell takes ownership of a.
//
// If the allocator cannot provide the storage, NewIn reports it through alloc.HandleAllocError,
// which does not return.
func NewIn[T any, A alloc.Allocator](a A) *Cell[T, A] {
	return allocateIn[T](true, a)
}

// NewUninitIn creates a cell on a without asking for the storage to be zeroed. Its contents
// are whatever the allocator handed out. The cell takes ownership of a.
func NewUninitIn[T any, A alloc.Allocator](a A) *Cell[T, A] {
	return allocateIn[T](false, a)
}

func layoutOrOverflow[T any]() alloc.Layout {
	layout, err := alloc.LayoutFor[T]()
	if err != nil {
		alloc.CapacityOverflow(err)
	}

	if err := alloc.AllocGuard(layout); err != nil {
		alloc.CapacityOverflow(err)
	}

	return layout
}

func allocateIn[T any, A alloc.Allocator](zeroed bool, a A) *Cell[T, A] {
	layout := layoutOrOverflow[T]()

	if layout.IsZeroSized() {
		return &Cell[T, A]{ptr: alloc.Dangling(), a: a}
	}

	var ptr unsafe.Pointer
	var err error
	if zeroed {
		ptr, err = a.AllocZeroed(layout)
	} else {
		ptr, err = a.Alloc(layout)
	}

	if err != nil || ptr == nil {
		alloc.HandleAllocError(layout, err)
	}

	c := &Cell[T, A]{ptr: ptr, a: a}
	if alloc.IsHeapBacked(a) {
		c.armCleanup(layout)
	}
	return c
}

// UnsafeFromRawParts builds a cell around storage that already exists. Nothing is checked.
//
// The caller guarantees that ptr is either a live block obtained from a with exactly the layout
// of T, or alloc.Dangling when T is zero-sized, and that nothing else will release it. The
// cell does not register a cleanup: disposing of it, normally by calling Free, remains the
// caller's responsibility.
func UnsafeFromRawParts[T any, A alloc.Allocator](ptr unsafe.Pointer, a A) *Cell[T, A] {
	return &Cell[T, A]{ptr: ptr, a: a}
}

// armCleanup releases the block if the cell becomes unreachable without being freed. It is only
// safe for heap backed allocators, whose blocks outlive any pointer still held into them.
func (c *Cell[T, A]) armCleanup(layout alloc.Layout) {
	c.cleanup = runtime.AddCleanup(c, releaseBlock[A], release[A]{ptr: c.ptr, a: c.a, layout: layout})
	c.hasCleanup = true
}

// Ptr returns the cell's storage. For a zero-sized T this is the alloc.Dangling sentinel and
// must not be dereferenced. After Free it is nil.
//
// The returned pointer does not keep the cell alive. The cell must stay reachable while the
// pointer is in use, for instance with runtime.KeepAlive(c) after the last access.
func (c *Cell[T, A]) Ptr() *T {
	return (*T)(c.ptr)
}

// UnsafePointer returns the cell's storage as an unsafe.Pointer. As with Ptr, the cell must
// stay reachable while the pointer is in use.
func (c *Cell[T, A]) UnsafePointer() unsafe.Pointer {
	return c.ptr
}

// Allocator returns a copy of the cell's allocator. When A is a pointer type, the copy refers
// to the same allocator.
func (c *Cell[T, A]) Allocator() A {
	return c.a
}

// AllocatorMut borrows the cell's allocator so allocator-specific methods can be driven through
// it. The cell must outlive the borrow, and the allocator must not be replaced through it.
func (c *Cell[T, A]) AllocatorMut() *A {
	return &c.a
}

// IsFreed reports whether Free has been called
func (c *Cell[T, A]) IsFreed() bool {
	return c.freed
}

// Free releases the cell's storage back to its allocator. The allocator sees exactly one
// Dealloc call carrying the layout of T, or none for a zero-sized T. Calling Free again does
// nothing.
func (c *Cell[T, A]) Free() {
	if c.freed {
		return
	}
	c.freed = true

	if c.hasCleanup {
		c.cleanup.Stop()
		c.hasCleanup = false
	}

	ptr := c.ptr
	c.ptr = nil
	c.deallocate(ptr)
}

func (c *Cell[T, A]) deallocate(ptr unsafe.Pointer) {
	layout, err := alloc.LayoutFor[T]()
	if err != nil {
		alloc.CapacityOverflow(err)
	}

	if layout.IsZeroSized() {
		return
	}

	c.a.Dealloc(ptr, layout)
}
