package alloc

import "unsafe"

// Allocator is the capability set a Cell needs from its backing memory. Implementations are
// never asked for zero-sized layouts, must not retain ownership of blocks they hand out, and
// must treat Dealloc with the exact layout of the original request as the only valid release.
//
// Memory handed out by an Allocator is not scanned by the garbage collector. Values stored in
// it must not hold the only reference to Go heap objects.
type Allocator interface {
	// AllocZeroed returns a block of layout.Size() bytes aligned to layout.Align() with every
	// byte set to zero
	AllocZeroed(layout Layout) (unsafe.Pointer, error)
	// Alloc returns a block like AllocZeroed, but its contents are unspecified
	Alloc(layout Layout) (unsafe.Pointer, error)
	// Dealloc returns a block obtained from this allocator. layout must be the layout the block
	// was requested with.
	Dealloc(ptr unsafe.Pointer, layout Layout)
}

// HeapBacked is implemented by allocators whose blocks live on the Go heap. For these, a
// released block stays valid while any Go pointer still refers into it, and its address is not
// handed out again until the garbage collector has reclaimed it. Only such allocators may be
// released from a GC cleanup without leaving outstanding pointers dangling.
type HeapBacked interface {
	HeapBacked() bool
}

// IsHeapBacked reports whether a implements HeapBacked and its blocks are on the Go heap
func IsHeapBacked(a Allocator) bool {
	backed, ok := a.(HeapBacked)
	return ok && backed.HeapBacked()
}

var danglingBase uint64

// Dangling returns the sentinel address used for every zero-sized allocation. It is non-nil and
// fixed for the life of the process, but must never be read from or written to.
func Dangling() unsafe.Pointer {
	return unsafe.Pointer(&danglingBase)
}

func zeroBytes(ptr unsafe.Pointer, size uintptr) {
	clear(unsafe.Slice((*byte)(ptr), size))
}
