package alloc

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrCapacityOverflow indicates that a requested size cannot be represented on this platform
	ErrCapacityOverflow = errors.New("capacity overflow")
	// ErrAllocFailed indicates that an allocator could not satisfy a request
	ErrAllocFailed = errors.New("memory allocation failed")
	// ErrInvalidAlignment indicates that an alignment was zero or not a power of two
	ErrInvalidAlignment = errors.New("invalid alignment")
	// ErrZeroSized is returned when an allocator is asked for a zero-sized block. Zero-sized
	// storage is represented by Dangling and never reaches an allocator.
	ErrZeroSized = errors.New("allocators cannot serve zero-sized layouts")
	// ErrLayoutMismatch indicates that a block was released with a layout other than the one
	// it was allocated with
	ErrLayoutMismatch = errors.New("layout does not match the allocation")
	// ErrUnknownBlock indicates that a pointer was released to an allocator that does not
	// currently own it, including a pointer that was already released
	ErrUnknownBlock = errors.New("pointer is not a live allocation of this allocator")
)

// AllocError is the value HandleAllocError panics with
type AllocError struct {
	Layout Layout
	cause  error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("memory allocation of %s failed: %v", e.Layout, e.cause)
}

func (e *AllocError) Unwrap() error {
	return e.cause
}
