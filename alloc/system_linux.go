//go:build linux

package alloc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pureheap/memutils"
	"golang.org/x/sys/unix"
)

// System maps every block directly from the operating system as anonymous private memory and
// unmaps it on release. Each block occupies whole pages, which makes System a poor fit for
// small values but lets large ones bypass the Go heap entirely. Mapped memory is always zeroed.
type System struct{}

var _ Allocator = System{}

func (s System) AllocZeroed(layout Layout) (unsafe.Pointer, error) {
	return s.mmap(layout)
}

func (s System) Alloc(layout Layout) (unsafe.Pointer, error) {
	return s.mmap(layout)
}

func (s System) mappedLength(layout Layout) uintptr {
	return memutils.AlignUp(layout.size, uintptr(unix.Getpagesize()))
}

func (s System) mmap(layout Layout) (unsafe.Pointer, error) {
	if layout.IsZeroSized() {
		return nil, errors.WithStack(ErrZeroSized)
	}

	pageSize := uintptr(unix.Getpagesize())
	length := s.mappedLength(layout)

	// Mappings are page aligned, so larger alignments over-map and trim the excess
	mapped := length
	if layout.align > pageSize {
		mapped += layout.align - pageSize
	}

	base, err := unix.MmapPtr(-1, 0, nil, mapped, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "mmap of %d bytes", mapped), ErrAllocFailed)
	}

	head := memutils.AlignUp(uintptr(base), layout.align) - uintptr(base)
	ptr := unsafe.Add(base, head)

	if head > 0 {
		if err := unix.MunmapPtr(base, head); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "trimming mapping head"), ErrAllocFailed)
		}
	}

	if tail := mapped - head - length; tail > 0 {
		if err := unix.MunmapPtr(unsafe.Add(ptr, length), tail); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "trimming mapping tail"), ErrAllocFailed)
		}
	}

	return ptr, nil
}

func (s System) Dealloc(ptr unsafe.Pointer, layout Layout) {
	if uintptr(ptr)&(layout.align-1) != 0 {
		panic(errors.Wrapf(ErrLayoutMismatch, "%p is not aligned to %d", ptr, layout.align))
	}

	if err := unix.MunmapPtr(ptr, s.mappedLength(layout)); err != nil {
		panic(errors.Mark(errors.Wrapf(err, "munmap of %p", ptr), ErrUnknownBlock))
	}
}
