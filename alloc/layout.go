package alloc

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pureheap/memutils"
)

// Layout is the size and alignment of a block of memory. A valid Layout has a power-of-two
// alignment and a size that, rounded up to that alignment, does not exceed math.MaxInt.
type Layout struct {
	size  uintptr
	align uintptr
}

// NewLayout validates size and align and builds a Layout from them
func NewLayout(size, align uintptr) (Layout, error) {
	if err := memutils.CheckPow2(align, "align"); err != nil {
		return Layout{}, errors.Mark(err, ErrInvalidAlignment)
	}

	if _, err := memutils.CheckedAlignUp(uint64(size), uint64(align), math.MaxInt); err != nil {
		return Layout{}, errors.Mark(err, ErrCapacityOverflow)
	}

	return Layout{size: size, align: align}, nil
}

// LayoutFor returns the layout of one value of T
func LayoutFor[T any]() (Layout, error) {
	// Sizeof does not evaluate its operand, so this never dereferences nil
	var ptr *T
	return NewLayout(unsafe.Sizeof(*ptr), unsafe.Alignof(*ptr))
}

// ArrayLayout returns the layout of n contiguous values of T
func ArrayLayout[T any](n int) (Layout, error) {
	elem, err := LayoutFor[T]()
	if err != nil {
		return Layout{}, err
	}

	if n < 0 {
		return Layout{}, errors.Wrapf(ErrCapacityOverflow, "negative element count %d", n)
	}

	hi, lo := bits.Mul64(uint64(elem.size), uint64(n))
	if hi != 0 || lo > math.MaxInt {
		return Layout{}, errors.Wrapf(ErrCapacityOverflow, "%d elements of %d bytes", n, elem.size)
	}

	return NewLayout(uintptr(lo), elem.align)
}

func (l Layout) Size() uintptr { return l.size }

func (l Layout) Align() uintptr { return l.align }

// IsZeroSized reports whether the layout describes storage that occupies no bytes
func (l Layout) IsZeroSized() bool { return l.size == 0 }

func (l Layout) String() string {
	return fmt.Sprintf("%d bytes (align %d)", l.size, l.align)
}

// AllocGuard rejects sizes that would overflow the signed offset type on platforms where int is
// narrower than 64 bits. It must pass before any allocator is called.
func AllocGuard(l Layout) error {
	if strconv.IntSize < 64 && uint64(l.size) > math.MaxInt {
		return errors.Wrapf(ErrCapacityOverflow, "allocation of %d bytes", l.size)
	}
	return nil
}
