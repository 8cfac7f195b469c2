package memutils

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns PowerOfTwoError, annotated with name, if number is zero or not a power of two
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T constraints.Integer](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown[T constraints.Integer](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// CheckedAlignUp behaves like AlignUp, but returns AlignmentOverflowError instead of wrapping
// around when the aligned value does not fit below limit.
func CheckedAlignUp(value, alignment, limit uint64) (uint64, error) {
	if alignment == 0 || value > limit || limit-value < alignment-1 {
		return 0, errors.Wrapf(AlignmentOverflowError, "value %d aligned to %d exceeds %d", value, alignment, limit)
	}

	aligned := AlignUp(value, alignment)
	if aligned > limit {
		return 0, errors.Wrapf(AlignmentOverflowError, "value %d aligned to %d exceeds %d", value, alignment, limit)
	}
	return aligned, nil
}
