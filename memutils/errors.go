package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// AlignmentOverflowError is returned from CheckedAlignUp when rounding a value up to its alignment
// would not fit in the value's type
var AlignmentOverflowError error = errors.New("aligned value overflows")
