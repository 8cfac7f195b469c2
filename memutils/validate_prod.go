//go:build !debug_mem_utils

package memutils

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

const (
	// DebugMargin is the number of bytes reserved after each suballocation to hold a corruption
	// marker
	DebugMargin int = 0
)

// ValidateMagicValue reports whether the marker written by WriteMagicValue at data+offset is intact.
// This method always returns true unless the debug_mem_utils build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// WriteMagicValue fills DebugMargin bytes at data+offset with the corruption marker.
// This method no-ops unless the debug_mem_utils build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
}

// DebugValidate calls Validate and panics on error. This method no-ops unless the
// debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 panics if value is not a power of two. This method no-ops unless the
// debug_mem_utils build tag is present.
func DebugCheckPow2[T constraints.Integer](value T, name string) {
}
