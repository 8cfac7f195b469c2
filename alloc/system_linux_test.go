//go:build linux

package alloc_test

import (
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pureheap/alloc"
)

func TestSystemAllocations(t *testing.T) {
	for _, layout := range []alloc.Layout{
		mustLayout(t, 1, 1),
		mustLayout(t, 100, 8),
		mustLayout(t, 4096, 4096),
		mustLayout(t, 10000, 1<<16),
		mustLayout(t, 4_000_000, 4),
	} {
		ptr, err := alloc.System{}.AllocZeroed(layout)
		require.NoError(t, err, layout.String())
		require.Zero(t, uintptr(ptr)%layout.Align(), layout.String())

		bytes := unsafe.Slice((*byte)(ptr), layout.Size())
		require.Zero(t, bytes[0])
		require.Zero(t, bytes[len(bytes)-1])

		bytes[0] = 1
		bytes[len(bytes)-1] = 2

		alloc.System{}.Dealloc(ptr, layout)
	}
}

func TestSystemRejectsZeroSized(t *testing.T) {
	_, err := alloc.System{}.Alloc(mustLayout(t, 0, 8))
	require.True(t, errors.Is(err, alloc.ErrZeroSized))
}

func TestSystemDeallocMisaligned(t *testing.T) {
	layout := mustLayout(t, 64, 64)
	ptr, err := alloc.System{}.Alloc(layout)
	require.NoError(t, err)

	err = capturePanic(t, func() {
		alloc.System{}.Dealloc(unsafe.Add(ptr, 8), layout)
	})
	require.True(t, errors.Is(err, alloc.ErrLayoutMismatch))

	alloc.System{}.Dealloc(ptr, layout)
}
