package alloc_test

import (
	"io"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pureheap/alloc"
	"github.com/vkngwrapper/pureheap/alloc/mocks"
	"github.com/vkngwrapper/pureheap/memutils/metadata"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func readyPool(t *testing.T, size int, options alloc.PoolOptions) *alloc.Pool {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	pool, err := alloc.NewPool(logger, alloc.Global{}, size, options)
	require.NoError(t, err)
	return pool
}

func mustLayout(t *testing.T, size, align uintptr) alloc.Layout {
	layout, err := alloc.NewLayout(size, align)
	require.NoError(t, err)
	return layout
}

func TestNewPoolValidation(t *testing.T) {
	_, err := alloc.NewPool(nil, nil, 1024, alloc.PoolOptions{})
	require.Error(t, err)

	_, err = alloc.NewPool(nil, alloc.Global{}, 0, alloc.PoolOptions{})
	require.Error(t, err)

	_, err = alloc.NewPool(nil, alloc.Global{}, 1024, alloc.PoolOptions{RegionAlignment: 24})
	require.True(t, errors.Is(err, alloc.ErrInvalidAlignment))
}

func TestPoolRegionComesFromBacking(t *testing.T) {
	ctrl := gomock.NewController(t)
	backing := mocks.NewMockAllocator(ctrl)

	region := make([]uint64, 64)
	regionLayout := mustLayout(t, 512, 8)

	backing.EXPECT().AllocZeroed(regionLayout).Return(unsafe.Pointer(&region[0]), nil)
	backing.EXPECT().Dealloc(unsafe.Pointer(&region[0]), regionLayout)

	pool, err := alloc.NewPool(nil, backing, 512, alloc.PoolOptions{RegionAlignment: 8})
	require.NoError(t, err)
	require.Equal(t, 512, pool.Size())

	ptr, err := pool.AllocZeroed(mustLayout(t, 16, 8))
	require.NoError(t, err)
	require.Equal(t, unsafe.Pointer(&region[0]), ptr)

	pool.Dealloc(ptr, mustLayout(t, 16, 8))
	require.NoError(t, pool.Destroy())
}

func TestPoolBackingFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	backing := mocks.NewMockAllocator(ctrl)
	backing.EXPECT().AllocZeroed(gomock.Any()).Return(unsafe.Pointer(nil), errors.Wrap(alloc.ErrAllocFailed, "refused"))

	_, err := alloc.NewPool(nil, backing, 4096, alloc.PoolOptions{})
	require.True(t, errors.Is(err, alloc.ErrAllocFailed))
}

func TestPoolAllocations(t *testing.T) {
	pool := readyPool(t, 1024, alloc.PoolOptions{})
	layout := mustLayout(t, 100, 16)

	ptrs := make([]unsafe.Pointer, 0, 4)
	for i := 0; i < 4; i++ {
		ptr, err := pool.AllocZeroed(layout)
		require.NoError(t, err)
		require.Zero(t, uintptr(ptr)%16)
		ptrs = append(ptrs, ptr)
	}

	for i := 1; i < len(ptrs); i++ {
		require.GreaterOrEqual(t, absDiff(uintptr(ptrs[i]), uintptr(ptrs[i-1])), uintptr(100))
	}

	require.Equal(t, 4, pool.LiveBlocks())
	require.NoError(t, pool.Validate())
	require.NoError(t, pool.CheckCorruption())

	stats := pool.Statistics()
	require.Equal(t, 1, stats.BlockCount)
	require.Equal(t, 1024, stats.BlockBytes)
	require.Equal(t, 4, stats.AllocationCount)
	require.Equal(t, 400, stats.AllocationBytes)

	for _, ptr := range ptrs {
		pool.Dealloc(ptr, layout)
	}
	require.Equal(t, 0, pool.LiveBlocks())
	require.NoError(t, pool.Validate())
	require.NoError(t, pool.Destroy())
}

func absDiff(a, b uintptr) uintptr {
	if a > b {
		return a - b
	}
	return b - a
}

func TestPoolReuseIsZeroed(t *testing.T) {
	pool := readyPool(t, 256, alloc.PoolOptions{Strategy: metadata.AllocationStrategyMinMemory})
	layout := mustLayout(t, 32, 8)

	ptr, err := pool.Alloc(layout)
	require.NoError(t, err)
	bytes := unsafe.Slice((*byte)(ptr), 32)
	for i := range bytes {
		bytes[i] = 0xff
	}
	pool.Dealloc(ptr, layout)

	again, err := pool.AllocZeroed(layout)
	require.NoError(t, err)
	require.Equal(t, ptr, again)
	require.Equal(t, make([]byte, 32), unsafe.Slice((*byte)(again), 32))

	pool.Dealloc(again, layout)
	require.NoError(t, pool.Destroy())
}

func TestPoolExhaustion(t *testing.T) {
	pool := readyPool(t, 128, alloc.PoolOptions{})
	layout := mustLayout(t, 64, 8)

	first, err := pool.Alloc(layout)
	require.NoError(t, err)
	second, err := pool.Alloc(layout)
	require.NoError(t, err)

	_, err = pool.Alloc(layout)
	require.True(t, errors.Is(err, alloc.ErrAllocFailed))

	pool.Dealloc(first, layout)
	third, err := pool.Alloc(layout)
	require.NoError(t, err)
	require.Equal(t, first, third)

	pool.Dealloc(second, layout)
	pool.Dealloc(third, layout)
	require.NoError(t, pool.Destroy())
}

func TestPoolRejectsLargeAlignment(t *testing.T) {
	pool := readyPool(t, 1024, alloc.PoolOptions{RegionAlignment: 64})

	_, err := pool.Alloc(mustLayout(t, 8, 128))
	require.True(t, errors.Is(err, alloc.ErrAllocFailed))

	_, err = pool.Alloc(mustLayout(t, 0, 8))
	require.True(t, errors.Is(err, alloc.ErrZeroSized))

	require.NoError(t, pool.Destroy())
}

func TestPoolDeallocMisuse(t *testing.T) {
	pool := readyPool(t, 1024, alloc.PoolOptions{})
	layout := mustLayout(t, 16, 8)

	ptr, err := pool.Alloc(layout)
	require.NoError(t, err)

	err = capturePanic(t, func() {
		pool.Dealloc(ptr, mustLayout(t, 32, 8))
	})
	require.True(t, errors.Is(err, alloc.ErrLayoutMismatch))

	pool.Dealloc(ptr, layout)

	err = capturePanic(t, func() {
		pool.Dealloc(ptr, layout)
	})
	require.True(t, errors.Is(err, alloc.ErrUnknownBlock))

	require.NoError(t, pool.Destroy())
}

func TestPoolDestroy(t *testing.T) {
	pool := readyPool(t, 1024, alloc.PoolOptions{})
	layout := mustLayout(t, 16, 8)

	ptr, err := pool.Alloc(layout)
	require.NoError(t, err)
	require.Error(t, pool.Destroy())

	pool.Dealloc(ptr, layout)
	require.NoError(t, pool.Destroy())
	require.Error(t, pool.Destroy())
	require.Error(t, pool.CheckCorruption())

	_, err = pool.Alloc(layout)
	require.True(t, errors.Is(err, alloc.ErrAllocFailed))
}

func TestPoolExternallySynchronized(t *testing.T) {
	pool := readyPool(t, 1024, alloc.PoolOptions{Flags: alloc.PoolCreateExternallySynchronized})
	layout := mustLayout(t, 16, 8)

	ptr, err := pool.AllocZeroed(layout)
	require.NoError(t, err)
	pool.Dealloc(ptr, layout)
	require.NoError(t, pool.Destroy())
}

func TestPoolDetailedStatistics(t *testing.T) {
	pool := readyPool(t, 1024, alloc.PoolOptions{})

	small := mustLayout(t, 16, 8)
	large := mustLayout(t, 256, 8)

	a, err := pool.Alloc(small)
	require.NoError(t, err)
	b, err := pool.Alloc(large)
	require.NoError(t, err)

	stats := pool.DetailedStatistics()
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 272, stats.AllocationBytes)
	require.Equal(t, 16, stats.AllocationSizeMin)
	require.Equal(t, 256, stats.AllocationSizeMax)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, 1024-272, stats.UnusedRangeSizeMax)

	pool.Dealloc(a, small)
	pool.Dealloc(b, large)
	require.NoError(t, pool.Destroy())
}

func TestPoolBuildStatsString(t *testing.T) {
	pool := readyPool(t, 1024, alloc.PoolOptions{
		Flags:           alloc.PoolCreateExternallySynchronized,
		Strategy:        metadata.AllocationStrategyMinMemory,
		RegionAlignment: 256,
	})
	layout := mustLayout(t, 128, 8)

	ptr, err := pool.Alloc(layout)
	require.NoError(t, err)

	stats, err := pool.BuildStatsString()
	require.NoError(t, err)
	require.JSONEq(t, `{
		"Flags": "PoolCreateExternallySynchronized",
		"Strategy": "MinMemory",
		"RegionAlignment": 256,
		"Statistics": {
			"BlockCount": 1,
			"BlockBytes": 1024,
			"AllocationCount": 1,
			"AllocationBytes": 128,
			"UnusedRangeCount": 1,
			"AllocationSizeMin": 128,
			"AllocationSizeMax": 128,
			"UnusedRangeSizeMin": 896,
			"UnusedRangeSizeMax": 896
		},
		"Block": {
			"TotalBytes": 1024,
			"UnusedBytes": 896,
			"Allocations": 1,
			"UnusedRanges": 1,
			"Regions": [
				{"Offset": 0, "Size": 128, "Free": false},
				{"Offset": 128, "Size": 896, "Free": true}
			]
		}
	}`, stats)

	pool.Dealloc(ptr, layout)
	require.NoError(t, pool.Destroy())
}
