package cell_test

import (
	"math"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pureheap/alloc"
	"github.com/vkngwrapper/pureheap/alloc/mocks"
	"github.com/vkngwrapper/pureheap/cell"
	"github.com/vkngwrapper/pureheap/memutils/metadata"
	"go.uber.org/mock/gomock"
)

type point struct {
	X, Y int32
}

type empty struct{}

func recoverError(t *testing.T, f func()) (err error) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")

		var ok bool
		err, ok = r.(error)
		require.True(t, ok, "expected to panic with an error, got %v", r)
	}()

	f()
	return nil
}

func TestNewIsZeroedAndWritable(t *testing.T) {
	c := cell.New[point]()
	defer c.Free()

	require.NotNil(t, c.Ptr())
	require.Equal(t, point{}, *c.Ptr())

	c.Ptr().X = 3
	c.Ptr().Y = -4
	require.Equal(t, point{X: 3, Y: -4}, *c.Ptr())
	require.Equal(t, unsafe.Pointer(c.Ptr()), c.UnsafePointer())
}

func TestLiveCellsDoNotAlias(t *testing.T) {
	cells := make([]*cell.Cell[uint64, alloc.Global], 32)
	for i := range cells {
		cells[i] = cell.New[uint64]()
		*cells[i].Ptr() = uint64(i)
	}

	seen := make(map[unsafe.Pointer]struct{})
	for i, c := range cells {
		_, dup := seen[c.UnsafePointer()]
		require.False(t, dup)
		seen[c.UnsafePointer()] = struct{}{}

		require.Equal(t, uint64(i), *c.Ptr())
		require.Zero(t, uintptr(c.UnsafePointer())%unsafe.Alignof(uint64(0)))
	}

	for _, c := range cells {
		c.Free()
	}
}

func TestFreeReleasesAndIsIdempotent(t *testing.T) {
	c := cell.New[[24]byte]()
	ptr := c.UnsafePointer()
	require.True(t, alloc.Global{}.Owns(ptr))
	require.False(t, c.IsFreed())

	c.Free()
	require.True(t, c.IsFreed())
	require.Nil(t, c.Ptr())
	require.False(t, alloc.Global{}.Owns(ptr))

	c.Free()
	require.True(t, c.IsFreed())
}

func TestZeroSizedCellsShareSentinel(t *testing.T) {
	a := cell.New[empty]()
	b := cell.New[[0]uint64]()

	require.Equal(t, alloc.Dangling(), a.UnsafePointer())
	require.Equal(t, alloc.Dangling(), b.UnsafePointer())
	require.NotNil(t, a.Ptr())

	a.Free()
	b.Free()
	require.True(t, a.IsFreed())
}

func TestZeroSizedNeverReachesAllocator(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAlloc := mocks.NewMockAllocator(ctrl)

	c := cell.NewIn[empty](mockAlloc)
	require.Equal(t, alloc.Dangling(), c.UnsafePointer())

	u := cell.NewUninitIn[struct{}](mockAlloc)
	require.Equal(t, c.UnsafePointer(), u.UnsafePointer())

	c.Free()
	u.Free()
}

func TestFreeDeallocsExactlyOnceWithLayout(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAlloc := mocks.NewMockAllocator(ctrl)

	layout, err := alloc.LayoutFor[point]()
	require.NoError(t, err)
	require.Equal(t, uintptr(8), layout.Size())
	require.Equal(t, uintptr(4), layout.Align())

	backing := new(point)
	mockAlloc.EXPECT().AllocZeroed(layout).Return(unsafe.Pointer(backing), nil)
	mockAlloc.EXPECT().Dealloc(unsafe.Pointer(backing), layout).Times(1)

	c := cell.NewIn[point](mockAlloc)
	require.Equal(t, backing, c.Ptr())
	require.Same(t, mockAlloc, c.Allocator())

	c.Free()
	c.Free()
}

func TestNewUninitInRequestsUninitializedMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAlloc := mocks.NewMockAllocator(ctrl)

	layout, err := alloc.LayoutFor[uint32]()
	require.NoError(t, err)

	backing := new(uint32)
	*backing = 0xdeadbeef
	mockAlloc.EXPECT().Alloc(layout).Return(unsafe.Pointer(backing), nil)
	mockAlloc.EXPECT().Dealloc(unsafe.Pointer(backing), layout)

	c := cell.NewUninitIn[uint32](mockAlloc)
	require.Equal(t, uint32(0xdeadbeef), *c.Ptr())
	c.Free()
}

func TestAllocFailurePanics(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAlloc := mocks.NewMockAllocator(ctrl)

	layout, err := alloc.LayoutFor[uint64]()
	require.NoError(t, err)

	mockAlloc.EXPECT().AllocZeroed(layout).Return(unsafe.Pointer(nil), errors.New("no room"))

	err = recoverError(t, func() {
		cell.NewIn[uint64](mockAlloc)
	})
	require.True(t, errors.Is(err, alloc.ErrAllocFailed))

	var allocErr *alloc.AllocError
	require.True(t, errors.As(err, &allocErr))
	require.Equal(t, layout, allocErr.Layout)
	require.Contains(t, err.Error(), "no room")
}

func TestNilPointerWithoutErrorIsAFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAlloc := mocks.NewMockAllocator(ctrl)

	mockAlloc.EXPECT().Alloc(gomock.Any()).Return(unsafe.Pointer(nil), nil)

	err := recoverError(t, func() {
		cell.NewUninitIn[int64](mockAlloc)
	})
	require.True(t, errors.Is(err, alloc.ErrAllocFailed))
}

func TestAllocErrorHookSeesFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAlloc := mocks.NewMockAllocator(ctrl)
	mockAlloc.EXPECT().AllocZeroed(gomock.Any()).Return(unsafe.Pointer(nil), errors.New("exhausted"))

	var reported error
	alloc.SetAllocErrorHook(func(err error) {
		reported = err
	})
	defer alloc.TakeAllocErrorHook()

	err := recoverError(t, func() {
		cell.NewIn[[16]byte](mockAlloc)
	})

	require.Error(t, reported)
	require.Equal(t, err, reported)
}

func TestLargeValue(t *testing.T) {
	c := cell.New[[1000][1000]int32]()
	defer c.Free()

	require.Equal(t, uintptr(4_000_000), unsafe.Sizeof(*c.Ptr()))
	require.Equal(t, int32(0), c.Ptr()[999][999])

	c.Ptr()[999][999] = 7
	c.Ptr()[0][0] = -7
	require.Equal(t, int32(7), c.Ptr()[999][999])
	require.Equal(t, int32(-7), c.Ptr()[0][0])
}

func TestPoolReusesReleasedAddress(t *testing.T) {
	pool, err := alloc.NewPool(nil, alloc.Global{}, 4096, alloc.PoolOptions{
		Strategy: metadata.AllocationStrategyMinMemory,
	})
	require.NoError(t, err)

	first := cell.NewIn[point](pool)
	addr := first.UnsafePointer()
	first.Free()
	require.Equal(t, 0, pool.LiveBlocks())

	second := cell.NewIn[point](pool)
	require.Equal(t, addr, second.UnsafePointer())
	require.Equal(t, point{}, *second.Ptr())
	require.Equal(t, 1, pool.LiveBlocks())

	second.Free()
	require.NoError(t, pool.Destroy())
}

func TestPoolExhaustionPanics(t *testing.T) {
	pool, err := alloc.NewPool(nil, alloc.Global{}, 64, alloc.PoolOptions{})
	require.NoError(t, err)

	err = recoverError(t, func() {
		cell.NewIn[[128]byte](pool)
	})
	require.True(t, errors.Is(err, alloc.ErrAllocFailed))
	require.NoError(t, pool.Destroy())
}

func TestAllocatorMutReachesOwnedAllocator(t *testing.T) {
	tracking := alloc.NewTracking(nil, alloc.Global{})

	c := cell.NewIn[uint16](tracking)
	require.Same(t, tracking, c.Allocator())
	require.Same(t, tracking, *c.AllocatorMut())
	require.True(t, (*c.AllocatorMut()).IsLive(c.UnsafePointer()))

	c.Free()
	require.Equal(t, alloc.TrackingCounts{ZeroedAllocs: 1, Deallocs: 1}, tracking.Counts())
	require.Equal(t, 0, tracking.LiveBlocks())
}

func TestUnsafeFromRawParts(t *testing.T) {
	layout, err := alloc.LayoutFor[uint64]()
	require.NoError(t, err)

	ptr, err := alloc.Global{}.AllocZeroed(layout)
	require.NoError(t, err)
	*(*uint64)(ptr) = 99

	c := cell.UnsafeFromRawParts[uint64](ptr, alloc.Global{})
	require.Equal(t, uint64(99), *c.Ptr())

	c.Free()
	require.False(t, alloc.Global{}.Owns(ptr))
}

func TestUnsafeFromRawPartsZeroSized(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAlloc := mocks.NewMockAllocator(ctrl)

	c := cell.UnsafeFromRawParts[empty](alloc.Dangling(), mockAlloc)
	c.Free()
}

func TestCapacityOverflowPanics(t *testing.T) {
	err := recoverError(t, func() {
		cell.NewBuffer[uint64](math.MaxInt)
	})
	require.True(t, errors.Is(err, alloc.ErrCapacityOverflow))

	err = recoverError(t, func() {
		cell.NewBuffer[uint64](-1)
	})
	require.True(t, errors.Is(err, alloc.ErrCapacityOverflow))
}
