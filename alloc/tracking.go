package alloc

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/pureheap/internal/utils"
	"github.com/vkngwrapper/pureheap/memutils"
	"golang.org/x/exp/slog"
)

// TrackingCounts is the number of calls a Tracking allocator has forwarded
type TrackingCounts struct {
	ZeroedAllocs int
	UninitAllocs int
	Deallocs     int
}

// Tracking wraps another allocator and records every block that passes through it. A release of
// a block Tracking has not seen, or has already seen released, or with a layout other than the
// one it was allocated with, panics before it reaches the wrapped allocator.
type Tracking[A Allocator] struct {
	logger *slog.Logger
	mutex  sync.RWMutex
	inner  A

	counts    TrackingCounts
	live      *swiss.Map[uintptr, Layout]
	liveBytes int
	peakBytes int
}

// NewTracking wraps inner. logger may be nil.
func NewTracking[A Allocator](logger *slog.Logger, inner A) *Tracking[A] {
	return &Tracking[A]{
		logger: utils.LoggerOrDiscard(logger),
		inner:  inner,
		live:   swiss.NewMap[uintptr, Layout](16),
	}
}

func (t *Tracking[A]) AllocZeroed(layout Layout) (unsafe.Pointer, error) {
	t.logger.Debug("Tracking::AllocZeroed", slog.Any("Layout", layout))

	ptr, err := t.inner.AllocZeroed(layout)
	if err != nil {
		return nil, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.counts.ZeroedAllocs++
	t.record(ptr, layout)
	return ptr, nil
}

func (t *Tracking[A]) Alloc(layout Layout) (unsafe.Pointer, error) {
	t.logger.Debug("Tracking::Alloc", slog.Any("Layout", layout))

	ptr, err := t.inner.Alloc(layout)
	if err != nil {
		return nil, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.counts.UninitAllocs++
	t.record(ptr, layout)
	return ptr, nil
}

func (t *Tracking[A]) record(ptr unsafe.Pointer, layout Layout) {
	t.live.Put(uintptr(ptr), layout)
	t.liveBytes += int(layout.size)
	if t.liveBytes > t.peakBytes {
		t.peakBytes = t.liveBytes
	}
}

func (t *Tracking[A]) Dealloc(ptr unsafe.Pointer, layout Layout) {
	t.logger.Debug("Tracking::Dealloc", slog.Any("Layout", layout))

	t.mutex.Lock()
	allocated, ok := t.live.Get(uintptr(ptr))
	if !ok {
		t.mutex.Unlock()
		panic(errors.Wrapf(ErrUnknownBlock, "%p was never allocated or was already released", ptr))
	}
	if allocated != layout {
		t.mutex.Unlock()
		panic(errors.Wrapf(ErrLayoutMismatch, "block at %p was allocated as %s but released as %s", ptr, allocated, layout))
	}

	t.live.Delete(uintptr(ptr))
	t.liveBytes -= int(layout.size)
	t.counts.Deallocs++
	t.mutex.Unlock()

	t.inner.Dealloc(ptr, layout)
}

// Inner returns the wrapped allocator
func (t *Tracking[A]) Inner() A {
	return t.inner
}

// HeapBacked reports whether the wrapped allocator is heap backed
func (t *Tracking[A]) HeapBacked() bool {
	return IsHeapBacked(t.inner)
}

// Counts returns the number of calls forwarded so far
func (t *Tracking[A]) Counts() TrackingCounts {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.counts
}

// LiveBlocks returns the number of blocks allocated and not yet released
func (t *Tracking[A]) LiveBlocks() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.live.Count()
}

// IsLive reports whether ptr is a block allocated through t and not yet released
func (t *Tracking[A]) IsLive(ptr unsafe.Pointer) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	_, ok := t.live.Get(uintptr(ptr))
	return ok
}

// Statistics reports the live blocks as allocations. Tracking has no blocks of its own, so
// BlockCount and BlockBytes are always zero.
func (t *Tracking[A]) Statistics() memutils.Statistics {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return memutils.Statistics{
		AllocationCount: t.live.Count(),
		AllocationBytes: t.liveBytes,
	}
}

// BuildStatsString renders the call counts and live blocks as json
func (t *Tracking[A]) BuildStatsString() (string, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("ZeroedAllocs").Int(t.counts.ZeroedAllocs)
	obj.Name("UninitAllocs").Int(t.counts.UninitAllocs)
	obj.Name("Deallocs").Int(t.counts.Deallocs)
	obj.Name("LiveBlocks").Int(t.live.Count())
	obj.Name("LiveBytes").Int(t.liveBytes)
	obj.Name("PeakBytes").Int(t.peakBytes)

	obj.End()

	if err := writer.Error(); err != nil {
		return "", err
	}
	return string(writer.Bytes()), nil
}
