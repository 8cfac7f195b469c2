package alloc

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/pureheap/internal/utils"
	"github.com/vkngwrapper/pureheap/memutils/metadata"
	"golang.org/x/exp/slog"
)

// PoolCreateFlags indicate specific pool behaviors to activate or deactivate
type PoolCreateFlags int32

const (
	// PoolCreateExternallySynchronized ensures that the pool will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time. Cells never release
	// pool blocks from a GC cleanup, so only the consumer's own calls need to be serialized.
	PoolCreateExternallySynchronized PoolCreateFlags = 1 << iota
)

var poolCreateFlagsMapping = map[PoolCreateFlags]string{
	PoolCreateExternallySynchronized: "PoolCreateExternallySynchronized",
}

func (f PoolCreateFlags) String() string {
	var names []string
	for flag, name := range poolCreateFlagsMapping {
		if f&flag != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

const (
	// defaultPoolRegionAlignment is the RegionAlignment used when none is provided via PoolOptions.
	// It also caps the alignment of any block the pool hands out.
	defaultPoolRegionAlignment uintptr = 4096
)

// PoolOptions contains optional settings when creating a Pool
type PoolOptions struct {
	// Flags indicates specific pool behaviors to activate or deactivate
	Flags PoolCreateFlags
	// Strategy chooses how free space is selected for new blocks. The zero value balances
	// speed against fragmentation.
	Strategy metadata.AllocationStrategy
	// RegionAlignment is the alignment of the region requested from the backing allocator, and
	// the largest alignment the pool can serve. It must be a power of two; zero selects 4096.
	RegionAlignment uintptr
}

// NewPool creates a Pool that manages one region of size bytes obtained from backing. The region
// is returned to backing by Destroy.
//
// logger - Receives debug output for every pool operation. May be nil.
//
// backing - The allocator the region is requested from
//
// size - The size of the region in bytes
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewPool(logger *slog.Logger, backing Allocator, size int, options PoolOptions) (*Pool, error) {
	if backing == nil {
		return nil, errors.New("a pool requires a backing allocator")
	}
	if size < 1 {
		return nil, errors.Newf("invalid pool size: %d", size)
	}

	regionAlignment := options.RegionAlignment
	if regionAlignment == 0 {
		regionAlignment = defaultPoolRegionAlignment
	}

	regionLayout, err := NewLayout(uintptr(size), regionAlignment)
	if err != nil {
		return nil, err
	}

	if err := AllocGuard(regionLayout); err != nil {
		return nil, err
	}

	region, err := backing.AllocZeroed(regionLayout)
	if err != nil {
		return nil, errors.Wrapf(err, "could not obtain a pool region of %s", regionLayout)
	}

	pool := &Pool{
		logger:       utils.LoggerOrDiscard(logger),
		mutex:        utils.OptionalMutex{UseMutex: options.Flags&PoolCreateExternallySynchronized == 0},
		flags:        options.Flags,
		strategy:     options.Strategy,
		backing:      backing,
		region:       region,
		regionLayout: regionLayout,
		metadata:     metadata.NewTLSFBlockMetadata(),
		live:         swiss.NewMap[uintptr, poolBlock](16),
	}
	pool.metadata.Init(size)

	pool.logger.Debug("Pool::New",
		slog.Int("Size", size),
		slog.String("Flags", options.Flags.String()),
		slog.String("Strategy", options.Strategy.String()),
	)

	return pool, nil
}
