package gpumem

import (
	"github.com/joshuapare/gpumem/internal/pow2"
	"github.com/joshuapare/gpumem/mem"
)

// Defaults applied by New when an option is zero.
const (
	// DefaultPreferredMemorySize is the size used for non-standalone
	// backing memories.
	DefaultPreferredMemorySize = 4 << 20

	// DefaultMaxMemorySize bounds any single backing memory.
	DefaultMaxMemorySize = 32 << 30

	// DefaultFragmentationLimit rejects slab classes wasting more than
	// this fraction of a block.
	DefaultFragmentationLimit = 0.125

	// PlacementAlignment is the default placement alignment for
	// resources and heaps.
	PlacementAlignment = 64 << 10

	// SmallPlacementAlignment is used by small textures.
	SmallPlacementAlignment = 4 << 10
)

// Options configures the allocator facade.
type Options struct {
	// Backend supplies driver heaps, fences, and budgets. Required.
	Backend mem.Backend

	// PreferredMemorySize is the size of non-standalone backing
	// memories. Defaults to DefaultPreferredMemorySize.
	PreferredMemorySize uint64

	// MaxMemorySize is the upper bound enforced by the facade; larger
	// requests fail. Defaults to DefaultMaxMemorySize.
	MaxMemorySize uint64

	// FragmentationLimit rejects slab classes whose internal
	// fragmentation would exceed this fraction. Defaults to
	// DefaultFragmentationLimit.
	FragmentationLimit float64

	// UMA treats all heap kinds as device-local, the way unified memory
	// adapters report budgets.
	UMA bool

	// AlwaysCommitted disables sub-allocation: every resource gets its
	// own committed memory.
	AlwaysCommitted bool

	// AlwaysOnDemand disables pooling: released memories are destroyed
	// instead of recycled.
	AlwaysOnDemand bool

	// AlwaysInBudget pre-evicts through the residency manager before
	// any new memory is created.
	AlwaysInBudget bool

	// DisablePrefetch turns off slab prefetch.
	DisablePrefetch bool

	// DisableSizeCache skips the construction-time priming of common
	// request shapes.
	DisableSizeCache bool

	// MaxVideoMemoryBudget, TotalResourceBudgetLimit, and EvictSize are
	// residency budget parameters; see residency.Options.
	MaxVideoMemoryBudget     float64
	TotalResourceBudgetLimit uint64
	EvictSize                uint64

	// EventSink receives trace events. Nil disables tracing.
	EventSink mem.EventSink
}

func (o *Options) withDefaults() (Options, error) {
	out := *o
	if out.Backend == nil {
		return out, mem.InvalidArgumentf("gpumem: nil backend")
	}
	if out.PreferredMemorySize == 0 {
		out.PreferredMemorySize = DefaultPreferredMemorySize
	}
	if out.MaxMemorySize == 0 {
		out.MaxMemorySize = DefaultMaxMemorySize
	}
	if out.FragmentationLimit == 0 {
		out.FragmentationLimit = DefaultFragmentationLimit
	}
	if !pow2.IsPowerOfTwo(out.PreferredMemorySize) {
		return out, mem.InvalidArgumentf("gpumem: preferred memory size must be a power of two, got %d", out.PreferredMemorySize)
	}
	if out.PreferredMemorySize > out.MaxMemorySize {
		return out, mem.InvalidArgumentf("gpumem: preferred memory size %d exceeds max %d", out.PreferredMemorySize, out.MaxMemorySize)
	}
	return out, nil
}

// ResourceKind is a generic stand-in for the resource dimension.
type ResourceKind int

const (
	ResourceKindBuffer ResourceKind = iota
	ResourceKindTexture
)

// ResourceDesc describes a resource to place in memory.
type ResourceDesc struct {
	Kind ResourceKind

	// Size in bytes; for textures, the driver-computed allocation size.
	Size uint64

	// Alignment is the required placement alignment; zero picks the
	// default for the kind.
	Alignment uint64

	HeapKind mem.HeapKind
}

// allocationInfo resolves the effective size and alignment the way a
// driver would: buffers are placement-aligned, small textures may use
// the small alignment.
func allocationInfo(desc ResourceDesc) (size, alignment uint64) {
	alignment = desc.Alignment
	if alignment == 0 {
		if desc.Kind == ResourceKindTexture && desc.Size <= PlacementAlignment {
			alignment = SmallPlacementAlignment
		} else {
			alignment = PlacementAlignment
		}
	}
	return pow2.AlignTo(desc.Size, alignment), alignment
}

// segmentGroupFor maps a heap kind to its budget pool. Upload and
// readback heaps live in system memory except on UMA adapters.
func segmentGroupFor(kind mem.HeapKind, uma bool) mem.SegmentGroup {
	if uma || kind == mem.HeapKindDefault {
		return mem.SegmentGroupLocal
	}
	return mem.SegmentGroupNonLocal
}
