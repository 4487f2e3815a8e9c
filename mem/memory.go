package mem

import (
	"sync/atomic"

	"github.com/joshuapare/gpumem/internal/ilist"
)

// SegmentGroup identifies which budget pool a memory counts against.
type SegmentGroup int

const (
	// SegmentGroupLocal is device-local (dedicated video) memory.
	SegmentGroupLocal SegmentGroup = iota

	// SegmentGroupNonLocal is shared system video memory.
	SegmentGroupNonLocal

	// NumSegmentGroups is the number of budget pools.
	NumSegmentGroups
)

func (g SegmentGroup) String() string {
	switch g {
	case SegmentGroupLocal:
		return "local"
	case SegmentGroupNonLocal:
		return "non-local"
	default:
		return "unknown"
	}
}

// HeapKind is a generic stand-in for the driver heap type a memory was
// created with. Allocations are only ever served from a stack of the
// matching kind.
type HeapKind int

const (
	HeapKindDefault HeapKind = iota
	HeapKindUpload
	HeapKindReadback

	// NumHeapKinds is the number of per-kind allocator stacks.
	NumHeapKinds
)

func (k HeapKind) String() string {
	switch k {
	case HeapKindDefault:
		return "default"
	case HeapKindUpload:
		return "upload"
	case HeapKindReadback:
		return "readback"
	default:
		return "unknown"
	}
}

// ResidencyState tracks whether a memory is currently GPU-accessible.
type ResidencyState int32

const (
	// ResidencyUnmanaged: the memory is not registered with a residency
	// manager.
	ResidencyUnmanaged ResidencyState = iota

	// ResidencyResident: the memory is paged in and usable.
	ResidencyResident

	// ResidencyEvicted: the memory was paged out and must be made
	// resident before use.
	ResidencyEvicted

	// ResidencyPending: a make-resident operation is in flight.
	ResidencyPending
)

func (s ResidencyState) String() string {
	switch s {
	case ResidencyUnmanaged:
		return "unmanaged"
	case ResidencyResident:
		return "resident"
	case ResidencyEvicted:
		return "evicted"
	case ResidencyPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Memory is a backing slab: a driver-level contiguous allocation and the
// unit of residency. Memories are shared by sub-allocations, pools, and
// the residency manager; reference and lock counts are atomic so
// concurrent telemetry reads are safe.
//
// The residency manager owns the residency state, the lock count, and
// the last-used fence; all mutation of those fields goes through its
// API.
type Memory struct {
	size      uint64
	alignment uint64
	group     SegmentGroup
	kind      HeapKind

	// handle is the backend's driver object for this memory.
	handle any

	// refs counts live Allocations pointing into this memory.
	refs atomic.Uint32

	// lockCount non-zero means the memory is pinned and ineligible for
	// eviction.
	lockCount atomic.Uint32

	state atomic.Int32

	// lastUsedFence is guarded by the residency manager's mutex.
	lastUsedFence uint64

	// pool is an opaque back-reference to the pool that owns this
	// memory's lifetime while pooled; nil when standalone.
	pool any

	lruNode ilist.Node[*Memory]
}

// NewMemory creates a memory record for a freshly created driver heap.
// Created heaps are implicitly resident until a residency manager takes
// ownership of the state.
func NewMemory(size, alignment uint64, group SegmentGroup, kind HeapKind, handle any) *Memory {
	m := &Memory{
		size:      size,
		alignment: alignment,
		group:     group,
		kind:      kind,
		handle:    handle,
	}
	m.state.Store(int32(ResidencyResident))
	m.lruNode.Value = m
	return m
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint64 { return m.size }

// Alignment returns the memory alignment in bytes.
func (m *Memory) Alignment() uint64 { return m.alignment }

// Group returns the budget pool this memory counts against.
func (m *Memory) Group() SegmentGroup { return m.group }

// Kind returns the heap kind this memory was created with.
func (m *Memory) Kind() HeapKind { return m.kind }

// Handle returns the backend driver object.
func (m *Memory) Handle() any { return m.handle }

// Refs returns the number of live allocations pointing into this memory.
func (m *Memory) Refs() uint32 { return m.refs.Load() }

// AddRef records a new live allocation.
func (m *Memory) AddRef() { m.refs.Add(1) }

// ReleaseRef records an allocation release and reports whether it was
// the last reference.
func (m *Memory) ReleaseRef() bool {
	return m.refs.Add(^uint32(0)) == 0
}

// LockCount returns the residency pin count.
func (m *Memory) LockCount() uint32 { return m.lockCount.Load() }

// IncLock increments the pin count and returns the new value.
// Residency manager use only.
func (m *Memory) IncLock() uint32 { return m.lockCount.Add(1) }

// DecLock decrements the pin count and returns the new value.
// Residency manager use only.
func (m *Memory) DecLock() uint32 { return m.lockCount.Add(^uint32(0)) }

// ResidencyState returns the current residency state.
func (m *Memory) ResidencyState() ResidencyState {
	return ResidencyState(m.state.Load())
}

// SetResidencyState updates the residency state. Residency manager use
// only.
func (m *Memory) SetResidencyState(s ResidencyState) {
	m.state.Store(int32(s))
}

// LastUsedFence returns the fence value recorded at last use.
// Residency manager use only.
func (m *Memory) LastUsedFence() uint64 { return m.lastUsedFence }

// SetLastUsedFence records the fence of the submission that last used
// this memory. Residency manager use only.
func (m *Memory) SetLastUsedFence(v uint64) { m.lastUsedFence = v }

// LRUNode returns the intrusive node linking this memory into a
// residency LRU list. Residency manager use only.
func (m *Memory) LRUNode() *ilist.Node[*Memory] { return &m.lruNode }

// Pool returns the owning pool while pooled, nil otherwise.
func (m *Memory) Pool() any { return m.pool }

// SetPool records or clears the owning pool.
func (m *Memory) SetPool(p any) { m.pool = p }
