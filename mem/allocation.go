package mem

// Block is a half-open range [Offset, Offset+Size) inside a block
// allocator's virtual address space. Blocks are owned by the allocator
// that created them and referenced by the allocations they back.
type Block struct {
	Offset uint64
	Size   uint64
}

// AllocationMethod records how an allocation was produced, which
// determines how it is deallocated and reported.
type AllocationMethod int

const (
	// MethodSubAllocated: the allocation shares a backing memory with
	// other allocations.
	MethodSubAllocated AllocationMethod = iota

	// MethodSubAllocatedWithinResource: the allocation shares a single
	// backend resource, not just a heap.
	MethodSubAllocatedWithinResource

	// MethodStandalone: the backing memory is owned by exactly this
	// allocation.
	MethodStandalone
)

func (m AllocationMethod) String() string {
	switch m {
	case MethodSubAllocated:
		return "sub-allocated"
	case MethodSubAllocatedWithinResource:
		return "sub-allocated-within-resource"
	case MethodStandalone:
		return "standalone"
	default:
		return "unknown"
	}
}

// Flags refine an allocation request.
type Flags uint8

const (
	// FlagNeverAllocate forbids creating new backing memory; the request
	// may only be served from caches and pools.
	FlagNeverAllocate Flags = 1 << iota

	// FlagCacheSize keeps the produced slab or memory warm for future
	// identical requests.
	FlagCacheSize

	// FlagPrefetchMemory eagerly creates one additional backing memory
	// of the same class after fulfilling the request. Ignored when
	// FlagNeverAllocate is set.
	FlagPrefetchMemory

	// FlagNeverSubAllocate forces the request to a whole-memory path.
	FlagNeverSubAllocate

	// FlagAllowWithinResource permits serving small buffer requests from
	// a shared backend resource.
	FlagAllowWithinResource
)

// Has reports whether all bits in f are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Allocation is the unit returned to callers: a range of a backing
// memory plus the allocator that produced it. Deallocation must be
// routed to that same allocator.
type Allocation struct {
	memory    *Memory
	offset    uint64
	size      uint64
	method    AllocationMethod
	block     *Block
	allocator Allocator
}

// NewAllocation builds an allocation and takes a sub-allocation
// reference on its memory.
func NewAllocation(memory *Memory, offset, size uint64, method AllocationMethod, block *Block, owner Allocator) *Allocation {
	memory.AddRef()
	return &Allocation{
		memory:    memory,
		offset:    offset,
		size:      size,
		method:    method,
		block:     block,
		allocator: owner,
	}
}

// Memory returns the backing memory, or nil once released.
func (a *Allocation) Memory() *Memory { return a.memory }

// Offset returns the allocation's byte offset inside its memory.
func (a *Allocation) Offset() uint64 { return a.offset }

// Size returns the allocation size in bytes. This may exceed the
// requested size due to rounding by the serving allocator.
func (a *Allocation) Size() uint64 { return a.size }

// Method returns how the allocation was produced.
func (a *Allocation) Method() AllocationMethod { return a.method }

// SetMethod re-expresses how the allocation was produced. Facades use
// this when a sub-allocated block is placed within a shared resource
// rather than a shared heap.
func (a *Allocation) SetMethod(m AllocationMethod) { a.method = m }

// Block returns the block backing a sub-allocation, nil for standalone
// allocations.
func (a *Allocation) Block() *Block { return a.block }

// Allocator returns the allocator that produced this allocation.
func (a *Allocation) Allocator() Allocator { return a.allocator }

// Released reports whether the allocation has already been returned.
func (a *Allocation) Released() bool { return a.memory == nil }

// ReleaseAllocation drops the allocation's memory reference and marks it
// released. Allocator implementations call this at the end of their
// Deallocate; calling it twice is a no-op so Deallocate stays
// idempotent.
func ReleaseAllocation(a *Allocation) {
	if a == nil || a.memory == nil {
		return
	}
	a.memory.ReleaseRef()
	a.memory = nil
	a.block = nil
}
