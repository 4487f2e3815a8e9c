package mem

// InvalidSize marks a size that is unknown or unbounded. An allocator
// whose MemorySize is InvalidSize serves variable-size memories.
const InvalidSize = ^uint64(0)

// InvalidOffset marks an offset that does not locate the allocation
// inside a shared memory (standalone allocations).
const InvalidOffset = ^uint64(0)

// Info aggregates allocator usage counters.
type Info struct {
	// UsedMemoryUsage is the total bytes of backing memory in use.
	UsedMemoryUsage uint64

	// UsedMemoryCount is the number of backing memories in use.
	UsedMemoryCount uint64

	// FreeMemoryUsage is the total bytes of pooled or cached memory not
	// currently backing any allocation.
	FreeMemoryUsage uint64

	// UsedBlockUsage is the total bytes actually handed out to callers.
	UsedBlockUsage uint64

	// UsedBlockCount is the number of live sub-allocated blocks.
	UsedBlockCount uint64
}

// Add returns the element-wise sum of two Info values.
func (i Info) Add(o Info) Info {
	return Info{
		UsedMemoryUsage: i.UsedMemoryUsage + o.UsedMemoryUsage,
		UsedMemoryCount: i.UsedMemoryCount + o.UsedMemoryCount,
		FreeMemoryUsage: i.FreeMemoryUsage + o.FreeMemoryUsage,
		UsedBlockUsage:  i.UsedBlockUsage + o.UsedBlockUsage,
		UsedBlockCount:  i.UsedBlockCount + o.UsedBlockCount,
	}
}

// Allocator is the contract shared by every allocation strategy.
//
// TryAllocate must reject immediately when the requested size exceeds a
// fixed underlying memory size, to prevent create-then-release churn.
// Deallocate must route nested deallocations to the allocator recorded
// on the allocation and must tolerate an already-released allocation.
type Allocator interface {
	// TryAllocate serves a request or returns a typed error. A non-nil
	// error means no allocation was produced and no lasting side effects
	// occurred (beyond warm caches when FlagCacheSize is set).
	TryAllocate(size, alignment uint64, flags Flags) (*Allocation, error)

	// Deallocate returns an allocation produced by this allocator.
	Deallocate(a *Allocation)

	// ReleaseMemory drops pooled or cached memory not currently
	// referenced. Memories locked for residency are skipped.
	ReleaseMemory()

	// QueryInfo returns usage counters for this allocator and, when it
	// owns its underlying allocator, the chain beneath it.
	QueryInfo() Info

	// MemorySize returns the fixed size of memories this allocator
	// serves from, or InvalidSize when variable.
	MemorySize() uint64

	// MemoryAlignment returns the alignment of memories this allocator
	// serves from.
	MemoryAlignment() uint64
}
