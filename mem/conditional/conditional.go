// Package conditional implements a size-threshold dispatcher between
// two allocators: requests at or below the threshold go to the first,
// larger ones to the second. Deallocation follows the owner recorded on
// the allocation, so either side's allocations can be returned through
// the dispatcher.
package conditional

import "github.com/joshuapare/gpumem/mem"

// Allocator dispatches on request size.
type Allocator struct {
	small     mem.Allocator
	large     mem.Allocator
	threshold uint64
}

var _ mem.Allocator = (*Allocator)(nil)

// New creates a conditional allocator routing sizes <= threshold to
// small and the rest to large.
func New(small, large mem.Allocator, threshold uint64) (*Allocator, error) {
	if small == nil || large == nil {
		return nil, mem.InvalidArgumentf("conditional: nil inner allocator")
	}
	if threshold == 0 {
		return nil, mem.InvalidArgumentf("conditional: zero threshold")
	}
	return &Allocator{small: small, large: large, threshold: threshold}, nil
}

func (a *Allocator) TryAllocate(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	if size <= a.threshold {
		return a.small.TryAllocate(size, alignment, flags)
	}
	return a.large.TryAllocate(size, alignment, flags)
}

func (a *Allocator) Deallocate(al *mem.Allocation) {
	if al == nil || al.Released() {
		return
	}
	if owner := al.Allocator(); owner != nil && owner != mem.Allocator(a) {
		owner.Deallocate(al)
	}
}

func (a *Allocator) ReleaseMemory() {
	a.small.ReleaseMemory()
	a.large.ReleaseMemory()
}

func (a *Allocator) QueryInfo() mem.Info {
	return a.small.QueryInfo().Add(a.large.QueryInfo())
}

func (a *Allocator) MemorySize() uint64 { return mem.InvalidSize }

func (a *Allocator) MemoryAlignment() uint64 { return a.small.MemoryAlignment() }
