// Package segmented implements a LIFO pool of recyclable whole
// memories, keyed by size segment. The pool never sub-allocates: a
// request either pops the most-recently-released memory of its rounded
// size or delegates creation to the inner allocator. Releasing pushes
// the memory back for reuse.
package segmented

import (
	"github.com/joshuapare/gpumem/internal/pow2"
	"github.com/joshuapare/gpumem/mem"
)

// segment is one size bucket: a LIFO stack of pooled inner allocations.
type segment struct {
	size uint64
	free []*mem.Allocation
}

// Allocator recycles whole memories between requests of the same size
// segment. Requests are rounded up to the memory alignment so nearby
// sizes share a segment.
type Allocator struct {
	inner           mem.Allocator
	memoryAlignment uint64

	// capacity bounds pooled memories per segment; 0 is unbounded.
	capacity int

	segments map[uint64]*segment

	// live maps handed-out memories back to the inner allocation that
	// created them.
	live map[*mem.Memory]*mem.Allocation

	info mem.Info
}

var _ mem.Allocator = (*Allocator)(nil)

// New creates a segmented pool over inner. memoryAlignment must be a
// power of two; it defines the segment granularity.
func New(inner mem.Allocator, memoryAlignment uint64, capacity int) (*Allocator, error) {
	if inner == nil {
		return nil, mem.InvalidArgumentf("segmented: nil inner allocator")
	}
	if memoryAlignment == 0 || !pow2.IsPowerOfTwo(memoryAlignment) {
		return nil, mem.InvalidArgumentf("segmented: memory alignment must be a power of two, got %d", memoryAlignment)
	}
	return &Allocator{
		inner:           inner,
		memoryAlignment: memoryAlignment,
		capacity:        capacity,
		segments:        make(map[uint64]*segment),
		live:            make(map[*mem.Memory]*mem.Allocation),
	}, nil
}

// TryAllocate pops the most recently released memory of the request's
// segment, or creates one through the inner allocator.
func (a *Allocator) TryAllocate(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	if size == 0 {
		return nil, mem.InvalidArgumentf("segmented: zero-size request")
	}
	rounded := pow2.AlignTo(size, a.memoryAlignment)

	var backing *mem.Allocation
	if seg := a.segments[rounded]; seg != nil && len(seg.free) > 0 {
		backing = seg.free[len(seg.free)-1]
		seg.free = seg.free[:len(seg.free)-1]
		backing.Memory().SetPool(nil)
		a.info.FreeMemoryUsage -= backing.Memory().Size()
	} else {
		if flags.Has(mem.FlagNeverAllocate) {
			return nil, mem.OutOfMemoryf("segmented: empty pool and never-allocate set")
		}
		created, err := a.inner.TryAllocate(rounded, alignment, flags)
		if err != nil {
			return nil, err
		}
		backing = created
	}

	m := backing.Memory()
	a.live[m] = backing
	return mem.NewAllocation(m, 0, m.Size(), mem.MethodStandalone, nil, a), nil
}

// Deallocate pushes the memory back on its segment. When the segment is
// over capacity, the oldest pooled memory is released for real.
func (a *Allocator) Deallocate(al *mem.Allocation) {
	if al == nil || al.Released() {
		return
	}
	m := al.Memory()
	backing, ok := a.live[m]
	if !ok {
		panic("segmented: deallocate of unknown memory")
	}
	delete(a.live, m)
	mem.ReleaseAllocation(al)

	rounded := m.Size()
	seg := a.segments[rounded]
	if seg == nil {
		seg = &segment{size: rounded}
		a.segments[rounded] = seg
	}
	seg.free = append(seg.free, backing)
	m.SetPool(seg)
	a.info.FreeMemoryUsage += m.Size()

	if a.capacity > 0 && len(seg.free) > a.capacity {
		oldest := seg.free[0]
		copy(seg.free, seg.free[1:])
		seg.free = seg.free[:len(seg.free)-1]
		oldest.Memory().SetPool(nil)
		a.info.FreeMemoryUsage -= oldest.Memory().Size()
		a.inner.Deallocate(oldest)
	}
}

// ReleaseMemory drops every pooled memory that is not locked for
// residency.
func (a *Allocator) ReleaseMemory() {
	for _, seg := range a.segments {
		kept := seg.free[:0]
		for _, backing := range seg.free {
			m := backing.Memory()
			if m.LockCount() > 0 {
				kept = append(kept, backing)
				continue
			}
			m.SetPool(nil)
			a.info.FreeMemoryUsage -= m.Size()
			a.inner.Deallocate(backing)
		}
		seg.free = kept
	}
	a.inner.ReleaseMemory()
}

// QueryInfo reports the owned inner chain with pooled memories
// reclassified from used to free: the leaf counts every live heap it
// created, but a pooled heap backs nothing.
func (a *Allocator) QueryInfo() mem.Info {
	info := a.inner.QueryInfo()
	info.UsedMemoryUsage -= a.info.FreeMemoryUsage
	info.UsedMemoryCount -= uint64(a.pooledCount())
	info.FreeMemoryUsage += a.info.FreeMemoryUsage
	return info
}

// MemorySize is unbounded: segments serve variable sizes.
func (a *Allocator) MemorySize() uint64 { return mem.InvalidSize }

// MemoryAlignment returns the segment granularity.
func (a *Allocator) MemoryAlignment() uint64 { return a.memoryAlignment }

// pooledCount returns the number of pooled memories, for tests.
func (a *Allocator) pooledCount() int {
	n := 0
	for _, seg := range a.segments {
		n += len(seg.free)
	}
	return n
}
