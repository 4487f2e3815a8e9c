// Package standalone implements the degenerate allocation strategy:
// every request gets its own backing memory, sized exactly to the
// request and returned as a full-extent allocation at offset zero.
// Large requests that must not be sub-allocated end up here, usually
// behind a segmented pool so released memories are recycled.
package standalone

import "github.com/joshuapare/gpumem/mem"

// Allocator dedicates one backing memory per allocation.
type Allocator struct {
	inner mem.Allocator

	// live maps each handed-out memory to the inner allocation that
	// created it.
	live map[*mem.Memory]*mem.Allocation

	info mem.Info
}

var _ mem.Allocator = (*Allocator)(nil)

// New creates a standalone allocator over inner.
func New(inner mem.Allocator) (*Allocator, error) {
	if inner == nil {
		return nil, mem.InvalidArgumentf("standalone: nil inner allocator")
	}
	return &Allocator{
		inner: inner,
		live:  make(map[*mem.Memory]*mem.Allocation),
	}, nil
}

func (a *Allocator) TryAllocate(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	if size == 0 {
		return nil, mem.InvalidArgumentf("standalone: zero-size request")
	}
	backing, err := a.inner.TryAllocate(size, alignment, flags)
	if err != nil {
		return nil, err
	}
	m := backing.Memory()
	a.live[m] = backing
	a.info.UsedBlockCount++
	a.info.UsedBlockUsage += m.Size()
	return mem.NewAllocation(m, 0, m.Size(), mem.MethodStandalone, nil, a), nil
}

func (a *Allocator) Deallocate(al *mem.Allocation) {
	if al == nil || al.Released() {
		return
	}
	m := al.Memory()
	backing, ok := a.live[m]
	if !ok {
		panic("standalone: deallocate of unknown memory")
	}
	delete(a.live, m)
	a.info.UsedBlockCount--
	a.info.UsedBlockUsage -= m.Size()
	mem.ReleaseAllocation(al)
	a.inner.Deallocate(backing)
}

func (a *Allocator) ReleaseMemory() {
	a.inner.ReleaseMemory()
}

func (a *Allocator) QueryInfo() mem.Info {
	return a.info.Add(a.inner.QueryInfo())
}

func (a *Allocator) MemorySize() uint64 { return mem.InvalidSize }

func (a *Allocator) MemoryAlignment() uint64 { return a.inner.MemoryAlignment() }
