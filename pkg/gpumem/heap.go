package gpumem

import (
	"github.com/joshuapare/gpumem/mem"
	"github.com/joshuapare/gpumem/mem/residency"
)

// heapAllocator is the leaf of every stack: it creates driver heaps
// through the backend and registers them with the residency manager.
type heapAllocator struct {
	backend        mem.Backend
	residency      *residency.Manager
	group          mem.SegmentGroup
	kind           mem.HeapKind
	alignment      uint64
	alwaysInBudget bool
	sink           mem.EventSink
	info           mem.Info
}

var _ mem.Allocator = (*heapAllocator)(nil)

func newHeapAllocator(backend mem.Backend, res *residency.Manager, group mem.SegmentGroup, kind mem.HeapKind, alignment uint64, alwaysInBudget bool, sink mem.EventSink) *heapAllocator {
	return &heapAllocator{
		backend:        backend,
		residency:      res,
		group:          group,
		kind:           kind,
		alignment:      alignment,
		alwaysInBudget: alwaysInBudget,
		sink:           sink,
	}
}

func (h *heapAllocator) TryAllocate(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	if flags.Has(mem.FlagNeverAllocate) {
		return nil, mem.OutOfMemoryf("gpumem: heap creation forbidden by never-allocate")
	}
	if alignment < h.alignment {
		alignment = h.alignment
	}

	// Creating a heap implicitly makes it resident, so free the budget
	// first when configured to never overcommit.
	if h.alwaysInBudget && h.residency != nil {
		if err := h.residency.Evict(size, h.group); err != nil {
			return nil, err
		}
	}

	m, err := h.backend.CreateMemory(size, alignment, h.group, h.kind)
	if err != nil {
		return nil, mem.BackendError("create_memory", err)
	}
	if h.residency != nil {
		if err := h.residency.Insert(m); err != nil {
			h.backend.DestroyMemory(m)
			return nil, err
		}
	}

	h.info.UsedMemoryCount++
	h.info.UsedMemoryUsage += m.Size()
	h.sink.Emit(mem.Event{Kind: mem.EventMemoryCreated, Group: h.group, Size: m.Size(), Memory: m})

	return mem.NewAllocation(m, 0, m.Size(), mem.MethodStandalone, nil, h), nil
}

func (h *heapAllocator) Deallocate(a *mem.Allocation) {
	if a == nil || a.Released() {
		return
	}
	m := a.Memory()
	h.info.UsedMemoryCount--
	h.info.UsedMemoryUsage -= m.Size()
	mem.ReleaseAllocation(a)

	if h.residency != nil {
		h.residency.Remove(m)
	}
	h.sink.Emit(mem.Event{Kind: mem.EventMemoryDestroyed, Group: h.group, Size: m.Size(), Memory: m})
	h.backend.DestroyMemory(m)
}

func (h *heapAllocator) ReleaseMemory() {}

func (h *heapAllocator) QueryInfo() mem.Info { return h.info }

func (h *heapAllocator) MemorySize() uint64 { return mem.InvalidSize }

func (h *heapAllocator) MemoryAlignment() uint64 { return h.alignment }
