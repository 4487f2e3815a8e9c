package memtest

import "github.com/joshuapare/gpumem/mem"

// HeapAllocator is the leaf of a test stack: every request creates one
// backing memory through the backend and returns it as a full-extent
// allocation.
type HeapAllocator struct {
	backend   mem.Backend
	group     mem.SegmentGroup
	kind      mem.HeapKind
	alignment uint64
	info      mem.Info
}

var _ mem.Allocator = (*HeapAllocator)(nil)

// NewHeapAllocator creates a leaf allocator over backend.
func NewHeapAllocator(backend mem.Backend, group mem.SegmentGroup, kind mem.HeapKind, alignment uint64) *HeapAllocator {
	return &HeapAllocator{backend: backend, group: group, kind: kind, alignment: alignment}
}

func (h *HeapAllocator) TryAllocate(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	if flags.Has(mem.FlagNeverAllocate) {
		return nil, mem.OutOfMemoryf("memtest: heap creation forbidden by never-allocate")
	}
	if alignment < h.alignment {
		alignment = h.alignment
	}
	m, err := h.backend.CreateMemory(size, alignment, h.group, h.kind)
	if err != nil {
		return nil, mem.BackendError("create_memory", err)
	}
	h.info.UsedMemoryCount++
	h.info.UsedMemoryUsage += m.Size()
	return mem.NewAllocation(m, 0, m.Size(), mem.MethodStandalone, nil, h), nil
}

func (h *HeapAllocator) Deallocate(a *mem.Allocation) {
	if a == nil || a.Released() {
		return
	}
	m := a.Memory()
	h.info.UsedMemoryCount--
	h.info.UsedMemoryUsage -= m.Size()
	mem.ReleaseAllocation(a)
	h.backend.DestroyMemory(m)
}

func (h *HeapAllocator) ReleaseMemory() {}

func (h *HeapAllocator) QueryInfo() mem.Info { return h.info }

func (h *HeapAllocator) MemorySize() uint64 { return mem.InvalidSize }

func (h *HeapAllocator) MemoryAlignment() uint64 { return h.alignment }
