package buddy

import (
	"testing"

	"github.com/joshuapare/gpumem/mem"
)

func BenchmarkBlockAllocateFree(b *testing.B) {
	a, err := NewBlockAllocator(1<<30, 4096)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blk, err := a.Allocate(4096, 1)
		if err != nil {
			b.Fatal(err)
		}
		a.Deallocate(blk)
	}
}

func BenchmarkBlockSplitDepth(b *testing.B) {
	a, err := NewBlockAllocator(1<<30, 16)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Worst case: every allocation splits from the root.
		blk, err := a.Allocate(16, 1)
		if err != nil {
			b.Fatal(err)
		}
		a.Deallocate(blk)
	}
}

func BenchmarkVirtualSubAllocate(b *testing.B) {
	a, err := New(1<<30, 1<<20, 1, &benchHeap{})
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		al, err := a.TryAllocate(65536, 1, 0)
		if err != nil {
			b.Fatal(err)
		}
		a.Deallocate(al)
	}
}

// benchHeap is a minimal leaf that avoids the memtest mutex overhead in
// tight loops.
type benchHeap struct {
	info mem.Info
}

func (h *benchHeap) TryAllocate(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	m := mem.NewMemory(size, alignment, mem.SegmentGroupLocal, mem.HeapKindDefault, nil)
	return mem.NewAllocation(m, 0, size, mem.MethodStandalone, nil, h), nil
}

func (h *benchHeap) Deallocate(a *mem.Allocation) { mem.ReleaseAllocation(a) }

func (h *benchHeap) ReleaseMemory() {}

func (h *benchHeap) QueryInfo() mem.Info { return h.info }

func (h *benchHeap) MemorySize() uint64 { return mem.InvalidSize }

func (h *benchHeap) MemoryAlignment() uint64 { return 1 }
