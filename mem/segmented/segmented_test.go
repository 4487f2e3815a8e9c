package segmented

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumem/mem"
	"github.com/joshuapare/gpumem/mem/memtest"
)

func newPool(t *testing.T, capacity int) (*Allocator, *memtest.SimBackend) {
	t.Helper()
	backend := memtest.NewSimBackend(1<<30, 1<<30)
	leaf := memtest.NewHeapAllocator(backend, mem.SegmentGroupLocal, mem.HeapKindDefault, 1)
	a, err := New(leaf, 4096, capacity)
	require.NoError(t, err)
	return a, backend
}

func Test_LIFOReuse(t *testing.T) {
	a, backend := newPool(t, 0)

	a1, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	a2, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	require.Equal(t, 2, backend.SimStats().CreateCalls)

	m1, m2 := a1.Memory(), a2.Memory()
	a.Deallocate(a1)
	a.Deallocate(a2)
	require.Equal(t, 2, a.pooledCount())
	require.Equal(t, 0, backend.SimStats().DestroyCalls)

	// Most recently released comes back first.
	a3, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	require.Same(t, m2, a3.Memory())

	a4, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	require.Same(t, m1, a4.Memory())
	require.Equal(t, 2, backend.SimStats().CreateCalls, "no new heaps created")
}

func Test_SegmentRounding(t *testing.T) {
	a, backend := newPool(t, 0)

	// 100 bytes rounds to the 4096 segment; releasing it serves a later
	// 4096-byte request.
	small, err := a.TryAllocate(100, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), small.Memory().Size())
	m := small.Memory()
	a.Deallocate(small)

	again, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	require.Same(t, m, again.Memory())
	require.Equal(t, 1, backend.SimStats().CreateCalls)
}

func Test_NeverAllocateServesOnlyPool(t *testing.T) {
	a, backend := newPool(t, 0)

	_, err := a.TryAllocate(4096, 1, mem.FlagNeverAllocate)
	require.True(t, mem.IsOutOfMemory(err))
	require.Equal(t, 0, backend.SimStats().CreateCalls)

	warm, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	a.Deallocate(warm)

	served, err := a.TryAllocate(4096, 1, mem.FlagNeverAllocate)
	require.NoError(t, err)
	require.NotNil(t, served)
}

func Test_CapacityBoundedRelease(t *testing.T) {
	a, backend := newPool(t, 2)

	var allocs []*mem.Allocation
	for i := 0; i < 4; i++ {
		al, err := a.TryAllocate(4096, 1, 0)
		require.NoError(t, err)
		allocs = append(allocs, al)
	}
	for _, al := range allocs {
		a.Deallocate(al)
	}
	// Two stay pooled, two were released oldest-first.
	require.Equal(t, 2, a.pooledCount())
	require.Equal(t, 2, backend.SimStats().DestroyCalls)
}

func Test_ReleaseMemoryDropsPool(t *testing.T) {
	a, backend := newPool(t, 0)

	al, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	a.Deallocate(al)
	require.Equal(t, uint64(4096), a.QueryInfo().FreeMemoryUsage)

	a.ReleaseMemory()
	require.Equal(t, 0, a.pooledCount())
	require.Equal(t, 1, backend.SimStats().DestroyCalls)
	require.Zero(t, a.QueryInfo().FreeMemoryUsage)
}

func Test_ReleaseMemorySkipsLocked(t *testing.T) {
	a, backend := newPool(t, 0)

	al, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	m := al.Memory()
	a.Deallocate(al)

	// A residency lock pins the pooled memory through a trim.
	m.IncLock()
	a.ReleaseMemory()
	require.Equal(t, 1, a.pooledCount())
	require.Equal(t, 0, backend.SimStats().DestroyCalls)

	m.DecLock()
	a.ReleaseMemory()
	require.Equal(t, 0, a.pooledCount())
	require.Equal(t, 1, backend.SimStats().DestroyCalls)
}

func Test_PoolBackReference(t *testing.T) {
	a, _ := newPool(t, 0)

	al, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	m := al.Memory()
	require.Nil(t, m.Pool())

	a.Deallocate(al)
	require.NotNil(t, m.Pool())

	again, err := a.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	require.Same(t, m, again.Memory())
	require.Nil(t, m.Pool())
}
