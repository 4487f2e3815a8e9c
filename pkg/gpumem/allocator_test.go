package gpumem

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumem/mem"
	"github.com/joshuapare/gpumem/mem/memtest"
)

const mib = 1 << 20

func newFacade(t *testing.T, opts Options) (*Allocator, *memtest.SimBackend) {
	t.Helper()
	backend := memtest.NewSimBackend(64*mib, 64*mib)
	opts.Backend = backend
	if opts.MaxVideoMemoryBudget == 0 {
		opts.MaxVideoMemoryBudget = 1.0
	}
	a, err := New(opts)
	require.NoError(t, err)
	return a, backend
}

func bufferDesc(size uint64) ResourceDesc {
	return ResourceDesc{Kind: ResourceKindBuffer, Size: size, HeapKind: mem.HeapKindDefault}
}

func Test_NeverAllocateEmptyStacks(t *testing.T) {
	a, backend := newFacade(t, Options{})

	// Construction priming must not have created any memory either.
	require.Equal(t, 0, backend.SimStats().CreateCalls)

	_, err := a.CreateResource(bufferDesc(1024), mem.FlagNeverAllocate, nil)
	require.True(t, mem.IsOutOfMemory(err))
	require.Equal(t, 0, backend.SimStats().CreateCalls, "no backend call observed")
	require.Zero(t, a.QueryInfo().UsedMemoryCount)
}

func Test_SubAllocationsShareMemory(t *testing.T) {
	a, backend := newFacade(t, Options{})

	a1, err := a.CreateResource(bufferDesc(64<<10), 0, nil)
	require.NoError(t, err)
	a2, err := a.CreateResource(bufferDesc(64<<10), 0, nil)
	require.NoError(t, err)

	require.Equal(t, mem.MethodSubAllocated, a1.Method())
	require.Same(t, a1.Memory(), a2.Memory())
	require.NotEqual(t, a1.Offset(), a2.Offset())
	require.Equal(t, 1, backend.SimStats().CreateCalls)
	require.Zero(t, a1.Offset()%PlacementAlignment)

	a.Deallocate(a1)
	a.Deallocate(a2)
}

func Test_RoundTripReleasesAllBlocks(t *testing.T) {
	a, _ := newFacade(t, Options{})

	sizes := []uint64{4 << 10, 64 << 10, 100 << 10, 1 << 20, 5 << 20, 9 << 20}
	var allocs []*mem.Allocation
	for _, sz := range sizes {
		al, err := a.CreateResource(bufferDesc(sz), 0, nil)
		require.NoError(t, err)
		allocs = append(allocs, al)
	}
	require.Equal(t, uint64(len(sizes)), a.QueryInfo().UsedBlockCount)

	for _, al := range allocs {
		a.Deallocate(al)
	}

	info := a.QueryInfo()
	require.Zero(t, info.UsedBlockUsage)
	require.Zero(t, info.UsedBlockCount)
	require.Zero(t, info.UsedMemoryUsage, "pool may retain, but nothing is in use")

	// The pools kept memory warm; trimming drops it.
	require.NotZero(t, info.FreeMemoryUsage)
	a.Trim()
	require.Zero(t, a.QueryInfo().FreeMemoryUsage)
}

func Test_PoolRecyclesHeaps(t *testing.T) {
	a, backend := newFacade(t, Options{})

	al, err := a.CreateResource(bufferDesc(8*mib), 0, nil)
	require.NoError(t, err)
	created := backend.SimStats().CreateCalls
	a.Deallocate(al)

	again, err := a.CreateResource(bufferDesc(8*mib), 0, nil)
	require.NoError(t, err)
	require.Equal(t, created, backend.SimStats().CreateCalls, "heap recycled from pool")
	a.Deallocate(again)
}

func Test_WithinResourceSubAllocation(t *testing.T) {
	a, _ := newFacade(t, Options{})

	al, err := a.CreateResource(bufferDesc(256), mem.FlagAllowWithinResource, nil)
	require.NoError(t, err)
	require.Equal(t, mem.MethodSubAllocatedWithinResource, al.Method())
	require.Equal(t, uint64(256), al.Size())

	al2, err := a.CreateResource(bufferDesc(256), mem.FlagAllowWithinResource, nil)
	require.NoError(t, err)
	require.Same(t, al.Memory(), al2.Memory())

	a.Deallocate(al)
	a.Deallocate(al2)
}

func Test_MaxMemorySizeRejected(t *testing.T) {
	a, backend := newFacade(t, Options{MaxMemorySize: 16 * mib})

	_, err := a.CreateResource(bufferDesc(17*mib), 0, nil)
	require.True(t, mem.IsOutOfMemory(err))
	require.Equal(t, 0, backend.SimStats().CreateCalls)
}

func Test_InvalidOptions(t *testing.T) {
	backend := memtest.NewSimBackend(64*mib, 64*mib)
	_, err := New(Options{Backend: backend, PreferredMemorySize: 8 * mib, MaxMemorySize: 4 * mib})
	require.ErrorIs(t, err, mem.ErrInvalidArgument)

	_, err = New(Options{})
	require.ErrorIs(t, err, mem.ErrInvalidArgument)
}

func Test_InvalidResource(t *testing.T) {
	a, _ := newFacade(t, Options{})

	_, err := a.CreateResource(bufferDesc(0), 0, nil)
	require.ErrorIs(t, err, mem.ErrInvalidArgument)

	_, err = a.CreateResource(ResourceDesc{Kind: ResourceKindBuffer, Size: 1024, HeapKind: mem.NumHeapKinds}, 0, nil)
	require.ErrorIs(t, err, mem.ErrInvalidArgument)
}

func Test_CreateFnFailureCleansUp(t *testing.T) {
	a, _ := newFacade(t, Options{})

	placementErr := errors.New("placement failed")
	calls := 0
	_, err := a.CreateResource(bufferDesc(64<<10), 0, func(*mem.Allocation) error {
		calls++
		return placementErr
	})
	require.ErrorIs(t, err, placementErr)
	require.Greater(t, calls, 1, "every strategy was attempted")

	info := a.QueryInfo()
	require.Zero(t, info.UsedBlockCount)
	require.Zero(t, info.UsedMemoryUsage, "failed placements leave nothing in use")
}

func Test_CreateFnSeesPlacement(t *testing.T) {
	a, _ := newFacade(t, Options{})

	var seen *mem.Allocation
	al, err := a.CreateResource(bufferDesc(128<<10), 0, func(candidate *mem.Allocation) error {
		seen = candidate
		// The memory is pinned while the backend places the resource.
		require.NotZero(t, candidate.Memory().LockCount())
		return nil
	})
	require.NoError(t, err)
	require.Same(t, al, seen)
	require.Zero(t, al.Memory().LockCount(), "unpinned after placement")
	a.Deallocate(al)
}

func Test_AlwaysCommitted(t *testing.T) {
	a, backend := newFacade(t, Options{AlwaysCommitted: true})

	a1, err := a.CreateResource(bufferDesc(64<<10), 0, nil)
	require.NoError(t, err)
	a2, err := a.CreateResource(bufferDesc(64<<10), 0, nil)
	require.NoError(t, err)

	require.Equal(t, mem.MethodStandalone, a1.Method())
	require.NotSame(t, a1.Memory(), a2.Memory())
	require.Equal(t, 2, backend.SimStats().CreateCalls)

	a.Deallocate(a1)
	a.Deallocate(a2)
	require.Equal(t, 2, backend.SimStats().DestroyCalls, "committed memories are never pooled")
}

func Test_AlwaysOnDemandSkipsPooling(t *testing.T) {
	a, backend := newFacade(t, Options{AlwaysOnDemand: true})

	al, err := a.CreateResource(bufferDesc(8*mib), 0, nil)
	require.NoError(t, err)
	a.Deallocate(al)
	require.Equal(t, backend.SimStats().CreateCalls, backend.SimStats().DestroyCalls)
	require.Zero(t, a.QueryInfo().FreeMemoryUsage)
}

func Test_HeapKindRouting(t *testing.T) {
	a, _ := newFacade(t, Options{})

	def, err := a.CreateResource(ResourceDesc{Kind: ResourceKindBuffer, Size: 64 << 10, HeapKind: mem.HeapKindDefault}, 0, nil)
	require.NoError(t, err)
	up, err := a.CreateResource(ResourceDesc{Kind: ResourceKindBuffer, Size: 64 << 10, HeapKind: mem.HeapKindUpload}, 0, nil)
	require.NoError(t, err)

	require.Equal(t, mem.SegmentGroupLocal, def.Memory().Group())
	require.Equal(t, mem.SegmentGroupNonLocal, up.Memory().Group())
	require.NotSame(t, def.Memory(), up.Memory())

	a.Deallocate(def)
	a.Deallocate(up)
}

func Test_EvictionUnderPressure(t *testing.T) {
	backend := memtest.NewSimBackend(3*mib, 3*mib)
	a, err := New(Options{
		Backend:              backend,
		MaxVideoMemoryBudget: 1.0,
		AlwaysInBudget:       true,
		AlwaysOnDemand:       true,
	})
	require.NoError(t, err)

	var allocs []*mem.Allocation
	for i := 0; i < 3; i++ {
		al, err := a.CreateResource(bufferDesc(mib), mem.FlagNeverSubAllocate, nil)
		require.NoError(t, err)
		allocs = append(allocs, al)
	}
	_, used := a.Residency().Budget(mem.SegmentGroupLocal)
	require.Equal(t, uint64(3*mib), used)

	// A fourth heap forces the oldest resident one out of budget.
	al4, err := a.CreateResource(bufferDesc(mib), mem.FlagNeverSubAllocate, nil)
	require.NoError(t, err)
	require.Equal(t, mem.ResidencyEvicted, allocs[0].Memory().ResidencyState())
	require.Equal(t, mem.ResidencyResident, allocs[1].Memory().ResidencyState())

	_, used = a.Residency().Budget(mem.SegmentGroupLocal)
	require.Equal(t, uint64(3*mib), used)

	for _, al := range append(allocs, al4) {
		a.Deallocate(al)
	}
}

func Test_TryAllocateMemory(t *testing.T) {
	a, _ := newFacade(t, Options{})

	al, err := a.TryAllocateMemory(2*mib, 0, 0)
	require.NoError(t, err)
	require.Equal(t, mem.MethodStandalone, al.Method())
	require.Equal(t, uint64(0), al.Offset())
	require.GreaterOrEqual(t, al.Size(), uint64(2*mib))
	a.Deallocate(al)

	_, err = a.TryAllocateMemory(0, 0, 0)
	require.ErrorIs(t, err, mem.ErrInvalidArgument)
}

func Test_SizeCachePrimingWarmsClasses(t *testing.T) {
	events := 0
	a, backend := newFacade(t, Options{EventSink: func(e mem.Event) {
		if e.Kind == mem.EventAllocate {
			events++
		}
	}})
	require.Equal(t, 0, backend.SimStats().CreateCalls)

	al, err := a.CreateResource(bufferDesc(64<<10), 0, nil)
	require.NoError(t, err)
	require.Equal(t, 1, events)
	a.Deallocate(al)
}

func Test_FormatInfo(t *testing.T) {
	a, _ := newFacade(t, Options{})
	al, err := a.CreateResource(bufferDesc(mib), 0, nil)
	require.NoError(t, err)

	out := FormatInfo(a.QueryInfo())
	require.Contains(t, out, "used memory")
	require.Contains(t, out, "4,194,304")

	a.Deallocate(al)
}
