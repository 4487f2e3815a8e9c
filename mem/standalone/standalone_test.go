package standalone

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumem/mem"
	"github.com/joshuapare/gpumem/mem/memtest"
)

func Test_EachRequestOwnsItsMemory(t *testing.T) {
	backend := memtest.NewSimBackend(1<<30, 1<<30)
	leaf := memtest.NewHeapAllocator(backend, mem.SegmentGroupLocal, mem.HeapKindDefault, 1)
	a, err := New(leaf)
	require.NoError(t, err)

	a1, err := a.TryAllocate(1000, 1, 0)
	require.NoError(t, err)
	a2, err := a.TryAllocate(1000, 1, 0)
	require.NoError(t, err)

	require.NotSame(t, a1.Memory(), a2.Memory())
	require.Equal(t, uint64(0), a1.Offset())
	require.Equal(t, uint64(1000), a1.Size())
	require.Equal(t, mem.MethodStandalone, a1.Method())
	require.Nil(t, a1.Block())
	require.Equal(t, 2, backend.SimStats().CreateCalls)

	a.Deallocate(a1)
	a.Deallocate(a2)
	require.Equal(t, 2, backend.SimStats().DestroyCalls)
	require.Zero(t, a.QueryInfo().UsedBlockCount)
	require.Zero(t, a.QueryInfo().UsedMemoryUsage)
}

func Test_NeverAllocatePropagates(t *testing.T) {
	backend := memtest.NewSimBackend(1<<30, 1<<30)
	leaf := memtest.NewHeapAllocator(backend, mem.SegmentGroupLocal, mem.HeapKindDefault, 1)
	a, err := New(leaf)
	require.NoError(t, err)

	_, err = a.TryAllocate(1000, 1, mem.FlagNeverAllocate)
	require.True(t, mem.IsOutOfMemory(err))
	require.Equal(t, 0, backend.SimStats().CreateCalls)
}
