package conditional

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gpumem/mem"
	"github.com/joshuapare/gpumem/mem/memtest"
	"github.com/joshuapare/gpumem/mem/standalone"
)

func Test_ThresholdDispatch(t *testing.T) {
	backend := memtest.NewSimBackend(1<<30, 1<<30)
	smallLeaf := memtest.NewHeapAllocator(backend, mem.SegmentGroupLocal, mem.HeapKindDefault, 1)
	largeLeaf := memtest.NewHeapAllocator(backend, mem.SegmentGroupLocal, mem.HeapKindDefault, 1)
	small, err := standalone.New(smallLeaf)
	require.NoError(t, err)
	large, err := standalone.New(largeLeaf)
	require.NoError(t, err)

	c, err := New(small, large, 4096)
	require.NoError(t, err)

	al, err := c.TryAllocate(4096, 1, 0)
	require.NoError(t, err)
	require.Equal(t, mem.Allocator(small), al.Allocator())

	ah, err := c.TryAllocate(4097, 1, 0)
	require.NoError(t, err)
	require.Equal(t, mem.Allocator(large), ah.Allocator())

	// Deallocation through the dispatcher follows the recorded owner.
	c.Deallocate(al)
	c.Deallocate(ah)
	require.Zero(t, small.QueryInfo().UsedBlockCount)
	require.Zero(t, large.QueryInfo().UsedBlockCount)
	require.Equal(t, 2, backend.SimStats().DestroyCalls)
}

func Test_InfoAggregatesBothSides(t *testing.T) {
	backend := memtest.NewSimBackend(1<<30, 1<<30)
	small, err := standalone.New(memtest.NewHeapAllocator(backend, mem.SegmentGroupLocal, mem.HeapKindDefault, 1))
	require.NoError(t, err)
	large, err := standalone.New(memtest.NewHeapAllocator(backend, mem.SegmentGroupLocal, mem.HeapKindDefault, 1))
	require.NoError(t, err)
	c, err := New(small, large, 1024)
	require.NoError(t, err)

	_, err = c.TryAllocate(512, 1, 0)
	require.NoError(t, err)
	_, err = c.TryAllocate(2048, 1, 0)
	require.NoError(t, err)

	info := c.QueryInfo()
	require.Equal(t, uint64(2), info.UsedBlockCount)
	require.Equal(t, uint64(512+2048), info.UsedBlockUsage)
}
