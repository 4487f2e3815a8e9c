package buddy

import (
	"github.com/joshuapare/gpumem/internal/pow2"
	"github.com/joshuapare/gpumem/mem"
)

// slot tracks one fixed-size backing memory of the buddy space.
// refcount equals the number of live sub-allocations whose memory
// index maps to this slot; the inner allocation exists exactly while
// refcount is non-zero.
type slot struct {
	refcount   uint32
	allocation *mem.Allocation
}

// Allocator sub-allocates blocks of backing memories created by an
// inner allocator. The buddy system spans maxSystemSize bytes; backing
// memories equal a fixed level in the system, so a block's memory index
// is offset/memorySize. Backing memories must all be compatible with
// each other, and the inner allocator must outlive every allocation
// produced here.
type Allocator struct {
	blocks *BlockAllocator
	inner  mem.Allocator

	memorySize      uint64
	memoryAlignment uint64

	slots []slot
	info  mem.Info
}

var _ mem.Allocator = (*Allocator)(nil)

// New creates a virtual buddy allocator spanning maxSystemSize bytes of
// virtual space, backed by memorySize-byte memories from inner.
func New(maxSystemSize, memorySize, memoryAlignment uint64, inner mem.Allocator) (*Allocator, error) {
	if inner == nil {
		return nil, mem.InvalidArgumentf("buddy: nil inner allocator")
	}
	if !pow2.IsPowerOfTwo(memorySize) || memorySize > maxSystemSize {
		return nil, mem.InvalidArgumentf("buddy: memory size %d must be a power of two within the %d-byte range", memorySize, maxSystemSize)
	}
	minBlock := memoryAlignment
	if minBlock == 0 {
		minBlock = 1
	}
	if minBlock > memorySize {
		minBlock = memorySize
	}
	blocks, err := NewBlockAllocator(maxSystemSize, minBlock)
	if err != nil {
		return nil, err
	}
	return &Allocator{
		blocks:          blocks,
		inner:           inner,
		memorySize:      memorySize,
		memoryAlignment: memoryAlignment,
		slots:           make([]slot, maxSystemSize/memorySize),
	}, nil
}

func (a *Allocator) memoryIndex(offset uint64) uint64 {
	return offset / a.memorySize
}

// TryAllocate serves a request from the buddy space, creating the
// slot's backing memory on first use. Requests larger than the fixed
// memory size are rejected immediately so the caller can escalate
// without create-then-release churn.
func (a *Allocator) TryAllocate(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	if size == 0 {
		return nil, mem.InvalidArgumentf("buddy: zero-size request")
	}
	if size > a.memorySize {
		return nil, mem.OutOfMemoryf("buddy: request of %d bytes exceeds memory size %d", size, a.memorySize)
	}

	blk, err := a.blocks.Allocate(size, alignment)
	if err != nil {
		return nil, err
	}

	s := &a.slots[a.memoryIndex(blk.Offset)]
	if s.refcount == 0 {
		if flags.Has(mem.FlagNeverAllocate) {
			a.blocks.Deallocate(blk)
			return nil, mem.OutOfMemoryf("buddy: no backing memory and never-allocate set")
		}
		innerFlags := flags &^ mem.FlagPrefetchMemory
		backing, err := a.inner.TryAllocate(a.memorySize, a.memoryAlignment, innerFlags)
		if err != nil {
			a.blocks.Deallocate(blk)
			return nil, err
		}
		s.allocation = backing
	}
	s.refcount++

	a.info.UsedBlockCount++
	a.info.UsedBlockUsage += blk.Size

	return mem.NewAllocation(
		s.allocation.Memory(),
		blk.Offset%a.memorySize,
		blk.Size,
		mem.MethodSubAllocated,
		blk,
		a,
	), nil
}

// Deallocate returns the block to the buddy system and drops the slot's
// backing memory when the last sub-allocation in it goes away.
func (a *Allocator) Deallocate(alloc *mem.Allocation) {
	if alloc == nil || alloc.Released() {
		return
	}
	blk := alloc.Block()
	s := &a.slots[a.memoryIndex(blk.Offset)]
	s.refcount--

	var backing *mem.Allocation
	if s.refcount == 0 {
		backing = s.allocation
		s.allocation = nil
	}

	a.info.UsedBlockCount--
	a.info.UsedBlockUsage -= blk.Size

	a.blocks.Deallocate(blk)
	mem.ReleaseAllocation(alloc)

	if backing != nil {
		a.inner.Deallocate(backing)
	}
}

// ReleaseMemory drops pooled memory held by the inner allocator.
func (a *Allocator) ReleaseMemory() {
	a.inner.ReleaseMemory()
}

// QueryInfo returns this allocator's block counters plus the inner
// chain it owns.
func (a *Allocator) QueryInfo() mem.Info {
	return a.info.Add(a.inner.QueryInfo())
}

// MemorySize returns the fixed backing memory size.
func (a *Allocator) MemorySize() uint64 { return a.memorySize }

// MemoryAlignment returns the backing memory alignment.
func (a *Allocator) MemoryAlignment() uint64 { return a.memoryAlignment }

// heapCount returns the number of slots holding a backing memory, for
// tests.
func (a *Allocator) heapCount() int {
	n := 0
	for i := range a.slots {
		if a.slots[i].allocation != nil {
			n++
		}
	}
	return n
}
