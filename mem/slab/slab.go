package slab

import (
	"github.com/joshuapare/gpumem/internal/ilist"
	"github.com/joshuapare/gpumem/mem"
)

// slab is one backing memory divided into blockCount equal blocks.
type slab struct {
	free       []uint32 // stack of free block indices
	usedCount  uint32
	blockCount uint32
	backing    *mem.Allocation

	// cached marks the slab retained when empty (FlagCacheSize policy).
	cached bool

	node ilist.Node[*slab]
}

func (s *slab) fullyFree() bool { return s.usedCount == 0 }

func (s *slab) full() bool { return s.usedCount == s.blockCount }

// blockRef locates a handed-out block for deallocation.
type blockRef struct {
	slab  *slab
	index uint32
}

// Allocator serves one size class: every block is blockSize bytes,
// every slab is slabSize bytes obtained from the inner allocator. It is
// usually created and owned by a CacheAllocator; the inner allocator is
// shared, so QueryInfo reports only this class's counters.
type Allocator struct {
	blockSize     uint64
	slabSize      uint64
	slabAlignment uint64
	inner         mem.Allocator

	partial ilist.List[*slab]
	full    ilist.List[*slab]

	byBlock map[*mem.Block]blockRef
	info    mem.Info
}

var _ mem.Allocator = (*Allocator)(nil)

// NewAllocator creates a slab allocator for one size class. slabSize
// must be a multiple of blockSize.
func NewAllocator(blockSize, slabSize, slabAlignment uint64, inner mem.Allocator) (*Allocator, error) {
	if inner == nil {
		return nil, mem.InvalidArgumentf("slab: nil inner allocator")
	}
	if blockSize == 0 || slabSize == 0 || slabSize%blockSize != 0 {
		return nil, mem.InvalidArgumentf("slab: slab size %d must be a non-zero multiple of block size %d", slabSize, blockSize)
	}
	return &Allocator{
		blockSize:     blockSize,
		slabSize:      slabSize,
		slabAlignment: slabAlignment,
		inner:         inner,
		byBlock:       make(map[*mem.Block]blockRef),
	}, nil
}

func (a *Allocator) newSlab(flags mem.Flags) (*slab, error) {
	backing, err := a.inner.TryAllocate(a.slabSize, a.slabAlignment, flags&^(mem.FlagPrefetchMemory|mem.FlagCacheSize))
	if err != nil {
		return nil, err
	}
	blockCount := uint32(a.slabSize / a.blockSize)
	s := &slab{
		free:       make([]uint32, 0, blockCount),
		blockCount: blockCount,
		backing:    backing,
	}
	// LIFO free stack: push in reverse so index 0 pops first.
	for i := blockCount; i > 0; i-- {
		s.free = append(s.free, i-1)
	}
	s.node.Value = s
	return s, nil
}

// TryAllocate pops a block from the head partial slab, creating a new
// slab when none has free blocks.
func (a *Allocator) TryAllocate(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	if size == 0 {
		return nil, mem.InvalidArgumentf("slab: zero-size request")
	}
	if size > a.blockSize {
		return nil, mem.OutOfMemoryf("slab: request of %d bytes exceeds block size %d", size, a.blockSize)
	}

	var s *slab
	if front := a.partial.Front(); front != nil {
		s = front.Value
		if s.fullyFree() && s.cached {
			// Reusing a retained slab: its bytes move from free back to
			// used accounting.
			a.info.FreeMemoryUsage -= a.slabSize
		}
	} else {
		if flags.Has(mem.FlagNeverAllocate) {
			return nil, mem.OutOfMemoryf("slab: no free block and never-allocate set")
		}
		created, err := a.newSlab(flags)
		if err != nil {
			return nil, err
		}
		s = created
		a.partial.PushFront(&s.node)
	}
	if flags.Has(mem.FlagCacheSize) {
		s.cached = true
	}

	index := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.usedCount++
	if s.full() {
		a.partial.Remove(&s.node)
		a.full.PushBack(&s.node)
	}

	if flags.Has(mem.FlagPrefetchMemory) && !flags.Has(mem.FlagNeverAllocate) && a.partial.Len() == 0 {
		// Best effort: queue one more slab so the next request avoids
		// the creation stall.
		if pre, err := a.newSlab(flags); err == nil {
			a.partial.PushBack(&pre.node)
		}
	}

	blk := &mem.Block{
		Offset: s.backing.Offset() + uint64(index)*a.blockSize,
		Size:   a.blockSize,
	}
	a.byBlock[blk] = blockRef{slab: s, index: index}
	a.info.UsedBlockCount++
	a.info.UsedBlockUsage += a.blockSize

	return mem.NewAllocation(
		s.backing.Memory(),
		blk.Offset,
		a.blockSize,
		mem.MethodSubAllocated,
		blk,
		a,
	), nil
}

// Deallocate pushes the block back on its slab's free-list. An empty
// slab is released to the inner allocator unless it was marked cached.
func (a *Allocator) Deallocate(alloc *mem.Allocation) {
	if alloc == nil || alloc.Released() {
		return
	}
	blk := alloc.Block()
	ref, ok := a.byBlock[blk]
	if !ok {
		panic("slab: deallocate of unknown block")
	}
	delete(a.byBlock, blk)

	s := ref.slab
	wasFull := s.full()
	s.free = append(s.free, ref.index)
	s.usedCount--
	if wasFull {
		a.full.Remove(&s.node)
		a.partial.PushFront(&s.node)
	}

	a.info.UsedBlockCount--
	a.info.UsedBlockUsage -= a.blockSize
	mem.ReleaseAllocation(alloc)

	if s.fullyFree() {
		if s.cached {
			a.info.FreeMemoryUsage += a.slabSize
			return
		}
		a.partial.Remove(&s.node)
		a.inner.Deallocate(s.backing)
	}
}

// ReleaseMemory drops retained empty slabs. Slabs whose memory is
// locked for residency are skipped.
func (a *Allocator) ReleaseMemory() {
	n := a.partial.Front()
	for n != nil {
		next := a.partial.Next(n)
		s := n.Value
		if s.fullyFree() && s.backing.Memory().LockCount() == 0 {
			a.partial.Remove(&s.node)
			a.info.FreeMemoryUsage -= a.slabSize
			a.inner.Deallocate(s.backing)
		}
		n = next
	}
}

// QueryInfo returns this class's counters. The shared inner allocator
// is reported by its owner.
func (a *Allocator) QueryInfo() mem.Info { return a.info }

// MemorySize returns the fixed slab size.
func (a *Allocator) MemorySize() uint64 { return a.slabSize }

// MemoryAlignment returns the slab alignment.
func (a *Allocator) MemoryAlignment() uint64 { return a.slabAlignment }

// slabCount returns the number of slabs on both lists, for tests.
func (a *Allocator) slabCount() int {
	return a.partial.Len() + a.full.Len()
}

// freeBlockTotal sums free-list lengths across all slabs, for the
// conservation invariant in tests.
func (a *Allocator) freeBlockTotal() uint32 {
	var n uint32
	for _, l := range []*ilist.List[*slab]{&a.partial, &a.full} {
		for node := l.Front(); node != nil; node = l.Next(node) {
			n += uint32(len(node.Value.free))
		}
	}
	return n
}
