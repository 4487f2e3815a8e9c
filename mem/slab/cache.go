package slab

import (
	"github.com/joshuapare/gpumem/internal/pow2"
	"github.com/joshuapare/gpumem/mem"
)

// cacheKey identifies one class allocator.
type cacheKey struct {
	blockSize uint64
	alignment uint64
}

// CacheAllocator maintains a class allocator per (block size class,
// alignment) pair. Size classes are powers of two between minBlockSize
// and maxSlabSize. The inner allocator is owned here and shared by all
// classes.
type CacheAllocator struct {
	minBlockSize       uint64
	maxSlabSize        uint64
	slabSize           uint64
	slabAlignment      uint64
	fragmentationLimit float64
	enablePrefetch     bool
	inner              mem.Allocator

	classes map[cacheKey]*Allocator
}

var _ mem.Allocator = (*CacheAllocator)(nil)

// NewCache creates a slab cache allocator. slabSize is the preferred
// slab size; classes larger than it get single-block slabs of their
// own size, bounded by maxSlabSize.
func NewCache(minBlockSize, maxSlabSize, slabSize, slabAlignment uint64, fragmentationLimit float64, enablePrefetch bool, inner mem.Allocator) (*CacheAllocator, error) {
	if inner == nil {
		return nil, mem.InvalidArgumentf("slab: nil inner allocator")
	}
	if minBlockSize == 0 || !pow2.IsPowerOfTwo(minBlockSize) {
		return nil, mem.InvalidArgumentf("slab: min block size must be a power of two, got %d", minBlockSize)
	}
	if !pow2.IsPowerOfTwo(maxSlabSize) || !pow2.IsPowerOfTwo(slabSize) {
		return nil, mem.InvalidArgumentf("slab: slab sizes must be powers of two")
	}
	if slabSize > maxSlabSize {
		return nil, mem.InvalidArgumentf("slab: slab size %d exceeds max slab size %d", slabSize, maxSlabSize)
	}
	if fragmentationLimit < 0 || fragmentationLimit >= 1 {
		return nil, mem.InvalidArgumentf("slab: fragmentation limit %v out of [0,1)", fragmentationLimit)
	}
	return &CacheAllocator{
		minBlockSize:       minBlockSize,
		maxSlabSize:        maxSlabSize,
		slabSize:           slabSize,
		slabAlignment:      slabAlignment,
		fragmentationLimit: fragmentationLimit,
		enablePrefetch:     enablePrefetch,
		inner:              inner,
		classes:            make(map[cacheKey]*Allocator),
	}, nil
}

// classFor rounds a request up to its power-of-two size class. The
// class also absorbs the alignment so block offsets are always aligned.
func (c *CacheAllocator) classFor(size, alignment uint64) uint64 {
	want := size
	if alignment > want {
		want = alignment
	}
	if c.minBlockSize > want {
		want = c.minBlockSize
	}
	return pow2.NextPowerOfTwo(want)
}

// TryAllocate serves from the class allocator for the rounded size,
// falling through to the inner allocator when rounding would waste more
// than the fragmentation limit.
func (c *CacheAllocator) TryAllocate(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	if size == 0 {
		return nil, mem.InvalidArgumentf("slab: zero-size request")
	}
	class := c.classFor(size, alignment)
	if class > c.maxSlabSize {
		return nil, mem.OutOfMemoryf("slab: class of %d bytes exceeds max slab size %d", class, c.maxSlabSize)
	}

	if c.fragmentationLimit > 0 && float64(size)/float64(class) < 1-c.fragmentationLimit {
		return c.inner.TryAllocate(size, alignment, flags)
	}

	key := cacheKey{blockSize: class, alignment: alignment}
	cls, ok := c.classes[key]
	if !ok {
		slabSize := c.slabSize
		if class > slabSize {
			slabSize = class
		}
		var err error
		cls, err = NewAllocator(class, slabSize, c.slabAlignment, c.inner)
		if err != nil {
			return nil, err
		}
		c.classes[key] = cls
	}

	f := flags
	if !c.enablePrefetch || f.Has(mem.FlagNeverAllocate) {
		f &^= mem.FlagPrefetchMemory
	}
	return cls.TryAllocate(size, alignment, f)
}

// Deallocate routes to the allocator recorded on the allocation: the
// class allocator for slab blocks, the inner allocator for requests
// that fell through the fragmentation check.
func (c *CacheAllocator) Deallocate(a *mem.Allocation) {
	if a == nil || a.Released() {
		return
	}
	if owner := a.Allocator(); owner != nil && owner != mem.Allocator(c) {
		owner.Deallocate(a)
	}
}

// ReleaseMemory drops retained slabs in every class, then pooled memory
// beneath.
func (c *CacheAllocator) ReleaseMemory() {
	for _, cls := range c.classes {
		cls.ReleaseMemory()
	}
	c.inner.ReleaseMemory()
}

// QueryInfo sums every class plus the owned inner chain.
func (c *CacheAllocator) QueryInfo() mem.Info {
	var info mem.Info
	for _, cls := range c.classes {
		info = info.Add(cls.QueryInfo())
	}
	return info.Add(c.inner.QueryInfo())
}

// MemorySize is unbounded: slab sizes vary per class.
func (c *CacheAllocator) MemorySize() uint64 { return mem.InvalidSize }

// MemoryAlignment returns the slab alignment.
func (c *CacheAllocator) MemoryAlignment() uint64 { return c.slabAlignment }
