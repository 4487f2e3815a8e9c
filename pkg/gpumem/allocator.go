package gpumem

import (
	"sync"

	"github.com/joshuapare/gpumem/internal/pow2"
	"github.com/joshuapare/gpumem/mem"
	"github.com/joshuapare/gpumem/mem/buddy"
	"github.com/joshuapare/gpumem/mem/conditional"
	"github.com/joshuapare/gpumem/mem/residency"
	"github.com/joshuapare/gpumem/mem/segmented"
	"github.com/joshuapare/gpumem/mem/slab"
	"github.com/joshuapare/gpumem/mem/standalone"
)

// CreateResourceFunc places a backend resource inside the allocation's
// memory at the allocation's offset. A nil function skips placement.
type CreateResourceFunc func(*mem.Allocation) error

// Allocator is the facade composing the allocation strategies into one
// stack per heap kind:
//
//	SlabCache → VirtualBuddy → SegmentedPool → heap allocator
//
// with standalone and committed fallbacks for requests that cannot be
// sub-allocated. All public methods are serialized by one mutex; the
// residency manager has its own lock, always acquired after this one.
type Allocator struct {
	mu   sync.Mutex
	opts Options
	res  *residency.Manager
	sink mem.EventSink

	// general serves sub-allocatable requests: a conditional dispatch
	// between the slab-cache chain and a standalone chain for requests
	// larger than the preferred memory size.
	general [mem.NumHeapKinds]mem.Allocator

	// heapOnly places a single resource in its own (possibly pooled)
	// heap.
	heapOnly [mem.NumHeapKinds]mem.Allocator

	// within sub-allocates tiny buffer requests inside one shared
	// resource.
	within [mem.NumHeapKinds]mem.Allocator

	// committed creates one driver memory per resource, the last
	// resort.
	committed [mem.NumHeapKinds]*heapAllocator
}

// New creates the facade and its residency manager.
func New(opts Options) (*Allocator, error) {
	resolved, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	res, err := residency.NewManager(resolved.Backend, residency.Options{
		MaxVideoMemoryBudget:     resolved.MaxVideoMemoryBudget,
		TotalResourceBudgetLimit: resolved.TotalResourceBudgetLimit,
		EvictSize:                resolved.EvictSize,
		EventSink:                resolved.EventSink,
	})
	if err != nil {
		return nil, err
	}

	g := &Allocator{opts: resolved, res: res, sink: resolved.EventSink}

	maxHeapSize := pow2.PrevPowerOfTwo(resolved.MaxMemorySize)
	for kind := mem.HeapKind(0); kind < mem.NumHeapKinds; kind++ {
		group := segmentGroupFor(kind, resolved.UMA)

		newLeaf := func(alignment uint64) mem.Allocator {
			leaf := newHeapAllocator(resolved.Backend, res, group, kind, alignment, resolved.AlwaysInBudget, resolved.EventSink)
			if resolved.AlwaysOnDemand {
				return leaf
			}
			pooled, err := segmented.New(leaf, alignment, 0)
			if err != nil {
				panic(err) // alignment validated above
			}
			return pooled
		}

		// Sub-allocating chain for requests up to the preferred memory
		// size.
		vb, err := buddy.New(maxHeapSize, resolved.PreferredMemorySize, PlacementAlignment, newLeaf(PlacementAlignment))
		if err != nil {
			return nil, err
		}
		cache, err := slab.NewCache(PlacementAlignment, maxHeapSize, resolved.PreferredMemorySize, PlacementAlignment,
			resolved.FragmentationLimit, !resolved.DisablePrefetch, vb)
		if err != nil {
			return nil, err
		}

		// Larger requests get whole pooled heaps of their own.
		large, err := standalone.New(newLeaf(PlacementAlignment))
		if err != nil {
			return nil, err
		}
		g.general[kind], err = conditional.New(cache, large, resolved.PreferredMemorySize)
		if err != nil {
			return nil, err
		}

		g.heapOnly[kind], err = standalone.New(newLeaf(PlacementAlignment))
		if err != nil {
			return nil, err
		}

		// Tiny buffers sub-allocate within one placement-aligned
		// resource; blocks are byte-addressable so no fragmentation
		// limit applies.
		withinBase, err := standalone.New(newLeaf(PlacementAlignment))
		if err != nil {
			return nil, err
		}
		g.within[kind], err = slab.NewCache(1, PlacementAlignment, PlacementAlignment, PlacementAlignment, 0, false, withinBase)
		if err != nil {
			return nil, err
		}

		g.committed[kind] = newHeapAllocator(resolved.Backend, res, group, kind, PlacementAlignment, resolved.AlwaysInBudget, resolved.EventSink)
	}

	if !resolved.DisableSizeCache {
		g.primeSizeCaches()
	}
	return g, nil
}

// sizeCacheEntries are the request shapes primed at construction so the
// first real request of a common size is served without creating
// memory.
var sizeCacheEntries = []uint64{
	SmallPlacementAlignment,
	PlacementAlignment,
	256 << 10,
	1 << 20,
	4 << 20,
}

func (g *Allocator) primeSizeCaches() {
	for kind := mem.HeapKind(0); kind < mem.NumHeapKinds; kind++ {
		for _, size := range sizeCacheEntries {
			if size > g.opts.PreferredMemorySize {
				continue
			}
			for _, alignment := range []uint64{SmallPlacementAlignment, PlacementAlignment} {
				if !pow2.IsAligned(size, alignment) {
					continue
				}
				// Cache misses are expected: the pass only warms the
				// class tables.
				_, _ = g.general[kind].TryAllocate(size, alignment, mem.FlagNeverAllocate|mem.FlagCacheSize)
			}
		}
	}
}

// Residency returns the residency manager created with the facade.
func (g *Allocator) Residency() *residency.Manager { return g.res }

// tryAllocateResource combines sub-allocation and resource placement.
// The size guard rejects requests that exceed a fixed underlying memory
// size before any memory or resource is created, preventing
// create-then-release churn. On placement failure the sub-allocation is
// returned to its owner and the caller may escalate.
func (g *Allocator) tryAllocateResource(a mem.Allocator, size, alignment uint64, flags mem.Flags, createFn CreateResourceFunc) (*mem.Allocation, error) {
	if a.MemorySize() != mem.InvalidSize && size > a.MemorySize() {
		return nil, mem.OutOfMemoryf("gpumem: request of %d bytes exceeds allocator memory size %d", size, a.MemorySize())
	}
	allocation, err := a.TryAllocate(size, alignment, flags)
	if err != nil {
		return nil, err
	}
	if createFn != nil {
		if err := g.withLockedMemory(allocation.Memory(), func() error { return createFn(allocation) }); err != nil {
			allocation.Allocator().Deallocate(allocation)
			return nil, err
		}
	}
	return allocation, nil
}

// withLockedMemory pins the memory in the residency cache around a
// backend placement, which would fail on a non-resident heap.
func (g *Allocator) withLockedMemory(m *mem.Memory, fn func() error) error {
	if g.res != nil && m.ResidencyState() != mem.ResidencyUnmanaged {
		if err := g.res.Lock(m); err != nil {
			return err
		}
		defer g.res.Unlock(m)
	}
	return fn()
}

// CreateResource allocates memory for the described resource and places
// it with createFn, escalating through the strategies: within-resource
// sub-allocation, placed sub-allocation, whole-heap placement, then a
// committed memory as last resort.
func (g *Allocator) CreateResource(desc ResourceDesc, flags mem.Flags, createFn CreateResourceFunc) (*mem.Allocation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if desc.Size == 0 {
		return nil, mem.InvalidArgumentf("gpumem: zero-size resource")
	}
	if desc.HeapKind < 0 || desc.HeapKind >= mem.NumHeapKinds {
		return nil, mem.InvalidArgumentf("gpumem: unknown heap kind %d", desc.HeapKind)
	}
	size, alignment := allocationInfo(desc)
	if size > g.opts.MaxMemorySize {
		return nil, mem.OutOfMemoryf("gpumem: resource of %d bytes exceeds max memory size %d", size, g.opts.MaxMemorySize)
	}

	kind := desc.HeapKind
	neverSubAllocate := flags.Has(mem.FlagNeverSubAllocate) || g.opts.AlwaysCommitted

	// Sub-allocate within a shared resource: same cost profile as heap
	// sub-allocation without the placement-alignment tax. Only viable
	// for buffers smaller than their own alignment.
	if flags.Has(mem.FlagAllowWithinResource) && desc.Kind == ResourceKindBuffer &&
		alignment > desc.Size && !neverSubAllocate {
		if a, err := g.tryAllocateResource(g.within[kind], desc.Size, 1,
			flags&^(mem.FlagPrefetchMemory|mem.FlagCacheSize), createFn); err == nil {
			a.SetMethod(mem.MethodSubAllocatedWithinResource)
			g.emitAllocate(a)
			return a, nil
		}
	}

	// Place the resource in a sub-allocated heap.
	if !neverSubAllocate {
		if a, err := g.tryAllocateResource(g.general[kind], size, alignment, flags, createFn); err == nil {
			g.emitAllocate(a)
			return a, nil
		}
	}

	// Place the resource alone in a (possibly recycled) heap.
	if !g.opts.AlwaysCommitted {
		if a, err := g.tryAllocateResource(g.heapOnly[kind], size, PlacementAlignment, flags, createFn); err == nil {
			g.emitAllocate(a)
			return a, nil
		}
	}

	// Committed memory is the safest and most expensive strategy.
	if flags.Has(mem.FlagNeverAllocate) {
		return nil, mem.OutOfMemoryf("gpumem: no pooled memory available and never-allocate set")
	}
	a, err := g.tryAllocateResource(g.committed[kind], size, PlacementAlignment,
		flags&^(mem.FlagPrefetchMemory|mem.FlagCacheSize), createFn)
	if err != nil {
		// Budget exhaustion surfaces as out-of-memory at this boundary.
		if mem.IsBudgetExceeded(err) {
			return nil, mem.OutOfMemoryf("gpumem: out of budget: %v", err)
		}
		return nil, err
	}
	g.emitAllocate(a)
	return a, nil
}

// TryAllocateMemory allocates backing memory with no resource placed in
// it, from the default heap kind's whole-heap path.
func (g *Allocator) TryAllocateMemory(size, alignment uint64, flags mem.Flags) (*mem.Allocation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if size == 0 {
		return nil, mem.InvalidArgumentf("gpumem: zero-size request")
	}
	if size > g.opts.MaxMemorySize {
		return nil, mem.OutOfMemoryf("gpumem: request of %d bytes exceeds max memory size %d", size, g.opts.MaxMemorySize)
	}
	if alignment == 0 {
		alignment = PlacementAlignment
	}

	a, err := g.tryAllocateResource(g.heapOnly[mem.HeapKindDefault], size, alignment, flags, nil)
	if err == nil {
		g.emitAllocate(a)
		return a, nil
	}
	if flags.Has(mem.FlagNeverAllocate) {
		return nil, err
	}
	a, err = g.tryAllocateResource(g.committed[mem.HeapKindDefault], size, alignment, flags, nil)
	if err != nil {
		if mem.IsBudgetExceeded(err) {
			return nil, mem.OutOfMemoryf("gpumem: out of budget: %v", err)
		}
		return nil, err
	}
	g.emitAllocate(a)
	return a, nil
}

// Deallocate returns an allocation to the allocator that produced it.
// Releasing an already-released allocation is a no-op.
func (g *Allocator) Deallocate(a *mem.Allocation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a == nil || a.Released() {
		return
	}
	g.sink.Emit(mem.Event{Kind: mem.EventDeallocate, Group: a.Memory().Group(), Size: a.Size(), Memory: a.Memory()})
	a.Allocator().Deallocate(a)
}

// ReleaseMemory drops every pooled and cached memory not currently in
// use. Memories locked for residency are skipped.
func (g *Allocator) ReleaseMemory() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for kind := mem.HeapKind(0); kind < mem.NumHeapKinds; kind++ {
		g.general[kind].ReleaseMemory()
		g.heapOnly[kind].ReleaseMemory()
		g.within[kind].ReleaseMemory()
	}
}

// Trim is an alias for ReleaseMemory matching the facade's public
// contract.
func (g *Allocator) Trim() { g.ReleaseMemory() }

// QueryInfo aggregates usage across every stack and the committed path.
func (g *Allocator) QueryInfo() mem.Info {
	g.mu.Lock()
	defer g.mu.Unlock()
	var info mem.Info
	for kind := mem.HeapKind(0); kind < mem.NumHeapKinds; kind++ {
		info = info.Add(g.general[kind].QueryInfo())
		info = info.Add(g.heapOnly[kind].QueryInfo())
		info = info.Add(g.within[kind].QueryInfo())
		info = info.Add(g.committed[kind].QueryInfo())
	}
	return info
}

func (g *Allocator) emitAllocate(a *mem.Allocation) {
	g.sink.Emit(mem.Event{Kind: mem.EventAllocate, Group: a.Memory().Group(), Size: a.Size(), Memory: a.Memory()})
}
