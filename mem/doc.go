// Package mem defines the core contract of the GPU memory allocator:
// backing memories, sub-allocations, the allocator interface every
// strategy implements, and the backend abstraction that talks to the
// driver.
//
// # Overview
//
// A Memory is a driver-level heap: the unit of residency and eviction.
// An Allocation is the unit handed to callers: a (memory, offset, size)
// triple plus the allocator that produced it, so deallocation can be
// routed back to its owner. Allocator implementations compose into
// stacks, each layer either serving a request from what it already has
// or delegating to the allocator beneath it:
//
//	SlabCache → VirtualBuddy → SegmentedPool → heap allocator (leaf)
//
// # Allocator Interface
//
// Every allocator supports:
//
//   - TryAllocate(size, alignment, flags): serve a request or fail
//   - Deallocate(allocation): return an allocation to its owner
//   - ReleaseMemory(): drop pooled or cached memory not in use
//   - QueryInfo(): aggregate usage counters
//
// Flags refine a request: FlagNeverAllocate forbids creating new
// backing memory, FlagCacheSize keeps the produced slab warm for
// future identical requests, and FlagPrefetchMemory eagerly creates
// one additional memory of the same class.
//
// # Thread Safety
//
// Allocator implementations are not individually thread-safe; the
// facade in pkg/gpumem serializes calls under one mutex. Memory
// reference and lock counts are atomic so concurrent telemetry reads
// are safe.
//
// # Related Packages
//
//   - github.com/joshuapare/gpumem/mem/buddy: buddy sub-allocation
//   - github.com/joshuapare/gpumem/mem/slab: slab/slab-cache allocation
//   - github.com/joshuapare/gpumem/mem/residency: budgets and eviction
//   - github.com/joshuapare/gpumem/pkg/gpumem: the composed facade
package mem
