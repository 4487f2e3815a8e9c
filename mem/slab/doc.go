// Package slab implements fixed-size-class slab allocation.
//
// # Overview
//
// A slab is one backing memory carved into equal-sized blocks with a
// free-list of block indices. Allocator manages the slabs of a single
// (block size, alignment) class on two intrusive lists: partial slabs
// have free blocks, full slabs do not. CacheAllocator fronts a table
// of class allocators keyed by (rounded size, alignment) and shares a
// single inner allocator between them.
//
// Requests whose internal fragmentation would exceed the configured
// limit bypass the slab path and go straight to the inner allocator:
// rounding 40000 bytes up to a 65536-byte class wastes 39% of the
// block, which no fragmentation limit below that tolerates.
//
// # Caching and Prefetch
//
// FlagCacheSize retains a slab when its last block is freed so the next
// request of the same class is served without creating memory. The
// size-caching pass at facade construction uses this together with
// FlagNeverAllocate to prime common request shapes. FlagPrefetchMemory
// creates one extra slab after a request when no partial slab remains
// queued.
package slab
