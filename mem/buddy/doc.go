// Package buddy implements buddy sub-allocation over a power-of-two
// virtual address space.
//
// # Overview
//
// BlockAllocator is pure offset arithmetic: it maintains one free list
// per power-of-two level, splits blocks on demand, and coalesces freed
// blocks with their buddy (offset XOR size). It never touches backing
// memory.
//
// Allocator projects those offsets onto on-demand backing memories: the
// buddy system spans maxSystemSize bytes, carved into fixed-size
// memory slots. A sub-allocation's memory index is offset/memorySize;
// the slot's backing memory is created from the inner allocator the
// first time a block lands in it and released when the last block
// leaves it, tracked by a per-slot refcount.
//
// # Usage Example
//
//	ba, err := buddy.New(maxSystemSize, memorySize, memoryAlignment, heapAllocator)
//	if err != nil {
//	    return err
//	}
//	a, err := ba.TryAllocate(128*1024, 65536, 0)
//	// a.Memory() is the slot's backing memory; a.Offset() is relative
//	// to that memory, not to the buddy space.
//
// # Invariants
//
// Free lists are disjoint across levels; no ancestor of a free block is
// free; offsets are aligned to block size, so a returned offset is
// aligned to any alignment not exceeding the block size. A slot's
// refcount equals the number of live allocations with that memory
// index, and its backing memory exists exactly while the refcount is
// non-zero.
package buddy
