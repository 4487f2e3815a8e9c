// Package memtest provides an in-memory backend and a minimal heap
// allocator leaf for exercising allocator stacks without a GPU.
//
// SimBackend implements mem.Backend with scripted budgets and fences
// and counts every driver call, so tests can assert exactly how many
// heaps a strategy created or destroyed. HeapAllocator is the leaf of
// a test stack: every TryAllocate creates one backing memory through
// the backend.
//
// The package is also used by the gmmctl and gmmtop commands to run
// simulated workloads.
package memtest
