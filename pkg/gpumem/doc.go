// Package gpumem composes the allocation strategies into the public
// facade: one allocator stack per heap kind, a residency manager
// enforcing memory budgets, and the escalation logic that turns a
// resource description into a placed allocation.
//
// # Usage Example
//
//	a, err := gpumem.New(gpumem.Options{Backend: backend})
//	if err != nil {
//	    return err
//	}
//
//	alloc, err := a.CreateResource(gpumem.ResourceDesc{
//	    Kind:     gpumem.ResourceKindBuffer,
//	    Size:     256 * 1024,
//	    HeapKind: mem.HeapKindDefault,
//	}, 0, func(al *mem.Allocation) error {
//	    return device.PlaceBuffer(al.Memory().Handle(), al.Offset())
//	})
//	if err != nil {
//	    return err
//	}
//	defer a.Deallocate(alloc)
//
// A request escalates through strategies until one succeeds:
// within-resource sub-allocation for tiny buffers, placed
// sub-allocation from the slab/buddy/pool chain, whole-heap placement,
// and finally a committed memory. If resource placement fails after a
// successful sub-allocation, the memory is returned before the error
// propagates.
package gpumem
