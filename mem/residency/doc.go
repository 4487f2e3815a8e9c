// Package residency tracks which backing memories are GPU-resident and
// keeps each budget pool under its limit.
//
// # Overview
//
// Every managed memory is registered with a Manager. Resident, unlocked
// memories sit in a per-group LRU list ordered by last-used fence;
// ties keep insertion order. When budget is needed, the Manager evicts
// from the LRU head, waiting for each victim's last-use fence to
// complete before paging it out, so the GPU can never observe a heap
// disappear under an in-flight submission.
//
// Locking pins a memory: a locked memory leaves the LRU and cannot be
// evicted; unlocking stamps the current fence and relinks it at the MRU
// tail. A Set collects the memories referenced by one submission so
// they can be made resident and fenced as a batch.
//
// # Invariants
//
// The sum of resident memory sizes in a group equals the group's used
// budget. No locked memory appears in any LRU list. Eviction only
// touches memories whose last-use fence has completed.
//
// The Manager has its own mutex and is always acquired after the
// facade's; no path holds them in the inverse order.
package residency
