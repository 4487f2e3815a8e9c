package residency

import (
	"sync"

	"github.com/joshuapare/gpumem/internal/ilist"
	"github.com/joshuapare/gpumem/mem"
)

// Options configures a Manager.
type Options struct {
	// MaxVideoMemoryBudget caps each group's budget at this fraction of
	// the driver-reported limit. Defaults to 0.95.
	MaxVideoMemoryBudget float64

	// TotalResourceBudgetLimit, when non-zero, is a hard per-group cap
	// applied after the fraction.
	TotalResourceBudgetLimit uint64

	// EvictSize, when non-zero, is the minimum number of bytes an
	// eviction pass reclaims once it starts, amortizing fence waits
	// across fewer passes.
	EvictSize uint64

	// EventSink receives evict and make-resident trace events.
	EventSink mem.EventSink
}

const defaultBudgetFraction = 0.95

type budget struct {
	limit uint64
	used  uint64
}

// Manager enforces a memory budget across a set of lockable memories
// using LRU eviction gated on fence completion.
type Manager struct {
	mu      sync.Mutex
	backend mem.Backend
	sink    mem.EventSink

	evictSize uint64
	budgets   [mem.NumSegmentGroups]budget
	lru       [mem.NumSegmentGroups]ilist.List[*mem.Memory]
}

// NewManager creates a residency manager, sampling the initial budget
// limits from the backend.
func NewManager(backend mem.Backend, opts Options) (*Manager, error) {
	if backend == nil {
		return nil, mem.InvalidArgumentf("residency: nil backend")
	}
	fraction := opts.MaxVideoMemoryBudget
	if fraction <= 0 || fraction > 1 {
		fraction = defaultBudgetFraction
	}
	m := &Manager{
		backend:   backend,
		sink:      opts.EventSink,
		evictSize: opts.EvictSize,
	}
	for g := mem.SegmentGroup(0); g < mem.NumSegmentGroups; g++ {
		limit, _ := backend.QueryBudget(g)
		limit = uint64(float64(limit) * fraction)
		if opts.TotalResourceBudgetLimit > 0 && limit > opts.TotalResourceBudgetLimit {
			limit = opts.TotalResourceBudgetLimit
		}
		m.budgets[g].limit = limit
	}
	return m, nil
}

// Budget returns a group's limit and current resident usage.
func (m *Manager) Budget(g mem.SegmentGroup) (limit, used uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budgets[g].limit, m.budgets[g].used
}

// Insert registers a freshly created memory. Created heaps are
// implicitly resident, so the group's usage grows immediately; the
// memory joins the LRU unless it is already locked.
func (m *Manager) Insert(mm *mem.Memory) error {
	if mm == nil {
		return mem.InvalidArgumentf("residency: nil memory")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm.LRUNode().InList() {
		return mem.InvalidArgumentf("residency: memory already inserted")
	}
	mm.SetResidencyState(mem.ResidencyResident)
	m.budgets[mm.Group()].used += mm.Size()
	if mm.LockCount() == 0 {
		m.lru[mm.Group()].PushBack(mm.LRUNode())
	}
	return nil
}

// Remove unregisters a memory ahead of destruction.
func (m *Manager) Remove(mm *mem.Memory) {
	if mm == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm.LRUNode().InList() {
		m.lru[mm.Group()].Remove(mm.LRUNode())
	}
	if mm.ResidencyState() == mem.ResidencyResident {
		m.budgets[mm.Group()].used -= mm.Size()
	}
	mm.SetResidencyState(mem.ResidencyUnmanaged)
}

// Lock pins a memory against eviction, paging it back in first if it
// was evicted. The first lock removes it from the LRU.
func (m *Manager) Lock(mm *mem.Memory) error {
	if mm == nil {
		return mem.InvalidArgumentf("residency: nil memory")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm.ResidencyState() == mem.ResidencyUnmanaged {
		return mem.InvalidArgumentf("residency: memory not registered")
	}
	if mm.ResidencyState() == mem.ResidencyEvicted {
		if err := m.makeResidentLocked([]*mem.Memory{mm}, mm.Group()); err != nil {
			return err
		}
	}
	if mm.IncLock() == 1 && mm.LRUNode().InList() {
		m.lru[mm.Group()].Remove(mm.LRUNode())
	}
	return nil
}

// Unlock releases a pin. Dropping the last pin stamps the group's
// current fence and relinks the memory at the MRU tail.
func (m *Manager) Unlock(mm *mem.Memory) {
	if mm == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm.DecLock() == 0 {
		mm.SetLastUsedFence(m.backend.CurrentFence(mm.Group()))
		m.lru[mm.Group()].PushBack(mm.LRUNode())
	}
}

// Evict pages out least-recently-used memories until the group can
// absorb required bytes within its limit. It returns a budget-exceeded
// error when the remaining resident memories are all locked.
func (m *Manager) Evict(required uint64, g mem.SegmentGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked(required, g)
}

func (m *Manager) evictLocked(required uint64, g mem.SegmentGroup) error {
	b := &m.budgets[g]
	if b.used+required <= b.limit {
		return nil
	}
	// Once eviction starts, reclaim at least evictSize so repeated
	// small overages don't each pay a fence wait.
	need := required
	if m.evictSize > need {
		need = m.evictSize
	}

	var victims []*mem.Memory
	for b.used+need > b.limit {
		node := m.lru[g].Front()
		if node == nil {
			break
		}
		victim := node.Value
		// Reuse is only safe once the GPU is done with the victim.
		if err := m.backend.WaitFence(g, victim.LastUsedFence()); err != nil {
			if len(victims) > 0 {
				m.backend.MakeNonResident(victims)
			}
			return mem.BackendError("wait_fence", err)
		}
		m.lru[g].Remove(node)
		victim.SetResidencyState(mem.ResidencyEvicted)
		b.used -= victim.Size()
		victims = append(victims, victim)
		m.sink.Emit(mem.Event{Kind: mem.EventEvict, Group: g, Size: victim.Size(), Memory: victim})
	}
	if len(victims) > 0 {
		m.backend.MakeNonResident(victims)
	}
	if b.used+required > b.limit {
		return mem.BudgetExceededf("residency: cannot free %d bytes in group %s", required, g)
	}
	return nil
}

// MakeResident pages the given memories back in, evicting first to make
// room.
func (m *Manager) MakeResident(ms []*mem.Memory) error {
	if len(ms) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.makeResidentLocked(ms, ms[0].Group())
}

func (m *Manager) makeResidentLocked(ms []*mem.Memory, g mem.SegmentGroup) error {
	var evicted []*mem.Memory
	var bytes uint64
	for _, mm := range ms {
		if mm.ResidencyState() == mem.ResidencyEvicted {
			evicted = append(evicted, mm)
			bytes += mm.Size()
		}
	}
	if len(evicted) == 0 {
		return nil
	}
	if err := m.evictLocked(bytes, g); err != nil {
		return err
	}
	for _, mm := range evicted {
		mm.SetResidencyState(mem.ResidencyPending)
	}
	if err := m.backend.MakeResident(evicted); err != nil {
		for _, mm := range evicted {
			mm.SetResidencyState(mem.ResidencyEvicted)
		}
		return mem.BackendError("make_resident", err)
	}
	for _, mm := range evicted {
		mm.SetResidencyState(mem.ResidencyResident)
		m.budgets[g].used += mm.Size()
		m.sink.Emit(mem.Event{Kind: mem.EventMakeResident, Group: g, Size: mm.Size(), Memory: mm})
	}
	return nil
}

// Set collects the memories referenced by one submission.
type Set struct {
	memories []*mem.Memory
	seen     map[*mem.Memory]struct{}
}

// Add records that the submission uses mm. Duplicates are ignored.
func (s *Set) Add(mm *mem.Memory) {
	if mm == nil {
		return
	}
	if s.seen == nil {
		s.seen = make(map[*mem.Memory]struct{})
	}
	if _, ok := s.seen[mm]; ok {
		return
	}
	s.seen[mm] = struct{}{}
	s.memories = append(s.memories, mm)
}

// Len returns the number of distinct memories in the set.
func (s *Set) Len() int { return len(s.memories) }

// Reset empties the set for reuse.
func (s *Set) Reset() {
	s.memories = s.memories[:0]
	s.seen = nil
}

// UpdateResidencySet records that mm is used by the in-flight
// submission building set.
func (m *Manager) UpdateResidencySet(set *Set, mm *mem.Memory) {
	set.Add(mm)
}

// Submit makes every memory in the set resident and stamps them with
// the submission's fence, moving unlocked ones to the MRU tail.
func (m *Manager) Submit(set *Set, g mem.SegmentGroup, fence uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.makeResidentLocked(set.memories, g); err != nil {
		return err
	}
	for _, mm := range set.memories {
		mm.SetLastUsedFence(fence)
		if mm.LockCount() != 0 {
			continue
		}
		if mm.LRUNode().InList() {
			m.lru[g].Remove(mm.LRUNode())
		}
		m.lru[g].PushBack(mm.LRUNode())
	}
	return nil
}

// lruOrder returns the group's LRU contents front to back, for tests.
func (m *Manager) lruOrder(g mem.SegmentGroup) []*mem.Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*mem.Memory
	for n := m.lru[g].Front(); n != nil; n = m.lru[g].Next(n) {
		out = append(out, n.Value)
	}
	return out
}
