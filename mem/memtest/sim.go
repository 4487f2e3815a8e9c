package memtest

import (
	"errors"
	"sync"

	"github.com/joshuapare/gpumem/mem"
)

// ErrFenceStalled is returned by WaitFence when auto-completion is
// disabled and the fence has not been signaled.
var ErrFenceStalled = errors.New("memtest: fence not completed")

// SimHeap is the driver object a SimBackend attaches to each memory.
type SimHeap struct {
	ID int
}

type simSegment struct {
	limit          uint64
	used           uint64
	currentFence   uint64
	completedFence uint64
}

// Stats counts driver calls made through a SimBackend.
type Stats struct {
	CreateCalls      int
	DestroyCalls     int
	MakeResidentOps  int
	MakeNonResident  int
	WaitedFenceValue uint64
}

// SimBackend is an in-memory mem.Backend. Budgets and fences are fully
// scripted: Submit advances the current fence, Complete signals
// completion, and WaitFence either auto-completes (the default,
// modeling a GPU that has caught up) or stalls with ErrFenceStalled.
type SimBackend struct {
	mu       sync.Mutex
	segments [mem.NumSegmentGroups]simSegment
	stats    Stats
	nextID   int
	resident map[*mem.Memory]bool

	// AutoComplete makes WaitFence signal completion up to the waited
	// value instead of stalling.
	AutoComplete bool

	// CreateErr, when set, fails the next CreateMemory with this error.
	CreateErr error
}

var _ mem.Backend = (*SimBackend)(nil)

// NewSimBackend creates a backend with the given per-group budget
// limits in bytes.
func NewSimBackend(localLimit, nonLocalLimit uint64) *SimBackend {
	b := &SimBackend{AutoComplete: true, resident: make(map[*mem.Memory]bool)}
	b.segments[mem.SegmentGroupLocal].limit = localLimit
	b.segments[mem.SegmentGroupNonLocal].limit = nonLocalLimit
	return b
}

func (b *SimBackend) CreateMemory(size, alignment uint64, group mem.SegmentGroup, kind mem.HeapKind) (*mem.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CreateErr != nil {
		err := b.CreateErr
		b.CreateErr = nil
		return nil, err
	}
	b.nextID++
	b.stats.CreateCalls++
	b.segments[group].used += size
	m := mem.NewMemory(size, alignment, group, kind, &SimHeap{ID: b.nextID})
	b.resident[m] = true
	return m, nil
}

func (b *SimBackend) DestroyMemory(m *mem.Memory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.DestroyCalls++
	if b.resident[m] {
		b.segments[m.Group()].used -= m.Size()
	}
	delete(b.resident, m)
}

func (b *SimBackend) MakeResident(ms []*mem.Memory) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.MakeResidentOps++
	for _, m := range ms {
		if !b.resident[m] {
			b.resident[m] = true
			b.segments[m.Group()].used += m.Size()
		}
	}
	return nil
}

func (b *SimBackend) MakeNonResident(ms []*mem.Memory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.MakeNonResident++
	for _, m := range ms {
		if b.resident[m] {
			b.resident[m] = false
			b.segments[m.Group()].used -= m.Size()
		}
	}
}

func (b *SimBackend) QueryBudget(group mem.SegmentGroup) (limit, used uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &b.segments[group]
	return s.limit, s.used
}

func (b *SimBackend) CurrentFence(group mem.SegmentGroup) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.segments[group].currentFence
}

func (b *SimBackend) CompletedFence(group mem.SegmentGroup) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.segments[group].completedFence
}

func (b *SimBackend) WaitFence(group mem.SegmentGroup, value uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &b.segments[group]
	if value > b.stats.WaitedFenceValue {
		b.stats.WaitedFenceValue = value
	}
	if value <= s.completedFence {
		return nil
	}
	if !b.AutoComplete {
		return ErrFenceStalled
	}
	s.completedFence = value
	return nil
}

// Submit advances the group's current fence, modeling one submission,
// and returns the new fence value.
func (b *SimBackend) Submit(group mem.SegmentGroup) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.segments[group].currentFence++
	return b.segments[group].currentFence
}

// Complete signals completion of all submissions up to value.
func (b *SimBackend) Complete(group mem.SegmentGroup, value uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if value > b.segments[group].completedFence {
		b.segments[group].completedFence = value
	}
}

// SimStats returns a snapshot of the driver call counters.
func (b *SimBackend) SimStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
