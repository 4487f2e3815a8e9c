package main

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joshuapare/gpumem/mem"
	"github.com/joshuapare/gpumem/mem/memtest"
	"github.com/joshuapare/gpumem/pkg/gpumem"
)

const (
	tickInterval   = 100 * time.Millisecond
	stepsPerTick   = 25
	workloadBudget = 256 << 20
	maxLive        = 400
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(24)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	barBgStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	pausedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// model drives a continuous randomized workload against a simulated
// backend and renders the allocator's counters.
type model struct {
	backend   *memtest.SimBackend
	allocator *gpumem.Allocator
	rng       *rand.Rand

	live     []*mem.Allocation
	requests int
	failures int
	evicts   *uint64
	paused   bool
	err      error
}

func newModel() model {
	backend := memtest.NewSimBackend(workloadBudget, workloadBudget)
	evicts := new(uint64)
	m := model{backend: backend, evicts: evicts, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}

	a, err := gpumem.New(gpumem.Options{
		Backend:        backend,
		AlwaysInBudget: true,
		EventSink: func(e mem.Event) {
			if e.Kind == mem.EventEvict {
				*evicts++
			}
		},
	})
	if err != nil {
		m.err = err
		return m
	}
	m.allocator = a
	return m
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
		case "t":
			if m.allocator != nil {
				m.allocator.Trim()
			}
		}
	case tickMsg:
		if !m.paused && m.allocator != nil {
			m.step()
		}
		return m, tick()
	}
	return m, nil
}

// step runs a slice of the workload: mostly allocations, trending
// toward a bounded live set.
func (m *model) step() {
	for i := 0; i < stepsPerTick; i++ {
		if len(m.live) >= maxLive || (len(m.live) > 0 && m.rng.Intn(3) == 0) {
			j := m.rng.Intn(len(m.live))
			m.allocator.Deallocate(m.live[j])
			m.live[j] = m.live[len(m.live)-1]
			m.live = m.live[:len(m.live)-1]
			continue
		}
		size := uint64(4<<10) << m.rng.Intn(11) // 4 KiB .. 4 MiB
		al, err := m.allocator.CreateResource(gpumem.ResourceDesc{
			Kind:     gpumem.ResourceKindBuffer,
			Size:     size,
			HeapKind: mem.HeapKindDefault,
		}, 0, nil)
		m.requests++
		if err != nil {
			m.failures++
			continue
		}
		m.live = append(m.live, al)
	}
}

func bar(used, limit uint64, width int) string {
	if limit == 0 {
		return ""
	}
	filled := int(float64(width) * float64(used) / float64(limit))
	if filled > width {
		filled = width
	}
	return barStyle.Render(strings.Repeat("█", filled)) +
		barBgStyle.Render(strings.Repeat("░", width-filled))
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func (m model) View() string {
	if m.err != nil {
		return fmt.Sprintf("error: %v\n", m.err)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("gmmtop — gpumem allocator"))
	if m.paused {
		b.WriteString("  " + pausedStyle.Render("[paused]"))
	}
	b.WriteString("\n\n")

	info := m.allocator.QueryInfo()
	b.WriteString(row("requests", fmt.Sprintf("%d (%d failed)", m.requests, m.failures)) + "\n")
	b.WriteString(row("live allocations", fmt.Sprintf("%d", len(m.live))) + "\n")
	b.WriteString(row("used memory", fmt.Sprintf("%d MiB in %d heaps", info.UsedMemoryUsage>>20, info.UsedMemoryCount)) + "\n")
	b.WriteString(row("pooled memory", fmt.Sprintf("%d MiB", info.FreeMemoryUsage>>20)) + "\n")
	b.WriteString(row("handed out", fmt.Sprintf("%d MiB in %d blocks", info.UsedBlockUsage>>20, info.UsedBlockCount)) + "\n")
	if info.UsedMemoryUsage > 0 {
		b.WriteString(row("packing efficiency",
			fmt.Sprintf("%.1f %%", float64(info.UsedBlockUsage)/float64(info.UsedMemoryUsage)*100)) + "\n")
	}
	b.WriteString("\n")

	for g := mem.SegmentGroup(0); g < mem.NumSegmentGroups; g++ {
		limit, used := m.allocator.Residency().Budget(g)
		b.WriteString(row(fmt.Sprintf("budget (%s)", g),
			fmt.Sprintf("%4d / %4d MiB ", used>>20, limit>>20)))
		b.WriteString(bar(used, limit, 30) + "\n")
	}
	b.WriteString(row("evictions", fmt.Sprintf("%d", *m.evicts)) + "\n")

	b.WriteString("\n" + helpStyle.Render("q quit · space pause · t trim"))
	return b.String()
}
