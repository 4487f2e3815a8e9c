package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/joshuapare/gpumem/mem"
	"github.com/joshuapare/gpumem/mem/memtest"
	"github.com/joshuapare/gpumem/pkg/gpumem"
)

var (
	simCount     int
	simMinSize   uint64
	simMaxSize   uint64
	simSeed      int64
	simBudget    uint64
	simLiveRatio float64
	simTrim      bool
	simCommitted bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVarP(&simCount, "count", "n", 1000, "Number of allocation requests")
	cmd.Flags().Uint64Var(&simMinSize, "min-size", 4<<10, "Minimum request size in bytes")
	cmd.Flags().Uint64Var(&simMaxSize, "max-size", 8<<20, "Maximum request size in bytes")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Workload RNG seed")
	cmd.Flags().Uint64Var(&simBudget, "budget", 0, "Video memory budget in bytes (default: half of host RAM)")
	cmd.Flags().Float64Var(&simLiveRatio, "live-ratio", 0.5, "Fraction of allocations kept live")
	cmd.Flags().BoolVar(&simTrim, "trim", false, "Trim pooled memory before the final report")
	cmd.Flags().BoolVar(&simCommitted, "committed", false, "Force committed (standalone) allocations")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a randomized allocation workload",
		Long: `The simulate command allocates and frees a randomized stream of
buffer resources against a simulated driver backend, then reports the
allocator's packing behavior.

Example:
  gmmctl simulate -n 5000
  gmmctl simulate --min-size 65536 --max-size 1048576 --trim
  gmmctl simulate --committed --budget 268435456`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
}

func runSimulate() error {
	budget := simBudget
	if budget == 0 {
		budget = memtest.DefaultBudget()
	}
	backend := memtest.NewSimBackend(budget, budget)

	a, err := gpumem.New(gpumem.Options{
		Backend:         backend,
		AlwaysCommitted: simCommitted,
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(simSeed))
	var live []*mem.Allocation
	failures := 0

	for i := 0; i < simCount; i++ {
		size := simMinSize + uint64(rng.Int63n(int64(simMaxSize-simMinSize+1)))
		al, err := a.CreateResource(gpumem.ResourceDesc{
			Kind:     gpumem.ResourceKindBuffer,
			Size:     size,
			HeapKind: mem.HeapKindDefault,
		}, 0, nil)
		if err != nil {
			failures++
			printVerbose("request %d (%d bytes) failed: %v\n", i, size, err)
			continue
		}
		live = append(live, al)

		// Keep roughly live-ratio of allocations, freeing random ones.
		for float64(len(live)) > simLiveRatio*float64(i+1) {
			j := rng.Intn(len(live))
			a.Deallocate(live[j])
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}

	printInfo("workload: %d requests, %d live, %d failed\n\n", simCount, len(live), failures)

	if simTrim {
		for _, al := range live {
			a.Deallocate(al)
		}
		live = nil
		a.Trim()
		printInfo("trimmed all pooled memory\n\n")
	}

	printInfo("%s\n", gpumem.FormatInfo(a.QueryInfo()))

	stats := backend.SimStats()
	printInfo("driver calls: %d create, %d destroy\n", stats.CreateCalls, stats.DestroyCalls)
	for g := mem.SegmentGroup(0); g < mem.NumSegmentGroups; g++ {
		limit, used := a.Residency().Budget(g)
		printInfo("budget[%s]: %d / %d bytes resident\n", g, used, limit)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d requests failed", failures, simCount)
	}
	return nil
}
