// Package metrics exposes allocator usage counters as a Prometheus
// collector, so a host application can scrape the allocator alongside
// its other telemetry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/gpumem/mem"
)

// InfoSource is anything reporting allocator usage counters; the
// gpumem facade satisfies it.
type InfoSource interface {
	QueryInfo() mem.Info
}

// BudgetSource optionally reports residency budgets per segment group;
// the residency manager satisfies it.
type BudgetSource interface {
	Budget(g mem.SegmentGroup) (limit, used uint64)
}

// Collector is a prometheus.Collector over an allocator.
type Collector struct {
	source InfoSource
	budget BudgetSource

	usedMemoryBytes *prometheus.Desc
	usedMemoryCount *prometheus.Desc
	freeMemoryBytes *prometheus.Desc
	usedBlockBytes  *prometheus.Desc
	usedBlockCount  *prometheus.Desc
	budgetLimit     *prometheus.Desc
	budgetUsed      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector over source. budget may be nil when
// no residency manager is in play.
func NewCollector(source InfoSource, budget BudgetSource) *Collector {
	return &Collector{
		source: source,
		budget: budget,
		usedMemoryBytes: prometheus.NewDesc("gpumem_used_memory_bytes",
			"Bytes of backing memory in use.", nil, nil),
		usedMemoryCount: prometheus.NewDesc("gpumem_used_memory_count",
			"Number of backing memories in use.", nil, nil),
		freeMemoryBytes: prometheus.NewDesc("gpumem_free_memory_bytes",
			"Bytes of pooled or cached memory not backing any allocation.", nil, nil),
		usedBlockBytes: prometheus.NewDesc("gpumem_used_block_bytes",
			"Bytes handed out to callers.", nil, nil),
		usedBlockCount: prometheus.NewDesc("gpumem_used_block_count",
			"Number of live sub-allocated blocks.", nil, nil),
		budgetLimit: prometheus.NewDesc("gpumem_budget_limit_bytes",
			"Residency budget limit.", []string{"group"}, nil),
		budgetUsed: prometheus.NewDesc("gpumem_budget_used_bytes",
			"Resident bytes counted against the budget.", []string{"group"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.usedMemoryBytes
	ch <- c.usedMemoryCount
	ch <- c.freeMemoryBytes
	ch <- c.usedBlockBytes
	ch <- c.usedBlockCount
	if c.budget != nil {
		ch <- c.budgetLimit
		ch <- c.budgetUsed
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	info := c.source.QueryInfo()
	ch <- prometheus.MustNewConstMetric(c.usedMemoryBytes, prometheus.GaugeValue, float64(info.UsedMemoryUsage))
	ch <- prometheus.MustNewConstMetric(c.usedMemoryCount, prometheus.GaugeValue, float64(info.UsedMemoryCount))
	ch <- prometheus.MustNewConstMetric(c.freeMemoryBytes, prometheus.GaugeValue, float64(info.FreeMemoryUsage))
	ch <- prometheus.MustNewConstMetric(c.usedBlockBytes, prometheus.GaugeValue, float64(info.UsedBlockUsage))
	ch <- prometheus.MustNewConstMetric(c.usedBlockCount, prometheus.GaugeValue, float64(info.UsedBlockCount))
	if c.budget == nil {
		return
	}
	for g := mem.SegmentGroup(0); g < mem.NumSegmentGroups; g++ {
		limit, used := c.budget.Budget(g)
		ch <- prometheus.MustNewConstMetric(c.budgetLimit, prometheus.GaugeValue, float64(limit), g.String())
		ch <- prometheus.MustNewConstMetric(c.budgetUsed, prometheus.GaugeValue, float64(used), g.String())
	}
}
