package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats provides the collector access to the conversion worker pool.
type PoolStats interface {
	Pending() int
	Workers() int
}

// CacheStats provides the collector access to the search-result cache.
type CacheStats interface {
	Len() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  PoolStats
	cache CacheStats

	queuePending   *prometheus.Desc
	workers        *prometheus.Desc
	cachedSearches *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Either source may be nil (metrics will report 0).
func NewCollector(pool PoolStats, cache CacheStats) *Collector {
	return &Collector{
		pool:  pool,
		cache: cache,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "pending_jobs"),
			"Conversion jobs waiting for a worker.",
			nil, nil,
		),
		workers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "workers"),
			"Configured conversion workers.",
			nil, nil,
		),
		cachedSearches: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cached_searches"),
			"Conversations with a cached search result.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.workers
	ch <- c.cachedSearches
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, workers, cached float64
	if c.pool != nil {
		pending = float64(c.pool.Pending())
		workers = float64(c.pool.Workers())
	}
	if c.cache != nil {
		cached = float64(c.cache.Len())
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, workers)
	ch <- prometheus.MustNewConstMetric(c.cachedSearches, prometheus.GaugeValue, cached)
}
