// Package prom exports store metrics to Prometheus.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IJSK10/fastkv/store"
)

// Adapter implements store.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evicts    *prometheus.CounterVec
	entries   prometheus.Gauge
	buckets   prometheus.Gauge
	reclaimed prometheus.Counter
	pending   prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		hits:   counter("hits_total", "Lookups that found a live entry"),
		misses: counter("misses_total", "Lookups that found nothing or an expired entry"),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Entries removed by the store, by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		entries:   gauge("size_entries", "Number of resident entries"),
		buckets:   gauge("size_buckets", "Number of hash table buckets"),
		reclaimed: counter("reclaimed_total", "Unlinked nodes freed by the reclaimer"),
		pending:   gauge("reclaim_pending", "Unlinked nodes still held by readers"),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.entries, a.buckets, a.reclaimed, a.pending)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r store.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size updates the entry and bucket gauges.
func (a *Adapter) Size(entries, buckets int) {
	a.entries.Set(float64(entries))
	a.buckets.Set(float64(buckets))
}

// Reclaimed accumulates freed nodes and records the backlog.
func (a *Adapter) Reclaimed(freed, pending int) {
	a.reclaimed.Add(float64(freed))
	a.pending.Set(float64(pending))
}

// Compile-time check: ensure Adapter implements store.Metrics.
var _ store.Metrics = (*Adapter)(nil)
