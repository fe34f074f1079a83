package persistent

// metrics.go is a thin abstraction over Prometheus so PickleCache works
// with or without metrics: a metricsSink interface, a no-op implementation
// used by default, and a Prometheus-backed implementation activated by
// WithMetrics. Labels are cache-wide; there is one PickleCache per Jar and
// no sharding to label by.
//
// ┌────────────────────────────┐
// │ Metric                │Type│
// ├────────────────────────┼────┤
// │ persistent_cache_hits_total     │Ctr │
// │ persistent_cache_misses_total   │Ctr │
// │ persistent_cache_ghostifications_total│Ctr │
// │ persistent_cache_live_objects   │Gge │
// │ persistent_cache_bytes          │Gge │
// └────────────────────────────┘
//
// © 2025 go-persistent authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is an internal interface abstracting the concrete metrics
// backend (Prometheus vs noop). Not exposed outside the package.
type metricsSink interface {
	incHit()
	incMiss()
	incGhostify()
	setLiveObjects(n int)
	setBytes(n int64)
}

type noopMetrics struct{}

func (noopMetrics) incHit()              {}
func (noopMetrics) incMiss()             {}
func (noopMetrics) incGhostify()         {}
func (noopMetrics) setLiveObjects(int)   {}
func (noopMetrics) setBytes(int64)       {}

type promMetrics struct {
	hits         prometheus.Counter
	misses       prometheus.Counter
	ghostifies   prometheus.Counter
	liveObjects  prometheus.Gauge
	bytes        prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persistent",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of PickleCache Get calls that found an already-live object.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persistent",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of PickleCache Get calls that found no entry or only a ghost.",
		}),
		ghostifies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persistent",
			Subsystem: "cache",
			Name:      "ghostifications_total",
			Help:      "Number of objects demoted back to ghost by the garbage collector.",
		}),
		liveObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "persistent",
			Subsystem: "cache",
			Name:      "live_objects",
			Help:      "Current count of non-ghost objects tracked by the ring.",
		}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "persistent",
			Subsystem: "cache",
			Name:      "bytes",
			Help:      "Current estimated total size of non-ghost objects.",
		}),
	}
	reg.MustRegister(pm.hits, pm.misses, pm.ghostifies, pm.liveObjects, pm.bytes)
	return pm
}

func (m *promMetrics) incHit()               { m.hits.Inc() }
func (m *promMetrics) incMiss()              { m.misses.Inc() }
func (m *promMetrics) incGhostify()          { m.ghostifies.Inc() }
func (m *promMetrics) setLiveObjects(n int)  { m.liveObjects.Set(float64(n)) }
func (m *promMetrics) setBytes(n int64)      { m.bytes.Set(float64(n)) }

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
