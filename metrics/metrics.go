// Package metrics exposes prometheus collectors for change classification and
// listener delivery.
package metrics

import (
	"github.com/delaneyj/changestream/hierarchy"
	"github.com/delaneyj/changestream/scene"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "changestream"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	changes       *prometheus.CounterVec
	fired         *prometheus.CounterVec
	pruned        *prometheus.CounterVec
	stageRebuilds prometheus.Counter
	flushDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hierarchy",
				Name:      "changes_classified_total",
				Help:      "Raw host changes classified, by category.",
			},
			[]string{"category"},
		),
		fired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listeners",
				Name:      "fired_total",
				Help:      "Listeners invoked, by hierarchy event.",
			},
			[]string{"event"},
		),
		pruned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listeners",
				Name:      "pruned_total",
				Help:      "Listeners dropped because their target was reclaimed, by hierarchy event.",
			},
			[]string{"event"},
		),
		stageRebuilds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "preview",
				Name:      "target_set_rebuilds_total",
				Help:      "Target sets rebuilt after invalidation or a filter list change.",
			},
		),
		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "watcher",
				Name:      "flush_duration_seconds",
				Help:      "Time spent draining the work queue and classifying pending changes.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "watcher",
				Name:      "pending_changes",
				Help:      "Raw changes waiting for the owner to classify them.",
			},
		),
	}
}

// MustRegister registers the metrics with the given Prometheus registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.changes,
		m.fired,
		m.pruned,
		m.stageRebuilds,
		m.flushDuration,
		m.queueDepth,
	)
}

func (m *Metrics) ObserveChange(c scene.Change) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(c.Category.String()).Inc()
}

// ObserveDelivery has the shape of hierarchy.Observer.
func (m *Metrics) ObserveDelivery(ev hierarchy.Event, fired, pruned int) {
	if m == nil {
		return
	}
	if fired > 0 {
		m.fired.WithLabelValues(ev.String()).Add(float64(fired))
	}
	if pruned > 0 {
		m.pruned.WithLabelValues(ev.String()).Add(float64(pruned))
	}
}

func (m *Metrics) ObserveRebuild() {
	if m == nil {
		return
	}
	m.stageRebuilds.Inc()
}

func (m *Metrics) ObserveFlush(seconds float64) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(seconds)
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
