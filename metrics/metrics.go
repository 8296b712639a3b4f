// Package metrics exposes Prometheus collectors for the station board.
//
// Collectors live on a private registry so tests can build as many instances as they like.
package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/benjaminclauss/stationboard/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stationboard"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	reg *prometheus.Registry

	mutations   *prometheus.CounterVec // stationboard_mutations_total
	snapshots   prometheus.Counter     // stationboard_snapshots_published_total
	dropped     prometheus.Counter     // stationboard_frames_dropped_total
	subscribers prometheus.Gauge       // stationboard_subscribers
	vehicles    *prometheus.GaugeVec   // stationboard_vehicles
	natsErrors  prometheus.Counter     // stationboard_nats_publish_errors_total

	// censusMu orders vehicle census updates; censusVersion is the newest snapshot counted.
	censusMu      sync.Mutex
	censusVersion uint64
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Registry operations, partitioned by operation and outcome (ok or error code).",
			},
			[]string{"op", "outcome"},
		),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Snapshots handed to the broadcaster.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a subscriber's queue was full.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected WebSocket subscribers.",
		}),
		vehicles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "vehicles",
				Help:      "Vehicles currently registered, partitioned by station and status.",
			},
			[]string{"station", "status"},
		),
		natsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_publish_errors_total",
			Help:      "Snapshots that could not be published to NATS.",
		}),
	}
	m.reg.MustRegister(
		m.mutations, m.snapshots, m.dropped, m.subscribers, m.vehicles, m.natsErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the exposition format for this instance's collectors.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObserveMutation counts one registry operation.
func (m *Metrics) ObserveMutation(op string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, Outcome(err)).Inc()
}

// Outcome labels err by its registry code, "ok" for nil and "internal" for anything else.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var regErr *registry.Error
	if errors.As(err, &regErr) {
		return string(regErr.Code)
	}
	return "internal"
}

// Publish records the vehicle census of a committed snapshot. It satisfies registry.Publisher.
func (m *Metrics) Publish(s registry.Snapshot) {
	if m == nil {
		return
	}
	m.snapshots.Inc()

	m.censusMu.Lock()
	defer m.censusMu.Unlock()
	if s.Version < m.censusVersion {
		return
	}
	m.censusVersion = s.Version
	m.vehicles.Reset()
	for _, st := range s.Stations {
		for _, status := range registry.Statuses() {
			m.vehicles.WithLabelValues(st.Name, string(status)).Set(0)
		}
		for _, v := range st.Vehicles {
			m.vehicles.WithLabelValues(st.Name, string(v.Status)).Inc()
		}
	}
}

func (m *Metrics) SubscriberConnected() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberDisconnected() {
	if m != nil {
		m.subscribers.Dec()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) NATSPublishFailed() {
	if m != nil {
		m.natsErrors.Inc()
	}
}
