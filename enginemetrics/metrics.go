// Package enginemetrics is an optional Prometheus observer for the
// send/receive queues, grounded on vango-go-vango's
// pkg/middleware/metrics.go: a promauto.With(registry) factory behind a
// singleton published once through an atomic.Pointer, exposed through
// plain Record* functions so
// sendqueue and recvqueue never import prometheus directly.
package enginemetrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smnsjas/go-fragengine/fragment"
)

// Config configures the metrics namespace/registry, mirroring vango's
// MetricsConfig/MetricsOption shape.
type Config struct {
	// Namespace is the metrics namespace (default: "fragengine").
	Namespace string
	// ConstLabels are constant labels added to every metric.
	ConstLabels prometheus.Labels
	// Registry is the Prometheus registerer to use (default:
	// prometheus.DefaultRegisterer).
	Registry prometheus.Registerer
}

// Option configures a Config.
type Option func(*Config)

// WithNamespace overrides the default metrics namespace.
func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}

// WithConstLabels sets constant labels applied to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithRegistry overrides the Prometheus registerer.
func WithRegistry(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = r }
}

func defaultConfig() Config {
	return Config{
		Namespace: "fragengine",
		Registry:  prometheus.DefaultRegisterer,
	}
}

type metrics struct {
	fragmentsSent     *prometheus.CounterVec
	fragmentsReceived *prometheus.CounterVec
	bytesQueued       *prometheus.GaugeVec
	objectsAssembled  *prometheus.CounterVec
	framingErrors     *prometheus.CounterVec
}

var global atomic.Pointer[metrics]

func initMetrics(cfg Config) *metrics {
	factory := promauto.With(cfg.Registry)

	return &metrics{
		fragmentsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "fragments_sent_total",
			Help:        "Total fragments appended to a priority send buffer.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"priority"}),

		fragmentsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "fragments_received_total",
			Help:        "Total fragments parsed off an inbound byte stream.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"priority"}),

		bytesQueued: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "bytes_queued",
			Help:        "Fragment bytes currently queued per priority, send or receive side.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"priority", "direction"}),

		objectsAssembled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "objects_assembled_total",
			Help:        "Total objects fully reassembled from fragments.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"priority"}),

		framingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "framing_errors_total",
			Help:        "Total framing/protocol errors raised by the receive demuxer.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind", "scope"}),
	}
}

// Register initializes the package-level metrics singleton. Subsequent
// calls are no-ops; the first caller's Config wins, matching vango's
// Prometheus() middleware constructor. Safe to call concurrently with
// Record*: global is only ever published via CompareAndSwap, never
// mutated in place.
func Register(opts ...Option) {
	if global.Load() != nil {
		return
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	global.CompareAndSwap(nil, initMetrics(cfg))
}

// RecordFragmentSent increments the sent counter for priority.
func RecordFragmentSent(priority fragment.Priority) {
	m := global.Load()
	if m == nil {
		return
	}
	m.fragmentsSent.WithLabelValues(priority.String()).Inc()
}

// RecordFragmentReceived increments the received counter for priority.
func RecordFragmentReceived(priority fragment.Priority) {
	m := global.Load()
	if m == nil {
		return
	}
	m.fragmentsReceived.WithLabelValues(priority.String()).Inc()
}

// SetBytesQueued sets the current queued-byte gauge for priority and
// direction ("send" or "recv").
func SetBytesQueued(priority fragment.Priority, direction string, bytes float64) {
	m := global.Load()
	if m == nil {
		return
	}
	m.bytesQueued.WithLabelValues(priority.String(), direction).Set(bytes)
}

// RecordObjectAssembled increments the assembled-object counter for
// priority.
func RecordObjectAssembled(priority fragment.Priority) {
	m := global.Load()
	if m == nil {
		return
	}
	m.objectsAssembled.WithLabelValues(priority.String()).Inc()
}

// RecordFramingError increments the framing-error counter for the given
// error kind and scope string (e.g. "client", "server").
func RecordFramingError(kind, scope string) {
	m := global.Load()
	if m == nil {
		return
	}
	m.framingErrors.WithLabelValues(kind, scope).Inc()
}

// Registered reports whether Register has been called, for callers that
// want to avoid the overhead of building label values when no one is
// scraping metrics.
func Registered() bool {
	return global.Load() != nil
}

// EventSink adapts fragment.EventSink to this package's counters, so an
// engine can observe its own queues purely through the engine's existing
// event hook instead of calling Record* directly from sendqueue/recvqueue.
type EventSink struct{}

// FragmentSent implements fragment.EventSink.
func (EventSink) FragmentSent(ev fragment.Event) {
	RecordFragmentSent(ev.Priority)
}

// FragmentReceived implements fragment.EventSink.
func (EventSink) FragmentReceived(ev fragment.Event) {
	RecordFragmentReceived(ev.Priority)
	if ev.End {
		RecordObjectAssembled(ev.Priority)
	}
}
