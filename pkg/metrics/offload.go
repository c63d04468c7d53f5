package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Probe results.
const (
	ProbeOK      = "ok"
	ProbeTimeout = "timeout"
	ProbeAuth    = "auth"
	ProbeError   = "error"
)

// Metrics is the Prometheus instrumentation for discovery and dispatch.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec
	probes           *prometheus.CounterVec
	probeDuration    prometheus.Histogram
	capsuleBytes     prometheus.Histogram
	exitCodes        *prometheus.CounterVec
}

// New creates Metrics on the active registry.
// Returns nil if metrics are not enabled (InitRegistry not called).
func New() *Metrics {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}
	return NewWithRegisterer(reg)
}

// NewWithRegisterer creates Metrics registered on reg. If reg is nil, metrics
// are created but not registered.
//
// Collectors already registered on reg, by an earlier Offloader in the same
// process, are reused so both keep exporting into the same series.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offload_dispatch_total",
				Help: "Total number of offloaded calls by where they ran",
			},
			[]string{"source"}, // "remote", "local"
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "offload_dispatch_duration_milliseconds",
				Help: "End-to-end duration of offloaded calls in milliseconds",
				Buckets: []float64{
					10,     // local fallbacks of trivial units
					100,    // 100ms
					500,    // 500ms
					1000,   // 1s
					2500,   // 2.5s - typical go run on a warm worker
					5000,   // 5s
					10000,  // 10s
					30000,  // 30s
					60000,  // 1m
					300000, // 5m - long-running units
				},
			},
			[]string{"source"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offload_fallbacks_total",
				Help: "Total number of local fallbacks by the stage that failed",
			},
			[]string{"stage"}, // discovering, dialing, building, uploading, executing, collecting
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offload_discovery_probes_total",
				Help: "Total number of worker probes by result",
			},
			[]string{"result"}, // ok, timeout, auth, error
		),
		probeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "offload_discovery_probe_duration_milliseconds",
				Help:    "Duration of individual worker probes in milliseconds",
				Buckets: []float64{5, 10, 50, 100, 250, 500, 1000, 2000, 5000},
			},
		),
		capsuleBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "offload_capsule_bytes",
				Help:    "Size of generated capsules in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 2, 10), // 256B .. 128KB
			},
		),
		exitCodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offload_remote_exit_total",
				Help: "Total number of remote capsule runs by exit status class",
			},
			[]string{"status"}, // "zero", "nonzero", "unknown"
		),
	}

	if reg != nil {
		m.dispatches = registerOrReuse(reg, m.dispatches).(*prometheus.CounterVec)
		m.dispatchDuration = registerOrReuse(reg, m.dispatchDuration).(*prometheus.HistogramVec)
		m.fallbacks = registerOrReuse(reg, m.fallbacks).(*prometheus.CounterVec)
		m.probes = registerOrReuse(reg, m.probes).(*prometheus.CounterVec)
		m.probeDuration = registerOrReuse(reg, m.probeDuration).(prometheus.Histogram)
		m.capsuleBytes = registerOrReuse(reg, m.capsuleBytes).(prometheus.Histogram)
		m.exitCodes = registerOrReuse(reg, m.exitCodes).(*prometheus.CounterVec)
	}

	return m
}

// registerOrReuse registers c on reg and returns it, or returns the collector
// already registered under the same descriptor. Any other registration error
// panics, as MustRegister would.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// ObserveDispatch records a completed call and where it ran.
func (m *Metrics) ObserveDispatch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(source).Inc()
	m.dispatchDuration.WithLabelValues(source).Observe(float64(d.Microseconds()) / 1000.0)
}

// ObserveFallback records a local fallback caused by a failure in stage.
func (m *Metrics) ObserveFallback(stage string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(stage).Inc()
}

// ObserveProbe records one discovery probe.
func (m *Metrics) ObserveProbe(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result).Inc()
	m.probeDuration.Observe(float64(d.Microseconds()) / 1000.0)
}

// ObserveCapsule records the size of a built capsule.
func (m *Metrics) ObserveCapsule(bytes int) {
	if m == nil {
		return
	}
	m.capsuleBytes.Observe(float64(bytes))
}

// ObserveExit records the exit status of a remote capsule run.
func (m *Metrics) ObserveExit(code int) {
	if m == nil {
		return
	}
	switch {
	case code == 0:
		m.exitCodes.WithLabelValues("zero").Inc()
	case code < 0:
		m.exitCodes.WithLabelValues("unknown").Inc()
	default:
		m.exitCodes.WithLabelValues("nonzero").Inc()
	}
}
