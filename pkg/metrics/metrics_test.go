package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.ObserveDispatch("remote", time.Second)
		m.ObserveFallback("discovering")
		m.ObserveProbe(ProbeOK, time.Millisecond)
		m.ObserveCapsule(1024)
		m.ObserveExit(0)
	})
}

func TestNewDisabled(t *testing.T) {
	registryMu.Lock()
	registry = nil
	registryMu.Unlock()

	assert.False(t, IsEnabled())
	assert.Nil(t, New())
	assert.Error(t, Serve(context.Background(), "127.0.0.1:0"))
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.ObserveDispatch("remote", 2*time.Second)
	m.ObserveDispatch("local", 10*time.Millisecond)
	m.ObserveDispatch("local", 12*time.Millisecond)
	m.ObserveFallback("discovering")
	m.ObserveProbe(ProbeTimeout, 500*time.Millisecond)
	m.ObserveProbe(ProbeOK, 20*time.Millisecond)
	m.ObserveCapsule(2048)
	m.ObserveExit(0)
	m.ObserveExit(1)
	m.ObserveExit(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("remote")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatches.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("discovering")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues(ProbeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exitCodes.WithLabelValues("unknown")))

	expected := `
# HELP offload_discovery_probes_total Total number of worker probes by result
# TYPE offload_discovery_probes_total counter
offload_discovery_probes_total{result="ok"} 1
offload_discovery_probes_total{result="timeout"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "offload_discovery_probes_total"))
}

func TestNewWithRegistererReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewWithRegisterer(reg)

	var second *Metrics
	require.NotPanics(t, func() { second = NewWithRegisterer(reg) })

	first.ObserveFallback("dialing")
	second.ObserveFallback("dialing")
	second.ObserveExit(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(first.fallbacks.WithLabelValues("dialing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(first.exitCodes.WithLabelValues("zero")))

	expected := `
# HELP offload_fallbacks_total Total number of local fallbacks by the stage that failed
# TYPE offload_fallbacks_total counter
offload_fallbacks_total{stage="dialing"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "offload_fallbacks_total"))
}

func TestNewTwiceOnActiveRegistry(t *testing.T) {
	InitRegistry()
	defer func() {
		registryMu.Lock()
		registry = nil
		registryMu.Unlock()
	}()

	require.NotNil(t, New())
	assert.NotPanics(t, func() { assert.NotNil(t, New()) })
}

func TestNewWithNilRegisterer(t *testing.T) {
	m := NewWithRegisterer(nil)
	require.NotNil(t, m)
	m.ObserveFallback("building")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("building")))
}

func TestHandler(t *testing.T) {
	reg := InitRegistry()
	defer func() {
		registryMu.Lock()
		registry = nil
		registryMu.Unlock()
	}()

	m := New()
	require.NotNil(t, m)
	m.ObserveFallback("uploading")

	assert.Same(t, reg, GetRegistry())

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `offload_fallbacks_total{stage="uploading"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
