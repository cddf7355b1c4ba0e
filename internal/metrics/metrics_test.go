package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/mutker/hubctl/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTick(t *testing.T) {
	m := metrics.New()

	m.ObserveTick("LIVE", "COOLING", map[string]float64{"temperature": 31.5}, true)
	m.ObserveTick("LIVE", "COOLING", map[string]float64{"temperature": 31.7}, false)
	m.ObserveTickFailure()

	body := scrape(t, m)
	assert.Contains(t, body, `hubctl_ticks_total{phase="LIVE"} 2`)
	assert.Contains(t, body, `hubctl_state_changes_total 1`)
	assert.Contains(t, body, `hubctl_tick_failures_total 1`)
	assert.Contains(t, body, `hubctl_reading{metric="temperature"} 31.7`)
	assert.Contains(t, body, `hubctl_phase{phase="LIVE"} 1`)
	assert.Contains(t, body, `hubctl_phase{phase="SIMULATED"} 0`)
	assert.Contains(t, body, `hubctl_mode{mode="COOLING"} 1`)
}

func TestObserveIngestAndDelivery(t *testing.T) {
	m := metrics.New()

	m.ObserveIngest("direct", 2, 1)
	m.ObserveIngest("direct", 1, 0)
	m.ObserveDelivery("mqtt", nil)
	m.ObserveDelivery("mqtt", errors.New("offline"))
	m.ObserveDrop()

	body := scrape(t, m)
	assert.Contains(t, body, `hubctl_ingest_fields_total{outcome="accepted",source="direct"} 3`)
	assert.Contains(t, body, `hubctl_ingest_fields_total{outcome="dropped",source="direct"} 1`)
	assert.Contains(t, body, `hubctl_broadcast_deliveries_total{observer="mqtt",outcome="error"} 1`)
	assert.Contains(t, body, `hubctl_broadcast_dropped_total 1`)
}

func TestWrapHandler(t *testing.T) {
	m := metrics.New()
	h := m.WrapHandler("/api/thresholds", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/thresholds", nil))

	n, err := testutil.GatherAndCount(m.Registry(), "hubctl_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, scrape(t, m), `hubctl_http_requests_total{route="/api/thresholds",status="400"} 1`)
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := metrics.New(), metrics.New()
	a.ObserveDrop()

	assert.Contains(t, scrape(t, a), `hubctl_broadcast_dropped_total 1`)
	assert.Contains(t, scrape(t, b), `hubctl_broadcast_dropped_total 0`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
