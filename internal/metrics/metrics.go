// Package metrics exports hub activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hubctl"

// Metrics holds the collectors of one process. Each instance owns its
// registry.
type Metrics struct {
	registry *prometheus.Registry

	ingestFields     *prometheus.CounterVec
	ticks            *prometheus.CounterVec
	tickFailures     prometheus.Counter
	stateChanges     prometheus.Counter
	readings         *prometheus.GaugeVec
	deliveries       *prometheus.CounterVec
	droppedEvents    prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	phase            *prometheus.GaugeVec
	mode             *prometheus.GaugeVec
	lastTickUnixTime prometheus.Gauge
}

var (
	phases = []string{"AWAITING_FIRST_DATA", "LIVE", "SIMULATED", "MANUAL"}
	modes  = []string{"SAFE", "COOLING", "DRYING", "MANUAL"}
)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ingestFields: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_fields_total",
			Help:      "Reading fields received from live sources, by source and outcome.",
		}, []string{"source", "outcome"}),
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Control loop ticks, by phase.",
		}, []string{"phase"}),
		tickFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_failures_total",
			Help:      "Control loop ticks that failed or panicked.",
		}),
		stateChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_total",
			Help:      "Ticks that published a state change.",
		}),
		readings: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading",
			Help:      "Current value of each tracked metric.",
		}, []string{"metric"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Event deliveries to observers, by observer and outcome.",
		}, []string{"observer", "outcome"}),
		droppedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Events dropped because the broadcast queue was full.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed, by route and status.",
		}, []string{"route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "1 for the current control loop phase, 0 otherwise.",
		}, []string{"phase"}),
		mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "1 for the current operating mode, 0 otherwise.",
		}, []string{"mode"}),
		lastTickUnixTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the last completed tick.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveIngest(source string, accepted, dropped int) {
	m.ingestFields.WithLabelValues(source, "accepted").Add(float64(accepted))
	m.ingestFields.WithLabelValues(source, "dropped").Add(float64(dropped))
}

func (m *Metrics) ObserveTick(phase, mode string, values map[string]float64, published bool) {
	m.ticks.WithLabelValues(phase).Inc()
	if published {
		m.stateChanges.Inc()
	}

	for name, v := range values {
		m.readings.WithLabelValues(name).Set(v)
	}
	setOneHot(m.phase, phases, phase)
	setOneHot(m.mode, modes, mode)

	m.lastTickUnixTime.SetToCurrentTime()
}

func (m *Metrics) ObserveTickFailure() {
	m.tickFailures.Inc()
}

func (m *Metrics) ObserveDelivery(observer string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.deliveries.WithLabelValues(observer, outcome).Inc()
}

func (m *Metrics) ObserveDrop() {
	m.droppedEvents.Inc()
}

func setOneHot(g *prometheus.GaugeVec, labels []string, current string) {
	for _, l := range labels {
		v := 0.0
		if l == current {
			v = 1
		}
		g.WithLabelValues(l).Set(v)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their durations under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
