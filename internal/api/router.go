// Package api serves the hub over HTTP: the dashboard REST endpoints, the
// WebSocket event stream and the Prometheus scrape endpoint.
package api

import (
	"bytes"
	"net/http"
	"time"

	"codeberg.org/mutker/hubctl/internal/hub"
	"codeberg.org/mutker/hubctl/internal/logger"
	"codeberg.org/mutker/hubctl/internal/metrics"
	"codeberg.org/mutker/hubctl/internal/policy"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Hub is the part of *hub.Hub the API serves.
type Hub interface {
	Snapshot() hub.Snapshot
	Ingest(source hub.Source, readings map[string]any, ts time.Time) (hub.IngestResult, error)
	History(metric string, limit int) ([]hub.Sample, error)
	Thresholds() policy.Thresholds
	SetThresholds(update policy.Thresholds) (policy.Thresholds, error)
	ManualOverride() bool
	SetManualOverride(enabled bool)
	Actuators() policy.Actuators
	SetActuators(cmds map[string]string) (policy.Actuators, error)
}

type Options struct {
	Hub Hub
	// WebSocket serves /ws when set.
	WebSocket http.Handler
	// Metrics serves /metrics and instruments every route when set.
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

type server struct {
	hub Hub
	log logger.Logger
}

// NewRouter returns the complete HTTP handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.New("api")
	}

	s := &server{hub: opts.Hub, log: opts.Logger}
	r := mux.NewRouter()

	route := func(path string, h http.HandlerFunc, methods ...string) {
		var handler http.Handler = h
		if opts.Metrics != nil {
			handler = opts.Metrics.WrapHandler(path, handler)
		}
		r.Handle(path, handler).Methods(methods...)
	}

	route("/health", s.health, http.MethodGet)
	route("/api/sensors", s.sensors, http.MethodGet)
	route("/api/sensor", s.ingest, http.MethodPost)
	route("/api/control", s.control, http.MethodPost)
	route("/api/thresholds", s.thresholds, http.MethodGet)
	route("/api/thresholds", s.setThresholds, http.MethodPut, http.MethodPost)
	route("/api/history/{metric}", s.history, http.MethodGet)

	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "no such endpoint"})
	})

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{opts.Logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	h = handlers.LoggingHandler(accessLog{opts.Logger}, h)

	return h
}

// accessLog writes handlers.LoggingHandler output as debug log lines.
type accessLog struct {
	log logger.Logger
}

func (a accessLog) Write(p []byte) (int, error) {
	a.log.Debug().Msg(string(bytes.TrimSpace(p)))
	return len(p), nil
}

type recoveryLogger struct {
	log logger.Logger
}

func (r recoveryLogger) Println(v ...interface{}) {
	r.log.Error().Interface("panic", v).Msg("Recovered from panic in handler")
}
