// Package hub owns the live state of the installation: current readings and
// their history, source freshness, thresholds, the manual override and the
// actuator state. All of it sits behind one mutex on Hub.
package hub

import (
	"context"
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/hubctl/internal/broadcast"
	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/logger"
	"codeberg.org/mutker/hubctl/internal/policy"
	"github.com/spf13/cast"
)

// TrackedMetrics are the metric names the store accepts.
var TrackedMetrics = []string{policy.Temperature, policy.Humidity, policy.SoilMoisture}

// ThresholdPersister stores thresholds outside the process.
type ThresholdPersister interface {
	Save(th policy.Thresholds) error
}

// Recorder receives the snapshot of every scheduled tick.
type Recorder interface {
	Record(ctx context.Context, snap Snapshot) error
}

// Instruments observes hub activity for metrics export.
type Instruments interface {
	ObserveIngest(source string, accepted, dropped int)
	ObserveTick(phase, mode string, values map[string]float64, published bool)
	ObserveTickFailure()
}

type Options struct {
	Interval    time.Duration
	Staleness   time.Duration
	HistorySize int
	Thresholds  policy.Thresholds
	Sink        broadcast.Sink
	Persister   ThresholdPersister
	Recorder    Recorder
	Instruments Instruments
	Simulator   *Simulator
	Now         func() time.Time
	Logger      logger.Logger
}

// IngestResult counts the fields of one payload.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

type Hub struct {
	interval  time.Duration
	staleness time.Duration
	sink      broadcast.Sink
	persister ThresholdPersister
	recorder  Recorder
	instr     Instruments
	sim       *Simulator
	now       func() time.Time
	log       logger.Logger

	// evalMu orders evaluations so their broadcasts leave in sequence.
	// Ingest never takes it.
	evalMu sync.Mutex

	mu         sync.Mutex
	store      *Store
	arbiter    *Arbiter
	thresholds policy.Thresholds
	manual     bool
	actuators  policy.Actuators
	mode       policy.Mode
	phase      Phase
	lastPulse  time.Time
}

func New(opts Options) *Hub {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.Staleness <= 0 {
		opts.Staleness = 10 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 50
	}
	if opts.Thresholds == nil {
		opts.Thresholds = policy.DefaultThresholds()
	}
	if opts.Sink == nil {
		opts.Sink = broadcast.Discard
	}
	if opts.Persister == nil {
		opts.Persister = noopPersister{}
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.Instruments == nil {
		opts.Instruments = noopInstruments{}
	}
	if opts.Simulator == nil {
		opts.Simulator = NewSimulator(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("hub")
	}

	return &Hub{
		interval:   opts.Interval,
		staleness:  opts.Staleness,
		sink:       opts.Sink,
		persister:  opts.Persister,
		recorder:   opts.Recorder,
		instr:      opts.Instruments,
		sim:        opts.Simulator,
		now:        opts.Now,
		log:        opts.Logger,
		store:      NewStore(opts.HistorySize, TrackedMetrics...),
		arbiter:    NewArbiter(),
		thresholds: opts.Thresholds.Clone(),
		actuators:  policy.AllOff(),
		mode:       policy.ModeSafe,
		phase:      PhaseAwaiting,
	}
}

// Ingest applies one payload from a live producer. Unknown names and values
// that do not coerce to a finite number are dropped individually; the rest of
// the payload still applies. A zero ts means "now".
func (h *Hub) Ingest(source Source, readings map[string]any, ts time.Time) (IngestResult, error) {
	if !source.IsLive() {
		return IngestResult{}, errors.New().WithData(errors.ErrInvalidArgument, "unknown source "+string(source))
	}

	h.mu.Lock()
	res := h.ingestLocked(source, readings, ts)
	h.mu.Unlock()

	h.instr.ObserveIngest(string(source), res.Accepted, res.Dropped)

	if res.Dropped > 0 {
		h.log.Debug().
			Str("source", string(source)).
			Int("accepted", res.Accepted).
			Int("dropped", res.Dropped).
			Msg("Dropped fields from payload")
	}

	return res, nil
}

func (h *Hub) ingestLocked(source Source, readings map[string]any, ts time.Time) IngestResult {
	now := h.now()
	if ts.IsZero() {
		ts = now
	}

	var res IngestResult
	for name, raw := range readings {
		if !h.store.Tracked(name) {
			res.Dropped++
			continue
		}

		value, err := cast.ToFloat64E(raw)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			res.Dropped++
			continue
		}

		h.store.Record(name, value, ts)
		res.Accepted++
	}

	if res.Accepted > 0 {
		h.arbiter.RecordArrival(source, now)
		h.lastPulse = now
	}

	return res
}

// Snapshot returns a copy of the current state.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.snapshotLocked(h.now())
}

// History returns up to limit recent samples of metric, oldest first.
func (h *Hub) History(metric string, limit int) ([]Sample, error) {
	h.mu.Lock()
	samples, ok := h.store.History(metric, limit)
	h.mu.Unlock()

	if !ok {
		return nil, errors.New().WithData(errors.ErrResourceNotFound, "metric "+metric)
	}

	return samples, nil
}

// Thresholds returns a copy of the active thresholds.
func (h *Hub) Thresholds() policy.Thresholds {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.thresholds.Clone()
}

// ManualOverride reports whether automation is suspended.
func (h *Hub) ManualOverride() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.manual
}

// SetThresholds merges update into the active thresholds, persists the
// result and re-evaluates immediately. A persistence failure is logged; the
// new thresholds are served regardless.
func (h *Hub) SetThresholds(update policy.Thresholds) (policy.Thresholds, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	h.evalMu.Lock()
	defer h.evalMu.Unlock()

	h.mu.Lock()
	h.thresholds = h.thresholds.Merge(update)
	th := h.thresholds.Clone()
	h.mu.Unlock()

	if err := h.persister.Save(th); err != nil {
		h.log.ErrorWithCode(errors.New().Wrap(errors.ErrPersistState, err)).Msg("Failed to persist thresholds")
	}

	h.sink.Publish(broadcast.NewEvent(broadcast.ThresholdUpdate, th.Clone()))
	h.evaluate(false, true)

	return th, nil
}

// SetManualOverride suspends or resumes automation and re-evaluates
// immediately.
func (h *Hub) SetManualOverride(enabled bool) {
	h.evalMu.Lock()
	defer h.evalMu.Unlock()

	h.mu.Lock()
	h.manual = enabled
	h.mu.Unlock()

	h.log.Info().Bool("manual_override", enabled).Msg("Manual override changed")
	h.sink.Publish(broadcast.NewEvent(broadcast.ManualModeUpdate, enabled))
	h.evaluate(false, false)
}

// SetActuators applies an operator command. Outside manual override the
// next tick reconciles the actuators with the policy again.
func (h *Hub) SetActuators(cmds map[string]string) (policy.Actuators, error) {
	h.evalMu.Lock()
	defer h.evalMu.Unlock()

	h.mu.Lock()
	next, err := h.actuators.Apply(cmds)
	if err != nil {
		h.mu.Unlock()
		return h.Actuators(), err
	}
	changed := h.actuators.Diff(next)
	h.actuators = next
	h.mu.Unlock()

	if len(changed) > 0 {
		h.log.Info().Strs("changed", changed).Msg("Actuators set by command")
	}
	h.sink.Publish(broadcast.NewEvent(broadcast.ControlUpdate, next))

	return next, nil
}

// Actuators returns the current actuator state.
func (h *Hub) Actuators() policy.Actuators {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.actuators
}

type noopPersister struct{}

func (noopPersister) Save(policy.Thresholds) error { return nil }

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, Snapshot) error { return nil }

type noopInstruments struct{}

func (noopInstruments) ObserveIngest(string, int, int)                       {}
func (noopInstruments) ObserveTick(string, string, map[string]float64, bool) {}
func (noopInstruments) ObserveTickFailure()                                  {}
