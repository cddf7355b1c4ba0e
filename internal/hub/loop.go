package hub

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/hubctl/internal/broadcast"
	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/policy"
)

// nextPhase is the loop state machine. Manual override dominates, fresh live
// data means LIVE, and without it the hub simulates, reporting OFFLINE until
// a live source has ever been seen.
func nextPhase(manual, fresh, seenLive bool) Phase {
	switch {
	case manual:
		return PhaseManual
	case fresh:
		return PhaseLive
	case seenLive:
		return PhaseSimulated
	default:
		return PhaseAwaiting
	}
}

// Run ticks every interval until ctx is cancelled. A tick that is already
// running when ctx is cancelled completes first.
func (h *Hub) Run(ctx context.Context) error {
	if h.interval <= 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, h.interval)
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info().
		Dur("interval", h.interval).
		Dur("staleness", h.staleness).
		Msg("Control loop started")

	h.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Control loop stopped")
			return nil
		case <-ticker.C:
			h.runTick(ctx)
		}
	}
}

func (h *Hub) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.instr.ObserveTickFailure()
			h.log.ErrorWithCode(errors.New().WithData(errors.ErrTickFailed, fmt.Sprint(r))).Msg("Recovered from panic in tick")
		}
	}()

	if err := h.Tick(ctx); err != nil {
		h.instr.ObserveTickFailure()
		if coded, ok := err.(errors.Error); ok {
			h.log.ErrorWithCode(coded).Msg("Tick failed")
			return
		}
		h.log.Error().Err(err).Msg("Tick failed")
	}
}

// Tick runs one scheduled evaluation: simulate when no live source is fresh,
// apply the policy, publish on change, sample idle metrics and record the
// resulting snapshot.
func (h *Hub) Tick(ctx context.Context) error {
	h.evalMu.Lock()
	defer h.evalMu.Unlock()

	snap, published := h.evaluate(true, false)

	h.instr.ObserveTick(string(snap.Phase), string(snap.Mode), snap.Metrics, published)

	if err := h.recorder.Record(context.WithoutCancel(ctx), snap); err != nil {
		return errors.New().Wrap(errors.ErrTickFailed, err)
	}

	return nil
}

// evaluate must be called with evalMu held. scheduled enables the parts that
// belong to the periodic tick only; force publishes even without a change.
// A change publishes one sensor_update carrying the full snapshot, actuators
// included.
func (h *Hub) evaluate(scheduled, force bool) (Snapshot, bool) {
	snap, changed, stateChanged := h.stepLocked(scheduled)
	publish := force || stateChanged

	if publish {
		h.log.Info().
			Str("mode", string(snap.Mode)).
			Str("status", snap.Status).
			Str("phase", string(snap.Phase)).
			Strs("changed", changed).
			Msg("State changed")

		h.sink.Publish(broadcast.NewEvent(broadcast.SensorUpdate, snap))
	}

	h.log.Debug().
		Interface("metrics", snap.Metrics).
		Str("mode", string(snap.Mode)).
		Str("phase", string(snap.Phase)).
		Str("source", string(snap.Source)).
		Bool("manual_override", snap.ManualOverride).
		Bool("published", publish).
		Msg("")

	return snap, publish
}

// stepLocked advances the state under h.mu and reports the changed actuators
// and whether actuators, mode or status changed.
func (h *Hub) stepLocked(scheduled bool) (Snapshot, []string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	prevMode, prevPhase, prevActuators := h.mode, h.phase, h.actuators

	fresh := h.arbiter.IsLiveDataFresh(now, h.staleness)
	h.phase = nextPhase(h.manual, fresh, h.arbiter.SeenLive())

	if scheduled && (h.phase == PhaseSimulated || h.phase == PhaseAwaiting) {
		for name, value := range h.sim.Next() {
			h.store.Record(name, value, now)
		}
		h.arbiter.RecordArrival(SourceSimulator, now)
	}

	mode, target := policy.Evaluate(h.store.Current(), h.thresholds, h.manual, h.actuators)
	changed := prevActuators.Diff(target)
	h.mode = mode
	h.actuators = target

	if scheduled {
		h.store.SampleIdle(now)
	}

	snap := h.snapshotLocked(now)
	statusChanged := statusOf(prevPhase, prevMode) != snap.Status

	return snap, changed, len(changed) > 0 || mode != prevMode || statusChanged
}
