package hub

import (
	"time"

	"codeberg.org/mutker/hubctl/internal/policy"
)

// Phase is the control loop state.
type Phase string

const (
	PhaseAwaiting  Phase = "AWAITING_FIRST_DATA"
	PhaseLive      Phase = "LIVE"
	PhaseSimulated Phase = "SIMULATED"
	PhaseManual    Phase = "MANUAL"
)

// System status values published alongside the mode.
const (
	StatusOffline   = "OFFLINE"
	StatusSimulated = "SIMULATED"
	StatusManual    = "MANUAL"
)

// Snapshot is an immutable point-in-time copy of the hub state.
type Snapshot struct {
	Time           time.Time          `json:"time"`
	Metrics        map[string]float64 `json:"metrics"`
	Mode           policy.Mode        `json:"mode"`
	Status         string             `json:"status"`
	Phase          Phase              `json:"phase"`
	Source         Source             `json:"source"`
	Actuators      policy.Actuators   `json:"actuators"`
	LastPulse      *time.Time         `json:"last_pulse"`
	ManualOverride bool               `json:"manual_override"`
}

// Commands returns the actuator state the device should apply.
func (s Snapshot) Commands() any { return s.Actuators }

func statusOf(phase Phase, mode policy.Mode) string {
	switch phase {
	case PhaseAwaiting:
		return StatusOffline
	case PhaseSimulated:
		return StatusSimulated
	case PhaseManual:
		return StatusManual
	default:
		return string(mode)
	}
}

func (h *Hub) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{
		Time:           now,
		Metrics:        h.store.Current(),
		Mode:           h.mode,
		Status:         statusOf(h.phase, h.mode),
		Phase:          h.phase,
		Source:         h.arbiter.Active(now, h.staleness),
		Actuators:      h.actuators,
		ManualOverride: h.manual,
	}

	if !h.lastPulse.IsZero() {
		pulse := h.lastPulse
		snap.LastPulse = &pulse
	}

	return snap
}
