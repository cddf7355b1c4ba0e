package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/hubctl/internal/hub"
	"codeberg.org/mutker/hubctl/internal/policy"
)

// Collector records the hub snapshot of every tick.
type Collector interface {
	Record(ctx context.Context, snap hub.Snapshot) error
	Close() error
}

// Repository stores flattened snapshots.
type Repository interface {
	Record(rec Record) error
	Close() error
}

// Record is one stored row.
type Record struct {
	Timestamp      time.Time
	Temperature    float64
	Humidity       float64
	SoilMoisture   float64
	Mode           string
	Status         string
	Phase          string
	Source         string
	Fan            string
	Light          string
	Ventilation    string
	ManualOverride bool
}

func FromSnapshot(snap hub.Snapshot) Record {
	return Record{
		Timestamp:      snap.Time,
		Temperature:    snap.Metrics[policy.Temperature],
		Humidity:       snap.Metrics[policy.Humidity],
		SoilMoisture:   snap.Metrics[policy.SoilMoisture],
		Mode:           string(snap.Mode),
		Status:         snap.Status,
		Phase:          string(snap.Phase),
		Source:         string(snap.Source),
		Fan:            string(snap.Actuators.Fan),
		Light:          string(snap.Actuators.Light),
		Ventilation:    string(snap.Actuators.Ventilation),
		ManualOverride: snap.ManualOverride,
	}
}
