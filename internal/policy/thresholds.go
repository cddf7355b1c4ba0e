package policy

import (
	"math"

	"codeberg.org/mutker/hubctl/internal/errors"
)

// Thresholds maps a metric name to the limit above which it is exceeded.
type Thresholds map[string]float64

// DefaultThresholds are used when nothing has been persisted yet.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Temperature: 30,
		Humidity:    65,
	}
}

// Clone returns an independent copy.
func (t Thresholds) Clone() Thresholds {
	out := make(Thresholds, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Merge returns a copy of t overlaid with update.
func (t Thresholds) Merge(update Thresholds) Thresholds {
	out := t.Clone()
	for k, v := range update {
		out[k] = v
	}
	return out
}

// Validate rejects names the policy does not know and non-finite limits.
func (t Thresholds) Validate() error {
	errFactory := errors.New()
	for name, limit := range t {
		if !IsThresholdMetric(name) {
			return errFactory.WithData(errors.ErrInvalidArgument, "unknown threshold "+name)
		}
		if math.IsNaN(limit) || math.IsInf(limit, 0) {
			return errFactory.WithData(errors.ErrInvalidArgument, "non-finite threshold "+name)
		}
	}
	return nil
}

// IsThresholdMetric reports whether name may carry a threshold.
func IsThresholdMetric(name string) bool {
	switch name {
	case Temperature, Humidity, SoilMoisture:
		return true
	default:
		return false
	}
}

func (t Thresholds) exceeded(metrics map[string]float64, name string) bool {
	limit, ok := t[name]
	if !ok {
		return false
	}
	return metrics[name] > limit
}
