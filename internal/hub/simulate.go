package hub

import (
	"math"
	"math/rand"
	"time"

	"codeberg.org/mutker/hubctl/internal/policy"
)

// Simulated readings stay inside these bounds.
const (
	SimTemperatureBase = 22.0
	SimTemperatureMin  = SimTemperatureBase - 0.5
	SimTemperatureMax  = SimTemperatureBase + 2.0
	SimHumidityBase    = 55.0
	SimHumidityMin     = SimHumidityBase - 1.0
	SimHumidityMax     = SimHumidityBase + 5.0
)

// Simulator produces plausible readings while no live source is fresh.
type Simulator struct {
	rnd *rand.Rand
}

// NewSimulator seeds the noise source; seed 0 picks one from the clock.
func NewSimulator(seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{rnd: rand.New(rand.NewSource(seed))}
}

// Next returns one synthesized reading per simulated metric.
func (s *Simulator) Next() map[string]float64 {
	return map[string]float64{
		policy.Temperature: round1(s.uniform(SimTemperatureMin, SimTemperatureMax)),
		policy.Humidity:    round1(s.uniform(SimHumidityMin, SimHumidityMax)),
	}
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rnd.Float64()*(hi-lo)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
