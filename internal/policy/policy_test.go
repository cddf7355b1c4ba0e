package policy_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	th := policy.Thresholds{policy.Temperature: 30, policy.Humidity: 65}

	tests := []struct {
		name    string
		metrics map[string]float64
		mode    policy.Mode
		want    policy.Actuators
	}{
		{
			name:    "hot",
			metrics: map[string]float64{"temperature": 32, "humidity": 40},
			mode:    policy.ModeCooling,
			want:    policy.Actuators{Fan: policy.On, Light: policy.Off, Ventilation: policy.Open},
		},
		{
			name:    "humid",
			metrics: map[string]float64{"temperature": 25, "humidity": 70},
			mode:    policy.ModeDrying,
			want:    policy.Actuators{Fan: policy.Off, Light: policy.On, Ventilation: policy.Closed},
		},
		{
			name:    "hot and humid prefers cooling",
			metrics: map[string]float64{"temperature": 31, "humidity": 90},
			mode:    policy.ModeCooling,
			want:    policy.Actuators{Fan: policy.On, Light: policy.Off, Ventilation: policy.Open},
		},
		{
			name:    "at limit is safe",
			metrics: map[string]float64{"temperature": 30, "humidity": 65},
			mode:    policy.ModeSafe,
			want:    policy.AllOff(),
		},
		{
			name:    "missing readings count as zero",
			metrics: map[string]float64{},
			mode:    policy.ModeSafe,
			want:    policy.AllOff(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, got := policy.Evaluate(tt.metrics, th, false, policy.AllOff())
			assert.Equal(t, tt.mode, mode)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateManualKeepsCurrent(t *testing.T) {
	current := policy.Actuators{Fan: policy.On, Light: policy.On, Ventilation: policy.Closed}
	mode, got := policy.Evaluate(map[string]float64{"temperature": 99}, policy.DefaultThresholds(), true, current)

	assert.Equal(t, policy.ModeManual, mode)
	assert.Equal(t, current, got)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	th := policy.DefaultThresholds()
	metrics := map[string]float64{"temperature": 29.9, "humidity": 65.1}

	mode1, act1 := policy.Evaluate(metrics, th, false, policy.AllOff())
	for i := 0; i < 100; i++ {
		mode, act := policy.Evaluate(metrics, th, false, policy.AllOff())
		require.Equal(t, mode1, mode)
		require.Equal(t, act1, act)
	}
	assert.Equal(t, policy.ModeDrying, mode1)
}

func TestEvaluateWithoutThreshold(t *testing.T) {
	mode, _ := policy.Evaluate(map[string]float64{"temperature": 100}, policy.Thresholds{}, false, policy.AllOff())
	assert.Equal(t, policy.ModeSafe, mode)
}

func TestActuatorsApply(t *testing.T) {
	next, err := policy.AllOff().Apply(map[string]string{"fan": "on", "Ventilation": " open "})
	require.NoError(t, err)
	assert.Equal(t, policy.Actuators{Fan: policy.On, Light: policy.Off, Ventilation: policy.Open}, next)

	orig := policy.AllOff()
	_, err = orig.Apply(map[string]string{"fan": "ON", "light": "DIM"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
	assert.Equal(t, policy.AllOff(), orig)

	_, err = orig.Apply(map[string]string{"heater": "ON"})
	require.Error(t, err)
}

func TestActuatorsDiff(t *testing.T) {
	a := policy.AllOff()
	b := policy.Actuators{Fan: policy.On, Light: policy.Off, Ventilation: policy.Open}

	assert.Empty(t, a.Diff(a))
	assert.Equal(t, []string{"fan", "ventilation"}, a.Diff(b))
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, policy.DefaultThresholds().Validate())
	require.Error(t, policy.Thresholds{"pressure": 1}.Validate())
	require.Error(t, policy.Thresholds{"humidity": math.NaN()}.Validate())
	require.Error(t, policy.Thresholds{"temperature": math.Inf(1)}.Validate())
}

func TestThresholdsMerge(t *testing.T) {
	base := policy.DefaultThresholds()
	merged := base.Merge(policy.Thresholds{"humidity": 70})

	assert.Equal(t, 70.0, merged["humidity"])
	assert.Equal(t, 30.0, merged["temperature"])
	assert.Equal(t, 65.0, base["humidity"], "merge must not mutate the receiver")
}
