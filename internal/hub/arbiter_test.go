package hub_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/hubctl/internal/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArbiterStartsStale(t *testing.T) {
	a := hub.NewArbiter()
	now := time.Now()

	assert.False(t, a.IsLiveDataFresh(now, 10*time.Second))
	assert.False(t, a.SeenLive())
	assert.Equal(t, hub.SourceSimulator, a.Active(now, 10*time.Second))
}

func TestArbiterFreshness(t *testing.T) {
	a := hub.NewArbiter()
	t0 := time.Unix(1000, 0)
	window := 10 * time.Second

	a.RecordArrival(hub.SourceCloud, t0)
	assert.True(t, a.IsLiveDataFresh(t0.Add(9*time.Second), window))
	assert.False(t, a.IsLiveDataFresh(t0.Add(10*time.Second), window))

	a.RecordArrival(hub.SourceSimulator, t0.Add(20*time.Second))
	assert.False(t, a.IsLiveDataFresh(t0.Add(21*time.Second), window), "the simulator never counts as live")
}

func TestArbiterActiveLastWriterWins(t *testing.T) {
	a := hub.NewArbiter()
	t0 := time.Unix(1000, 0)
	window := 10 * time.Second

	a.RecordArrival(hub.SourceCloud, t0)
	a.RecordArrival(hub.SourceDirect, t0.Add(time.Second))
	assert.Equal(t, hub.SourceDirect, a.Active(t0.Add(2*time.Second), window))

	a.RecordArrival(hub.SourceCloud, t0.Add(3*time.Second))
	assert.Equal(t, hub.SourceCloud, a.Active(t0.Add(4*time.Second), window))
}

func TestArbiterIgnoresOlderArrival(t *testing.T) {
	a := hub.NewArbiter()
	t0 := time.Unix(1000, 0)

	a.RecordArrival(hub.SourceDirect, t0)
	a.RecordArrival(hub.SourceDirect, t0.Add(-time.Minute))

	seen, ok := a.LastSeen(hub.SourceDirect)
	require.True(t, ok)
	assert.Equal(t, t0, seen)
}

func TestParseSource(t *testing.T) {
	src, err := hub.ParseSource("cloud")
	require.NoError(t, err)
	assert.Equal(t, hub.SourceCloud, src)

	_, err = hub.ParseSource("simulator")
	assert.Error(t, err)
}
