package broadcast_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/hubctl/internal/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	name string
	err  error

	mu     sync.Mutex
	events []broadcast.Event
}

func (o *recordingObserver) Name() string { return o.name }

func (o *recordingObserver) Notify(_ context.Context, ev broadcast.Event) error {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
	return o.err
}

func (o *recordingObserver) names() []broadcast.EventName {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]broadcast.EventName, len(o.events))
	for i, ev := range o.events {
		out[i] = ev.Name
	}
	return out
}

type panickingObserver struct{}

func (panickingObserver) Name() string { return "panic" }

func (panickingObserver) Notify(context.Context, broadcast.Event) error { panic("boom") }

type countingCounter struct {
	drops    atomic.Int32
	failures atomic.Int32
}

func (c *countingCounter) ObserveDelivery(_ string, err error) {
	if err != nil {
		c.failures.Add(1)
	}
}

func (c *countingCounter) ObserveDrop() { c.drops.Add(1) }

func run(t *testing.T, b *broadcast.Broadcaster) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	return cancel, done
}

func TestBroadcasterDeliversInOrder(t *testing.T) {
	b := broadcast.New(broadcast.Options{})
	first := &recordingObserver{name: "first"}
	second := &recordingObserver{name: "second"}
	b.Register(first)
	b.Register(second)

	cancel, done := run(t, b)
	defer func() { cancel(); <-done }()

	want := []broadcast.EventName{
		broadcast.SensorUpdate,
		broadcast.ControlUpdate,
		broadcast.ManualModeUpdate,
		broadcast.ThresholdUpdate,
	}
	for _, name := range want {
		b.Publish(broadcast.NewEvent(name, nil))
	}

	require.Eventually(t, func() bool { return len(second.names()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, first.names())
	assert.Equal(t, want, second.names())
}

func TestBroadcasterIsolatesFailingObservers(t *testing.T) {
	counter := &countingCounter{}
	b := broadcast.New(broadcast.Options{Counter: counter})
	healthy := &recordingObserver{name: "healthy"}
	b.Register(&recordingObserver{name: "broken", err: errors.New("unreachable")})
	b.Register(panickingObserver{})
	b.Register(healthy)

	cancel, done := run(t, b)
	defer func() { cancel(); <-done }()

	b.Publish(broadcast.NewEvent(broadcast.SensorUpdate, nil))
	b.Publish(broadcast.NewEvent(broadcast.ControlUpdate, nil))

	require.Eventually(t, func() bool { return len(healthy.names()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(4), counter.failures.Load())
}

func TestBroadcasterPublishNeverBlocks(t *testing.T) {
	counter := &countingCounter{}
	b := broadcast.New(broadcast.Options{QueueSize: 2, Counter: counter})

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(broadcast.NewEvent(broadcast.SensorUpdate, i))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.Equal(t, int32(8), counter.drops.Load())
}

func TestBroadcasterDrainsOnShutdown(t *testing.T) {
	b := broadcast.New(broadcast.Options{QueueSize: 8})
	obs := &recordingObserver{name: "obs"}
	b.Register(obs)

	for i := 0; i < 5; i++ {
		b.Publish(broadcast.NewEvent(broadcast.SensorUpdate, i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Run(ctx))

	assert.Len(t, obs.names(), 5)

	b.Publish(broadcast.NewEvent(broadcast.SensorUpdate, "late"))
	assert.Len(t, obs.names(), 5)
}

func TestNewEvent(t *testing.T) {
	a := broadcast.NewEvent(broadcast.SensorUpdate, 1)
	b := broadcast.NewEvent(broadcast.SensorUpdate, 1)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Time.IsZero())
}
