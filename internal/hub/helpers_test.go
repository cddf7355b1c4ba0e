package hub_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"codeberg.org/mutker/hubctl/internal/broadcast"
	"codeberg.org/mutker/hubctl/internal/hub"
	"codeberg.org/mutker/hubctl/internal/policy"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureSink struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (s *captureSink) Publish(ev broadcast.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) count(name broadcast.EventName) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (s *captureSink) last(name broadcast.EventName) (broadcast.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Name == name {
			return s.events[i], true
		}
	}
	return broadcast.Event{}, false
}

func (s *captureSink) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

type failingPersister struct {
	mu    sync.Mutex
	calls int
}

func (p *failingPersister) Save(policy.Thresholds) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return context.DeadlineExceeded
}

type memRecorder struct {
	mu    sync.Mutex
	snaps []hub.Snapshot
}

func (r *memRecorder) Record(_ context.Context, snap hub.Snapshot) error {
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
	return nil
}

// flakyRecorder panics on the first call and fails the second.
type flakyRecorder struct {
	mu sync.Mutex
	n  int
}

func (r *flakyRecorder) Record(context.Context, hub.Snapshot) error {
	r.mu.Lock()
	r.n++
	n := r.n
	r.mu.Unlock()

	switch n {
	case 1:
		panic("disk gone")
	case 2:
		return errors.New("disk full")
	}
	return nil
}

func (r *flakyRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

type countingInstruments struct {
	mu       sync.Mutex
	tickN    int
	failureN int
}

func (c *countingInstruments) ObserveIngest(string, int, int) {}

func (c *countingInstruments) ObserveTick(string, string, map[string]float64, bool) {
	c.mu.Lock()
	c.tickN++
	c.mu.Unlock()
}

func (c *countingInstruments) ObserveTickFailure() {
	c.mu.Lock()
	c.failureN++
	c.mu.Unlock()
}

func (c *countingInstruments) ticks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickN
}

func (c *countingInstruments) failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureN
}

type fixture struct {
	hub      *hub.Hub
	clock    *fakeClock
	sink     *captureSink
	recorder *memRecorder
}

func newFixture(opts hub.Options) *fixture {
	f := &fixture{clock: newFakeClock(), sink: &captureSink{}, recorder: &memRecorder{}}
	opts.Now = f.clock.Now
	opts.Sink = f.sink
	if opts.Recorder == nil {
		opts.Recorder = f.recorder
	}
	if opts.Simulator == nil {
		opts.Simulator = hub.NewSimulator(42)
	}
	if opts.Staleness == 0 {
		opts.Staleness = 10 * time.Second
	}
	if opts.Thresholds == nil {
		opts.Thresholds = policy.Thresholds{policy.Temperature: 30, policy.Humidity: 65}
	}
	f.hub = hub.New(opts)
	return f
}
