package hub

import (
	"time"
)

// Sample is one point of a metric's history.
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Store keeps the current value and a bounded history for each tracked
// metric. It is not safe for concurrent use; Hub serializes access.
type Store struct {
	capacity int
	order    []string
	current  map[string]float64
	history  map[string][]Sample
	touched  map[string]bool
}

// NewStore tracks the given metric names with capacity samples each.
func NewStore(capacity int, names ...string) *Store {
	s := &Store{
		capacity: capacity,
		order:    append([]string(nil), names...),
		current:  make(map[string]float64, len(names)),
		history:  make(map[string][]Sample, len(names)),
		touched:  make(map[string]bool, len(names)),
	}

	for _, name := range names {
		s.current[name] = 0
		s.history[name] = make([]Sample, 0, capacity)
	}

	return s
}

// Tracked reports whether name is a known metric.
func (s *Store) Tracked(name string) bool {
	_, ok := s.current[name]
	return ok
}

// Names returns the tracked metric names in registration order.
func (s *Store) Names() []string {
	return append([]string(nil), s.order...)
}

// Record sets value as current for name and appends it to the history.
// Unknown names are ignored and reported as false.
func (s *Store) Record(name string, value float64, ts time.Time) bool {
	if !s.Tracked(name) {
		return false
	}

	s.current[name] = value
	s.append(name, Sample{Time: ts, Value: value})
	s.touched[name] = true

	return true
}

func (s *Store) append(name string, sample Sample) {
	h := s.history[name]
	if len(h) < s.capacity {
		s.history[name] = append(h, sample)
		return
	}

	copy(h, h[1:])
	h[len(h)-1] = sample
}

// SampleIdle appends the current value of every metric that received no
// sample since the previous call, then starts a new interval.
func (s *Store) SampleIdle(ts time.Time) {
	for _, name := range s.order {
		if !s.touched[name] {
			s.append(name, Sample{Time: ts, Value: s.current[name]})
		}
		s.touched[name] = false
	}
}

// Current returns a copy of all current values.
func (s *Store) Current() map[string]float64 {
	out := make(map[string]float64, len(s.current))
	for k, v := range s.current {
		out[k] = v
	}
	return out
}

// History returns up to limit of the most recent samples, oldest first.
// A limit <= 0 or above the stored count returns everything.
func (s *Store) History(name string, limit int) ([]Sample, bool) {
	h, ok := s.history[name]
	if !ok {
		return nil, false
	}

	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}

	out := make([]Sample, limit)
	copy(out, h[len(h)-limit:])

	return out, true
}
