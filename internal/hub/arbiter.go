package hub

import (
	"time"

	"codeberg.org/mutker/hubctl/internal/errors"
)

// Source identifies who supplied a reading.
type Source string

const (
	SourceCloud     Source = "cloud"
	SourceDirect    Source = "direct"
	SourceSimulator Source = "simulator"
)

// IsLive reports whether readings from s count as real data.
func (s Source) IsLive() bool {
	return s == SourceCloud || s == SourceDirect
}

// ParseSource accepts the two external producers.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceCloud, SourceDirect:
		return Source(s), nil
	default:
		return "", errors.New().WithData(errors.ErrInvalidArgument, "unknown source "+s)
	}
}

// Arbiter tracks when each source last delivered data.
type Arbiter struct {
	lastSeen map[Source]time.Time
}

func NewArbiter() *Arbiter {
	return &Arbiter{lastSeen: make(map[Source]time.Time, 3)}
}

// RecordArrival marks src as seen at ts. Older timestamps never move
// last-seen backwards.
func (a *Arbiter) RecordArrival(src Source, ts time.Time) {
	if prev, ok := a.lastSeen[src]; ok && ts.Before(prev) {
		return
	}
	a.lastSeen[src] = ts
}

// LastSeen returns when src last delivered data.
func (a *Arbiter) LastSeen(src Source) (time.Time, bool) {
	ts, ok := a.lastSeen[src]
	return ts, ok
}

// SeenLive reports whether any live source has ever delivered data.
func (a *Arbiter) SeenLive() bool {
	_, cloud := a.lastSeen[SourceCloud]
	_, direct := a.lastSeen[SourceDirect]
	return cloud || direct
}

// IsLiveDataFresh reports whether the cloud relay or the direct device
// delivered data less than window before now.
func (a *Arbiter) IsLiveDataFresh(now time.Time, window time.Duration) bool {
	return a.fresh(SourceCloud, now, window) || a.fresh(SourceDirect, now, window)
}

// Active returns the most recent fresh live source, or the simulator.
func (a *Arbiter) Active(now time.Time, window time.Duration) Source {
	cloud, direct := a.fresh(SourceCloud, now, window), a.fresh(SourceDirect, now, window)

	switch {
	case cloud && direct:
		if a.lastSeen[SourceDirect].After(a.lastSeen[SourceCloud]) {
			return SourceDirect
		}
		return SourceCloud
	case cloud:
		return SourceCloud
	case direct:
		return SourceDirect
	default:
		return SourceSimulator
	}
}

func (a *Arbiter) fresh(src Source, now time.Time, window time.Duration) bool {
	ts, ok := a.lastSeen[src]
	return ok && now.Sub(ts) < window
}
