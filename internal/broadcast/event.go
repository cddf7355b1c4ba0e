// Package broadcast delivers hub state changes to observers. Delivery is
// best effort: Publish never blocks and a failing observer only loses its
// own copy of an event.
package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventName identifies the kind of state pushed to observers.
type EventName string

const (
	SensorUpdate     EventName = "sensor_update"
	ControlUpdate    EventName = "control_update"
	ManualModeUpdate EventName = "manual_mode_update"
	ThresholdUpdate  EventName = "threshold_update"
)

// Event is a full-state push. Data is already a copy owned by the event.
type Event struct {
	ID   string    `json:"id"`
	Name EventName `json:"event"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// NewEvent stamps data with a fresh id and the current time.
func NewEvent(name EventName, data any) Event {
	return Event{
		ID:   uuid.NewString(),
		Name: name,
		Time: time.Now().UTC(),
		Data: data,
	}
}

// Sink accepts events for delivery.
type Sink interface {
	Publish(ev Event)
}

// Observer receives every published event, in publish order.
type Observer interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}
