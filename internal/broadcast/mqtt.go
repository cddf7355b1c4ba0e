package broadcast

import (
	"context"
	"encoding/json"

	"codeberg.org/mutker/hubctl/internal/errors"
)

// Publisher is the part of an MQTT client the MQTT observer needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Commander is event data that carries actuator commands for the device.
type Commander interface {
	Commands() any
}

// MQTT publishes every event on <prefix>/events/<event>. The actuator state
// of control_update and sensor_update events is also published retained on
// <prefix>/commands so a device that connects later picks up the current
// command.
type MQTT struct {
	client Publisher
	prefix string
}

func NewMQTT(client Publisher, prefix string) *MQTT {
	return &MQTT{client: client, prefix: prefix}
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) EventTopic(name EventName) string {
	return m.prefix + "/events/" + string(name)
}

func (m *MQTT) CommandTopic() string {
	return m.prefix + "/commands"
}

func (m *MQTT) Notify(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	if err := m.client.Publish(m.EventTopic(ev.Name), 1, false, payload); err != nil {
		return err
	}

	state, ok := commandsOf(ev)
	if !ok {
		return nil
	}

	cmd, err := json.Marshal(state)
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	return m.client.Publish(m.CommandTopic(), 1, true, cmd)
}

func commandsOf(ev Event) (any, bool) {
	switch ev.Name {
	case ControlUpdate:
		return ev.Data, true
	case SensorUpdate:
		if c, ok := ev.Data.(Commander); ok {
			return c.Commands(), true
		}
	}

	return nil, false
}
