package policy

import (
	"strings"

	"codeberg.org/mutker/hubctl/internal/errors"
)

// Mode is the operating mode chosen by Evaluate.
type Mode string

const (
	ModeSafe    Mode = "SAFE"
	ModeCooling Mode = "COOLING"
	ModeDrying  Mode = "DRYING"
	ModeManual  Mode = "MANUAL"
)

// Metric names the policy reads.
const (
	Temperature  = "temperature"
	Humidity     = "humidity"
	SoilMoisture = "soil_moisture"
)

// Switch is the state of an on/off actuator.
type Switch string

const (
	On  Switch = "ON"
	Off Switch = "OFF"
)

// Vent is the state of the ventilation flap.
type Vent string

const (
	Open   Vent = "OPEN"
	Closed Vent = "CLOSED"
)

// Actuator names accepted by ParseCommand.
const (
	ActuatorFan         = "fan"
	ActuatorLight       = "light"
	ActuatorVentilation = "ventilation"
)

// Actuators is the full actuator state of the installation.
type Actuators struct {
	Fan         Switch `json:"fan"`
	Light       Switch `json:"light"`
	Ventilation Vent   `json:"ventilation"`
}

// AllOff is the resting state: fan and light off, ventilation closed.
func AllOff() Actuators {
	return Actuators{Fan: Off, Light: Off, Ventilation: Closed}
}

// Diff lists the actuator names whose state differs between a and b.
func (a Actuators) Diff(b Actuators) []string {
	var changed []string
	if a.Fan != b.Fan {
		changed = append(changed, ActuatorFan)
	}
	if a.Light != b.Light {
		changed = append(changed, ActuatorLight)
	}
	if a.Ventilation != b.Ventilation {
		changed = append(changed, ActuatorVentilation)
	}
	return changed
}

// Apply returns a copy of a with the named commands applied. Names and
// states are matched case-insensitively; any invalid entry rejects the
// whole command set.
func (a Actuators) Apply(cmds map[string]string) (Actuators, error) {
	errFactory := errors.New()
	next := a

	for name, raw := range cmds {
		state := strings.ToUpper(strings.TrimSpace(raw))

		switch strings.ToLower(name) {
		case ActuatorFan:
			sw, ok := parseSwitch(state)
			if !ok {
				return a, errFactory.WithData(errors.ErrInvalidArgument, "fan="+raw)
			}
			next.Fan = sw
		case ActuatorLight:
			sw, ok := parseSwitch(state)
			if !ok {
				return a, errFactory.WithData(errors.ErrInvalidArgument, "light="+raw)
			}
			next.Light = sw
		case ActuatorVentilation:
			switch Vent(state) {
			case Open, Closed:
				next.Ventilation = Vent(state)
			default:
				return a, errFactory.WithData(errors.ErrInvalidArgument, "ventilation="+raw)
			}
		default:
			return a, errFactory.WithData(errors.ErrInvalidArgument, "unknown actuator "+name)
		}
	}

	return next, nil
}

func parseSwitch(s string) (Switch, bool) {
	switch Switch(s) {
	case On, Off:
		return Switch(s), true
	default:
		return "", false
	}
}
