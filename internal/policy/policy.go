// Package policy maps readings and thresholds onto an operating mode and
// actuator targets. Everything here is pure.
package policy

// Evaluate picks the mode and actuator targets for the given readings.
//
// With manual set the current actuators are returned untouched and the mode
// is ModeManual. Otherwise temperature above its limit wins over humidity
// above its limit. Missing readings count as 0; a metric without a
// threshold is never exceeded.
func Evaluate(metrics map[string]float64, thresholds Thresholds, manual bool, current Actuators) (Mode, Actuators) {
	if manual {
		return ModeManual, current
	}

	switch {
	case thresholds.exceeded(metrics, Temperature):
		return ModeCooling, Actuators{Fan: On, Light: Off, Ventilation: Open}
	case thresholds.exceeded(metrics, Humidity):
		return ModeDrying, Actuators{Fan: Off, Light: On, Ventilation: Closed}
	default:
		return ModeSafe, AllOff()
	}
}
