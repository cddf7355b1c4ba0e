// Package inlet feeds readings from live producers into the hub: a device
// publishing over MQTT and a cloud relay reached over WebSocket.
package inlet

import (
	"encoding/json"
	"time"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/hub"
)

// Ingester accepts readings from a live source.
type Ingester interface {
	Ingest(source hub.Source, readings map[string]any, ts time.Time) (hub.IngestResult, error)
}

var errFactory = errors.New()

// decodeReadings parses a flat JSON object of readings.
func decodeReadings(payload []byte) (map[string]any, error) {
	var readings map[string]any
	if err := json.Unmarshal(payload, &readings); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	if readings == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "readings must be a JSON object")
	}

	return readings, nil
}
