package inlet

import (
	"time"

	"codeberg.org/mutker/hubctl/internal/hub"
	"codeberg.org/mutker/hubctl/internal/logger"
	"codeberg.org/mutker/hubctl/internal/mqtt"
)

// Subscriber is the part of an MQTT client the device inlet needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, h mqtt.Handler) error
	Unsubscribe(topics ...string) error
}

// Device ingests readings a directly attached device publishes on
// <prefix>/readings.
type Device struct {
	client Subscriber
	topic  string
	hub    Ingester
	log    logger.Logger
}

func NewDevice(client Subscriber, prefix string, h Ingester, log logger.Logger) *Device {
	if log == nil {
		log = logger.New("inlet.device")
	}

	return &Device{client: client, topic: prefix + "/readings", hub: h, log: log}
}

func (d *Device) Topic() string { return d.topic }

func (d *Device) Start() error {
	if err := d.client.Subscribe(d.topic, 1, d.handle); err != nil {
		return err
	}

	d.log.Info().Str("topic", d.topic).Msg("Subscribed to device readings")

	return nil
}

func (d *Device) Stop() error {
	return d.client.Unsubscribe(d.topic)
}

func (d *Device) handle(topic string, payload []byte) {
	readings, err := decodeReadings(payload)
	if err != nil {
		d.log.Warn().Err(err).Str("topic", topic).Msg("Discarding malformed device payload")
		return
	}

	if _, err := d.hub.Ingest(hub.SourceDirect, readings, time.Time{}); err != nil {
		d.log.Error().Err(err).Msg("Failed to ingest device readings")
	}
}
