// Package mqtt wraps the paho client with the connection settings hubctl
// uses for both device readings and outgoing events.
package mqtt

import (
	"time"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout    = 10 * time.Second
	operationTimeout  = 5 * time.Second
	disconnectQuiesce = 250
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Handler receives one message.
type Handler func(topic string, payload []byte)

type Client struct {
	client paho.Client
	log    logger.Logger
}

// Connect dials the broker. The client reconnects on its own after a lost
// connection and restores subscriptions.
func Connect(cfg Config, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.New("mqtt")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
	})

	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New().WithData(errors.ErrTimeout, "mqtt connect "+cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.New().Wrap(errors.ErrUnavailable, err)
	}

	return &Client{client: c, log: log}, nil
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(c.client.Publish(topic, qos, retained, payload))
}

func (c *Client) Subscribe(topic string, qos byte, h Handler) error {
	return wait(c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	}))
}

func (c *Client) Unsubscribe(topics ...string) error {
	return wait(c.client.Unsubscribe(topics...))
}

func (c *Client) Disconnect() {
	c.client.Disconnect(disconnectQuiesce)
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(operationTimeout) {
		return errors.New().New(errors.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return errors.New().Wrap(errors.ErrOperationFailed, err)
	}

	return nil
}
