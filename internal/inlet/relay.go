package inlet

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/hubctl/internal/hub"
	"codeberg.org/mutker/hubctl/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	MinBackoff = time.Second
	MaxBackoff = 30 * time.Second

	relayEvent = "sensor_data"
)

type relayFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Relay keeps a WebSocket connection to the cloud relay and ingests the
// sensor_data frames it forwards. Lost connections are re-established with
// exponential backoff.
type Relay struct {
	url    string
	hub    Ingester
	dialer *websocket.Dialer
	log    logger.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.Mutex
	connected bool
}

type RelayOption func(*Relay)

// WithBackoff overrides the reconnect delay bounds.
func WithBackoff(lo, hi time.Duration) RelayOption {
	return func(r *Relay) {
		r.minBackoff, r.maxBackoff = lo, hi
	}
}

func NewRelay(url string, h Ingester, log logger.Logger, opts ...RelayOption) *Relay {
	if log == nil {
		log = logger.New("inlet.relay")
	}

	r := &Relay{
		url:        url,
		hub:        h,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		log:        log,
		minBackoff: MinBackoff,
		maxBackoff: MaxBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Connected reports whether a relay connection is currently open.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connected
}

// Run connects and reads until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.minBackoff

	for {
		start := time.Now()
		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// A session that stayed up resets the backoff.
		if time.Since(start) > r.maxBackoff {
			backoff = r.minBackoff
		}

		r.log.Warn().Err(err).Dur("retry_in", backoff).Str("url", r.url).Msg("Cloud relay disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff, r.maxBackoff)
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}

	return next
}

func (r *Relay) session(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	r.setConnected(true)
	defer r.setConnected(false)

	r.log.Info().Str("url", r.url).Msg("Connected to cloud relay")

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		r.handle(data)
	}
}

func (r *Relay) handle(data []byte) {
	var frame relayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.log.Warn().Err(err).Msg("Discarding malformed relay frame")
		return
	}

	if frame.Event != relayEvent {
		r.log.Debug().Str("event", frame.Event).Msg("Ignoring relay event")
		return
	}

	readings, err := decodeReadings(frame.Data)
	if err != nil {
		r.log.Warn().Err(err).Msg("Discarding malformed relay readings")
		return
	}

	if _, err := r.hub.Ingest(hub.SourceCloud, readings, time.Time{}); err != nil {
		r.log.Error().Err(err).Msg("Failed to ingest relay readings")
	}
}

func (r *Relay) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}
