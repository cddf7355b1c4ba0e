package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/logger"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 5 * time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(payload []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writeLocked(payload, deadline)
}

func (c *wsClient) writeLocked(payload []byte, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// WebSocket is an Observer that pushes every event to the connected browser
// clients as a JSON text frame. It is also the HTTP handler clients connect
// to.
type WebSocket struct {
	upgrader websocket.Upgrader
	// Greeting, when set, returns the events sent to a client right after it
	// connects.
	Greeting func() []Event
	log      logger.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewWebSocket(log logger.Logger) *WebSocket {
	if log == nil {
		log = logger.New("websocket")
	}

	return &WebSocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*wsClient]struct{}),
	}
}

func (w *WebSocket) Name() string { return "websocket" }

// Clients returns the number of connected clients.
func (w *WebSocket) Clients() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.clients)
}

// Notify writes ev to every client. Clients that fail the write are
// disconnected; that is not an error of the observer.
func (w *WebSocket) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.New().Wrap(errors.ErrInvalidArgument, err)
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	w.mu.Lock()
	clients := make([]*wsClient, 0, len(w.clients))
	for c := range w.clients {
		clients = append(clients, c)
	}
	w.mu.Unlock()

	for _, c := range clients {
		if err := c.write(payload, deadline); err != nil {
			w.log.Debug().Err(err).Str("remote", c.conn.RemoteAddr().String()).Msg("Dropping websocket client")
			w.remove(c)
		}
	}

	return nil
}

func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn}

	// Events published while the greeting is written wait on the client's
	// write lock and follow it.
	c.mu.Lock()
	w.mu.Lock()
	w.clients[c] = struct{}{}
	w.mu.Unlock()
	err = w.greet(c)
	c.mu.Unlock()

	if err != nil {
		w.remove(c)
		return
	}

	w.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Websocket client connected")

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	w.remove(c)
}

// greet must be called with c.mu held.
func (w *WebSocket) greet(c *wsClient) error {
	if w.Greeting == nil {
		return nil
	}

	for _, ev := range w.Greeting() {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := c.writeLocked(payload, time.Now().Add(wsWriteWait)); err != nil {
			return err
		}
	}

	return nil
}

// Close disconnects every client.
func (w *WebSocket) Close() {
	w.mu.Lock()
	clients := w.clients
	w.clients = make(map[*wsClient]struct{})
	w.mu.Unlock()

	for c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}

func (w *WebSocket) remove(c *wsClient) {
	w.mu.Lock()
	_, ok := w.clients[c]
	delete(w.clients, c)
	w.mu.Unlock()

	if ok {
		c.conn.Close()
	}
}
