package inlet_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/hubctl/internal/hub"
	"codeberg.org/mutker/hubctl/internal/inlet"
	"codeberg.org/mutker/hubctl/internal/mqtt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingestCall struct {
	source   hub.Source
	readings map[string]any
}

type fakeIngester struct {
	mu    sync.Mutex
	calls []ingestCall
}

func (f *fakeIngester) Ingest(source hub.Source, readings map[string]any, _ time.Time) (hub.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ingestCall{source: source, readings: readings})
	return hub.IngestResult{Accepted: len(readings)}, nil
}

func (f *fakeIngester) snapshot() []ingestCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingestCall(nil), f.calls...)
}

type fakeSubscriber struct {
	handlers     map[string]mqtt.Handler
	unsubscribed []string
}

func (s *fakeSubscriber) Subscribe(topic string, _ byte, h mqtt.Handler) error {
	if s.handlers == nil {
		s.handlers = map[string]mqtt.Handler{}
	}
	s.handlers[topic] = h
	return nil
}

func (s *fakeSubscriber) Unsubscribe(topics ...string) error {
	s.unsubscribed = append(s.unsubscribed, topics...)
	return nil
}

func TestDeviceIngestsReadings(t *testing.T) {
	sub := &fakeSubscriber{}
	ing := &fakeIngester{}
	dev := inlet.NewDevice(sub, "greenhouse", ing, nil)

	require.NoError(t, dev.Start())
	h, ok := sub.handlers["greenhouse/readings"]
	require.True(t, ok)

	h("greenhouse/readings", []byte(`{"temperature": 24.5, "humidity": 60}`))
	h("greenhouse/readings", []byte(`not json`))
	h("greenhouse/readings", []byte(`null`))

	calls := ing.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, hub.SourceDirect, calls[0].source)
	assert.Equal(t, 24.5, calls[0].readings["temperature"])

	require.NoError(t, dev.Stop())
	assert.Equal(t, []string{"greenhouse/readings"}, sub.unsubscribed)
}

type relayServer struct {
	frames      []string
	connections atomic.Int32
}

func (s *relayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.connections.Add(1)

	for _, f := range s.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
	// Hang up so the relay has to reconnect.
}

func TestRelayIngestsAndReconnects(t *testing.T) {
	rs := &relayServer{frames: []string{
		`{"event":"sensor_data","data":{"temperature":31.2}}`,
		`{"event":"chat","data":{"temperature":99}}`,
		`{"event":"sensor_data","data":[1,2]}`,
		`garbage`,
	}}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	ing := &fakeIngester{}
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	relay := inlet.NewRelay(url, ing, nil, inlet.WithBackoff(5*time.Millisecond, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return rs.connections.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(ing.snapshot()) >= 2 }, 2*time.Second, 5*time.Millisecond)

	for _, c := range ing.snapshot() {
		assert.Equal(t, hub.SourceCloud, c.source)
		assert.Equal(t, 31.2, c.readings["temperature"])
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
	assert.False(t, relay.Connected())
}

func TestRelayStopsWhileUnreachable(t *testing.T) {
	relay := inlet.NewRelay("ws://127.0.0.1:1/socket", &fakeIngester{}, nil, inlet.WithBackoff(time.Hour, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.NoError(t, relay.Run(ctx))
}
