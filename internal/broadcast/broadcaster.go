package broadcast

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/logger"
)

const (
	DefaultQueueSize     = 256
	DefaultNotifyTimeout = 2 * time.Second
)

// Counter observes delivery outcomes.
type Counter interface {
	ObserveDelivery(observer string, err error)
	ObserveDrop()
}

type noopCounter struct{}

func (noopCounter) ObserveDelivery(string, error) {}
func (noopCounter) ObserveDrop()                  {}

type Options struct {
	QueueSize     int
	NotifyTimeout time.Duration
	Counter       Counter
	Logger        logger.Logger
}

// Broadcaster queues events and fans them out to its observers from a single
// worker, so every observer sees events in publish order.
type Broadcaster struct {
	queue   chan Event
	timeout time.Duration
	counter Counter
	log     logger.Logger

	mu        sync.RWMutex
	observers []Observer
	closed    bool
}

func New(opts Options) *Broadcaster {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	if opts.Counter == nil {
		opts.Counter = noopCounter{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("broadcast")
	}

	return &Broadcaster{
		queue:   make(chan Event, opts.QueueSize),
		timeout: opts.NotifyTimeout,
		counter: opts.Counter,
		log:     opts.Logger,
	}
}

// Register adds an observer. Observers registered after Run has started
// receive events published from then on.
func (b *Broadcaster) Register(obs Observer) {
	b.mu.Lock()
	b.observers = append(b.observers, obs)
	b.mu.Unlock()

	b.log.Info().Str("observer", obs.Name()).Msg("Registered observer")
}

// Publish enqueues ev without blocking. When the queue is full the event is
// dropped.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	select {
	case b.queue <- ev:
	default:
		b.counter.ObserveDrop()
		b.log.Warn().
			Str("event", string(ev.Name)).
			Str("id", ev.ID).
			Msg("Broadcast queue full, dropping event")
	}
}

// Run delivers queued events until ctx is cancelled, then delivers whatever
// is still queued and returns.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case ev := <-b.queue:
			b.deliver(ev)
		}
	}
}

func (b *Broadcaster) drain() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	n := 0
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
			n++
		default:
			if n > 0 {
				b.log.Debug().Int("events", n).Msg("Drained broadcast queue")
			}
			return
		}
	}
}

func (b *Broadcaster) deliver(ev Event) {
	b.mu.RLock()
	observers := append([]Observer(nil), b.observers...)
	b.mu.RUnlock()

	for _, obs := range observers {
		err := b.notify(obs, ev)
		b.counter.ObserveDelivery(obs.Name(), err)
		if err != nil {
			b.log.ErrorWithCode(errors.New().Wrap(errors.ErrOperationFailed, err)).
				Str("observer", obs.Name()).
				Str("event", string(ev.Name)).
				Msg("Failed to notify observer")
		}
	}
}

func (b *Broadcaster) notify(obs Observer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New().WithData(errors.ErrInternal, r)
		}
	}()

	// Delivery uses its own deadline so a shutdown still flushes the queue.
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	return obs.Notify(ctx, ev)
}
