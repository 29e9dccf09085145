// Package eventbus is an in-process pub/sub bus for pipeline execution
// events. The router publishes from its OnPath hook; subscribers run on a
// single consumer goroutine, off the request path.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/docagg/internal/router"
)

// Event is one completed pipeline execution.
type Event struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
	router.PathEvent
}

// Handler processes an event. Implementations must be safe for concurrent
// calls from different goroutines.
type Handler interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Bus buffers published events in a channel and dispatches them to every
// subscriber in order on one goroutine.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan Event
	done        chan struct{}
	closed      bool
	logger      *slog.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// New creates a Bus with the given channel buffer size.
func New(bufSize int, logger *slog.Logger) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		events: make(chan Event, bufSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "eventbus"),
	}
}

// Subscribe registers a named handler. Must be called before Start.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Publish queues an event without blocking. When the buffer is full the
// event is dropped.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case b.events <- evt:
	default:
		b.logger.Warn("buffer full, dropping event", "id", evt.ID, "collection", evt.Collection)
	}
}

// Hooks returns router hooks that publish every completed execution.
func (b *Bus) Hooks() router.Hooks {
	return router.Hooks{
		OnPath: func(e router.PathEvent) { b.Publish(Event{PathEvent: e}) },
	}
}

// Start runs the consumer goroutine until Stop is called. Events still
// buffered at that point are dispatched before it exits.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for evt := range b.events {
			b.dispatch(ctx, evt)
		}
	}()
}

// Stop closes the bus and waits for the consumer goroutine to drain.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) dispatch(ctx context.Context, evt Event) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, evt); err != nil {
			b.logger.Error("handler failed", "handler", s.name, "id", evt.ID, "error", err)
		}
	}
}
