package conn

import (
	"sync"

	"github.com/cskr/pubsub"

	"github.com/lightforgemedia/go-wschannel/pkg/health"
)

// EventType names a lifecycle event emitted by the Manager.
type EventType string

const (
	EventConnected          EventType = "connected"
	EventDisconnected       EventType = "disconnected"
	EventStatusChange       EventType = "status_change"
	EventQualityChange      EventType = "quality_change"
	EventError              EventType = "error"
	EventMaxReconnectFailed EventType = "max_reconnect_failed"
)

// allEventTypes enumerates every lifecycle event for unfiltered subscriptions.
var allEventTypes = []EventType{
	EventConnected,
	EventDisconnected,
	EventStatusChange,
	EventQualityChange,
	EventError,
	EventMaxReconnectFailed,
}

// Event is one lifecycle notification. Only the fields relevant to the
// event type are set: State for status changes, Quality for quality
// changes, Err for errors, Attempts for the terminal reconnect failure.
type Event struct {
	Type     EventType
	State    State
	Quality  health.Quality
	Err      error
	Attempts int
}

const eventBufferSize = 8

// eventBus fans lifecycle events out to subscribers. Slow subscribers drop
// events rather than stall the manager.
type eventBus struct {
	ps *pubsub.PubSub

	mu     sync.Mutex
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{ps: pubsub.New(eventBufferSize)}
}

func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.ps.TryPub(ev, string(ev.Type))
}

// subscribe returns a channel of the requested event types (all types when
// none are given) and a cancel function. Cancel is idempotent.
func (b *eventBus) subscribe(types ...EventType) (<-chan Event, func()) {
	if len(types) == 0 {
		types = allEventTypes
	}
	topics := make([]string, len(types))
	for i, t := range types {
		topics[i] = string(t)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		closed := make(chan Event)
		close(closed)
		return closed, func() {}
	}
	raw := b.ps.Sub(topics...)
	b.mu.Unlock()

	out := make(chan Event, eventBufferSize)
	go func() {
		defer close(out)
		for v := range raw {
			ev, ok := v.(Event)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			default: // subscriber not keeping up
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if !b.closed {
				b.ps.Unsub(raw, topics...)
			}
		})
	}
	return out, cancel
}

func (b *eventBus) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.ps.Shutdown()
	}
}
