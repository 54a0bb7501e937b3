package conn

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Handler consumes the payload of one inbound event.
type Handler func(payload json.RawMessage)

// registry multiplexes inbound transport events to subscriber callbacks.
// One entry exists per distinct event name regardless of subscriber count;
// the entry disappears when its last handler unsubscribes, so listeners
// never leak across reconnects. Handler panics are contained and logged so
// one misbehaving subscriber cannot break the dispatch loop or its
// siblings.
type registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		logger: logger,
		subs:   make(map[string]map[uint64]Handler),
	}
}

// add registers handler for eventName and returns an idempotent
// unsubscribe function.
func (r *registry) add(eventName string, handler Handler) func() {
	r.mu.Lock()
	set, ok := r.subs[eventName]
	if !ok {
		set = make(map[uint64]Handler)
		r.subs[eventName] = set
	}
	id := r.nextID
	r.nextID++
	set[id] = handler
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			set, ok := r.subs[eventName]
			if !ok {
				return
			}
			delete(set, id)
			if len(set) == 0 {
				delete(r.subs, eventName)
			}
		})
	}
}

// dispatch fans one inbound event out to every registered handler.
func (r *registry) dispatch(eventName string, payload json.RawMessage) {
	r.mu.RLock()
	set := r.subs[eventName]
	handlers := make([]Handler, 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		r.invoke(eventName, h, payload)
	}
}

func (r *registry) invoke(eventName string, h Handler, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panicked", "event", eventName, "panic", rec)
		}
	}()
	h(payload)
}

// clear drops every subscription. Used by Destroy.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string]map[uint64]Handler)
}
