package conn

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryFanout(t *testing.T) {
	r := newRegistry(discardLogger())
	var mu sync.Mutex
	var got []string

	r.add("orders", func(payload json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "a:"+string(payload))
	})
	r.add("orders", func(payload json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "b:"+string(payload))
	})

	r.dispatch("orders", json.RawMessage(`1`))
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected both handlers invoked, got %v", got)
	}
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := newRegistry(discardLogger())
	var mu sync.Mutex
	calls := map[string]int{}

	unsubA := r.add("ev", func(json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		calls["a"]++
	})
	r.add("ev", func(json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		calls["b"]++
	})

	unsubA()
	unsubA() // idempotent
	r.dispatch("ev", nil)

	mu.Lock()
	defer mu.Unlock()
	if calls["a"] != 0 || calls["b"] != 1 {
		t.Errorf("calls = %v", calls)
	}
}

func TestRegistryLastUnsubscribeRemovesEntry(t *testing.T) {
	r := newRegistry(discardLogger())
	unsub := r.add("ev", func(json.RawMessage) {})
	unsub()

	r.mu.RLock()
	_, exists := r.subs["ev"]
	r.mu.RUnlock()
	if exists {
		t.Error("empty handler set should be removed")
	}
}

func TestRegistryPanicContained(t *testing.T) {
	r := newRegistry(discardLogger())
	var mu sync.Mutex
	survived := false

	r.add("ev", func(json.RawMessage) {
		panic("misbehaving handler")
	})
	r.add("ev", func(json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		survived = true
	})

	r.dispatch("ev", nil) // must not panic
	mu.Lock()
	defer mu.Unlock()
	if !survived {
		t.Error("sibling handler should still run after a panic")
	}
}

func TestRegistryDispatchUnknownEvent(t *testing.T) {
	r := newRegistry(discardLogger())
	r.dispatch("nobody-listens", json.RawMessage(`{}`)) // no-op
}
