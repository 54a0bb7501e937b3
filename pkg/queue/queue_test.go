package queue_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-wschannel/pkg/queue"
	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

func enqueue(q *queue.Queue, id string, p wire.Priority, cb queue.Callback) {
	q.Enqueue(&queue.Message{ID: id, Event: "test." + id, Priority: p, OnResult: cb})
}

func TestPriorityOrderWithTies(t *testing.T) {
	q := queue.New()
	// Enqueued in the order a disconnected caller would produce them.
	enqueue(q, "n1", wire.PriorityNormal, nil)
	enqueue(q, "c1", wire.PriorityCritical, nil)
	enqueue(q, "l1", wire.PriorityLow, nil)
	enqueue(q, "h1", wire.PriorityHigh, nil)
	enqueue(q, "n2", wire.PriorityNormal, nil)

	var got []string
	for _, m := range q.Snapshot() {
		got = append(got, m.ID)
	}
	want := []string{"c1", "h1", "n1", "n2", "l1"}
	if len(got) != len(want) {
		t.Fatalf("snapshot length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order %v, want %v", got, want)
		}
	}
}

func TestAckInvokesCallbackAndRemoves(t *testing.T) {
	q := queue.New()
	var mu sync.Mutex
	var gotErr error
	var gotResp json.RawMessage
	enqueue(q, "m1", wire.PriorityNormal, func(err error, resp json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		gotErr, gotResp = err, resp
	})

	if ok := q.Ack("m1", json.RawMessage(`{"ok":true}`)); !ok {
		t.Fatal("Ack returned false for pending message")
	}
	mu.Lock()
	defer mu.Unlock()
	if gotErr != nil {
		t.Errorf("callback error = %v, want nil", gotErr)
	}
	if string(gotResp) != `{"ok":true}` {
		t.Errorf("callback response = %s", gotResp)
	}
	if q.Len() != 0 {
		t.Errorf("queue length %d after ack", q.Len())
	}
	if q.Ack("m1", nil) {
		t.Error("duplicate ack should report false")
	}
}

func TestFailAllDrainsEverything(t *testing.T) {
	q := queue.New()
	var mu sync.Mutex
	var errs []error
	cb := func(err error, _ json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}
	enqueue(q, "a", wire.PriorityNormal, cb)
	enqueue(q, "b", wire.PriorityCritical, cb)
	enqueue(q, "c", wire.PriorityLow, cb)

	sentinel := errors.New("connection closed")
	q.FailAll(sentinel)

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 3 {
		t.Fatalf("expected 3 callbacks, got %d", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, sentinel) {
			t.Errorf("callback error = %v", err)
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue length %d after FailAll", q.Len())
	}
}

func TestArmTimeoutFailsPendingMessage(t *testing.T) {
	q := queue.New()
	done := make(chan error, 1)
	enqueue(q, "m1", wire.PriorityNormal, func(err error, _ json.RawMessage) {
		done <- err
	})
	sentinel := errors.New("timed out")
	q.ArmTimeout("m1", 30*time.Millisecond, sentinel)

	select {
	case err := <-done:
		if !errors.Is(err, sentinel) {
			t.Errorf("callback error = %v, want sentinel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
	if q.Len() != 0 {
		t.Errorf("message still pending after timeout")
	}
}

func TestRemoveStopsTimers(t *testing.T) {
	q := queue.New()
	fired := make(chan struct{}, 1)
	enqueue(q, "m1", wire.PriorityNormal, func(error, json.RawMessage) {
		fired <- struct{}{}
	})
	q.ArmTimeout("m1", 30*time.Millisecond, errors.New("late"))
	q.ArmRetry("m1", 30*time.Millisecond, func() { fired <- struct{}{} })

	if m := q.Remove("m1"); m == nil {
		t.Fatal("Remove returned nil for pending message")
	}
	select {
	case <-fired:
		t.Fatal("timer fired after removal")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIncRetryAndDefaults(t *testing.T) {
	q := queue.New()
	q.Enqueue(&queue.Message{ID: "m1", Event: "x"})

	m := q.Get("m1")
	if m.MaxRetries != queue.DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want default %d", m.MaxRetries, queue.DefaultMaxRetries)
	}
	if m.Priority != wire.PriorityNormal {
		t.Errorf("priority = %q, want normal", m.Priority)
	}
	if m.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not set")
	}
	if n := q.IncRetry("m1"); n != 1 {
		t.Errorf("IncRetry = %d, want 1", n)
	}
	if n := q.IncRetry("missing"); n != -1 {
		t.Errorf("IncRetry(missing) = %d, want -1", n)
	}

	q.Enqueue(&queue.Message{ID: "m2", Event: "x", MaxRetries: -1})
	if got := q.Get("m2").MaxRetries; got != 0 {
		t.Errorf("negative MaxRetries should mean 0, got %d", got)
	}
}
