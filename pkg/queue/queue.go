// Package queue holds outbound messages until the backend acknowledges
// them. Messages drain in priority order (critical > high > normal > low),
// FIFO within one priority, and carry their own retry and timeout timers.
// All timers are stopped when a message leaves the queue, whatever the
// reason, so a torn-down connection never fires a stale delivery.
package queue

import (
	"container/heap"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

// Queue is the priority-ordered set of unacknowledged messages.
type Queue struct {
	mu    sync.Mutex
	heap  msgHeap
	byID  map[string]*Message
	seq   uint64
	clock func() time.Time
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		byID:  make(map[string]*Message),
		clock: time.Now,
	}
}

// Enqueue inserts the message. EnqueuedAt and internal ordering fields are
// assigned here; a zero MaxRetries gets DefaultMaxRetries, a negative one
// means no retries.
func (q *Queue) Enqueue(m *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !m.Priority.Valid() {
		m.Priority = wire.PriorityNormal
	}
	if m.MaxRetries == 0 {
		m.MaxRetries = DefaultMaxRetries
	} else if m.MaxRetries < 0 {
		m.MaxRetries = 0
	}
	m.EnqueuedAt = q.clock()
	m.seq = q.seq
	q.seq++
	heap.Push(&q.heap, m)
	q.byID[m.ID] = m
}

// Get returns the queued message with the given ID, or nil.
func (q *Queue) Get(id string) *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.byID[id]
}

// Len reports the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

// Snapshot returns the pending messages in delivery order without
// removing them.
func (q *Queue) Snapshot() []*Message {
	q.mu.Lock()
	out := make([]*Message, 0, len(q.byID))
	for _, m := range q.byID {
		out = append(out, m)
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}

// Remove takes the message out of the queue and stops its timers. It
// returns the message, or nil if it was no longer pending. The result
// callback is not invoked.
func (q *Queue) Remove(id string) *Message {
	q.mu.Lock()
	m := q.removeLocked(id)
	q.mu.Unlock()
	return m
}

// Ack removes the message and invokes its callback with the backend's
// response. Returns false if the ID was not pending (late or duplicate ack).
func (q *Queue) Ack(id string, response json.RawMessage) bool {
	q.mu.Lock()
	m := q.removeLocked(id)
	q.mu.Unlock()
	if m == nil {
		return false
	}
	if m.OnResult != nil {
		m.OnResult(nil, response)
	}
	return true
}

// Fail removes the message and invokes its callback with err. Returns
// false if the ID was not pending.
func (q *Queue) Fail(id string, err error) bool {
	q.mu.Lock()
	m := q.removeLocked(id)
	q.mu.Unlock()
	if m == nil {
		return false
	}
	if m.OnResult != nil {
		m.OnResult(err, nil)
	}
	return true
}

// FailAll drains the queue, invoking every callback with err. Used on
// disconnect and teardown.
func (q *Queue) FailAll(err error) {
	q.mu.Lock()
	failed := make([]*Message, 0, len(q.byID))
	for id := range q.byID {
		if m := q.removeLocked(id); m != nil {
			failed = append(failed, m)
		}
	}
	q.mu.Unlock()
	sort.Slice(failed, func(i, j int) bool { return failed[i].before(failed[j]) })
	for _, m := range failed {
		if m.OnResult != nil {
			m.OnResult(err, nil)
		}
	}
}

// IncRetry increments the retry count of a pending message and returns the
// new count, or -1 if the message is gone.
func (q *Queue) IncRetry(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.byID[id]
	if m == nil {
		return -1
	}
	m.RetryCount++
	return m.RetryCount
}

// ArmRetry schedules fn after d, replacing any previous retry timer for
// the message. The timer is discarded if the message leaves the queue
// first; fn must still re-check the message is pending, since the timer
// may already be in flight when the message is removed.
func (q *Queue) ArmRetry(id string, d time.Duration, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.byID[id]
	if m == nil {
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = time.AfterFunc(d, fn)
}

// ArmTimeout schedules removal of the message after d, failing it with
// err. Independent of the retry schedule: a timed-out message is gone even
// if a retry was pending.
func (q *Queue) ArmTimeout(id string, d time.Duration, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.byID[id]
	if m == nil {
		return
	}
	if m.timeoutTimer != nil {
		m.timeoutTimer.Stop()
	}
	m.timeoutTimer = time.AfterFunc(d, func() {
		q.Fail(id, err)
	})
}

// removeLocked detaches the message from the heap and index and stops its
// timers. Caller holds q.mu.
func (q *Queue) removeLocked(id string) *Message {
	m := q.byID[id]
	if m == nil {
		return nil
	}
	delete(q.byID, id)
	heap.Remove(&q.heap, m.index)
	m.stopTimers()
	return m
}

// msgHeap implements heap.Interface ordered by (priority rank, sequence).
type msgHeap []*Message

func (h msgHeap) Len() int           { return len(h) }
func (h msgHeap) Less(i, j int) bool { return h[i].before(h[j]) }

func (h msgHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *msgHeap) Push(x interface{}) {
	m := x.(*Message)
	m.index = len(*h)
	*h = append(*h, m)
}

func (h *msgHeap) Pop() interface{} {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	m.index = -1
	*h = old[:n-1]
	return m
}
