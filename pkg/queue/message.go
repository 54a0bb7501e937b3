package queue

import (
	"encoding/json"
	"time"

	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

// DefaultMaxRetries bounds delivery attempts per message: one initial
// attempt plus DefaultMaxRetries retries.
const DefaultMaxRetries = 3

// Callback reports the terminal outcome of a message: the backend's ack
// payload on success, or the error that removed it from the queue.
type Callback func(err error, response json.RawMessage)

// Message is one outbound message awaiting acknowledgment. Messages are
// owned exclusively by the Queue; callers keep only the ID.
type Message struct {
	ID         string
	Event      string
	Payload    json.RawMessage
	Priority   wire.Priority
	EnqueuedAt time.Time
	RetryCount int
	MaxRetries int
	OnResult   Callback

	seq          uint64 // enqueue order, breaks priority ties
	index        int    // heap index, -1 once removed
	retryTimer   *time.Timer
	timeoutTimer *time.Timer
}

func (m *Message) stopTimers() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.timeoutTimer != nil {
		m.timeoutTimer.Stop()
		m.timeoutTimer = nil
	}
}

// before orders messages for delivery: priority rank first, enqueue
// sequence within a rank.
func (m *Message) before(other *Message) bool {
	ra, rb := m.Priority.Rank(), other.Priority.Rank()
	if ra != rb {
		return ra < rb
	}
	return m.seq < other.seq
}
