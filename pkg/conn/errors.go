package conn

import (
	"errors"
	"fmt"
)

// Connection- and message-level failure taxonomy. Connection failures are
// recovered locally by the reconnect loop up to its ceiling; message
// failures always reach the per-message callback.
var (
	// ErrCircuitOpen rejects a connection attempt locally while the
	// breaker cooldown has not elapsed. Not itself a breaker failure.
	ErrCircuitOpen = errors.New("wschannel: circuit breaker open")

	// ErrConnectionTimeout means the handshake did not complete in time.
	ErrConnectionTimeout = errors.New("wschannel: connection timed out")

	// ErrMessageTimeout removes a message whose per-message timeout
	// expired before acknowledgment. Local to that message.
	ErrMessageTimeout = errors.New("wschannel: message timed out")

	// ErrMaxRetries removes a message after its last delivery attempt
	// failed. Terminal for that message only.
	ErrMaxRetries = errors.New("wschannel: max retries exceeded")

	// ErrClosed fails pending work when the connection is torn down.
	ErrClosed = errors.New("wschannel: connection closed")

	// ErrConnectInProgress rejects Connect while another attempt or the
	// reconnect loop is already driving the connection.
	ErrConnectInProgress = errors.New("wschannel: connect already in progress")
)

// TransportError wraps a low-level connect or send failure reported by the
// transport adapter.
type TransportError struct {
	Op  string // "connect" or "send"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("wschannel: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
