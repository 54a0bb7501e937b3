// Package transport wraps a single duplex socket connection to one
// endpoint. An adapter is single-use: the connection manager constructs a
// fresh one for every (re)connection attempt and never shares it.
package transport

import (
	"context"

	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

// Transport is one live connection attempt to the backend.
//
// Connect performs the dial and the connect/connect_ack handshake; the
// other methods are only valid after Connect returns nil. Receive yields
// inbound envelopes and is closed when the connection is lost or Close is
// called; Err then reports the reason.
type Transport interface {
	Connect(ctx context.Context, credential string) error
	Send(ctx context.Context, env *wire.Envelope) error
	Receive() <-chan *wire.Envelope
	Close() error
	Err() error
}

// Factory constructs a fresh adapter for one connection attempt.
type Factory func() Transport
