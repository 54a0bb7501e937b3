// Package wire defines the envelope format exchanged with the backend.
//
// Every frame on the channel is a JSON Envelope. Application messages
// (TypeEvent) carry a unique ID the backend echoes back in a TypeAck frame;
// that correlation drives the delivery guarantees in pkg/queue. Liveness
// probes use TypePing/TypePong with the send timestamp in the payload.
package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope type constants.
const (
	TypeConnect    = "connect"     // handshake, payload is ConnectPayload
	TypeConnectAck = "connect_ack" // backend accepts the handshake
	TypeEvent      = "event"       // application message, must be acked
	TypeAck        = "ack"         // acknowledgment correlated by ID
	TypePing       = "ping"        // liveness probe, payload is PingPayload
	TypePong       = "pong"        // probe reply, same ID as the ping
	TypeError      = "error"       // backend-reported failure
)

// ErrorPayload carries error details inside an Envelope.
type ErrorPayload struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Envelope is the single frame structure for the channel.
type Envelope struct {
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type"`
	Topic    string          `json:"topic,omitempty"`
	Priority Priority        `json:"priority,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    *ErrorPayload   `json:"error,omitempty"`
}

// ConnectPayload is the handshake body sent with TypeConnect.
type ConnectPayload struct {
	Credential string `json:"credential"`
}

// PingPayload is the body of a liveness probe.
type PingPayload struct {
	SentAt int64 `json:"sentAt"` // unix milliseconds
}

// NewEnvelope builds an envelope, marshalling payloadData if present.
// A nil payloadData leaves Payload nil, which serializes as JSON null.
func NewEnvelope(id, typ, topic string, payloadData interface{}, errPayload *ErrorPayload) (*Envelope, error) {
	var payloadBytes json.RawMessage
	if payloadData != nil {
		var err error
		payloadBytes, err = json.Marshal(payloadData)
		if err != nil {
			return nil, fmt.Errorf("wire: marshal payload: %w", err)
		}
	}
	return &Envelope{
		ID:      id,
		Type:    typ,
		Topic:   topic,
		Payload: payloadBytes,
		Error:   errPayload,
	}, nil
}

// DecodePayload unmarshals the envelope payload into v (a pointer).
// A null or absent payload leaves v at its zero value.
func (e *Envelope) DecodePayload(v interface{}) error {
	if e.Payload == nil || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
