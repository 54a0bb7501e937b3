// Package wschannel re-exports the public surface of the resilient
// connection manager so applications can depend on a single import.
//
// The manager maintains one persistent bidirectional event channel to a
// backend: it survives network flaps via an exponential-backoff reconnect
// loop, bounds attempt storms with a circuit breaker, queues and
// acknowledges outbound messages in priority order, and reports
// connection-quality telemetry.
package wschannel

import (
	"github.com/lightforgemedia/go-wschannel/pkg/conn"
	"github.com/lightforgemedia/go-wschannel/pkg/health"
	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

// Re-export core types.
type (
	Manager        = conn.Manager
	Option         = conn.Option
	Options        = conn.Options
	SendOptions    = conn.SendOptions
	Handler        = conn.Handler
	State          = conn.State
	Event          = conn.Event
	EventType      = conn.EventType
	TransportError = conn.TransportError
	Envelope       = wire.Envelope
	Priority       = wire.Priority
	Health         = health.Snapshot
	Quality        = health.Quality
)

// Constructors and configuration.
var (
	New            = conn.New
	NewWithOptions = conn.NewWithOptions
	DefaultOptions = conn.DefaultOptions

	WithLogger            = conn.WithLogger
	WithConnectTimeout    = conn.WithConnectTimeout
	WithWriteTimeout      = conn.WithWriteTimeout
	WithHeartbeatInterval = conn.WithHeartbeatInterval
	WithReconnect         = conn.WithReconnect
	WithReconnectJitter   = conn.WithReconnectJitter
	WithBreaker           = conn.WithBreaker
	WithDefaultMaxRetries = conn.WithDefaultMaxRetries
	WithTransportFactory  = conn.WithTransportFactory
)

// Re-export error taxonomy.
var (
	ErrCircuitOpen       = conn.ErrCircuitOpen
	ErrConnectionTimeout = conn.ErrConnectionTimeout
	ErrMessageTimeout    = conn.ErrMessageTimeout
	ErrMaxRetries        = conn.ErrMaxRetries
	ErrClosed            = conn.ErrClosed
	ErrConnectInProgress = conn.ErrConnectInProgress
)

// Message priorities.
const (
	PriorityCritical = wire.PriorityCritical
	PriorityHigh     = wire.PriorityHigh
	PriorityNormal   = wire.PriorityNormal
	PriorityLow      = wire.PriorityLow
)

// Lifecycle events.
const (
	EventConnected          = conn.EventConnected
	EventDisconnected       = conn.EventDisconnected
	EventStatusChange       = conn.EventStatusChange
	EventQualityChange      = conn.EventQualityChange
	EventError              = conn.EventError
	EventMaxReconnectFailed = conn.EventMaxReconnectFailed
)

// Connection states.
const (
	StateIdle          = conn.StateIdle
	StateConnecting    = conn.StateConnecting
	StateConnected     = conn.StateConnected
	StateDisconnecting = conn.StateDisconnecting
	StateReconnecting  = conn.StateReconnecting
)

// Quality classifications.
const (
	QualityExcellent    = health.QualityExcellent
	QualityGood         = health.QualityGood
	QualityPoor         = health.QualityPoor
	QualityDisconnected = health.QualityDisconnected
)
