package conn

import (
	"log/slog"
	"time"

	"github.com/lightforgemedia/go-wschannel/pkg/backoff"
	"github.com/lightforgemedia/go-wschannel/pkg/breaker"
	"github.com/lightforgemedia/go-wschannel/pkg/health"
	"github.com/lightforgemedia/go-wschannel/pkg/queue"
	"github.com/lightforgemedia/go-wschannel/pkg/transport"
)

const (
	defaultConnectTimeout       = 20 * time.Second
	defaultWriteTimeout         = 5 * time.Second
	defaultMaxReconnectAttempts = 10
)

type config struct {
	logger               *slog.Logger
	factory              transport.Factory
	connectTimeout       time.Duration
	writeTimeout         time.Duration
	heartbeatInterval    time.Duration
	reconnectDelayMin    time.Duration
	reconnectDelayMax    time.Duration
	reconnectJitter      bool
	maxReconnectAttempts int
	breakerThreshold     int
	breakerCooldown      time.Duration
	defaultMaxRetries    int
	retryBackoff         func(retry int) time.Duration
}

func defaultConfig() config {
	return config{
		logger:               slog.Default(),
		connectTimeout:       defaultConnectTimeout,
		writeTimeout:         defaultWriteTimeout,
		heartbeatInterval:    health.DefaultHeartbeatInterval,
		reconnectDelayMin:    backoff.DefaultBase,
		reconnectDelayMax:    backoff.DefaultMax,
		reconnectJitter:      true,
		maxReconnectAttempts: defaultMaxReconnectAttempts,
		breakerThreshold:     breaker.DefaultFailureThreshold,
		breakerCooldown:      breaker.DefaultCooldown,
		defaultMaxRetries:    queue.DefaultMaxRetries,
		retryBackoff:         defaultRetryBackoff,
	}
}

// defaultRetryBackoff doubles per message retry: 2^retry seconds.
func defaultRetryBackoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if retry > 6 {
		retry = 6
	}
	return time.Duration(1<<uint(retry)) * time.Second
}

// Option configures a Manager.
type Option func(*config)

// WithLogger sets a custom logging implementation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransportFactory overrides how transport adapters are constructed.
// Primarily for tests and alternative transports.
func WithTransportFactory(f transport.Factory) Option {
	return func(c *config) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithConnectTimeout bounds the dial-plus-handshake of each attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithWriteTimeout bounds each outbound frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithHeartbeatInterval sets the gap between liveness probes.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.heartbeatInterval = d
		}
	}
}

// WithReconnect tunes the reconnect loop: backoff window and the attempt
// ceiling after which the manager gives up with max_reconnect_failed.
func WithReconnect(minDelay, maxDelay time.Duration, maxAttempts int) Option {
	return func(c *config) {
		if minDelay > 0 {
			c.reconnectDelayMin = minDelay
		}
		if maxDelay >= c.reconnectDelayMin {
			c.reconnectDelayMax = maxDelay
		} else {
			c.reconnectDelayMax = c.reconnectDelayMin
		}
		if maxAttempts > 0 {
			c.maxReconnectAttempts = maxAttempts
		}
	}
}

// WithReconnectJitter toggles random jitter on reconnect delays.
func WithReconnectJitter(enabled bool) Option {
	return func(c *config) {
		c.reconnectJitter = enabled
	}
}

// WithBreaker tunes the circuit breaker guarding connection attempts.
func WithBreaker(failureThreshold int, cooldown time.Duration) Option {
	return func(c *config) {
		if failureThreshold > 0 {
			c.breakerThreshold = failureThreshold
		}
		if cooldown > 0 {
			c.breakerCooldown = cooldown
		}
	}
}

// WithDefaultMaxRetries sets the per-message retry ceiling used when a
// Send does not specify one.
func WithDefaultMaxRetries(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.defaultMaxRetries = n
		}
	}
}

// WithMessageRetryBackoff overrides the per-message retry delay schedule.
func WithMessageRetryBackoff(f func(retry int) time.Duration) Option {
	return func(c *config) {
		if f != nil {
			c.retryBackoff = f
		}
	}
}

// Options is the struct-based configuration surface, mirroring the
// functional options. Zero values fall back to library defaults.
type Options struct {
	Logger               *slog.Logger
	TransportFactory     transport.Factory
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	HeartbeatInterval    time.Duration
	ReconnectDelayMin    time.Duration
	ReconnectDelayMax    time.Duration
	ReconnectJitter      *bool // nil means the default (enabled)
	MaxReconnectAttempts int
	BreakerThreshold     int
	BreakerCooldown      time.Duration
	DefaultMaxRetries    int
}

// DefaultOptions returns an Options populated with library defaults.
func DefaultOptions() Options {
	jitter := true
	return Options{
		Logger:               slog.Default(),
		ConnectTimeout:       defaultConnectTimeout,
		WriteTimeout:         defaultWriteTimeout,
		HeartbeatInterval:    health.DefaultHeartbeatInterval,
		ReconnectDelayMin:    backoff.DefaultBase,
		ReconnectDelayMax:    backoff.DefaultMax,
		ReconnectJitter:      &jitter,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		BreakerThreshold:     breaker.DefaultFailureThreshold,
		BreakerCooldown:      breaker.DefaultCooldown,
		DefaultMaxRetries:    queue.DefaultMaxRetries,
	}
}

func (o Options) apply(c *config) {
	if o.Logger != nil {
		c.logger = o.Logger
	}
	if o.TransportFactory != nil {
		c.factory = o.TransportFactory
	}
	if o.ConnectTimeout > 0 {
		c.connectTimeout = o.ConnectTimeout
	}
	if o.WriteTimeout > 0 {
		c.writeTimeout = o.WriteTimeout
	}
	if o.HeartbeatInterval > 0 {
		c.heartbeatInterval = o.HeartbeatInterval
	}
	if o.ReconnectDelayMin > 0 {
		c.reconnectDelayMin = o.ReconnectDelayMin
	}
	if o.ReconnectDelayMax >= c.reconnectDelayMin {
		c.reconnectDelayMax = o.ReconnectDelayMax
	}
	if o.ReconnectJitter != nil {
		c.reconnectJitter = *o.ReconnectJitter
	}
	if o.MaxReconnectAttempts > 0 {
		c.maxReconnectAttempts = o.MaxReconnectAttempts
	}
	if o.BreakerThreshold > 0 {
		c.breakerThreshold = o.BreakerThreshold
	}
	if o.BreakerCooldown > 0 {
		c.breakerCooldown = o.BreakerCooldown
	}
	if o.DefaultMaxRetries > 0 {
		c.defaultMaxRetries = o.DefaultMaxRetries
	}
}
