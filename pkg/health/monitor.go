// Package health measures connection quality. The monitor sends a
// timestamped ping on a fixed interval while the connection is up and
// derives latency and a coarse quality label from the correlated pong.
// It only measures: liveness detection and reconnection belong to the
// transport and connection manager.
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

// DefaultHeartbeatInterval is the default gap between liveness probes.
const DefaultHeartbeatInterval = 30 * time.Second

// Quality is the latency-derived connection classification.
type Quality string

const (
	QualityExcellent    Quality = "excellent"
	QualityGood         Quality = "good"
	QualityPoor         Quality = "poor"
	QualityDisconnected Quality = "disconnected"
)

// Classify maps a round-trip latency to a quality label.
func Classify(latency time.Duration) Quality {
	switch {
	case latency < 100*time.Millisecond:
		return QualityExcellent
	case latency < 300*time.Millisecond:
		return QualityGood
	default:
		return QualityPoor
	}
}

// Snapshot is a read-only view of connection health.
type Snapshot struct {
	Connected         bool    `json:"isConnected"`
	LatencyMs         int64   `json:"latencyMs"`
	ReconnectAttempts int     `json:"reconnectAttempts"`
	LastError         string  `json:"lastError,omitempty"`
	Quality           Quality `json:"quality"`
}

// SendFunc transmits one ping frame. The monitor correlates the eventual
// pong by ID.
type SendFunc func(id string, sentAt time.Time) error

// Monitor owns the heartbeat loop and the health snapshot.
type Monitor struct {
	interval        time.Duration
	logger          *slog.Logger
	onQualityChange func(Quality)

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	pending  map[string]time.Time // ping ID -> send time
	snapshot Snapshot
}

// NewMonitor returns a stopped monitor. onQualityChange, if non-nil, is
// invoked outside the monitor's lock whenever the quality label changes.
func NewMonitor(interval time.Duration, logger *slog.Logger, onQualityChange func(Quality)) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		interval:        interval,
		logger:          logger,
		onQualityChange: onQualityChange,
		pending:         make(map[string]time.Time),
		snapshot:        Snapshot{Quality: QualityDisconnected},
	}
}

// Start marks the connection up and begins the heartbeat loop, sending
// pings through send. Restarting an already running monitor first stops
// the previous loop, so each (re)connection gets a fresh schedule.
func (m *Monitor) Start(send SendFunc) {
	m.mu.Lock()
	if m.running {
		close(m.stop)
	}
	m.running = true
	stop := make(chan struct{})
	m.stop = stop
	m.pending = make(map[string]time.Time)
	m.snapshot.Connected = true
	m.snapshot.LastError = ""
	prev := m.snapshot.Quality
	if prev == QualityDisconnected {
		// No sample yet on a fresh connection; assume good until measured.
		m.snapshot.Quality = QualityGood
	}
	quality := m.snapshot.Quality
	m.mu.Unlock()

	if quality != prev && m.onQualityChange != nil {
		m.onQualityChange(quality)
	}
	go m.loop(stop, send)
}

// Stop halts the heartbeat loop and marks the connection down. Safe to
// call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.running {
		close(m.stop)
		m.running = false
	}
	prev := m.snapshot.Quality
	m.snapshot.Connected = false
	m.snapshot.Quality = QualityDisconnected
	m.pending = make(map[string]time.Time)
	m.mu.Unlock()

	if prev != QualityDisconnected && m.onQualityChange != nil {
		m.onQualityChange(QualityDisconnected)
	}
}

// HandlePong records the round trip for a previously sent ping and
// reclassifies quality. Pongs for unknown IDs (stale connection, duplicate)
// are ignored.
func (m *Monitor) HandlePong(id string) {
	now := time.Now()
	m.mu.Lock()
	sentAt, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, id)
	latency := now.Sub(sentAt)
	m.snapshot.LatencyMs = latency.Milliseconds()
	prev := m.snapshot.Quality
	quality := Classify(latency)
	m.snapshot.Quality = quality
	m.mu.Unlock()

	if quality != prev && m.onQualityChange != nil {
		m.onQualityChange(quality)
	}
}

// RecordError notes the most recent connection-level error in the snapshot.
func (m *Monitor) RecordError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.snapshot.LastError = err.Error()
	m.mu.Unlock()
}

// SetReconnectAttempts updates the attempt counter exposed in the snapshot.
func (m *Monitor) SetReconnectAttempts(n int) {
	m.mu.Lock()
	m.snapshot.ReconnectAttempts = n
	m.mu.Unlock()
}

// Snapshot returns the current health view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *Monitor) loop(stop chan struct{}, send SendFunc) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.probe(stop, send)
		}
	}
}

func (m *Monitor) probe(stop chan struct{}, send SendFunc) {
	id := wire.NewID()
	now := time.Now()

	m.mu.Lock()
	if m.stop != stop {
		// A newer loop took over; this tick belongs to a dead connection.
		m.mu.Unlock()
		return
	}
	// A probe that never got its pong before the next tick is dropped
	// silently; it does not declare disconnection.
	for staleID, sentAt := range m.pending {
		if now.Sub(sentAt) >= m.interval {
			delete(m.pending, staleID)
		}
	}
	m.pending[id] = now
	m.mu.Unlock()

	if err := send(id, now); err != nil {
		m.logger.Debug("health: ping send failed", "error", err)
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}
}
