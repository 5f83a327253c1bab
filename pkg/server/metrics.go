package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime connections accepted (TCP + WebSocket)
	ActiveConnections atomic.Int64 // current active connections
	SuccessfulLogins  atomic.Int64 // successful login handshakes
	FailedLogins      atomic.Int64 // rejected login handshakes
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Matchmaking counters
	SearchesStarted atomic.Int64 // match requests received
	MatchesMade     atomic.Int64 // pairs formed
	Skips           atomic.Int64 // skips requested

	// Relay counters
	MessagesRelayed atomic.Int64 // chat messages delivered to a partner
	MessagesDropped atomic.Int64 // chat messages dropped (sender unpaired)
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulLogins  int64 `json:"successful_logins"`
	FailedLogins      int64 `json:"failed_logins"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	SearchesStarted int64 `json:"searches_started"`
	MatchesMade     int64 `json:"matches_made"`
	Skips           int64 `json:"skips"`

	MessagesRelayed int64 `json:"messages_relayed"`
	MessagesDropped int64 `json:"messages_dropped"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		SuccessfulLogins:  m.SuccessfulLogins.Load(),
		FailedLogins:      m.FailedLogins.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		SearchesStarted:   m.SearchesStarted.Load(),
		MatchesMade:       m.MatchesMade.Load(),
		Skips:             m.Skips.Load(),
		MessagesRelayed:   m.MessagesRelayed.Load(),
		MessagesDropped:   m.MessagesDropped.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"searches", s.SearchesStarted,
		"matches", s.MatchesMade,
		"skips", s.Skips,
		"msgs_relayed", s.MessagesRelayed,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
