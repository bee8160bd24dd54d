package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics holds hub counters. All fields are atomics, safe to bump from any
// connection goroutine without coordination.
type Metrics struct {
	startTime time.Time

	TotalConnections  atomic.Int64
	ActiveConnections atomic.Int64
	TotalDisconnects  atomic.Int64
	SuccessfulAuths   atomic.Int64
	FailedAuths       atomic.Int64

	EventsIn       atomic.Int64
	EventsRejected atomic.Int64
	EventsIgnored  atomic.Int64
	RateLimited    atomic.Int64

	MessagesRouted  atomic.Int64
	ReactionsRouted atomic.Int64
	TypingRouted    atomic.Int64

	RoomJoins          atomic.Int64
	RoomLeaves         atomic.Int64
	PresenceBroadcasts atomic.Int64

	CallsStarted  atomic.Int64
	CallsAccepted atomic.Int64
	CallsDeclined atomic.Int64
	CallsEnded    atomic.Int64

	SignalsRelayed atomic.Int64
	SignalsDropped atomic.Int64

	SlowClientsDropped atomic.Int64
}

// NewMetrics creates a metrics instance with the uptime clock started.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`

	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`

	EventsIn       int64 `json:"events_in"`
	EventsRejected int64 `json:"events_rejected"`
	EventsIgnored  int64 `json:"events_ignored"`
	RateLimited    int64 `json:"rate_limited"`

	MessagesRouted  int64 `json:"messages_routed"`
	ReactionsRouted int64 `json:"reactions_routed"`
	TypingRouted    int64 `json:"typing_routed"`

	RoomJoins          int64 `json:"room_joins"`
	RoomLeaves         int64 `json:"room_leaves"`
	PresenceBroadcasts int64 `json:"presence_broadcasts"`

	CallsStarted  int64 `json:"calls_started"`
	CallsAccepted int64 `json:"calls_accepted"`
	CallsDeclined int64 `json:"calls_declined"`
	CallsEnded    int64 `json:"calls_ended"`

	SignalsRelayed int64 `json:"signals_relayed"`
	SignalsDropped int64 `json:"signals_dropped"`

	SlowClientsDropped int64 `json:"slow_clients_dropped"`
}

// Snapshot copies all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),

		TotalConnections:  m.TotalConnections.Load(),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),

		EventsIn:       m.EventsIn.Load(),
		EventsRejected: m.EventsRejected.Load(),
		EventsIgnored:  m.EventsIgnored.Load(),
		RateLimited:    m.RateLimited.Load(),

		MessagesRouted:  m.MessagesRouted.Load(),
		ReactionsRouted: m.ReactionsRouted.Load(),
		TypingRouted:    m.TypingRouted.Load(),

		RoomJoins:          m.RoomJoins.Load(),
		RoomLeaves:         m.RoomLeaves.Load(),
		PresenceBroadcasts: m.PresenceBroadcasts.Load(),

		CallsStarted:  m.CallsStarted.Load(),
		CallsAccepted: m.CallsAccepted.Load(),
		CallsDeclined: m.CallsDeclined.Load(),
		CallsEnded:    m.CallsEnded.Load(),

		SignalsRelayed: m.SignalsRelayed.Load(),
		SignalsDropped: m.SignalsDropped.Load(),

		SlowClientsDropped: m.SlowClientsDropped.Load(),
	}
}

// JSON renders the snapshot as indented JSON for the metrics endpoint.
func (m *Metrics) JSON() ([]byte, error) {
	return json.MarshalIndent(m.Snapshot(), "", "  ")
}

// LogSummary writes a one-line summary of the busiest counters.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("hub metrics",
		"uptime_s", int64(s.UptimeSeconds),
		"active_conns", s.ActiveConnections,
		"total_conns", s.TotalConnections,
		"events_in", s.EventsIn,
		"messages", s.MessagesRouted,
		"calls_started", s.CallsStarted,
		"signals", s.SignalsRelayed,
		"failed_auths", s.FailedAuths,
	)
}

// StartPeriodicLog logs the summary on an interval until done is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary()
			case <-done:
				return
			}
		}
	}()
}
