package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// startMetricsHTTP serves the metrics endpoints on their own listener so
// scrapes never share a port with client traffic. No-op when unconfigured.
func (s *Server) startMetricsHTTP() {
	if s.cfg.MetricsAddr == "" {
		return
	}

	r := chi.NewRouter()
	r.Get("/metrics", s.handleMetricsProm)
	r.Get("/metrics.json", s.handleMetricsJSON)

	s.metricsSrv = &http.Server{Addr: s.cfg.MetricsAddr, Handler: r}
	go func() {
		slog.Info("metrics listener started", "addr", s.cfg.MetricsAddr)
		if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics listener failed", "err", err)
		}
	}()
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	data, err := s.metrics.JSON()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handleMetricsProm renders counters in Prometheus text exposition format.
func (s *Server) handleMetricsProm(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric := func(name, help string, value int64) {
		fmt.Fprintf(w, "# HELP huddle_%s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE huddle_%s counter\n", name)
		fmt.Fprintf(w, "huddle_%s %d\n", name, value)
	}

	fmt.Fprintf(w, "# HELP huddle_uptime_seconds Hub uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE huddle_uptime_seconds gauge\n")
	fmt.Fprintf(w, "huddle_uptime_seconds %.0f\n", snap.UptimeSeconds)

	fmt.Fprintf(w, "# HELP huddle_active_connections Currently registered sessions\n")
	fmt.Fprintf(w, "# TYPE huddle_active_connections gauge\n")
	fmt.Fprintf(w, "huddle_active_connections %d\n", snap.ActiveConnections)

	writeMetric("total_connections", "Total connection attempts", snap.TotalConnections)
	writeMetric("total_disconnects", "Total disconnects", snap.TotalDisconnects)
	writeMetric("successful_auths", "Admitted connections", snap.SuccessfulAuths)
	writeMetric("failed_auths", "Rejected connections", snap.FailedAuths)
	writeMetric("events_in", "Inbound events read", snap.EventsIn)
	writeMetric("events_rejected", "Events failing validation", snap.EventsRejected)
	writeMetric("events_ignored", "Events of unrecognized kind", snap.EventsIgnored)
	writeMetric("rate_limited", "Events rejected by rate limiting", snap.RateLimited)
	writeMetric("messages_routed", "Message events fanned out", snap.MessagesRouted)
	writeMetric("reactions_routed", "Reaction events fanned out", snap.ReactionsRouted)
	writeMetric("typing_routed", "Typing events fanned out", snap.TypingRouted)
	writeMetric("room_joins", "Room joins", snap.RoomJoins)
	writeMetric("room_leaves", "Room leaves", snap.RoomLeaves)
	writeMetric("presence_broadcasts", "Presence broadcasts", snap.PresenceBroadcasts)
	writeMetric("calls_started", "Calls started", snap.CallsStarted)
	writeMetric("calls_accepted", "Calls accepted", snap.CallsAccepted)
	writeMetric("calls_declined", "Calls declined", snap.CallsDeclined)
	writeMetric("calls_ended", "Calls ended", snap.CallsEnded)
	writeMetric("signals_relayed", "Signals delivered", snap.SignalsRelayed)
	writeMetric("signals_dropped", "Signals dropped for offline targets", snap.SignalsDropped)
	writeMetric("slow_clients_dropped", "Events dropped on full outbound queues", snap.SlowClientsDropped)
}
