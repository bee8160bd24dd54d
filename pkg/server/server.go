// Package server implements the real-time hub: session registry, room
// membership, event routing, call contexts, signaling relay, and the
// websocket transport that feeds them.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/huddlechat/huddle/pkg/datastore"
)

// Server composes the hub's shared state and collaborators. All per-event
// work runs on connection goroutines; the server itself only wires things
// together and owns the HTTP listeners.
type Server struct {
	cfg Config

	registry *Registry
	rooms    *RoomTable
	calls    *CallTable
	presence *PresenceNotifier
	relay    *SignalRelay
	gate     *Gate
	router   *Router
	metrics  *Metrics
	store    datastore.DataProviderFactory

	upgrader websocket.Upgrader

	httpSrv    *http.Server
	metricsSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a server from config and a datastore.
func New(cfg Config, store datastore.DataProviderFactory) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
	s.metrics = NewMetrics()
	s.registry = NewRegistry()
	s.rooms = NewRoomTable()
	s.calls = NewCallTable()
	s.presence = NewPresenceNotifier(s.registry, s.metrics)
	s.relay = NewSignalRelay(s.registry, s.metrics)
	s.gate = NewGate(store)
	s.router = NewRouter(s.registry, s.rooms, s.calls, s.presence, s.relay, store, s.metrics)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

// Registry exposes the session registry, mainly for tests and diagnostics.
func (s *Server) Registry() *Registry { return s.registry }

// Rooms exposes the room membership table.
func (s *Server) Rooms() *RoomTable { return s.rooms }

// Calls exposes the call table.
func (s *Server) Calls() *CallTable { return s.calls }

// Metrics exposes the hub counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// originChecker builds the upgrade origin policy. With no configured
// origins gorilla's same-origin default applies; otherwise the Origin
// header must match one of the allowed values, with "*" opening it up.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
