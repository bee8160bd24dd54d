package server

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/huddlechat/huddle/pkg/model"
	"github.com/huddlechat/huddle/pkg/protocol"
)

// ErrConnRegistered is returned when a connection ID is registered twice.
// That is a programming error in the caller, fatal to that call only.
var ErrConnRegistered = errors.New("server: connection already registered")

// sink is the outbound half of a connection as seen by shared state:
// non-blocking delivery plus a kill switch for unresponsive clients.
type sink interface {
	// TrySend queues an event without blocking. False means the outbound
	// buffer is full or the connection is closing.
	TrySend(ev *protocol.ServerEvent) bool

	// Kill force-closes the underlying transport. Cleanup then runs through
	// the connection's normal teardown path.
	Kill()
}

// Session is a snapshot of one authenticated, live connection.
type Session struct {
	ConnID       string
	UserID       int64
	DisplayName  string
	Status       model.PresenceStatus
	LastActivity time.Time
}

type sessionEntry struct {
	Session
	sink sink
}

// Registry tracks active sessions and the user -> session index. A session
// exists here if and only if its connection is live; removal is performed in
// the same operation as connection teardown. All operations are pure
// in-memory mutations under one mutex and never block on I/O.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*sessionEntry      // connID -> session
	byUser map[int64]map[string]struct{} // userID -> set of connIDs
	now    func() time.Time
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*sessionEntry),
		byUser: make(map[int64]map[string]struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register records a new session. Multiple simultaneous sessions per user
// are supported: the user index accumulates connection IDs, and broadcasts
// fan out to all of them.
func (r *Registry) Register(connID string, userID int64, displayName string, s sink) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return Session{}, ErrConnRegistered
	}

	entry := &sessionEntry{
		Session: Session{
			ConnID:       connID,
			UserID:       userID,
			DisplayName:  displayName,
			Status:       model.StatusOnline,
			LastActivity: r.now(),
		},
		sink: s,
	}
	r.conns[connID] = entry

	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][connID] = struct{}{}

	return entry.Session, nil
}

// UpdateStatus mutates a session's presence status and returns the prior
// status for diffing. A miss is a normal outcome (the connection raced a
// disconnect), reported via ok=false.
func (r *Registry) UpdateStatus(connID string, status model.PresenceStatus) (prev model.PresenceStatus, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	prev = entry.Status
	entry.Status = status
	entry.LastActivity = r.now()
	return prev, true
}

// Touch updates a session's last-activity timestamp.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.conns[connID]; ok {
		entry.LastActivity = r.now()
	}
}

// Remove deletes a session and its user-index entries in one operation.
// Idempotent: removing an unknown connection returns ok=false so callers
// can short-circuit cleanup.
func (r *Registry) Remove(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.conns, connID)

	if conns, ok := r.byUser[entry.UserID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, entry.UserID)
		}
	}
	return entry.Session, true
}

// Get returns a snapshot of the session for a connection.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[connID]
	if !ok {
		return Session{}, false
	}
	return entry.Session, true
}

// ListOnline returns a point-in-time snapshot of all sessions, ordered by
// display name then connection ID. It does not stay valid across mutations.
func (r *Registry) ListOnline() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]Session, 0, len(r.conns))
	for _, entry := range r.conns {
		sessions = append(sessions, entry.Session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].DisplayName != sessions[j].DisplayName {
			return sessions[i].DisplayName < sessions[j].DisplayName
		}
		return sessions[i].ConnID < sessions[j].ConnID
	})
	return sessions
}

// FindByUser returns the connection IDs of all live sessions for a user.
func (r *Registry) FindByUser(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	result := make([]string, 0, len(conns))
	for connID := range conns {
		result = append(result, connID)
	}
	sort.Strings(result)
	return result
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers an event to one connection's outbound queue. A connection
// whose queue is full is dropped rather than allowed to backpressure the
// hub; its teardown runs through the normal disconnect path.
func (r *Registry) Send(connID string, ev *protocol.ServerEvent) bool {
	r.mu.RLock()
	entry, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if !entry.sink.TrySend(ev) {
		slog.Warn("outbound queue full, dropping connection", "conn", connID, "user", entry.UserID)
		entry.sink.Kill()
		return false
	}
	return true
}

// SendToUser delivers an event to every live session of a user and returns
// how many sessions it was queued for.
func (r *Registry) SendToUser(userID int64, ev *protocol.ServerEvent) int {
	delivered := 0
	for _, connID := range r.FindByUser(userID) {
		if r.Send(connID, ev) {
			delivered++
		}
	}
	return delivered
}

// Broadcast delivers an event to every session except the excluded
// connection. Returns the number of sessions reached.
func (r *Registry) Broadcast(ev *protocol.ServerEvent, exceptConnID string) int {
	r.mu.RLock()
	connIDs := make([]string, 0, len(r.conns))
	for connID := range r.conns {
		if connID != exceptConnID {
			connIDs = append(connIDs, connID)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, connID := range connIDs {
		if r.Send(connID, ev) {
			delivered++
		}
	}
	return delivered
}

// KillAll force-closes every connection. Used during shutdown; individual
// teardown still runs per connection.
func (r *Registry) KillAll() {
	r.mu.RLock()
	sinks := make([]sink, 0, len(r.conns))
	for _, entry := range r.conns {
		sinks = append(sinks, entry.sink)
	}
	r.mu.RUnlock()

	for _, s := range sinks {
		s.Kill()
	}
}
