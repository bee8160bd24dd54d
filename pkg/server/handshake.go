package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/huddlechat/huddle/pkg/model"
)

// handleWS is the single websocket entry point. The gate runs before the
// upgrade so rejected clients get a plain HTTP status; only admitted
// connections are upgraded, registered, and given their presence snapshot.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	s.metrics.TotalConnections.Add(1)

	user, err := s.gate.Admit(r.Context(), connID, bearerToken(r))
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		status := http.StatusUnauthorized
		if errors.Is(err, ErrAccountInactive) {
			status = http.StatusForbidden
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own HTTP error.
		slog.Warn("websocket upgrade failed", "conn", connID, "err", err)
		return
	}

	client := newClient(s, conn, connID)
	sess, err := s.registry.Register(connID, user.ID, user.DisplayName, client)
	if err != nil {
		slog.Error("session registration failed", "conn", connID, "err", err)
		conn.Close()
		return
	}
	s.metrics.ActiveConnections.Add(1)
	s.metrics.SuccessfulAuths.Add(1)
	slog.Info("client connected", "conn", connID, "user", user.Username)

	// Snapshot first, then announce: the new session's snapshot must not
	// include its own online broadcast.
	s.presence.SendSnapshot(sess)
	s.presence.Connected(sess)

	go func() {
		if err := s.store.NonTx().SetUserStatus(user.ID, model.StatusOnline); err != nil {
			slog.Warn("best-effort write failed", "op", "persist online status", "err", err)
		}
		if err := s.store.NonTx().SetLastSeen(user.ID, time.Now().UTC()); err != nil {
			slog.Warn("best-effort write failed", "op", "persist last seen", "err", err)
		}
	}()

	go client.writePump()
	go client.readPump()
}

// bearerToken extracts the credential from the Authorization header, with a
// query-parameter fallback for clients that cannot set headers on websocket
// dials (browsers).
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
