package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/huddlechat/huddle/pkg/crypto"
	"github.com/huddlechat/huddle/pkg/model"
)

const defaultRoomName = "lobby"

// Run starts the listeners and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	if s.store == nil {
		return errors.New("server: no datastore configured")
	}

	if err := s.ensureDefaultRoom(); err != nil {
		return err
	}
	if s.cfg.RoomsFile != "" {
		if err := s.seedRooms(s.cfg.RoomsFile); err != nil {
			return err
		}
	}
	if err := s.ensureBootstrapToken(); err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("hub listening", "addr", s.cfg.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.startMetricsHTTP()
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		slog.Error("listener failed", "err", err)
		s.Shutdown()
		return err
	}

	s.Shutdown()
	return nil
}

// Shutdown stops the listeners and force-closes every live connection.
// Per-connection teardown still runs through the normal disconnect path.
func (s *Server) Shutdown() {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpSrv != nil {
		s.httpSrv.Shutdown(ctx)
	}
	if s.metricsSrv != nil {
		s.metricsSrv.Shutdown(ctx)
	}
	s.registry.KillAll()
	s.metrics.LogSummary()
}

// ensureDefaultRoom creates the lobby on an empty datastore so first-run
// clients have somewhere to join.
func (s *Server) ensureDefaultRoom() error {
	store := s.store.NonTx()
	rooms, err := store.ListRooms()
	if err != nil {
		return err
	}
	if len(rooms) > 0 {
		return nil
	}
	room := &model.Room{Name: defaultRoomName, Topic: "General discussion"}
	if err := store.CreateRoom(room); err != nil {
		return err
	}
	slog.Info("created default room", "room", room.Name, "id", room.ID)
	return nil
}

// ensureBootstrapToken creates an admin account with a never-expiring token
// when the datastore has no tokens at all, and prints the token once so the
// operator can connect. The token is never persisted in plaintext.
func (s *Server) ensureBootstrapToken() error {
	store := s.store.NonTx()

	has, err := store.HasTokens()
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	admin, err := store.GetUserByUsername("admin")
	if err != nil {
		return err
	}
	if admin == nil {
		admin, err = store.CreateUser("admin", "Administrator")
		if err != nil {
			return err
		}
	}

	token, err := crypto.GenerateToken()
	if err != nil {
		return err
	}
	if err := store.CreateToken(crypto.HashToken(token), admin.ID, time.Time{}); err != nil {
		return err
	}

	slog.Info("bootstrap token created; connect with this token (shown only once)",
		"user", admin.Username, "token", token)
	return nil
}
