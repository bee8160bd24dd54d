package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/huddlechat/huddle/pkg/crypto"
	"github.com/huddlechat/huddle/pkg/datastore"
	"github.com/huddlechat/huddle/pkg/model"
)

// Admission failures. Each carries a distinct, loggable reason; the raw
// credential itself is never logged.
var (
	ErrMissingCredential = errors.New("gate: missing credential")
	ErrInvalidCredential = errors.New("gate: invalid credential")
	ErrExpiredCredential = errors.New("gate: expired credential")
	ErrAccountNotFound   = errors.New("gate: account not found")
	ErrAccountInactive   = errors.New("gate: account deactivated")
)

// Gate validates credentials before a connection is admitted into the
// session registry. It runs exactly once per connection, before the
// transport upgrade; nothing reaches the event router unauthenticated.
type Gate struct {
	store datastore.DataProviderFactory
}

// NewGate creates a connection gate backed by the given datastore.
func NewGate(store datastore.DataProviderFactory) *Gate {
	return &Gate{store: store}
}

// Admit resolves a raw token to an active account. On success it returns
// the account the session should be bound to; on failure it returns one of
// the gate sentinel errors, each already logged with the connection ID.
func (g *Gate) Admit(ctx context.Context, connID, rawToken string) (*model.User, error) {
	if rawToken == "" {
		slog.Info("rejecting connection", "conn", connID, "reason", "missing credential")
		return nil, ErrMissingCredential
	}

	hash := crypto.HashToken(rawToken)

	tx, err := g.store.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("gate: begin transaction: %w", err)
	}
	defer tx.Rollback()

	userID, _, err := tx.ValidateToken(hash)
	if err != nil {
		switch {
		case errors.Is(err, datastore.ErrTokenNotFound):
			slog.Info("rejecting connection", "conn", connID, "reason", "invalid credential")
			return nil, ErrInvalidCredential
		case errors.Is(err, datastore.ErrTokenExpired):
			slog.Info("rejecting connection", "conn", connID, "reason", "expired credential")
			return nil, ErrExpiredCredential
		default:
			return nil, fmt.Errorf("gate: validate token: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("gate: commit: %w", err)
	}

	user, err := g.store.NonTx().GetUserByID(userID)
	if err != nil {
		return nil, fmt.Errorf("gate: load account %d: %w", userID, err)
	}
	if user == nil {
		slog.Warn("rejecting connection", "conn", connID, "reason", "account not found", "user", userID)
		return nil, ErrAccountNotFound
	}
	if !user.Active {
		slog.Info("rejecting connection", "conn", connID, "reason", "account deactivated", "user", user.Username)
		return nil, ErrAccountInactive
	}
	return user, nil
}
