// Package datastore defines the persistence collaborators the hub talks to:
// the account/credential store and the chat/message store. The hub never
// owns durable state itself; it calls these interfaces and trusts their
// answers. The default implementation is SQLite; MemoryFactory serves tests.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/huddlechat/huddle/pkg/model"
)

var (
	ErrTokenNotFound = errors.New("datastore: token not found")
	ErrTokenExpired  = errors.New("datastore: token expired")
)

// DataProviderFactory hands out transactional and non-transactional views
// of the store.
type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
	Close() error
}

// DataStoreTx is a DataStore bound to a transaction. Token validation runs
// inside a transaction so the expiry check and last-use bump are atomic.
type DataStoreTx interface {
	DataStore
	TokenTransactionProvider
	Rollback() error
	Commit() error
}

// DataStore groups the read/write surfaces consumed by the hub.
type DataStore interface {
	AccountReadProvider
	AccountWriteProvider
	TokenReadProvider
	TokenWriteProvider
	RoomReadProvider
	RoomWriteProvider
	MessageReadProvider
	MessageWriteProvider
}

type AccountReadProvider interface {
	// GetUserByID retrieves a user by ID. Returns (nil, nil) if not found.
	GetUserByID(id int64) (*model.User, error)

	// GetUserByUsername retrieves a user by username. Returns (nil, nil) if not found.
	GetUserByUsername(username string) (*model.User, error)

	// ListUsers returns all users.
	ListUsers() ([]model.User, error)
}

type AccountWriteProvider interface {
	// CreateUser creates a new user and returns it with the assigned ID.
	CreateUser(username, displayName string) (*model.User, error)

	// SetUserStatus persists a user's presence status. Best-effort from the
	// hub's point of view: failures are logged, never surfaced to clients.
	SetUserStatus(userID int64, status model.PresenceStatus) error

	// SetLastSeen records when a user was last reachable.
	SetLastSeen(userID int64, at time.Time) error

	// SetUserActive flips an account's active flag.
	SetUserActive(userID int64, active bool) error
}

type TokenReadProvider interface {
	// HasTokens reports whether any tokens exist (first-run bootstrap check).
	HasTokens() (bool, error)
}

type TokenWriteProvider interface {
	// CreateToken stores a bearer token hash for a user. A zero expiresAt
	// means the token never expires.
	CreateToken(hash string, userID int64, expiresAt time.Time) error
}

// TokenTransactionProvider is only available inside a transaction.
type TokenTransactionProvider interface {
	// ValidateToken resolves a token hash to its user, rejecting unknown
	// hashes with ErrTokenNotFound and expired ones with ErrTokenExpired.
	// It bumps the token's last-used timestamp in the same transaction.
	ValidateToken(hash string) (userID int64, expiresAt time.Time, err error)
}

type RoomReadProvider interface {
	// GetRoom retrieves a room by ID. Returns (nil, nil) if not found.
	GetRoom(id int64) (*model.Room, error)

	// GetRoomByName retrieves a room by name. Returns (nil, nil) if not found.
	GetRoomByName(name string) (*model.Room, error)

	// ListRooms returns all rooms.
	ListRooms() ([]model.Room, error)
}

type RoomWriteProvider interface {
	// CreateRoom creates a room, assigning its ID.
	CreateRoom(room *model.Room) error
}

type MessageReadProvider interface {
	// ResolveRoomForMessage returns the room a message belongs to, or 0 if
	// the message is unknown. The router needs this to fan out edits,
	// deletes and reactions to the right room.
	ResolveRoomForMessage(messageID int64) (int64, error)
}

type MessageWriteProvider interface {
	// CreateMessage persists a message (done by the HTTP API in production;
	// exposed here so tests and tooling can seed messages).
	CreateMessage(msg *model.Message) error
}
