// Package model defines the core domain types for Huddle.
package model

import (
	"errors"
	"fmt"
	"time"
)

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrInvalidStatus = errors.New("invalid presence status: must be online, away, or busy")

// PresenceStatus is a user's availability as shown to other users.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline" // persisted on disconnect, never settable by a client
)

// Settable reports whether a client may switch to this status explicitly.
// Offline is synthetic: it is derived from disconnects, not requested.
func (s PresenceStatus) Settable() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy:
		return true
	default:
		return false
	}
}

func (s PresenceStatus) String() string { return string(s) }

// ParseStatus converts a string to a PresenceStatus, validating it is settable.
func ParseStatus(s string) (PresenceStatus, error) {
	st := PresenceStatus(s)
	if !st.Settable() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

// User represents a registered account as reported by the account store.
type User struct {
	ID          int64          `json:"id"`
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Active      bool           `json:"active"`
	Status      PresenceStatus `json:"status"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Room represents a conversation that sessions can be routed messages for.
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a persisted chat message. The hub itself never writes messages;
// it only resolves their owning room when routing edits, deletes and reactions.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters. Returns nil on success or a descriptive error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
