package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/huddlechat/huddle/pkg/model"
)

// MemoryFactory provides an in-memory DataProviderFactory for tests.
// It mirrors SQLite behavior for validation and error handling. Transactions
// are simulated: every operation applies immediately and Commit/Rollback are
// no-ops, which is sufficient for the single-statement transactions the hub
// issues.
type MemoryFactory struct {
	mu sync.RWMutex

	now func() time.Time

	nextUserID    int64
	nextRoomID    int64
	nextMessageID int64

	usersByID       map[int64]*model.User
	usersByUsername map[string]*model.User
	tokensByHash    map[string]*memoryToken
	roomsByID       map[int64]*model.Room
	messagesByID    map[int64]*model.Message
}

type memoryToken struct {
	hash       string
	userID     int64
	expiresAt  time.Time
	lastUsedAt time.Time
}

// NewMemory creates a MemoryFactory using time.Now().UTC().
func NewMemory() *MemoryFactory {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryFactory with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryFactory {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryFactory{
		now:             now,
		nextUserID:      1,
		nextRoomID:      1,
		nextMessageID:   1,
		usersByID:       make(map[int64]*model.User),
		usersByUsername: make(map[string]*model.User),
		tokensByHash:    make(map[string]*memoryToken),
		roomsByID:       make(map[int64]*model.Room),
		messagesByID:    make(map[int64]*model.Message),
	}
}

// Compile-time checks.
var (
	_ DataProviderFactory = (*MemoryFactory)(nil)
	_ DataStoreTx         = (*memoryTx)(nil)
)

func (s *MemoryFactory) NonTx() DataStore {
	return s
}

func (s *MemoryFactory) Tx(_ context.Context) (DataStoreTx, error) {
	return &memoryTx{s}, nil
}

// Close is a no-op for MemoryFactory.
func (s *MemoryFactory) Close() error {
	return nil
}

type memoryTx struct {
	*MemoryFactory
}

func (t *memoryTx) Commit() error   { return nil }
func (t *memoryTx) Rollback() error { return nil }

// ---- Users ----

// CreateUser creates a new user and returns it with the assigned ID.
func (s *MemoryFactory) CreateUser(username, displayName string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	if displayName == "" {
		displayName = username
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return nil, fmt.Errorf("datastore: create user: constraint failed: UNIQUE constraint failed: users.username")
	}
	user := &model.User{
		ID:          s.nextUserID,
		Username:    username,
		DisplayName: displayName,
		Active:      true,
		Status:      model.StatusOffline,
		CreatedAt:   s.now(),
	}
	s.nextUserID++
	s.usersByID[user.ID] = user
	s.usersByUsername[username] = user
	copyUser := *user
	return &copyUser, nil
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) if not found.
func (s *MemoryFactory) GetUserByID(id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByID[id]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// GetUserByUsername retrieves a user by username. Returns (nil, nil) if not found.
func (s *MemoryFactory) GetUserByUsername(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// ListUsers returns all users ordered by ID.
func (s *MemoryFactory) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByID))
	for id := int64(1); id < s.nextUserID; id++ {
		if u, ok := s.usersByID[id]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

// SetUserStatus persists a user's presence status.
func (s *MemoryFactory) SetUserStatus(userID int64, status model.PresenceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usersByID[userID]; ok {
		u.Status = status
	}
	return nil
}

// SetLastSeen records when a user was last reachable.
func (s *MemoryFactory) SetLastSeen(userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usersByID[userID]; ok {
		u.LastSeenAt = at.UTC()
	}
	return nil
}

// SetUserActive flips an account's active flag.
func (s *MemoryFactory) SetUserActive(userID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usersByID[userID]; ok {
		u.Active = active
	}
	return nil
}

// ---- Tokens ----

// HasTokens reports whether any tokens exist.
func (s *MemoryFactory) HasTokens() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokensByHash) > 0, nil
}

// CreateToken stores a bearer token hash for a user.
func (s *MemoryFactory) CreateToken(hash string, userID int64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokensByHash[hash]; exists {
		return fmt.Errorf("datastore: create token: constraint failed: UNIQUE constraint failed: tokens.hash")
	}
	s.tokensByHash[hash] = &memoryToken{
		hash:      hash,
		userID:    userID,
		expiresAt: expiresAt,
	}
	return nil
}

// ValidateToken resolves a token hash to its user and bumps last-used.
func (s *MemoryFactory) ValidateToken(hash string) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokensByHash[hash]
	if !ok {
		return 0, time.Time{}, ErrTokenNotFound
	}
	if !tok.expiresAt.IsZero() && s.now().After(tok.expiresAt) {
		return 0, time.Time{}, ErrTokenExpired
	}
	tok.lastUsedAt = s.now()
	return tok.userID, tok.expiresAt, nil
}

// ---- Rooms ----

// CreateRoom creates a room, assigning its ID.
func (s *MemoryFactory) CreateRoom(room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roomsByID {
		if r.Name == room.Name {
			return fmt.Errorf("datastore: create room: constraint failed: UNIQUE constraint failed: rooms.name")
		}
	}
	room.ID = s.nextRoomID
	s.nextRoomID++
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}
	copyRoom := *room
	s.roomsByID[room.ID] = &copyRoom
	return nil
}

// GetRoom retrieves a room by ID. Returns (nil, nil) if not found.
func (s *MemoryFactory) GetRoom(id int64) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.roomsByID[id]
	if !ok {
		return nil, nil
	}
	copyRoom := *room
	return &copyRoom, nil
}

// GetRoomByName retrieves a room by name. Returns (nil, nil) if not found.
func (s *MemoryFactory) GetRoomByName(name string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roomsByID {
		if r.Name == name {
			copyRoom := *r
			return &copyRoom, nil
		}
	}
	return nil, nil
}

// ListRooms returns all rooms ordered by ID.
func (s *MemoryFactory) ListRooms() ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]model.Room, 0, len(s.roomsByID))
	for id := int64(1); id < s.nextRoomID; id++ {
		if r, ok := s.roomsByID[id]; ok {
			rooms = append(rooms, *r)
		}
	}
	return rooms, nil
}

// ---- Messages ----

// CreateMessage persists a message.
func (s *MemoryFactory) CreateMessage(msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = s.nextMessageID
	s.nextMessageID++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	copyMsg := *msg
	s.messagesByID[msg.ID] = &copyMsg
	return nil
}

// ResolveRoomForMessage returns the room a message belongs to, or 0 if unknown.
func (s *MemoryFactory) ResolveRoomForMessage(messageID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messagesByID[messageID]
	if !ok {
		return 0, nil
	}
	return msg.RoomID, nil
}
