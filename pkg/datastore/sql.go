package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/huddlechat/huddle/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// DB is the subset of *sql.DB / *sql.Tx both provider kinds run queries on.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory provides database access for all Huddle entities.
type ProviderFactory struct {
	DB *sql.DB
}

// Compile-time checks.
var (
	_ DataProviderFactory = (*ProviderFactory)(nil)
	_ DataStore           = (*nonTxProvider)(nil)
	_ DataStoreTx         = (*txProvider)(nil)
)

func (sf *ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (sf *ProviderFactory) Close() error {
	return sf.DB.Close()
}

func (sf *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		username     TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		display_name TEXT    NOT NULL DEFAULT '',
		active       INTEGER NOT NULL DEFAULT 1,
		status       TEXT    NOT NULL DEFAULT 'offline',
		last_seen_at TEXT,
		created_at   TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS tokens (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		hash         TEXT    NOT NULL UNIQUE,
		user_id      INTEGER NOT NULL REFERENCES users(id),
		expires_at   TEXT,
		last_used_at TEXT,
		created_at   TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL UNIQUE,
		topic      TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id    INTEGER NOT NULL REFERENCES rooms(id),
		sender_id  INTEGER NOT NULL DEFAULT 0,
		content    TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := sf.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := sf.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := sf.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate: %w", err)
			}
		}
		if err := sf.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (sf *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := sf.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := sf.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := sf.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (sf *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := sf.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (sf *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := sf.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

// CreateUser creates a new user and returns it with the assigned ID.
func (s *baseProvider) CreateUser(username, displayName string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	if displayName == "" {
		displayName = username
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO users (username, display_name) VALUES (?, ?)", username, displayName)
	if err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &model.User{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		Active:      true,
		Status:      model.StatusOffline,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *baseProvider) scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	var active int
	var status string
	var lastSeen sql.NullString
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &active, &status, &lastSeen, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.Active = active != 0
	u.Status = model.PresenceStatus(status)
	if lastSeen.Valid {
		if t, err := parseDBTime(lastSeen.String); err == nil {
			u.LastSeenAt = t
		}
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.CreatedAt = parsed
	return u, nil
}

const userColumns = "id, username, display_name, active, status, last_seen_at, created_at"

// GetUserByID retrieves a user by ID.
func (s *baseProvider) GetUserByID(id int64) (*model.User, error) {
	return s.scanUser(s.QueryRowContext(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByUsername retrieves a user by username.
func (s *baseProvider) GetUserByUsername(username string) (*model.User, error) {
	return s.scanUser(s.QueryRowContext(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// ListUsers returns all users ordered by ID.
func (s *baseProvider) ListUsers() ([]model.User, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u := model.User{}
		var active int
		var status string
		var lastSeen sql.NullString
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &active, &status, &lastSeen, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: list users: %w", err)
		}
		u.Active = active != 0
		u.Status = model.PresenceStatus(status)
		if lastSeen.Valid {
			if t, err := parseDBTime(lastSeen.String); err == nil {
				u.LastSeenAt = t
			}
		}
		if t, err := parseDBTime(createdAt); err == nil {
			u.CreatedAt = t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserStatus persists a user's presence status.
func (s *baseProvider) SetUserStatus(userID int64, status model.PresenceStatus) error {
	if _, err := s.ExecContext(context.Background(),
		"UPDATE users SET status = ? WHERE id = ?", string(status), userID); err != nil {
		return fmt.Errorf("datastore: set status: %w", err)
	}
	return nil
}

// SetLastSeen records when a user was last reachable.
func (s *baseProvider) SetLastSeen(userID int64, at time.Time) error {
	if _, err := s.ExecContext(context.Background(),
		"UPDATE users SET last_seen_at = ? WHERE id = ?", formatDBTime(at), userID); err != nil {
		return fmt.Errorf("datastore: set last seen: %w", err)
	}
	return nil
}

// SetUserActive flips an account's active flag.
func (s *baseProvider) SetUserActive(userID int64, active bool) error {
	v := 0
	if active {
		v = 1
	}
	if _, err := s.ExecContext(context.Background(),
		"UPDATE users SET active = ? WHERE id = ?", v, userID); err != nil {
		return fmt.Errorf("datastore: set active: %w", err)
	}
	return nil
}

// ---- Tokens ----

// HasTokens returns true if any tokens exist in the database.
func (s *baseProvider) HasTokens() (bool, error) {
	var count int
	if err := s.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM tokens").Scan(&count); err != nil {
		return false, fmt.Errorf("datastore: count tokens: %w", err)
	}
	return count > 0, nil
}

// CreateToken stores a bearer token hash for a user.
func (s *baseProvider) CreateToken(hash string, userID int64, expiresAt time.Time) error {
	var expires any
	if !expiresAt.IsZero() {
		expires = formatDBTime(expiresAt)
	}
	if _, err := s.ExecContext(context.Background(),
		"INSERT INTO tokens (hash, user_id, expires_at) VALUES (?, ?, ?)",
		hash, userID, expires); err != nil {
		return fmt.Errorf("datastore: create token: %w", err)
	}
	return nil
}

// ValidateToken resolves a token hash to its user and bumps last_used_at.
// Callers run this inside a transaction (see DataStoreTx) so the expiry
// check and the bump cannot interleave with a concurrent revocation.
func (s *baseProvider) ValidateToken(hash string) (int64, time.Time, error) {
	var id, userID int64
	var expires sql.NullString
	err := s.QueryRowContext(context.Background(),
		"SELECT id, user_id, expires_at FROM tokens WHERE hash = ?", hash).
		Scan(&id, &userID, &expires)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, ErrTokenNotFound
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("datastore: validate token: %w", err)
	}

	var expiresAt time.Time
	if expires.Valid {
		expiresAt, err = parseDBTime(expires.String)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("datastore: validate token: %w", err)
		}
		if time.Now().UTC().After(expiresAt) {
			return 0, time.Time{}, ErrTokenExpired
		}
	}

	if _, err := s.ExecContext(context.Background(),
		"UPDATE tokens SET last_used_at = ? WHERE id = ?",
		formatDBTime(time.Now()), id); err != nil {
		return 0, time.Time{}, fmt.Errorf("datastore: validate token: %w", err)
	}
	return userID, expiresAt, nil
}

// ---- Rooms ----

// CreateRoom creates a room, assigning its ID.
func (s *baseProvider) CreateRoom(room *model.Room) error {
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO rooms (name, topic) VALUES (?, ?)", room.Name, room.Topic)
	if err != nil {
		return fmt.Errorf("datastore: create room: %w", err)
	}
	room.ID, _ = res.LastInsertId()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	return nil
}

func (s *baseProvider) scanRoom(row *sql.Row) (*model.Room, error) {
	r := &model.Room{}
	var createdAt string
	err := row.Scan(&r.ID, &r.Name, &r.Topic, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get room: %w", err)
	}
	if t, err := parseDBTime(createdAt); err == nil {
		r.CreatedAt = t
	}
	return r, nil
}

// GetRoom retrieves a room by ID.
func (s *baseProvider) GetRoom(id int64) (*model.Room, error) {
	return s.scanRoom(s.QueryRowContext(context.Background(),
		"SELECT id, name, topic, created_at FROM rooms WHERE id = ?", id))
}

// GetRoomByName retrieves a room by name.
func (s *baseProvider) GetRoomByName(name string) (*model.Room, error) {
	return s.scanRoom(s.QueryRowContext(context.Background(),
		"SELECT id, name, topic, created_at FROM rooms WHERE name = ?", name))
}

// ListRooms returns all rooms ordered by ID.
func (s *baseProvider) ListRooms() ([]model.Room, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT id, name, topic, created_at FROM rooms ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []model.Room
	for rows.Next() {
		r := model.Room{}
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.Topic, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: list rooms: %w", err)
		}
		if t, err := parseDBTime(createdAt); err == nil {
			r.CreatedAt = t
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// ---- Messages ----

// CreateMessage persists a message.
func (s *baseProvider) CreateMessage(msg *model.Message) error {
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO messages (room_id, sender_id, content) VALUES (?, ?, ?)",
		msg.RoomID, msg.SenderID, msg.Content)
	if err != nil {
		return fmt.Errorf("datastore: create message: %w", err)
	}
	msg.ID, _ = res.LastInsertId()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return nil
}

// ResolveRoomForMessage returns the room a message belongs to, or 0 if unknown.
func (s *baseProvider) ResolveRoomForMessage(messageID int64) (int64, error) {
	var roomID int64
	err := s.QueryRowContext(context.Background(),
		"SELECT room_id FROM messages WHERE id = ?", messageID).Scan(&roomID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("datastore: resolve room: %w", err)
	}
	return roomID, nil
}
