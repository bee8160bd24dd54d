package datastore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/huddlechat/huddle/pkg/model"
)

// withEachBackend runs the same assertions against the in-memory factory and
// the real SQLite factory so both stay behaviorally aligned.
func withEachBackend(t *testing.T, fn func(t *testing.T, st DataProviderFactory)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})

	t.Run("sqlite", func(t *testing.T) {
		st, err := NewProviderFactory(filepath.Join(t.TempDir(), "huddle.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

func TestUserLifecycle(t *testing.T) {
	withEachBackend(t, func(t *testing.T, st DataProviderFactory) {
		ds := st.NonTx()

		user, err := ds.CreateUser("alice", "Alice A")
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if user.ID == 0 || !user.Active {
			t.Fatalf("CreateUser: bad user %+v", user)
		}

		if _, err := ds.CreateUser("alice", ""); err == nil {
			t.Fatal("CreateUser: duplicate username must fail")
		}
		if _, err := ds.CreateUser("", ""); !errors.Is(err, model.ErrUsernameEmpty) {
			t.Fatalf("CreateUser: empty username = %v", err)
		}

		got, err := ds.GetUserByID(user.ID)
		if err != nil || got == nil {
			t.Fatalf("GetUserByID: %v, %v", got, err)
		}
		if got.DisplayName != "Alice A" {
			t.Fatalf("GetUserByID: display name %q", got.DisplayName)
		}

		missing, err := ds.GetUserByID(9999)
		if err != nil || missing != nil {
			t.Fatalf("GetUserByID(missing) = %v, %v; want nil, nil", missing, err)
		}

		if err := ds.SetUserStatus(user.ID, model.StatusBusy); err != nil {
			t.Fatalf("SetUserStatus: %v", err)
		}
		if err := ds.SetLastSeen(user.ID, time.Now()); err != nil {
			t.Fatalf("SetLastSeen: %v", err)
		}
		if err := ds.SetUserActive(user.ID, false); err != nil {
			t.Fatalf("SetUserActive: %v", err)
		}

		got, err = ds.GetUserByUsername("alice")
		if err != nil || got == nil {
			t.Fatalf("GetUserByUsername: %v, %v", got, err)
		}
		if got.Status != model.StatusBusy || got.Active || got.LastSeenAt.IsZero() {
			t.Fatalf("user state not persisted: %+v", got)
		}
	})
}

func TestTokenValidation(t *testing.T) {
	withEachBackend(t, func(t *testing.T, st DataProviderFactory) {
		ds := st.NonTx()
		user, err := ds.CreateUser("bob", "")
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}

		hasTokens, err := ds.HasTokens()
		if err != nil || hasTokens {
			t.Fatalf("HasTokens on empty store = %t, %v", hasTokens, err)
		}

		if err := ds.CreateToken("hash-live", user.ID, time.Time{}); err != nil {
			t.Fatalf("CreateToken: %v", err)
		}
		if err := ds.CreateToken("hash-expired", user.ID, time.Now().Add(-time.Hour)); err != nil {
			t.Fatalf("CreateToken: %v", err)
		}

		tx, err := st.Tx(context.Background())
		if err != nil {
			t.Fatalf("Tx: %v", err)
		}
		defer func() { _ = tx.Rollback() }()

		userID, _, err := tx.ValidateToken("hash-live")
		if err != nil {
			t.Fatalf("ValidateToken(live): %v", err)
		}
		if userID != user.ID {
			t.Fatalf("ValidateToken: user %d, want %d", userID, user.ID)
		}

		if _, _, err := tx.ValidateToken("hash-expired"); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("ValidateToken(expired) = %v, want ErrTokenExpired", err)
		}
		if _, _, err := tx.ValidateToken("no-such-hash"); !errors.Is(err, ErrTokenNotFound) {
			t.Fatalf("ValidateToken(unknown) = %v, want ErrTokenNotFound", err)
		}

		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	})
}

func TestRoomsAndMessageResolution(t *testing.T) {
	withEachBackend(t, func(t *testing.T, st DataProviderFactory) {
		ds := st.NonTx()

		room := &model.Room{Name: "room1", Topic: "general"}
		if err := ds.CreateRoom(room); err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
		if room.ID == 0 {
			t.Fatal("CreateRoom: ID not assigned")
		}
		if err := ds.CreateRoom(&model.Room{Name: "room1"}); err == nil {
			t.Fatal("CreateRoom: duplicate name must fail")
		}

		byName, err := ds.GetRoomByName("room1")
		if err != nil || byName == nil || byName.ID != room.ID {
			t.Fatalf("GetRoomByName: %+v, %v", byName, err)
		}

		rooms, err := ds.ListRooms()
		if err != nil || len(rooms) != 1 {
			t.Fatalf("ListRooms: %v, %v", rooms, err)
		}

		msg := &model.Message{RoomID: room.ID, SenderID: 1, Content: "hi"}
		if err := ds.CreateMessage(msg); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}

		roomID, err := ds.ResolveRoomForMessage(msg.ID)
		if err != nil || roomID != room.ID {
			t.Fatalf("ResolveRoomForMessage = %d, %v; want %d", roomID, err, room.ID)
		}

		roomID, err = ds.ResolveRoomForMessage(424242)
		if err != nil || roomID != 0 {
			t.Fatalf("ResolveRoomForMessage(unknown) = %d, %v; want 0, nil", roomID, err)
		}
	})
}
