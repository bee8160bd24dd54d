package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlechat/huddle/pkg/datastore"
	"github.com/huddlechat/huddle/pkg/model"
	"github.com/huddlechat/huddle/pkg/protocol"
)

type hubFixture struct {
	store    *datastore.MemoryFactory
	registry *Registry
	rooms    *RoomTable
	calls    *CallTable
	metrics  *Metrics
	router   *Router
}

func newHub(t *testing.T) *hubFixture {
	t.Helper()
	store := datastore.NewMemory()
	metrics := NewMetrics()
	registry := NewRegistry()
	rooms := NewRoomTable()
	calls := NewCallTable()
	presence := NewPresenceNotifier(registry, metrics)
	relay := NewSignalRelay(registry, metrics)
	router := NewRouter(registry, rooms, calls, presence, relay, store, metrics)
	return &hubFixture{
		store:    store,
		registry: registry,
		rooms:    rooms,
		calls:    calls,
		metrics:  metrics,
		router:   router,
	}
}

// connect registers a session the way the handshake would, creating the
// backing account on first use.
func (h *hubFixture) connect(t *testing.T, connID, username string) (*fakeSink, Session) {
	t.Helper()
	user, err := h.store.GetUserByUsername(username)
	require.NoError(t, err)
	if user == nil {
		user, err = h.store.CreateUser(username, username)
		require.NoError(t, err)
	}
	s := &fakeSink{}
	sess, err := h.registry.Register(connID, user.ID, user.DisplayName, s)
	require.NoError(t, err)
	return s, sess
}

func (h *hubFixture) makeRoom(t *testing.T, name string) int64 {
	t.Helper()
	room := &model.Room{Name: name}
	require.NoError(t, h.store.CreateRoom(room))
	return room.ID
}

func (h *hubFixture) event(connID string, s *fakeSink, ev *protocol.ClientEvent) {
	h.router.HandleEvent(connID, s, ev)
}

func TestRouterMessageFanOut(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")

	alice, _ := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	carol, _ := h.connect(t, "conn-c", "carol")

	h.event("conn-a", alice, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	alice.Reset()
	bob.Reset()

	h.event("conn-a", alice, &protocol.ClientEvent{
		MessageSend: &protocol.MessageSend{RoomID: roomID, Content: "hello"},
	})

	// Both members receive the message, the sender's session included.
	for name, s := range map[string]*fakeSink{"alice": alice, "bob": bob} {
		evs := s.Events()
		require.Len(t, evs, 1, "%s should receive exactly one event", name)
		require.NotNil(t, evs[0].MessageNew)
		assert.Equal(t, "hello", evs[0].MessageNew.Content)
		assert.Equal(t, roomID, evs[0].MessageNew.RoomID)
	}
	// Non-members see nothing.
	assert.Empty(t, carol.Events())

	// The hub never writes the message itself; recording it is the
	// external store's job.
	storedRoom, err := h.store.ResolveRoomForMessage(1)
	require.NoError(t, err)
	assert.Zero(t, storedRoom, "send must not persist the message")
}

func TestRouterMessageSendRequiresMembership(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, _ := h.connect(t, "conn-a", "alice")

	h.event("conn-a", alice, &protocol.ClientEvent{
		MessageSend: &protocol.MessageSend{RoomID: roomID, Content: "hi"},
	})

	errEv := alice.LastError()
	require.NotNil(t, errEv)
	assert.EqualValues(t, protocol.CodeNotInRoom, errEv.Code)
}

func TestRouterJoinUnknownRoom(t *testing.T) {
	h := newHub(t)
	alice, _ := h.connect(t, "conn-a", "alice")

	h.event("conn-a", alice, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: 999}})

	errEv := alice.LastError()
	require.NotNil(t, errEv)
	assert.EqualValues(t, protocol.CodeUnknownRoom, errEv.Code)
	assert.False(t, h.rooms.IsMember(999, "conn-a"))
}

func TestRouterJoinNotifiesExistingMembers(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, _ := h.connect(t, "conn-a", "alice")
	bob, bobSess := h.connect(t, "conn-b", "bob")

	h.event("conn-a", alice, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	alice.Reset()

	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})

	evs := alice.Events()
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].RoomMemberJoined)
	assert.Equal(t, bobSess.UserID, evs[0].RoomMemberJoined.UserID)
	// The joiner is not notified about their own join.
	assert.Empty(t, bob.Events())

	// Re-joining is a no-op and does not re-notify.
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	assert.Len(t, alice.Events(), 1)
}

func TestRouterEditResolvesRoomFromStore(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")

	alice, aliceSess := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	bob.Reset()

	msg := &model.Message{RoomID: roomID, SenderID: aliceSess.UserID, Content: "original"}
	require.NoError(t, h.store.CreateMessage(msg))

	// The editor is not a member of the room on this session; the room is
	// resolved through the store and the edit still reaches members.
	h.event("conn-a", alice, &protocol.ClientEvent{
		MessageEdit: &protocol.MessageEdit{MessageID: msg.ID, Content: "fixed"},
	})

	evs := bob.Events()
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].MessageEdited)
	assert.Equal(t, "fixed", evs[0].MessageEdited.Content)
	assert.Equal(t, roomID, evs[0].MessageEdited.RoomID)
	assert.Nil(t, alice.LastError())
}

func TestRouterEditUnknownMessage(t *testing.T) {
	h := newHub(t)
	alice, _ := h.connect(t, "conn-a", "alice")

	h.event("conn-a", alice, &protocol.ClientEvent{
		MessageEdit: &protocol.MessageEdit{MessageID: 424242, Content: "x"},
	})

	errEv := alice.LastError()
	require.NotNil(t, errEv)
	assert.EqualValues(t, protocol.CodeUnknownMessage, errEv.Code)
}

func TestRouterReactionFanOut(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, aliceSess := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	h.event("conn-a", alice, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})

	msg := &model.Message{RoomID: roomID, SenderID: aliceSess.UserID, Content: "hi"}
	require.NoError(t, h.store.CreateMessage(msg))
	alice.Reset()
	bob.Reset()

	h.event("conn-b", bob, &protocol.ClientEvent{
		Reaction: &protocol.Reaction{MessageID: msg.ID, Emoji: "👍"},
	})

	// Reactions go to every member session, the reactor included.
	for _, s := range []*fakeSink{alice, bob} {
		evs := s.Events()
		require.Len(t, evs, 1)
		require.NotNil(t, evs[0].ReactionNew)
		assert.Equal(t, "👍", evs[0].ReactionNew.Emoji)
	}
}

func TestRouterTypingExcludesSenderAndNonMembers(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, _ := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	h.event("conn-a", alice, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	alice.Reset()
	bob.Reset()

	h.event("conn-a", alice, &protocol.ClientEvent{
		Typing: &protocol.Typing{RoomID: roomID, Active: true},
	})
	assert.Empty(t, alice.Events(), "typist must not receive their own indicator")
	evs := bob.Events()
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Typing)
	assert.True(t, evs[0].Typing.Active)

	// Typing from a non-member is silently dropped.
	carol, _ := h.connect(t, "conn-c", "carol")
	bob.Reset()
	h.event("conn-c", carol, &protocol.ClientEvent{
		Typing: &protocol.Typing{RoomID: roomID, Active: true},
	})
	assert.Empty(t, bob.Events())
	assert.Nil(t, carol.LastError())
}

func TestRouterStatusChangeBroadcast(t *testing.T) {
	h := newHub(t)
	alice, _ := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")

	h.event("conn-a", alice, &protocol.ClientEvent{
		StatusChange: &protocol.StatusChange{Status: "away"},
	})

	evs := bob.Events()
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Presence)
	assert.Equal(t, protocol.PresenceChanged, evs[0].Presence.Kind)
	assert.Equal(t, "away", evs[0].Presence.Status)
	assert.Empty(t, alice.Events(), "status changer is excluded from the broadcast")

	// Setting the same status again produces no broadcast.
	bob.Reset()
	h.event("conn-a", alice, &protocol.ClientEvent{
		StatusChange: &protocol.StatusChange{Status: "away"},
	})
	assert.Empty(t, bob.Events())

	// Offline is not settable by clients.
	h.event("conn-a", alice, &protocol.ClientEvent{
		StatusChange: &protocol.StatusChange{Status: "offline"},
	})
	errEv := alice.LastError()
	require.NotNil(t, errEv)
	assert.EqualValues(t, protocol.CodeMalformed, errEv.Code)
}

func TestRouterCallRoutedToParticipantsOnly(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, _ := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	carol, _ := h.connect(t, "conn-c", "carol")
	for conn, s := range map[string]*fakeSink{"conn-a": alice, "conn-b": bob, "conn-c": carol} {
		h.event(conn, s, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	}
	alice.Reset()
	bob.Reset()
	carol.Reset()

	// Start rings every other member.
	h.event("conn-a", alice, &protocol.ClientEvent{
		CallStart: &protocol.CallStart{RoomID: roomID, Kind: "audio"},
	})
	require.Len(t, bob.Events(), 1)
	require.NotNil(t, bob.Events()[0].CallIncoming)
	callID := bob.Events()[0].CallIncoming.CallID
	require.Len(t, carol.Events(), 1)
	assert.Empty(t, alice.Events(), "initiator does not receive the ring")

	bob.Reset()
	carol.Reset()

	// Accept reaches only the two participants.
	h.event("conn-b", bob, &protocol.ClientEvent{CallAccept: &protocol.CallAccept{CallID: callID}})

	require.Len(t, alice.Events(), 1)
	require.NotNil(t, alice.Events()[0].CallAccepted)
	assert.Equal(t, string(model.CallActive), alice.Events()[0].CallAccepted.State)
	require.Len(t, bob.Events(), 1)
	require.NotNil(t, bob.Events()[0].CallAccepted)
	assert.Empty(t, carol.Events(), "bystander must not see call transitions")

	alice.Reset()
	bob.Reset()

	// End reaches the same pair; bystander still dark.
	h.event("conn-a", alice, &protocol.ClientEvent{CallEnd: &protocol.CallEnd{CallID: callID}})
	require.Len(t, alice.Events(), 1)
	require.NotNil(t, alice.Events()[0].CallEnded)
	require.Len(t, bob.Events(), 1)
	assert.Empty(t, carol.Events())

	// The call is gone; a second end yields unknown call.
	h.event("conn-a", alice, &protocol.ClientEvent{CallEnd: &protocol.CallEnd{CallID: callID}})
	errEv := alice.LastError()
	require.NotNil(t, errEv)
	assert.EqualValues(t, protocol.CodeUnknownCall, errEv.Code)
}

func TestRouterCallDecline(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, _ := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	h.event("conn-a", alice, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	alice.Reset()
	bob.Reset()

	h.event("conn-a", alice, &protocol.ClientEvent{
		CallStart: &protocol.CallStart{RoomID: roomID, Kind: "video"},
	})
	callID := bob.Events()[0].CallIncoming.CallID
	bob.Reset()

	h.event("conn-b", bob, &protocol.ClientEvent{CallDecline: &protocol.CallDecline{CallID: callID}})

	require.Len(t, alice.Events(), 1)
	require.NotNil(t, alice.Events()[0].CallDeclined)
	assert.Equal(t, string(model.CallDone), alice.Events()[0].CallDeclined.State)
	require.Len(t, bob.Events(), 1)
	require.NotNil(t, bob.Events()[0].CallDeclined)
	assert.Equal(t, 0, h.calls.Count())
}

func TestRouterCallStartRequiresMembership(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, _ := h.connect(t, "conn-a", "alice")

	h.event("conn-a", alice, &protocol.ClientEvent{
		CallStart: &protocol.CallStart{RoomID: roomID, Kind: "audio"},
	})
	errEv := alice.LastError()
	require.NotNil(t, errEv)
	assert.EqualValues(t, protocol.CodeNotInRoom, errEv.Code)
	assert.Equal(t, 0, h.calls.Count())
}

func TestRouterSignalPointToPoint(t *testing.T) {
	h := newHub(t)
	alice, _ := h.connect(t, "conn-a", "alice")
	bob1, bobSess := h.connect(t, "conn-b1", "bob")
	bob2, _ := h.connect(t, "conn-b2", "bob")
	carol, _ := h.connect(t, "conn-c", "carol")

	h.event("conn-a", alice, &protocol.ClientEvent{
		Signal: &protocol.Signal{
			Type:         protocol.SignalOffer,
			TargetUserID: bobSess.UserID,
			Payload:      "sdp-blob",
		},
	})

	// Every session of the target receives the signal; no one else does.
	for _, s := range []*fakeSink{bob1, bob2} {
		evs := s.Events()
		require.Len(t, evs, 1)
		require.NotNil(t, evs[0].Signal)
		assert.Equal(t, "sdp-blob", evs[0].Signal.Payload)
		assert.Equal(t, protocol.SignalOffer, evs[0].Signal.Type)
	}
	assert.Empty(t, alice.Events())
	assert.Empty(t, carol.Events())
	assert.Equal(t, int64(1), h.metrics.SignalsRelayed.Load())
}

func TestRouterSignalOfflineTargetDropped(t *testing.T) {
	h := newHub(t)
	alice, _ := h.connect(t, "conn-a", "alice")

	h.event("conn-a", alice, &protocol.ClientEvent{
		Signal: &protocol.Signal{Type: protocol.SignalCandidate, TargetUserID: 999, Payload: "c"},
	})

	assert.Equal(t, int64(1), h.metrics.SignalsDropped.Load())
	assert.Nil(t, alice.LastError(), "dropped signals do not produce error events")
}

func TestRouterDisconnectCleanup(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, aliceSess := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	h.event("conn-a", alice, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	alice.Reset()
	bob.Reset()

	// Alice rings, then drops mid-call.
	h.event("conn-a", alice, &protocol.ClientEvent{
		CallStart: &protocol.CallStart{RoomID: roomID, Kind: "audio"},
	})
	callID := bob.Events()[0].CallIncoming.CallID
	h.event("conn-b", bob, &protocol.ClientEvent{CallAccept: &protocol.CallAccept{CallID: callID}})
	bob.Reset()

	h.router.Disconnect("conn-a")

	// Registry, rooms, and calls are all cleaned up.
	_, ok := h.registry.Get("conn-a")
	assert.False(t, ok)
	assert.False(t, h.rooms.IsMember(roomID, "conn-a"))
	assert.Equal(t, 0, h.calls.Count())

	// Bob saw the member leave, the call end, and the offline broadcast.
	var left, ended, offline bool
	for _, ev := range bob.Events() {
		switch {
		case ev.RoomMemberLeft != nil:
			left = true
			assert.Equal(t, aliceSess.UserID, ev.RoomMemberLeft.UserID)
		case ev.CallEnded != nil:
			ended = true
			assert.Equal(t, callID, ev.CallEnded.CallID)
		case ev.Presence != nil && ev.Presence.Kind == protocol.PresenceOffline:
			offline = true
		}
	}
	assert.True(t, left, "missing room member left notification")
	assert.True(t, ended, "missing call ended notification")
	assert.True(t, offline, "missing offline broadcast")

	// Idempotent: a second disconnect does nothing.
	bob.Reset()
	h.router.Disconnect("conn-a")
	assert.Empty(t, bob.Events())
}

func TestRouterRingingCallEndedWhenInitiatorDisconnects(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, _ := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	h.event("conn-a", alice, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	alice.Reset()
	bob.Reset()

	h.event("conn-a", alice, &protocol.ClientEvent{
		CallStart: &protocol.CallStart{RoomID: roomID, Kind: "audio"},
	})
	require.Len(t, bob.Events(), 1)
	callID := bob.Events()[0].CallIncoming.CallID
	bob.Reset()

	// The initiator drops while the call is still ringing. Everyone the
	// ring reached must be told to stop ringing.
	h.router.Disconnect("conn-a")

	assert.Equal(t, 0, h.calls.Count())
	var ended bool
	for _, ev := range bob.Events() {
		if ev.CallEnded != nil {
			ended = true
			assert.Equal(t, callID, ev.CallEnded.CallID)
			assert.Equal(t, string(model.CallDone), ev.CallEnded.State)
		}
	}
	assert.True(t, ended, "ring recipient never received call ended")
}

func TestRouterRingingCallCancelNotifiesRoom(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice, _ := h.connect(t, "conn-a", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	h.event("conn-a", alice, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	alice.Reset()
	bob.Reset()

	h.event("conn-a", alice, &protocol.ClientEvent{
		CallStart: &protocol.CallStart{RoomID: roomID, Kind: "video"},
	})
	callID := bob.Events()[0].CallIncoming.CallID
	bob.Reset()

	// The initiator cancels before anyone answers; ring recipients get
	// call ended, and the initiator hears it exactly once.
	h.event("conn-a", alice, &protocol.ClientEvent{CallEnd: &protocol.CallEnd{CallID: callID}})

	evs := bob.Events()
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].CallEnded)
	assert.Equal(t, callID, evs[0].CallEnded.CallID)

	aliceEvs := alice.Events()
	require.Len(t, aliceEvs, 1)
	require.NotNil(t, aliceEvs[0].CallEnded)
}

func TestRouterDisconnectKeepsCallsWhileOtherSessionLives(t *testing.T) {
	h := newHub(t)
	roomID := h.makeRoom(t, "general")
	alice1, _ := h.connect(t, "conn-a1", "alice")
	h.connect(t, "conn-a2", "alice")
	bob, _ := h.connect(t, "conn-b", "bob")
	h.event("conn-a1", alice1, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	h.event("conn-b", bob, &protocol.ClientEvent{RoomJoin: &protocol.RoomJoin{RoomID: roomID}})
	alice1.Reset()
	bob.Reset()

	h.event("conn-a1", alice1, &protocol.ClientEvent{
		CallStart: &protocol.CallStart{RoomID: roomID, Kind: "audio"},
	})
	callID := bob.Events()[0].CallIncoming.CallID
	h.event("conn-b", bob, &protocol.ClientEvent{CallAccept: &protocol.CallAccept{CallID: callID}})

	// Dropping one of Alice's two sessions leaves the call alive.
	h.router.Disconnect("conn-a1")
	assert.Equal(t, 1, h.calls.Count())

	// Dropping the last one ends it.
	h.router.Disconnect("conn-a2")
	assert.Equal(t, 0, h.calls.Count())
}

func TestRouterUnknownEventIgnored(t *testing.T) {
	h := newHub(t)
	alice, _ := h.connect(t, "conn-a", "alice")

	h.event("conn-a", alice, &protocol.ClientEvent{})

	assert.Empty(t, alice.Events(), "unknown events must not produce replies")
	assert.Equal(t, int64(1), h.metrics.EventsIgnored.Load())
}

func TestRouterUnregisteredConnection(t *testing.T) {
	h := newHub(t)
	ghost := &fakeSink{}

	h.event("ghost-conn", ghost, &protocol.ClientEvent{Ping: &protocol.Ping{}})

	errEv := ghost.LastError()
	require.NotNil(t, errEv)
	assert.EqualValues(t, protocol.CodeAuthRequired, errEv.Code)
}

func TestRouterPing(t *testing.T) {
	h := newHub(t)
	alice, _ := h.connect(t, "conn-a", "alice")

	h.event("conn-a", alice, &protocol.ClientEvent{Ping: &protocol.Ping{Timestamp: 123}})

	evs := alice.Events()
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].Pong)
	assert.Equal(t, int64(123), evs[0].Pong.Timestamp)
}
