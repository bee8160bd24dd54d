package server

import (
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/huddlechat/huddle/pkg/datastore"
	"github.com/huddlechat/huddle/pkg/model"
	"github.com/huddlechat/huddle/pkg/protocol"
)

// Router is the single dispatch point for client events. Each connection's
// read loop calls HandleEvent; handlers run on the calling goroutine and are
// short: resolve the session, validate, mutate one table, fan out. Failures
// never propagate past the connection that caused them.
type Router struct {
	registry *Registry
	rooms    *RoomTable
	calls    *CallTable
	presence *PresenceNotifier
	relay    *SignalRelay
	store    datastore.DataProviderFactory
	metrics  *Metrics
}

// NewRouter wires the router to the hub tables and collaborators.
func NewRouter(registry *Registry, rooms *RoomTable, calls *CallTable,
	presence *PresenceNotifier, relay *SignalRelay,
	store datastore.DataProviderFactory, metrics *Metrics) *Router {
	return &Router{
		registry: registry,
		rooms:    rooms,
		calls:    calls,
		presence: presence,
		relay:    relay,
		store:    store,
		metrics:  metrics,
	}
}

// HandleEvent dispatches one decoded client event. The reply sink is the
// originating connection, used for targeted errors and pongs.
func (rt *Router) HandleEvent(connID string, reply sink, ev *protocol.ClientEvent) {
	sess, ok := rt.registry.Get(connID)
	if !ok {
		// Unregistered connections never reach the read loop under normal
		// operation; this guards a disconnect race.
		rt.sendError(reply, protocol.CodeAuthRequired, "authentication required")
		return
	}

	switch {
	case ev.StatusChange != nil:
		rt.handleStatusChange(sess, reply, ev.StatusChange)
	case ev.RoomJoin != nil:
		rt.handleRoomJoin(sess, reply, ev.RoomJoin)
	case ev.RoomLeave != nil:
		rt.handleRoomLeave(sess, reply, ev.RoomLeave)
	case ev.MessageSend != nil:
		rt.handleMessageSend(sess, reply, ev.MessageSend)
	case ev.MessageEdit != nil:
		rt.handleMessageEdit(sess, reply, ev.MessageEdit)
	case ev.MessageDelete != nil:
		rt.handleMessageDelete(sess, reply, ev.MessageDelete)
	case ev.Reaction != nil:
		rt.handleReaction(sess, reply, ev.Reaction)
	case ev.Typing != nil:
		rt.handleTyping(sess, reply, ev.Typing)
	case ev.CallStart != nil:
		rt.handleCallStart(sess, reply, ev.CallStart)
	case ev.CallAccept != nil:
		rt.handleCallAccept(sess, reply, ev.CallAccept)
	case ev.CallDecline != nil:
		rt.handleCallDecline(sess, reply, ev.CallDecline)
	case ev.CallEnd != nil:
		rt.handleCallEnd(sess, reply, ev.CallEnd)
	case ev.Signal != nil:
		rt.handleSignal(sess, reply, ev.Signal)
	case ev.Ping != nil:
		reply.TrySend(&protocol.ServerEvent{Pong: &protocol.Pong{Timestamp: ev.Ping.Timestamp}})
	default:
		rt.metrics.EventsIgnored.Add(1)
		slog.Debug("ignoring unrecognized event", "conn", connID)
	}
}

// Disconnect runs the full teardown for one connection: registry removal,
// room cleanup with member notifications, call termination when this was
// the user's last session, and the offline presence broadcast. It is
// idempotent; the registry removal is the gating step, so racing callers
// (read loop exit vs. server shutdown) clean up exactly once.
func (rt *Router) Disconnect(connID string) {
	sess, ok := rt.registry.Remove(connID)
	if !ok {
		return
	}

	for _, roomID := range rt.rooms.RemoveEverywhere(connID) {
		rt.notifyRoom(roomID, connID, &protocol.ServerEvent{
			RoomMemberLeft: &protocol.RoomMemberEvent{
				RoomID:      roomID,
				UserID:      sess.UserID,
				DisplayName: sess.DisplayName,
			},
		})
	}

	// Calls survive as long as the user has any live session; only the last
	// session's departure tears them down.
	if len(rt.registry.FindByUser(sess.UserID)) == 0 {
		for _, call := range rt.calls.EndAllFor(sess.UserID) {
			rt.metrics.CallsEnded.Add(1)
			rt.notifyCallEnded(call)
		}
		rt.bestEffort("persist offline status", func() error {
			return rt.store.NonTx().SetUserStatus(sess.UserID, model.StatusOffline)
		})
	}

	rt.presence.Disconnected(sess)
	rt.bestEffort("persist last seen", func() error {
		return rt.store.NonTx().SetLastSeen(sess.UserID, time.Now().UTC())
	})

	rt.metrics.TotalDisconnects.Add(1)
	rt.metrics.ActiveConnections.Add(-1)
	slog.Info("client disconnected", "conn", connID, "user", sess.UserID)
}

// ----- Presence -----

func (rt *Router) handleStatusChange(sess Session, reply sink, e *protocol.StatusChange) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}
	status := model.PresenceStatus(e.Status)

	prev, ok := rt.registry.UpdateStatus(sess.ConnID, status)
	if !ok {
		return
	}
	if prev == status {
		return
	}

	sess.Status = status
	rt.presence.StatusChanged(sess)
	rt.bestEffort("persist status", func() error {
		return rt.store.NonTx().SetUserStatus(sess.UserID, status)
	})
}

// ----- Rooms -----

func (rt *Router) handleRoomJoin(sess Session, reply sink, e *protocol.RoomJoin) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}

	room, err := rt.store.NonTx().GetRoom(e.RoomID)
	if err != nil {
		rt.internalFailure(sess.ConnID, reply, "load room", err)
		return
	}
	if room == nil {
		rt.sendError(reply, protocol.CodeUnknownRoom, "unknown room")
		return
	}

	if !rt.rooms.Join(e.RoomID, sess.ConnID) {
		return // already a member
	}
	rt.metrics.RoomJoins.Add(1)

	rt.notifyRoom(e.RoomID, sess.ConnID, &protocol.ServerEvent{
		RoomMemberJoined: &protocol.RoomMemberEvent{
			RoomID:      e.RoomID,
			UserID:      sess.UserID,
			DisplayName: sess.DisplayName,
		},
	})
}

func (rt *Router) handleRoomLeave(sess Session, reply sink, e *protocol.RoomLeave) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}

	if !rt.rooms.Leave(e.RoomID, sess.ConnID) {
		return // was not a member
	}
	rt.metrics.RoomLeaves.Add(1)

	rt.notifyRoom(e.RoomID, sess.ConnID, &protocol.ServerEvent{
		RoomMemberLeft: &protocol.RoomMemberEvent{
			RoomID:      e.RoomID,
			UserID:      sess.UserID,
			DisplayName: sess.DisplayName,
		},
	})
}

// ----- Messages -----

func (rt *Router) handleMessageSend(sess Session, reply sink, e *protocol.MessageSend) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}
	content := sanitizeContent(e.Content)
	if content == "" {
		rt.rejectEvent(reply, errors.New("empty message"))
		return
	}

	if !rt.rooms.IsMember(e.RoomID, sess.ConnID) {
		rt.sendError(reply, protocol.CodeNotInRoom, "not in room")
		return
	}

	// Message persistence is the external store's job; the hub only fans
	// the event out to the sessions currently in the room.
	rt.metrics.MessagesRouted.Add(1)
	ev := &protocol.ServerEvent{
		MessageNew: &protocol.MessageNew{
			RoomID:      e.RoomID,
			SenderID:    sess.UserID,
			SenderName:  sess.DisplayName,
			Content:     content,
			TimestampMS: time.Now().UnixMilli(),
		},
	}
	// The sender's own session receives the message too, confirming the
	// fan-out order every member observed.
	for _, connID := range rt.rooms.Members(e.RoomID) {
		rt.registry.Send(connID, ev)
	}
}

func (rt *Router) handleMessageEdit(sess Session, reply sink, e *protocol.MessageEdit) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}
	content := sanitizeContent(e.Content)
	if content == "" {
		rt.rejectEvent(reply, errors.New("empty message"))
		return
	}

	roomID, ok := rt.resolveMessageRoom(sess.ConnID, reply, e.MessageID)
	if !ok {
		return
	}

	rt.metrics.MessagesRouted.Add(1)
	rt.fanOutToRoom(roomID, &protocol.ServerEvent{
		MessageEdited: &protocol.MessageEdited{
			RoomID:     roomID,
			MessageID:  e.MessageID,
			EditorID:   sess.UserID,
			EditorName: sess.DisplayName,
			Content:    content,
		},
	})
}

func (rt *Router) handleMessageDelete(sess Session, reply sink, e *protocol.MessageDelete) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}

	roomID, ok := rt.resolveMessageRoom(sess.ConnID, reply, e.MessageID)
	if !ok {
		return
	}

	rt.metrics.MessagesRouted.Add(1)
	rt.fanOutToRoom(roomID, &protocol.ServerEvent{
		MessageDeleted: &protocol.MessageDeleted{
			RoomID:    roomID,
			MessageID: e.MessageID,
			DeletedBy: sess.UserID,
		},
	})
}

func (rt *Router) handleReaction(sess Session, reply sink, e *protocol.Reaction) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}

	roomID, ok := rt.resolveMessageRoom(sess.ConnID, reply, e.MessageID)
	if !ok {
		return
	}

	rt.metrics.ReactionsRouted.Add(1)
	rt.fanOutToRoom(roomID, &protocol.ServerEvent{
		ReactionNew: &protocol.ReactionNew{
			RoomID:     roomID,
			MessageID:  e.MessageID,
			SenderID:   sess.UserID,
			SenderName: sess.DisplayName,
			Emoji:      e.Emoji,
		},
	})
}

func (rt *Router) handleTyping(sess Session, reply sink, e *protocol.Typing) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}
	// Typing from a non-member is dropped without an error event; the
	// indicator is advisory and not worth a round trip.
	if !rt.rooms.IsMember(e.RoomID, sess.ConnID) {
		return
	}

	rt.metrics.TypingRouted.Add(1)
	rt.notifyRoom(e.RoomID, sess.ConnID, &protocol.ServerEvent{
		Typing: &protocol.TypingEvent{
			RoomID:      e.RoomID,
			UserID:      sess.UserID,
			DisplayName: sess.DisplayName,
			Active:      e.Active,
		},
	})
}

// ----- Calls -----

func (rt *Router) handleCallStart(sess Session, reply sink, e *protocol.CallStart) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}
	if !rt.rooms.IsMember(e.RoomID, sess.ConnID) {
		rt.sendError(reply, protocol.CodeNotInRoom, "not in room")
		return
	}

	call := rt.calls.Start(sess.UserID, e.RoomID, model.CallKind(e.Kind))
	rt.metrics.CallsStarted.Add(1)
	slog.Info("call started", "call", call.ID, "room", e.RoomID, "initiator", sess.UserID, "kind", e.Kind)

	rt.notifyRoom(e.RoomID, sess.ConnID, &protocol.ServerEvent{
		CallIncoming: &protocol.CallIncoming{
			CallID:        call.ID,
			RoomID:        call.RoomID,
			Kind:          string(call.Kind),
			InitiatorID:   sess.UserID,
			InitiatorName: sess.DisplayName,
		},
	})
}

func (rt *Router) handleCallAccept(sess Session, reply sink, e *protocol.CallAccept) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}

	call, err := rt.calls.Accept(e.CallID, sess.UserID)
	if err != nil {
		rt.callError(reply, err)
		return
	}
	rt.metrics.CallsAccepted.Add(1)
	slog.Info("call accepted", "call", call.ID, "responder", sess.UserID)

	rt.notifyCall(call, &protocol.ServerEvent{CallAccepted: callEvent(call)})
}

func (rt *Router) handleCallDecline(sess Session, reply sink, e *protocol.CallDecline) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}

	call, err := rt.calls.Decline(e.CallID, sess.UserID)
	if err != nil {
		rt.callError(reply, err)
		return
	}
	rt.metrics.CallsDeclined.Add(1)
	slog.Info("call declined", "call", call.ID, "responder", sess.UserID)

	rt.notifyCall(call, &protocol.ServerEvent{CallDeclined: callEvent(call)})
}

func (rt *Router) handleCallEnd(sess Session, reply sink, e *protocol.CallEnd) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}

	call, err := rt.calls.End(e.CallID, sess.UserID)
	if err != nil {
		rt.callError(reply, err)
		return
	}
	rt.metrics.CallsEnded.Add(1)
	slog.Info("call ended", "call", call.ID, "by", sess.UserID)

	rt.notifyCallEnded(call)
}

// ----- Signaling -----

func (rt *Router) handleSignal(sess Session, reply sink, e *protocol.Signal) {
	if err := e.Validate(); err != nil {
		rt.rejectEvent(reply, err)
		return
	}
	rt.relay.Deliver(sess, e)
}

// ----- Helpers -----

// notifyRoom fans an event out to a room's members, excluding one
// connection (the actor). Delivery is per live session.
func (rt *Router) notifyRoom(roomID int64, exceptConnID string, ev *protocol.ServerEvent) {
	for _, connID := range rt.rooms.Members(roomID) {
		if connID == exceptConnID {
			continue
		}
		rt.registry.Send(connID, ev)
	}
}

// fanOutToRoom delivers an event to every member session, actor included.
func (rt *Router) fanOutToRoom(roomID int64, ev *protocol.ServerEvent) {
	for _, connID := range rt.rooms.Members(roomID) {
		rt.registry.Send(connID, ev)
	}
}

// notifyCall delivers a call transition to both participants' sessions.
// Room members not on the call never see these.
func (rt *Router) notifyCall(call model.Call, ev *protocol.ServerEvent) {
	rt.registry.SendToUser(call.InitiatorID, ev)
	if call.ResponderID != 0 && call.ResponderID != call.InitiatorID {
		rt.registry.SendToUser(call.ResponderID, ev)
	}
}

// notifyCallEnded reports a terminated call. Once a responder is bound only
// the two participants hear it; a call that dies while still ringing has no
// responder, so the room sessions that received the ring are told to stop
// ringing instead.
func (rt *Router) notifyCallEnded(call model.Call) {
	ev := &protocol.ServerEvent{CallEnded: callEvent(call)}
	if call.ResponderID != 0 {
		rt.notifyCall(call, ev)
		return
	}

	targets := make(map[string]struct{})
	for _, connID := range rt.rooms.Members(call.RoomID) {
		targets[connID] = struct{}{}
	}
	for _, connID := range rt.registry.FindByUser(call.InitiatorID) {
		targets[connID] = struct{}{}
	}
	for connID := range targets {
		rt.registry.Send(connID, ev)
	}
}

// resolveMessageRoom maps a message ID to its owning room through the
// datastore. Unknown messages produce a targeted error on the caller.
func (rt *Router) resolveMessageRoom(connID string, reply sink, messageID int64) (int64, bool) {
	roomID, err := rt.store.NonTx().ResolveRoomForMessage(messageID)
	if err != nil {
		rt.internalFailure(connID, reply, "resolve message room", err)
		return 0, false
	}
	if roomID == 0 {
		rt.sendError(reply, protocol.CodeUnknownMessage, "unknown message")
		return 0, false
	}
	return roomID, true
}

func (rt *Router) callError(reply sink, err error) {
	switch {
	case errors.Is(err, ErrCallNotFound):
		rt.sendError(reply, protocol.CodeUnknownCall, "unknown call")
	case errors.Is(err, ErrOwnCall), errors.Is(err, ErrNotParticipant),
		errors.Is(err, model.ErrCallEnded), errors.Is(err, model.ErrCallTransition):
		rt.sendError(reply, protocol.CodeCallState, err.Error())
	default:
		rt.sendError(reply, protocol.CodeInternal, "internal error")
	}
}

// rejectEvent reports a validation failure back to the sender only.
func (rt *Router) rejectEvent(reply sink, err error) {
	rt.metrics.EventsRejected.Add(1)
	rt.sendError(reply, protocol.CodeMalformed, err.Error())
}

// internalFailure logs a collaborator error and tells the caller, without
// affecting any other connection.
func (rt *Router) internalFailure(connID string, reply sink, op string, err error) {
	slog.Error("router operation failed", "op", op, "conn", connID, "err", err)
	rt.sendError(reply, protocol.CodeInternal, "internal error")
}

func (rt *Router) sendError(reply sink, code int32, message string) {
	reply.TrySend(&protocol.ServerEvent{
		Error: &protocol.ErrorEvent{Code: code, Message: message},
	})
}

// bestEffort runs a fire-and-forget store write; failures are logged and
// never fail the routing operation that triggered them.
func (rt *Router) bestEffort(op string, fn func() error) {
	if err := fn(); err != nil {
		slog.Warn("best-effort write failed", "op", op, "err", err)
	}
}

func callEvent(call model.Call) *protocol.CallEvent {
	return &protocol.CallEvent{
		CallID:      call.ID,
		State:       string(call.State),
		InitiatorID: call.InitiatorID,
		ResponderID: call.ResponderID,
	}
}

// sanitizeContent trims surrounding whitespace and strips control
// characters other than newline and tab.
func sanitizeContent(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
