package protocol

import (
	"errors"

	"github.com/huddlechat/huddle/pkg/model"
)

var ErrMissingField = errors.New("protocol: missing required field")

// ClientEvent wraps all events a client may send while active.
// Only one of these fields should be set. Unknown JSON keys are discarded
// by the decoder, so an event kind this version does not recognize arrives
// as an empty envelope and is ignored by the router (forward compatibility).
type ClientEvent struct {
	StatusChange  *StatusChange  `json:"status_change,omitempty"`
	RoomJoin      *RoomJoin      `json:"room_join,omitempty"`
	RoomLeave     *RoomLeave     `json:"room_leave,omitempty"`
	MessageSend   *MessageSend   `json:"message_send,omitempty"`
	MessageEdit   *MessageEdit   `json:"message_edit,omitempty"`
	MessageDelete *MessageDelete `json:"message_delete,omitempty"`
	Reaction      *Reaction      `json:"reaction,omitempty"`
	Typing        *Typing        `json:"typing,omitempty"`
	CallStart     *CallStart     `json:"call_start,omitempty"`
	CallAccept    *CallAccept    `json:"call_accept,omitempty"`
	CallDecline   *CallDecline   `json:"call_decline,omitempty"`
	CallEnd       *CallEnd       `json:"call_end,omitempty"`
	Signal        *Signal        `json:"signal,omitempty"`
	Ping          *Ping          `json:"ping,omitempty"`
}

// ServerEvent wraps all events the hub emits to clients.
// Only one of these fields is set per frame.
type ServerEvent struct {
	PresenceSnapshot *PresenceSnapshot `json:"presence_snapshot,omitempty"`
	Presence         *PresenceEvent    `json:"presence_event,omitempty"`
	RoomMemberJoined *RoomMemberEvent  `json:"room_member_joined,omitempty"`
	RoomMemberLeft   *RoomMemberEvent  `json:"room_member_left,omitempty"`
	MessageNew       *MessageNew       `json:"message_new,omitempty"`
	MessageEdited    *MessageEdited    `json:"message_edited,omitempty"`
	MessageDeleted   *MessageDeleted   `json:"message_deleted,omitempty"`
	ReactionNew      *ReactionNew      `json:"reaction_new,omitempty"`
	Typing           *TypingEvent      `json:"typing_event,omitempty"`
	CallIncoming     *CallIncoming     `json:"call_incoming,omitempty"`
	CallAccepted     *CallEvent        `json:"call_accepted,omitempty"`
	CallDeclined     *CallEvent        `json:"call_declined,omitempty"`
	CallEnded        *CallEvent        `json:"call_ended,omitempty"`
	Signal           *SignalEvent      `json:"signal_event,omitempty"`
	Error            *ErrorEvent       `json:"error,omitempty"`
	Pong             *Pong             `json:"pong,omitempty"`
}

// ----- Presence -----

type StatusChange struct {
	Status string `json:"status"` // online | away | busy
}

// PresenceEntry is one online user in a snapshot.
type PresenceEntry struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

// PresenceSnapshot is unicast to a session right after it connects so the
// client never has to reconstruct presence from broadcasts it missed.
type PresenceSnapshot struct {
	Users []PresenceEntry `json:"users"`
}

// Presence transition kinds.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
	PresenceChanged = "changed"
)

// PresenceEvent announces one presence transition to all other sessions.
type PresenceEvent struct {
	Kind        string `json:"kind"` // online | offline | changed
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

// ----- Rooms -----

type RoomJoin struct {
	RoomID int64 `json:"room_id"`
}

type RoomLeave struct {
	RoomID int64 `json:"room_id"`
}

type RoomMemberEvent struct {
	RoomID      int64  `json:"room_id"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// ----- Messages -----

type MessageSend struct {
	RoomID  int64  `json:"room_id"`
	Content string `json:"content"`
}

type MessageEdit struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

type MessageDelete struct {
	MessageID int64 `json:"message_id"`
}

type Reaction struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type Typing struct {
	RoomID int64 `json:"room_id"`
	Active bool  `json:"active"` // true = started typing, false = stopped
}

type MessageNew struct {
	RoomID      int64  `json:"room_id"`
	SenderID    int64  `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Content     string `json:"content"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type MessageEdited struct {
	RoomID     int64  `json:"room_id"`
	MessageID  int64  `json:"message_id"`
	EditorID   int64  `json:"editor_id"`
	EditorName string `json:"editor_name"`
	Content    string `json:"content"`
}

type MessageDeleted struct {
	RoomID    int64 `json:"room_id"`
	MessageID int64 `json:"message_id"`
	DeletedBy int64 `json:"deleted_by"`
}

type ReactionNew struct {
	RoomID     int64  `json:"room_id"`
	MessageID  int64  `json:"message_id"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Emoji      string `json:"emoji"`
}

type TypingEvent struct {
	RoomID      int64  `json:"room_id"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
}

// ----- Calls -----

type CallStart struct {
	RoomID int64  `json:"room_id"`
	Kind   string `json:"kind"` // audio | video
}

type CallAccept struct {
	CallID string `json:"call_id"`
}

type CallDecline struct {
	CallID string `json:"call_id"`
}

type CallEnd struct {
	CallID string `json:"call_id"`
}

type CallIncoming struct {
	CallID        string `json:"call_id"`
	RoomID        int64  `json:"room_id"`
	Kind          string `json:"kind"`
	InitiatorID   int64  `json:"initiator_id"`
	InitiatorName string `json:"initiator_name"`
}

// CallEvent reports a call status transition to its participants only.
type CallEvent struct {
	CallID      string `json:"call_id"`
	State       string `json:"state"`
	InitiatorID int64  `json:"initiator_id"`
	ResponderID int64  `json:"responder_id,omitempty"`
}

// ----- Signaling -----

// Signal kinds.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Signal is a point-to-point call-setup payload. Payload is opaque to the
// hub; it is relayed verbatim to every live session of TargetUserID.
type Signal struct {
	Type         string `json:"type"` // offer | answer | candidate
	TargetUserID int64  `json:"target_user_id"`
	Payload      string `json:"payload"`
}

// SignalEvent is the delivered form, annotated with the sender's identity.
type SignalEvent struct {
	Type       string `json:"type"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Payload    string `json:"payload"`
}

// ----- Generic -----

type ErrorEvent struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// ----- Shape validation -----
//
// Validate methods check required fields and types only; semantic checks
// (membership, call ownership) belong to the router.

func (e *StatusChange) Validate() error {
	if _, err := model.ParseStatus(e.Status); err != nil {
		return err
	}
	return nil
}

func (e *RoomJoin) Validate() error {
	if e.RoomID <= 0 {
		return ErrMissingField
	}
	return nil
}

func (e *RoomLeave) Validate() error {
	if e.RoomID <= 0 {
		return ErrMissingField
	}
	return nil
}

func (e *MessageSend) Validate() error {
	if e.RoomID <= 0 || e.Content == "" {
		return ErrMissingField
	}
	if len(e.Content) > MaxContentLength {
		return errors.New("protocol: content too long")
	}
	return nil
}

func (e *MessageEdit) Validate() error {
	if e.MessageID <= 0 || e.Content == "" {
		return ErrMissingField
	}
	if len(e.Content) > MaxContentLength {
		return errors.New("protocol: content too long")
	}
	return nil
}

func (e *MessageDelete) Validate() error {
	if e.MessageID <= 0 {
		return ErrMissingField
	}
	return nil
}

func (e *Reaction) Validate() error {
	if e.MessageID <= 0 || e.Emoji == "" {
		return ErrMissingField
	}
	if len(e.Emoji) > MaxReactionLength {
		return errors.New("protocol: reaction too long")
	}
	return nil
}

func (e *Typing) Validate() error {
	if e.RoomID <= 0 {
		return ErrMissingField
	}
	return nil
}

func (e *CallStart) Validate() error {
	if e.RoomID <= 0 {
		return ErrMissingField
	}
	if !model.CallKind(e.Kind).Valid() {
		return model.ErrInvalidCallKind
	}
	return nil
}

func (e *CallAccept) Validate() error {
	if e.CallID == "" {
		return ErrMissingField
	}
	return nil
}

func (e *CallDecline) Validate() error {
	if e.CallID == "" {
		return ErrMissingField
	}
	return nil
}

func (e *CallEnd) Validate() error {
	if e.CallID == "" {
		return ErrMissingField
	}
	return nil
}

func (e *Signal) Validate() error {
	switch e.Type {
	case SignalOffer, SignalAnswer, SignalCandidate:
	default:
		return errors.New("protocol: unknown signal type")
	}
	if e.TargetUserID <= 0 || e.Payload == "" {
		return ErrMissingField
	}
	return nil
}
