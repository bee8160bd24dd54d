package model

import (
	"errors"
	"time"
)

var ErrInvalidCallKind = errors.New("invalid call kind: must be audio or video")
var ErrCallEnded = errors.New("call already ended")
var ErrCallTransition = errors.New("invalid call state transition")

// CallKind distinguishes audio-only calls from video calls.
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == CallAudio || k == CallVideo
}

// CallState tracks a call through its lifecycle. Transitions are monotonic:
// ringing -> active -> ended, or ringing -> ended. Nothing leaves ended.
type CallState string

const (
	CallRinging CallState = "ringing"
	CallActive  CallState = "active"
	CallDone    CallState = "ended"
)

// Call identifies an in-progress call relayed by the hub. Ended calls are
// not retained; durable call records belong to the external store.
type Call struct {
	ID          string    `json:"id"`
	InitiatorID int64     `json:"initiator_id"`
	ResponderID int64     `json:"responder_id"` // 0 until someone accepts or declines
	RoomID      int64     `json:"room_id"`
	Kind        CallKind  `json:"kind"`
	State       CallState `json:"state"`
	StartedAt   time.Time `json:"started_at"`
}

// Advance moves the call to the given state, rejecting any transition that
// is not strictly forward. Once ended, every further transition fails.
func (c *Call) Advance(to CallState) error {
	if c.State == CallDone {
		return ErrCallEnded
	}
	switch {
	case c.State == CallRinging && to == CallActive:
	case c.State == CallRinging && to == CallDone:
	case c.State == CallActive && to == CallDone:
	default:
		return ErrCallTransition
	}
	c.State = to
	return nil
}

// Participant reports whether the user initiated or answered this call.
func (c *Call) Participant(userID int64) bool {
	return c.InitiatorID == userID || (c.ResponderID != 0 && c.ResponderID == userID)
}
