// Package protocol defines the JSON event envelopes exchanged between the
// hub and its clients over the WebSocket channel.
//
// Inbound and outbound events are closed tagged unions: exactly one pointer
// field of ClientEvent or ServerEvent is set per frame. Adding an event kind
// is a compile-time-checked change in the router's dispatch switch.
package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// MaxEventSize is the maximum size of a single event frame (64KB).
	MaxEventSize = 65536

	// MaxContentLength bounds user-supplied text carried in an event.
	MaxContentLength = 4000

	// MaxReactionLength bounds a reaction string (emoji or short code).
	MaxReactionLength = 32
)

// Error codes carried in ErrorEvent. Stable across versions: clients key
// their UX off the code, not the message.
const (
	CodeAuthRequired   = 1
	CodeAuthFailed     = 2
	CodeMalformed      = 10
	CodeRateLimited    = 11
	CodeNotInRoom      = 12
	CodeUnknownRoom    = 13
	CodeUnknownMessage = 14
	CodeUnknownCall    = 20
	CodeCallState      = 21
	CodeInternal       = 30
)

// DecodeClientEvent parses a raw frame into a ClientEvent.
// Frames larger than MaxEventSize are rejected before parsing.
func DecodeClientEvent(data []byte) (*ClientEvent, error) {
	if len(data) > MaxEventSize {
		return nil, fmt.Errorf("protocol: event too large: %d bytes", len(data))
	}
	ev := &ClientEvent{}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal: %w", err)
	}
	return ev, nil
}

// EncodeServerEvent serializes a ServerEvent for the wire.
func EncodeServerEvent(ev *ServerEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxEventSize {
		return nil, fmt.Errorf("protocol: event too large: %d bytes", len(data))
	}
	return data, nil
}
