package model

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	cases := []struct {
		name     string
		username string
		wantErr  error
	}{
		{"valid simple", "alice", nil},
		{"valid with underscore", "alice_b", nil},
		{"valid with hyphen", "alice-b", nil},
		{"valid digits", "user42", nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"max length ok", strings.Repeat("a", MaxUsernameLength), nil},
		{"spaces", "alice b", ErrUsernameInvalidChars},
		{"unicode", "ålice", ErrUsernameInvalidChars},
		{"control chars", "alice\x00", ErrUsernameInvalidChars},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateUsername(tc.username)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ValidateUsername(%q) = %v, want %v", tc.username, err, tc.wantErr)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"online", "away", "busy"} {
		st, err := ParseStatus(valid)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", valid, err)
		}
		if st.String() != valid {
			t.Fatalf("ParseStatus(%q) = %q", valid, st)
		}
	}

	for _, invalid := range []string{"", "offline", "idle", "ONLINE"} {
		if _, err := ParseStatus(invalid); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("ParseStatus(%q) = %v, want ErrInvalidStatus", invalid, err)
		}
	}
}

func TestCallAdvance(t *testing.T) {
	t.Run("ringing to active to ended", func(t *testing.T) {
		c := &Call{State: CallRinging}
		if err := c.Advance(CallActive); err != nil {
			t.Fatalf("ringing->active: %v", err)
		}
		if err := c.Advance(CallDone); err != nil {
			t.Fatalf("active->ended: %v", err)
		}
	})

	t.Run("ringing straight to ended", func(t *testing.T) {
		c := &Call{State: CallRinging}
		if err := c.Advance(CallDone); err != nil {
			t.Fatalf("ringing->ended: %v", err)
		}
	})

	t.Run("no transition out of ended", func(t *testing.T) {
		c := &Call{State: CallDone}
		for _, to := range []CallState{CallRinging, CallActive, CallDone} {
			if err := c.Advance(to); !errors.Is(err, ErrCallEnded) {
				t.Fatalf("ended->%s = %v, want ErrCallEnded", to, err)
			}
		}
	})

	t.Run("no transition backwards", func(t *testing.T) {
		c := &Call{State: CallActive}
		if err := c.Advance(CallRinging); !errors.Is(err, ErrCallTransition) {
			t.Fatalf("active->ringing = %v, want ErrCallTransition", err)
		}
	})
}

func TestCallParticipant(t *testing.T) {
	c := &Call{InitiatorID: 1, ResponderID: 2}
	if !c.Participant(1) || !c.Participant(2) {
		t.Fatal("initiator and responder must both be participants")
	}
	if c.Participant(3) {
		t.Fatal("unrelated user must not be a participant")
	}

	ringing := &Call{InitiatorID: 1}
	if ringing.Participant(0) {
		t.Fatal("unset responder must not match user 0")
	}
}
