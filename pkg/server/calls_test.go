package server

import (
	"errors"
	"testing"

	"github.com/huddlechat/huddle/pkg/model"
)

func TestCallLifecycleAccept(t *testing.T) {
	ct := NewCallTable()

	call := ct.Start(1, 10, model.CallAudio)
	if call.State != model.CallRinging {
		t.Fatalf("new call state = %q, want ringing", call.State)
	}
	if call.ID == "" {
		t.Fatal("call has no ID")
	}

	accepted, err := ct.Accept(call.ID, 2)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.State != model.CallActive || accepted.ResponderID != 2 {
		t.Errorf("accepted = %+v, want active with responder 2", accepted)
	}

	// A second accept must fail: the transition is monotonic.
	if _, err := ct.Accept(call.ID, 3); err == nil {
		t.Error("second accept succeeded")
	}

	ended, err := ct.End(call.ID, 1)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.State != model.CallDone {
		t.Errorf("ended state = %q, want ended", ended.State)
	}

	// Ended calls leave the table; every later transition is rejected.
	if _, err := ct.End(call.ID, 1); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("end after end = %v, want ErrCallNotFound", err)
	}
	if _, err := ct.Accept(call.ID, 2); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("accept after end = %v, want ErrCallNotFound", err)
	}
	if ct.Count() != 0 {
		t.Errorf("table count = %d, want 0", ct.Count())
	}
}

func TestCallDecline(t *testing.T) {
	ct := NewCallTable()
	call := ct.Start(1, 10, model.CallVideo)

	declined, err := ct.Decline(call.ID, 2)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if declined.State != model.CallDone || declined.ResponderID != 2 {
		t.Errorf("declined = %+v, want ended with responder 2", declined)
	}
	if _, ok := ct.Get(call.ID); ok {
		t.Error("declined call still in table")
	}
}

func TestCallOwnCallRejected(t *testing.T) {
	ct := NewCallTable()
	call := ct.Start(1, 10, model.CallAudio)

	if _, err := ct.Accept(call.ID, 1); !errors.Is(err, ErrOwnCall) {
		t.Errorf("accept own call = %v, want ErrOwnCall", err)
	}
	if _, err := ct.Decline(call.ID, 1); !errors.Is(err, ErrOwnCall) {
		t.Errorf("decline own call = %v, want ErrOwnCall", err)
	}
}

func TestCallEndRequiresParticipant(t *testing.T) {
	ct := NewCallTable()
	call := ct.Start(1, 10, model.CallAudio)
	ct.Accept(call.ID, 2)

	if _, err := ct.End(call.ID, 99); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("end by stranger = %v, want ErrNotParticipant", err)
	}
	if _, err := ct.End(call.ID, 2); err != nil {
		t.Errorf("end by responder: %v", err)
	}
}

func TestCallEndAllFor(t *testing.T) {
	ct := NewCallTable()
	ringing := ct.Start(1, 10, model.CallAudio)
	active := ct.Start(1, 11, model.CallVideo)
	ct.Accept(active.ID, 2)
	other := ct.Start(3, 12, model.CallAudio)

	ended := ct.EndAllFor(1)
	if len(ended) != 2 {
		t.Fatalf("EndAllFor ended %d calls, want 2", len(ended))
	}
	if _, ok := ct.Get(ringing.ID); ok {
		t.Error("ringing call survived EndAllFor")
	}
	if _, ok := ct.Get(other.ID); !ok {
		t.Error("unrelated call was ended")
	}
}
