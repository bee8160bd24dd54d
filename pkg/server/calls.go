package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huddlechat/huddle/pkg/model"
)

// Call table failures.
var (
	ErrCallNotFound   = errors.New("server: call not found")
	ErrNotParticipant = errors.New("server: not a call participant")
	ErrOwnCall        = errors.New("server: cannot answer own call")
)

// CallTable tracks in-flight call contexts. A call lives here from start
// until it reaches the ended state, at which point it is removed; there is
// no call history. State transitions are strictly monotonic and enforced by
// the call model itself.
type CallTable struct {
	mu    sync.Mutex
	calls map[string]*model.Call
	now   func() time.Time
}

// NewCallTable creates an empty call table.
func NewCallTable() *CallTable {
	return &CallTable{
		calls: make(map[string]*model.Call),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Start creates a new ringing call and returns a snapshot of it.
func (t *CallTable) Start(initiatorID, roomID int64, kind model.CallKind) model.Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	call := &model.Call{
		ID:          uuid.NewString(),
		InitiatorID: initiatorID,
		RoomID:      roomID,
		Kind:        kind,
		State:       model.CallRinging,
		StartedAt:   t.now(),
	}
	t.calls[call.ID] = call
	return *call
}

// Get returns a snapshot of a call.
func (t *CallTable) Get(id string) (model.Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[id]
	if !ok {
		return model.Call{}, false
	}
	return *call, true
}

// Accept moves a ringing call to active and binds the responder. Ended or
// unknown calls are rejected; the initiator cannot answer their own call.
func (t *CallTable) Accept(id string, responderID int64) (model.Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[id]
	if !ok {
		return model.Call{}, ErrCallNotFound
	}
	if call.InitiatorID == responderID {
		return model.Call{}, ErrOwnCall
	}
	if err := call.Advance(model.CallActive); err != nil {
		return model.Call{}, err
	}
	call.ResponderID = responderID
	return *call, nil
}

// Decline ends a ringing call without it ever becoming active. The decline
// is attributed to the responder so both parties can be notified.
func (t *CallTable) Decline(id string, responderID int64) (model.Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[id]
	if !ok {
		return model.Call{}, ErrCallNotFound
	}
	if call.InitiatorID == responderID {
		return model.Call{}, ErrOwnCall
	}
	if err := call.Advance(model.CallDone); err != nil {
		return model.Call{}, err
	}
	call.ResponderID = responderID
	delete(t.calls, id)
	return *call, nil
}

// End terminates a call from either participant. A ringing call may be
// ended by its initiator (a cancel); an active call by either side. Ended
// calls are removed, so a second end on the same ID reports not found.
func (t *CallTable) End(id string, userID int64) (model.Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[id]
	if !ok {
		return model.Call{}, ErrCallNotFound
	}
	if !call.Participant(userID) {
		return model.Call{}, ErrNotParticipant
	}
	if err := call.Advance(model.CallDone); err != nil {
		return model.Call{}, err
	}
	delete(t.calls, id)
	return *call, nil
}

// EndAllFor ends every call the user participates in and returns the ended
// snapshots. Used when a user's last session disconnects mid-call.
func (t *CallTable) EndAllFor(userID int64) []model.Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ended []model.Call
	for id, call := range t.calls {
		if !call.Participant(userID) {
			continue
		}
		if err := call.Advance(model.CallDone); err != nil {
			continue
		}
		delete(t.calls, id)
		ended = append(ended, *call)
	}
	return ended
}

// Count returns the number of in-flight calls.
func (t *CallTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
