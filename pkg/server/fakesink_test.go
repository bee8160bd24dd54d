package server

import (
	"sync"

	"github.com/huddlechat/huddle/pkg/protocol"
)

// fakeSink records delivered events for assertions. Setting full simulates
// a client whose outbound queue cannot accept more events.
type fakeSink struct {
	mu     sync.Mutex
	events []*protocol.ServerEvent
	full   bool
	killed bool
}

func (f *fakeSink) TrySend(ev *protocol.ServerEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSink) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
}

func (f *fakeSink) Events() []*protocol.ServerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.ServerEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeSink) Killed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

func (f *fakeSink) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// LastError returns the most recent error event, or nil.
func (f *fakeSink) LastError() *protocol.ErrorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Error != nil {
			return f.events[i].Error
		}
	}
	return nil
}
