package server

import (
	"github.com/huddlechat/huddle/pkg/protocol"
)

// PresenceNotifier turns session lifecycle changes into presence events.
// Lifecycle broadcasts go to every session except the one that changed;
// the snapshot is a one-time unicast sent right after registration.
type PresenceNotifier struct {
	registry *Registry
	metrics  *Metrics
}

// NewPresenceNotifier creates a notifier over the given registry.
func NewPresenceNotifier(registry *Registry, metrics *Metrics) *PresenceNotifier {
	return &PresenceNotifier{registry: registry, metrics: metrics}
}

// Connected announces a newly registered session to everyone else.
func (p *PresenceNotifier) Connected(sess Session) {
	p.broadcast(sess, protocol.PresenceOnline)
}

// Disconnected announces a removed session to everyone else.
func (p *PresenceNotifier) Disconnected(sess Session) {
	p.broadcast(sess, protocol.PresenceOffline)
}

// StatusChanged announces a session's new status to everyone else. The
// session carries the status it changed to.
func (p *PresenceNotifier) StatusChanged(sess Session) {
	p.broadcast(sess, protocol.PresenceChanged)
}

func (p *PresenceNotifier) broadcast(sess Session, kind string) {
	ev := &protocol.ServerEvent{
		Presence: &protocol.PresenceEvent{
			Kind:        kind,
			UserID:      sess.UserID,
			DisplayName: sess.DisplayName,
			Status:      string(sess.Status),
		},
	}
	p.registry.Broadcast(ev, sess.ConnID)
	p.metrics.PresenceBroadcasts.Add(1)
}

// SendSnapshot unicasts the currently-online user set to one session. Users
// with multiple live sessions appear once.
func (p *PresenceNotifier) SendSnapshot(sess Session) {
	sessions := p.registry.ListOnline()

	seen := make(map[int64]struct{}, len(sessions))
	entries := make([]protocol.PresenceEntry, 0, len(sessions))
	for _, s := range sessions {
		if _, dup := seen[s.UserID]; dup {
			continue
		}
		seen[s.UserID] = struct{}{}
		entries = append(entries, protocol.PresenceEntry{
			UserID:      s.UserID,
			DisplayName: s.DisplayName,
			Status:      string(s.Status),
		})
	}

	p.registry.Send(sess.ConnID, &protocol.ServerEvent{
		PresenceSnapshot: &protocol.PresenceSnapshot{Users: entries},
	})
}
