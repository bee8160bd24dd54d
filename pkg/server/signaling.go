package server

import (
	"log/slog"

	"github.com/huddlechat/huddle/pkg/protocol"
)

// SignalRelay forwards call-setup payloads between peers. Delivery is
// strictly point-to-point via the user index; signals are never broadcast
// and their payloads are never inspected or logged.
type SignalRelay struct {
	registry *Registry
	metrics  *Metrics
}

// NewSignalRelay creates a relay over the given registry.
func NewSignalRelay(registry *Registry, metrics *Metrics) *SignalRelay {
	return &SignalRelay{registry: registry, metrics: metrics}
}

// Deliver relays a signal to every live session of the target user. An
// offline target drops the signal: offers and answers are logged since
// losing one breaks call setup, candidate drops are routine churn and stay
// silent.
func (sr *SignalRelay) Deliver(sender Session, sig *protocol.Signal) bool {
	ev := &protocol.ServerEvent{
		Signal: &protocol.SignalEvent{
			Type:       sig.Type,
			SenderID:   sender.UserID,
			SenderName: sender.DisplayName,
			Payload:    sig.Payload,
		},
	}

	delivered := sr.registry.SendToUser(sig.TargetUserID, ev)
	if delivered == 0 {
		sr.metrics.SignalsDropped.Add(1)
		if sig.Type != protocol.SignalCandidate {
			slog.Warn("dropping signal for offline user",
				"type", sig.Type, "from", sender.UserID, "target", sig.TargetUserID)
		}
		return false
	}
	sr.metrics.SignalsRelayed.Add(1)
	return true
}
