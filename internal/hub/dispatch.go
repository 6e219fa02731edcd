package hub

import (
	"log"
	"time"

	"github.com/waboard/realtime/internal/metrics"
	"github.com/waboard/realtime/internal/protocol"
)

// Event dispatch. All emits are best-effort and at-most-once per currently
// connected session: no queueing, no retry, no persistence. A failed write to
// one session is logged, counted, and reported to the delivery-failure hook;
// it never aborts delivery to sibling sessions and never propagates to the
// caller. Each Emit* returns the number of successful deliveries.

// EmitToUser delivers an event to every live session of one user.
func (h *Hub) EmitToUser(userID string, ev protocol.Event) int {
	return h.deliver(h.registry.MembersOf(UserRoom(userID)), ev, "")
}

// EmitToRole delivers an event to every connected session of a role.
func (h *Hub) EmitToRole(role Role, ev protocol.Event) int {
	return h.deliver(h.registry.MembersOf(RoleRoom(role)), ev, "")
}

// EmitToConversation delivers an event to every session subscribed to a
// conversation, optionally excluding one session (the sender, for typing
// indicators). Excluding the sole member yields zero deliveries and no error.
func (h *Hub) EmitToConversation(conversationID string, ev protocol.Event, excludeSessionID string) int {
	return h.deliver(h.registry.MembersOf(ConversationRoom(conversationID)), ev, excludeSessionID)
}

// EmitToAll delivers an event to every active session regardless of room.
func (h *Hub) EmitToAll(ev protocol.Event) int {
	return h.deliver(h.ActiveSessions(), ev, "")
}

// IsUserOnline reports whether the user has at least one live session. The
// outbound notification channels consult this to decide whether to fall back
// to email/push delivery.
func (h *Hub) IsUserOnline(userID string) bool {
	return h.registry.MemberCount(UserRoom(userID)) > 0
}

// deliver encodes the event once and fans it out over the session snapshot.
func (h *Hub) deliver(sessions []*Session, ev protocol.Event, excludeSessionID string) int {
	if len(sessions) == 0 {
		return 0
	}

	data, err := protocol.Encode(ev)
	if err != nil {
		log.Printf("hub: failed to encode %q event: %v", ev.EventName(), err)
		return 0
	}

	start := time.Now()
	delivered := 0
	for _, s := range sessions {
		if s.ID == excludeSessionID {
			continue
		}
		// The membership snapshot can race a concurrent close; skip sessions
		// that reached CLOSED between snapshot and write.
		if s.State() == StateClosed {
			continue
		}
		if err := s.write(data); err != nil {
			log.Printf("hub: delivery failed event=%s session=%s user=%s: %v",
				ev.EventName(), s.ID, s.UserID, err)
			metrics.DeliveryFailures.Inc()
			if h.onDeliveryFailure != nil {
				h.onDeliveryFailure(s.ID, err)
			}
			continue
		}
		delivered++
		metrics.DeliveriesTotal.WithLabelValues(ev.EventName()).Inc()
	}
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	return delivered
}
