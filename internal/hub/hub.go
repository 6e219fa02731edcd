package hub

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waboard/realtime/internal/metrics"
	"github.com/waboard/realtime/internal/protocol"
)

// ErrInvalidOperation is returned when a client-originated action arrives in
// a lifecycle state where it is not valid (e.g. join_conversation before the
// session is active). The caller logs and rejects it without closing the
// connection.
var ErrInvalidOperation = errors.New("hub: operation not valid in current session state")

// Config holds tunable hub parameters.
type Config struct {
	TypingWindow time.Duration // staleness window for typing indicators
}

// DefaultConfig returns hub defaults.
func DefaultConfig() Config {
	return Config{TypingWindow: DefaultTypingWindow}
}

// Hub owns the registry, the presence tracker, and the set of active
// sessions. It is the only entry point for room membership changes and event
// dispatch; the transport layer and the ingestion layer both emit through it.
type Hub struct {
	registry *Registry
	presence *Presence

	mu       sync.RWMutex
	sessions map[string]*Session // only ACTIVE sessions

	// onDeliveryFailure is invoked outside the registry lock when a write to
	// a session's transport fails, so the transport layer can proactively
	// drop the connection. Optional.
	onDeliveryFailure func(sessionID string, err error)
}

// New creates an empty Hub.
func New(config Config) *Hub {
	return &Hub{
		registry: NewRegistry(),
		presence: NewPresence(config.TypingWindow),
		sessions: make(map[string]*Session),
	}
}

// Registry exposes the membership table for read access (heartbeat, tests).
func (h *Hub) Registry() *Registry { return h.registry }

// Presence exposes the typing tracker.
func (h *Hub) Presence() *Presence { return h.presence }

// SetOnDeliveryFailure registers the transport eviction callback.
func (h *Hub) SetOnDeliveryFailure(fn func(sessionID string, err error)) {
	h.onDeliveryFailure = fn
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// StartSession creates a session in the CONNECTING state, bound to the given
// transport writer. The session joins no rooms and receives no events until
// it has been authenticated and activated.
func (h *Hub) StartSession(w Writer) *Session {
	s := &Session{
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
		writer:      w,
	}
	s.state.Store(int32(StateConnecting))
	s.Touch()
	return s
}

// Authenticate attaches the resolved identity to a connecting session and
// moves it to AUTHENTICATED. The actual credential verification happens in
// the auth package before this is called.
func (h *Hub) Authenticate(s *Session, userID string, role Role) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		return fmt.Errorf("%w: authenticate in state %s", ErrInvalidOperation, s.State())
	}
	s.UserID = userID
	s.Role = role
	return nil
}

// Activate auto-joins the session's mandatory rooms and moves it to ACTIVE.
// Every session joins its user room; privileged roles join their role room;
// admin-tier roles additionally join the admin room so cross-cutting alerts
// reach them. The auto-join is unconditional and not client-requested.
func (h *Hub) Activate(s *Session) error {
	if !s.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive)) {
		return fmt.Errorf("%w: activate in state %s", ErrInvalidOperation, s.State())
	}

	h.registry.Join(s, UserRoom(s.UserID))
	if s.Role.Privileged() {
		h.registry.Join(s, RoleRoom(s.Role))
	}
	if s.Role.AdminTier() {
		h.registry.Join(s, RoleRoom(RoleAdmin))
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	metrics.ConnectionsTotal.Inc()
	metrics.RoomsTotal.Set(float64(h.registry.RoomCount()))
	log.Printf("hub: session active id=%s user=%s role=%s", s.ID, s.UserID, s.Role)
	return nil
}

// Close moves the session to the terminal CLOSED state and removes it from
// every room it joined. It is idempotent and safe regardless of how the
// close originated (client close frame, read error, heartbeat eviction,
// server shutdown); only the first call performs cleanup.
func (h *Hub) Close(s *Session) {
	prev := State(s.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return
	}

	h.registry.LeaveAll(s.ID)

	if prev == StateActive {
		h.mu.Lock()
		delete(h.sessions, s.ID)
		h.mu.Unlock()
		metrics.ConnectionsTotal.Dec()
	}
	metrics.RoomsTotal.Set(float64(h.registry.RoomCount()))

	// Typing state is bound to the user, not the session: clear it only when
	// the last session of the user is gone.
	if s.UserID != "" && !h.IsUserOnline(s.UserID) {
		h.presence.ClearUser(s.UserID)
		metrics.TypingEntries.Set(float64(h.presence.Count()))
	}

	log.Printf("hub: session closed id=%s user=%s prev_state=%s", s.ID, s.UserID, prev)
}

// SessionCount returns the number of active sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ActiveSessions returns a snapshot of all active sessions. Used by the
// credential revalidation sweep and by shutdown.
func (h *Hub) ActiveSessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// ---------------------------------------------------------------------------
// Client-originated operations
// ---------------------------------------------------------------------------

// JoinConversation subscribes an active session to a conversation room.
// Idempotent.
func (h *Hub) JoinConversation(s *Session, conversationID string) error {
	if s.State() != StateActive {
		return fmt.Errorf("%w: join_conversation in state %s", ErrInvalidOperation, s.State())
	}
	h.registry.Join(s, ConversationRoom(conversationID))
	metrics.RoomsTotal.Set(float64(h.registry.RoomCount()))
	return nil
}

// LeaveConversation unsubscribes an active session from a conversation room.
// Leaving a room the session never joined is a no-op.
func (h *Hub) LeaveConversation(s *Session, conversationID string) error {
	if s.State() != StateActive {
		return fmt.Errorf("%w: leave_conversation in state %s", ErrInvalidOperation, s.State())
	}
	h.registry.Leave(s.ID, ConversationRoom(conversationID))
	metrics.RoomsTotal.Set(float64(h.registry.RoomCount()))
	return nil
}

// Typing records the session user's typing state and re-broadcasts it to the
// conversation, excluding the sender's own session so a user never sees their
// own typing echoed.
func (h *Hub) Typing(s *Session, conversationID string, isTyping bool) error {
	if s.State() != StateActive {
		return fmt.Errorf("%w: typing in state %s", ErrInvalidOperation, s.State())
	}

	h.presence.SetTyping(conversationID, s.UserID, isTyping)
	metrics.TypingEntries.Set(float64(h.presence.Count()))

	h.EmitToConversation(conversationID, protocol.UserTypingEvent{
		ConversationID: conversationID,
		UserID:         s.UserID,
		IsTyping:       isTyping,
	}, s.ID)
	return nil
}
