package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/waboard/realtime/internal/hub"
	"github.com/waboard/realtime/internal/protocol"
	"github.com/waboard/realtime/internal/ratelimit"
	"github.com/waboard/realtime/internal/store"
)

// MessageStore is the slice of the persistence layer the mark_read handler
// needs.
type MessageStore interface {
	MarkRead(ctx context.Context, messageID, readerID string) (readAt time.Time, err error)
}

// RegisterHandlers wires the client-operation handlers into the dispatcher:
// join_conversation, leave_conversation, typing, and mark_read (ping is
// built into the dispatcher). The limiter may be nil, in which case the
// per-operation rate limits are skipped.
func RegisterHandlers(d *MessageDispatcher, h *hub.Hub, limiter *ratelimit.Limiter, messages MessageStore) {

	// join_conversation — subscribe to a conversation's events.
	d.Register(protocol.TypeJoinConversation, func(conn *Connection, msg interface{}) {
		m, ok := msg.(protocol.JoinConversationMsg)
		if !ok || m.ConversationID == "" {
			d.SendError(conn, "invalid_payload", "conversationId is required")
			return
		}
		if err := h.JoinConversation(conn.Session, m.ConversationID); err != nil {
			log.Printf("ws: join_conversation rejected session=%s: %v", conn.ID, err)
			d.SendError(conn, "invalid_operation", "session is not active")
			return
		}
		log.Printf("ws: join_conversation session=%s conversation=%s", conn.ID, m.ConversationID)
	})

	// leave_conversation — unsubscribe from a conversation.
	d.Register(protocol.TypeLeaveConversation, func(conn *Connection, msg interface{}) {
		m, ok := msg.(protocol.LeaveConversationMsg)
		if !ok || m.ConversationID == "" {
			d.SendError(conn, "invalid_payload", "conversationId is required")
			return
		}
		if err := h.LeaveConversation(conn.Session, m.ConversationID); err != nil {
			log.Printf("ws: leave_conversation rejected session=%s: %v", conn.ID, err)
			d.SendError(conn, "invalid_operation", "session is not active")
			return
		}
		log.Printf("ws: leave_conversation session=%s conversation=%s", conn.ID, m.ConversationID)
	})

	// typing — update presence and relay the indicator to the conversation.
	d.Register(protocol.TypeTyping, func(conn *Connection, msg interface{}) {
		m, ok := msg.(protocol.TypingMsg)
		if !ok || m.ConversationID == "" {
			d.SendError(conn, "invalid_payload", "conversationId is required")
			return
		}

		if limiter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleTyping)
			cancel()
			if !allowed {
				return // drop silently, indicators are lossy anyway
			}
		}

		if err := h.Typing(conn.Session, m.ConversationID, m.IsTyping); err != nil {
			log.Printf("ws: typing rejected session=%s: %v", conn.ID, err)
			d.SendError(conn, "invalid_operation", "session is not active")
		}
	})

	// mark_read — flip read status in the store, then broadcast the receipt
	// to every connected session (panel-wide read receipts).
	d.Register(protocol.TypeMarkRead, func(conn *Connection, msg interface{}) {
		m, ok := msg.(protocol.MarkReadMsg)
		if !ok || m.MessageID == "" {
			d.SendError(conn, "invalid_payload", "messageId is required")
			return
		}
		if conn.Session.State() != hub.StateActive {
			d.SendError(conn, "invalid_operation", "session is not active")
			return
		}

		if limiter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleMarkRead)
			cancel()
			if !allowed {
				d.SendError(conn, "rate_limited", "too many mark_read calls")
				return
			}
		}

		readerID := conn.Session.UserID
		storeCtx, storeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		readAt, err := messages.MarkRead(storeCtx, m.MessageID, readerID)
		storeCancel()
		if errors.Is(err, store.ErrMessageNotFound) {
			d.SendError(conn, "unknown_message", "message not found")
			return
		}
		if err != nil {
			log.Printf("ws: mark_read store error session=%s message=%s: %v", conn.ID, m.MessageID, err)
			d.SendError(conn, "store_unavailable", "could not mark message read")
			return
		}

		h.EmitToAll(protocol.MessageReadEvent{
			MessageID: m.MessageID,
			ReadBy:    readerID,
			ReadAt:    readAt.Unix(),
		})
		log.Printf("ws: mark_read session=%s message=%s", conn.ID, m.MessageID)
	})
}
