// Package ingest bridges the inbound-message feed into the hub. The
// message-ingestion webhook (and CRUD writes that create messages) publish to
// NATS; this consumer fans each event out to the target user's sessions and
// to the admin role room, and requests offline fallback delivery when the
// target user has no live session.
package ingest

import (
	"encoding/json"
	"log"

	"github.com/waboard/realtime/internal/hub"
	"github.com/waboard/realtime/internal/protocol"
)

// InboundMessage is the wire form of one ingested message event.
type InboundMessage struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"` // target panel user
	From           string `json:"from"`   // external sender identifier
	Body           string `json:"body"`
	SentAt         int64  `json:"sentAt"`
}

// Emitter is the slice of the hub API the consumer needs.
type Emitter interface {
	EmitToUser(userID string, ev protocol.Event) int
	EmitToRole(role hub.Role, ev protocol.Event) int
	IsUserOnline(userID string) bool
}

// OfflinePublisher requests fallback delivery (email/push) for a user with
// no live session.
type OfflinePublisher interface {
	PublishOfflineNotify(userID string, data []byte) error
}

// Subscriber provides the inbound feed subscription.
type Subscriber interface {
	SubscribeInbound(handler func(data []byte)) error
}

// Consumer routes inbound message events into the hub.
type Consumer struct {
	hub     Emitter
	offline OfflinePublisher // optional
}

// NewConsumer creates an inbound consumer. The offline publisher may be nil
// when no fallback channel is configured.
func NewConsumer(h Emitter, offline OfflinePublisher) *Consumer {
	return &Consumer{hub: h, offline: offline}
}

// Start subscribes the consumer to the inbound feed.
func (c *Consumer) Start(sub Subscriber) error {
	return sub.SubscribeInbound(c.Handle)
}

// Handle processes one raw inbound event. Exported so tests can drive the
// consumer without a broker.
func (c *Consumer) Handle(data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("ingest: unmarshal inbound event: %v", err)
		return
	}
	if msg.UserID == "" {
		log.Printf("ingest: inbound event without target user, message=%s", msg.MessageID)
		return
	}

	ev := protocol.NewMessageEvent{
		MessageID:      msg.MessageID,
		ConversationID: msg.ConversationID,
		From:           msg.From,
		Body:           msg.Body,
		SentAt:         msg.SentAt,
	}

	delivered := c.hub.EmitToUser(msg.UserID, ev)
	c.hub.EmitToRole(hub.RoleAdmin, ev)

	// No live session for the target user: hand off to the slower channels.
	if delivered == 0 && !c.hub.IsUserOnline(msg.UserID) && c.offline != nil {
		if err := c.offline.PublishOfflineNotify(msg.UserID, data); err != nil {
			log.Printf("ingest: offline notify user=%s: %v", msg.UserID, err)
		}
	}
}
