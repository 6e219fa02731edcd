// Package protocol defines the WebSocket message types exchanged between the
// admin-panel clients and the notification hub. All messages are serialized as
// JSON with a "type" discriminator field. Server-to-client events form a
// closed set (the Event interface) so that delivery code switches over
// concrete types instead of matching on strings.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeTyping            = "typing"
	TypeMarkRead          = "mark_read"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypeConnected   = "connected"
	TypeNewMessage  = "new_message"
	TypeUserTyping  = "user_typing"
	TypeMessageRead = "message_read"
	TypeError       = "error"
	TypePong        = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinConversationMsg is sent by the client to subscribe to a conversation's
// real-time events. Valid only once the session is active.
type JoinConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// LeaveConversationMsg is sent by the client to unsubscribe from a
// conversation.
type LeaveConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// TypingMsg indicates whether the client is currently typing in a
// conversation.
type TypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// MarkReadMsg asks the server to flip a message's read status in the backing
// store and broadcast the read receipt.
type MarkReadMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client events
// ---------------------------------------------------------------------------

// Event is the closed set of server-to-client messages. Each concrete event
// knows its wire name; Encode injects it as the "type" discriminator. The
// unexported method keeps the set closed to this package.
type Event interface {
	EventName() string
	sealed()
}

// ConnectedEvent confirms the session to the client after a successful
// handshake, echoing the assigned session ID.
type ConnectedEvent struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

func (ConnectedEvent) EventName() string { return TypeConnected }
func (ConnectedEvent) sealed()           {}

// NewMessageEvent notifies a client that a message arrived in one of their
// conversations.
type NewMessageEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	From           string `json:"from"`
	Body           string `json:"body"`
	SentAt         int64  `json:"sentAt"`
}

func (NewMessageEvent) EventName() string { return TypeNewMessage }
func (NewMessageEvent) sealed()           {}

// UserTypingEvent relays another participant's typing indicator.
type UserTypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

func (UserTypingEvent) EventName() string { return TypeUserTyping }
func (UserTypingEvent) sealed()           {}

// MessageReadEvent announces that a message has been read.
type MessageReadEvent struct {
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
	ReadAt    int64  `json:"readAt"`
}

func (MessageReadEvent) EventName() string { return TypeMessageRead }
func (MessageReadEvent) sealed()           {}

// ErrorEvent communicates an error condition to the client.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorEvent) EventName() string { return TypeError }
func (ErrorEvent) sealed()           {}

// PongEvent is the server's response to a client ping.
type PongEvent struct{}

func (PongEvent) EventName() string { return TypePong }
func (PongEvent) sealed()           {}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinConversation:
		var m JoinConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveConversation:
		var m LeaveConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// Encode serializes a server event to its wire form. The event struct is
// marshalled to a generic map so the "type" discriminator can be injected
// alongside the payload fields.
func Encode(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q payload: %w", ev.EventName(), err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = ev.EventName()

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
