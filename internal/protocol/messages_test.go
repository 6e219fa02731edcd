package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantErr  bool
		check    func(t *testing.T, msg interface{})
	}{
		{
			name:     "join conversation",
			input:    `{"type":"join_conversation","conversationId":"42"}`,
			wantType: TypeJoinConversation,
			check: func(t *testing.T, msg interface{}) {
				m, ok := msg.(JoinConversationMsg)
				if !ok {
					t.Fatalf("expected JoinConversationMsg, got %T", msg)
				}
				if m.ConversationID != "42" {
					t.Errorf("conversationId = %q, want 42", m.ConversationID)
				}
			},
		},
		{
			name:     "leave conversation",
			input:    `{"type":"leave_conversation","conversationId":"42"}`,
			wantType: TypeLeaveConversation,
			check: func(t *testing.T, msg interface{}) {
				if _, ok := msg.(LeaveConversationMsg); !ok {
					t.Fatalf("expected LeaveConversationMsg, got %T", msg)
				}
			},
		},
		{
			name:     "typing",
			input:    `{"type":"typing","conversationId":"42","isTyping":true}`,
			wantType: TypeTyping,
			check: func(t *testing.T, msg interface{}) {
				m, ok := msg.(TypingMsg)
				if !ok {
					t.Fatalf("expected TypingMsg, got %T", msg)
				}
				if !m.IsTyping {
					t.Error("isTyping = false, want true")
				}
			},
		},
		{
			name:     "mark read",
			input:    `{"type":"mark_read","messageId":"m-7"}`,
			wantType: TypeMarkRead,
			check: func(t *testing.T, msg interface{}) {
				m, ok := msg.(MarkReadMsg)
				if !ok {
					t.Fatalf("expected MarkReadMsg, got %T", msg)
				}
				if m.MessageID != "m-7" {
					t.Errorf("messageId = %q, want m-7", m.MessageID)
				}
			},
		},
		{
			name:     "ping",
			input:    `{"type":"ping"}`,
			wantType: TypePing,
			check: func(t *testing.T, msg interface{}) {
				if _, ok := msg.(PingMsg); !ok {
					t.Fatalf("expected PingMsg, got %T", msg)
				}
			},
		},
		{
			name:    "unknown type",
			input:   `{"type":"self_destruct"}`,
			wantErr: true,
		},
		{
			name:    "server-only type rejected",
			input:   `{"type":"new_message","messageId":"m-1"}`,
			wantErr: true,
		},
		{
			name:    "missing type",
			input:   `{"conversationId":"42"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			input:   `{"type":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, msg, err := ParseClientMessage([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got type=%q msg=%#v", typ, msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClientMessage: %v", err)
			}
			if typ != tt.wantType {
				t.Errorf("type = %q, want %q", typ, tt.wantType)
			}
			if tt.check != nil {
				tt.check(t, msg)
			}
		})
	}
}

func TestEncodeInjectsType(t *testing.T) {
	data, err := Encode(MessageReadEvent{MessageID: "m-7", ReadBy: "u1", ReadAt: 1700000000})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to decode encoded event: %v", err)
	}
	if m["type"] != TypeMessageRead {
		t.Errorf("type = %v, want %q", m["type"], TypeMessageRead)
	}
	if m["messageId"] != "m-7" || m["readBy"] != "u1" {
		t.Errorf("unexpected payload: %v", m)
	}
	if m["readAt"] != float64(1700000000) {
		t.Errorf("readAt = %v, want 1700000000", m["readAt"])
	}
}

func TestEncodePong(t *testing.T) {
	data, err := Encode(PongEvent{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("pong frame = %s", data)
	}
}

func TestEncodeFieldNamesAreCamelCase(t *testing.T) {
	data, err := Encode(UserTypingEvent{ConversationID: "42", UserID: "u1", IsTyping: true})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, field := range []string{`"conversationId"`, `"userId"`, `"isTyping"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("encoded frame missing %s: %s", field, data)
		}
	}
}

func TestEnvelopePreservesRawPayload(t *testing.T) {
	input := `{"type":"typing","conversationId":"42","isTyping":false}`
	var env Envelope
	if err := json.Unmarshal([]byte(input), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != TypeTyping {
		t.Errorf("type = %q, want typing", env.Type)
	}
	if string(env.Raw) != input {
		t.Errorf("raw payload not preserved: %s", env.Raw)
	}
}
