package ws

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/waboard/realtime/internal/hub"
	"github.com/waboard/realtime/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) WriteMessage(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), data...))
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) last(t *testing.T) map[string]interface{} {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		t.Fatal("no frames recorded")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(r.frames[len(r.frames)-1], &m); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	return m
}

type markReadCall struct {
	messageID string
	readerID  string
}

type fakeMessages struct {
	mu     sync.Mutex
	calls  []markReadCall
	readAt time.Time
	err    error
}

func (f *fakeMessages) MarkRead(ctx context.Context, messageID, readerID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, markReadCall{messageID, readerID})
	return f.readAt, f.err
}

func activate(t *testing.T, h *hub.Hub, userID string, role hub.Role) (*hub.Session, *recorder) {
	t.Helper()
	r := &recorder{}
	s := h.StartSession(r)
	if err := h.Authenticate(s, userID, role); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := h.Activate(s); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return s, r
}

func TestMarkReadCallsStoreOnceAndBroadcastsToAll(t *testing.T) {
	h := hub.New(hub.DefaultConfig())
	sender, senderR := activate(t, h, "u1", hub.RoleUser)
	_, adminR := activate(t, h, "a1", hub.RoleAdmin)

	messages := &fakeMessages{readAt: time.Unix(1700000000, 0)}
	d := NewMessageDispatcher(nil)
	RegisterHandlers(d, h, nil, messages)

	conn := &Connection{ID: sender.ID, Session: sender}
	d.Dispatch(conn, []byte(`{"type":"mark_read","messageId":"m-7"}`))

	if len(messages.calls) != 1 {
		t.Fatalf("store MarkRead called %d times, want exactly once", len(messages.calls))
	}
	if got := messages.calls[0]; got.messageID != "m-7" || got.readerID != "u1" {
		t.Fatalf("MarkRead called with %+v, want (m-7, u1)", got)
	}

	// Read receipts are broadcast to every connected session, the sender
	// included, not just the conversation's members.
	for name, r := range map[string]*recorder{"sender": senderR, "admin": adminR} {
		if r.count() != 1 {
			t.Fatalf("%s received %d frames, want 1", name, r.count())
		}
		frame := r.last(t)
		if frame["type"] != "message_read" {
			t.Errorf("%s got %v, want message_read", name, frame["type"])
		}
		if frame["messageId"] != "m-7" || frame["readBy"] != "u1" {
			t.Errorf("%s got unexpected payload: %v", name, frame)
		}
		if frame["readAt"] != float64(1700000000) {
			t.Errorf("%s got readAt %v, want 1700000000", name, frame["readAt"])
		}
	}
}

func TestMarkReadUnknownMessage(t *testing.T) {
	h := hub.New(hub.DefaultConfig())
	sender, _ := activate(t, h, "u1", hub.RoleUser)
	_, otherR := activate(t, h, "u2", hub.RoleUser)

	messages := &fakeMessages{err: store.ErrMessageNotFound}
	srv := NewServer(DefaultServerConfig(), h, nil, nil)
	d := NewMessageDispatcher(srv)
	RegisterHandlers(d, h, nil, messages)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	conn := &Connection{ID: sender.ID, Session: sender, Conn: server, WriteTimeout: time.Second}

	frameCh := make(chan []byte, 1)
	go func() {
		data, err := wsutil.ReadServerText(client)
		if err != nil {
			frameCh <- nil
			return
		}
		frameCh <- data
	}()

	d.Dispatch(conn, []byte(`{"type":"mark_read","messageId":"ghost"}`))

	frame := <-frameCh
	if frame == nil {
		t.Fatal("no error frame received")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(frame, &m); err != nil {
		t.Fatalf("failed to decode error frame: %v", err)
	}
	if m["type"] != "error" || m["code"] != "unknown_message" {
		t.Errorf("unexpected error frame: %v", m)
	}

	if len(messages.calls) != 1 {
		t.Fatalf("store MarkRead called %d times, want 1", len(messages.calls))
	}
	if otherR.count() != 0 {
		t.Error("receipt broadcast despite the store rejecting the message")
	}
}

func TestJoinAndTypingThroughDispatcher(t *testing.T) {
	h := hub.New(hub.DefaultConfig())
	sender, senderR := activate(t, h, "u1", hub.RoleUser)
	watcher, watcherR := activate(t, h, "u2", hub.RoleUser)
	if err := h.JoinConversation(watcher, "42"); err != nil {
		t.Fatal(err)
	}

	d := NewMessageDispatcher(nil)
	RegisterHandlers(d, h, nil, &fakeMessages{})

	conn := &Connection{ID: sender.ID, Session: sender}
	d.Dispatch(conn, []byte(`{"type":"join_conversation","conversationId":"42"}`))
	d.Dispatch(conn, []byte(`{"type":"typing","conversationId":"42","isTyping":true}`))

	if watcherR.count() != 1 {
		t.Fatalf("watcher received %d frames, want 1", watcherR.count())
	}
	frame := watcherR.last(t)
	if frame["type"] != "user_typing" || frame["userId"] != "u1" {
		t.Errorf("unexpected typing frame: %v", frame)
	}
	if senderR.count() != 0 {
		t.Error("sender received its own typing echo")
	}

	d.Dispatch(conn, []byte(`{"type":"leave_conversation","conversationId":"42"}`))
	d.Dispatch(&Connection{ID: watcher.ID, Session: watcher},
		[]byte(`{"type":"typing","conversationId":"42","isTyping":true}`))
	if senderR.count() != 0 {
		t.Error("typing delivered to a session that left the conversation")
	}
}
