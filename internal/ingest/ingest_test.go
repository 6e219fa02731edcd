package ingest

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/waboard/realtime/internal/hub"
)

type frameWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *frameWriter) WriteMessage(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte(nil), data...))
	return nil
}

func (w *frameWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func (w *frameWriter) lastType(t *testing.T) string {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		t.Fatal("no frames recorded")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(w.frames[len(w.frames)-1], &m); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	typ, _ := m["type"].(string)
	return typ
}

type fakeOffline struct {
	notified []string
}

func (f *fakeOffline) PublishOfflineNotify(userID string, data []byte) error {
	f.notified = append(f.notified, userID)
	return nil
}

func connect(t *testing.T, h *hub.Hub, userID string, role hub.Role) *frameWriter {
	t.Helper()
	w := &frameWriter{}
	s := h.StartSession(w)
	if err := h.Authenticate(s, userID, role); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := h.Activate(s); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return w
}

func TestHandleDeliversToUserAndAdmins(t *testing.T) {
	h := hub.New(hub.DefaultConfig())
	userW := connect(t, h, "u1", hub.RoleUser)
	adminW := connect(t, h, "a1", hub.RoleAdmin)
	otherW := connect(t, h, "u2", hub.RoleUser)

	offline := &fakeOffline{}
	c := NewConsumer(h, offline)

	payload, _ := json.Marshal(InboundMessage{
		MessageID: "m1", ConversationID: "42", UserID: "u1",
		From: "+15551234567", Body: "hello", SentAt: 1700000000,
	})
	c.Handle(payload)

	if userW.count() != 1 {
		t.Errorf("target user received %d frames, want 1", userW.count())
	}
	if userW.lastType(t) != "new_message" {
		t.Errorf("target user got %q, want new_message", userW.lastType(t))
	}
	if adminW.count() != 1 {
		t.Errorf("admin received %d frames, want 1", adminW.count())
	}
	if otherW.count() != 0 {
		t.Errorf("unrelated user received %d frames, want 0", otherW.count())
	}
	if len(offline.notified) != 0 {
		t.Errorf("offline fallback triggered for an online user: %v", offline.notified)
	}
}

func TestHandleOfflineFallback(t *testing.T) {
	h := hub.New(hub.DefaultConfig())
	offline := &fakeOffline{}
	c := NewConsumer(h, offline)

	payload, _ := json.Marshal(InboundMessage{
		MessageID: "m1", ConversationID: "42", UserID: "ghost",
	})
	c.Handle(payload)

	if len(offline.notified) != 1 || offline.notified[0] != "ghost" {
		t.Errorf("expected one offline notification for ghost, got %v", offline.notified)
	}
}

func TestHandleFallbackDespiteAdminDelivery(t *testing.T) {
	// The target user is offline but an admin is watching; the fallback still
	// fires because it is keyed on the target user's sessions, not on total
	// delivery count.
	h := hub.New(hub.DefaultConfig())
	connect(t, h, "a1", hub.RoleAdmin)
	offline := &fakeOffline{}
	c := NewConsumer(h, offline)

	payload, _ := json.Marshal(InboundMessage{MessageID: "m1", UserID: "ghost"})
	c.Handle(payload)

	if len(offline.notified) != 1 {
		t.Errorf("expected offline fallback for offline target, got %v", offline.notified)
	}
}

func TestHandleIgnoresBadInput(t *testing.T) {
	h := hub.New(hub.DefaultConfig())
	offline := &fakeOffline{}
	c := NewConsumer(h, offline)

	c.Handle([]byte(`{not json`))
	c.Handle([]byte(`{"messageId":"m1"}`)) // no target user

	if len(offline.notified) != 0 {
		t.Errorf("malformed input triggered fallback: %v", offline.notified)
	}
}
