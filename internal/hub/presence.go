package hub

import (
	"log"
	"sync"
	"time"
)

// DefaultTypingWindow is how long a typing indicator stays fresh without
// being refreshed. Clients that disconnect mid-type never send typing=false,
// so entries older than the window are treated as stale.
const DefaultTypingWindow = 10 * time.Second

type typingKey struct {
	ConversationID string
	UserID         string
}

// Presence tracks ephemeral per-conversation typing state. It is pure
// in-memory, broadcast-only, and never persisted. Entries are keyed by
// (conversation, user) and carry only the last refresh time; an entry exists
// iff the user most recently reported typing=true.
//
// The map is owned exclusively by this type and mutated only through its own
// methods.
type Presence struct {
	mu     sync.Mutex
	typing map[typingKey]time.Time
	window time.Duration
}

// NewPresence creates a Presence tracker with the given staleness window.
// A zero window falls back to DefaultTypingWindow.
func NewPresence(window time.Duration) *Presence {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &Presence{
		typing: make(map[typingKey]time.Time),
		window: window,
	}
}

// SetTyping overwrites the typing state for a (conversation, user) pair.
// No history is kept: typing=true refreshes the entry, typing=false deletes it.
func (p *Presence) SetTyping(conversationID, userID string, isTyping bool) {
	key := typingKey{ConversationID: conversationID, UserID: userID}
	p.mu.Lock()
	defer p.mu.Unlock()

	if isTyping {
		p.typing[key] = time.Now()
	} else {
		delete(p.typing, key)
	}
}

// IsTyping reports whether the user is typing in the conversation, treating
// entries older than the staleness window as not typing.
func (p *Presence) IsTyping(conversationID, userID string) bool {
	key := typingKey{ConversationID: conversationID, UserID: userID}
	p.mu.Lock()
	defer p.mu.Unlock()

	at, ok := p.typing[key]
	if !ok {
		return false
	}
	if time.Since(at) > p.window {
		delete(p.typing, key)
		return false
	}
	return true
}

// TypingIn returns the users currently typing in a conversation, filtering
// out stale entries.
func (p *Presence) TypingIn(conversationID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var users []string
	for key, at := range p.typing {
		if key.ConversationID != conversationID {
			continue
		}
		if now.Sub(at) > p.window {
			delete(p.typing, key)
			continue
		}
		users = append(users, key.UserID)
	}
	return users
}

// ClearUser drops every typing entry for a user across all conversations.
// Called when the user's last session closes so a dangling typing=true never
// outlives its session.
func (p *Presence) ClearUser(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key := range p.typing {
		if key.UserID == userID {
			delete(p.typing, key)
		}
	}
}

// Count returns the number of live (possibly stale) typing entries.
func (p *Presence) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.typing)
}

// StartReaper begins a background goroutine that periodically evicts stale
// typing entries, so state from vanished clients does not linger until the
// next read. It returns immediately; the goroutine exits when done is closed.
func (p *Presence) StartReaper(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.reap()
			}
		}
	}()
}

func (p *Presence) reap() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for key, at := range p.typing {
		if now.Sub(at) > p.window {
			log.Printf("hub: reaping stale typing state conversation=%s user=%s age=%s",
				key.ConversationID, key.UserID, now.Sub(at).Round(time.Second))
			delete(p.typing, key)
		}
	}
}
