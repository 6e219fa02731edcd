// Package hub implements the real-time notification fan-out core: room
// membership, event dispatch, presence tracking, and the per-connection
// session lifecycle. The Hub is an explicit constructed object — callers
// inject it wherever events need to be emitted or queried, which keeps tests
// isolated (one independent hub per test).
package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Role is the closed set of user roles known to the hub.
type Role string

const (
	RoleUser       Role = "user"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// ParseRole maps a role string from the credential claims onto the closed
// enum. Unknown roles are rejected rather than defaulted.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleManager, RoleAdmin, RoleSuperAdmin:
		return Role(s), nil
	}
	return "", errors.New("hub: unknown role " + s)
}

// Privileged reports whether the role auto-joins its role room on activation.
func (r Role) Privileged() bool {
	return r == RoleManager || r == RoleAdmin || r == RoleSuperAdmin
}

// AdminTier reports whether the role receives cross-cutting admin broadcasts
// in addition to its own role room.
func (r Role) AdminTier() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// State is the session lifecycle state machine. Transitions only move
// forward: CONNECTING -> AUTHENTICATED -> ACTIVE -> CLOSED.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Writer is the transport-side sink for encoded events. The WebSocket layer
// implements it with a mutex-serialized frame write; tests implement it with
// an in-memory recorder.
type Writer interface {
	WriteMessage(data []byte) error
}

// Session is the server-side state of one authenticated connection. It is
// owned by the Hub for its lifetime; rooms hold references to it through the
// Registry and never outlive it — Close removes every membership edge.
type Session struct {
	ID          string
	UserID      string
	Role        Role
	ConnectedAt time.Time

	writer       Writer
	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos

	closeMu sync.Mutex
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Touch records activity on the session. Any inbound frame counts.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivityAt returns the time of the most recent inbound activity.
func (s *Session) LastActivityAt() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// write sends encoded bytes to the session's transport.
func (s *Session) write(data []byte) error {
	return s.writer.WriteMessage(data)
}
