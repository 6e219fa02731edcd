package hub

import "sync"

// Room name constructors. All room naming goes through these so membership is
// never keyed by ad-hoc strings.

// UserRoom names the room holding every live session of one user (multiple
// tabs/devices map to multiple sessions in the same room).
func UserRoom(userID string) string { return "user:" + userID }

// RoleRoom names the room holding every connected session of a role.
func RoleRoom(role Role) string { return "role:" + string(role) }

// ConversationRoom names the ad-hoc room clients join and leave explicitly.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// Registry is the room membership table: room name -> live session set, plus
// a reverse index so LeaveAll can remove a session from every room it joined
// without scanning. A single mutex guards both maps; registries of this kind
// are not a bottleneck at moderate connection counts, and one lock makes the
// join/leave/dispatch interleavings trivially safe.
//
// All room membership mutation in the repository goes through this type.
// Join and Leave are idempotent; "room doesn't exist" and "session not a
// member" are normal no-ops, never errors.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Session // room -> sessionID -> session
	joined map[string]map[string]struct{} // sessionID -> room set
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]*Session),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds a session to a room. Adding an existing member is a no-op.
//
// A CLOSED session is never inserted. The check happens under the registry
// mutex: Close swaps the session to CLOSED before calling LeaveAll, and
// LeaveAll serializes on this same mutex, so a join racing a concurrent
// close either sees CLOSED here and skips, or inserts first and is removed
// by the LeaveAll that follows. Either way no room retains a closed session.
func (r *Registry) Join(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.State() == StateClosed {
		return
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[room] = members
	}
	members[s.ID] = s

	joined, ok := r.joined[s.ID]
	if !ok {
		joined = make(map[string]struct{})
		r.joined[s.ID] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes a session from a room. Removing a non-member is a no-op.
// Empty rooms are reaped immediately so the table does not accumulate names.
func (r *Registry) Leave(sessionID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sessionID, room)
}

func (r *Registry) leaveLocked(sessionID, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.joined[sessionID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.joined, sessionID)
		}
	}
}

// LeaveAll removes a session from every room it belongs to. It is safe to
// call for an unknown session and safe to call more than once; after it
// returns, no room holds a reference to the session.
func (r *Registry) LeaveAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.joined[sessionID]
	if !ok {
		return
	}
	for room := range joined {
		if members, ok := r.rooms[room]; ok {
			delete(members, sessionID)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.joined, sessionID)
}

// MembersOf returns a snapshot of the room's current live sessions. The
// returned slice is safe to iterate without holding the registry lock. An
// unknown room yields an empty slice.
func (r *Registry) MembersOf(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// MemberCount returns the number of sessions in a room without allocating a
// snapshot. Used for online checks.
func (r *Registry) MemberCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomsOf returns a snapshot of the rooms a session currently belongs to.
func (r *Registry) RoomsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined, ok := r.joined[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	return out
}
