package realtime

import (
	"sort"
	"sync"
	"time"
)

// Conn is the send capability the registry holds per connection.
type Conn interface {
	ID() string
	Send(data []byte) error
}

type member struct {
	conn     Conn
	presence PresenceUser
}

// Registry is the in-memory presence state: which connections are in which
// project rooms, and the inverse. It is owned by the gateway; the bridge
// only reads it. A fresh instance per test keeps tests isolated.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]member   // projectID -> connID -> member
	connRooms map[string]map[string]struct{} // connID -> projectIDs
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[string]map[string]member),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Join adds a connection to a room and returns the room's full roster,
// including the joiner, ordered by join time. Joining a room twice refreshes
// the presence record rather than duplicating it.
func (r *Registry) Join(projectID string, conn Conn, user PresenceUser) []PresenceUser {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[projectID]
	if !ok {
		room = make(map[string]member)
		r.rooms[projectID] = room
	}
	if user.JoinedAt.IsZero() {
		user.JoinedAt = time.Now()
	}
	user.ConnID = conn.ID()
	room[conn.ID()] = member{conn: conn, presence: user}

	joined, ok := r.connRooms[conn.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.connRooms[conn.ID()] = joined
	}
	joined[projectID] = struct{}{}

	return rosterLocked(room)
}

// Leave removes a connection from a room. It is idempotent: leaving a room
// the connection is not in reports ok=false and changes nothing. An empty
// room is dropped from the map.
func (r *Registry) Leave(projectID, connID string) (PresenceUser, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(projectID, connID)
}

func (r *Registry) leaveLocked(projectID, connID string) (PresenceUser, bool) {
	room, ok := r.rooms[projectID]
	if !ok {
		return PresenceUser{}, false
	}
	m, ok := room[connID]
	if !ok {
		return PresenceUser{}, false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, projectID)
	}

	if joined, ok := r.connRooms[connID]; ok {
		delete(joined, projectID)
		if len(joined) == 0 {
			delete(r.connRooms, connID)
		}
	}
	return m.presence, true
}

// Left is one room membership given up during a disconnect sweep.
type Left struct {
	ProjectID string
	User      PresenceUser
}

// LeaveAll removes a connection from every room it joined and returns what
// was left, so the caller can broadcast the departures. After LeaveAll no
// trace of the connection remains on either side of the mapping.
func (r *Registry) LeaveAll(connID string) []Left {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.connRooms[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(joined))
	for projectID := range joined {
		rooms = append(rooms, projectID)
	}
	sort.Strings(rooms)

	var left []Left
	for _, projectID := range rooms {
		if user, ok := r.leaveLocked(projectID, connID); ok {
			left = append(left, Left{ProjectID: projectID, User: user})
		}
	}
	return left
}

// Members returns a snapshot of the room's connections. Broadcast iterates
// the snapshot, so join/leave during delivery cannot race the iteration.
func (r *Registry) Members(projectID string) []Conn {
	return r.membersExcept(projectID, "")
}

// MembersExcept returns the room snapshot without the named connection.
func (r *Registry) MembersExcept(projectID, exceptConnID string) []Conn {
	return r.membersExcept(projectID, exceptConnID)
}

func (r *Registry) membersExcept(projectID, exceptConnID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[projectID]
	conns := make([]Conn, 0, len(room))
	for connID, m := range room {
		if connID == exceptConnID {
			continue
		}
		conns = append(conns, m.conn)
	}
	return conns
}

// Roster returns the room's presence records ordered by join time.
func (r *Registry) Roster(projectID string) []PresenceUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return rosterLocked(r.rooms[projectID])
}

// Rooms returns the project ids a connection has joined.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.connRooms[connID]
	rooms := make([]string, 0, len(joined))
	for projectID := range joined {
		rooms = append(rooms, projectID)
	}
	sort.Strings(rooms)
	return rooms
}

// Stats reports the current room and connection counts.
func (r *Registry) Stats() (rooms, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.connRooms)
}

func rosterLocked(room map[string]member) []PresenceUser {
	users := make([]PresenceUser, 0, len(room))
	for _, m := range room {
		users = append(users, m.presence)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].ConnID < users[j].ConnID
		}
		return users[i].JoinedAt.Before(users[j].JoinedAt)
	})
	return users
}
