package realtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	id       string
	mu       sync.Mutex
	received [][]byte
	sendErr  error
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

func presence(userID string, at time.Time) PresenceUser {
	return PresenceUser{UserID: userID, Name: "user " + userID, JoinedAt: at}
}

// requireConsistent checks the core invariant: every room's member set and
// every connection's joined-room set are mutual inverses.
func requireConsistent(t *testing.T, r *Registry, conns []*mockConn) {
	t.Helper()
	for _, conn := range conns {
		for _, projectID := range r.Rooms(conn.id) {
			found := false
			for _, member := range r.Members(projectID) {
				if member.ID() == conn.id {
					found = true
				}
			}
			require.True(t, found, "conn %s claims room %s but room roster lacks it", conn.id, projectID)
		}
	}
	rooms := map[string]bool{}
	for _, conn := range conns {
		for _, room := range r.Rooms(conn.id) {
			rooms[room] = true
		}
	}
	for room := range rooms {
		for _, member := range r.Members(room) {
			assert.Contains(t, r.Rooms(member.ID()), room,
				"room %s lists conn %s but the conn's joined set lacks it", room, member.ID())
		}
	}
}

func TestRegistry_JoinReturnsFullRoster(t *testing.T) {
	r := NewRegistry()
	base := time.Now()

	a := &mockConn{id: "conn-a"}
	roster := r.Join("42", a, presence("u1", base))
	require.Len(t, roster, 1)
	assert.Equal(t, "conn-a", roster[0].ConnID)

	b := &mockConn{id: "conn-b"}
	roster = r.Join("42", b, presence("u2", base.Add(time.Second)))
	require.Len(t, roster, 2, "join ack roster must include the joiner itself")
	assert.Equal(t, "u1", roster[0].UserID)
	assert.Equal(t, "u2", roster[1].UserID)

	requireConsistent(t, r, []*mockConn{a, b})
}

func TestRegistry_RejoinDoesNotDuplicate(t *testing.T) {
	r := NewRegistry()
	a := &mockConn{id: "conn-a"}

	r.Join("42", a, presence("u1", time.Now()))
	roster := r.Join("42", a, presence("u1", time.Now()))

	assert.Len(t, roster, 1)
	assert.Len(t, r.Members("42"), 1)
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := &mockConn{id: "conn-a"}
	r.Join("42", a, presence("u1", time.Now()))

	_, ok := r.Leave("42", "conn-a")
	require.True(t, ok)

	_, ok = r.Leave("42", "conn-a")
	assert.False(t, ok, "second leave must be a no-op")
	_, ok = r.Leave("other-room", "conn-a")
	assert.False(t, ok, "leaving a never-joined room must be a no-op")

	rooms, conns := r.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)
}

func TestRegistry_EmptyRoomIsDropped(t *testing.T) {
	r := NewRegistry()
	a := &mockConn{id: "conn-a"}
	b := &mockConn{id: "conn-b"}
	r.Join("42", a, presence("u1", time.Now()))
	r.Join("42", b, presence("u2", time.Now()))

	r.Leave("42", "conn-a")
	rooms, _ := r.Stats()
	assert.Equal(t, 1, rooms)

	r.Leave("42", "conn-b")
	rooms, conns := r.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)
}

func TestRegistry_LeaveAllSweepsEveryRoom(t *testing.T) {
	r := NewRegistry()
	a := &mockConn{id: "conn-a"}
	b := &mockConn{id: "conn-b"}
	base := time.Now()

	r.Join("42", a, presence("u1", base))
	r.Join("42", b, presence("u2", base))
	r.Join("43", b, presence("u2", base))

	left := r.LeaveAll("conn-b")
	require.Len(t, left, 2)
	assert.Equal(t, "42", left[0].ProjectID)
	assert.Equal(t, "43", left[1].ProjectID)
	assert.Equal(t, "u2", left[0].User.UserID)

	// No dangling reference to conn-b anywhere.
	assert.Empty(t, r.Rooms("conn-b"))
	require.Len(t, r.Members("42"), 1)
	assert.Equal(t, "conn-a", r.Members("42")[0].ID())
	assert.Empty(t, r.Members("43"))
	requireConsistent(t, r, []*mockConn{a, b})

	assert.Nil(t, r.LeaveAll("conn-b"), "second sweep must find nothing")
}

func TestRegistry_ConsistencyUnderMixedSequences(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	var conns []*mockConn
	for i := 0; i < 6; i++ {
		conns = append(conns, &mockConn{id: fmt.Sprintf("conn-%d", i)})
	}

	for i, conn := range conns {
		r.Join("p1", conn, presence(fmt.Sprintf("u%d", i), base.Add(time.Duration(i)*time.Millisecond)))
		if i%2 == 0 {
			r.Join("p2", conn, presence(fmt.Sprintf("u%d", i), base.Add(time.Duration(i)*time.Millisecond)))
		}
	}
	r.Leave("p1", "conn-1")
	r.LeaveAll("conn-2")
	r.Leave("p2", "conn-4")
	r.Join("p1", conns[1], presence("u1", base.Add(time.Minute)))

	requireConsistent(t, r, conns)

	roster := r.Roster("p1")
	require.Len(t, roster, 5)
	assert.Equal(t, "conn-1", roster[len(roster)-1].ConnID, "re-joined conn sorts by its new join time")
}

func TestRegistry_MembersExceptSkipsOneConnection(t *testing.T) {
	r := NewRegistry()
	a := &mockConn{id: "conn-a"}
	b := &mockConn{id: "conn-b"}
	r.Join("42", a, presence("u1", time.Now()))
	r.Join("42", b, presence("u2", time.Now()))

	members := r.MembersExcept("42", "conn-a")
	require.Len(t, members, 1)
	assert.Equal(t, "conn-b", members[0].ID())
}
