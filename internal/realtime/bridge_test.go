package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFrame(t *testing.T, data []byte) Event {
	t.Helper()
	event, err := Decode(data)
	require.NoError(t, err)
	return event
}

func TestBridge_PublishReachesEveryMemberIncludingActor(t *testing.T) {
	r := NewRegistry()
	bridge := NewBridge(r)
	actor := &mockConn{id: "conn-actor"}
	other := &mockConn{id: "conn-other"}
	r.Join("42", actor, presence("u1", time.Now()))
	r.Join("42", other, presence("u2", time.Now()))

	bridge.Publish(CardDeleted{ProjectID: "42", CardID: "c7", ListID: "l1", Actor: Actor{ID: "u1"}})

	require.Len(t, actor.frames(), 1, "self-filtering is a client concern, not the bridge's")
	require.Len(t, other.frames(), 1)

	event := decodeFrame(t, other.frames()[0])
	deleted, ok := event.(CardDeleted)
	require.True(t, ok)
	assert.Equal(t, "c7", deleted.CardID)
}

func TestBridge_PublishDoesNotCrossRooms(t *testing.T) {
	r := NewRegistry()
	bridge := NewBridge(r)
	in := &mockConn{id: "conn-in"}
	out := &mockConn{id: "conn-out"}
	r.Join("42", in, presence("u1", time.Now()))
	r.Join("43", out, presence("u2", time.Now()))

	bridge.Publish(ListCreated{ProjectID: "42", List: ListPayload{ID: "l1", ProjectID: "42", Title: "Doing"}})

	assert.Len(t, in.frames(), 1)
	assert.Empty(t, out.frames())
}

func TestBridge_PublishExceptSkipsNamedConnection(t *testing.T) {
	r := NewRegistry()
	bridge := NewBridge(r)
	joiner := &mockConn{id: "conn-joiner"}
	other := &mockConn{id: "conn-other"}
	r.Join("42", joiner, presence("u1", time.Now()))
	r.Join("42", other, presence("u2", time.Now()))

	bridge.PublishExcept(PresenceJoined{ProjectID: "42", User: presence("u1", time.Now())}, "conn-joiner")

	assert.Empty(t, joiner.frames())
	assert.Len(t, other.frames(), 1)
}

func TestBridge_DeliveryFailureIsSwallowed(t *testing.T) {
	r := NewRegistry()
	bridge := NewBridge(r)
	dead := &mockConn{id: "conn-dead", sendErr: errors.New("socket mid-disconnect")}
	live := &mockConn{id: "conn-live"}
	r.Join("42", dead, presence("u1", time.Now()))
	r.Join("42", live, presence("u2", time.Now()))

	// Must not panic, retry, or affect delivery to the live member.
	bridge.Publish(CommentAdded{ProjectID: "42", CardID: "c1", Comment: CommentPayload{ID: "cm1", Body: "hi"}})

	assert.Len(t, live.frames(), 1)
	assert.Empty(t, dead.frames())
}

func TestBridge_PublishToEmptyRoomIsNoOp(t *testing.T) {
	bridge := NewBridge(NewRegistry())
	bridge.Publish(CardMoved{ProjectID: "nowhere", CardID: "c1"})
}
