package boardsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogjoe/online-collaborative-project-sub000/internal/realtime"
)

func card(id, listID string, order float64) realtime.CardPayload {
	return realtime.CardPayload{
		ID:          id,
		ListID:      listID,
		ProjectID:   "42",
		Title:       "card " + id,
		Description: "desc " + id,
		Labels:      []string{"red"},
		Order:       order,
	}
}

func seededStore(selfID string) *Store {
	s := NewStore(selfID, nil)
	s.Bootstrap([]realtime.CardPayload{
		card("c1", "l1", 1),
		card("c7", "l1", 2),
		card("c3", "l2", 1),
	}, []realtime.Actor{{ID: "u1", Name: "Avery"}})
	return s
}

func cardIDs(cards []realtime.CardPayload) []string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}

func TestStore_SelfOriginatedEventsAreDiscarded(t *testing.T) {
	s := seededStore("u9")
	title := "changed"

	s.Apply(realtime.CardUpdated{
		ProjectID: "42",
		CardID:    "c1",
		Changes:   realtime.CardChanges{Title: &title},
		Actor:     realtime.Actor{ID: "u9"},
	})

	got, ok := s.Card("c1")
	require.True(t, ok)
	assert.Equal(t, "card c1", got.Title, "own broadcast must be a no-op on the initiating client")
}

func TestStore_PartialUpdateLeavesAbsentFieldsUntouched(t *testing.T) {
	s := seededStore("u3")
	title := "renamed"

	s.Apply(realtime.CardUpdated{
		ProjectID: "42",
		CardID:    "c7",
		Changes:   realtime.CardChanges{Title: &title},
		Actor:     realtime.Actor{ID: "u9"},
	})

	got, ok := s.Card("c7")
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, "desc c7", got.Description)
	assert.Equal(t, []string{"red"}, got.Labels)
	assert.Nil(t, got.DueDate)
}

func TestStore_UpdateLocatesCardAcrossLists(t *testing.T) {
	s := seededStore("u3")
	desc := "found in l2"

	s.Apply(realtime.CardUpdated{
		ProjectID: "42",
		CardID:    "c3", // lives in l2, receiver must not assume a list
		Changes:   realtime.CardChanges{Description: &desc},
		Actor:     realtime.Actor{ID: "u9"},
	})

	got, ok := s.Card("c3")
	require.True(t, ok)
	assert.Equal(t, "found in l2", got.Description)
}

func TestStore_CardMovedBetweenLists(t *testing.T) {
	s := seededStore("u3")

	// The §8-style move: local user is not the actor, card must hop lists
	// and land sorted by its new order key.
	s.Apply(realtime.CardMoved{
		ProjectID:  "42",
		CardID:     "c7",
		FromListID: "l1",
		ToListID:   "l2",
		NewOrder:   5.5,
		Actor:      realtime.Actor{ID: "u9"},
	})

	assert.Equal(t, []string{"c1"}, cardIDs(s.Cards("l1")))
	assert.Equal(t, []string{"c3", "c7"}, cardIDs(s.Cards("l2")))
	moved, _ := s.Card("c7")
	assert.Equal(t, 5.5, moved.Order)
	assert.Equal(t, "l2", moved.ListID)
}

func TestStore_CardCreatedAppendsSorted(t *testing.T) {
	s := seededStore("u3")

	created := card("c0", "l1", 1.5)
	event := realtime.CardCreated{ProjectID: "42", Card: created, Actor: realtime.Actor{ID: "u9"}}
	s.Apply(event)
	s.Apply(event) // replay must not duplicate

	assert.Equal(t, []string{"c1", "c0", "c7"}, cardIDs(s.Cards("l1")))
}

func TestStore_CardDeletedRemovesWhereverFound(t *testing.T) {
	s := seededStore("u3")

	s.Apply(realtime.CardDeleted{ProjectID: "42", CardID: "c3", ListID: "l2", Actor: realtime.Actor{ID: "u9"}})

	_, ok := s.Card("c3")
	assert.False(t, ok)
	assert.Empty(t, s.Cards("l2"))
}

func TestStore_MemberJoinedDedupesByID(t *testing.T) {
	s := seededStore("u3")

	event := realtime.MemberJoined{
		ProjectID: "42",
		Member:    realtime.Actor{ID: "u2", Name: "Blake"},
		Actor:     realtime.Actor{ID: "u9"},
	}
	s.Apply(event)
	s.Apply(event)

	require.Len(t, s.Members(), 2)
	assert.Equal(t, "u2", s.Members()[1].ID)
}

func TestStore_AttachmentsReplacedWholesaleAndOnOpenCard(t *testing.T) {
	s := seededStore("u3")
	_, ok := s.OpenCard("c7")
	require.True(t, ok)

	atts := []realtime.AttachmentPayload{{ID: "a1", Hash: "abc", Filename: "mockups.pdf", Size: 9}}
	s.Apply(realtime.AttachmentUpdated{
		ProjectID:   "42",
		CardID:      "c7",
		Attachments: atts,
		Actor:       realtime.Actor{ID: "u9"},
	})

	inList, _ := s.Card("c7")
	assert.Equal(t, atts, inList.Attachments)

	open, ok := s.OpenCardState()
	require.True(t, ok)
	assert.Equal(t, atts, open.Attachments, "detail view copy updates independently")
}

func TestStore_CommentAddedAppliesWithoutSelfFilter(t *testing.T) {
	s := seededStore("u3")

	// comment:added carries no actor; even the author's client applies it.
	event := realtime.CommentAdded{
		ProjectID: "42",
		CardID:    "c1",
		Comment:   realtime.CommentPayload{ID: "cm1", CardID: "c1", AuthorID: "u3", Body: "looks good"},
	}
	s.Apply(event)
	s.Apply(event)

	require.Len(t, s.Comments("c1"), 1)
	assert.Equal(t, "looks good", s.Comments("c1")[0].Body)
}

func TestStore_PresenceRosterAndIncrementalUpdates(t *testing.T) {
	s := seededStore("u3")
	now := time.Now()

	s.Apply(realtime.PresenceRoster{ProjectID: "42", Users: []realtime.PresenceUser{
		{ConnID: "conn-a", UserID: "u1", JoinedAt: now},
	}})
	require.Len(t, s.Viewers(), 1)

	joined := realtime.PresenceJoined{ProjectID: "42", User: realtime.PresenceUser{ConnID: "conn-b", UserID: "u2", JoinedAt: now}}
	s.Apply(joined)
	s.Apply(joined) // dedupe by connection id
	require.Len(t, s.Viewers(), 2)

	s.Apply(realtime.PresenceLeft{ProjectID: "42", ConnID: "conn-a", UserID: "u1"})
	require.Len(t, s.Viewers(), 1)
	assert.Equal(t, "u2", s.Viewers()[0].UserID)

	// Roster snapshot replaces wholesale.
	s.Apply(realtime.PresenceRoster{ProjectID: "42", Users: nil})
	assert.Empty(t, s.Viewers())
}

func TestStore_InvalidateTriggersRefetch(t *testing.T) {
	refetched := false
	s := NewStore("u3", func() { refetched = true })
	s.Bootstrap([]realtime.CardPayload{card("c1", "l1", 1)}, nil)

	s.Invalidate()

	assert.True(t, refetched)
	assert.Empty(t, s.Cards("l1"), "state is dropped, not patched back")
}
