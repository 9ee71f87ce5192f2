// Package boardsync is the client-side half of the collaboration protocol:
// a normalized in-memory board state that applies local optimistic
// mutations immediately and merges incoming broadcast events, plus the
// websocket client that feeds it.
package boardsync

import (
	"sort"
	"sync"

	"github.com/fogjoe/online-collaborative-project-sub000/internal/realtime"
)

// Store holds one open project's board state: each list's ordered card
// sequence, the project member roster, and the live-viewer roster. All
// methods are safe for concurrent use.
//
// Self-originated filtering is per user, not per connection: the wire
// events only carry the actor's user identity, so a second device of the
// same user also drops that user's events and relies on the refetch path.
type Store struct {
	mu     sync.RWMutex
	selfID string

	lists    map[string][]realtime.CardPayload // listID -> cards ordered by order key
	members  []realtime.Actor                  // persisted project members
	viewers  []realtime.PresenceUser           // live viewers, per connection
	comments map[string][]realtime.CommentPayload

	openCardID string
	openCard   realtime.CardPayload

	// refetch is invoked when local state can no longer be trusted (a
	// rejected optimistic mutation). The optimistic model is "apply now,
	// reconcile or refetch", never a compensating inverse.
	refetch func()
}

// NewStore creates a board state store for the given local user.
func NewStore(selfUserID string, refetch func()) *Store {
	return &Store{
		selfID:   selfUserID,
		lists:    make(map[string][]realtime.CardPayload),
		comments: make(map[string][]realtime.CommentPayload),
		refetch:  refetch,
	}
}

// Bootstrap replaces the whole board state with a canonical snapshot from
// the REST layer.
func (s *Store) Bootstrap(cards []realtime.CardPayload, members []realtime.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists = make(map[string][]realtime.CardPayload)
	for _, card := range cards {
		s.lists[card.ListID] = append(s.lists[card.ListID], card)
	}
	for listID := range s.lists {
		sortCards(s.lists[listID])
	}
	s.members = append([]realtime.Actor(nil), members...)
}

// Cards returns a copy of a list's ordered card sequence.
func (s *Store) Cards(listID string) []realtime.CardPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]realtime.CardPayload(nil), s.lists[listID]...)
}

// Card locates a card by id across all lists.
func (s *Store) Card(cardID string) (realtime.CardPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cards := range s.lists {
		for _, card := range cards {
			if card.ID == cardID {
				return card, true
			}
		}
	}
	return realtime.CardPayload{}, false
}

// Members returns the persisted project member roster.
func (s *Store) Members() []realtime.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]realtime.Actor(nil), s.members...)
}

// Viewers returns the live-viewer roster, one entry per connection.
func (s *Store) Viewers() []realtime.PresenceUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]realtime.PresenceUser(nil), s.viewers...)
}

// Comments returns a card's comment thread.
func (s *Store) Comments(cardID string) []realtime.CommentPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]realtime.CommentPayload(nil), s.comments[cardID]...)
}

// OpenCard marks a card as the currently open detail view and returns its
// current state.
func (s *Store) OpenCard(cardID string) (realtime.CardPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cards := range s.lists {
		for _, card := range cards {
			if card.ID == cardID {
				s.openCardID = cardID
				s.openCard = card
				return card, true
			}
		}
	}
	return realtime.CardPayload{}, false
}

// OpenCardState returns the detail-view copy, which is maintained
// independently of the list map.
func (s *Store) OpenCardState() (realtime.CardPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.openCardID == "" {
		return realtime.CardPayload{}, false
	}
	return s.openCard, true
}

// CloseCard clears the open detail view.
func (s *Store) CloseCard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openCardID = ""
	s.openCard = realtime.CardPayload{}
}

// Invalidate throws the local state away and asks the owner to refetch the
// canonical board. Called when a REST mutation's optimistic update is
// rejected by the server.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.lists = make(map[string][]realtime.CardPayload)
	s.comments = make(map[string][]realtime.CommentPayload)
	refetch := s.refetch
	s.mu.Unlock()
	if refetch != nil {
		refetch()
	}
}

// Apply merges one broadcast event into the store. Events whose actor is
// the local user are discarded (the optimistic mutation already applied
// them); comment-added is the exception and always applies. Every merge is
// an idempotent patch: replaying an event leaves the state unchanged.
func (s *Store) Apply(event realtime.Event) {
	if actor, ok := eventActor(event); ok && actor.ID == s.selfID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case realtime.CardCreated:
		s.applyCardCreated(e)
	case realtime.CardUpdated:
		s.applyCardUpdated(e)
	case realtime.CardMoved:
		s.applyCardMoved(e)
	case realtime.CardDeleted:
		s.removeCard(e.CardID)
	case realtime.CommentAdded:
		s.applyCommentAdded(e)
	case realtime.MemberJoined:
		s.applyMemberJoined(e)
	case realtime.ListCreated:
		if _, ok := s.lists[e.List.ID]; !ok {
			s.lists[e.List.ID] = nil
		}
	case realtime.AttachmentUpdated:
		s.applyAttachmentUpdated(e)
	case realtime.PresenceJoined:
		s.applyPresenceJoined(e)
	case realtime.PresenceLeft:
		s.applyPresenceLeft(e)
	case realtime.PresenceRoster:
		s.viewers = append([]realtime.PresenceUser(nil), e.Users...)
	}
}

func eventActor(event realtime.Event) (realtime.Actor, bool) {
	switch e := event.(type) {
	case realtime.CardCreated:
		return e.Actor, true
	case realtime.CardUpdated:
		return e.Actor, true
	case realtime.CardMoved:
		return e.Actor, true
	case realtime.CardDeleted:
		return e.Actor, true
	case realtime.MemberJoined:
		return e.Actor, true
	case realtime.ListCreated:
		return e.Actor, true
	case realtime.AttachmentUpdated:
		return e.Actor, true
	default:
		// comment:added and presence events apply unconditionally.
		return realtime.Actor{}, false
	}
}

func (s *Store) applyCardCreated(e realtime.CardCreated) {
	listID := e.Card.ListID
	for _, card := range s.lists[listID] {
		if card.ID == e.Card.ID {
			return // replay
		}
	}
	s.lists[listID] = append(s.lists[listID], e.Card)
	sortCards(s.lists[listID])
}

// applyCardUpdated merges only the fields present in the event; the card is
// looked up across all lists because the receiver may not know which list
// currently holds it.
func (s *Store) applyCardUpdated(e realtime.CardUpdated) {
	card, listID, idx := s.locate(e.CardID)
	if idx < 0 {
		return
	}
	if e.Changes.Title != nil {
		card.Title = *e.Changes.Title
	}
	if e.Changes.Description != nil {
		card.Description = *e.Changes.Description
	}
	if e.Changes.Labels != nil {
		card.Labels = append([]string(nil), (*e.Changes.Labels)...)
	}
	if e.Changes.ClearDue {
		card.DueDate = nil
	} else if e.Changes.DueDate != nil {
		due := *e.Changes.DueDate
		card.DueDate = &due
	}
	s.lists[listID][idx] = card
	if s.openCardID == card.ID {
		s.openCard = card
	}
}

func (s *Store) applyCardMoved(e realtime.CardMoved) {
	card, _, idx := s.locate(e.CardID)
	if idx < 0 {
		return
	}
	s.removeCard(e.CardID)
	card.ListID = e.ToListID
	card.Order = e.NewOrder
	s.lists[e.ToListID] = append(s.lists[e.ToListID], card)
	sortCards(s.lists[e.ToListID])
}

func (s *Store) applyCommentAdded(e realtime.CommentAdded) {
	for _, existing := range s.comments[e.CardID] {
		if existing.ID == e.Comment.ID {
			return
		}
	}
	s.comments[e.CardID] = append(s.comments[e.CardID], e.Comment)
}

func (s *Store) applyMemberJoined(e realtime.MemberJoined) {
	for _, member := range s.members {
		if member.ID == e.Member.ID {
			return
		}
	}
	s.members = append(s.members, e.Member)
}

// applyAttachmentUpdated replaces the attachments array wholesale for the
// matching card, and updates the open detail view's copy independently.
func (s *Store) applyAttachmentUpdated(e realtime.AttachmentUpdated) {
	if card, listID, idx := s.locate(e.CardID); idx >= 0 {
		card.Attachments = append([]realtime.AttachmentPayload(nil), e.Attachments...)
		s.lists[listID][idx] = card
	}
	if s.openCardID == e.CardID {
		s.openCard.Attachments = append([]realtime.AttachmentPayload(nil), e.Attachments...)
	}
}

func (s *Store) applyPresenceJoined(e realtime.PresenceJoined) {
	for _, viewer := range s.viewers {
		if viewer.ConnID == e.User.ConnID {
			return
		}
	}
	s.viewers = append(s.viewers, e.User)
}

func (s *Store) applyPresenceLeft(e realtime.PresenceLeft) {
	kept := s.viewers[:0]
	for _, viewer := range s.viewers {
		if viewer.ConnID == e.ConnID {
			continue
		}
		kept = append(kept, viewer)
	}
	s.viewers = kept
}

func (s *Store) locate(cardID string) (realtime.CardPayload, string, int) {
	for listID, cards := range s.lists {
		for i, card := range cards {
			if card.ID == cardID {
				return card, listID, i
			}
		}
	}
	return realtime.CardPayload{}, "", -1
}

func (s *Store) removeCard(cardID string) {
	for listID, cards := range s.lists {
		for i, card := range cards {
			if card.ID == cardID {
				s.lists[listID] = append(cards[:i:i], cards[i+1:]...)
				return
			}
		}
	}
}

func sortCards(cards []realtime.CardPayload) {
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Order == cards[j].Order {
			return cards[i].ID < cards[j].ID
		}
		return cards[i].Order < cards[j].Order
	})
}
