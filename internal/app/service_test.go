package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fogjoe/online-collaborative-project-sub000/internal/authpw"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/config"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/realtime"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/store"
)

// fakeStore is an in-memory dataStore. All state is keyed by id so tests can
// seed and inspect it directly.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	projects    map[string]store.Project
	members     map[string][]string // projectID -> userIDs
	lists       map[string]store.List
	cards       map[string]store.Card
	comments    map[string][]store.Comment
	attachments map[string][]store.Attachment
	activities  []store.Activity
	due         []store.DueCard
	reminded    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		projects:    make(map[string]store.Project),
		members:     make(map[string][]string),
		lists:       make(map[string]store.List),
		cards:       make(map[string]store.Card),
		comments:    make(map[string][]store.Comment),
		attachments: make(map[string][]store.Attachment),
		reminded:    make(map[string]bool),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) CreateProject(_ context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[project.ID] = project
	f.members[project.ID] = append(f.members[project.ID], project.OwnerID)
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, store.ErrNotFound
	}
	return project, nil
}

func (f *fakeStore) ListProjectsForUser(_ context.Context, userID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var projects []store.Project
	for projectID, userIDs := range f.members {
		for _, id := range userIDs {
			if id == userID {
				projects = append(projects, f.projects[projectID])
			}
		}
	}
	return projects, nil
}

func (f *fakeStore) HasProjectAccess(_ context.Context, projectID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.members[projectID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) AddMember(_ context.Context, projectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.members[projectID] {
		if id == userID {
			return nil
		}
	}
	f.members[projectID] = append(f.members[projectID], userID)
	return nil
}

func (f *fakeStore) ListMembers(_ context.Context, projectID string) ([]store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var members []store.Member
	for _, id := range f.members[projectID] {
		user := f.users[id]
		members = append(members, store.Member{
			UserID:      id,
			ProjectID:   projectID,
			DisplayName: user.DisplayName,
			Avatar:      user.Avatar,
		})
	}
	return members, nil
}

func (f *fakeStore) CreateList(_ context.Context, list store.List) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[list.ID] = list
	return nil
}

func (f *fakeStore) ListLists(_ context.Context, projectID string) ([]store.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lists []store.List
	for _, list := range f.lists {
		if list.ProjectID == projectID {
			lists = append(lists, list)
		}
	}
	return lists, nil
}

func (f *fakeStore) MaxListOrder(_ context.Context, projectID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max float64
	for _, list := range f.lists {
		if list.ProjectID == projectID && list.Order > max {
			max = list.Order
		}
	}
	return max, nil
}

func (f *fakeStore) CreateCard(_ context.Context, card store.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[card.ID] = card
	return nil
}

func (f *fakeStore) GetCard(_ context.Context, cardID string) (store.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[cardID]
	if !ok {
		return store.Card{}, store.ErrNotFound
	}
	card.Attachments = f.attachments[cardID]
	return card, nil
}

func (f *fakeStore) ListCards(_ context.Context, projectID string) ([]store.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cards []store.Card
	for _, card := range f.cards {
		if card.ProjectID == projectID {
			cards = append(cards, card)
		}
	}
	return cards, nil
}

func (f *fakeStore) UpdateCard(_ context.Context, cardID string, patch store.CardPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[cardID]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Title != nil {
		card.Title = *patch.Title
	}
	if patch.Description != nil {
		card.Description = *patch.Description
	}
	if patch.Labels != nil {
		card.Labels = *patch.Labels
	}
	if patch.DueDate != nil {
		card.DueDate = patch.DueDate
	}
	if patch.ClearDue {
		card.DueDate = nil
	}
	f.cards[cardID] = card
	return nil
}

func (f *fakeStore) MoveCard(_ context.Context, cardID, toListID string, order float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[cardID]
	if !ok {
		return store.ErrNotFound
	}
	card.ListID = toListID
	card.Order = order
	f.cards[cardID] = card
	return nil
}

func (f *fakeStore) DeleteCard(_ context.Context, cardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cards, cardID)
	return nil
}

func (f *fakeStore) MaxCardOrder(_ context.Context, listID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max float64
	for _, card := range f.cards {
		if card.ListID == listID && card.Order > max {
			max = card.Order
		}
	}
	return max, nil
}

func (f *fakeStore) AssignUser(_ context.Context, cardID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[cardID]
	if !ok {
		return store.ErrNotFound
	}
	user := f.users[userID]
	card.Assignees = append(card.Assignees, store.Member{UserID: userID, DisplayName: user.DisplayName})
	f.cards[cardID] = card
	return nil
}

func (f *fakeStore) CreateComment(_ context.Context, comment store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[comment.CardID] = append(f.comments[comment.CardID], comment)
	return nil
}

func (f *fakeStore) ListComments(_ context.Context, cardID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments[cardID], nil
}

func (f *fakeStore) AddAttachment(_ context.Context, att store.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments[att.CardID] = append(f.attachments[att.CardID], att)
	return nil
}

func (f *fakeStore) ListAttachments(_ context.Context, cardID string) ([]store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachments[cardID], nil
}

func (f *fakeStore) InsertActivity(_ context.Context, act store.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if act.CreatedAt.IsZero() {
		act.CreatedAt = time.Now()
	}
	f.activities = append(f.activities, act)
	return nil
}

func (f *fakeStore) ListActivity(_ context.Context, projectID string, before time.Time, beforeID string, limit int) ([]store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var acts []store.Activity
	for i := len(f.activities) - 1; i >= 0 && len(acts) < limit; i-- {
		a := f.activities[i]
		if a.ProjectID == projectID && a.CreatedAt.Before(before) {
			acts = append(acts, a)
		}
	}
	return acts, nil
}

func (f *fakeStore) CardsDueWithin(context.Context, time.Duration) ([]store.DueCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []store.DueCard
	for _, d := range f.due {
		if !f.reminded[d.Card.ID] {
			due = append(due, d)
		}
	}
	return due, nil
}

func (f *fakeStore) MarkReminded(_ context.Context, cardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminded[cardID] = true
	return nil
}

// fakeSessions is an in-memory refresh session store.
type fakeSessions struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]string)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.tokens[tokenHash]
	if !ok {
		return "", errors.New("session not found")
	}
	return userID, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, tokenHash)
	return nil
}

func (f *fakeSessions) Ping(context.Context) error { return nil }

// captureBridge records published events instead of delivering them.
type captureBridge struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *captureBridge) Publish(event realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *captureBridge) all() []realtime.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]realtime.Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *captureBridge) last() realtime.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	return b.events[len(b.events)-1]
}

type fakeMailer struct {
	mu        sync.Mutex
	reminders [][]string
	invites   []string
}

func (m *fakeMailer) IsConfigured() bool { return true }

func (m *fakeMailer) SendDueReminder(to []string, _, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders = append(m.reminders, to)
	return nil
}

func (m *fakeMailer) SendProjectInvite(to, _, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites = append(m.invites, to)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      "test-secret",
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		ReminderWindow: time.Hour,
	}
}

func newTestService(fake *fakeStore) (*Service, *captureBridge) {
	bridge := &captureBridge{}
	svc := &Service{
		cfg:       testConfig(),
		store:     fake,
		sessions:  newFakeSessions(),
		passwords: authpw.NewService(fake),
		bridge:    bridge,
	}
	return svc, bridge
}

func seedProject(fake *fakeStore) (owner store.User, project store.Project, list store.List) {
	owner = store.User{ID: "usr_owner", DisplayName: "Alex", Email: "alex@example.com"}
	fake.users[owner.ID] = owner
	project = store.Project{ID: "prj_1", Title: "Website Redesign", OwnerID: owner.ID}
	fake.projects[project.ID] = project
	fake.members[project.ID] = []string{owner.ID}
	list = store.List{ID: "lst_1", ProjectID: project.ID, Title: "To Do", Order: orderStep}
	fake.lists[list.ID] = list
	return owner, project, list
}

func sessionFor(user store.User) Session {
	return Session{UserID: user.ID, UserName: user.DisplayName, Avatar: user.Avatar}
}

func TestSignUpIssuesWorkingSession(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(fake)
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, authpw.SignUpRequest{
		Email:       "dana@example.com",
		Password:    "long-enough",
		DisplayName: "Dana",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}

	parsed, err := svc.SessionFromToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if parsed.UserName != "Dana" {
		t.Errorf("UserName = %q, want Dana", parsed.UserName)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(fake)
	ctx := context.Background()

	sess, err := svc.SignUp(ctx, authpw.SignUpRequest{
		Email:       "dana@example.com",
		Password:    "long-enough",
		DisplayName: "Dana",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	renewed, err := svc.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if renewed.RefreshToken == sess.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Error("expected old refresh token to be revoked")
	}
}

func TestCreateCardPublishesEvent(t *testing.T) {
	fake := newFakeStore()
	svc, bridge := newTestService(fake)
	owner, project, list := seedProject(fake)

	payload, err := svc.CreateCard(context.Background(), project.ID, CardInput{
		ListID: list.ID,
		Title:  "Ship design review",
	}, sessionFor(owner))
	if err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}
	if payload["title"] != "Ship design review" {
		t.Errorf("payload title = %v", payload["title"])
	}

	event, ok := bridge.last().(realtime.CardCreated)
	if !ok {
		t.Fatalf("expected CardCreated event, got %T", bridge.last())
	}
	if event.Room() != project.ID {
		t.Errorf("event room = %q, want %q", event.Room(), project.ID)
	}
	if event.Actor.ID != owner.ID {
		t.Errorf("event actor = %q, want %q", event.Actor.ID, owner.ID)
	}
	if event.Card.Order != orderStep {
		t.Errorf("card order = %v, want %v", event.Card.Order, orderStep)
	}

	if len(fake.activities) != 1 || fake.activities[0].Kind != "card:created" {
		t.Errorf("expected one card:created activity, got %+v", fake.activities)
	}
}

func TestUpdateCardBroadcastsOnlyChangedFields(t *testing.T) {
	fake := newFakeStore()
	svc, bridge := newTestService(fake)
	owner, project, list := seedProject(fake)
	fake.cards["crd_1"] = store.Card{ID: "crd_1", ListID: list.ID, ProjectID: project.ID, Title: "Old", Description: "keep me"}

	newTitle := "New title"
	if _, err := svc.UpdateCard(context.Background(), "crd_1", CardPatchInput{Title: &newTitle}, sessionFor(owner)); err != nil {
		t.Fatalf("UpdateCard failed: %v", err)
	}

	event, ok := bridge.last().(realtime.CardUpdated)
	if !ok {
		t.Fatalf("expected CardUpdated event, got %T", bridge.last())
	}
	if event.Changes.Title == nil || *event.Changes.Title != newTitle {
		t.Error("changed title missing from event")
	}
	if event.Changes.Description != nil {
		t.Error("untouched description leaked into event changes")
	}

	if fake.cards["crd_1"].Description != "keep me" {
		t.Error("untouched field was modified")
	}
}

func TestMoveCardDefaultsOrderToEndOfList(t *testing.T) {
	fake := newFakeStore()
	svc, bridge := newTestService(fake)
	owner, project, list := seedProject(fake)
	fake.lists["lst_2"] = store.List{ID: "lst_2", ProjectID: project.ID, Title: "Done"}
	fake.cards["crd_1"] = store.Card{ID: "crd_1", ListID: list.ID, ProjectID: project.ID, Title: "Move me", Order: orderStep}
	fake.cards["crd_2"] = store.Card{ID: "crd_2", ListID: "lst_2", ProjectID: project.ID, Order: 3 * orderStep}

	payload, err := svc.MoveCard(context.Background(), "crd_1", MoveCardInput{ToListID: "lst_2"}, sessionFor(owner))
	if err != nil {
		t.Fatalf("MoveCard failed: %v", err)
	}
	wantOrder := 4 * orderStep
	if payload["newOrder"] != wantOrder {
		t.Errorf("newOrder = %v, want %v", payload["newOrder"], wantOrder)
	}

	event, ok := bridge.last().(realtime.CardMoved)
	if !ok {
		t.Fatalf("expected CardMoved event, got %T", bridge.last())
	}
	if event.FromListID != list.ID || event.ToListID != "lst_2" {
		t.Errorf("move event lists = %q -> %q", event.FromListID, event.ToListID)
	}
}

func TestCardAccessDeniedForNonMember(t *testing.T) {
	fake := newFakeStore()
	svc, bridge := newTestService(fake)
	_, project, list := seedProject(fake)
	fake.cards["crd_1"] = store.Card{ID: "crd_1", ListID: list.ID, ProjectID: project.ID}
	outsider := store.User{ID: "usr_out", DisplayName: "Mallory"}
	fake.users[outsider.ID] = outsider

	err := svc.DeleteCard(context.Background(), "crd_1", sessionFor(outsider))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 domain error, got %v", err)
	}
	if len(bridge.all()) != 0 {
		t.Error("denied mutation must not publish events")
	}
	if _, ok := fake.cards["crd_1"]; !ok {
		t.Error("denied delete removed the card")
	}
}

func TestAddMemberUnknownEmail(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(fake)
	owner, project, _ := seedProject(fake)

	_, err := svc.AddMember(context.Background(), project.ID, "nobody@example.com", sessionFor(owner))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 domain error, got %v", err)
	}
}

func TestAddMemberPublishesAndInvites(t *testing.T) {
	fake := newFakeStore()
	svc, bridge := newTestService(fake)
	mail := &fakeMailer{}
	svc.mail = mail
	owner, project, _ := seedProject(fake)
	invitee := store.User{ID: "usr_dana", DisplayName: "Dana", Email: "dana@example.com"}
	fake.users[invitee.ID] = invitee

	if _, err := svc.AddMember(context.Background(), project.ID, "Dana@Example.com", sessionFor(owner)); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	event, ok := bridge.last().(realtime.MemberJoined)
	if !ok {
		t.Fatalf("expected MemberJoined event, got %T", bridge.last())
	}
	if event.Member.ID != invitee.ID {
		t.Errorf("member id = %q, want %q", event.Member.ID, invitee.ID)
	}

	ok2, _ := fake.HasProjectAccess(context.Background(), project.ID, invitee.ID)
	if !ok2 {
		t.Error("invitee did not gain project access")
	}

	// Invite mail goes out on a goroutine.
	deadline := time.Now().Add(time.Second)
	for {
		mail.mu.Lock()
		sent := len(mail.invites)
		mail.mu.Unlock()
		if sent == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("invite email was never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCommentEventCarriesAuthorNotActor(t *testing.T) {
	fake := newFakeStore()
	svc, bridge := newTestService(fake)
	owner, project, list := seedProject(fake)
	fake.cards["crd_1"] = store.Card{ID: "crd_1", ListID: list.ID, ProjectID: project.ID}

	if _, err := svc.AddComment(context.Background(), "crd_1", "ship it", sessionFor(owner)); err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}

	event, ok := bridge.last().(realtime.CommentAdded)
	if !ok {
		t.Fatalf("expected CommentAdded event, got %T", bridge.last())
	}
	if event.Comment.AuthorID != owner.ID || event.Comment.Body != "ship it" {
		t.Errorf("comment payload = %+v", event.Comment)
	}
}

func TestReminderSweepSendsOnce(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(fake)
	mail := &fakeMailer{}
	svc.mail = mail

	due := time.Now().Add(30 * time.Minute)
	fake.due = []store.DueCard{
		{
			Card:           store.Card{ID: "crd_due", Title: "Pay invoice", DueDate: &due},
			ProjectTitle:   "Finance",
			AssigneeEmails: []string{"dana@example.com"},
		},
		{
			// No assignees: marked without mail so it is not retried forever.
			Card:         store.Card{ID: "crd_orphan", Title: "Orphan", DueDate: &due},
			ProjectTitle: "Finance",
		},
	}

	svc.RunReminderSweep(context.Background())
	svc.RunReminderSweep(context.Background())

	if len(mail.reminders) != 1 {
		t.Fatalf("expected exactly one reminder mail, got %d", len(mail.reminders))
	}
	if !fake.reminded["crd_due"] || !fake.reminded["crd_orphan"] {
		t.Error("swept cards were not marked reminded")
	}
}

func TestResolveIdentityUnknownUser(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(fake)

	_, err := svc.ResolveIdentity(context.Background(), "usr_ghost")
	if !errors.Is(err, realtime.ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestBoardSnapshotGroupsCardsByList(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(fake)
	owner, project, list := seedProject(fake)
	fake.cards["crd_1"] = store.Card{ID: "crd_1", ListID: list.ID, ProjectID: project.ID, Title: "A"}
	fake.cards["crd_2"] = store.Card{ID: "crd_2", ListID: list.ID, ProjectID: project.ID, Title: "B"}

	payload, err := svc.Board(context.Background(), project.ID, sessionFor(owner))
	if err != nil {
		t.Fatalf("Board failed: %v", err)
	}

	lists, ok := payload["lists"].([]map[string]any)
	if !ok || len(lists) != 1 {
		t.Fatalf("expected one list, got %v", payload["lists"])
	}
	cards, ok := lists[0]["cards"].([]map[string]any)
	if !ok || len(cards) != 2 {
		t.Fatalf("expected two cards in list, got %v", lists[0]["cards"])
	}
	members, ok := payload["members"].([]map[string]any)
	if !ok || len(members) != 1 {
		t.Fatalf("expected one member, got %v", payload["members"])
	}
}

func TestCreateProjectValidatesTitle(t *testing.T) {
	fake := newFakeStore()
	svc, _ := newTestService(fake)
	owner := store.User{ID: "usr_1", DisplayName: "Alex"}
	fake.users[owner.ID] = owner

	_, err := svc.CreateProject(context.Background(), "   ", "", sessionFor(owner))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 domain error, got %v", err)
	}

	payload, err := svc.CreateProject(context.Background(), "  Padded  ", "desc", sessionFor(owner))
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if title, _ := payload["title"].(string); strings.TrimSpace(title) != title || title != "Padded" {
		t.Errorf("title = %q, want trimmed %q", title, "Padded")
	}
}
