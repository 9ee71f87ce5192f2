package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fogjoe/online-collaborative-project-sub000/internal/auth"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/authpw"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/blob"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/config"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/email"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/realtime"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/search"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/session"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/store"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/util"
)

// Gap between consecutive sort keys. Insertions between neighbors bisect the
// interval, so fresh keys need room to halve many times before colliding.
const orderStep = 1024.0

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Avatar       string
	JTI          string
	ExpiresAt    time.Time
}

// CardInput carries the fields of a card create request.
type CardInput struct {
	ListID      string     `json:"listId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Labels      []string   `json:"labels"`
	DueDate     *time.Time `json:"dueDate"`
}

// CardPatchInput is the body of a partial card update. Nil fields are left
// untouched; ClearDue removes the due date explicitly.
type CardPatchInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Labels      *[]string  `json:"labels"`
	DueDate     *time.Time `json:"dueDate"`
	ClearDue    bool       `json:"clearDue"`
}

// MoveCardInput is the body of a card move request.
type MoveCardInput struct {
	ToListID string  `json:"toListId"`
	NewOrder float64 `json:"newOrder"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateProject(ctx context.Context, project store.Project) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]store.Project, error)
	HasProjectAccess(ctx context.Context, projectID, userID string) (bool, error)
	AddMember(ctx context.Context, projectID, userID string) error
	ListMembers(ctx context.Context, projectID string) ([]store.Member, error)
	CreateList(ctx context.Context, list store.List) error
	ListLists(ctx context.Context, projectID string) ([]store.List, error)
	MaxListOrder(ctx context.Context, projectID string) (float64, error)
	CreateCard(ctx context.Context, card store.Card) error
	GetCard(ctx context.Context, cardID string) (store.Card, error)
	ListCards(ctx context.Context, projectID string) ([]store.Card, error)
	UpdateCard(ctx context.Context, cardID string, patch store.CardPatch) error
	MoveCard(ctx context.Context, cardID, toListID string, order float64) error
	DeleteCard(ctx context.Context, cardID string) error
	MaxCardOrder(ctx context.Context, listID string) (float64, error)
	AssignUser(ctx context.Context, cardID, userID string) error
	CreateComment(ctx context.Context, comment store.Comment) error
	ListComments(ctx context.Context, cardID string) ([]store.Comment, error)
	AddAttachment(ctx context.Context, att store.Attachment) error
	ListAttachments(ctx context.Context, cardID string) ([]store.Attachment, error)
	InsertActivity(ctx context.Context, act store.Activity) error
	ListActivity(ctx context.Context, projectID string, before time.Time, beforeID string, limit int) ([]store.Activity, error)
	CardsDueWithin(ctx context.Context, window time.Duration) ([]store.DueCard, error)
	MarkReminded(ctx context.Context, cardID string) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// Broadcaster fans a mutation event out to the project's room. The send is
// best-effort: a failed delivery never fails the mutation.
type Broadcaster interface {
	Publish(event realtime.Event)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexCard(c search.CardRecord)
	IndexProject(p search.ProjectRecord)
	DeleteCard(id string)
}

type blobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
}

type mailer interface {
	IsConfigured() bool
	SendDueReminder(to []string, cardTitle, projectTitle string, due time.Time) error
	SendProjectInvite(to, userName, projectTitle, inviterName string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	bridge    Broadcaster
	search    searchIndex
	blobs     blobStore
	mail      mailer
}

// New wires the domain service. Search, blob, and mail backends are optional
// and may be nil; the matching features degrade to no-ops.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, passwords *authpw.Service, bridge Broadcaster, searchSvc *search.Service, blobs *blob.Store, mail *email.Service) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		passwords: passwords,
		bridge:    bridge,
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if blobs != nil {
		s.blobs = blobs
	}
	if mail != nil {
		s.mail = mail
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Ping(ctx)
}

// ---- authentication and sessions ----

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh exchanges a refresh token for a fresh session. The old token is
// revoked so each refresh token is single-use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Avatar: user.Avatar,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Avatar:       user.Avatar,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Avatar:    user.Avatar,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- realtime collaborator hooks ----

// ResolveIdentity backs the websocket handshake: the credential subject must
// match a stored user or the connection is refused.
func (s *Service) ResolveIdentity(ctx context.Context, userID string) (realtime.Identity, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return realtime.Identity{}, realtime.ErrUnknownUser
	}
	if err != nil {
		return realtime.Identity{}, err
	}
	return realtime.Identity{UserID: user.ID, Name: user.DisplayName, Avatar: user.Avatar}, nil
}

func (s *Service) HasProjectAccess(ctx context.Context, projectID, userID string) (bool, error) {
	return s.store.HasProjectAccess(ctx, projectID, userID)
}

// requireAccess resolves membership or fails the request. A missing project
// reports the same error as a denial.
func (s *Service) requireAccess(ctx context.Context, projectID, userID string) error {
	ok, err := s.store.HasProjectAccess(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Project access denied", nil)
	}
	return nil
}

// ---- projects ----

func (s *Service) ListProjects(ctx context.Context, userID string) (map[string]any, error) {
	projects, err := s.store.ListProjectsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		items = append(items, projectPayload(p))
	}
	return map[string]any{"projects": items}, nil
}

func (s *Service) CreateProject(ctx context.Context, title, description string, session Session) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	project := store.Project{
		ID:          util.NewID("prj"),
		Title:       title,
		Description: strings.TrimSpace(description),
		OwnerID:     session.UserID,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	s.indexProject(project)
	s.record(ctx, project.ID, session, "project:created", "", title)
	return projectPayload(project), nil
}

// Board returns the full project snapshot used for client reconciliation:
// lists with their cards, the member roster, and the project header.
func (s *Service) Board(ctx context.Context, projectID string, session Session) (map[string]any, error) {
	if err := s.requireAccess(ctx, projectID, session.UserID); err != nil {
		return nil, err
	}

	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
	}
	if err != nil {
		return nil, err
	}

	lists, err := s.store.ListLists(ctx, projectID)
	if err != nil {
		return nil, err
	}
	cards, err := s.store.ListCards(ctx, projectID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}

	cardsByList := make(map[string][]map[string]any)
	for _, card := range cards {
		cardsByList[card.ListID] = append(cardsByList[card.ListID], cardDetailPayload(card))
	}

	listItems := make([]map[string]any, 0, len(lists))
	for _, list := range lists {
		listCards := cardsByList[list.ID]
		if listCards == nil {
			listCards = []map[string]any{}
		}
		listItems = append(listItems, map[string]any{
			"id":    list.ID,
			"title": list.Title,
			"order": list.Order,
			"cards": listCards,
		})
	}

	memberItems := make([]map[string]any, 0, len(members))
	for _, m := range members {
		memberItems = append(memberItems, map[string]any{
			"userId": m.UserID,
			"name":   m.DisplayName,
			"avatar": m.Avatar,
		})
	}

	return map[string]any{
		"project": projectPayload(project),
		"lists":   listItems,
		"members": memberItems,
	}, nil
}

func (s *Service) AddMember(ctx context.Context, projectID, emailAddr string, session Session) (map[string]any, error) {
	if err := s.requireAccess(ctx, projectID, session.UserID); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No user with that email", nil)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.AddMember(ctx, projectID, user.ID); err != nil {
		return nil, err
	}

	s.publish(realtime.MemberJoined{
		ProjectID: projectID,
		Member:    realtime.Actor{ID: user.ID, Name: user.DisplayName, Avatar: user.Avatar},
		Actor:     actorOf(session),
	})
	s.record(ctx, projectID, session, "member:joined", "", user.DisplayName)

	if s.mail != nil && s.mail.IsConfigured() {
		if project, err := s.store.GetProject(ctx, projectID); err == nil {
			go func() {
				if err := s.mail.SendProjectInvite(user.Email, user.DisplayName, project.Title, session.UserName); err != nil {
					log.Printf("app: invite email to %s: %v", user.Email, err)
				}
			}()
		}
	}

	return map[string]any{
		"userId": user.ID,
		"name":   user.DisplayName,
		"avatar": user.Avatar,
	}, nil
}

func (s *Service) Members(ctx context.Context, projectID string, session Session) (map[string]any, error) {
	if err := s.requireAccess(ctx, projectID, session.UserID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, map[string]any{
			"userId": m.UserID,
			"name":   m.DisplayName,
			"avatar": m.Avatar,
		})
	}
	return map[string]any{"members": items}, nil
}

// ---- lists ----

func (s *Service) CreateList(ctx context.Context, projectID, title string, session Session) (map[string]any, error) {
	if err := s.requireAccess(ctx, projectID, session.UserID); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	maxOrder, err := s.store.MaxListOrder(ctx, projectID)
	if err != nil {
		return nil, err
	}

	list := store.List{
		ID:        util.NewID("lst"),
		ProjectID: projectID,
		Title:     title,
		Order:     maxOrder + orderStep,
	}
	if err := s.store.CreateList(ctx, list); err != nil {
		return nil, err
	}

	s.publish(realtime.ListCreated{
		ProjectID: projectID,
		List: realtime.ListPayload{
			ID:        list.ID,
			ProjectID: projectID,
			Title:     list.Title,
			Order:     list.Order,
		},
		Actor: actorOf(session),
	})
	s.record(ctx, projectID, session, "list:created", "", title)

	return map[string]any{
		"id":    list.ID,
		"title": list.Title,
		"order": list.Order,
	}, nil
}

// ---- cards ----

func (s *Service) CreateCard(ctx context.Context, projectID string, input CardInput, session Session) (map[string]any, error) {
	if err := s.requireAccess(ctx, projectID, session.UserID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if strings.TrimSpace(input.ListID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "listId is required", nil)
	}

	maxOrder, err := s.store.MaxCardOrder(ctx, input.ListID)
	if err != nil {
		return nil, err
	}

	labels := input.Labels
	if labels == nil {
		labels = []string{}
	}

	card := store.Card{
		ID:          util.NewID("crd"),
		ListID:      input.ListID,
		ProjectID:   projectID,
		Title:       title,
		Description: input.Description,
		Labels:      labels,
		Order:       maxOrder + orderStep,
		DueDate:     input.DueDate,
		CreatedBy:   session.UserID,
	}
	if err := s.store.CreateCard(ctx, card); err != nil {
		return nil, err
	}

	s.publish(realtime.CardCreated{
		ProjectID: projectID,
		Card:      cardEventPayload(card),
		Actor:     actorOf(session),
	})
	s.record(ctx, projectID, session, "card:created", card.ID, title)
	s.indexCard(card)

	return cardDetailPayload(card), nil
}

func (s *Service) UpdateCard(ctx context.Context, cardID string, input CardPatchInput, session Session) (map[string]any, error) {
	card, err := s.getCardChecked(ctx, cardID, session)
	if err != nil {
		return nil, err
	}

	patch := store.CardPatch{
		Title:       input.Title,
		Description: input.Description,
		Labels:      input.Labels,
		DueDate:     input.DueDate,
		ClearDue:    input.ClearDue,
	}
	if err := s.store.UpdateCard(ctx, cardID, patch); err != nil {
		return nil, err
	}

	s.publish(realtime.CardUpdated{
		ProjectID: card.ProjectID,
		CardID:    cardID,
		Changes: realtime.CardChanges{
			Title:       input.Title,
			Description: input.Description,
			Labels:      input.Labels,
			DueDate:     input.DueDate,
			ClearDue:    input.ClearDue,
		},
		Actor: actorOf(session),
	})
	s.record(ctx, card.ProjectID, session, "card:updated", cardID, card.Title)

	updated, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	s.indexCard(updated)
	return cardDetailPayload(updated), nil
}

func (s *Service) MoveCard(ctx context.Context, cardID string, input MoveCardInput, session Session) (map[string]any, error) {
	card, err := s.getCardChecked(ctx, cardID, session)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.ToListID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "toListId is required", nil)
	}

	order := input.NewOrder
	if order == 0 {
		maxOrder, err := s.store.MaxCardOrder(ctx, input.ToListID)
		if err != nil {
			return nil, err
		}
		order = maxOrder + orderStep
	}

	if err := s.store.MoveCard(ctx, cardID, input.ToListID, order); err != nil {
		return nil, err
	}

	s.publish(realtime.CardMoved{
		ProjectID:  card.ProjectID,
		CardID:     cardID,
		FromListID: card.ListID,
		ToListID:   input.ToListID,
		NewOrder:   order,
		Actor:      actorOf(session),
	})
	s.record(ctx, card.ProjectID, session, "card:moved", cardID, card.Title)

	return map[string]any{
		"id":       cardID,
		"listId":   input.ToListID,
		"newOrder": order,
	}, nil
}

func (s *Service) DeleteCard(ctx context.Context, cardID string, session Session) error {
	card, err := s.getCardChecked(ctx, cardID, session)
	if err != nil {
		return err
	}

	if err := s.store.DeleteCard(ctx, cardID); err != nil {
		return err
	}

	s.publish(realtime.CardDeleted{
		ProjectID: card.ProjectID,
		CardID:    cardID,
		ListID:    card.ListID,
		Actor:     actorOf(session),
	})
	s.record(ctx, card.ProjectID, session, "card:deleted", cardID, card.Title)
	if s.search != nil {
		s.search.DeleteCard(cardID)
	}
	return nil
}

func (s *Service) AssignUser(ctx context.Context, cardID, userID string, session Session) (map[string]any, error) {
	card, err := s.getCardChecked(ctx, cardID, session)
	if err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, card.ProjectID, userID); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assignee is not a project member", nil)
	}

	if err := s.store.AssignUser(ctx, cardID, userID); err != nil {
		return nil, err
	}

	updated, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	s.publish(realtime.CardUpdated{
		ProjectID: card.ProjectID,
		CardID:    cardID,
		Changes:   realtime.CardChanges{},
		Actor:     actorOf(session),
	})
	s.record(ctx, card.ProjectID, session, "card:assigned", cardID, card.Title)
	return cardDetailPayload(updated), nil
}

// ---- comments ----

func (s *Service) AddComment(ctx context.Context, cardID, body string, session Session) (map[string]any, error) {
	card, err := s.getCardChecked(ctx, cardID, session)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}

	comment := store.Comment{
		ID:        util.NewID("cmt"),
		CardID:    cardID,
		ProjectID: card.ProjectID,
		AuthorID:  session.UserID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateComment(ctx, comment); err != nil {
		return nil, err
	}

	s.publish(realtime.CommentAdded{
		ProjectID: card.ProjectID,
		CardID:    cardID,
		Comment: realtime.CommentPayload{
			ID:         comment.ID,
			CardID:     cardID,
			AuthorID:   session.UserID,
			AuthorName: session.UserName,
			Body:       body,
			CreatedAt:  comment.CreatedAt,
		},
	})
	s.record(ctx, card.ProjectID, session, "comment:added", cardID, card.Title)

	return map[string]any{
		"id":         comment.ID,
		"cardId":     cardID,
		"authorId":   session.UserID,
		"authorName": session.UserName,
		"body":       body,
		"createdAt":  comment.CreatedAt,
	}, nil
}

func (s *Service) Comments(ctx context.Context, cardID string, session Session) (map[string]any, error) {
	if _, err := s.getCardChecked(ctx, cardID, session); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, cardID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		items = append(items, map[string]any{
			"id":         c.ID,
			"cardId":     c.CardID,
			"authorId":   c.AuthorID,
			"authorName": c.AuthorName,
			"body":       c.Body,
			"createdAt":  c.CreatedAt,
		})
	}
	return map[string]any{"comments": items}, nil
}

// ---- attachments ----

func (s *Service) AddAttachment(ctx context.Context, cardID, filename, contentType string, data []byte, session Session) (map[string]any, error) {
	if s.blobs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BLOBS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	card, err := s.getCardChecked(ctx, cardID, session)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is empty", nil)
	}

	hash, err := s.blobs.Put(ctx, data, contentType)
	if err != nil {
		return nil, err
	}

	att := store.Attachment{
		ID:       util.NewID("att"),
		CardID:   cardID,
		Hash:     hash,
		Filename: filename,
		Size:     int64(len(data)),
		AddedBy:  session.UserID,
	}
	if err := s.store.AddAttachment(ctx, att); err != nil {
		return nil, err
	}

	attachments, err := s.store.ListAttachments(ctx, cardID)
	if err != nil {
		return nil, err
	}
	s.publish(realtime.AttachmentUpdated{
		ProjectID:   card.ProjectID,
		CardID:      cardID,
		Attachments: attachmentPayloads(attachments),
		Actor:       actorOf(session),
	})
	s.record(ctx, card.ProjectID, session, "attachment:added", cardID, filename)

	return map[string]any{
		"id":       att.ID,
		"cardId":   cardID,
		"hash":     hash,
		"filename": filename,
		"size":     att.Size,
	}, nil
}

func (s *Service) AttachmentData(ctx context.Context, hash string) ([]byte, error) {
	if s.blobs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BLOBS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	return s.blobs.Get(ctx, hash)
}

// ---- activity feed ----

func (s *Service) Activity(ctx context.Context, projectID string, before time.Time, beforeID string, limit int, session Session) (map[string]any, error) {
	if err := s.requireAccess(ctx, projectID, session.UserID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	// First page: a cursor past every existing row. "~" sorts above the id
	// alphabet, so the row comparison admits everything older than now.
	if before.IsZero() {
		before = time.Now().Add(time.Minute)
		beforeID = "~"
	}

	entries, err := s.store.ListActivity(ctx, projectID, before, beforeID, limit)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(entries))
	for _, a := range entries {
		items = append(items, map[string]any{
			"id":        a.ID,
			"actorId":   a.ActorID,
			"actorName": a.ActorName,
			"kind":      a.Kind,
			"cardId":    a.CardID,
			"detail":    a.Detail,
			"createdAt": a.CreatedAt,
		})
	}

	payload := map[string]any{"activity": items}
	if len(entries) == limit {
		last := entries[len(entries)-1]
		payload["nextBefore"] = last.CreatedAt
		payload["nextBeforeId"] = last.ID
	}
	return payload, nil
}

// ---- search ----

func (s *Service) Search(ctx context.Context, text, filterType, projectID string, limit, offset int, session Session) (search.Response, error) {
	if projectID != "" {
		if err := s.requireAccess(ctx, projectID, session.UserID); err != nil {
			return search.Response{}, err
		}
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:            text,
		FilterType:      search.ResultType(filterType),
		FilterProjectID: projectID,
		Limit:           limit,
		Offset:          offset,
	}), nil
}

// ---- due-date reminders ----

// RunReminderSweep mails assignees of cards whose due date falls inside the
// configured window and marks each card so it is reminded at most once.
func (s *Service) RunReminderSweep(ctx context.Context) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	due, err := s.store.CardsDueWithin(ctx, s.cfg.ReminderWindow)
	if err != nil {
		log.Printf("app: reminder sweep: %v", err)
		return
	}
	for _, d := range due {
		if len(d.AssigneeEmails) == 0 || d.Card.DueDate == nil {
			_ = s.store.MarkReminded(ctx, d.Card.ID)
			continue
		}
		if err := s.mail.SendDueReminder(d.AssigneeEmails, d.Card.Title, d.ProjectTitle, *d.Card.DueDate); err != nil {
			log.Printf("app: due reminder for card %s: %v", d.Card.ID, err)
			continue
		}
		if err := s.store.MarkReminded(ctx, d.Card.ID); err != nil {
			log.Printf("app: mark reminded %s: %v", d.Card.ID, err)
		}
	}
}

// StartReminderLoop runs the sweep on a fixed interval until ctx is done.
func (s *Service) StartReminderLoop(ctx context.Context) {
	interval := s.cfg.ReminderInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunReminderSweep(ctx)
		}
	}
}

// ---- helpers ----

func (s *Service) getCardChecked(ctx context.Context, cardID string, session Session) (store.Card, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Card{}, domainError(http.StatusNotFound, "NOT_FOUND", "Card not found", nil)
	}
	if err != nil {
		return store.Card{}, err
	}
	if err := s.requireAccess(ctx, card.ProjectID, session.UserID); err != nil {
		return store.Card{}, err
	}
	return card, nil
}

func (s *Service) publish(event realtime.Event) {
	if s.bridge != nil {
		s.bridge.Publish(event)
	}
}

func (s *Service) record(ctx context.Context, projectID string, session Session, kind, cardID, detail string) {
	err := s.store.InsertActivity(ctx, store.Activity{
		ID:        util.NewID("act"),
		ProjectID: projectID,
		ActorID:   session.UserID,
		Kind:      kind,
		CardID:    cardID,
		Detail:    detail,
	})
	if err != nil {
		log.Printf("app: record activity %s: %v", kind, err)
	}
}

func (s *Service) indexCard(card store.Card) {
	if s.search == nil {
		return
	}
	s.search.IndexCard(search.CardRecord{
		ID:          card.ID,
		Title:       card.Title,
		Description: card.Description,
		Labels:      strings.Join(card.Labels, " "),
		ListID:      card.ListID,
		ProjectID:   card.ProjectID,
	})
}

func (s *Service) indexProject(project store.Project) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:          project.ID,
		Title:       project.Title,
		Description: project.Description,
	})
}

func actorOf(session Session) realtime.Actor {
	return realtime.Actor{ID: session.UserID, Name: session.UserName, Avatar: session.Avatar}
}

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"title":       p.Title,
		"description": p.Description,
		"ownerId":     p.OwnerID,
		"createdAt":   p.CreatedAt,
	}
}

func cardDetailPayload(card store.Card) map[string]any {
	assignees := make([]map[string]any, 0, len(card.Assignees))
	for _, a := range card.Assignees {
		assignees = append(assignees, map[string]any{
			"userId": a.UserID,
			"name":   a.DisplayName,
			"avatar": a.Avatar,
		})
	}
	attachments := make([]map[string]any, 0, len(card.Attachments))
	for _, att := range card.Attachments {
		attachments = append(attachments, map[string]any{
			"id":       att.ID,
			"hash":     att.Hash,
			"filename": att.Filename,
			"size":     att.Size,
		})
	}
	labels := card.Labels
	if labels == nil {
		labels = []string{}
	}
	return map[string]any{
		"id":          card.ID,
		"listId":      card.ListID,
		"projectId":   card.ProjectID,
		"title":       card.Title,
		"description": card.Description,
		"labels":      labels,
		"order":       card.Order,
		"dueDate":     card.DueDate,
		"assignees":   assignees,
		"attachments": attachments,
	}
}

func cardEventPayload(card store.Card) realtime.CardPayload {
	assignees := make([]realtime.Actor, 0, len(card.Assignees))
	for _, a := range card.Assignees {
		assignees = append(assignees, realtime.Actor{ID: a.UserID, Name: a.DisplayName, Avatar: a.Avatar})
	}
	labels := card.Labels
	if labels == nil {
		labels = []string{}
	}
	return realtime.CardPayload{
		ID:          card.ID,
		ListID:      card.ListID,
		ProjectID:   card.ProjectID,
		Title:       card.Title,
		Description: card.Description,
		Labels:      labels,
		Order:       card.Order,
		DueDate:     card.DueDate,
		Assignees:   assignees,
		Attachments: attachmentPayloads(card.Attachments),
	}
}

func attachmentPayloads(attachments []store.Attachment) []realtime.AttachmentPayload {
	payloads := make([]realtime.AttachmentPayload, 0, len(attachments))
	for _, att := range attachments {
		payloads = append(payloads, realtime.AttachmentPayload{
			ID:       att.ID,
			Hash:     att.Hash,
			Filename: att.Filename,
			Size:     att.Size,
		})
	}
	return payloads
}
