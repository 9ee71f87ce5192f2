// Package realtime implements the collaboration gateway: authenticated
// websocket connections, per-project rooms with presence, and the bridge
// that fans successful REST mutations out to room members.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds carried on the wire. Commands flow client to server, the
// rest are server to client notifications.
const (
	KindJoinProject  = "join:project"
	KindLeaveProject = "leave:project"
	KindJoinResult   = "join:result"
	KindError        = "error"

	KindCardCreated       = "card:created"
	KindCardUpdated       = "card:updated"
	KindCardMoved         = "card:moved"
	KindCardDeleted       = "card:deleted"
	KindCommentAdded      = "comment:added"
	KindMemberJoined      = "member:joined"
	KindListCreated       = "list:created"
	KindAttachmentUpdated = "attachment:updated"
	KindPresenceJoined    = "presence:user_joined"
	KindPresenceLeft      = "presence:user_left"
	KindPresenceRoster    = "presence:board_users"
)

// Actor identifies the user whose mutation produced an event. Clients drop
// events whose actor matches their own authenticated user.
type Actor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// PresenceUser is one entry of a room roster. Entries are per connection:
// the same user on two devices appears twice with distinct connection ids.
type PresenceUser struct {
	ConnID   string    `json:"connId"`
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// CardPayload is the fully denormalized card shape embedded in card events,
// sufficient for a client to render without a follow-up fetch.
type CardPayload struct {
	ID          string              `json:"id"`
	ListID      string              `json:"listId"`
	ProjectID   string              `json:"projectId"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Labels      []string            `json:"labels"`
	Order       float64             `json:"order"`
	DueDate     *time.Time          `json:"dueDate,omitempty"`
	Assignees   []Actor             `json:"assignees"`
	Attachments []AttachmentPayload `json:"attachments"`
}

type AttachmentPayload struct {
	ID       string `json:"id"`
	Hash     string `json:"hash"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type CommentPayload struct {
	ID         string    `json:"id"`
	CardID     string    `json:"cardId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ListPayload struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"projectId"`
	Title     string  `json:"title"`
	Order     float64 `json:"order"`
}

// CardChanges is the partial-update payload of card:updated. Nil fields were
// not touched by the mutation and must be left alone by receivers.
type CardChanges struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Labels      *[]string  `json:"labels,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ClearDue    bool       `json:"clearDue,omitempty"`
}

// Event is one broadcast event. Room returns the project id that addresses
// the target room; Kind is the wire discriminant.
type Event interface {
	Kind() string
	Room() string
}

type CardCreated struct {
	ProjectID string      `json:"projectId"`
	Card      CardPayload `json:"card"`
	Actor     Actor       `json:"actor"`
}

type CardUpdated struct {
	ProjectID string      `json:"projectId"`
	CardID    string      `json:"cardId"`
	Changes   CardChanges `json:"changes"`
	Actor     Actor       `json:"actor"`
}

type CardMoved struct {
	ProjectID  string  `json:"projectId"`
	CardID     string  `json:"cardId"`
	FromListID string  `json:"fromListId"`
	ToListID   string  `json:"toListId"`
	NewOrder   float64 `json:"newOrder"`
	Actor      Actor   `json:"actor"`
}

type CardDeleted struct {
	ProjectID string `json:"projectId"`
	CardID    string `json:"cardId"`
	ListID    string `json:"listId"`
	Actor     Actor  `json:"actor"`
}

// CommentAdded carries no self-exclusion anywhere in the pipeline: the
// receiving client refreshes the comment thread rather than deduplicating
// an optimistic update, so it has no actor field.
type CommentAdded struct {
	ProjectID string         `json:"projectId"`
	CardID    string         `json:"cardId"`
	Comment   CommentPayload `json:"comment"`
}

type MemberJoined struct {
	ProjectID string `json:"projectId"`
	Member    Actor  `json:"member"`
	Actor     Actor  `json:"actor"`
}

type ListCreated struct {
	ProjectID string      `json:"projectId"`
	List      ListPayload `json:"list"`
	Actor     Actor       `json:"actor"`
}

type AttachmentUpdated struct {
	ProjectID   string              `json:"projectId"`
	CardID      string              `json:"cardId"`
	Attachments []AttachmentPayload `json:"attachments"`
	Actor       Actor               `json:"actor"`
}

type PresenceJoined struct {
	ProjectID string       `json:"projectId"`
	User      PresenceUser `json:"user"`
}

type PresenceLeft struct {
	ProjectID string `json:"projectId"`
	ConnID    string `json:"connId"`
	UserID    string `json:"userId"`
}

type PresenceRoster struct {
	ProjectID string         `json:"projectId"`
	Users     []PresenceUser `json:"users"`
}

func (e CardCreated) Kind() string       { return KindCardCreated }
func (e CardCreated) Room() string       { return e.ProjectID }
func (e CardUpdated) Kind() string       { return KindCardUpdated }
func (e CardUpdated) Room() string       { return e.ProjectID }
func (e CardMoved) Kind() string         { return KindCardMoved }
func (e CardMoved) Room() string         { return e.ProjectID }
func (e CardDeleted) Kind() string       { return KindCardDeleted }
func (e CardDeleted) Room() string       { return e.ProjectID }
func (e CommentAdded) Kind() string      { return KindCommentAdded }
func (e CommentAdded) Room() string      { return e.ProjectID }
func (e MemberJoined) Kind() string      { return KindMemberJoined }
func (e MemberJoined) Room() string      { return e.ProjectID }
func (e ListCreated) Kind() string       { return KindListCreated }
func (e ListCreated) Room() string       { return e.ProjectID }
func (e AttachmentUpdated) Kind() string { return KindAttachmentUpdated }
func (e AttachmentUpdated) Room() string { return e.ProjectID }
func (e PresenceJoined) Kind() string    { return KindPresenceJoined }
func (e PresenceJoined) Room() string    { return e.ProjectID }
func (e PresenceLeft) Kind() string      { return KindPresenceLeft }
func (e PresenceLeft) Room() string      { return e.ProjectID }
func (e PresenceRoster) Kind() string    { return KindPresenceRoster }
func (e PresenceRoster) Room() string    { return e.ProjectID }

// Envelope is the wire frame: the kind as discriminant plus the raw payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps an event into its wire envelope.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(Envelope{Event: e.Kind(), Payload: payload})
}

// Decode parses a wire frame back into its typed event. Unknown kinds are an
// error so dispatch stays exhaustive.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return decodePayload(env.Event, env.Payload)
}

func decodePayload(kind string, payload []byte) (Event, error) {
	switch kind {
	case KindCardCreated:
		var v CardCreated
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindCardUpdated:
		var v CardUpdated
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindCardMoved:
		var v CardMoved
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindCardDeleted:
		var v CardDeleted
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindCommentAdded:
		var v CommentAdded
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindMemberJoined:
		var v MemberJoined
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindListCreated:
		var v ListCreated
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindAttachmentUpdated:
		var v AttachmentUpdated
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindPresenceJoined:
		var v PresenceJoined
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindPresenceLeft:
		var v PresenceLeft
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	case KindPresenceRoster:
		var v PresenceRoster
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
