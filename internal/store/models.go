package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Avatar       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Project struct {
	ID          string
	Title       string
	Description string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Member struct {
	UserID      string
	ProjectID   string
	DisplayName string
	Avatar      string
	AddedAt     time.Time
}

type List struct {
	ID        string
	ProjectID string
	Title     string
	Order     float64
	CreatedAt time.Time
}

type Card struct {
	ID          string
	ListID      string
	ProjectID   string
	Title       string
	Description string
	Labels      []string
	Order       float64
	DueDate     *time.Time
	Assignees   []Member
	Attachments []Attachment
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Comment struct {
	ID         string
	CardID     string
	ProjectID  string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

type Attachment struct {
	ID       string
	CardID   string
	Hash     string
	Filename string
	Size     int64
	AddedBy  string
	AddedAt  time.Time
}

type Activity struct {
	ID        string
	ProjectID string
	ActorID   string
	ActorName string
	Kind      string
	CardID    string
	Detail    string
	CreatedAt time.Time
}

// CardPatch carries a partial card update; nil fields are left untouched.
type CardPatch struct {
	Title       *string
	Description *string
	Labels      *[]string
	DueDate     *time.Time
	ClearDue    bool
}
