package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	const insertUser = `
		INSERT INTO users (id, display_name, email, password_hash, avatar)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, insertUser, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Avatar); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, avatar FROM users WHERE email = $1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, avatar FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// ---- projects & membership ----

func (s *PostgresStore) CreateProject(ctx context.Context, project Project) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, owner_id)
		VALUES ($1, $2, $3, $4)
	`, project.ID, project.Title, project.Description, project.OwnerID); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, project.ID, project.OwnerID); err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, owner_id, created_at FROM projects WHERE id = $1
	`, projectID).Scan(&p.ID, &p.Title, &p.Description, &p.OwnerID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("lookup project: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.description, p.owner_id, p.created_at
		FROM projects p
		JOIN project_members m ON m.project_id = p.id
		WHERE m.user_id = $1
		ORDER BY p.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// HasProjectAccess reports whether the user is the project owner or a member.
// A missing project yields false, not an error, so callers cannot distinguish
// the two cases.
func (s *PostgresStore) HasProjectAccess(ctx context.Context, projectID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM projects p
			LEFT JOIN project_members m ON m.project_id = p.id AND m.user_id = $2
			WHERE p.id = $1 AND (p.owner_id = $2 OR m.user_id IS NOT NULL)
		)
	`, projectID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check project access: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, projectID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil // already a member
	}
	return nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, m.project_id, u.display_name, u.avatar, m.added_at
		FROM project_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.project_id = $1
		ORDER BY m.added_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.ProjectID, &m.DisplayName, &m.Avatar, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ---- lists ----

func (s *PostgresStore) CreateList(ctx context.Context, list List) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO lists (id, project_id, title, sort_order)
		VALUES ($1, $2, $3, $4)
	`, list.ID, list.ProjectID, list.Title, list.Order); err != nil {
		return fmt.Errorf("insert list: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLists(ctx context.Context, projectID string) ([]List, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, sort_order, created_at
		FROM lists WHERE project_id = $1 ORDER BY sort_order
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var lists []List
	for rows.Next() {
		var l List
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Title, &l.Order, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

func (s *PostgresStore) MaxListOrder(ctx context.Context, projectID string) (float64, error) {
	var max sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sort_order) FROM lists WHERE project_id = $1
	`, projectID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max list order: %w", err)
	}
	return max.Float64, nil
}

// ---- cards ----

func (s *PostgresStore) CreateCard(ctx context.Context, card Card) error {
	labels, err := json.Marshal(card.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cards (id, list_id, project_id, title, description, labels, sort_order, due_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, card.ID, card.ListID, card.ProjectID, card.Title, card.Description, labels, card.Order, card.DueDate, card.CreatedBy); err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	var card Card
	var labels []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, list_id, project_id, title, description, labels, sort_order, due_date, created_by, created_at, updated_at
		FROM cards WHERE id = $1
	`, cardID).Scan(&card.ID, &card.ListID, &card.ProjectID, &card.Title, &card.Description,
		&labels, &card.Order, &card.DueDate, &card.CreatedBy, &card.CreatedAt, &card.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Card{}, ErrNotFound
	}
	if err != nil {
		return Card{}, fmt.Errorf("lookup card: %w", err)
	}
	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &card.Labels); err != nil {
			return Card{}, fmt.Errorf("unmarshal labels: %w", err)
		}
	}
	if card.Assignees, err = s.listAssignees(ctx, card.ID); err != nil {
		return Card{}, err
	}
	if card.Attachments, err = s.ListAttachments(ctx, card.ID); err != nil {
		return Card{}, err
	}
	return card, nil
}

func (s *PostgresStore) ListCards(ctx context.Context, projectID string) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, list_id, project_id, title, description, labels, sort_order, due_date, created_by, created_at, updated_at
		FROM cards WHERE project_id = $1 ORDER BY list_id, sort_order
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		var card Card
		var labels []byte
		if err := rows.Scan(&card.ID, &card.ListID, &card.ProjectID, &card.Title, &card.Description,
			&labels, &card.Order, &card.DueDate, &card.CreatedBy, &card.CreatedAt, &card.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		if len(labels) > 0 {
			if err := json.Unmarshal(labels, &card.Labels); err != nil {
				return nil, fmt.Errorf("unmarshal labels: %w", err)
			}
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range cards {
		if cards[i].Assignees, err = s.listAssignees(ctx, cards[i].ID); err != nil {
			return nil, err
		}
		if cards[i].Attachments, err = s.ListAttachments(ctx, cards[i].ID); err != nil {
			return nil, err
		}
	}
	return cards, nil
}

func (s *PostgresStore) UpdateCard(ctx context.Context, cardID string, patch CardPatch) error {
	if patch.Title != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE cards SET title = $2, updated_at = NOW() WHERE id = $1`, cardID, *patch.Title); err != nil {
			return fmt.Errorf("update card title: %w", err)
		}
	}
	if patch.Description != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE cards SET description = $2, updated_at = NOW() WHERE id = $1`, cardID, *patch.Description); err != nil {
			return fmt.Errorf("update card description: %w", err)
		}
	}
	if patch.Labels != nil {
		labels, err := json.Marshal(*patch.Labels)
		if err != nil {
			return fmt.Errorf("marshal labels: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE cards SET labels = $2, updated_at = NOW() WHERE id = $1`, cardID, labels); err != nil {
			return fmt.Errorf("update card labels: %w", err)
		}
	}
	if patch.DueDate != nil || patch.ClearDue {
		var due *time.Time
		if !patch.ClearDue {
			due = patch.DueDate
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE cards SET due_date = $2, updated_at = NOW() WHERE id = $1`, cardID, due); err != nil {
			return fmt.Errorf("update card due date: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) MoveCard(ctx context.Context, cardID, toListID string, order float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cards SET list_id = $2, sort_order = $3, updated_at = NOW() WHERE id = $1
	`, cardID, toListID, order)
	if err != nil {
		return fmt.Errorf("move card: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, cardID)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MaxCardOrder(ctx context.Context, listID string) (float64, error) {
	var max sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sort_order) FROM cards WHERE list_id = $1
	`, listID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max card order: %w", err)
	}
	return max.Float64, nil
}

func (s *PostgresStore) AssignUser(ctx context.Context, cardID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO card_assignees (card_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, cardID, userID); err != nil {
		return fmt.Errorf("insert assignee: %w", err)
	}
	return nil
}

func (s *PostgresStore) listAssignees(ctx context.Context, cardID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, c.project_id, u.display_name, u.avatar
		FROM card_assignees a
		JOIN users u ON u.id = a.user_id
		JOIN cards c ON c.id = a.card_id
		WHERE a.card_id = $1
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.ProjectID, &m.DisplayName, &m.Avatar); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ---- comments ----

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, card_id, project_id, author_id, body)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.CardID, comment.ProjectID, comment.AuthorID, comment.Body); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, cardID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.card_id, c.project_id, c.author_id, u.display_name, c.body, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.card_id = $1
		ORDER BY c.created_at
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.CardID, &c.ProjectID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// ---- attachments ----

// AddAttachment records an attachment row. The same content hash may back any
// number of rows; the blob store keeps a single object per hash.
func (s *PostgresStore) AddAttachment(ctx context.Context, att Attachment) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, card_id, hash, filename, size, added_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, att.ID, att.CardID, att.Hash, att.Filename, att.Size, att.AddedBy); err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, cardID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, hash, filename, size, added_by, added_at
		FROM attachments WHERE card_id = $1 ORDER BY added_at
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var atts []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.CardID, &a.Hash, &a.Filename, &a.Size, &a.AddedBy, &a.AddedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// ---- activity ----

func (s *PostgresStore) InsertActivity(ctx context.Context, act Activity) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, project_id, actor_id, kind, card_id, detail)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`, act.ID, act.ProjectID, act.ActorID, act.Kind, act.CardID, act.Detail); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity pages newest-first by (created_at, id); cursor is the
// (createdAt, id) pair of the last row of the previous page.
func (s *PostgresStore) ListActivity(ctx context.Context, projectID string, before time.Time, beforeID string, limit int) ([]Activity, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.project_id, a.actor_id, u.display_name, a.kind, COALESCE(a.card_id, ''), a.detail, a.created_at
		FROM activities a
		JOIN users u ON u.id = a.actor_id
		WHERE a.project_id = $1 AND (a.created_at, a.id) < ($2, $3)
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $4
	`, projectID, before, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var acts []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ActorID, &a.ActorName, &a.Kind, &a.CardID, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// ---- reminders ----

type DueCard struct {
	Card           Card
	ProjectTitle   string
	AssigneeEmails []string
}

// CardsDueWithin returns cards whose due date falls inside the window and
// that have not been reminded yet.
func (s *PostgresStore) CardsDueWithin(ctx context.Context, window time.Duration) ([]DueCard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.list_id, c.project_id, c.title, c.due_date, p.title
		FROM cards c
		JOIN projects p ON p.id = c.project_id
		WHERE c.due_date IS NOT NULL
		  AND c.due_date > NOW()
		  AND c.due_date <= NOW() + $1::interval
		  AND c.reminded_at IS NULL
	`, fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("list due cards: %w", err)
	}
	defer rows.Close()

	var due []DueCard
	for rows.Next() {
		var d DueCard
		if err := rows.Scan(&d.Card.ID, &d.Card.ListID, &d.Card.ProjectID, &d.Card.Title, &d.Card.DueDate, &d.ProjectTitle); err != nil {
			return nil, fmt.Errorf("scan due card: %w", err)
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range due {
		emails, err := s.assigneeEmails(ctx, due[i].Card.ID)
		if err != nil {
			return nil, err
		}
		due[i].AssigneeEmails = emails
	}
	return due, nil
}

func (s *PostgresStore) MarkReminded(ctx context.Context, cardID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE cards SET reminded_at = NOW() WHERE id = $1`, cardID); err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	return nil
}

func (s *PostgresStore) assigneeEmails(ctx context.Context, cardID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.email FROM card_assignees a JOIN users u ON u.id = a.user_id WHERE a.card_id = $1
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list assignee emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
