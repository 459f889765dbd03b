// Package post provides the post directory: public posts that strangers
// apply to. The match lifecycle consumes it through FindByID; the listing
// endpoint adds filtered keyset pagination.
package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inoue-kamui/20match/internal/fault"
)

// PostTTL is how long a post stays listed after creation.
const PostTTL = 1 * time.Hour

// DefaultListLimit and MaxListLimit bound the page size of List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Post is a public post a stranger can apply to.
type Post struct {
	ID         string
	UserID     string
	Content    string
	PurposeTag string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Filters narrows the post listing. Zero values mean "no constraint".
type Filters struct {
	PurposeTag string
	Prefecture string
	Gender     string
	MinAge     int
	MaxAge     int
	Cursor     string
	Limit      int
}

// Validate checks filter consistency and clamps the page limit.
func (f *Filters) Validate() error {
	if f.MinAge > 0 && f.MaxAge > 0 && f.MinAge > f.MaxAge {
		return fault.InvalidRequest("minAge must be less than or equal to maxAge")
	}
	if f.Limit <= 0 || f.Limit > MaxListLimit {
		f.Limit = DefaultListLimit
	}
	return nil
}

// Page is one page of the post listing.
type Page struct {
	Items      []Post
	NextCursor string
}

// Store manages post records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a post store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new post with the standard TTL.
func (s *Store) Create(ctx context.Context, userID, content, purposeTag string) (*Post, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fault.InvalidRequest("post content cannot be empty")
	}
	if purposeTag == "" {
		return nil, fault.InvalidRequest("purposeTag is required")
	}

	p := &Post{
		ID:         uuid.New().String(),
		UserID:     userID,
		Content:    content,
		PurposeTag: purposeTag,
	}

	const query = `
		INSERT INTO posts (id, user_id, content, purpose_tag, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + $5::interval)
		RETURNING created_at, expires_at`

	err := s.db.QueryRowContext(ctx, query,
		p.ID, p.UserID, p.Content, p.PurposeTag, PostTTL.String(),
	).Scan(&p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("post: insert: %w", err)
	}
	return p, nil
}

// FindByID returns the post with the given ID, or nil if absent.
func (s *Store) FindByID(ctx context.Context, id string) (*Post, error) {
	const query = `
		SELECT id, user_id, content, purpose_tag, created_at, expires_at
		FROM posts
		WHERE id = $1`

	var p Post
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.UserID, &p.Content, &p.PurposeTag, &p.CreatedAt, &p.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("post: find %s: %w", id, err)
	}
	return &p, nil
}

// List returns unexpired posts newest first, filtered by the author's
// attributes, using keyset pagination over (created_at, id) descending with
// a limit+1 over-fetch to detect whether more pages exist.
func (s *Store) List(ctx context.Context, f Filters) (*Page, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var (
		where = []string{"p.expires_at > NOW()"}
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.PurposeTag != "" {
		where = append(where, "p.purpose_tag = "+arg(f.PurposeTag))
	}
	if f.Prefecture != "" {
		where = append(where, "u.prefecture = "+arg(f.Prefecture))
	}
	if f.Gender != "" {
		where = append(where, "u.gender = "+arg(f.Gender))
	}
	if f.MinAge > 0 {
		where = append(where, "u.age >= "+arg(f.MinAge))
	}
	if f.MaxAge > 0 {
		where = append(where, "u.age <= "+arg(f.MaxAge))
	}
	if f.Cursor != "" {
		where = append(where, "(p.created_at, p.id) < (SELECT created_at, id FROM posts WHERE id = "+arg(f.Cursor)+")")
	}

	query := `
		SELECT p.id, p.user_id, p.content, p.purpose_tag, p.created_at, p.expires_at
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT ` + arg(f.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("post: list: %w", err)
	}
	defer rows.Close()

	var items []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.UserID, &p.Content, &p.PurposeTag, &p.CreatedAt, &p.ExpiresAt); err != nil {
			return nil, fmt.Errorf("post: list scan: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("post: list rows: %w", err)
	}

	page := &Page{Items: items}
	if len(items) == f.Limit+1 {
		page.Items = items[:f.Limit]
		page.NextCursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}
