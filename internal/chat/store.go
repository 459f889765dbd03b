package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore is the PostgreSQL-backed chat store.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a chat store backed by the given database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// IsParticipant reports whether userID is a member of roomID.
func (s *SQLStore) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	const query = `
		SELECT COUNT(*) FROM room_participants WHERE room_id = $1 AND user_id = $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, roomID, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("chat: membership check: %w", err)
	}
	return count > 0, nil
}

// RoomByID returns the room, or nil if absent.
func (s *SQLStore) RoomByID(ctx context.Context, roomID string) (*Room, error) {
	const query = `SELECT id, match_id, created_at FROM chat_rooms WHERE id = $1`

	var r Room
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(&r.ID, &r.MatchID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: find room %s: %w", roomID, err)
	}
	return &r, nil
}

// CreateMessage appends a message to the room's log.
func (s *SQLStore) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	const query = `
		INSERT INTO messages (id, room_id, sender_id, content, message_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		m.ID, m.RoomID, m.SenderID, m.Content, m.MessageType,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("chat: insert message: %w", err)
	}
	return nil
}

// FindMessageByID returns the message, or nil if absent.
func (s *SQLStore) FindMessageByID(ctx context.Context, id string) (*Message, error) {
	const query = `
		SELECT id, room_id, sender_id, content, message_type, is_read, created_at
		FROM messages
		WHERE id = $1`

	var m Message
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.MessageType, &m.IsRead, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: find message %s: %w", id, err)
	}
	return &m, nil
}

// ListDesc returns up to n messages ordered by (created_at, id) descending,
// starting at the cursor message when one is given. The row-value comparison
// matches the history index order, so the scan stays a single index range.
func (s *SQLStore) ListDesc(ctx context.Context, roomID, cursor string, n int) ([]Message, error) {
	const base = `
		SELECT id, room_id, sender_id, content, message_type, is_read, created_at
		FROM messages
		WHERE room_id = $1`
	const order = ` ORDER BY created_at DESC, id DESC LIMIT `

	var (
		rows *sql.Rows
		err  error
	)
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx, base+order+`$2`, roomID, n)
	} else {
		query := base + ` AND (created_at, id) <= (SELECT created_at, id FROM messages WHERE id = $2)` + order + `$3`
		rows, err = s.db.QueryContext(ctx, query, roomID, cursor, n)
	}
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.MessageType, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: list scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: list rows: %w", err)
	}
	return out, nil
}

// MarkRead bulk-flags unread messages and returns how many rows changed. The
// update only ever flips is_read from false to true, so repeating it with
// the same or an earlier cutoff changes nothing further.
func (s *SQLStore) MarkRead(ctx context.Context, roomID, readerID string, upTo *time.Time) (int64, error) {
	const query = `
		UPDATE messages
		SET is_read = TRUE
		WHERE room_id = $1
		  AND sender_id <> $2
		  AND NOT is_read
		  AND ($3::timestamptz IS NULL OR created_at <= $3)`

	var cutoff sql.NullTime
	if upTo != nil {
		cutoff = sql.NullTime{Time: *upTo, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, query, roomID, readerID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("chat: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("chat: mark read rows: %w", err)
	}
	return n, nil
}
