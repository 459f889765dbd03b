// Package chat implements the chat subsystem for approved matches: room
// membership authorization, message persistence, keyset history pagination,
// and idempotent read receipts.
package chat

import (
	"context"
	"time"
)

// ActiveWindow is how long a room accepts new messages after its creation.
// It mirrors the match expiry window: approval opens a 20-minute chat.
const ActiveWindow = 20 * time.Minute

// Message type values.
const (
	TypeText   = "text"
	TypeImage  = "image"
	TypeSystem = "system"
)

// Page size bounds for history fetches.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// Room is a chat room opened by an approved match.
type Room struct {
	ID        string
	MatchID   string
	CreatedAt time.Time
}

// Message is one entry in a room's append-only message log.
type Message struct {
	ID          string
	RoomID      string
	SenderID    string
	Content     string
	MessageType string
	IsRead      bool
	CreatedAt   time.Time
}

// Page is one page of room history, oldest-first.
type Page struct {
	Items      []Message
	NextCursor string
}

// Store persists rooms, membership, and messages.
type Store interface {
	// IsParticipant reports whether userID is a member of roomID. False for
	// unknown rooms.
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)

	// RoomByID returns the room, or nil if absent.
	RoomByID(ctx context.Context, roomID string) (*Room, error)

	// CreateMessage appends a message and fills in its CreatedAt.
	CreateMessage(ctx context.Context, m *Message) error

	// FindMessageByID returns the message, or nil if absent.
	FindMessageByID(ctx context.Context, id string) (*Message, error)

	// ListDesc returns up to n messages of the room ordered by
	// (created_at, id) descending. With a cursor, the result starts at the
	// cursor message; an unknown cursor yields an empty result.
	ListDesc(ctx context.Context, roomID, cursor string, n int) ([]Message, error)

	// MarkRead flags as read every unread message in the room not sent by
	// readerID with created_at <= upTo (all such messages when upTo is nil)
	// and returns the number of rows changed.
	MarkRead(ctx context.Context, roomID, readerID string, upTo *time.Time) (int64, error)
}
