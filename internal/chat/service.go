package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/inoue-kamui/20match/internal/fault"
	"github.com/inoue-kamui/20match/internal/metrics"
)

// Service applies the chat rules over the store. Every operation authorizes
// room membership first and reports denial as forbidden, never as not-found,
// so callers cannot probe which rooms exist.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a chat service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// IsMember reports whether userID is a participant of roomID.
func (s *Service) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return s.store.IsParticipant(ctx, roomID, userID)
}

// Authorize applies the room authorization gate for userID without
// performing any operation. Callers use it to vet a room subscription.
func (s *Service) Authorize(ctx context.Context, userID, roomID string) error {
	return s.authorize(ctx, roomID, userID)
}

// authorize is the room authorization gate shared by all chat operations.
func (s *Service) authorize(ctx context.Context, roomID, userID string) error {
	ok, err := s.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("chat: authorize: %w", err)
	}
	if !ok {
		return fault.Forbidden("access to chat room denied")
	}
	return nil
}

// Messages returns one page of room history, oldest-first within the page.
// The store is asked for limit+1 rows in descending order; a full limit+1
// result means more history exists, so the extra row is dropped and its ID
// becomes the cursor at which the next fetch resumes.
func (s *Service) Messages(ctx context.Context, userID, roomID, cursor string, limit int) (*Page, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > MaxPageLimit {
		limit = DefaultPageLimit
	}

	rows, err := s.store.ListDesc(ctx, roomID, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("chat: messages: %w", err)
	}

	page := &Page{Items: rows}
	if len(rows) == limit+1 {
		page.NextCursor = rows[limit].ID
		page.Items = rows[:limit]
	}

	// Re-reverse the page to ascending (created_at, id) for the caller.
	for i, j := 0, len(page.Items)-1; i < j; i, j = i+1, j-1 {
		page.Items[i], page.Items[j] = page.Items[j], page.Items[i]
	}
	return page, nil
}

// Send validates and appends a text message to the room. Sends are rejected
// once the room is older than ActiveWindow; the stored rows stay readable.
func (s *Service) Send(ctx context.Context, userID, roomID, content string) (*Message, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	room, err := s.store.RoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("chat: send: %w", err)
	}
	if room == nil {
		// Membership implies existence; a missing room here is storage
		// inconsistency, not a caller error.
		return nil, fmt.Errorf("chat: send: room %s has participants but no row", roomID)
	}

	if s.now().Sub(room.CreatedAt) > ActiveWindow {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, fault.Forbidden("chat room has expired")
	}

	trimmed, err := ValidateContent(content)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	m := &Message{
		RoomID:      roomID,
		SenderID:    userID,
		Content:     trimmed,
		MessageType: TypeText,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("chat: send: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return m, nil
}

// MarkRead flags every unread message in the room not sent by userID as
// read, bounded by the creation time of upToMessageID when given. The
// operation is idempotent; the returned count is informational only.
func (s *Service) MarkRead(ctx context.Context, userID, roomID, upToMessageID string) (int64, error) {
	if err := s.authorize(ctx, roomID, userID); err != nil {
		return 0, err
	}

	var cutoff *time.Time
	if upToMessageID != "" {
		ref, err := s.store.FindMessageByID(ctx, upToMessageID)
		if err != nil {
			return 0, fmt.Errorf("chat: mark read: %w", err)
		}
		if ref == nil || ref.RoomID != roomID {
			return 0, fault.NotFound("reference message not found")
		}
		cutoff = &ref.CreatedAt
	}

	n, err := s.store.MarkRead(ctx, roomID, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("chat: mark read: %w", err)
	}
	return n, nil
}
