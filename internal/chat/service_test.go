package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inoue-kamui/20match/internal/fault"
)

// fakeStore is an in-memory Store with the same ordering and cursor
// semantics as the SQL implementation.
type fakeStore struct {
	rooms        map[string]*Room
	participants map[string]map[string]bool
	messages     []*Message
}

func newFakeChatStore() *fakeStore {
	return &fakeStore{
		rooms:        make(map[string]*Room),
		participants: make(map[string]map[string]bool),
	}
}

func (f *fakeStore) addRoom(createdAt time.Time, members ...string) string {
	id := uuid.New().String()
	f.rooms[id] = &Room{ID: id, MatchID: uuid.New().String(), CreatedAt: createdAt}
	f.participants[id] = make(map[string]bool)
	for _, m := range members {
		f.participants[id][m] = true
	}
	return id
}

func (f *fakeStore) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	return f.participants[roomID][userID], nil
}

func (f *fakeStore) RoomByID(_ context.Context, roomID string) (*Room, error) {
	return f.rooms[roomID], nil
}

func (f *fakeStore) CreateMessage(_ context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := *m
	f.messages = append(f.messages, &cp)
	return nil
}

func (f *fakeStore) FindMessageByID(_ context.Context, id string) (*Message, error) {
	for _, m := range f.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListDesc(_ context.Context, roomID, cursor string, n int) ([]Message, error) {
	var all []Message
	for _, m := range f.messages {
		if m.RoomID == roomID {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	start := 0
	if cursor != "" {
		start = -1
		for i, m := range all {
			if m.ID == cursor {
				start = i
				break
			}
		}
		if start < 0 {
			return nil, nil
		}
	}

	end := start + n
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (f *fakeStore) MarkRead(_ context.Context, roomID, readerID string, upTo *time.Time) (int64, error) {
	var n int64
	for _, m := range f.messages {
		if m.RoomID != roomID || m.SenderID == readerID || m.IsRead {
			continue
		}
		if upTo != nil && m.CreatedAt.After(*upTo) {
			continue
		}
		m.IsRead = true
		n++
	}
	return n, nil
}

const (
	alice = "aaaaaaaa-0000-4000-8000-000000000001"
	bob   = "bbbbbbbb-0000-4000-8000-000000000002"
	eve   = "eeeeeeee-0000-4000-8000-000000000003"
)

// seedMessages appends count messages from sender with strictly increasing
// timestamps and returns them oldest-first.
func seedMessages(f *fakeStore, roomID, sender string, count int, start time.Time) []Message {
	out := make([]Message, 0, count)
	for i := 0; i < count; i++ {
		m := &Message{
			RoomID:      roomID,
			SenderID:    sender,
			Content:     fmt.Sprintf("msg %d", i),
			MessageType: TypeText,
			CreatedAt:   start.Add(time.Duration(i) * time.Second),
		}
		f.CreateMessage(context.Background(), m)
		out = append(out, *m)
	}
	return out
}

func TestMessages_NonMemberForbidden(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	svc := NewService(store)

	_, err := svc.Messages(context.Background(), eve, roomID, "", 10)
	if !fault.IsCode(err, fault.CodeForbidden) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeForbidden)
	}
}

func TestMessages_UnknownRoomForbiddenNotNotFound(t *testing.T) {
	// Denial must not reveal whether the room exists.
	svc := NewService(newFakeChatStore())

	_, err := svc.Messages(context.Background(), eve, uuid.New().String(), "", 10)
	if !fault.IsCode(err, fault.CodeForbidden) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeForbidden)
	}
}

func TestMessages_PageIsAscending(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	seeded := seedMessages(store, roomID, alice, 5, time.Now())
	svc := NewService(store)

	page, err := svc.Messages(context.Background(), bob, roomID, "", 10)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}

	if page.NextCursor != "" {
		t.Errorf("nextCursor = %q, want empty on last page", page.NextCursor)
	}
	if len(page.Items) != 5 {
		t.Fatalf("items = %d, want 5", len(page.Items))
	}
	for i, m := range page.Items {
		if m.ID != seeded[i].ID {
			t.Errorf("item %d = %s, want %s (oldest first)", i, m.Content, seeded[i].Content)
		}
	}
}

func TestMessages_RoundTripYieldsEachMessageOnce(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	seeded := seedMessages(store, roomID, alice, 23, time.Now())
	svc := NewService(store)

	for _, limit := range []int{1, 4, 5, 23, 50} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			seen := make(map[string]int)
			var walked []Message

			cursor := ""
			for {
				page, err := svc.Messages(context.Background(), bob, roomID, cursor, limit)
				if err != nil {
					t.Fatalf("Messages: %v", err)
				}
				if len(page.Items) > limit {
					t.Fatalf("page size %d exceeds limit %d", len(page.Items), limit)
				}
				for _, m := range page.Items {
					seen[m.ID]++
				}
				// Pages arrive newest-page-first; prepend to rebuild full order.
				walked = append(append([]Message{}, page.Items...), walked...)
				if page.NextCursor == "" {
					break
				}
				cursor = page.NextCursor
			}

			if len(seen) != len(seeded) {
				t.Fatalf("walked %d distinct messages, want %d", len(seen), len(seeded))
			}
			for id, count := range seen {
				if count != 1 {
					t.Errorf("message %s seen %d times, want exactly once", id, count)
				}
			}
			for i, m := range walked {
				if m.ID != seeded[i].ID {
					t.Fatalf("walked order diverges at %d", i)
				}
			}
		})
	}
}

func TestMessages_LimitClamped(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	seedMessages(store, roomID, alice, DefaultPageLimit+10, time.Now())
	svc := NewService(store)

	for _, limit := range []int{0, -1, MaxPageLimit + 1} {
		page, err := svc.Messages(context.Background(), bob, roomID, "", limit)
		if err != nil {
			t.Fatalf("Messages(limit=%d): %v", limit, err)
		}
		if len(page.Items) != DefaultPageLimit {
			t.Errorf("limit=%d returned %d items, want default %d", limit, len(page.Items), DefaultPageLimit)
		}
		if page.NextCursor == "" {
			t.Errorf("limit=%d: more history exists, nextCursor should be set", limit)
		}
	}
}

func TestSend_StoresTrimmedTextMessage(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	svc := NewService(store)

	m, err := svc.Send(context.Background(), alice, roomID, "  hello  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if m.Content != "hello" {
		t.Errorf("content = %q, want trimmed %q", m.Content, "hello")
	}
	if m.MessageType != TypeText {
		t.Errorf("messageType = %s, want %s", m.MessageType, TypeText)
	}
	if m.IsRead {
		t.Error("new message must start unread")
	}
	if m.SenderID != alice || m.RoomID != roomID {
		t.Errorf("sender/room = %s/%s", m.SenderID, m.RoomID)
	}
}

func TestSend_InvalidContent(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	svc := NewService(store)

	for _, content := range []string{"", "   ", strings.Repeat("あ", MaxContentChars+1)} {
		_, err := svc.Send(context.Background(), alice, roomID, content)
		if !fault.IsCode(err, fault.CodeInvalidRequest) {
			t.Errorf("Send(%q...) code = %s, want %s", content[:min(len(content), 5)], fault.CodeOf(err), fault.CodeInvalidRequest)
		}
	}

	// Exactly at the limit is accepted.
	if _, err := svc.Send(context.Background(), alice, roomID, strings.Repeat("あ", MaxContentChars)); err != nil {
		t.Errorf("content at the limit rejected: %v", err)
	}
}

func TestSend_ExpiredRoom(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now().Add(-ActiveWindow-time.Minute), alice, bob)
	svc := NewService(store)

	_, err := svc.Send(context.Background(), alice, roomID, "hello")
	if !fault.IsCode(err, fault.CodeForbidden) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeForbidden)
	}
	if len(store.messages) != 0 {
		t.Errorf("messages = %d, expired room must not accept sends", len(store.messages))
	}
}

func TestSend_NonMemberForbidden(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	svc := NewService(store)

	_, err := svc.Send(context.Background(), eve, roomID, "hello")
	if !fault.IsCode(err, fault.CodeForbidden) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeForbidden)
	}
}

func TestMarkRead_FlagsPartnerMessagesOnly(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	now := time.Now()
	seedMessages(store, roomID, alice, 3, now)
	seedMessages(store, roomID, bob, 2, now.Add(time.Minute))
	svc := NewService(store)

	n, err := svc.MarkRead(context.Background(), bob, roomID, "")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n != 3 {
		t.Errorf("flagged = %d, want 3 (only alice's messages)", n)
	}

	for _, m := range store.messages {
		wantRead := m.SenderID == alice
		if m.IsRead != wantRead {
			t.Errorf("message from %s: isRead = %v, want %v", m.SenderID, m.IsRead, wantRead)
		}
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	seeded := seedMessages(store, roomID, alice, 4, time.Now())
	svc := NewService(store)
	ctx := context.Background()

	cutoff := seeded[2].ID

	n, err := svc.MarkRead(ctx, bob, roomID, cutoff)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n != 3 {
		t.Errorf("first call flagged %d, want 3 (up to and including cutoff)", n)
	}

	// Same cutoff again: nothing further changes.
	n, err = svc.MarkRead(ctx, bob, roomID, cutoff)
	if err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	if n != 0 {
		t.Errorf("second call flagged %d, want 0", n)
	}

	// An earlier cutoff also changes nothing.
	n, _ = svc.MarkRead(ctx, bob, roomID, seeded[0].ID)
	if n != 0 {
		t.Errorf("earlier cutoff flagged %d, want 0", n)
	}

	// No cutoff picks up the remaining message.
	n, _ = svc.MarkRead(ctx, bob, roomID, "")
	if n != 1 {
		t.Errorf("no-cutoff call flagged %d, want 1", n)
	}
}

func TestMarkRead_UnknownReference(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	svc := NewService(store)

	_, err := svc.MarkRead(context.Background(), bob, roomID, uuid.New().String())
	if !fault.IsCode(err, fault.CodeNotFound) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeNotFound)
	}
}

func TestMarkRead_ReferenceFromOtherRoom(t *testing.T) {
	store := newFakeChatStore()
	roomA := store.addRoom(time.Now(), alice, bob)
	roomB := store.addRoom(time.Now(), alice, eve)
	other := seedMessages(store, roomB, alice, 1, time.Now())
	svc := NewService(store)

	_, err := svc.MarkRead(context.Background(), bob, roomA, other[0].ID)
	if !fault.IsCode(err, fault.CodeNotFound) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeNotFound)
	}
}

func TestMarkRead_NonMemberForbidden(t *testing.T) {
	store := newFakeChatStore()
	roomID := store.addRoom(time.Now(), alice, bob)
	svc := NewService(store)

	_, err := svc.MarkRead(context.Background(), eve, roomID, "")
	if !fault.IsCode(err, fault.CodeForbidden) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeForbidden)
	}
}
