package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inoue-kamui/20match/internal/fault"
	"github.com/inoue-kamui/20match/internal/post"
	"github.com/inoue-kamui/20match/internal/user"
)

// fakeStore is an in-memory Store honoring the same contract as the SQL
// implementation: uniqueness on active pairs and an all-or-nothing approval.
type fakeStore struct {
	matches      map[string]*Match
	owners       map[string]string // matchID -> post owner
	rooms        []*Room
	participants map[string][]string // roomID -> userIDs

	// failApprove injects a storage failure mid-transition.
	failApprove bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		matches:      make(map[string]*Match),
		owners:       make(map[string]string),
		participants: make(map[string][]string),
	}
}

func (f *fakeStore) FindActiveByPostAndApplicant(_ context.Context, postID, applicantID string) (*Match, error) {
	for _, m := range f.matches {
		if m.PostID == postID && m.ApplicantID == applicantID &&
			(m.Status == StatusPending || m.Status == StatusApproved) {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Create(_ context.Context, m *Match) error {
	for _, existing := range f.matches {
		if existing.PostID == m.PostID && existing.ApplicantID == m.ApplicantID &&
			(existing.Status == StatusPending || existing.Status == StatusApproved) {
			return ErrDuplicateActive
		}
	}
	cp := *m
	f.matches[m.ID] = &cp
	return nil
}

func (f *fakeStore) FindByIDWithPost(_ context.Context, id string) (*WithOwner, error) {
	m, ok := f.matches[id]
	if !ok {
		return nil, nil
	}
	return &WithOwner{Match: *m, PostOwnerID: f.owners[id]}, nil
}

func (f *fakeStore) Approve(_ context.Context, matchID string) (*Match, *Room, error) {
	m, ok := f.matches[matchID]
	if !ok || m.Status != StatusPending {
		return nil, nil, ErrNotPending
	}
	if f.failApprove {
		// Simulates a rollback: no state change survives.
		return nil, nil, errors.New("injected storage failure")
	}
	m.Status = StatusApproved
	room := &Room{ID: uuid.New().String(), MatchID: matchID, CreatedAt: time.Now()}
	f.rooms = append(f.rooms, room)
	f.participants[room.ID] = []string{f.owners[matchID], m.ApplicantID}
	cp := *m
	return &cp, room, nil
}

type fakeUsers map[string]*user.User

func (f fakeUsers) FindByID(_ context.Context, id string) (*user.User, error) {
	return f[id], nil
}

type fakePosts map[string]*post.Post

func (f fakePosts) FindByID(_ context.Context, id string) (*post.Post, error) {
	return f[id], nil
}

const (
	ownerID     = "3f1a2b3c-0000-4000-8000-000000000001"
	applicantID = "3f1a2b3c-0000-4000-8000-000000000002"
	postID      = "3f1a2b3c-0000-4000-8000-000000000010"
)

func newTestService(store *fakeStore) *Service {
	users := fakeUsers{
		ownerID:     {ID: ownerID, Nickname: "owner"},
		applicantID: {ID: applicantID, Nickname: "applicant"},
	}
	posts := fakePosts{
		postID: {ID: postID, UserID: ownerID},
	}
	return NewService(store, users, posts)
}

func TestApply_CreatesPendingMatch(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	before := time.Now()
	m, err := svc.Apply(context.Background(), applicantID, postID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if m.Status != StatusPending {
		t.Errorf("status = %s, want %s", m.Status, StatusPending)
	}
	if m.PostID != postID || m.ApplicantID != applicantID {
		t.Errorf("unexpected pair: post=%s applicant=%s", m.PostID, m.ApplicantID)
	}

	wantExpiry := before.Add(ExpiryWindow)
	if m.ExpiresAt.Before(wantExpiry.Add(-time.Second)) || m.ExpiresAt.After(wantExpiry.Add(2*time.Second)) {
		t.Errorf("expiresAt = %v, want ~%v", m.ExpiresAt, wantExpiry)
	}
}

func TestApply_UnknownApplicant(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.Apply(context.Background(), uuid.New().String(), postID)
	if !fault.IsCode(err, fault.CodeNotFound) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeNotFound)
	}
}

func TestApply_UnknownPost(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.Apply(context.Background(), applicantID, uuid.New().String())
	if !fault.IsCode(err, fault.CodeNotFound) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeNotFound)
	}
}

func TestApply_OwnPost(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.Apply(context.Background(), ownerID, postID)
	if !fault.IsCode(err, fault.CodeInvalidRequest) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeInvalidRequest)
	}
}

func TestApply_DuplicateActive(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Apply(ctx, applicantID, postID); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	_, err := svc.Apply(ctx, applicantID, postID)
	if !fault.IsCode(err, fault.CodeConflict) {
		t.Errorf("second Apply code = %s, want %s", fault.CodeOf(err), fault.CodeConflict)
	}

	if len(store.matches) != 1 {
		t.Errorf("matches stored = %d, want 1", len(store.matches))
	}
}

func TestApply_DuplicateRace(t *testing.T) {
	// Two applies race past the pre-check; the storage uniqueness guarantee
	// must still reject the second insert.
	store := newFakeStore()
	svc := newTestService(store)

	m := &Match{
		ID: uuid.New().String(), PostID: postID, ApplicantID: applicantID,
		Status: StatusPending, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(ExpiryWindow),
	}
	if err := store.Create(context.Background(), m); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Bypass the service pre-check by making it see no active match.
	delete(store.matches, m.ID)
	svc.store = &racingStore{fakeStore: store, hidden: m}

	_, err := svc.Apply(context.Background(), applicantID, postID)
	if !fault.IsCode(err, fault.CodeConflict) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeConflict)
	}
}

// racingStore hides an existing match from the pre-check but enforces
// uniqueness on insert, modelling a concurrent apply that committed between
// the service's check and its insert.
type racingStore struct {
	*fakeStore
	hidden *Match
}

func (r *racingStore) FindActiveByPostAndApplicant(context.Context, string, string) (*Match, error) {
	return nil, nil
}

func (r *racingStore) Create(ctx context.Context, m *Match) error {
	r.fakeStore.matches[r.hidden.ID] = r.hidden
	return r.fakeStore.Create(ctx, m)
}

func TestApprove_OpensRoomForBothParticipants(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	applied, err := svc.Apply(ctx, applicantID, postID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	store.owners[applied.ID] = ownerID

	m, room, err := svc.Approve(ctx, ownerID, applied.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if m.Status != StatusApproved {
		t.Errorf("status = %s, want %s", m.Status, StatusApproved)
	}
	if room == nil || room.MatchID != applied.ID {
		t.Fatalf("room = %+v, want room for match %s", room, applied.ID)
	}

	got := store.participants[room.ID]
	if len(got) != 2 || got[0] != ownerID || got[1] != applicantID {
		t.Errorf("participants = %v, want [%s %s]", got, ownerID, applicantID)
	}
}

func TestApprove_SecondApproveConflicts(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	applied, _ := svc.Apply(ctx, applicantID, postID)
	store.owners[applied.ID] = ownerID

	if _, _, err := svc.Approve(ctx, ownerID, applied.ID); err != nil {
		t.Fatalf("first Approve: %v", err)
	}

	_, _, err := svc.Approve(ctx, ownerID, applied.ID)
	if !fault.IsCode(err, fault.CodeConflict) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeConflict)
	}

	if len(store.rooms) != 1 {
		t.Errorf("rooms = %d, a retried approve must not create a second room", len(store.rooms))
	}
}

func TestApprove_NonOwnerForbidden(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	applied, _ := svc.Apply(ctx, applicantID, postID)
	store.owners[applied.ID] = ownerID

	_, _, err := svc.Approve(ctx, applicantID, applied.ID)
	if !fault.IsCode(err, fault.CodeForbidden) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeForbidden)
	}
}

func TestApprove_UnknownMatch(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, _, err := svc.Approve(context.Background(), ownerID, uuid.New().String())
	if !fault.IsCode(err, fault.CodeNotFound) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeNotFound)
	}
}

func TestApprove_ExpiredMatch(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	applied, _ := svc.Apply(ctx, applicantID, postID)
	store.owners[applied.ID] = ownerID

	// Approve request arrives 21 minutes after the apply.
	svc.now = func() time.Time { return applied.CreatedAt.Add(21 * time.Minute) }

	_, _, err := svc.Approve(ctx, ownerID, applied.ID)
	if !fault.IsCode(err, fault.CodeConflict) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeConflict)
	}
	if len(store.rooms) != 0 {
		t.Errorf("rooms = %d, expired approval must not create a room", len(store.rooms))
	}
	if store.matches[applied.ID].Status != StatusPending {
		t.Errorf("status = %s, expiry must not rewrite the stored row", store.matches[applied.ID].Status)
	}
}

func TestApprove_AtExpiryBoundary(t *testing.T) {
	// Strictly after expiresAt expires; exactly at expiresAt still approves.
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	applied, _ := svc.Apply(ctx, applicantID, postID)
	store.owners[applied.ID] = ownerID
	svc.now = func() time.Time { return applied.ExpiresAt }

	if _, _, err := svc.Approve(ctx, ownerID, applied.ID); err != nil {
		t.Errorf("approve exactly at expiresAt should succeed: %v", err)
	}
}

func TestApprove_StorageFailureLeavesMatchPending(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	applied, _ := svc.Apply(ctx, applicantID, postID)
	store.owners[applied.ID] = ownerID
	store.failApprove = true

	_, _, err := svc.Approve(ctx, ownerID, applied.ID)
	if err == nil {
		t.Fatal("expected storage failure to surface")
	}
	if fault.CodeOf(err) != fault.CodeInternal {
		t.Errorf("code = %s, storage failures must surface generically", fault.CodeOf(err))
	}

	if store.matches[applied.ID].Status != StatusPending {
		t.Errorf("status = %s, failed approval must leave the match pending", store.matches[applied.ID].Status)
	}
	if len(store.rooms) != 0 {
		t.Errorf("rooms = %d, failed approval must not leave an orphan room", len(store.rooms))
	}
}

func TestApprove_LostUpdateRaceConflicts(t *testing.T) {
	// The row flips between the service's read and the conditional update.
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	applied, _ := svc.Apply(ctx, applicantID, postID)
	store.owners[applied.ID] = ownerID
	svc.store = &flippingStore{fakeStore: store, matchID: applied.ID}

	_, _, err := svc.Approve(ctx, ownerID, applied.ID)
	if !fault.IsCode(err, fault.CodeConflict) {
		t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeConflict)
	}
}

// flippingStore reports the match as pending on read but approved by the
// time the atomic transition runs, modelling a concurrent approve.
type flippingStore struct {
	*fakeStore
	matchID string
}

func (f *flippingStore) Approve(ctx context.Context, matchID string) (*Match, *Room, error) {
	f.fakeStore.matches[f.matchID].Status = StatusApproved
	return f.fakeStore.Approve(ctx, matchID)
}
