package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/inoue-kamui/20match/internal/fault"
	"github.com/inoue-kamui/20match/internal/metrics"
	"github.com/inoue-kamui/20match/internal/post"
	"github.com/inoue-kamui/20match/internal/user"
)

// UserFinder looks up a user by ID, returning nil when absent. Satisfied by
// *user.Store.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
}

// PostFinder looks up a post by ID, returning nil when absent. Satisfied by
// *post.Store.
type PostFinder interface {
	FindByID(ctx context.Context, id string) (*post.Post, error)
}

// Service applies the lifecycle rules over the match store.
type Service struct {
	store Store
	users UserFinder
	posts PostFinder
	now   func() time.Time
}

// NewService creates a match service wired to its stores.
func NewService(store Store, users UserFinder, posts PostFinder) *Service {
	return &Service{
		store: store,
		users: users,
		posts: posts,
		now:   time.Now,
	}
}

// Apply records a pending match from applicantID to postID, expiring after
// ExpiryWindow. The duplicate check runs twice: once here for a friendly
// error, and again as the storage uniqueness guarantee that serializes
// concurrent applies for the same pair.
func (s *Service) Apply(ctx context.Context, applicantID, postID string) (*Match, error) {
	applicant, err := s.users.FindByID(ctx, applicantID)
	if err != nil {
		return nil, fmt.Errorf("match: apply: %w", err)
	}
	if applicant == nil {
		return nil, fault.NotFound("applicant user not found")
	}

	p, err := s.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("match: apply: %w", err)
	}
	if p == nil {
		return nil, fault.NotFound("post not found")
	}

	if p.UserID == applicantID {
		return nil, fault.InvalidRequest("cannot apply to own post")
	}

	existing, err := s.store.FindActiveByPostAndApplicant(ctx, postID, applicantID)
	if err != nil {
		return nil, fmt.Errorf("match: apply: %w", err)
	}
	if existing != nil {
		return nil, fault.Conflict("match request already exists")
	}

	now := s.now()
	m := &Match{
		ID:          uuid.New().String(),
		PostID:      postID,
		ApplicantID: applicantID,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ExpiryWindow),
	}

	if err := s.store.Create(ctx, m); err != nil {
		if errors.Is(err, ErrDuplicateActive) {
			return nil, fault.Conflict("match request already exists")
		}
		return nil, fmt.Errorf("match: apply: %w", err)
	}

	metrics.MatchesTotal.WithLabelValues("applied").Inc()
	log.Printf("match: applied match=%s post=%s applicant=%s", m.ID, postID, applicantID)
	return m, nil
}

// Approve flips a pending match to approved and opens its chat room. Only
// the post owner may approve, and only while the match is pending and
// unexpired. Expiry uses a strict comparison: a match approved exactly at
// expiresAt is still valid.
func (s *Service) Approve(ctx context.Context, requesterID, matchID string) (*Match, *Room, error) {
	mo, err := s.store.FindByIDWithPost(ctx, matchID)
	if err != nil {
		return nil, nil, fmt.Errorf("match: approve: %w", err)
	}
	if mo == nil {
		return nil, nil, fault.NotFound("match not found")
	}

	if mo.Status != StatusPending {
		return nil, nil, fault.Conflict("match is not pending")
	}

	if mo.PostOwnerID != requesterID {
		return nil, nil, fault.Forbidden("only the post owner can approve matches")
	}

	// An expired match is treated like an already-rejected one; the row
	// itself stays pending and is only ever discovered here.
	if s.now().After(mo.ExpiresAt) {
		metrics.MatchesTotal.WithLabelValues("expired").Inc()
		return nil, nil, fault.Conflict("match request has expired")
	}

	m, room, err := s.store.Approve(ctx, matchID)
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			return nil, nil, fault.Conflict("match is not pending")
		}
		return nil, nil, fmt.Errorf("match: approve: %w", err)
	}

	metrics.MatchesTotal.WithLabelValues("approved").Inc()
	log.Printf("match: approved match=%s room=%s", m.ID, room.ID)
	return m, room, nil
}
