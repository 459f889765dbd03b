// Package match implements the match lifecycle: a stranger applies to a
// post, the post owner approves within the expiry window, and the approval
// atomically opens a chat room for the pair.
package match

import (
	"context"
	"errors"
	"time"
)

// ExpiryWindow is how long a pending match stays approvable. Expiry is
// evaluated lazily at approval time; no background process transitions
// pending matches.
const ExpiryWindow = 20 * time.Minute

// Status values for the match state machine. Pending transitions to approved
// or rejected; both are terminal.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Match is a request by an applicant to connect around a post.
type Match struct {
	ID          string
	PostID      string
	ApplicantID string
	Status      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Room is the chat room opened by an approved match.
type Room struct {
	ID        string
	MatchID   string
	CreatedAt time.Time
}

// WithOwner is a match joined with its post's owner, as needed by the
// approval checks.
type WithOwner struct {
	Match
	PostOwnerID string
}

// Store errors reported by the storage layer for the service to classify.
var (
	// ErrDuplicateActive means an active (pending or approved) match already
	// exists for the (post, applicant) pair. Raised by the storage uniqueness
	// guarantee, so two concurrent applies cannot both succeed.
	ErrDuplicateActive = errors.New("match: active match already exists")

	// ErrNotPending means the conditional approval update found the match no
	// longer pending. Raised inside the atomic transition, closing the race
	// between two concurrent approvals.
	ErrNotPending = errors.New("match: match is not pending")
)

// Store persists matches and performs the atomic approval transition.
type Store interface {
	// FindActiveByPostAndApplicant returns the pending or approved match for
	// the pair, or nil if none exists.
	FindActiveByPostAndApplicant(ctx context.Context, postID, applicantID string) (*Match, error)

	// Create inserts a pending match. Returns ErrDuplicateActive if an
	// active match for the pair already exists.
	Create(ctx context.Context, m *Match) error

	// FindByIDWithPost returns the match joined with its post owner, or nil
	// if absent.
	FindByIDWithPost(ctx context.Context, id string) (*WithOwner, error)

	// Approve atomically flips the match to approved, creates the chat room,
	// and inserts both participants. Returns ErrNotPending if the match was
	// not pending at the moment of the update. Nothing is left behind on
	// failure.
	Approve(ctx context.Context, matchID string) (*Match, *Room, error)
}
