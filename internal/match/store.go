package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// pqUniqueViolation is the PostgreSQL error code for a unique constraint
// violation, raised by the partial unique index on active matches.
const pqUniqueViolation = "23505"

// SQLStore is the PostgreSQL-backed match store.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a match store backed by the given database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// FindActiveByPostAndApplicant returns the pending or approved match for the
// pair, or nil if none exists.
func (s *SQLStore) FindActiveByPostAndApplicant(ctx context.Context, postID, applicantID string) (*Match, error) {
	const query = `
		SELECT id, post_id, applicant_id, status, created_at, expires_at
		FROM matches
		WHERE post_id = $1 AND applicant_id = $2 AND status IN ('pending', 'approved')`

	var m Match
	err := s.db.QueryRowContext(ctx, query, postID, applicantID).Scan(
		&m.ID, &m.PostID, &m.ApplicantID, &m.Status, &m.CreatedAt, &m.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match: find active: %w", err)
	}
	return &m, nil
}

// Create inserts a pending match. The partial unique index on active pairs
// turns a lost race between two concurrent applies into ErrDuplicateActive.
func (s *SQLStore) Create(ctx context.Context, m *Match) error {
	const query = `
		INSERT INTO matches (id, post_id, applicant_id, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.PostID, m.ApplicantID, m.Status, m.CreatedAt, m.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateActive
		}
		return fmt.Errorf("match: insert: %w", err)
	}
	return nil
}

// FindByIDWithPost returns the match joined with its post owner, or nil if
// absent.
func (s *SQLStore) FindByIDWithPost(ctx context.Context, id string) (*WithOwner, error) {
	const query = `
		SELECT m.id, m.post_id, m.applicant_id, m.status, m.created_at, m.expires_at, p.user_id
		FROM matches m
		JOIN posts p ON p.id = m.post_id
		WHERE m.id = $1`

	var mo WithOwner
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&mo.ID, &mo.PostID, &mo.ApplicantID, &mo.Status, &mo.CreatedAt, &mo.ExpiresAt, &mo.PostOwnerID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match: find %s: %w", id, err)
	}
	return &mo, nil
}

// Approve performs the approval as a single transaction: conditional status
// flip, room insert, two participant inserts. The UPDATE re-checks pending
// status under the transaction, so a concurrent approval that lost the race
// observes ErrNotPending and nothing else changes.
func (s *SQLStore) Approve(ctx context.Context, matchID string) (*Match, *Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("match: approve begin: %w", err)
	}
	defer tx.Rollback()

	const flip = `
		UPDATE matches
		SET status = 'approved'
		WHERE id = $1 AND status = 'pending'
		RETURNING id, post_id, applicant_id, status, created_at, expires_at`

	var m Match
	err = tx.QueryRowContext(ctx, flip, matchID).Scan(
		&m.ID, &m.PostID, &m.ApplicantID, &m.Status, &m.CreatedAt, &m.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotPending
	}
	if err != nil {
		return nil, nil, fmt.Errorf("match: approve flip: %w", err)
	}

	var ownerID string
	if err := tx.QueryRowContext(ctx, `SELECT user_id FROM posts WHERE id = $1`, m.PostID).Scan(&ownerID); err != nil {
		return nil, nil, fmt.Errorf("match: approve owner lookup: %w", err)
	}

	room := &Room{ID: uuid.New().String(), MatchID: m.ID}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO chat_rooms (id, match_id) VALUES ($1, $2) RETURNING created_at`,
		room.ID, room.MatchID,
	).Scan(&room.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("match: approve room insert: %w", err)
	}

	const insertParticipant = `
		INSERT INTO room_participants (id, room_id, user_id) VALUES ($1, $2, $3)`
	for _, userID := range []string{ownerID, m.ApplicantID} {
		if _, err := tx.ExecContext(ctx, insertParticipant, uuid.New().String(), room.ID, userID); err != nil {
			return nil, nil, fmt.Errorf("match: approve participant insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("match: approve commit: %w", err)
	}
	return &m, room, nil
}
