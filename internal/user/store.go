// Package user provides the user directory: profile records consumed by the
// match lifecycle through a narrow lookup interface.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inoue-kamui/20match/internal/fault"
)

// Gender values accepted for a profile.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// User is a registered profile.
type User struct {
	ID         string
	Nickname   string
	Gender     string
	Age        int
	Prefecture string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateInput holds the fields required to register a user.
type CreateInput struct {
	Nickname   string
	Gender     string
	Age        int
	Prefecture string
}

// Validate checks the input against profile constraints.
func (in CreateInput) Validate() error {
	if in.Nickname == "" {
		return fault.InvalidRequest("nickname is required")
	}
	if in.Gender != GenderMale && in.Gender != GenderFemale {
		return fault.InvalidRequest("gender must be male or female")
	}
	if in.Age < 18 || in.Age > 99 {
		return fault.InvalidRequest("age must be between 18 and 99")
	}
	if in.Prefecture == "" {
		return fault.InvalidRequest("prefecture is required")
	}
	return nil
}

// Store manages user records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create validates the input and inserts a new user record.
func (s *Store) Create(ctx context.Context, in CreateInput) (*User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	u := &User{
		ID:         uuid.New().String(),
		Nickname:   in.Nickname,
		Gender:     in.Gender,
		Age:        in.Age,
		Prefecture: in.Prefecture,
	}

	const query = `
		INSERT INTO users (id, nickname, gender, age, prefecture)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		u.ID, u.Nickname, u.Gender, u.Age, u.Prefecture,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("user: insert: %w", err)
	}
	return u, nil
}

// FindByID returns the user with the given ID, or nil if absent.
func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, nickname, gender, age, prefecture, created_at, updated_at
		FROM users
		WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Nickname, &u.Gender, &u.Age, &u.Prefecture, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user: find %s: %w", id, err)
	}
	return &u, nil
}
