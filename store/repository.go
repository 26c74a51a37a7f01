package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type Repository interface {
	// CreateSession assigns the id and creation time.
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// SessionsByUser returns a user's sessions, newest first.
	SessionsByUser(ctx context.Context, userID string) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error

	// SaveProfile overwrites the profile wholesale.
	SaveProfile(ctx context.Context, p *UserProfile) error
	// GetProfile returns nil when the user has no profile.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)

	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByVerifyToken(ctx context.Context, token string) (*User, error)
	MarkVerified(ctx context.Context, id string) error

	Close() error
}
