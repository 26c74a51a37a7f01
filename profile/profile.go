package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bosley/echo/blob"
	"github.com/bosley/echo/store"
)

var (
	ErrEmptyImage    = errors.New("profile image is empty")
	ErrEmptyUsername = errors.New("username is required")
)

type Service struct {
	blobs blob.Store
	store store.Repository
}

func NewService(blobs blob.Store, repo store.Repository) *Service {
	return &Service{blobs: blobs, store: repo}
}

// UploadPicture stores the image at the user's fixed profile key,
// replacing any earlier picture, and returns its URL.
func (s *Service) UploadPicture(ctx context.Context, userID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	key := blob.ProfileImageKey(userID)
	url, err := s.blobs.Upload(ctx, key, blob.ContentType(key), data)
	if err != nil {
		return "", fmt.Errorf("failed to upload profile image: %w", err)
	}
	slog.Info("Uploaded profile image", "userID", userID, "bytes", len(data))
	return url, nil
}

// Save overwrites the whole profile record.
func (s *Service) Save(ctx context.Context, userID, username, imageURL string) (*store.UserProfile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	p := &store.UserProfile{UserID: userID, Username: username, ImageURL: imageURL}
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return p, nil
}

// Get returns nil without error when the user has no profile yet.
func (s *Service) Get(ctx context.Context, userID string) (*store.UserProfile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}
