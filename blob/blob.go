// Package blob stores binary objects (recordings, profile images) and hands
// out durable retrieval URLs for them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("object not found")
	ErrExists   = errors.New("object already exists")
)

type Store interface {
	// Upload writes data under key, replacing any existing object, and
	// returns a durable retrieval URL.
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Create is Upload for keys that must not be reused: it fails with
	// ErrExists when key is already taken.
	Create(ctx context.Context, key, contentType string, data []byte) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// AudioKey places a user's recording under a timestamp-derived name.
func AudioKey(userID string, at time.Time, ext string) string {
	if ext == "" {
		ext = ".wav"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("audio/%s/%d%s", userID, at.UnixMilli(), ext)
}

func ProfileImageKey(userID string) string {
	return fmt.Sprintf("profile_images/%s.jpg", userID)
}

// ObjectURL builds the retrieval URL for key: <base>/o/<escaped key>?alt=media
func ObjectURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/o/" + url.PathEscape(key) + "?alt=media"
}

// KeyFromURL recovers the storage key from a URL built by ObjectURL.
func KeyFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse object URL: %w", err)
	}

	_, escaped, found := strings.Cut(u.EscapedPath(), "/o/")
	if !found || escaped == "" {
		return "", fmt.Errorf("object URL %q has no key", raw)
	}

	key, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("failed to unescape object key: %w", err)
	}
	return key, nil
}

// ContentType guesses a content type from a key's extension.
func ContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(key, ".m4a"):
		return "audio/m4a"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
