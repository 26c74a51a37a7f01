// Package pipeline turns a finished recording into a persisted session:
// upload, transcription, speaking-rate metric, record write. It also
// removes sessions together with their audio.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bosley/echo/audio"
	"github.com/bosley/echo/blob"
	"github.com/bosley/echo/store"
	"github.com/bosley/echo/transcribe"
)

var (
	ErrReadAudio       = errors.New("failed to read recording")
	ErrStorageUpload   = errors.New("failed to upload recording")
	ErrTranscription   = errors.New("transcription failed")
	ErrPersistence     = errors.New("failed to persist session")
	ErrStorageDelete   = errors.New("failed to delete recording")
	ErrInvalidAudioURL = errors.New("invalid audio URL")
)

// Recordings of one user that land in the same millisecond take the next
// free millisecond, up to this many tries.
const maxKeyAttempts = 64

// DurationFunc measures a local recording.
type DurationFunc func(path string) (time.Duration, error)

type Pipeline struct {
	blobs       blob.Store
	store       store.Repository
	transcriber transcribe.Backend
	duration    DurationFunc
	now         func() time.Time
}

func New(blobs blob.Store, repo store.Repository, transcriber transcribe.Backend) *Pipeline {
	return &Pipeline{
		blobs:       blobs,
		store:       repo,
		transcriber: transcriber,
		duration:    audio.Duration,
		now:         time.Now,
	}
}

// Submit uploads the recording at localPath for userID, transcribes it and
// writes the session record.
//
// A transcription failure does not stop the session from being written:
// the returned session is non-nil and err wraps ErrTranscription. An upload
// failure persists nothing. A persistence failure leaves the uploaded blob
// in place.
func (p *Pipeline) Submit(ctx context.Context, userID, localPath string) (*store.Session, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadAudio, err)
	}

	key, audioURL, err := p.uploadAudio(ctx, userID, filepath.Ext(localPath), data)
	if err != nil {
		slog.Error("Failed to upload recording", "error", err, "userID", userID, "key", key)
		return nil, fmt.Errorf("%w: %w", ErrStorageUpload, err)
	}
	slog.Info("Uploaded recording", "userID", userID, "key", key, "bytes", len(data))

	var errs []error

	transcript, err := p.transcriber.Transcribe(ctx, filepath.Base(localPath), data)
	if err != nil {
		slog.Warn("Transcription failed, saving session without transcript",
			"error", err,
			"userID", userID,
			"key", key)
		transcript = ""
		errs = append(errs, fmt.Errorf("%w: %w", ErrTranscription, err))
	}

	session := &store.Session{
		UserID:      userID,
		AudioURL:    audioURL,
		Transcript:  transcript,
		Feedback:    []string{},
		FillerWords: []string{},
	}

	var seconds float64
	if d, err := p.duration(localPath); err != nil {
		slog.Warn("Could not measure recording duration", "error", err, "path", localPath)
	} else {
		seconds = d.Seconds()
		session.Duration = &seconds
	}

	speed := Speed(WordCount(transcript), seconds)
	session.Speed = &speed

	if err := p.store.CreateSession(ctx, session); err != nil {
		slog.Error("Failed to persist session; uploaded audio left in storage",
			"error", err,
			"userID", userID,
			"audioURL", audioURL)
		errs = append(errs, fmt.Errorf("%w: %w", ErrPersistence, err))
		return nil, errors.Join(errs...)
	}

	slog.Info("Session saved",
		"sessionID", session.ID,
		"userID", userID,
		"words", WordCount(transcript),
		"durationSeconds", seconds,
		"speed", speed)

	return session, errors.Join(errs...)
}

// uploadAudio stores data under a fresh audio key so two recordings never
// share a blob.
func (p *Pipeline) uploadAudio(ctx context.Context, userID, ext string, data []byte) (string, string, error) {
	at := p.now()
	var key string
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key = blob.AudioKey(userID, at.Add(time.Duration(attempt)*time.Millisecond), ext)
		audioURL, err := p.blobs.Create(ctx, key, blob.ContentType(key), data)
		if errors.Is(err, blob.ErrExists) {
			slog.Debug("Audio key taken, trying the next one", "key", key)
			continue
		}
		return key, audioURL, err
	}
	return key, "", fmt.Errorf("no free audio key after %d attempts: %w", maxKeyAttempts, blob.ErrExists)
}

// DeleteSession removes the session's audio and then its record. The
// record delete is attempted even when the audio delete fails; both
// failures are reported.
func (p *Pipeline) DeleteSession(ctx context.Context, id, audioURL string) error {
	var errs []error

	key, err := blob.KeyFromURL(audioURL)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: %w: %w", ErrStorageDelete, ErrInvalidAudioURL, err))
	} else if err := p.blobs.Delete(ctx, key); err != nil {
		slog.Error("Failed to delete recording", "error", err, "sessionID", id, "key", key)
		errs = append(errs, fmt.Errorf("%w: %w", ErrStorageDelete, err))
	}

	if err := p.store.DeleteSession(ctx, id); err != nil {
		slog.Error("Failed to delete session record", "error", err, "sessionID", id)
		errs = append(errs, fmt.Errorf("%w: %w", ErrPersistence, err))
	}

	if len(errs) == 0 {
		slog.Info("Session deleted", "sessionID", id)
	}
	return errors.Join(errs...)
}

// WordCount counts whitespace-separated words.
func WordCount(transcript string) int {
	return len(strings.Fields(transcript))
}

// Speed is words per minute, rounded. Zero when the duration is not
// positive.
func Speed(words int, seconds float64) int {
	if seconds <= 0 || words <= 0 {
		return 0
	}
	return int(math.Round(float64(words) / (seconds / 60)))
}
