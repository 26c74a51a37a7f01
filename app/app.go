// Package app builds the process-wide service handles once and hands them
// to the surfaces (API server, inbox, terminal recorder).
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bosley/echo/auth"
	"github.com/bosley/echo/blob"
	"github.com/bosley/echo/config"
	"github.com/bosley/echo/inbox"
	"github.com/bosley/echo/pipeline"
	"github.com/bosley/echo/profile"
	"github.com/bosley/echo/recorder"
	"github.com/bosley/echo/server"
	"github.com/bosley/echo/store"
	"github.com/bosley/echo/transcribe"
	"github.com/google/uuid"
)

type App struct {
	Config      config.Config
	Store       store.Repository
	Blobs       blob.Store
	Transcriber transcribe.Backend
	Pipeline    *pipeline.Pipeline
	Auth        *auth.Service
	Profiles    *profile.Service
}

func New(cfg config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	blobs, err := blob.NewFS(cfg.BlobDir, cfg.PublicURL)
	if err != nil {
		repo.Close()
		return nil, err
	}

	transcriber, err := NewTranscriber(cfg)
	if err != nil {
		repo.Close()
		return nil, err
	}

	secret := cfg.AuthSecret
	if secret == "" {
		secret = uuid.New().String()
		slog.Warn("ECHO_AUTH_SECRET is not set; API tokens will not survive a restart")
	}
	authSvc, err := auth.NewService(auth.Config{
		Secret:    []byte(secret),
		VerifyURL: cfg.PublicURL + "/api/verify",
	}, repo, auth.LogMailer{})
	if err != nil {
		repo.Close()
		return nil, err
	}

	slog.Info("Services ready",
		"db", cfg.DBDriver,
		"blobs", cfg.BlobDir,
		"transcription", cfg.TranscribeBackend)

	return &App{
		Config:      cfg,
		Store:       repo,
		Blobs:       blobs,
		Transcriber: transcriber,
		Pipeline:    pipeline.New(blobs, repo, transcriber),
		Auth:        authSvc,
		Profiles:    profile.NewService(blobs, repo),
	}, nil
}

// NewTranscriber picks the transcription backend named in cfg.
func NewTranscriber(cfg config.Config) (transcribe.Backend, error) {
	switch cfg.TranscribeBackend {
	case config.BackendHTTP, "":
		return transcribe.NewHTTPBackend(cfg.TranscribeURL, cfg.TranscribeTimeout), nil
	case config.BackendOpenAI:
		return transcribe.NewOpenAIBackend(cfg.OpenAIKey, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.TranscribeBackend)
	}
}

func (a *App) NewServer() (*server.Server, error) {
	return server.New(server.Config{
		Addr:     a.Config.Addr,
		CertFile: a.Config.CertFile,
		KeyFile:  a.Config.KeyFile,
	}, server.Deps{
		Auth:     a.Auth,
		Profiles: a.Profiles,
		Sessions: a.Pipeline,
		Store:    a.Store,
		Blobs:    a.Blobs,
	})
}

// NewInbox watches the configured drop directory. onSession may be nil.
func (a *App) NewInbox(onSession func(*store.Session)) (*inbox.Inbox, error) {
	if a.Config.InboxDir == "" {
		return nil, errors.New("no inbox directory configured")
	}
	return inbox.New(inbox.Config{
		Dir:             a.Config.InboxDir,
		Workers:         a.Config.Workers,
		RemoveProcessed: true,
		OnSession:       onSession,
	}, a.Pipeline)
}

// NewRecorder captures from the configured portaudio input device.
func (a *App) NewRecorder() *recorder.Recorder {
	return recorder.New(recorder.Config{
		Dir: a.Config.RecordingsDir,
	}, &recorder.PortAudioDevice{DeviceID: a.Config.DeviceID}, recorder.PortAudioPermissions{})
}

func (a *App) Close() error {
	return a.Store.Close()
}
