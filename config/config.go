// Package config reads settings from an optional .env file and the
// environment. Variables already set in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendHTTP   = "http"
	BackendOpenAI = "openai"
)

type Config struct {
	// Root for the default database, blob and recordings locations
	DataDir string

	// Document store: "sqlite" or "postgres"
	DBDriver string
	DBDSN    string

	// Blob store root and the public base URL download links are built on
	BlobDir   string
	PublicURL string

	// API server
	Addr     string
	CertFile string
	KeyFile  string

	// Transcription backend: "http" or "openai"
	TranscribeBackend string
	TranscribeURL     string
	TranscribeTimeout time.Duration
	OpenAIKey         string
	OpenAIModel       string

	// Signs API tokens; a random per-process secret is used when empty
	AuthSecret string

	// Local recorder
	RecordingsDir string
	DeviceID      int

	// Drop directory watched while serving; disabled when empty
	InboxDir string
	Workers  int

	LogLevel slog.Level
}

// Load reads the given env files, or ./.env when none are named, then
// builds the configuration from the environment. A missing ./.env is not
// an error; a missing named file is.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, falling back to environment variables")
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables alone.
func FromEnv() (Config, error) {
	dataDir := getenv("ECHO_DATA_DIR", "data")

	cfg := Config{
		DataDir:           dataDir,
		DBDriver:          getenv("ECHO_DB_DRIVER", "sqlite"),
		DBDSN:             getenv("ECHO_DB_DSN", filepath.Join(dataDir, "echo.db")),
		BlobDir:           getenv("ECHO_BLOB_DIR", filepath.Join(dataDir, "blobs")),
		PublicURL:         getenv("ECHO_PUBLIC_URL", "http://localhost:8080"),
		Addr:              getenv("ECHO_ADDR", ":8080"),
		CertFile:          os.Getenv("ECHO_TLS_CERT"),
		KeyFile:           os.Getenv("ECHO_TLS_KEY"),
		TranscribeBackend: getenv("ECHO_TRANSCRIBE_BACKEND", BackendHTTP),
		TranscribeURL:     getenv("ECHO_TRANSCRIBE_URL", "http://localhost:5000/transcribe"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getenv("ECHO_OPENAI_MODEL", "whisper-1"),
		AuthSecret:        os.Getenv("ECHO_AUTH_SECRET"),
		RecordingsDir:     getenv("ECHO_RECORDINGS_DIR", filepath.Join(dataDir, "recordings")),
		InboxDir:          os.Getenv("ECHO_INBOX_DIR"),
	}

	var errs []error

	timeout, err := time.ParseDuration(getenv("ECHO_TRANSCRIBE_TIMEOUT", "5m"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ECHO_TRANSCRIBE_TIMEOUT: %w", err))
	}
	cfg.TranscribeTimeout = timeout

	if cfg.DeviceID, err = strconv.Atoi(getenv("ECHO_DEVICE", "0")); err != nil {
		errs = append(errs, fmt.Errorf("ECHO_DEVICE: %w", err))
	}
	if cfg.Workers, err = strconv.Atoi(getenv("ECHO_WORKERS", "2")); err != nil {
		errs = append(errs, fmt.Errorf("ECHO_WORKERS: %w", err))
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("ECHO_LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("ECHO_LOG_LEVEL: %w", err))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.DBDriver)
	}

	switch c.TranscribeBackend {
	case BackendHTTP:
		if c.TranscribeURL == "" {
			return errors.New("ECHO_TRANSCRIBE_URL is required for the http backend")
		}
	case BackendOpenAI:
		if c.OpenAIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai backend")
		}
	default:
		return fmt.Errorf("unknown transcription backend %q", c.TranscribeBackend)
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("ECHO_TLS_CERT and ECHO_TLS_KEY must be set together")
	}
	if c.Workers <= 0 {
		return errors.New("ECHO_WORKERS must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
