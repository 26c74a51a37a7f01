package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bosley/echo/config"
	"github.com/bosley/echo/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		DataDir:           dir,
		DBDriver:          "sqlite",
		DBDSN:             filepath.Join(dir, "echo.db"),
		BlobDir:           filepath.Join(dir, "blobs"),
		PublicURL:         "http://localhost:8080",
		Addr:              "127.0.0.1:0",
		TranscribeBackend: config.BackendHTTP,
		TranscribeURL:     "http://localhost:5000/transcribe",
		TranscribeTimeout: time.Minute,
		RecordingsDir:     filepath.Join(dir, "recordings"),
		Workers:           1,
	}
}

func TestNewBuildsServices(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Blobs)
	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Auth)
	assert.NotNil(t, a.Profiles)
	assert.IsType(t, &transcribe.HTTPBackend{}, a.Transcriber)
}

func TestNewServerRoutes(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	srv, err := a.NewServer()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewInbox(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = a.NewInbox(nil)
	assert.Error(t, err)

	a.Config.InboxDir = filepath.Join(cfg.DataDir, "inbox")
	in, err := a.NewInbox(nil)
	require.NoError(t, err)
	require.NoError(t, in.Start(context.Background()))
	assert.NoError(t, in.Stop(context.Background()))
}

func TestNewTranscriber(t *testing.T) {
	cfg := testConfig(t)

	cfg.TranscribeBackend = config.BackendOpenAI
	cfg.OpenAIKey = "sk-test"
	b, err := NewTranscriber(cfg)
	require.NoError(t, err)
	assert.IsType(t, &transcribe.OpenAIBackend{}, b)

	cfg.TranscribeBackend = "fax"
	_, err = NewTranscriber(cfg)
	assert.Error(t, err)
}

func TestNewFailsOnBadDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBDriver = "mysql"
	_, err := New(cfg)
	assert.Error(t, err)
}
