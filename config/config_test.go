package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var echoVars = []string{
	"ECHO_DATA_DIR", "ECHO_DB_DRIVER", "ECHO_DB_DSN", "ECHO_BLOB_DIR", "ECHO_PUBLIC_URL",
	"ECHO_ADDR", "ECHO_TLS_CERT", "ECHO_TLS_KEY", "ECHO_TRANSCRIBE_BACKEND", "ECHO_TRANSCRIBE_URL",
	"ECHO_TRANSCRIBE_TIMEOUT", "OPENAI_API_KEY", "ECHO_OPENAI_MODEL", "ECHO_AUTH_SECRET",
	"ECHO_RECORDINGS_DIR", "ECHO_DEVICE", "ECHO_INBOX_DIR", "ECHO_WORKERS", "ECHO_LOG_LEVEL",
}

// clearEnv blanks every variable the package reads; t.Setenv restores them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range echoVars {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, filepath.Join("data", "echo.db"), cfg.DBDSN)
	assert.Equal(t, filepath.Join("data", "blobs"), cfg.BlobDir)
	assert.Equal(t, filepath.Join("data", "recordings"), cfg.RecordingsDir)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, BackendHTTP, cfg.TranscribeBackend)
	assert.Equal(t, 5*time.Minute, cfg.TranscribeTimeout)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.InboxDir)
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ECHO_DATA_DIR", "/var/echo")
	t.Setenv("ECHO_DB_DRIVER", "postgres")
	t.Setenv("ECHO_DB_DSN", "postgres://localhost/echo")
	t.Setenv("ECHO_TRANSCRIBE_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ECHO_TRANSCRIBE_TIMEOUT", "30s")
	t.Setenv("ECHO_DEVICE", "3")
	t.Setenv("ECHO_LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/echo", cfg.DBDSN)
	assert.Equal(t, filepath.Join("/var/echo", "blobs"), cfg.BlobDir)
	assert.Equal(t, BackendOpenAI, cfg.TranscribeBackend)
	assert.Equal(t, 30*time.Second, cfg.TranscribeTimeout)
	assert.Equal(t, 3, cfg.DeviceID)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestInvalidValues(t *testing.T) {
	tests := map[string]string{
		"ECHO_TRANSCRIBE_TIMEOUT": "soon",
		"ECHO_DEVICE":             "mic",
		"ECHO_WORKERS":            "0",
		"ECHO_LOG_LEVEL":          "loud",
		"ECHO_DB_DRIVER":          "mysql",
		"ECHO_TRANSCRIBE_BACKEND": "carrier-pigeon",
		"ECHO_TLS_CERT":           "cert.pem",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestOpenAIRequiresKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("ECHO_TRANSCRIBE_BACKEND", "openai")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, so the
	// file's keys must be absent rather than empty.
	os.Unsetenv("ECHO_ADDR")
	os.Unsetenv("ECHO_AUTH_SECRET")
	t.Cleanup(func() {
		os.Unsetenv("ECHO_ADDR")
		os.Unsetenv("ECHO_AUTH_SECRET")
	})

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ECHO_ADDR=:9090\nECHO_AUTH_SECRET=s3cret\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "s3cret", cfg.AuthSecret)
}

func TestLoadMissingNamedFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
