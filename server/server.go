package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bosley/echo/auth"
	"github.com/bosley/echo/blob"
	"github.com/bosley/echo/profile"
	"github.com/bosley/echo/store"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	defaultMaxUploadBytes = 50 << 20
	shutdownTimeout       = 5 * time.Second
)

// Configuration for the API server
type Config struct {
	// HTTP server address
	Addr string

	// Certificate files for TLS; plain HTTP when empty
	CertFile string
	KeyFile  string

	// Largest accepted upload body
	MaxUploadBytes int64

	// Directory for uploads being processed; os.TempDir when empty
	UploadDir string
}

// Sessions runs the upload pipeline for the API.
type Sessions interface {
	Submit(ctx context.Context, userID, localPath string) (*store.Session, error)
	DeleteSession(ctx context.Context, id, audioURL string) error
}

// Deps are the service handles the API is built on.
type Deps struct {
	Auth     *auth.Service
	Profiles *profile.Service
	Sessions Sessions
	Store    store.Repository
	Blobs    blob.Store
}

type Server struct {
	config Config
	deps   Deps

	hub      *Hub
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader
}

func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		hub:    NewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // bearer token is checked instead
			},
		},
		server: &http.Server{
			Addr:              cfg.Addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		s.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	s.router = s.routes()
	s.server.Handler = s.router
	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub is the per-user event registry fed by the API and the inbox.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.config.Addr, "tls", s.server.TLSConfig != nil)
		if s.server.TLSConfig != nil {
			errCh <- s.server.ListenAndServeTLS("", "")
			return
		}
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// Stop closes websocket subscribers and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(logRequests)

	// Account routes
	router.HandleFunc("/api/signup", s.handleSignUp).Methods(http.MethodPost)
	router.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/api/verify", s.handleVerify).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/profile", s.handleGetProfile).Methods(http.MethodGet)
	api.HandleFunc("/profile", s.handleSaveProfile).Methods(http.MethodPut)
	api.HandleFunc("/profile/image", s.handleUploadProfileImage).Methods(http.MethodPost)

	// Download URLs handed out by the blob store
	router.HandleFunc("/o/{key:.+}", s.handleObject).Methods(http.MethodGet)

	router.Handle("/ws/sessions", s.requireAuth(http.HandlerFunc(s.handleWebSocket)))

	return router
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
