package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bosley/echo/auth"
	"github.com/bosley/echo/blob"
	"github.com/bosley/echo/pipeline"
	"github.com/bosley/echo/profile"
	"github.com/bosley/echo/store"
	"github.com/gorilla/mux"
)

const multipartMemory = 8 << 20

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

// sessionResponse carries a session together with any non-fatal error
// reported while creating or deleting it.
type sessionResponse struct {
	Session *store.Session `json:"session,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type profileRequest struct {
	Username string `json:"username"`
	ImageURL string `json:"imageUrl"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.deps.Auth.SignUp(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrEmailTaken):
		respondError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		slog.Error("Sign-up failed", "error", err, "email", req.Email)
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]string{
		"userId":  u.ID,
		"message": "Verification email sent. Please verify before logging in.",
	}, http.StatusCreated)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	_, err := s.deps.Auth.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if errors.Is(err, auth.ErrInvalidVerifyToken) {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("Email verification failed", "error", err)
		respondError(w, "verification failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]string{"message": "Email verified"}, http.StatusOK)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.deps.Auth.Authenticate(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, err.Error(), http.StatusUnauthorized)
		return
	case errors.Is(err, auth.ErrEmailNotVerified):
		respondError(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		slog.Error("Login failed", "error", err)
		respondError(w, "login failed", http.StatusInternalServerError)
		return
	}

	token, err := s.deps.Auth.IssueToken(u)
	if err != nil {
		slog.Error("Failed to issue token", "error", err, "userID", u.ID)
		respondError(w, "login failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, loginResponse{Token: token, User: u}, http.StatusOK)
}

// Tokens are stateless; logout only tells the client to drop its token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	slog.Info("User logged out", "userID", userIDFrom(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Store.SessionsByUser(r.Context(), userIDFrom(r))
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		respondError(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	respondJSON(w, sessions, http.StatusOK)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, session, http.StatusOK)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, "missing audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".wav"
	}
	tmp, err := os.CreateTemp(s.config.UploadDir, "upload-*"+ext)
	if err != nil {
		slog.Error("Failed to create upload file", "error", err)
		respondError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		slog.Error("Failed to write upload file", "error", err)
		respondError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}

	session, err := s.deps.Sessions.Submit(r.Context(), userID, tmp.Name())
	if session == nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrStorageUpload) {
			status = http.StatusBadGateway
		}
		respondError(w, err.Error(), status)
		return
	}

	s.hub.SessionCreated(session)

	resp := sessionResponse{Session: session}
	if err != nil {
		resp.Error = err.Error()
	}
	respondJSON(w, resp, http.StatusCreated)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	err := s.deps.Sessions.DeleteSession(r.Context(), session.ID, session.AudioURL)
	if errors.Is(err, pipeline.ErrPersistence) {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.hub.SessionDeleted(session.UserID, session.ID)

	if err != nil {
		// the record is gone but its audio could not be removed
		respondJSON(w, sessionResponse{Error: err.Error()}, http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedSession loads {id} and answers 404 unless it belongs to the caller.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	id := mux.Vars(r)["id"]
	session, err := s.deps.Store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && session.UserID != userIDFrom(r)) {
		respondError(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to load session", "error", err, "sessionID", id)
		respondError(w, "failed to load session", http.StatusInternalServerError)
		return nil, false
	}
	return session, true
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Profiles.Get(r.Context(), userIDFrom(r))
	if err != nil {
		slog.Error("Failed to load profile", "error", err)
		respondError(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	if p == nil {
		respondError(w, "profile not found", http.StatusNotFound)
		return
	}
	respondJSON(w, p, http.StatusOK)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := s.deps.Profiles.Save(r.Context(), userIDFrom(r), req.Username, req.ImageURL)
	if errors.Is(err, profile.ErrEmptyUsername) {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("Failed to save profile", "error", err)
		respondError(w, "failed to save profile", http.StatusInternalServerError)
		return
	}
	respondJSON(w, p, http.StatusOK)
}

func (s *Server) handleUploadProfileImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondError(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, "missing image file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "failed to read image", http.StatusBadRequest)
		return
	}

	url, err := s.deps.Profiles.UploadPicture(r.Context(), userIDFrom(r), data)
	if errors.Is(err, profile.ErrEmptyImage) {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("Image upload failed", "error", err)
		respondError(w, "image upload failed", http.StatusBadGateway)
		return
	}
	respondJSON(w, map[string]string{"imageUrl": url}, http.StatusOK)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	rc, err := s.deps.Blobs.Open(r.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		respondError(w, "object not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to open object", "error", err, "key", key)
		respondError(w, "failed to open object", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", blob.ContentType(key))
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("Object download interrupted", "error", err, "key", key)
	}
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
