// Package auth handles email/password accounts with email verification,
// the signed-in user for interactive use, and bearer tokens for the API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bosley/echo/store"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	DefaultTokenTTL   = 24 * time.Hour
)

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrEmailTaken         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("please verify your email before logging in")
	ErrInvalidVerifyToken = errors.New("invalid or expired verification link")
	ErrInvalidToken       = errors.New("invalid token")
)

// Mailer delivers verification links.
type Mailer interface {
	SendVerification(ctx context.Context, email, link string) error
}

// LogMailer writes verification links to the log instead of sending mail.
type LogMailer struct{}

func (LogMailer) SendVerification(ctx context.Context, email, link string) error {
	slog.Info("Verification link", "email", email, "link", link)
	return nil
}

type Config struct {
	// Secret signs API tokens
	Secret []byte

	// VerifyURL is the base of the link sent on sign-up; the token is
	// appended as ?token=
	VerifyURL string

	TokenTTL time.Duration
}

type Service struct {
	config Config
	store  store.Repository
	mailer Mailer
	now    func() time.Time

	// notify serializes deliveries so every subscriber sees sign-in
	// changes in the order they happened. Callbacks must not call back
	// into Login, Logout or Subscribe.
	notify sync.Mutex

	mu          sync.RWMutex
	current     *store.User
	subscribers map[uint64]func(*store.User)
	nextSubID   uint64
}

func NewService(cfg Config, repo store.Repository, mailer Mailer) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Service{
		config:      cfg,
		store:       repo,
		mailer:      mailer,
		now:         time.Now,
		subscribers: make(map[uint64]func(*store.User)),
	}, nil
}

// SignUp creates an unverified account and sends its verification link.
// The new user is not signed in.
func (s *Service) SignUp(ctx context.Context, email, password string) (*store.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &store.User{
		Email:        email,
		PasswordHash: string(hash),
		VerifyToken:  uuid.New().String(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.mailer.SendVerification(ctx, u.Email, s.verifyLink(u.VerifyToken)); err != nil {
		return u, fmt.Errorf("failed to send verification email: %w", err)
	}

	slog.Info("User signed up", "userID", u.ID, "email", u.Email)
	return u, nil
}

func (s *Service) verifyLink(token string) string {
	base := s.config.VerifyURL
	if base == "" {
		return token
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) (*store.User, error) {
	u, err := s.store.UserByVerifyToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidVerifyToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up verification token: %w", err)
	}
	if err := s.store.MarkVerified(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("failed to verify user: %w", err)
	}
	u.EmailVerified = true
	u.VerifyToken = ""
	slog.Info("Email verified", "userID", u.ID)
	return u, nil
}

// Authenticate checks credentials without changing the signed-in user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	u, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	return u, nil
}

// Login authenticates and makes the user current, notifying subscribers.
// Unverified accounts are rejected and the current user is left signed out.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrEmailNotVerified) {
			s.setCurrent(nil)
		}
		return nil, err
	}
	s.setCurrent(u)
	slog.Info("User logged in", "userID", u.ID)
	return u, nil
}

func (s *Service) Logout() {
	s.setCurrent(nil)
}

func (s *Service) Current() *store.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe calls fn with the current user right away and again on every
// sign-in or sign-out. The returned func unsubscribes and may be called
// more than once.
func (s *Service) Subscribe(fn func(*store.User)) func() {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	current := s.current
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) setCurrent(u *store.User) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	changed := s.current != u
	s.current = u
	subs := make([]func(*store.User), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(u)
	}
}

// IssueToken signs a bearer token for the API.
func (s *Service) IssueToken(u *store.User) (string, error) {
	now := s.now()
	claims := jwt.StandardClaims{
		Subject:   u.ID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.config.TokenTTL).Unix(),
		Id:        uuid.New().String(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ParseToken validates a bearer token and returns the user ID it was
// issued for.
func (s *Service) ParseToken(raw string) (string, error) {
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.config.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
