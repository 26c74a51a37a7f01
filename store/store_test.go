package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestRebind(t *testing.T) {
	r := &sqlRepository{dollarArgs: true}
	assert.Equal(t, "a = $1 AND b = $2", r.rebind("a = ? AND b = ?"))

	r.dollarArgs = false
	assert.Equal(t, "a = ? AND b = ?", r.rebind("a = ? AND b = ?"))
}

func TestCreateAndGetSession(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2026, 10, 17, 9, 30, 0, 123456789, time.UTC)
	repo.now = func() time.Time { return now }

	s := &Session{
		UserID:     "u1",
		AudioURL:   "http://localhost/o/audio%2Fu1%2F1.wav?alt=media",
		Transcript: "a b c d",
		Speed:      intPtr(8),
		Duration:   floatPtr(30),
	}
	require.NoError(t, repo.CreateSession(ctx, s))
	require.NotEmpty(t, s.ID)
	assert.Equal(t, time.UnixMilli(now.UnixMilli()).UTC(), s.CreatedAt)

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.Equal(t, []string{}, got.Feedback)
	assert.Equal(t, []string{}, got.FillerWords)
	assert.Nil(t, got.Volume)
	assert.Nil(t, got.FillerWordCount)
}

func TestSessionsByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, user := range []string{"u1", "u2", "u1", "u1"} {
		at := base.Add(time.Duration(i) * time.Minute)
		repo.now = func() time.Time { return at }
		require.NoError(t, repo.CreateSession(ctx, &Session{
			ID:     "s" + string(rune('0'+i)),
			UserID: user,
		}))
	}

	sessions, err := repo.SessionsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "s3", sessions[0].ID)
	assert.Equal(t, "s2", sessions[1].ID)
	assert.Equal(t, "s0", sessions[2].ID)

	none, err := repo.SessionsByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	s := &Session{UserID: "u1"}
	require.NoError(t, repo.CreateSession(ctx, s))
	require.NoError(t, repo.DeleteSession(ctx, s.ID))

	_, err := repo.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteSession(ctx, s.ID), ErrNotFound)
}

func TestProfileOverwrite(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	missing, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.SaveProfile(ctx, &UserProfile{UserID: "u1", Username: "ada", ImageURL: "http://img/1"}))
	require.NoError(t, repo.SaveProfile(ctx, &UserProfile{UserID: "u1", Username: "grace"}))

	p, err := repo.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &UserProfile{UserID: "u1", Username: "grace", ImageURL: ""}, p)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	u := &User{Email: "ada@example.com", PasswordHash: "hash", VerifyToken: "tok"}
	require.NoError(t, repo.CreateUser(ctx, u))
	require.NotEmpty(t, u.ID)

	assert.ErrorIs(t, repo.CreateUser(ctx, &User{Email: "ada@example.com", PasswordHash: "x"}), ErrConflict)

	byEmail, err := repo.UserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.False(t, byEmail.EmailVerified)

	byToken, err := repo.UserByVerifyToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byToken.ID)

	require.NoError(t, repo.MarkVerified(ctx, u.ID))
	byID, err := repo.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, byID.EmailVerified)
	assert.Empty(t, byID.VerifyToken)

	_, err = repo.UserByVerifyToken(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.UserByVerifyToken(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.MarkVerified(ctx, "missing"), ErrNotFound)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "")
	assert.Error(t, err)
}
