package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		audio_url TEXT NOT NULL,
		transcript TEXT NOT NULL DEFAULT '',
		feedback_json TEXT NOT NULL,
		speed INTEGER,
		volume REAL,
		filler_word_count INTEGER,
		filler_words_json TEXT NOT NULL,
		duration REAL,
		created_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		verify_token TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_verify_token ON users(verify_token);
`

const sessionColumns = `id, user_id, audio_url, transcript, feedback_json, speed, volume,
	filler_word_count, filler_words_json, duration, created_at`

const userColumns = `id, email, password_hash, email_verified, verify_token, created_at`

// sqlRepository holds the queries shared by the SQLite and Postgres
// backends. Queries are written with ? and rebound for the dialect.
type sqlRepository struct {
	db         *sql.DB
	dollarArgs bool
	now        func() time.Time
}

func newSQLRepository(db *sql.DB, dollarArgs bool) (*sqlRepository, error) {
	r := &sqlRepository{db: db, dollarArgs: dollarArgs, now: time.Now}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return r, nil
}

// timestamp is the server-side creation time at stored precision.
func (r *sqlRepository) timestamp() time.Time {
	return time.UnixMilli(r.now().UnixMilli()).UTC()
}

func (r *sqlRepository) rebind(query string) string {
	if !r.dollarArgs {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *sqlRepository) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = r.timestamp()
	if s.Feedback == nil {
		s.Feedback = []string{}
	}
	if s.FillerWords == nil {
		s.FillerWords = []string{}
	}

	feedbackJSON, err := json.Marshal(s.Feedback)
	if err != nil {
		return err
	}
	fillerJSON, err := json.Marshal(s.FillerWords)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		s.ID,
		s.UserID,
		s.AudioURL,
		s.Transcript,
		string(feedbackJSON),
		s.Speed,
		s.Volume,
		s.FillerWordCount,
		string(fillerJSON),
		s.Duration,
		s.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sqlRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = ?
	`), id)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}
	return &sessions[0], nil
}

func (r *sqlRepository) SessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = ?
		ORDER BY created_at DESC
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (r *sqlRepository) DeleteSession(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlRepository) SaveProfile(ctx context.Context, p *UserProfile) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO profiles (user_id, username, image_url)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET username = excluded.username, image_url = excluded.image_url
	`), p.UserID, p.Username, p.ImageURL)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (r *sqlRepository) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var p UserProfile
	err := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT user_id, username, image_url
		FROM profiles
		WHERE user_id = ?
	`), userID).Scan(&p.UserID, &p.Username, &p.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return &p, nil
}

func (r *sqlRepository) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.CreatedAt = r.timestamp()

	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`), u.ID, u.Email, u.PasswordHash, u.EmailVerified, u.VerifyToken, u.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *sqlRepository) UserByID(ctx context.Context, id string) (*User, error) {
	return r.userWhere(ctx, "id = ?", id)
}

func (r *sqlRepository) UserByEmail(ctx context.Context, email string) (*User, error) {
	return r.userWhere(ctx, "email = ?", email)
}

func (r *sqlRepository) UserByVerifyToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return r.userWhere(ctx, "verify_token = ?", token)
}

func (r *sqlRepository) MarkVerified(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE users SET email_verified = ?, verify_token = '' WHERE id = ?
	`), true, id)
	if err != nil {
		return fmt.Errorf("verify user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqlRepository) userWhere(ctx context.Context, cond string, arg any) (*User, error) {
	var u User
	var createdAt int64
	err := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT `+userColumns+`
		FROM users
		WHERE `+cond), arg).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.EmailVerified,
		&u.VerifyToken,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &u, nil
}

func (r *sqlRepository) Close() error {
	return r.db.Close()
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	sessions := []Session{}

	for rows.Next() {
		var s Session
		var feedbackJSON, fillerJSON string
		var speed, fillerCount sql.NullInt64
		var volume, duration sql.NullFloat64
		var createdAt int64

		err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.AudioURL,
			&s.Transcript,
			&feedbackJSON,
			&speed,
			&volume,
			&fillerCount,
			&fillerJSON,
			&duration,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		if err := json.Unmarshal([]byte(feedbackJSON), &s.Feedback); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
		if err := json.Unmarshal([]byte(fillerJSON), &s.FillerWords); err != nil {
			return nil, fmt.Errorf("decode filler words: %w", err)
		}
		if speed.Valid {
			v := int(speed.Int64)
			s.Speed = &v
		}
		if fillerCount.Valid {
			v := int(fillerCount.Int64)
			s.FillerWordCount = &v
		}
		if volume.Valid {
			s.Volume = &volume.Float64
		}
		if duration.Valid {
			s.Duration = &duration.Float64
		}
		s.CreatedAt = time.UnixMilli(createdAt).UTC()

		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
