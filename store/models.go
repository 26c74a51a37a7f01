// Package store persists sessions, user profiles and accounts.
package store

import "time"

// Session is the persisted metadata of one finished recording.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	AudioURL        string    `json:"audioUrl"`
	Transcript      string    `json:"transcript"`
	Feedback        []string  `json:"feedback"`
	Speed           *int      `json:"speed"`
	Volume          *float64  `json:"volume"`
	FillerWordCount *int      `json:"fillerWordCount"`
	FillerWords     []string  `json:"fillerWords"`
	Duration        *float64  `json:"duration"`
	CreatedAt       time.Time `json:"createdAt"`
}

type UserProfile struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	ImageURL string `json:"imageUrl"`
}

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"emailVerified"`
	VerifyToken   string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}
