package tui

import "github.com/bosley/echo/store"

// TickMsg refreshes the recorder snapshot.
type TickMsg struct{}

// StartedMsg is the result of starting or restarting capture.
type StartedMsg struct {
	Err error
}

// FinishedMsg carries the outcome of stop and submit. Session is set
// whenever a record was persisted, even when Err is non-nil.
type FinishedMsg struct {
	Path    string
	Session *store.Session
	Err     error
}

// ClearNoticeMsg clears the notification line if it is still showing the
// notice it was scheduled for.
type ClearNoticeMsg struct {
	ID int
}
