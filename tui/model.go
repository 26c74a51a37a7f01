// Package tui is the interactive terminal recorder: a live waveform, an
// elapsed timer, and start/pause/resume/finish controls in front of the
// recorder and the upload pipeline.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bosley/echo/pipeline"
	"github.com/bosley/echo/recorder"
	"github.com/bosley/echo/store"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	refreshInterval = 50 * time.Millisecond
	noticeDuration  = 5 * time.Second
)

var waveLevels = []rune("▁▂▃▄▅▆▇█")

// Recorder is the capture side of the screen.
type Recorder interface {
	Start(ctx context.Context) error
	Pause() error
	Resume() error
	Stop() (string, error)
	Close() error
	Snapshot() recorder.Snapshot
}

// Submitter runs a finished recording through the upload pipeline.
type Submitter interface {
	Submit(ctx context.Context, userID, localPath string) (*store.Session, error)
}

type noticeKind int

const (
	noticeInfo noticeKind = iota
	noticeSuccess
	noticeWarning
	noticeError
)

// Model is the root bubbletea model for the recorder screen.
type Model struct {
	ctx       context.Context
	recorder  Recorder
	submitter Submitter
	userID    string

	snapshot   recorder.Snapshot
	starting   bool
	submitting bool

	notice     string
	noticeKind noticeKind
	noticeID   int

	lastSession *store.Session
	width       int
}

func New(ctx context.Context, rec Recorder, submitter Submitter, userID string) Model {
	return Model{
		ctx:       ctx,
		recorder:  rec,
		submitter: submitter,
		userID:    userID,
		snapshot:  rec.Snapshot(),
	}
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

func startCmd(ctx context.Context, rec Recorder) tea.Cmd {
	return func() tea.Msg {
		return StartedMsg{Err: rec.Start(ctx)}
	}
}

// finishCmd stops capture and submits the file. Submission is not tied to
// the screen's lifetime; a result arriving after quit is dropped.
func finishCmd(rec Recorder, submitter Submitter, userID string) tea.Cmd {
	return func() tea.Msg {
		path, err := rec.Stop()
		if err != nil {
			return FinishedMsg{Err: err}
		}
		session, err := submitter.Submit(context.Background(), userID, path)
		return FinishedMsg{Path: path, Session: session, Err: err}
	}
}

func clearNoticeCmd(id int) tea.Cmd {
	return tea.Tick(noticeDuration, func(time.Time) tea.Msg {
		return ClearNoticeMsg{ID: id}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case TickMsg:
		m.snapshot = m.recorder.Snapshot()
		return m, tickCmd()

	case StartedMsg:
		m.starting = false
		m.snapshot = m.recorder.Snapshot()
		if msg.Err != nil {
			return m, m.setNotice(noticeError, describeError(msg.Err))
		}
		m.notice = ""
		return m, nil

	case FinishedMsg:
		m.submitting = false
		m.snapshot = m.recorder.Snapshot()
		if msg.Session != nil {
			m.lastSession = msg.Session
		}
		return m, m.setNotice(finishNotice(msg))

	case ClearNoticeMsg:
		if msg.ID == m.noticeID && !m.submitting {
			m.notice = ""
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if err := m.recorder.Close(); err != nil {
			slog.Error("Failed to close recorder", "error", err)
		}
		return m, tea.Quit

	case KeySpace:
		if m.submitting || m.starting {
			return m, nil
		}
		switch m.snapshot.Mode {
		case recorder.Recording:
			if err := m.recorder.Pause(); err != nil {
				return m, m.setNotice(noticeError, describeError(err))
			}
		case recorder.Paused:
			if err := m.recorder.Resume(); err != nil {
				return m, m.setNotice(noticeError, describeError(err))
			}
		default:
			m.starting = true
			return m, startCmd(m.ctx, m.recorder)
		}
		m.snapshot = m.recorder.Snapshot()
		return m, nil

	case KeyEnter:
		if m.submitting || m.starting {
			return m, nil
		}
		if m.snapshot.Mode != recorder.Recording && m.snapshot.Mode != recorder.Paused {
			return m, m.setNotice(noticeWarning, describeError(recorder.ErrNoActiveRecording))
		}
		m.submitting = true
		m.notice = "Processing..."
		m.noticeKind = noticeInfo
		return m, finishCmd(m.recorder, m.submitter, m.userID)
	}

	return m, nil
}

func (m *Model) setNotice(kind noticeKind, text string) tea.Cmd {
	m.noticeID++
	m.notice = text
	m.noticeKind = kind
	return clearNoticeCmd(m.noticeID)
}

func finishNotice(msg FinishedMsg) (noticeKind, string) {
	switch {
	case msg.Err == nil:
		return noticeSuccess, fmt.Sprintf("Session saved: %d words, %d wpm",
			pipeline.WordCount(msg.Session.Transcript), derefInt(msg.Session.Speed))
	case msg.Session != nil:
		return noticeWarning, "Session saved without transcript: " + describeError(msg.Err)
	default:
		return noticeError, describeError(msg.Err)
	}
}

// describeError turns an error into a notification line by kind.
func describeError(err error) string {
	switch {
	case errors.Is(err, recorder.ErrPermissionDenied):
		return "Microphone permission denied"
	case errors.Is(err, recorder.ErrNoActiveRecording):
		return "No active recording"
	case errors.Is(err, recorder.ErrAlreadyRecording):
		return "Already recording"
	case errors.Is(err, pipeline.ErrStorageUpload):
		return "Upload failed; nothing was saved"
	case errors.Is(err, pipeline.ErrPersistence):
		return "Could not save the session; the audio was uploaded"
	case errors.Is(err, pipeline.ErrTranscription):
		return "transcription failed"
	case errors.Is(err, pipeline.ErrReadAudio):
		return "Could not read the recording"
	default:
		return "There was an error processing the recording: " + err.Error()
	}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("Recording Session"))
	b.WriteString("\n\n")
	b.WriteString(renderWaveform(m.snapshot.Levels, m.snapshot.Mode == recorder.Recording))
	b.WriteString("\n\n")
	b.WriteString(renderMode(m.snapshot.Mode))
	b.WriteString("  ")
	b.WriteString(TimerStyle.Render(FormatElapsed(m.snapshot.Elapsed)))
	b.WriteString("\n\n")

	if m.notice != "" {
		b.WriteString(m.renderNotice())
		b.WriteString("\n\n")
	}

	b.WriteString(renderFooter(m.snapshot.Mode))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderNotice() string {
	switch m.noticeKind {
	case noticeSuccess:
		return SuccessStyle.Render(m.notice)
	case noticeWarning:
		return WarningStyle.Render(m.notice)
	case noticeError:
		return ErrorStyle.Render(m.notice)
	default:
		return IdleStyle.Render(m.notice)
	}
}

// FormatElapsed renders seconds as mm:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// renderWaveform draws one column per level, lowest block for silence.
func renderWaveform(levels []float64, active bool) string {
	style := BarIdleStyle
	if active {
		style = BarActiveStyle
	}

	bars := make([]rune, len(levels))
	top := len(waveLevels) - 1
	for i, level := range levels {
		idx := int(level*float64(top) + 0.5)
		if idx < 0 {
			idx = 0
		}
		if idx > top {
			idx = top
		}
		bars[i] = waveLevels[idx]
	}
	return style.Render(string(bars))
}

func renderMode(mode recorder.Mode) string {
	switch mode {
	case recorder.Recording:
		return RecordingDotStyle.Render("● REC")
	case recorder.Paused:
		return PausedStyle.Render("❚❚ PAUSED")
	default:
		return IdleStyle.Render("○ IDLE")
	}
}

func renderFooter(mode recorder.Mode) string {
	toggle := "start"
	switch mode {
	case recorder.Recording:
		toggle = "pause"
	case recorder.Paused:
		toggle = "resume"
	}

	keys := []struct{ key, desc string }{
		{"space", toggle},
		{"enter", "finish"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, FooterKeyStyle.Render(k.key)+" "+FooterDescStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}
