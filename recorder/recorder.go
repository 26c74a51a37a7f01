// Package recorder owns the microphone capture lifecycle: a single capture
// handle at a time, a decibel meter sampled on a fixed interval to feed a
// waveform, and an elapsed-seconds counter that only advances while
// recording.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bosley/echo/audio"
	"github.com/google/uuid"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrNoActiveRecording = errors.New("no active recording")
	ErrAlreadyRecording  = errors.New("a recording is already in progress")
	ErrStartCancelled    = errors.New("recorder closed while starting")
)

const (
	DefaultBars          = 30
	DefaultMeterInterval = 50 * time.Millisecond
	DefaultTickInterval  = time.Second
)

type Mode int

const (
	Idle Mode = iota
	Recording
	Paused
	Stopped
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Capture is a live microphone recording writing to a local file.
type Capture interface {
	Start() error
	Pause() error
	Resume() error
	// Level returns the most recent input level in dBFS.
	Level() float64
	// Stop finalizes the file and returns its path.
	Stop() (string, error)
	// Discard stops the capture and removes its file.
	Discard() error
}

// Device opens capture handles.
type Device interface {
	Open(path string) (Capture, error)
}

// Permissions gates access to the microphone.
type Permissions interface {
	RequestMicrophone(ctx context.Context) error
}

type Config struct {
	// Directory finished recordings are written to
	Dir string

	// Number of samples kept for the waveform
	Bars int

	MeterInterval time.Duration
	TickInterval  time.Duration
}

// Snapshot is a point-in-time view of the recorder for displays.
type Snapshot struct {
	Mode    Mode
	Elapsed int
	Levels  []float64
}

type Recorder struct {
	mu sync.Mutex

	config  Config
	device  Device
	perms   Permissions
	capture Capture
	mode    Mode
	elapsed int
	levels  *audio.LevelBuffer

	// set while Start waits on permission and the device; Close during that
	// window sets abortStart so the late capture is discarded
	starting   bool
	abortStart bool

	// periodic tasks of the current capture
	cancel context.CancelFunc
	tasks  *sync.WaitGroup
}

func New(cfg Config, device Device, perms Permissions) *Recorder {
	if cfg.Bars <= 0 {
		cfg.Bars = DefaultBars
	}
	if cfg.MeterInterval <= 0 {
		cfg.MeterInterval = DefaultMeterInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Dir == "" {
		cfg.Dir = "recordings"
	}

	return &Recorder{
		config: cfg,
		device: device,
		perms:  perms,
		mode:   Idle,
		levels: audio.NewLevelBuffer(cfg.Bars),
	}
}

// Start opens a new capture handle and begins sampling. Periodic work is
// bound to ctx as well as to Stop/Close. The permission request and device
// open run without holding the lock so displays keep reading Snapshot.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.capture != nil || r.starting {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.starting = true
	r.abortStart = false
	r.mu.Unlock()

	capture, path, err := r.open(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.starting = false
	if err != nil {
		return err
	}
	if r.abortStart {
		if derr := capture.Discard(); derr != nil {
			slog.Error("Failed to discard capture", "error", derr, "path", path)
		}
		return ErrStartCancelled
	}

	// A new cycle discards whatever the previous one left behind
	r.elapsed = 0
	r.levels.Reset()
	r.capture = capture
	r.mode = Recording

	taskCtx, cancel := context.WithCancel(ctx)
	tasks := &sync.WaitGroup{}
	r.cancel = cancel
	r.tasks = tasks

	tasks.Add(2)
	go r.every(taskCtx, tasks, r.config.MeterInterval, r.sampleLevel)
	go r.every(taskCtx, tasks, r.config.TickInterval, r.tick)

	slog.Info("Recording started", "path", path)
	return nil
}

// open asks for the microphone and starts a capture on a fresh file.
func (r *Recorder) open(ctx context.Context) (Capture, string, error) {
	if err := r.perms.RequestMicrophone(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	if err := os.MkdirAll(r.config.Dir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	path := filepath.Join(r.config.Dir, fmt.Sprintf("audio_%s_%s.wav",
		time.Now().Format("20060102_150405"), uuid.New().String()[:8]))

	capture, err := r.device.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open capture: %w", err)
	}
	if err := capture.Start(); err != nil {
		if derr := capture.Discard(); derr != nil {
			slog.Error("Failed to discard capture", "error", derr, "path", path)
		}
		return nil, "", fmt.Errorf("failed to start capture: %w", err)
	}
	return capture, path, nil
}

func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		return ErrNoActiveRecording
	}
	if r.mode == Paused {
		return nil
	}
	if err := r.capture.Pause(); err != nil {
		return fmt.Errorf("failed to pause capture: %w", err)
	}
	r.mode = Paused
	slog.Debug("Recording paused", "elapsed", r.elapsed)
	return nil
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		return ErrNoActiveRecording
	}
	if r.mode == Recording {
		return nil
	}
	if err := r.capture.Resume(); err != nil {
		return fmt.Errorf("failed to resume capture: %w", err)
	}
	r.mode = Recording
	slog.Debug("Recording resumed", "elapsed", r.elapsed)
	return nil
}

// Stop halts sampling, finalizes the capture and returns the local file.
func (r *Recorder) Stop() (string, error) {
	capture, err := r.detach(Stopped)
	if err != nil {
		return "", err
	}

	path, err := capture.Stop()
	if err != nil {
		return "", fmt.Errorf("failed to finalize capture: %w", err)
	}

	slog.Info("Recording stopped", "path", path, "elapsed", r.Elapsed())
	return path, nil
}

// Close tears the recorder down, discarding any open capture.
func (r *Recorder) Close() error {
	capture, err := r.detach(Idle)
	if errors.Is(err, ErrNoActiveRecording) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := capture.Discard(); err != nil {
		return fmt.Errorf("failed to discard capture: %w", err)
	}
	return nil
}

// detach releases the capture handle and waits for the periodic tasks to
// exit. The lock is released before waiting since the tasks take it.
func (r *Recorder) detach(next Mode) (Capture, error) {
	r.mu.Lock()
	if r.capture == nil {
		if next == Idle && r.starting {
			r.abortStart = true
		}
		r.mu.Unlock()
		return nil, ErrNoActiveRecording
	}

	capture := r.capture
	cancel, tasks := r.cancel, r.tasks
	r.capture = nil
	r.cancel = nil
	r.tasks = nil
	r.mode = next
	r.mu.Unlock()

	cancel()
	tasks.Wait()
	return capture, nil
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Mode:    r.mode,
		Elapsed: r.elapsed,
		Levels:  r.levels.Levels(),
	}
}

func (r *Recorder) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

func (r *Recorder) every(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func()) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (r *Recorder) sampleLevel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode != Recording || r.capture == nil {
		return
	}
	r.levels.Push(audio.Normalize(r.capture.Level()))
}

func (r *Recorder) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode == Recording {
		r.elapsed++
	}
}
