// Package inbox turns recordings dropped into per-user directories into
// sessions. Layout is <Dir>/<userID>/<name>.wav; producers should write to
// a .tmp name and rename, since only create events are handled.
//
// Jobs live in a bounded in-memory queue. They are lost on exit and a
// failed submission is not retried.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bosley/echo/store"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("inbox is stopped")
)

// Submitter runs the upload pipeline for one recording.
type Submitter interface {
	Submit(ctx context.Context, userID, localPath string) (*store.Session, error)
}

type Config struct {
	// Directory holding one subdirectory per user
	Dir string

	// Number of worker goroutines
	Workers int

	// Capacity of the job queue
	QueueSize int

	// Remove the local file once its session is persisted
	RemoveProcessed bool

	// Called for every persisted session, including ones saved without a
	// transcript
	OnSession func(*store.Session)
}

type Job struct {
	FilePath  string
	UserID    string
	Timestamp time.Time
}

type Inbox struct {
	config    Config
	submitter Submitter
	watcher   *fsnotify.Watcher

	// guards stopped so Enqueue never sends on the closed queue
	mu      sync.RWMutex
	stopped bool
	queue   chan Job
	workers sync.WaitGroup

	cancel    context.CancelFunc
	watchDone chan struct{}
	stopOnce  sync.Once
}

func New(cfg Config, submitter Submitter) (*Inbox, error) {
	if cfg.Dir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Inbox{
		config:    cfg,
		submitter: submitter,
		watcher:   watcher,
		queue:     make(chan Job, cfg.QueueSize),
		watchDone: make(chan struct{}),
	}, nil
}

// Start watches the inbox and its existing user directories and starts
// the worker pool. It returns once watching has begun.
func (in *Inbox) Start(ctx context.Context) error {
	if err := os.MkdirAll(in.config.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}
	if err := in.watcher.Add(in.config.Dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	entries, err := os.ReadDir(in.config.Dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && isUserID(e.Name()) {
			if err := in.watchUser(e.Name()); err != nil {
				return err
			}
		}
	}

	slog.Info("Started watching inbox", "path", in.config.Dir, "workers", in.config.Workers)

	ctx, in.cancel = context.WithCancel(ctx)
	for i := 0; i < in.config.Workers; i++ {
		in.workers.Add(1)
		go in.worker(ctx)
	}
	go in.watch(ctx)
	return nil
}

// Stop ends the watcher, lets workers drain the queue and waits for them
// or for ctx.
func (in *Inbox) Stop(ctx context.Context) error {
	var err error
	in.stopOnce.Do(func() {
		in.mu.Lock()
		in.stopped = true
		in.mu.Unlock()

		if in.cancel == nil {
			err = in.watcher.Close()
			return
		}

		if cerr := in.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close file watcher: %w", cerr)
		}
		<-in.watchDone

		in.mu.Lock()
		close(in.queue)
		in.mu.Unlock()

		done := make(chan struct{})
		go func() {
			in.workers.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			in.cancel()
			err = errors.Join(err, fmt.Errorf("shutdown timed out"))
			return
		}
		in.cancel()
	})
	return err
}

func (in *Inbox) watch(ctx context.Context) {
	defer close(in.watchDone)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if err := in.handleEvent(event); err != nil {
				slog.Error("Failed to handle file system event",
					"error", err,
					"event", event)
			}

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func (in *Inbox) handleEvent(event fsnotify.Event) error {
	if !event.Has(fsnotify.Create) || strings.HasSuffix(event.Name, ".tmp") {
		return nil
	}

	relPath, err := filepath.Rel(in.config.Dir, event.Name)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}
	parts := strings.Split(relPath, string(filepath.Separator))

	switch len(parts) {
	case 1:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && isUserID(parts[0]) {
			return in.watchUser(parts[0])
		}
	case 2:
		userID := parts[0]
		if !isUserID(userID) || !strings.EqualFold(filepath.Ext(parts[1]), ".wav") {
			return nil
		}
		slog.Info("Found new recording", "userID", userID, "file", parts[1])
		return in.Enqueue(Job{FilePath: event.Name, UserID: userID, Timestamp: time.Now()})
	}
	return nil
}

func (in *Inbox) watchUser(userID string) error {
	path := filepath.Join(in.config.Dir, userID)
	if err := in.watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch user directory: %w", err)
	}
	slog.Info("Watching user directory", "userID", userID, "path", path)
	return nil
}

// Enqueue adds a job without blocking. It fails with ErrStopped once Stop
// has been called.
func (in *Inbox) Enqueue(job Job) error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.stopped {
		return ErrStopped
	}

	select {
	case in.queue <- job:
		slog.Debug("Queued recording", "userID", job.UserID, "file", filepath.Base(job.FilePath))
		return nil
	default:
		return ErrQueueFull
	}
}

func (in *Inbox) worker(ctx context.Context) {
	slog.Debug("Worker starting")
	defer func() {
		slog.Debug("Worker shutting down")
		in.workers.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Worker context cancelled")
			return

		case job, ok := <-in.queue:
			if !ok {
				slog.Debug("Worker queue closed")
				return
			}
			in.process(ctx, job)
		}
	}
}

func (in *Inbox) process(ctx context.Context, job Job) {
	session, err := in.submitter.Submit(ctx, job.UserID, job.FilePath)
	if err != nil {
		slog.Error("Failed to process recording",
			"error", err,
			"file", job.FilePath,
			"userID", job.UserID)
	}
	if session == nil {
		return
	}

	if in.config.OnSession != nil {
		in.config.OnSession(session)
	}
	if in.config.RemoveProcessed {
		if err := os.Remove(job.FilePath); err != nil {
			slog.Warn("Failed to remove processed recording", "error", err, "file", job.FilePath)
		}
	}
}

func isUserID(name string) bool {
	_, err := uuid.Parse(name)
	return err == nil
}
