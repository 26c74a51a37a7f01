package recorder

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youpy/go-wav"
)

type fakeCapture struct {
	mu        sync.Mutex
	path      string
	level     float64
	started   bool
	paused    bool
	stopped   bool
	discarded bool
}

func (c *fakeCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return os.WriteFile(c.path, []byte("RIFF"), 0o644)
}

func (c *fakeCapture) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	return nil
}

func (c *fakeCapture) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	return nil
}

func (c *fakeCapture) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

func (c *fakeCapture) setLevel(db float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = db
}

func (c *fakeCapture) Stop() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return c.path, nil
}

func (c *fakeCapture) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discarded = true
	return os.Remove(c.path)
}

type fakeDevice struct {
	opened []*fakeCapture
}

func (d *fakeDevice) Open(path string) (Capture, error) {
	c := &fakeCapture{path: path, level: -80}
	d.opened = append(d.opened, c)
	return c, nil
}

type fakePermissions struct {
	err error
}

func (p fakePermissions) RequestMicrophone(context.Context) error {
	return p.err
}

// blockingPermissions holds RequestMicrophone open until release is closed,
// like a permission prompt waiting on the user.
type blockingPermissions struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingPermissions() *blockingPermissions {
	return &blockingPermissions{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *blockingPermissions) RequestMicrophone(ctx context.Context) error {
	p.once.Do(func() { close(p.entered) })
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// slow intervals keep the background tasks out of the way so tests can
// drive sampleLevel and tick directly.
func newTestRecorder(t *testing.T, perms Permissions) (*Recorder, *fakeDevice) {
	t.Helper()
	device := &fakeDevice{}
	r := New(Config{
		Dir:           t.TempDir(),
		Bars:          4,
		MeterInterval: time.Hour,
		TickInterval:  time.Hour,
	}, device, perms)
	t.Cleanup(func() { r.Close() })
	return r, device
}

func TestStartStopLifecycle(t *testing.T) {
	r, device := newTestRecorder(t, fakePermissions{})
	assert.Equal(t, Idle, r.Mode())

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, Recording, r.Mode())
	require.Len(t, device.opened, 1)
	assert.True(t, device.opened[0].started)

	path, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, device.opened[0].path, path)
	assert.True(t, device.opened[0].stopped)
	assert.Equal(t, Stopped, r.Mode())
	assert.FileExists(t, path)
}

func TestStartPermissionDenied(t *testing.T) {
	r, device := newTestRecorder(t, fakePermissions{err: errors.New("user refused")})

	err := r.Start(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, Idle, r.Mode())
	assert.Empty(t, device.opened)
}

func TestSecondStartRejected(t *testing.T) {
	r, device := newTestRecorder(t, fakePermissions{})

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRecording)
	assert.Len(t, device.opened, 1)
}

func TestStopWithoutHandle(t *testing.T) {
	r, _ := newTestRecorder(t, fakePermissions{})

	before := r.Snapshot()
	_, err := r.Stop()
	require.ErrorIs(t, err, ErrNoActiveRecording)
	assert.Equal(t, before, r.Snapshot(), "state unchanged")
}

func TestPauseResumeWithoutHandle(t *testing.T) {
	r, _ := newTestRecorder(t, fakePermissions{})

	assert.ErrorIs(t, r.Pause(), ErrNoActiveRecording)
	assert.ErrorIs(t, r.Resume(), ErrNoActiveRecording)

	require.NoError(t, r.Start(context.Background()))
	_, err := r.Stop()
	require.NoError(t, err)

	assert.ErrorIs(t, r.Pause(), ErrNoActiveRecording)
	assert.ErrorIs(t, r.Resume(), ErrNoActiveRecording)
}

func TestElapsedOnlyWhileRecording(t *testing.T) {
	r, device := newTestRecorder(t, fakePermissions{})
	require.NoError(t, r.Start(context.Background()))

	r.tick()
	r.tick()
	assert.Equal(t, 2, r.Elapsed())

	require.NoError(t, r.Pause())
	require.NoError(t, r.Pause(), "pause while paused is a no-op")
	assert.True(t, device.opened[0].paused)
	r.tick()
	assert.Equal(t, 2, r.Elapsed())

	require.NoError(t, r.Resume())
	require.NoError(t, r.Resume(), "resume while recording is a no-op")
	r.tick()
	assert.Equal(t, 3, r.Elapsed())
}

func TestSampleLevelFeedsWaveform(t *testing.T) {
	r, device := newTestRecorder(t, fakePermissions{})
	require.NoError(t, r.Start(context.Background()))
	capture := device.opened[0]

	capture.setLevel(0)
	r.sampleLevel()
	capture.setLevel(-40)
	r.sampleLevel()
	capture.setLevel(-200)
	r.sampleLevel()

	assert.Equal(t, []float64{0, 1, 0.5, 0}, r.Snapshot().Levels)

	require.NoError(t, r.Pause())
	capture.setLevel(0)
	r.sampleLevel()
	assert.Equal(t, []float64{0, 1, 0.5, 0}, r.Snapshot().Levels, "paused recorder does not sample")
}

func TestRestartDiscardsTransientState(t *testing.T) {
	r, device := newTestRecorder(t, fakePermissions{})
	require.NoError(t, r.Start(context.Background()))
	device.opened[0].setLevel(0)
	r.sampleLevel()
	r.tick()
	_, err := r.Stop()
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, 1, snap.Elapsed)
	assert.Equal(t, 1.0, snap.Levels[3])

	require.NoError(t, r.Start(context.Background()))
	snap = r.Snapshot()
	assert.Equal(t, Recording, snap.Mode)
	assert.Equal(t, 0, snap.Elapsed)
	assert.Equal(t, []float64{0, 0, 0, 0}, snap.Levels)
	assert.Len(t, device.opened, 2)
}

func TestCloseDiscardsOpenCapture(t *testing.T) {
	r, device := newTestRecorder(t, fakePermissions{})
	require.NoError(t, r.Close(), "close on idle recorder")

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Close())

	assert.True(t, device.opened[0].discarded)
	assert.NoFileExists(t, device.opened[0].path)
	assert.Equal(t, Idle, r.Mode())
}

func TestPeriodicTasksStopWithRecording(t *testing.T) {
	device := &fakeDevice{}
	r := New(Config{
		Dir:           t.TempDir(),
		Bars:          8,
		MeterInterval: time.Millisecond,
		TickInterval:  2 * time.Millisecond,
	}, device, fakePermissions{})
	defer r.Close()

	require.NoError(t, r.Start(context.Background()))
	device.opened[0].setLevel(0)

	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		return snap.Elapsed > 0 && snap.Levels[len(snap.Levels)-1] == 1
	}, time.Second, time.Millisecond)

	_, err := r.Stop()
	require.NoError(t, err)

	stopped := r.Snapshot()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, r.Snapshot(), "no periodic work after stop")
}

func TestPeriodicTasksStopWithContext(t *testing.T) {
	device := &fakeDevice{}
	r := New(Config{
		Dir:           t.TempDir(),
		MeterInterval: time.Millisecond,
		TickInterval:  time.Millisecond,
	}, device, fakePermissions{})
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	require.Eventually(t, func() bool { return r.Elapsed() > 0 }, time.Second, time.Millisecond)

	cancel()
	time.Sleep(10 * time.Millisecond)
	elapsed := r.Elapsed()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, elapsed, r.Elapsed())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "recording", Recording.String())
	assert.Equal(t, "paused", Paused.String())
	assert.Equal(t, "stopped", Stopped.String())
}

func TestFillFramesInterleavesAndPads(t *testing.T) {
	out := make([]int16, 8)
	for i := range out {
		out[i] = 99
	}
	samples := []wav.Sample{
		{Values: [2]int{1, -1}},
		{Values: [2]int{2, -2}},
	}

	fillFrames(out, samples, 2)
	assert.Equal(t, []int16{1, -1, 2, -2, 0, 0, 0, 0}, out)

	fillFrames(out, samples, 1)
	assert.Equal(t, []int16{1, 2, 0, 0, 0, 0, 0, 0}, out)
}

func TestSnapshotDuringPermissionRequest(t *testing.T) {
	perms := newBlockingPermissions()
	r, device := newTestRecorder(t, perms)

	started := make(chan error, 1)
	go func() { started <- r.Start(context.Background()) }()
	<-perms.entered

	snap := make(chan Snapshot, 1)
	go func() { snap <- r.Snapshot() }()
	select {
	case s := <-snap:
		assert.Equal(t, Idle, s.Mode)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked while the permission request was pending")
	}

	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyRecording)
	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNoActiveRecording)

	close(perms.release)
	require.NoError(t, <-started)
	assert.Equal(t, Recording, r.Mode())
	assert.Len(t, device.opened, 1)
}

func TestCloseDuringPermissionRequestDiscardsCapture(t *testing.T) {
	perms := newBlockingPermissions()
	r, device := newTestRecorder(t, perms)

	started := make(chan error, 1)
	go func() { started <- r.Start(context.Background()) }()
	<-perms.entered

	require.NoError(t, r.Close())
	close(perms.release)

	assert.ErrorIs(t, <-started, ErrStartCancelled)
	assert.Equal(t, Idle, r.Mode())
	require.Len(t, device.opened, 1)
	assert.True(t, device.opened[0].discarded)

	// the reservation is released, so a later Start works
	require.NoError(t, r.Start(context.Background()))
}

func TestPermissionRequestFollowsContext(t *testing.T) {
	r, device := newTestRecorder(t, newBlockingPermissions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Start(ctx)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, device.opened)
}
