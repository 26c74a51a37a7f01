package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bosley/echo/audio"
	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 1024

// PortAudioDevice captures from a portaudio input device. DeviceID 0 uses
// the system default.
type PortAudioDevice struct {
	DeviceID int
}

func (d *PortAudioDevice) Open(path string) (Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	params, err := inputParameters(d.DeviceID)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	file, err := os.Create(path)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}
	if err := audio.WriteWavHeader(file, audio.SampleRate, 0); err != nil {
		file.Close()
		os.Remove(path)
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	c := &paCapture{file: file, path: path}
	c.level.Store(math.Float64bits(audio.SilenceDB))

	stream, err := portaudio.OpenStream(params, c.process)
	if err != nil {
		file.Close()
		os.Remove(path)
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	c.stream = stream

	return c, nil
}

type paCapture struct {
	mu       sync.Mutex
	stream   *portaudio.Stream
	file     *os.File
	path     string
	dataSize uint32
	running  bool
	closed   bool
	writeErr error

	level atomic.Uint64
}

// process runs on the portaudio callback thread.
func (c *paCapture) process(in []int16) {
	c.level.Store(math.Float64bits(audio.ChunkLevel(in)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.writeErr != nil {
		return
	}
	n, err := audio.WriteSamples(c.file, in)
	if err != nil {
		c.writeErr = err
		slog.Error("Failed to write audio chunk", "error", err, "path", c.path)
		return
	}
	c.dataSize += uint32(n)
}

func (c *paCapture) Start() error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *paCapture) Pause() error {
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.level.Store(math.Float64bits(audio.SilenceDB))
	return nil
}

func (c *paCapture) Resume() error {
	return c.Start()
}

func (c *paCapture) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

func (c *paCapture) Stop() (string, error) {
	c.mu.Lock()
	running := c.running
	c.running = false
	c.mu.Unlock()

	defer portaudio.Terminate()

	if running {
		if err := c.stream.Stop(); err != nil {
			slog.Error("Failed to stop audio stream", "error", err)
		}
	}
	if err := c.stream.Close(); err != nil {
		slog.Error("Failed to close audio stream", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	if err := audio.UpdateWavHeader(c.file, c.dataSize); err != nil {
		c.file.Close()
		return "", fmt.Errorf("failed to update WAV header: %w", err)
	}
	if err := c.file.Close(); err != nil {
		return "", fmt.Errorf("failed to close recording file: %w", err)
	}
	if c.writeErr != nil {
		return "", fmt.Errorf("recording incomplete: %w", c.writeErr)
	}

	slog.Debug("Capture finalized", "path", c.path, "bytes", c.dataSize)
	return c.path, nil
}

func (c *paCapture) Discard() error {
	if _, err := c.Stop(); err != nil {
		slog.Warn("Discarding capture that failed to finalize", "error", err, "path", c.path)
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove recording: %w", err)
	}
	return nil
}

func inputParameters(deviceID int) (portaudio.StreamParameters, error) {
	var device *portaudio.DeviceInfo

	if deviceID > 0 { // Only use specific device if explicitly requested (non-zero)
		devices, err := portaudio.Devices()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get audio devices: %w", err)
		}
		if deviceID >= len(devices) {
			return portaudio.StreamParameters{}, fmt.Errorf("invalid device ID %d", deviceID)
		}
		device = devices[deviceID]
		if device.MaxInputChannels == 0 {
			return portaudio.StreamParameters{}, fmt.Errorf("device %d (%s) is not an input device", deviceID, device.Name)
		}
		slog.Info("Using specified audio device",
			"deviceID", deviceID,
			"deviceName", device.Name,
			"sampleRate", device.DefaultSampleRate,
			"inputChannels", device.MaxInputChannels)
	} else {
		var err error
		device, err = portaudio.DefaultInputDevice()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get default input device: %w", err)
		}
		slog.Info("Using default audio device",
			"deviceName", device.Name,
			"sampleRate", device.DefaultSampleRate,
			"inputChannels", device.MaxInputChannels)
	}

	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: audio.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      audio.SampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, nil
}

// PortAudioPermissions treats an unreachable input device as a refused
// microphone permission.
type PortAudioPermissions struct{}

func (PortAudioPermissions) RequestMicrophone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	defer portaudio.Terminate()

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	if device.MaxInputChannels == 0 {
		return fmt.Errorf("%w: %s has no input channels", ErrPermissionDenied, device.Name)
	}
	return nil
}

func ListDevices() ([]portaudio.DeviceInfo, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	// Filter to only input devices
	inputDevices := make([]portaudio.DeviceInfo, 0)
	for _, device := range devices {
		if device.MaxInputChannels > 0 {
			inputDevices = append(inputDevices, *device)
		}
	}

	return inputDevices, nil
}
