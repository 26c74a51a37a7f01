package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gordonklaus/portaudio"
	"github.com/youpy/go-wav"
)

// PlayFile plays a finished WAV recording on the default output device
// until it ends or ctx is done.
func PlayFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		return fmt.Errorf("failed to read WAV format: %w", err)
	}
	channels := int(format.NumChannels)
	if channels == 0 {
		return errors.New("recording has no channels")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	// Interleaved frames, one slot per channel.
	out := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(format.SampleRate), framesPerBuffer, &out)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	duration, _ := reader.Duration()
	slog.Info("Playing recording", "file", path, "duration", duration, "channels", channels)

	for {
		if ctx.Err() != nil {
			slog.Debug("Playback cancelled", "file", path)
			return nil
		}

		samples, err := reader.ReadSamples(framesPerBuffer)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read samples: %w", err)
		}

		fillFrames(out, samples, channels)
		if err := stream.Write(); err != nil {
			return fmt.Errorf("failed to write to output stream: %w", err)
		}
	}
}

// fillFrames copies decoded samples into the interleaved output buffer and
// pads the tail with silence.
func fillFrames(out []int16, samples []wav.Sample, channels int) {
	i := 0
	for _, s := range samples {
		for c := 0; c < channels && c < len(s.Values) && i < len(out); c++ {
			out[i] = int16(s.Values[c])
			i++
		}
	}
	for ; i < len(out); i++ {
		out[i] = 0
	}
}
