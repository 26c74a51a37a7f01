package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

const (
	SampleRate    = 44100 // Rate at which the microphone is captured
	Channels      = 1     // Mono audio
	BitsPerSample = 16    // Using int16 for samples

	wavHeaderSize = 44
)

type WavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WriteWavHeader writes a PCM16 mono header. dataSize may be zero when the
// final size is not yet known; UpdateWavHeader patches it afterwards.
func WriteWavHeader(w io.Writer, sampleRate uint32, dataSize uint32) error {
	header := WavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(Channels) * uint32(BitsPerSample) / 8,
		BlockAlign:    Channels * BitsPerSample / 8,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	return binary.Write(w, binary.LittleEndian, header)
}

func UpdateWavHeader(f io.WriteSeeker, dataSize uint32) error {
	// ChunkSize is file size - 8
	if _, err := f.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to ChunkSize: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, dataSize+36); err != nil {
		return fmt.Errorf("failed to write ChunkSize: %w", err)
	}

	if _, err := f.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to Subchunk2Size: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("failed to write Subchunk2Size: %w", err)
	}

	_, err := f.Seek(0, io.SeekEnd)
	return err
}

// WriteSamples appends little-endian PCM16 samples.
func WriteSamples(w io.Writer, samples []int16) (int, error) {
	buf := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return w.Write(buf)
}

// Duration reports the playback length of a WAV file.
func Duration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat audio file: %w", err)
	}
	if info.Size() < wavHeaderSize {
		return 0, fmt.Errorf("audio file too short to be WAV: %d bytes", info.Size())
	}

	d, err := wav.NewReader(file).Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV duration: %w", err)
	}
	return d, nil
}
