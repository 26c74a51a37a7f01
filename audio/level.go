package audio

import (
	"math"
	"sync"
)

const (
	MinDB = -80.0
	MaxDB = 0.0

	// SilenceDB is reported for chunks with no signal.
	SilenceDB = -160.0
)

// Normalize clamps a decibel reading to [MinDB, MaxDB] and rescales it
// linearly to [0, 1].
func Normalize(db float64) float64 {
	if math.IsNaN(db) {
		return 0
	}
	db = math.Max(MinDB, math.Min(MaxDB, db))
	return (db - MinDB) / (MaxDB - MinDB)
}

// ChunkLevel returns the RMS level of a PCM16 chunk in dBFS.
func ChunkLevel(chunk []int16) float64 {
	if len(chunk) == 0 {
		return SilenceDB
	}

	var sum float64
	for _, sample := range chunk {
		v := float64(sample) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(chunk)))
	if rms == 0 {
		return SilenceDB
	}
	return math.Max(SilenceDB, 20*math.Log10(rms))
}

// LevelBuffer is a fixed-length rolling window of normalized levels.
type LevelBuffer struct {
	mu      sync.RWMutex
	samples []float64
}

func NewLevelBuffer(n int) *LevelBuffer {
	if n <= 0 {
		n = 1
	}
	return &LevelBuffer{
		samples: make([]float64, n),
	}
}

// Push appends v and evicts the oldest sample.
func (b *LevelBuffer) Push(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.samples, b.samples[1:])
	b.samples[len(b.samples)-1] = v
}

// Levels returns a copy of the window, oldest first.
func (b *LevelBuffer) Levels() []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]float64, len(b.samples))
	copy(out, b.samples)
	return out
}

func (b *LevelBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

func (b *LevelBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.samples {
		b.samples[i] = 0
	}
}
