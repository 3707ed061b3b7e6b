package audio

import (
	"math"
	"sync"
)

// RMS calculates the root mean square of float samples in [-1, 1].
// Useful for detecting audio levels and silence.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// meterGain maps typical speech RMS (well below full scale) onto a
// usable 0..1 meter range.
const meterGain = 4.0

// Meter tracks the input level of the most recent capture frame for UI
// feedback. Observe is called from the capture path; Level is read from
// a display-refresh loop, so access is guarded.
type Meter struct {
	mu    sync.RWMutex
	level float64
}

// Observe updates the meter from one capture frame.
func (m *Meter) Observe(frame []float32) {
	level := RMS(frame) * meterGain
	if level > 1.0 {
		level = 1.0
	}

	m.mu.Lock()
	m.level = level
	m.mu.Unlock()
}

// Level returns the last observed level, normalized to [0, 1].
func (m *Meter) Level() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Reset clears the meter, e.g. when the session goes idle or errors.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.level = 0
	m.mu.Unlock()
}
