package audio

import (
	"sync"
)

// SampleRing is a thread-safe ring buffer of float samples. It sits
// between the playback scheduler's timeline and the output device so
// the device can drain at its own pace.
type SampleRing struct {
	buffer []float32
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewSampleRing creates a ring buffer holding up to size-1 samples.
func NewSampleRing(size int) *SampleRing {
	return &SampleRing{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write writes samples to the ring buffer. Returns the number of
// samples written (may be less than len(samples) if the buffer fills).
func (rb *SampleRing) Write(samples []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for i := 0; i < len(samples); i++ {
		if (rb.write+1)%rb.size == rb.read {
			break // Buffer full
		}

		rb.buffer[rb.write] = samples[i]
		rb.write = (rb.write + 1) % rb.size
		written++
	}

	return written
}

// Read reads samples from the ring buffer into out. Returns the number
// of samples read.
func (rb *SampleRing) Read(out []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for i := 0; i < len(out); i++ {
		if rb.read == rb.write {
			break // Buffer empty
		}

		out[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
		read++
	}

	return read
}

// Available returns the number of samples available to read.
func (rb *SampleRing) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return rb.available()
}

func (rb *SampleRing) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Space returns the number of samples that can be written.
func (rb *SampleRing) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return rb.size - rb.available() - 1 // -1 to prevent full/empty ambiguity
}

// Clear resets the buffer.
func (rb *SampleRing) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer holds no samples.
func (rb *SampleRing) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}
