package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// DefaultJitterMargin is the fixed delay added before scheduling
// playback to absorb network arrival-time variance.
const DefaultJitterMargin = 20 * time.Millisecond

// ErrPlaybackUnavailable indicates no usable output device.
var ErrPlaybackUnavailable = errors.New("audio output device unavailable")

// Player consumes chunks the scheduler has placed on the timeline.
type Player interface {
	// Play renders samples starting no earlier than startAt. Must not
	// block the caller.
	Play(startAt time.Time, samples []float32, sampleRate int)

	// Close releases the output device. Idempotent.
	Close() error
}

// Scheduler owns the playback cursor and serializes synthesized audio
// chunks so they play strictly back-to-back: each chunk starts at
// max(cursor, now+jitter) and advances the cursor by its duration,
// regardless of arrival timing.
type Scheduler struct {
	mu     sync.Mutex
	now    func() time.Time
	cursor time.Time
	jitter time.Duration
	player Player
}

// NewScheduler creates a scheduler feeding player. A nil player
// schedules without rendering (useful for tests and dry runs).
func NewScheduler(jitter time.Duration, player Player) *Scheduler {
	return &Scheduler{
		now:    time.Now,
		jitter: jitter,
		player: player,
	}
}

// Enqueue places one decoded chunk on the timeline and returns its
// scheduled start time.
func (s *Scheduler) Enqueue(samples []float32, sampleRate int) time.Time {
	s.mu.Lock()

	start := s.now().Add(s.jitter)
	if s.cursor.After(start) {
		start = s.cursor
	}

	duration := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	s.cursor = start.Add(duration)

	player := s.player
	s.mu.Unlock()

	if player != nil {
		player.Play(start, samples, sampleRate)
	}
	return start
}

// ResetCursor snaps the cursor back to "now". Called when a synthesis
// turn completes; without it, a burst of late chunks from the next
// turn would be scheduled against the stale cursor and play back
// faster than real time to catch up.
func (s *Scheduler) ResetCursor() {
	s.mu.Lock()
	s.cursor = s.now()
	s.mu.Unlock()
}

// Cursor returns the earliest time the next chunk may start.
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

type timedChunk struct {
	startAt time.Time
	samples []float32
}

// Device renders scheduled chunks through the default output device at
// the wire sample rate.
type Device struct {
	stream     *portaudio.Stream
	sampleRate int
	out        []float32
	ring       *SampleRing
	queue      chan timedChunk
	done       chan struct{}
	logger     zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenDevice opens the default speaker at sampleRate and starts the
// render loop.
func OpenDevice(sampleRate, framesPerBuffer int, logger zerolog.Logger) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlaybackUnavailable, err)
	}

	out := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, out)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrPlaybackUnavailable, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrPlaybackUnavailable, err)
	}

	d := &Device{
		stream:     stream,
		sampleRate: sampleRate,
		out:        out,
		ring:       NewSampleRing(sampleRate * 10), // ~10s of headroom
		queue:      make(chan timedChunk, 100),
		done:       make(chan struct{}),
		logger:     logger,
	}

	go d.renderLoop()

	return d, nil
}

// Play queues samples to start rendering no earlier than startAt.
// Chunks arriving while the queue is full are dropped rather than
// blocking the message callback.
func (d *Device) Play(startAt time.Time, samples []float32, sampleRate int) {
	if sampleRate != d.sampleRate {
		samples = Resample(samples, sampleRate, d.sampleRate)
	}
	select {
	case d.queue <- timedChunk{startAt: startAt, samples: samples}:
	default:
		d.logger.Warn().Msg("Playback queue full, dropping audio chunk")
	}
}

func (d *Device) renderLoop() {
	for {
		select {
		case chunk := <-d.queue:
			// Hold playout until the scheduled start. Chunks arrive in
			// timeline order, so a plain wait preserves ordering.
			if wait := time.Until(chunk.startAt); wait > 0 {
				select {
				case <-time.After(wait):
				case <-d.done:
					return
				}
			}

			written := d.ring.Write(chunk.samples)
			if written < len(chunk.samples) {
				d.logger.Warn().
					Int("dropped", len(chunk.samples)-written).
					Msg("Playback buffer overflow")
			}

			d.drainRing()

		case <-d.done:
			return
		}
	}
}

func (d *Device) drainRing() {
	for !d.ring.IsEmpty() {
		n := d.ring.Read(d.out)
		for i := n; i < len(d.out); i++ {
			d.out[i] = 0
		}
		if err := d.stream.Write(); err != nil {
			// Under/overflow is routine near turn boundaries.
			d.logger.Debug().Err(err).Msg("Playback write")
		}
	}
}

// Close stops rendering and releases the output device. Idempotent;
// teardown failures are logged, never propagated.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.done)

	if err := d.stream.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Error stopping playback stream")
	}
	if err := d.stream.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Error closing playback stream")
	}
	if err := portaudio.Terminate(); err != nil {
		d.logger.Warn().Err(err).Msg("Error terminating audio host")
	}

	return nil
}
