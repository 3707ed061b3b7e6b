package audio

import (
	"sync"
	"testing"
	"time"
)

type recordingPlayer struct {
	mu     sync.Mutex
	starts []time.Time
	chunks [][]float32
	closed int
}

func (p *recordingPlayer) Play(startAt time.Time, samples []float32, sampleRate int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, startAt)
	p.chunks = append(p.chunks, samples)
}

func (p *recordingPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestScheduler_FirstChunkStartsAfterJitterMargin(t *testing.T) {
	player := &recordingPlayer{}
	s := NewScheduler(20*time.Millisecond, player)
	now := time.Unix(1000, 0)
	s.now = fixedClock(now)

	start := s.Enqueue(make([]float32, 2400), WireSampleRate) // 100ms

	if want := now.Add(20 * time.Millisecond); !start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, start)
	}
	if len(player.starts) != 1 {
		t.Fatalf("expected 1 scheduled chunk, got %d", len(player.starts))
	}
}

func TestScheduler_NonOverlap(t *testing.T) {
	player := &recordingPlayer{}
	s := NewScheduler(20*time.Millisecond, player)
	now := time.Unix(1000, 0)
	s.now = fixedClock(now)

	// Chunks of varying durations, all arriving at once (worst-case
	// burst). Starts must be strictly back-to-back.
	sizes := []int{2400, 1200, 4800, 240, 2400}
	starts := make([]time.Time, len(sizes))
	for i, n := range sizes {
		starts[i] = s.Enqueue(make([]float32, n), WireSampleRate)
	}

	for i := 0; i < len(sizes)-1; i++ {
		duration := time.Duration(float64(sizes[i]) / WireSampleRate * float64(time.Second))
		earliest := starts[i].Add(duration)
		if starts[i+1].Before(earliest) {
			t.Errorf("chunk %d starts at %v, before chunk %d ends at %v", i+1, starts[i+1], i, earliest)
		}
	}
}

func TestScheduler_LateArrivalWaitsForJitterMargin(t *testing.T) {
	player := &recordingPlayer{}
	s := NewScheduler(20*time.Millisecond, player)
	now := time.Unix(1000, 0)
	s.now = fixedClock(now)

	s.Enqueue(make([]float32, 240), WireSampleRate) // 10ms, cursor ends before later "now"

	// Time passes beyond the cursor; the next chunk must not be
	// scheduled in the past.
	later := now.Add(500 * time.Millisecond)
	s.now = fixedClock(later)

	start := s.Enqueue(make([]float32, 240), WireSampleRate)
	if want := later.Add(20 * time.Millisecond); !start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, start)
	}
}

func TestScheduler_CursorResetAfterResponseDone(t *testing.T) {
	player := &recordingPlayer{}
	s := NewScheduler(20*time.Millisecond, player)
	now := time.Unix(1000, 0)
	s.now = fixedClock(now)

	// Build up a long scheduled backlog.
	for i := 0; i < 10; i++ {
		s.Enqueue(make([]float32, 24000), WireSampleRate) // 1s each
	}
	if s.Cursor().Before(now.Add(10 * time.Second)) {
		t.Fatalf("expected cursor well in the future, got %v", s.Cursor())
	}

	// Turn completes; cursor snaps back so the next turn starts within
	// the jitter margin of now, independent of the prior cursor.
	s.ResetCursor()
	start := s.Enqueue(make([]float32, 2400), WireSampleRate)

	if want := now.Add(20 * time.Millisecond); !start.Equal(want) {
		t.Errorf("expected post-reset start %v, got %v", want, start)
	}
}

func TestScheduler_NilPlayer(t *testing.T) {
	s := NewScheduler(20*time.Millisecond, nil)
	s.now = fixedClock(time.Unix(1000, 0))

	// Must schedule without panicking.
	s.Enqueue(make([]float32, 2400), WireSampleRate)
}
