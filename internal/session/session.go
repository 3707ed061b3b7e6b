package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/companionlabs/voice-client/internal/audio"
)

// CaptureHandle is the machine's view of the microphone engine.
// Satisfied by *audio.CaptureEngine; swappable for tests.
type CaptureHandle interface {
	SampleRate() int
	Close() error
}

// Session bundles every live resource of one voice session: the
// backend grant, the channel, the microphone, and the output clock.
// It is owned exclusively by the state machine, and teardown covers
// all members in one place regardless of which of the three triggers
// fired (explicit close, shutdown, fatal error).
type Session struct {
	ID        string
	Wallet    string
	Voice     string
	Model     string
	CreatedAt time.Time

	scheduler *audio.Scheduler

	mu        sync.Mutex
	transport Transport
	capture   CaptureHandle
	player    audio.Player
	torn      bool
}

// Transport returns the channel handle, nil until connected.
func (s *Session) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

func (s *Session) setTransport(t Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

func (s *Session) setCapture(c CaptureHandle) {
	s.mu.Lock()
	s.capture = c
	s.mu.Unlock()
}

func (s *Session) setPlayer(p audio.Player) {
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
}

// teardown releases every session resource exactly once, in order:
// stop capture (no new audio), close the channel with a normal-closure
// signal (no further sends), release the backend session best-effort,
// then close the output device. Every step tolerates the resource
// being absent, and failures are logged, never propagated.
func (s *Session) teardown(ctx context.Context, prov *Provisioner, logger zerolog.Logger) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	capture := s.capture
	transport := s.transport
	player := s.player
	s.mu.Unlock()

	if capture != nil {
		if err := capture.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing microphone")
		}
	}

	if transport != nil {
		if err := transport.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing voice channel")
		}
	}

	if s.ID != "" && prov != nil {
		if err := prov.Release(ctx, s.ID, s.Wallet); err != nil {
			logger.Warn().Err(err).Str("session_id", s.ID).Msg("Error releasing backend session")
		}
	}

	if player != nil {
		if err := player.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing playback device")
		}
	}

	logger.Info().Str("session_id", s.ID).Msg("Voice session torn down")
}
