package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/companionlabs/voice-client/internal/audio"
	"github.com/companionlabs/voice-client/internal/config"
	"github.com/companionlabs/voice-client/internal/observability"
	"github.com/companionlabs/voice-client/internal/transcript"
)

// State is the observable session state. Exactly one value at a time;
// idle is both the initial state and the resting state between turns,
// error absorbs server events until the user starts a new session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateError      State = "error"
)

// Options carries the UI-facing callbacks. All are optional. They are
// invoked from the session's event goroutines and must not block.
type Options struct {
	OnState      func(State)
	OnTranscript func(text string, user bool)
	OnError      func(message string)
}

// CaptureOpener acquires a microphone. Swappable for tests.
type CaptureOpener func(framesPerBuffer int, meter *audio.Meter, onFrame audio.FrameFunc, onError func(error), logger zerolog.Logger) (CaptureHandle, error)

// PlayerOpener acquires an output device. Swappable for tests.
type PlayerOpener func(sampleRate, framesPerBuffer int, logger zerolog.Logger) (audio.Player, error)

// Machine orchestrates the voice session: it consumes user intents and
// channel events, drives capture and playback, and exposes one
// observable state to the UI.
type Machine struct {
	cfg    *config.Config
	opts   Options
	logger zerolog.Logger
	prov   *Provisioner

	meter       *audio.Meter
	transcripts *transcript.Aggregator

	dial        Dialer
	openCapture CaptureOpener
	openPlayer  PlayerOpener

	mu      sync.RWMutex
	state   State
	sess    *Session
	metrics *observability.SessionMetrics
}

// NewMachine creates a machine in the idle state.
func NewMachine(cfg *config.Config, opts Options) *Machine {
	logger := observability.GetLogger().With().Str("component", "session").Logger()

	return &Machine{
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		prov:        NewProvisioner(cfg.APIBaseURL, logger),
		meter:       &audio.Meter{},
		transcripts: transcript.New(),
		dial:        Dial,
		openCapture: func(frames int, meter *audio.Meter, onFrame audio.FrameFunc, onError func(error), logger zerolog.Logger) (CaptureHandle, error) {
			return audio.OpenCapture(frames, meter, onFrame, onError, logger)
		},
		openPlayer: func(sampleRate, frames int, logger zerolog.Logger) (audio.Player, error) {
			return audio.OpenDevice(sampleRate, frames, logger)
		},
		state: StateIdle,
	}
}

// StartSession provisions a backend session, opens the microphone and
// output clock, connects the channel, and begins streaming. Any
// previous session is fully torn down first. The machine passes
// through connecting and lands on idle; server-side voice activity
// detection drives it from there.
func (m *Machine) StartSession(ctx context.Context) error {
	// One session at a time: release the previous one's resources
	// before acquiring new ones.
	m.teardownCurrent(ctx)

	correlationID := observability.NewCorrelationID()
	logger := m.logger.With().Str("correlation_id", correlationID).Logger()
	metrics := observability.NewSessionMetrics(correlationID)

	m.setState(StateConnecting)

	sess := &Session{
		Wallet:    m.cfg.WalletAddress,
		Voice:     m.cfg.Voice,
		Model:     m.cfg.Model,
		CreatedAt: time.Now(),
	}

	player, err := m.openPlayer(audio.WireSampleRate, m.cfg.PlaybackFramesPerBuffer, logger)
	if err != nil {
		return m.failStart(ctx, sess, metrics, "audio", err)
	}
	sess.setPlayer(player)
	sess.scheduler = audio.NewScheduler(time.Duration(m.cfg.JitterMarginMs)*time.Millisecond, player)

	capture, err := m.openCapture(
		m.cfg.CaptureFramesPerBuffer,
		m.meter,
		func(frame []float32, sampleRate int) { m.sendFrame(sess, frame, sampleRate) },
		func(err error) { m.onCaptureError(sess, err) },
		logger,
	)
	if err != nil {
		return m.failStart(ctx, sess, metrics, "audio", err)
	}
	sess.setCapture(capture)

	metrics.RecordProvisionStart()
	grant, err := m.prov.Create(ctx, ProvisionRequest{
		WalletAddress:      m.cfg.WalletAddress,
		UserID:             m.cfg.UserID,
		Voice:              m.cfg.Voice,
		Model:              m.cfg.Model,
		SystemInstructions: m.cfg.SystemInstructions,
		Temperature:        m.cfg.Temperature,
		UnhingedMode:       m.cfg.UnhingedMode,
	})
	if err != nil {
		metrics.RecordProvisionEnd(false)
		return m.failStart(ctx, sess, metrics, "provision", err)
	}
	metrics.RecordProvisionEnd(true)
	sess.ID = grant.SessionID

	t, err := m.dial(ctx, m.prov.ChannelURL(grant.ChannelPath), logger)
	if err != nil {
		return m.failStart(ctx, sess, metrics, "transport", err)
	}
	sess.setTransport(t)

	m.mu.Lock()
	m.sess = sess
	m.metrics = metrics
	m.mu.Unlock()

	metrics.RecordSessionStart()

	// Ready: audio is already streaming, the server detects speech.
	// Settle on idle before the event loop runs so an early
	// speech_started is not clobbered back to idle.
	m.setState(StateIdle)

	go m.eventLoop(sess, t)

	logger.Info().
		Str("session_id", sess.ID).
		Str("voice", sess.Voice).
		Str("model", sess.Model).
		Msg("Voice session started")

	return nil
}

// CloseSession tears down the active session and resets transient
// state. Safe to call repeatedly and after a teardown already ran.
func (m *Machine) CloseSession(ctx context.Context) {
	m.teardownCurrent(ctx)
	m.transcripts.Reset()
	m.meter.Reset()
	m.setState(StateIdle)
}

// StartListening is an advisory UI hint. Audio streams continuously
// under server-side voice activity detection, so this gates nothing.
func (m *Machine) StartListening() {
	m.logger.Debug().Msg("StartListening: streaming is continuous, server detects speech")
}

// StopListening is an advisory UI hint; it only nudges the displayed
// state back to idle if the server had flagged speech.
func (m *Machine) StopListening() {
	if m.State() == StateListening {
		m.setState(StateIdle)
	}
}

// State returns the current session state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SessionID returns the active backend session ID, empty when idle.
func (m *Machine) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.ID
}

// IsConnected reports whether the channel is open.
func (m *Machine) IsConnected() bool {
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return false
	}
	t := sess.Transport()
	return t != nil && t.IsOpen()
}

// AudioLevel returns the microphone level in [0, 1] for UI metering.
// Zero while idle or errored.
func (m *Machine) AudioLevel() float64 {
	switch m.State() {
	case StateListening, StateProcessing, StateSpeaking:
		return m.meter.Level()
	default:
		return 0
	}
}

// Transcripts returns a snapshot of the conversation so far.
func (m *Machine) Transcripts() []transcript.Entry {
	return m.transcripts.Entries()
}

// sendFrame is the capture path: resample to the wire rate, encode,
// fire-and-forget onto the channel. It never blocks and never queues;
// under congestion frames are dropped, preserving latency over
// completeness.
func (m *Machine) sendFrame(sess *Session, frame []float32, sampleRate int) {
	t := sess.Transport()
	if t == nil || !t.IsOpen() {
		return
	}

	resampled := audio.Resample(frame, sampleRate, audio.WireSampleRate)
	t.Send(Envelope{Type: MsgAudio, Data: audio.EncodePayload(resampled)})

	if metrics := m.currentMetrics(); metrics != nil {
		metrics.RecordAudioBytes("out", int64(len(resampled)*2))
	}
}

// eventLoop consumes channel messages until the connection ends. This
// is the single goroutine that mutates session state from server
// events.
func (m *Machine) eventLoop(sess *Session, t Transport) {
	for env := range t.Messages() {
		m.handleMessage(sess, env)
	}

	err := t.CloseErr()
	if err == nil {
		// Normal closure: the teardown path that initiated it already
		// settled the state.
		return
	}

	// Unexpected disconnect. Only act if this session is still the
	// machine's current one; a replacement session must not be torn
	// down by its predecessor's loop.
	metrics, owned := m.detachIfOwner(sess)
	if !owned {
		m.logger.Debug().Err(err).Msg("Channel loss from a replaced session, ignoring")
		return
	}

	// No reconnection is attempted; the user must start a new session.
	m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("Voice channel lost")
	if metrics != nil {
		metrics.RecordError("transport_closed", "transport")
	}

	sess.teardown(context.Background(), m.prov, m.logger)
	if metrics != nil {
		metrics.RecordSessionEnd()
	}

	if m.State() != StateError {
		m.setState(StateIdle)
	}
}

func (m *Machine) handleMessage(sess *Session, env Envelope) {
	// Error state absorbs all further server events until the user
	// retries with a new session.
	if m.State() == StateError {
		return
	}

	switch env.Type {
	case MsgAudio:
		samples, err := audio.DecodePayload(env.Data)
		if err != nil {
			m.logger.Debug().Err(err).Msg("Dropping undecodable audio chunk")
			return
		}
		if len(samples) == 0 {
			return
		}
		sess.scheduler.Enqueue(samples, audio.WireSampleRate)
		if metrics := m.currentMetrics(); metrics != nil {
			metrics.RecordAudioBytes("in", int64(len(samples)*2))
			metrics.RecordPlaybackChunk()
		}
		m.setState(StateSpeaking)

	case MsgTranscript:
		m.transcripts.AssistantDelta(env.Text)
		if m.opts.OnTranscript != nil && env.Text != "" {
			m.opts.OnTranscript(env.Text, false)
		}

	case MsgTranscriptDone:
		m.transcripts.AssistantDone()
		if metrics := m.currentMetrics(); metrics != nil {
			metrics.RecordTranscriptEntry(string(transcript.SpeakerAssistant))
		}

	case MsgUserTranscript:
		m.transcripts.UserUtterance(env.Text)
		if metrics := m.currentMetrics(); metrics != nil {
			metrics.RecordTranscriptEntry(string(transcript.SpeakerUser))
		}
		if m.opts.OnTranscript != nil && env.Text != "" {
			m.opts.OnTranscript(env.Text, true)
		}

	case MsgSpeechStarted:
		m.setState(StateListening)

	case MsgSpeechStopped:
		m.setState(StateProcessing)

	case MsgResponseCreated:
		m.setState(StateSpeaking)

	case MsgResponseDone:
		// Snap the playback cursor back to now so the next turn's
		// chunks aren't scheduled against a stale timeline.
		sess.scheduler.ResetCursor()
		m.setState(StateIdle)

	case MsgConnected:
		m.logger.Debug().Str("session_id", sess.ID).Msg("Backend confirmed channel")

	case MsgError:
		message := env.Message
		if message == "" {
			message = "An error occurred"
		}
		m.logger.Error().Err(&ServerError{Message: message}).Msg("Server reported error")
		if metrics := m.currentMetrics(); metrics != nil {
			metrics.RecordError("server_error", "channel")
		}
		m.setState(StateError)
		if m.opts.OnError != nil {
			m.opts.OnError(message)
		}

	default:
		// Unknown tags are ignored, not fatal.
		m.logger.Debug().Str("type", env.Type).Msg("Ignoring unknown channel message")
	}
}

// onCaptureError handles a microphone failure mid-session. Failures
// reported by a session that has since been replaced are ignored.
func (m *Machine) onCaptureError(sess *Session, err error) {
	metrics, owned := m.detachIfOwner(sess)
	if !owned {
		m.logger.Debug().Err(err).Msg("Capture error from a replaced session, ignoring")
		return
	}

	m.logger.Error().Err(err).Msg("Microphone failed during session")
	if metrics != nil {
		metrics.RecordError("capture_error", "audio")
	}

	sess.teardown(context.Background(), m.prov, m.logger)
	if metrics != nil {
		metrics.RecordSessionEnd()
	}

	m.setState(StateError)
	if m.opts.OnError != nil {
		m.opts.OnError(captureErrorMessage(err))
	}
}

// failStart unwinds a partially started session and surfaces the error.
func (m *Machine) failStart(ctx context.Context, sess *Session, metrics *observability.SessionMetrics, component string, err error) error {
	sess.teardown(ctx, m.prov, m.logger)
	metrics.RecordError("start_failed", component)

	m.setState(StateError)
	if m.opts.OnError != nil {
		m.opts.OnError(startErrorMessage(err))
	}
	return err
}

// detachIfOwner detaches the session and its metrics only if sess is
// still the machine's current session. Stale paths (a replaced
// session's event loop or capture callback) get false and must not
// touch the replacement.
func (m *Machine) detachIfOwner(sess *Session) (*observability.SessionMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess == nil || m.sess != sess {
		return nil, false
	}
	metrics := m.metrics
	m.sess = nil
	m.metrics = nil
	return metrics, true
}

// teardownCurrent detaches and tears down the active session, if any.
// Idempotent across the three trigger paths (explicit close, shutdown,
// fatal error).
func (m *Machine) teardownCurrent(ctx context.Context) {
	m.mu.Lock()
	sess := m.sess
	metrics := m.metrics
	m.sess = nil
	m.metrics = nil
	m.mu.Unlock()

	if sess == nil {
		return
	}

	sess.teardown(ctx, m.prov, m.logger)
	if metrics != nil {
		metrics.RecordSessionEnd()
	}
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	metrics := m.metrics
	m.mu.Unlock()

	if changed {
		if metrics != nil {
			metrics.RecordStateTransition(string(s))
		}
		if m.opts.OnState != nil {
			m.opts.OnState(s)
		}
	}
}

func (m *Machine) currentMetrics() *observability.SessionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

func captureErrorMessage(err error) string {
	if errors.Is(err, audio.ErrPermissionDenied) {
		return "Failed to access microphone. Please check permissions."
	}
	return "Microphone is unavailable."
}

func startErrorMessage(err error) string {
	var provErr *ProvisionError
	if errors.As(err, &provErr) {
		return provErr.UserMessage()
	}
	if errors.Is(err, audio.ErrPlaybackUnavailable) {
		return "Audio output is unavailable."
	}
	if errors.Is(err, audio.ErrPermissionDenied) || errors.Is(err, audio.ErrDeviceUnavailable) {
		return captureErrorMessage(err)
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return "Connection error. Please try again."
	}
	return "Failed to start voice session"
}
