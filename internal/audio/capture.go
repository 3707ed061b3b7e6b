package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

var (
	// ErrPermissionDenied indicates the OS refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable indicates no usable capture device.
	ErrDeviceUnavailable = errors.New("microphone device unavailable")
)

// FrameFunc receives one fixed-size capture buffer at the device's
// native sample rate. It must not block: it runs on the capture loop
// and a slow consumer would glitch the stream.
type FrameFunc func(frame []float32, sampleRate int)

// CaptureEngine owns an exclusive microphone stream and emits
// fixed-size raw buffers. It also feeds a level meter for UI feedback.
type CaptureEngine struct {
	stream     *portaudio.Stream
	buf        []float32
	sampleRate int
	meter      *Meter
	onFrame    FrameFunc
	onError    func(error)
	logger     zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenCapture acquires the default microphone at its native sample rate
// with a fixed frames-per-buffer and starts the capture loop. onError
// is invoked once if the stream fails mid-capture.
func OpenCapture(framesPerBuffer int, meter *Meter, onFrame FrameFunc, onError func(error), logger zerolog.Logger) (*CaptureEngine, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, classifyCaptureError(err)
	}

	// Capture at the device's native rate (commonly 44100 or 48000);
	// resampling to the wire rate happens downstream.
	sampleRate := int(dev.DefaultSampleRate)
	buf := make([]float32, framesPerBuffer)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, classifyCaptureError(err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, classifyCaptureError(err)
	}

	e := &CaptureEngine{
		stream:     stream,
		buf:        buf,
		sampleRate: sampleRate,
		meter:      meter,
		onFrame:    onFrame,
		onError:    onError,
		logger:     logger,
	}

	go e.readLoop()

	logger.Info().
		Int("sample_rate", sampleRate).
		Int("frames_per_buffer", framesPerBuffer).
		Msg("Microphone capture started")

	return e, nil
}

// SampleRate returns the device's native capture rate.
func (e *CaptureEngine) SampleRate() int {
	return e.sampleRate
}

func (e *CaptureEngine) readLoop() {
	for {
		if err := e.stream.Read(); err != nil {
			e.mu.Lock()
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return // Normal teardown
			}

			e.logger.Error().Err(err).Msg("Microphone read failed")
			if e.onError != nil {
				e.onError(classifyCaptureError(err))
			}
			return
		}

		// Copy out of the stream buffer; portaudio reuses it on the
		// next Read.
		frame := make([]float32, len(e.buf))
		copy(frame, e.buf)

		if e.meter != nil {
			e.meter.Observe(frame)
		}
		if e.onFrame != nil {
			e.onFrame(frame, e.sampleRate)
		}
	}
}

// Close stops the capture loop and releases the OS audio device. It is
// idempotent and never propagates teardown failures; they are logged
// and teardown continues.
func (e *CaptureEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.stream.Stop(); err != nil {
		e.logger.Warn().Err(err).Msg("Error stopping capture stream")
	}
	if err := e.stream.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Error closing capture stream")
	}
	if err := portaudio.Terminate(); err != nil {
		e.logger.Warn().Err(err).Msg("Error terminating audio host")
	}

	e.logger.Info().Msg("Microphone capture stopped")
	return nil
}

func classifyCaptureError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
