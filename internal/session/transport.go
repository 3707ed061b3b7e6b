package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// writeTimeout bounds a single websocket write so a wedged peer cannot
// pin the writer goroutine indefinitely.
const writeTimeout = 5 * time.Second

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

// Transport is the duplex channel to the backend voice pipeline.
type Transport interface {
	// Messages yields inbound tagged messages. The channel closes when
	// the connection ends; CloseErr then explains why.
	Messages() <-chan Envelope

	// Send transmits one envelope best-effort: non-blocking, silently
	// dropped if the channel is not open or the outbound buffer is
	// full. At-most-once, no retry, no unbounded queue.
	Send(env Envelope)

	// Close shuts the channel down with a normal-closure signal so the
	// server can distinguish user intent from a dropped connection.
	// Idempotent, and returns even if the socket is wedged.
	Close() error

	// IsOpen reports whether sends can currently reach the server.
	IsOpen() bool

	// CloseErr returns nil after a normal closure (ours or the
	// server's) and the terminating error otherwise. Only meaningful
	// once Messages has closed.
	CloseErr() error
}

// Dialer opens a transport to a channel address. Swappable for tests.
type Dialer func(ctx context.Context, url string, logger zerolog.Logger) (Transport, error)

// Dial connects the websocket channel and starts its read and write
// loops.
func Dial(ctx context.Context, url string, logger zerolog.Logger) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	t := &wsTransport{
		conn:     conn,
		msgs:     make(chan Envelope, 100),
		outbound: make(chan Envelope, 100),
		done:     make(chan struct{}),
		open:     true,
		logger:   logger,
	}

	go t.readLoop()
	go t.writeLoop()

	logger.Info().Str("url", url).Msg("Voice channel connected")
	return t, nil
}

type wsTransport struct {
	conn     *websocket.Conn
	msgs     chan Envelope
	outbound chan Envelope
	done     chan struct{}
	logger   zerolog.Logger

	mu       sync.Mutex
	open     bool
	closing  bool // user-initiated close in progress
	closeErr error
}

func (t *wsTransport) Messages() <-chan Envelope {
	return t.msgs
}

func (t *wsTransport) readLoop() {
	defer close(t.msgs)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.open = false
			normal := t.closing || websocket.IsCloseError(err, websocket.CloseNormalClosure)
			if !normal {
				t.closeErr = &TransportError{Op: "read", Err: err}
			}
			t.mu.Unlock()
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed messages are dropped without tearing down the
			// channel.
			t.logger.Debug().Err(err).Msg("Dropping malformed channel message")
			continue
		}

		select {
		case t.msgs <- env:
		default:
			t.logger.Warn().Str("type", env.Type).Msg("Inbound message buffer full, dropping")
		}
	}
}

// writeLoop is the single goroutine touching the socket's write side.
// A write error ends the loop; the read loop observes the terminal
// connection state.
func (t *wsTransport) writeLoop() {
	for {
		select {
		case env := <-t.outbound:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := t.conn.WriteJSON(env); err != nil {
				t.logger.Debug().Err(err).Str("type", env.Type).Msg("Dropped outbound message")
				return
			}
		case <-t.done:
			return
		}
	}
}

// Send never blocks the caller: it hands the envelope to the writer
// goroutine, or drops it when the buffer is full or the channel is not
// open.
func (t *wsTransport) Send(env Envelope) {
	t.mu.Lock()
	open := t.open && !t.closing
	t.mu.Unlock()
	if !open {
		return
	}

	select {
	case t.outbound <- env:
	default:
		t.logger.Warn().Str("type", env.Type).Msg("Outbound buffer full, dropping message")
	}
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.open = false
	t.mu.Unlock()

	close(t.done)

	// Best-effort normal-closure handshake. WriteControl is safe
	// alongside a concurrent writer and carries its own deadline, so a
	// wedged socket cannot stall teardown.
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "user disconnected"),
		closeDeadline(),
	)

	if err := t.conn.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("Error closing channel socket")
	}
	return nil
}

func (t *wsTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && !t.closing
}

func (t *wsTransport) CloseErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeErr
}
