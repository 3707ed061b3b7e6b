package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// channelServer upgrades incoming connections and hands them to the
// given handler on a goroutine.
func channelServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func recvEnvelope(t *testing.T, msgs <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-msgs:
		if !ok {
			t.Fatal("message channel closed unexpectedly")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Envelope{}
}

func waitClosed(t *testing.T, msgs <-chan Envelope) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel to close")
		}
	}
}

func TestTransport_ReceiveAndSend(t *testing.T) {
	received := make(chan Envelope, 1)
	server := channelServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteJSON(Envelope{Type: MsgConnected})
		conn.WriteJSON(Envelope{Type: MsgTranscript, Text: "Hello"})

		var env Envelope
		if err := conn.ReadJSON(&env); err == nil {
			received <- env
		}
	})
	defer server.Close()

	tr, err := Dial(context.Background(), wsURL(server), zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	if env := recvEnvelope(t, tr.Messages()); env.Type != MsgConnected {
		t.Errorf("expected connected message, got %q", env.Type)
	}
	env := recvEnvelope(t, tr.Messages())
	if env.Type != MsgTranscript || env.Text != "Hello" {
		t.Errorf("unexpected transcript message: %+v", env)
	}

	tr.Send(Envelope{Type: MsgAudio, Data: "AAAA"})
	select {
	case env := <-received:
		if env.Type != MsgAudio || env.Data != "AAAA" {
			t.Errorf("server received unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the outbound message")
	}
}

func TestTransport_MalformedMessageDropped(t *testing.T) {
	server := channelServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteJSON(Envelope{Type: MsgResponseDone})
		// Hold the connection open until the client is done reading.
		conn.ReadMessage()
	})
	defer server.Close()

	tr, err := Dial(context.Background(), wsURL(server), zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	// The malformed frame must not surface or kill the channel; the
	// next valid message comes through.
	if env := recvEnvelope(t, tr.Messages()); env.Type != MsgResponseDone {
		t.Errorf("expected response_done after malformed frame, got %q", env.Type)
	}
	if !tr.IsOpen() {
		t.Error("transport closed by a malformed frame")
	}
}

func TestTransport_NormalClosureFromServer(t *testing.T) {
	server := channelServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(time.Second),
		)
		conn.ReadMessage()
	})
	defer server.Close()

	tr, err := Dial(context.Background(), wsURL(server), zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	waitClosed(t, tr.Messages())
	if err := tr.CloseErr(); err != nil {
		t.Errorf("normal closure should leave no close error, got %v", err)
	}
	if tr.IsOpen() {
		t.Error("transport still reports open after server closure")
	}
}

func TestTransport_AbnormalClosure(t *testing.T) {
	server := channelServer(t, func(conn *websocket.Conn) {
		// Drop the socket without a close handshake.
		conn.Close()
	})
	defer server.Close()

	tr, err := Dial(context.Background(), wsURL(server), zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	waitClosed(t, tr.Messages())
	if err := tr.CloseErr(); err == nil {
		t.Error("abnormal closure should record a close error")
	}
}

func TestTransport_CloseIdempotent(t *testing.T) {
	server := channelServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.ReadMessage()
	})
	defer server.Close()

	tr, err := Dial(context.Background(), wsURL(server), zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	waitClosed(t, tr.Messages())
	if err := tr.CloseErr(); err != nil {
		t.Errorf("user-initiated close should leave no close error, got %v", err)
	}

	// Sends after close are silently dropped.
	tr.Send(Envelope{Type: MsgAudio, Data: "AAAA"})
}

func TestTransport_BackpressureNeverBlocksSendOrClose(t *testing.T) {
	release := make(chan struct{})
	server := channelServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		// Accept the connection and never read, so the socket backs up.
		<-release
	})
	defer server.Close()
	defer close(release)

	tr, err := Dial(context.Background(), wsURL(server), zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	// Flood far more data than the kernel buffers absorb. Every Send
	// must return immediately; excess frames are dropped, not queued.
	payload := strings.Repeat("A", 64*1024)
	doneSending := make(chan struct{})
	go func() {
		defer close(doneSending)
		for i := 0; i < 500; i++ {
			tr.Send(Envelope{Type: MsgAudio, Data: payload})
		}
	}()

	select {
	case <-doneSending:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked while the peer stopped reading")
	}

	// Teardown must complete even with the write side wedged.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		tr.Close()
	}()

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return while the socket was backed up")
	}
}

func TestTransport_DialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/voice/stream/none", zerolog.Nop())
	if err == nil {
		t.Fatal("expected dial error")
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TransportError, got %T", err)
	}
	if terr.Op != "dial" {
		t.Errorf("expected op 'dial', got %q", terr.Op)
	}
}
