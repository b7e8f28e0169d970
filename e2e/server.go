package e2e

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glizzus/moshi-cli/internal/opus"
	"github.com/glizzus/moshi-cli/internal/protocol"
	"github.com/glizzus/moshi-cli/internal/transport"
	"github.com/gorilla/websocket"
)

// Reply is what the fake service says during a conversation.
type Reply struct {
	// Samples is encoded and sent as audio messages.
	Samples []float32
	// Text is sent as one text message per element.
	Text []string
	// Extra messages are sent verbatim after the text.
	Extra [][]byte
	// WaitForFrames holds the close frame until this many audio frames
	// arrived from the client, or WaitTimeout elapsed.
	WaitForFrames int
	WaitTimeout   time.Duration
}

// FakeServer is a TLS websocket server speaking the chat protocol.
type FakeServer struct {
	Target transport.Target
	APIKey string

	mu       sync.Mutex
	received bytes.Buffer
	frames   int
	query    map[string]string
	notify   chan struct{}
}

// StartFakeServer serves reply to every connection that presents apiKey.
func StartFakeServer(t *testing.T, apiKey string, reply Reply) *FakeServer {
	t.Helper()
	s := &FakeServer{APIKey: apiKey, notify: make(chan struct{}, 1)}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+apiKey {
			http.Error(w, "invalid key", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		s.query = map[string]string{}
		for k := range r.URL.Query() {
			s.query[k] = r.URL.Query().Get(k)
		}
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer conn.Close()
		s.serve(t, conn, reply)
	}))
	t.Cleanup(srv.Close)

	s.Target = transport.Target{Host: strings.TrimPrefix(srv.URL, "https://")}
	return s
}

func (s *FakeServer) serve(t *testing.T, conn *websocket.Conn, reply Reply) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ != websocket.BinaryMessage || len(msg) == 0 || msg[0] != byte(protocol.KindAudio) {
				continue
			}
			s.mu.Lock()
			s.received.Write(msg[1:])
			s.frames++
			s.mu.Unlock()
			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
	}()

	write := func(msg []byte) bool {
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			t.Errorf("failed to write to client: %v", err)
			return false
		}
		return true
	}

	if !write(protocol.Handshake()) {
		return
	}

	enc, err := opus.NewEncoder()
	if err != nil {
		t.Errorf("failed to create encoder: %v", err)
		return
	}
	err = enc.Push(reply.Samples, func(container []byte) error {
		return conn.WriteMessage(websocket.BinaryMessage, protocol.Audio(container))
	})
	if err != nil {
		t.Errorf("failed to send reply audio: %v", err)
		return
	}
	for _, text := range reply.Text {
		if !write(protocol.Text(text)) {
			return
		}
	}
	for _, msg := range reply.Extra {
		if !write(msg) {
			return
		}
	}

	timeout := reply.WaitTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	deadline := time.After(timeout)
	for s.Frames() < reply.WaitForFrames {
		select {
		case <-s.notify:
		case <-deadline:
			t.Errorf("client sent %d audio frames, expected %d", s.Frames(), reply.WaitForFrames)
			reply.WaitForFrames = 0
		}
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second),
	)
	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
	}
}

// Frames returns how many audio messages the client sent.
func (s *FakeServer) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Received returns the concatenated container bytes the client sent.
func (s *FakeServer) Received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.received.Bytes())
}

// Query returns the query parameters of the last accepted connection.
func (s *FakeServer) Query() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}
