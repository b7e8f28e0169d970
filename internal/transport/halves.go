package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// FrameType classifies a frame read from the connection.
type FrameType int

const (
	FrameBinary FrameType = iota
	FrameText
	FrameClose
)

func (t FrameType) String() string {
	switch t {
	case FrameBinary:
		return "binary"
	case FrameText:
		return "text"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one transport-level message.
type Frame struct {
	Type FrameType
	Data []byte
}

// Sender is the write half of a connection. It is safe for concurrent use.
type Sender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewSender wraps an already established connection.
func NewSender(conn *websocket.Conn) *Sender {
	return &Sender{conn: conn}
}

// ErrSenderClosed is returned by writes after Close.
var ErrSenderClosed = errors.New("sender closed")

// WriteBinary sends msg as a single binary frame.
func (s *Sender) WriteBinary(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// Close sends a normal close frame and closes the underlying connection,
// which also unblocks a pending Receiver.Next. It is idempotent.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	cerr := s.conn.Close()
	if errors.Is(werr, websocket.ErrCloseSent) {
		werr = nil
	}
	return errors.Join(werr, cerr)
}

// Receiver is the read half of a connection. Only one goroutine may call Next.
type Receiver struct {
	conn *websocket.Conn
}

// NewReceiver wraps an already established connection.
func NewReceiver(conn *websocket.Conn) *Receiver {
	return &Receiver{conn: conn}
}

// Next blocks for the next data frame. A close frame from the peer is
// reported as a FrameClose with a nil error. A connection that drops without
// one is an error. Ping and pong frames are handled by the connection and
// never surface here.
func (r *Receiver) Next() (Frame, error) {
	typ, data, err := r.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		// 1006 is never sent on the wire; gorilla reports EOF with it.
		if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
			return Frame{Type: FrameClose, Data: []byte(ce.Text)}, nil
		}
		return Frame{}, err
	}

	switch typ {
	case websocket.TextMessage:
		return Frame{Type: FrameText, Data: data}, nil
	default:
		return Frame{Type: FrameBinary, Data: data}, nil
	}
}
