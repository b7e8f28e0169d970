package session_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glizzus/moshi-cli/internal/audio"
	"github.com/glizzus/moshi-cli/internal/metrics"
	"github.com/glizzus/moshi-cli/internal/opus"
	"github.com/glizzus/moshi-cli/internal/protocol"
	"github.com/glizzus/moshi-cli/internal/session"
	"github.com/glizzus/moshi-cli/internal/transcript"
	"github.com/glizzus/moshi-cli/internal/transport"
	"github.com/google/go-cmp/cmp"
	"github.com/jonas747/ogg"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeConn is both halves of a connection. Frames are served from a channel
// and Next fails once Close is called, like a real socket.
type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	writeErr error

	frames    chan transport.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(frames ...transport.Frame) *fakeConn {
	c := &fakeConn{
		frames: make(chan transport.Frame, len(frames)),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		c.frames <- f
	}
	return c
}

func (c *fakeConn) WriteBinary(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.sent = append(c.sent, bytes.Clone(msg))
	return nil
}

func (c *fakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Next() (transport.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return transport.Frame{}, net.ErrClosed
	}
}

func binary(b []byte) transport.Frame {
	return transport.Frame{Type: transport.FrameBinary, Data: b}
}

func closeFrame() transport.Frame {
	return transport.Frame{Type: transport.FrameClose}
}

func sineWave(n int) []float32 {
	pcm := make([]float32, n)
	for i := range pcm {
		pcm[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/opus.SampleRate))
	}
	return pcm
}

// encodedReply returns the audio messages a server would send for pcm.
func encodedReply(t *testing.T, pcm []float32) []transport.Frame {
	t.Helper()
	enc, err := opus.NewEncoder()
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	var frames []transport.Frame
	err = enc.Push(pcm, func(container []byte) error {
		frames = append(frames, binary(protocol.Audio(container)))
		return nil
	})
	if err != nil {
		t.Fatalf("failed to encode reply: %v", err)
	}
	return frames
}

type failingWriter struct {
	calls int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, io.ErrClosedPipe
}

func TestDispatcherRoutesByKind(t *testing.T) {
	tc := []struct {
		name      string
		messages  [][]byte
		wantText  string
		wantAudio []byte
	}{
		{
			name:     "text is written exactly",
			messages: [][]byte{{0x02, 'h', 'e', 'l', 'l', 'o'}},
			wantText: "hello",
		},
		{
			name:     "unknown kind is skipped and the loop continues",
			messages: [][]byte{{99, 1, 2, 3}, protocol.Text("after")},
			wantText: "after",
		},
		{
			name:     "empty message is ignored",
			messages: [][]byte{{}, protocol.Text("x")},
			wantText: "x",
		},
		{
			name:      "audio payloads are concatenated",
			messages:  [][]byte{protocol.Audio([]byte{1, 2}), protocol.Audio([]byte{3})},
			wantAudio: []byte{1, 2, 3},
		},
		{
			name:     "control and metadata are dropped",
			messages: [][]byte{protocol.Control(protocol.ControlPause), {0x04, '{', '}'}, protocol.Handshake()},
		},
		{
			name:     "invalid utf-8 is replaced",
			messages: [][]byte{{0x02, 'o', 0xff, 'k'}},
			wantText: "o�k",
		},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			var text transcript.Recorder
			var audioOut bytes.Buffer
			d := &session.Dispatcher{Audio: &audioOut, Text: &text}

			var frames []transport.Frame
			for _, m := range test.messages {
				frames = append(frames, binary(m))
			}
			frames = append(frames, closeFrame())

			if err := d.Run(context.Background(), newFakeConn(frames...)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(test.wantText, text.String()); diff != "" {
				t.Errorf("text mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(test.wantAudio, audioOut.Bytes()); diff != "" {
				t.Errorf("audio mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDispatcherCountsUnknownKindsTogether(t *testing.T) {
	unknown := metrics.MessagesReceivedTotal.WithLabelValues("unknown")
	before := testutil.ToFloat64(unknown)
	series := testutil.CollectAndCount(metrics.MessagesReceivedTotal)

	d := &session.Dispatcher{}
	for _, tag := range []byte{5, 99, 200, 255} {
		d.Handle(context.Background(), []byte{tag, 1})
	}

	if got := testutil.ToFloat64(unknown) - before; got != 4 {
		t.Errorf("expected 4 unknown messages counted, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.MessagesReceivedTotal); got != series {
		t.Errorf("unknown tags added %d label values", got-series)
	}
}

func TestDispatcherIgnoresTextFrames(t *testing.T) {
	var text transcript.Recorder
	d := &session.Dispatcher{Text: &text}

	conn := newFakeConn(
		transport.Frame{Type: transport.FrameText, Data: []byte("\x02not a protocol message")},
		binary(protocol.Text("ok")),
		closeFrame(),
	)
	if err := d.Run(context.Background(), conn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text.String() != "ok" {
		t.Errorf("expected only the binary text message, got %q", text.String())
	}
}

func TestDispatcherStopsForwardingAudioAfterWriteFailure(t *testing.T) {
	w := &failingWriter{}
	d := &session.Dispatcher{Audio: w}

	conn := newFakeConn(
		binary(protocol.Audio([]byte{1})),
		binary(protocol.Audio([]byte{2})),
		binary(protocol.Audio([]byte{3})),
		closeFrame(),
	)
	if err := d.Run(context.Background(), conn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.calls != 1 {
		t.Errorf("expected the writer to be tried once, got %d calls", w.calls)
	}
}

func TestDispatcherReturnsReadError(t *testing.T) {
	conn := newFakeConn()
	conn.Close()

	err := (&session.Dispatcher{}).Run(context.Background(), conn)
	if !errors.Is(err, net.ErrClosed) {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestSenderFramesAudio(t *testing.T) {
	conn := newFakeConn()
	s, err := session.NewSender(conn)
	if err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}

	if err := s.SendPCM(sineWave(500)); err != nil {
		t.Fatalf("failed to send: %v", err)
	}
	if n := len(conn.Sent()); n != 0 {
		t.Fatalf("expected nothing sent before a full frame, got %d messages", n)
	}

	if err := s.SendPCM(sineWave(1500)); err != nil {
		t.Fatalf("failed to send: %v", err)
	}
	sent := conn.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected one message per frame, got %d", len(sent))
	}
	for i, m := range sent {
		if m[0] != byte(protocol.KindAudio) {
			t.Errorf("message %d has kind %d", i, m[0])
		}
		if !bytes.HasPrefix(m[1:], []byte("OggS")) {
			t.Errorf("message %d does not start with a page", i)
		}
	}
	if !bytes.Contains(sent[0], []byte("OpusHead")) || !bytes.Contains(sent[0], []byte("OpusTags")) {
		t.Error("first message does not carry the stream headers")
	}
	if s.Total() != 2000 {
		t.Errorf("expected 2000 samples sent, got %d", s.Total())
	}
}

func TestSenderControl(t *testing.T) {
	conn := newFakeConn()
	s, err := session.NewSender(conn)
	if err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}
	if err := s.SendControl(protocol.ControlEndTurn); err != nil {
		t.Fatalf("failed to send control: %v", err)
	}
	if diff := cmp.Diff([][]byte{{0x03, 0x01}}, conn.Sent()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestSendLoopStopsOnWriteError(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	s, err := session.NewSender(conn)
	if err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}

	capture := audio.NewQueue(0)
	capture.Push(sineWave(opus.FrameSize))

	done := make(chan struct{})
	go func() {
		session.SendLoop(context.Background(), capture, s, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("send loop did not stop after a write error")
	}
}

func TestSendLoopDrainsCapture(t *testing.T) {
	conn := newFakeConn()
	s, err := session.NewSender(conn)
	if err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}

	capture := audio.NewQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		session.SendLoop(ctx, capture, s, time.Millisecond)
		close(done)
	}()

	capture.Push(sineWave(3 * opus.FrameSize))
	deadline := time.Now().Add(5 * time.Second)
	for len(conn.Sent()) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if n := len(conn.Sent()); n != 3 {
		t.Errorf("expected 3 audio messages, got %d", n)
	}
	if capture.Len() != 0 {
		t.Errorf("expected capture to be drained, %d samples left", capture.Len())
	}
}

func TestSessionRun(t *testing.T) {
	const replySamples = 5 * opus.FrameSize
	frames := encodedReply(t, sineWave(replySamples))
	frames = append(frames,
		binary(protocol.Text("Hi")),
		binary(protocol.Text(" there")),
		closeFrame(),
	)
	conn := newFakeConn(frames...)

	output := filepath.Join(t.TempDir(), "received.wav")
	var live bytes.Buffer
	s := session.New("conv-1", conn, conn, session.Options{
		Output:     output,
		Transcript: transcript.NewWriterSink(&live),
	})

	playback := audio.NewQueue(0)
	sum, err := s.Run(context.Background(), audio.NewQueue(0), playback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sum.SamplesReceived != replySamples {
		t.Errorf("expected %d samples received, got %d", replySamples, sum.SamplesReceived)
	}
	if playback.Len() != replySamples {
		t.Errorf("expected %d samples queued for playback, got %d", replySamples, playback.Len())
	}
	if sum.Transcript != "Hi there" || live.String() != "Hi there" {
		t.Errorf("unexpected transcript %q / %q", sum.Transcript, live.String())
	}
	if sum.DecodeErr != nil {
		t.Errorf("unexpected decode error: %v", sum.DecodeErr)
	}
	if sum.Output != output {
		t.Errorf("expected output %q, got %q", output, sum.Output)
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("expected wav file: %v", err)
	}
	if sum.ID != "conv-1" || sum.EndedAt.Before(sum.StartedAt) {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestSessionRunSurvivesCorruptAudio(t *testing.T) {
	// A well-formed page whose packet claims 63 frames, more than libopus accepts.
	var bad bytes.Buffer
	pages := ogg.NewEncoder(7, &bad)
	if err := pages.EncodeBOS(0, opus.IDHeader()); err != nil {
		t.Fatal(err)
	}
	if err := pages.Encode(960, []byte{0xff, 0xff}); err != nil {
		t.Fatal(err)
	}

	frames := []transport.Frame{binary(protocol.Audio(bad.Bytes()))}
	frames = append(frames, encodedReply(t, sineWave(4*opus.FrameSize))...)
	frames = append(frames, binary(protocol.Text("still here")), closeFrame())
	conn := newFakeConn(frames...)

	s := session.New("conv-2", conn, conn, session.Options{})
	sum, err := s.Run(context.Background(), audio.NewQueue(0), audio.NewQueue(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.DecodeErr == nil {
		t.Error("expected the decode pipeline to report an error")
	}
	if sum.Transcript != "still here" {
		t.Errorf("text after corrupt audio was lost: %q", sum.Transcript)
	}
}

func TestSessionRunCancel(t *testing.T) {
	conn := newFakeConn()
	s := session.New("conv-3", conn, conn, session.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx, audio.NewQueue(0), audio.NewQueue(0))
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after cancellation")
	}

	select {
	case <-conn.closed:
	default:
		t.Error("expected the connection to be closed")
	}
}
