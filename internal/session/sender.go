package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glizzus/moshi-cli/internal/metrics"
	"github.com/glizzus/moshi-cli/internal/opus"
	"github.com/glizzus/moshi-cli/internal/protocol"
)

// DefaultSendInterval is how often captured audio is drained and encoded.
const DefaultSendInterval = 20 * time.Millisecond

// BinaryWriter is the write half of a connection.
type BinaryWriter interface {
	WriteBinary(msg []byte) error
}

// Sender encodes outbound PCM and writes the resulting container bytes as
// audio messages. It owns its encoder and must be driven by one goroutine.
type Sender struct {
	enc *opus.Encoder
	w   BinaryWriter
}

func NewSender(w BinaryWriter) (*Sender, error) {
	enc, err := opus.NewEncoder()
	if err != nil {
		return nil, err
	}
	return &Sender{enc: enc, w: w}, nil
}

// SendPCM queues pcm for encoding. Every complete frame produces exactly one
// audio message carrying the container bytes written since the last message.
func (s *Sender) SendPCM(pcm []float32) error {
	frames := s.enc.Frames()
	err := s.enc.Push(pcm, func(container []byte) error {
		return s.w.WriteBinary(protocol.Audio(container))
	})
	metrics.SamplesSentTotal.Add(float64(len(pcm)))
	metrics.FramesSentTotal.Add(float64(s.enc.Frames() - frames))
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendControl writes a single control message.
func (s *Sender) SendControl(code protocol.ControlCode) error {
	if err := s.w.WriteBinary(protocol.Control(code)); err != nil {
		return fmt.Errorf("failed to send control %s: %w", code, err)
	}
	return nil
}

// Total returns the number of samples handed to SendPCM.
func (s *Sender) Total() int64 {
	return s.enc.Total()
}

// Drainer hands over every sample captured since the previous call.
type Drainer interface {
	DrainAll() []float32
}

// SendLoop drains capture every interval and sends what it got. It returns
// when ctx is cancelled or the first send fails; a failed send only ends this
// loop and is not reported further.
func SendLoop(ctx context.Context, capture Drainer, s *Sender, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSendInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pcm := capture.DrainAll()
		if len(pcm) == 0 {
			continue
		}
		if err := s.SendPCM(pcm); err != nil {
			slog.Debug("Send loop stopped", "error", err)
			return
		}
	}
}
