package session

import (
	"context"
	"io"
	"log/slog"

	"github.com/glizzus/moshi-cli/internal/metrics"
	"github.com/glizzus/moshi-cli/internal/protocol"
	"github.com/glizzus/moshi-cli/internal/transcript"
	"github.com/glizzus/moshi-cli/internal/transport"
)

// FrameSource is the read half of a connection.
type FrameSource interface {
	Next() (transport.Frame, error)
}

// unknownKindLabel groups every unrecognized tag under one metric series.
const unknownKindLabel = "unknown"

// Dispatcher routes inbound protocol messages by kind. Audio payloads go to
// Audio, text goes to Text, everything else is logged and dropped.
type Dispatcher struct {
	Audio io.Writer
	Text  transcript.Sink

	audioStopped bool
}

// Run reads frames until the peer sends a close frame, which returns nil, or
// the connection fails, which returns the read error.
func (d *Dispatcher) Run(ctx context.Context, src FrameSource) error {
	for {
		frame, err := src.Next()
		if err != nil {
			return err
		}

		switch frame.Type {
		case transport.FrameClose:
			slog.Info("Connection closed by server", "reason", string(frame.Data))
			return nil
		case transport.FrameText:
			slog.Warn("Unexpected text frame", "length", len(frame.Data))
		case transport.FrameBinary:
			d.Handle(ctx, frame.Data)
		default:
			slog.Warn("Unexpected frame", "type", frame.Type.String())
		}
	}
}

// Handle dispatches a single binary message. Errors are logged; none of them
// stop the caller.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) {
	msg, ok := protocol.Decode(data)
	if !ok {
		return
	}
	if !msg.Kind.Known() {
		metrics.MessagesReceivedTotal.WithLabelValues(unknownKindLabel).Inc()
		slog.Warn("Unexpected message type", "kind", byte(msg.Kind), "length", len(msg.Payload))
		return
	}
	metrics.MessagesReceivedTotal.WithLabelValues(msg.Kind.String()).Inc()

	switch msg.Kind {
	case protocol.KindHandshake:
		slog.Debug("Received handshake")
	case protocol.KindAudio:
		d.handleAudio(msg.Payload)
	case protocol.KindText:
		if d.Text == nil {
			return
		}
		if err := d.Text.WriteText(ctx, protocol.TextPayload(msg.Payload)); err != nil {
			slog.Warn("Failed to write transcript", "error", err)
		}
	case protocol.KindControl, protocol.KindMetadata:
		slog.Info("Unsupported message", "kind", msg.Kind.String(), "length", len(msg.Payload))
	}
}

func (d *Dispatcher) handleAudio(payload []byte) {
	if d.audioStopped || d.Audio == nil {
		metrics.DroppedAudioBytesTotal.Add(float64(len(payload)))
		return
	}
	if _, err := d.Audio.Write(payload); err != nil {
		slog.Warn("Inbound audio is no longer consumed, dropping it", "error", err)
		d.audioStopped = true
		metrics.DroppedAudioBytesTotal.Add(float64(len(payload)))
	}
}
