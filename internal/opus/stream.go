package opus

import (
	"context"
	"io"
)

// Sink receives decoded PCM, usually a playback queue.
type Sink interface {
	Push(pcm []float32)
}

// DecodeStream reads packets from r, decodes them with d and pushes every
// non-empty result to sink. It returns nil when the stream ends cleanly and
// stops at the first malformed page or undecodable packet.
func DecodeStream(ctx context.Context, r io.Reader, d *Decoder, sink Sink) error {
	for packet, err := range NewPacketReader(r).All() {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		pcm, err := d.Decode(packet)
		if err != nil {
			return err
		}
		if len(pcm) > 0 {
			sink.Push(pcm)
		}
	}
	return nil
}
