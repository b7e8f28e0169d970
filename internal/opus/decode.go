package opus

import (
	"errors"
	"fmt"
	"io"
	"iter"

	libopus "github.com/hraban/opus"
	"github.com/jonas747/ogg"
)

// maxDecodeSamples sizes the scratch buffer for the longest packet we accept.
const maxDecodeSamples = SampleRate * 120

// PacketReader reads Opus packets out of an Ogg byte stream.
// It is forward-only and cannot be restarted.
type PacketReader struct {
	d *ogg.PacketDecoder
}

// NewPacketReader returns a PacketReader that parses pages from r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{d: ogg.NewPacketDecoder(ogg.NewDecoder(r))}
}

// Next returns the next packet. It returns io.EOF when the stream ends on a
// page boundary and io.ErrUnexpectedEOF when it ends inside a page.
func (p *PacketReader) Next() ([]byte, error) {
	packet, _, err := p.d.Decode()
	if err != nil {
		return nil, err
	}
	return packet, nil
}

// All yields packets until the stream ends. A clean end of stream stops the
// sequence without an error; any other failure is yielded once as the last element.
func (p *PacketReader) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			packet, err := p.Next()
			if err != nil {
				if !IsEndOfStream(err) {
					yield(nil, err)
				}
				return
			}
			if !yield(packet, nil) {
				return
			}
		}
	}
}

// IsEndOfStream reports whether err marks the end of the container stream.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Decoder converts Opus packets back into PCM and keeps every decoded chunk
// so the whole reply can be persisted when the stream ends.
// It is not safe for concurrent use.
type Decoder struct {
	codec   *libopus.Decoder
	scratch []float32

	chunks [][]float32
	total  int
}

// NewDecoder creates a decoder matching the encoder's rate and channel count.
func NewDecoder() (*Decoder, error) {
	codec, err := libopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &Decoder{
		codec:   codec,
		scratch: make([]float32, maxDecodeSamples),
	}, nil
}

// Decode decodes one packet without forward error correction. Header packets
// and packets that decode to nothing return a nil slice. The returned slice
// is owned by the caller.
func (d *Decoder) Decode(packet []byte) ([]float32, error) {
	if IsHeader(packet) {
		return nil, nil
	}

	n, err := d.codec.DecodeFloat32(packet, d.scratch)
	if err != nil {
		return nil, fmt.Errorf("failed to decode packet of %d bytes: %w", len(packet), err)
	}
	if n == 0 {
		return nil, nil
	}

	pcm := make([]float32, n*Channels)
	copy(pcm, d.scratch[:n*Channels])
	d.chunks = append(d.chunks, pcm)
	d.total += len(pcm)
	return pcm, nil
}

// Total returns the number of samples decoded so far.
func (d *Decoder) Total() int {
	return d.total
}

// Samples returns every decoded chunk concatenated in order.
func (d *Decoder) Samples() []float32 {
	out := make([]float32, 0, d.total)
	for _, c := range d.chunks {
		out = append(out, c...)
	}
	return out
}
