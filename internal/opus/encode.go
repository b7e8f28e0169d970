package opus

import (
	"bytes"
	"fmt"

	libopus "github.com/hraban/opus"
	"github.com/jonas747/ogg"
)

// maxPacketSize bounds a single encoded frame.
const maxPacketSize = 50_000

// FlushFunc receives the container bytes produced since the previous flush.
// The slice is only valid for the duration of the call.
type FlushFunc func(container []byte) error

// Encoder turns a stream of mono PCM samples into an Ogg Opus byte stream.
// It is not safe for concurrent use.
type Encoder struct {
	codec   *libopus.Encoder
	pages   *ogg.Encoder
	pending bytes.Buffer

	queue   []float32
	total   int64
	frames  int
	scratch []byte
}

// NewEncoder creates an encoder and writes the two header pages into its
// pending output, so the first flush starts a complete stream.
func NewEncoder() (*Encoder, error) {
	codec, err := libopus.NewEncoder(SampleRate, Channels, libopus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	e := &Encoder{
		codec:   codec,
		queue:   make([]float32, 0, 2*FrameSize),
		scratch: make([]byte, maxPacketSize),
	}
	e.pages = ogg.NewEncoder(streamSerial, &e.pending)

	if err := e.pages.EncodeBOS(0, IDHeader()); err != nil {
		return nil, fmt.Errorf("failed to write id header: %w", err)
	}
	if err := e.pages.Encode(0, CommentHeader()); err != nil {
		return nil, fmt.Errorf("failed to write comment header: %w", err)
	}
	return e, nil
}

// Push queues pcm and encodes every complete frame. Each encoded frame is
// written as its own page whose granule position is the total number of
// samples pushed so far. After every frame, pending bytes are passed to flush.
// Samples that do not fill a whole frame stay queued for the next Push.
func (e *Encoder) Push(pcm []float32, flush FlushFunc) error {
	e.queue = append(e.queue, pcm...)
	e.total += int64(len(pcm))

	for len(e.queue) >= FrameSize {
		n, err := e.codec.EncodeFloat32(e.queue[:FrameSize], e.scratch)
		e.queue = e.queue[FrameSize:]
		if err != nil {
			return fmt.Errorf("failed to encode frame: %w", err)
		}

		// A zero-length result means the codec suppressed the frame.
		if n > 0 {
			if err := e.pages.Encode(e.total, e.scratch[:n]); err != nil {
				return fmt.Errorf("failed to write page: %w", err)
			}
			e.frames++
		}

		if e.pending.Len() > 0 {
			if err := flush(e.pending.Bytes()); err != nil {
				return err
			}
			e.pending.Reset()
		}
	}
	return nil
}

// Buffered returns the number of samples waiting for a complete frame.
func (e *Encoder) Buffered() int {
	return len(e.queue)
}

// Total returns the number of samples pushed since the encoder was created.
func (e *Encoder) Total() int64 {
	return e.total
}

// Frames returns the number of frames written as pages.
func (e *Encoder) Frames() int {
	return e.frames
}
