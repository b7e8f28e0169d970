// Package device connects the default microphone and speaker to the capture
// and playback queues.
package device

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/glizzus/moshi-cli/internal/metrics"
	"github.com/glizzus/moshi-cli/internal/opus"
	"github.com/gordonklaus/portaudio"
)

// framesPerBuffer is 20 ms at the codec rate.
const framesPerBuffer = opus.SampleRate / 50

// Capture receives microphone samples. Push must copy and must not block.
type Capture interface {
	Push(pcm []float32)
}

// Playback supplies speaker samples. Read must not block.
type Playback interface {
	Read(dst []float32) int
	Len() int
}

// Audio owns the default input and output streams.
type Audio struct {
	in  *portaudio.Stream
	out *portaudio.Stream
}

// Open initializes PortAudio and opens mono streams at the codec rate on the
// default devices. Nothing is captured or played until Start.
func Open(capture Capture, playback Playback) (_ *Audio, err error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	a := &Audio{}
	defer func() {
		if err != nil {
			err = errors.Join(err, a.Close())
		}
	}()

	a.in, err = portaudio.OpenDefaultStream(opus.Channels, 0, opus.SampleRate, framesPerBuffer, func(in []float32) {
		capture.Push(in)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	a.out, err = portaudio.OpenDefaultStream(0, opus.Channels, opus.SampleRate, framesPerBuffer, func(out []float32) {
		fill(out, playback)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	return a, nil
}

// Start begins capture and playback.
func (a *Audio) Start() error {
	if err := a.in.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	if err := a.out.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	slog.Info("Audio devices started", "sampleRate", opus.SampleRate, "framesPerBuffer", framesPerBuffer)
	return nil
}

// Close stops and closes both streams and releases PortAudio.
func (a *Audio) Close() error {
	var errs []error
	for _, s := range []*portaudio.Stream{a.in, a.out} {
		if s == nil {
			continue
		}
		// Stop fails on a stream that was never started; Close still has to run.
		_ = s.Stop()
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// fill copies queued samples into out and pads the rest with silence.
func fill(out []float32, playback Playback) {
	n := playback.Read(out)
	clear(out[n:])
	metrics.PlaybackBufferedSamples.Set(float64(playback.Len()))
}
