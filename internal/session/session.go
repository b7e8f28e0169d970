// Package session runs one conversation over an established connection:
// the outbound send loop, the inbound decode pipeline and the receive loop
// that feeds it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glizzus/moshi-cli/internal/audio"
	"github.com/glizzus/moshi-cli/internal/metrics"
	"github.com/glizzus/moshi-cli/internal/opus"
	"github.com/glizzus/moshi-cli/internal/relay"
	"github.com/glizzus/moshi-cli/internal/transcript"
)

// Conn is the write half of a connection plus the ability to close it.
type Conn interface {
	BinaryWriter
	Close() error
}

// Options configure a session. The zero value is usable.
type Options struct {
	// Output is where the received audio is written as WAV. Empty skips it.
	Output string
	// SendInterval defaults to DefaultSendInterval.
	SendInterval time.Duration
	// RelayCapacity defaults to relay.DefaultCapacity.
	RelayCapacity int
	// Transcript receives text in addition to the in-memory record.
	Transcript transcript.Sink
}

// Summary describes a finished session.
type Summary struct {
	ID              string
	StartedAt       time.Time
	EndedAt         time.Time
	SamplesSent     int64
	SamplesReceived int
	Transcript      string
	// Received holds the decoded reply audio.
	Received []float32
	// Output is the WAV path, empty when none was written.
	Output string
	// DecodeErr is set when the inbound pipeline stopped before the stream ended.
	DecodeErr error
}

// Session is a single conversation. It is created after a successful
// handshake and is used once.
type Session struct {
	ID string

	conn   Conn
	frames FrameSource
	opts   Options
}

func New(id string, conn Conn, frames FrameSource, opts Options) *Session {
	if opts.RelayCapacity <= 0 {
		opts.RelayCapacity = relay.DefaultCapacity
	}
	if opts.SendInterval <= 0 {
		opts.SendInterval = DefaultSendInterval
	}
	return &Session{ID: id, conn: conn, frames: frames, opts: opts}
}

// Run streams capture to the server and decoded replies to playback until
// the server closes the connection, the connection fails, or ctx is
// cancelled. Cancelling ctx sends a normal close frame. The decoded reply is
// always written to Options.Output before Run returns.
func (s *Session) Run(ctx context.Context, capture Drainer, playback opus.Sink) (*Summary, error) {
	sum := &Summary{ID: s.ID, StartedAt: time.Now()}
	log := slog.With("conversationID", s.ID)

	sender, err := NewSender(s.conn)
	if err != nil {
		return nil, err
	}
	dec, err := opus.NewDecoder()
	if err != nil {
		return nil, err
	}

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	stopClose := context.AfterFunc(ctx, func() {
		log.Info("Closing connection")
		if err := s.conn.Close(); err != nil {
			log.Debug("Failed to close connection cleanly", "error", err)
		}
	})
	defer stopClose()

	inbound := relay.New(s.opts.RelayCapacity)
	record := &transcript.Recorder{}
	text := transcript.Multi{record}
	if s.opts.Transcript != nil {
		text = append(text, s.opts.Transcript)
	}

	sendCtx, stopSend := context.WithCancel(ctx)
	defer stopSend()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		SendLoop(sendCtx, capture, sender, s.opts.SendInterval)
	}()
	go func() {
		defer wg.Done()
		// The pipeline drains whatever is buffered even after ctx is cancelled;
		// closing the relay is what ends it.
		err := opus.DecodeStream(context.WithoutCancel(ctx), inbound, dec, countingSink{playback})
		if err != nil {
			metrics.DecodeErrorsTotal.Inc()
			log.Error("Inbound audio pipeline stopped", "error", err)
			inbound.CloseRead(err)
			sum.DecodeErr = err
		}
	}()

	d := &Dispatcher{Audio: inbound, Text: text}
	recvErr := d.Run(ctx, s.frames)
	if recvErr != nil && ctx.Err() != nil {
		// Reads fail once the connection is closed on cancellation.
		recvErr = nil
	}

	_ = inbound.Close()
	stopSend()
	wg.Wait()

	sum.EndedAt = time.Now()
	sum.SamplesSent = sender.Total()
	sum.SamplesReceived = dec.Total()
	sum.Transcript = record.String()
	sum.Received = dec.Samples()

	var wavErr error
	if s.opts.Output != "" {
		if wavErr = audio.WriteWAVFile(s.opts.Output, sum.Received, opus.SampleRate); wavErr == nil {
			sum.Output = s.opts.Output
			log.Info("Wrote received audio", "path", s.opts.Output, "samples", sum.SamplesReceived)
		}
	}

	if recvErr != nil {
		recvErr = fmt.Errorf("failed to read from connection: %w", recvErr)
	}
	return sum, errors.Join(recvErr, wavErr)
}

type countingSink struct {
	opus.Sink
}

func (c countingSink) Push(pcm []float32) {
	metrics.SamplesReceivedTotal.Add(float64(len(pcm)))
	if c.Sink != nil {
		c.Sink.Push(pcm)
	}
}
