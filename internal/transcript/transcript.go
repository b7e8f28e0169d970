// Package transcript collects the text the service streams back during a
// conversation and fans it out to the terminal and optional backends.
package transcript

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// Sink receives text chunks in arrival order.
type Sink interface {
	WriteText(ctx context.Context, text string) error
}

// WriterSink writes chunks to an io.Writer and flushes after every chunk so
// text shows up as soon as it arrives.
type WriterSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w)}
}

func (s *WriterSink) WriteText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.WriteString(text); err != nil {
		return err
	}
	return s.w.Flush()
}

var _ Sink = (*WriterSink)(nil)

// Recorder keeps the full transcript in memory.
type Recorder struct {
	mu sync.Mutex
	b  strings.Builder
}

func (r *Recorder) WriteText(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.b.WriteString(text)
	return nil
}

// String returns everything recorded so far.
func (r *Recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.b.String()
}

var _ Sink = (*Recorder)(nil)

// Multi writes every chunk to each sink in order. All sinks are attempted
// and their errors joined.
type Multi []Sink

func (m Multi) WriteText(ctx context.Context, text string) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteText(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Sink = Multi(nil)
