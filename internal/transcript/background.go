package transcript

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glizzus/moshi-cli/internal/metrics"
)

// ErrBackgroundFull is returned when a chunk is dropped because the
// background sink is too far behind.
var ErrBackgroundFull = errors.New("transcript backlog is full")

// ErrBackgroundClosed is returned by writes after Close.
var ErrBackgroundClosed = errors.New("transcript sink closed")

// Background forwards chunks to another sink from its own goroutine, in
// order. WriteText never blocks: when pending chunks are already queued the
// new one is dropped. Each forwarded write gets its own timeout.
type Background struct {
	sink    Sink
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan string
	done   chan struct{}
}

func NewBackground(sink Sink, pending int, timeout time.Duration) *Background {
	b := &Background{
		sink:    sink,
		timeout: timeout,
		queue:   make(chan string, pending),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Background) run() {
	defer close(b.done)
	for text := range b.queue {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := b.sink.WriteText(ctx, text); err != nil {
			slog.Warn("Failed to forward transcript chunk", "error", err)
		}
		cancel()
	}
}

func (b *Background) WriteText(_ context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackgroundClosed
	}
	select {
	case b.queue <- text:
		return nil
	default:
		metrics.TranscriptChunksDroppedTotal.Inc()
		return ErrBackgroundFull
	}
}

// Close stops accepting chunks and waits for the queued ones to be forwarded.
func (b *Background) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
}

var _ Sink = (*Background)(nil)
