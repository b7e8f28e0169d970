// Package relay provides a bounded in-memory byte pipe.
//
// It decouples the boundaries of transport messages from the boundaries of
// container pages: the receive loop writes whatever each message carries and
// the page parser reads as much as it needs.
package relay

import (
	"errors"
	"io"
	"sync"
)

// DefaultCapacity is the relay size used for inbound audio.
const DefaultCapacity = 100_000

// ErrClosed is returned by Write once the reader has gone away.
var ErrClosed = errors.New("relay: read side closed")

// Buffer is a fixed-capacity circular byte buffer with blocking semantics.
// Write blocks while the buffer is full and Read blocks while it is empty.
// It is safe for one writer and one reader running concurrently.
type Buffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf   []byte
	start int
	size  int

	writeClosed bool
	readErr     error
}

// New creates a relay holding at most capacity bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{buf: make([]byte, capacity)}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Write copies p into the buffer, blocking until all of it fits.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for len(p) > 0 {
		for b.size == len(b.buf) && b.readErr == nil && !b.writeClosed {
			b.notFull.Wait()
		}
		if b.readErr != nil {
			return written, b.readErr
		}
		if b.writeClosed {
			return written, io.ErrClosedPipe
		}

		end := (b.start + b.size) % len(b.buf)
		free := len(b.buf) - b.size
		chunk := len(b.buf) - end
		if chunk > free {
			chunk = free
		}
		n := copy(b.buf[end:end+chunk], p)
		b.size += n
		written += n
		p = p[n:]
		b.notEmpty.Signal()
	}
	return written, nil
}

// Read fills p with buffered bytes. It returns io.EOF once the writer has
// closed and everything has been read.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == 0 && !b.writeClosed && b.readErr == nil {
		b.notEmpty.Wait()
	}
	if b.readErr != nil {
		return 0, b.readErr
	}
	if b.size == 0 {
		return 0, io.EOF
	}

	chunk := len(b.buf) - b.start
	if chunk > b.size {
		chunk = b.size
	}
	n := copy(p, b.buf[b.start:b.start+chunk])
	b.start = (b.start + n) % len(b.buf)
	b.size -= n
	b.notFull.Signal()
	return n, nil
}

// Close marks the end of the stream. Buffered bytes remain readable.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeClosed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
	return nil
}

// CloseRead abandons the read side. Pending and future writes fail with err,
// or ErrClosed if err is nil.
func (b *Buffer) CloseRead(err error) {
	if err == nil {
		err = ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr == nil {
		b.readErr = err
	}
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

var (
	_ io.ReadWriteCloser = (*Buffer)(nil)
)
