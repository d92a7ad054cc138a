// Package bridge runs a blocking byte producer on a dedicated OS thread and
// exposes its output as a cancellable sequence of chunks. The two sides are
// joined by an OS pipe, so a slow consumer blocks the producer's writes and
// a waiting consumer parks in the runtime poller without holding a thread.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const defaultChunkSize = 32 * 1024

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("bridge: stream closed")

// Producer writes a byte stream to w and returns when it is done. Writes
// fail once the consumer has closed the stream.
type Producer func(ctx context.Context, w io.Writer) error

// PanicError carries a panic recovered from a producer.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bridge: producer panicked: %v", e.Value)
}

// Stream is the consuming end of a running producer. Next must not be called
// concurrently; Close may be called from any goroutine.
type Stream struct {
	r         *os.File
	done      chan error
	cancel    context.CancelFunc
	chunkSize int
	finished  bool
	log       *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Stream.
type Option func(*Stream)

// WithChunkSize sets the maximum size of a chunk returned by Next.
func WithChunkSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithLogger sets the logger used for producer lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(s *Stream) {
		if log != nil {
			s.log = log.With("component", "bridge")
		}
	}
}

// Start launches produce on its own OS thread and returns the stream of its
// output. The producer's context is cancelled when ctx is or when the stream
// is closed.
func Start(ctx context.Context, produce Producer, opts ...Option) (*Stream, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: create pipe: %w", err)
	}

	pctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		r:         r,
		done:      make(chan error, 1),
		cancel:    cancel,
		chunkSize: defaultChunkSize,
		log:       slog.With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run(pctx, produce, w)
	return s, nil
}

func (s *Stream) run(ctx context.Context, produce Producer, w *os.File) {
	// Never unlocked: the thread is torn down when the goroutine exits.
	runtime.LockOSThread()

	var err error
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
			s.log.Error("producer panicked", "panic", v)
		}
		w.Close()
		s.log.Debug("producer exited", "error", err)
		s.done <- err
	}()
	err = produce(ctx, w)
}

// Next returns the next chunk of producer output. After the last chunk it
// returns the producer's error, if any, exactly once and io.EOF after that.
// Each returned slice is freshly allocated.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	if s.finished {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		s.r.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}

		switch {
		case errors.Is(err, io.EOF):
			s.finished = true
			werr := <-s.done
			s.cancel()
			s.closeRead()
			if werr != nil {
				return nil, werr
			}
			return nil, io.EOF

		case errors.Is(err, os.ErrDeadlineExceeded):
			s.r.SetReadDeadline(time.Time{})
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			// Left over from an earlier call's cancelled context.
			continue

		case errors.Is(err, os.ErrClosed):
			return nil, ErrClosed

		default:
			return nil, fmt.Errorf("bridge: read: %w", err)
		}
	}
}

// Close releases the consuming end. It does not wait for the producer, whose
// next write fails with EPIPE.
func (s *Stream) Close() error {
	s.cancel()
	return s.closeRead()
}

func (s *Stream) closeRead() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.r.Close()
	})
	return s.closeErr
}
