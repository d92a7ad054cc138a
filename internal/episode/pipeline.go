// Package episode wires the relay of one episode: playlist resolution,
// segment fetching and demultiplexing on a bridged producer thread, and
// ADTS metering of the chunks handed to the consumer.
package episode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/sounds-relay/internal/adts"
	"github.com/zsiec/sounds-relay/internal/bridge"
	"github.com/zsiec/sounds-relay/internal/mpegts"
)

// Resolver finds the HLS playlist of an episode.
type Resolver interface {
	PlaylistURL(ctx context.Context, pid string) (string, error)
}

// Source turns a playlist into a producer of the AAC elementary stream.
// hls.Fetcher implements it.
type Source interface {
	Producer(playlistURL string, opts ...mpegts.SessionOption) func(ctx context.Context, w io.Writer) error
}

// Pipeline opens episode streams.
type Pipeline struct {
	resolver  Resolver
	source    Source
	chunkSize int
	log       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunkSize sets the maximum chunk size of opened streams.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) { p.chunkSize = n }
}

// WithLogger sets the pipeline's logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New returns a Pipeline resolving playlists with r and fetching them with src.
func New(r Resolver, src Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver: r,
		source:   src,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open resolves the episode's playlist and starts relaying it. Resolution
// errors are returned directly; everything after is reported through the
// returned Stream. The producer stops when ctx is cancelled or the stream
// is closed.
func (p *Pipeline) Open(ctx context.Context, pid string) (*Stream, error) {
	log := p.log.With("component", "episode", "episode", pid)

	playlist, err := p.resolver.PlaylistURL(ctx, pid)
	if err != nil {
		return nil, err
	}
	log.Info("relaying episode", "playlist", playlist)

	produce := p.source.Producer(playlist, mpegts.SessionOptLogger(log))
	bs, err := bridge.Start(ctx, produce, bridge.WithChunkSize(p.chunkSize), bridge.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("episode %s: %w", pid, err)
	}
	return &Stream{pid: pid, s: bs, log: log}, nil
}

// Stream is an episode's AAC elementary stream. It implements
// upload.ChunkSource.
type Stream struct {
	pid   string
	s     *bridge.Stream
	meter adts.Meter
	ended bool
	log   *slog.Logger
}

// PID returns the episode identifier.
func (s *Stream) PID() string { return s.pid }

// Next returns the next chunk, io.EOF at the end, or the producer's error.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	chunk, err := s.s.Next(ctx)
	if len(chunk) > 0 {
		s.meter.Write(chunk)
	}
	if err != nil && !s.ended && !isContextErr(err) {
		s.ended = true
		sum := s.meter.Summary()
		if errors.Is(err, io.EOF) {
			s.log.Info("episode relayed", "frames", sum.Frames, "bytes", sum.Bytes,
				"duration", sum.Duration, "sample_rate", sum.SampleRate, "channels", sum.Channels)
		} else {
			s.log.Warn("episode relay failed", "error", err, "bytes", sum.Bytes)
		}
	}
	return chunk, err
}

// Summary describes the ADTS frames delivered so far.
func (s *Stream) Summary() adts.Summary { return s.meter.Summary() }

// Close stops the relay without waiting for the producer.
func (s *Stream) Close() error {
	return s.s.Close()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
