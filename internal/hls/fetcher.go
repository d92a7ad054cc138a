// Package hls resolves HLS playlists and feeds their transport stream
// segments, in order, through the MPEG-TS demultiplexer.
package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/zsiec/sounds-relay/internal/mpegts"
)

var (
	// ErrEncrypted is returned for playlists whose segments are encrypted.
	ErrEncrypted = errors.New("hls: encrypted segments are not supported")
	// ErrFragmentedMP4 is returned for playlists of fMP4 segments.
	ErrFragmentedMP4 = errors.New("hls: fragmented MP4 segments are not supported")
	// ErrNoVariants is returned for a master playlist without usable variants.
	ErrNoVariants = errors.New("hls: master playlist has no variants")
	// ErrNoSegments is returned for a media playlist without segments.
	ErrNoSegments = errors.New("hls: media playlist has no segments")
)

// StatusError reports an unexpected HTTP status from the origin.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hls: GET %s: status %d", e.URL, e.StatusCode)
}

// Fetcher downloads playlists and segments.
type Fetcher struct {
	client    *http.Client
	userAgent string
	onSegment func(bytes int64)
	log       *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithSegmentHook registers a function called with the size of every
// segment once it has been fed to the demultiplexer.
func WithSegmentHook(fn func(bytes int64)) Option {
	return func(f *Fetcher) { f.onSegment = fn }
}

// WithLogger sets the fetcher's logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Fetcher) {
		if log != nil {
			f.log = log.With("component", "hls")
		}
	}
}

// NewFetcher returns a Fetcher using http.DefaultClient unless configured
// otherwise.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: http.DefaultClient,
		log:    slog.With("component", "hls"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Segments resolves playlistURL to the absolute URLs of its media segments.
// A master playlist is resolved through its highest-bandwidth variant.
func (f *Fetcher) Segments(ctx context.Context, playlistURL string) ([]string, error) {
	base, pl, kind, err := f.playlist(ctx, playlistURL)
	if err != nil {
		return nil, err
	}

	if kind == m3u8.MASTER {
		v := bestVariant(pl.(*m3u8.MasterPlaylist))
		if v == nil {
			return nil, ErrNoVariants
		}
		variantURL, err := resolve(base, v.URI)
		if err != nil {
			return nil, err
		}
		f.log.Debug("selected variant", "bandwidth", v.Bandwidth, "codecs", v.Codecs, "url", variantURL)

		base, pl, kind, err = f.playlist(ctx, variantURL)
		if err != nil {
			return nil, err
		}
		if kind != m3u8.MEDIA {
			return nil, fmt.Errorf("hls: variant %s is not a media playlist", variantURL)
		}
	}

	return mediaSegments(base, pl.(*m3u8.MediaPlaylist))
}

func (f *Fetcher) playlist(ctx context.Context, rawURL string) (*url.URL, m3u8.Playlist, m3u8.ListType, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()

	pl, kind, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("hls: decode playlist %s: %w", rawURL, err)
	}
	// Relative URIs resolve against the final URL after redirects.
	return resp.Request.URL, pl, kind, nil
}

func bestVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.Iframe || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func mediaSegments(base *url.URL, media *m3u8.MediaPlaylist) ([]string, error) {
	if media.Map != nil {
		return nil, ErrFragmentedMP4
	}
	if encrypted(media.Key) {
		return nil, ErrEncrypted
	}

	var urls []string
	for _, seg := range media.Segments {
		if seg == nil {
			break // the segment slice is padded to its capacity
		}
		if encrypted(seg.Key) {
			return nil, ErrEncrypted
		}
		if seg.Map != nil {
			return nil, ErrFragmentedMP4
		}
		u, err := resolve(base, seg.URI)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, ErrNoSegments
	}
	return urls, nil
}

func encrypted(k *m3u8.Key) bool {
	return k != nil && k.Method != "" && !strings.EqualFold(k.Method, "NONE")
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("hls: bad URI %q: %w", ref, err)
	}
	return base.ResolveReference(u).String(), nil
}

// Producer returns a function that writes the AAC elementary stream of
// playlistURL to w, fetching one segment at a time. It ends with the
// demultiplexer's verdict, so a stream without AAC fails even when every
// segment downloaded.
func (f *Fetcher) Producer(playlistURL string, opts ...mpegts.SessionOption) func(ctx context.Context, w io.Writer) error {
	return func(ctx context.Context, w io.Writer) error {
		segments, err := f.Segments(ctx, playlistURL)
		if err != nil {
			return err
		}
		f.log.Debug("fetching segments", "count", len(segments))

		tw := mpegts.NewWriter(w, opts...)
		for i, seg := range segments {
			if err := f.copySegment(ctx, seg, tw); err != nil {
				return fmt.Errorf("hls: segment %d of %d: %w", i+1, len(segments), err)
			}
		}
		return tw.Close()
	}
}

func (f *Fetcher) copySegment(ctx context.Context, segURL string, w io.Writer) error {
	resp, err := f.get(ctx, segURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return err
	}
	if f.onSegment != nil {
		f.onSegment(n)
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("hls: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hls: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}
