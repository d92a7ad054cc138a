// Package sounds is a client for the BBC Sounds metadata and media selector
// services.
package sounds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Defaults for the upstream services.
const (
	DefaultAPIBaseURL       = "https://rms.api.bbc.co.uk"
	DefaultMediaSelectorURL = "https://open.live.bbc.co.uk/mediaselector/6"
	DefaultUserAgent        = "BBCSounds/2.6.0.14059 (iPhone13,3; iOS 15.3.1) MediaSelectorClient/7.0.4 BBCHTTPClient/9.0.0"
)

// maxBody bounds metadata responses.
const maxBody = 16 << 20

var (
	// ErrNotFound is returned when upstream has no such programme, episode
	// or audio rendition.
	ErrNotFound = errors.New("sounds: not found")
	// ErrFormat is returned when an upstream response cannot be understood.
	ErrFormat = errors.New("sounds: response not understood")
)

// StatusError reports an unexpected upstream status code.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sounds: server response code %d from %s", e.Code, e.URL)
}

// UnsupportedMediaError is returned when the best audio rendition of an
// episode is not an HLS playlist.
type UnsupportedMediaError struct {
	PID string
	URL string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("sounds: unsupported media for %s: %s", e.PID, e.URL)
}

var pidPattern = regexp.MustCompile(`^[a-z0-9]{8,15}$`)

// ValidPID reports whether s looks like a programme or episode identifier.
func ValidPID(s string) bool {
	return pidPattern.MatchString(s)
}

// Client queries the upstream services.
type Client struct {
	http          *http.Client
	apiBase       string
	mediaSelector string
	userAgent     string
	log           *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAPIBaseURL overrides the programme metadata service.
func WithAPIBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.apiBase = strings.TrimRight(u, "/")
		}
	}
}

// WithMediaSelectorURL overrides the media selector service.
func WithMediaSelectorURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.mediaSelector = strings.TrimRight(u, "/")
		}
	}
}

// WithUserAgent overrides the User-Agent sent upstream.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log.With("component", "sounds")
		}
	}
}

// NewClient returns a Client for the production services.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:          http.DefaultClient,
		apiBase:       DefaultAPIBaseURL,
		mediaSelector: DefaultMediaSelectorURL,
		userAgent:     DefaultUserAgent,
		log:           slog.With("component", "sounds"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserAgent returns the User-Agent sent upstream. Segment fetches reuse it.
func (c *Client) UserAgent() string { return c.userAgent }

// Programme fetches the show metadata and episode list of a series.
func (c *Client) Programme(ctx context.Context, pid string) (*Programme, error) {
	urn := "urn:bbc:radio:series:" + pid
	u := c.apiBase + "/v2/experience/inline/container/" + url.QueryEscape(urn)

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	p, err := decodeProgramme(body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("programme fetched", "pid", pid, "title", p.Show.Titles.Primary, "episodes", len(p.Episodes))
	return p, nil
}

// Media fetches the renditions offered for an episode.
func (c *Client) Media(ctx context.Context, pid string) (*MediaList, error) {
	u := c.mediaSelector + "/select/version/2.0/format/json/mediaset/mobile-phone-main/vpid/" +
		url.PathEscape(pid) + "/transferformat/hls/"

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	var ml MediaList
	if err := jsonUnmarshal(body, &ml); err != nil {
		return nil, err
	}
	return &ml, nil
}

// PlaylistURL returns the HLS playlist of the best audio rendition of an
// episode.
func (c *Client) PlaylistURL(ctx context.Context, pid string) (string, error) {
	ml, err := c.Media(ctx, pid)
	if err != nil {
		return "", err
	}
	href, err := bestAudio(ml.Media)
	if err != nil {
		return "", err
	}
	if !strings.Contains(href, ".m3u8") {
		return "", &UnsupportedMediaError{PID: pid, URL: href}
	}
	c.log.Debug("playlist selected", "pid", pid, "url", href)
	return href, nil
}

// bestAudio picks the highest bitrate audio rendition and, within it, the
// last connection not using plain http.
func bestAudio(media []Media) (string, error) {
	var (
		best    *Media
		bestBPS int
	)
	for i := range media {
		m := &media[i]
		if m.Kind != "audio" {
			continue
		}
		bps, err := strconv.Atoi(m.Bitrate)
		if err != nil {
			bps = 0
		}
		if best == nil || bps >= bestBPS {
			best, bestBPS = m, bps
		}
	}
	if best == nil {
		return "", fmt.Errorf("%w: no audio rendition", ErrNotFound)
	}

	var conn *Connection
	for i := range best.Connection {
		c := &best.Connection[i]
		if conn == nil || c.Protocol != "http" || conn.Protocol == "http" {
			conn = c
		}
	}
	if conn == nil {
		return "", fmt.Errorf("%w: audio rendition without connections", ErrFormat)
	}
	return conn.Href, nil
}

// PublicDownloadURL probes for a public mp3 of the episode. It reports
// false when upstream does not answer the probe with 200.
func (c *Client) PublicDownloadURL(ctx context.Context, pid string) (string, bool, error) {
	u := c.mediaSelector + "/redir/version/2.0/mediaset/audio-nondrm-download/proto/https/vpid/" +
		url.PathEscape(pid) + ".mp3"

	req, err := c.newRequest(ctx, http.MethodHead, u)
	if err != nil {
		return "", false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("sounds: HEAD %s: %w", u, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Debug("no public download", "pid", pid, "status", resp.StatusCode)
		return "", false, nil
	}
	return u, true, nil
}

func (c *Client) newRequest(ctx context.Context, method, u string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("sounds: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, u)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sounds: GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		return nil, &StatusError{URL: u, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("sounds: read %s: %w", u, err)
	}
	return body, nil
}
