// Package relay is the HTTP surface of the service: podcast feeds, episode
// redirects, direct-serve streaming and upload-then-redirect, plus the
// health, metrics and active relay endpoints.
package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zsiec/sounds-relay/internal/episode"
	"github.com/zsiec/sounds-relay/internal/feed"
	"github.com/zsiec/sounds-relay/internal/metrics"
	"github.com/zsiec/sounds-relay/internal/sounds"
	"github.com/zsiec/sounds-relay/internal/stream"
	"github.com/zsiec/sounds-relay/internal/upload"
)

const (
	audioContentType  = "audio/aac"
	audioCacheControl = "public, max-age=604800"
	feedCacheControl  = "public, max-age=900"

	defaultUploadTimeout = 30 * time.Minute
	shutdownTimeout      = 5 * time.Second
)

// Catalog is the upstream metadata the server needs. sounds.Client
// implements it.
type Catalog interface {
	Programme(ctx context.Context, pid string) (*sounds.Programme, error)
	PublicDownloadURL(ctx context.Context, pid string) (string, bool, error)
}

// Store is an object store that can also name the public URL of an
// object. objstore.S3 implements it.
type Store interface {
	upload.ObjectStore
	Bucket() string
	ObjectURL(key string) string
}

// ServerConfig holds the dependencies and settings of a Server.
type ServerConfig struct {
	Addr    string
	BaseURL string

	// HTTP3Addr enables an HTTP/3 listener when set. TLS is required then.
	HTTP3Addr string
	TLS       *tls.Config

	Catalog  Catalog
	Episodes *episode.Pipeline
	// Store selects upload-then-redirect mode when set; otherwise episodes
	// are streamed directly.
	Store         Store
	PartSize      int
	UploadTimeout time.Duration

	Relays  *stream.Manager
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// Server serves the relay's HTTP API.
type Server struct {
	config   ServerConfig
	log      *slog.Logger
	feeds    *feed.Builder
	uploader *upload.Uploader
	uploads  singleflight.Group
	altSvc   string
}

// NewServer validates config and returns a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Catalog == nil {
		return nil, errors.New("relay: Catalog is required")
	}
	if config.Episodes == nil {
		return nil, errors.New("relay: Episodes is required")
	}
	if config.HTTP3Addr != "" && config.TLS == nil {
		return nil, errors.New("relay: TLS is required for HTTP/3")
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}
	if config.Relays == nil {
		config.Relays = stream.NewManager(config.Log)
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New(nil)
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = defaultUploadTimeout
	}

	s := &Server{
		config: config,
		log:    config.Log.With("component", "relay"),
		feeds:  &feed.Builder{BaseURL: config.BaseURL, Log: config.Log},
	}
	if config.Store != nil {
		s.uploader = upload.NewUploader(config.Store,
			upload.WithPartSize(config.PartSize),
			upload.WithLogger(config.Log))
	}
	if config.HTTP3Addr != "" {
		_, port, err := net.SplitHostPort(config.HTTP3Addr)
		if err != nil {
			return nil, fmt.Errorf("relay: HTTP/3 address: %w", err)
		}
		s.altSvc = fmt.Sprintf(`h3=":%s"; ma=86400`, port)
	}
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /show/{pid}", s.handleShow)
	mux.HandleFunc("GET /episode/{id}", s.handleEpisode)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/relays", s.handleListRelays)
	mux.Handle("GET /metrics", s.config.Metrics.Handler())
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.altSvcMiddleware(s.instrument(mux))
}

// Start serves HTTP/1.1 on Addr and, if configured, HTTP/3 on HTTP3Addr.
// It blocks until ctx is cancelled or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()
	g, ctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", s.config.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay: HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if s.config.HTTP3Addr != "" {
		h3 := &http3.Server{
			Addr:      s.config.HTTP3Addr,
			Handler:   handler,
			TLSConfig: http3.ConfigureTLSConfig(s.config.TLS),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
		g.Go(func() error {
			s.log.Info("HTTP/3 server listening", "addr", s.config.HTTP3Addr)
			stop := context.AfterFunc(ctx, func() { h3.Close() })
			defer stop()

			err := h3.ListenAndServe()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: HTTP/3 server: %w", err)
		})
	}

	return g.Wait()
}

type ctxKey int

const requestIDKey ctxKey = iota

// requestID returns the ID assigned to r by instrument.
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// instrument assigns a request ID and records request counts and durations
// by route pattern. Aborted streams are recorded before the panic unwinds.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		defer func() {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			code := rec.code
			if code == 0 {
				code = http.StatusOK
			}
			s.config.Metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
			s.config.Metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(rec, r)
	})
}

func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	if s.altSvc == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			w.Header().Set("Alt-Svc", s.altSvc)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}
