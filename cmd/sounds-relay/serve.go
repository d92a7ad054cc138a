package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/sounds-relay/internal/certs"
	"github.com/zsiec/sounds-relay/internal/config"
	"github.com/zsiec/sounds-relay/internal/episode"
	"github.com/zsiec/sounds-relay/internal/hls"
	"github.com/zsiec/sounds-relay/internal/metrics"
	"github.com/zsiec/sounds-relay/internal/objstore"
	"github.com/zsiec/sounds-relay/internal/relay"
	"github.com/zsiec/sounds-relay/internal/sounds"
	"github.com/zsiec/sounds-relay/internal/stream"
)

const certValidity = 14 * 24 * time.Hour

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log, err := ctx.logger(cmd)
			if err != nil {
				return err
			}
			slog.SetDefault(log)
			return runServe(signalContext(cmd.Context(), log), cfg, log)
		},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, log *slog.Logger) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, shutting down", "signal", sig)
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
		cancel()
	}()
	return ctx
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	srv, err := buildServer(ctx, cfg, log)
	if err != nil {
		return err
	}

	mode := "direct"
	if cfg.Storage.Enabled() {
		mode = "upload"
	}
	log.Info("sounds-relay starting",
		"version", version,
		"addr", cfg.ListenAddr,
		"http3", cfg.HTTP3Addr,
		"base_url", cfg.BaseURL,
		"mode", mode,
	)

	if err := srv.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		return err
	}
	return nil
}

// buildServer wires the upstream clients, the episode pipeline, the object
// store and TLS material into a relay.Server.
func buildServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*relay.Server, error) {
	m := metrics.New(nil)

	catalog := sounds.NewClient(
		sounds.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout()}),
		sounds.WithAPIBaseURL(cfg.Upstream.APIBaseURL),
		sounds.WithMediaSelectorURL(cfg.Upstream.MediaSelectorURL),
		sounds.WithUserAgent(cfg.Upstream.UserAgent),
		sounds.WithLogger(log),
	)

	// Segment bodies stream for as long as the episode takes, so only the
	// wait for response headers is bounded.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Upstream.Timeout()
	fetcher := hls.NewFetcher(
		hls.WithHTTPClient(&http.Client{Transport: transport}),
		hls.WithUserAgent(cfg.Upstream.UserAgent),
		hls.WithSegmentHook(func(n int64) {
			m.SegmentsFetched.Inc()
			m.SegmentBytes.Add(float64(n))
		}),
		hls.WithLogger(log),
	)

	sc := relay.ServerConfig{
		Addr:      cfg.ListenAddr,
		BaseURL:   cfg.BaseURL,
		HTTP3Addr: cfg.HTTP3Addr,
		Catalog:   catalog,
		Episodes:  episode.New(catalog, fetcher, episode.WithLogger(log)),
		PartSize:  cfg.Storage.PartSize(),
		Relays:    stream.NewManager(log),
		Metrics:   m,
		Log:       log,
	}

	if cfg.Storage.Enabled() {
		store, err := objstore.New(ctx, objstore.Config{
			Bucket:        cfg.Storage.Bucket,
			Region:        cfg.Storage.Region,
			Endpoint:      cfg.Storage.Endpoint,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			PathStyle:     cfg.Storage.PathStyle,
			PublicRead:    cfg.Storage.PublicRead,
		}, log)
		if err != nil {
			return nil, err
		}
		sc.Store = store
	}

	if cfg.HTTP3Addr != "" {
		tlsConfig, err := loadTLS(cfg, log)
		if err != nil {
			return nil, err
		}
		sc.TLS = tlsConfig
	}

	return relay.NewServer(sc)
}

// loadTLS uses the configured certificate pair, or generates a self-signed
// certificate for the base URL's host.
func loadTLS(cfg *config.Config, log *slog.Logger) (*tls.Config, error) {
	if cfg.TLSCertFile != "" {
		b, err := certs.Load(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, err
		}
		log.Info("loaded TLS certificate", "fingerprint", b.FingerprintHex(), "expires", b.NotAfter.Format(time.RFC3339))
		return b.TLSConfig(), nil
	}

	var hosts []string
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Hostname() != "" {
		hosts = append(hosts, u.Hostname())
	}
	log.Info("generating self-signed certificate", "hosts", hosts)
	b, err := certs.Generate(hosts, certValidity)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}
	log.Info("certificate generated", "fingerprint", b.FingerprintHex(), "expires", b.NotAfter.Format(time.RFC3339))
	return b.TLSConfig(), nil
}
