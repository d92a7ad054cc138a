package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zsiec/sounds-relay/internal/episode"
	"github.com/zsiec/sounds-relay/internal/feed"
	"github.com/zsiec/sounds-relay/internal/sounds"
	"github.com/zsiec/sounds-relay/internal/stream"
	"github.com/zsiec/sounds-relay/internal/upload"
)

func (s *Server) requestLog(r *http.Request, pid string) *slog.Logger {
	return s.log.With("request_id", requestID(r), "pid", pid)
}

// fail writes the response for err. Client-side cancellation is not
// counted as a relay error.
func (s *Server) fail(w http.ResponseWriter, log *slog.Logger, err error) {
	f := classify(err)
	if f.kind != "canceled" {
		s.config.Metrics.RelayErrors.WithLabelValues(f.kind).Inc()
	}
	if f.code >= 500 {
		log.Warn("request failed", "status", f.code, "error", err)
	} else {
		log.Debug("request failed", "status", f.code, "error", err)
	}
	http.Error(w, f.msg, f.code)
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	pid := r.PathValue("pid")
	log := s.requestLog(r, pid)
	if !sounds.ValidPID(pid) {
		http.NotFound(w, r)
		return
	}

	p, err := s.config.Catalog.Programme(r.Context(), pid)
	if err != nil {
		s.fail(w, log, err)
		return
	}
	body, err := feed.Marshal(s.feeds.Build(pid, p))
	if err != nil {
		s.fail(w, log, err)
		return
	}

	w.Header().Set("Content-Type", feed.ContentType)
	w.Header().Set("Cache-Control", feedCacheControl)
	w.Write(body)
}

// handleEpisode serves /episode/{pid} and /episode/{pid}.aac. Both redirect
// permanently to a public download when upstream has one.
func (s *Server) handleEpisode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pid, aac := strings.CutSuffix(id, ".aac")
	log := s.requestLog(r, pid)
	if !sounds.ValidPID(pid) {
		http.NotFound(w, r)
		return
	}

	public, ok, err := s.config.Catalog.PublicDownloadURL(r.Context(), pid)
	if err != nil {
		s.config.Metrics.UpstreamErrors.WithLabelValues("public_download").Inc()
		s.fail(w, log, err)
		return
	}
	if ok {
		log.Debug("redirecting to public download", "url", public)
		http.Redirect(w, r, public, http.StatusPermanentRedirect)
		return
	}

	if !aac {
		http.Redirect(w, r, s.config.BaseURL+"/episode/"+pid+".aac", http.StatusTemporaryRedirect)
		return
	}
	if s.config.Store != nil {
		s.uploadAndRedirect(w, r, log, pid)
		return
	}
	s.serveDirect(w, r, log, pid)
}

// serveDirect streams the elementary stream into the response. Errors before
// the first byte become an error status; after it the connection is aborted
// so the client sees a truncated body rather than a complete one.
func (s *Server) serveDirect(w http.ResponseWriter, r *http.Request, log *slog.Logger, pid string) {
	ctx := r.Context()
	relay, release := s.track(requestID(r), pid, stream.ModeDirect)
	defer release()

	es, err := s.config.Episodes.Open(ctx, pid)
	if err != nil {
		s.fail(w, log, err)
		return
	}
	defer es.Close()

	chunk, err := s.next(ctx, es, relay)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = upload.ErrEmptySource
		}
		s.fail(w, log, err)
		return
	}

	w.Header().Set("Content-Type", audioContentType)
	w.Header().Set("Cache-Control", audioCacheControl)
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	for {
		if _, err := w.Write(chunk); err != nil {
			log.Debug("client went away", "error", err, "bytes", relay.Bytes())
			return
		}
		rc.Flush()

		chunk, err = s.next(ctx, es, relay)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			f := classify(err)
			if f.kind == "canceled" {
				return
			}
			s.config.Metrics.RelayErrors.WithLabelValues(f.kind).Inc()
			log.Warn("relay failed mid-stream", "error", err, "bytes", relay.Bytes())
			panic(http.ErrAbortHandler)
		}
	}
}

// uploadAndRedirect stores the episode, unless it is already stored, and
// redirects to the object. Concurrent requests for the same episode share
// one upload, which outlives any single client.
func (s *Server) uploadAndRedirect(w http.ResponseWriter, r *http.Request, log *slog.Logger, pid string) {
	key := pid + ".aac"
	id := requestID(r)

	v, err, shared := s.uploads.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.config.UploadTimeout)
		defer cancel()

		relay, release := s.track(id, pid, stream.ModeUpload)
		defer release()

		src := &lazySource{open: func(ctx context.Context) (*episode.Stream, error) {
			return s.config.Episodes.Open(ctx, pid)
		}, relay: relay, srv: s}
		defer src.Close()

		dst := upload.Destination{Bucket: s.config.Store.Bucket(), Key: key, ContentType: audioContentType}
		res, err := s.uploader.Upload(ctx, src, dst)
		s.recordUpload(res, err)
		return res, err
	})
	if err != nil {
		s.fail(w, log, err)
		return
	}

	res := v.(upload.Result)
	log.Debug("episode stored", "key", key, "skipped", res.Skipped, "shared", shared, "bytes", res.Bytes)
	http.Redirect(w, r, s.config.Store.ObjectURL(key), http.StatusTemporaryRedirect)
}

func (s *Server) recordUpload(res upload.Result, err error) {
	m := s.config.Metrics
	switch {
	case err != nil:
		m.Uploads.WithLabelValues("error").Inc()
	case res.Skipped:
		m.Uploads.WithLabelValues("exists").Inc()
	default:
		m.Uploads.WithLabelValues("stored").Inc()
	}
	m.UploadedParts.Add(float64(res.Parts))
	m.UploadedBytes.Add(float64(res.Bytes))
}

// track registers a relay and keeps the active gauge in step.
func (s *Server) track(id, pid string, mode stream.Mode) (*stream.Relay, func()) {
	relay, ok := s.config.Relays.Create(id, pid, mode)
	if !ok {
		// Duplicate request IDs from clients are tolerated untracked.
		relay = &stream.Relay{ID: id, Episode: pid, Mode: mode}
		return relay, func() {}
	}
	s.config.Metrics.RelaysStarted.Inc()
	s.config.Metrics.ActiveRelays.Inc()
	return relay, func() {
		s.config.Relays.Remove(id)
		s.config.Metrics.ActiveRelays.Dec()
	}
}

func (s *Server) next(ctx context.Context, es upload.ChunkSource, relay *stream.Relay) ([]byte, error) {
	chunk, err := es.Next(ctx)
	if n := len(chunk); n > 0 {
		relay.AddBytes(n)
		s.config.Metrics.ElementaryBytes.Add(float64(n))
	}
	return chunk, err
}

// lazySource opens the episode on the first Next, so an upload skipped by
// the existence check never touches upstream media.
type lazySource struct {
	open  func(ctx context.Context) (*episode.Stream, error)
	es    *episode.Stream
	relay *stream.Relay
	srv   *Server
}

func (l *lazySource) Next(ctx context.Context) ([]byte, error) {
	if l.es == nil {
		es, err := l.open(ctx)
		if err != nil {
			return nil, err
		}
		l.es = es
	}
	return l.srv.next(ctx, l.es, l.relay)
}

func (l *lazySource) Close() error {
	if l.es == nil {
		return nil
	}
	return l.es.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"relays": s.config.Relays.Len(),
	})
}

func (s *Server) handleListRelays(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Relays.List())
}
