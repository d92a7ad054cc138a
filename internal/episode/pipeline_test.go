package episode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zsiec/sounds-relay/internal/hls"
	"github.com/zsiec/sounds-relay/internal/mpegts"
	"github.com/zsiec/sounds-relay/internal/mpegts/mpegtstest"
)

type staticResolver struct {
	url string
	err error
}

func (r staticResolver) PlaylistURL(context.Context, string) (string, error) {
	return r.url, r.err
}

type funcSource func(ctx context.Context, w io.Writer) error

func (f funcSource) Producer(string, ...mpegts.SessionOption) func(context.Context, io.Writer) error {
	return f
}

func drain(t *testing.T, s *Stream) ([]byte, error) {
	t.Helper()
	var out bytes.Buffer
	for {
		chunk, err := s.Next(context.Background())
		out.Write(chunk)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out.Bytes(), nil
			}
			return out.Bytes(), err
		}
	}
}

func TestOpenRelaysPlaylist(t *testing.T) {
	t.Parallel()

	frames := [][]byte{
		mpegtstest.ADTSFrame(bytes.Repeat([]byte{1}, 300)),
		mpegtstest.ADTSFrame(bytes.Repeat([]byte{2}, 250)),
		mpegtstest.ADTSFrame(bytes.Repeat([]byte{3}, 400)),
	}
	b := mpegtstest.NewBuilder()
	b.AudioTables()
	b.AudioFrame(frames[0])
	seg0 := b.Flush()
	b.AudioTables()
	b.AudioFrame(frames[1])
	b.AudioFrame(frames[2])
	seg1 := b.Flush()

	mux := http.NewServeMux()
	mux.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10,\n0.ts\n#EXTINF:10,\n1.ts\n#EXT-X-ENDLIST\n"))
	})
	mux.HandleFunc("/0.ts", func(w http.ResponseWriter, r *http.Request) { w.Write(seg0) })
	mux.HandleFunc("/1.ts", func(w http.ResponseWriter, r *http.Request) { w.Write(seg1) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := New(
		staticResolver{url: srv.URL + "/index.m3u8"},
		hls.NewFetcher(hls.WithHTTPClient(srv.Client())),
		WithChunkSize(64),
	)
	s, err := p.Open(context.Background(), "m0001aaa")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if want := bytes.Join(frames, nil); !bytes.Equal(got, want) {
		t.Fatalf("relayed %d bytes, want %d", len(got), len(want))
	}
	if sum := s.Summary(); sum.Frames != 3 || sum.SampleRate != 44100 || sum.Channels != 2 {
		t.Errorf("Summary = %+v", sum)
	}
	if s.PID() != "m0001aaa" {
		t.Errorf("PID = %q", s.PID())
	}
}

func TestOpenResolverError(t *testing.T) {
	t.Parallel()

	errGone := errors.New("gone")
	started := false
	p := New(staticResolver{err: errGone}, funcSource(func(context.Context, io.Writer) error {
		started = true
		return nil
	}))

	if _, err := p.Open(context.Background(), "m0001aaa"); !errors.Is(err, errGone) {
		t.Fatalf("err = %v, want resolver error", err)
	}
	if started {
		t.Error("producer started despite resolver error")
	}
}

func TestProducerErrorIsTerminal(t *testing.T) {
	t.Parallel()

	p := New(staticResolver{url: "unused"}, funcSource(func(_ context.Context, w io.Writer) error {
		w.Write([]byte("partial"))
		return mpegts.ErrNoAudio
	}))
	s, err := p.Open(context.Background(), "m0001aaa")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := drain(t, s)
	if !errors.Is(err, mpegts.ErrNoAudio) {
		t.Fatalf("err = %v, want ErrNoAudio", err)
	}
	if string(got) != "partial" {
		t.Errorf("output = %q, want partial", got)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next after error = %v, want io.EOF", err)
	}
}
