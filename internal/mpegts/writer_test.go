package mpegts

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriter_ForwardsES(t *testing.T) {
	t.Parallel()
	ts, want := buildAudioStream(testFrames(4, 512))

	var out bytes.Buffer
	w := NewWriter(&out)
	r := bytes.NewReader(ts)
	if _, err := io.CopyBuffer(w, r, make([]byte, 1000)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("ES mismatch: got %d bytes, want %d", out.Len(), len(want))
	}
	if w.Session().Stats().Bytes != int64(len(want)) {
		t.Errorf("Bytes = %d, want %d", w.Session().Stats().Bytes, len(want))
	}
}

func TestWriter_ParseErrorAfterOutput(t *testing.T) {
	t.Parallel()
	frames := testFrames(3, 100)
	ts, _ := buildAudioStream(frames)
	ts = bytes.Clone(ts)
	// PAT, PMT, then video + one audio packet per frame; break frame 2's video packet.
	packetAt(ts, 6)[0] = 0x48

	var out bytes.Buffer
	w := NewWriter(&out)
	_, err := w.Write(ts)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if want := append(bytes.Clone(frames[0]), frames[1]...); !bytes.Equal(out.Bytes(), want) {
		t.Errorf("forwarded %d bytes, want %d", out.Len(), len(want))
	}
	if err := w.Close(); !errors.As(err, &pe) {
		t.Errorf("Close = %v, want sticky *ParseError", err)
	}
}

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }

func TestWriter_DownstreamError(t *testing.T) {
	t.Parallel()
	ts, _ := buildAudioStream(testFrames(1, 100))
	boom := errors.New("boom")

	w := NewWriter(failingWriter{boom})
	if _, err := w.Write(ts); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestWriter_CloseWithoutAudio(t *testing.T) {
	t.Parallel()
	w := NewWriter(io.Discard)
	if _, err := w.Write(makePacket(0x100, 0, true, []byte{0x01})); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); !errors.Is(err, ErrNoAudio) {
		t.Errorf("Close = %v, want ErrNoAudio", err)
	}
}
