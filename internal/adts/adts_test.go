package adts

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/sounds-relay/internal/mpegts/mpegtstest"
)

func TestParseHeader(t *testing.T) {
	t.Parallel()
	frame := mpegtstest.ADTSFrame(make([]byte, 100))

	h, err := ParseHeader(frame)
	if err != nil {
		t.Fatal(err)
	}
	want := Header{Profile: "LC", SampleRate: 44100, Channels: 2, FrameLength: 107, HeaderSize: 7}
	if h != want {
		t.Errorf("header = %+v, want %+v", h, want)
	}
}

func TestParseHeader_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte{0xFF, 0xF1}},
		{"no_sync", []byte{0x00, 0xF1, 0x50, 0x80, 0x00, 0x1F, 0xFC}},
		{"bad_rate", []byte{0xFF, 0xF1, 0x7C, 0x80, 0x10, 0x1F, 0xFC}},
		{"short_length", []byte{0xFF, 0xF1, 0x50, 0x80, 0x00, 0x1F, 0xFC}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseHeader(tc.data); !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("err = %v, want ErrInvalidHeader", err)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	a := mpegtstest.ADTSFrame(bytes.Repeat([]byte{0xAA}, 20))
	b := mpegtstest.ADTSFrame(bytes.Repeat([]byte{0xBB}, 30))

	var data []byte
	data = append(data, 0x00, 0x01) // junk before the first sync word
	data = append(data, a...)
	data = append(data, b...)
	data = append(data, b[:10]...) // truncated

	frames, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, a) || !bytes.Equal(frames[1].Data, b) {
		t.Error("frame data mismatch")
	}
}

func TestMeter_SplitWrites(t *testing.T) {
	t.Parallel()
	var stream []byte
	for i := 0; i < 43; i++ {
		stream = append(stream, mpegtstest.ADTSFrame(make([]byte, 50+i))...)
	}

	var m Meter
	for off := 0; off < len(stream); off += 13 {
		m.Write(stream[off:min(off+13, len(stream))])
	}

	s := m.Summary()
	if s.Frames != 43 || s.Bytes != int64(len(stream)) || s.Skipped != 0 {
		t.Errorf("summary = %+v, want 43 frames, %d bytes", s, len(stream))
	}
	if s.SampleRate != 44100 || s.Channels != 2 || s.Profile != "LC" {
		t.Errorf("format = %s %d Hz %d ch", s.Profile, s.SampleRate, s.Channels)
	}
	if want := 43 * 1024 * time.Second / 44100; s.Duration != want {
		t.Errorf("Duration = %v, want %v", s.Duration, want)
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()
	data := append(mpegtstest.ADTSFrame([]byte{1, 2, 3}), 0x00)
	s, err := Probe(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if s.Frames != 1 {
		t.Errorf("Frames = %d, want 1", s.Frames)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	if got := Duration(48000/1024*10, 0); got != 0 {
		t.Errorf("Duration with no sample rate = %v, want 0", got)
	}
	if got := Duration(375, 48000); got != 8*time.Second {
		t.Errorf("Duration = %v, want 8s", got)
	}
}
