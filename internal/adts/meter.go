package adts

import (
	"io"
	"time"
)

// Summary describes an ADTS stream.
type Summary struct {
	Frames     int64         `json:"frames"`
	Bytes      int64         `json:"bytes"`
	Skipped    int64         `json:"skipped"`
	Profile    string        `json:"profile,omitempty"`
	SampleRate int           `json:"sampleRate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Meter is an io.Writer that counts the ADTS frames written through it.
// Frames may be split across writes.
type Meter struct {
	pending []byte
	sum     Summary
}

// Write scans p. It never fails.
func (m *Meter) Write(p []byte) (int, error) {
	m.sum.Bytes += int64(len(p))
	m.pending = append(m.pending, p...)

	off := 0
	for len(m.pending)-off >= 7 {
		h, err := ParseHeader(m.pending[off:])
		if err != nil {
			off++
			m.sum.Skipped++
			continue
		}
		if len(m.pending)-off < h.FrameLength {
			break
		}
		if m.sum.Frames == 0 {
			m.sum.Profile = h.Profile
			m.sum.SampleRate = h.SampleRate
			m.sum.Channels = h.Channels
		}
		m.sum.Frames++
		off += h.FrameLength
	}

	n := copy(m.pending, m.pending[off:])
	m.pending = m.pending[:n]
	return len(p), nil
}

// Summary returns the counts so far.
func (m *Meter) Summary() Summary {
	s := m.sum
	s.Duration = Duration(s.Frames, s.SampleRate)
	return s
}

// Probe reads r to the end and summarises it.
func Probe(r io.Reader) (Summary, error) {
	var m Meter
	if _, err := io.Copy(&m, r); err != nil {
		return m.Summary(), err
	}
	return m.Summary(), nil
}
