// Package adts parses AAC frames carried in ADTS headers.
package adts

import (
	"errors"
	"time"
)

// ErrInvalidHeader is returned when an ADTS header is malformed.
var ErrInvalidHeader = errors.New("adts: invalid header")

// AAC sample rate index table (ISO 14496-3)
var sampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

var profiles = [...]string{"Main", "LC", "SSR", "LTP"}

// samplesPerFrame is the AAC frame length in samples.
const samplesPerFrame = 1024

// Header holds the fields of an ADTS header that describe the stream.
type Header struct {
	Profile     string
	SampleRate  int
	Channels    int
	FrameLength int // header + payload
	HeaderSize  int
}

// Frame is a single ADTS frame.
type Frame struct {
	Header
	Data []byte // complete ADTS frame (header + payload)
}

// ParseHeader decodes the header at the start of b, which must hold at
// least 7 bytes.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 7 || b[0] != 0xFF || b[1]&0xF6 != 0xF0 {
		return Header{}, ErrInvalidHeader
	}

	h := Header{HeaderSize: 7}
	if b[1]&0x01 == 0 {
		h.HeaderSize = 9 // CRC present
	}

	idx := (b[2] >> 2) & 0x0F
	if int(idx) >= len(sampleRates) {
		return Header{}, ErrInvalidHeader
	}
	h.SampleRate = sampleRates[idx]
	h.Profile = profiles[b[2]>>6]
	h.Channels = int((b[2]&0x01)<<2 | (b[3]>>6)&0x03)
	h.FrameLength = int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5)
	if h.FrameLength < h.HeaderSize {
		return Header{}, ErrInvalidHeader
	}
	return h, nil
}

// Parse splits an ADTS byte stream into frames. Bytes before a sync word
// are skipped and a truncated trailing frame is dropped.
func Parse(data []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0

	for len(data)-offset >= 7 {
		if data[offset] != 0xFF || data[offset+1]&0xF0 != 0xF0 {
			offset++
			continue
		}

		h, err := ParseHeader(data[offset:])
		if err != nil {
			return frames, err
		}
		if offset+h.FrameLength > len(data) {
			break // truncated
		}

		frames = append(frames, Frame{
			Header: h,
			Data:   data[offset : offset+h.FrameLength],
		})
		offset += h.FrameLength
	}

	return frames, nil
}

// Duration returns the playback time of n frames at sampleRate.
func Duration(n int64, sampleRate int) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	return time.Duration(n * samplesPerFrame * int64(time.Second) / int64(sampleRate))
}
