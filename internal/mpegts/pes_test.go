package mpegts

import (
	"bytes"
	"errors"
	"testing"
)

func encodePTS(marker byte, value int64) []byte {
	bs := make([]byte, 5)
	bs[0] = marker<<4 | byte((value>>29)&0x0E) | 0x01
	bs[1] = byte(value >> 22)
	bs[2] = byte((value>>14)&0xFE) | 0x01
	bs[3] = byte(value >> 7)
	bs[4] = byte((value<<1)&0xFE) | 0x01
	return bs
}

// buildPESPacket builds a PES packet with an optional PTS. When unbounded is
// set PES_packet_length is 0.
func buildPESPacket(streamID byte, pts int64, hasPTS, unbounded bool, data []byte) []byte {
	var optHeader []byte
	ptsDTSIndicator := byte(0)
	if hasPTS {
		ptsDTSIndicator = 2
		optHeader = append(optHeader, encodePTS(0x02, pts)...)
	}

	headerDataLen := len(optHeader)
	// PES header: start_code(3) + stream_id(1) + packet_length(2) + flags(2) + header_data_length(1) + optional + data
	packetLength := 3 + headerDataLen + len(data)
	if unbounded {
		packetLength = 0
	}

	buf := make([]byte, 0, 6+3+headerDataLen+len(data))
	buf = append(buf, 0x00, 0x00, 0x01) // start code
	buf = append(buf, streamID)
	buf = append(buf, byte(packetLength>>8), byte(packetLength))
	buf = append(buf, 0x80)                // marker bits
	buf = append(buf, ptsDTSIndicator<<6)  // PTS_DTS_indicator
	buf = append(buf, byte(headerDataLen)) // PES_header_data_length
	buf = append(buf, optHeader...)
	buf = append(buf, data...)
	return buf
}

func TestPESAssembler_Bounded(t *testing.T) {
	t.Parallel()
	data := []byte{0xAA, 0xBB, 0xCC}
	pkt := makePacket(0x101, 0, true, buildPESPacket(0xC0, 90000, true, false, data))

	var a pesAssembler
	out, err := a.feed(true, pkt[4:], nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("out = %x, want %x (trailing packet bytes must be cut)", out, data)
	}
	if a.inUnit {
		t.Error("unit should be closed once packet_length is reached")
	}
}

func TestPESAssembler_Unbounded(t *testing.T) {
	t.Parallel()
	pes := buildPESPacket(0xC0, 0, false, true, []byte{0x01, 0x02})

	var a pesAssembler
	out, err := a.feed(true, pes, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err = a.feed(false, []byte{0x03, 0x04}, out)
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x01, 0x02, 0x03, 0x04}; !bytes.Equal(out, want) {
		t.Errorf("out = %x, want %x", out, want)
	}
}

func TestPESAssembler_HeaderSpansPackets(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte{0x5A}, 40)
	pes := buildPESPacket(0xC0, 123456, true, false, data)

	var a pesAssembler
	var out []byte
	var err error
	for i, chunk := range [][]byte{pes[:2], pes[2:7], pes[7:12], pes[12:]} {
		out, err = a.feed(i == 0, chunk, out)
		if err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(out, data) {
		t.Errorf("out = %x, want %x", out, data)
	}
}

func TestPESAssembler_NoOptionalHeader(t *testing.T) {
	t.Parallel()
	pes := []byte{0x00, 0x00, 0x01, 0xBE, 0x00, 0x04, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

	var a pesAssembler
	out, err := a.feed(true, pes, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Errorf("data length = %d, want 4", len(out))
	}
}

func TestPESAssembler_BeforeFirstStart(t *testing.T) {
	t.Parallel()
	var a pesAssembler
	out, err := a.feed(false, []byte{0x01, 0x02, 0x03}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("payload before first unit start should be discarded, got %x", out)
	}
}

func TestPESAssembler_BadStartCode(t *testing.T) {
	t.Parallel()
	var a pesAssembler
	_, err := a.feed(true, []byte{0x00, 0x00, 0x02, 0xC0, 0x00, 0x00}, nil)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Field != "PES start code" {
		t.Fatalf("err = %v, want PES start code ParseError", err)
	}
}

func TestPESAssembler_ResetDropsUnit(t *testing.T) {
	t.Parallel()
	var a pesAssembler
	out, err := a.feed(true, buildPESPacket(0xC0, 0, false, true, []byte{0x01}), nil)
	if err != nil {
		t.Fatal(err)
	}
	a.reset()
	out, err = a.feed(false, []byte{0x02}, out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{0x01}) {
		t.Errorf("out = %x, want 01", out)
	}
}
