// Package mpegtstest builds synthetic transport streams for tests.
package mpegtstest

import (
	"bytes"
	"encoding/binary"
	"slices"
)

// PIDs used by the audio streams Builder writes.
const (
	PMTPID   = 0x1000
	AudioPID = 0x101
)

const packetSize = 188

// Builder writes exact-fit transport packets and keeps a continuity counter
// per PID across Flush calls, the way consecutive HLS segments do.
type Builder struct {
	buf bytes.Buffer
	cc  map[uint16]uint8
	pts int64
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{cc: make(map[uint16]uint8)}
}

// Packet writes one packet. Payloads shorter than 184 bytes are padded
// with adaptation field stuffing.
func (b *Builder) Packet(pid uint16, pusi bool, payload []byte) {
	pkt := make([]byte, packetSize)
	pkt[0] = 0x47
	pkt[1] = byte(pid>>8) & 0x1F
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)

	cc := b.cc[pid]
	b.cc[pid] = (cc + 1) & 0x0F

	if len(payload) >= packetSize-4 {
		pkt[3] = 0x10 | cc
		copy(pkt[4:], payload)
	} else {
		afLen := packetSize - 5 - len(payload)
		pkt[3] = 0x30 | cc
		pkt[4] = byte(afLen)
		for i := 6; i < 5+afLen; i++ {
			pkt[i] = 0xFF
		}
		copy(pkt[5+afLen:], payload)
	}
	b.buf.Write(pkt)
}

// Section writes a PSI section behind a zero pointer field.
func (b *Builder) Section(pid uint16, section []byte) {
	data := append([]byte{0x00}, section...)
	for i := 0; i < len(data); i += packetSize - 4 {
		b.Packet(pid, i == 0, data[i:min(i+packetSize-4, len(data))])
	}
}

// PES writes data as one bounded PES packet carrying a PTS.
func (b *Builder) PES(pid uint16, streamID byte, pts int64, data []byte) {
	pes := []byte{0x00, 0x00, 0x01, streamID, 0, 0, 0x80, 0x80, 5}
	binary.BigEndian.PutUint16(pes[4:], uint16(3+5+len(data)))
	pes = append(pes,
		0x21|byte((pts>>29)&0x0E),
		byte(pts>>22),
		byte((pts>>14)&0xFE)|0x01,
		byte(pts>>7),
		byte((pts<<1)&0xFE)|0x01,
	)
	pes = append(pes, data...)
	for i := 0; i < len(pes); i += packetSize - 4 {
		b.Packet(pid, i == 0, pes[i:min(i+packetSize-4, len(pes))])
	}
}

// AudioTables writes a PAT announcing one program and a PMT listing an AAC
// stream on AudioPID.
func (b *Builder) AudioTables() {
	b.Section(0, PAT(map[uint16]uint16{1: PMTPID}))
	b.Section(PMTPID, PMT(1, AudioPID, map[uint16]uint8{AudioPID: 0x0F}))
}

// AudioFrame writes frame as the next PES packet on AudioPID.
func (b *Builder) AudioFrame(frame []byte) {
	b.PES(AudioPID, 0xC0, b.pts, frame)
	b.pts += 1920
}

// Flush returns everything written since the last Flush.
func (b *Builder) Flush() []byte {
	out := bytes.Clone(b.buf.Bytes())
	b.buf.Reset()
	return out
}

// AudioStream returns a complete transport stream carrying frames as AAC.
func AudioStream(frames ...[]byte) []byte {
	b := NewBuilder()
	b.AudioTables()
	for _, f := range frames {
		b.AudioFrame(f)
	}
	return b.Flush()
}

// PAT returns a PAT section mapping program numbers to PMT PIDs.
func PAT(programs map[uint16]uint16) []byte {
	var entries []byte
	for _, num := range sortedKeys(programs) {
		pid := programs[num]
		entries = append(entries, byte(num>>8), byte(num), 0xE0|byte(pid>>8)&0x1F, byte(pid))
	}
	return section(0x00, 1, entries)
}

// PMT returns a PMT section listing the given PID to stream type pairs.
func PMT(program, pcrPID uint16, streams map[uint16]uint8) []byte {
	body := []byte{0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID), 0xF0, 0x00}
	for _, pid := range sortedKeys(streams) {
		body = append(body, streams[pid], 0xE0|byte(pid>>8)&0x1F, byte(pid), 0xF0, 0x00)
	}
	return section(0x02, program, body)
}

func section(tableID byte, id uint16, body []byte) []byte {
	length := 5 + len(body) + 4
	data := []byte{
		tableID,
		0xB0 | byte(length>>8)&0x0F, byte(length),
		byte(id >> 8), byte(id),
		0xC1, 0x00, 0x00,
	}
	data = append(data, body...)
	return binary.BigEndian.AppendUint32(data, crc32MPEG2(data))
}

func crc32MPEG2(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func sortedKeys[V any](m map[uint16]V) []uint16 {
	keys := make([]uint16, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ADTSFrame wraps payload in a 7-byte ADTS header without CRC: MPEG-4
// AAC LC, 44.1 kHz, two channels.
func ADTSFrame(payload []byte) []byte {
	n := 7 + len(payload)
	h := []byte{
		0xFF, 0xF1,
		0x50,
		0x80 | byte(n>>11)&0x03,
		byte(n >> 3),
		byte(n&0x07)<<5 | 0x1F,
		0xFC,
	}
	return append(h, payload...)
}
