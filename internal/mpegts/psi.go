package mpegts

import (
	"bytes"
	"strconv"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// sectionAssembler reassembles PSI sections carried on one PID. A section
// may span any number of packets and several sections may share a payload.
type sectionAssembler struct {
	buf    []byte
	active bool
}

// feed consumes one packet payload and returns every section it completed.
// When pusi is set the first payload byte is the pointer field: the bytes
// before the pointer finish the in-flight section and a new section starts
// after it.
func (a *sectionAssembler) feed(pusi bool, payload []byte) ([][]byte, error) {
	if !pusi {
		if !a.active {
			return nil, nil
		}
		a.buf = append(a.buf, payload...)
		return a.drain()
	}
	if len(payload) == 0 {
		return nil, nil
	}

	pointer := int(payload[0])
	if 1+pointer > len(payload) {
		a.reset()
		return nil, errAtMost("pointer field", len(payload)-1, pointer)
	}

	var sections [][]byte
	if a.active {
		a.buf = append(a.buf, payload[1:1+pointer]...)
		done, err := a.drain()
		if err != nil {
			return nil, err
		}
		sections = done
	}

	// Whatever is still buffered was truncated by the new unit start.
	a.buf = append(a.buf[:0], payload[1+pointer:]...)
	a.active = true
	done, err := a.drain()
	if err != nil {
		return nil, err
	}
	return append(sections, done...), nil
}

// drain splits every complete section off the front of the buffer.
func (a *sectionAssembler) drain() ([][]byte, error) {
	var out [][]byte
	for {
		if len(a.buf) == 0 {
			if len(out) > 0 {
				a.reset()
			}
			return out, nil
		}
		if a.buf[0] == 0xFF {
			a.reset() // stuffing ends the payload
			return out, nil
		}
		if len(a.buf) < 3 {
			return out, nil
		}
		length := int(a.buf[1]&0x0F)<<8 | int(a.buf[2])
		if length > maxSectionLength {
			a.reset()
			return out, errAtMost("section length", maxSectionLength, length)
		}
		end := 3 + length
		if len(a.buf) < end {
			return out, nil
		}
		out = append(out, bytes.Clone(a.buf[:end]))
		a.buf = a.buf[end:]
	}
}

func (a *sectionAssembler) reset() {
	a.buf = a.buf[:0]
	a.active = false
}

// checkSectionHeader validates the long-form section header shared by the
// PAT and PMT.
//
//	[0]    table_id
//	[1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
//	[3-4]  transport_stream_id / program_number
//	[5]    reserved(2) + version(5) + current_next(1)
//	[6]    section_number
//	[7]    last_section_number
func checkSectionHeader(data []byte, tableID byte, minLen int) error {
	if len(data) < minLen {
		return errAtLeast("section length", minLen, len(data))
	}
	return checkFields(
		fieldCheck{"table id", uint64(tableID), uint64(data[0])},
		fieldCheck{"section syntax indicator", 1, uint64(data[1] >> 7)},
		fieldCheck{"section zero bit", 0, uint64(data[1]>>6) & 0x01},
		fieldCheck{"section reserved bits", 0x03, uint64(data[1]>>4) & 0x03},
		fieldCheck{"section length unused bits", 0, uint64(data[1]>>2) & 0x03},
		fieldCheck{"version reserved bits", 0x03, uint64(data[5] >> 6)},
	)
}

// parsePATSection parses a complete PAT section. It returns nil data for a
// section that is not yet applicable (current_next_indicator = 0).
func parsePATSection(data []byte) (*PATData, error) {
	if err := checkSectionHeader(data, tableIDPAT, 12); err != nil { // 8 header + 4 CRC
		return nil, err
	}
	if err := verifyCRC32(data); err != nil {
		return nil, err
	}
	if data[5]&0x01 == 0 {
		return nil, nil
	}

	end := len(data) - 4
	if (end-8)%4 != 0 {
		return nil, &ParseError{
			Field:    "PAT entry length",
			Expected: "a multiple of 4",
			Actual:   strconv.Itoa(end - 8),
		}
	}

	pat := &PATData{}
	for i := 8; i+4 <= end; i += 4 {
		if err := checkFields(fieldCheck{"PAT entry reserved bits", 0x07, uint64(data[i+2] >> 5)}); err != nil {
			return nil, err
		}
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		pid := uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3])

		if programNumber == 0 {
			pat.NetworkPID = pid
			pat.HasNetwork = true
			continue
		}
		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: programNumber,
			ProgramMapID:  pid,
		})
	}
	return pat, nil
}

// parsePMTSection parses a complete PMT section. It returns nil data for a
// section that is not yet applicable.
//
//	[8-9]   reserved(3) + PCR_PID(13)
//	[10-11] reserved(4) + unused(2) + program_info_length(10)
//	[...]   program descriptors
//	[...]   elementary stream entries
//	[...]   CRC32
func parsePMTSection(data []byte) (*PMTData, error) {
	if err := checkSectionHeader(data, tableIDPMT, 16); err != nil { // 12 header + 4 CRC
		return nil, err
	}
	if err := verifyCRC32(data); err != nil {
		return nil, err
	}
	if data[5]&0x01 == 0 {
		return nil, nil
	}
	if err := checkFields(
		fieldCheck{"PCR PID reserved bits", 0x07, uint64(data[8] >> 5)},
		fieldCheck{"program info reserved bits", 0x0F, uint64(data[10] >> 4)},
		fieldCheck{"program info length unused bits", 0, uint64(data[10]>>2) & 0x03},
	); err != nil {
		return nil, err
	}

	pmt := &PMTData{
		ProgramNumber: uint16(data[3])<<8 | uint16(data[4]),
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}

	end := len(data) - 4
	infoLen := int(data[10]&0x03)<<8 | int(data[11])
	offset := 12 + infoLen
	if offset > end {
		return nil, errAtMost("program info length", end-12, infoLen)
	}

	for offset < end {
		if offset+5 > end {
			return nil, errAtLeast("elementary stream entry length", 5, end-offset)
		}
		if err := checkFields(
			fieldCheck{"elementary PID reserved bits", 0x07, uint64(data[offset+1] >> 5)},
			fieldCheck{"ES info reserved bits", 0x0F, uint64(data[offset+3] >> 4)},
			fieldCheck{"ES info length unused bits", 0, uint64(data[offset+3]>>2) & 0x03},
		); err != nil {
			return nil, err
		}
		esInfoLen := int(data[offset+3]&0x03)<<8 | int(data[offset+4])
		if offset+5+esInfoLen > end {
			return nil, errAtMost("ES info length", end-offset-5, esInfoLen)
		}

		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			StreamType:    data[offset],
			ElementaryPID: uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
		})

		offset += 5 + esInfoLen
	}
	return pmt, nil
}
