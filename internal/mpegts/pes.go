package mpegts

// pesAssembler strips PES headers from the packets of one elementary PID and
// yields the elementary stream bytes. The header may span several packets.
type pesAssembler struct {
	header     []byte
	collecting bool
	inUnit     bool
	remaining  int // ES bytes left in the unit, -1 when unbounded
}

// hasOptionalHeader reports whether a stream ID carries the optional PES
// header: padding_stream (0xBE), private_stream_2 (0xBF), ECM (0xF0),
// EMM (0xF1), DSMCC (0xF2), H.222.1 type E (0xF8) and
// program_stream_directory (0xFF) do not.
func hasOptionalHeader(streamID byte) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// feed consumes one packet payload and appends the elementary stream bytes
// it carries to out. Payload seen before the first unit start is dropped.
func (a *pesAssembler) feed(pusi bool, payload []byte, out []byte) ([]byte, error) {
	if pusi {
		a.header = a.header[:0]
		a.collecting = true
		a.inUnit = true
		a.remaining = -1
	}
	if !a.inUnit {
		return out, nil
	}
	if !a.collecting {
		return a.emit(payload, out), nil
	}

	a.header = append(a.header, payload...)
	h := a.header
	if len(h) < 3 {
		return out, nil
	}
	if err := checkFields(fieldCheck{"PES start code", 0x000001, uint64(h[0])<<16 | uint64(h[1])<<8 | uint64(h[2])}); err != nil {
		a.reset()
		return out, err
	}
	if len(h) < 6 {
		return out, nil
	}

	headerLen := 6
	if hasOptionalHeader(h[3]) {
		if len(h) < 9 {
			return out, nil
		}
		// [6] marker(2) + scrambling(2) + priority(1) + alignment(1) + copyright(1) + original(1)
		// [7] PTS_DTS_indicator(2) + ESCR(1) + ES_rate(1) + DSM_trick(1) + additional_copy(1) + CRC(1) + extension(1)
		// [8] PES_header_data_length
		if err := checkFields(fieldCheck{"PES marker bits", 0x02, uint64(h[6] >> 6)}); err != nil {
			a.reset()
			return out, err
		}
		headerLen = 9 + int(h[8])
	}
	if len(h) < headerLen {
		return out, nil
	}

	if packetLength := int(h[4])<<8 | int(h[5]); packetLength > 0 {
		if packetLength < headerLen-6 {
			a.reset()
			return out, errAtLeast("PES packet length", headerLen-6, packetLength)
		}
		a.remaining = packetLength - (headerLen - 6)
	}
	a.collecting = false
	return a.emit(h[headerLen:], out), nil
}

func (a *pesAssembler) emit(data, out []byte) []byte {
	if a.remaining >= 0 {
		if len(data) > a.remaining {
			data = data[:a.remaining]
		}
		a.remaining -= len(data)
		if a.remaining == 0 {
			a.inUnit = false
		}
	}
	return append(out, data...)
}

// reset drops the in-flight unit; output resumes at the next unit start.
func (a *pesAssembler) reset() {
	a.header = a.header[:0]
	a.collecting = false
	a.inUnit = false
}
