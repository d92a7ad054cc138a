package mpegts

// parseHeader decodes the fixed 4-byte transport packet header.
func parseHeader(b []byte) (PacketHeader, error) {
	var h PacketHeader
	if err := checkFields(
		fieldCheck{"sync byte", syncByte, uint64(b[0])},
		fieldCheck{"transport scrambling control", 0, uint64(b[3] >> 6)},
	); err != nil {
		return h, err
	}

	afc := (b[3] >> 4) & 0x03
	if afc == 0 {
		return h, &ParseError{
			Field:    "adaptation field control",
			Expected: "0x1, 0x2 or 0x3",
			Actual:   "0x0",
		}
	}

	h.TransportErrorIndicator = b[1]&0x80 != 0
	h.PayloadUnitStartIndicator = b[1]&0x40 != 0
	h.PID = uint16(b[1]&0x1F)<<8 | uint16(b[2])
	h.HasAdaptationField = afc&0x02 != 0
	h.HasPayload = afc&0x01 != 0
	h.ContinuityCounter = b[3] & 0x0F
	return h, nil
}

// ccState is the outcome of a continuity counter check.
type ccState int

const (
	ccInOrder ccState = iota
	ccDuplicate
	ccDiscontinuity
)

// ccTracker remembers the last continuity counter seen on each PID.
type ccTracker struct {
	last map[uint16]uint8
}

// check compares h against the previous payload-carrying packet on the same
// PID. A signaled discontinuity indicator means a jump is expected.
func (t *ccTracker) check(h PacketHeader) ccState {
	if t.last == nil {
		t.last = make(map[uint16]uint8)
	}
	prev, seen := t.last[h.PID]
	t.last[h.PID] = h.ContinuityCounter

	if !seen || h.DiscontinuityIndicator {
		return ccInOrder
	}
	if h.ContinuityCounter == prev {
		return ccDuplicate
	}
	if h.ContinuityCounter != (prev+1)&0x0F {
		return ccDiscontinuity
	}
	return ccInOrder
}
