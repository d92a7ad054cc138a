package mpegts

import (
	"errors"
	"fmt"
	"log/slog"
)

type parseState int

const (
	stateSync parseState = iota
	stateAdaptationLength
	stateAdaptation
	statePayload
)

// Session demultiplexes one transport stream. Bytes are pushed in chunks of
// any size; the assembled AAC elementary stream is collected with Take.
// A Session is not safe for concurrent use.
//
// Errors are sticky: once Push fails, every later Push and Finish returns
// the same error.
type Session struct {
	state         parseState
	pending       []byte
	pos           int64 // stream offset of pending[0]
	pktOffset     int64
	inPacket      int
	hdr           PacketHeader
	adaptationLen int

	pat       sectionAssembler
	pmts      map[uint16]*sectionAssembler
	pmtParsed map[uint16]bool

	networkPID uint16
	hasNetwork bool
	audioPID   uint16
	hasAudio   bool
	otherAudio uint8 // first non-AAC audio stream type seen, 0 if none

	pes   pesAssembler
	cc    ccTracker
	out   []byte
	stats Stats
	err   error
	log   *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// SessionOptLogger sets the logger used for stream discovery and
// continuity diagnostics.
func SessionOptLogger(log *slog.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log.With("component", "mpegts")
		}
	}
}

// NewSession returns a Session waiting for its first sync byte.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		pmts:      make(map[uint16]*sectionAssembler),
		pmtParsed: make(map[uint16]bool),
		log:       slog.With("component", "mpegts"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push consumes p. Incomplete trailing data is kept until the next Push, so
// splitting a stream differently never changes the output.
func (s *Session) Push(p []byte) error {
	if s.err != nil {
		return s.err
	}
	s.pending = append(s.pending, p...)

	head := 0
	for {
		avail := len(s.pending) - head
		progressed := true

		switch s.state {
		case stateSync:
			if avail < 4 {
				progressed = false
				break
			}
			s.pktOffset = s.pos + int64(head)
			h, err := parseHeader(s.pending[head : head+4])
			if err != nil {
				return s.fail(err)
			}
			s.hdr = h
			s.inPacket = 4
			s.stats.Packets++
			head += 4
			if h.HasAdaptationField {
				s.state = stateAdaptationLength
			} else {
				s.state = statePayload
			}

		case stateAdaptationLength:
			if avail < 1 {
				progressed = false
				break
			}
			n := int(s.pending[head])
			if n > maxAdaptationLength {
				return s.fail(errAtMost("adaptation field length", maxAdaptationLength, n))
			}
			s.adaptationLen = n
			s.inPacket++
			head++
			s.state = stateAdaptation

		case stateAdaptation:
			if avail < s.adaptationLen {
				progressed = false
				break
			}
			if s.adaptationLen > 0 {
				s.hdr.DiscontinuityIndicator = s.pending[head]&0x80 != 0
			}
			s.inPacket += s.adaptationLen
			head += s.adaptationLen
			// Adaptation-only packets still pass through statePayload so the
			// remainder of the packet is consumed and alignment is kept.
			s.state = statePayload

		case statePayload:
			n := packetSize - s.inPacket
			if avail < n {
				progressed = false
				break
			}
			payload := s.pending[head : head+n]
			head += n
			s.state = stateSync
			if s.hdr.HasPayload {
				if err := s.dispatch(payload); err != nil {
					return s.fail(err)
				}
			}
		}

		if !progressed {
			break
		}
	}

	n := copy(s.pending, s.pending[head:])
	s.pending = s.pending[:n]
	s.pos += int64(head)
	return nil
}

func (s *Session) fail(err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		pe.Offset = s.pktOffset
	}
	s.err = err
	s.pending = nil
	return err
}

// dispatch routes one packet payload by PID. Only the PAT, known PMT PIDs
// and the audio PID are of interest; everything else is discarded.
func (s *Session) dispatch(payload []byte) error {
	pid := s.hdr.PID
	pmt, isPMT := s.pmts[pid]
	isAudio := s.hasAudio && pid == s.audioPID
	if pid != pidPAT && !isPMT && !isAudio {
		return nil
	}

	if s.hdr.TransportErrorIndicator {
		s.stats.TransportErrors++
		s.resetUnit(pid)
		return nil
	}

	switch s.cc.check(s.hdr) {
	case ccDuplicate:
		s.stats.Duplicates++
		return nil
	case ccDiscontinuity:
		s.stats.Discontinuities++
		s.log.Debug("continuity counter jump", "pid", pid, "cc", s.hdr.ContinuityCounter, "offset", s.pktOffset)
		s.resetUnit(pid)
	}

	pusi := s.hdr.PayloadUnitStartIndicator
	switch {
	case pid == pidPAT:
		sections, err := s.pat.feed(pusi, payload)
		if err != nil {
			return err
		}
		for _, sec := range sections {
			pat, err := parsePATSection(sec)
			if err != nil {
				return err
			}
			if pat != nil {
				s.applyPAT(pat)
			}
		}

	case isPMT:
		sections, err := pmt.feed(pusi, payload)
		if err != nil {
			return err
		}
		for _, sec := range sections {
			data, err := parsePMTSection(sec)
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}
			if err := s.applyPMT(pid, data); err != nil {
				return err
			}
		}

	case isAudio:
		before := len(s.out)
		out, err := s.pes.feed(pusi, payload, s.out)
		s.out = out
		s.stats.Bytes += int64(len(out) - before)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) resetUnit(pid uint16) {
	switch {
	case pid == pidPAT:
		s.pat.reset()
	case s.hasAudio && pid == s.audioPID:
		s.pes.reset()
	default:
		if a, ok := s.pmts[pid]; ok {
			a.reset()
		}
	}
}

func (s *Session) applyPAT(pat *PATData) {
	if pat.HasNetwork && (!s.hasNetwork || s.networkPID != pat.NetworkPID) {
		s.networkPID = pat.NetworkPID
		s.hasNetwork = true
		s.log.Debug("network PID", "pid", pat.NetworkPID)
	}

	// The PMT set follows the latest PAT. Assemblers of programs still
	// listed keep their in-flight sections.
	pmts := make(map[uint16]*sectionAssembler, len(pat.Programs))
	for _, p := range pat.Programs {
		if p.ProgramMapID == pidPAT {
			s.log.Debug("ignoring program with PMT on the PAT PID", "number", p.ProgramNumber)
			continue
		}
		if a, ok := s.pmts[p.ProgramMapID]; ok {
			pmts[p.ProgramMapID] = a
			continue
		}
		pmts[p.ProgramMapID] = &sectionAssembler{}
		s.log.Debug("program", "number", p.ProgramNumber, "pmt_pid", p.ProgramMapID)
	}
	for pid := range s.pmtParsed {
		if _, ok := pmts[pid]; !ok {
			delete(s.pmtParsed, pid)
		}
	}
	s.pmts = pmts
}

func (s *Session) applyPMT(pid uint16, pmt *PMTData) error {
	s.pmtParsed[pid] = true
	if s.hasAudio {
		return nil
	}

	for _, es := range pmt.ElementaryStreams {
		if es.StreamType == StreamTypeAAC {
			s.audioPID = es.ElementaryPID
			s.hasAudio = true
			s.log.Info("audio stream found", "pid", es.ElementaryPID, "program", pmt.ProgramNumber)
			return nil
		}
		if s.otherAudio == 0 && isAudioStreamType(es.StreamType) {
			s.otherAudio = es.StreamType
		}
	}

	if len(s.pmtParsed) < len(s.pmts) {
		return nil
	}
	return s.missingAudio()
}

func (s *Session) missingAudio() error {
	if s.otherAudio != 0 {
		return fmt.Errorf("%w: stream type 0x%02X", ErrUnsupportedCodec, s.otherAudio)
	}
	return ErrNoAudio
}

// Take returns the elementary stream bytes assembled since the last call.
// The returned slice is owned by the caller.
func (s *Session) Take() []byte {
	out := s.out
	s.out = nil
	return out
}

// Finish marks the end of input. It reports the sticky error if there is
// one, and ErrNoAudio or ErrUnsupportedCodec if no AAC stream was found.
func (s *Session) Finish() error {
	if s.err != nil {
		return s.err
	}
	if !s.hasAudio {
		s.err = s.missingAudio()
		return s.err
	}
	if len(s.pending) > 0 {
		s.log.Debug("discarding trailing partial packet", "bytes", len(s.pending), "offset", s.pos)
	}
	return nil
}

// AudioPID returns the PID of the selected AAC stream.
func (s *Session) AudioPID() (uint16, bool) { return s.audioPID, s.hasAudio }

// NetworkPID returns the network information PID announced by program 0.
func (s *Session) NetworkPID() (uint16, bool) { return s.networkPID, s.hasNetwork }

// Stats returns the session counters.
func (s *Session) Stats() Stats { return s.stats }
