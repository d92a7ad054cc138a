// Package mpegts implements an incremental MPEG-TS demultiplexer that
// extracts the AAC elementary stream of a transport stream's audio program.
// Input can arrive in pushes of any size: packet boundaries, PSI sections
// and PES headers are reassembled across pushes, and PAT/PMT discovery
// selects the audio PID by stream type.
package mpegts

const (
	packetSize = 188
	syncByte   = 0x47
	pidPAT     = 0x0000

	maxAdaptationLength = packetSize - 5
	maxSectionLength    = 1021
)

// Stream types from ISO/IEC 13818-1 table 2-34 and ATSC A/52 that identify
// audio elementary streams. Only StreamTypeAAC is extracted.
const (
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypeAAC        = 0x0F
	StreamTypeAACLATM    = 0x11
	StreamTypeAC3        = 0x81
	StreamTypeEAC3       = 0x87
)

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
}

// PATData contains the parsed Program Association Table.
type PATData struct {
	// NetworkPID is the network information PID carried by program number 0.
	NetworkPID uint16
	HasNetwork bool
	Programs   []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData contains the parsed Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream describes a single elementary stream in a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
}

// Stats counts what a Session has consumed so far.
type Stats struct {
	Packets         int64 `json:"packets"`
	Bytes           int64 `json:"bytes"`
	Duplicates      int64 `json:"duplicates"`
	Discontinuities int64 `json:"discontinuities"`
	TransportErrors int64 `json:"transportErrors"`
}

func isAudioStreamType(t uint8) bool {
	switch t {
	case StreamTypeMPEG1Audio, StreamTypeMPEG2Audio, StreamTypeAAC,
		StreamTypeAACLATM, StreamTypeAC3, StreamTypeEAC3:
		return true
	}
	return false
}
