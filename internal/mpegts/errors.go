package mpegts

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNoAudio is returned when the stream's programs carry no audio
	// elementary stream, or the input ended before one was found.
	ErrNoAudio = errors.New("mpegts: no audio stream found")

	// ErrUnsupportedCodec is returned when the programs carry audio, but
	// none of it is AAC.
	ErrUnsupportedCodec = errors.New("mpegts: unsupported audio codec (only AAC is supported)")
)

// ParseError reports a fixed-value or range check that failed while parsing
// a packet header, adaptation field, PSI section or PES header. Offset is
// the stream offset of the transport packet being parsed.
type ParseError struct {
	Field    string
	Expected string
	Actual   string
	Offset   int64
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mpegts: invalid %s at offset %d: expected %s, got %s",
		e.Field, e.Offset, e.Expected, e.Actual)
}

// fieldCheck is a single fixed-bit comparison.
type fieldCheck struct {
	name string
	want uint64
	got  uint64
}

// checkFields returns a ParseError for the first check whose value differs.
func checkFields(checks ...fieldCheck) error {
	for _, c := range checks {
		if c.want != c.got {
			return &ParseError{
				Field:    c.name,
				Expected: fmt.Sprintf("0x%X", c.want),
				Actual:   fmt.Sprintf("0x%X", c.got),
			}
		}
	}
	return nil
}

func errAtMost(field string, max, got int) error {
	return &ParseError{
		Field:    field,
		Expected: "at most " + strconv.Itoa(max),
		Actual:   strconv.Itoa(got),
	}
}

func errAtLeast(field string, min, got int) error {
	return &ParseError{
		Field:    field,
		Expected: "at least " + strconv.Itoa(min),
		Actual:   strconv.Itoa(got),
	}
}
