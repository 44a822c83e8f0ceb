package ubx

import (
	"errors"
	"fmt"
	"maps"
)

// ErrorKind classifies a per-frame decode failure. None of them are fatal to
// the stream.
type ErrorKind int

const (
	ChecksumInvalid ErrorKind = iota + 1
	UnknownMessage
	Truncated
	MalformedPayload
)

func (k ErrorKind) String() string {
	switch k {
	case ChecksumInvalid:
		return "checksum_invalid"
	case UnknownMessage:
		return "unknown_message"
	case Truncated:
		return "truncated"
	case MalformedPayload:
		return "malformed_payload"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against *FrameError.
var (
	ErrChecksum         = errors.New("ubx: checksum invalid")
	ErrUnknownMessage   = errors.New("ubx: unknown message")
	ErrTruncated        = errors.New("ubx: truncated frame")
	ErrMalformedPayload = errors.New("ubx: malformed payload")
)

// FrameError describes one skipped frame. Offset is the stream offset of the
// sync marker (or the line number for text logs).
type FrameError struct {
	Kind   ErrorKind
	Offset int64
	Class  byte
	ID     byte
	Detail string
}

func (e *FrameError) Error() string {
	msg := fmt.Sprintf("ubx: %s at offset %d", e.Kind, e.Offset)
	if e.Kind == UnknownMessage || e.Kind == MalformedPayload {
		msg += " (" + Name(e.Class, e.ID) + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FrameError) Is(target error) bool {
	switch target {
	case ErrChecksum:
		return e.Kind == ChecksumInvalid
	case ErrUnknownMessage:
		return e.Kind == UnknownMessage
	case ErrTruncated:
		return e.Kind == Truncated
	case ErrMalformedPayload:
		return e.Kind == MalformedPayload
	}
	return false
}

// Stats counts decoded messages and skipped frames.
type Stats struct {
	Frames    int
	Nav       int
	Sat       int
	Status    int
	Checksum  int
	Unknown   int
	Truncated int
	Malformed int
	// UnknownIDs counts skipped frames by class<<8|id.
	UnknownIDs map[uint16]int
}

// clone copies s so a returned snapshot does not share UnknownIDs with the
// decoder.
func (s Stats) clone() Stats {
	s.UnknownIDs = maps.Clone(s.UnknownIDs)
	return s
}

func (s *Stats) countError(e *FrameError) {
	switch e.Kind {
	case ChecksumInvalid:
		s.Checksum++
	case UnknownMessage:
		s.Unknown++
		if s.UnknownIDs == nil {
			s.UnknownIDs = map[uint16]int{}
		}
		s.UnknownIDs[uint16(e.Class)<<8|uint16(e.ID)]++
	case Truncated:
		s.Truncated++
	case MalformedPayload:
		s.Malformed++
	}
}

func (s *Stats) countMessage(m Message) {
	switch m.(type) {
	case NavRecord:
		s.Nav++
	case SatRecord:
		s.Sat++
	case StatusRecord:
		s.Status++
	}
}
