package modem

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	UnknownStatus ErrorKind = iota + 1
	MalformedLine
	IncompleteRecord
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownStatus:
		return "unknown_status"
	case MalformedLine:
		return "malformed_line"
	case IncompleteRecord:
		return "incomplete_record"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownStatus    = errors.New("modem: unknown status code")
	ErrMalformedLine    = errors.New("modem: malformed line")
	ErrIncompleteRecord = errors.New("modem: incomplete record")
)

// TextError describes one rejected line or a record cut short. None of them
// stop the decoder.
type TextError struct {
	Kind ErrorKind
	Line int
	Text string
}

func (e *TextError) Error() string {
	return fmt.Sprintf("modem: %s at line %d: %q", e.Kind, e.Line, e.Text)
}

func (e *TextError) Is(target error) bool {
	switch target {
	case ErrUnknownStatus:
		return e.Kind == UnknownStatus
	case ErrMalformedLine:
		return e.Kind == MalformedLine
	case ErrIncompleteRecord:
		return e.Kind == IncompleteRecord
	}
	return false
}

// Stats counts lines by how the decoder classified them.
type Stats struct {
	Lines      int
	Commands   int
	Responses  int
	Terminals  int
	Events     int
	Ignored    int
	Malformed  int
	Unknown    int // registration codes outside 0..5
	Incomplete int
	Records    int
	// Empty counts epochs closed without any measurement.
	Empty int
}
