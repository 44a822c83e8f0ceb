package merge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"covlog/internal/modem"
	"covlog/internal/ubx"
)

type Source int

const (
	SourceGNSS Source = iota
	SourceModem
)

func (s Source) String() string {
	if s == SourceModem {
		return "modem"
	}
	return "gnss"
}

// Sides tells which sources contributed to a row.
type Sides int

const (
	GNSSOnly Sides = iota + 1
	ModemOnly
	Both
)

func (s Sides) String() string {
	switch s {
	case GNSSOnly:
		return "gnss"
	case ModemOnly:
		return "modem"
	case Both:
		return "both"
	default:
		return "none"
	}
}

type Mode int

const (
	// Union keeps every record of both sources.
	Union Mode = iota
	// IntersectNonEmpty keeps only rows carrying modem data.
	IntersectNonEmpty
)

func (m Mode) String() string {
	if m == IntersectNonEmpty {
		return "intersect-non-empty"
	}
	return "union"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "union":
		return Union, nil
	case "intersect-non-empty", "intersect":
		return IntersectNonEmpty, nil
	}
	return Union, fmt.Errorf("unknown merge mode %q", s)
}

// GNSSSide is the GNSS half of a row.
type GNSSSide struct {
	Record ubx.NavRecord
	// CNo summarizes the NAV-SAT epoch matching Record.ITOW, nil when none was logged.
	CNo           ubx.CNoSummary
	TimeCorrected bool
}

// ModemSide is the modem half of a row.
type ModemSide struct {
	Record modem.Record
}

type GNSSInput struct {
	At   time.Duration
	Time time.Time
	GNSSSide
}

type ModemInput struct {
	At   time.Duration
	Time time.Time
	ModemSide
}

// Row is one line of the merged table. At least one side is set.
type Row struct {
	At    time.Duration
	Time  time.Time
	Nav   *GNSSSide
	Modem *ModemSide
	Sides Sides
}

// Segment is a run of records set aside because its source went backwards.
type Segment struct {
	Source Source
	// Index is the position of the first set-aside record in its input.
	Index int
	Rows  []Row
}

type Stats struct {
	Joined    int
	GNSSOnly  int
	ModemOnly int
	// Dropped counts rows removed by IntersectNonEmpty.
	Dropped int
	// SetAside counts records moved into Segments.
	SetAside int
}

// Table is the merger output. Rows are ordered by non-decreasing At.
type Table struct {
	Rows      []Row
	Segments  []Segment
	Errors    []error
	Tolerance time.Duration
	Stats     Stats
}

type ErrorKind int

const (
	NonMonotonicInput ErrorKind = iota + 1
)

func (k ErrorKind) String() string {
	if k == NonMonotonicInput {
		return "non_monotonic_input"
	}
	return "unknown"
}

var ErrNonMonotonic = errors.New("merge: non-monotonic input")

type MergeError struct {
	Kind   ErrorKind
	Source Source
	Index  int
	Count  int
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge: %s in %s input at index %d (%d records set aside)", e.Kind, e.Source, e.Index, e.Count)
}

func (e *MergeError) Is(target error) bool {
	return target == ErrNonMonotonic && e.Kind == NonMonotonicInput
}
