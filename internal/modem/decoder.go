package modem

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"covlog/internal/capture"
)

// DefaultMaxLines bounds an epoch that never sees a terminator.
const DefaultMaxLines = 16

type Options struct {
	// MaxLines is the number of lines after a command echo before the epoch is
	// emitted as incomplete. Zero means DefaultMaxLines.
	MaxLines int
	// Location is used for timestamps without a zone. Nil means UTC.
	Location *time.Location
	// TailLines is how many unclassified lines are kept for the summary.
	TailLines int
}

type result struct {
	rec Record
	err error
}

// Decoder groups a timestamped AT transcript into per-epoch records.
//
// An epoch opens at a command echo and closes at OK, ERROR, +CME ERROR or
// NO CARRIER. Responses seen outside an epoch form an epoch of their own.
type Decoder struct {
	s    *bufio.Scanner
	opts Options

	line int
	eof  bool

	open     bool
	cur      Record
	curLines int
	hasReg   regSource
	deferred []Record

	lastReg Registration
	out     []result
	stats   Stats
	tail    *tailBuffer
}

// regSource orders registration responses so +CEREG (EPS) wins over
// +CGREG and +CREG reported in the same epoch.
type regSource int

const (
	regNone regSource = iota
	regCREG
	regCGREG
	regCEREG
)

func NewDecoder(r io.Reader, opts Options) *Decoder {
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultMaxLines
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TailLines == 0 {
		opts.TailLines = 8
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{s: s, opts: opts, tail: newTailBuffer(opts.TailLines, 256)}
}

func (d *Decoder) Stats() Stats { return d.stats }

// Unmatched returns the most recent lines that matched no known form,
// oldest first, each prefixed with its line number.
func (d *Decoder) Unmatched() []string { return d.tail.lines() }

// Next returns the next record, a *TextError, or io.EOF.
func (d *Decoder) Next() (Record, error) {
	for len(d.out) == 0 {
		if d.eof {
			return Record{}, io.EOF
		}
		if !d.s.Scan() {
			if err := d.s.Err(); err != nil {
				d.eof = true
				return Record{}, err
			}
			d.eof = true
			d.closeIncomplete()
			continue
		}
		d.line++
		d.handle(d.s.Text())
	}
	r := d.out[0]
	d.out = d.out[1:]
	return r.rec, r.err
}

func (d *Decoder) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

// ReadAll drains the decoder.
func (d *Decoder) ReadAll() ([]Record, []error) {
	var recs []Record
	var errs []error
	for rec, err := range d.All() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, errs
}

func (d *Decoder) handle(raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}
	d.stats.Lines++

	ts, payload, ok := capture.ParseLinePrefix(text, d.opts.Location)
	if !ok {
		d.stats.Malformed++
		d.fail(MalformedLine, text)
		return
	}
	if payload == "" {
		return
	}

	if ev := pumpEvent(payload); ev != EventNone {
		d.stats.Events++
		rec := Record{CaptureTime: ts, Line: d.line, Event: ev}
		if d.open {
			d.deferred = append(d.deferred, rec)
			return
		}
		d.emit(rec)
		return
	}

	if isCommandEcho(payload) {
		d.stats.Commands++
		d.closeIncomplete()
		d.open = true
		d.cur = Record{CaptureTime: ts, Line: d.line, Command: payload}
		d.curLines = 0
		d.hasReg = regNone
		return
	}

	if isErr, ok := isTerminator(payload); ok {
		d.stats.Terminals++
		if !d.open {
			d.stats.Ignored++
			return
		}
		if isErr {
			if id, ok := socketCommand(d.cur.Command); ok {
				d.cur.Socket = &SocketStatus{ID: id, State: SocketError}
			}
		}
		d.closeEpoch()
		return
	}

	segs := splitSegments(payload)
	if !d.open {
		// Unsolicited result or a single-line cycle: an epoch of its own.
		rec := Record{CaptureTime: ts, Line: d.line}
		reg := regNone
		if d.applySegments(&rec, &reg, segs, text) {
			d.stats.Responses++
			d.emit(rec)
			return
		}
		d.unmatched(text)
		return
	}

	d.curLines++
	if d.applySegments(&d.cur, &d.hasReg, segs, text) {
		d.stats.Responses++
	} else {
		d.unmatched(text)
	}
	if d.curLines >= d.opts.MaxLines {
		d.closeIncomplete()
	}
}

func (d *Decoder) unmatched(text string) {
	d.stats.Ignored++
	d.tail.add(d.line, text)
}

// applySegments folds recognised responses into rec and reports whether any
// segment was recognised.
func (d *Decoder) applySegments(rec *Record, reg *regSource, segs []segment, text string) bool {
	matched := false
	for _, s := range segs {
		switch s.name {
		case "+CESQ":
			matched = applyCESQ(rec, s.body) || matched
		case "+CSQ":
			matched = applyCSQ(rec, s.body) || matched
		case "#RFSTS":
			matched = applyRFSTS(rec, s.body) || matched
		case "#SS":
			matched = applySS(rec, s.body) || matched
		case "+CEREG", "+CGREG", "+CREG":
			src := map[string]regSource{"+CREG": regCREG, "+CGREG": regCGREG, "+CEREG": regCEREG}[s.name]
			stat, ok := regStat(s.body)
			if !ok {
				continue
			}
			matched = true
			r, known := registrationFromStat(stat)
			if !known {
				d.stats.Unknown++
				d.fail(UnknownStatus, text)
			}
			if src < *reg {
				continue
			}
			*reg = src
			rec.Registration = r
		case "#MSG", "#SI", "+COPS":
			// Logged alongside measurements by the single-line logger; not tabulated.
			matched = true
		}
	}
	return matched
}

func (d *Decoder) fail(kind ErrorKind, text string) {
	d.out = append(d.out, result{err: &TextError{Kind: kind, Line: d.line, Text: text}})
}

// closeEpoch emits the open epoch when it gathered anything.
func (d *Decoder) closeEpoch() {
	if !d.open {
		return
	}
	d.open = false
	if d.cur.hasMeasurement() {
		d.emit(d.cur)
	} else {
		d.stats.Empty++
	}
	d.flushDeferred()
}

// closeIncomplete emits an open epoch that never saw its terminator.
func (d *Decoder) closeIncomplete() {
	if !d.open {
		return
	}
	d.open = false
	if d.cur.hasMeasurement() {
		d.cur.Incomplete = true
		d.stats.Incomplete++
		line := d.cur.Line
		d.emit(d.cur)
		d.out = append(d.out, result{err: &TextError{Kind: IncompleteRecord, Line: line, Text: d.cur.Command}})
	} else {
		d.stats.Empty++
	}
	d.flushDeferred()
}

func (d *Decoder) flushDeferred() {
	for _, rec := range d.deferred {
		d.emit(rec)
	}
	d.deferred = d.deferred[:0]
}

// emit queues rec, carrying the last known registration forward.
func (d *Decoder) emit(rec Record) {
	if rec.Registration == RegistrationNone {
		if d.lastReg != RegistrationNone {
			rec.Registration = d.lastReg
			rec.RegistrationCarried = true
		}
	} else {
		d.lastReg = rec.Registration
	}
	d.stats.Records++
	d.out = append(d.out, result{rec: rec})
}

func pumpEvent(payload string) Event {
	p := strings.Trim(payload, "' ")
	switch {
	case strings.HasPrefix(p, "#Flight Mode Active"):
		return EventFlightMode
	case strings.HasPrefix(p, "#Pumping Data To Server"):
		return EventPumping
	}
	return EventNone
}
