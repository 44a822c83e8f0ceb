package ubx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"iter"
	"time"
)

// CaptureClock maps a byte offset in the decoded stream to the time the
// logger captured that byte. Raw receiver dumps have none.
type CaptureClock interface {
	TimeAt(offset int64) time.Time
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxPayload bounds the accepted declared payload length.
func WithMaxPayload(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxPayload = n
		}
	}
}

// WithCaptureIndex stamps each record with the capture time of its sync byte.
func WithCaptureIndex(c CaptureClock) Option {
	return func(d *Decoder) { d.clock = c }
}

// Decoder scans a UBX byte stream for frames.
//
// Next returns records in stream order. Per-frame problems are returned as
// *FrameError and decoding continues on the following call; io.EOF marks the
// end. A frame cut off by the end of the stream yields one Truncated error
// before io.EOF, unless a complete valid frame still follows it; the candidate
// is then treated as a false sync.
type Decoder struct {
	r          io.Reader
	buf        []byte
	base       int64 // stream offset of buf[0]
	eof        bool
	done       bool
	maxPayload int
	clock      CaptureClock

	pending []Message
	stats   Stats
}

func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{r: r, maxPayload: DefaultMaxPayload}
	for _, o := range opts {
		o(d)
	}
	return d
}

// NewBytesDecoder decodes an in-memory stream without copying it.
func NewBytesDecoder(b []byte, opts ...Option) *Decoder {
	d := NewDecoder(nil, opts...)
	d.buf = b
	d.eof = true
	return d
}

// Stats returns counts accumulated so far.
func (d *Decoder) Stats() Stats { return d.stats.clone() }

// All iterates over Next until io.EOF. Breaking out of the loop leaves the
// decoder positioned after the last yielded item.
func (d *Decoder) All() iter.Seq2[Message, error] { return all(d) }

// ReadAll drains the decoder, returning the decoded records and the per-frame
// errors in stream order.
func (d *Decoder) ReadAll() ([]Message, []error) { return readAll(d) }

// Source is implemented by Decoder and TextDecoder.
type Source interface {
	Next() (Message, error)
	Stats() Stats
	All() iter.Seq2[Message, error]
}

func all(src interface{ Next() (Message, error) }) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			m, err := src.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(m, err) {
				return
			}
		}
	}
}

func readAll(src interface{ Next() (Message, error) }) ([]Message, []error) {
	var msgs []Message
	var errs []error
	for m, err := range all(src) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, errs
}

func (d *Decoder) Next() (Message, error) {
	if len(d.pending) > 0 {
		m := d.pending[0]
		d.pending = d.pending[1:]
		return m, nil
	}
	for {
		if d.done {
			return nil, io.EOF
		}
		f, ferr := d.nextFrame()
		if ferr != nil {
			if ferr.Kind == Truncated {
				d.done = true
			}
			d.stats.countError(ferr)
			return nil, ferr
		}
		if f == nil {
			d.done = true
			return nil, io.EOF
		}
		d.stats.Frames++

		msgs, ferr := d.decode(f)
		if ferr != nil {
			d.stats.countError(ferr)
			return nil, ferr
		}
		if len(msgs) == 0 {
			// NAV-SAT with zero satellites.
			continue
		}
		for _, m := range msgs {
			d.stats.countMessage(m)
		}
		d.pending = msgs[1:]
		return msgs[0], nil
	}
}

func (d *Decoder) decode(f *Frame) ([]Message, *FrameError) {
	var captured time.Time
	if d.clock != nil {
		captured = d.clock.TimeAt(f.Offset)
	}
	malformed := func(err error) *FrameError {
		return &FrameError{Kind: MalformedPayload, Offset: f.Offset, Class: f.Class, ID: f.ID, Detail: err.Error()}
	}

	if f.Class == ClassNAV {
		switch f.ID {
		case IDNavPVT:
			n, err := decodeNavPVT(f.Payload)
			if err != nil {
				return nil, malformed(err)
			}
			n.CaptureTime = captured
			return []Message{n}, nil
		case IDNavSat:
			sats, err := decodeNavSat(f.Payload)
			if err != nil {
				return nil, malformed(err)
			}
			out := make([]Message, len(sats))
			for i := range sats {
				sats[i].CaptureTime = captured
				out[i] = sats[i]
			}
			return out, nil
		case IDNavStatus:
			s, err := decodeNavStatus(f.Payload)
			if err != nil {
				return nil, malformed(err)
			}
			s.CaptureTime = captured
			return []Message{s}, nil
		}
	}
	return nil, &FrameError{Kind: UnknownMessage, Offset: f.Offset, Class: f.Class, ID: f.ID}
}

var syncMarker = []byte{sync1, sync2}

// nextFrame locates and validates the next frame. It returns (nil, nil) at a
// clean end of stream.
func (d *Decoder) nextFrame() (*Frame, *FrameError) {
	for {
		i := bytes.Index(d.buf, syncMarker)
		if i < 0 {
			// Keep a trailing first sync byte; its partner may be in the next read.
			keep := 0
			if n := len(d.buf); n > 0 && d.buf[n-1] == sync1 {
				keep = 1
			}
			d.discard(len(d.buf) - keep)
			if !d.readMore() {
				return nil, nil
			}
			continue
		}
		d.discard(i)

		if !d.fill(headerLen) {
			return nil, &FrameError{Kind: Truncated, Offset: d.base, Detail: "header cut off"}
		}
		class, id := d.buf[2], d.buf[3]
		length := int(binary.LittleEndian.Uint16(d.buf[4:6]))
		if length > d.maxPayload {
			// The length field itself is suspect; rescan from the next byte.
			off := d.base
			d.discard(1)
			return nil, &FrameError{Kind: ChecksumInvalid, Offset: off, Class: class, ID: id, Detail: "declared length exceeds limit"}
		}

		total := headerLen + length + checksumLen
		if !d.fill(total) {
			if d.validFrameAfter(1) {
				// A corrupt length ran past the end; later frames are intact.
				off := d.base
				d.discard(1)
				return nil, &FrameError{Kind: ChecksumInvalid, Offset: off, Class: class, ID: id, Detail: "declared length runs past end of stream"}
			}
			return nil, &FrameError{Kind: Truncated, Offset: d.base, Class: class, ID: id}
		}
		raw := d.buf[:total]
		if !checksumOK(raw) {
			off := d.base
			d.discard(1)
			return nil, &FrameError{Kind: ChecksumInvalid, Offset: off, Class: class, ID: id}
		}

		f := &Frame{
			Offset:   d.base,
			Class:    class,
			ID:       id,
			Length:   uint16(length),
			Payload:  append([]byte(nil), raw[headerLen:headerLen+length]...),
			Checksum: [2]byte{raw[total-2], raw[total-1]},
		}
		d.discard(total)
		return f, nil
	}
}

// validFrameAfter reports whether the buffered bytes from index from onward
// hold a complete frame with a matching checksum.
func (d *Decoder) validFrameAfter(from int) bool {
	for from < len(d.buf) {
		i := bytes.Index(d.buf[from:], syncMarker)
		if i < 0 {
			return false
		}
		p := d.buf[from+i:]
		if len(p) >= headerLen {
			length := int(binary.LittleEndian.Uint16(p[4:6]))
			total := headerLen + length + checksumLen
			if length <= d.maxPayload && len(p) >= total && checksumOK(p[:total]) {
				return true
			}
		}
		from += i + 1
	}
	return false
}

func (d *Decoder) discard(n int) {
	d.buf = d.buf[n:]
	d.base += int64(n)
}

// fill ensures at least n buffered bytes, reading as needed.
func (d *Decoder) fill(n int) bool {
	for len(d.buf) < n {
		if !d.readMore() {
			return false
		}
	}
	return true
}

const readChunk = 32 * 1024

func (d *Decoder) readMore() bool {
	if d.eof || d.r == nil {
		return false
	}
	// Compact before growing so the buffer does not creep forward forever.
	if cap(d.buf)-len(d.buf) < readChunk {
		nb := make([]byte, len(d.buf), len(d.buf)+readChunk*2)
		copy(nb, d.buf)
		d.buf = nb
	}
	n, err := d.r.Read(d.buf[len(d.buf):cap(d.buf)])
	d.buf = d.buf[:len(d.buf)+n]
	if err != nil {
		d.eof = true
	}
	return n > 0 || !d.eof
}
