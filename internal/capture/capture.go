package capture

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Log format: line-oriented text written by the GNSS logger.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START [<RFC3339 time>]" begins a session. The optional time is the
//   wall clock at which the session began; without it capture times are unknown.
// - Data lines are: <t_ns>,<hex>
//   where t_ns is nanoseconds since START and hex is the raw receiver bytes of
//   one read. Chunk boundaries need not align with UBX frames.

type Record struct {
	// Origin is set on START markers (Chunk == nil) and copied onto the data
	// records that follow.
	Origin time.Time
	At     time.Duration
	Chunk  []byte
}

// Time returns the wall-clock capture time, or zero when the session had no origin.
func (r Record) Time() time.Time {
	if r.Origin.IsZero() {
		return time.Time{}
	}
	return r.Origin.Add(r.At)
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	// Allow reasonably large chunks.
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	var origin time.Time
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" || strings.HasPrefix(line, "START ") {
			origin = time.Time{}
			if v := strings.TrimSpace(strings.TrimPrefix(line, "START")); v != "" {
				t, err := time.Parse(time.RFC3339Nano, v)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid START time %q: %w", lineNo, v, err)
				}
				origin = t
			}
			recs = append(recs, Record{Origin: origin})
			continue
		}

		comma := strings.IndexByte(line, ',')
		if comma < 0 {
			return nil, fmt.Errorf("line %d: invalid capture line (missing comma): %q", lineNo, line)
		}
		tsStr := strings.TrimSpace(line[:comma])
		hexStr := strings.TrimSpace(line[comma+1:])
		if tsStr == "" || hexStr == "" {
			return nil, fmt.Errorf("line %d: invalid capture line (empty field): %q", lineNo, line)
		}

		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid capture timestamp %q: %w", lineNo, tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("line %d: invalid capture timestamp (negative): %d", lineNo, tsNs)
		}

		hexStr = strings.ReplaceAll(hexStr, " ", "")
		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid capture hex payload: %w", lineNo, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("line %d: invalid capture payload (empty)", lineNo)
		}

		recs = append(recs, Record{Origin: origin, At: time.Duration(tsNs), Chunk: b})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Index maps offsets in a concatenated capture stream back to chunk capture times.
type Index struct {
	starts []int64
	times  []time.Time
}

// Stream concatenates the data chunks of recs into one byte stream and
// returns the index of chunk start offsets.
func Stream(recs []Record) ([]byte, *Index) {
	n := 0
	for _, r := range recs {
		n += len(r.Chunk)
	}
	data := make([]byte, 0, n)
	idx := &Index{}
	for _, r := range recs {
		if r.Chunk == nil {
			continue
		}
		idx.starts = append(idx.starts, int64(len(data)))
		idx.times = append(idx.times, r.Time())
		data = append(data, r.Chunk...)
	}
	return data, idx
}

// TimeAt returns the capture time of the chunk holding offset.
func (idx *Index) TimeAt(offset int64) time.Time {
	if idx == nil || len(idx.starts) == 0 || offset < 0 {
		return time.Time{}
	}
	i := sort.Search(len(idx.starts), func(i int) bool { return idx.starts[i] > offset })
	if i == 0 {
		return time.Time{}
	}
	return idx.times[i-1]
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.starts)
}

// IsCaptureLog reports whether data looks like a capture log rather than raw
// receiver bytes: the first non-comment line is START.
func IsCaptureLog(data []byte) bool {
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		s := bytes.TrimSpace(line)
		if len(s) == 0 || s[0] == '#' {
			continue
		}
		return bytes.Equal(s, []byte("START")) || bytes.HasPrefix(s, []byte("START "))
	}
	return false
}

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

// CreateWriter starts a capture log whose START line records start.
func CreateWriter(path string, start time.Time) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := fmt.Fprintf(bw, "START %s\n", start.UTC().Format(time.RFC3339Nano)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: start}, nil
}

func (ww *Writer) WriteChunk(now time.Time, chunk []byte) error {
	if ww.closed {
		return errors.New("capture writer is closed")
	}
	if len(chunk) == 0 {
		return errors.New("chunk is empty")
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	if _, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), hex.EncodeToString(chunk)); err != nil {
		return err
	}
	return nil
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}
