package modem

import "fmt"

// unmatchedLine is a transcript line no response form recognised.
type unmatchedLine struct {
	line int
	text string
}

// tailBuffer is a ring of the last unmatched lines, kept with their line
// numbers for the run summary.
type tailBuffer struct {
	ring     []unmatchedLine
	next     int
	full     bool
	maxBytes int
}

func newTailBuffer(size, maxBytes int) *tailBuffer {
	if size < 0 {
		size = 0
	}
	if maxBytes <= 0 {
		maxBytes = 256
	}
	return &tailBuffer{ring: make([]unmatchedLine, size), maxBytes: maxBytes}
}

func (t *tailBuffer) add(line int, text string) {
	if t == nil || len(t.ring) == 0 {
		return
	}
	if len(text) > t.maxBytes {
		text = text[:t.maxBytes]
	}
	t.ring[t.next] = unmatchedLine{line: line, text: text}
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
}

// lines returns the kept lines oldest first as "line N: text".
func (t *tailBuffer) lines() []string {
	if t == nil {
		return nil
	}
	kept := t.ring[:t.next]
	if t.full {
		kept = append(append([]unmatchedLine{}, t.ring[t.next:]...), t.ring[:t.next]...)
	}
	out := make([]string, len(kept))
	for i, u := range kept {
		out[i] = fmt.Sprintf("line %d: %s", u.line, u.text)
	}
	return out
}
