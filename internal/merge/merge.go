// Package merge aligns normalized GNSS and modem records into one table.
package merge

import (
	"fmt"
	"sort"
	"time"
)

const (
	minTolerance      = 100 * time.Millisecond
	fallbackTolerance = time.Second
)

type Options struct {
	Mode Mode
	// Tolerance is the largest |Δt| at which a modem record joins a GNSS
	// record. Zero derives it from the inputs.
	Tolerance time.Duration
}

// Merge joins each GNSS record with the nearest unconsumed modem record
// within the tolerance window; earlier modem records win ties. Modem records
// left over become modem-only rows interleaved by time. Runs of records that
// go backwards in time are moved to Table.Segments and reported in
// Table.Errors rather than joined.
func Merge(gnss []GNSSInput, mods []ModemInput, opts Options) (Table, error) {
	if opts.Tolerance < 0 {
		return Table{}, fmt.Errorf("merge tolerance must be >= 0, got %s", opts.Tolerance)
	}
	if opts.Mode != Union && opts.Mode != IntersectNonEmpty {
		return Table{}, fmt.Errorf("unknown merge mode %d", int(opts.Mode))
	}

	var t Table
	gKeep, gSpans := monotonic(len(gnss), func(i int) time.Duration { return gnss[i].At })
	mKeep, mSpans := monotonic(len(mods), func(i int) time.Duration { return mods[i].At })

	for _, sp := range gSpans {
		seg := Segment{Source: SourceGNSS, Index: sp.start}
		for i := sp.start; i < sp.end; i++ {
			seg.Rows = append(seg.Rows, gnssRow(gnss[i], nil))
		}
		t.addSegment(seg, sp)
	}
	for _, sp := range mSpans {
		seg := Segment{Source: SourceModem, Index: sp.start}
		for i := sp.start; i < sp.end; i++ {
			seg.Rows = append(seg.Rows, modemRow(mods[i]))
		}
		t.addSegment(seg, sp)
	}

	g := make([]GNSSInput, 0, len(gKeep))
	for _, i := range gKeep {
		g = append(g, gnss[i])
	}
	m := make([]ModemInput, 0, len(mKeep))
	for _, i := range mKeep {
		m = append(m, mods[i])
	}

	t.Tolerance = opts.Tolerance
	if t.Tolerance == 0 {
		t.Tolerance = deriveTolerance(g, m)
	}

	consumed := make([]bool, len(m))
	gRows := make([]Row, 0, len(g))
	for _, rec := range g {
		j := nearest(m, consumed, rec.At, t.Tolerance)
		if j < 0 {
			gRows = append(gRows, gnssRow(rec, nil))
			continue
		}
		consumed[j] = true
		gRows = append(gRows, gnssRow(rec, &m[j]))
	}

	mRows := make([]Row, 0, len(m))
	for j := range m {
		if !consumed[j] {
			mRows = append(mRows, modemRow(m[j]))
		}
	}

	rows := interleave(gRows, mRows)
	t.Rows = rows[:0]
	for _, r := range rows {
		if opts.Mode == IntersectNonEmpty && (r.Modem == nil || !r.Modem.Record.HasData()) {
			t.Stats.Dropped++
			continue
		}
		switch r.Sides {
		case Both:
			t.Stats.Joined++
		case GNSSOnly:
			t.Stats.GNSSOnly++
		case ModemOnly:
			t.Stats.ModemOnly++
		}
		t.Rows = append(t.Rows, r)
	}
	return t, nil
}

func (t *Table) addSegment(seg Segment, sp span) {
	t.Segments = append(t.Segments, seg)
	t.Stats.SetAside += sp.end - sp.start
	t.Errors = append(t.Errors, &MergeError{Kind: NonMonotonicInput, Source: seg.Source, Index: sp.start, Count: sp.end - sp.start})
}

type span struct{ start, end int }

// monotonic splits indices into the non-decreasing main sequence and the
// spans that fall below the running maximum until the source catches up.
func monotonic(n int, at func(int) time.Duration) ([]int, []span) {
	keep := make([]int, 0, n)
	var spans []span
	var hi time.Duration
	for i := 0; i < n; i++ {
		if i > 0 && at(i) < hi {
			if len(spans) > 0 && spans[len(spans)-1].end == i {
				spans[len(spans)-1].end = i + 1
			} else {
				spans = append(spans, span{start: i, end: i + 1})
			}
			continue
		}
		hi = at(i)
		keep = append(keep, i)
	}
	return keep, spans
}

// nearest returns the index of the closest unconsumed modem record within
// tol of at, or -1.
func nearest(m []ModemInput, consumed []bool, at, tol time.Duration) int {
	lo := sort.Search(len(m), func(i int) bool { return m[i].At >= at-tol })
	best := -1
	var bestD time.Duration
	for j := lo; j < len(m) && m[j].At <= at+tol; j++ {
		if consumed[j] {
			continue
		}
		d := m[j].At - at
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestD {
			best, bestD = j, d
		}
	}
	return best
}

// deriveTolerance is half the slower source's median sampling interval.
func deriveTolerance(g []GNSSInput, m []ModemInput) time.Duration {
	gi := medianInterval(len(g), func(i int) time.Duration { return g[i].At })
	mi := medianInterval(len(m), func(i int) time.Duration { return m[i].At })
	slow := max(gi, mi)
	if slow <= 0 {
		return fallbackTolerance
	}
	return max(slow/2, minTolerance)
}

func medianInterval(n int, at func(int) time.Duration) time.Duration {
	if n < 2 {
		return 0
	}
	d := make([]time.Duration, 0, n-1)
	for i := 1; i < n; i++ {
		d = append(d, at(i)-at(i-1))
	}
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
	return d[len(d)/2]
}

// interleave merges two At-ordered row lists, GNSS rows first on ties.
func interleave(g, m []Row) []Row {
	out := make([]Row, 0, len(g)+len(m))
	i, j := 0, 0
	for i < len(g) && j < len(m) {
		if g[i].At <= m[j].At {
			out = append(out, g[i])
			i++
		} else {
			out = append(out, m[j])
			j++
		}
	}
	out = append(out, g[i:]...)
	return append(out, m[j:]...)
}

func gnssRow(g GNSSInput, m *ModemInput) Row {
	side := g.GNSSSide
	r := Row{At: g.At, Time: g.Time, Nav: &side, Sides: GNSSOnly}
	if m != nil {
		ms := m.ModemSide
		r.Modem = &ms
		r.Sides = Both
		if r.Time.IsZero() {
			r.Time = m.Time
		}
	}
	return r
}

func modemRow(m ModemInput) Row {
	ms := m.ModemSide
	return Row{At: m.At, Time: m.Time, Modem: &ms, Sides: ModemOnly}
}
