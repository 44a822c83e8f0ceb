// Package timebase places GNSS and modem records on one elapsed-time axis.
//
// Each source carries a native clock (receiver UTC or time of week for GNSS,
// the logger's capture stamp for the modem) and, when the log recorded it, a
// capture clock. Native time is trusted until it runs backwards or drifts
// from the capture clock by more than JumpThreshold; GNSS records then fall
// back to the capture clock and are flagged Corrected.
package timebase

import (
	"time"

	"covlog/internal/modem"
	"covlog/internal/ubx"
)

// DefaultJumpThreshold is the largest clock disagreement tolerated before a
// native timestamp is rejected.
const DefaultJumpThreshold = 2 * time.Second

const gpsWeek = 7 * 24 * time.Hour

// Stamped pairs a record with its normalized time.
type Stamped[T any] struct {
	Rec T
	// At is the elapsed time since the session origin.
	At time.Duration
	// Time is the absolute instant, zero when the source has no wall clock.
	Time time.Time
	// Corrected is set when the native time was replaced.
	Corrected bool
	// Clamped is set when a small backwards step was held at the previous value.
	Clamped bool
}

// Anchor describes how GNSS time of week was tied to absolute time.
type Anchor int

const (
	AnchorNone Anchor = iota
	AnchorUTC
	AnchorCapture
)

func (a Anchor) String() string {
	switch a {
	case AnchorUTC:
		return "utc"
	case AnchorCapture:
		return "capture"
	default:
		return "none"
	}
}

type Stats struct {
	NavCorrected   int
	NavClamped     int
	ModemClamped   int
	ModemRegressed int // backwards steps kept for the merger to isolate
}

type Result struct {
	Origin time.Time
	Nav    []Stamped[ubx.NavRecord]
	Modem  []Stamped[modem.Record]
	Anchor Anchor
	// Relative is set when GNSS time could not be tied to a wall clock; its
	// At values then count from the first GNSS record.
	Relative bool
	Stats    Stats
}

type Normalizer struct {
	JumpThreshold time.Duration
	// PreferCapture uses the GNSS capture time as native time when present.
	PreferCapture bool
}

func (n Normalizer) threshold() time.Duration {
	if n.JumpThreshold <= 0 {
		return DefaultJumpThreshold
	}
	return n.JumpThreshold
}

// Normalize stamps both sources against the earliest instant either reports.
func (n Normalizer) Normalize(navs []ubx.NavRecord, mods []modem.Record) Result {
	var res Result
	navTimes, navAbs := n.placeNav(navs, &res)
	modTimes := n.placeModem(mods, &res)

	var origin time.Time
	have := false
	consider := func(t time.Time) {
		if !have || t.Before(origin) {
			origin, have = t, true
		}
	}
	if navAbs {
		for _, p := range navTimes {
			consider(p.t)
		}
	}
	for _, p := range modTimes {
		consider(p.t)
	}
	res.Origin = origin

	navOrigin := origin
	if !navAbs {
		res.Relative = len(navs) > 0
		if len(navTimes) > 0 {
			navOrigin = navTimes[0].t
			for _, p := range navTimes {
				if p.t.Before(navOrigin) {
					navOrigin = p.t
				}
			}
		}
	}

	res.Nav = make([]Stamped[ubx.NavRecord], len(navs))
	for i, p := range navTimes {
		s := Stamped[ubx.NavRecord]{Rec: navs[i], At: p.t.Sub(navOrigin), Corrected: p.corrected, Clamped: p.clamped}
		if navAbs {
			s.Time = p.t
		}
		res.Nav[i] = s
	}
	res.Modem = make([]Stamped[modem.Record], len(mods))
	for i, p := range modTimes {
		res.Modem[i] = Stamped[modem.Record]{Rec: mods[i], At: p.t.Sub(origin), Time: p.t, Clamped: p.clamped}
	}
	return res
}

// NormalizeNav stamps GNSS records alone.
func (n Normalizer) NormalizeNav(navs []ubx.NavRecord) Result {
	return n.Normalize(navs, nil)
}

// NormalizeModem stamps modem records alone.
func (n Normalizer) NormalizeModem(mods []modem.Record) Result {
	return n.Normalize(nil, mods)
}

type placed struct {
	t         time.Time
	corrected bool
	clamped   bool
}

// placeNav returns absolute instants and whether they are tied to a wall clock.
func (n Normalizer) placeNav(navs []ubx.NavRecord, res *Result) ([]placed, bool) {
	if len(navs) == 0 {
		return nil, true
	}
	week, anchor := weekAnchor(navs)
	res.Anchor = anchor
	if anchor == AnchorNone {
		week = time.Time{}
	}

	clock := sourceClock{threshold: n.threshold(), fallback: true}
	out := make([]placed, len(navs))
	var prevITOW uint32
	for i, nav := range navs {
		if i > 0 {
			week = rollWeek(week, prevITOW, nav.ITOW)
		}
		prevITOW = nav.ITOW

		native := week.Add(time.Duration(nav.ITOW) * time.Millisecond)
		if nav.UTCValid {
			native = nav.UTC
		}
		if n.PreferCapture && !nav.CaptureTime.IsZero() {
			native = nav.CaptureTime
		}
		p := clock.place(native, true, nav.CaptureTime)
		if p.corrected {
			res.Stats.NavCorrected++
		}
		if p.clamped {
			res.Stats.NavClamped++
		}
		out[i] = p
	}
	return out, anchor != AnchorNone
}

// weekAnchor finds the start of the GNSS week from the first record with
// valid UTC, or failing that the first record with a capture time.
func weekAnchor(navs []ubx.NavRecord) (time.Time, Anchor) {
	for _, nav := range navs {
		if nav.UTCValid {
			return nav.UTC.Add(-time.Duration(nav.ITOW) * time.Millisecond), AnchorUTC
		}
	}
	for _, nav := range navs {
		if !nav.CaptureTime.IsZero() {
			return nav.CaptureTime.Add(-time.Duration(nav.ITOW) * time.Millisecond), AnchorCapture
		}
	}
	return time.Time{}, AnchorNone
}

// rollWeek advances week when time of week wraps at the end of a GNSS week.
func rollWeek(week time.Time, prev, cur uint32) time.Time {
	half := uint32(gpsWeek / time.Millisecond / 2)
	switch {
	case cur < prev && prev-cur > half:
		return week.Add(gpsWeek)
	case cur > prev && cur-prev > half:
		return week.Add(-gpsWeek)
	}
	return week
}

func (n Normalizer) placeModem(mods []modem.Record, res *Result) []placed {
	clock := sourceClock{threshold: n.threshold()}
	out := make([]placed, len(mods))
	for i, m := range mods {
		p := clock.place(m.CaptureTime, !m.CaptureTime.IsZero(), time.Time{})
		if p.clamped {
			res.Stats.ModemClamped++
		}
		if i > 0 && p.t.Before(out[i-1].t) {
			res.Stats.ModemRegressed++
		}
		out[i] = p
	}
	return out
}

// sourceClock tracks one source's emitted timeline.
type sourceClock struct {
	threshold time.Duration
	// fallback allows replacing rejected native time with the capture clock.
	// Without it large regressions are kept as reported.
	fallback bool

	have bool
	last time.Time

	haveCapture bool
	lastCapture time.Time

	havePair          bool
	lastNative        time.Time
	lastNativeCapture time.Time
}

func (c *sourceClock) place(native time.Time, hasNative bool, capture time.Time) placed {
	hasCapture := !capture.IsZero()

	accept := hasNative
	if accept && c.have && native.Before(c.last.Add(-c.threshold)) {
		accept = false
	}
	if accept && c.havePair && hasCapture {
		expected := c.lastNative.Add(capture.Sub(c.lastNativeCapture))
		if d := native.Sub(expected); d > c.threshold || d < -c.threshold {
			accept = false
		}
	}

	var p placed
	switch {
	case accept:
		p.t = native
		if c.have && p.t.Before(c.last) {
			p.t = c.last
			p.clamped = true
		}
	case !c.fallback && hasNative:
		p.t = native
	case hasCapture && c.have && c.haveCapture:
		p.t = c.last.Add(capture.Sub(c.lastCapture))
		p.corrected = true
	case hasCapture && !c.have:
		p.t = capture
		p.corrected = true
	default:
		p.t = c.last
		p.corrected = true
	}
	if c.fallback && c.have && p.t.Before(c.last) {
		p.t = c.last
	}

	c.have = true
	c.last = p.t
	if hasCapture {
		c.haveCapture = true
		c.lastCapture = capture
	}
	if accept && hasCapture {
		c.havePair = true
		c.lastNative = native
		c.lastNativeCapture = capture
	}
	return p
}
