// Package track extracts the positioned path from a merged table.
package track

import (
	"iter"
	"sync/atomic"
	"time"

	"covlog/internal/merge"
	"covlog/internal/modem"
)

// DefaultBin is the averaging window used for map output.
const DefaultBin = 10 * time.Second

// Point is one positioned sample of the drive.
type Point struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Time time.Time
	At   time.Duration

	// Quality is the modem score of the joined record, when there was one.
	Quality    float64
	HasQuality bool
	// MaxCNo is the mean of the per-constellation maximum CNo.
	MaxCNo float64
	HasCNo bool
}

// Extract returns the points of rows that carry a GNSS position, in table
// order. The sequence can be ranged over once; later ranges yield nothing.
func Extract(rows []merge.Row) iter.Seq[Point] {
	var used atomic.Bool
	return func(yield func(Point) bool) {
		if used.Swap(true) {
			return
		}
		for _, r := range rows {
			p, ok := pointFromRow(r)
			if !ok {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

func pointFromRow(r merge.Row) (Point, bool) {
	if r.Nav == nil || !r.Nav.Record.HasPosition() {
		return Point{}, false
	}
	pos := r.Nav.Record.Position
	p := Point{
		Lat:  pos.LatDeg,
		Lon:  pos.LonDeg,
		Alt:  pos.HeightMSL,
		Time: r.Time,
		At:   r.At,
	}
	if r.Modem != nil {
		p.Quality, p.HasQuality = modem.Quality(r.Modem.Record)
	}
	p.MaxCNo, p.HasCNo = r.Nav.CNo.MeanMax()
	return p, true
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[Point]) []Point {
	var out []Point
	for p := range seq {
		out = append(out, p)
	}
	return out
}

// Bin averages points falling into the same width-sized window of elapsed
// time. Quality and CNo are averaged over the points that carry them.
// width <= 0 uses DefaultBin.
func Bin(points []Point, width time.Duration) []Point {
	if width <= 0 {
		width = DefaultBin
	}
	type acc struct {
		key           int64
		n, nq, nc     int
		lat, lon, alt float64
		quality, cno  float64
		first         Point
	}
	var bins []*acc
	byKey := map[int64]*acc{}
	for _, p := range points {
		k := int64(p.At / width)
		if p.At < 0 && p.At%width != 0 {
			k--
		}
		a, ok := byKey[k]
		if !ok {
			a = &acc{key: k, first: p}
			byKey[k] = a
			bins = append(bins, a)
		}
		a.n++
		a.lat += p.Lat
		a.lon += p.Lon
		a.alt += p.Alt
		if p.HasQuality {
			a.nq++
			a.quality += p.Quality
		}
		if p.HasCNo {
			a.nc++
			a.cno += p.MaxCNo
		}
	}

	out := make([]Point, 0, len(bins))
	for _, a := range bins {
		start := time.Duration(a.key) * width
		p := Point{
			Lat: a.lat / float64(a.n),
			Lon: a.lon / float64(a.n),
			Alt: a.alt / float64(a.n),
			At:  start,
		}
		if !a.first.Time.IsZero() {
			p.Time = a.first.Time.Add(start - a.first.At)
		}
		if a.nq > 0 {
			p.Quality, p.HasQuality = a.quality/float64(a.nq), true
		}
		if a.nc > 0 {
			p.MaxCNo, p.HasCNo = a.cno/float64(a.nc), true
		}
		out = append(out, p)
	}
	return out
}

// Color buckets a quality score for map markers.
func Color(quality float64) string {
	switch {
	case quality <= 20:
		return "red"
	case quality <= 30:
		return "orange"
	case quality <= 40:
		return "lightgreen"
	}
	return "green"
}
