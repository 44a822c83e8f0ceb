package ubx

// strongCNo is the dBHz level above which a satellite counts as strong.
const strongCNo = 40

// CNoStats summarizes carrier-to-noise density for one constellation.
type CNoStats struct {
	Count  int
	Avg    float64
	Max    uint8
	Strong int // satellites with CNo > 40 dBHz
}

// CNoSummary holds per-constellation statistics for one epoch. Constellations
// with no tracked satellites are absent.
type CNoSummary map[GNSS]CNoStats

// SummarizeCNo aggregates the satellites of one epoch. Satellites with zero
// CNo are not being tracked and are ignored.
func SummarizeCNo(sats []SatRecord) CNoSummary {
	if len(sats) == 0 {
		return nil
	}
	sums := map[GNSS]int{}
	out := CNoSummary{}
	for _, s := range sats {
		if s.CNo == 0 {
			continue
		}
		st := out[s.GNSS]
		st.Count++
		if s.CNo > st.Max {
			st.Max = s.CNo
		}
		if s.CNo > strongCNo {
			st.Strong++
		}
		sums[s.GNSS] += int(s.CNo)
		out[s.GNSS] = st
	}
	for g, st := range out {
		st.Avg = float64(sums[g]) / float64(st.Count)
		out[g] = st
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Get returns the statistics for g and whether any satellite was tracked.
func (s CNoSummary) Get(g GNSS) (CNoStats, bool) {
	st, ok := s[g]
	return st, ok
}

// mapConstellations are the constellations whose maxima feed MeanMax.
var mapConstellations = []GNSS{GPS, SBAS, Galileo, BeiDou, GLONASS}

// MeanMax averages the per-constellation maxima of GPS, SBAS, Galileo,
// BeiDou and GLONASS, as used for map colouring.
func (s CNoSummary) MeanMax() (float64, bool) {
	total, n := 0, 0
	for _, g := range mapConstellations {
		if st, ok := s[g]; ok {
			total += int(st.Max)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return float64(total) / float64(n), true
}
