package sim

import "math"

type CellSite struct {
	LatDeg float64
	LonDeg float64
}

// CellLayout places cell sites on a ring around a center point and derives
// a signal level from the distance to the nearest one.
type CellLayout struct {
	CenterLatDeg float64 `yaml:"center_lat_deg"`
	CenterLonDeg float64 `yaml:"center_lon_deg"`
	RadiusM      float64 `yaml:"radius_m"`
	Count        int     `yaml:"count"`
}

// Sites returns Count sites spaced evenly around the ring.
func (c CellLayout) Sites() []CellSite {
	count := c.Count
	if count <= 0 {
		count = 3
	}
	radius := c.RadiusM
	if radius <= 0 {
		radius = 2500
	}
	radiusDeg := radius / metersPerDegLat

	out := make([]CellSite, 0, count)
	for i := 0; i < count; i++ {
		theta := 2 * math.Pi * (float64(i) / float64(count))
		out = append(out, CellSite{
			LatDeg: c.CenterLatDeg + radiusDeg*math.Cos(theta),
			LonDeg: c.CenterLonDeg + radiusDeg*math.Sin(theta)/math.Cos(c.CenterLatDeg*math.Pi/180.0),
		})
	}
	return out
}

// Signal returns LTE metrics for a terminal at lat/lon using a log-distance
// path loss from the nearest site.
func (c CellLayout) Signal(latDeg, lonDeg float64) SignalKeyframe {
	best := math.Inf(1)
	for _, s := range c.Sites() {
		if d := distanceM(latDeg, lonDeg, s.LatDeg, s.LonDeg); d < best {
			best = d
		}
	}
	km := math.Max(best/1000, 0.05)
	rsrp := clamp(-75-17.5*math.Log10(km/0.1), -135, -60)
	// RSRQ and SINR degrade with RSRP.
	q := (rsrp + 135) / 75
	return SignalKeyframe{
		RSRP: math.Round(rsrp),
		RSSI: math.Round(rsrp + 25),
		RSRQ: math.Round(-19 + 14*q),
		SINR: math.Round(-5 + 30*q),
	}
}

func distanceM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * metersPerDegLat
	dLon := (lon2 - lon1) * metersPerDegLat * math.Cos(lat1*math.Pi/180.0)
	return math.Hypot(dLat, dLon)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
