package sim

import (
	"math"
	"time"
)

// Loop is a figure-eight drive around a center point, used when a script has
// no route keyframes.
type Loop struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	AltM         float64       `yaml:"alt_m"`
	RadiusM      float64       `yaml:"radius_m"`
	Period       time.Duration `yaml:"period"`
}

const metersPerDegLat = 111_320.0

func (l Loop) period() time.Duration {
	if l.Period <= 0 {
		return 10 * time.Minute
	}
	return l.Period
}

func (l Loop) radiusM() float64 {
	if l.RadiusM <= 0 {
		return 1500
	}
	return l.RadiusM
}

// Position returns the loop position and heading at elapsed.
func (l Loop) Position(elapsed time.Duration) (latDeg, lonDeg, headingDeg float64) {
	period := l.period()
	radiusDeg := l.radiusM() / metersPerDegLat

	phase := float64(elapsed%period) / float64(period)
	// x = cos(2πt), y = 0.5*sin(4πt) keeps the path inside the radius.
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = l.CenterLatDeg + radiusDeg*y
	lonDeg = l.CenterLonDeg + (radiusDeg*x)/math.Cos(l.CenterLatDeg*math.Pi/180.0)

	vx := -2 * math.Pi * math.Sin(w)
	vy := 2 * math.Pi * math.Cos(2*w)
	headingDeg = math.Mod((math.Atan2(vx, vy)*180/math.Pi)+360, 360)
	return latDeg, lonDeg, headingDeg
}

// Keyframes samples the loop every step over duration.
func (l Loop) Keyframes(duration, step time.Duration) []RouteKeyframe {
	if step <= 0 {
		step = 10 * time.Second
	}
	// Average speed over one lap of the figure-eight, about 2.4 radii.
	speed := 2.4 * 2 * l.radiusM() / l.period().Seconds()
	var out []RouteKeyframe
	for t := time.Duration(0); t <= duration; t += step {
		lat, lon, hdg := l.Position(t)
		out = append(out, RouteKeyframe{
			T:          t,
			LatDeg:     lat,
			LonDeg:     lon,
			AltM:       l.AltM,
			SpeedMps:   speed,
			HeadingDeg: hdg,
		})
	}
	return out
}
