package sim

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"covlog/internal/modem"
)

// Script is a deterministic description of a synthetic drive test: a GNSS
// route and the modem signal seen along it.
//
// YAML schema (v1):
//
//	version: 1
//	start: 2024-05-01T10:00:00Z
//	duration: 10m
//	gnss:
//	  interval: 1s
//	  fix_after: 20s
//	  satellites: 12
//	  route:
//	    - {t: 0s, lat_deg: 52.52, lon_deg: 13.40, alt_m: 40, speed_mps: 12, heading_deg: 90, cno_dbhz: 38}
//	  loop: {center_lat_deg: 52.52, center_lon_deg: 13.40, radius_m: 1500, period: 10m}
//	modem:
//	  interval: 2s
//	  offset: 300ms
//	  command: rfsts
//	  signal:
//	    - {t: 0s, rsrp: -90, rsrq: -9, rssi: -65, sinr: 12}
//	  registration:
//	    - {t: 0s, stat: 2}
//	  events:
//	    - {t: 60s, kind: flight-mode}
//	cells: {center_lat_deg: 52.52, center_lon_deg: 13.40, radius_m: 2500, count: 3}
//
// route takes precedence over loop. Without signal keyframes the modem
// metrics are derived from the distance to the nearest cell site.
type Script struct {
	Version  int           `yaml:"version"`
	Start    time.Time     `yaml:"start"`
	Duration time.Duration `yaml:"duration"`
	GNSS     GNSSScript    `yaml:"gnss"`
	Modem    ModemScript   `yaml:"modem"`
	Cells    CellLayout    `yaml:"cells"`
}

type GNSSScript struct {
	Interval time.Duration `yaml:"interval"`
	// FixAfter is the time to first fix; epochs before it report no fix.
	FixAfter   time.Duration   `yaml:"fix_after"`
	Satellites int             `yaml:"satellites"`
	Route      []RouteKeyframe `yaml:"route"`
	Loop       Loop            `yaml:"loop"`
}

type ModemScript struct {
	Interval time.Duration `yaml:"interval"`
	// Offset shifts the modem clock relative to the GNSS clock.
	Offset time.Duration `yaml:"offset"`
	// Command is rfsts (AT#RFSTS) or cesq (AT+CESQ).
	Command      string               `yaml:"command"`
	Signal       []SignalKeyframe     `yaml:"signal"`
	Registration []RegistrationChange `yaml:"registration"`
	Events       []EventMark          `yaml:"events"`
}

type RouteKeyframe struct {
	T          time.Duration `yaml:"t"`
	LatDeg     float64       `yaml:"lat_deg"`
	LonDeg     float64       `yaml:"lon_deg"`
	AltM       float64       `yaml:"alt_m"`
	SpeedMps   float64       `yaml:"speed_mps"`
	HeadingDeg float64       `yaml:"heading_deg"`
	CNo        float64       `yaml:"cno_dbhz"`
}

type SignalKeyframe struct {
	T    time.Duration `yaml:"t"`
	RSRP float64       `yaml:"rsrp"`
	RSRQ float64       `yaml:"rsrq"`
	RSSI float64       `yaml:"rssi"`
	SINR float64       `yaml:"sinr"`
}

// RegistrationChange sets the +CEREG <stat> reported from T on.
type RegistrationChange struct {
	T    time.Duration `yaml:"t"`
	Stat int           `yaml:"stat"`
}

// EventMark is a pump logger marker.
type EventMark struct {
	T time.Duration `yaml:"t"`
	// Kind is flight-mode or pumping.
	Kind string `yaml:"kind"`
}

func (e EventMark) event() modem.Event {
	switch e.Kind {
	case modem.EventFlightMode.String():
		return modem.EventFlightMode
	case modem.EventPumping.String():
		return modem.EventPumping
	}
	return modem.EventNone
}

func (k RouteKeyframe) at() time.Duration      { return k.T }
func (k SignalKeyframe) at() time.Duration     { return k.T }
func (k RegistrationChange) at() time.Duration { return k.T }
func (k EventMark) at() time.Duration          { return k.T }

type keyframe interface{ at() time.Duration }

// Scenario is the validated, runtime form of a Script.
type Scenario struct {
	script   Script
	route    []RouteKeyframe
	duration time.Duration
}

// LoadScript reads and unmarshals a YAML script from path.
func LoadScript(path string) (Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScriptYAML(b)
}

func ParseScriptYAML(b []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Script{}, err
	}
	return s, nil
}

// DefaultScript is a ten minute loop with a registration change and both
// pump markers.
func DefaultScript() Script {
	return Script{
		Version:  1,
		Start:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Duration: 10 * time.Minute,
		GNSS: GNSSScript{
			Interval:   time.Second,
			FixAfter:   20 * time.Second,
			Satellites: 12,
			Loop:       Loop{CenterLatDeg: 52.52, CenterLonDeg: 13.405, AltM: 40, RadiusM: 1500, Period: 10 * time.Minute},
		},
		Modem: ModemScript{
			Interval: 2 * time.Second,
			Offset:   300 * time.Millisecond,
			Command:  "rfsts",
			Registration: []RegistrationChange{
				{T: 0, Stat: 2},
				{T: 15 * time.Second, Stat: 1},
			},
			Events: []EventMark{
				{T: time.Minute, Kind: modem.EventFlightMode.String()},
				{T: 5 * time.Minute, Kind: modem.EventPumping.String()},
			},
		},
		Cells: CellLayout{CenterLatDeg: 52.52, CenterLonDeg: 13.405, RadiusM: 2500, Count: 3},
	}
}

// NewScenario fills defaults, validates script and returns a runtime Scenario.
func NewScenario(script Script) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if script.Start.IsZero() {
		script.Start = DefaultScript().Start
	}
	if script.GNSS.Interval <= 0 {
		script.GNSS.Interval = time.Second
	}
	if script.GNSS.Satellites <= 0 {
		script.GNSS.Satellites = 12
	}
	if script.Modem.Interval <= 0 {
		script.Modem.Interval = 2 * time.Second
	}
	script.Modem.Command = strings.ToLower(script.Modem.Command)
	switch script.Modem.Command {
	case "":
		script.Modem.Command = "rfsts"
	case "rfsts", "cesq":
	default:
		return nil, fmt.Errorf("modem.command must be 'rfsts' or 'cesq'")
	}

	if err := validateSorted("gnss.route", script.GNSS.Route); err != nil {
		return nil, err
	}
	if err := validateSorted("modem.signal", script.Modem.Signal); err != nil {
		return nil, err
	}
	if err := validateSorted("modem.registration", script.Modem.Registration); err != nil {
		return nil, err
	}
	if err := validateSorted("modem.events", script.Modem.Events); err != nil {
		return nil, err
	}
	for i, e := range script.Modem.Events {
		if e.event() == modem.EventNone {
			return nil, fmt.Errorf("modem.events[%d].kind must be 'flight-mode' or 'pumping'", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = maxKeyframeTime(script)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or derivable from keyframes)")
	}

	route := script.GNSS.Route
	if len(route) == 0 {
		route = script.GNSS.Loop.Keyframes(dur, 10*time.Second)
	}
	return &Scenario{script: script, route: route, duration: dur}, nil
}

func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

func (s *Scenario) Start() time.Time { return s.script.Start }

// State is the computed scenario state at one instant.
type State struct {
	LatDeg     float64
	LonDeg     float64
	AltM       float64
	SpeedMps   float64
	HeadingDeg float64
	CNo        float64
	Signal     SignalKeyframe
	// Stat is the +CEREG stat in effect, -1 before the first change.
	Stat int
}

// StateAt computes the state at elapsed, clamped to [0, Duration()].
func (s *Scenario) StateAt(elapsed time.Duration) State {
	if s == nil {
		return State{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > s.duration {
		elapsed = s.duration
	}

	k0, k1, alpha := selectSegment(s.route, elapsed)
	st := State{
		LatDeg:     lerp(k0.LatDeg, k1.LatDeg, alpha),
		LonDeg:     lerp(k0.LonDeg, k1.LonDeg, alpha),
		AltM:       lerp(k0.AltM, k1.AltM, alpha),
		SpeedMps:   lerp(k0.SpeedMps, k1.SpeedMps, alpha),
		HeadingDeg: lerpAngleDeg(k0.HeadingDeg, k1.HeadingDeg, alpha),
		CNo:        lerp(k0.CNo, k1.CNo, alpha),
		Stat:       -1,
	}
	if st.CNo == 0 {
		st.CNo = 38
	}

	if sig := s.script.Modem.Signal; len(sig) > 0 {
		a, b, alpha := selectSegment(sig, elapsed)
		st.Signal = SignalKeyframe{
			T:    elapsed,
			RSRP: lerp(a.RSRP, b.RSRP, alpha),
			RSRQ: lerp(a.RSRQ, b.RSRQ, alpha),
			RSSI: lerp(a.RSSI, b.RSSI, alpha),
			SINR: lerp(a.SINR, b.SINR, alpha),
		}
	} else {
		st.Signal = s.script.Cells.Signal(st.LatDeg, st.LonDeg)
		st.Signal.T = elapsed
	}

	for _, r := range s.script.Modem.Registration {
		if r.T > elapsed {
			break
		}
		st.Stat = r.Stat
	}
	return st
}

func validateSorted[K keyframe](name string, kfs []K) error {
	for i := range kfs {
		if kfs[i].at() < 0 {
			return fmt.Errorf("%s[%d].t must be >= 0", name, i)
		}
		if i > 0 && kfs[i].at() < kfs[i-1].at() {
			return fmt.Errorf("%s must be sorted by t (index %d)", name, i)
		}
	}
	return nil
}

func maxKeyframeTime(s Script) time.Duration {
	var hi time.Duration
	note := func(t time.Duration) {
		if t > hi {
			hi = t
		}
	}
	for _, kf := range s.GNSS.Route {
		note(kf.T)
	}
	for _, kf := range s.Modem.Signal {
		note(kf.T)
	}
	for _, kf := range s.Modem.Events {
		note(kf.T)
	}
	return hi
}

func selectSegment[K keyframe](kfs []K, t time.Duration) (K, K, float64) {
	var zero K
	if len(kfs) == 0 {
		return zero, zero, 0
	}
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].at() > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.at() - k0.at()
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.at()) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func lerpAngleDeg(a0, a1, t float64) float64 {
	// Shortest path across north.
	norm := func(x float64) float64 {
		for x < 0 {
			x += 360
		}
		for x >= 360 {
			x -= 360
		}
		return x
	}
	a0 = norm(a0)
	a1 = norm(a1)
	delta := a1 - a0
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return norm(a0 + delta*t)
}
