package sim

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"covlog/internal/capture"
	"covlog/internal/modem"
	"covlog/internal/ubx"
)

// File names written by Generate.
const (
	GNSSFile  = "gnss.log"
	ModemFile = "modem.log"
)

// captureLatency is how long after the epoch the logger receives a frame.
const captureLatency = 40 * time.Millisecond

// modemLayout is the transcript timestamp; lines are written in UTC.
const modemLayout = "2006-01-02 15:04:05.000"

type Files struct {
	GNSS  string
	Modem string
}

// Generate writes a GNSS capture log and a modem transcript for scn into dir.
func Generate(dir string, scn *Scenario) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create simulate dir: %w", err)
	}
	files := Files{
		GNSS:  filepath.Join(dir, GNSSFile),
		Modem: filepath.Join(dir, ModemFile),
	}
	if err := writeGNSS(files.GNSS, scn); err != nil {
		return Files{}, err
	}
	if err := writeModem(files.Modem, scn); err != nil {
		return Files{}, err
	}
	return files, nil
}

func writeGNSS(path string, scn *Scenario) error {
	start := scn.Start()
	w, err := capture.CreateWriter(path, start)
	if err != nil {
		return fmt.Errorf("create gnss log: %w", err)
	}
	gs := scn.script.GNSS
	n := 0
	for t := time.Duration(0); t <= scn.Duration(); t += gs.Interval {
		now := start.Add(t)
		st := scn.StateAt(t)
		fixed := t >= gs.FixAfter

		nav := NavEpoch(now, st, fixed, gs.Satellites)
		chunk := ubx.EncodeNavPVT(nav)
		chunk = append(chunk, ubx.EncodeNavSat(nav.ITOW, Satellites(st.CNo, gs.Satellites, nav.NumSV))...)
		if n%10 == 0 {
			status := ubx.StatusRecord{ITOW: nav.ITOW, MSSS: t + 5*time.Second}
			if fixed {
				status.GPSFix = 3
				status.TTFF = gs.FixAfter
			}
			chunk = append(chunk, ubx.EncodeNavStatus(status)...)
		}
		if err := w.WriteChunk(now.Add(captureLatency), chunk); err != nil {
			_ = w.Close()
			return fmt.Errorf("write gnss log: %w", err)
		}
		n++
	}
	return w.Close()
}

// NavEpoch builds the navigation solution reported at now. Before the first
// fix only the time of week is known.
func NavEpoch(now time.Time, st State, fixed bool, sats int) ubx.NavRecord {
	nav := ubx.NavRecord{
		ITOW: ubx.ITOWFromUTC(now),
		Fix:  ubx.FixNone,
	}
	if !fixed {
		return nav
	}
	nav.UTC = now.UTC()
	nav.UTCValid = true
	nav.Fix = ubx.Fix3D
	nav.GNSSFixOK = true
	nav.Position = &ubx.Position{LatDeg: st.LatDeg, LonDeg: st.LonDeg, HeightMSL: st.AltM}
	nav.HAcc = 2.5
	nav.VAcc = 4
	nav.NumSV = sats * 3 / 4
	nav.GroundSpeed = st.SpeedMps
	nav.HeadMotion = st.HeadingDeg
	nav.PDOP = 1.4
	return nav
}

var satSystems = []ubx.GNSS{ubx.GPS, ubx.Galileo, ubx.GLONASS, ubx.BeiDou}

// Satellites spreads count satellites over four constellations with C/N0
// scattered around cno. The first used satellites are flagged as used.
func Satellites(cno float64, count, used int) []ubx.SatRecord {
	out := make([]ubx.SatRecord, 0, count)
	for i := 0; i < count; i++ {
		c := cno + float64(i%5-2)*3
		out = append(out, ubx.SatRecord{
			GNSS:    satSystems[i%len(satSystems)],
			SvID:    uint8(i/len(satSystems) + 1),
			CNo:     uint8(clamp(math.Round(c), 0, 60)),
			Elev:    int8(15 + (i*7)%70),
			Azim:    int16((i * 37) % 360),
			Used:    i < used,
			Quality: 7,
		})
	}
	return out
}

type modemLine struct {
	at   time.Duration
	text string
}

func writeModem(path string, scn *Scenario) (err error) {
	ms := scn.script.Modem
	var lines []modemLine
	add := func(at time.Duration, texts ...string) {
		for _, t := range texts {
			lines = append(lines, modemLine{at: at, text: t})
		}
	}

	for _, r := range ms.Registration {
		if r.T > scn.Duration() {
			continue
		}
		add(r.T, "AT+CEREG?", fmt.Sprintf("+CEREG: 0,%d", r.Stat), "OK")
	}
	for t := time.Duration(0); t <= scn.Duration(); t += ms.Interval {
		sig := scn.StateAt(t).Signal
		switch ms.Command {
		case "cesq":
			add(t, "AT+CESQ", CESQLine(sig), "OK")
		default:
			add(t, "AT#RFSTS", RFSTSLine(sig), "OK")
		}
	}
	for _, e := range ms.Events {
		switch e.event() {
		case modem.EventFlightMode:
			add(e.T, "'#Flight Mode Active...'")
		case modem.EventPumping:
			add(e.T, "'#Pumping Data To Server...'")
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].at < lines[j].at })

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create modem log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	bw := bufio.NewWriter(f)
	start := scn.Start().UTC().Add(ms.Offset)
	for _, l := range lines {
		if _, err := fmt.Fprintf(bw, "%s %s\n", start.Add(l.at).Format(modemLayout), l.text); err != nil {
			return fmt.Errorf("write modem log: %w", err)
		}
	}
	return bw.Flush()
}

// RFSTSLine renders an LTE #RFSTS response carrying sig.
func RFSTSLine(sig SignalKeyframe) string {
	sinr := int(clamp(math.Round((sig.SINR+20)*5), 0, 250))
	return fmt.Sprintf(`#RFSTS: "262 01",1300,%.0f,%.0f,%.0f,2B03,255,,128,19,0,0B2D3C1,"262011234567890","Telekom.de",3,2,720,3240,%d`,
		sig.RSRP, sig.RSSI, sig.RSRQ, sinr)
}

// CESQLine renders a +CESQ response carrying the LTE fields of sig.
func CESQLine(sig SignalKeyframe) string {
	rsrq := int(clamp(math.Round((sig.RSRQ+20)*2), 0, 34))
	rsrp := int(clamp(math.Round(sig.RSRP+141), 0, 97))
	return fmt.Sprintf("+CESQ: 99,99,255,255,%d,%d", rsrq, rsrp)
}
