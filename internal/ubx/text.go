package ubx

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"covlog/internal/capture"
)

// TextDecoder reads GNSS logs written as one parsed message per line:
//
//	2024-05-01 10:00:00:<UBX(NAV-PVT, iTOW=..., year=2024, ..., lat=51.5, lon=-0.1, hMSL=52000, ...)>
//
// Values follow the scaled units of that format: degrees for lat/lon and
// heading, millimetres for heights and accuracies, mm/s for speed and
// milliseconds for ttff/msss. The line prefix becomes the capture time and
// FrameError.Offset carries the 1-based line number.
type TextDecoder struct {
	s       *bufio.Scanner
	loc     *time.Location
	line    int64
	pending []Message
	stats   Stats
}

func NewTextDecoder(r io.Reader, loc *time.Location) *TextDecoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &TextDecoder{s: s, loc: loc}
}

func (d *TextDecoder) Stats() Stats { return d.stats.clone() }

func (d *TextDecoder) All() iter.Seq2[Message, error] { return all(d) }

func (d *TextDecoder) ReadAll() ([]Message, []error) { return readAll(d) }

func (d *TextDecoder) Next() (Message, error) {
	if len(d.pending) > 0 {
		m := d.pending[0]
		d.pending = d.pending[1:]
		return m, nil
	}
	for d.s.Scan() {
		d.line++
		line := strings.TrimSpace(d.s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		msgs, ferr := d.parseLine(line)
		if ferr != nil {
			d.stats.countError(ferr)
			return nil, ferr
		}
		d.stats.Frames++
		if len(msgs) == 0 {
			continue
		}
		for _, m := range msgs {
			d.stats.countMessage(m)
		}
		d.pending = msgs[1:]
		return msgs[0], nil
	}
	if err := d.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (d *TextDecoder) parseLine(line string) ([]Message, *FrameError) {
	ts, payload, ok := capture.ParseLinePrefix(line, d.loc)
	if !ok {
		return nil, &FrameError{Kind: MalformedPayload, Offset: d.line, Detail: "missing timestamp"}
	}
	if !strings.HasPrefix(payload, "<") || !strings.HasSuffix(payload, ">") {
		return nil, &FrameError{Kind: MalformedPayload, Offset: d.line, Detail: "not a parsed message"}
	}
	body := payload[1 : len(payload)-1]
	open := strings.IndexByte(body, '(')
	if open < 0 || !strings.HasSuffix(body, ")") {
		return nil, &FrameError{Kind: MalformedPayload, Offset: d.line, Detail: "not a parsed message"}
	}
	proto := body[:open]
	fields := strings.Split(body[open+1:len(body)-1], ",")
	name := strings.TrimSpace(fields[0])
	if proto != "UBX" {
		return nil, &FrameError{Kind: UnknownMessage, Offset: d.line, Detail: proto + " " + name}
	}
	kv := textFields(fields[1:])

	malformed := func(err error) *FrameError {
		return &FrameError{Kind: MalformedPayload, Offset: d.line, Class: ClassNAV, Detail: name + ": " + err.Error()}
	}
	switch name {
	case "NAV-PVT":
		n, err := kv.navPVT(ts)
		if err != nil {
			return nil, malformed(err)
		}
		n.CaptureTime = ts
		return []Message{n}, nil
	case "NAV-SAT":
		sats, err := kv.navSat(ts)
		if err != nil {
			return nil, malformed(err)
		}
		out := make([]Message, len(sats))
		for i := range sats {
			sats[i].CaptureTime = ts
			out[i] = sats[i]
		}
		return out, nil
	case "NAV-STATUS":
		s, err := kv.navStatus(ts)
		if err != nil {
			return nil, malformed(err)
		}
		s.CaptureTime = ts
		return []Message{s}, nil
	}
	return nil, &FrameError{Kind: UnknownMessage, Offset: d.line, Detail: name}
}

type textValues map[string]string

func textFields(parts []string) textValues {
	kv := textValues{}
	for _, p := range parts {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return kv
}

func (kv textValues) float(key string) (float64, error) {
	v, ok := kv[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return f, nil
}

// optFloat returns 0 for a missing key.
func (kv textValues) optFloat(key string) (float64, error) {
	if _, ok := kv[key]; !ok {
		return 0, nil
	}
	return kv.float(key)
}

func (kv textValues) integer(key string) (int, error) {
	f, err := kv.float(key)
	return int(f), err
}

func (kv textValues) flag(key string) bool {
	return kv[key] == "1" || strings.EqualFold(kv[key], "true")
}

// itow accepts either milliseconds or a "15:04:05[.000]" GPS clock. The
// clock form drops the weekday, which is recovered from ref (the UTC epoch
// or the line's capture time). A zero ref leaves the time of day.
func (kv textValues) itow(ref time.Time) (uint32, error) {
	v, ok := kv["iTOW"]
	if !ok {
		return 0, fmt.Errorf("missing iTOW")
	}
	if ms, err := strconv.ParseUint(v, 10, 32); err == nil {
		return uint32(ms), nil
	}
	clock, err := time.Parse("15:04:05.999999999", v)
	if err != nil {
		return 0, fmt.Errorf("invalid iTOW %q", v)
	}
	tod := clock.Sub(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC))
	if ref.IsZero() {
		return uint32(tod / time.Millisecond), nil
	}
	return itowFromClock(tod, ref), nil
}

// gpsLeapSeconds is the GPS-UTC offset since 2017-01-01.
const gpsLeapSeconds = 18 * time.Second

// ITOWFromUTC returns the GPS time of week in milliseconds for a UTC instant.
func ITOWFromUTC(utc time.Time) uint32 {
	return weekMillis(utc.UTC().Add(gpsLeapSeconds))
}

// itowFromClock places a GPS time of day on the GPS day nearest to ref.
func itowFromClock(tod time.Duration, ref time.Time) uint32 {
	gps := ref.UTC().Add(gpsLeapSeconds)
	t := time.Date(gps.Year(), gps.Month(), gps.Day(), 0, 0, 0, 0, time.UTC).Add(tod)
	switch d := t.Sub(gps); {
	case d > 12*time.Hour:
		t = t.AddDate(0, 0, -1)
	case d < -12*time.Hour:
		t = t.AddDate(0, 0, 1)
	}
	return weekMillis(t)
}

func weekMillis(gps time.Time) uint32 {
	sunday := time.Date(gps.Year(), gps.Month(), gps.Day()-int(gps.Weekday()), 0, 0, 0, 0, time.UTC)
	return uint32(gps.Sub(sunday) / time.Millisecond)
}

func (kv textValues) navPVT(captured time.Time) (NavRecord, error) {
	var n NavRecord
	if kv.flag("validDate") && kv.flag("validTime") {
		parts := make([]int, 6)
		for i, k := range []string{"year", "month", "day", "hour", "min", "second"} {
			v, err := kv.integer(k)
			if err != nil {
				return NavRecord{}, err
			}
			parts[i] = v
		}
		nano, err := kv.optFloat("nano")
		if err != nil {
			return NavRecord{}, err
		}
		n.UTC = time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], 0, time.UTC).
			Add(time.Duration(nano))
		n.UTCValid = true
	}
	ref := captured
	if n.UTCValid {
		ref = n.UTC
	}
	itow, err := kv.itow(ref)
	if err != nil {
		return NavRecord{}, err
	}
	n.ITOW = itow

	fixType, err := kv.integer("fixType")
	if err != nil {
		return NavRecord{}, err
	}
	var flags byte
	if kv.flag("gnssFixOk") {
		flags |= 0x01
	}
	if kv.flag("diffSoln") {
		flags |= 0x02
	}
	if carr, _ := kv.optFloat("carrSoln"); carr > 0 {
		flags |= byte(int(carr)&0x03) << 6
	}
	n.GNSSFixOK = flags&0x01 != 0
	n.Fix = fixFromRaw(byte(fixType), flags)

	if n.NumSV, err = kv.integer("numSV"); err != nil {
		return NavRecord{}, err
	}
	scaled := []struct {
		key string
		dst *float64
		div float64
	}{
		{"hAcc", &n.HAcc, 1e3},
		{"vAcc", &n.VAcc, 1e3},
		{"gSpeed", &n.GroundSpeed, 1e3},
		{"headMot", &n.HeadMotion, 1},
		{"pDOP", &n.PDOP, 1},
	}
	for _, s := range scaled {
		v, err := kv.optFloat(s.key)
		if err != nil {
			return NavRecord{}, err
		}
		*s.dst = v / s.div
	}

	if n.Fix != FixNone {
		lat, err := kv.float("lat")
		if err != nil {
			return NavRecord{}, err
		}
		lon, err := kv.float("lon")
		if err != nil {
			return NavRecord{}, err
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return NavRecord{}, fmt.Errorf("position out of range: lat=%f lon=%f", lat, lon)
		}
		hmsl, err := kv.optFloat("hMSL")
		if err != nil {
			return NavRecord{}, err
		}
		n.Position = &Position{LatDeg: lat, LonDeg: lon, HeightMSL: hmsl / 1e3}
	}
	return n, nil
}

func (kv textValues) navSat(captured time.Time) ([]SatRecord, error) {
	itow, err := kv.itow(captured)
	if err != nil {
		return nil, err
	}
	numSvs, err := kv.integer("numSvs")
	if err != nil {
		return nil, err
	}
	out := make([]SatRecord, 0, numSvs)
	for i := 1; i <= numSvs; i++ {
		suffix := fmt.Sprintf("_%02d", i)
		g, ok := ParseGNSS(kv["gnssId"+suffix])
		if !ok {
			return nil, fmt.Errorf("invalid gnssId%s %q", suffix, kv["gnssId"+suffix])
		}
		sv, err := kv.integer("svId" + suffix)
		if err != nil {
			return nil, err
		}
		cno, err := kv.integer("cno" + suffix)
		if err != nil {
			return nil, err
		}
		elev, _ := kv.optFloat("elev" + suffix)
		azim, _ := kv.optFloat("azim" + suffix)
		q, _ := kv.optFloat("qualityInd" + suffix)
		out = append(out, SatRecord{
			ITOW:    itow,
			GNSS:    g,
			SvID:    uint8(sv),
			CNo:     uint8(cno),
			Elev:    int8(elev),
			Azim:    int16(azim),
			Used:    kv.flag("svUsed" + suffix),
			Quality: uint8(q),
		})
	}
	return out, nil
}

func (kv textValues) navStatus(captured time.Time) (StatusRecord, error) {
	itow, err := kv.itow(captured)
	if err != nil {
		return StatusRecord{}, err
	}
	fix, _ := kv.optFloat("gpsFix")
	ttff, err := kv.optFloat("ttff")
	if err != nil {
		return StatusRecord{}, err
	}
	msss, err := kv.optFloat("msss")
	if err != nil {
		return StatusRecord{}, err
	}
	return StatusRecord{
		ITOW:   itow,
		GPSFix: uint8(fix),
		TTFF:   time.Duration(ttff) * time.Millisecond,
		MSSS:   time.Duration(msss) * time.Millisecond,
	}, nil
}
