package modem

import (
	"regexp"
	"strconv"
	"strings"
)

// segment is one "<NAME>: <body>" response. The single-line logger packs
// several of them into one line separated by ':' or spaces.
type segment struct {
	name string // e.g. "+CESQ", "#RFSTS"
	body string
}

var markerRe = regexp.MustCompile(`(?:^|[\s:'])([#+][A-Z][A-Z0-9]*):`)

// splitSegments returns the response segments found in payload, in order.
func splitSegments(payload string) []segment {
	var marks [][]int
	for _, m := range markerRe.FindAllStringSubmatchIndex(payload, -1) {
		if !inQuotes(payload[:m[2]]) {
			marks = append(marks, m)
		}
	}
	out := make([]segment, 0, len(marks))
	for i, m := range marks {
		nameStart, nameEnd := m[2], m[3]
		end := len(payload)
		if i+1 < len(marks) {
			end = marks[i+1][2]
		}
		body := strings.TrimSpace(payload[nameEnd+1 : end])
		body = strings.TrimRight(body, ":' ")
		out = append(out, segment{name: payload[nameStart:nameEnd], body: strings.TrimSpace(body)})
	}
	return out
}

func inQuotes(prefix string) bool {
	return strings.Count(prefix, `"`)%2 == 1
}

// splitFields splits a response body on commas outside double quotes.
func splitFields(body string) []string {
	var out []string
	var cur strings.Builder
	quoted := false
	for _, r := range body {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ',' && !quoted:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(out, strings.TrimSpace(cur.String()))
}

func fieldInt(fields []string, i int) (int, bool) {
	if i >= len(fields) {
		return 0, false
	}
	v, err := strconv.Atoi(fields[i])
	if err != nil {
		return 0, false
	}
	return v, true
}

func fieldFloat(fields []string, i int) (float64, bool) {
	if i >= len(fields) {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[i], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Sentinel values meaning "not known or not detectable" (3GPP TS 27.007).
const (
	rxlevUnknown = 99
	csqUnknown   = 99
	cesqUnknown  = 255
	sinrUnknown  = 255
)

// applyCESQ reads +CESQ: <rxlev>,<ber>,<rscp>,<ecno>,<rsrq>,<rsrp>.
func applyCESQ(rec *Record, body string) bool {
	f := splitFields(body)
	if len(f) < 6 {
		return false
	}
	if v, ok := fieldInt(f, 0); ok && v != rxlevUnknown && v >= 0 && v <= 63 {
		rec.RSSI = ptr(float64(-111 + v))
	}
	if v, ok := fieldInt(f, 4); ok && v != cesqUnknown && v >= 0 && v <= 34 {
		rec.RSRQ = ptr(-20 + 0.5*float64(v))
	}
	if v, ok := fieldInt(f, 5); ok && v != cesqUnknown && v >= 0 && v <= 97 {
		rec.RSRP = ptr(float64(-141 + v))
	}
	return true
}

// applyCSQ reads +CSQ: <rssi>,<ber>.
func applyCSQ(rec *Record, body string) bool {
	f := splitFields(body)
	v, ok := fieldInt(f, 0)
	if !ok {
		return false
	}
	if v != csqUnknown && v >= 0 && v <= 31 {
		rec.RSSI = ptr(float64(-113 + 2*v))
	}
	return true
}

// RFSTS LTE field positions.
const (
	rfstsRSRP = 2
	rfstsRSSI = 3
	rfstsRSRQ = 4
	rfstsSINR = 18
)

// applyRFSTS reads the LTE form of #RFSTS. Other radio technologies report a
// different layout and leave the metrics unset.
func applyRFSTS(rec *Record, body string) bool {
	f := splitFields(body)
	if len(f) <= rfstsRSRQ {
		return false
	}
	if v, ok := fieldFloat(f, rfstsRSRP); ok {
		rec.RSRP = ptr(v)
	}
	if v, ok := fieldFloat(f, rfstsRSSI); ok {
		rec.RSSI = ptr(v)
	}
	if v, ok := fieldFloat(f, rfstsRSRQ); ok {
		rec.RSRQ = ptr(v)
	}
	if v, ok := fieldInt(f, rfstsSINR); ok {
		if db, ok := SINRToDB(v); ok {
			rec.SINR = ptr(db)
		}
	}
	return true
}

// SINRToDB maps the #RFSTS raw SINR (0..250) to dB. 255 and out of range
// values report false. The result keeps the 0.2 dB step and is not floored
// to whole dB, so raw 7 is -18.6.
func SINRToDB(raw int) (float64, bool) {
	if raw == sinrUnknown || raw < 0 || raw > 250 {
		return 0, false
	}
	return float64(raw)/5 - 20, true
}

// regStat extracts <stat> from a registration response. The read form is
// "<n>,<stat>[,...]" and the unsolicited form "<stat>[,<lac>,...]" where the
// second field is quoted.
func regStat(body string) (int, bool) {
	f := splitFields(body)
	if len(f) >= 2 {
		if v, ok := fieldInt(f, 1); ok {
			return v, true
		}
	}
	return fieldInt(f, 0)
}

// applySS reads #SS: <connId>,<state>[,...]. State 0 is closed; 1..7 are the
// various open, suspended and listening states.
func applySS(rec *Record, body string) bool {
	f := splitFields(body)
	id, ok := fieldInt(f, 0)
	if !ok {
		return false
	}
	state, ok := fieldInt(f, 1)
	if !ok {
		return false
	}
	s := &SocketStatus{ID: &id, State: SocketOpen}
	if state == 0 {
		s.State = SocketClosed
	}
	rec.Socket = s
	return true
}

func isTerminator(payload string) (isErr bool, ok bool) {
	switch {
	case payload == "OK":
		return false, true
	case payload == "ERROR", payload == "NO CARRIER":
		return true, true
	case strings.HasPrefix(payload, "+CME ERROR"), strings.HasPrefix(payload, "+CMS ERROR"):
		return true, true
	}
	return false, false
}

func isCommandEcho(payload string) bool {
	return len(payload) >= 2 && strings.EqualFold(payload[:2], "AT")
}

var socketCommands = map[string]bool{
	"#SS": true, "#SI": true, "#SD": true, "#SH": true, "#SL": true, "#SA": true,
	"#SSEND": true, "#SSENDEXT": true, "#SRECV": true,
}

// socketCommand reports whether cmd addresses a socket and, when it names
// one, the connection id.
func socketCommand(cmd string) (id *int, ok bool) {
	c := strings.ToUpper(strings.TrimSpace(cmd))[2:]
	name, args := c, ""
	if i := strings.IndexAny(c, "=?"); i >= 0 {
		name, args = c[:i], strings.TrimLeft(c[i:], "=?")
	}
	if !socketCommands[name] {
		return nil, false
	}
	if v, ok := fieldInt(splitFields(args), 0); ok {
		return &v, true
	}
	return nil, true
}
