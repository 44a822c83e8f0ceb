package capture

import (
	"strings"
	"time"
)

const (
	naiveLayout = "2006-01-02 15:04:05"
	isoLayout   = "2006-01-02T15:04:05"
)

// ParseLinePrefix splits a text-log line of the form "<timestamp><sep><payload>".
//
// The timestamp is "2006-01-02 15:04:05" with optional fractional seconds,
// or RFC3339. Naive timestamps are read in loc (UTC when nil). The separator
// is one ':' and/or whitespace. ok is false when the line has no timestamp.
func ParseLinePrefix(line string, loc *time.Location) (t time.Time, payload string, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	if len(line) < len(naiveLayout) {
		return time.Time{}, "", false
	}
	iso := line[10] == 'T'
	if !iso && line[10] != ' ' {
		return time.Time{}, "", false
	}

	end := len(naiveLayout)
	if end < len(line) && (line[end] == '.' || line[end] == ',') {
		j := end + 1
		for j < len(line) && line[j] >= '0' && line[j] <= '9' {
			j++
		}
		if j > end+1 {
			end = j
		}
	}
	frac := line[len(naiveLayout):end]

	var err error
	if iso {
		zoneEnd := end
		switch {
		case zoneEnd < len(line) && line[zoneEnd] == 'Z':
			zoneEnd++
		case zoneEnd+6 <= len(line) && (line[zoneEnd] == '+' || line[zoneEnd] == '-') && line[zoneEnd+3] == ':':
			zoneEnd += 6
		}
		if zoneEnd == end {
			t, err = time.ParseInLocation(isoLayout, line[:len(isoLayout)], loc)
		} else {
			s := line[:len(isoLayout)] + line[end:zoneEnd]
			t, err = time.Parse(time.RFC3339, s)
		}
		end = zoneEnd
	} else {
		t, err = time.ParseInLocation(naiveLayout, line[:len(naiveLayout)], loc)
	}
	if err != nil {
		return time.Time{}, "", false
	}
	if len(frac) > 1 {
		t = t.Add(parseFraction(frac[1:]))
	}

	rest := line[end:]
	if rest != "" && rest[0] != ':' && rest[0] != ' ' && rest[0] != '\t' {
		return time.Time{}, "", false
	}
	rest = strings.TrimPrefix(rest, ":")
	return t, strings.TrimSpace(rest), true
}

// parseFraction reads up to nanosecond precision from a run of digits.
func parseFraction(digits string) time.Duration {
	var ns int64
	n := 0
	for i := 0; i < len(digits) && n < 9; i++ {
		ns = ns*10 + int64(digits[i]-'0')
		n++
	}
	for ; n < 9; n++ {
		ns *= 10
	}
	return time.Duration(ns)
}
