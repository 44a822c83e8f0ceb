// Package export writes the merged table to CSV, XLSX and InfluxDB.
package export

import (
	"strconv"
	"time"

	"covlog/internal/merge"
	"covlog/internal/modem"
	"covlog/internal/ubx"
)

// cnoColumns names the constellations exported with avg, max and strong
// (above 40 dBHz) satellite counts.
var cnoColumns = []struct {
	prefix string
	gnss   ubx.GNSS
}{
	{"gps", ubx.GPS},
	{"sbas", ubx.SBAS},
	{"galileo", ubx.Galileo},
	{"beidou", ubx.BeiDou},
	{"glonass", ubx.GLONASS},
}

// Columns is the output column order shared by every tabular sink.
var Columns = buildColumns()

func buildColumns() []string {
	cols := []string{
		"timestamp",
		"elapsed_s",
		"sides",
		"utc",
		"latitude",
		"longitude",
		"altitude",
		"fix_type",
		"num_sv",
		"h_acc",
		"v_acc",
		"time_corrected",
	}
	for _, c := range cnoColumns {
		cols = append(cols, c.prefix+"_avg_cno", c.prefix+"_max_cno", c.prefix+"_cno_g40")
	}
	return append(cols,
		"rsrp",
		"rssi",
		"rsrq",
		"sinr",
		"quality",
		"registration",
		"socket_state",
		"socket_id",
		"modem_event",
		"modem_incomplete",
	)
}

// Values returns one cell per column. Absent values are nil; the rest are
// string, float64, int or bool.
func Values(r merge.Row) []any {
	v := make([]any, 0, len(Columns))
	if r.Time.IsZero() {
		v = append(v, nil)
	} else {
		v = append(v, r.Time.UTC().Format(time.RFC3339Nano))
	}
	v = append(v, r.At.Seconds(), r.Sides.String())
	v = appendNav(v, r.Nav)
	return appendModem(v, r.Modem)
}

func appendNav(v []any, n *merge.GNSSSide) []any {
	if n == nil {
		return append(v, make([]any, 9+3*len(cnoColumns))...)
	}
	rec := n.Record
	var utc any
	if rec.UTCValid {
		utc = rec.UTC.UTC().Format(time.RFC3339Nano)
	}
	v = append(v, utc)
	if rec.HasPosition() {
		v = append(v, rec.Position.LatDeg, rec.Position.LonDeg, rec.Position.HeightMSL)
	} else {
		v = append(v, nil, nil, nil)
	}
	v = append(v, rec.Fix.String(), rec.NumSV, rec.HAcc, rec.VAcc, n.TimeCorrected)
	for _, c := range cnoColumns {
		st, ok := n.CNo.Get(c.gnss)
		if !ok {
			v = append(v, nil, nil, nil)
			continue
		}
		v = append(v, st.Avg, int(st.Max), st.Strong)
	}
	return v
}

func appendModem(v []any, m *merge.ModemSide) []any {
	if m == nil {
		return append(v, make([]any, 10)...)
	}
	rec := m.Record
	for _, p := range []*float64{rec.RSRP, rec.RSSI, rec.RSRQ, rec.SINR} {
		if p != nil {
			v = append(v, *p)
		} else {
			v = append(v, nil)
		}
	}
	var quality, reg, sockState, sockID, event any
	if q, ok := modem.Quality(rec); ok {
		quality = q
	}
	if rec.Registration != modem.RegistrationNone {
		reg = rec.Registration.String()
	}
	if rec.Socket != nil {
		sockState = rec.Socket.State.String()
		if rec.Socket.ID != nil {
			sockID = *rec.Socket.ID
		}
	}
	if rec.Event != modem.EventNone {
		event = rec.Event.String()
	}
	return append(v, quality, reg, sockState, sockID, event, rec.Incomplete)
}

// Strings formats Values for text sinks.
func Strings(r merge.Row) []string {
	vals := Values(r)
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = formatCell(v)
	}
	return out
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}
