package modem

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func val(t *testing.T, name string, p *float64) float64 {
	t.Helper()
	if p == nil {
		t.Fatalf("%s is absent", name)
	}
	return *p
}

func decodeAll(t *testing.T, transcript string, opts Options) ([]Record, []error) {
	t.Helper()
	return NewDecoder(strings.NewReader(transcript), opts).ReadAll()
}

func TestDecoder_CommandEpochs(t *testing.T) {
	recs, errs := decodeAll(t, `2024-05-01 10:00:00 AT+CESQ
2024-05-01 10:00:00 +CESQ: 99,99,255,255,20,50
2024-05-01 10:00:00 OK
2024-05-01 10:00:01 AT+CEREG?
2024-05-01 10:00:01 +CEREG: 0,1
2024-05-01 10:00:01 OK
2024-05-01 10:00:02 AT+CSQ
2024-05-01 10:00:02 +CSQ: 20,99

2024-05-01 10:00:02 OK
`, Options{})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	cesq := recs[0]
	if cesq.Command != "AT+CESQ" || cesq.Line != 1 {
		t.Fatalf("command = %q line=%d", cesq.Command, cesq.Line)
	}
	if !cesq.CaptureTime.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("CaptureTime = %s", cesq.CaptureTime)
	}
	if cesq.RSSI != nil {
		t.Fatalf("rxlev 99 should be absent, got %v", *cesq.RSSI)
	}
	if got := val(t, "RSRQ", cesq.RSRQ); got != -10 {
		t.Fatalf("RSRQ = %v", got)
	}
	if got := val(t, "RSRP", cesq.RSRP); got != -91 {
		t.Fatalf("RSRP = %v", got)
	}
	if cesq.Registration != RegistrationNone || cesq.RegistrationCarried {
		t.Fatalf("registration = %s carried=%v", cesq.Registration, cesq.RegistrationCarried)
	}

	if recs[1].Registration != RegisteredHome || recs[1].RegistrationCarried {
		t.Fatalf("registration = %s", recs[1].Registration)
	}

	csq := recs[2]
	if got := val(t, "RSSI", csq.RSSI); got != -73 {
		t.Fatalf("RSSI = %v", got)
	}
	if csq.Registration != RegisteredHome || !csq.RegistrationCarried {
		t.Fatalf("expected carried registration, got %s carried=%v", csq.Registration, csq.RegistrationCarried)
	}
}

const rfsts = `#RFSTS: "310 260",1850,-85,-55,-9,2B03,255,,128,19,0,0B2D3C1,"310260123456789","T-Mobile, US",3,2,720,3240,125`

func TestDecoder_RFSTSQuoteAware(t *testing.T) {
	recs, errs := decodeAll(t, "2024-05-01 10:00:00 AT#RFSTS\n2024-05-01 10:00:00 "+rfsts+"\n2024-05-01 10:00:00 OK\n", Options{})
	if len(errs) != 0 || len(recs) != 1 {
		t.Fatalf("recs=%d errs=%v", len(recs), errs)
	}
	r := recs[0]
	if val(t, "RSRP", r.RSRP) != -85 || val(t, "RSSI", r.RSSI) != -55 || val(t, "RSRQ", r.RSRQ) != -9 {
		t.Fatalf("metrics = %v %v %v", *r.RSRP, *r.RSSI, *r.RSRQ)
	}
	if got := val(t, "SINR", r.SINR); got != 5 {
		t.Fatalf("SINR = %v", got)
	}
}

func TestDecoder_SingleLineCycle(t *testing.T) {
	line := `2024-05-01 10:00:05:#RFSTS: "310 260",1850,-85,-55,-9,2B03,255,,128,19,0,0B2D3C1,"310260123456789","T-Mobile",3,2,720,3240,255:#MSG: hello #SI: 1,10,20,0,0 #SS: 1,2,10.0.0.1,5000,1.2.3.4,7:+CEREG: 0,5:+CREG: 0,1`
	recs, errs := decodeAll(t, line+"\n", Options{})
	if len(errs) != 0 || len(recs) != 1 {
		t.Fatalf("recs=%d errs=%v", len(recs), errs)
	}
	r := recs[0]
	if r.Command != "" {
		t.Fatalf("Command = %q", r.Command)
	}
	if val(t, "RSRP", r.RSRP) != -85 || r.SINR != nil {
		t.Fatalf("RSRP=%v SINR=%v", r.RSRP, r.SINR)
	}
	if r.Socket == nil || r.Socket.ID == nil || *r.Socket.ID != 1 || r.Socket.State != SocketOpen {
		t.Fatalf("socket = %+v", r.Socket)
	}
	if r.Registration != RegisteredRoaming {
		t.Fatalf("registration = %s, want +CEREG to win", r.Registration)
	}
}

func TestDecoder_SocketStates(t *testing.T) {
	recs, errs := decodeAll(t, `2024-05-01 10:00:00 AT#SS=1
2024-05-01 10:00:00 #SS: 1,0
2024-05-01 10:00:00 OK
2024-05-01 10:00:01 AT#SD=2,0,7,"echo.u-blox.com",0,0,1
2024-05-01 10:00:02 +CME ERROR: 559
2024-05-01 10:00:03 AT+CFUN=1
2024-05-01 10:00:03 ERROR
`, Options{})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if s := recs[0].Socket; s == nil || *s.ID != 1 || s.State != SocketClosed {
		t.Fatalf("socket 1 = %+v", s)
	}
	if s := recs[1].Socket; s == nil || s.ID == nil || *s.ID != 2 || s.State != SocketError {
		t.Fatalf("socket 2 = %+v", s)
	}
}

func TestDecoder_MaxLinesIncomplete(t *testing.T) {
	d := NewDecoder(strings.NewReader(`2024-05-01 10:00:00 AT#RFSTS
2024-05-01 10:00:00 `+rfsts+`
2024-05-01 10:00:00 junk
2024-05-01 10:00:01 more junk
`), Options{MaxLines: 2})
	recs, errs := d.ReadAll()
	if len(recs) != 1 || !recs[0].Incomplete {
		t.Fatalf("expected one incomplete record, got %+v", recs)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrIncompleteRecord) {
		t.Fatalf("errors = %v", errs)
	}
	if s := d.Stats(); s.Ignored != 2 || s.Incomplete != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if got := d.Unmatched(); len(got) != 2 || !strings.HasPrefix(got[0], "line 3: ") || !strings.HasPrefix(got[1], "line 4: ") || !strings.HasSuffix(got[1], "more junk") {
		t.Fatalf("Unmatched() = %q", got)
	}
}

func TestDecoder_EOFInsideEpoch(t *testing.T) {
	recs, errs := decodeAll(t, "2024-05-01 10:00:00 AT+CESQ\n2024-05-01 10:00:00 +CESQ: 40,99,255,255,30,60\n", Options{})
	if len(recs) != 1 || !recs[0].Incomplete {
		t.Fatalf("recs = %+v", recs)
	}
	if val(t, "RSSI", recs[0].RSSI) != -71 || val(t, "RSRQ", recs[0].RSRQ) != -5 || val(t, "RSRP", recs[0].RSRP) != -81 {
		t.Fatalf("metrics wrong: %+v", recs[0])
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrIncompleteRecord) {
		t.Fatalf("errors = %v", errs)
	}
}

func TestDecoder_NewCommandClosesOpenEpoch(t *testing.T) {
	recs, errs := decodeAll(t, `2024-05-01 10:00:00 AT+CSQ
2024-05-01 10:00:00 +CSQ: 10,99
2024-05-01 10:00:01 AT+CSQ
2024-05-01 10:00:01 +CSQ: 11,99
2024-05-01 10:00:01 OK
`, Options{})
	if len(recs) != 2 || !recs[0].Incomplete || recs[1].Incomplete {
		t.Fatalf("recs = %+v", recs)
	}
	if len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}
}

func TestDecoder_UnknownStatusAndMalformed(t *testing.T) {
	recs, errs := decodeAll(t, `garbage without timestamp
2024-05-01 10:00:00 AT+CEREG?
2024-05-01 10:00:00 +CEREG: 0,9
2024-05-01 10:00:00 OK
`, Options{})
	if len(errs) != 2 || !errors.Is(errs[0], ErrMalformedLine) || !errors.Is(errs[1], ErrUnknownStatus) {
		t.Fatalf("errors = %v", errs)
	}
	var te *TextError
	if !errors.As(errs[1], &te) || te.Line != 3 {
		t.Fatalf("expected error on line 3, got %v", errs[1])
	}
	if len(recs) != 1 || recs[0].Registration != RegistrationUnknown {
		t.Fatalf("recs = %+v", recs)
	}
}

func TestDecoder_UnknownStatusInLowerPriorityResponse(t *testing.T) {
	d := NewDecoder(strings.NewReader(`2024-05-01 10:00:00 AT+CEREG?;+CREG?
2024-05-01 10:00:00 +CEREG: 0,1
2024-05-01 10:00:00 +CREG: 0,9
2024-05-01 10:00:00 OK
`), Options{})
	recs, errs := d.ReadAll()
	if len(errs) != 1 || !errors.Is(errs[0], ErrUnknownStatus) {
		t.Fatalf("errors = %v", errs)
	}
	if len(recs) != 1 || recs[0].Registration != RegisteredHome {
		t.Fatalf("recs = %+v", recs)
	}
	if s := d.Stats(); s.Unknown != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestTailBufferKeepsNewest(t *testing.T) {
	tb := newTailBuffer(2, 4)
	tb.add(1, "first")
	if got := tb.lines(); len(got) != 1 || got[0] != "line 1: firs" {
		t.Fatalf("lines() = %q", got)
	}
	tb.add(2, "b")
	tb.add(5, "c")
	got := tb.lines()
	if len(got) != 2 || got[0] != "line 2: b" || got[1] != "line 5: c" {
		t.Fatalf("lines() = %q", got)
	}
	if newTailBuffer(0, 0).lines() == nil {
		t.Fatalf("empty buffer should return an empty slice")
	}
}

func TestDecoder_EventsAndURC(t *testing.T) {
	recs, errs := decodeAll(t, `2024-05-01 10:00:00:'#Flight Mode Active...'
2024-05-01 10:00:05 +CEREG: 2
2024-05-01 10:00:10:'#Pumping Data To Server...'
`, Options{})
	if len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Event != EventFlightMode || !recs[0].HasData() {
		t.Fatalf("rec 0 = %+v", recs[0])
	}
	if recs[1].Registration != Searching {
		t.Fatalf("rec 1 registration = %s", recs[1].Registration)
	}
	if recs[2].Event != EventPumping || recs[2].Registration != Searching || !recs[2].RegistrationCarried {
		t.Fatalf("rec 2 = %+v", recs[2])
	}
}

func TestDecoder_EventDeferredUntilEpochCloses(t *testing.T) {
	recs, _ := decodeAll(t, `2024-05-01 10:00:00 AT+CSQ
2024-05-01 10:00:00:'#Flight Mode Active...'
2024-05-01 10:00:00 +CSQ: 10,99
2024-05-01 10:00:00 OK
`, Options{})
	if len(recs) != 2 || recs[0].RSSI == nil || recs[1].Event != EventFlightMode {
		t.Fatalf("recs = %+v", recs)
	}
}

func TestDecoder_Location(t *testing.T) {
	loc := time.FixedZone("CEST", 2*3600)
	recs, _ := decodeAll(t, "2024-05-01 12:00:00 +CSQ: 10,99\n", Options{Location: loc})
	if len(recs) != 1 || !recs[0].CaptureTime.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("recs = %+v", recs)
	}
}

func TestHasData(t *testing.T) {
	if (Record{}).HasData() {
		t.Fatalf("empty record reports data")
	}
	if !(Record{Registration: Denied}).HasData() {
		t.Fatalf("registration-only record reports no data")
	}
}

func TestSINRToDB(t *testing.T) {
	cases := map[int]float64{0: -20, 100: 0, 125: 5, 250: 30}
	for raw, want := range cases {
		got, ok := SINRToDB(raw)
		if !ok || got != want {
			t.Fatalf("SINRToDB(%d) = %v, %v", raw, got, ok)
		}
	}
	// 0.2 dB resolution is kept rather than floored to whole dB.
	if got, _ := SINRToDB(7); math.Abs(got+18.6) > 1e-9 {
		t.Fatalf("SINRToDB(7) = %v, want -18.6", got)
	}
	for _, raw := range []int{255, -1, 251} {
		if _, ok := SINRToDB(raw); ok {
			t.Fatalf("SINRToDB(%d) unexpectedly ok", raw)
		}
	}
}

func TestQuality(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	cases := []struct {
		rec  Record
		want float64
		ok   bool
	}{
		{Record{}, 0, false},
		{Record{RSRP: f(-80)}, 40, true},
		{Record{RSRP: f(-90), RSSI: f(-70), RSRQ: f(-5.5), SINR: f(8)}, 27.5, true},
		{Record{RSRP: f(-120), RSSI: f(-90), RSRQ: f(-12), SINR: f(0)}, 10, true},
	}
	for _, c := range cases {
		got, ok := Quality(c.rec)
		if ok != c.ok || got != c.want {
			t.Fatalf("Quality(%+v) = %v, %v want %v, %v", c.rec, got, ok, c.want, c.ok)
		}
	}
}
