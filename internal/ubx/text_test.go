package ubx

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const textLog = `2024-05-01 10:00:00:<UBX(NAV-STATUS, iTOW=295218000, gpsFix=3, gpsFixOk=1, diffSoln=0, ttff=25300, msss=61000)>
2024-05-01 10:00:00:<UBX(NAV-PVT, iTOW=295218000, year=2024, month=5, day=1, hour=10, min=0, second=0, validDate=1, validTime=1, fullyResolved=1, validMag=0, tAcc=20, nano=0, fixType=3, gnssFixOk=1, diffSoln=0, psmState=0, headVehValid=0, carrSoln=0, numSV=12, lon=-0.1275, lat=51.5072, height=101000, hMSL=52000, hAcc=1500, vAcc=2500, gSpeed=12500, headMot=87.5, sAcc=300, headAcc=1.5, pDOP=1.3)>
2024-05-01 10:00:00:<UBX(NAV-SAT, iTOW=295218000, version=1, numSvs=2, reserved0=0, gnssId_01=GPS, svId_01=5, cno_01=43, elev_01=61, azim_01=120, prRes_01=0.3, qualityInd_01=7, svUsed_01=1, gnssId_02=GLONASS, svId_02=9, cno_02=28, elev_02=12, azim_02=300, prRes_02=0, qualityInd_02=4, svUsed_02=0)>
2024-05-01 10:00:01:<NMEA(GNGGA, time=10:00:01)>
garbage line
2024-05-01 10:00:01:<UBX(NAV-PVT, iTOW=10:00:19, year=2024, month=5, day=1, hour=10, min=0, second=1, validDate=1, validTime=1, fixType=0, gnssFixOk=0, numSV=0, lon=0, lat=0, hMSL=0, hAcc=9999000, vAcc=9999000)>
2024-05-01 10:00:02:<UBX(NAV-PVT, iTOW=1, fixType=3, gnssFixOk=1, numSV=5, lat=95, lon=0)>
`

func TestTextDecoder(t *testing.T) {
	d := NewTextDecoder(strings.NewReader(textLog), time.UTC)
	msgs, errs := d.ReadAll()

	if len(msgs) != 5 {
		t.Fatalf("expected 5 records, got %d: %+v", len(msgs), msgs)
	}
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %v", errs)
	}
	if !errors.Is(errs[0], ErrUnknownMessage) || !errors.Is(errs[1], ErrMalformedPayload) || !errors.Is(errs[2], ErrMalformedPayload) {
		t.Fatalf("unexpected error kinds: %v", errs)
	}
	var fe *FrameError
	if !errors.As(errs[1], &fe) || fe.Offset != 5 {
		t.Fatalf("expected line number 5, got %v", errs[1])
	}

	captured := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	st := msgs[0].(StatusRecord)
	if st.TTFF != 25300*time.Millisecond || st.MSSS != 61*time.Second || st.GPSFix != 3 {
		t.Fatalf("status = %+v", st)
	}

	nav := msgs[1].(NavRecord)
	if !nav.CaptureTime.Equal(captured) {
		t.Fatalf("CaptureTime = %s", nav.CaptureTime)
	}
	if nav.ITOW != 295218000 || !nav.UTCValid || !nav.UTC.Equal(captured) {
		t.Fatalf("time = %d %s %v", nav.ITOW, nav.UTC, nav.UTCValid)
	}
	if nav.Fix != Fix3D || nav.NumSV != 12 {
		t.Fatalf("fix = %s numSV=%d", nav.Fix, nav.NumSV)
	}
	if nav.Position == nil || nav.Position.LatDeg != 51.5072 || nav.Position.LonDeg != -0.1275 || nav.Position.HeightMSL != 52 {
		t.Fatalf("position = %+v", nav.Position)
	}
	if nav.HAcc != 1.5 || nav.VAcc != 2.5 || nav.GroundSpeed != 12.5 || nav.HeadMotion != 87.5 || nav.PDOP != 1.3 {
		t.Fatalf("nav = %+v", nav)
	}

	gps := msgs[2].(SatRecord)
	glo := msgs[3].(SatRecord)
	if gps.GNSS != GPS || gps.SvID != 5 || gps.CNo != 43 || !gps.Used || gps.Quality != 7 {
		t.Fatalf("sat 1 = %+v", gps)
	}
	if glo.GNSS != GLONASS || glo.CNo != 28 || glo.Used || glo.Azim != 300 {
		t.Fatalf("sat 2 = %+v", glo)
	}

	noFix := msgs[4].(NavRecord)
	if noFix.Fix != FixNone || noFix.Position != nil {
		t.Fatalf("expected no-fix record, got %+v", noFix)
	}
	// 2024-05-01 is a Wednesday; 10:00:01 UTC is 10:00:19 GPS.
	if want := uint32((3*24*3600 + 10*3600 + 19) * 1000); noFix.ITOW != want {
		t.Fatalf("ITOW = %d, want %d", noFix.ITOW, want)
	}

	if s := d.Stats(); s.Nav != 2 || s.Sat != 2 || s.Status != 1 || s.Unknown != 1 || s.Malformed != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestTextDecoder_ClockITOWJoinsSatellites(t *testing.T) {
	const log = `2024-05-01 10:00:01:<UBX(NAV-PVT, iTOW=10:00:19, year=2024, month=5, day=1, hour=10, min=0, second=1, validDate=1, validTime=1, fixType=3, gnssFixOk=1, numSV=9, lon=13.4, lat=52.5, hMSL=40000)>
2024-05-01 10:00:01:<UBX(NAV-SAT, iTOW=10:00:19, version=1, numSvs=1, gnssId_01=GPS, svId_01=7, cno_01=45, elev_01=30, azim_01=90, svUsed_01=1)>
2024-05-01 10:00:01:<UBX(NAV-STATUS, iTOW=10:00:19, gpsFix=3, ttff=4000, msss=9000)>
`
	msgs, errs := NewTextDecoder(strings.NewReader(log), time.UTC).ReadAll()
	if len(errs) != 0 || len(msgs) != 3 {
		t.Fatalf("msgs=%d errs=%v", len(msgs), errs)
	}
	nav := msgs[0].(NavRecord)
	sat := msgs[1].(SatRecord)
	st := msgs[2].(StatusRecord)
	want := uint32((3*24*3600 + 10*3600 + 19) * 1000)
	if nav.ITOW != want || sat.ITOW != want || st.ITOW != want {
		t.Fatalf("ITOW nav=%d sat=%d status=%d, want %d", nav.ITOW, sat.ITOW, st.ITOW, want)
	}
	got := NewSatIndex([]SatRecord{sat}).Lookup(nav.ITOW)
	if len(got) != 1 || got[0].SvID != 7 {
		t.Fatalf("Lookup(%d) = %+v", nav.ITOW, got)
	}
}

func TestTextDecoder_ClockITOWAcrossMidnight(t *testing.T) {
	// Captured 23:59:41 UTC is 23:59:59 GPS on Wednesday; the receiver clock
	// already reads Thursday.
	const log = `2024-05-01 23:59:41:<UBX(NAV-STATUS, iTOW=00:00:01, gpsFix=3, ttff=4000, msss=9000)>
`
	msgs, errs := NewTextDecoder(strings.NewReader(log), time.UTC).ReadAll()
	if len(errs) != 0 || len(msgs) != 1 {
		t.Fatalf("msgs=%d errs=%v", len(msgs), errs)
	}
	if want := uint32((4*24*3600 + 1) * 1000); msgs[0].(StatusRecord).ITOW != want {
		t.Fatalf("ITOW = %d, want %d", msgs[0].(StatusRecord).ITOW, want)
	}
}
