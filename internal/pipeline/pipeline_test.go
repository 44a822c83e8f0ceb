package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"covlog/internal/config"
	"covlog/internal/merge"
	"covlog/internal/observability"
	"covlog/internal/sim"
	"covlog/internal/ubx"
)

const testScript = `
start: 2024-05-01T10:00:00Z
duration: 20s
gnss:
  interval: 1s
  fix_after: 5s
  satellites: 8
  loop: {center_lat_deg: 48.1, center_lon_deg: 11.6, radius_m: 500, period: 2m}
modem:
  interval: 2s
  offset: 250ms
  registration:
    - {t: 0s, stat: 1}
  events:
    - {t: 10s, kind: flight-mode}
cells: {center_lat_deg: 48.1, center_lon_deg: 11.6}
`

func simulate(t *testing.T) sim.Files {
	t.Helper()
	script, err := sim.ParseScriptYAML([]byte(testScript))
	require.NoError(t, err)
	scn, err := sim.NewScenario(script)
	require.NoError(t, err)
	files, err := sim.Generate(t.TempDir(), scn)
	require.NoError(t, err)
	return files
}

func testRunner(t *testing.T) (*Runner, *observability.PipelineCollector) {
	t.Helper()
	c, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	return &Runner{Metrics: c, NewSession: func() string { return "test-session" }}, c
}

func options(files sim.Files, mode Mode) Options {
	return Options{
		Mode:          mode,
		GNSSPath:      files.GNSS,
		ModemPath:     files.Modem,
		Location:      time.UTC,
		JumpThreshold: 2 * time.Second,
		MergeMode:     merge.Union,
	}
}

func requireOrdered(t *testing.T, rows []merge.Row) {
	t.Helper()
	for i := 1; i < len(rows); i++ {
		require.LessOrEqual(t, rows[i-1].At, rows[i].At, "row %d out of order", i)
	}
}

func TestRun_Both(t *testing.T) {
	files := simulate(t)
	r, c := testRunner(t)

	res, err := r.Run(context.Background(), options(files, ModeBoth))
	require.NoError(t, err)
	sum := res.Summary

	assert.Equal(t, "test-session", sum.Session)
	assert.Equal(t, FormatCapture, sum.GNSSFormat)
	assert.Equal(t, 21, sum.GNSS.Nav)
	assert.Equal(t, 21*8, sum.GNSS.Sat)
	assert.Equal(t, 5*time.Second, sum.TTFF)
	assert.Equal(t, 13, sum.Modem.Records)
	assert.False(t, sum.Relative)
	assert.Zero(t, sum.Errors)
	assert.Equal(t, time.Second, sum.Tolerance)

	// Union keeps every input record exactly once.
	assert.Equal(t, 21, sum.Merge.Joined+sum.Merge.GNSSOnly)
	assert.Equal(t, 13, sum.Merge.Joined+sum.Merge.ModemOnly)
	assert.Greater(t, sum.Merge.Joined, 10)
	assert.Len(t, res.Table.Rows, sum.Rows)
	requireOrdered(t, res.Table.Rows)

	joined := 0
	for _, row := range res.Table.Rows {
		if row.Sides == merge.Both {
			joined++
			require.NotNil(t, row.Nav)
			require.NotNil(t, row.Modem)
			assert.False(t, row.Time.IsZero())
		}
	}
	assert.Equal(t, sum.Merge.Joined, joined)

	assert.Equal(t, 21.0, testutil.ToFloat64(c.Frames.WithLabelValues("nav")))
	assert.Equal(t, float64(sum.Merge.Joined), testutil.ToFloat64(c.MergedRows.WithLabelValues(merge.Both.String())))
	assert.Equal(t, float64(sum.Modem.Commands), testutil.ToFloat64(c.ModemLines.WithLabelValues("command")))
}

func TestRun_GNSSOnly(t *testing.T) {
	files := simulate(t)
	r, _ := testRunner(t)
	opts := options(files, ModeGNSS)
	opts.ModemPath = ""
	opts.MergeMode = merge.IntersectNonEmpty

	res, err := r.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 21, res.Summary.Rows)
	assert.Equal(t, 21, res.Summary.Merge.GNSSOnly)
	assert.Zero(t, res.Summary.Modem.Lines)
	for _, row := range res.Table.Rows {
		assert.Equal(t, merge.GNSSOnly, row.Sides)
	}
}

func TestRun_ModemOnly(t *testing.T) {
	files := simulate(t)
	r, _ := testRunner(t)
	opts := options(files, ModeModem)
	opts.GNSSPath = ""

	res, err := r.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 13, res.Summary.Rows)
	assert.Equal(t, 13, res.Summary.Merge.ModemOnly)
	assert.Zero(t, res.Summary.GNSS.Frames)
	requireOrdered(t, res.Table.Rows)
	assert.True(t, res.Origin.Equal(time.Date(2024, 5, 1, 10, 0, 0, 250_000_000, time.UTC)), "origin=%s", res.Origin)
}

func TestRun_PumpKeepsOnlyEvents(t *testing.T) {
	files := simulate(t)
	r, _ := testRunner(t)

	res, err := r.Run(context.Background(), options(files, ModePump))
	require.NoError(t, err)
	sum := res.Summary
	assert.Equal(t, 12, sum.PumpFiltered)
	assert.Equal(t, 1, sum.Merge.Joined)
	assert.Zero(t, sum.Merge.ModemOnly)
	assert.Equal(t, 21, sum.Rows)

	var events int
	for _, row := range res.Table.Rows {
		if row.Modem != nil {
			events++
			assert.Equal(t, "flight-mode", row.Modem.Record.Event.String())
		}
	}
	assert.Equal(t, 1, events)
}

func TestRun_Errors(t *testing.T) {
	files := simulate(t)
	r, _ := testRunner(t)

	opts := options(files, ModeBoth)
	opts.GNSSPath = filepath.Join(t.TempDir(), "missing.ubx")
	_, err := r.Run(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gnss input")

	opts = options(files, "everything")
	_, err = r.Run(context.Background(), opts)
	require.EqualError(t, err, `unknown parse mode "everything"`)

	opts = options(files, ModeBoth)
	opts.Tolerance = -time.Second
	_, err = r.Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "merge: "))
}

func TestRun_TextGNSSLog(t *testing.T) {
	dir := t.TempDir()
	gnss := filepath.Join(dir, "gnss.txt")
	modemLog := filepath.Join(dir, "modem.log")
	require.NoError(t, os.WriteFile(gnss, []byte("garbage line\n"), 0o644))
	require.NoError(t, os.WriteFile(modemLog, []byte("2024-05-01 10:00:00 AT+CSQ\n2024-05-01 10:00:00 +CSQ: 20,99\n2024-05-01 10:00:00 OK\n"), 0o644))

	r, _ := testRunner(t)
	res, err := r.Run(context.Background(), Options{
		Mode:       ModeBoth,
		GNSSPath:   gnss,
		GNSSFormat: FormatText,
		ModemPath:  modemLog,
	})
	require.NoError(t, err)
	assert.Equal(t, FormatText, res.Summary.GNSSFormat)
	assert.Zero(t, res.Summary.GNSS.Nav)
	assert.Equal(t, 1, res.Summary.Rows)
	assert.Equal(t, merge.ModemOnly, res.Table.Rows[0].Sides)
}

func TestRun_TextGNSSLogJoinsSatellites(t *testing.T) {
	gnss := filepath.Join(t.TempDir(), "gnss.txt")
	log := "2024-05-01 10:00:01:<UBX(NAV-PVT, iTOW=10:00:19, year=2024, month=5, day=1, hour=10, min=0, second=1, validDate=1, validTime=1, fixType=3, gnssFixOk=1, numSV=9, lon=13.4, lat=52.5, hMSL=40000)>\n" +
		"2024-05-01 10:00:01:<UBX(NAV-SAT, iTOW=10:00:19, version=1, numSvs=2, gnssId_01=GPS, svId_01=7, cno_01=45, gnssId_02=SBAS, svId_02=120, cno_02=38)>\n"
	require.NoError(t, os.WriteFile(gnss, []byte(log), 0o644))

	r, _ := testRunner(t)
	res, err := r.Run(context.Background(), Options{Mode: ModeGNSS, GNSSPath: gnss, GNSSFormat: FormatText, Location: time.UTC})
	require.NoError(t, err)
	require.Len(t, res.Table.Rows, 1)
	nav := res.Table.Rows[0].Nav
	require.NotNil(t, nav)
	gps, ok := nav.CNo.Get(ubx.GPS)
	require.True(t, ok, "NAV-SAT epoch not joined to NAV-PVT")
	assert.Equal(t, 1, gps.Strong)
	sbas, ok := nav.CNo.Get(ubx.SBAS)
	require.True(t, ok)
	assert.Equal(t, uint8(38), sbas.Max)
}

func TestDetectGNSSFormat(t *testing.T) {
	assert.Equal(t, FormatCapture, DetectGNSSFormat([]byte("START 2024-05-01T10:00:00Z\n0,b562\n")))
	assert.Equal(t, FormatText, DetectGNSSFormat([]byte("2024-05-01 10:00:00 <UBX(NAV-PVT, iTOW=10:00:00, ...)>\n")))
	assert.Equal(t, FormatRaw, DetectGNSSFormat([]byte{0xb5, 0x62, 0x01, 0x07}))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Input.GNSS = "g.ubx"
	cfg.Input.Modem = "m.log"
	cfg.Input.GNSSTime = "capture"
	cfg.Merge.Mode = "intersect-non-empty"
	require.NoError(t, cfg.Validate())

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, ModeBoth, opts.Mode)
	assert.Equal(t, merge.IntersectNonEmpty, opts.MergeMode)
	assert.True(t, opts.PreferCapture)
	assert.Equal(t, 16, opts.MaxLines)
	assert.Equal(t, "g.ubx", opts.GNSSPath)
}

type fakePoints struct {
	points []*write.Point
}

func (f *fakePoints) WritePoint(_ context.Context, p ...*write.Point) error {
	f.points = append(f.points, p...)
	return nil
}

func TestWriteOutputs(t *testing.T) {
	files := simulate(t)
	r, c := testRunner(t)
	res, err := r.Run(context.Background(), options(files, ModeBoth))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out")
	points := &fakePoints{}
	written, err := r.WriteOutputs(context.Background(), res, OutputOptions{
		Dir:          out,
		CSV:          true,
		XLSX:         true,
		Map:          true,
		MapBin:       5 * time.Second,
		InfluxWriter: points,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(out, CSVName),
		filepath.Join(out, XLSXName),
		filepath.Join(out, KMLName),
		filepath.Join(out, GeoJSONName),
	}, written)

	f, err := os.Open(filepath.Join(out, CSVName))
	require.NoError(t, err)
	defer f.Close()
	lines, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, lines, res.Summary.Rows+1)

	x, err := excelize.OpenFile(filepath.Join(out, XLSXName))
	require.NoError(t, err)
	defer x.Close()
	assert.Equal(t, []string{"Merged", "Summary"}, x.GetSheetList())

	kml, err := os.ReadFile(filepath.Join(out, KMLName))
	require.NoError(t, err)
	assert.Contains(t, string(kml), "<LineString>")

	// Every row carries wall time once the GNSS clock is anchored.
	assert.Len(t, points.points, res.Summary.Rows)
	// parse_gnss, parse_modem, normalize, merge and export.
	assert.Equal(t, 5, testutil.CollectAndCount(c.StageDuration))
}

func TestSummaryWriteText(t *testing.T) {
	sum := Summary{
		Session:      "s1",
		Mode:         ModeBoth,
		GNSSFormat:   FormatRaw,
		Rows:         3,
		Errors:       3,
		ErrorSamples: []string{"a", "b"},
	}
	sum.GNSS.UnknownIDs = map[uint16]int{0x0A04: 2}
	var buf bytes.Buffer
	require.NoError(t, sum.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "Session: s1 (mode both)")
	assert.Contains(t, out, "unknown ids: 0x0A/0x04=2")
	assert.Contains(t, out, "Merge: rows=3")
	assert.Contains(t, out, "  ... 1 more")

	names := map[string]bool{}
	for _, it := range sum.Items() {
		names[it.Name] = true
	}
	assert.True(t, names["gnss_frames"] && names["modem_lines"] && names["rows_joined"])
}

func TestAddErrorsCapsSamples(t *testing.T) {
	var sum Summary
	errs := make([]error, maxErrorSamples+5)
	for i := range errs {
		errs[i] = os.ErrInvalid
	}
	sum.addErrors(errs)
	assert.Equal(t, maxErrorSamples+5, sum.Errors)
	assert.Len(t, sum.ErrorSamples, maxErrorSamples)
}
