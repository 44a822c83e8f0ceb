package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

const minimal = "input:\n  gnss: ./gnss.ubx\n  modem: ./modem.log\n"

func TestLoad_RequiresInputs(t *testing.T) {
	_, err := Load(writeTempConfig(t, "input:\n  modem: ./modem.log\n"))
	requireErrEq(t, err, "input.gnss is required when parse.mode is 'both'")

	_, err = Load(writeTempConfig(t, "input:\n  gnss: ./gnss.ubx\n"))
	requireErrEq(t, err, "input.modem is required when parse.mode is 'both'")

	_, err = Load(writeTempConfig(t, "parse:\n  mode: pump\ninput:\n  gnss: ./gnss.ubx\n"))
	requireErrEq(t, err, "input.modem is required when parse.mode is 'pump'")
}

func TestLoad_SingleSourceModes(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "parse:\n  mode: gnss\ninput:\n  gnss: a.ubx\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.NeedsGNSS() || cfg.NeedsModem() {
		t.Fatalf("gnss mode: needs gnss=%v modem=%v", cfg.NeedsGNSS(), cfg.NeedsModem())
	}

	cfg, err = Load(writeTempConfig(t, "parse:\n  mode: MODEM\ninput:\n  modem: m.log\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Parse.Mode != "modem" || cfg.NeedsGNSS() || !cfg.NeedsModem() {
		t.Fatalf("modem mode: %+v", cfg.Parse)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Parse.Mode != "both" || cfg.Merge.Mode != "union" {
		t.Fatalf("modes=%q/%q", cfg.Parse.Mode, cfg.Merge.Mode)
	}
	if cfg.Merge.ToleranceWindow != 0 {
		t.Fatalf("tolerance=%s want derived (0)", cfg.Merge.ToleranceWindow)
	}
	if cfg.Merge.JumpThreshold != 2*time.Second {
		t.Fatalf("jump_threshold=%s", cfg.Merge.JumpThreshold)
	}
	if cfg.Modem.MaxLines != 16 {
		t.Fatalf("max_lines=%d", cfg.Modem.MaxLines)
	}
	if cfg.Input.GNSSFormat != "auto" || cfg.Input.GNSSTime != "native" || cfg.Input.Timezone != "Local" {
		t.Fatalf("input=%+v", cfg.Input)
	}
	if !cfg.Output.CSV || !cfg.Output.XLSX || cfg.Output.GenerateMap || cfg.Output.MapBin != 10*time.Second {
		t.Fatalf("output=%+v", cfg.Output)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "auto" || cfg.Metrics.Listen != ":9108" || cfg.Tracing.Exporter != "stdout" {
		t.Fatalf("ambient defaults: log=%+v metrics=%+v tracing=%+v", cfg.Log, cfg.Metrics, cfg.Tracing)
	}
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, `
input:
  gnss: ./gnss.log
  gnss_format: text
  gnss_time: capture
  modem: ./modem.log
  timezone: UTC
merge:
  mode: intersect-non-empty
  tolerance_window: 500ms
  jump_threshold: 5s
modem:
  max_lines: 8
output:
  dir: ./out
  csv: false
  generate_map: true
  map_bin: 30s
  influx: {enable: true, url: "http://localhost:8086", token: t, org: o, bucket: b}
log: {level: DEBUG, format: json, file: covlog.log}
metrics: {enable: true, listen: "127.0.0.1:9000"}
tracing: {enable: true, exporter: otlp, endpoint: "collector:4317"}
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Merge.ToleranceWindow != 500*time.Millisecond || cfg.Merge.JumpThreshold != 5*time.Second {
		t.Fatalf("merge=%+v", cfg.Merge)
	}
	if cfg.Output.CSV || !cfg.Output.XLSX || !cfg.Output.GenerateMap || cfg.Output.MapBin != 30*time.Second {
		t.Fatalf("output=%+v", cfg.Output)
	}
	if cfg.Modem.MaxLines != 8 || cfg.Log.Level != "debug" || cfg.Input.GNSSTime != "capture" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("location=%v", cfg.Location())
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name  string
		extra string
		want  string
	}{
		{"ParseMode", "parse:\n  mode: all\n", "parse.mode must be one of both, gnss, modem, pump"},
		{"GNSSFormat", "input:\n  gnss: a\n  modem: b\n  gnss_format: nmea\n", "input.gnss_format must be one of auto, raw, capture, text"},
		{"GNSSTime", "input:\n  gnss: a\n  modem: b\n  gnss_time: gps\n", "input.gnss_time must be 'native' or 'capture'"},
		{"Timezone", "input:\n  gnss: a\n  modem: b\n  timezone: Mars/Olympus\n", `input.timezone is invalid: "Mars/Olympus"`},
		{"MergeMode", "merge:\n  mode: inner\n", "merge.mode must be 'union' or 'intersect-non-empty'"},
		{"Tolerance", "merge:\n  tolerance_window: -1s\n", "merge.tolerance_window must be >= 0"},
		{"MaxLines", "modem:\n  max_lines: -2\n", "modem.max_lines must be > 0"},
		{"InfluxURL", "output:\n  influx: {enable: true}\n", "output.influx.url is required when output.influx.enable is true"},
		{"InfluxOrg", "output:\n  influx: {enable: true, url: x}\n", "output.influx.org is required when output.influx.enable is true"},
		{"InfluxBucket", "output:\n  influx: {enable: true, url: x, org: y}\n", "output.influx.bucket is required when output.influx.enable is true"},
		{"LogLevel", "log:\n  level: trace\n", "log.level must be one of debug, info, warn, error"},
		{"LogFormat", "log:\n  format: xml\n", "log.format must be one of auto, text, json"},
		{"Exporter", "tracing:\n  exporter: zipkin\n", "tracing.exporter must be 'stdout' or 'otlp'"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := tc.extra
			if tc.name != "GNSSFormat" && tc.name != "GNSSTime" && tc.name != "Timezone" && tc.name != "ParseMode" {
				body = minimal + tc.extra
			}
			_, err := Load(writeTempConfig(t, body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
	if _, err := Load(writeTempConfig(t, "input: [\n")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.Input.GNSS = "g"
	cfg.Input.Modem = "m"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}
