package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"covlog/internal/capture"
	"covlog/internal/pipeline"
	"covlog/internal/sim"
	"covlog/internal/ubx"
)

func TestRun_SimulateThenProcess(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-simulate", filepath.Join(dir, "logs")}, &stdout, &stderr); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(stdout.String(), "gnss: ") || !strings.Contains(stdout.String(), "duration: 10m0s") {
		t.Fatalf("simulate output: %q", stdout.String())
	}

	cfgPath := filepath.Join(dir, "covlog.yaml")
	cfg := "input:\n  timezone: UTC\noutput:\n  generate_map: true\nlog:\n  format: json\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// -gnss/-modem fill in what the file leaves out.
	stdout.Reset()
	out := filepath.Join(dir, "out")
	args := []string{
		"-config", cfgPath,
		"-gnss", filepath.Join(dir, "logs", sim.GNSSFile),
		"-modem", filepath.Join(dir, "logs", sim.ModemFile),
		"-out", out,
	}
	if err := run(context.Background(), args, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}
	for _, name := range []string{pipeline.CSVName, pipeline.XLSXName, pipeline.KMLName, pipeline.GeoJSONName} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	text := stdout.String()
	for _, want := range []string{"Session: ", "GNSS (capture): frames=", "Modem: lines=", "Merge: rows=", "wrote "} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in output: %q", want, text)
		}
	}
	if !strings.Contains(stderr.String(), `"msg":"run finished"`) {
		t.Fatalf("expected json run log on stderr, got %q", stderr.String())
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-mode", "modem"}, &stdout, &stderr)
	if err == nil || err.Error() != "config load failed: input.modem is required when parse.mode is 'modem'" {
		t.Fatalf("err=%v", err)
	}

	err = run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	if err == nil || !strings.HasPrefix(err.Error(), "config load failed: ") {
		t.Fatalf("err=%v", err)
	}

	err = run(context.Background(), []string{"-h"}, &stdout, &stderr)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("help err=%v", err)
	}

	err = run(context.Background(), []string{"extra"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "unexpected arguments") {
		t.Fatalf("err=%v", err)
	}
}

func TestRun_SimulateRejectsBadScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(script, []byte("version: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-simulate", dir, "-script", script}, &stdout, &stderr)
	if err == nil || err.Error() != "scenario invalid: unsupported scenario version 3" {
		t.Fatalf("err=%v", err)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("input:\n  gnss: a.ubx\n  modem: a.log\noutput:\n  dir: ./a\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadConfig(flags{config: path, gnss: "b.ubx", mode: "gnss", outDir: "./b"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Input.GNSS != "b.ubx" || cfg.Input.Modem != "a.log" || cfg.Parse.Mode != "gnss" || cfg.Output.Dir != "./b" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestPrintLogSummary_CaptureLog(t *testing.T) {
	script, err := sim.ParseScriptYAML([]byte("duration: 10s\ngnss:\n  fix_after: 2s\n  satellites: 4\n"))
	if err != nil {
		t.Fatalf("ParseScriptYAML: %v", err)
	}
	scn, err := sim.NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	files, err := sim.Generate(t.TempDir(), scn)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var buf bytes.Buffer
	if err := printLogSummary(&buf, files.GNSS); err != nil {
		t.Fatalf("printLogSummary: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"format: capture\n",
		"frames: 24\n",
		"span: 10s\n",
		"fixes: 9\n",
		"ttff: 2s\n",
		"checksum_invalid: 0\n",
		"  NAV-PVT: 11\n",
		"  NAV-SAT: 11\n",
		"  NAV-STATUS: 2\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output: %q", want, out)
		}
	}
}

func TestPrintLogSummary_RawWithNoise(t *testing.T) {
	var raw []byte
	raw = append(raw, ubx.EncodeNavStatus(ubx.StatusRecord{ITOW: 1000})...)
	raw = append(raw, 0x00, 0x01, 0x02)
	raw = append(raw, ubx.Encode(0x0A, 0x04, []byte{1, 2, 3})...)
	bad := ubx.EncodeNavStatus(ubx.StatusRecord{ITOW: 2000})
	bad[len(bad)-1] ^= 0xFF
	raw = append(raw, bad...)

	path := filepath.Join(t.TempDir(), "gnss.ubx")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var buf bytes.Buffer
	if err := printLogSummary(&buf, path); err != nil {
		t.Fatalf("printLogSummary: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"format: raw\n", "checksum_invalid: 1\n", "unknown: 1\n", "  0x0A-0x04: 1\n", "  NAV-STATUS: 1\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output: %q", want, out)
		}
	}
	if err := printLogSummary(&buf, " "); err == nil || err.Error() != "path is empty" {
		t.Fatalf("empty path err=%v", err)
	}
}

func TestIsCaptureLogMatchesSimulator(t *testing.T) {
	dir := t.TempDir()
	if err := simulate(&bytes.Buffer{}, dir, ""); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, sim.GNSSFile))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !capture.IsCaptureLog(b) {
		t.Fatalf("simulated gnss log not recognized as capture log")
	}
}
