package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Input   InputConfig   `yaml:"input"`
	Parse   ParseConfig   `yaml:"parse"`
	Merge   MergeConfig   `yaml:"merge"`
	Modem   ModemConfig   `yaml:"modem"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type InputConfig struct {
	GNSS string `yaml:"gnss"`
	// GNSSFormat is auto, raw, capture or text.
	GNSSFormat string `yaml:"gnss_format"`
	// GNSSTime selects the GNSS native clock: native (receiver time) or
	// capture (logger receive time).
	GNSSTime string `yaml:"gnss_time"`
	Modem    string `yaml:"modem"`
	// Timezone applies to naive log timestamps.
	Timezone string `yaml:"timezone"`
}

type ParseConfig struct {
	// Mode is both, gnss, modem or pump.
	Mode string `yaml:"mode"`
}

type MergeConfig struct {
	Mode            string        `yaml:"mode"`
	ToleranceWindow time.Duration `yaml:"tolerance_window"`
	JumpThreshold   time.Duration `yaml:"jump_threshold"`
}

type ModemConfig struct {
	MaxLines int `yaml:"max_lines"`
}

type OutputConfig struct {
	Dir         string        `yaml:"dir"`
	CSV         bool          `yaml:"csv"`
	XLSX        bool          `yaml:"xlsx"`
	GenerateMap bool          `yaml:"generate_map"`
	MapBin      time.Duration `yaml:"map_bin"`
	Influx      InfluxConfig  `yaml:"influx"`
}

type InfluxConfig struct {
	Enable bool   `yaml:"enable"`
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type MetricsConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type TracingConfig struct {
	Enable   bool   `yaml:"enable"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Input: InputConfig{GNSSFormat: "auto", GNSSTime: "native", Timezone: "Local"},
		Parse: ParseConfig{Mode: "both"},
		Merge: MergeConfig{Mode: "union", JumpThreshold: 2 * time.Second},
		Modem: ModemConfig{MaxLines: 16},
		Output: OutputConfig{
			Dir:    "./output",
			CSV:    true,
			XLSX:   true,
			MapBin: 10 * time.Second,
		},
		Log:     LogConfig{Level: "info", Format: "auto"},
		Metrics: MetricsConfig{Listen: ":9108"},
		Tracing: TracingConfig{Exporter: "stdout"},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	def := Default()

	c.Parse.Mode = strings.ToLower(strings.TrimSpace(c.Parse.Mode))
	if c.Parse.Mode == "" {
		c.Parse.Mode = def.Parse.Mode
	}
	switch c.Parse.Mode {
	case "both", "gnss", "modem", "pump":
	default:
		return fmt.Errorf("parse.mode must be one of both, gnss, modem, pump")
	}
	if c.NeedsGNSS() && c.Input.GNSS == "" {
		return fmt.Errorf("input.gnss is required when parse.mode is '%s'", c.Parse.Mode)
	}
	if c.NeedsModem() && c.Input.Modem == "" {
		return fmt.Errorf("input.modem is required when parse.mode is '%s'", c.Parse.Mode)
	}

	if c.Input.GNSSFormat == "" {
		c.Input.GNSSFormat = def.Input.GNSSFormat
	}
	switch c.Input.GNSSFormat {
	case "auto", "raw", "capture", "text":
	default:
		return fmt.Errorf("input.gnss_format must be one of auto, raw, capture, text")
	}
	if c.Input.GNSSTime == "" {
		c.Input.GNSSTime = def.Input.GNSSTime
	}
	if c.Input.GNSSTime != "native" && c.Input.GNSSTime != "capture" {
		return fmt.Errorf("input.gnss_time must be 'native' or 'capture'")
	}
	if c.Input.Timezone == "" {
		c.Input.Timezone = def.Input.Timezone
	}
	if _, err := time.LoadLocation(c.Input.Timezone); err != nil {
		return fmt.Errorf("input.timezone is invalid: %q", c.Input.Timezone)
	}

	if c.Merge.Mode == "" {
		c.Merge.Mode = def.Merge.Mode
	}
	if c.Merge.Mode != "union" && c.Merge.Mode != "intersect-non-empty" {
		return fmt.Errorf("merge.mode must be 'union' or 'intersect-non-empty'")
	}
	if c.Merge.ToleranceWindow < 0 {
		return fmt.Errorf("merge.tolerance_window must be >= 0")
	}
	if c.Merge.JumpThreshold <= 0 {
		c.Merge.JumpThreshold = def.Merge.JumpThreshold
	}

	if c.Modem.MaxLines == 0 {
		c.Modem.MaxLines = def.Modem.MaxLines
	}
	if c.Modem.MaxLines < 0 {
		return fmt.Errorf("modem.max_lines must be > 0")
	}

	if c.Output.Dir == "" {
		c.Output.Dir = def.Output.Dir
	}
	if c.Output.MapBin <= 0 {
		c.Output.MapBin = def.Output.MapBin
	}
	if c.Output.Influx.Enable {
		if c.Output.Influx.URL == "" {
			return fmt.Errorf("output.influx.url is required when output.influx.enable is true")
		}
		if c.Output.Influx.Org == "" {
			return fmt.Errorf("output.influx.org is required when output.influx.enable is true")
		}
		if c.Output.Influx.Bucket == "" {
			return fmt.Errorf("output.influx.bucket is required when output.influx.enable is true")
		}
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "":
		c.Log.Level = def.Log.Level
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = def.Log.Format
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log.format must be one of auto, text, json")
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = def.Metrics.Listen
	}
	switch c.Tracing.Exporter {
	case "":
		c.Tracing.Exporter = def.Tracing.Exporter
	case "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be 'stdout' or 'otlp'")
	}
	return nil
}

// NeedsGNSS reports whether the parse mode reads the GNSS log.
func (c Config) NeedsGNSS() bool {
	return c.Parse.Mode != "modem"
}

// NeedsModem reports whether the parse mode reads the modem log.
func (c Config) NeedsModem() bool {
	return c.Parse.Mode != "gnss"
}

// Location resolves Input.Timezone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Input.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
