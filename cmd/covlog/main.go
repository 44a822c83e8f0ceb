package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"covlog/internal/config"
	"covlog/internal/logging"
	"covlog/internal/observability"
	"covlog/internal/pipeline"
	"covlog/internal/sim"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "covlog: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	config   string
	summary  string
	simulate string
	script   string

	gnss   string
	modem  string
	mode   string
	outDir string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("covlog", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.config, "config", "", "Path to YAML config")
	fs.StringVar(&f.summary, "summary", "", "Print a summary of a GNSS log and exit")
	fs.StringVar(&f.simulate, "simulate", "", "Write synthetic GNSS and modem logs into this directory and exit")
	fs.StringVar(&f.script, "script", "", "Scenario YAML for -simulate (default: built-in ten minute loop)")
	fs.StringVar(&f.gnss, "gnss", "", "GNSS log path (overrides input.gnss)")
	fs.StringVar(&f.modem, "modem", "", "Modem transcript path (overrides input.modem)")
	fs.StringVar(&f.mode, "mode", "", "Parse mode: both, gnss, modem or pump (overrides parse.mode)")
	fs.StringVar(&f.outDir, "out", "", "Output directory (overrides output.dir)")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if fs.NArg() > 0 {
		return flags{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	switch {
	case f.summary != "":
		return printLogSummary(stdout, f.summary)
	case f.simulate != "":
		return simulate(stdout, f.simulate, f.script)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	log, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Out:    stderr,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enable,
		ServiceName: "covlog",
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Out:         stderr,
	}, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	metrics, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	if cfg.Metrics.Enable {
		stop, err := metrics.Serve(ctx, cfg.Metrics.Listen, log)
		if err != nil {
			return err
		}
		defer func() { _ = stop(context.WithoutCancel(ctx)) }()
	}

	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	runner := &pipeline.Runner{Log: log, Metrics: metrics}
	res, err := runner.Run(ctx, opts)
	if err != nil {
		log.Error(ctx, "run failed", logging.Err(err))
		return err
	}
	written, err := runner.WriteOutputs(ctx, res, pipeline.OutputOptionsFromConfig(cfg))
	if err != nil {
		log.Error(ctx, "export failed", logging.Err(err))
		return err
	}

	if err := res.Summary.WriteText(stdout); err != nil {
		return err
	}
	for _, p := range written {
		fmt.Fprintf(stdout, "wrote %s\n", p)
	}
	return nil
}

// loadConfig reads -config when given, else starts from defaults, then
// applies the flag overrides and validates.
func loadConfig(f flags) (config.Config, error) {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return config.Config{}, err
		}
	}
	if f.gnss != "" {
		cfg.Input.GNSS = f.gnss
	}
	if f.modem != "" {
		cfg.Input.Modem = f.modem
	}
	if f.mode != "" {
		cfg.Parse.Mode = f.mode
	}
	if f.outDir != "" {
		cfg.Output.Dir = f.outDir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func simulate(stdout io.Writer, dir, scriptPath string) error {
	script := sim.DefaultScript()
	if scriptPath != "" {
		var err error
		if script, err = sim.LoadScript(scriptPath); err != nil {
			return fmt.Errorf("scenario load failed: %w", err)
		}
	}
	scn, err := sim.NewScenario(script)
	if err != nil {
		return fmt.Errorf("scenario invalid: %w", err)
	}
	files, err := sim.Generate(dir, scn)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "gnss: %s\n", files.GNSS)
	fmt.Fprintf(stdout, "modem: %s\n", files.Modem)
	fmt.Fprintf(stdout, "duration: %s\n", scn.Duration())
	return nil
}
