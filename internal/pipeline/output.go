package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"covlog/internal/config"
	"covlog/internal/export"
	"covlog/internal/logging"
	"covlog/internal/observability"
	"covlog/internal/track"
)

// Output file names inside OutputOptions.Dir.
const (
	CSVName     = "covlog.csv"
	XLSXName    = "covlog.xlsx"
	KMLName     = "track.kml"
	GeoJSONName = "track.geojson"
)

type OutputOptions struct {
	Dir    string
	CSV    bool
	XLSX   bool
	Map    bool
	MapBin time.Duration

	// Influx is nil when the time-series sink is disabled.
	Influx *export.InfluxConfig
	// InfluxWriter replaces the HTTP client built from Influx.
	InfluxWriter export.PointWriter
}

func OutputOptionsFromConfig(cfg config.Config) OutputOptions {
	out := OutputOptions{
		Dir:    cfg.Output.Dir,
		CSV:    cfg.Output.CSV,
		XLSX:   cfg.Output.XLSX,
		Map:    cfg.Output.GenerateMap,
		MapBin: cfg.Output.MapBin,
	}
	if ic := cfg.Output.Influx; ic.Enable {
		out.Influx = &export.InfluxConfig{URL: ic.URL, Token: ic.Token, Org: ic.Org, Bucket: ic.Bucket}
	}
	return out
}

// WriteOutputs writes the enabled exports of res and returns the paths of the
// files it created.
func (r *Runner) WriteOutputs(ctx context.Context, res *Result, opts OutputOptions) ([]string, error) {
	log := r.Log
	if log == nil {
		log = logging.Noop()
	}
	log = log.With(logging.String("session_id", res.Summary.Session))
	ctx, span := observability.StartSpan(ctx, "export")
	defer span.End()
	start := time.Now()
	defer func() { r.Metrics.ObserveStage("export", time.Since(start)) }()

	var written []string
	needDir := opts.CSV || opts.XLSX || opts.Map
	if needDir {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	rows := res.Table.Rows

	if opts.CSV {
		p := filepath.Join(opts.Dir, CSVName)
		if err := export.WriteCSVFile(p, rows); err != nil {
			span.RecordError(err)
			return written, err
		}
		written = append(written, p)
	}
	if opts.XLSX {
		p := filepath.Join(opts.Dir, XLSXName)
		if err := export.WriteXLSX(p, res.Table, res.Summary.Items()); err != nil {
			span.RecordError(err)
			return written, err
		}
		written = append(written, p)
	}
	if opts.Map {
		points := track.Collect(track.Extract(rows))
		if opts.MapBin > 0 {
			points = track.Bin(points, opts.MapBin)
		}
		if len(points) == 0 {
			log.Warn(ctx, "no positioned rows; map not written")
		} else {
			kml := filepath.Join(opts.Dir, KMLName)
			if err := writeFile(kml, func(f *os.File) error {
				return track.WriteKML(f, "covlog "+res.Summary.Session, points)
			}); err != nil {
				span.RecordError(err)
				return written, err
			}
			gj := filepath.Join(opts.Dir, GeoJSONName)
			if err := writeFile(gj, func(f *os.File) error {
				return track.WriteGeoJSON(f, points)
			}); err != nil {
				span.RecordError(err)
				return written, err
			}
			written = append(written, kml, gj)
		}
	}

	if opts.Influx != nil || opts.InfluxWriter != nil {
		var sink *export.InfluxSink
		if opts.InfluxWriter != nil {
			batch := 0
			if opts.Influx != nil {
				batch = opts.Influx.Batch
			}
			sink = export.NewInfluxSinkWithWriter(opts.InfluxWriter, batch)
		} else {
			var err error
			sink, err = export.NewInfluxSink(*opts.Influx)
			if err != nil {
				return written, err
			}
		}
		defer sink.Close()
		n, skipped, err := sink.Write(ctx, rows, res.Summary.Session)
		if err != nil {
			span.RecordError(err)
			return written, err
		}
		log.Info(ctx, "influx export done", logging.Int("points", n), logging.Int("skipped", skipped))
	}

	for _, p := range written {
		log.Info(ctx, "wrote output", logging.String("path", p))
	}
	return written, nil
}

func writeFile(path string, fn func(*os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := fn(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
