// Package pipeline runs parse, normalize and merge over one pair of logs.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"covlog/internal/capture"
	"covlog/internal/config"
	"covlog/internal/logfile"
	"covlog/internal/logging"
	"covlog/internal/merge"
	"covlog/internal/modem"
	"covlog/internal/observability"
	"covlog/internal/timebase"
	"covlog/internal/ubx"
)

// Mode selects which logs a run reads.
type Mode string

const (
	ModeBoth  Mode = "both"
	ModeGNSS  Mode = "gnss"
	ModeModem Mode = "modem"
	// ModePump merges GNSS with only the pump logger's event markers.
	ModePump Mode = "pump"
)

// GNSS log formats.
const (
	FormatAuto    = "auto"
	FormatRaw     = "raw"
	FormatCapture = "capture"
	FormatText    = "text"
)

// maxErrorSamples bounds the per-record errors kept for the summary.
const maxErrorSamples = 20

type Options struct {
	Mode       Mode
	GNSSPath   string
	GNSSFormat string
	ModemPath  string
	Location   *time.Location

	// PreferCapture uses the logger receive time as the GNSS clock.
	PreferCapture bool
	JumpThreshold time.Duration
	MergeMode     merge.Mode
	Tolerance     time.Duration
	MaxLines      int
}

// OptionsFromConfig maps a validated configuration onto run options.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	mm, err := merge.ParseMode(cfg.Merge.Mode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Mode:          Mode(cfg.Parse.Mode),
		GNSSPath:      cfg.Input.GNSS,
		GNSSFormat:    cfg.Input.GNSSFormat,
		ModemPath:     cfg.Input.Modem,
		Location:      cfg.Location(),
		PreferCapture: cfg.Input.GNSSTime == "capture",
		JumpThreshold: cfg.Merge.JumpThreshold,
		MergeMode:     mm,
		Tolerance:     cfg.Merge.ToleranceWindow,
		MaxLines:      cfg.Modem.MaxLines,
	}, nil
}

func (o Options) readsGNSS() bool  { return o.Mode != ModeModem }
func (o Options) readsModem() bool { return o.Mode != ModeGNSS }

type Result struct {
	Table   merge.Table
	Origin  time.Time
	Summary Summary
}

// Runner executes runs. A zero Runner logs nowhere and records no metrics.
type Runner struct {
	Log     logging.Logger
	Metrics *observability.PipelineCollector
	// NewSession returns the run's session id; defaults to a random UUID.
	NewSession func() string
}

// Run parses the configured inputs, places them on one time axis and merges
// them. Per-record problems are counted in the summary; only unreadable
// inputs and invalid options fail the run.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	log := r.Log
	if log == nil {
		log = logging.Noop()
	}
	session := uuid.NewString()
	if r.NewSession != nil {
		session = r.NewSession()
	}
	ctx = logging.ContextWithSession(ctx, session)
	log = log.With(logging.String("session_id", session))
	ctx = logging.ContextWithLogger(ctx, log)

	switch opts.Mode {
	case ModeBoth, ModeGNSS, ModeModem, ModePump:
	case "":
		opts.Mode = ModeBoth
	default:
		return nil, fmt.Errorf("unknown parse mode %q", opts.Mode)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	ctx, span := observability.StartSpan(ctx, "run", attribute.String("mode", string(opts.Mode)))
	defer span.End()
	start := time.Now()

	sum := Summary{Session: session, Mode: opts.Mode}
	log.Info(ctx, "run started", logging.String("mode", string(opts.Mode)))

	var g gnssResult
	if opts.readsGNSS() {
		var err error
		g, err = r.parseGNSS(ctx, opts)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		sum.GNSSFormat = g.format
		sum.GNSS = g.stats
		sum.TTFF = g.ttff
		sum.addErrors(g.errs)
	}

	var m modemResult
	if opts.readsModem() {
		var err error
		m, err = r.parseModem(ctx, opts)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		sum.Modem = m.stats
		sum.ModemUnmatched = m.unmatched
		sum.addErrors(m.errs)
		if opts.Mode == ModePump {
			kept := m.recs[:0]
			for _, rec := range m.recs {
				if rec.Event != modem.EventNone {
					kept = append(kept, rec)
				}
			}
			sum.PumpFiltered = len(m.recs) - len(kept)
			m.recs = kept
		}
	}

	stageStart := time.Now()
	_, nspan := observability.StartSpan(ctx, "normalize")
	norm := timebase.Normalizer{JumpThreshold: opts.JumpThreshold, PreferCapture: opts.PreferCapture}.Normalize(g.navs, m.recs)
	nspan.End()
	r.Metrics.ObserveStage("normalize", time.Since(stageStart))
	sum.Time = norm.Stats
	sum.Anchor = norm.Anchor
	sum.Relative = norm.Relative
	if norm.Relative {
		log.Warn(ctx, "gnss time could not be anchored; using elapsed time from first record")
	}

	gnssIn := gnssInputs(norm, ubx.NewSatIndex(g.sats))
	modemIn := make([]merge.ModemInput, len(norm.Modem))
	for i, s := range norm.Modem {
		modemIn[i] = merge.ModemInput{At: s.At, Time: s.Time, ModemSide: merge.ModemSide{Record: s.Rec}}
	}

	mergeMode := opts.MergeMode
	if opts.Mode == ModeGNSS {
		mergeMode = merge.Union
	}
	stageStart = time.Now()
	_, mspan := observability.StartSpan(ctx, "merge")
	tbl, err := merge.Merge(gnssIn, modemIn, merge.Options{Mode: mergeMode, Tolerance: opts.Tolerance})
	mspan.End()
	r.Metrics.ObserveStage("merge", time.Since(stageStart))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("merge: %w", err)
	}
	for _, e := range tbl.Errors {
		log.Warn(ctx, "input span set aside", logging.Err(e))
	}
	sum.addErrors(tbl.Errors)
	sum.Merge = tbl.Stats
	sum.Tolerance = tbl.Tolerance
	sum.Rows = len(tbl.Rows)
	sum.Segments = len(tbl.Segments)
	sum.Elapsed = time.Since(start)

	r.record(sum)
	log.Info(ctx, "run finished",
		logging.Int("rows", sum.Rows),
		logging.Int("joined", sum.Merge.Joined),
		logging.Int("segments", sum.Segments),
		logging.Duration("tolerance", sum.Tolerance),
		logging.Duration("elapsed", sum.Elapsed),
	)
	return &Result{Table: tbl, Origin: norm.Origin, Summary: sum}, nil
}

func gnssInputs(norm timebase.Result, sats *ubx.SatIndex) []merge.GNSSInput {
	out := make([]merge.GNSSInput, len(norm.Nav))
	for i, s := range norm.Nav {
		out[i] = merge.GNSSInput{
			At:   s.At,
			Time: s.Time,
			GNSSSide: merge.GNSSSide{
				Record:        s.Rec,
				CNo:           ubx.SummarizeCNo(sats.Lookup(s.Rec.ITOW)),
				TimeCorrected: s.Corrected,
			},
		}
	}
	return out
}

type gnssResult struct {
	format string
	navs   []ubx.NavRecord
	sats   []ubx.SatRecord
	ttff   time.Duration
	stats  ubx.Stats
	errs   []error
}

func (r *Runner) parseGNSS(ctx context.Context, opts Options) (gnssResult, error) {
	log := logging.FromContext(ctx)
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "parse_gnss", attribute.String("path", opts.GNSSPath))
	defer span.End()

	f, err := logfile.Open(opts.GNSSPath)
	if err != nil {
		return gnssResult{}, fmt.Errorf("gnss input: %w", err)
	}
	defer f.Close()

	res := gnssResult{format: opts.GNSSFormat}
	if res.format == "" || res.format == FormatAuto {
		res.format = DetectGNSSFormat(f.Bytes())
	}

	var src ubx.Source
	switch res.format {
	case FormatRaw:
		src = ubx.NewBytesDecoder(f.Bytes())
	case FormatCapture:
		recs, err := capture.NewReader(f.Reader()).ReadAll()
		if err != nil {
			return gnssResult{}, fmt.Errorf("gnss capture log %s: %w", opts.GNSSPath, err)
		}
		stream, idx := capture.Stream(recs)
		src = ubx.NewBytesDecoder(stream, ubx.WithCaptureIndex(idx))
	case FormatText:
		src = ubx.NewTextDecoder(f.Reader(), opts.Location)
	default:
		return gnssResult{}, fmt.Errorf("unknown gnss format %q", res.format)
	}

	for msg, err := range src.All() {
		if err != nil {
			res.errs = append(res.errs, err)
			log.Debug(ctx, "gnss record skipped", logging.Err(err))
			continue
		}
		switch v := msg.(type) {
		case ubx.NavRecord:
			res.navs = append(res.navs, v)
		case ubx.SatRecord:
			res.sats = append(res.sats, v)
		case ubx.StatusRecord:
			if res.ttff == 0 && v.TTFF > 0 {
				res.ttff = v.TTFF
			}
		}
	}
	res.stats = src.Stats()
	r.Metrics.ObserveStage("parse_gnss", time.Since(start))
	log.Info(ctx, "gnss log parsed",
		logging.String("format", res.format),
		logging.Int("nav", res.stats.Nav),
		logging.Int("sat", res.stats.Sat),
		logging.Int("checksum", res.stats.Checksum),
		logging.Int("unknown", res.stats.Unknown),
		logging.Int("malformed", res.stats.Malformed),
	)
	return res, nil
}

// DetectGNSSFormat guesses the format of a GNSS log from its content.
func DetectGNSSFormat(data []byte) string {
	if capture.IsCaptureLog(data) {
		return FormatCapture
	}
	head := data
	if len(head) > 64*1024 {
		head = head[:64*1024]
	}
	if bytes.Contains(head, []byte("<UBX(")) {
		return FormatText
	}
	return FormatRaw
}

type modemResult struct {
	recs      []modem.Record
	stats     modem.Stats
	unmatched []string
	errs      []error
}

func (r *Runner) parseModem(ctx context.Context, opts Options) (modemResult, error) {
	log := logging.FromContext(ctx)
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "parse_modem", attribute.String("path", opts.ModemPath))
	defer span.End()

	f, err := logfile.Open(opts.ModemPath)
	if err != nil {
		return modemResult{}, fmt.Errorf("modem input: %w", err)
	}
	defer f.Close()

	dec := modem.NewDecoder(f.Reader(), modem.Options{MaxLines: opts.MaxLines, Location: opts.Location})
	var res modemResult
	for rec, err := range dec.All() {
		if err != nil {
			res.errs = append(res.errs, err)
			log.Debug(ctx, "modem line rejected", logging.Err(err))
			continue
		}
		res.recs = append(res.recs, rec)
	}
	res.stats = dec.Stats()
	res.unmatched = dec.Unmatched()
	r.Metrics.ObserveStage("parse_modem", time.Since(start))
	log.Info(ctx, "modem log parsed",
		logging.Int("lines", res.stats.Lines),
		logging.Int("records", res.stats.Records),
		logging.Int("ignored", res.stats.Ignored),
		logging.Int("incomplete", res.stats.Incomplete),
	)
	return res, nil
}

func (r *Runner) record(s Summary) {
	c := r.Metrics
	if c == nil {
		return
	}
	c.AddFrames("nav", s.GNSS.Nav)
	c.AddFrames("sat", s.GNSS.Sat)
	c.AddFrames("status", s.GNSS.Status)
	c.AddFrames("checksum", s.GNSS.Checksum)
	c.AddFrames("unknown", s.GNSS.Unknown)
	c.AddFrames("truncated", s.GNSS.Truncated)
	c.AddFrames("malformed", s.GNSS.Malformed)

	c.AddModemLines("command", s.Modem.Commands)
	c.AddModemLines("response", s.Modem.Responses)
	c.AddModemLines("terminal", s.Modem.Terminals)
	c.AddModemLines("event", s.Modem.Events)
	c.AddModemLines("ignored", s.Modem.Ignored)
	c.AddModemLines("malformed", s.Modem.Malformed)
	c.AddModemLines("unknown", s.Modem.Unknown)

	c.AddRows(merge.Both.String(), s.Merge.Joined)
	c.AddRows(merge.GNSSOnly.String(), s.Merge.GNSSOnly)
	c.AddRows(merge.ModemOnly.String(), s.Merge.ModemOnly)
}
