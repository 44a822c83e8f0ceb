package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"covlog/internal/capture"
	"covlog/internal/logfile"
	"covlog/internal/pipeline"
	"covlog/internal/ubx"
)

type logSummary struct {
	Format    string
	Stats     ubx.Stats
	SatEpochs int
	Fixes     int
	TTFF      time.Duration
	// Span is the capture-time distance between the first and last record.
	Span time.Duration
}

func summarizeGNSSLog(format string, src ubx.Source) logSummary {
	s := logSummary{Format: format}
	var first, last time.Time
	lastSatITOW, haveSat := uint32(0), false
	for msg, err := range src.All() {
		if err != nil {
			continue
		}
		if t := msg.Captured(); !t.IsZero() {
			if first.IsZero() {
				first = t
			}
			last = t
		}
		switch v := msg.(type) {
		case ubx.NavRecord:
			if v.HasPosition() {
				s.Fixes++
			}
		case ubx.SatRecord:
			if !haveSat || v.ITOW != lastSatITOW {
				s.SatEpochs++
				lastSatITOW, haveSat = v.ITOW, true
			}
		case ubx.StatusRecord:
			if s.TTFF == 0 && v.TTFF > 0 {
				s.TTFF = v.TTFF
			}
		}
	}
	s.Stats = src.Stats()
	if !first.IsZero() {
		s.Span = last.Sub(first)
	}
	return s
}

func openSource(path string) (string, ubx.Source, func() error, error) {
	f, err := logfile.Open(path)
	if err != nil {
		return "", nil, nil, err
	}
	format := pipeline.DetectGNSSFormat(f.Bytes())
	switch format {
	case pipeline.FormatCapture:
		recs, err := capture.NewReader(f.Reader()).ReadAll()
		if err != nil {
			_ = f.Close()
			return "", nil, nil, err
		}
		stream, idx := capture.Stream(recs)
		return format, ubx.NewBytesDecoder(stream, ubx.WithCaptureIndex(idx)), f.Close, nil
	case pipeline.FormatText:
		return format, ubx.NewTextDecoder(f.Reader(), time.UTC), f.Close, nil
	default:
		return format, ubx.NewBytesDecoder(f.Bytes()), f.Close, nil
	}
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	format, src, closeFn, err := openSource(path)
	if err != nil {
		return err
	}
	defer closeFn()

	s := summarizeGNSSLog(format, src)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "format: %s\n", s.Format)
	fmt.Fprintf(w, "frames: %d\n", s.Stats.Frames)
	fmt.Fprintf(w, "span: %s\n", s.Span)
	fmt.Fprintf(w, "fixes: %d\n", s.Fixes)
	if s.TTFF > 0 {
		fmt.Fprintf(w, "ttff: %s\n", s.TTFF)
	}
	fmt.Fprintf(w, "checksum_invalid: %d\n", s.Stats.Checksum)
	fmt.Fprintf(w, "unknown: %d\n", s.Stats.Unknown)
	fmt.Fprintf(w, "truncated: %d\n", s.Stats.Truncated)
	fmt.Fprintf(w, "malformed: %d\n", s.Stats.Malformed)

	counts := map[string]int{
		ubx.Name(ubx.ClassNAV, ubx.IDNavPVT):    s.Stats.Nav,
		ubx.Name(ubx.ClassNAV, ubx.IDNavSat):    s.SatEpochs,
		ubx.Name(ubx.ClassNAV, ubx.IDNavStatus): s.Stats.Status,
	}
	for k, n := range s.Stats.UnknownIDs {
		counts[ubx.Name(byte(k>>8), byte(k))] = n
	}
	names := make([]string, 0, len(counts))
	for name, n := range counts {
		if n > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	fmt.Fprintf(w, "msg_counts:\n")
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", name, counts[name])
	}
	return nil
}
