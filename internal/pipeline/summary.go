package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"covlog/internal/export"
	"covlog/internal/merge"
	"covlog/internal/modem"
	"covlog/internal/timebase"
	"covlog/internal/ubx"
)

// Summary counts what a run read, skipped and produced.
type Summary struct {
	Session string
	Mode    Mode

	GNSSFormat string
	GNSS       ubx.Stats
	TTFF       time.Duration

	Modem          modem.Stats
	ModemUnmatched []string
	// PumpFiltered counts modem records dropped in pump mode for carrying no event.
	PumpFiltered int

	Time     timebase.Stats
	Anchor   timebase.Anchor
	Relative bool

	Merge     merge.Stats
	Tolerance time.Duration
	Rows      int
	Segments  int

	Errors       int
	ErrorSamples []string
	Elapsed      time.Duration
}

func (s *Summary) addErrors(errs []error) {
	for _, err := range errs {
		s.Errors++
		if len(s.ErrorSamples) < maxErrorSamples {
			s.ErrorSamples = append(s.ErrorSamples, err.Error())
		}
	}
}

// Items flattens the summary for the spreadsheet Summary sheet.
func (s Summary) Items() []export.SummaryItem {
	items := []export.SummaryItem{
		{Name: "session", Value: s.Session},
		{Name: "mode", Value: string(s.Mode)},
	}
	if s.Mode != ModeModem {
		items = append(items,
			export.SummaryItem{Name: "gnss_format", Value: s.GNSSFormat},
			export.SummaryItem{Name: "gnss_frames", Value: s.GNSS.Frames},
			export.SummaryItem{Name: "gnss_nav", Value: s.GNSS.Nav},
			export.SummaryItem{Name: "gnss_sat", Value: s.GNSS.Sat},
			export.SummaryItem{Name: "gnss_status", Value: s.GNSS.Status},
			export.SummaryItem{Name: "gnss_checksum_invalid", Value: s.GNSS.Checksum},
			export.SummaryItem{Name: "gnss_unknown", Value: s.GNSS.Unknown},
			export.SummaryItem{Name: "gnss_truncated", Value: s.GNSS.Truncated},
			export.SummaryItem{Name: "gnss_malformed", Value: s.GNSS.Malformed},
			export.SummaryItem{Name: "gnss_time_anchor", Value: s.Anchor.String()},
			export.SummaryItem{Name: "gnss_time_corrected", Value: s.Time.NavCorrected},
			export.SummaryItem{Name: "gnss_time_clamped", Value: s.Time.NavClamped},
		)
		if s.TTFF > 0 {
			items = append(items, export.SummaryItem{Name: "ttff_s", Value: s.TTFF.Seconds()})
		}
	}
	if s.Mode != ModeGNSS {
		items = append(items,
			export.SummaryItem{Name: "modem_lines", Value: s.Modem.Lines},
			export.SummaryItem{Name: "modem_records", Value: s.Modem.Records},
			export.SummaryItem{Name: "modem_ignored", Value: s.Modem.Ignored},
			export.SummaryItem{Name: "modem_malformed", Value: s.Modem.Malformed},
			export.SummaryItem{Name: "modem_unknown_status", Value: s.Modem.Unknown},
			export.SummaryItem{Name: "modem_incomplete", Value: s.Modem.Incomplete},
			export.SummaryItem{Name: "modem_empty_epochs", Value: s.Modem.Empty},
			export.SummaryItem{Name: "modem_time_regressions", Value: s.Time.ModemRegressed},
		)
	}
	items = append(items,
		export.SummaryItem{Name: "tolerance_s", Value: s.Tolerance.Seconds()},
		export.SummaryItem{Name: "rows", Value: s.Rows},
		export.SummaryItem{Name: "rows_joined", Value: s.Merge.Joined},
		export.SummaryItem{Name: "rows_gnss_only", Value: s.Merge.GNSSOnly},
		export.SummaryItem{Name: "rows_modem_only", Value: s.Merge.ModemOnly},
		export.SummaryItem{Name: "rows_dropped", Value: s.Merge.Dropped},
		export.SummaryItem{Name: "records_set_aside", Value: s.Merge.SetAside},
		export.SummaryItem{Name: "errors", Value: s.Errors},
	)
	return items
}

// WriteText prints the summary in the CLI's end-of-run format.
func (s Summary) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s (mode %s)\n", s.Session, s.Mode)
	if s.Mode != ModeModem {
		fmt.Fprintf(&b, "GNSS (%s): frames=%d nav=%d sat=%d status=%d\n", s.GNSSFormat, s.GNSS.Frames, s.GNSS.Nav, s.GNSS.Sat, s.GNSS.Status)
		fmt.Fprintf(&b, "  skipped: checksum=%d unknown=%d truncated=%d malformed=%d\n", s.GNSS.Checksum, s.GNSS.Unknown, s.GNSS.Truncated, s.GNSS.Malformed)
		if len(s.GNSS.UnknownIDs) > 0 {
			keys := make([]int, 0, len(s.GNSS.UnknownIDs))
			for k := range s.GNSS.UnknownIDs {
				keys = append(keys, int(k))
			}
			sort.Ints(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("0x%02X/0x%02X=%d", k>>8, k&0xff, s.GNSS.UnknownIDs[uint16(k)]))
			}
			fmt.Fprintf(&b, "  unknown ids: %s\n", strings.Join(parts, " "))
		}
		fmt.Fprintf(&b, "  time: anchor=%s corrected=%d clamped=%d", s.Anchor, s.Time.NavCorrected, s.Time.NavClamped)
		if s.Relative {
			b.WriteString(" (relative)")
		}
		b.WriteString("\n")
		if s.TTFF > 0 {
			fmt.Fprintf(&b, "  ttff: %s\n", s.TTFF)
		}
	}
	if s.Mode != ModeGNSS {
		fmt.Fprintf(&b, "Modem: lines=%d records=%d commands=%d responses=%d events=%d\n", s.Modem.Lines, s.Modem.Records, s.Modem.Commands, s.Modem.Responses, s.Modem.Events)
		fmt.Fprintf(&b, "  skipped: ignored=%d malformed=%d unknown_status=%d incomplete=%d empty=%d\n", s.Modem.Ignored, s.Modem.Malformed, s.Modem.Unknown, s.Modem.Incomplete, s.Modem.Empty)
		if s.PumpFiltered > 0 {
			fmt.Fprintf(&b, "  pump mode: %d non-event records dropped\n", s.PumpFiltered)
		}
		for _, l := range s.ModemUnmatched {
			fmt.Fprintf(&b, "  unmatched: %s\n", l)
		}
	}
	fmt.Fprintf(&b, "Merge: rows=%d joined=%d gnss_only=%d modem_only=%d dropped=%d tolerance=%s\n",
		s.Rows, s.Merge.Joined, s.Merge.GNSSOnly, s.Merge.ModemOnly, s.Merge.Dropped, s.Tolerance)
	if s.Segments > 0 {
		fmt.Fprintf(&b, "  set aside: %d records in %d segments\n", s.Merge.SetAside, s.Segments)
	}
	if s.Errors > 0 {
		fmt.Fprintf(&b, "Errors: %d\n", s.Errors)
		for _, e := range s.ErrorSamples {
			fmt.Fprintf(&b, "  %s\n", e)
		}
		if s.Errors > len(s.ErrorSamples) {
			fmt.Fprintf(&b, "  ... %d more\n", s.Errors-len(s.ErrorSamples))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
