package export

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"covlog/internal/merge"
	"covlog/internal/modem"
)

const (
	influxMeasurement  = "coverage"
	defaultInfluxBatch = 500
)

// PointWriter is the blocking write half of an InfluxDB client.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Batch is the number of points per write; zero uses 500.
	Batch int
}

// InfluxSink writes merged rows as points of the "coverage" measurement.
type InfluxSink struct {
	client influxdb2.Client
	w      PointWriter
	batch  int
}

func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx url is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{client: client, w: client.WriteAPIBlocking(cfg.Org, cfg.Bucket), batch: cfg.Batch}, nil
}

// NewInfluxSinkWithWriter is used when the caller owns the write API.
func NewInfluxSinkWithWriter(w PointWriter, batch int) *InfluxSink {
	return &InfluxSink{w: w, batch: batch}
}

func (s *InfluxSink) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}

// Write sends every row that has a wall-clock time and reports how many
// points were written and how many rows were skipped for lack of one.
func (s *InfluxSink) Write(ctx context.Context, rows []merge.Row, session string) (written, skipped int, err error) {
	batch := s.batch
	if batch <= 0 {
		batch = defaultInfluxBatch
	}
	pending := make([]*write.Point, 0, batch)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.w.WritePoint(ctx, pending...); err != nil {
			return fmt.Errorf("influx write: %w", err)
		}
		written += len(pending)
		pending = pending[:0]
		return nil
	}
	for _, r := range rows {
		p, ok := rowPoint(r, session)
		if !ok {
			skipped++
			continue
		}
		pending = append(pending, p)
		if len(pending) >= batch {
			if err := flush(); err != nil {
				return written, skipped, err
			}
		}
	}
	return written, skipped, flush()
}

func rowPoint(r merge.Row, session string) (*write.Point, bool) {
	if r.Time.IsZero() {
		return nil, false
	}
	p := influxdb2.NewPointWithMeasurement(influxMeasurement).
		AddTag("sides", r.Sides.String()).
		AddField("elapsed_s", r.At.Seconds()).
		SetTime(r.Time)
	if session != "" {
		p.AddTag("session", session)
	}
	if n := r.Nav; n != nil {
		p.AddTag("fix_type", n.Record.Fix.String())
		if n.Record.HasPosition() {
			p.AddField("latitude", n.Record.Position.LatDeg).
				AddField("longitude", n.Record.Position.LonDeg).
				AddField("altitude", n.Record.Position.HeightMSL)
		}
		p.AddField("num_sv", n.Record.NumSV).
			AddField("h_acc", n.Record.HAcc).
			AddField("v_acc", n.Record.VAcc)
		if v, ok := n.CNo.MeanMax(); ok {
			p.AddField("mean_max_cno", v)
		}
	}
	if m := r.Modem; m != nil {
		rec := m.Record
		for name, v := range map[string]*float64{"rsrp": rec.RSRP, "rssi": rec.RSSI, "rsrq": rec.RSRQ, "sinr": rec.SINR} {
			if v != nil {
				p.AddField(name, *v)
			}
		}
		if q, ok := modem.Quality(rec); ok {
			p.AddField("quality", q)
		}
		if rec.Registration != modem.RegistrationNone {
			p.AddTag("registration", rec.Registration.String())
		}
		if rec.Event != modem.EventNone {
			p.AddTag("event", rec.Event.String())
		}
	}
	return p, true
}
