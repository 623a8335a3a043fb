package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// DefaultMeasurement is the measurement job results are written to.
const DefaultMeasurement = "job_results"

// InfluxConfig configures an InfluxSink.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// InfluxSink writes one point per MetricsRecord, tagged by job id and
// timestamped with the snapshot's own timestamp.
type InfluxSink struct {
	client      influxdb2.Client // nil when built around an injected WriteAPI
	writeAPI    api.WriteAPIBlocking
	measurement string
}

// NewInfluxSink connects to InfluxDB. The client is not health-checked here;
// write failures surface per Insert.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("influx url and token are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := NewInfluxSinkWithAPI(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement)
	s.client = client
	return s, nil
}

// NewInfluxSinkWithAPI wraps an existing blocking write API.
func NewInfluxSinkWithAPI(writeAPI api.WriteAPIBlocking, measurement string) *InfluxSink {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &InfluxSink{writeAPI: writeAPI, measurement: measurement}
}

func (s *InfluxSink) Insert(ctx context.Context, rec types.MetricsRecord) ([]string, error) {
	rowErrors := validate(rec)
	ts, err := time.Parse(time.RFC3339, rec.Timestamp)
	if err != nil {
		rowErrors = append(rowErrors, fmt.Sprintf("timestamp: %q is not RFC3339", rec.Timestamp))
	}
	if len(rowErrors) > 0 {
		return rowErrors, nil
	}

	p := influxdb2.NewPoint(
		s.measurement,
		map[string]string{
			"job_id": rec.JobID,
		},
		map[string]interface{}{
			"latency_ms":      rec.LatencyMs,
			"total_added":     rec.TotalAdded,
			"total_removed":   rec.TotalRemoved,
			"total_modified":  rec.TotalModified,
			"total_unchanged": rec.TotalUnchanged,
		},
		ts,
	)

	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return nil, fmt.Errorf("influx write for job %s: %w", rec.JobID, err)
	}
	return nil, nil
}

func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
