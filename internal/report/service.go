package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ChuLiYu/buildtrace/internal/metrics"
	"github.com/ChuLiYu/buildtrace/internal/snapshot"
	"github.com/ChuLiYu/buildtrace/pkg/types"
)

var tracer = otel.Tracer("buildtrace/report")

// Fetcher reads snapshots. It returns an error wrapping
// snapshot.ErrSnapshotNotFound when the job has no snapshot.
type Fetcher interface {
	Get(ctx context.Context, id types.JobID) (*types.Snapshot, error)
}

// Sink receives one MetricsRecord per generated report.
type Sink interface {
	Insert(ctx context.Context, rec types.MetricsRecord) ([]string, error)
}

// Observer is notified of report outcomes. *metrics.Collector implements it.
type Observer interface {
	ReportGenerated(rec types.MetricsRecord, elapsed time.Duration)
	ReportFailed(outcome string)
	SinkFailed()
	TokensDegraded(n int)
}

// Service generates reports from stored snapshots. It holds no per-request
// state and is safe for concurrent use.
type Service struct {
	store    Fetcher
	sink     Sink
	observer Observer
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires a store and a sink. sink may be nil to skip emission.
func NewService(store Fetcher, sink Sink, opts ...Option) *Service {
	s := &Service{
		store:  store,
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate diffs job jobID against jobID-1, emits the metrics record, and
// returns the report. Only a missing current snapshot (ErrNotFound), an
// invalid id (ErrInvalidJobID) or a store failure is returned as an error;
// sink failures are logged and swallowed.
func (s *Service) Generate(ctx context.Context, jobID types.JobID) (types.DiffReport, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "report.Generate",
		trace.WithAttributes(attribute.Int64("job_id", int64(jobID))))
	defer span.End()

	a, err := s.generate(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.failed(err)
		return types.DiffReport{}, err
	}
	rep, rec := a.Report, a.Metrics

	if len(a.Degraded) > 0 {
		span.SetAttributes(attribute.Int("degraded_tokens", len(a.Degraded)))
		s.logger.Warn("degraded state tokens",
			"job_id", int64(jobID),
			"count", len(a.Degraded),
			"ids", a.Degraded)
		if s.observer != nil {
			s.observer.TokensDegraded(len(a.Degraded))
		}
	}

	s.emit(ctx, rec)

	if s.observer != nil {
		s.observer.ReportGenerated(rec, time.Since(start))
	}
	span.SetAttributes(
		attribute.Int("total_added", rec.TotalAdded),
		attribute.Int("total_removed", rec.TotalRemoved),
		attribute.Int("total_modified", rec.TotalModified),
		attribute.Int("total_unchanged", rec.TotalUnchanged),
	)
	s.logger.Info("report generated",
		"job_id", int64(jobID),
		"added", rec.TotalAdded,
		"removed", rec.TotalRemoved,
		"modified", rec.TotalModified,
		"unchanged", rec.TotalUnchanged,
		"duration", time.Since(start))

	return rep, nil
}

func (s *Service) generate(ctx context.Context, jobID types.JobID) (Assembly, error) {
	if !jobID.Valid() {
		return Assembly{}, fmt.Errorf("%w: got %d", ErrInvalidJobID, jobID)
	}

	current, err := s.fetch(ctx, jobID)
	if err != nil {
		return Assembly{}, err
	}
	if current == nil {
		return Assembly{}, fmt.Errorf("%w: no snapshot for job %d", ErrNotFound, jobID)
	}

	// job 1 has no predecessor; 0 is never fetched
	var previous *types.Snapshot
	if prevID := jobID.Previous(); prevID.Valid() {
		previous, err = s.fetch(ctx, prevID)
		if err != nil {
			return Assembly{}, err
		}
	}

	return Assemble(jobID, current, previous)
}

// fetch returns nil, nil for an absent snapshot.
func (s *Service) fetch(ctx context.Context, id types.JobID) (*types.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "snapshot.Get", trace.WithAttributes(attribute.Int64("job_id", int64(id))))
	defer span.End()

	snap, err := s.store.Get(ctx, id)
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		span.SetAttributes(attribute.Bool("absent", true))
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load data for job %d: %w", id, err)
	}
	return snap, nil
}

// emit writes rec to the sink. Failures never reach the caller.
func (s *Service) emit(ctx context.Context, rec types.MetricsRecord) {
	if s.sink == nil {
		return
	}

	ctx, span := tracer.Start(ctx, "sink.Insert")
	defer span.End()

	rowErrors, err := s.sink.Insert(ctx, rec)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("metrics sink client error", "job_id", rec.JobID, "error", err)
		s.sinkFailed()
	}
	if len(rowErrors) > 0 {
		s.logger.Error("metrics sink insertion errors", "job_id", rec.JobID, "errors", rowErrors)
		s.sinkFailed()
	}
}

func (s *Service) sinkFailed() {
	if s.observer != nil {
		s.observer.SinkFailed()
	}
}

func (s *Service) failed(err error) {
	outcome := metrics.OutcomeError
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = metrics.OutcomeNotFound
		s.logger.Warn("report requested for missing snapshot", "error", err)
	case errors.Is(err, ErrInvalidJobID):
		outcome = metrics.OutcomeInvalid
	default:
		s.logger.Error("report generation failed", "error", err)
	}
	if s.observer != nil {
		s.observer.ReportFailed(outcome)
	}
}
