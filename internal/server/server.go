// ============================================================================
// buildtrace HTTP API
// ============================================================================
//
// Routes:
//   POST /process           store a batch of job snapshots
//   GET  /report/:job_id    diff job_id against job_id-1
//   GET  /health            store reachability
//   GET  /metrics           Prometheus (when a collector is configured)
//
// Error mapping for /report:
//   invalid job id        → 400
//   report.ErrNotFound    → 404
//   anything else         → 500
//
// ============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ChuLiYu/buildtrace/internal/metrics"
	"github.com/ChuLiYu/buildtrace/internal/report"
	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// ServiceName is reported by /health and used for tracing.
const ServiceName = "buildtrace"

// Reporter generates a report for one job.
type Reporter interface {
	Generate(ctx context.Context, id types.JobID) (types.DiffReport, error)
}

// Store is the part of the snapshot store the API writes to.
type Store interface {
	Put(ctx context.Context, snap *types.Snapshot) error
	Ping(ctx context.Context) error
}

// Server owns the gin router and the gRPC health status it mirrors.
type Server struct {
	reporter Reporter
	store    Store
	metrics  *metrics.Collector
	logger   *slog.Logger
	health   *health.Server
	router   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics counts ingested snapshots and serves /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the router.
func New(reporter Reporter, store Store, opts ...Option) *Server {
	s := &Server{
		reporter: reporter,
		store:    store,
		logger:   slog.Default(),
		health:   health.NewServer(),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))

	router.POST("/process", s.handleProcess)
	router.GET("/report/:job_id", s.handleReport)
	router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Health returns the gRPC health service.
func (s *Server) Health() *health.Server { return s.health }

// --- API Request/Response Structs ---

// JobState is one element of the /process body. LatencyMs is a pointer so
// an omitted value is rejected instead of stored as 0.
type JobState struct {
	JobID     int64             `json:"job_id" binding:"required,gt=0"`
	Timestamp string            `json:"timestamp" binding:"required"`
	LatencyMs *int64            `json:"latency_ms" binding:"required,gte=0"`
	State     map[string]string `json:"state" binding:"required"`
}

func (j JobState) snapshot() *types.Snapshot {
	state := make(types.StateMap, len(j.State))
	for id, token := range j.State {
		state[id] = types.StateToken(token)
	}
	return &types.Snapshot{
		JobID:     types.JobID(j.JobID),
		Timestamp: j.Timestamp,
		LatencyMs: *j.LatencyMs,
		State:     state,
	}
}

type ProcessResponse struct {
	Status string `json:"status"`
	Stored int    `json:"stored"`
}

func (s *Server) handleProcess(c *gin.Context) {
	var jobs []JobState
	if err := c.ShouldBindJSON(&jobs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body", "error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	for _, job := range jobs {
		if err := s.store.Put(ctx, job.snapshot()); err != nil {
			s.logger.Error("snapshot upload failed", "job_id", job.JobID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("Failed to save job state for %d.", job.JobID)})
			return
		}
		s.logger.Info("job state saved", "job_id", job.JobID, "entities", len(job.State))
		if s.metrics != nil {
			s.metrics.SnapshotIngested()
		}
	}

	c.JSON(http.StatusAccepted, ProcessResponse{
		Status: "Jobs accepted and state stored. Ready for reporting.",
		Stored: len(jobs),
	})
}

func (s *Server) handleReport(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Job ID must be positive."})
		return
	}

	rep, err := s.reporter.Generate(c.Request.Context(), types.JobID(id))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, rep)
	case errors.Is(err, report.ErrInvalidJobID):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Job ID must be positive."})
	case errors.Is(err, report.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	default:
		s.logger.Error("error generating report", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal analysis failed. Check logs for metrics sink status."})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if !s.CheckHealth(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Service Unhealthy: snapshot store unavailable."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "SUCCESS", "service": ServiceName})
}

// CheckHealth pings the store and mirrors the result into the gRPC health
// service, both overall and under ServiceName.
func (s *Server) CheckHealth(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("snapshot store ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status == healthpb.HealthCheckResponse_SERVING
}
