// ============================================================================
// buildtrace CLI - Command Line Interface
// ============================================================================
//
// Command Structure:
//   buildtrace                     # Root command
//   ├── serve                      # HTTP API + gRPC health
//   ├── ingest   -f FILE           # Store snapshots from a JSON file
//   ├── report   [JOB_ID]          # Diff one job, or --from/--to a range
//   ├── simulate --jobs N          # Generate synthetic snapshots
//   ├── status                     # Config and ledger totals
//   └── --config, -c               # Config file (default configs/default.yaml)
//
// Configuration:
//   YAML file, then BUILDTRACE_* / INFLUXDB_* environment overrides.
//   A missing config file falls back to defaults.
//
// serve Command:
//   1. Load config, open store and sinks
//   2. Start HTTP (and gRPC health when server.grpc_addr is set)
//   3. Wait for SIGINT / SIGTERM
//   4. Shut down listeners, flush sinks and tracer
//
// Report output is JSON on stdout. Logs go to stderr.
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/buildtrace/internal/config"
	"github.com/ChuLiYu/buildtrace/internal/metrics"
	"github.com/ChuLiYu/buildtrace/internal/report"
	"github.com/ChuLiYu/buildtrace/internal/server"
	"github.com/ChuLiYu/buildtrace/internal/simulator"
	"github.com/ChuLiYu/buildtrace/internal/sink"
	"github.com/ChuLiYu/buildtrace/internal/snapshot"
	"github.com/ChuLiYu/buildtrace/internal/tracing"
	"github.com/ChuLiYu/buildtrace/internal/worker"
	"github.com/ChuLiYu/buildtrace/pkg/types"
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "buildtrace",
		Short: "buildtrace: snapshot diff and change reports for build jobs",
		Long: `buildtrace stores per-job entity snapshots and reports what changed
between consecutive jobs:
- added, removed and moved entities in plain language
- one metrics row per report (JSONL ledger, optional InfluxDB)
- HTTP API with Prometheus metrics and gRPC health`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildIngestCommand())
	rootCmd.AddCommand(buildReportCommand())
	rootCmd.AddCommand(buildSimulateCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// newLogger builds the process logger from the log section of the config.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Log.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", server.ServiceName)
}

// runtime is everything a command needs to generate reports.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     snapshot.Store
	sink      sink.Multi
	collector *metrics.Collector
	service   *report.Service
	tracing   tracing.ShutdownFunc
}

func newRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	rt := &runtime{
		cfg:    cfg,
		logger: newLogger(cfg, cmd.ErrOrStderr()),
	}
	slog.SetDefault(rt.logger)

	rt.tracing, err = tracing.Setup(server.ServiceName, cfg.Tracing.Exporter, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	rt.store, err = snapshot.Open(ctx, snapshot.Options{
		Backend:         cfg.Store.Backend,
		Dir:             cfg.Store.Dir,
		Bucket:          cfg.Store.Bucket,
		Prefix:          cfg.Store.Prefix,
		CredentialsFile: cfg.Store.CredentialsFile,
		SQLitePath:      cfg.Store.SQLitePath,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	if cfg.Sink.LedgerPath != "" {
		ledger, err := sink.OpenLedger(cfg.Sink.LedgerPath, cfg.Sink.SyncLedger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to open metrics ledger: %w", err)
		}
		rt.logger.Debug("metrics ledger opened", "path", ledger.Path(), "rows", ledger.Seq())
		rt.sink = append(rt.sink, ledger)
	}

	if cfg.Sink.Influx.URL != "" {
		influx, err := sink.NewInfluxSink(sink.InfluxConfig{
			URL:         cfg.Sink.Influx.URL,
			Token:       cfg.Sink.Influx.Token,
			Org:         cfg.Sink.Influx.Org,
			Bucket:      cfg.Sink.Influx.Bucket,
			Measurement: cfg.Sink.Influx.Measurement,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to create influx sink: %w", err)
		}
		rt.sink = append(rt.sink, influx)
	}

	opts := []report.Option{report.WithLogger(rt.logger)}
	if cfg.Metrics.Enabled {
		rt.collector = metrics.NewCollector(nil)
		opts = append(opts, report.WithObserver(rt.collector))
	}
	rt.service = report.NewService(rt.store, rt.sink, opts...)

	return rt, nil
}

// Close releases the store, sinks and tracer. Errors are logged.
func (rt *runtime) Close() {
	if rt.sink != nil {
		if err := rt.sink.Close(); err != nil {
			rt.logger.Error("failed to close metrics sinks", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Error("failed to close snapshot store", "error", err)
		}
	}
	if rt.tracing != nil {
		if err := rt.tracing(context.Background()); err != nil {
			rt.logger.Error("failed to flush traces", "error", err)
		}
	}
}

func buildServeCommand() *cobra.Command {
	var httpAddr, grpcAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the buildtrace HTTP API",
		Long:  "Serve /process, /report/{job_id}, /health and /metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, httpAddr, grpcAddr)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides server.http_addr)")
	cmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC health listen address (overrides server.grpc_addr)")

	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, httpAddr, grpcAddr string) error {
	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if httpAddr == "" {
		httpAddr = rt.cfg.Server.HTTPAddr
	}
	if grpcAddr == "" {
		grpcAddr = rt.cfg.Server.GRPCAddr
	}

	opts := []server.Option{server.WithLogger(rt.logger)}
	if rt.collector != nil {
		opts = append(opts, server.WithMetrics(rt.collector))
	}
	srv := server.New(rt.service, rt.store, opts...)

	rt.logger.Info("buildtrace starting",
		"config", configFile,
		"store", rt.cfg.Store.Backend,
		"sinks", len(rt.sink),
	)

	err = srv.Run(ctx, server.RunConfig{
		HTTPAddr:        httpAddr,
		GRPCAddr:        grpcAddr,
		ShutdownTimeout: rt.cfg.Server.ShutdownTimeout,
	})
	rt.logger.Info("buildtrace stopped")
	return err
}

func buildIngestCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store snapshots from a JSON file",
		Long:  "Read a JSON list of {job_id, timestamp, latency_ms, state} objects and store each one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("snapshot file is required (use --file or -f)")
			}
			return ingest(cmd, file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file containing snapshots")
	cmd.MarkFlagRequired("file")

	return cmd
}

func readSnapshots(path string) ([]*types.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snaps []*types.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	return snaps, nil
}

func ingest(cmd *cobra.Command, path string) error {
	snaps, err := readSnapshots(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, snap := range snaps {
		if err := rt.store.Put(ctx, snap); err != nil {
			return fmt.Errorf("failed to store snapshot: %w", err)
		}
	}

	rt.logger.Info("snapshots stored", "count", len(snaps), "file", path)
	fmt.Fprintf(cmd.OutOrStdout(), "stored %d snapshot(s)\n", len(snaps))
	return nil
}

func buildReportCommand() *cobra.Command {
	var from, to int64

	cmd := &cobra.Command{
		Use:   "report [job_id]",
		Short: "Generate change reports",
		Long:  "Diff a job against the previous one. With --from/--to, report every job in the range using the worker pool.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := reportIDs(args, from, to)
			if err != nil {
				return err
			}
			return runReports(cmd, ids)
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "first job id of a range")
	cmd.Flags().Int64Var(&to, "to", 0, "last job id of a range (inclusive)")

	return cmd
}

// reportIDs resolves the positional id or the --from/--to range.
func reportIDs(args []string, from, to int64) ([]types.JobID, error) {
	if len(args) == 1 {
		if from != 0 || to != 0 {
			return nil, errors.New("use either a job id or --from/--to, not both")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid job id %q: %w", args[0], report.ErrInvalidJobID)
		}
		return []types.JobID{types.JobID(id)}, nil
	}

	if from <= 0 || to < from {
		return nil, errors.New("a job id or a positive --from <= --to range is required")
	}
	ids := make([]types.JobID, 0, to-from+1)
	for id := from; id <= to; id++ {
		ids = append(ids, types.JobID(id))
	}
	return ids, nil
}

func runReports(cmd *cobra.Command, ids []types.JobID) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	results := worker.RunAll(ctx, rt.service.Generate, rt.cfg.Worker.Count, ids,
		worker.WithTimeout(rt.cfg.Worker.TaskTimeout))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			rt.logger.Error("report failed", "job_id", res.JobID, "error", res.Err)
			continue
		}
		if err := enc.Encode(res.Report); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if failed > 0 {
		if len(ids) == 1 {
			return results[0].Err
		}
		return fmt.Errorf("%d of %d reports failed", failed, len(ids))
	}
	return nil
}

func buildSimulateCommand() *cobra.Command {
	var jobs, baseObjects int
	var seed int64
	var withReports, printOnly bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate and store synthetic snapshots",
		Long:  "Generate jobs 1..N of evolving layouts, store them, and optionally report on each",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobs <= 0 {
				return errors.New("--jobs must be positive")
			}
			simCfg := simulator.Config{BaseObjects: baseObjects, Seed: seed}
			if printOnly {
				return printSimulation(cmd.OutOrStdout(), simCfg, jobs)
			}
			return simulate(cmd, simCfg, jobs, withReports)
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "n", 10, "number of jobs to generate")
	cmd.Flags().IntVar(&baseObjects, "objects", simulator.DefaultBaseObjects, "objects in the first job")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 picks one from the clock)")
	cmd.Flags().BoolVar(&withReports, "report", false, "generate a report for every simulated job")
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the snapshots as an ingest file instead of storing them")
	cmd.MarkFlagsMutuallyExclusive("report", "print")

	return cmd
}

// printSimulation writes the generated snapshots in the format ingest reads.
func printSimulation(out io.Writer, simCfg simulator.Config, jobs int) error {
	snaps, err := simulator.New(simCfg).Generate(jobs)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snaps)
}

func simulate(cmd *cobra.Command, simCfg simulator.Config, jobs int, withReports bool) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	snaps, err := simulator.New(simCfg).Generate(jobs)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	ids := make([]types.JobID, 0, len(snaps))
	for _, snap := range snaps {
		if err := rt.store.Put(ctx, snap); err != nil {
			return fmt.Errorf("failed to store simulated job %d: %w", snap.JobID, err)
		}
		ids = append(ids, snap.JobID)
	}
	rt.logger.Info("simulated jobs stored", "count", len(snaps), "store", rt.cfg.Store.Backend)

	out := cmd.OutOrStdout()
	if !withReports {
		fmt.Fprintf(out, "stored %d simulated job(s)\n", len(snaps))
		return nil
	}

	results := worker.RunAll(ctx, rt.service.Generate, rt.cfg.Worker.Count, ids,
		worker.WithTimeout(rt.cfg.Worker.TaskTimeout))
	for _, res := range results {
		if res.Err != nil {
			return fmt.Errorf("report for job %d: %w", res.JobID, res.Err)
		}
		fmt.Fprintf(out, "job %d: %s\n", res.JobID, res.Report.Summary)
	}
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and ledger status",
		Long:  "Display the effective configuration and totals replayed from the metrics ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.OutOrStdout())
		},
	}
	return cmd
}

func showStatus(out io.Writer) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Fprintln(out, "buildtrace status")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  config file:    %s\n", configFile)
	fmt.Fprintf(out, "  http addr:      %s\n", cfg.Server.HTTPAddr)
	fmt.Fprintf(out, "  grpc addr:      %s\n", orNone(cfg.Server.GRPCAddr))
	fmt.Fprintf(out, "  workers:        %d (timeout %s)\n", cfg.Worker.Count, cfg.Worker.TaskTimeout)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Snapshot store:")
	fmt.Fprintf(out, "  backend:        %s\n", cfg.Store.Backend)
	switch cfg.Store.Backend {
	case "file":
		fmt.Fprintf(out, "  dir:            %s\n", cfg.Store.Dir)
	case "gcs":
		fmt.Fprintf(out, "  bucket:         gs://%s/%s\n", cfg.Store.Bucket, cfg.Store.Prefix)
	case "sqlite":
		fmt.Fprintf(out, "  path:           %s\n", cfg.Store.SQLitePath)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Metrics sinks:")
	fmt.Fprintf(out, "  ledger:         %s\n", orNone(cfg.Sink.LedgerPath))
	fmt.Fprintf(out, "  influxdb:       %s\n", orNone(cfg.Sink.Influx.URL))
	fmt.Fprintf(out, "  prometheus:     %t\n", cfg.Metrics.Enabled)
	fmt.Fprintln(out)

	if cfg.Sink.LedgerPath == "" {
		return nil
	}

	totals, err := sink.Summarize(cfg.Sink.LedgerPath)
	if err != nil {
		return fmt.Errorf("failed to replay ledger: %w", err)
	}

	fmt.Fprintln(out, "Ledger:")
	fmt.Fprintf(out, "  reports:        %d\n", totals.Rows)
	fmt.Fprintf(out, "  added:          %d\n", totals.Added)
	fmt.Fprintf(out, "  removed:        %d\n", totals.Removed)
	fmt.Fprintf(out, "  modified:       %d\n", totals.Modified)
	fmt.Fprintf(out, "  unchanged:      %d\n", totals.Unchanged)
	if totals.Rows > 0 {
		fmt.Fprintf(out, "  mean latency:   %.1f ms\n", totals.MeanLatencyMs)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
