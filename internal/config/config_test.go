package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9000"
  grpc_addr: ":9001"
store:
  backend: sqlite
  sqlite_path: /tmp/snapshots.db
worker:
  count: 8
  task_timeout: 5s
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9001", cfg.Server.GRPCAddr)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/snapshots.db", cfg.Store.SQLitePath)
	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, 5*time.Second, cfg.Worker.TaskTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched sections keep their defaults
	assert.Equal(t, "data/metrics.jsonl", cfg.Sink.LedgerPath)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: file\n  dir: ./snapshots\n")

	t.Setenv("BUILDTRACE_STORE", "gcs")
	t.Setenv("BUILDTRACE_BUCKET", "gs://buildtrace-states")
	t.Setenv("INFLUXDB_URL", "http://influxdb:8086")
	t.Setenv("INFLUXDB_TOKEN", "secret")
	t.Setenv("BUILDTRACE_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gcs", cfg.Store.Backend)
	assert.Equal(t, "buildtrace-states", cfg.Store.Bucket, "gs:// prefix is stripped")
	assert.Equal(t, "http://influxdb:8086", cfg.Sink.Influx.URL)
	assert.Equal(t, 2, cfg.Worker.Count)
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"bad yaml", "server: [unterminated"},
		{"unknown backend", "store:\n  backend: bigtable\n"},
		{"gcs without bucket", "store:\n  backend: gcs\n"},
		{"sqlite without path", "store:\n  backend: sqlite\n"},
		{"influx url without token", "sink:\n  influx:\n    url: http://x\n"},
		{"unknown exporter", "tracing:\n  exporter: zipkin\n"},
		{"zero workers", "worker:\n  count: 0\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestShippedDefaultConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "./data", cfg.Store.Dir)
	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "job_results", cfg.Sink.Influx.Measurement)
	assert.Equal(t, 4, cfg.Worker.Count)
}
