// Package config loads buildtrace configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server struct {
		HTTPAddr        string        `yaml:"http_addr" env:"BUILDTRACE_HTTP_ADDR"`
		GRPCAddr        string        `yaml:"grpc_addr" env:"BUILDTRACE_GRPC_ADDR"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"BUILDTRACE_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`

	Store struct {
		Backend         string `yaml:"backend" env:"BUILDTRACE_STORE"`
		Dir             string `yaml:"dir" env:"BUILDTRACE_STORE_DIR"`
		Bucket          string `yaml:"bucket" env:"BUILDTRACE_BUCKET"`
		Prefix          string `yaml:"prefix" env:"BUILDTRACE_PREFIX"`
		CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
		SQLitePath      string `yaml:"sqlite_path" env:"BUILDTRACE_SQLITE_PATH"`
	} `yaml:"store"`

	Sink struct {
		LedgerPath string `yaml:"ledger_path" env:"BUILDTRACE_LEDGER_PATH"`
		SyncLedger bool   `yaml:"sync_ledger" env:"BUILDTRACE_SYNC_LEDGER"`
		Influx     struct {
			URL         string `yaml:"url" env:"INFLUXDB_URL"`
			Token       string `yaml:"token" env:"INFLUXDB_TOKEN"`
			Org         string `yaml:"org" env:"INFLUXDB_ORG"`
			Bucket      string `yaml:"bucket" env:"INFLUXDB_BUCKET"`
			Measurement string `yaml:"measurement" env:"INFLUXDB_MEASUREMENT"`
		} `yaml:"influx"`
	} `yaml:"sink"`

	Metrics struct {
		Enabled bool `yaml:"enabled" env:"BUILDTRACE_METRICS"`
	} `yaml:"metrics"`

	Tracing struct {
		Exporter string `yaml:"exporter" env:"BUILDTRACE_TRACE_EXPORTER"` // none | stdout
	} `yaml:"tracing"`

	Worker struct {
		Count       int           `yaml:"count" env:"BUILDTRACE_WORKERS"`
		TaskTimeout time.Duration `yaml:"task_timeout" env:"BUILDTRACE_TASK_TIMEOUT"`
	} `yaml:"worker"`

	Log struct {
		Level  string `yaml:"level" env:"BUILDTRACE_LOG_LEVEL"`
		Format string `yaml:"format" env:"BUILDTRACE_LOG_FORMAT"` // json | text
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.HTTPAddr = ":8080"
	cfg.Server.GRPCAddr = ""
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Store.Backend = "file"
	cfg.Store.Dir = "data"
	cfg.Sink.LedgerPath = "data/metrics.jsonl"
	cfg.Sink.Influx.Measurement = "job_results"
	cfg.Metrics.Enabled = true
	cfg.Tracing.Exporter = "none"
	cfg.Worker.Count = 4
	cfg.Worker.TaskTimeout = 30 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Store.Bucket = strings.TrimPrefix(cfg.Store.Bucket, "gs://")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file":
		if c.Store.Dir == "" {
			return errors.New("store.dir is required for the file backend")
		}
	case "gcs":
		if c.Store.Bucket == "" {
			return errors.New("store.bucket is required for the gcs backend")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if (c.Sink.Influx.URL == "") != (c.Sink.Influx.Token == "") {
		return errors.New("sink.influx.url and sink.influx.token must be set together")
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter)
	}

	if c.Worker.Count <= 0 {
		return errors.New("worker.count must be positive")
	}
	return nil
}
