// ============================================================================
// Snapshot Store
// ============================================================================
//
// Package: internal/snapshot
// Purpose: Durable storage of per-job snapshots
//
// Every backend stores one JSON document per job, the same shape the
// ingestion endpoint accepts:
//
//   {"job_id": 3, "timestamp": "...", "latency_ms": 1200, "state": {...}}
//
// Backends:
//   - file:   <dir>/job_state/<job_id>.json, atomic temp + rename
//   - gcs:    gs://<bucket>/<prefix>job_state/<job_id>.json
//   - sqlite: snapshots table keyed by job_id
//   - memory: process-local map, for tests and `simulate --report`
//
// ============================================================================

package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

var (
	ErrCorruptedSnapshot = errors.New("snapshot document is corrupted")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrUnknownBackend    = errors.New("unknown snapshot backend")
)

// Store persists snapshots by job id.
type Store interface {
	// Get returns ErrSnapshotNotFound when no snapshot exists for id.
	Get(ctx context.Context, id types.JobID) (*types.Snapshot, error)
	Put(ctx context.Context, snap *types.Snapshot) error
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend         string // file, gcs, sqlite, memory
	Dir             string
	Bucket          string
	Prefix          string
	CredentialsFile string
	SQLitePath      string
}

// Open builds the store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "file":
		return NewFileStore(opts.Dir)
	case "gcs":
		return NewGCSStore(ctx, opts.Bucket, opts.Prefix, opts.CredentialsFile)
	case "sqlite":
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// ObjectName is the key of a job's document, relative to the backend root.
func ObjectName(id types.JobID) string {
	return fmt.Sprintf("job_state/%d.json", id)
}

func encode(snap *types.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot %d: %w", snap.JobID, err)
	}
	return data, nil
}

func decode(id types.JobID, data []byte) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: job %d: %v", ErrCorruptedSnapshot, id, err)
	}
	if snap.State == nil {
		snap.State = types.StateMap{}
	}
	return &snap, nil
}

func validate(snap *types.Snapshot) error {
	if snap == nil {
		return errors.New("snapshot is nil")
	}
	if !snap.JobID.Valid() {
		return fmt.Errorf("invalid job id %d", snap.JobID)
	}
	return nil
}
