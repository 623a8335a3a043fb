package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	job_id     INTEGER PRIMARY KEY,
	document   TEXT    NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps snapshot documents in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// one writer; modernc sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, snap *types.Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (job_id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		int64(snap.JobID), string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store snapshot %d: %w", snap.JobID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id types.JobID) (*types.Snapshot, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM snapshots WHERE job_id = ?`, int64(id)).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %d", ErrSnapshotNotFound, id)
		}
		return nil, fmt.Errorf("failed to load snapshot %d: %w", id, err)
	}
	return decode(id, []byte(doc))
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
