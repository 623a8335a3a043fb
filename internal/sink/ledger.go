// ============================================================================
// Ledger - append-only local metrics sink
// ============================================================================
//
// One JSON line per MetricsRecord:
//
//   {"seq":3,"written_at":1735689600000,"record":{...},"checksum":2864434397}
//
// seq increases by one per row and continues across restarts. checksum is
// CRC32-IEEE over seq and the record's JSON encoding; Replay stops at the
// first row that fails to parse or verify.
//
// ============================================================================

package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

var (
	ErrCorruptedLedger  = errors.New("ledger: file is corrupted")
	ErrChecksumMismatch = errors.New("ledger: checksum mismatch")
	ErrLedgerClosed     = errors.New("ledger: already closed")
)

// ChecksumError carries the row that failed verification.
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("ledger: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// Row is one ledger line.
type Row struct {
	Seq       uint64              `json:"seq"`
	WrittenAt int64               `json:"written_at"` // Unix ms
	Record    types.MetricsRecord `json:"record"`
	Checksum  uint32              `json:"checksum"`
}

// RowHandler is called for each verified row during Replay.
type RowHandler func(Row) error

// Ledger appends MetricsRecords to a local file.
type Ledger struct {
	mu           sync.Mutex
	file         *os.File
	encoder      *json.Encoder
	path         string
	seq          uint64
	syncOnAppend bool
	closed       bool
}

// OpenLedger opens or creates the ledger at path, resuming its sequence.
func OpenLedger(path string, syncOnAppend bool) (*Ledger, error) {
	var seq uint64
	if last, err := lastRow(path); err != nil {
		return nil, err
	} else if last != nil {
		seq = last.Seq
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	return &Ledger{
		file:         file,
		encoder:      json.NewEncoder(file),
		path:         path,
		seq:          seq,
		syncOnAppend: syncOnAppend,
	}, nil
}

// Checksum computes the row checksum for seq and rec.
func Checksum(seq uint64, rec types.MetricsRecord) uint32 {
	data, _ := json.Marshal(rec) // plain struct, cannot fail
	h := crc32.NewIEEE()
	h.Write([]byte(strconv.FormatUint(seq, 10)))
	h.Write(data)
	return h.Sum32()
}

// Insert appends rec. Records with row-level problems are not written.
func (l *Ledger) Insert(_ context.Context, rec types.MetricsRecord) ([]string, error) {
	if problems := validate(rec); len(problems) > 0 {
		return problems, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLedgerClosed
	}

	row := Row{
		Seq:       l.seq + 1,
		WrittenAt: time.Now().UnixMilli(),
		Record:    rec,
	}
	row.Checksum = Checksum(row.Seq, rec)

	if err := l.encoder.Encode(row); err != nil {
		return nil, fmt.Errorf("ledger: append seq=%d: %w", row.Seq, err)
	}
	if l.syncOnAppend {
		if err := l.file.Sync(); err != nil {
			return nil, fmt.Errorf("ledger: sync seq=%d: %w", row.Seq, err)
		}
	}
	l.seq = row.Seq
	return nil, nil
}

// Seq returns the sequence number of the last appended row.
func (l *Ledger) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// Replay reads the ledger at path from the start, verifying each row.
// A missing file replays nothing.
func Replay(path string, handler RowHandler) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(bufio.NewReader(file))
	for {
		var row Row
		if err := decoder.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrCorruptedLedger, err)
		}

		if want := Checksum(row.Seq, row.Record); want != row.Checksum {
			return &ChecksumError{Seq: row.Seq, Expected: want, Actual: row.Checksum}
		}

		if err := handler(row); err != nil {
			return err
		}
	}
}

// Totals aggregates a replayed ledger.
type Totals struct {
	Rows          int
	Added         int
	Removed       int
	Modified      int
	Unchanged     int
	MeanLatencyMs float64
}

// Summarize replays the ledger at path into Totals.
func Summarize(path string) (Totals, error) {
	var t Totals
	var latency int64
	err := Replay(path, func(r Row) error {
		t.Rows++
		t.Added += r.Record.TotalAdded
		t.Removed += r.Record.TotalRemoved
		t.Modified += r.Record.TotalModified
		t.Unchanged += r.Record.TotalUnchanged
		latency += r.Record.LatencyMs
		return nil
	})
	if t.Rows > 0 {
		t.MeanLatencyMs = float64(latency) / float64(t.Rows)
	}
	return t, err
}

func lastRow(path string) (*Row, error) {
	var last *Row
	err := Replay(path, func(r Row) error {
		last = &r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resume ledger sequence: %w", err)
	}
	return last, nil
}
