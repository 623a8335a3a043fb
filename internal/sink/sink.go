// Package sink delivers MetricsRecords to analytics backends.
//
// Backends may reject a record without failing the call: Insert returns the
// per-row error descriptions separately from transport errors. Callers in
// buildtrace log both and never let either abort report generation.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// Sink accepts one MetricsRecord per call.
type Sink interface {
	// Insert returns row errors for a rejected record and err for a failed call.
	Insert(ctx context.Context, rec types.MetricsRecord) (rowErrors []string, err error)
	Close() error
}

// Multi fans a record out to every sink. Row errors are prefixed with the
// sink index; call errors are joined.
type Multi []Sink

func (m Multi) Insert(ctx context.Context, rec types.MetricsRecord) ([]string, error) {
	var rowErrors []string
	var errs []error
	for i, s := range m {
		rows, err := s.Insert(ctx, rec)
		for _, r := range rows {
			rowErrors = append(rowErrors, fmt.Sprintf("sink[%d]: %s", i, r))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sink[%d]: %w", i, err))
		}
	}
	return rowErrors, errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record. Used when no sink is configured.
type Discard struct{}

func (Discard) Insert(context.Context, types.MetricsRecord) ([]string, error) { return nil, nil }
func (Discard) Close() error                                                  { return nil }

// validate reports row-level problems a warehouse would reject the record for.
func validate(rec types.MetricsRecord) []string {
	var problems []string
	if strings.TrimSpace(rec.JobID) == "" {
		problems = append(problems, "job_id: missing")
	}
	if rec.TotalAdded < 0 || rec.TotalRemoved < 0 || rec.TotalModified < 0 || rec.TotalUnchanged < 0 {
		problems = append(problems, "totals: negative count")
	}
	return problems
}
