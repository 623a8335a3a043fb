// ============================================================================
// Report Assembler
// ============================================================================
//
// Package: internal/report
// File: assembler.go
// Purpose: Turns two snapshots into a DiffReport and a MetricsRecord
//
// Flow:
//   current, previous ──> diff.Compute ──> classifier.Classify ──> DiffReport
//                                                        └──────> MetricsRecord
//
// Assemble is pure. Fetching snapshots and emitting the metrics record
// happen in Service (service.go).
//
// ============================================================================

package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChuLiYu/buildtrace/internal/classifier"
	"github.com/ChuLiYu/buildtrace/internal/diff"
	"github.com/ChuLiYu/buildtrace/pkg/types"
)

var (
	// ErrNotFound means the current snapshot is absent or has no entities.
	ErrNotFound = errors.New("report: current snapshot not found")
	// ErrInvalidJobID means the job id is not a positive integer.
	ErrInvalidJobID = errors.New("report: job id must be positive")
)

const (
	// NoChangesSummary is the summary of a report with nothing added, removed or modified.
	NoChangesSummary = "No significant changes detected."
	// MetricsStatus is reported whether or not the sink accepted the row.
	MetricsStatus = "Metrics insertion attempted."

	summarySeparator = " | "
)

// Assembly is everything derived from one pair of snapshots.
type Assembly struct {
	Report  types.DiffReport
	Metrics types.MetricsRecord
	// Degraded lists entity ids whose token could not be decoded and was
	// described as the unknown sentinel.
	Degraded []string
}

// Assemble builds the report for jobID. previous may be nil or empty, in
// which case every current entity is reported as added.
func Assemble(jobID types.JobID, current, previous *types.Snapshot) (Assembly, error) {
	if current.Empty() {
		return Assembly{}, fmt.Errorf("%w: current state for job %d is empty", ErrNotFound, jobID)
	}

	var prevState types.StateMap
	if previous != nil {
		prevState = previous.State
	}

	classified := classifier.Classify(diff.Compute(current.State, prevState), current.State)

	rep := types.DiffReport{
		JobID:           jobID,
		Added:           []string{},
		Removed:         []string{},
		MovedOrModified: []string{},
		MetricsStatus:   MetricsStatus,
	}
	unchanged := 0

	for _, r := range classified.Records {
		switch r.Kind {
		case types.ChangeAdded:
			rep.Added = append(rep.Added, classifier.Render(r))
		case types.ChangeRemoved:
			rep.Removed = append(rep.Removed, classifier.Render(r))
		case types.ChangeModified:
			rep.MovedOrModified = append(rep.MovedOrModified, classifier.Render(r))
		case types.ChangeUnchanged:
			unchanged++
		}
	}

	rep.Summary = Summarize(len(rep.Added), len(rep.Removed), len(rep.MovedOrModified))

	rec := types.MetricsRecord{
		Timestamp:      current.Timestamp,
		JobID:          jobID.String(),
		LatencyMs:      current.LatencyMs,
		TotalAdded:     len(rep.Added),
		TotalRemoved:   len(rep.Removed),
		TotalModified:  len(rep.MovedOrModified),
		TotalUnchanged: unchanged,
	}

	return Assembly{Report: rep, Metrics: rec, Degraded: classified.Degraded}, nil
}

// Summarize renders the summary sentence from the three change counts.
func Summarize(added, removed, modified int) string {
	var parts []string
	if added > 0 {
		parts = append(parts, fmt.Sprintf("%d item(s) added.", added))
	}
	if removed > 0 {
		parts = append(parts, fmt.Sprintf("%d item(s) removed.", removed))
	}
	if modified > 0 {
		parts = append(parts, fmt.Sprintf("%d item(s) modified.", modified))
	}
	if len(parts) == 0 {
		return NoChangesSummary
	}
	return strings.Join(parts, summarySeparator)
}
