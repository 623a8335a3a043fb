package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// Handler produces the report for one job.
type Handler func(ctx context.Context, id types.JobID) (types.DiffReport, error)

// Task is one report to generate.
type Task struct {
	JobID   types.JobID
	Timeout time.Duration // zero means no per-task timeout
}

// Result is the outcome of one Task.
type Result struct {
	JobID    types.JobID
	Report   types.DiffReport
	Err      error
	Duration time.Duration
}
