// ============================================================================
// buildtrace Worker - report generation unit
// ============================================================================
//
// Each Worker runs in its own goroutine:
//   1. Receive task from taskCh
//   2. Run the handler under a per-task timeout
//   3. Send the result to resultCh
//   4. Repeat until taskCh is closed
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"time"
)

// Worker executes tasks from a shared channel.
type Worker struct {
	id       int
	handler  Handler
	taskCh   <-chan Task
	resultCh chan<- Result
	stopCh   <-chan struct{}
}

func newWorker(id int, handler Handler, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:       id,
		handler:  handler,
		taskCh:   taskCh,
		resultCh: resultCh,
		stopCh:   stopCh,
	}
}

// Run is the worker's main loop.
func (w *Worker) Run(ctx context.Context) {
	for task := range w.taskCh {
		result := w.execute(ctx, task)

		select {
		case w.resultCh <- result:
		case <-w.stopCh:
			// pool stopped with nobody reading results
		}
	}
}

func (w *Worker) execute(ctx context.Context, task Task) (result Result) {
	start := time.Now()
	result.JobID = task.JobID

	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("worker %d: job %d panicked: %v", w.id, task.JobID, r)
		}
		result.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	result.Report, result.Err = w.handler(ctx, task.JobID)
	return result
}
