// ============================================================================
// buildtrace Worker Pool
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Purpose: Generate reports for many jobs with a fixed number of goroutines
//
//   ┌─────────────┐
//   │   caller    │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │    Pool     │
//   │  Worker 1   │←── taskCh
//   │  Worker 2   │←── taskCh   ──→ resultCh
//   │  Worker N   │←── taskCh
//   └─────────────┘
//
// Lifecycle:
//   NewPool → Start(ctx, n) → Submit... → ReceiveResult... → Stop
//
// Results are delivered until Stop; callers that want every result must
// receive them all before stopping (RunAll does this).
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

var (
	ErrPoolClosed     = errors.New("worker pool is closed")
	ErrPoolNotStarted = errors.New("worker pool not started")
)

// Pool runs a Handler on a fixed set of workers.
type Pool struct {
	handler  Handler
	workers  []*Worker
	taskCh   chan Task
	resultCh chan Result
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	mu       sync.Mutex
}

// NewPool creates a pool whose task and result channels hold bufferSize items.
func NewPool(bufferSize int, handler Handler) *Pool {
	return &Pool{
		handler:  handler,
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches workerCount workers. ctx is the parent of every task context.
func (p *Pool) Start(ctx context.Context, workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}
	if workerCount <= 0 {
		workerCount = 1
	}

	for i := 0; i < workerCount; i++ {
		w := newWorker(i, p.handler, p.taskCh, p.resultCh, p.stopCh)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}

	p.started = true
	return nil
}

// Submit queues a task. It blocks while the task buffer is full, so callers
// submitting more than the buffer holds must receive results concurrently.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}

	// holding mu keeps Stop from closing taskCh under us
	p.taskCh <- task
	return nil
}

// ReceiveResult returns the next finished result.
func (p *Pool) ReceiveResult() (Result, error) {
	select {
	case result, ok := <-p.resultCh:
		if !ok {
			return Result{}, ErrPoolClosed
		}
		return result, nil
	case <-p.stopCh:
		return Result{}, ErrPoolClosed
	}
}

// Stop closes the pool and waits for in-flight tasks.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	close(p.taskCh)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.resultCh)
}

// WorkerCount returns the number of started workers.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// RunAll generates reports for ids on workerCount workers and returns the
// results ordered by job id. A failed job does not stop the others.
func RunAll(ctx context.Context, handler Handler, workerCount int, ids []types.JobID, opts ...TaskOption) []Result {
	if len(ids) == 0 {
		return nil
	}

	results := make([]Result, 0, len(ids))

	pool := NewPool(len(ids), handler)
	if err := pool.Start(ctx, workerCount); err != nil {
		for _, id := range ids {
			results = append(results, Result{JobID: id, Err: err})
		}
		return results
	}
	defer pool.Stop()

	pending := 0
	for _, id := range ids {
		task := Task{JobID: id}
		for _, opt := range opts {
			opt(&task)
		}
		if err := pool.Submit(task); err != nil {
			results = append(results, Result{JobID: id, Err: err})
			continue
		}
		pending++
	}

	for ; pending > 0; pending-- {
		r, err := pool.ReceiveResult()
		if err != nil {
			break
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].JobID < results[j].JobID })
	return results
}

// TaskOption adjusts tasks submitted by RunAll.
type TaskOption func(*Task)

// WithTimeout bounds each task.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *Task) { t.Timeout = d }
}
