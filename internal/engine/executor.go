// Package engine drives the notification pipeline: a batch executor with
// bounded parallelism, the dispatch coordinator, the crawl scheduler, and
// the endpoint health monitor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hyunsoo-kim/Bill-Herald/internal/clock"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
	"github.com/hyunsoo-kim/Bill-Herald/internal/metrics"
)

// ErrShuttingDown is returned when new work is submitted after shutdown began.
var ErrShuttingDown = errors.New("executor: shutting down")

// Job is one unit of work run by the executor.
type Job func(ctx context.Context) error

// JobResult records the outcome of one job.
type JobResult struct {
	Index    int           `json:"index"`
	Success  bool          `json:"success"`
	Err      error         `json:"-"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Options control batch execution. Zero fields take the defaults below;
// RetryCount < 0 disables retries entirely.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	RetryCount  int
	RetryDelay  time.Duration
	BatchSize   int // 0 processes all jobs as one slice
}

const (
	defaultConcurrency = 10
	defaultTimeout     = 30 * time.Second
	defaultRetryCount  = 3
	defaultRetryDelay  = time.Second
)

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RetryCount == 0 {
		o.RetryCount = defaultRetryCount
	} else if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	return o
}

// BatchStatus describes one in-flight batch.
type BatchStatus struct {
	ID        string    `json:"id"`
	Submitted time.Time `json:"submittedAt"`
	Jobs      int       `json:"jobs"`
}

// ExecutorStatus is a snapshot of the executor for the API.
type ExecutorStatus struct {
	InFlight     []BatchStatus `json:"inFlight"`
	ShuttingDown bool          `json:"shuttingDown"`
}

type batchJob struct {
	id        string
	submitted time.Time
	jobs      int
	done      chan struct{}
	results   []JobResult
}

// Executor runs batches of jobs with a concurrency ceiling, per-job
// timeout and retries. Submitted batches are tracked in a job table until
// they complete, so callers can await or inspect them.
type Executor struct {
	clk clock.Clock
	log *logging.Logger

	mu           sync.Mutex
	batches      map[string]*batchJob
	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

func NewExecutor(clk clock.Clock, log *logging.Logger) *Executor {
	return &Executor{
		clk:     clk,
		log:     log.Component("executor"),
		batches: make(map[string]*batchJob),
	}
}

// ExecuteBatch runs jobs honoring the concurrency ceiling and returns
// per-job results in submission order. A failing job never aborts the
// batch. Refused with ErrShuttingDown once shutdown began.
func (e *Executor) ExecuteBatch(ctx context.Context, jobs []Job, opts Options) ([]JobResult, error) {
	if e.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}
	return e.execute(ctx, jobs, opts), nil
}

func (e *Executor) execute(ctx context.Context, jobs []Job, opts Options) []JobResult {
	opts = opts.withDefaults()
	results := make([]JobResult, len(jobs))

	metrics.BatchesTotal.Inc()
	metrics.BatchesInFlight.Inc()
	defer metrics.BatchesInFlight.Dec()

	slice := len(jobs)
	if opts.BatchSize > 0 && opts.BatchSize < slice {
		slice = opts.BatchSize
	}
	for start := 0; start < len(jobs); start += slice {
		end := min(start+slice, len(jobs))
		e.runSlice(ctx, jobs[start:end], results[start:end], start, opts)
	}
	return results
}

// runSlice processes one contiguous slice in chunks of opts.Concurrency:
// schedule a chunk in parallel, await it, move to the next.
func (e *Executor) runSlice(ctx context.Context, jobs []Job, results []JobResult, base int, opts Options) {
	for start := 0; start < len(jobs); start += opts.Concurrency {
		end := min(start+opts.Concurrency, len(jobs))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = e.runJob(ctx, jobs[i], base+i, opts)
			}(i)
		}
		wg.Wait()
	}
}

// runJob attempts one job up to RetryCount+1 times, each attempt raced
// against the per-attempt timeout.
func (e *Executor) runJob(ctx context.Context, job Job, index int, opts Options) JobResult {
	start := e.clk.Now()
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= opts.RetryCount; attempt++ {
		attempts++
		err := e.attempt(ctx, job, opts.Timeout)
		if err == nil {
			return JobResult{Index: index, Success: true, Attempts: attempts, Duration: e.clk.Since(start)}
		}
		lastErr = err
		if attempt < opts.RetryCount {
			// An interrupted retry sleep must not mask the attempt's
			// own error.
			if serr := e.clk.Sleep(ctx, opts.RetryDelay); serr != nil {
				lastErr = fmt.Errorf("%v (retry aborted: %w)", lastErr, serr)
				break
			}
		}
	}
	return JobResult{Index: index, Success: false, Err: lastErr, Attempts: attempts, Duration: e.clk.Since(start)}
}

// attempt races the job against the timeout. The job goroutine keeps
// running after a timeout but sees its context cancelled.
func (e *Executor) attempt(ctx context.Context, job Job, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- job(attemptCtx) }()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("job timed out after %s", timeout)
		}
		return attemptCtx.Err()
	}
}

// Submit registers the batch in the job table and runs it in the
// background. The batch id is derived from the submission time.
// Cancelling ctx does not cancel the batch; admitted work always runs
// to completion.
func (e *Executor) Submit(ctx context.Context, jobs []Job, opts Options) (string, error) {
	if e.shuttingDown.Load() {
		return "", ErrShuttingDown
	}

	e.mu.Lock()
	id := fmt.Sprintf("notification_batch_%d", e.clk.Now().UnixMilli())
	if _, taken := e.batches[id]; taken {
		id = fmt.Sprintf("%s_%s", id, uuid.NewString()[:8])
	}
	bj := &batchJob{id: id, submitted: e.clk.Now(), jobs: len(jobs), done: make(chan struct{})}
	e.batches[id] = bj
	e.mu.Unlock()

	// The batch runs on a context stripped of the caller's cancellation:
	// a shutdown signal must not abort a send mid-flight. Per-attempt
	// timeouts still apply and AwaitAll bounds the drain.
	runCtx := context.WithoutCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// Deliberately skips the shutdown gate: work admitted before
		// shutdown runs to completion.
		bj.results = e.execute(runCtx, jobs, opts)
		close(bj.done)

		succeeded := 0
		for _, r := range bj.results {
			if r.Success {
				succeeded++
			}
		}
		e.log.Info("batch complete",
			"id", id,
			"jobs", len(jobs),
			"succeeded", succeeded,
			"failed", len(jobs)-succeeded)

		e.mu.Lock()
		delete(e.batches, id)
		e.mu.Unlock()
	}()
	return id, nil
}

// Await blocks until the batch is no longer in flight and returns its
// results. A batch that already completed has removed itself from the
// table; Await then returns nil results immediately.
func (e *Executor) Await(ctx context.Context, id string) ([]JobResult, error) {
	e.mu.Lock()
	bj, ok := e.batches[id]
	e.mu.Unlock()
	if !ok {
		return nil, nil
	}
	select {
	case <-bj.done:
		return bj.results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitAll blocks until every submitted batch finishes, up to the ceiling.
func (e *Executor) AwaitAll(ctx context.Context, ceiling time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-e.clk.After(ceiling):
		return fmt.Errorf("executor: %d batches still running after %s", e.Pending(), ceiling)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown flips the gate: ExecuteBatch and Submit refuse new work while
// in-flight batches continue.
func (e *Executor) Shutdown() {
	e.shuttingDown.Store(true)
	e.log.Info("executor shutting down, refusing new batches")
}

// ShuttingDown reports whether the gate is set.
func (e *Executor) ShuttingDown() bool { return e.shuttingDown.Load() }

// ForceClear empties the job table without awaiting the batches and
// returns how many entries were dropped.
func (e *Executor) ForceClear() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.batches)
	e.batches = make(map[string]*batchJob)
	if n > 0 {
		e.log.Warn("force-cleared job table", "dropped", n)
	}
	return n
}

// Pending returns the number of batches in the job table.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

// Status returns a snapshot of the job table for the API.
func (e *Executor) Status() ExecutorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := ExecutorStatus{
		InFlight:     make([]BatchStatus, 0, len(e.batches)),
		ShuttingDown: e.shuttingDown.Load(),
	}
	for _, bj := range e.batches {
		st.InFlight = append(st.InFlight, BatchStatus{ID: bj.id, Submitted: bj.submitted, Jobs: bj.jobs})
	}
	return st
}
