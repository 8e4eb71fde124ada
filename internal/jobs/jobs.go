package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of periodic work.
type Job struct {
	// Type labels metrics and logs, e.g. JobTypeRateLimitCleanup.
	Type     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means Interval.
	Timeout time.Duration
	// RunAtStart runs the job once before the first tick.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Runner executes jobs on their own tickers until its context is cancelled.
type Runner struct {
	metrics *Metrics
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(metrics *Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{metrics: metrics, logger: logger}
}

// Start launches job in its own goroutine. It stops when ctx is done.
func (r *Runner) Start(ctx context.Context, job Job) {
	if job.Interval <= 0 || job.Run == nil {
		r.logger.Warn("skipping invalid background job", "job_type", job.Type)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if job.RunAtStart {
			r.RunOnce(ctx, job)
		}
		ticker := time.NewTicker(job.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx, job)
			}
		}
	}()
}

// Wait blocks until every started job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// RunOnce executes job a single time and records the outcome.
func (r *Runner) RunOnce(ctx context.Context, job Job) error {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	if r.metrics != nil {
		r.metrics.ObserveJobDuration(job.Type, elapsed.Seconds())
	}
	if err != nil {
		errType := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			errType = "timeout"
		}
		if r.metrics != nil {
			r.metrics.IncJobsTotal(job.Type, StatusFailure)
			r.metrics.IncJobErrors(job.Type, errType)
		}
		r.logger.Warn("background job failed",
			"job_type", job.Type,
			"duration_ms", elapsed.Milliseconds(),
			"error", err)
		return err
	}
	if r.metrics != nil {
		r.metrics.IncJobsTotal(job.Type, StatusSuccess)
	}
	r.logger.Debug("background job completed",
		"job_type", job.Type,
		"duration_ms", elapsed.Milliseconds())
	return nil
}
