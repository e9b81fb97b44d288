package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler executes one job kind. Returning an error schedules a retry unless
// the error is wrapped with Permanent or the attempt budget is spent.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// FailureHandler is implemented by handlers that need to react when a job
// fails for good, e.g. to mark the owning record as failed.
type FailureHandler interface {
	OnFailure(ctx context.Context, job Job, err error)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RunnerConfig holds worker pool settings. Zero values get defaults.
type RunnerConfig struct {
	Workers       int
	FirstRunDelay time.Duration
	PollInterval  time.Duration
	MaxAttempts   int
	Backoff       time.Duration
	JobTimeout    time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.FirstRunDelay <= 0 {
		c.FirstRunDelay = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 30 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	return c
}

// RunnerRepository is what the runner needs from storage.
type RunnerRepository interface {
	Repository
	ResetRunningJobs(ctx context.Context) (int, error)
}

// Runner polls the repository and dispatches claimed jobs to registered handlers.
type Runner struct {
	repo  RunnerRepository
	probe NetworkProbe
	cfg   RunnerConfig
	now   func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRunner creates a runner. A nil probe means the network is always available.
func NewRunner(repo RunnerRepository, probe NetworkProbe, cfg RunnerConfig) *Runner {
	if probe == nil {
		probe = AlwaysOnline{}
	}
	return &Runner{
		repo:     repo,
		probe:    probe,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job kind.
func (r *Runner) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Runner) handler(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Run starts the worker pool and blocks until ctx is cancelled. Jobs left
// running by a previous process are put back in the queue first.
func (r *Runner) Run(ctx context.Context) error {
	n, err := r.repo.ResetRunningJobs(ctx)
	if err != nil {
		return fmt.Errorf("reset running jobs: %w", err)
	}
	if n > 0 {
		slog.Info("requeued interrupted jobs", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			r.loop(gctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, worker int) {
	logger := slog.With("component", "jobs", "worker", worker)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("worker panic", "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	period := r.cfg.FirstRunDelay
	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped")
			return
		case <-time.After(period):
			r.drain(ctx, logger)
		}
		period = r.cfg.PollInterval
	}
}

// drain processes jobs until the queue has nothing runnable.
func (r *Runner) drain(ctx context.Context, logger *slog.Logger) {
	for ctx.Err() == nil {
		processed, err := r.RunOnce(ctx)
		if err != nil {
			logger.Error("process job", "error", err)
			return
		}
		if !processed {
			return
		}
	}
}

// RunOnce claims at most one due job and executes it. It reports whether a
// job was claimed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	online := r.probe.Online(ctx)
	job, err := r.repo.ClaimNextJob(ctx, r.now(), online)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	// A claimed job runs to completion even if the caller goes away.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.JobTimeout)
	defer cancel()
	return true, r.process(jobCtx, *job)
}

func (r *Runner) process(ctx context.Context, job Job) error {
	logger := slog.With("component", "jobs", "job_id", job.ID, "key", job.Key, "kind", job.Kind, "attempt", job.Attempts)

	h, ok := r.handler(job.Kind)
	if !ok {
		logger.Error("no handler registered for job kind")
		return r.repo.FailJob(ctx, job.ID, "no handler for kind "+job.Kind)
	}

	err := r.invoke(ctx, h, job)
	if err == nil {
		logger.Info("job succeeded")
		return r.repo.CompleteJob(ctx, job.ID, r.now())
	}

	if IsPermanent(err) || job.Attempts >= r.cfg.MaxAttempts {
		logger.Error("job failed", "error", err, "permanent", IsPermanent(err))
		if fh, ok := h.(FailureHandler); ok {
			fh.OnFailure(ctx, job, err)
		}
		return r.repo.FailJob(ctx, job.ID, err.Error())
	}

	runAfter := r.now().Add(r.cfg.Backoff * time.Duration(job.Attempts))
	logger.Warn("job failed, will retry", "error", err, "run_after", runAfter)
	return r.repo.RetryJob(ctx, job.ID, runAfter, err.Error())
}

func (r *Runner) invoke(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("job handler panic", "job_id", job.ID, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Handle(ctx, job)
}
