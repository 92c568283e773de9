// Package worker runs queued tasks from the SQLite job table with one pool
// of goroutines per lane.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/casematch/internal/storage"
)

const (
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultTaskTimeLimit = 10 * time.Minute
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(lanes []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	RequeueStale(olderThan time.Duration) (int64, error)
}

// HandlerFunc runs one task from its JSON payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

type handler struct {
	fn      HandlerFunc
	timeout time.Duration
}

// Config tunes a Pool.
type Config struct {
	// Concurrency is the number of workers per lane; lanes not listed get one.
	Concurrency   map[string]int
	PollInterval  time.Duration
	TaskTimeLimit time.Duration
}

// Pool claims jobs lane by lane and acknowledges them only after their
// handler returns.
type Pool struct {
	store    JobStore
	cfg      Config
	handlers map[string]handler
	logger   *slog.Logger
}

// New creates a Pool. Zero config values take their defaults.
func New(store JobStore, cfg Config) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TaskTimeLimit <= 0 {
		cfg.TaskTimeLimit = DefaultTaskTimeLimit
	}
	return &Pool{
		store:    store,
		cfg:      cfg,
		handlers: make(map[string]handler),
		logger:   slog.Default(),
	}
}

// WithLogger replaces the pool's logger.
func (p *Pool) WithLogger(l *slog.Logger) *Pool {
	if l != nil {
		p.logger = l
	}
	return p
}

// Handle registers fn for jobs of type name. timeout bounds each run and is
// capped by the pool's task time limit; zero means the cap.
func (p *Pool) Handle(name string, timeout time.Duration, fn HandlerFunc) {
	if timeout <= 0 || timeout > p.cfg.TaskTimeLimit {
		timeout = p.cfg.TaskTimeLimit
	}
	p.handlers[name] = handler{fn: fn, timeout: timeout}
}

// Run requeues jobs orphaned by a previous crash, then starts the workers of
// each lane and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context, lanes []string) error {
	if len(lanes) == 0 {
		return errors.New("worker: no lanes to run")
	}
	// No handler outlives the time limit, so anything running longer was
	// abandoned.
	n, err := p.store.RequeueStale(p.cfg.TaskTimeLimit + time.Minute)
	if err != nil {
		return fmt.Errorf("requeueing stale jobs: %w", err)
	}
	if n > 0 {
		p.logger.Warn("requeued stale jobs", "count", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, lane := range lanes {
		workers := p.cfg.Concurrency[lane]
		if workers <= 0 {
			workers = 1
		}
		p.logger.Info("starting lane", "lane", lane, "workers", workers)
		for i := 0; i < workers; i++ {
			g.Go(func() error {
				p.loop(ctx, lane)
				return nil
			})
		}
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, lane string) {
	lanes := []string{lane}
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := p.RunOnce(ctx, lanes)
		if err != nil {
			p.logger.Error("worker iteration failed", "lane", lane, "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce claims and processes a single job from lanes.
// Returns true if a job was processed (regardless of success/failure).
func (p *Pool) RunOnce(ctx context.Context, lanes []string) (bool, error) {
	job, err := p.store.ClaimNextJob(lanes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	if err := p.process(ctx, job); err != nil {
		p.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1, "error", err)
		if failErr := p.store.FailJob(job.ID, err.Error()); failErr != nil {
			p.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := p.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	p.logger.Debug("job completed", "job_id", job.ID, "type", job.Type, "duration", time.Since(start))
	return true, nil
}

func (p *Pool) process(ctx context.Context, job *storage.Job) error {
	h, ok := p.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.fn(ctx, json.RawMessage(job.PayloadJSON)); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s exceeded its %s time limit: %w", job.Type, h.timeout, err)
		}
		return err
	}
	return nil
}
