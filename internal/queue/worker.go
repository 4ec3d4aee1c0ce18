package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/models"
)

// Handler processes one photo group. Returning an error wrapped with
// Permanent stops further attempts.
type Handler interface {
	Handle(ctx context.Context, photoGroupID uint) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, photoGroupID uint) error

func (f HandlerFunc) Handle(ctx context.Context, photoGroupID uint) error {
	return f(ctx, photoGroupID)
}

// WorkerConfig holds the worker pool settings
type WorkerConfig struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
}

// Worker runs queued jobs through a Handler
type Worker struct {
	queue   *Queue
	handler Handler
	config  WorkerConfig
	log     *logging.Logger
}

// NewWorker creates a worker pool. An empty ID is replaced by host and a random suffix.
func NewWorker(q *Queue, handler Handler, cfg WorkerConfig) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ID == "" {
		host, _ := os.Hostname()
		cfg.ID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	return &Worker{
		queue:   q,
		handler: handler,
		config:  cfg,
		log:     q.log.WithField("worker", cfg.ID),
	}
}

// Run polls for jobs until ctx is cancelled. In-flight attempts finish
// under their own timeout before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", logging.Fields{
		"concurrency":   w.config.Concurrency,
		"poll_interval": w.config.PollInterval.String(),
	})

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.config.Concurrency; i++ {
		slot := fmt.Sprintf("%s/%d", w.config.ID, i)
		g.Go(func() error {
			w.loop(ctx, slot)
			return nil
		})
	}
	g.Go(func() error {
		w.reap(ctx)
		return nil
	})

	err := g.Wait()
	w.log.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, slot string) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		// drain everything due before sleeping
		for ctx.Err() == nil {
			ran, err := w.RunOnce(ctx, slot)
			if err != nil {
				w.log.Error("worker iteration failed", logging.Fields{"slot": slot, "error": err})
				break
			}
			if !ran {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) reap(ctx context.Context) {
	interval := w.queue.opts.LeaseTimeout / 4
	if interval < w.config.PollInterval {
		interval = w.config.PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.RequeueStale(ctx)
			if err != nil {
				w.log.Warn("stale job scan failed", logging.Fields{"error": err})
			} else if n > 0 {
				w.log.Warn("requeued abandoned jobs", logging.Fields{"count": n})
			}
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job ran.
func (w *Worker) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := w.queue.Claim(ctx, workerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.queue.metrics.WorkerBusy(1)
	defer w.queue.metrics.WorkerBusy(-1)

	started := time.Now()
	runErr := w.attempt(ctx, job)

	// record the outcome even when shutdown cancelled ctx
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := w.queue.Finish(finishCtx, job, runErr); err != nil {
		return true, err
	}

	w.queue.metrics.JobFinished(outcome(job, runErr), time.Since(started))
	return true, nil
}

func (w *Worker) attempt(ctx context.Context, job *models.Job) (err error) {
	attemptCtx := context.WithoutCancel(ctx)
	if t := w.queue.opts.AttemptTimeout; t > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, t)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	w.log.Info("job attempt started", logging.Fields{
		"job_id":         job.ID,
		"photo_group_id": job.PhotoGroupID,
		"attempt":        job.Attempts,
	})

	err = w.handler.Handle(attemptCtx, job.PhotoGroupID)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("attempt timed out after %s: %w", w.queue.opts.AttemptTimeout, err)
	}
	return err
}

func outcome(job *models.Job, err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case job.Attempts < job.MaxAttempts && !IsPermanent(err):
		return "retry"
	default:
		return "failed"
	}
}
