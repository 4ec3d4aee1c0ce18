// Package queue is a database-backed job queue for photo group analysis.
//
// Jobs live in the jobs table next to the photo groups they reference, so
// the API process and any number of worker processes coordinate through the
// database alone. Claiming is a conditional update; a job is RUNNING for
// exactly one worker at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/menta2k/paddy-monitor/internal/config"
	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/metrics"
	"github.com/menta2k/paddy-monitor/internal/models"
)

var (
	// ErrJobInFlight is returned by Enqueue when the photo group already has a PENDING or RUNNING job
	ErrJobInFlight = errors.New("an analysis job is already queued or running for this photo group")
	// ErrJobNotFound is returned when no job has the requested id
	ErrJobNotFound = errors.New("job not found")
	// ErrPhotoGroupNotFound is returned by Enqueue for an unknown photo group
	ErrPhotoGroupNotFound = errors.New("photo group not found")
)

// Options controls retry and lease behavior
type Options struct {
	MaxAttempts    int
	RetryDelay     time.Duration // fixed delay between attempts
	AttemptTimeout time.Duration
	LeaseTimeout   time.Duration // a RUNNING job older than this is presumed abandoned
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Queue)
}

// OptionsFromConfig converts the queue configuration section
func OptionsFromConfig(c config.QueueConfig) Options {
	return Options{
		MaxAttempts:    c.MaxAttempts,
		RetryDelay:     c.RetryDelay,
		AttemptTimeout: c.AttemptTimeout,
		LeaseTimeout:   c.StaleAfter,
	}
}

// Queue persists and hands out analysis jobs
type Queue struct {
	db      *gorm.DB
	opts    Options
	log     *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a queue on the shared database handle. m may be nil.
func New(db *gorm.DB, opts Options, log *logging.Logger, m *metrics.Metrics) *Queue {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Queue{
		db:      db,
		opts:    opts,
		log:     log.WithField("component", "queue"),
		metrics: m,
		now:     time.Now,
	}
}

// Enqueue schedules an analysis of photoGroupID and returns the new job.
// A group whose previous run finished is reset to PENDING.
func (q *Queue) Enqueue(ctx context.Context, photoGroupID uint) (*models.Job, error) {
	now := q.now()
	job := &models.Job{
		ID:           uuid.NewString(),
		PhotoGroupID: photoGroupID,
		Status:       models.JobPending,
		MaxAttempts:  q.opts.MaxAttempts,
		RunAt:        now,
	}

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the group row lock serializes concurrent Enqueue calls for one group
		var group models.PhotoGroup
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").First(&group, photoGroupID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPhotoGroupNotFound
			}
			return err
		}

		var inFlight int64
		err = tx.Model(&models.Job{}).
			Where("photo_group_id = ? AND status IN ?", photoGroupID, []models.JobStatus{models.JobPending, models.JobRunning}).
			Count(&inFlight).Error
		if err != nil {
			return err
		}
		if inFlight > 0 {
			return ErrJobInFlight
		}

		if err := tx.Create(job).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"job_id": job.ID}
		if group.Status == models.AnalysisCompleted || group.Status == models.AnalysisFailed {
			updates["status"] = models.AnalysisPending
		}
		return tx.Model(&models.PhotoGroup{}).Where("id = ?", photoGroupID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	q.metrics.JobEnqueued()
	q.log.Info("job enqueued", logging.Fields{"job_id": job.ID, "photo_group_id": photoGroupID})
	return job, nil
}

// GetStatus returns the job with its current status
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := q.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// LatestForPhotoGroup returns the most recently created job for a photo group
func (q *Queue) LatestForPhotoGroup(ctx context.Context, photoGroupID uint) (*models.Job, error) {
	var job models.Job
	err := q.db.WithContext(ctx).
		Where("photo_group_id = ?", photoGroupID).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// Claim leases the oldest due PENDING job to workerID.
// It returns nil, nil when nothing is due.
func (q *Queue) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	for i := 0; i < 3; i++ {
		now := q.now()

		var candidate models.Job
		err := q.db.WithContext(ctx).
			Where("status = ? AND run_at <= ?", models.JobPending, now).
			Order("run_at, created_at").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find due job: %w", err)
		}

		res := q.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ?", candidate.ID, models.JobPending).
			Updates(map[string]interface{}{
				"status":    models.JobRunning,
				"attempts":  gorm.Expr("attempts + 1"),
				"worker_id": workerID,
				"leased_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("lease job %s: %w", candidate.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// another worker won the race
			continue
		}
		return q.GetStatus(ctx, candidate.ID)
	}
	return nil, nil
}

// Finish records the outcome of a job attempt.
// A failed attempt is rescheduled after RetryDelay until MaxAttempts is reached
// or the error is permanent; the job and its photo group then end FAILED.
func (q *Queue) Finish(ctx context.Context, job *models.Job, runErr error) error {
	now := q.now()
	var updates map[string]interface{}
	to := models.JobSucceeded

	switch {
	case runErr == nil:
		updates = map[string]interface{}{
			"status":      models.JobSucceeded,
			"finished_at": now,
			"last_error":  nil,
		}
	case job.Attempts < job.MaxAttempts && !IsPermanent(runErr):
		to = models.JobPending
		updates = map[string]interface{}{
			"status":     models.JobPending,
			"run_at":     now.Add(q.opts.RetryDelay),
			"worker_id":  nil,
			"leased_at":  nil,
			"last_error": runErr.Error(),
		}
	default:
		to = models.JobFailed
		updates = map[string]interface{}{
			"status":      models.JobFailed,
			"finished_at": now,
			"last_error":  runErr.Error(),
		}
	}

	if err := models.ValidateJobTransition(models.JobRunning, to); err != nil {
		return err
	}

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobRunning).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("job %s is no longer running", job.ID)
		}
		if to == models.JobFailed {
			return failGroup(tx, job.PhotoGroupID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}

	fields := logging.Fields{"job_id": job.ID, "photo_group_id": job.PhotoGroupID, "attempt": job.Attempts}
	switch to {
	case models.JobSucceeded:
		q.log.Info("job succeeded", fields)
	case models.JobPending:
		fields["error"] = runErr
		fields["retry_at"] = now.Add(q.opts.RetryDelay)
		q.log.Warn("job attempt failed, retry scheduled", fields)
	default:
		fields["error"] = runErr
		q.log.Error("job failed", fields)
	}
	return nil
}

// RequeueStale returns RUNNING jobs whose lease expired to PENDING, or fails
// them when they have no attempts left. It returns the number of jobs touched.
func (q *Queue) RequeueStale(ctx context.Context) (int, error) {
	if q.opts.LeaseTimeout <= 0 {
		return 0, nil
	}
	now := q.now()
	cutoff := now.Add(-q.opts.LeaseTimeout)

	var stale []models.Job
	err := q.db.WithContext(ctx).
		Where("status = ? AND leased_at < ?", models.JobRunning, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	touched := 0
	for i := range stale {
		job := &stale[i]
		err := q.Finish(ctx, job, fmt.Errorf("lease expired on worker %s", derefString(job.WorkerID)))
		if err != nil {
			q.log.Warn("could not requeue stale job", logging.Fields{"job_id": job.ID, "error": err})
			continue
		}
		touched++
	}
	return touched, nil
}

func failGroup(tx *gorm.DB, photoGroupID uint) error {
	return tx.Model(&models.PhotoGroup{}).
		Where("id = ? AND status IN ?", photoGroupID, []models.AnalysisStatus{models.AnalysisPending, models.AnalysisProcessing}).
		Update("status", models.AnalysisFailed).Error
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// permanentError marks an error that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Finish fails the job without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
