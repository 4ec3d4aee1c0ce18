// Package orchestrator runs the full analysis of one photo group: it moves the
// group through PROCESSING, runs the CV analyses and the vision assessment,
// merges their outputs and stores the result with the final status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/metrics"
	"github.com/menta2k/paddy-monitor/internal/models"
	"github.com/menta2k/paddy-monitor/internal/queue"
	"github.com/menta2k/paddy-monitor/internal/store"
	"github.com/menta2k/paddy-monitor/pkg/analyzer"
	"github.com/menta2k/paddy-monitor/pkg/assessment"
)

// ErrAlreadyProcessing is returned when another run holds the photo group
var ErrAlreadyProcessing = errors.New("photo group is already being processed")

// NotFoundError is returned when the photo group does not exist
type NotFoundError struct {
	PhotoGroupID uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("photo group %d not found", e.PhotoGroupID)
}

// ResultStore is the subset of the store the orchestrator writes through
type ResultStore interface {
	GetPhotoGroup(ctx context.Context, id uint) (*models.PhotoGroup, error)
	TryBeginProcessing(ctx context.Context, id uint, staleBefore time.Time) (bool, error)
	CompleteWithResult(ctx context.Context, result *models.AnalysisResult) error
	MarkFailed(ctx context.Context, id uint) error
}

// Assessor produces the vision-model half of the result
type Assessor interface {
	Assess(ctx context.Context, set assessment.PhotoSet) assessment.Assessment
}

// Orchestrator coordinates one analysis run per call
type Orchestrator struct {
	store      ResultStore
	analyzer   *analyzer.ImageAnalyzer
	assessor   Assessor
	staleAfter time.Duration
	log        *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Options holds the optional collaborators
type Options struct {
	// StaleAfter lets a run take over a group stuck in PROCESSING for longer than this
	StaleAfter time.Duration
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// New creates an orchestrator
func New(s ResultStore, a *analyzer.ImageAnalyzer, assessor Assessor, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{
		store:      s,
		analyzer:   a,
		assessor:   assessor,
		staleAfter: opts.StaleAfter,
		log:        log.WithField("component", "orchestrator"),
		metrics:    opts.Metrics,
		now:        time.Now,
	}
}

// Run analyzes a photo group and stores the merged result.
// Any failure after PROCESSING was entered leaves the group FAILED with no new result.
func (o *Orchestrator) Run(ctx context.Context, photoGroupID uint) (*models.AnalysisResult, error) {
	log := o.log.WithField("photo_group_id", photoGroupID)

	group, err := o.store.GetPhotoGroup(ctx, photoGroupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = &NotFoundError{PhotoGroupID: photoGroupID}
		}
		log.Error("cannot load photo group", logging.Fields{"error": err})
		return nil, err
	}

	staleBefore := o.now().Add(-o.staleAfter)
	if o.staleAfter <= 0 {
		staleBefore = time.Time{}
	}
	started, err := o.store.TryBeginProcessing(ctx, photoGroupID, staleBefore)
	if err != nil {
		log.Error("cannot enter PROCESSING", logging.Fields{"error": err})
		return nil, err
	}
	if !started {
		log.Warn("photo group already processing, skipping run")
		return nil, ErrAlreadyProcessing
	}
	log.Info("analysis started")

	var result *models.AnalysisResult
	err = recovered(func() error {
		var err error
		if result, err = o.analyze(ctx, group); err != nil {
			return err
		}
		result.JobID = group.JobID
		return o.store.CompleteWithResult(ctx, result)
	})
	if err != nil {
		o.fail(ctx, log, photoGroupID, err)
		return nil, err
	}

	o.metrics.AnalysisRun(string(models.AnalysisCompleted))
	log.Info("analysis completed", logging.Fields{
		"vision_status": result.VisionStatus,
		"notes":         len(result.NoteList()),
	})
	return result, nil
}

// Handle runs a photo group on behalf of the job queue, marking errors
// that another attempt cannot fix as permanent.
func (o *Orchestrator) Handle(ctx context.Context, photoGroupID uint) error {
	_, err := o.Run(ctx, photoGroupID)
	if err == nil {
		return nil
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return queue.Permanent(err)
	}
	var loadErr *analyzer.ImageLoadError
	if errors.As(err, &loadErr) && !loadErr.Temporary() {
		return queue.Permanent(err)
	}
	return err
}

// Preview analyzes the files a group points at without reading or writing
// the store. The group need not be persisted.
func (o *Orchestrator) Preview(ctx context.Context, group *models.PhotoGroup) (*models.AnalysisResult, error) {
	return o.analyze(ctx, group)
}

func (o *Orchestrator) fail(ctx context.Context, log *logging.Logger, id uint, cause error) {
	o.metrics.AnalysisRun(string(models.AnalysisFailed))
	log.Error("analysis failed", logging.Fields{"error": cause})

	if errors.Is(cause, store.ErrStatusConflict) {
		// another run owns the group now
		return
	}

	// the attempt context may already be cancelled by its timeout
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	current, err := o.store.GetPhotoGroup(ctx, id)
	if err != nil {
		log.Error("cannot reload photo group to mark it FAILED", logging.Fields{"error": err})
		return
	}
	if current.Status != models.AnalysisProcessing {
		log.Warn("photo group left PROCESSING during the run", logging.Fields{"status": current.Status})
		return
	}
	if err := o.store.MarkFailed(ctx, id); err != nil {
		log.Error("cannot mark photo group FAILED", logging.Fields{"error": err})
	}
}

// photos holds the decoded images of one group
type photos struct {
	drone, closeup, horizontal, vertical image.Image
}

func (o *Orchestrator) load(group *models.PhotoGroup) (photos, error) {
	var p photos
	targets := []struct {
		path string
		dst  *image.Image
	}{
		{group.DroneImagePath, &p.drone},
		{group.Closeup05mPath, &p.closeup},
		{group.Horizontal3mPath, &p.horizontal},
		{group.Vertical3mPath, &p.vertical},
	}
	for _, t := range targets {
		img, err := o.analyzer.LoadImage(t.path)
		if err != nil {
			return photos{}, err
		}
		*t.dst = img
	}
	return p, nil
}

// outputs collects what each concurrent step produced
type outputs struct {
	canopy    analyzer.CanopyMetrics
	canopyErr error
	height    analyzer.HeightMetrics
	heightErr error
	advanced  analyzer.AdvancedMetrics
	advErr    error
	vision    assessment.Assessment
}

func (o *Orchestrator) analyze(ctx context.Context, group *models.PhotoGroup) (*models.AnalysisResult, error) {
	p, err := o.load(group)
	if err != nil {
		return nil, err
	}

	// a panicking step only loses its own metrics
	var out outputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.canopyErr = recovered(func() (err error) {
			out.canopy, err = o.analyzer.AnalyzeCanopy(p.drone)
			return err
		})
		return nil
	})
	g.Go(func() error {
		out.heightErr = recovered(func() (err error) {
			out.height, err = o.analyzer.AnalyzeHeight(p.vertical)
			return err
		})
		return nil
	})
	g.Go(func() error {
		out.advErr = recovered(func() (err error) {
			out.advanced, err = o.analyzer.AnalyzeAdvanced(p.horizontal, p.vertical)
			return err
		})
		return nil
	})
	g.Go(func() error {
		err := recovered(func() error {
			out.vision = o.assessor.Assess(gctx, assessment.PhotoSet{
				Drone:      p.drone,
				Closeup:    p.closeup,
				Horizontal: p.horizontal,
				Vertical:   p.vertical,
			})
			return nil
		})
		if err != nil {
			out.vision = assessment.Degraded(err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis interrupted: %w", err)
	}

	if out.vision.Status == assessment.StatusDegraded {
		o.metrics.VisionDegraded()
	}

	result := merge(group.ID, out)
	result.AnalyzedAt = o.now()
	return result, nil
}

// recovered runs fn and reports a panic inside it as an error
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
