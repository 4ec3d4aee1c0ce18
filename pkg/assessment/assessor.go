// Package assessment turns a four-photo paddy sample into a structured
// agronomic assessment using a multimodal vision model.
package assessment

import (
	"context"
	"fmt"
	"image"
	"time"

	"golang.org/x/time/rate"

	"github.com/menta2k/paddy-monitor/pkg/client"
	"github.com/menta2k/paddy-monitor/pkg/processing"
)

// Status tells a genuine assessment apart from a degraded one
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
)

// Unknown is the categorical value used when the model could not be consulted
const Unknown = "Unknown"

const squareMetersPerMu = 666.67

// Metrics are the per-metric model estimates. Nil means not reported.
type Metrics struct {
	RowSpacingCM         *float64 `json:"estimated_row_spacing_cm"`
	PlantSpacingCM       *float64 `json:"estimated_plant_spacing_cm"`
	SeedlingsPerMu       *float64 `json:"seedlings_per_mu"`
	PanicleCountInSample *float64 `json:"panicle_count_in_1m_sample"`
	PaniclesPerMu        *float64 `json:"panicles_per_mu"`
	PestRisk             *string  `json:"pest_risk"`
	LeafColorHealth      *string  `json:"leaf_color_health"`
	LodgingStatus        *string  `json:"lodging_status"`
	LeafAge              *float64 `json:"estimated_leaf_age"`
	TillersPerPlant      *float64 `json:"estimated_tillers_per_plant"`
}

// Assessment is the outcome of one vision-model consultation
type Assessment struct {
	Status      Status   `json:"status"`
	Model       string   `json:"model,omitempty"`
	Description string   `json:"description"`
	Suggestions string   `json:"suggestions"`
	Metrics     Metrics  `json:"metrics"`
	Derived     []string `json:"derived,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// VisionModelError wraps a failure in one stage of the model call
type VisionModelError struct {
	Op  string
	Err error
}

func (e *VisionModelError) Error() string {
	return fmt.Sprintf("vision model %s: %v", e.Op, e.Err)
}

func (e *VisionModelError) Unwrap() error { return e.Err }

// Degraded returns the assessment recorded when the model could not be used:
// categorical metrics are Unknown, numeric metrics are absent.
func Degraded(err error) Assessment {
	unknown := func() *string { s := Unknown; return &s }
	return Assessment{
		Status:      StatusDegraded,
		Description: fmt.Sprintf("AI analysis failed: %v", err),
		Suggestions: "Could not generate suggestions due to an error.",
		Metrics: Metrics{
			PestRisk:        unknown(),
			LeafColorHealth: unknown(),
			LodgingStatus:   unknown(),
		},
		Error: err.Error(),
	}
}

// derive fills density metrics the model left out but that follow from the
// values it did report. Returns the names of the derived metrics.
func (m *Metrics) derive() []string {
	var derived []string
	if m.PaniclesPerMu == nil && m.PanicleCountInSample != nil && positive(m.RowSpacingCM) {
		v := *m.PanicleCountInSample * (squareMetersPerMu * 100 / *m.RowSpacingCM)
		m.PaniclesPerMu = &v
		derived = append(derived, "panicles_per_mu")
	}
	if m.SeedlingsPerMu == nil && positive(m.RowSpacingCM) && positive(m.PlantSpacingCM) {
		v := squareMetersPerMu * 10000 / (*m.RowSpacingCM * *m.PlantSpacingCM)
		m.SeedlingsPerMu = &v
		derived = append(derived, "seedlings_per_mu")
	}
	return derived
}

func positive(v *float64) bool { return v != nil && *v > 0 }

// PhotoSet is the four co-captured images of one sampling event
type PhotoSet struct {
	Drone      image.Image
	Closeup    image.Image
	Horizontal image.Image
	Vertical   image.Image
}

// ordered returns the images in prompt order.
func (p PhotoSet) ordered() ([]image.Image, error) {
	imgs := []image.Image{p.Drone, p.Horizontal, p.Vertical, p.Closeup}
	names := []string{"drone", "horizontal", "vertical", "closeup"}
	for i, img := range imgs {
		if img == nil {
			return nil, fmt.Errorf("missing %s image", names[i])
		}
	}
	return imgs, nil
}

// Config controls how photos are sent to the model
type Config struct {
	Model             string
	Prompt            string
	ImageFormat       string // jpg, png or webp
	MaxImageDim       int
	Quality           int
	Timeout           time.Duration
	RequestsPerMinute float64 // 0 disables rate limiting
}

// DefaultConfig returns sensible defaults for a local model
func DefaultConfig() Config {
	return Config{
		Model:       "qwen2.5vl:7b",
		Prompt:      DefaultPrompt,
		ImageFormat: "jpg",
		MaxImageDim: 1024,
		Quality:     85,
		Timeout:     3 * time.Minute,
	}
}

// Assessor consults a vision model about a photo set
type Assessor struct {
	client  client.VisionClient
	proc    *processing.Processor
	config  Config
	limiter *rate.Limiter
}

// NewAssessor creates an assessor with default configuration
func NewAssessor(c client.VisionClient) *Assessor {
	return NewAssessorWithConfig(c, DefaultConfig())
}

// NewAssessorWithConfig creates an assessor with custom configuration
func NewAssessorWithConfig(c client.VisionClient, cfg Config) *Assessor {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	return &Assessor{
		client:  c,
		proc:    processing.NewProcessor(),
		config:  cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Assess never fails: any error is folded into a degraded Assessment.
func (a *Assessor) Assess(ctx context.Context, set PhotoSet) Assessment {
	res, err := a.AssessStrict(ctx, set)
	if err != nil {
		res = Degraded(err)
	}
	res.Model = a.config.Model
	return res
}

// AssessStrict is Assess without the degraded fallback; errors are *VisionModelError.
func (a *Assessor) AssessStrict(ctx context.Context, set PhotoSet) (Assessment, error) {
	imgs, err := set.ordered()
	if err != nil {
		return Assessment{}, &VisionModelError{Op: "prepare", Err: err}
	}
	payload, err := a.encode(imgs...)
	if err != nil {
		return Assessment{}, err
	}

	raw, err := a.query(ctx, a.config.Prompt, payload)
	if err != nil {
		return Assessment{}, err
	}

	res, err := ParseResponse(raw)
	if err != nil {
		return Assessment{}, &VisionModelError{Op: "parse", Err: err}
	}
	res.Model = a.config.Model
	return res, nil
}

// Describe asks the model to describe a single image, to check it can see images at all
func (a *Assessor) Describe(ctx context.Context, img image.Image) (string, error) {
	payload, err := a.encode(img)
	if err != nil {
		return "", err
	}
	return a.query(ctx, SimpleTestPrompt, payload)
}

func (a *Assessor) encode(imgs ...image.Image) ([]client.Image, error) {
	out := make([]client.Image, len(imgs))
	for i, img := range imgs {
		data, mime, err := a.proc.PrepareImageForModel(img, a.config.ImageFormat, a.config.MaxImageDim, a.config.Quality)
		if err != nil {
			return nil, &VisionModelError{Op: "encode", Err: err}
		}
		out[i] = client.Image{Data: data, MIMEType: mime}
	}
	return out, nil
}

func (a *Assessor) query(ctx context.Context, prompt string, images []client.Image) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", &VisionModelError{Op: "rate limit", Err: err}
	}
	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}
	raw, err := a.client.Query(ctx, a.config.Model, prompt, images)
	if err != nil {
		return "", &VisionModelError{Op: "query", Err: err}
	}
	return raw, nil
}
