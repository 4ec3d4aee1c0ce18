package assessment

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/menta2k/paddy-monitor/pkg/client"
)

type fakeClient struct {
	reply  string
	err    error
	calls  int
	images []client.Image
	prompt string
}

func (f *fakeClient) Query(ctx context.Context, model, prompt string, images []client.Image) (string, error) {
	f.calls++
	f.prompt = prompt
	f.images = images
	return f.reply, f.err
}

func solid(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func photoSet() PhotoSet {
	return PhotoSet{
		Drone:      solid(40, 40, color.RGBA{0, 200, 0, 255}),
		Horizontal: solid(50, 40, color.RGBA{0, 0, 200, 255}),
		Vertical:   solid(60, 40, color.RGBA{200, 0, 0, 255}),
		Closeup:    solid(70, 40, color.RGBA{200, 200, 200, 255}),
	}
}

const wellFormed = "```json\n" + `{
  "analysis": {"description": "Even stand at tillering.", "suggestions": "Top-dress nitrogen."},
  "metrics": {
    "estimated_row_spacing_cm": 25.0,
    "estimated_plant_spacing_cm": 15.0,
    "seedlings_per_mu": 17778,
    "panicles_per_mu": 450000,
    "pest_risk": "Low",
    "leaf_color_health": "Healthy Green",
    "lodging_status": "None",
    "estimated_leaf_age": 12.5,
    "estimated_tillers_per_plant": 22.0
  }
}` + "\n```"

func TestAssessWellFormed(t *testing.T) {
	fc := &fakeClient{reply: wellFormed}
	a := NewAssessor(fc)

	res := a.Assess(context.Background(), photoSet())

	if res.Status != StatusOK {
		t.Fatalf("Expected OK, got %s (%s)", res.Status, res.Error)
	}
	if res.Description != "Even stand at tillering." || res.Suggestions != "Top-dress nitrogen." {
		t.Errorf("Unexpected analysis text %q / %q", res.Description, res.Suggestions)
	}
	m := res.Metrics
	if *m.RowSpacingCM != 25 || *m.PlantSpacingCM != 15 || *m.SeedlingsPerMu != 17778 || *m.PaniclesPerMu != 450000 {
		t.Errorf("Unexpected density metrics %+v", m)
	}
	if *m.PestRisk != "Low" || *m.LeafColorHealth != "Healthy Green" || *m.LodgingStatus != "None" {
		t.Errorf("Unexpected categories %+v", m)
	}
	if *m.LeafAge != 12.5 || *m.TillersPerPlant != 22 {
		t.Errorf("Unexpected growth metrics %+v", m)
	}
	if len(res.Derived) != 0 {
		t.Errorf("Expected nothing derived, got %v", res.Derived)
	}
	if res.Model != DefaultConfig().Model {
		t.Errorf("Expected model name to be recorded, got %q", res.Model)
	}
}

func TestAssessSendsImagesInOrder(t *testing.T) {
	fc := &fakeClient{reply: wellFormed}
	NewAssessor(fc).Assess(context.Background(), photoSet())

	if len(fc.images) != 4 {
		t.Fatalf("Expected 4 images, got %d", len(fc.images))
	}
	if fc.prompt != DefaultPrompt {
		t.Error("Expected the default prompt")
	}
	// widths identify the images: drone 40, horizontal 50, vertical 60, closeup 70
	wantWidths := []int{40, 50, 60, 70}
	for i, img := range fc.images {
		decoded, _, err := image.Decode(strings.NewReader(string(img.Data)))
		if err != nil {
			t.Fatalf("decode image %d: %v", i, err)
		}
		if decoded.Bounds().Dx() != wantWidths[i] {
			t.Errorf("Image %d: expected width %d, got %d", i, wantWidths[i], decoded.Bounds().Dx())
		}
		if img.MIMEType != "image/jpeg" {
			t.Errorf("Image %d: expected image/jpeg, got %s", i, img.MIMEType)
		}
	}
}

func TestAssessPartialMetrics(t *testing.T) {
	fc := &fakeClient{reply: `{"analysis":{"description":"ok","suggestions":"ok"},"metrics":{"pest_risk":"Low"}}`}
	res := NewAssessor(fc).Assess(context.Background(), photoSet())

	if res.Status != StatusOK {
		t.Fatalf("Expected OK, got %s", res.Status)
	}
	if res.Metrics.PestRisk == nil || *res.Metrics.PestRisk != "Low" {
		t.Errorf("Expected pest_risk Low, got %v", res.Metrics.PestRisk)
	}
	if res.Metrics.LeafColorHealth != nil {
		t.Errorf("Expected leaf_color_health to be absent, got %v", *res.Metrics.LeafColorHealth)
	}
}

func TestAssessMalformedJSONDegrades(t *testing.T) {
	fc := &fakeClient{reply: `{"analysis": {"description": "cut off`}
	res := NewAssessor(fc).Assess(context.Background(), photoSet())

	if res.Status != StatusDegraded {
		t.Fatalf("Expected degraded result, got %s", res.Status)
	}
	assertDegraded(t, res)
}

func TestAssessClientErrorDegrades(t *testing.T) {
	fc := &fakeClient{err: errors.New("connection refused")}
	res := NewAssessor(fc).Assess(context.Background(), photoSet())

	assertDegraded(t, res)
	if !strings.Contains(res.Description, "connection refused") {
		t.Errorf("Expected description to embed the error, got %q", res.Description)
	}
}

func TestAssessMissingImageDegrades(t *testing.T) {
	fc := &fakeClient{reply: wellFormed}
	set := photoSet()
	set.Closeup = nil

	res := NewAssessor(fc).Assess(context.Background(), set)
	assertDegraded(t, res)
	if fc.calls != 0 {
		t.Error("Expected no model call without all images")
	}
}

func TestAssessStrictReturnsVisionModelError(t *testing.T) {
	fc := &fakeClient{reply: "I cannot help with that."}
	_, err := NewAssessor(fc).AssessStrict(context.Background(), photoSet())

	var vErr *VisionModelError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected *VisionModelError, got %v", err)
	}
	if vErr.Op != "parse" {
		t.Errorf("Expected parse failure, got %s", vErr.Op)
	}
}

func TestAssessRateLimitRespectsContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 0.001
	fc := &fakeClient{reply: wellFormed}
	a := NewAssessorWithConfig(fc, cfg)

	if res := a.Assess(context.Background(), photoSet()); res.Status != StatusOK {
		t.Fatalf("First call should pass the limiter, got %s", res.Error)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := a.Assess(ctx, photoSet())
	if res.Status != StatusDegraded {
		t.Fatalf("Expected second call to be rate limited")
	}
	if fc.calls != 1 {
		t.Errorf("Expected 1 model call, got %d", fc.calls)
	}
}

func TestDescribe(t *testing.T) {
	fc := &fakeClient{reply: "A rice field."}
	got, err := NewAssessor(fc).Describe(context.Background(), solid(10, 10, color.RGBA{0, 255, 0, 255}))
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if got != "A rice field." || fc.prompt != SimpleTestPrompt || len(fc.images) != 1 {
		t.Errorf("Unexpected description: %q prompt=%q images=%d", got, fc.prompt, len(fc.images))
	}
}

func assertDegraded(t *testing.T, res Assessment) {
	t.Helper()
	if res.Status != StatusDegraded {
		t.Fatalf("Expected degraded, got %s", res.Status)
	}
	for name, v := range map[string]*string{
		"pest_risk":         res.Metrics.PestRisk,
		"leaf_color_health": res.Metrics.LeafColorHealth,
		"lodging_status":    res.Metrics.LodgingStatus,
	} {
		if v == nil || *v != Unknown {
			t.Errorf("Expected %s to be Unknown, got %v", name, v)
		}
	}
	m := res.Metrics
	for _, v := range []*float64{m.RowSpacingCM, m.PlantSpacingCM, m.SeedlingsPerMu, m.PaniclesPerMu, m.LeafAge, m.TillersPerPlant} {
		if v != nil {
			t.Errorf("Expected numeric metrics to be absent, got %v", *v)
		}
	}
	if res.Error == "" || !strings.HasPrefix(res.Description, "AI analysis failed") {
		t.Errorf("Expected error to be visible, got %q", res.Description)
	}
}

func TestDerivePaniclesFromSampleCount(t *testing.T) {
	res, err := ParseResponse(`{"analysis":{"description":"d","suggestions":"s"},
		"metrics":{"panicle_count_in_1m_sample": 30, "estimated_row_spacing_cm": 25}}`)
	if err != nil {
		t.Fatal(err)
	}
	want := 30 * (666.67 * 100 / 25)
	if res.Metrics.PaniclesPerMu == nil || math.Abs(*res.Metrics.PaniclesPerMu-want) > 1e-6 {
		t.Errorf("Expected %f panicles per mu, got %v", want, res.Metrics.PaniclesPerMu)
	}
	if len(res.Derived) != 1 || res.Derived[0] != "panicles_per_mu" {
		t.Errorf("Expected panicles_per_mu to be marked derived, got %v", res.Derived)
	}
}
