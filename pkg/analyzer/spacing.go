package analyzer

import (
	"fmt"
	"image"
	"sort"
)

// SquareMetersPerMu is the area of one mu.
const SquareMetersPerMu = 666.67

// Lodging categories shared with the vision model vocabulary
const (
	LodgingNone     = "None"
	LodgingSlight   = "Slight"
	LodgingModerate = "Moderate"
	LodgingSevere   = "Severe"
)

// AdvancedMetrics are the spacing, density and lodging estimates from the
// two 3 m side views. Nil fields are indeterminate; Indeterminate holds the reason.
type AdvancedMetrics struct {
	RowSpacingCM   *float64 `json:"estimated_row_spacing_cm"`
	PlantSpacingCM *float64 `json:"estimated_plant_spacing_cm"`
	SeedlingsPerMu *float64 `json:"seedlings_per_mu"`
	HillsPerM2     *float64 `json:"hills_per_m2"`
	LodgingStatus  *string  `json:"lodging_status"`

	// Not measurable from pixels with the current heuristics.
	PaniclesPerMu   *float64 `json:"panicles_per_mu"`
	TillerDensity   *float64 `json:"tiller_density_estimate"`
	LeafAge         *float64 `json:"estimated_leaf_age"`
	TillersPerPlant *float64 `json:"estimated_tillers_per_plant"`

	Indeterminate  map[string]string `json:"indeterminate,omitempty"`
	NotImplemented []string          `json:"not_implemented,omitempty"`
}

// NotImplementedMetrics lists metrics the CV pipeline never produces.
var NotImplementedMetrics = []string{
	"panicles_per_mu", "tiller_density_estimate", "estimated_leaf_age", "estimated_tillers_per_plant",
}

// AnalyzeAdvanced estimates row spacing from the horizontal view and plant
// spacing from the vertical view via peak detection on the column vegetation
// profile, then derives planting density. Lodging is classified from the
// aspect ratio of plant silhouettes in the vertical view.
//
// Only nil input is an error; per-metric failures are recorded in Indeterminate.
func (a *ImageAnalyzer) AnalyzeAdvanced(horizontal, vertical image.Image) (AdvancedMetrics, error) {
	if horizontal == nil || vertical == nil {
		return AdvancedMetrics{}, fmt.Errorf("both side images are required")
	}
	m := AdvancedMetrics{
		Indeterminate:  map[string]string{},
		NotImplemented: append([]string(nil), NotImplementedMetrics...),
	}

	if row, err := a.SpacingCM(horizontal); err != nil {
		m.Indeterminate["estimated_row_spacing_cm"] = err.Error()
	} else {
		m.RowSpacingCM = &row
	}
	if plant, err := a.SpacingCM(vertical); err != nil {
		m.Indeterminate["estimated_plant_spacing_cm"] = err.Error()
	} else {
		m.PlantSpacingCM = &plant
	}

	if m.RowSpacingCM != nil && m.PlantSpacingCM != nil {
		seedlings := SeedlingsPerMu(*m.RowSpacingCM, *m.PlantSpacingCM)
		hills := 10000 / (*m.RowSpacingCM * *m.PlantSpacingCM)
		m.SeedlingsPerMu = &seedlings
		m.HillsPerM2 = &hills
	} else {
		m.Indeterminate["seedlings_per_mu"] = "row or plant spacing unavailable"
	}

	if status, ok := a.Lodging(vertical); ok {
		m.LodgingStatus = &status
	} else {
		m.Indeterminate["lodging_status"] = ErrNoPlantsDetected.Error()
	}

	return m, nil
}

// SeedlingsPerMu converts row and plant spacing in cm to hills per mu.
func SeedlingsPerMu(rowCM, plantCM float64) float64 {
	return SquareMetersPerMu * 10000 / (rowCM * plantCM)
}

// SpacingCM returns the median distance between vegetation columns in cm,
// calibrated by the reference board visible in the same image.
func (a *ImageAnalyzer) SpacingCM(img image.Image) (float64, error) {
	cal, err := a.Calibrate(img)
	if err != nil {
		return 0, err
	}
	px, err := a.spacingPx(img)
	if err != nil {
		return 0, err
	}
	return px / cal.PixelsPerCM, nil
}

func (a *ImageAnalyzer) spacingPx(img image.Image) (float64, error) {
	veg := vegetationMask(toNRGBA(img), a.config.ExGThreshold)
	profile := make([]float64, veg.w)
	for x := 0; x < veg.w; x++ {
		n := 0
		for y := 0; y < veg.h; y++ {
			if veg.at(x, y) {
				n++
			}
		}
		profile[x] = float64(n) / float64(veg.h)
	}

	window := max(3, veg.w/50) | 1
	smoothed := movingAverage(profile, window)
	minDist := max(2, int(a.config.MinPeakDistanceFrac*float64(veg.w)))
	peaks := findPeaks(smoothed, minDist)
	if len(peaks) < 2 {
		return 0, ErrInsufficientRows
	}

	gaps := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		gaps[i-1] = float64(peaks[i] - peaks[i-1])
	}
	return median(gaps), nil
}

// movingAverage smooths with a centred window truncated at the edges.
func movingAverage(values []float64, window int) []float64 {
	r := window / 2
	out := make([]float64, len(values))
	for i := range values {
		lo, hi := max(0, i-r), min(len(values)-1, i+r)
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// findPeaks returns local maxima above the profile mean, at least minDist apart.
// When two peaks are closer, the higher one is kept.
func findPeaks(values []float64, minDist int) []int {
	mean, _ := meanStd(values)
	var peaks []int
	for i := 1; i < len(values)-1; i++ {
		v := values[i]
		if v <= mean || v < values[i-1] || v <= values[i+1] {
			continue
		}
		if n := len(peaks); n > 0 && i-peaks[n-1] < minDist {
			if v > values[peaks[n-1]] {
				peaks[n-1] = i
			}
			continue
		}
		peaks = append(peaks, i)
	}
	return peaks
}

func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// Lodging classifies lean from the median width/height ratio of plant silhouettes.
// Upright plants are tall and narrow; lodged plants spread horizontally.
func (a *ImageAnalyzer) Lodging(img image.Image) (string, bool) {
	found := a.plants(img)
	if len(found) == 0 {
		return "", false
	}
	ratios := make([]float64, len(found))
	for i, c := range found {
		ratios[i] = float64(c.width()) / float64(c.height())
	}
	r := median(ratios)
	switch {
	case r < 0.6:
		return LodgingNone, true
	case r < 1.0:
		return LodgingSlight, true
	case r < 1.5:
		return LodgingModerate, true
	default:
		return LodgingSevere, true
	}
}
