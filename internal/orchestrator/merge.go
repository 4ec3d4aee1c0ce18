package orchestrator

import (
	"fmt"
	"slices"
	"sort"

	"github.com/menta2k/paddy-monitor/internal/models"
	"github.com/menta2k/paddy-monitor/pkg/analyzer"
	"github.com/menta2k/paddy-monitor/pkg/assessment"
)

// merge combines the CV measurements and the vision assessment.
// A determinate CV value always wins; the model only fills metrics CV left
// empty. Every set metric gets a source, every gap a note.
func merge(photoGroupID uint, out outputs) *models.AnalysisResult {
	r := &models.AnalysisResult{PhotoGroupID: photoGroupID}
	sources := map[string]string{}
	var notes []string

	set := func(dst **float64, key string, v float64, source string) {
		*dst = &v
		sources[key] = source
	}
	fill := func(dst **float64, key string, v *float64) {
		if *dst == nil && v != nil {
			set(dst, key, *v, models.SourceVision)
		}
	}

	// canopy
	if out.canopyErr != nil {
		notes = append(notes, fmt.Sprintf("canopy analysis failed: %v", out.canopyErr))
	} else {
		set(&r.Coverage, "coverage", out.canopy.Coverage, models.SourceCV)
		set(&r.CanopyColorIndex, "canopy_color_index", out.canopy.CanopyColorIndex, models.SourceCV)
		set(&r.UniformityIndex, "uniformity_index", out.canopy.UniformityIndex, models.SourceCV)
	}

	// height
	if out.heightErr != nil {
		notes = append(notes, fmt.Sprintf("plant height indeterminate: %v", out.heightErr))
	} else {
		set(&r.AvgPlantHeight, "avg_plant_height", out.height.AvgPlantHeight, models.SourceCV)
		set(&r.HeightStdDev, "height_std_dev", out.height.HeightStdDev, models.SourceCV)
	}

	// spacing and density
	adv := out.advanced
	if out.advErr != nil {
		notes = append(notes, fmt.Sprintf("spacing analysis failed: %v", out.advErr))
	} else {
		if adv.RowSpacingCM != nil {
			set(&r.RowSpacingCM, "estimated_row_spacing_cm", *adv.RowSpacingCM, models.SourceCV)
		}
		if adv.PlantSpacingCM != nil {
			set(&r.PlantSpacingCM, "estimated_plant_spacing_cm", *adv.PlantSpacingCM, models.SourceCV)
		}
		if adv.SeedlingsPerMu != nil {
			set(&r.SeedlingsPerMu, "seedlings_per_mu", *adv.SeedlingsPerMu, models.SourceCV)
		}
		if adv.LodgingStatus != nil {
			lodging := *adv.LodgingStatus
			r.LodgingStatus = &lodging
			sources["lodging_status"] = models.SourceCV
		}
		keys := make([]string, 0, len(adv.Indeterminate))
		for k := range adv.Indeterminate {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			notes = append(notes, fmt.Sprintf("%s indeterminate from images: %s", k, adv.Indeterminate[k]))
		}
	}

	// vision
	v := out.vision
	m := v.Metrics
	r.VisionStatus = string(v.Status)
	r.VisionModel = v.Model
	r.AnalysisText = strPtr(v.Description)
	r.Suggestions = strPtr(v.Suggestions)
	if v.Status == assessment.StatusDegraded {
		notes = append(notes, fmt.Sprintf("vision model unavailable: %s", v.Error))
	}
	if m.PestRisk != nil {
		r.PestRisk = strPtr(*m.PestRisk)
		sources["pest_risk"] = models.SourceVision
	}
	if m.LeafColorHealth != nil {
		r.LeafColorHealth = strPtr(*m.LeafColorHealth)
		sources["leaf_color_health"] = models.SourceVision
	}
	if r.LodgingStatus == nil && m.LodgingStatus != nil {
		r.LodgingStatus = strPtr(*m.LodgingStatus)
		sources["lodging_status"] = models.SourceVision
	}

	fill(&r.RowSpacingCM, "estimated_row_spacing_cm", m.RowSpacingCM)
	fill(&r.PlantSpacingCM, "estimated_plant_spacing_cm", m.PlantSpacingCM)
	fill(&r.LeafAge, "estimated_leaf_age", m.LeafAge)
	fill(&r.TillersPerPlant, "estimated_tillers_per_plant", m.TillersPerPlant)

	if r.SeedlingsPerMu == nil {
		if positive(r.RowSpacingCM) && positive(r.PlantSpacingCM) {
			set(&r.SeedlingsPerMu, "seedlings_per_mu",
				analyzer.SeedlingsPerMu(*r.RowSpacingCM, *r.PlantSpacingCM), models.SourceDerived)
		} else {
			fill(&r.SeedlingsPerMu, "seedlings_per_mu", m.SeedlingsPerMu)
		}
	}

	// panicles: a direct model estimate first, else extrapolate the 1 m sample count
	switch {
	case m.PaniclesPerMu != nil && !slices.Contains(v.Derived, "panicles_per_mu"):
		fill(&r.PaniclesPerMu, "panicles_per_mu", m.PaniclesPerMu)
	case m.PanicleCountInSample != nil && positive(r.RowSpacingCM):
		set(&r.PaniclesPerMu, "panicles_per_mu",
			*m.PanicleCountInSample*(analyzer.SquareMetersPerMu*100 / *r.RowSpacingCM), models.SourceDerived)
	}

	// tiller density: hills per square metre times tillers per hill
	if positive(r.RowSpacingCM) && positive(r.PlantSpacingCM) && r.TillersPerPlant != nil {
		hills := 10000 / (*r.RowSpacingCM * *r.PlantSpacingCM)
		set(&r.TillerDensity, "tiller_density_estimate", hills*(*r.TillersPerPlant), models.SourceDerived)
	}

	for _, key := range analyzer.NotImplementedMetrics {
		if _, ok := sources[key]; !ok {
			notes = append(notes, fmt.Sprintf("%s not available", key))
		}
	}

	r.SetSources(sources)
	r.SetNotes(notes)
	return r
}

func positive(v *float64) bool { return v != nil && *v > 0 }

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
