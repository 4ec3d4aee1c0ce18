// Package report aggregates stored analysis results across fields.
package report

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/menta2k/paddy-monitor/internal/models"
	"github.com/menta2k/paddy-monitor/internal/store"
)

// ErrUnknownIndicator is returned for an indicator name outside the supported set
var ErrUnknownIndicator = errors.New("unknown indicator")

// Indicator names a numeric metric that can be mapped and compared
type Indicator string

const (
	Coverage         Indicator = "coverage"
	CanopyColorIndex Indicator = "canopy_color_index"
	UniformityIndex  Indicator = "uniformity_index"
	AvgPlantHeight   Indicator = "avg_plant_height"
	HeightStdDev     Indicator = "height_std_dev"
	SeedlingsPerMu   Indicator = "seedlings_per_mu"
	PaniclesPerMu    Indicator = "panicles_per_mu"
	TillerDensity    Indicator = "tiller_density_estimate"
	LeafAge          Indicator = "estimated_leaf_age"
	TillersPerPlant  Indicator = "estimated_tillers_per_plant"
)

var extractors = map[Indicator]func(*models.AnalysisResult) *float64{
	Coverage:         func(r *models.AnalysisResult) *float64 { return r.Coverage },
	CanopyColorIndex: func(r *models.AnalysisResult) *float64 { return r.CanopyColorIndex },
	UniformityIndex:  func(r *models.AnalysisResult) *float64 { return r.UniformityIndex },
	AvgPlantHeight:   func(r *models.AnalysisResult) *float64 { return r.AvgPlantHeight },
	HeightStdDev:     func(r *models.AnalysisResult) *float64 { return r.HeightStdDev },
	SeedlingsPerMu:   func(r *models.AnalysisResult) *float64 { return r.SeedlingsPerMu },
	PaniclesPerMu:    func(r *models.AnalysisResult) *float64 { return r.PaniclesPerMu },
	TillerDensity:    func(r *models.AnalysisResult) *float64 { return r.TillerDensity },
	LeafAge:          func(r *models.AnalysisResult) *float64 { return r.LeafAge },
	TillersPerPlant:  func(r *models.AnalysisResult) *float64 { return r.TillersPerPlant },
}

// ParseIndicator validates an indicator name
func ParseIndicator(name string) (Indicator, error) {
	ind := Indicator(name)
	if _, ok := extractors[ind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownIndicator, name)
	}
	return ind, nil
}

// Indicators lists the supported indicators in name order
func Indicators() []Indicator {
	out := make([]Indicator, 0, len(extractors))
	for ind := range extractors {
		out = append(out, ind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Value extracts the indicator from a result; nil when the metric is unavailable
func (i Indicator) Value(r *models.AnalysisResult) *float64 {
	if fn, ok := extractors[i]; ok && r != nil {
		return fn(r)
	}
	return nil
}

// ComparisonWindow returns the ten-day period centred on date:
// five days before through four days after, inclusive.
func ComparisonWindow(date time.Time) (from, to time.Time) {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return d.AddDate(0, 0, -5), d.AddDate(0, 0, 4)
}

// HeatmapPoint is the latest value of an indicator for one field
type HeatmapPoint struct {
	FieldID      uint      `json:"field_id"`
	FieldName    string    `json:"field_name"`
	Location     string    `json:"location"`
	PhotoGroupID uint      `json:"photo_group_id"`
	CaptureDate  time.Time `json:"capture_date"`
	Value        float64   `json:"value"`
}

// Heatmap picks, per field, the most recent result that has the indicator.
// Points are ordered by field id.
func Heatmap(rows []store.ResultRow, ind Indicator) []HeatmapPoint {
	latest := map[uint]HeatmapPoint{}
	for i := range rows {
		row := &rows[i]
		v := ind.Value(&row.Result)
		if v == nil {
			continue
		}
		captured := time.Time(row.Group.CaptureDate)
		if cur, ok := latest[row.Field.ID]; ok && !captured.After(cur.CaptureDate) {
			continue
		}
		latest[row.Field.ID] = HeatmapPoint{
			FieldID:      row.Field.ID,
			FieldName:    row.Field.Name,
			Location:     row.Field.Location,
			PhotoGroupID: row.Group.ID,
			CaptureDate:  captured,
			Value:        *v,
		}
	}

	points := make([]HeatmapPoint, 0, len(latest))
	for _, p := range latest {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].FieldID < points[j].FieldID })
	return points
}

// RegionStats summarizes one indicator over the fields of a location
type RegionStats struct {
	Location string  `json:"location"`
	Fields   int     `json:"fields"`
	Mean     float64 `json:"mean"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	StdDev   float64 `json:"std_dev"`
}

// RegionalStats groups the per-field latest values by field location.
// Fields without a location are reported under "unknown".
func RegionalStats(rows []store.ResultRow, ind Indicator) []RegionStats {
	byLocation := map[string][]float64{}
	for _, p := range Heatmap(rows, ind) {
		loc := p.Location
		if loc == "" {
			loc = "unknown"
		}
		byLocation[loc] = append(byLocation[loc], p.Value)
	}

	stats := make([]RegionStats, 0, len(byLocation))
	for loc, values := range byLocation {
		s := RegionStats{Location: loc, Fields: len(values), Min: values[0], Max: values[0]}
		var sum float64
		for _, v := range values {
			sum += v
			s.Min = math.Min(s.Min, v)
			s.Max = math.Max(s.Max, v)
		}
		s.Mean = sum / float64(len(values))
		var sq float64
		for _, v := range values {
			sq += (v - s.Mean) * (v - s.Mean)
		}
		s.StdDev = math.Sqrt(sq / float64(len(values)))
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Location < stats[j].Location })
	return stats
}
