package analyzer

import (
	"fmt"
	"image"
	"math"
)

// CanopyMetrics are the top-down (drone) measurements
type CanopyMetrics struct {
	Coverage         float64 `json:"coverage"`
	CanopyColorIndex float64 `json:"canopy_color_index"`
	UniformityIndex  float64 `json:"uniformity_index"`
}

// AnalyzeCanopy measures vegetation coverage, mean green/red ratio and
// spatial uniformity of coverage over a GridSize x GridSize partition.
func (a *ImageAnalyzer) AnalyzeCanopy(img image.Image) (CanopyMetrics, error) {
	if img == nil || img.Bounds().Empty() {
		return CanopyMetrics{}, fmt.Errorf("empty drone image")
	}
	px := toNRGBA(img)
	veg := vegetationMask(px, a.config.ExGThreshold)
	total := veg.w * veg.h

	return CanopyMetrics{
		Coverage:         float64(veg.count()) / float64(total) * 100,
		CanopyColorIndex: colorIndex(px, a.config.MinRedValue),
		UniformityIndex:  uniformity(veg, a.config.GridSize),
	}, nil
}

// colorIndex is the mean G/R over all pixels, with R floored at minRed.
func colorIndex(img *image.NRGBA, minRed float64) float64 {
	if minRed <= 0 {
		minRed = 1
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var sum float64
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r := math.Max(float64(row[x*4]), minRed)
			sum += float64(row[x*4+1]) / r
		}
	}
	return sum / float64(w*h)
}

// uniformity is the coefficient of variation (x100) of per-cell coverage.
// Returns 0 when mean coverage is 0.
func uniformity(veg *mask, grid int) float64 {
	if grid <= 0 {
		grid = 5
	}
	var cells []float64
	for gy := 0; gy < grid; gy++ {
		y0, y1 := gy*veg.h/grid, (gy+1)*veg.h/grid
		for gx := 0; gx < grid; gx++ {
			x0, x1 := gx*veg.w/grid, (gx+1)*veg.w/grid
			area := (x1 - x0) * (y1 - y0)
			if area == 0 {
				continue
			}
			n := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					if veg.at(x, y) {
						n++
					}
				}
			}
			cells = append(cells, float64(n)/float64(area)*100)
		}
	}

	mean, std := meanStd(cells)
	if mean == 0 {
		return 0
	}
	return std / mean * 100
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
