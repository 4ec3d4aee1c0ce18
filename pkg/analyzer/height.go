package analyzer

import (
	"fmt"
	"image"
)

// HeightMetrics are the side-view plant height measurements
type HeightMetrics struct {
	AvgPlantHeight float64 `json:"avg_plant_height"`
	HeightStdDev   float64 `json:"height_std_dev"`
	PlantCount     int     `json:"plant_count"`
	PixelsPerCM    float64 `json:"pixels_per_cm"`
}

// Calibration maps image pixels to centimetres using the reference board
type Calibration struct {
	Board       image.Rectangle
	PixelsPerCM float64
}

// Calibrate locates the largest bright region and treats it as the reference
// board of BoardHeightCM. Returns *CalibrationNotFoundError when none qualifies.
func (a *ImageAnalyzer) Calibrate(img image.Image) (Calibration, error) {
	px := toNRGBA(img)
	var best component
	for _, c := range brightMask(px, a.config.WhiteThreshold).components() {
		if c.area > best.area {
			best = c
		}
	}
	if best.area == 0 || best.area < a.config.MinBoardArea || a.config.BoardHeightCM <= 0 {
		return Calibration{}, &CalibrationNotFoundError{MinArea: a.config.MinBoardArea}
	}
	return Calibration{
		Board:       image.Rect(best.minX, best.minY, best.maxX+1, best.maxY+1),
		PixelsPerCM: float64(best.height()) / a.config.BoardHeightCM,
	}, nil
}

// plants segments dark silhouettes, cleans them with close-then-open and
// returns the components that pass the minimum area filter.
func (a *ImageAnalyzer) plants(img image.Image) []component {
	cleaned := darkMask(img, a.config.PlantGrayThreshold).closeOpen(a.config.KernelSize)
	var out []component
	for _, c := range cleaned.components() {
		if c.area >= a.config.MinPlantArea {
			out = append(out, c)
		}
	}
	return out
}

// PlantBoxes returns the bounding boxes of the segmented plants
func (a *ImageAnalyzer) PlantBoxes(img image.Image) []image.Rectangle {
	found := a.plants(img)
	boxes := make([]image.Rectangle, len(found))
	for i, c := range found {
		boxes[i] = image.Rect(c.minX, c.minY, c.maxX+1, c.maxY+1)
	}
	return boxes
}

// AnalyzeHeight measures plant heights in the vertical side view.
// Fails with *CalibrationNotFoundError or ErrNoPlantsDetected rather than guessing.
func (a *ImageAnalyzer) AnalyzeHeight(img image.Image) (HeightMetrics, error) {
	if img == nil || img.Bounds().Empty() {
		return HeightMetrics{}, fmt.Errorf("empty side image")
	}
	cal, err := a.Calibrate(img)
	if err != nil {
		return HeightMetrics{}, err
	}

	found := a.plants(img)
	if len(found) == 0 {
		return HeightMetrics{}, ErrNoPlantsDetected
	}

	heights := make([]float64, len(found))
	for i, c := range found {
		heights[i] = float64(c.height()) / cal.PixelsPerCM
	}
	mean, std := meanStd(heights)

	return HeightMetrics{
		AvgPlantHeight: mean,
		HeightStdDev:   std,
		PlantCount:     len(found),
		PixelsPerCM:    cal.PixelsPerCM,
	}, nil
}
