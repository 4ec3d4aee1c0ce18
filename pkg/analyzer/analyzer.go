package analyzer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageAnalyzer derives vegetation and morphometric measurements from paddy photos.
// All analysis methods are pure functions of their input image and the analyzer config.
type ImageAnalyzer struct {
	config Config
}

// Config holds the thresholds used by the analyzer
type Config struct {
	SupportedFormats []string
	MinImageSize     int

	// Canopy
	ExGThreshold int     // 2G-R-B above this is vegetation
	MinRedValue  float64 // floor for the red channel in G/R
	GridSize     int     // uniformity grid is GridSize x GridSize

	// Calibration board
	WhiteThreshold uint8
	MinBoardArea   int
	BoardHeightCM  float64

	// Plant segmentation
	PlantGrayThreshold uint8
	KernelSize         int
	MinPlantArea       int

	// Spacing
	MinPeakDistanceFrac float64
}

// DefaultConfig returns the analyzer thresholds used in production
func DefaultConfig() Config {
	return Config{
		SupportedFormats:    []string{"jpg", "jpeg", "png", "webp", "bmp", "tiff"},
		MinImageSize:        64,
		ExGThreshold:        20,
		MinRedValue:         1,
		GridSize:            5,
		WhiteThreshold:      200,
		MinBoardArea:        400,
		BoardHeightCM:       100,
		PlantGrayThreshold:  128,
		KernelSize:          5,
		MinPlantArea:        500,
		MinPeakDistanceFrac: 0.02,
	}
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{config: DefaultConfig()}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// Config returns a copy of the analyzer configuration
func (a *ImageAnalyzer) Config() Config {
	return a.config
}

// LoadImage loads an image from file, applying EXIF orientation.
// Every failure is returned as *ImageLoadError.
func (a *ImageAnalyzer) LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ImageLoadError{Path: path, Err: err, transient: !errors.Is(err, fs.ErrNotExist)}
	}
	defer file.Close()

	img, err := a.decode(file)
	if err != nil {
		var loadErr *ImageLoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
			return nil, loadErr
		}
		return nil, &ImageLoadError{Path: path, Err: err}
	}
	return img, nil
}

func (a *ImageAnalyzer) decode(reader io.Reader) (image.Image, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &ImageLoadError{Err: fmt.Errorf("failed to read image data: %w", err), transient: true}
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageLoadError{Err: fmt.Errorf("failed to decode image: %w", err)}
	}
	if !a.isFormatSupported(format) {
		return nil, &ImageLoadError{Err: fmt.Errorf("unsupported image format: %s", format)}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &ImageLoadError{Err: fmt.Errorf("failed to decode image: %w", err)}
	}
	if err := a.ValidateImage(img); err != nil {
		return nil, &ImageLoadError{Err: err}
	}
	return img, nil
}

// GetImageInfo returns basic information about an image
func (a *ImageAnalyzer) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	return ImageInfo{
		Width:       width,
		Height:      height,
		AspectRatio: float64(width) / float64(height),
		Area:        width * height,
	}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// ValidateImage checks if an image meets minimum requirements
func (a *ImageAnalyzer) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() < a.config.MinImageSize || bounds.Dy() < a.config.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), a.config.MinImageSize)
	}
	return nil
}
