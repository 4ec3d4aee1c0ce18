package analyzer

import (
	"errors"
	"fmt"
)

// ErrNoPlantsDetected is returned when no plant silhouette survives the area filter.
var ErrNoPlantsDetected = errors.New("no plants detected above minimum area")

// ErrInsufficientRows is returned when the spacing profile has fewer than two peaks.
var ErrInsufficientRows = errors.New("not enough rows detected to estimate spacing")

// ImageLoadError reports a missing, unreadable or undecodable image.
type ImageLoadError struct {
	Path      string
	Err       error
	transient bool
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("failed to load image %q: %v", e.Path, e.Err)
}

func (e *ImageLoadError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the load could succeed.
// Decode failures and missing files are permanent; other I/O errors are not.
func (e *ImageLoadError) Temporary() bool { return e.transient }

// CalibrationNotFoundError is returned when no reference board is visible in the frame.
type CalibrationNotFoundError struct {
	MinArea int
}

func (e *CalibrationNotFoundError) Error() string {
	return fmt.Sprintf("calibration board not found (no bright region of at least %d px)", e.MinArea)
}
