package photobooth

import (
	"errors"
	"fmt"
)

// Errors returned by the booth packages. Callers match them with errors.Is.
var (
	// ErrDeviceUnavailable means no camera could be opened. Fatal to pipeline start.
	ErrDeviceUnavailable = errors.New("camera device unavailable")

	// ErrDetectionUnavailable means the face detection capability could not be
	// loaded. The pipeline continues without detection.
	ErrDetectionUnavailable = errors.New("face detection unavailable")

	// ErrInvalidPhotoCount is returned when the number of photos does not
	// match the cell count of a grid.
	ErrInvalidPhotoCount = errors.New("invalid photo count")

	// ErrInvalidGridSpec is returned for grids without columns or rows that
	// are not a strip grid.
	ErrInvalidGridSpec = errors.New("invalid grid spec")

	// ErrAssetLoad is returned when a frame asset or photo cannot be decoded.
	ErrAssetLoad = errors.New("asset load failure")

	// ErrNoFrame is returned by captures before the first frame was rendered.
	ErrNoFrame = errors.New("no frame rendered yet")
)

// FilterError is a failure inside a pixel filter, recovered during rendering.
type FilterError struct {
	Filter string
	Err    error
}

// Error returns a human-readable description of the filter failure.
func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s failed: %v", e.Filter, e.Err)
}

// Unwrap returns the underlying error.
func (e *FilterError) Unwrap() error {
	return e.Err
}

// Ensure FilterError implements the error interface.
var _ error = (*FilterError)(nil)
