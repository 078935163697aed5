// Package camera implements the device side of the booth: recorders that
// deliver frames from a webcam, and Stream, which turns a recorder into a
// live source with a latest frame, a native size and frame callbacks.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	photobooth "github.com/snapbooth/photobooth-go"
)

// Recorder is a source of frames, for example a webcam.
type Recorder interface {
	// Events returns a channel from which Events can be read, each containing a frame.
	Events() chan Event

	// Close shuts down the recorder. No further Events will be sent.
	Close() error
}

// Event is a single frame (or error) coming from a Recorder.
type Event struct {
	// If set, an error occurred.
	Err error

	// Frame read from the recorder. If Err is set, Frame is not valid.
	Frame *image.NRGBA
}

// Constraints select the device and the capture format. Zero fields are
// filled in by WithDefaults.
type Constraints struct {
	DeviceID string        // As returned by a backend's ListDevices. If empty, the first device is used.
	Width    int           // Requested frame width. Backends pick the closest supported size.
	Height   int           // Requested frame height.
	Interval time.Duration // Time between frames.
}

// Default capture settings.
const (
	DefaultWidth    = 1280
	DefaultHeight   = 720
	DefaultInterval = time.Second / 15
)

// WithDefaults returns c with zero fields set to their defaults.
func (c Constraints) WithDefaults() Constraints {
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = DefaultWidth, DefaultHeight
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Framerate returns the number of frames per second for c.Interval, at least 1.
func (c Constraints) Framerate() int {
	c = c.WithDefaults()
	fps := int(time.Second / c.Interval)
	if fps < 1 {
		fps = 1
	}
	return fps
}

// Opener opens a recorder for the given constraints.
type Opener func(ctx context.Context, c Constraints) (Recorder, error)

// Unavailable wraps err so it matches photobooth.ErrDeviceUnavailable.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, photobooth.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", photobooth.ErrDeviceUnavailable, err)
}
