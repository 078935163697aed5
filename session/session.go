// Package session collects the photos of one booth visit and turns them into
// the finished, framed composite.
package session

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/composite"
	"github.com/snapbooth/photobooth-go/raster"
)

// ErrSequenceFull is returned by Add when every cell of the grid has a photo.
var ErrSequenceFull = errors.New("capture sequence full")

// Capture is the sequence of photos taken for one grid. Photos are kept
// encoded, as returned by the camera pipeline. It is safe for concurrent use.
type Capture struct {
	id   string
	grid composite.GridSpec

	mu     sync.Mutex
	photos [][]byte
}

// New starts a capture sequence for grid g with a new session ID.
func New(g composite.GridSpec) (*Capture, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Capture{id: uuid.NewString(), grid: g}, nil
}

// ID returns the session ID.
func (c *Capture) ID() string {
	return c.id
}

// Grid returns the grid the photos are taken for.
func (c *Capture) Grid() composite.GridSpec {
	return c.grid
}

// Add appends an encoded photo and returns the number of photos taken.
func (c *Capture) Add(photo []byte) (int, error) {
	if len(photo) == 0 {
		return 0, fmt.Errorf("%w: empty photo", photobooth.ErrAssetLoad)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.photos) >= c.grid.TotalCells() {
		return len(c.photos), ErrSequenceFull
	}
	c.photos = append(c.photos, photo)
	return len(c.photos), nil
}

// DeleteLast removes the most recent photo, for a retake. It reports whether
// there was one.
func (c *Capture) DeleteLast() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.photos) == 0 {
		return false
	}
	c.photos = c.photos[:len(c.photos)-1]
	return true
}

// DeleteAt removes photo i. Later photos move up one cell.
func (c *Capture) DeleteAt(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.photos) {
		return fmt.Errorf("no photo %d, have %d", i, len(c.photos))
	}
	c.photos = append(c.photos[:i:i], c.photos[i+1:]...)
	return nil
}

// Len returns the number of photos taken.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.photos)
}

// Remaining returns the number of photos still to take.
func (c *Capture) Remaining() int {
	return c.grid.TotalCells() - c.Len()
}

// Complete reports whether every cell has a photo.
func (c *Capture) Complete() bool {
	return c.Remaining() == 0
}

// Photos returns the photos taken so far. The slice is a copy, the photo
// bytes are shared and must not be modified.
func (c *Capture) Photos() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.photos...)
}

// Reset drops all photos, keeping the session ID and grid.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.photos = nil
}

// Result is a finished composite.
type Result struct {
	Grid      composite.GridSpec
	Composite *image.NRGBA
}

// Finalize decodes the photos and lays them out on the grid. The strip grid
// is built as a strip. Incomplete sequences give an error matching
// photobooth.ErrInvalidPhotoCount.
func (c *Capture) Finalize(opts *composite.Opts) (*Result, error) {
	photos := c.Photos()
	imgs := make([]image.Image, len(photos))
	for i, buf := range photos {
		img, err := raster.DecodeBytes(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding photo %d: %v", photobooth.ErrAssetLoad, i, err)
		}
		imgs[i] = img
	}
	img, err := composite.Layout(imgs, c.grid, opts)
	if err != nil {
		return nil, fmt.Errorf("composing %s: %w", c.grid.ID, err)
	}
	return &Result{Grid: c.grid, Composite: img}, nil
}

// Frame applies frame to the composite. A nil frame returns a copy of the
// composite.
func (r *Result) Frame(frame image.Image, opts *composite.FrameOpts) (*image.NRGBA, error) {
	return composite.ApplyFrame(r.Composite, r.Grid, frame, opts)
}
