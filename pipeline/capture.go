package pipeline

import (
	"image"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/raster"
)

// CaptureOpts are options for CapturePhoto.
type CaptureOpts struct {
	Format  raster.Format // JPEG by default.
	Quality int           // JPEG quality, raster.DefaultQuality if 0.
}

// Still returns a copy of the displayed frame. It returns
// photobooth.ErrNoFrame if nothing was displayed yet.
func (p *Pipeline) Still() (*image.NRGBA, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.display == nil || p.display.Bounds().Empty() {
		return nil, photobooth.ErrNoFrame
	}
	return raster.Clone(p.display), nil
}

// CapturePhoto encodes the displayed frame, exactly as shown, as a still
// image. It does not change the pipeline state and can be called at any time
// while running.
func (p *Pipeline) CapturePhoto(opts *CaptureOpts) ([]byte, error) {
	var o CaptureOpts
	if opts != nil {
		o = *opts
	}
	img, err := p.Still()
	if err != nil {
		return nil, err
	}
	return raster.Encode(img, o.Format, o.Quality)
}
