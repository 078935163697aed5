package filter

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	photobooth "github.com/snapbooth/photobooth-go"
)

// ScaleAround scales the frame by SX horizontally and SY vertically about the
// center of the detected face, and draws the result over the frame. It is a
// cheap stand-in for face reshaping. Without a detection the frame is
// returned as is.
type ScaleAround struct {
	SX, SY float64
}

// Apply implements Filter.
func (s ScaleAround) Apply(src *image.NRGBA, det *photobooth.Detection) *image.NRGBA {
	if det == nil || det.Box.Empty() {
		return src
	}
	b := src.Bounds()
	w := int(math.Round(float64(b.Dx()) * s.SX))
	h := int(math.Round(float64(b.Dy()) * s.SY))
	if w <= 0 || h <= 0 {
		return src
	}
	scaled := imaging.Resize(src, w, h, imaging.Linear)

	// Keep the face center fixed: c maps to c*S in the scaled frame.
	c := det.Center().Sub(b.Min)
	pos := image.Point{
		X: c.X - int(math.Round(float64(c.X)*s.SX)),
		Y: c.Y - int(math.Round(float64(c.Y)*s.SY)),
	}
	return imaging.Paste(src, scaled, pos)
}
