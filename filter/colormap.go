package filter

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/raster"
)

// Affine is a global color map: each of R, G and B is multiplied by its
// Scale and shifted by its Offset, then clamped to [0,255]. Alpha is kept.
type Affine struct {
	Scale  [3]float64
	Offset [3]float64
}

// Shift returns an Affine that only adds offsets.
func Shift(r, g, b float64) Affine {
	return Affine{Scale: [3]float64{1, 1, 1}, Offset: [3]float64{r, g, b}}
}

// Map returns the mapped color for c.
func (a Affine) Map(c color.NRGBA) color.NRGBA {
	return color.NRGBA{
		R: raster.Clamp(float64(c.R)*a.Scale[0] + a.Offset[0]),
		G: raster.Clamp(float64(c.G)*a.Scale[1] + a.Offset[1]),
		B: raster.Clamp(float64(c.B)*a.Scale[2] + a.Offset[2]),
		A: c.A,
	}
}

// Apply implements Filter.
func (a Affine) Apply(src *image.NRGBA, _ *photobooth.Detection) *image.NRGBA {
	return imaging.AdjustFunc(src, a.Map)
}

var luts = map[string]Affine{
	"vintage":    {Scale: [3]float64{0.9, 0.85, 0.7}, Offset: [3]float64{20, 10, 30}},
	"cinematic":  {Scale: [3]float64{1.05, 0.95, 0.9}},
	"tealOrange": {Scale: [3]float64{0.9, 0.85, 1.05}, Offset: [3]float64{20, 10, 0}},
}

// DefaultLUT is used for unknown LUT names.
const DefaultLUT = "vintage"

// LUT returns the named color lookup preset, or the DefaultLUT preset if the
// name is not known.
func LUT(name string) Affine {
	if a, ok := luts[name]; ok {
		return a
	}
	return luts[DefaultLUT]
}
