// Package raster has helpers for the RGBA frames passed between the camera
// pipeline, the filters and the composite engine. A frame is an
// *image.NRGBA: four 8-bit channels per pixel.
package raster

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// White is the opaque background used for composites and previews.
var White = color.NRGBA{0xff, 0xff, 0xff, 0xff}

// New returns a w×h frame filled with c.
func New(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

// Clone returns a copy of img as an NRGBA frame with bounds starting at (0,0).
func Clone(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// Clamp rounds v to the nearest integer and clamps it to [0,255].
func Clamp(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// CopyInto copies src into dst, reallocating dst if the sizes differ. It
// returns the (possibly new) destination.
func CopyInto(dst, src *image.NRGBA) *image.NRGBA {
	size := src.Bounds().Size()
	if dst == nil || dst.Bounds().Size() != size {
		dst = image.NewNRGBA(image.Rectangle{Max: size})
	}
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

// Equal reports whether a and b have the same size and identical pixels.
func Equal(a, b image.Image) bool {
	if a.Bounds().Size() != b.Bounds().Size() {
		return false
	}
	na, nb := Clone(a), Clone(b)
	for i := range na.Pix {
		if na.Pix[i] != nb.Pix[i] {
			return false
		}
	}
	return true
}

// Uniform reports whether every pixel of img inside r equals c.
func Uniform(img *image.NRGBA, r image.Rectangle, c color.NRGBA) bool {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.NRGBAAt(x, y) != c {
				return false
			}
		}
	}
	return true
}
