package filter

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/raster"
)

// BoxBlur averages each pixel over a Size×Size window. Size is rounded up to
// the next odd number. A border of Size/2 pixels is copied unchanged.
type BoxBlur struct {
	Size int
}

// Apply implements Filter.
func (b BoxBlur) Apply(src *image.NRGBA, _ *photobooth.Detection) *image.NRGBA {
	k := b.Size
	if k <= 1 {
		return src
	}
	if k%2 == 0 {
		k++
	}
	half := k / 2
	snap := imaging.Clone(src)
	out := imaging.Clone(snap)
	w, h := snap.Rect.Dx(), snap.Rect.Dy()
	n := float64(k * k)

	for y := half; y < h-half; y++ {
		for x := half; x < w-half; x++ {
			var r, g, bl int
			for dy := -half; dy <= half; dy++ {
				row := snap.PixOffset(x-half, y+dy)
				for dx := 0; dx < k; dx++ {
					p := snap.Pix[row+dx*4 : row+dx*4+3 : row+dx*4+3]
					r += int(p[0])
					g += int(p[1])
					bl += int(p[2])
				}
			}
			i := out.PixOffset(x, y)
			out.Pix[i] = raster.Clamp(float64(r) / n)
			out.Pix[i+1] = raster.Clamp(float64(g) / n)
			out.Pix[i+2] = raster.Clamp(float64(bl) / n)
		}
	}
	return out
}

// Soften blends every pixel 50/50 with the average of its eight neighbours,
// Passes times. The outermost pixel ring is copied unchanged.
type Soften struct {
	Passes int
}

// Apply implements Filter.
func (s Soften) Apply(src *image.NRGBA, _ *photobooth.Detection) *image.NRGBA {
	if s.Passes <= 0 {
		return src
	}
	out := imaging.Clone(src)
	for i := 0; i < s.Passes; i++ {
		out = soften(out)
	}
	return out
}

func soften(snap *image.NRGBA) *image.NRGBA {
	out := imaging.Clone(snap)
	w, h := snap.Rect.Dx(), snap.Rect.Dy()
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := snap.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				sum := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						sum += int(snap.Pix[i+dy*snap.Stride+dx*4+c])
					}
				}
				out.Pix[i+c] = raster.Clamp(float64(snap.Pix[i+c])*0.5 + float64(sum)/16)
			}
		}
	}
	return out
}

// MaxSharpenStrength caps the sharpen strength.
const MaxSharpenStrength = 1.5

// SharpenStrength maps a sharpness amount to the sharpen strength.
func SharpenStrength(amount float64) float64 {
	return math.Min(MaxSharpenStrength, 0.2*amount)
}

// Sharpen boosts each pixel against the average of its four neighbours:
// out = c*(1+4s) - s*(n+s+e+w), with s = SharpenStrength(amount). An amount
// of zero or less returns src itself. The outermost pixel ring is unchanged.
func Sharpen(src *image.NRGBA, amount float64) *image.NRGBA {
	if amount <= 0 {
		return src
	}
	s := SharpenStrength(amount)
	snap := imaging.Clone(src)
	out := imaging.Clone(snap)
	w, h := snap.Rect.Dx(), snap.Rect.Dy()
	stride := snap.Stride

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := snap.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				center := float64(snap.Pix[i+c])
				around := float64(snap.Pix[i-stride+c]) + float64(snap.Pix[i+stride+c]) +
					float64(snap.Pix[i-4+c]) + float64(snap.Pix[i+4+c])
				out.Pix[i+c] = raster.Clamp(center*(1+4*s) - s*around)
			}
		}
	}
	return out
}

// SharpenFilter is Sharpen with a fixed amount, as a Filter.
type SharpenFilter struct {
	Amount float64
}

// Apply implements Filter.
func (f SharpenFilter) Apply(src *image.NRGBA, _ *photobooth.Detection) *image.NRGBA {
	return Sharpen(src, f.Amount)
}
