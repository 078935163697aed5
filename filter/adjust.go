package filter

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/snapbooth/photobooth-go/raster"
)

// Adjustments are the user controlled image adjustments. Brightness,
// Contrast and Saturation are multipliers where 1 means unchanged; Sharpness
// is a sharpen amount where 0 disables sharpening.
type Adjustments struct {
	Brightness float64 `json:"brightness" mapstructure:"brightness"`
	Contrast   float64 `json:"contrast" mapstructure:"contrast"`
	Saturation float64 `json:"saturation" mapstructure:"saturation"`
	Sharpness  float64 `json:"sharpness" mapstructure:"sharpness"`
}

// DefaultAdjustments leave the frame unchanged.
var DefaultAdjustments = Adjustments{Brightness: 1, Contrast: 1, Saturation: 1, Sharpness: 0}

// Adjustment ranges.
const (
	MaxLinear    = 2
	MaxSharpness = 5
)

func clampRange(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// Clamped returns a with every field clamped to its range.
func (a Adjustments) Clamped() Adjustments {
	return Adjustments{
		Brightness: clampRange(a.Brightness, MaxLinear),
		Contrast:   clampRange(a.Contrast, MaxLinear),
		Saturation: clampRange(a.Saturation, MaxLinear),
		Sharpness:  clampRange(a.Sharpness, MaxSharpness),
	}
}

// IsIdentity reports whether the brightness, contrast and saturation part of
// a leaves pixels unchanged. Sharpness is not considered.
func (a Adjustments) IsIdentity() bool {
	return a.Brightness == 1 && a.Contrast == 1 && a.Saturation == 1
}

// AdjustmentsUpdate is a partial update; nil fields are left as they are.
type AdjustmentsUpdate struct {
	Brightness *float64 `json:"brightness,omitempty"`
	Contrast   *float64 `json:"contrast,omitempty"`
	Saturation *float64 `json:"saturation,omitempty"`
	Sharpness  *float64 `json:"sharpness,omitempty"`
}

// Merge returns a with the fields set in u replaced, clamped.
func (a Adjustments) Merge(u AdjustmentsUpdate) Adjustments {
	if u.Brightness != nil {
		a.Brightness = *u.Brightness
	}
	if u.Contrast != nil {
		a.Contrast = *u.Contrast
	}
	if u.Saturation != nil {
		a.Saturation = *u.Saturation
	}
	if u.Sharpness != nil {
		a.Sharpness = *u.Sharpness
	}
	return a.Clamped()
}

// Apply draws img into a new frame, applying brightness, then contrast, then
// saturation in one pass. Each step clamps to [0,255] like the equivalent CSS
// filter chain.
func (a Adjustments) Apply(img image.Image) *image.NRGBA {
	if a.IsIdentity() {
		return imaging.Clone(img)
	}
	m := saturateMatrix(a.Saturation)
	b, c := a.Brightness, a.Contrast
	return imaging.AdjustFunc(img, func(px color.NRGBA) color.NRGBA {
		var v [3]float64
		for i, ch := range [3]uint8{px.R, px.G, px.B} {
			x := clampRange(float64(ch)*b, 255)
			v[i] = clampRange(x*c+127.5*(1-c), 255)
		}
		return color.NRGBA{
			R: raster.Clamp(m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2]),
			G: raster.Clamp(m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2]),
			B: raster.Clamp(m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2]),
			A: px.A,
		}
	})
}

// saturateMatrix is the color matrix of the CSS saturate() filter.
func saturateMatrix(s float64) [3][3]float64 {
	if s == 1 {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	return [3][3]float64{
		{0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s},
	}
}
