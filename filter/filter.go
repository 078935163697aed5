// Package filter implements the pixel filters applied to camera frames, and
// the registry that maps filter IDs to implementations.
//
// Filters never modify their source frame; they return a new frame, or the
// source itself if they have nothing to do. A filter that panics halfway
// therefore leaves the frame it was given intact.
package filter

import (
	"fmt"
	"image"
	"strings"
	"unicode"

	photobooth "github.com/snapbooth/photobooth-go"
)

// Filter transforms a frame. det is the most recent face detection, possibly
// stale, and nil if no face is known.
type Filter interface {
	Apply(src *image.NRGBA, det *photobooth.Detection) *image.NRGBA
}

// Func adapts a function to the Filter interface.
type Func func(src *image.NRGBA, det *photobooth.Detection) *image.NRGBA

// Apply calls f.
func (f Func) Apply(src *image.NRGBA, det *photobooth.Detection) *image.NRGBA {
	return f(src, det)
}

// Identity returns its input unchanged.
var Identity Filter = Func(func(src *image.NRGBA, _ *photobooth.Detection) *image.NRGBA {
	return src
})

// ID names a registered filter.
type ID string

// Filter IDs. The first group is the base set, the second the premium set.
const (
	None                 ID = "none"
	SmoothSkin           ID = "smoothSkin"
	Whitening            ID = "whitening"
	EyeEnlarge           ID = "eyeEnlarge"
	FaceSlim             ID = "faceSlim"
	HDRBoost             ID = "hdrBoost"
	ColorPop             ID = "colorPop"
	WarmTone             ID = "warmTone"
	CoolTone             ID = "coolTone"
	AnimeSmooth          ID = "animeSmooth"
	BeautyGlow           ID = "beautyGlow"
	BrightPop            ID = "brightPop"
	BrownMoody           ID = "brownMoody"
	DreamBlur            ID = "dreamBlur"
	SkinSoftProfessional ID = "skinSoftProfessional"
	SharpenDetail        ID = "sharpenDetail"
	SoftPink             ID = "softPink"
	LUTVintage           ID = "lutVintage"
	LUTCinematic         ID = "lutCinematic"
	LUTTealOrange        ID = "lutTealOrange"
)

type entry struct {
	id     ID
	filter Filter
}

var registry = []entry{
	{None, Identity},
	{SmoothSkin, Soften{Passes: 2}},
	{Whitening, Shift(12, 12, 12)},
	{EyeEnlarge, ScaleAround{SX: 1.04, SY: 1.04}},
	{FaceSlim, ScaleAround{SX: 0.97, SY: 1.00}},
	{HDRBoost, Affine{Scale: [3]float64{1.12, 1.12, 1.12}, Offset: [3]float64{-12, -12, -12}}},
	{ColorPop, Affine{Scale: [3]float64{1.1, 1.05, 1.1}}},
	{WarmTone, Shift(10, 5, 0)},
	{CoolTone, Shift(0, 0, 14)},

	{AnimeSmooth, Affine{Scale: [3]float64{1.1, 1.1, 1.15}, Offset: [3]float64{10, 10, 20}}},
	{BeautyGlow, Affine{Scale: [3]float64{1.1, 1.05, 1.05}, Offset: [3]float64{10, 5, 5}}},
	{BrightPop, Affine{Scale: [3]float64{1.2, 1.15, 1.15}}},
	{BrownMoody, Affine{Scale: [3]float64{0.85, 0.75, 0.6}}},
	{DreamBlur, BoxBlur{Size: 15}},
	{SkinSoftProfessional, Soften{Passes: 1}},
	{SharpenDetail, Affine{Scale: [3]float64{1.15, 1.1, 1.1}}},
	{SoftPink, Shift(10, -5, 20)},
	{LUTVintage, LUT("vintage")},
	{LUTCinematic, LUT("cinematic")},
	{LUTTealOrange, LUT("tealOrange")},
}

var byID = func() map[ID]Filter {
	m := make(map[ID]Filter, len(registry))
	for _, e := range registry {
		m[e.id] = e.filter
	}
	return m
}()

// Lookup returns the filter registered under id. Unknown IDs resolve to
// Identity, so a bad selection never stops the render loop.
func Lookup(id ID) Filter {
	if f, ok := byID[id]; ok {
		return f
	}
	return Identity
}

// Known reports whether id is registered.
func Known(id ID) bool {
	_, ok := byID[id]
	return ok
}

// IDs returns all registered filter IDs in registry order.
func IDs() []ID {
	ids := make([]ID, len(registry))
	for i, e := range registry {
		ids[i] = e.id
	}
	return ids
}

// Label returns a display label for id, e.g. "Skin Soft Professional".
func Label(id ID) string {
	var b strings.Builder
	for i, r := range string(id) {
		if i == 0 {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		if unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Run applies f to src, turning a panic inside the filter into a
// *photobooth.FilterError. On error, src is returned unchanged.
func Run(id ID, f Filter, src *image.NRGBA, det *photobooth.Detection) (out *image.NRGBA, rerr error) {
	defer func() {
		if x := recover(); x != nil {
			err, ok := x.(error)
			if !ok {
				err = fmt.Errorf("%v", x)
			}
			out = src
			rerr = &photobooth.FilterError{Filter: string(id), Err: err}
		}
	}()
	out = f.Apply(src, det)
	if out == nil {
		return src, &photobooth.FilterError{Filter: string(id), Err: fmt.Errorf("filter returned no frame")}
	}
	return out, nil
}
