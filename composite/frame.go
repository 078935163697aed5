package composite

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/raster"
)

// Mode selects the canvas size of a framed composite.
type Mode int

// Modes.
const (
	// CompositeSize uses the composite size plus the frame margin, with the
	// frame stretched over the whole canvas.
	CompositeSize Mode = iota

	// FrameSize uses the frame's own size plus the frame margin, with the
	// composite fitted to the frame size and placed per Alignment.
	FrameSize
)

func (m Mode) String() string {
	if m == FrameSize {
		return "frame-size"
	}
	return "composite-size"
}

// ParseMode parses "composite-size" or "frame-size". The empty string is
// CompositeSize.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "composite-size":
		return CompositeSize, nil
	case "frame-size":
		return FrameSize, nil
	}
	return CompositeSize, fmt.Errorf("unknown frame mode %q", s)
}

// Alignment places the composite on a FrameSize canvas.
type Alignment int

// Alignments.
const (
	Center Alignment = iota
	TopLeft
	TopCenter
	CenterLeft
)

var alignmentNames = []string{"center", "top-left", "top-center", "center-left"}

func (a Alignment) String() string {
	if a >= 0 && int(a) < len(alignmentNames) {
		return alignmentNames[a]
	}
	return fmt.Sprintf("Alignment(%d)", int(a))
}

// ParseAlignment parses an alignment name. The empty string is Center.
func ParseAlignment(s string) (Alignment, error) {
	if s == "" {
		return Center, nil
	}
	for i, name := range alignmentNames {
		if s == name {
			return Alignment(i), nil
		}
	}
	return Center, fmt.Errorf("unknown alignment %q", s)
}

// The frame margin: a frame is this much wider and taller than what it
// frames.
const (
	marginWidthInches  = 0.5
	marginHeightInches = 0.7
)

// Margin returns the frame margin in pixels at dpi.
func Margin(dpi int) image.Point {
	return image.Point{Pixels(marginWidthInches, dpi), Pixels(marginHeightInches, dpi)}
}

// FrameOpts are options for MergeFrame.
type FrameOpts struct {
	Mode      Mode
	Alignment Alignment // FrameSize only.
	DPI       int       // DefaultDPI if 0.
}

func (o *FrameOpts) dpi() int {
	if o == nil || o.DPI <= 0 {
		return DefaultDPI
	}
	return o.DPI
}

// MergeFrame draws composite on a white canvas and frame over it, so the
// frame's transparent windows show the composite. A nil frame is the "no
// frame" choice and returns a copy of composite.
func MergeFrame(composite, frame image.Image, opts *FrameOpts) (*image.NRGBA, error) {
	var o FrameOpts
	if opts != nil {
		o = *opts
	}
	if composite == nil || composite.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty composite", photobooth.ErrAssetLoad)
	}
	if frame == nil {
		return raster.Clone(composite), nil
	}
	if frame.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", photobooth.ErrAssetLoad)
	}

	margin := Margin(o.dpi())
	var canvasSize, compSize, at image.Point
	if o.Mode == FrameSize {
		fs := frame.Bounds().Size()
		canvasSize = fs.Add(margin)
		compSize = containSize(composite.Bounds().Size(), fs)
		centered := canvasSize.Sub(compSize).Div(2)
		switch o.Alignment {
		case TopLeft:
			at = margin.Div(2)
		case TopCenter:
			at = image.Point{centered.X, margin.Y / 2}
		case CenterLeft:
			at = image.Point{margin.X / 2, centered.Y}
		default:
			at = centered
		}
	} else {
		compSize = composite.Bounds().Size()
		canvasSize = compSize.Add(margin)
		at = margin.Div(2)
	}

	canvas := raster.New(canvasSize.X, canvasSize.Y, raster.White)
	comp := composite
	if compSize != composite.Bounds().Size() {
		comp = imaging.Resize(composite, compSize.X, compSize.Y, imaging.Lanczos)
	}
	draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(compSize)}, comp, comp.Bounds().Min, draw.Over)
	return overlay(canvas, frame), nil
}

// overlay stretches frame over all of canvas and alpha blends it on top.
func overlay(canvas *image.NRGBA, frame image.Image) *image.NRGBA {
	size := canvas.Rect.Size()
	if frame.Bounds().Size() != size {
		frame = imaging.Resize(frame, size.X, size.Y, imaging.Lanczos)
	}
	return imaging.Overlay(canvas, frame, image.Point{}, 1)
}

// MergeStripFrame frames a strip composite: it takes the left strip, draws
// frame stretched over it and prints the framed strip twice on a 4x6 inch
// canvas. A nil frame returns a copy of composite.
func MergeStripFrame(composite, frame image.Image, dpi int) (*image.NRGBA, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	strip, err := ExtractStrip(composite, dpi)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return raster.Clone(composite), nil
	}
	if frame.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", photobooth.ErrAssetLoad)
	}
	return duplicateStrip(overlay(strip, frame), dpi), nil
}

// ApplyFrame frames a composite made for grid g, with MergeStripFrame for
// the strip grid and MergeFrame otherwise.
func ApplyFrame(composite image.Image, g GridSpec, frame image.Image, opts *FrameOpts) (*image.NRGBA, error) {
	if g.IsStrip() {
		return MergeStripFrame(composite, frame, opts.dpi())
	}
	return MergeFrame(composite, frame, opts)
}

// Preview scales frame down to fit maxW×maxH, keeping its aspect ratio, on
// an opaque white background. Frames already small enough keep their size.
func Preview(frame image.Image, maxW, maxH int) (*image.NRGBA, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", photobooth.ErrAssetLoad)
	}
	if maxW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("invalid preview bounds %dx%d", maxW, maxH)
	}
	s := frame.Bounds().Size()
	w, h := float64(s.X), float64(s.Y)
	if w > float64(maxW) {
		h = h * float64(maxW) / w
		w = float64(maxW)
	}
	if h > float64(maxH) {
		w = w * float64(maxH) / h
		h = float64(maxH)
	}
	canvas := raster.New(max(int(math.Round(w)), 1), max(int(math.Round(h)), 1), raster.White)
	return overlay(canvas, frame), nil
}
