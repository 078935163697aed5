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

// Policy is how photos are sized into their cells.
type Policy int

// Policies.
const (
	// Cover scales each photo to fill its cell and crops the overflow
	// around the center.
	Cover Policy = iota

	// Fit grows the cells so the widest and the tallest photo fit, and
	// scales each photo to fit inside its cell, centered.
	Fit
)

func (p Policy) String() string {
	if p == Fit {
		return "fit"
	}
	return "cover"
}

// ParsePolicy parses "cover" or "fit". The empty string is Cover.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "cover":
		return Cover, nil
	case "fit":
		return Fit, nil
	}
	return Cover, fmt.Errorf("unknown layout policy %q", s)
}

// Layout defaults.
const (
	DefaultDPI = 300
	DefaultGap = 5 // Pixels around and between cells.

	// Spacing between cells used for the Fit cell size.
	fitSpacingInches = 0.1
)

// Opts are options for Layout.
type Opts struct {
	DPI    int // DefaultDPI if 0.
	Gap    int // Pixels around and between cells.
	Policy Policy
}

// DefaultOpts returns the options used when Layout gets nil options.
func DefaultOpts() *Opts {
	return &Opts{DPI: DefaultDPI, Gap: DefaultGap, Policy: Cover}
}

func (o *Opts) dpi() int {
	if o.DPI <= 0 {
		return DefaultDPI
	}
	return o.DPI
}

// Layout composes photos into grid g on a white canvas. Photo i goes to
// column i/rows, row i%rows, filling columns top to bottom. The canvas is
// gap + cols*(cellW+gap) by gap + rows*(cellH+gap) pixels.
//
// The strip grid is built by Strip. Layout returns an error matching
// photobooth.ErrInvalidPhotoCount or photobooth.ErrInvalidGridSpec, and no
// image, if the photos do not match the grid.
func Layout(photos []image.Image, g GridSpec, opts *Opts) (*image.NRGBA, error) {
	if opts == nil {
		opts = DefaultOpts()
	}
	if g.IsStrip() {
		return Strip(photos, opts.dpi())
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := checkPhotos(photos, g.TotalCells()); err != nil {
		return nil, err
	}

	gap := max(opts.Gap, 0)
	var cell image.Point
	if opts.Policy == Fit {
		cell = fitCell(photos, g, opts.dpi())
	} else {
		cell = coverCell(g, opts.dpi(), gap)
	}
	if cell.X <= 0 || cell.Y <= 0 {
		return nil, fmt.Errorf("%w: %dx%d cells do not fit the page", photobooth.ErrInvalidGridSpec, g.Cols, g.Rows)
	}

	w := gap + g.Cols*(cell.X+gap)
	h := gap + g.Rows*(cell.Y+gap)
	canvas := raster.New(w, h, raster.White)
	for i, photo := range photos {
		row, col := i%g.Rows, i/g.Rows
		r := image.Rectangle{Min: image.Point{gap + col*(cell.X+gap), gap + row*(cell.Y+gap)}}
		r.Max = r.Min.Add(cell)
		if opts.Policy == Fit {
			drawContained(canvas, r, photo)
		} else {
			drawCovered(canvas, r, photo)
		}
	}
	return canvas, nil
}

func checkPhotos(photos []image.Image, n int) error {
	if len(photos) != n {
		return fmt.Errorf("%w: expected %d photos, got %d", photobooth.ErrInvalidPhotoCount, n, len(photos))
	}
	for i, p := range photos {
		if p == nil || p.Bounds().Empty() {
			return fmt.Errorf("%w: photo %d is empty", photobooth.ErrAssetLoad, i)
		}
	}
	return nil
}

// coverCell divides the page into equal cells after taking off the gaps.
func coverCell(g GridSpec, dpi, gap int) image.Point {
	page := PageSizeFor(g)
	w := Pixels(page.WidthInches, dpi)
	h := Pixels(page.HeightInches, dpi)
	return image.Point{
		X: (w - gap*(g.Cols+1)) / g.Cols,
		Y: (h - gap*(g.Rows+1)) / g.Rows,
	}
}

// fitCell starts from the largest square cell that fits the page with 0.1
// inch spacing, and widens or heightens it for the widest and tallest photo.
func fitCell(photos []image.Image, g GridSpec, dpi int) image.Point {
	page := PageSizeFor(g)
	availW := page.WidthInches - fitSpacingInches*float64(g.Cols-1)
	availH := page.HeightInches - fitSpacingInches*float64(g.Rows-1)
	base := math.Min(availW/float64(g.Cols), availH/float64(g.Rows))

	wide, tall := 1.0, 1.0
	for _, p := range photos {
		s := p.Bounds().Size()
		aspect := float64(s.X) / float64(s.Y)
		wide = math.Max(wide, aspect)
		tall = math.Max(tall, 1/aspect)
	}
	return image.Point{Pixels(base*wide, dpi), Pixels(base*tall, dpi)}
}

// drawCovered scales img to cover r, crops around the center and draws it.
func drawCovered(dst *image.NRGBA, r image.Rectangle, img image.Image) {
	filled := imaging.Fill(img, r.Dx(), r.Dy(), imaging.Center, imaging.Lanczos)
	draw.Draw(dst, r, filled, filled.Bounds().Min, draw.Over)
}

// containSize returns the largest size with the aspect ratio of src that fits
// in box, at least one pixel in each dimension.
func containSize(src, box image.Point) image.Point {
	srcAspect := float64(src.X) / float64(src.Y)
	boxAspect := float64(box.X) / float64(box.Y)
	var w, h float64
	if srcAspect > boxAspect {
		w = float64(box.X)
		h = w / srcAspect
	} else {
		h = float64(box.Y)
		w = h * srcAspect
	}
	return image.Point{max(int(math.Round(w)), 1), max(int(math.Round(h)), 1)}
}

// drawContained scales img to fit in r, up or down, and draws it centered.
func drawContained(dst *image.NRGBA, r image.Rectangle, img image.Image) {
	size := containSize(img.Bounds().Size(), r.Size())
	scaled := imaging.Resize(img, size.X, size.Y, imaging.Lanczos)
	at := r.Min.Add(r.Size().Sub(size).Div(2))
	draw.Draw(dst, image.Rectangle{Min: at, Max: at.Add(size)}.Intersect(r), scaled, scaled.Bounds().Min, draw.Over)
}

// Strip lays out four photos on a 2x6 inch strip, each fitted to a quarter
// of its height, and prints the strip twice side by side on a 4x6 inch
// canvas.
func Strip(photos []image.Image, dpi int) (*image.NRGBA, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if err := checkPhotos(photos, StripCells); err != nil {
		return nil, err
	}
	strip := raster.New(Pixels(stripWidthInches, dpi), Pixels(stripHeightInches, dpi), raster.White)
	cellW := strip.Rect.Dx()
	cellH := Pixels(stripHeightInches/StripCells, dpi)
	for i, photo := range photos {
		r := image.Rect(0, i*cellH, cellW, (i+1)*cellH)
		drawContained(strip, r, photo)
	}
	return duplicateStrip(strip, dpi), nil
}

const (
	stripWidthInches  = 2
	stripHeightInches = 6
	pageWidthInches   = 4
	pageHeightInches  = 6
)

// duplicateStrip draws strip at x=0 and x=stripWidth of a white 4x6 canvas.
func duplicateStrip(strip *image.NRGBA, dpi int) *image.NRGBA {
	canvas := raster.New(Pixels(pageWidthInches, dpi), Pixels(pageHeightInches, dpi), raster.White)
	sw := Pixels(stripWidthInches, dpi)
	for _, x := range []int{0, sw} {
		r := image.Rectangle{Min: image.Point{x, 0}, Max: image.Point{x, 0}.Add(strip.Rect.Size())}
		draw.Draw(canvas, r, strip, strip.Rect.Min, draw.Src)
	}
	return canvas
}

// ExtractStrip returns the left 2x6 inch strip of a strip composite.
func ExtractStrip(composite image.Image, dpi int) (*image.NRGBA, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if composite == nil || composite.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty composite", photobooth.ErrAssetLoad)
	}
	strip := raster.New(Pixels(stripWidthInches, dpi), Pixels(stripHeightInches, dpi), raster.White)
	b := composite.Bounds()
	draw.Draw(strip, strip.Rect, composite, b.Min, draw.Src)
	return strip, nil
}
