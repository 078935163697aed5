// Package facedetect implements an in-process face detector with the pigo
// pixel intensity comparison cascade.
package facedetect

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
	"go.uber.org/zap"

	photobooth "github.com/snapbooth/photobooth-go"
)

// Opts are cascade parameters. Zero fields get defaults.
type Opts struct {
	Logger *zap.Logger

	MinSize     int     // Minimum face size in pixels, 60 by default.
	MaxSize     int     // Maximum face size in pixels, the smaller frame dimension by default.
	ShiftFactor float64 // Sliding window shift, 0.1 by default.
	ScaleFactor float64 // Scale step between window sizes, 1.1 by default.
	Angle       float64 // Cascade rotation, 0 to 1 for 0 to 2π.
	IoU         float64 // Clustering threshold, 0.2 by default.
	MinScore    float64 // Minimum detection quality, 5 by default.
}

func (o *Opts) setDefaults() {
	if o.MinSize <= 0 {
		o.MinSize = 60
	}
	if o.ShiftFactor <= 0 {
		o.ShiftFactor = 0.1
	}
	if o.ScaleFactor <= 1 {
		o.ScaleFactor = 1.1
	}
	if o.IoU <= 0 {
		o.IoU = 0.2
	}
	if o.MinScore <= 0 {
		o.MinScore = 5
	}
}

// Pigo is a photobooth.Detector running a pigo face cascade.
type Pigo struct {
	classifier *pigo.Pigo
	opts       Opts
	log        *zap.Logger
}

// Ensure that Pigo implements interface Detector.
var _ photobooth.Detector = (*Pigo)(nil)

// New unpacks a pigo face cascade.
func New(cascade []byte, opts *Opts) (detector *Pigo, rerr error) {
	d := &Pigo{}
	if opts != nil {
		d.opts = *opts
	}
	d.opts.setDefaults()
	d.log = photobooth.LoggerOrNop(d.opts.Logger)

	// Unpack indexes the data without bounds checks and panics on short input.
	defer func() {
		if x := recover(); x != nil {
			detector = nil
			rerr = fmt.Errorf("%w: unpacking cascade: %v", photobooth.ErrDetectionUnavailable, x)
		}
	}()
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking cascade: %v", photobooth.ErrDetectionUnavailable, err)
	}
	d.classifier = classifier
	return d, nil
}

// Load reads the cascade file at path and unpacks it.
func Load(path string, opts *Opts) (*Pigo, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading cascade: %v", photobooth.ErrDetectionUnavailable, err)
	}
	return New(buf, opts)
}

// Detect returns the best scoring face in img, nil if there is none.
func (d *Pigo) Detect(ctx context.Context, img *image.NRGBA) (*photobooth.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	cols, rows := b.Dx(), b.Dy()
	maxSize := d.opts.MaxSize
	if maxSize <= 0 {
		maxSize = min(cols, rows)
	}
	params := pigo.CascadeParams{
		MinSize:     d.opts.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: d.opts.ShiftFactor,
		ScaleFactor: d.opts.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(img),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}
	dets := d.classifier.RunCascade(params, d.opts.Angle)
	dets = d.classifier.ClusterDetections(dets, d.opts.IoU)
	return best(dets, d.opts.MinScore, b), nil
}

// best converts the highest quality detection above minScore, clipped to
// bounds.
func best(dets []pigo.Detection, minScore float64, bounds image.Rectangle) *photobooth.Detection {
	var top *pigo.Detection
	for i := range dets {
		det := &dets[i]
		if float64(det.Q) < minScore {
			continue
		}
		if top == nil || det.Q > top.Q {
			top = det
		}
	}
	if top == nil {
		return nil
	}

	half := top.Scale / 2
	center := bounds.Min.Add(image.Point{top.Col, top.Row})
	box := image.Rectangle{
		Min: center.Sub(image.Point{half, half}),
		Max: center.Add(image.Point{half, half}),
	}.Intersect(bounds)
	if box.Empty() {
		return nil
	}
	return &photobooth.Detection{
		Box:       box,
		Landmarks: eyes(center, top.Scale),
		Score:     float64(top.Q),
	}
}

// eyes estimates the eye positions of a frontal face of the given size
// centered at c: left and right of the vertical axis, above the center.
func eyes(c image.Point, size int) []image.Point {
	dx := size * 3 / 16
	dy := size / 8
	return []image.Point{
		{c.X - dx, c.Y - dy},
		{c.X + dx, c.Y - dy},
	}
}

// Close implements photobooth.Detector. The cascade holds no resources.
func (d *Pigo) Close() error {
	return nil
}
