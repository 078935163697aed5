package facedetect

import (
	"errors"
	"image"
	"testing"

	pigo "github.com/esimov/pigo/core"

	photobooth "github.com/snapbooth/photobooth-go"
)

func TestBest(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)
	dets := []pigo.Detection{
		{Row: 50, Col: 50, Scale: 40, Q: 3},
		{Row: 40, Col: 120, Scale: 40, Q: 9},
		{Row: 50, Col: 190, Scale: 40, Q: 7},
	}

	det := best(dets, 5, bounds)
	if det == nil {
		t.Fatalf("no detection")
	}
	if exp := image.Rect(100, 20, 140, 60); det.Box != exp {
		t.Fatalf("box, got %v, expected %v", det.Box, exp)
	}
	if det.Score != 9 || len(det.Landmarks) != 2 {
		t.Fatalf("detection, got %+v", det)
	}
	if l, r := det.Landmarks[0], det.Landmarks[1]; l.X >= r.X || l.Y != r.Y || l.Y >= 40 {
		t.Fatalf("eye landmarks, got %v", det.Landmarks)
	}

	if det := best(dets, 10, bounds); det != nil {
		t.Fatalf("detection below minimum score: %+v", det)
	}

	// Faces at the edge are clipped to the frame.
	det = best(dets[2:], 5, bounds)
	if det.Box.Max.X != 200 {
		t.Fatalf("clipped box, got %v", det.Box)
	}
}

func TestLoadMissingCascade(t *testing.T) {
	_, err := Load("/does/not/exist/facefinder", nil)
	if !errors.Is(err, photobooth.ErrDetectionUnavailable) {
		t.Fatalf("expected ErrDetectionUnavailable, got %v", err)
	}
	_, err = New([]byte("not a cascade"), nil)
	if !errors.Is(err, photobooth.ErrDetectionUnavailable) {
		t.Fatalf("expected ErrDetectionUnavailable for bad cascade, got %v", err)
	}
}
