package photobooth

import (
	"fmt"
	"image"
)

// DetectionSmoother is a moving average filter over detection boxes, for
// smoothing out jitter between detection refreshes.
type DetectionSmoother struct {
	index  int
	count  int
	sum    [4]int
	values [][4]int
}

// NewDetectionSmoother returns a smoother with a history of given size.
func NewDetectionSmoother(size int) (*DetectionSmoother, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}
	return &DetectionSmoother{values: make([][4]int, size)}, nil
}

// Update adds one detection to the history and returns a detection with the
// averaged box. Landmarks and score are taken from det unchanged. A nil
// detection resets the history and returns nil: a lost face should not be
// dragged along by stale boxes.
func (s *DetectionSmoother) Update(det *Detection) (*Detection, error) {
	if s.values == nil {
		return nil, fmt.Errorf("invalid smoother, use NewDetectionSmoother")
	}
	if det == nil {
		s.Reset()
		return nil, nil
	}

	v := [4]int{det.Box.Min.X, det.Box.Min.Y, det.Box.Max.X, det.Box.Max.Y}
	if s.count == len(s.values) {
		old := s.values[s.index]
		for i := range s.sum {
			s.sum[i] -= old[i]
		}
	} else {
		s.count++
	}
	for i := range s.sum {
		s.sum[i] += v[i]
	}
	s.values[s.index] = v
	s.index++
	if s.index >= len(s.values) {
		s.index = 0
	}

	avg := func(i int) int {
		return (s.sum[i] + s.count/2) / s.count
	}
	r := *det
	r.Box = image.Rect(avg(0), avg(1), avg(2), avg(3))
	return &r, nil
}

// Reset clears the history.
func (s *DetectionSmoother) Reset() {
	s.index = 0
	s.count = 0
	s.sum = [4]int{}
}
