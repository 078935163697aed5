package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// Still is a Recorder that repeats a single frame. It stands in for a camera
// when running without one, and in tests.
type Still struct {
	frame  *image.NRGBA
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// Check that Still implements interface Recorder.
var _ Recorder = (*Still)(nil)

// NewStill starts sending frame every interval. The frame is shared between
// events and must not be modified.
func NewStill(frame *image.NRGBA, interval time.Duration) *Still {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Still{
		frame:  frame,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case s.events <- Event{Frame: s.frame}:
			case <-s.done:
				return
			}
			select {
			case <-t.C:
			case <-s.done:
				return
			}
		}
	}()
	return s
}

// Events returns a channel on which Events can be received.
func (s *Still) Events() chan Event {
	return s.events
}

// Close stops sending frames.
func (s *Still) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// StillOpener returns an Opener that decodes the image at path and repeats
// it. The constraints' Width and Height, if set, resize the image to fill.
func StillOpener(path string) Opener {
	return func(ctx context.Context, c Constraints) (Recorder, error) {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, Unavailable(fmt.Errorf("opening still %s: %v", path, err))
		}
		frame := imaging.Clone(img)
		if c.Width > 0 && c.Height > 0 {
			frame = imaging.Fill(frame, c.Width, c.Height, imaging.Center, imaging.Linear)
		}
		return NewStill(frame, c.Interval), nil
	}
}
