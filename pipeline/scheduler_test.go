package pipeline

import (
	"image/color"
	"testing"
	"time"

	"github.com/snapbooth/photobooth-go/camera"
	"github.com/snapbooth/photobooth-go/raster"
)

func TestIntervalScheduler(t *testing.T) {
	s := &IntervalScheduler{Interval: time.Millisecond}
	ran := make(chan struct{}, 1)
	s.Schedule(func() { ran <- struct{}{} })
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("tick did not run")
	}

	s = &IntervalScheduler{Interval: 20 * time.Millisecond}
	h := s.Schedule(func() { ran <- struct{}{} })
	s.Cancel(h)
	select {
	case <-ran:
		t.Fatalf("cancelled tick ran")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFrameScheduler(t *testing.T) {
	stream := camera.NewStream(camera.NewStill(raster.New(4, 4, color.White), time.Millisecond), nil)
	s := &FrameScheduler{Stream: stream}

	ran := make(chan struct{}, 1)
	s.Schedule(func() { ran <- struct{}{} })
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("tick did not run on next frame")
	}

	stream.Close()
	h := s.Schedule(func() { ran <- struct{}{} })
	s.Cancel(h)
	select {
	case <-ran:
		t.Fatalf("tick ran after cancel on closed stream")
	case <-time.After(50 * time.Millisecond):
	}
}
