package pipeline

import (
	"sync"
	"time"

	"github.com/snapbooth/photobooth-go/camera"
)

// Handle identifies a scheduled tick.
type Handle uint64

// Scheduler runs a tick once, later. The pipeline schedules its next tick at
// the end of each tick, so at most one tick is pending at a time.
type Scheduler interface {
	Schedule(tick func()) Handle

	// Cancel prevents a scheduled tick from running. Cancelling a tick that
	// already ran, or an unknown handle, does nothing.
	Cancel(h Handle)
}

// DefaultInterval is the tick interval of an IntervalScheduler without one,
// about one display refresh.
const DefaultInterval = 33 * time.Millisecond

// IntervalScheduler runs ticks after a fixed delay, like a display refresh
// callback.
type IntervalScheduler struct {
	Interval time.Duration

	mu     sync.Mutex
	last   Handle
	timers map[Handle]*time.Timer
}

// Check that IntervalScheduler implements interface Scheduler.
var _ Scheduler = (*IntervalScheduler)(nil)

// Schedule implements Scheduler.
func (s *IntervalScheduler) Schedule(tick func()) Handle {
	d := s.Interval
	if d <= 0 {
		d = DefaultInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers == nil {
		s.timers = map[Handle]*time.Timer{}
	}
	s.last++
	h := s.last
	s.timers[h] = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, ok := s.timers[h]
		delete(s.timers, h)
		s.mu.Unlock()
		if ok {
			tick()
		}
	})
	return h
}

// Cancel implements Scheduler.
func (s *IntervalScheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
	}
}

// FrameScheduler runs ticks when the camera delivers its next frame.
type FrameScheduler struct {
	Stream *camera.Stream

	mu      sync.Mutex
	last    Handle
	pending map[Handle]chan struct{}
}

// Check that FrameScheduler implements interface Scheduler.
var _ Scheduler = (*FrameScheduler)(nil)

// Schedule implements Scheduler.
func (s *FrameScheduler) Schedule(tick func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = map[Handle]chan struct{}{}
	}
	s.last++
	h := s.last
	cancel := make(chan struct{})
	s.pending[h] = cancel
	next := s.Stream.NextFrame()

	go func() {
		select {
		case <-next:
		case <-cancel:
			return
		case <-s.Stream.Done():
			s.forget(h)
			return
		}
		if s.forget(h) {
			tick()
		}
	}()
	return h
}

// forget removes h and reports whether it was still pending.
func (s *FrameScheduler) forget(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[h]
	delete(s.pending, h)
	return ok
}

// Cancel implements Scheduler.
func (s *FrameScheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.pending[h]; ok {
		close(c)
		delete(s.pending, h)
	}
}

// NewScheduler returns the scheduler for a pipeline reading from stream.
type NewScheduler func(stream *camera.Stream) Scheduler

// FrameSchedulers ticks on every camera frame.
func FrameSchedulers(stream *camera.Stream) Scheduler {
	return &FrameScheduler{Stream: stream}
}

// IntervalSchedulers returns a NewScheduler ticking every interval,
// independent of the camera frame rate.
func IntervalSchedulers(interval time.Duration) NewScheduler {
	return func(*camera.Stream) Scheduler {
		return &IntervalScheduler{Interval: interval}
	}
}
