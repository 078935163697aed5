package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	photobooth "github.com/snapbooth/photobooth-go"
)

// ErrClosed is returned when waiting on a closed Stream.
var ErrClosed = errors.New("stream closed")

// Stream is a live camera stream. It keeps the most recent frame of a
// Recorder and signals every new frame.
type Stream struct {
	rec Recorder
	log *zap.Logger

	mu    sync.Mutex
	frame *image.NRGBA
	seq   uint64
	err   error
	next  chan struct{} // Closed when the next frame arrives.

	ready  chan struct{} // Closed on the first frame.
	failed chan struct{} // Closed when the recorder fails before the first frame.
	done   chan struct{}
	once   sync.Once
}

// NewStream starts reading frames from rec. Closing the stream closes rec.
func NewStream(rec Recorder, logger *zap.Logger) *Stream {
	s := &Stream{
		rec:   rec,
		log:   photobooth.LoggerOrNop(logger),
		next:  make(chan struct{}),
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

// Open opens a recorder with open and wraps it in a Stream. Errors match
// photobooth.ErrDeviceUnavailable.
func Open(ctx context.Context, open Opener, c Constraints, logger *zap.Logger) (*Stream, error) {
	if open == nil {
		return nil, Unavailable(fmt.Errorf("no camera backend"))
	}
	rec, err := open(ctx, c)
	if err != nil {
		return nil, Unavailable(err)
	}
	return NewStream(rec, logger), nil
}

func (s *Stream) read() {
	events := s.rec.Events()
	started, failed := false, false
	fail := func() {
		if !started && !failed {
			failed = true
			close(s.failed)
		}
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.mu.Lock()
				if s.err == nil {
					s.err = fmt.Errorf("recorder stopped")
				}
				s.mu.Unlock()
				fail()
				return
			}
			if ev.Err != nil {
				s.log.Warn("camera error", zap.Error(ev.Err))
				s.mu.Lock()
				s.err = ev.Err
				s.mu.Unlock()
				fail()
				continue
			}
			if ev.Frame == nil {
				continue
			}
			s.mu.Lock()
			first := s.frame == nil
			s.frame = ev.Frame
			s.seq++
			close(s.next)
			s.next = make(chan struct{})
			s.mu.Unlock()
			if first && !failed {
				started = true
				close(s.ready)
			}
		case <-s.done:
			return
		}
	}
}

// WaitReady blocks until the first frame arrived, so NativeSize is known. An
// error or end of stream from the recorder before the first frame is
// returned as an error matching photobooth.ErrDeviceUnavailable.
func (s *Stream) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.failed:
		return Unavailable(s.Err())
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NativeSize returns the size of the most recent frame, or the zero size if
// no frame arrived yet.
func (s *Stream) NativeSize() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return image.Point{}
	}
	return s.frame.Bounds().Size()
}

// Frame returns the most recent frame and its sequence number, starting at
// 1. The frame is shared and must not be modified.
func (s *Stream) Frame() (*image.NRGBA, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq
}

// NextFrame returns a channel that is closed when the next frame arrives.
func (s *Stream) NextFrame() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Err returns the last error reported by the recorder, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close stops the stream and closes the recorder.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.rec.Close()
	})
	return err
}
