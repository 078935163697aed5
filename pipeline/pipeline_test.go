package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/camera"
	"github.com/snapbooth/photobooth-go/filter"
	"github.com/snapbooth/photobooth-go/raster"
)

// stepScheduler runs ticks only when the test says so.
type stepScheduler struct {
	mu      sync.Mutex
	last    Handle
	pending map[Handle]func()
}

func (s *stepScheduler) Schedule(tick func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = map[Handle]func(){}
	}
	s.last++
	s.pending[s.last] = tick
	return s.last
}

func (s *stepScheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
}

func (s *stepScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// step runs the pending tick.
func (s *stepScheduler) step(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if len(s.pending) != 1 {
		s.mu.Unlock()
		t.Fatalf("expected exactly one pending tick, got %d", len(s.pending))
	}
	var tick func()
	for h, f := range s.pending {
		tick = f
		delete(s.pending, h)
	}
	s.mu.Unlock()
	tick()
}

var testColor = color.NRGBA{90, 120, 150, 255}

func stillOpener(frame *image.NRGBA) camera.Opener {
	return func(ctx context.Context, c camera.Constraints) (camera.Recorder, error) {
		return camera.NewStill(frame, time.Millisecond), nil
	}
}

func newTestPipeline(t *testing.T, opts *Opts) (*Pipeline, *stepScheduler) {
	t.Helper()
	if opts == nil {
		opts = &Opts{}
	}
	sched := &stepScheduler{}
	opts.NewScheduler = func(*camera.Stream) Scheduler { return sched }
	p := New(stillOpener(raster.New(32, 24, testColor)), opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("starting pipeline: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
	return p, sched
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeDetector returns det and err, after release is closed if set.
type fakeDetector struct {
	det     *photobooth.Detection
	err     error
	release chan struct{}

	mu     sync.Mutex
	calls  int
	closed bool
}

func (d *fakeDetector) Detect(ctx context.Context, img *image.NRGBA) (*photobooth.Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.release != nil {
		<-d.release
	}
	return d.det, d.err
}

func (d *fakeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDetector) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func detectorOpts(d photobooth.Detector) *Opts {
	return &Opts{
		EnableFaceDetection: true,
		DetectionStride:     1,
		LoadDetector: func(ctx context.Context) (photobooth.Detector, error) {
			return d, nil
		},
	}
}

func TestStateTransitions(t *testing.T) {
	sched := &stepScheduler{}
	p := New(stillOpener(raster.New(8, 8, testColor)), &Opts{
		NewScheduler: func(*camera.Stream) Scheduler { return sched },
	})
	ctx := context.Background()

	if s := p.State(); s != Idle {
		t.Fatalf("new pipeline in state %v", s)
	}
	if err := p.Stop(); err != nil || p.State() != Idle {
		t.Fatalf("stop while idle: err %v, state %v", err, p.State())
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s := p.State(); s != Running {
		t.Fatalf("after start, state %v", s)
	}
	if err := p.Start(ctx); err != nil || sched.count() != 1 {
		t.Fatalf("second start: err %v, pending ticks %d", err, sched.count())
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s := p.State(); s != Stopped || sched.count() != 0 {
		t.Fatalf("after stop, state %v, pending ticks %d", s, sched.count())
	}
	if err := p.Start(ctx); err != nil || p.State() != Running {
		t.Fatalf("restart: err %v, state %v", err, p.State())
	}
	p.Stop()
}

func TestStartDeviceUnavailable(t *testing.T) {
	p := New(func(ctx context.Context, c camera.Constraints) (camera.Recorder, error) {
		return nil, errors.New("no camera here")
	}, nil)
	err := p.Start(context.Background())
	if !errors.Is(err, photobooth.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if s := p.State(); s != Idle {
		t.Fatalf("failed start left state %v", s)
	}
}

// failingRecorder reports one error and stops, without ever sending a frame.
type failingRecorder struct {
	events chan camera.Event
}

func (r *failingRecorder) Events() chan camera.Event { return r.events }
func (r *failingRecorder) Close() error              { return nil }

func TestStartDeviceLostBeforeFirstFrame(t *testing.T) {
	p := New(func(ctx context.Context, c camera.Constraints) (camera.Recorder, error) {
		events := make(chan camera.Event, 1)
		events <- camera.Event{Err: errors.New("ffmpeg exited: device busy")}
		close(events)
		return &failingRecorder{events: events}, nil
	}, nil)

	errc := make(chan error, 1)
	go func() { errc <- p.Start(context.Background()) }()
	select {
	case err := <-errc:
		if !errors.Is(err, photobooth.ErrDeviceUnavailable) {
			t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("start still blocked in state %v", p.State())
	}
	if s := p.State(); s != Idle {
		t.Fatalf("failed start left state %v", s)
	}
}

func TestStaleTickDoesNothing(t *testing.T) {
	p, sched := newTestPipeline(t, nil)
	var stale func()
	sched.mu.Lock()
	for _, f := range sched.pending {
		stale = f
	}
	sched.mu.Unlock()

	p.Stop()
	stale()
	if n := p.Stats().Frames; n != 0 {
		t.Fatalf("tick ran after stop, %d frames", n)
	}
}

func TestSharpnessZeroNeverSharpens(t *testing.T) {
	p, sched := newTestPipeline(t, nil)
	var calls int
	p.sharpen = func(src *image.NRGBA, amount float64) *image.NRGBA {
		calls++
		return filter.Sharpen(src, amount)
	}

	for i := 0; i < 5; i++ {
		sched.step(t)
	}
	if calls != 0 {
		t.Fatalf("sharpen called %d times with sharpness 0", calls)
	}

	amount := 2.0
	p.SetAdjustments(filter.AdjustmentsUpdate{Sharpness: &amount})
	sched.step(t)
	if calls != 1 {
		t.Fatalf("sharpen called %d times after enabling, expected 1", calls)
	}
}

func TestRenderAppliesFilterAndAdjustments(t *testing.T) {
	var presented int
	p, sched := newTestPipeline(t, &Opts{
		Sinks: []Sink{SinkFunc(func(*image.NRGBA) { presented++ })},
	})

	// Soft skin on a uniform frame changes nothing.
	sched.step(t)
	img, err := p.Still()
	if err != nil {
		t.Fatalf("still: %v", err)
	}
	if !raster.Uniform(img, img.Bounds(), testColor) {
		t.Fatalf("default filter changed a uniform frame")
	}

	p.SetFilter(filter.WarmTone)
	sched.step(t)
	img, _ = p.Still()
	exp := color.NRGBA{100, 125, 150, 255}
	if got := img.NRGBAAt(5, 5); got != exp {
		t.Fatalf("warm tone pixel, got %v, expected %v", got, exp)
	}

	zero := 0.0
	p.SetFilter(filter.None)
	p.SetAdjustments(filter.AdjustmentsUpdate{Saturation: &zero})
	sched.step(t)
	img, _ = p.Still()
	if got := img.NRGBAAt(5, 5); got.R != got.G || got.G != got.B {
		t.Fatalf("saturation 0 pixel not gray: %v", got)
	}

	if presented != 3 || p.Stats().Frames != 3 {
		t.Fatalf("presented %d frames, stats %+v", presented, p.Stats())
	}
}

func TestFilterPanicShowsUnfiltered(t *testing.T) {
	p, sched := newTestPipeline(t, &Opts{
		Lookup: func(filter.ID) filter.Filter {
			return filter.Func(func(*image.NRGBA, *photobooth.Detection) *image.NRGBA {
				panic("broken filter")
			})
		},
	})
	sched.step(t)
	sched.step(t)

	img, err := p.Still()
	if err != nil {
		t.Fatalf("still: %v", err)
	}
	if !raster.Uniform(img, img.Bounds(), testColor) {
		t.Fatalf("frame not shown unfiltered")
	}
	if st := p.Stats(); st.Frames != 2 || st.FilterErrors != 2 {
		t.Fatalf("stats after failing filter: %+v", st)
	}
}

func TestDetectorAlwaysFails(t *testing.T) {
	d := &fakeDetector{err: errors.New("no model")}
	p, sched := newTestPipeline(t, detectorOpts(d))

	const n = 30
	for i := 0; i < n; i++ {
		sched.step(t)
		if p.Detection() != nil {
			t.Fatalf("detection present after failing detector")
		}
	}
	if st := p.Stats(); st.Frames != n {
		t.Fatalf("rendered %d frames, expected %d", st.Frames, n)
	}
	if d.callCount() == 0 {
		t.Fatalf("detector never called")
	}
}

func TestDetectorLoadFails(t *testing.T) {
	p, sched := newTestPipeline(t, &Opts{
		EnableFaceDetection: true,
		LoadDetector: func(ctx context.Context) (photobooth.Detector, error) {
			return nil, errors.New("cascade missing")
		},
	})
	sched.step(t)
	if st := p.Stats(); st.Frames != 1 || st.Detections != 0 {
		t.Fatalf("stats without detector: %+v", st)
	}
}

func TestDetectionStride(t *testing.T) {
	d := &fakeDetector{}
	opts := detectorOpts(d)
	opts.DetectionStride = 6
	p, sched := newTestPipeline(t, opts)

	for i := 0; i < 12; i++ {
		sched.step(t)
		// Let the detection finish so the in-flight guard does not skip.
		waitFor(t, "detection", func() bool {
			p.mu.Lock()
			defer p.mu.Unlock()
			return !p.inFlight
		})
	}
	if n := d.callCount(); n != 2 {
		t.Fatalf("detector called %d times in 12 frames, expected 2", n)
	}
}

func TestDetectionInFlightGuard(t *testing.T) {
	d := &fakeDetector{release: make(chan struct{})}
	p, sched := newTestPipeline(t, detectorOpts(d))

	for i := 0; i < 5; i++ {
		sched.step(t)
	}
	waitFor(t, "detector call", func() bool { return d.callCount() == 1 })
	close(d.release)
	waitFor(t, "detection result", func() bool { return p.Stats().Detections == 1 })
	if n := d.callCount(); n != 1 {
		t.Fatalf("overlapping detections, %d calls", n)
	}
}

func TestDetectionResult(t *testing.T) {
	face := &photobooth.Detection{Box: image.Rect(4, 4, 12, 12), Score: 0.9}
	d := &fakeDetector{det: face}
	opts := detectorOpts(d)
	var mu sync.Mutex
	var events []bool
	opts.OnFaceDetection = func(present bool) {
		mu.Lock()
		events = append(events, present)
		mu.Unlock()
	}
	p, sched := newTestPipeline(t, opts)

	sched.step(t)
	waitFor(t, "detection", func() bool { return p.Detection() != nil })
	if got := p.Detection(); got.Box != face.Box {
		t.Fatalf("detection box, got %v", got.Box)
	}

	p.Stop()
	if p.Detection() != nil {
		t.Fatalf("detection kept after stop")
	}
	if !d.isClosed() {
		t.Fatalf("detector not closed on stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("face events, got %v, expected [true false]", events)
	}
}

func TestLateDetectionDiscarded(t *testing.T) {
	d := &fakeDetector{
		det:     &photobooth.Detection{Box: image.Rect(1, 1, 5, 5)},
		release: make(chan struct{}),
	}
	opts := detectorOpts(d)
	var faces int
	opts.OnFaceDetection = func(present bool) {
		if present {
			faces++
		}
	}
	p, sched := newTestPipeline(t, opts)

	sched.step(t)
	waitFor(t, "detector call", func() bool { return d.callCount() == 1 })
	p.Stop()
	close(d.release)

	waitFor(t, "late detection", func() bool { return p.Stats().LateDetections == 1 })
	if p.Detection() != nil || faces != 0 {
		t.Fatalf("late detection applied after stop")
	}
}

func TestCapturePhoto(t *testing.T) {
	p := New(stillOpener(raster.New(8, 8, testColor)), nil)
	if _, err := p.CapturePhoto(nil); !errors.Is(err, photobooth.ErrNoFrame) {
		t.Fatalf("capture before start, expected ErrNoFrame, got %v", err)
	}

	p, sched := newTestPipeline(t, nil)
	sched.step(t)
	buf, err := p.CapturePhoto(&CaptureOpts{Format: raster.PNG})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	img, err := raster.Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("decoding capture: %v", err)
	}
	if img.Bounds().Size() != (image.Point{32, 24}) || !raster.Uniform(img, img.Bounds(), testColor) {
		t.Fatalf("captured image does not match displayed frame")
	}
	if p.State() != Running || sched.count() != 1 {
		t.Fatalf("capture changed pipeline state")
	}
}
