// Package pipeline implements the camera pipeline: it owns the camera stream,
// renders every frame through the adjustments, sharpening and the selected
// filter, schedules face detection off the render loop, and captures stills
// from the displayed frame.
//
// Ticks are serialized: a tick schedules the next one only when its own work
// is done, and a mutex guards against overlapping schedulers. Face detection
// runs in its own goroutine, at most one at a time, and its result is used
// from the next tick on.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/camera"
	"github.com/snapbooth/photobooth-go/filter"
	"github.com/snapbooth/photobooth-go/raster"
)

// State is the lifecycle state of a Pipeline.
type State int

// Pipeline states.
const (
	Idle State = iota
	Starting
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Sink receives every displayed frame. The frame is shared and must not be
// modified; a Sink may keep it.
type Sink interface {
	Present(frame *image.NRGBA)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(frame *image.NRGBA)

// Present calls f.
func (f SinkFunc) Present(frame *image.NRGBA) {
	f(frame)
}

// Defaults for Opts.
const (
	DefaultDetectionStride  = 6
	DefaultDetectionTimeout = 5 * time.Second
	DefaultFilter           = filter.SmoothSkin
)

// Opts are options for a new Pipeline.
type Opts struct {
	Logger  *zap.Logger
	Verbose bool // Log every resolution change and detection.

	Constraints camera.Constraints

	DefaultFilter filter.ID           // Selected on New. SmoothSkin if empty.
	Adjustments   *filter.Adjustments // Initial adjustments. DefaultAdjustments if nil.

	// Lookup resolves filter IDs. filter.Lookup if nil.
	Lookup func(id filter.ID) filter.Filter

	// Face detection is only used if enabled and LoadDetector is set.
	EnableFaceDetection bool
	LoadDetector        func(ctx context.Context) (photobooth.Detector, error)
	DetectionStride     int           // Detect on every Nth frame, DefaultDetectionStride if 0.
	DetectionTimeout    time.Duration // Per detection, DefaultDetectionTimeout if 0.
	SmoothWindow        int           // Average detection boxes over this many results. Off if 0.

	// NewScheduler makes the tick scheduler for a started stream.
	// FrameSchedulers if nil.
	NewScheduler NewScheduler

	Sinks []Sink

	// OnFaceDetection is called when a face appears or disappears. It is
	// called from the detection goroutine, or from Stop.
	OnFaceDetection func(present bool)
}

// Stats are counters since the last Start.
type Stats struct {
	Frames          uint64 // Rendered frames.
	EmptyTicks      uint64 // Ticks without a camera frame.
	FilterErrors    uint64 // Frames shown unfiltered.
	Detections      uint64 // Completed detection requests.
	DetectionErrors uint64
	LateDetections  uint64 // Results discarded because the pipeline stopped.
}

// Pipeline is the camera pipeline. Create one with New.
type Pipeline struct {
	open    camera.Opener
	opts    Opts
	log     *zap.Logger
	sharpen func(src *image.NRGBA, amount float64) *image.NRGBA

	tickMu sync.Mutex // Serializes ticks.

	mu        sync.Mutex
	state     State
	gen       uint64 // Incremented on every Start and Stop.
	filterID  filter.ID
	adj       filter.Adjustments
	stream    *camera.Stream
	detector  photobooth.Detector
	sched     Scheduler
	handle    Handle
	display   *image.NRGBA
	detection *photobooth.Detection
	inFlight  bool
	detectCtx context.Context
	cancelDet context.CancelFunc
	smoother  *photobooth.DetectionSmoother
	failed    map[filter.ID]bool
	stats     Stats
	lastSize  image.Point
}

// New returns an idle pipeline that opens its camera with open on Start.
func New(open camera.Opener, opts *Opts) *Pipeline {
	p := &Pipeline{open: open, sharpen: filter.Sharpen}
	if opts != nil {
		p.opts = *opts
	}
	p.log = photobooth.LoggerOrNop(p.opts.Logger)
	if p.opts.DefaultFilter == "" {
		p.opts.DefaultFilter = DefaultFilter
	}
	if p.opts.Lookup == nil {
		p.opts.Lookup = filter.Lookup
	}
	if p.opts.DetectionStride <= 0 {
		p.opts.DetectionStride = DefaultDetectionStride
	}
	if p.opts.DetectionTimeout <= 0 {
		p.opts.DetectionTimeout = DefaultDetectionTimeout
	}
	if p.opts.NewScheduler == nil {
		p.opts.NewScheduler = FrameSchedulers
	}
	p.filterID = p.opts.DefaultFilter
	p.adj = filter.DefaultAdjustments
	if p.opts.Adjustments != nil {
		p.adj = p.opts.Adjustments.Clamped()
	}
	return p
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start opens the camera stream and starts rendering. Start returns an error
// matching photobooth.ErrDeviceUnavailable if no camera could be opened, and
// the pipeline returns to its previous state. A detector that fails to load
// only disables face detection. Start on a running pipeline does nothing.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Running || p.state == Starting {
		p.mu.Unlock()
		return nil
	}
	prev := p.state
	p.state = Starting
	p.mu.Unlock()

	fail := func(err error) error {
		p.mu.Lock()
		p.state = prev
		p.mu.Unlock()
		return err
	}

	stream, err := camera.Open(ctx, p.open, p.opts.Constraints, p.log)
	if err != nil {
		return fail(fmt.Errorf("opening camera: %w", err))
	}

	detector := p.loadDetector(ctx)

	if err := stream.WaitReady(ctx); err != nil {
		stream.Close()
		if detector != nil {
			detector.Close()
		}
		return fail(camera.Unavailable(fmt.Errorf("waiting for first frame: %v", err)))
	}
	size := stream.NativeSize()
	p.log.Info("camera started", zap.Int("width", size.X), zap.Int("height", size.Y), zap.Bool("detection", detector != nil))

	var smoother *photobooth.DetectionSmoother
	if p.opts.SmoothWindow > 0 {
		smoother, _ = photobooth.NewDetectionSmoother(p.opts.SmoothWindow)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.stream = stream
	p.detector = detector
	p.detectCtx, p.cancelDet = context.WithCancel(context.Background())
	p.smoother = smoother
	p.display = image.NewNRGBA(image.Rectangle{Max: size})
	p.lastSize = size
	p.detection = nil
	p.inFlight = false
	p.failed = map[filter.ID]bool{}
	p.stats = Stats{}
	p.sched = p.opts.NewScheduler(stream)
	p.state = Running
	p.scheduleLocked(p.gen)
	return nil
}

func (p *Pipeline) loadDetector(ctx context.Context) photobooth.Detector {
	if !p.opts.EnableFaceDetection {
		return nil
	}
	if p.opts.LoadDetector == nil {
		p.log.Warn("face detection disabled", zap.Error(photobooth.ErrDetectionUnavailable))
		return nil
	}
	d, err := p.opts.LoadDetector(ctx)
	if err != nil {
		p.log.Warn("face detection disabled", zap.Error(fmt.Errorf("%w: %v", photobooth.ErrDetectionUnavailable, err)))
		return nil
	}
	return d
}

func (p *Pipeline) scheduleLocked(gen uint64) {
	p.handle = p.sched.Schedule(func() { p.tick(gen) })
}

// Stop cancels the scheduled tick, closes the camera stream and the detector
// and forgets the current detection. A detection that completes after Stop
// is discarded. Stop on a pipeline that is not running does nothing.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return nil
	}
	p.state = Stopped
	p.gen++
	p.sched.Cancel(p.handle)
	p.cancelDet()
	stream, detector := p.stream, p.detector
	p.stream, p.detector = nil, nil
	hadFace := p.detection != nil
	p.detection = nil
	p.inFlight = false
	cb := p.opts.OnFaceDetection
	p.mu.Unlock()

	err := stream.Close()
	if detector != nil {
		if derr := detector.Close(); derr != nil {
			p.log.Warn("closing detector", zap.Error(derr))
		}
	}
	if hadFace && cb != nil {
		cb(false)
	}
	p.log.Info("camera stopped")
	return err
}

// SetFilter selects the filter for the next rendered frame.
func (p *Pipeline) SetFilter(id filter.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filterID = id
}

// Filter returns the selected filter.
func (p *Pipeline) Filter() filter.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filterID
}

// SetAdjustments merges u into the adjustments, clamping each to its range.
// The result is used from the next rendered frame on and returned.
func (p *Pipeline) SetAdjustments(u filter.AdjustmentsUpdate) filter.Adjustments {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adj = p.adj.Merge(u)
	return p.adj
}

// Adjustments returns the current adjustments.
func (p *Pipeline) Adjustments() filter.Adjustments {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adj
}

// Detection returns the most recent face detection, nil if none.
func (p *Pipeline) Detection() *photobooth.Detection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detection
}

// Stats returns the counters since the last Start.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// DeviceErr returns the last error reported by the running camera. The
// pipeline does not recover from a lost camera; callers can Stop and Start.
func (p *Pipeline) DeviceErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	return p.stream.Err()
}

// tick renders one frame for the run identified by gen.
func (p *Pipeline) tick(gen uint64) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	p.mu.Lock()
	if p.state != Running || p.gen != gen {
		p.mu.Unlock()
		return
	}
	stream := p.stream
	adj := p.adj
	id := p.filterID
	det := p.detection
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.state == Running && p.gen == gen {
			p.scheduleLocked(gen)
		}
	}()

	frame, _ := stream.Frame()
	if frame == nil || frame.Bounds().Empty() {
		p.mu.Lock()
		p.stats.EmptyTicks++
		p.mu.Unlock()
		return
	}

	work := adj.Apply(frame)
	if adj.Sharpness > 0 {
		work = p.sharpen(work, adj.Sharpness)
	}
	out, err := filter.Run(id, p.opts.Lookup(id), work, det)

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.stats.FilterErrors++
		if !p.failed[id] {
			p.failed[id] = true
			p.log.Warn("filter failed, showing unfiltered frames", zap.String("filter", string(id)), zap.Error(err))
		}
	}
	if size := out.Bounds().Size(); size != p.lastSize {
		if p.opts.Verbose {
			p.log.Info("camera resolution changed", zap.Stringer("from", p.lastSize), zap.Stringer("to", size))
		}
		p.lastSize = size
	}
	p.display = raster.CopyInto(p.display, out)
	p.stats.Frames++
	detect := p.detector != nil && !p.inFlight && p.stats.Frames%uint64(p.opts.DetectionStride) == 0
	if detect {
		p.inFlight = true
		go p.detect(p.detectCtx, gen, p.detector, out)
	}
	p.mu.Unlock()

	for _, s := range p.opts.Sinks {
		s.Present(out)
	}
}

// detect runs one detection and stores its result if the pipeline run gen
// is still current.
func (p *Pipeline) detect(ctx context.Context, gen uint64, d photobooth.Detector, img *image.NRGBA) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.DetectionTimeout)
	det, err := d.Detect(ctx, img)
	cancel()

	p.mu.Lock()
	if p.gen != gen {
		p.stats.LateDetections++
		p.mu.Unlock()
		return
	}
	p.inFlight = false
	p.stats.Detections++
	if err != nil {
		p.stats.DetectionErrors++
		first := p.stats.DetectionErrors == 1
		p.mu.Unlock()
		if first || p.opts.Verbose {
			p.log.Warn("face detection failed", zap.Error(err))
		}
		return
	}
	if p.smoother != nil {
		det, _ = p.smoother.Update(det)
	}
	changed := (det == nil) != (p.detection == nil)
	p.detection = det
	cb := p.opts.OnFaceDetection
	p.mu.Unlock()

	if p.opts.Verbose && det != nil {
		p.log.Info("face detected", zap.Stringer("box", det.Box), zap.Float64("score", det.Score))
	}
	if changed && cb != nil {
		cb(det != nil)
	}
}
