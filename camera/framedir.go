package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	photobooth "github.com/snapbooth/photobooth-go"
)

// FrameDirOpts has options for a new FrameDir.
type FrameDirOpts struct {
	Logger  *zap.Logger
	Verbose bool

	// File operations that signal a complete frame file. The capture tools
	// differ: some create the file and write it later, some write in place.
	Ops fsnotify.Op

	// Minimum time between delivered frames. Frames written sooner are
	// removed without decoding. Zero delivers every frame.
	Interval time.Duration

	// Suffix of frame files, ".jpg" if empty.
	Suffix string
}

// FrameDir is the shared plumbing of the process based recorders: the
// capture tool writes frame files into a temporary directory, FrameDir
// watches it, decodes new files and sends them on Events.
type FrameDir struct {
	opts    FrameDirOpts
	log     *zap.Logger
	events  chan Event
	dir     string
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Check that FrameDir implements interface Recorder.
var _ Recorder = (*FrameDir)(nil)

// NewFrameDir makes a temporary directory and starts watching it.
//
// Callers must call Close to clean up.
func NewFrameDir(opts FrameDirOpts) (fd *FrameDir, rerr error) {
	d := &FrameDir{
		opts:   opts,
		log:    photobooth.LoggerOrNop(opts.Logger),
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	if d.opts.Suffix == "" {
		d.opts.Suffix = ".jpg"
	}
	if d.opts.Ops == 0 {
		d.opts.Ops = fsnotify.Write
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			d.Close()
		}
	}()

	dir, err := photobooth.TempDir()
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %w", err)
	}
	d.dir = dir
	if d.opts.Verbose {
		d.log.Info("writing frames to temp dir", zap.String("dir", dir))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %w", err)
	}
	d.watcher = watcher
	go d.watch()

	if err := watcher.Add(d.dir); err != nil {
		return nil, fmt.Errorf("registering file change watcher for temp dir: %w", err)
	}
	return d, nil
}

// Dir returns the directory frames must be written to.
func (d *FrameDir) Dir() string {
	return d.dir
}

// Events returns a channel on which Events can be received.
func (d *FrameDir) Events() chan Event {
	return d.events
}

// Start runs the capture tool name with args in the frame directory. The
// process is killed on Close. Hint is used as the error when the executable
// is not installed.
func (d *FrameDir) Start(hint error, name string, args ...string) error {
	if d.opts.Verbose {
		d.log.Info("starting capture tool", zap.String("cmd", name), zap.Strings("args", args))
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = d.dir
	if d.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) && hint != nil {
			err = hint
		}
		return Unavailable(fmt.Errorf("starting %s: %v", name, err))
	}
	go func() {
		err := cmd.Wait()
		if ctx.Err() == nil {
			d.send(Event{Err: fmt.Errorf("%s exited: %v", name, err)})
		}
	}()
	return nil
}

func (d *FrameDir) send(ev Event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

func (d *FrameDir) watch() {
	var last time.Time
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&d.opts.Ops == 0 || !strings.HasSuffix(ev.Name, d.opts.Suffix) {
				continue
			}
			now := time.Now()
			if d.opts.Interval > 0 && now.Sub(last) < d.opts.Interval*9/10 {
				d.remove(ev.Name)
				continue
			}
			img, err := imaging.Open(ev.Name)
			if err != nil {
				if d.opts.Verbose {
					d.log.Info("decoding frame, may be partially written", zap.String("file", ev.Name), zap.Error(err))
				}
				continue
			}
			d.remove(ev.Name)
			select {
			case d.events <- Event{Frame: imaging.Clone(img)}:
				last = now
			case <-d.done:
				return
			default:
				if d.opts.Verbose {
					d.log.Info("dropping frame, consumer still busy")
				}
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.send(Event{Err: fmt.Errorf("watching for changes: %w", err)})
		}
	}
}

func (d *FrameDir) remove(name string) {
	if err := os.Remove(name); err != nil && d.opts.Verbose {
		d.log.Info("removing frame", zap.String("file", name), zap.Error(err))
	}
}

// Close shuts down the recorder, stopping the capture tool and removing the
// temporary directory.
func (d *FrameDir) Close() error {
	d.once.Do(func() {
		close(d.done)
		if d.cancel != nil {
			d.cancel()
		}
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.dir != "" {
			os.RemoveAll(d.dir)
		}
	})
	return nil
}
