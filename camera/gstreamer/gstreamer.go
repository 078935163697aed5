// Package gstreamer implements a camera recorder with the gstreamer command
// line tools.
package gstreamer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/snapbooth/photobooth-go/camera"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y gstreamer1.0-tools gstreamer1.0-plugins-good gstreamer1.0-plugins-base gstreamer1.0-plugins-base-apps")

// RecorderOpts has options for a new gstreamer recorder.
type RecorderOpts struct {
	Logger  *zap.Logger
	Verbose bool
}

// Recorder is a camera recorder using gstreamer.
type Recorder struct {
	*camera.FrameDir
}

// Check that Recorder implements interface Recorder.
var _ camera.Recorder = (*Recorder)(nil)

type device struct {
	ID          string
	Name        string
	DeviceClass string
	RawCaps     []string
	inCapMode   bool
}

var widthRegexp = regexp.MustCompile("width=(?:\\(int\\))?([0-9]+)[^0-9]")
var heightRegexp = regexp.MustCompile("height=(?:\\(int\\))?([0-9]+)[^0-9]")
var framerateRegexp = regexp.MustCompile("framerate=(?:\\(fraction\\))?([0-9]+)[^0-9]")

// ListDevices returns a list of devices that can be used for recording.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]camera.Device, error) {
	cmd := exec.Command("gst-device-monitor-1.0")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, camera.Unavailable(fmt.Errorf("listing devices using gst-device-monitor-1.0: %v", err))
	}
	return parseDevices(string(buf))
}

func parseDevices(s string) ([]camera.Device, error) {
	var r []device
	var d *device
	b := bufio.NewScanner(strings.NewReader(s))
	for b.Scan() {
		s := strings.TrimSpace(b.Text())
		if s == "" {
			continue
		}
		if s == "Device found:" {
			if d != nil {
				r = append(r, *d)
			}
			d = &device{}
			continue
		}
		if d == nil {
			continue
		}

		switch {
		case strings.HasPrefix(s, "name  :"):
			d.Name = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
		case strings.HasPrefix(s, "class :"):
			d.DeviceClass = strings.TrimSpace(strings.SplitN(s, ":", 2)[1])
		case strings.HasPrefix(s, "caps  :"):
			d.RawCaps = append(d.RawCaps, strings.TrimSpace(strings.SplitN(s, ":", 2)[1]))
			d.inCapMode = true
		case strings.HasPrefix(s, "properties:"):
			d.inCapMode = false
		case d.inCapMode:
			d.RawCaps = append(d.RawCaps, s)
		case strings.HasPrefix(s, "device.path ="), strings.HasPrefix(s, "api.v4l2.path ="):
			d.ID = strings.TrimSpace(strings.SplitN(s, "=", 2)[1])
		}
	}
	if err := b.Err(); err != nil {
		return nil, err
	}
	if d != nil && d.ID != "" {
		r = append(r, *d)
	}

	var devs []camera.Device
	for _, d := range r {
		if d.DeviceClass != "Video/Source" || d.ID == "" {
			continue
		}
		var caps []camera.DeviceCap
		for _, rc := range d.RawCaps {
			typ := strings.SplitN(rc, ",", 2)[0]
			if typ != "video/x-raw" && typ != "image/jpeg" {
				continue
			}
			width, werr := capInt(widthRegexp, rc)
			height, herr := capInt(heightRegexp, rc)
			framerate, ferr := capInt(framerateRegexp, rc)
			if werr != nil || herr != nil || ferr != nil {
				continue
			}
			if width != 0 && height != 0 && framerate != 0 {
				caps = append(caps, camera.DeviceCap{Type: typ, Width: width, Height: height, Framerate: framerate})
			}
		}
		if len(caps) == 0 {
			continue
		}
		devs = append(devs, camera.Device{ID: d.ID, Name: d.Name, Caps: caps})
	}
	if len(devs) == 0 {
		return nil, camera.ErrNoDevices
	}
	return devs, nil
}

func capInt(re *regexp.Regexp, s string) (int, error) {
	m := re.FindStringSubmatch(s + " ")
	if m == nil {
		return 0, fmt.Errorf("no match")
	}
	v, err := strconv.ParseInt(m[1], 10, 32)
	return int(v), err
}

// pipeline returns the gst-launch-1.0 arguments capturing from dev with
// capability cp into numbered JPEG files in dir.
func pipeline(dev camera.Device, cp camera.DeviceCap, dir string) []string {
	args := []string{"v4l2src", "device=" + dev.ID, "!"}
	size := fmt.Sprintf("width=%d,height=%d", cp.Width, cp.Height)
	if cp.Type == "image/jpeg" {
		args = append(args, "image/jpeg,"+size, "!", "jpegdec", "!")
	} else {
		args = append(args, "video/x-raw,"+size, "!")
	}
	return append(args,
		"videoconvert", "!",
		"jpegenc", "!",
		"multifilesink", "location="+filepath.Join(dir, "frame%05d.jpg"),
	)
}

// NewRecorder starts gst-launch-1.0 with the device capability closest to the
// size requested in c. Gstreamer writes frames to a temporary directory.
// These files are read and sent over the channel returned by Events.
//
// Callers must call Close to clean up.
func NewRecorder(c camera.Constraints, opts RecorderOpts) (recorder *Recorder, rerr error) {
	c = c.WithDefaults()
	devices, err := ListDevices()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	dev, err := camera.FindDevice(devices, c.DeviceID)
	if err != nil {
		return nil, err
	}
	camera.SortCaps(dev.Caps, c.Width, c.Height)

	fd, err := camera.NewFrameDir(camera.FrameDirOpts{
		Logger:   opts.Logger,
		Verbose:  opts.Verbose,
		Ops:      fsnotify.Create | fsnotify.Write,
		Interval: c.Interval,
	})
	if err != nil {
		return nil, err
	}
	r := &Recorder{fd}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			r.Close()
		}
	}()

	if err := fd.Start(errInstallHint, "gst-launch-1.0", pipeline(dev, dev.Caps[0], fd.Dir())...); err != nil {
		return nil, err
	}
	return r, nil
}

// Opener returns a camera.Opener creating gstreamer recorders with opts.
func Opener(opts RecorderOpts) camera.Opener {
	return func(ctx context.Context, c camera.Constraints) (camera.Recorder, error) {
		return NewRecorder(c, opts)
	}
}
