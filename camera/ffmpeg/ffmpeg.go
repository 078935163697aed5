// Package ffmpeg implements a camera recorder with ffmpeg and v4l2, for Linux.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/snapbooth/photobooth-go/camera"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

// RecorderOpts has options for a new ffmpeg recorder.
type RecorderOpts struct {
	Logger  *zap.Logger
	Verbose bool
}

// Recorder is a camera recorder using ffmpeg.
type Recorder struct {
	*camera.FrameDir
}

// Check that Recorder implements interface Recorder.
var _ camera.Recorder = (*Recorder)(nil)

// ListDevices returns a list of devices that can be used for recording.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]camera.Device, error) {
	cmd := exec.Command("v4l2-ctl", "--list-devices")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, camera.Unavailable(fmt.Errorf("listing devices using v4l2-ctl: %v", err))
	}
	return parseDevices(string(buf))
}

func parseDevices(s string) ([]camera.Device, error) {
	var curDevice string
	devices := []camera.Device{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			curDevice = strings.TrimSuffix(strings.TrimSpace(line), ":")
			continue
		}
		// Skip the Raspberry Pi codec and ISP nodes, they are not cameras.
		if curDevice == "" || strings.HasPrefix(curDevice, "bcm2835-") {
			continue
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/dev/video") {
			continue
		}
		devices = append(devices, camera.Device{
			Name: fmt.Sprintf("%s (%s)", curDevice, line),
			ID:   line,
		})
	}
	if len(devices) == 0 {
		return nil, camera.ErrNoDevices
	}
	return devices, nil
}

// NewRecorder starts ffmpeg capturing MJPEG from the device selected by c.
// Ffmpeg writes frames to a temporary directory. These files are read and
// sent over the channel returned by Events.
//
// Callers must call Close to clean up.
func NewRecorder(c camera.Constraints, opts RecorderOpts) (recorder *Recorder, rerr error) {
	c = c.WithDefaults()
	if c.DeviceID == "" {
		devs, err := ListDevices()
		if err != nil {
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		c.DeviceID = devs[0].ID
	}

	fd, err := camera.NewFrameDir(camera.FrameDirOpts{
		Logger:   opts.Logger,
		Verbose:  opts.Verbose,
		Ops:      fsnotify.Write,
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

	args := []string{
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", c.Framerate()),
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-input_format", "mjpeg",
		"-i", c.DeviceID,
		"-f", "image2",
		"-c:v", "copy",
		"-bsf:v", "mjpeg2jpeg",
		"frame%d.jpg",
	}
	if err := fd.Start(errInstallHint, "ffmpeg", args...); err != nil {
		return nil, err
	}
	return r, nil
}

// Opener returns a camera.Opener creating ffmpeg recorders with opts.
func Opener(opts RecorderOpts) camera.Opener {
	return func(ctx context.Context, c camera.Constraints) (camera.Recorder, error) {
		return NewRecorder(c, opts)
	}
}
