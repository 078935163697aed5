// Package imagesnap implements a camera recorder with the imagesnap command
// for macOS.
package imagesnap

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

var errInstallHint = errors.New("executable not found, install with: brew install imagesnap")

// ListDevices returns all capturing devices available to imagesnap.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]camera.Device, error) {
	cmd := exec.Command("imagesnap", "-l")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, camera.Unavailable(fmt.Errorf("listing devices with imagesnap -l: %v", err))
	}
	return parseDevices(string(buf))
}

func parseDevices(s string) ([]camera.Device, error) {
	devs := []camera.Device{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		var name string
		switch {
		case strings.HasPrefix(line, "=> "):
			// Newer format, example: "=> FaceTime HD Camera (Built-in)"
			name = line[len("=> "):]
		case strings.HasPrefix(line, "<"):
			// Older format, example: "<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>"
			t := strings.Split(line, "[")
			if len(t) < 2 {
				continue
			}
			name = strings.Split(t[1], "]")[0]
		default:
			continue
		}
		devs = append(devs, camera.Device{Name: name, ID: name})
	}
	if len(devs) == 0 {
		return nil, camera.ErrNoDevices
	}
	return devs, nil
}

// RecorderOpts has options for a new imagesnap recorder.
type RecorderOpts struct {
	Logger  *zap.Logger
	Verbose bool
}

// Recorder records frames by starting imagesnap in time-lapse mode, writing
// snapshots to temporary storage. Imagesnap picks the frame size itself, the
// Width and Height constraints are ignored.
type Recorder struct {
	*camera.FrameDir
}

// Check that Recorder implements interface Recorder.
var _ camera.Recorder = (*Recorder)(nil)

// NewRecorder starts imagesnap for the device selected by c. The snapshots
// are read and sent on the channel returned by Events.
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
		Logger:  opts.Logger,
		Verbose: opts.Verbose,
		Ops:     fsnotify.Create,
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
		"-d", c.DeviceID,
		"-t", fmt.Sprintf("%.2f", c.Interval.Seconds()),
	}
	if err := fd.Start(errInstallHint, "imagesnap", args...); err != nil {
		return nil, err
	}
	return r, nil
}

// Opener returns a camera.Opener creating imagesnap recorders with opts.
func Opener(opts RecorderOpts) camera.Opener {
	return func(ctx context.Context, c camera.Constraints) (camera.Recorder, error) {
		return NewRecorder(c, opts)
	}
}
