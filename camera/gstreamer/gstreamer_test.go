package gstreamer

import (
	"reflect"
	"testing"

	"github.com/snapbooth/photobooth-go/camera"
)

const monitorOutput = `Probing devices...

Device found:

	name  : HD Pro Webcam C920
	class : Video/Source
	caps  : video/x-raw, format=YUY2, width=640, height=480, pixel-aspect-ratio=1/1, framerate=30/1;
	        video/x-raw, format=YUY2, width=1280, height=720, pixel-aspect-ratio=1/1, framerate=10/1;
	        image/jpeg, width=1920, height=1080, pixel-aspect-ratio=1/1, framerate=30/1;
	properties:
		udev-probed = true
		device.bus_path = pci-0000:00:14.0-usb-0:1:1.0
		device.path = /dev/video0
	gst-launch-1.0 v4l2src ! ...

Device found:

	name  : Built-in Audio Analog Stereo
	class : Audio/Source
	caps  : audio/x-raw, format={ (string)S16LE }, rate=(int)44100, channels=(int)2;
	properties:
		device.path = /dev/snd/pcmC0D0c
`

func TestParseDevices(t *testing.T) {
	devs, err := parseDevices(monitorOutput)
	if err != nil {
		t.Fatalf("parsing gst-device-monitor output: %v", err)
	}
	exp := []camera.Device{
		{
			ID:   "/dev/video0",
			Name: "HD Pro Webcam C920",
			Caps: []camera.DeviceCap{
				{Type: "video/x-raw", Width: 640, Height: 480, Framerate: 30},
				{Type: "video/x-raw", Width: 1280, Height: 720, Framerate: 10},
				{Type: "image/jpeg", Width: 1920, Height: 1080, Framerate: 30},
			},
		},
	}
	if !reflect.DeepEqual(devs, exp) {
		t.Fatalf("gstreamer devices, got %+v, expected %+v", devs, exp)
	}

	camera.SortCaps(devs[0].Caps, 1280, 720)
	if devs[0].Caps[0].Width != 1280 {
		t.Fatalf("closest cap to 1280x720, got %+v", devs[0].Caps[0])
	}
}

func TestPipeline(t *testing.T) {
	dev := camera.Device{ID: "/dev/video0"}
	args := pipeline(dev, camera.DeviceCap{Type: "image/jpeg", Width: 1920, Height: 1080}, "/tmp/x")
	exp := []string{
		"v4l2src", "device=/dev/video0", "!",
		"image/jpeg,width=1920,height=1080", "!", "jpegdec", "!",
		"videoconvert", "!", "jpegenc", "!",
		"multifilesink", "location=/tmp/x/frame%05d.jpg",
	}
	if !reflect.DeepEqual(args, exp) {
		t.Fatalf("pipeline, got %q, expected %q", args, exp)
	}
}
