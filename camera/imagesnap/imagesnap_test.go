package imagesnap

import (
	"errors"
	"reflect"
	"testing"

	"github.com/snapbooth/photobooth-go/camera"
)

func TestParseDevices(t *testing.T) {
	tests := []struct {
		name   string
		output string
		exp    []camera.Device
	}{
		{
			"old format",
			`Video Devices:
<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>
<AVCaptureDALDevice: 0x7fa2c784f4e0 [Cam Link 4K #5][0x2000000fd90066]>
`,
			[]camera.Device{
				{ID: "FaceTime HD Camera (Built-in)", Name: "FaceTime HD Camera (Built-in)"},
				{ID: "Cam Link 4K #5", Name: "Cam Link 4K #5"},
			},
		},
		{
			"new format",
			`Video Devices:
=> FaceTime HD Camera (Built-in)
`,
			[]camera.Device{
				{ID: "FaceTime HD Camera (Built-in)", Name: "FaceTime HD Camera (Built-in)"},
			},
		},
	}
	for _, tc := range tests {
		devs, err := parseDevices(tc.output)
		if err != nil {
			t.Fatalf("%s: parsing imagesnap output: %v", tc.name, err)
		}
		if !reflect.DeepEqual(devs, tc.exp) {
			t.Fatalf("%s: imagesnap devices, got %v, expected %v", tc.name, devs, tc.exp)
		}
	}

	if _, err := parseDevices("Video Devices:\n"); !errors.Is(err, camera.ErrNoDevices) {
		t.Fatalf("expected ErrNoDevices, got %v", err)
	}
}
