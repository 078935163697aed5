package camera

import (
	"fmt"
	"image"
	"sort"

	photobooth "github.com/snapbooth/photobooth-go"
)

// DeviceCap describes a capability of a device.
type DeviceCap struct {
	Type      string // "video/x-raw" or "image/jpeg"
	Width     int
	Height    int
	Framerate int
}

// Size returns the frame size of the capability.
func (c DeviceCap) Size() image.Point {
	return image.Point{c.Width, c.Height}
}

// Device is a camera device capable of recording frames.
type Device struct {
	Name string
	ID   string
	Caps []DeviceCap
}

// ErrNoDevices is returned by the backends' ListDevices when no camera was found.
var ErrNoDevices = fmt.Errorf("%w: no devices available", photobooth.ErrDeviceUnavailable)

// FindDevice returns the device with ID id, or the first device if id is empty.
func FindDevice(devices []Device, id string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevices
	}
	if id == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: device %q not found", photobooth.ErrDeviceUnavailable, id)
}

// SortCaps orders caps by closeness to the requested size, closest first.
func SortCaps(caps []DeviceCap, width, height int) {
	abs := func(a int) int {
		if a < 0 {
			return -a
		}
		return a
	}
	distance := func(a DeviceCap) int {
		dw, dh := abs(a.Width-width), abs(a.Height-height)
		return dw*dh + dw + dh
	}
	sort.SliceStable(caps, func(i, j int) bool {
		return distance(caps[i]) < distance(caps[j])
	})
}
