package camera

import (
	"context"
	"fmt"
)

const (
	DefaultDevice = "/dev/video0"
	DefaultFPS    = 15

	DriverV4L2   = "v4l2"
	DriverWebcam = "webcam"
)

// Open returns the Device implementation for driver bound to the device
// node at path. ctx bounds every stream started from the returned device.
func Open(ctx context.Context, driver, path string, opts Options) (Device, error) {
	if path == "" {
		path = DefaultDevice
	}
	switch driver {
	case "", DriverV4L2:
		return NewV4L2Device(ctx, path, opts), nil
	case DriverWebcam:
		return NewWebcamDevice(path, opts), nil
	default:
		return nil, fmt.Errorf("unknown camera driver %q", driver)
	}
}
