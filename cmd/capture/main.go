package main

import (
	"bytes"
	"context"
	"flag"
	"log"
	"os"

	"newcamera/pkg/camera"
	imageutil "newcamera/pkg/utils/image"
)

// capture takes one still per sharing mode and exits.
func main() {
	dev := flag.String("d", camera.DefaultDevice, "device name (path)")
	driver := flag.String("driver", camera.DriverV4L2, "v4l2 or webcam")
	width := flag.Int("w", 1920, "capture width")
	height := flag.Int("h", 1080, "capture height")
	flag.Parse()

	ctx := context.Background()
	opts := camera.DefaultOptions()
	opts.CaptureWidth, opts.CaptureHeight = *width, *height

	device, err := camera.Open(ctx, *driver, *dev, opts)
	if err != nil {
		log.Fatalf("open %s: %s", *dev, err)
	}

	for _, mode := range []camera.SharingMode{camera.ExclusiveControl, camera.SharedReadOnly} {
		name := "photo_" + mode.String() + ".jpg"
		if err := captureOnce(ctx, device, mode, name); err != nil {
			log.Printf("capture in %s: %s", mode, err)
			continue
		}
		log.Printf("saved %s", name)
	}
}

func captureOnce(ctx context.Context, device camera.Device, mode camera.SharingMode, name string) error {
	h, err := device.Acquire(ctx, mode)
	if err != nil {
		return err
	}
	defer h.Close()

	// stills are taken from (shared) or between (exclusive) preview frames
	if _, err := h.StartStream(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := h.CapturePhotoToStream(ctx, camera.EncodingJPEG, &buf); err != nil {
		return err
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := imageutil.Transcode(f, buf.Bytes(), imageutil.OrientationNormal); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
