package camera

import (
	"context"
	"errors"
	"testing"

	"github.com/blackjack/webcam"
)

func TestWebcamRefusesShared(t *testing.T) {
	d := NewWebcamDevice("/dev/video-missing", DefaultOptions())

	h, err := d.Acquire(context.Background(), SharedReadOnly)
	if h != nil {
		t.Fatal("shared handle returned")
	}
	if !errors.Is(err, ErrDeviceAcquisition) || !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err %v, want %v", err, ErrDeviceAcquisition)
	}
	if errors.Is(classifyAcquireErr(err), ErrPermissionDenied) {
		t.Error("refusal classified as permission denial")
	}
}

func TestPickFormat(t *testing.T) {
	both := map[webcam.PixelFormat]string{fourccMJPEG: "MJPEG", fourccYUYV: "YUYV"}
	if got := pickFormat(both, purposePreview); got != fourccMJPEG {
		t.Errorf("preview %#x", uint32(got))
	}
	if got := pickFormat(both, purposeRaw); got != fourccYUYV {
		t.Errorf("raw %#x", uint32(got))
	}
	yuyv := map[webcam.PixelFormat]string{fourccYUYV: "YUYV"}
	if got := pickFormat(yuyv, purposeStill); got != fourccYUYV {
		t.Errorf("still without MJPEG %#x", uint32(got))
	}
}
