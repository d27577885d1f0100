package camera

import (
	"context"
	"fmt"

	"github.com/blackjack/webcam"
)

const (
	fourccMJPEG webcam.PixelFormat = 0x47504a4d // MJPG
	fourccYUYV  webcam.PixelFormat = 0x56595559 // YUYV

	webcamWaitSeconds = 1
)

// WebcamDevice acquires a video4linux node through blackjack/webcam.
//
// The library can not open a node without negotiating a format, so only
// ExclusiveControl is offered; SharedReadOnly fails with
// ErrDeviceAcquisition.
type WebcamDevice struct {
	devName string
	opts    Options
}

func NewWebcamDevice(devName string, opts Options) *WebcamDevice {
	return &WebcamDevice{devName: devName, opts: opts}
}

func (d *WebcamDevice) Acquire(ctx context.Context, mode SharingMode) (Handle, error) {
	if mode != ExclusiveControl {
		return nil, fmt.Errorf("%w: %s on %s: %w", ErrDeviceAcquisition, mode, d.devName, ErrUnsupported)
	}
	logger.Infof("camera: acquire %s in %s (webcam)", d.devName, mode)
	return newHandle(mode, d.opts, &webcamBackend{
		devName: d.devName,
		opts:    d.opts,
	})
}

type webcamBackend struct {
	devName string
	opts    Options

	cam    *webcam.Webcam
	stopCh chan struct{}
	done   chan struct{}
}

func (b *webcamBackend) open(p purpose) (frameFormat, error) {
	if b.cam != nil {
		return frameFormat{}, ErrStarted
	}
	cam, err := webcam.Open(b.devName)
	if err != nil {
		return frameFormat{}, err
	}

	want := fourccMJPEG
	if p == purposeRaw {
		want = pickFormat(cam.GetSupportedFormats(), p)
	}
	width, height := b.opts.PreviewWidth, b.opts.PreviewHeight
	if p != purposePreview {
		width, height = b.opts.CaptureWidth, b.opts.CaptureHeight
	}

	got, w, h, err := cam.SetImageFormat(want, uint32(width), uint32(height))
	if err != nil {
		_ = cam.Close()
		return frameFormat{}, err
	}
	format := frameFormat{width: int(w), height: int(h)}
	switch got {
	case fourccMJPEG:
		format.kind = kindJPEG
	case fourccYUYV:
		format.kind = kindYUYV
	default:
		_ = cam.Close()
		return frameFormat{}, fmt.Errorf("%w: fourcc %#x", ErrUnsupported, uint32(got))
	}
	if err := cam.SetBufferCount(2); err != nil {
		logger.Debugf("camera: %s buffer count: %s", b.devName, err)
	}
	b.cam = cam

	return format, nil
}

// pickFormat prefers MJPEG for stills and previews and YUYV for raw
// captures, falling back to whichever of the two the device offers.
func pickFormat(supported map[webcam.PixelFormat]string, p purpose) webcam.PixelFormat {
	first, second := fourccMJPEG, fourccYUYV
	if p == purposeRaw {
		first, second = fourccYUYV, fourccMJPEG
	}
	if _, ok := supported[first]; ok {
		return first
	}
	if _, ok := supported[second]; ok {
		return second
	}
	return first
}

func (b *webcamBackend) start() (<-chan []byte, error) {
	if b.cam == nil {
		return nil, fmt.Errorf("%s: device not open", b.devName)
	}
	if err := b.cam.StartStreaming(); err != nil {
		return nil, err
	}
	frames := make(chan []byte, 1)
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	go b.read(b.cam, frames, b.stopCh, b.done)

	return frames, nil
}

func (b *webcamBackend) read(cam *webcam.Webcam, frames chan<- []byte, stop, done chan struct{}) {
	defer close(done)
	defer close(frames)
	for {
		select {
		case <-stop:
			return
		default:
		}

		err := cam.WaitForFrame(webcamWaitSeconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			logger.Warnf("camera: %s wait for frame: %s", b.devName, err)
			return
		}

		frame, err := cam.ReadFrame()
		if err != nil {
			logger.Warnf("camera: %s read frame: %s", b.devName, err)
			return
		}
		if len(frame) == 0 {
			continue
		}
		select {
		case frames <- append([]byte(nil), frame...):
		case <-stop:
			return
		}
	}
}

func (b *webcamBackend) stop() error {
	streaming := b.stopCh != nil
	if streaming {
		close(b.stopCh)
		<-b.done
		b.stopCh, b.done = nil, nil
	}
	if b.cam == nil {
		return nil
	}
	cam := b.cam
	b.cam = nil

	var errs []error
	if streaming {
		if err := cam.StopStreaming(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := cam.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %v", b.devName, errs)
	}

	return nil
}

