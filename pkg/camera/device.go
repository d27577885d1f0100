package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

var (
	// PreviewPixelFormat is negotiated for the preview stream and stills.
	PreviewPixelFormat v4l2.FourCCType = v4l2.PixelFmtMJPEG
	// RawPixelFormat is negotiated for low-lag captures.
	RawPixelFormat v4l2.FourCCType = v4l2.PixelFmtRGB24
)

// V4L2Device acquires a video4linux node through go4vl.
type V4L2Device struct {
	ctx     context.Context
	devName string
	opts    Options
}

func NewV4L2Device(ctx context.Context, devName string, opts Options) *V4L2Device {
	return &V4L2Device{ctx: ctx, devName: devName, opts: opts}
}

func (d *V4L2Device) Acquire(ctx context.Context, mode SharingMode) (Handle, error) {
	logger.Infof("camera: acquire %s in %s", d.devName, mode)
	h, err := newHandle(mode, d.opts, &v4l2Backend{
		ctx:     d.ctx,
		devName: d.devName,
		mode:    mode,
		opts:    d.opts,
	})
	if err != nil {
		return nil, err
	}

	return h, nil
}

// v4l2Backend opens the node for each stream session, as a stopped go4vl
// device can not be restarted.
type v4l2Backend struct {
	ctx     context.Context
	devName string
	mode    SharingMode
	opts    Options

	cancel context.CancelFunc
	camera *device.Device
}

func (b *v4l2Backend) open(p purpose) (frameFormat, error) {
	if b.camera != nil {
		return frameFormat{}, ErrStarted
	}

	options := []device.Option{device.WithBufferSize(1)}
	if b.mode == ExclusiveControl {
		pixFmt := v4l2.PixFormat{
			PixelFormat: PreviewPixelFormat,
			Width:       uint32(b.opts.PreviewWidth),
			Height:      uint32(b.opts.PreviewHeight),
			Field:       v4l2.FieldNone,
		}
		switch p {
		case purposeStill:
			pixFmt.Width, pixFmt.Height = uint32(b.opts.CaptureWidth), uint32(b.opts.CaptureHeight)
		case purposeRaw:
			pixFmt.PixelFormat = RawPixelFormat
			pixFmt.Width, pixFmt.Height = uint32(b.opts.CaptureWidth), uint32(b.opts.CaptureHeight)
		}
		options = append(options, device.WithPixFormat(pixFmt))
		if b.opts.FPS > 0 {
			options = append(options, device.WithFPS(uint32(b.opts.FPS)))
		}
	}

	camera, err := device.Open(b.devName, options...)
	if err != nil {
		return frameFormat{}, err
	}
	pixFmt, err := camera.GetPixFormat()
	if err != nil {
		_ = camera.Close()
		return frameFormat{}, err
	}
	format, err := fromPixFormat(pixFmt)
	if err != nil {
		_ = camera.Close()
		return frameFormat{}, err
	}
	b.camera = camera
	logger.Debugf("camera: %s opened %s %dx%d", b.devName, format.kind, format.width, format.height)

	return format, nil
}

func (b *v4l2Backend) start() (<-chan []byte, error) {
	if b.camera == nil {
		return nil, fmt.Errorf("%s: device not open", b.devName)
	}
	newCtx, cancel := context.WithCancel(b.ctx)
	if err := b.camera.Start(newCtx); err != nil {
		cancel()
		return nil, err
	}
	b.cancel = cancel

	return b.camera.GetOutput(), nil
}

func (b *v4l2Backend) stop() error {
	if b.cancel != nil {
		// let the stream goroutine reach ctx.Done and stop the device
		// before Close runs
		b.cancel()
		time.Sleep(100 * time.Millisecond)
		b.cancel = nil
	}
	if b.camera != nil {
		err := b.camera.Close()
		b.camera = nil
		return err
	}
	return nil
}

func fromPixFormat(pf v4l2.PixFormat) (frameFormat, error) {
	f := frameFormat{width: int(pf.Width), height: int(pf.Height)}
	switch pf.PixelFormat {
	case v4l2.PixelFmtMJPEG, v4l2.PixelFmtJPEG:
		f.kind = kindJPEG
	case v4l2.PixelFmtRGB24:
		f.kind = kindRGB24
	case v4l2.PixelFmtYUYV:
		f.kind = kindYUYV
	default:
		return f, fmt.Errorf("%w: fourcc %s", ErrUnsupported, v4l2.PixelFormats[pf.PixelFormat])
	}

	return f, nil
}
