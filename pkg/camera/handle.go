package camera

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	imageutil "newcamera/pkg/utils/image"
)

type purpose int

const (
	purposePreview purpose = iota
	purposeStill
	purposeRaw
)

// backend is the driver-specific part of a handle. open configures the
// device for a purpose (a SharedReadOnly backend keeps the current format
// whatever the purpose), start streams frames, stop releases the device
// node. A stopped backend can be opened again.
type backend interface {
	open(p purpose) (frameFormat, error)
	start() (<-chan []byte, error)
	stop() error
}

// handle implements Handle on top of a backend. The preview channel is
// persistent: captures that need another format pause the stream, reopen
// the device, and resume the preview into the same channel.
type handle struct {
	mode SharingMode
	opts Options
	be   backend
	hook failureHook

	lock      sync.Mutex
	format    frameFormat
	out       chan []byte
	fwd       *forwarder
	opened    bool
	streaming bool
	closed    bool
}

func newHandle(mode SharingMode, opts Options, be backend) (*handle, error) {
	h := &handle{
		mode: mode,
		opts: opts,
		be:   be,
		out:  make(chan []byte, 1),
	}
	format, err := be.open(purposePreview)
	if err != nil {
		return nil, classifyAcquireErr(err)
	}
	h.format = format
	h.opened = true

	return h, nil
}

func (h *handle) Mode() SharingMode {
	return h.mode
}

func (h *handle) OnFailed(fn func(code uint32, message string)) {
	h.hook.set(fn)
}

func (h *handle) StartStream(ctx context.Context) (<-chan []byte, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if h.streaming {
		return h.out, nil
	}
	if err := h.startPreview(); err != nil {
		return nil, err
	}
	h.streaming = true

	return h.out, nil
}

func (h *handle) StopStream(ctx context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if !h.streaming {
		return nil
	}
	h.streaming = false

	return h.pause()
}

func (h *handle) PrepareLowLagCapture(ctx context.Context, format PixelFormat) (LowLagCapture, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if !h.streaming {
		return nil, ErrNotPreviewing
	}
	if h.mode == SharedReadOnly {
		return &lowLag{h: h, format: format, fwd: h.fwd, raw: h.format}, nil
	}

	if err := h.pause(); err != nil {
		logger.Warnf("camera: pause preview for low-lag capture: %s", err)
	}
	raw, err := h.be.open(purposeRaw)
	if err != nil {
		h.resume()
		return nil, err
	}
	h.opened = true
	frames, err := h.be.start()
	if err != nil {
		h.resume()
		return nil, err
	}

	return &lowLag{h: h, format: format, frames: frames, raw: raw}, nil
}

func (h *handle) CapturePhotoToStream(ctx context.Context, enc Encoding, w io.Writer) error {
	if enc != EncodingJPEG {
		return fmt.Errorf("%w: encoding %d", ErrUnsupported, enc)
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return ErrClosed
	}
	if !h.streaming {
		return ErrNotPreviewing
	}

	var (
		data   []byte
		format frameFormat
		err    error
	)
	if h.mode == SharedReadOnly {
		format = h.format
		data, err = h.fwd.grab(ctx, h.opts.FrameTimeout)
	} else {
		format, data, err = h.captureStill(ctx)
	}
	if err != nil {
		return err
	}

	jpegData, err := encodeFrame(format, data, h.opts.JPEGQuality)
	if err != nil {
		return err
	}
	_, err = w.Write(jpegData)

	return err
}

// captureStill pauses the preview, takes one frame at still resolution and
// resumes the preview whether or not the capture worked.
func (h *handle) captureStill(ctx context.Context) (frameFormat, []byte, error) {
	if err := h.pause(); err != nil {
		logger.Warnf("camera: pause preview for capture: %s", err)
	}
	defer h.resume()

	format, err := h.be.open(purposeStill)
	if err != nil {
		return format, nil, err
	}
	h.opened = true
	frames, err := h.be.start()
	if err != nil {
		return format, nil, err
	}
	data, err := nextFrame(ctx, frames, h.opts.FrameTimeout)
	if err != nil {
		return format, nil, err
	}

	return format, data, nil
}

func (h *handle) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.streaming = false
	err := h.pause()
	close(h.out)

	return err
}

// startPreview opens the device for preview if needed and attaches a
// forwarder to the new stream. Callers hold h.lock.
func (h *handle) startPreview() error {
	if !h.opened {
		format, err := h.be.open(purposePreview)
		if err != nil {
			return err
		}
		h.format = format
		h.opened = true
	}
	src, err := h.be.start()
	if err != nil {
		_ = h.be.stop()
		h.opened = false
		return err
	}
	h.fwd = startForwarder(src, h.out, h.format, h.opts, h.hook.fire)

	return nil
}

// pause stops the forwarder before the device so that the end of the
// stream is not mistaken for a failure. Callers hold h.lock.
func (h *handle) pause() error {
	if h.fwd != nil {
		h.fwd.halt()
		h.fwd = nil
	}
	if !h.opened {
		return nil
	}
	h.opened = false

	return h.be.stop()
}

// resume restarts the preview after a capture, retrying while the driver
// still reports the device busy. A preview that can not be resumed is
// reported as a device failure. Callers hold h.lock.
func (h *handle) resume() {
	if err := h.pause(); err != nil {
		logger.Warnf("camera: release capture stream: %s", err)
	}
	if !h.streaming {
		return
	}
	// give the driver a moment to release its buffers
	time.Sleep(50 * time.Millisecond)

	var err error
	for i := 0; i < 5; i++ {
		if err = h.startPreview(); err == nil {
			return
		}
		if !isBusyErr(err) {
			break
		}
		logger.Warnf("camera: failed to resume preview will retry %d/5: %v", i+1, err)
		time.Sleep(150 * time.Millisecond)
	}
	h.streaming = false
	go h.hook.fire(FailureStreamLost, fmt.Sprintf("resume preview: %s", err))
}

type lowLag struct {
	h        *handle
	format   PixelFormat
	raw      frameFormat
	frames   <-chan []byte
	fwd      *forwarder
	finished bool
}

func (l *lowLag) Capture(ctx context.Context) (*Frame, error) {
	var (
		data []byte
		err  error
	)
	if l.fwd != nil {
		data, err = l.fwd.grab(ctx, l.h.opts.FrameTimeout)
	} else {
		data, err = nextFrame(ctx, l.frames, l.h.opts.FrameTimeout)
	}
	if err != nil {
		return nil, err
	}
	img, err := decodeFrame(l.raw, data)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Image:     imageutil.ToRGBA(img),
		Format:    l.format,
		Timestamp: time.Now(),
	}, nil
}

func (l *lowLag) Finish(ctx context.Context) error {
	if l.finished {
		return nil
	}
	l.finished = true
	if l.fwd != nil {
		return nil
	}

	l.h.lock.Lock()
	defer l.h.lock.Unlock()
	if l.h.closed {
		return nil
	}
	l.h.resume()

	return nil
}
