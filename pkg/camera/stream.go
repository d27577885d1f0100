package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	imageutil "newcamera/pkg/utils/image"
)

type frameKind int

const (
	kindJPEG frameKind = iota
	kindRGB24
	kindYUYV
)

func (k frameKind) String() string {
	switch k {
	case kindJPEG:
		return "JPEG"
	case kindRGB24:
		return "RGB24"
	case kindYUYV:
		return "YUYV"
	default:
		return "unknown"
	}
}

type frameFormat struct {
	kind   frameKind
	width  int
	height int
}

func decodeFrame(f frameFormat, data []byte) (image.Image, error) {
	switch f.kind {
	case kindJPEG:
		return jpeg.Decode(bytes.NewReader(data))
	case kindRGB24:
		return imageutil.DecodeRGB(data, f.width, f.height)
	case kindYUYV:
		return imageutil.DecodeYUYV(data, f.width, f.height)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, f.kind)
	}
}

func encodeFrame(f frameFormat, data []byte, quality int) ([]byte, error) {
	if f.kind == kindJPEG {
		return data, nil
	}
	img, err := decodeFrame(f, data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imageutil.EncodeJPEG(img, &buf, quality); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// forwarder copies frames of one stream session into the persistent preview
// channel of a handle, answers grab requests with raw frames and reports a
// stream that ends or stalls without being asked to.
type forwarder struct {
	out     chan<- []byte
	format  frameFormat
	quality int
	timeout time.Duration
	fail    func(code uint32, message string)

	stop chan struct{}
	done chan struct{}

	lock  sync.Mutex
	grabs []chan []byte
}

func startForwarder(src <-chan []byte, out chan<- []byte, format frameFormat, opts Options, fail func(uint32, string)) *forwarder {
	f := &forwarder{
		out:     out,
		format:  format,
		quality: opts.JPEGQuality,
		timeout: opts.FrameTimeout,
		fail:    fail,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go f.run(src)

	return f
}

func (f *forwarder) run(src <-chan []byte) {
	defer close(f.done)

	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)
	if f.timeout > 0 {
		timer = time.NewTimer(f.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-f.stop:
			return
		case <-timeout:
			f.fail(FailureFrameTimeout, fmt.Sprintf("no frame within %s", f.timeout))
			<-f.stop
			return
		case data, ok := <-src:
			if !ok {
				select {
				case <-f.stop:
				default:
					f.fail(FailureStreamLost, "video stream ended unexpectedly")
					<-f.stop
				}
				return
			}
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(f.timeout)
			}
			if len(data) == 0 {
				continue
			}
			f.deliverGrabs(data)

			frame, err := encodeFrame(f.format, data, f.quality)
			if err != nil {
				logger.Debugf("camera: drop preview frame: %s", err)
				continue
			}
			select {
			case f.out <- frame:
			default:
				// drop the frame to avoid blocking the driver
			}
		}
	}
}

func (f *forwarder) deliverGrabs(data []byte) {
	f.lock.Lock()
	grabs := f.grabs
	f.grabs = nil
	f.lock.Unlock()

	for _, ch := range grabs {
		ch <- append([]byte(nil), data...)
	}
}

// grab waits for the next raw frame of the stream.
func (f *forwarder) grab(ctx context.Context, timeout time.Duration) ([]byte, error) {
	ch := make(chan []byte, 1)
	f.lock.Lock()
	f.grabs = append(f.grabs, ch)
	f.lock.Unlock()

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-ch:
		return data, nil
	case <-f.done:
		return nil, errors.New("stream stopped")
	case <-timer.C:
		return nil, errors.New("frame timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *forwarder) halt() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
}

// nextFrame reads one frame from a capture stream.
func nextFrame(ctx context.Context, frames <-chan []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return nil, errors.New("capture stream closed")
			}
			if len(f) == 0 {
				continue
			}
			return append([]byte(nil), f...), nil
		case <-timer.C:
			return nil, errors.New("frame timeout")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// failureHook holds a handle's failure callback.
type failureHook struct {
	lock sync.Mutex
	fn   func(code uint32, message string)
}

func (h *failureHook) set(fn func(uint32, string)) {
	h.lock.Lock()
	h.fn = fn
	h.lock.Unlock()
}

func (h *failureHook) fire(code uint32, message string) {
	h.lock.Lock()
	fn := h.fn
	h.lock.Unlock()

	logger.Warnf("camera: device failed (0x%X) %s", code, message)
	if fn != nil {
		fn(code, message)
	}
}
