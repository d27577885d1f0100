package camera

import (
	"context"
	"errors"
	"image"
	"io"
	"time"
)

var (
	ErrPermissionDenied  = errors.New("camera access denied")
	ErrDeviceAcquisition = errors.New("camera device acquisition failed")
	ErrCaptureFailed     = errors.New("photo capture failed")
	ErrCleanupPartial    = errors.New("camera cleanup incomplete")
	ErrNotPreviewing     = errors.New("camera is not previewing")
	ErrStarted           = errors.New("already started")
	ErrUnsupported       = errors.New("unsupported format")
	ErrClosed            = errors.New("camera handle closed")
)

// SharingMode is the kind of access requested on the camera device.
type SharingMode int

const (
	ExclusiveControl SharingMode = iota
	SharedReadOnly
)

func (m SharingMode) String() string {
	switch m {
	case ExclusiveControl:
		return "ExclusiveControl"
	case SharedReadOnly:
		return "SharedReadOnly"
	default:
		return "Unknown"
	}
}

// PixelFormat is the uncompressed layout requested for a low-lag capture.
type PixelFormat int

const (
	PixelFormatBGRA8 PixelFormat = iota
	PixelFormatRGB24
)

// Encoding selects the encoder of CapturePhotoToStream.
type Encoding int

const (
	EncodingJPEG Encoding = iota
)

// Failure codes passed to a handle's failure callback.
const (
	FailureStreamLost   uint32 = 0x1
	FailureFrameTimeout uint32 = 0x2
)

// Frame is one uncompressed still taken by a LowLagCapture.
type Frame struct {
	Image     image.Image
	Format    PixelFormat
	Timestamp time.Time
}

// Device is the camera driver. Acquire opens the device with the requested
// sharing mode; nothing is retained when it fails.
type Device interface {
	Acquire(ctx context.Context, mode SharingMode) (Handle, error)
}

// Handle is an acquired camera. All methods except OnFailed are called by a
// single goroutine at a time.
type Handle interface {
	Mode() SharingMode

	// StartStream starts the preview and returns its JPEG frames. The
	// channel is closed by Close.
	StartStream(ctx context.Context) (<-chan []byte, error)
	StopStream(ctx context.Context) error

	PrepareLowLagCapture(ctx context.Context, format PixelFormat) (LowLagCapture, error)
	CapturePhotoToStream(ctx context.Context, enc Encoding, w io.Writer) error

	// OnFailed registers the callback for asynchronous device failures.
	// The callback may run on any goroutine.
	OnFailed(fn func(code uint32, message string))

	Close() error
}

type LowLagCapture interface {
	Capture(ctx context.Context) (*Frame, error)
	Finish(ctx context.Context) error
}

type Options struct {
	PreviewWidth  int
	PreviewHeight int
	CaptureWidth  int
	CaptureHeight int
	FPS           int
	JPEGQuality   int

	// FrameTimeout is how long a running stream may go without a frame
	// before the device is reported as failed.
	FrameTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		PreviewWidth:  1280,
		PreviewHeight: 720,
		CaptureWidth:  1920,
		CaptureHeight: 1080,
		FPS:           DefaultFPS,
		JPEGQuality:   95,
		FrameTimeout:  5 * time.Second,
	}
}
