package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"newcamera/pkg/display"
	"newcamera/pkg/storage/consts"
	imageutil "newcamera/pkg/utils/image"
)

const (
	StateIdle         = "idle"
	StateInitializing = "initializing"
	StatePreviewing   = "previewing"
	StateFailed       = "failed"

	eventInitialize = "initialize"
	eventReady      = "ready"
	eventFail       = "fail"
	eventReset      = "reset"

	StatusInitializing = "Initializing..."
)

// Surface renders the preview frames of the session.
type Surface interface {
	Bind(frames <-chan []byte)
	Unbind()
}

// DisplayRequest keeps the display on while held.
type DisplayRequest interface {
	RequestActive() error
	RequestRelease() error
}

type RotationPreference interface {
	SetAutoRotationPreference(o display.Orientation)
}

// PhotoLibrary is where captured photos are written.
type PhotoLibrary interface {
	CreateUniqueFile(name string) (*os.File, error)
	Record(name string) error
}

type Dependencies struct {
	Device   Device
	Surface  Surface
	Request  DisplayRequest
	Rotation RotationPreference
	Library  PhotoLibrary
}

// Snapshot is a consistent view of the session state.
type Snapshot struct {
	State      string `json:"state"`
	Mode       string `json:"mode,omitempty"`
	Status     string `json:"status"`
	HasDevice  bool   `json:"hasDevice"`
	Previewing bool   `json:"previewing"`
	KeepAwake  bool   `json:"keepAwake"`
	LastPhoto  string `json:"lastPhoto,omitempty"`
}

// Controller owns the lifecycle of one camera handle: acquisition with a
// sharing mode, preview, photo capture and teardown.
//
// Every entry point runs under one sequencing lock, so initialize, capture,
// cleanup and the handling of asynchronous device failures never
// interleave. Concurrent Capture calls are therefore serialized.
type Controller struct {
	mu sync.Mutex

	deps   Dependencies
	logger *zap.SugaredLogger
	fsm    *fsm.FSM

	handle     Handle
	generation uint64

	// observable state, written under mu and view
	view       sync.RWMutex
	mode       SharingMode
	attached   bool
	previewing bool
	awake      bool
	status     string
	lastPhoto  string

	// failLock orders failure registration against Close
	failLock sync.Mutex
	closed   bool
	failures sync.WaitGroup
}

func NewController(deps Dependencies) *Controller {
	c := &Controller{
		deps:   deps,
		logger: logger.Named("session"),
		status: StatusInitializing,
	}
	c.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventInitialize, Src: []string{StateIdle}, Dst: StateInitializing},
			{Name: eventReady, Src: []string{StateInitializing}, Dst: StatePreviewing},
			{Name: eventFail, Src: []string{StateInitializing, StatePreviewing}, Dst: StateFailed},
			{Name: eventReset, Src: []string{StateInitializing, StatePreviewing, StateFailed}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debugf("%s -> %s (%s)", e.Src, e.Dst, e.Event)
			},
		},
	)

	return c
}

// Initialize acquires the camera with mode and starts the preview. A
// failure other than a permission denial in ExclusiveControl is retried
// once in SharedReadOnly.
func (c *Controller) Initialize(ctx context.Context, mode SharingMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	return c.initialize(ctx, mode)
}

func (c *Controller) initialize(ctx context.Context, mode SharingMode) error {
	err := c.tryInitialize(ctx, mode)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermissionDenied):
		c.logger.Warnf("the app was denied access to the camera: %s", err)
		return err
	case mode == ExclusiveControl:
		c.logger.Warnf("initialize in %s: %s, falling back to %s", mode, err, SharedReadOnly)
		if err := c.tryInitialize(ctx, SharedReadOnly); err != nil {
			c.logger.Errorf("initialize in %s: %s", SharedReadOnly, err)
			return err
		}
		return nil
	default:
		c.logger.Errorf("initialize in %s: %s", mode, err)
		return err
	}
}

// tryInitialize is one attempt with no retry. A handle that is already held
// is reused. On failure nothing is kept.
func (c *Controller) tryInitialize(ctx context.Context, mode SharingMode) error {
	if c.handle != nil && c.IsPreviewing() {
		c.view.Lock()
		if c.status == StatusInitializing {
			c.status = statusText(c.mode)
		}
		c.view.Unlock()
		return nil
	}

	c.transition(ctx, eventInitialize)
	if c.handle == nil {
		if err := c.acquire(ctx, mode); err != nil {
			c.transition(ctx, eventFail)
			c.transition(ctx, eventReset)
			return err
		}
	}
	h := c.handle
	mode = c.Mode()

	frames, err := h.StartStream(ctx)
	if err != nil {
		c.transition(ctx, eventFail)
		c.cleanup(ctx)
		return classifyAcquireErr(fmt.Errorf("start preview: %w", err))
	}
	c.deps.Surface.Bind(frames)
	c.setPreviewing(true)

	if err := c.deps.Request.RequestActive(); err != nil {
		c.transition(ctx, eventFail)
		c.cleanup(ctx)
		return fmt.Errorf("%w: keep display active: %w", ErrDeviceAcquisition, err)
	}
	c.view.Lock()
	c.awake = true
	c.status = statusText(mode)
	c.view.Unlock()
	c.deps.Rotation.SetAutoRotationPreference(display.Landscape)

	c.transition(ctx, eventReady)
	c.logger.Infof("previewing in %s", mode)

	return nil
}

func (c *Controller) acquire(ctx context.Context, mode SharingMode) error {
	h, err := c.deps.Device.Acquire(ctx, mode)
	if err != nil {
		return classifyAcquireErr(err)
	}

	c.generation++
	gen := c.generation
	h.OnFailed(func(code uint32, message string) {
		c.failLock.Lock()
		defer c.failLock.Unlock()
		if c.closed {
			c.logger.Debugf("ignore failure (0x%X) after close", code)
			return
		}
		c.failures.Add(1)
		go func() {
			defer c.failures.Done()
			c.deviceFailed(gen, code, message)
		}()
	})
	c.handle = h
	c.view.Lock()
	c.mode = mode
	c.attached = true
	c.view.Unlock()

	return nil
}

// DeviceFailed handles an asynchronous failure of the current device: the
// session is torn down and reinitialized in SharedReadOnly.
func (c *Controller) DeviceFailed(code uint32, message string) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	c.deviceFailed(gen, code, message)
}

func (c *Controller) deviceFailed(gen uint64, code uint32, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil || gen != c.generation {
		c.logger.Debugf("ignore failure (0x%X) of a released device", code)
		return
	}
	c.logger.Warnf("media capture failed: (0x%X) %s", code, message)

	ctx := context.Background()
	c.transition(ctx, eventFail)
	if err := c.cleanup(ctx); err != nil {
		c.logger.Warnf("cleanup after failure: %s", err)
	}
	if c.isClosed() {
		return
	}
	_ = c.initialize(ctx, SharedReadOnly)
}

// Close stops accepting device failures, waits for the ones being handled
// and releases the device. A closed controller can not be initialized.
func (c *Controller) Close(ctx context.Context) error {
	c.failLock.Lock()
	c.closed = true
	c.failLock.Unlock()
	c.failures.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cleanup(ctx)
}

func (c *Controller) isClosed() bool {
	c.failLock.Lock()
	defer c.failLock.Unlock()
	return c.closed
}

// waitFailures blocks until queued failure handlers have returned. Callers
// must not race it with new failures.
func (c *Controller) waitFailures() {
	c.failures.Wait()
}

// Capture takes a photo and saves it as a uniquely named JPEG in the
// library. Failures leave the preview untouched.
func (c *Controller) Capture(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path, err := c.capture(ctx)
	if err != nil {
		c.logger.Errorf("exception when taking a photo: %s", err)
		return path, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	c.logger.Infof("photo saved to %s", path)

	return path, nil
}

func (c *Controller) capture(ctx context.Context) (string, error) {
	if c.handle == nil || !c.previewing {
		return "", ErrNotPreviewing
	}

	llc, err := c.handle.PrepareLowLagCapture(ctx, PixelFormatBGRA8)
	if err != nil {
		return "", fmt.Errorf("prepare low lag capture: %w", err)
	}
	frame, err := llc.Capture(ctx)
	if finishErr := llc.Finish(ctx); finishErr != nil && err == nil {
		err = finishErr
	}
	if err != nil {
		return "", fmt.Errorf("low lag capture: %w", err)
	}
	c.logger.Debugf("low lag frame %v at %s", frame.Image.Bounds().Size(), frame.Timestamp.Format("15:04:05.000"))

	file, err := c.deps.Library.CreateUniqueFile(consts.DefaultPhotoName)
	if err != nil {
		return "", fmt.Errorf("create photo file: %w", err)
	}
	path := file.Name()

	var captured bytes.Buffer
	if err := c.handle.CapturePhotoToStream(ctx, EncodingJPEG, &captured); err != nil {
		_ = file.Close()
		return path, fmt.Errorf("capture photo to stream: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := imageutil.Transcode(w, captured.Bytes(), imageutil.OrientationNormal); err != nil {
		_ = file.Close()
		return path, fmt.Errorf("transcode photo: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return path, err
	}
	if err := file.Close(); err != nil {
		return path, err
	}

	if err := c.deps.Library.Record(filepath.Base(path)); err != nil {
		c.logger.Warnf("record %s: %s", path, err)
	}
	c.view.Lock()
	c.lastPhoto = path
	c.view.Unlock()

	return path, nil
}

// Cleanup stops the preview and releases the display request and the
// device. It is a no-op without a device; a failure to stop the stream is
// reported but does not keep the other resources alive.
func (c *Controller) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cleanup(ctx)
}

func (c *Controller) cleanup(ctx context.Context) error {
	if c.handle == nil {
		return nil
	}

	var errs []error
	if c.IsPreviewing() {
		if err := c.handle.StopStream(ctx); err != nil {
			c.logger.Warnf("exception when stopping preview: %s", err)
			errs = append(errs, fmt.Errorf("%w: stop preview: %w", ErrCleanupPartial, err))
		}
	}
	c.deps.Surface.Unbind()

	c.view.RLock()
	awake := c.awake
	c.view.RUnlock()
	if awake {
		if err := c.deps.Request.RequestRelease(); err != nil {
			c.logger.Warnf("release display request: %s", err)
			errs = append(errs, fmt.Errorf("%w: release display request: %w", ErrCleanupPartial, err))
		}
	}
	if err := c.handle.Close(); err != nil {
		c.logger.Warnf("release device: %s", err)
		errs = append(errs, fmt.Errorf("%w: release device: %w", ErrCleanupPartial, err))
	}

	c.handle = nil
	c.view.Lock()
	c.attached = false
	c.previewing = false
	c.awake = false
	c.view.Unlock()
	c.transition(ctx, eventReset)

	return errors.Join(errs...)
}

func (c *Controller) State() string {
	return c.fsm.Current()
}

// Mode is the sharing mode of the current device, meaningful only while
// HasDevice reports true.
func (c *Controller) Mode() SharingMode {
	c.view.RLock()
	defer c.view.RUnlock()
	return c.mode
}

// Status is the human readable status line, "Sharing Mode: <mode>" once a
// preview has started.
func (c *Controller) Status() string {
	c.view.RLock()
	defer c.view.RUnlock()
	return c.status
}

func (c *Controller) IsPreviewing() bool {
	c.view.RLock()
	defer c.view.RUnlock()
	return c.previewing
}

func (c *Controller) Snapshot() Snapshot {
	c.view.RLock()
	defer c.view.RUnlock()

	s := Snapshot{
		State:      c.fsm.Current(),
		Status:     c.status,
		HasDevice:  c.attached,
		Previewing: c.previewing,
		KeepAwake:  c.awake,
		LastPhoto:  c.lastPhoto,
	}
	if s.Previewing {
		s.Mode = c.mode.String()
	}

	return s
}

// HasDevice reports whether a device handle is held.
func (c *Controller) HasDevice() bool {
	c.view.RLock()
	defer c.view.RUnlock()
	return c.attached
}

func (c *Controller) setPreviewing(v bool) {
	c.view.Lock()
	c.previewing = v
	c.view.Unlock()
}

func (c *Controller) transition(ctx context.Context, event string) {
	if !c.fsm.Can(event) {
		return
	}
	if err := c.fsm.Event(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Debugf("transition %s: %s", event, err)
	}
}

func statusText(mode SharingMode) string {
	return fmt.Sprintf("Sharing Mode: %s", mode)
}
