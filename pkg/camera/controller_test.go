package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"newcamera/pkg/display"
	"newcamera/pkg/storage"
	imageutil "newcamera/pkg/utils/image"
)

type fakeHandle struct {
	mode SharingMode

	startErr   error
	stopErr    error
	captureErr error

	lock     sync.Mutex
	frames   chan []byte
	started  bool
	stopped  int
	closed   int
	prepared int
	finished int
	failed   func(code uint32, message string)
}

func (h *fakeHandle) Mode() SharingMode { return h.mode }

func (h *fakeHandle) StartStream(context.Context) (<-chan []byte, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.startErr != nil {
		return nil, h.startErr
	}
	if h.frames == nil {
		h.frames = make(chan []byte)
	}
	h.started = true
	return h.frames, nil
}

func (h *fakeHandle) StopStream(context.Context) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.stopped++
	return h.stopErr
}

func (h *fakeHandle) PrepareLowLagCapture(context.Context, PixelFormat) (LowLagCapture, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.prepared++
	return fakeLowLag{h: h}, nil
}

func (h *fakeHandle) CapturePhotoToStream(_ context.Context, _ Encoding, w io.Writer) error {
	if h.captureErr != nil {
		return h.captureErr
	}
	return imageutil.EncodeJPEG(testPhoto(), w, 90)
}

func (h *fakeHandle) OnFailed(fn func(code uint32, message string)) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.failed = fn
}

func (h *fakeHandle) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.closed++
	return nil
}

func (h *fakeHandle) fail(code uint32, message string) {
	h.lock.Lock()
	fn := h.failed
	h.lock.Unlock()
	fn(code, message)
}

type fakeLowLag struct {
	h *fakeHandle
}

func (l fakeLowLag) Capture(context.Context) (*Frame, error) {
	return &Frame{Image: testPhoto(), Format: PixelFormatBGRA8, Timestamp: time.Now()}, nil
}

func (l fakeLowLag) Finish(context.Context) error {
	l.h.lock.Lock()
	defer l.h.lock.Unlock()
	l.h.finished++
	return nil
}

// fakeDevice answers each Acquire with the next queued error, or a new
// handle once the queue is empty.
type fakeDevice struct {
	lock    sync.Mutex
	errs    []error
	calls   []SharingMode
	handles []*fakeHandle
	prepare func(h *fakeHandle)
}

func (d *fakeDevice) Acquire(_ context.Context, mode SharingMode) (Handle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.calls = append(d.calls, mode)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	h := &fakeHandle{mode: mode}
	if d.prepare != nil {
		d.prepare(h)
	}
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *fakeDevice) modes() []SharingMode {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]SharingMode(nil), d.calls...)
}

type fakeSurface struct {
	lock   sync.Mutex
	bound  bool
	binds  int
	unbind int
}

func (s *fakeSurface) Bind(<-chan []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.bound = true
	s.binds++
}

func (s *fakeSurface) Unbind() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.bound = false
	s.unbind++
}

type recordInhibitor struct {
	lock     sync.Mutex
	inhibit  int
	release  int
	inhibErr error
}

func (r *recordInhibitor) Inhibit(string) (uint32, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.inhibErr != nil {
		return 0, r.inhibErr
	}
	r.inhibit++
	return uint32(r.inhibit), nil
}

func (r *recordInhibitor) UnInhibit(uint32) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.release++
	return nil
}

type session struct {
	c         *Controller
	dev       *fakeDevice
	surface   *fakeSurface
	request   *display.Request
	inhibitor *recordInhibitor
	info      *display.Info
	library   *storage.Library
}

func newSession(t *testing.T) *session {
	t.Helper()

	lib, err := storage.New(filepath.Join(t.TempDir(), "Pictures"))
	if err != nil {
		t.Fatal(err)
	}
	s := &session{
		dev:       &fakeDevice{},
		surface:   &fakeSurface{},
		inhibitor: &recordInhibitor{},
		info:      &display.Info{},
		library:   lib,
	}
	s.request = display.NewRequest(s.inhibitor)
	s.c = NewController(Dependencies{
		Device:   s.dev,
		Surface:  s.surface,
		Request:  s.request,
		Rotation: s.info,
		Library:  s.library,
	})

	return s
}

func testPhoto() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 80, A: 0xff})
		}
	}
	return img
}

func assertPreviewing(t *testing.T, s *session, mode SharingMode) {
	t.Helper()

	snap := s.c.Snapshot()
	if !snap.HasDevice || !snap.Previewing || !snap.KeepAwake {
		t.Fatalf("snapshot %+v, want device, preview and keep-awake", snap)
	}
	if snap.State != StatePreviewing {
		t.Errorf("state %q, want %q", snap.State, StatePreviewing)
	}
	if want := "Sharing Mode: " + mode.String(); snap.Status != want {
		t.Errorf("status %q, want %q", snap.Status, want)
	}
	if s.c.Mode() != mode {
		t.Errorf("mode %s, want %s", s.c.Mode(), mode)
	}
	if !s.request.Active() {
		t.Error("display request not active")
	}
	if !s.surface.bound {
		t.Error("surface not bound")
	}
}

func assertReleased(t *testing.T, s *session) {
	t.Helper()

	snap := s.c.Snapshot()
	if snap.HasDevice || snap.Previewing || snap.KeepAwake {
		t.Fatalf("snapshot %+v, want everything released", snap)
	}
	if snap.State != StateIdle {
		t.Errorf("state %q, want %q", snap.State, StateIdle)
	}
	if s.request.Active() {
		t.Error("display request still active")
	}
	if s.surface.bound {
		t.Error("surface still bound")
	}
}

func TestInitializeExclusive(t *testing.T) {
	s := newSession(t)
	if got := s.c.Status(); got != StatusInitializing {
		t.Fatalf("initial status %q", got)
	}

	if err := s.c.Initialize(context.Background(), ExclusiveControl); err != nil {
		t.Fatal(err)
	}
	assertPreviewing(t, s, ExclusiveControl)
	if got := s.info.AutoRotationPreference(); got != display.Landscape {
		t.Errorf("rotation preference %s, want %s", got, display.Landscape)
	}
	if got := s.dev.modes(); len(got) != 1 {
		t.Errorf("acquire calls %v, want one", got)
	}
}

func TestInitializeFallsBackToShared(t *testing.T) {
	s := newSession(t)
	s.dev.errs = []error{syscall.EBUSY}

	if err := s.c.Initialize(context.Background(), ExclusiveControl); err != nil {
		t.Fatal(err)
	}
	assertPreviewing(t, s, SharedReadOnly)

	got := s.dev.modes()
	if len(got) != 2 || got[0] != ExclusiveControl || got[1] != SharedReadOnly {
		t.Errorf("acquire calls %v", got)
	}
}

func TestInitializeFallsBackOnce(t *testing.T) {
	s := newSession(t)
	s.dev.errs = []error{syscall.EBUSY, syscall.ENODEV, syscall.ENODEV}

	err := s.c.Initialize(context.Background(), ExclusiveControl)
	if !errors.Is(err, ErrDeviceAcquisition) {
		t.Fatalf("err %v, want %v", err, ErrDeviceAcquisition)
	}
	if got := s.dev.modes(); len(got) != 2 {
		t.Errorf("acquire calls %v, want two", got)
	}
	assertReleased(t, s)
	if got := s.c.Status(); got != StatusInitializing {
		t.Errorf("status %q", got)
	}
}

func TestInitializeSharedDoesNotRetry(t *testing.T) {
	s := newSession(t)
	s.dev.errs = []error{syscall.ENODEV}

	if err := s.c.Initialize(context.Background(), SharedReadOnly); err == nil {
		t.Fatal("expected error")
	}
	if got := s.dev.modes(); len(got) != 1 {
		t.Errorf("acquire calls %v, want one", got)
	}
}

func TestInitializePermissionDenied(t *testing.T) {
	s := newSession(t)
	s.dev.errs = []error{&os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}}

	err := s.c.Initialize(context.Background(), ExclusiveControl)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err %v, want %v", err, ErrPermissionDenied)
	}
	if got := s.dev.modes(); len(got) != 1 {
		t.Errorf("acquire calls %v, want no fallback", got)
	}
	if got := s.c.Status(); got != StatusInitializing {
		t.Errorf("status %q, want %q", got, StatusInitializing)
	}
	assertReleased(t, s)
}

func TestInitializeStartFailureReleasesHandle(t *testing.T) {
	s := newSession(t)
	first := true
	s.dev.prepare = func(h *fakeHandle) {
		if first {
			h.startErr = errors.New("stream on: input/output error")
			first = false
		}
	}

	if err := s.c.Initialize(context.Background(), ExclusiveControl); err != nil {
		t.Fatal(err)
	}
	if h := s.dev.handles[0]; h.closed != 1 {
		t.Errorf("failed handle closed %d times", h.closed)
	}
	assertPreviewing(t, s, SharedReadOnly)
}

func TestInitializeWhilePreviewing(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.dev.modes(); len(got) != 1 {
		t.Errorf("acquire calls %v, want one", got)
	}
	if s.inhibitor.inhibit != 1 {
		t.Errorf("inhibit %d times", s.inhibitor.inhibit)
	}
}

func TestCleanup(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
		t.Fatal(err)
	}

	if err := s.c.Cleanup(ctx); err != nil {
		t.Fatal(err)
	}
	assertReleased(t, s)
	h := s.dev.handles[0]
	if h.stopped != 1 || h.closed != 1 {
		t.Errorf("stopped %d closed %d", h.stopped, h.closed)
	}

	before := s.c.Snapshot()
	if err := s.c.Cleanup(ctx); err != nil {
		t.Fatal(err)
	}
	if after := s.c.Snapshot(); after != before {
		t.Errorf("second cleanup changed %+v to %+v", before, after)
	}
	if h.stopped != 1 || h.closed != 1 || s.inhibitor.release != 1 {
		t.Errorf("second cleanup released again: stopped %d closed %d uninhibit %d", h.stopped, h.closed, s.inhibitor.release)
	}
}

func TestCleanupWithoutDevice(t *testing.T) {
	s := newSession(t)
	if err := s.c.Cleanup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.surface.unbind != 0 {
		t.Error("unbind without a session")
	}
}

func TestCleanupStopFailure(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	s.dev.prepare = func(h *fakeHandle) { h.stopErr = errors.New("stream off failed") }
	if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
		t.Fatal(err)
	}

	err := s.c.Cleanup(ctx)
	if !errors.Is(err, ErrCleanupPartial) {
		t.Fatalf("err %v, want %v", err, ErrCleanupPartial)
	}
	assertReleased(t, s)
	if h := s.dev.handles[0]; h.closed != 1 {
		t.Errorf("handle closed %d times", h.closed)
	}
}

func TestDeviceFailedReinitializesShared(t *testing.T) {
	s := newSession(t)
	if err := s.c.Initialize(context.Background(), ExclusiveControl); err != nil {
		t.Fatal(err)
	}

	s.dev.handles[0].fail(FailureStreamLost, "stream lost")
	s.c.waitFailures()

	got := s.dev.modes()
	if len(got) != 2 || got[1] != SharedReadOnly {
		t.Fatalf("acquire calls %v", got)
	}
	if h := s.dev.handles[0]; h.closed != 1 {
		t.Errorf("failed handle closed %d times", h.closed)
	}
	assertPreviewing(t, s, SharedReadOnly)
	if s.inhibitor.inhibit != 2 || s.inhibitor.release != 1 {
		t.Errorf("inhibit %d release %d", s.inhibitor.inhibit, s.inhibitor.release)
	}
}

func TestDeviceFailedSharedFailureStaysReleased(t *testing.T) {
	s := newSession(t)
	if err := s.c.Initialize(context.Background(), ExclusiveControl); err != nil {
		t.Fatal(err)
	}
	s.dev.errs = []error{syscall.ENODEV}

	s.dev.handles[0].fail(FailureFrameTimeout, "no frame")
	s.c.waitFailures()

	if got := s.dev.modes(); len(got) != 2 {
		t.Errorf("acquire calls %v, want one shared attempt", got)
	}
	assertReleased(t, s)
}

func TestStaleDeviceFailureIgnored(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
		t.Fatal(err)
	}
	if err := s.c.Cleanup(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
		t.Fatal(err)
	}

	s.dev.handles[0].fail(FailureStreamLost, "late")
	s.c.waitFailures()

	if got := s.dev.modes(); len(got) != 2 {
		t.Errorf("acquire calls %v", got)
	}
	assertPreviewing(t, s, ExclusiveControl)
	if h := s.dev.handles[1]; h.closed != 0 {
		t.Error("current handle released by a stale failure")
	}
}

func TestCapture(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
		t.Fatal(err)
	}
	dir, err := s.library.SaveFolder()
	if err != nil {
		t.Fatal(err)
	}
	taken := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(taken, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := s.c.Capture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "photo (2).jpg"); path != want {
		t.Errorf("path %q, want %q", path, want)
	}
	if b, _ := os.ReadFile(taken); string(b) != "keep" {
		t.Error("existing photo overwritten")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	o, ok, err := imageutil.Orientation(data)
	if err != nil || !ok || o != imageutil.OrientationNormal {
		t.Errorf("orientation %d %v %v", o, ok, err)
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("saved photo does not decode: %s", err)
	}

	h := s.dev.handles[0]
	if h.prepared != 1 || h.finished != 1 {
		t.Errorf("low lag prepared %d finished %d", h.prepared, h.finished)
	}
	if got := s.c.Snapshot().LastPhoto; got != path {
		t.Errorf("last photo %q", got)
	}
	assertPreviewing(t, s, ExclusiveControl)
}

func TestCaptureNotPreviewing(t *testing.T) {
	s := newSession(t)

	_, err := s.c.Capture(context.Background())
	if !errors.Is(err, ErrCaptureFailed) || !errors.Is(err, ErrNotPreviewing) {
		t.Fatalf("err %v", err)
	}
}

func TestCaptureFailureKeepsPreview(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	s.dev.prepare = func(h *fakeHandle) { h.captureErr = errors.New("encoder busy") }
	if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
		t.Fatal(err)
	}

	if _, err := s.c.Capture(ctx); !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("err %v, want %v", err, ErrCaptureFailed)
	}
	assertPreviewing(t, s, ExclusiveControl)
}

func TestConcurrentCaptures(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
		t.Fatal(err)
	}

	const n = 4
	paths := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.c.Capture(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			paths <- p
		}()
	}
	wg.Wait()
	close(paths)

	seen := map[string]bool{}
	for p := range paths {
		if seen[p] {
			t.Errorf("duplicate path %s", p)
		}
		seen[p] = true
	}
	if len(seen) != n {
		t.Errorf("%d photos, want %d", len(seen), n)
	}
}

func TestCloseIgnoresLateFailures(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
		t.Fatal(err)
	}

	if err := s.c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	assertReleased(t, s)

	s.dev.handles[0].fail(FailureStreamLost, "late resume failure")
	s.c.waitFailures()
	if got := s.dev.modes(); len(got) != 1 {
		t.Errorf("acquire calls %v after close", got)
	}
	if err := s.c.Initialize(ctx, ExclusiveControl); !errors.Is(err, ErrClosed) {
		t.Errorf("initialize after close: %v", err)
	}
	if err := s.c.Close(ctx); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestCloseWaitsForFailureHandler(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	if err := s.c.Initialize(ctx, ExclusiveControl); err != nil {
		t.Fatal(err)
	}

	s.dev.handles[0].fail(FailureStreamLost, "stream lost")
	if err := s.c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	assertReleased(t, s)
	for i, h := range s.dev.handles {
		if h.closed != 1 {
			t.Errorf("handle %d closed %d times", i, h.closed)
		}
	}
}
