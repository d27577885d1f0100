package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"newcamera/pkg/camera"
	"newcamera/pkg/utils"
)

// Session is the part of the camera controller the page drives.
type Session interface {
	Initialize(ctx context.Context, mode camera.SharingMode) error
	Capture(ctx context.Context) (string, error)
	Cleanup(ctx context.Context) error
}

// Page hosts the camera preview. It forwards navigation and suspend events
// to the session and logs failures instead of returning them.
type Page struct {
	session Session
	logger  *zap.SugaredLogger

	lock    sync.Mutex
	current bool
}

func NewPage(session Session) *Page {
	return &Page{
		session: session,
		logger:  utils.GetLogger().Named("page"),
	}
}

// OnNavigatedTo makes the page current and starts the camera.
func (p *Page) OnNavigatedTo(ctx context.Context) {
	p.lock.Lock()
	p.current = true
	p.lock.Unlock()

	if err := p.session.Initialize(ctx, camera.ExclusiveControl); err != nil {
		p.logger.Warnf("navigated to: %s", err)
	}
}

// OnNavigatedFrom releases the camera. The page is no longer current.
func (p *Page) OnNavigatedFrom(ctx context.Context) {
	p.lock.Lock()
	p.current = false
	p.lock.Unlock()

	if err := p.session.Cleanup(ctx); err != nil {
		p.logger.Warnf("navigated from: %s", err)
	}
}

func (p *Page) Current() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.current
}

// Suspending releases the camera when the page is current. The returned
// deferral completes once the cleanup has finished; the host must not
// suspend before that.
func (p *Page) Suspending(ctx context.Context) *Deferral {
	d := newDeferral()
	if !p.Current() {
		d.Complete()
		return d
	}

	go func() {
		defer d.Complete()
		if err := p.session.Cleanup(ctx); err != nil {
			p.logger.Warnf("suspending: %s", err)
		}
	}()

	return d
}

// Resuming starts the camera again after a suspend, if the page is still
// current.
func (p *Page) Resuming(ctx context.Context) {
	if !p.Current() {
		return
	}
	if err := p.session.Initialize(ctx, camera.ExclusiveControl); err != nil {
		p.logger.Warnf("resuming: %s", err)
	}
}

// PhotoButtonClick takes a photo. The saved path is empty on failure.
func (p *Page) PhotoButtonClick(ctx context.Context) string {
	path, err := p.session.Capture(ctx)
	if err != nil {
		p.logger.Warnf("take photo: %s", err)
		return ""
	}

	return path
}

// Deferral holds off a host transition until Complete is called.
type Deferral struct {
	once sync.Once
	done chan struct{}
}

func newDeferral() *Deferral {
	return &Deferral{done: make(chan struct{})}
}

// Complete releases the deferral. Only the first call has an effect.
func (d *Deferral) Complete() {
	d.once.Do(func() { close(d.done) })
}

func (d *Deferral) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the deferral completes or ctx is done.
func (d *Deferral) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
