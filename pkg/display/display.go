// Package display keeps the screen awake while the camera preview runs and
// records the preferred auto-rotation of the preview.
package display

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"newcamera/pkg/utils"
)

const (
	screenSaverDest  = "org.freedesktop.ScreenSaver"
	screenSaverPath  = dbus.ObjectPath("/org/freedesktop/ScreenSaver")
	screenSaverIface = "org.freedesktop.ScreenSaver"
)

var ErrNotActive = errors.New("display request is not active")

type Orientation int

const (
	OrientationNone Orientation = iota
	Landscape
	Portrait
	LandscapeFlipped
	PortraitFlipped
)

func (o Orientation) String() string {
	switch o {
	case Landscape:
		return "Landscape"
	case Portrait:
		return "Portrait"
	case LandscapeFlipped:
		return "LandscapeFlipped"
	case PortraitFlipped:
		return "PortraitFlipped"
	default:
		return "None"
	}
}

// Inhibitor suppresses the screen saver while an inhibition cookie is held.
type Inhibitor interface {
	Inhibit(reason string) (uint32, error)
	UnInhibit(cookie uint32) error
}

// NoopInhibitor is used on hosts without a session bus.
type NoopInhibitor struct{}

func (NoopInhibitor) Inhibit(string) (uint32, error) { return 0, nil }
func (NoopInhibitor) UnInhibit(uint32) error         { return nil }

type DBusInhibitor struct {
	app  string
	conn *dbus.Conn
}

func NewDBusInhibitor(app string) (*DBusInhibitor, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	return &DBusInhibitor{app: app, conn: conn}, nil
}

func (d *DBusInhibitor) Inhibit(reason string) (uint32, error) {
	var cookie uint32
	obj := d.conn.Object(screenSaverDest, screenSaverPath)
	if err := obj.Call(screenSaverIface+".Inhibit", 0, d.app, reason).Store(&cookie); err != nil {
		return 0, fmt.Errorf("inhibit screen saver: %w", err)
	}

	return cookie, nil
}

func (d *DBusInhibitor) UnInhibit(cookie uint32) error {
	obj := d.conn.Object(screenSaverDest, screenSaverPath)
	if err := obj.Call(screenSaverIface+".UnInhibit", 0, cookie).Err; err != nil {
		return fmt.Errorf("uninhibit screen saver: %w", err)
	}

	return nil
}

func (d *DBusInhibitor) Close() error {
	return d.conn.Close()
}

// NewInhibitor returns a D-Bus inhibitor, or a no-op one when the session
// bus can not be reached.
func NewInhibitor(app string) Inhibitor {
	d, err := NewDBusInhibitor(app)
	if err != nil {
		utils.GetLogger().Warnf("display: keep-awake disabled: %s", err)
		return NoopInhibitor{}
	}

	return d
}

// Request is a keep-display-on request. Activations nest: the screen saver
// is inhibited on the first RequestActive and released when every
// activation has been matched by RequestRelease.
type Request struct {
	lock      sync.Mutex
	inhibitor Inhibitor
	logger    *zap.SugaredLogger

	count  int
	cookie uint32
}

func NewRequest(inhibitor Inhibitor) *Request {
	if inhibitor == nil {
		inhibitor = NoopInhibitor{}
	}

	return &Request{inhibitor: inhibitor, logger: utils.GetLogger()}
}

func (r *Request) RequestActive() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.count == 0 {
		cookie, err := r.inhibitor.Inhibit("camera preview")
		if err != nil {
			return err
		}
		r.cookie = cookie
		r.logger.Debug("display: keep-awake acquired")
	}
	r.count++

	return nil
}

func (r *Request) RequestRelease() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.count == 0 {
		return ErrNotActive
	}
	r.count--
	if r.count > 0 {
		return nil
	}
	cookie := r.cookie
	r.cookie = 0
	r.logger.Debug("display: keep-awake released")

	return r.inhibitor.UnInhibit(cookie)
}

func (r *Request) Active() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.count > 0
}

// Info holds display-wide preferences.
type Info struct {
	lock        sync.Mutex
	autoRotated Orientation
}

func (i *Info) SetAutoRotationPreference(o Orientation) {
	i.lock.Lock()
	i.autoRotated = o
	i.lock.Unlock()
}

func (i *Info) AutoRotationPreference() Orientation {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.autoRotated
}
