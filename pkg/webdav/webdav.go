package webdav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"newcamera/pkg/utils"
)

// Server exports the pictures folder over WebDAV on demand.
type Server struct {
	lock   sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   <-chan struct{}
	port   int
	dir    string
	logger *zap.SugaredLogger
}

func New(ctx context.Context, port int, dir string) *Server {
	return &Server{
		ctx:    ctx,
		port:   port,
		dir:    dir,
		logger: utils.GetLogger().Named("webdav"),
	}
}

// Start listens on the configured port. It reports false when the server
// was already running.
func (w *Server) Start() (bool, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel != nil {
		return false, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", w.port))
	if err != nil {
		return false, fmt.Errorf("webdav listen: %w", err)
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.cancel = cancel
	w.done = Serve(ctx, ln, Handler(w.dir, w.logger))
	w.logger.Infof("serving %s on %s", w.dir, ln.Addr())

	return true, nil
}

// Stop shuts the server down and waits for it. It reports false when the
// server was not running.
func (w *Server) Stop() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel == nil {
		return false
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil

	return true
}

func (w *Server) Running() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.cancel != nil
}

func Handler(dir string, logger *zap.SugaredLogger) http.Handler {
	return &webdav.Handler{
		FileSystem: webdav.Dir(dir),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Errorf("WEBDAV [%s]: %s, err: %s", r.Method, r.URL, err)
			}
		},
	}
}

// Serve runs h on ln until ctx is done. The returned channel is closed once
// the server has shut down.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) <-chan struct{} {
	logger := utils.GetLogger()
	svr := &http.Server{Handler: h}
	done := make(chan struct{})

	go func() {
		if err := svr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("webdav server err: %s", err)
		}
	}()
	go func() {
		defer close(done)
		<-ctx.Done()
		srcCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svr.Shutdown(srcCtx); err != nil {
			logger.Errorf("shutdown webdav server err: %s", err)
		}
	}()

	return done
}
