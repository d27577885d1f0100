package utils

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// WatchSignal blocks until SIGTERM or SIGINT arrives and returns it.
func WatchSignal() os.Signal {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signalCh)

	return <-signalCh
}

// ListenAndServe serves h on port until WatchSignal returns. beforeShutdown
// runs after the signal and before the server is shut down, so the caller
// can tear down resources that must not outlive the process.
func ListenAndServe(h http.Handler, port int, beforeShutdown func(os.Signal)) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %s", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(err)
		}
		logger.Info("server shutdown")
		cancel()
	}()

	sig := WatchSignal()
	logger.Infof("received %s", sig)
	if beforeShutdown != nil {
		beforeShutdown(sig)
	}
}
