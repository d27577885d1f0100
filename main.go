package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"newcamera/pkg/app"
	"newcamera/pkg/camera"
	"newcamera/pkg/config"
	"newcamera/pkg/display"
	"newcamera/pkg/preview"
	"newcamera/pkg/storage"
	"newcamera/pkg/utils"
	"newcamera/pkg/webdav"
)

const suspendTimeout = 10 * time.Second

var (
	configPath = flag.String("config", "", "config file (default $XDG_CONFIG_HOME/"+config.RelPath+")")
	devName    = flag.String("device", camera.DefaultDevice, "video device path")
	driver     = flag.String("driver", camera.DriverV4L2, "camera driver: v4l2 or webcam")
	webdavPort = flag.Int("webdav-port", 9998, "webdav port")
	port       = flag.Int("port", 9999, "ui port")
	storageDir = flag.String("dir", "", "pictures folder (default: the user's pictures directory)")
	staticsDir = flag.String("statics", "", "ui statics directory")
	logLevel   = flag.String("log-level", "info", "log level")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
}

func main() {
	flag.Parse()
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal(err)
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	library, err := storage.New(cfg.PicturesDir)
	if err != nil {
		logger.Fatal(err)
	}
	dev, err := camera.Open(ctx, cfg.Driver, cfg.Device, cfg.CameraOptions())
	if err != nil {
		logger.Fatal(err)
	}

	var inhibitor display.Inhibitor = display.NoopInhibitor{}
	if cfg.KeepAwake {
		inhibitor = display.NewInhibitor("newcamera")
	}
	surface := preview.New()
	controller := camera.NewController(camera.Dependencies{
		Device:   dev,
		Surface:  surface,
		Request:  display.NewRequest(inhibitor),
		Rotation: &display.Info{},
		Library:  library,
	})

	s := &server{
		ctx:        ctx,
		cfg:        cfg,
		controller: controller,
		page:       app.NewPage(controller),
		surface:    surface,
		library:    library,
		webdav:     webdav.New(ctx, cfg.WebdavPort, library.Dir()),
		logger:     logger.Named("api"),
	}
	defer s.webdav.Stop()

	r, err := s.routes(*staticsDir)
	if err != nil {
		logger.Fatal(err)
	}

	s.page.OnNavigatedTo(ctx)
	utils.ListenAndServe(r, cfg.Port, func(sig os.Signal) {
		waitCtx, cancel := context.WithTimeout(ctx, suspendTimeout)
		defer cancel()
		if err := s.page.Suspending(waitCtx).Wait(waitCtx); err != nil {
			logger.Warnf("suspend on %s: %s", sig, err)
		}
		if err := controller.Close(waitCtx); err != nil {
			logger.Warnf("close camera: %s", err)
		}
	})
}

// loadConfig reads the config file and applies the flags given on the
// command line on top of it.
func loadConfig() (*config.Config, error) {
	path := *configPath
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Device = *devName
		case "driver":
			cfg.Driver = *driver
		case "webdav-port":
			cfg.WebdavPort = *webdavPort
		case "port":
			cfg.Port = *port
		case "dir":
			cfg.PicturesDir = *storageDir
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	return cfg, cfg.Validate()
}
