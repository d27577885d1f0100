package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"newcamera/pkg/camera"
)

// RelPath is the config file location below the XDG config home.
const RelPath = "newcamera/config.yml"

type SizeConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps,omitempty"`
}

type Config struct {
	Device string `yaml:"device"`
	Driver string `yaml:"driver"` // v4l2 or webcam

	Port       int `yaml:"port"`
	WebdavPort int `yaml:"webdav_port"`

	// PicturesDir is the save folder. Empty selects the user's pictures directory.
	PicturesDir string `yaml:"pictures_dir"`

	Preview        SizeConfig `yaml:"preview"`
	Capture        SizeConfig `yaml:"capture"`
	JPEGQuality    int        `yaml:"jpeg_quality"`
	FrameTimeoutMs int        `yaml:"frame_timeout_ms"`

	KeepAwake bool   `yaml:"keep_awake"`
	LogLevel  string `yaml:"log_level"`
}

func Default() *Config {
	opts := camera.DefaultOptions()

	return &Config{
		Device:     camera.DefaultDevice,
		Driver:     camera.DriverV4L2,
		Port:       9999,
		WebdavPort: 9998,
		Preview: SizeConfig{
			Width:  opts.PreviewWidth,
			Height: opts.PreviewHeight,
			FPS:    opts.FPS,
		},
		Capture: SizeConfig{
			Width:  opts.CaptureWidth,
			Height: opts.CaptureHeight,
		},
		JPEGQuality:    opts.JPEGQuality,
		FrameTimeoutMs: int(opts.FrameTimeout / time.Millisecond),
		KeepAwake:      true,
		LogLevel:       "info",
	}
}

// Path returns the config file path, creating its directory.
func Path() (string, error) {
	p, err := xdg.ConfigFile(RelPath)
	if err != nil {
		return "", fmt.Errorf("can't get config file path: %w", err)
	}

	return p, nil
}

// Load reads the YAML file at path on top of the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("could not render config file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	switch c.Driver {
	case camera.DriverV4L2, camera.DriverWebcam:
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.Device == "" {
		return fmt.Errorf("device is required")
	}
	if err := validPort("port", c.Port); err != nil {
		return err
	}
	if err := validPort("webdav_port", c.WebdavPort); err != nil {
		return err
	}
	if c.Port == c.WebdavPort {
		return fmt.Errorf("port and webdav_port must differ, both are %d", c.Port)
	}
	if c.Preview.Width <= 0 || c.Preview.Height <= 0 {
		return fmt.Errorf("preview size must be > 0, got %dx%d", c.Preview.Width, c.Preview.Height)
	}
	if c.Preview.FPS <= 0 {
		return fmt.Errorf("preview.fps must be > 0, got %d", c.Preview.FPS)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture size must be > 0, got %dx%d", c.Capture.Width, c.Capture.Height)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.FrameTimeoutMs <= 0 {
		return fmt.Errorf("frame_timeout_ms must be > 0, got %d", c.FrameTimeoutMs)
	}

	return nil
}

// CameraOptions converts the config into device options.
func (c *Config) CameraOptions() camera.Options {
	return camera.Options{
		PreviewWidth:  c.Preview.Width,
		PreviewHeight: c.Preview.Height,
		CaptureWidth:  c.Capture.Width,
		CaptureHeight: c.Capture.Height,
		FPS:           c.Preview.FPS,
		JPEGQuality:   c.JPEGQuality,
		FrameTimeout:  time.Duration(c.FrameTimeoutMs) * time.Millisecond,
	}
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
