package ov

import (
	"newcamera/pkg/camera"
	"newcamera/pkg/types"
)

// Operations accepted by PUT /api/device/session.
const (
	SessionShow = "show"
	SessionHide = "hide"
)

// Operations accepted by PUT /api/device/webdav.
const (
	WebdavStart    = "start"
	WebdavShutdown = "shutdown"
)

type Status struct {
	Session camera.Snapshot `json:"session"`
	Device  string          `json:"device"`
	Driver  string          `json:"driver"`
	Page    bool            `json:"page"`
	Webdav  bool            `json:"webdav"`

	Disk *types.DiskUsage `json:"disk,omitempty"`
}

type Photo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}
