package types

import (
	"time"
)

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// DiskUsage describes the file system holding the pictures library.
type DiskUsage struct {
	Used        string  `json:"used"`
	Total       string  `json:"total"`
	UsedPercent float64 `json:"usedPercent"`
	Library     string  `json:"library"`
}
