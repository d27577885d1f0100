package ps

import (
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"

	"newcamera/pkg/types"
)

// DiskUsage reports usage of the file system holding path.
func DiskUsage(path string) (used, total uint64, usedPercent float64, err error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return
	}
	used = usage.Used
	usedPercent = usage.UsedPercent
	total = usage.Total
	return
}

func DirDiskUsage(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return size, nil
}

// LibraryUsage summarises the disk holding a pictures library and the
// space the library itself takes.
func LibraryUsage(dir string) (types.DiskUsage, error) {
	used, total, percent, err := DiskUsage(dir)
	if err != nil {
		return types.DiskUsage{}, err
	}
	lib, err := DirDiskUsage(dir)
	if err != nil {
		return types.DiskUsage{}, err
	}

	return types.DiskUsage{
		Used:        humanize.Bytes(used),
		Total:       humanize.Bytes(total),
		UsedPercent: percent,
		Library:     humanize.Bytes(uint64(lib)),
	}, nil
}
