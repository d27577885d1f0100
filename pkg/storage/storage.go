package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"newcamera/pkg/storage/consts"
	"newcamera/pkg/types"
)

var (
	ErrExhausted   = errors.New("no unique file name available")
	ErrInvalidName = errors.New("invalid file name")
)

// Library is the pictures library photos are saved into. The save folder is
// created lazily so that a missing directory never blocks initialisation.
type Library struct {
	dir  string
	lock sync.Mutex
}

type ImagesInfo struct {
	Count       int    `json:"count"`
	LatestImage string `json:"latestImage"`

	UpdateAt time.Time `json:"updateAt"`
}

// New returns a library rooted at dir. An empty dir selects the user's
// pictures directory.
func New(dir string) (*Library, error) {
	if dir == "" {
		dir = xdg.UserDirs.Pictures
	}
	if dir == "" {
		return nil, fmt.Errorf("pictures directory can not be empty")
	}

	return &Library{dir: filepath.Clean(dir)}, nil
}

func (l *Library) Dir() string {
	return l.dir
}

// SaveFolder returns the save folder, creating it when it does not exist.
func (l *Library) SaveFolder() (string, error) {
	if err := os.MkdirAll(l.dir, consts.DefaultDirPerm); err != nil {
		return "", fmt.Errorf("create save folder: %w", err)
	}

	return l.dir, nil
}

// CreateUniqueFile creates a new empty file named name in the save folder.
// When name is taken, "stem (2).ext", "stem (3).ext", ... are tried in turn;
// an existing file is never truncated.
func (l *Library) CreateUniqueFile(name string) (*os.File, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dir, err := l.SaveFolder()
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; i <= consts.MaxUniqueAttempts; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_RDWR|os.O_CREATE|os.O_EXCL, consts.DefaultFilePerm)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrExhausted, name)
}

// Record notes a newly saved image in the library index.
func (l *Library) Record(name string) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	info, err := l.loadImageInfo()
	if err != nil {
		return err
	}
	info.Count++
	info.LatestImage = name

	return l.dumpImageInfo(info)
}

func (l *Library) LatestImageName() (string, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	info, err := l.loadImageInfo()
	if err != nil {
		return "", err
	}

	return info.LatestImage, nil
}

func (l *Library) ListImages() ([]types.File, error) {
	files, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.File{}, nil
	}
	if err != nil {
		return nil, err
	}
	res := make([]types.File, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(file.Name()), consts.DefaultImageExt) {
			continue
		}
		fi, err := file.Info()
		if err != nil {
			continue
		}
		res = append(res, types.File{
			Name:    file.Name(),
			Size:    humanize.Bytes(uint64(fi.Size())),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ModTime.Before(res[j].ModTime)
	})

	return res, nil
}

// ImagePath resolves name inside the library, rejecting anything that
// would escape it.
func (l *Library) ImagePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return filepath.Join(l.dir, name), nil
}

func (l *Library) loadImageInfo() (*ImagesInfo, error) {
	info := &ImagesInfo{}
	data, err := os.ReadFile(l.getImageInfoPath())
	if errors.Is(err, fs.ErrNotExist) {
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image info err: %w", err)
	}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal image info err: %w", err)
	}

	return info, nil
}

func (l *Library) dumpImageInfo(info *ImagesInfo) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(l.getImageInfoPath(), data, consts.DefaultFilePerm)
}

func (l *Library) getImageInfoPath() string {
	return filepath.Join(l.dir, consts.DefaultInfoFile)
}
