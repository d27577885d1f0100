package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"newcamera/pkg/storage/consts"
)

func checkErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestSaveFolderCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Pictures", "nested")
	l, err := New(dir)
	checkErr(t, err)

	got, err := l.SaveFolder()
	checkErr(t, err)
	if got != dir {
		t.Errorf("SaveFolder = %s, want %s", got, dir)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("save folder not created: %v", err)
	}
}

func TestCreateUniqueFileAvoidsCollision(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	checkErr(t, err)

	existing := filepath.Join(dir, consts.DefaultPhotoName)
	checkErr(t, os.WriteFile(existing, []byte("old"), 0644))

	f, err := l.CreateUniqueFile(consts.DefaultPhotoName)
	checkErr(t, err)
	defer f.Close()

	if filepath.Base(f.Name()) == consts.DefaultPhotoName {
		t.Fatalf("new file reused the existing name %s", consts.DefaultPhotoName)
	}
	if filepath.Base(f.Name()) != "photo (2).jpg" {
		t.Errorf("name = %s, want photo (2).jpg", filepath.Base(f.Name()))
	}
	data, err := os.ReadFile(existing)
	checkErr(t, err)
	if string(data) != "old" {
		t.Error("existing file was modified")
	}

	g, err := l.CreateUniqueFile(consts.DefaultPhotoName)
	checkErr(t, err)
	defer g.Close()
	if filepath.Base(g.Name()) != "photo (3).jpg" {
		t.Errorf("name = %s, want photo (3).jpg", filepath.Base(g.Name()))
	}
}

func TestCreateUniqueFileRejectsPaths(t *testing.T) {
	l, err := New(t.TempDir())
	checkErr(t, err)

	for _, name := range []string{"", "..", "../x.jpg", "a/b.jpg"} {
		if _, err := l.CreateUniqueFile(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("CreateUniqueFile(%q) err = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestRecordAndList(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	checkErr(t, err)

	latest, err := l.LatestImageName()
	checkErr(t, err)
	if latest != "" {
		t.Errorf("latest on empty library = %q", latest)
	}

	for i := 0; i < 2; i++ {
		f, err := l.CreateUniqueFile(consts.DefaultPhotoName)
		checkErr(t, err)
		_, err = f.Write([]byte("jpeg"))
		checkErr(t, err)
		checkErr(t, f.Close())
		checkErr(t, l.Record(filepath.Base(f.Name())))
	}
	checkErr(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	latest, err = l.LatestImageName()
	checkErr(t, err)
	if latest != "photo (2).jpg" {
		t.Errorf("latest = %q", latest)
	}

	files, err := l.ListImages()
	checkErr(t, err)
	if len(files) != 2 {
		t.Fatalf("ListImages returned %d files: %v", len(files), files)
	}
	if files[0].Size != "4 B" {
		t.Errorf("size = %q, want 4 B", files[0].Size)
	}
}

func TestImagePath(t *testing.T) {
	l, err := New(t.TempDir())
	checkErr(t, err)

	if _, err := l.ImagePath("../etc/passwd"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("traversal accepted: %v", err)
	}
	p, err := l.ImagePath("photo.jpg")
	checkErr(t, err)
	if filepath.Dir(p) != l.Dir() {
		t.Errorf("path %s outside library %s", p, l.Dir())
	}
}
