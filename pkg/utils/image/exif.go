package image

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"io"

	exif "github.com/dsoprea/go-exif/v3"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
)

const (
	// OrientationNormal is the EXIF orientation for an upright, top-left image.
	OrientationNormal uint16 = 1

	orientationTag = "Orientation"
)

var ErrNotJPEG = errors.New("not a jpeg stream")

// Transcode copies the JPEG in src to dst with the EXIF orientation tag set
// to orientation. Only the EXIF APP1 segment is rebuilt, or inserted when
// the source has none; every other segment and the scan data are copied
// untouched. Nothing is written to dst on failure.
func Transcode(dst io.Writer, src []byte, orientation uint16) error {
	if _, err := jpeg.DecodeConfig(bytes.NewReader(src)); err != nil {
		return fmt.Errorf("%w: %w", ErrNotJPEG, err)
	}
	sl, err := parseSegments(src)
	if err != nil {
		return err
	}

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		return fmt.Errorf("read exif: %w", err)
	}
	if err := rootIb.SetStandardWithName(orientationTag, []uint16{orientation}); err != nil {
		return fmt.Errorf("set orientation: %w", err)
	}
	if err := sl.SetExif(rootIb); err != nil {
		return fmt.Errorf("write exif: %w", err)
	}

	var out bytes.Buffer
	out.Grow(len(src) + 256)
	if err := sl.Write(&out); err != nil {
		return fmt.Errorf("write jpeg: %w", err)
	}
	_, err = dst.Write(out.Bytes())

	return err
}

// Orientation reports the EXIF orientation stored in a JPEG. ok is false
// when the stream carries no orientation tag.
func Orientation(src []byte) (orientation uint16, ok bool, err error) {
	sl, err := parseSegments(src)
	if err != nil {
		return 0, false, err
	}
	if _, _, err := sl.FindExif(); errors.Is(err, exif.ErrNoExif) {
		return 0, false, nil
	}
	rootIfd, _, err := sl.Exif()
	if err != nil {
		return 0, false, fmt.Errorf("read exif: %w", err)
	}

	entries, err := rootIfd.FindTagWithName(orientationTag)
	if errors.Is(err, exif.ErrTagNotFound) || (err == nil && len(entries) == 0) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	value, err := entries[0].Value()
	if err != nil {
		return 0, false, err
	}
	shorts, isShort := value.([]uint16)
	if !isShort || len(shorts) == 0 {
		return 0, false, fmt.Errorf("orientation has unexpected value %v", value)
	}

	return shorts[0], true, nil
}

func parseSegments(src []byte) (*jpegstructure.SegmentList, error) {
	if len(src) < 4 || src[0] != 0xff || src[1] != 0xd8 {
		return nil, ErrNotJPEG
	}
	mc, err := jpegstructure.NewJpegMediaParser().ParseBytes(src)
	if err != nil {
		return nil, fmt.Errorf("parse jpeg segments: %w", err)
	}
	sl, ok := mc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, ErrNotJPEG
	}

	return sl, nil
}
