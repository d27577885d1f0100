package image

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

func RGBToRGBA(in, out []byte, width, height int) {
	outStride := width * 4
	inStride := len(in) / height

	for i := 0; i < height; i++ {
		oIndex := i * outStride
		iIndex := i * inStride
		for j := 0; j < width; j++ {
			out[oIndex] = in[iIndex]
			out[oIndex+1] = in[iIndex+1]
			out[oIndex+2] = in[iIndex+2]
			out[oIndex+3] = 0xff

			oIndex += 4
			iIndex += 3
		}
	}
}

func DecodeRGB(data []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(data) < width*height*3 {
		return nil, fmt.Errorf("rgb24 frame too short: %d bytes for %dx%d", len(data), width, height)
	}
	i := image.NewRGBA(image.Rect(0, 0, width, height))
	RGBToRGBA(data, i.Pix, width, height)

	return i, nil
}

// DecodeYUYV converts a packed YUYV 4:2:2 frame into a YCbCr image without
// resampling the chroma planes.
func DecodeYUYV(data []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || len(data) < width*height*2 {
		return nil, fmt.Errorf("yuyv frame too short: %d bytes for %dx%d", len(data), width, height)
	}
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	inStride := len(data) / height
	for y := 0; y < height; y++ {
		in := data[y*inStride:]
		yOff := y * img.YStride
		cOff := y * img.CStride
		for x := 0; x < width; x += 2 {
			p := in[x*2 : x*2+4]
			img.Y[yOff+x] = p[0]
			img.Y[yOff+x+1] = p[2]
			img.Cb[cOff+x/2] = p[1]
			img.Cr[cOff+x/2] = p[3]
		}
	}

	return img, nil
}

// ToRGBA returns img as *image.RGBA, converting when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}

	return out
}

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}
