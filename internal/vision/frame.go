package vision

import (
	"bytes"
	"image"
	"image/jpeg"
	"time"

	xdraw "golang.org/x/image/draw"
)

// Frame is a single captured video frame. Frames are treated as
// immutable and are only held for the duration of one pipeline step.
type Frame struct {
	Image     image.Image
	Seq       uint64
	Timestamp time.Time
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

// ResizeGray scales img to the given canonical resolution and converts
// it to a single-intensity representation in one pass. The result is a
// fresh buffer; the input image is not modified.
func ResizeGray(img image.Image, width, height int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// Resize scales img to the given resolution preserving color.
func Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// EncodeJPEG compresses img at the given quality, bounding the payload
// that is shipped to the classification service.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 70
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
