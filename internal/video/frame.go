package video

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
)

// Frame is one decoded camera frame. Image is owned by whoever holds the
// frame and may be drawn on in place.
type Frame struct {
	Image     *image.RGBA
	Seq       uint64
	Timestamp time.Time
}

// NewFrame wraps img as a frame, converting it to RGBA if needed
func NewFrame(img image.Image, seq uint64) *Frame {
	return &Frame{
		Image:     ToRGBA(img),
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// ToRGBA returns img as *image.RGBA, copying when it is another type
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// DecodeJPEG decodes one JPEG image into an RGBA raster
func DecodeJPEG(data []byte) (*image.RGBA, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JPEG: %w", err)
	}
	return ToRGBA(img), nil
}
