// Package stream turns processed frames into a multipart MJPEG feed shared
// by every connected viewer.
package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

const (
	// Boundary separates parts of the multipart response
	Boundary = "frame"

	// ContentType is the response content type of the video feed
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

// Encoder encodes frames as JPEG
type Encoder struct {
	quality int
}

// NewEncoder creates an encoder with the given JPEG quality (1-100)
func NewEncoder(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Encoder{quality: quality}
}

// EncodeJPEG encodes img
func (e *Encoder) EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// WritePart writes one multipart section carrying a JPEG image
func WritePart(w io.Writer, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\n\r\n", Boundary); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
