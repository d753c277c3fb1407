// Package capture validates rendered chart snapshots before they are sent for analysis.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	// Snapshot sources deliver PNG or JPEG.
	_ "image/jpeg"
)

// Artifact is a decoded capture: dimensions plus an RGBA buffer, 4 bytes per pixel.
type Artifact struct {
	Width  int
	Height int
	Pix    []byte
}

// ErrUndecodable is returned when capture bytes are not a supported image.
var ErrUndecodable = errors.New("capture is not a decodable image")

// Decode parses PNG or JPEG bytes into an Artifact.
func Decode(data []byte) (Artifact, error) {
	if len(data) == 0 {
		return Artifact{}, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return FromImage(img), nil
}

// FromImage copies img into an Artifact.
func FromImage(img image.Image) Artifact {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*bounds.Dx() || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	pix := make([]byte, len(rgba.Pix))
	copy(pix, rgba.Pix)
	return Artifact{Width: bounds.Dx(), Height: bounds.Dy(), Pix: pix}
}

// Empty reports whether the artifact carries no pixels.
func (a Artifact) Empty() bool {
	return a.Width <= 0 || a.Height <= 0 || len(a.Pix) < a.Width*a.Height*4
}

// Image wraps the buffer as an *image.RGBA without copying.
func (a Artifact) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    a.Pix,
		Stride: a.Width * 4,
		Rect:   image.Rect(0, 0, a.Width, a.Height),
	}
}

// EncodePNG renders the artifact as PNG for transport to a provider.
func (a Artifact) EncodePNG() ([]byte, error) {
	if a.Empty() {
		return nil, errors.New("encode png: empty capture")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, a.Image()); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
