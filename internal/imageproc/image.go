// Package imageproc prepares images for OCR upload: preview rendering,
// crop and rotate, re-encoding, and PDF inspection.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// Zoom bounds for previews.
const (
	MinZoom = 0.5
	MaxZoom = 2.0
)

var ErrEmptyCrop = errors.New("crop area is empty")

// ClampZoom bounds z to [MinZoom, MaxZoom]. Zoom only affects previews,
// never the upload payload.
func ClampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return 1
	}
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

// Image is a decoded picture with the format it was stored in.
type Image struct {
	Img    image.Image
	Format imaging.Format
}

// Decode reads a JPEG or PNG, applying EXIF orientation.
func Decode(data []byte) (Image, error) {
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("reading image header: %w", err)
	}
	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		return Image{}, fmt.Errorf("unsupported image format %q", name)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, fmt.Errorf("decoding image: %w", err)
	}
	return Image{Img: img, Format: format}, nil
}

// MIMEType is the content type matching the image format.
func (i Image) MIMEType() string {
	return "image/" + strings.ToLower(i.Format.String())
}

// Encode writes the image in its own format; quality applies to JPEG.
func (i Image) Encode(quality int) ([]byte, error) {
	var buf bytes.Buffer
	var opts []imaging.EncodeOption
	if quality > 0 {
		opts = append(opts, imaging.JPEGQuality(quality))
	}
	if err := imaging.Encode(&buf, i.Img, i.Format, opts...); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", i.Format, err)
	}
	return buf.Bytes(), nil
}

// Transform rotates the image clockwise by degrees and then crops rect,
// given in the rotated image's coordinates. The rotated canvas grows to
// the bounding box of the turned image so no corner is clipped; the
// uncovered area is white. An empty rect keeps the whole rotated image.
func (i Image) Transform(rect image.Rectangle, degrees float64) (Image, error) {
	img := i.Img
	if d := math.Mod(degrees, 360); d != 0 {
		img = imaging.Rotate(img, -d, color.White)
	}
	if !rect.Empty() {
		clipped := rect.Intersect(img.Bounds())
		if clipped.Empty() {
			return Image{}, ErrEmptyCrop
		}
		img = imaging.Crop(img, clipped)
	}
	return Image{Img: img, Format: i.Format}, nil
}

// Preview scales the image for display: fitted within maxDim and then
// multiplied by the clamped zoom.
func (i Image) Preview(zoom float64, maxDim int) image.Image {
	img := i.Img
	if maxDim > 0 {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}
	zoom = ClampZoom(zoom)
	if zoom == 1 {
		return img
	}
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * zoom))
	h := int(math.Round(float64(b.Dy()) * zoom))
	return imaging.Resize(img, max(w, 1), max(h, 1), imaging.Lanczos)
}

// Shrink limits the longer side to maxDim, for uploads of oversized photos.
func (i Image) Shrink(maxDim int) Image {
	b := i.Img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return i
	}
	return Image{Img: imaging.Fit(i.Img, maxDim, maxDim, imaging.Lanczos), Format: i.Format}
}

// ParseRect reads "x,y,w,h".
func ParseRect(s string) (image.Rectangle, error) {
	var x, y, w, h int
	if _, err := fmt.Sscanf(strings.ReplaceAll(s, " ", ""), "%d,%d,%d,%d", &x, &y, &w, &h); err != nil {
		return image.Rectangle{}, fmt.Errorf("crop must be x,y,w,h: %w", err)
	}
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, ErrEmptyCrop
	}
	return image.Rect(x, y, x+w, y+h), nil
}
