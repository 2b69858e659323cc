package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"challengeflow/internal/config"
)

// ErrEmptyRegion means the capture region does not overlap the screenshot.
var ErrEmptyRegion = errors.New("capture region outside screenshot")

// Resolve converts r into pixel bounds for a screen of the given size.
// Relative regions are ratios of the screen size.
func Resolve(r config.Region, screen image.Rectangle) image.Rectangle {
	x, y, w, h := r.X, r.Y, r.Width, r.Height
	if r.Relative {
		sw, sh := float64(screen.Dx()), float64(screen.Dy())
		x, y, w, h = x*sw, y*sh, w*sw, h*sh
	}
	min := screen.Min.Add(image.Pt(int(x+0.5), int(y+0.5)))
	rect := image.Rectangle{Min: min, Max: min.Add(image.Pt(int(w+0.5), int(h+0.5)))}
	return rect.Intersect(screen)
}

// Crop returns the part of img covered by r, clipped to the image bounds.
func Crop(img image.Image, r config.Region) (image.Image, error) {
	rect := Resolve(r, img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("%w: %+v on %v", ErrEmptyRegion, r, img.Bounds())
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}

// Compression is the result of Compress.
type Compression struct {
	Data    []byte
	Quality int
	// WithinTarget is false when even MinQuality stayed above the target.
	WithinTarget bool
}

// Compress encodes img as JPEG starting at cfg.Quality and lowering the
// quality by cfg.QualityStep until the output fits cfg.TargetSizeKB or
// cfg.MinQuality is reached.
func Compress(img image.Image, cfg config.CaptureConfig) (Compression, error) {
	quality, minQ, step := cfg.Quality, cfg.MinQuality, cfg.QualityStep
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if minQ <= 0 || minQ > quality {
		minQ = quality
	}
	if step <= 0 {
		step = 5
	}
	target := cfg.TargetSizeKB * 1024

	var buf bytes.Buffer
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return Compression{}, fmt.Errorf("encoding jpeg at quality %d: %w", quality, err)
		}
		if target <= 0 || buf.Len() <= target {
			return Compression{Data: bytes.Clone(buf.Bytes()), Quality: quality, WithinTarget: true}, nil
		}
		if quality-step < minQ {
			return Compression{Data: bytes.Clone(buf.Bytes()), Quality: quality}, nil
		}
		quality -= step
	}
}
