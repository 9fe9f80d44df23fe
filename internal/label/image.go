// Package label turns pre-rendered label images into printer rasters.
//
// The LetraTag print head is 32 dots tall. A label image is scaled to 32
// pixels high and sent one column per line, rightmost column first, so the
// printed tape reads left to right.
package label

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/chaz8081/ltprint/internal/ble/protocol"
)

// ErrEmptyImage is returned for images with no pixels.
var ErrEmptyImage = errors.New("label: image is empty")

// DefaultThreshold is the luminance below which a pixel is printed.
const DefaultThreshold = 128

// Options controls the conversion from image to raster.
type Options struct {
	Threshold uint8 // 0 means DefaultThreshold
	Invert    bool  // print light pixels instead of dark ones
}

// Decode reads a PNG, JPEG, GIF, BMP or WebP image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("label: decode image: %w", err)
	}
	return img, nil
}

// Load opens and decodes the image at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("label: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// FromImage converts img to a raster of one line per image column. Images
// that are not protocol.StripWidth pixels tall are scaled to that height,
// keeping the aspect ratio. Transparent areas count as background.
func FromImage(img image.Image, opts Options) (protocol.Raster, error) {
	src := img.Bounds()
	if src.Empty() {
		return nil, ErrEmptyImage
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	height := protocol.StripWidth
	width := src.Dx()
	if src.Dy() != height {
		width = (src.Dx()*height + src.Dy()/2) / src.Dy()
		if width < 1 {
			width = 1
		}
	}

	// Flatten onto white, scaling if needed, then reduce to gray.
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if src.Dx() == width && src.Dy() == height {
		draw.Draw(canvas, canvas.Bounds(), img, src.Min, draw.Over)
	} else {
		xdraw.CatmullRom.Scale(canvas, canvas.Bounds(), img, src, draw.Over, nil)
	}
	gray := image.NewGray(canvas.Bounds())
	draw.Draw(gray, gray.Bounds(), canvas, image.Point{}, draw.Src)

	r := make(protocol.Raster, 0, width*height)
	for x := width - 1; x >= 0; x-- {
		for y := 0; y < height; y++ {
			mark := gray.GrayAt(x, y).Y < threshold
			r = append(r, mark != opts.Invert)
		}
	}
	return r, nil
}
