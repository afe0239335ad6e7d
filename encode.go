package vp8l

import (
	"errors"
	"image"

	"github.com/losslesspix/vp8l/internal/container"
	"github.com/losslesspix/vp8l/internal/lossless"
)

// MaxDimension is the smallest width or height this encoder rejects: Encode
// accepts dimensions from 1 to MaxDimension-1 (16383).
const MaxDimension = 1 << 14 // 16384

// Errors returned by Encode.
var (
	ErrImageTooLarge = errors.New("vp8l: image dimensions too large")
	ErrEmptyImage    = errors.New("vp8l: image has zero width or height")
)

// PixelSource is a row-indexed source of pixels in an arbitrary underlying
// format. ToBGRA32 packs a single pixel's channels into the 0xAARRGGBB
// layout the encoder operates on internally; implementations own the
// conversion from whatever their native pixel representation is. The
// encoder never mutates a PixelSource.
type PixelSource interface {
	// Bounds returns the pixel dimensions of the source image.
	Bounds() (width, height int)
	// ToBGRA32 returns the packed color of the pixel at (x, y).
	ToBGRA32(x, y int) uint32
}

// imageSource adapts a standard library image.Image to PixelSource.
type imageSource struct {
	img image.Image
	// origin is img.Bounds().Min, since image.Image need not start at (0,0).
	originX, originY int
}

// FromImage wraps a standard library image.Image as a PixelSource.
func FromImage(img image.Image) PixelSource {
	b := img.Bounds()
	return &imageSource{img: img, originX: b.Min.X, originY: b.Min.Y}
}

func (s *imageSource) Bounds() (int, int) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *imageSource) ToBGRA32(x, y int) uint32 {
	r, g, b, a := s.img.At(s.originX+x, s.originY+y).RGBA()
	// image.Color.RGBA returns alpha-premultiplied 16-bit samples; VP8L's
	// internal ARGB buffer wants non-premultiplied 8-bit samples.
	if a == 0 {
		return 0
	}
	r8 := unpremultiply(r, a)
	g8 := unpremultiply(g, a)
	b8 := unpremultiply(b, a)
	a8 := uint32(a >> 8)
	return a8<<24 | r8<<16 | g8<<8 | b8
}

func unpremultiply(c, a uint32) uint32 {
	v := (c * 0xffff) / a
	return (v >> 8) & 0xff
}

// collectARGB reads every pixel of src into a flat, row-major ARGB buffer
// the lossless encoder operates on.
func collectARGB(src PixelSource) (argb []uint32, width, height int) {
	width, height = src.Bounds()
	argb = make([]uint32, width*height)
	for y := 0; y < height; y++ {
		row := argb[y*width : (y+1)*width]
		for x := 0; x < width; x++ {
			row[x] = src.ToBGRA32(x, y)
		}
	}
	return argb, width, height
}

// Encode losslessly compresses src into a complete RIFF/WebP byte stream.
//
// The encoder runs a single fixed profile (quality 75, method 4, true
// lossless) -- there are no quality or method parameters to tune.
func Encode(src PixelSource) ([]byte, error) {
	width, height := src.Bounds()
	if width <= 0 || height <= 0 {
		return nil, ErrEmptyImage
	}
	if width >= MaxDimension || height >= MaxDimension {
		return nil, ErrImageTooLarge
	}

	argb, width, height := collectARGB(src)
	payload, err := lossless.Encode(argb, width, height, lossless.DefaultEncoderConfig())
	if err != nil {
		return nil, err
	}

	return container.WriteRIFFSimple(payload)
}

// EncodeImage is a convenience wrapper around Encode for standard library
// image.Image values.
func EncodeImage(img image.Image) ([]byte, error) {
	return Encode(FromImage(img))
}
