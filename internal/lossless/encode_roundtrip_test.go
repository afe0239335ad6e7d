package lossless

import (
	"math/rand"
	"testing"
)

// decodeRoundTrip decodes a VP8L payload (as produced by Encode) and
// returns the resulting pixel buffer as packed 0xAARRGGBB values in the
// same row-major layout Encode accepts, so it can be compared directly
// against the original input.
func decodeRoundTrip(t *testing.T, payload []byte, width, height int) []uint32 {
	t.Helper()
	img, err := DecodeVP8L(payload)
	if err != nil {
		t.Fatalf("DecodeVP8L: %v", err)
	}
	if img.Bounds().Dx() != width || img.Bounds().Dy() != height {
		t.Fatalf("decoded bounds = %v, want %dx%d", img.Bounds(), width, height)
	}
	out := make([]uint32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(x, y)
			r := uint32(img.Pix[i+0])
			g := uint32(img.Pix[i+1])
			b := uint32(img.Pix[i+2])
			a := uint32(img.Pix[i+3])
			out[y*width+x] = a<<24 | r<<16 | g<<8 | b
		}
	}
	return out
}

func assertRoundTrip(t *testing.T, name string, argb []uint32, width, height int) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		payload, err := Encode(argb, width, height, DefaultEncoderConfig())
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if len(payload) == 0 {
			t.Fatal("Encode returned empty payload")
		}
		got := decodeRoundTrip(t, payload, width, height)
		for i := range argb {
			if got[i] != argb[i] {
				x, y := i%width, i/width
				t.Fatalf("pixel (%d,%d): got %#08x, want %#08x", x, y, got[i], argb[i])
			}
		}
	})
}

func TestRoundTrip_SinglePixel(t *testing.T) {
	assertRoundTrip(t, "single_color", []uint32{0xff336699}, 1, 1)
}

func TestRoundTrip_SolidColor(t *testing.T) {
	const w, h = 64, 64
	argb := make([]uint32, w*h)
	for i := range argb {
		argb[i] = 0xff00ff00 // opaque green
	}
	assertRoundTrip(t, "solid_green_64x64", argb, w, h)
}

func TestRoundTrip_Checkerboard(t *testing.T) {
	const w, h = 8, 8
	argb := make([]uint32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				argb[y*w+x] = 0xffffffff
			} else {
				argb[y*w+x] = 0xff000000
			}
		}
	}
	assertRoundTrip(t, "checkerboard_8x8", argb, w, h)
}

func TestRoundTrip_Gradient(t *testing.T) {
	const w, h = 256, 1
	argb := make([]uint32, w*h)
	for x := 0; x < w; x++ {
		v := uint32(x)
		argb[x] = 0xff000000 | v<<16 | v<<8 | v
	}
	assertRoundTrip(t, "gradient_256x1", argb, w, h)
}

func TestRoundTrip_RandomNoise(t *testing.T) {
	const w, h = 32, 32
	rng := rand.New(rand.NewSource(42))
	argb := make([]uint32, w*h)
	for i := range argb {
		argb[i] = 0xff000000 | uint32(rng.Intn(1<<24))
	}
	assertRoundTrip(t, "random_noise_32x32", argb, w, h)
}

func TestRoundTrip_SmallPaletteCacheAndSpatial(t *testing.T) {
	// A small, repetitive palette with spatial structure exercises both the
	// PaletteAndSpatial crunch config and the color cache.
	const w, h = 16, 16
	palette := []uint32{0xffff0000, 0xff00ff00, 0xff0000ff, 0xffffffff}
	argb := make([]uint32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			argb[y*w+x] = palette[(x/4+y/4)%len(palette)]
		}
	}
	assertRoundTrip(t, "small_palette_16x16", argb, w, h)
}

func TestEncode_RejectsOversizedImage(t *testing.T) {
	_, err := Encode(nil, 20000, 1, DefaultEncoderConfig())
	if err != ErrImageTooLarge {
		t.Fatalf("Encode with oversized width: err = %v, want ErrImageTooLarge", err)
	}
}

func TestEncode_NilConfigUsesDefault(t *testing.T) {
	argb := []uint32{0xffaabbcc}
	payload, err := Encode(argb, 1, 1, nil)
	if err != nil {
		t.Fatalf("Encode with nil config: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("Encode with nil config returned empty payload")
	}
}
