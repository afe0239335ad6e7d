package vp8l

import "github.com/losslesspix/vp8l/internal/lossless"

// PaletteMap3D gives O(1) nearest-palette-entry lookup for a fixed color
// palette, independent of the main encoding pipeline. It's useful to callers
// quantizing arbitrary pixels against a palette the encoder already chose
// (e.g. a live preview renderer) without paying for a linear or tree search
// per pixel.
type PaletteMap3D struct {
	inner *lossless.PaletteMap3D
}

// NewPaletteMap3D builds a PaletteMap3D over palette, where each entry is a
// packed 0xAARRGGBB color. palette must not contain duplicate colors.
func NewPaletteMap3D(palette []uint32) *PaletteMap3D {
	return &PaletteMap3D{inner: lossless.NewPaletteMap3D(palette)}
}

// GetMatch returns the palette index and color closest to pixel.
func (m *PaletteMap3D) GetMatch(pixel uint32) (index int, color uint32) {
	return m.inner.GetMatch(pixel)
}
