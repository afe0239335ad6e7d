package vp8l

import "testing"

func TestPaletteMap3D_PublicWrapper(t *testing.T) {
	palette := make([]uint32, 16)
	for i := range palette {
		v := uint32(i * 0x11)
		palette[i] = 0xff000000 | v<<16 | v<<8 | v
	}
	m := NewPaletteMap3D(palette)
	idx, color := m.GetMatch(0xff808080)
	if idx != 8 {
		t.Errorf("GetMatch index = %d, want 8", idx)
	}
	if color != palette[8] {
		t.Errorf("GetMatch color = %#08x, want %#08x", color, palette[8])
	}
}
