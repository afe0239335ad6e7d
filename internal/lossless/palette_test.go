package lossless

import "testing"

func TestPaletteColorDistance_Zero(t *testing.T) {
	if d := PaletteColorDistance(0xff112233, 0xff112233); d != 0 {
		t.Errorf("PaletteColorDistance(x, x) = %d, want 0", d)
	}
}

func TestPaletteColorDistance_WeightsRGBOverAlpha(t *testing.T) {
	// A 1-unit difference in red should cost 9x a 1-unit difference in alpha.
	base := uint32(0xff000000)
	redDelta := PaletteColorDistance(base, base+0x00010000)
	alphaDelta := PaletteColorDistance(base, base-0x01000000)
	if redDelta != 9 {
		t.Errorf("red-only delta = %d, want 9", redDelta)
	}
	if alphaDelta != 1 {
		t.Errorf("alpha-only delta = %d, want 1", alphaDelta)
	}
}

func TestOrderPalette_SortsAscendingWhenMonotonous(t *testing.T) {
	palette := []uint32{0xff000003, 0xff000001, 0xff000002}
	OrderPalette(palette)
	for i := 1; i < len(palette); i++ {
		if palette[i-1] >= palette[i] {
			// A monotonous palette should remain in ascending packed order;
			// greedyMinimizeDeltas should not have reordered it.
			t.Fatalf("palette not ascending after OrderPalette: %v", palette)
		}
	}
}

func TestGreedyMinimizeDeltas_PreservesSetMembership(t *testing.T) {
	original := []uint32{0xff000000, 0xffffffff, 0xff7f7f7f, 0xff010203, 0xfffefdfc}
	palette := append([]uint32(nil), original...)
	greedyMinimizeDeltas(palette)

	seen := make(map[uint32]bool, len(original))
	for _, c := range original {
		seen[c] = true
	}
	for _, c := range palette {
		if !seen[c] {
			t.Fatalf("greedyMinimizeDeltas introduced unknown color %#08x", c)
		}
		delete(seen, c)
	}
	if len(seen) != 0 {
		t.Fatalf("greedyMinimizeDeltas dropped colors: %v", seen)
	}
}

func TestBuildPaletteHashLUT_ResolvesEveryEntry(t *testing.T) {
	palette := []uint32{
		0xff000000, 0xffff0000, 0xff00ff00, 0xff0000ff,
		0xffffffff, 0xff7f7f7f, 0xff112233, 0xff998877,
	}
	lut := buildPaletteHashLUT(palette)
	for i, c := range palette {
		idx := lut.lookup(c)
		if idx != int32(i) {
			t.Errorf("lookup(%#08x) = %d, want %d", c, idx, i)
		}
	}
}

func TestBuildPaletteHashLUT_SharedGreenChannel(t *testing.T) {
	// Every entry shares the same green byte, so hash0 (which keys only on
	// green) collides immediately -- this forces buildPaletteHashLUT past
	// hash0 into hash1, hash2, or the sorted-binary-search fallback. Lookup
	// correctness must hold regardless of which path wins.
	palette := make([]uint32, 0, 254)
	for b := 1; b < 255; b++ {
		palette = append(palette, 0xff004200|uint32(b))
	}
	lut := buildPaletteHashLUT(palette)
	for i, c := range palette {
		if idx := lut.lookup(c); idx != int32(i) {
			t.Errorf("lookup(%#08x) = %d, want %d", c, idx, i)
		}
	}
}
