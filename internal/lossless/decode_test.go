package lossless

import (
	"image"
	"testing"
)

func TestDecodeHeaderMinimalImage(t *testing.T) {
	// width=1, height=1, alpha=0, version=0, all fields zeroed.
	data := []byte{0x2f, 0x00, 0x00, 0x00, 0x00}
	dec := &Decoder{}
	if err := dec.decodeHeader(data); err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	if dec.Width != 1 || dec.Height != 1 {
		t.Errorf("got %dx%d, want 1x1", dec.Width, dec.Height)
	}
	if dec.HasAlpha {
		t.Error("HasAlpha should be false")
	}
}

func TestDecodeHeaderLargeImageWithAlpha(t *testing.T) {
	// width=100, height=50, alpha=1, version=0.
	// val = (width-1) | (height-1)<<14 | alpha<<28 = 99 | 49<<14 | 1<<28 = 0x100C4063
	data := []byte{0x2f, 0x63, 0x40, 0x0C, 0x10}
	dec := &Decoder{}
	if err := dec.decodeHeader(data); err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	if dec.Width != 100 {
		t.Errorf("Width = %d, want 100", dec.Width)
	}
	if dec.Height != 50 {
		t.Errorf("Height = %d, want 50", dec.Height)
	}
	if !dec.HasAlpha {
		t.Error("HasAlpha should be true")
	}
}

func TestDecodeHeaderRejectsWrongSignature(t *testing.T) {
	dec := &Decoder{}
	if err := dec.decodeHeader([]byte{0x00, 0x00, 0x00, 0x00, 0x00}); err != ErrBadSignature {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestDecodeHeaderRejectsShortPayload(t *testing.T) {
	dec := &Decoder{}
	if err := dec.decodeHeader([]byte{0x2f, 0x00}); err != ErrBadSignature {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestArgbToNRGBAConvertsChannelsAndOrder(t *testing.T) {
	pixels := []uint32{
		0xffff0000, // opaque red
		0xff00ff00, // opaque green
		0xff0000ff, // opaque blue
		0x80402010, // semi-transparent
	}
	img := argbToNRGBA(pixels, 2, 2)

	cases := []struct {
		x, y          int
		r, g, b, a uint8
	}{
		{0, 0, 0xff, 0x00, 0x00, 0xff},
		{1, 0, 0x00, 0xff, 0x00, 0xff},
		{0, 1, 0x00, 0x00, 0xff, 0xff},
		{1, 1, 0x40, 0x20, 0x10, 0x80},
	}
	for _, tc := range cases {
		c := img.NRGBAAt(tc.x, tc.y)
		if c.R != tc.r || c.G != tc.g || c.B != tc.b || c.A != tc.a {
			t.Errorf("pixel(%d,%d) = (%d,%d,%d,%d), want (%d,%d,%d,%d)",
				tc.x, tc.y, c.R, c.G, c.B, c.A, tc.r, tc.g, tc.b, tc.a)
		}
	}
}

func TestARGBConversionRoundTrip(t *testing.T) {
	pixels := []uint32{0xff112233, 0x80aabbcc}
	img := argbToNRGBA(pixels, 2, 1)
	got := NRGBAToARGB(img)
	for i, want := range pixels {
		if got[i] != want {
			t.Errorf("pixel %d: got 0x%08x, want 0x%08x", i, got[i], want)
		}
	}
}

func TestARGBToNRGBAExportedWrapper(t *testing.T) {
	pixels := []uint32{0xffff0000, 0xff00ff00}
	img := ARGBToNRGBA(pixels, 2, 1)
	if img.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Errorf("bounds = %v, want (0,0)-(2,1)", img.Bounds())
	}
}

func TestUndoSubtractGreen(t *testing.T) {
	// alpha=0xff, red=0x10, green=0x20, blue=0x30; green folds back into
	// red and blue, leaving green and alpha untouched.
	src := []uint32{0xff102030}
	dst := make([]uint32, 1)
	undoSubtractGreen(src, 1, dst)

	if want := uint32(0xff302050); dst[0] != want {
		t.Errorf("undoSubtractGreen: got 0x%08x, want 0x%08x", dst[0], want)
	}
}

func TestUndoSubtractGreenWrapsPerChannel(t *testing.T) {
	// green=0x80 pushed into red=0xC0 and blue=0xD0 wraps mod 256.
	src := []uint32{0xffC080D0}
	dst := make([]uint32, 1)
	undoSubtractGreen(src, 1, dst)

	if want := uint32(0xff408050); dst[0] != want {
		t.Errorf("undoSubtractGreen overflow: got 0x%08x, want 0x%08x", dst[0], want)
	}
}

func TestClampAddSubClampsHigh(t *testing.T) {
	// 200 + 180 - 100 = 280 per channel, clamped to 255.
	left := uint32(0xc8c8c8c8)
	top := uint32(0xb4b4b4b4)
	topLeft := uint32(0x64646464)
	if got := clampAddSub(left, top, topLeft); got != 0xffffffff {
		t.Errorf("clampAddSub: got 0x%08x, want 0xffffffff", got)
	}
}

func TestClampAddSubClampsLow(t *testing.T) {
	// 10 + 10 - 200 = -180 per channel, clamped to 0.
	left := uint32(0x0a0a0a0a)
	top := uint32(0x0a0a0a0a)
	topLeft := uint32(0xc8c8c8c8)
	if got := clampAddSub(left, top, topLeft); got != 0 {
		t.Errorf("clampAddSub underflow: got 0x%08x, want 0", got)
	}
}

func TestChooseLeftOrTopPrefersCloserGradient(t *testing.T) {
	// top matches topLeft exactly, so the gradient estimate left+top-topLeft
	// equals left, and left wins over a top that diverges from it.
	top := uint32(0xff808080)
	left := uint32(0xff000000)
	topLeft := uint32(0xff808080)
	if got := chooseLeftOrTop(left, top, topLeft); got != left {
		t.Errorf("chooseLeftOrTop: got 0x%08x, want left 0x%08x", got, left)
	}
}

func TestAvgPixelsFloorsPerChannel(t *testing.T) {
	a := uint32(0xff000000)
	b := uint32(0x01000000)
	if got, want := avgPixels(a, b), uint32(0x80000000); got != want {
		t.Errorf("avgPixels: got 0x%08x, want 0x%08x", got, want)
	}
}

func TestSumPixelsWrapsPerChannel(t *testing.T) {
	a := uint32(0x10203040)
	b := uint32(0x01020304)
	if got, want := sumPixels(a, b), uint32(0x11223344); got != want {
		t.Errorf("sumPixels: got 0x%08x, want 0x%08x", got, want)
	}
}

func TestUndoPaletteIndexingSubByte(t *testing.T) {
	// 4-color palette packed 4-to-a-word (Bits=2 => bitsPerPixel=2).
	palette := []uint32{0xff000000, 0xff0000ff, 0xff00ff00, 0xffff0000}
	tr := Transform{Kind: TransformPalette, Bits: 2, XSize: 4, YSize: 1, Data: palette}

	// indices 0,1,2,3 packed low-to-high: 0b11_10_01_00 = 0xe4, carried in
	// the green channel of the single source word.
	src := []uint32{0x0000e400}
	dst := make([]uint32, 4)
	undoPaletteIndexing(&tr, 0, 1, src, dst)

	want := []uint32{0xff000000, 0xff0000ff, 0xff00ff00, 0xffff0000}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("undoPaletteIndexing[%d]: got 0x%08x, want 0x%08x", i, dst[i], want[i])
		}
	}
}

func TestUndoColorCodeZeroMultipliersIsIdentity(t *testing.T) {
	m := colorCode{greenToRed: 0, greenToBlue: 0, redToBlue: 0}
	argb := uint32(0xff804020)
	if got := undoColorCode(m, argb); got != argb {
		t.Errorf("undoColorCode (zero multipliers): got 0x%08x, want 0x%08x", got, argb)
	}
}

func TestInflatePaletteDeltaDecodes(t *testing.T) {
	// Bits=3 => bitsPerPixel=1 => table size = 1<<(8>>3) = 2.
	palette := []uint32{0xff010203, 0x00040506}
	got := inflatePalette(2, 3, palette)

	if len(got) != 2 {
		t.Fatalf("inflatePalette: len = %d, want 2", len(got))
	}
	if got[0] != 0xff010203 {
		t.Errorf("got[0] = 0x%08x, want 0xff010203", got[0])
	}
	// Each byte of entry 1 is its delta plus the matching byte of entry 0:
	// blue 0x06+0x03=0x09, green 0x05+0x02=0x07, red 0x04+0x01=0x05,
	// alpha 0x00+0xff=0xff (mod 256).
	if want := uint32(0xff050709); got[1] != want {
		t.Errorf("got[1] = 0x%08x, want 0x%08x", got[1], want)
	}
}

func TestExpandCopyBlockNonOverlapping(t *testing.T) {
	data := make([]uint32, 10)
	data[0] = 0xAAAAAAAA
	data[1] = 0xBBBBBBBB
	data[2] = 0xCCCCCCCC

	expandCopyBlock(data, 3, 3, 3)
	if data[3] != 0xAAAAAAAA || data[4] != 0xBBBBBBBB || data[5] != 0xCCCCCCCC {
		t.Errorf("expandCopyBlock: got [0x%08x, 0x%08x, 0x%08x]", data[3], data[4], data[5])
	}
}

func TestExpandCopyBlockDistanceOneRepeats(t *testing.T) {
	data := make([]uint32, 6)
	data[0] = 0x11111111

	expandCopyBlock(data, 1, 1, 5)
	for i := 1; i <= 5; i++ {
		if data[i] != 0x11111111 {
			t.Errorf("expandCopyBlock dist=1: data[%d] = 0x%08x, want 0x11111111", i, data[i])
		}
	}
}

func TestExpandCopyBlockOverlappingDoublesUp(t *testing.T) {
	// dist=2, length=5: the run must extend past its own source window.
	data := make([]uint32, 7)
	data[0] = 0x11111111
	data[1] = 0x22222222

	expandCopyBlock(data, 2, 2, 5)
	want := []uint32{0x11111111, 0x22222222, 0x11111111, 0x22222222, 0x11111111, 0x22222222, 0x11111111}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("expandCopyBlock dist=2: data[%d] = 0x%08x, want 0x%08x", i, data[i], want[i])
		}
	}
}

// stubReader feeds a fixed bit pattern to lengthOrDistance's extra-bits
// read, satisfying bitReader without any of bitio.BitSource's prefetch
// bookkeeping.
type stubReader struct {
	bits uint32
}

func (s *stubReader) ReadBits(n int) uint32 {
	return s.bits & ((1 << uint(n)) - 1)
}

func TestLengthOrDistanceSmallSymbols(t *testing.T) {
	r := &stubReader{bits: 0}
	if d := lengthOrDistance(0, r); d != 1 {
		t.Errorf("lengthOrDistance(0) = %d, want 1", d)
	}
	if d := lengthOrDistance(3, r); d != 4 {
		t.Errorf("lengthOrDistance(3) = %d, want 4", d)
	}
}

func TestLengthOrDistanceWithExtraBits(t *testing.T) {
	// symbol=4: extraBits=1, base=(2+0)<<1=4; extra bit set adds 1 => 4+1+1=6.
	r := &stubReader{bits: 1}
	if d := lengthOrDistance(4, r); d != 6 {
		t.Errorf("lengthOrDistance(4) = %d, want 6", d)
	}
}

func TestPlaneCodeToDistanceFarPlane(t *testing.T) {
	if d := PlaneCodeToDistance(100, 121); d != 1 {
		t.Errorf("PlaneCodeToDistance(100, 121) = %d, want 1", d)
	}
}

func TestPlaneCodeToDistanceNearbyPlane(t *testing.T) {
	// planeCode=1 maps to a one-row, zero-column offset: dist = 1*100+0.
	if d := PlaneCodeToDistance(100, 1); d != 100 {
		t.Errorf("PlaneCodeToDistance(100, 1) = %d, want 100", d)
	}
}
