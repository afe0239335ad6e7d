package lossless

// PaletteMap3D is a 3-D RGB lookup structure giving O(1) nearest-palette-entry
// queries for a fixed palette. It is independent of the VP8L bitstream
// pipeline: it exists for callers (e.g. a quantizer or a preview renderer)
// that need to map an arbitrary RGB pixel to its closest palette entry
// without a per-query linear or tree search.
//
// The RGB cube is quantized to a 32x64x32 grid (5/6/5 bits, matching the
// human eye's lower sensitivity to blue and red than to green). Each
// palette entry claims the cell its own color falls into; a concentric
// flood fill then propagates every claimed cell outward so that unclaimed
// cells inherit the nearest claimed neighbor's index.
type PaletteMap3D struct {
	palette []uint32
	match   []int32 // grid cell -> palette index, -1 until claimed

	rBits, gBits, bBits int
	rVal, gVal, bVal     int
}

const (
	paletteMapRBits = 5
	paletteMapGBits = 6
	paletteMapBBits = 5
)

// NewPaletteMap3D builds a PaletteMap3D over palette. palette must contain
// no duplicate colors (the caller's palette construction already guarantees
// this for VP8L color-indexing transforms).
func NewPaletteMap3D(palette []uint32) *PaletteMap3D {
	m := &PaletteMap3D{
		palette: palette,
		rBits:   paletteMapRBits,
		gBits:   paletteMapGBits,
		bBits:   paletteMapBBits,
	}
	m.rVal = 1 << m.rBits
	m.gVal = 1 << m.gBits
	m.bVal = 1 << m.bBits

	gridLen := m.rVal * m.gVal * m.bVal
	m.match = make([]int32, gridLen)
	for i := range m.match {
		m.match[i] = -1
	}

	taken := make([]bool, gridLen)
	same := make([]bool, len(palette))

	for i, c := range palette {
		rr, gg, bb := m.cell(c)
		idx := m.cellIndex(rr, gg, bb)
		if !taken[idx] {
			taken[idx] = true
			m.match[idx] = int32(i)
		} else {
			// A later entry landed in an already-claimed cell: the earlier
			// occupant isn't a unique representative of this neighborhood,
			// so exclude it from flooding.
			same[m.match[idx]] = true
		}
	}

	m.flood(taken, same)
	return m
}

// cell quantizes an ARGB color's R/G/B channels to grid coordinates.
func (m *PaletteMap3D) cell(c uint32) (r, g, b int) {
	red := uint8(c >> 16)
	green := uint8(c >> 8)
	blue := uint8(c)
	return int(red) >> (8 - m.rBits), int(green) >> (8 - m.gBits), int(blue) >> (8 - m.bBits)
}

// cellIndex computes the flat grid index for quantized coordinates.
func (m *PaletteMap3D) cellIndex(r, g, b int) int {
	return b*m.rVal*m.gVal + g*m.rVal + r
}

// flood propagates claimed cells outward in concentric cubic shells until
// every grid cell has a match. Entries flagged in same are not flood
// sources (see NewPaletteMap3D).
func (m *PaletteMap3D) flood(taken, same []bool) {
	filled := make([]bool, len(taken))
	copy(filled, taken)

	remaining := 0
	for _, f := range filled {
		if !f {
			remaining++
		}
	}
	if remaining == 0 {
		return
	}

	maxDim := m.rVal
	if m.gVal > maxDim {
		maxDim = m.gVal
	}
	if m.bVal > maxDim {
		maxDim = m.bVal
	}

	for sqstep := 1; sqstep <= maxDim && remaining > 0; sqstep++ {
		for i := range m.palette {
			if same[i] {
				continue
			}
			rr, gg, bb := m.cell(m.palette[i])
			remaining -= m.fillShell(filled, rr, gg, bb, sqstep, int32(i))
		}
	}
}

// fillShell claims every unclaimed cell at Chebyshev distance exactly
// sqstep from (r0,g0,b0) for palette index idx, covering the three axis
// families (vary R&G at fixed B, vary G&B at fixed R, vary B&R at fixed G)
// that together make up the cubic shell. Returns the number of cells newly
// claimed.
func (m *PaletteMap3D) fillShell(filled []bool, r0, g0, b0, sqstep int, idx int32) int {
	claimed := 0
	claim := func(r, g, b int) {
		if r < 0 || r >= m.rVal || g < 0 || g >= m.gVal || b < 0 || b >= m.bVal {
			return
		}
		cellIdx := m.cellIndex(r, g, b)
		if !filled[cellIdx] {
			filled[cellIdx] = true
			m.match[cellIdx] = idx
			claimed++
		}
	}

	// B-pair family: B fixed at the two shell faces, R and G sweep the face.
	for _, b := range [2]int{b0 - sqstep, b0 + sqstep} {
		for dr := -sqstep; dr <= sqstep; dr++ {
			for dg := -sqstep; dg <= sqstep; dg++ {
				claim(r0+dr, g0+dg, b)
			}
		}
	}
	// G-pair family: G fixed at the two shell faces, B and R sweep the face.
	for _, g := range [2]int{g0 - sqstep, g0 + sqstep} {
		for db := -sqstep; db <= sqstep; db++ {
			for dr := -sqstep; dr <= sqstep; dr++ {
				claim(r0+dr, g, b0+db)
			}
		}
	}
	// R-pair family: R fixed at the two shell faces, B and G sweep the face.
	for _, r := range [2]int{r0 - sqstep, r0 + sqstep} {
		for db := -sqstep; db <= sqstep; db++ {
			for dg := -sqstep; dg <= sqstep; dg++ {
				claim(r, g0+dg, b0+db)
			}
		}
	}

	return claimed
}

// GetMatch returns the palette index and color closest to pixel, found by a
// single grid lookup.
func (m *PaletteMap3D) GetMatch(pixel uint32) (int, uint32) {
	r, g, b := m.cell(pixel)
	idx := m.match[m.cellIndex(r, g, b)]
	return int(idx), m.palette[idx]
}
