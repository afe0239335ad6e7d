package lossless

import "sort"

// Palette color reordering and perfect-hash index lookup.
//
// A sorted palette compresses well when consecutive colors are similar, but
// a plain ascending sort can still leave large jumps if the natural color
// order isn't monotonic in each channel. greedyMinimizeDeltas reorders the
// palette to keep adjacent entries close together, trading the sort order
// for a nearest-neighbor chain. buildPaletteHashLUT then gives O(1) pixel to
// palette-index lookup without a map, using one of three perfect-hash
// candidates tried against the actual palette.
//
// Reference: libwebp/src/enc/vp8l_enc.c (AnalyzeAndCreatePalette, ApplyPalette).

// paletteHasNonMonotonousDeltas reports whether the signs of consecutive
// per-channel deltas change across the (already sorted) palette. A
// monotonous palette is already in a good order for delta coding; a
// non-monotonous one benefits from greedyMinimizeDeltas.
func paletteHasNonMonotonousDeltas(palette []uint32) bool {
	if len(palette) < 3 {
		return false
	}
	var signFound uint8
	prevDelta := [4]int32{}
	for i := 1; i < len(palette); i++ {
		cur := channels(palette[i])
		prev := channels(palette[i-1])
		var delta [4]int32
		for c := 0; c < 4; c++ {
			delta[c] = int32(cur[c]) - int32(prev[c])
		}
		if i > 1 {
			for c := 0; c < 4; c++ {
				if delta[c] == 0 {
					continue
				}
				var sign uint8
				if delta[c] > 0 {
					sign = 1
				} else {
					sign = 2
				}
				if prevDelta[c] != 0 {
					var prevSign uint8
					if prevDelta[c] > 0 {
						prevSign = 1
					} else {
						prevSign = 2
					}
					if prevSign != sign {
						signFound |= 1 << c
					}
				}
			}
		}
		prevDelta = delta
	}
	return signFound != 0
}

// channels unpacks argb into [alpha, red, green, blue].
func channels(argb uint32) [4]uint8 {
	return [4]uint8{
		uint8(argb >> 24),
		uint8(argb >> 16),
		uint8(argb >> 8),
		uint8(argb),
	}
}

// componentDistance returns min(v, 256-v) for an unsigned 8-bit delta,
// matching the circular distance used by PaletteColorDistance.
func componentDistance(v uint8) int {
	d := int(v)
	if 256-d < d {
		return 256 - d
	}
	return d
}

// PaletteColorDistance computes the weighted channel distance used to
// greedily order palette entries: red/green/blue deltas are weighted 9x
// relative to alpha, matching the reference encoder's palette sort cost.
func PaletteColorDistance(a, b uint32) int {
	ca, cb := channels(a), channels(b)
	dAlpha := componentDistance(ca[0] - cb[0])
	dRed := componentDistance(ca[1] - cb[1])
	dGreen := componentDistance(ca[2] - cb[2])
	dBlue := componentDistance(ca[3] - cb[3])
	return 9*(dRed+dGreen+dBlue) + dAlpha
}

// greedyMinimizeDeltas reorders palette in place: starting from an implicit
// zero predictor, repeatedly moves the remaining entry closest (by
// PaletteColorDistance) to the last placed entry to the front of the
// remaining slice.
func greedyMinimizeDeltas(palette []uint32) {
	predict := uint32(0)
	for i := 0; i < len(palette); i++ {
		best := i
		bestDist := PaletteColorDistance(palette[i], predict)
		for j := i + 1; j < len(palette); j++ {
			d := PaletteColorDistance(palette[j], predict)
			if d < bestDist {
				best = j
				bestDist = d
			}
		}
		palette[i], palette[best] = palette[best], palette[i]
		predict = palette[i]
	}
}

// OrderPalette sorts palette ascending by packed ARGB value, then applies
// greedyMinimizeDeltas when the sorted order still has non-monotonous
// per-channel deltas.
func OrderPalette(palette []uint32) {
	sort.Slice(palette, func(i, j int) bool { return palette[i] < palette[j] })
	if paletteHasNonMonotonousDeltas(palette) {
		greedyMinimizeDeltas(palette)
	}
}

// paletteHashBits is the size (in bits) of the perfect-hash lookup table
// tried against the palette before falling back to binary search.
const paletteHashBits = 11

// paletteLUT provides O(1) pixel-to-palette-index lookup, either via one of
// three perfect-hash candidates or, failing that, binary search over a
// sorted copy of the palette with an index map back to original positions.
type paletteLUT struct {
	useHash  bool
	hashFunc int // 0, 1, or 2 -- selects which hash candidate was collision-free
	table    []int32

	sorted    []uint32
	sortedIdx []int32
}

func paletteHash0(c uint32) uint32 {
	return (c >> 8) & 0xff // green channel
}

func paletteHash1(c uint32) uint32 {
	return (c * 4222244071) >> (32 - paletteHashBits)
}

func paletteHash2(c uint32) uint32 {
	return (c * 0x7fffffff) >> (32 - paletteHashBits)
}

// buildPaletteHashLUT attempts each perfect-hash candidate in turn; the
// first one with no collisions over the palette is kept. If all three
// collide, a sorted-with-index-map fallback is built instead so lookups
// remain well-defined (via binary search) at the cost of O(log n).
func buildPaletteHashLUT(palette []uint32) *paletteLUT {
	hashes := []func(uint32) uint32{paletteHash0, paletteHash1, paletteHash2}
	tableSize := 1 << paletteHashBits
	for fn := 0; fn < len(hashes); fn++ {
		table := make([]int32, tableSize)
		for i := range table {
			table[i] = -1
		}
		collision := false
		for i, c := range palette {
			h := hashes[fn](c) & uint32(tableSize-1)
			if table[h] != -1 {
				collision = true
				break
			}
			table[h] = int32(i)
		}
		if !collision {
			return &paletteLUT{useHash: true, hashFunc: fn, table: table}
		}
	}

	sorted := make([]uint32, len(palette))
	copy(sorted, palette)
	sortedIdx := make([]int32, len(palette))
	for i := range sortedIdx {
		sortedIdx[i] = int32(i)
	}
	sort.Sort(&indexedColors{sorted: sorted, idx: sortedIdx, orig: palette})
	return &paletteLUT{useHash: false, sorted: sorted, sortedIdx: sortedIdx}
}

// indexedColors co-sorts a palette copy and an index array mapping each
// sorted position back to the entry's original index.
type indexedColors struct {
	sorted []uint32
	idx    []int32
	orig   []uint32
}

func (s *indexedColors) Len() int { return len(s.sorted) }
func (s *indexedColors) Less(i, j int) bool { return s.sorted[i] < s.sorted[j] }
func (s *indexedColors) Swap(i, j int) {
	s.sorted[i], s.sorted[j] = s.sorted[j], s.sorted[i]
	s.idx[i], s.idx[j] = s.idx[j], s.idx[i]
}

// lookup returns the palette index of pixel, or -1 if pixel is not present
// in the palette this LUT was built from.
func (l *paletteLUT) lookup(pixel uint32) int32 {
	if l.useHash {
		h := [3]func(uint32) uint32{paletteHash0, paletteHash1, paletteHash2}[l.hashFunc](pixel) & uint32(len(l.table)-1)
		return l.table[h]
	}
	n := len(l.sorted)
	i := sort.Search(n, func(i int) bool { return s_ge(l.sorted[i], pixel) })
	if i < n && l.sorted[i] == pixel {
		return l.sortedIdx[i]
	}
	return -1
}

func s_ge(a, b uint32) bool { return a >= b }
