package lossless

// HashChain drives the LZ77-style backward-reference search over the ARGB
// pixel stream: for each position it records the best (offset, length)
// match found by walking a chain of earlier positions that hashed the same
// way, with a few cheap spatial heuristics (the pixel directly above and
// directly to the left) tried first since natural images repeat those a
// lot.

const (
	chainHashBits = 18
	chainHashSize = 1 << chainHashBits

	matchLengthBits = 12
	matchLengthMax  = (1 << matchLengthBits) - 1

	matchWindowBits = 20
	matchWindowMax  = (1 << matchWindowBits) - 120

	minProfitableRun = 4
)

// Multipliers for the 2-pixel rolling hash that seeds each chain bucket.
const (
	pairHashHi = uint32(0xc6a4a793)
	pairHashLo = uint32(0x5bd1e996)
)

// hashPixelPair hashes argb[0] and argb[1] together into a chainHashBits
// bucket index.
func hashPixelPair(argb []uint32) uint32 {
	return hashTwoValues(argb[0], argb[1])
}

func hashTwoValues(a, b uint32) uint32 {
	key := b*pairHashHi + a*pairHashLo
	return key >> (32 - chainHashBits)
}

// searchBudgetForQuality caps how many chain links a match search may walk.
// Low/medium quality settles for quality/3 (most usable matches turn up
// within a handful of links); high quality pays for a quadratic budget to
// chase the very best match.
func searchBudgetForQuality(quality int) int {
	if quality <= 75 {
		return 8 + quality/3
	}
	return 8 + (quality*quality)/128
}

// runLength returns how many leading elements of a and b agree, capped at
// limit. If the two already differ at the previously best-known length
// (bestSoFar), it exits immediately without scanning — no chain candidate
// shorter than the incumbent is worth measuring byte by byte.
func runLength(a, b []uint32, bestSoFar, limit int) int {
	if bestSoFar < limit && a[bestSoFar] != b[bestSoFar] {
		return 0
	}
	n := 0
	for n < limit && a[n] == b[n] {
		n++
	}
	return n
}

// HashChain holds, for every pixel position, the packed best (offset,
// length) match found by Fill.
type HashChain struct {
	// OffsetLength packs each position's match as offset<<matchLengthBits |
	// length.
	OffsetLength []uint32

	size      int
	chainHead []int32 // hash bucket -> most recent position; reused across Fill calls
}

// NewHashChain allocates a chain sized for an image of numPixels pixels.
func NewHashChain(numPixels int) *HashChain {
	return &HashChain{
		OffsetLength: make([]uint32, numPixels),
		size:         numPixels,
		chainHead:    make([]int32, chainHashSize),
	}
}

// GetOffset returns the match distance recorded at pos.
func (hc *HashChain) GetOffset(pos int) int {
	return int(hc.OffsetLength[pos]) >> matchLengthBits
}

// GetLength returns the match length recorded at pos.
func (hc *HashChain) GetLength(pos int) int {
	return int(hc.OffsetLength[pos]) & matchLengthMax
}

// GetWindowSizeForHashChain returns how far back a match search is allowed
// to look, scaled down at lower quality settings (and capped by image
// width, since wider windows buy little on narrow images).
func GetWindowSizeForHashChain(quality, xsize int) int {
	var widthShift int
	switch {
	case quality > 75:
		return matchWindowMax
	case quality > 50:
		widthShift = 8
	case quality > 25:
		widthShift = 6
	default:
		widthShift = 4
	}
	if w := xsize << uint(widthShift); w < matchWindowMax {
		return w
	}
	return matchWindowMax
}

func cappedRunLength(length int) int {
	if length > matchLengthMax {
		return matchLengthMax
	}
	return length
}

// Fill builds chain links for every position via a single left-to-right
// pass, then resolves each position's best match with a right-to-left
// pass so later (already-resolved) positions can seed left-extension of
// earlier ones.
func (hc *HashChain) Fill(argb []uint32, quality, xsize, ysize int, lowEffort bool) {
	n := xsize * ysize
	if n <= 2 {
		hc.OffsetLength[0] = 0
		if n > 1 {
			hc.OffsetLength[n-1] = 0
		}
		return
	}

	hc.buildChains(argb, n)
	hc.resolveMatches(argb, n, xsize, quality, lowEffort)
}

// buildChains links every position into its hash bucket, using a combined
// (pixel, run-length) hash for runs of a repeated pixel so that long flat
// regions don't degenerate into one overlong chain bucket.
func (hc *HashChain) buildChains(argb []uint32, n int) {
	heads := hc.chainHead
	for i := range heads {
		heads[i] = -1
	}
	links := hc.OffsetLength

	samePrev := argb[0] == argb[1]
	for pos := 0; pos < n-2; {
		sameNext := argb[pos+1] == argb[pos+2]
		if samePrev && sameNext {
			pos = hc.linkRepeatedRun(argb, n, pos, links, heads)
			samePrev = false
			continue
		}
		hash := hashPixelPair(argb[pos:])
		links[pos] = uint32(heads[hash])
		heads[hash] = int32(pos)
		pos++
		samePrev = sameNext
	}
	if n >= 3 {
		links[n-2] = uint32(heads[hashPixelPair(argb[n-2:])])
	}
}

// linkRepeatedRun handles a run of pixels equal to argb[pos], hashing each
// (pixel, remaining-run-length) pair so each offset within the run gets its
// own chain bucket. It returns the position just past the consumed run.
func (hc *HashChain) linkRepeatedRun(argb []uint32, n, pos int, links []uint32, heads []int32) int {
	pixel := argb[pos]
	run := uint32(1)
	for pos+int(run)+2 < n && argb[pos+int(run)+2] == pixel {
		run++
	}
	if run > matchLengthMax {
		skip := int(run - matchLengthMax)
		for k := 0; k < skip; k++ {
			links[pos+k] = 0xFFFFFFFF
		}
		pos += skip
		run = matchLengthMax
	}
	for run > 0 {
		hash := hashTwoValues(pixel, run)
		links[pos] = uint32(heads[hash])
		heads[hash] = int32(pos)
		pos++
		run--
	}
	return pos
}

// resolveMatches walks positions from right to left, each time picking the
// best available match and then greedily extending it leftwards as far as
// possible before moving on (so adjacent positions reuse a known-good
// match instead of re-searching from scratch).
func (hc *HashChain) resolveMatches(argb []uint32, n, xsize, quality int, lowEffort bool) {
	iterBudget := searchBudgetForQuality(quality)
	window := uint32(GetWindowSizeForHashChain(quality, xsize))

	hc.OffsetLength[0] = 0
	hc.OffsetLength[n-1] = 0

	for base := uint32(n - 2); base > 0; {
		limit := cappedRunLength(int(uint32(n) - 1 - base))
		here := argb[base:]
		iter := iterBudget
		bestLen := 0
		bestDist := uint32(0)

		minPos := int32(0)
		if base > window {
			minPos = int32(base - window)
		}
		searchCap := limit
		if searchCap > 256 {
			searchCap = 256
		}

		pos := int32(hc.OffsetLength[base])

		if !lowEffort {
			bestLen, bestDist, iter = trySpatialNeighbors(argb, base, xsize, here, bestLen, bestDist, limit, iter)
			if bestLen == matchLengthMax {
				pos = minPos - 1 // already perfect: skip the chain walk
			}
		}

		bestByte := here[bestLen]
		for ; pos >= minPos && iter > 0; pos = int32(hc.OffsetLength[pos]) {
			iter--
			if argb[pos+int32(bestLen)] != bestByte {
				continue
			}
			length := runLength(argb[pos:], here, 0, limit)
			if length <= bestLen {
				continue
			}
			bestLen = length
			bestDist = base - uint32(pos)
			bestByte = here[bestLen]
			if bestLen >= searchCap {
				break
			}
		}

		base = hc.extendLeft(argb, base, bestLen, bestDist)
	}
}

// trySpatialNeighbors checks the pixel directly above and directly to the
// left of base before falling back to the hash chain — both are common
// enough in real images to be worth two guaranteed probes.
func trySpatialNeighbors(argb []uint32, base uint32, xsize int, here []uint32, bestLen int, bestDist uint32, limit, iter int) (int, uint32, int) {
	if base >= uint32(xsize) {
		if l := runLength(argb[base-uint32(xsize):], here, bestLen, limit); l > bestLen {
			bestLen, bestDist = l, uint32(xsize)
		}
		iter--
	}
	if l := runLength(argb[base-1:], here, bestLen, limit); l > bestLen {
		bestLen, bestDist = l, 1
	}
	iter--
	return bestLen, bestDist, iter
}

// extendLeft records the match at base, then walks leftward recording the
// same (or a longer, where the image permits it) match at each preceding
// position as long as doing so is still an improvement over searching that
// position from scratch. Returns the next position resolveMatches should
// process (one before the last position written here).
func (hc *HashChain) extendLeft(argb []uint32, base uint32, bestLen int, bestDist uint32) uint32 {
	maxBase := base
	for {
		if bestLen > matchLengthMax {
			bestLen = matchLengthMax
		}
		hc.OffsetLength[base] = (bestDist << matchLengthBits) | uint32(bestLen)
		base--
		if bestDist == 0 || base == 0 {
			return base
		}
		if base < bestDist || argb[base-bestDist] != argb[base] {
			return base
		}
		// A match already at the length cap might have a closer rival at
		// the same length further left; keep extending only when the
		// match is as close as it can possibly get (distance 1).
		if bestLen == matchLengthMax && bestDist != 1 && base+uint32(matchLengthMax) < maxBase {
			return base
		}
		if bestLen < matchLengthMax {
			bestLen++
			maxBase = base
		}
	}
}

// DistanceToPlaneCode converts a pixel distance in an image of width xsize
// into a VP8L distance code, favoring the compact plane-code encoding for
// nearby offsets and falling back to a raw distance otherwise.
func DistanceToPlaneCode(xsize, dist int) int {
	yoffset := dist / xsize
	xoffset := dist - yoffset*xsize
	switch {
	case xoffset <= 8 && yoffset < 8:
		return int(planeCodeLUT[yoffset*16+8-xoffset]) + 1
	case xoffset > xsize-8 && yoffset < 7:
		return int(planeCodeLUT[(yoffset+1)*16+8+(xsize-xoffset)]) + 1
	default:
		return dist + CodeToPlaneCodesCount
	}
}

// planeCodeLUT is the inverse of CodeToPlane, built once at init so
// DistanceToPlaneCode can look up a code directly by packed offset.
var planeCodeLUT [128]uint8

func init() {
	for i := 0; i < CodeToPlaneCodesCount; i++ {
		packed := CodeToPlane[i]
		yoff := int(packed >> 4)
		xoff := 8 - int(packed&0xf)
		planeCodeLUT[yoff*16+8-xoff] = uint8(i)
	}
}
