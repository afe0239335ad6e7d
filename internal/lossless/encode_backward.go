package lossless

import "math"

// Backward-reference generation turns the raw ARGB pixel stream into a
// sequence of PixOrCopy tokens (literal / cache-index / length+distance
// copy) suitable for entropy coding. Several strategies are tried —
// hash-chain LZ77, pure run-length, a restricted-window "box" variant,
// and a cost-optimal trace-back pass — and the cheapest one wins.

// Strategy bitmask values for GetBackwardReferencesWithScratch's lz77Types.
const (
	lz77Greedy = 1 << iota
	lz77Rle
	_ // reserved, keeps box at its historical bit position
	lz77Box
)

// RefStream is a growable sequence of PixOrCopy tokens.
type RefStream struct {
	refs []PixOrCopy
}

// NewBackwardRefs allocates a RefStream with room for capacity tokens.
func NewBackwardRefs(capacity int) *RefStream {
	return &RefStream{refs: make([]PixOrCopy, 0, capacity)}
}

func (s *RefStream) Add(v PixOrCopy)    { s.refs = append(s.refs, v) }
func (s *RefStream) Reset()             { s.refs = s.refs[:0] }
func (s *RefStream) Len() int           { return len(s.refs) }
func (s *RefStream) Refs() []PixOrCopy  { return s.refs }

// BackwardRefs is an alias kept for callers outside this file that still
// spell out the full type name.
type BackwardRefs = RefStream

// BackwardReferencesLz77 walks the pixel stream once, emitting a CopyPixel
// token wherever the hash chain already found a match of at least
// minProfitableRun pixels, and a literal or cache-index token otherwise.
// Copy tokens carry raw pixel distances; converting them to VP8L plane
// codes is deferred to BackwardReferences2DLocality so the hash chain can
// keep comparing real offsets while searching.
func BackwardReferencesLz77(xsize, ysize int, argb []uint32, cacheBits int, hc *HashChain, out *RefStream) {
	n := xsize * ysize
	out.Reset()

	cache := cacheForBits(cacheBits)

	for i := 0; i < n; {
		length := hc.GetLength(i)
		if length >= minProfitableRun {
			out.Add(CopyPixel(length, hc.GetOffset(i)))
			cache.fill(argb, i, length)
			i += length
			continue
		}
		out.Add(cache.emit(argb[i]))
		i++
	}
}

// BackwardReferencesRle replaces LZ77 matching with straight run-length
// encoding: a run of identical consecutive pixels becomes one literal (or
// cache-index) token for the first pixel and a distance-1 copy for the
// rest.
func BackwardReferencesRle(xsize, ysize int, argb []uint32, cacheBits int, out *RefStream) {
	n := xsize * ysize
	out.Reset()
	cache := cacheForBits(cacheBits)

	for i := 0; i < n; {
		run := 1
		for i+run < n && argb[i+run] == argb[i] && run < matchLengthMax {
			run++
		}

		if run < minProfitableRun {
			out.Add(cache.emit(argb[i]))
			i++
			continue
		}

		out.Add(cache.emit(argb[i]))
		left := run - 1
		for left > 0 {
			chunk := left
			if chunk > matchLengthMax {
				chunk = matchLengthMax
			}
			out.Add(CopyPixel(chunk, 1))
			cache.fill(argb, i+1, chunk)
			left -= chunk
		}
		i += run
	}
}

// refCache wraps an optional color cache so the three emit-a-pixel sites
// above don't each need their own nil check.
type refCache struct{ cc *ColorCache }

func cacheForBits(bits int) refCache {
	if bits <= 0 {
		return refCache{}
	}
	return refCache{cc: NewColorCache(bits)}
}

func (rc refCache) emit(argb uint32) PixOrCopy {
	if rc.cc == nil {
		return LiteralPixel(argb)
	}
	if idx, ok := rc.cc.Contains(argb); ok {
		return CachePixel(idx)
	}
	rc.cc.Insert(argb)
	return LiteralPixel(argb)
}

func (rc refCache) fill(argb []uint32, start, count int) {
	if rc.cc == nil {
		return
	}
	for k := 0; k < count; k++ {
		rc.cc.Insert(argb[start+k])
	}
}

// boxWindowSize bounds how many plane-code offsets BackwardReferencesLz77Box
// considers around each pixel.
const boxWindowSize = 32

// BackwardReferencesLz77Box restricts matching to a small neighborhood of
// offsets (the lowest boxWindowSize plane codes), trading away some match
// length for offsets that are cheap to encode.
func BackwardReferencesLz77Box(xsize, ysize int, argb []uint32, cacheBits int, seed *HashChain, out *RefStream) {
	pixCount := xsize * ysize

	runAt := buildRunLengths(argb, pixCount)
	offsets, altOffsets := buildBoxOffsets(xsize)

	box := NewHashChain(pixCount)
	box.OffsetLength[0] = 0
	prevOffset, prevLength := -1, -1

	for i := 1; i < pixCount; i++ {
		length, offset := resolveBoxMatch(argb, runAt, offsets, altOffsets, seed, i, pixCount, prevOffset, prevLength)

		if length <= minProfitableRun {
			box.OffsetLength[i] = 0
			prevOffset, prevLength = 0, 0
			continue
		}
		box.OffsetLength[i] = uint32(offset)<<matchLengthBits | uint32(length)
		prevOffset, prevLength = offset, length
	}

	BackwardReferencesLz77(xsize, ysize, argb, cacheBits, box, out)
}

// buildRunLengths returns, for every position, how many times the pixel
// there repeats going forward (capped at matchLengthMax).
func buildRunLengths(argb []uint32, n int) []uint16 {
	counts := make([]uint16, n)
	counts[n-1] = 1
	for i := n - 2; i >= 0; i-- {
		if argb[i] != argb[i+1] {
			counts[i] = 1
			continue
		}
		c := counts[i+1] + 1
		if c > matchLengthMax {
			c = matchLengthMax
		}
		counts[i] = c
	}
	return counts
}

// buildBoxOffsets computes the spiral of pixel offsets reachable within
// boxWindowSize plane codes, plus the subset of those that are NOT one
// pixel past some other offset in the set (altOffsets — used to extend a
// still-open match from the previous position without rescanning the
// whole window).
func buildBoxOffsets(xsize int) (offsets, altOffsets []int) {
	var raw [boxWindowSize]int
	for y := 0; y <= 6; y++ {
		for x := -6; x <= 6; x++ {
			offset := y*xsize + x
			if offset <= 0 {
				continue
			}
			code := DistanceToPlaneCode(xsize, offset) - 1
			if code >= boxWindowSize {
				continue
			}
			raw[code] = offset
		}
	}
	for _, v := range raw {
		if v != 0 {
			offsets = append(offsets, v)
		}
	}
	for _, v := range offsets {
		reachable := false
		for _, w := range offsets {
			if v == w+1 {
				reachable = true
				break
			}
		}
		if !reachable {
			altOffsets = append(altOffsets, v)
		}
	}
	return offsets, altOffsets
}

// resolveBoxMatch finds the best (length, offset) pair at position i,
// reusing the previous position's match when it's still open and
// otherwise probing every candidate offset from scratch.
func resolveBoxMatch(argb []uint32, runAt []uint16, offsets, altOffsets []int, seed *HashChain, i, pixCount, prevOffset, prevLength int) (length, offset int) {
	length = seed.GetLength(i)
	if length >= matchLengthMax {
		offset = seed.GetOffset(i)
		for _, w := range offsets {
			if offset == w {
				return length, offset
			}
		}
	}

	candidates := offsets
	length, offset = 0, 0
	if prevLength > 1 && prevLength < matchLengthMax {
		candidates = altOffsets
		length, offset = prevLength-1, prevOffset
	}

	for _, cand := range candidates {
		j := i - cand
		if j < 0 || argb[j] != argb[i] {
			continue
		}
		run := matchRunAt(argb, runAt, i, j, pixCount)
		if run <= length {
			continue
		}
		offset = cand
		if run >= matchLengthMax {
			return matchLengthMax, offset
		}
		length = run
	}
	return length, offset
}

// matchRunAt sums run lengths of identical-pixel stretches starting at i
// and j until they diverge, giving the total match length between the two
// positions.
func matchRunAt(argb []uint32, runAt []uint16, i, j, pixCount int) int {
	total := 0
	for {
		ci, cj := int(runAt[i]), int(runAt[j])
		if cj != ci {
			if cj < ci {
				total += cj
			} else {
				total += ci
			}
			return total
		}
		total += cj
		j += cj
		i += ci
		if total > matchLengthMax || i >= pixCount || j >= pixCount || argb[j] != argb[i] {
			return total
		}
	}
}

// BackwardReferences2DLocality rewrites every copy token's raw pixel
// distance into a VP8L plane distance code. It runs once, after all LZ77
// candidates have been compared using raw distances (plane-code costs
// would otherwise distort the comparison).
func BackwardReferences2DLocality(xsize int, refs *RefStream) {
	for i := range refs.refs {
		if !refs.refs[i].IsCopy() {
			continue
		}
		dist := int(refs.refs[i].value)
		refs.refs[i].value = uint32(DistanceToPlaneCode(xsize, dist))
	}
}

// CalculateBestCacheSize brute-forces cacheBits in [0, cacheBitsMax] against
// a set of backward references, replaying the literal/cache-hit decisions
// each cache size would make and picking whichever minimizes estimated
// entropy. quality <= 25 always disables the cache.
func CalculateBestCacheSize(argb []uint32, quality int, refs *RefStream, cacheBitsMax int) int {
	if quality <= 25 || cacheBitsMax <= 0 {
		return 0
	}
	if cacheBitsMax > MaxCacheBits {
		cacheBitsMax = MaxCacheBits
	}

	sweep := newCacheSweep(cacheBitsMax)
	sweep.run(argb, refs)
	return sweep.bestBits()
}

// cacheSweep holds one histogram and one color cache per candidate
// cache-bits value, slab-allocated so the brute-force search over
// cacheBitsMax candidates costs one allocation instead of many.
type cacheSweep struct {
	cacheBitsMax int
	histos       []*Histogram
	caches       []*ColorCache // caches[0] is unused (cache bits 0 means no cache)
}

func newCacheSweep(cacheBitsMax int) *cacheSweep {
	numHistos := cacheBitsMax + 1

	histoSlab := make([]Histogram, numHistos)
	totalLit := 0
	for i := 0; i < numHistos; i++ {
		totalLit += histogramNumCodes(i)
	}
	litSlab := make([]uint32, totalLit)
	litOff := 0
	histos := make([]*Histogram, numHistos)
	for i := 0; i < numHistos; i++ {
		ls := histogramNumCodes(i)
		histoSlab[i].Literal = litSlab[litOff : litOff+ls : litOff+ls]
		histoSlab[i].paletteCodeBits = i
		histoSlab[i].resetStats()
		histos[i] = &histoSlab[i]
		litOff += ls
	}

	cacheSlab := make([]ColorCache, numHistos)
	totalColors := 0
	for i := 1; i < numHistos; i++ {
		totalColors += 1 << i
	}
	colorSlab := make([]uint32, totalColors)
	colorOff := 0
	caches := make([]*ColorCache, numHistos)
	for i := 1; i < numHistos; i++ {
		sz := 1 << i
		cacheSlab[i].Colors = colorSlab[colorOff : colorOff+sz : colorOff+sz]
		cacheSlab[i].HashBits = i
		cacheSlab[i].HashShift = 32 - i
		caches[i] = &cacheSlab[i]
		colorOff += sz
	}

	return &cacheSweep{cacheBitsMax: cacheBitsMax, histos: histos, caches: caches}
}

// run replays refs once, updating every candidate histogram in lock step.
// Cache keys for smaller cache sizes are derived from the largest one by
// right-shifting rather than rehashed from scratch.
func (sw *cacheSweep) run(argb []uint32, refs *RefStream) {
	pos := 0
	for ri := range refs.refs {
		v := &refs.refs[ri]
		if v.IsLiteral() {
			sw.observeLiteral(argb[pos])
			pos++
			continue
		}
		length := v.Length()
		sw.observeCopy(length)
		pos = sw.primeCaches(argb, pos, length)
	}
}

func (sw *cacheSweep) observeLiteral(pix uint32) {
	a, r, g, b := (pix>>24)&0xff, (pix>>16)&0xff, (pix>>8)&0xff, pix&0xff

	sw.histos[0].Blue[b]++
	sw.histos[0].Literal[g]++
	sw.histos[0].Red[r]++
	sw.histos[0].Alpha[a]++

	key := int((pix * cacheHashMultiplier) >> uint(32-sw.cacheBitsMax))
	for i := sw.cacheBitsMax; i >= 1; i-- {
		if i < sw.cacheBitsMax {
			key >>= 1
		}
		if sw.caches[i].Colors[key] == pix {
			idx := NumLiteralCodes + NumLengthCodes + key
			if idx < len(sw.histos[i].Literal) {
				sw.histos[i].Literal[idx]++
			}
			continue
		}
		sw.caches[i].Colors[key] = pix
		sw.histos[i].Blue[b]++
		sw.histos[i].Literal[g]++
		sw.histos[i].Red[r]++
		sw.histos[i].Alpha[a]++
	}
}

func (sw *cacheSweep) observeCopy(length int) {
	lenCode, _ := PrefixEncodeBitsNoLUT(length)
	code := NumLiteralCodes + lenCode
	for i := 0; i <= sw.cacheBitsMax; i++ {
		if code < len(sw.histos[i].Literal) {
			sw.histos[i].Literal[code]++
		}
	}
}

// primeCaches updates every candidate cache for the length pixels copied
// starting at pos, skipping the hash recompute when the color repeats.
func (sw *cacheSweep) primeCaches(argb []uint32, pos, length int) int {
	prev := argb[pos] ^ 0xffffffff
	for k := 0; k < length; k++ {
		pix := argb[pos]
		if pix != prev {
			key := int((pix * cacheHashMultiplier) >> uint(32-sw.cacheBitsMax))
			for i := sw.cacheBitsMax; i >= 1; i-- {
				if i < sw.cacheBitsMax {
					key >>= 1
				}
				sw.caches[i].Colors[key] = pix
			}
			prev = pix
		}
		pos++
	}
	return pos
}

func (sw *cacheSweep) bestBits() int {
	best, bestCost := 0, uint64(math.MaxUint64)
	for i, h := range sw.histos {
		if cost := histogramEstimateBitsUint64(h); i == 0 || cost < bestCost {
			bestCost, best = cost, i
		}
	}
	return best
}

// histogramEstimateBitsUint64 sums a histogram's population cost across its
// five sub-alphabets plus length/distance extra-bit payload.
func histogramEstimateBitsUint64(h *Histogram) uint64 {
	cost := PopulationCost(h)
	cost += extraCost(h.Literal[NumLiteralCodes:], NumLengthCodes)
	cost += extraCost(h.Distance[:], NumDistanceCodes)
	return uint64(cost)
}

// BackwardRefsWithLocalCache rewrites literal tokens that hit in a fresh
// color cache of the given size into cache-index tokens, leaving copy
// tokens untouched except for keeping the cache warm across their pixels.
func BackwardRefsWithLocalCache(argb []uint32, cacheBits int, refs *RefStream) {
	if cacheBits <= 0 {
		return
	}
	cc := NewColorCache(cacheBits)
	pos := 0

	for ri := range refs.refs {
		v := &refs.refs[ri]
		if !v.IsLiteral() {
			length := v.Length()
			for k := 0; k < length; k++ {
				cc.Insert(argb[pos])
				pos++
			}
			continue
		}
		argbLiteral := v.Argb()
		if idx, ok := cc.Contains(argbLiteral); ok {
			refs.refs[ri] = CachePixel(idx)
		} else {
			cc.Insert(argbLiteral)
		}
		pos++
	}
}

// BackwardRefsScratch holds optional pre-allocated buffers for
// GetBackwardReferencesWithScratch so repeat calls (e.g. across the
// encoder's quality/crunch-config sweep) don't keep reallocating.
type BackwardRefsScratch struct {
	Candidate *RefStream
	Trace     *RefStream
	DistArray []uint16
	Histo     *Histogram
}

// GetBackwardReferences tries every requested LZ77 strategy and keeps the
// cheapest, returning the color-cache-bits value the winner used.
func GetBackwardReferences(width, height int, argb []uint32, quality, lz77Types, cacheBitsMax int, hc *HashChain, best *RefStream) int {
	return GetBackwardReferencesWithScratch(width, height, argb, quality, lz77Types, cacheBitsMax, hc, best, nil)
}

// GetBackwardReferencesWithScratch is GetBackwardReferences with caller-
// supplied scratch buffers. It runs each requested strategy at cacheBits=0,
// picks the cheapest, then brute-forces the cache size and (at quality>=25)
// refines standard/box matches with a cost-optimal trace-back pass.
func GetBackwardReferencesWithScratch(
	width, height int, argb []uint32, quality, lz77Types, cacheBitsMax int,
	hc *HashChain, best *RefStream, scratch *BackwardRefsScratch,
) int {
	pixCount := width * height

	candidate, histo := scratchBuffers(scratch, pixCount, cacheBitsMax)

	bestCost := uint64(math.MaxUint64)
	bestStrategy := 0

	tryStrategy := func(strategy int, run func()) {
		if lz77Types&strategy == 0 {
			return
		}
		run()
		if cost := histogramEstimateBitsFromRefsScratch(candidate, 0, histo); cost < bestCost {
			bestCost, bestStrategy = cost, strategy
			copyRefs(best, candidate)
		}
	}

	tryStrategy(lz77Greedy, func() { BackwardReferencesLz77(width, height, argb, 0, hc, candidate) })
	tryStrategy(lz77Rle, func() { BackwardReferencesRle(width, height, argb, 0, candidate) })
	tryStrategy(lz77Box, func() { BackwardReferencesLz77Box(width, height, argb, 0, hc, candidate) })

	cacheBits := CalculateBestCacheSize(argb, quality, best, cacheBitsMax)
	if cacheBits > 0 {
		BackwardRefsWithLocalCache(argb, cacheBits, best)
	}
	bestCost = histogramEstimateBitsFromRefsScratch(best, cacheBits, histo)

	if (bestStrategy == lz77Greedy || bestStrategy == lz77Box) && quality >= 25 {
		refineWithTrace(width, height, argb, cacheBits, hc, best, scratch, pixCount, &bestCost, histo)
	}

	BackwardReferences2DLocality(width, best)
	return cacheBits
}

func scratchBuffers(scratch *BackwardRefsScratch, pixCount, cacheBitsMax int) (*RefStream, *Histogram) {
	var candidate *RefStream
	var histo *Histogram
	if scratch != nil {
		candidate, histo = scratch.Candidate, scratch.Histo
	}
	if candidate == nil {
		candidate = NewBackwardRefs(pixCount)
	} else {
		candidate.Reset()
	}
	if histo == nil {
		histo = NewHistogram(cacheBitsMax)
	}
	return candidate, histo
}

// refineWithTrace runs the Zopfli-style trace-back optimizer and keeps its
// result if it beats the greedy best found so far.
func refineWithTrace(width, height int, argb []uint32, cacheBits int, hc *HashChain, best *RefStream, scratch *BackwardRefsScratch, pixCount int, bestCost *uint64, histo *Histogram) {
	var trace *RefStream
	var distArray []uint16
	if scratch != nil {
		trace, distArray = scratch.Trace, scratch.DistArray
	}
	if trace == nil {
		trace = NewBackwardRefs(pixCount)
	} else {
		trace.Reset()
	}
	if len(distArray) < pixCount {
		distArray = make([]uint16, pixCount)
	} else {
		distArray = distArray[:pixCount]
		for i := range distArray {
			distArray[i] = 0
		}
	}

	if !backwardReferencesTraceBackwardsWithDist(width, height, argb, cacheBits, hc, best, trace, distArray) {
		return
	}
	if cost := histogramEstimateBitsFromRefsScratch(trace, cacheBits, histo); cost < *bestCost {
		*bestCost = cost
		copyRefs(best, trace)
	}
}

func histogramEstimateBitsFromRefsScratch(refs *RefStream, cacheBits int, scratch *Histogram) uint64 {
	if refs.Len() == 0 {
		return math.MaxUint64
	}
	h := scratch
	if h == nil || len(h.Literal) < histogramNumCodes(cacheBits) {
		h = NewHistogram(cacheBits)
	} else {
		h.Clear()
	}
	h.AddRefs(refs, 0, cacheBits)
	return histogramEstimateBitsUint64(h)
}

func copyRefs(dst, src *RefStream) {
	dst.Reset()
	srcRefs := src.Refs()
	if cap(dst.refs) < len(srcRefs) {
		dst.refs = make([]PixOrCopy, len(srcRefs))
	} else {
		dst.refs = dst.refs[:len(srcRefs)]
	}
	copy(dst.refs, srcRefs)
}

// ---------------------------------------------------------------------------
// Cost-optimal trace-back refinement
// ---------------------------------------------------------------------------
//
// A Zopfli-style shortest-path search: build a per-symbol cost model from
// the greedy references, then for every pixel position track the cheapest
// way to reach it (as a literal, cache hit, or the tail of some copy),
// and finally replay the chosen path through the hash chain to emit the
// winning tokens.

// traceCostModel holds per-symbol bit-cost estimates derived from a
// reference histogram. literal holds green values (0-255), length prefix
// codes (256+), and color-cache indices after that.
type traceCostModel struct {
	alpha    [NumLiteralCodes]float64
	red      [NumLiteralCodes]float64
	blue     [NumLiteralCodes]float64
	distance [NumDistanceCodes]float64
	literal  []float64
}

func newCostModelTrace(cacheBits int) *traceCostModel {
	n := NumLiteralCodes + NumLengthCodes
	if cacheBits > 0 {
		n += 1 << cacheBits
	}
	return &traceCostModel{literal: make([]float64, n)}
}

// populationToBitCost converts a frequency histogram into per-symbol bit
// costs: cost[i] = log2(total) - log2(count[i]), or all zero when there's
// at most one distinct symbol (nothing to choose between).
func populationToBitCost(counts []uint32, out []float64) {
	var sum uint32
	nonzero := 0
	for _, c := range counts {
		sum += c
		if c > 0 {
			nonzero++
		}
	}
	if nonzero <= 1 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	logSum := math.Log2(float64(sum))
	for i, c := range counts {
		if c > 0 {
			out[i] = logSum - math.Log2(float64(c))
		} else {
			out[i] = logSum
		}
	}
}

// build derives the cost model from an existing reference stream, folding
// each copy's raw distance into a plane code first (matching how the final
// encoded stream will spend distance bits).
func (cm *traceCostModel) build(xsize, cacheBits int, refs *RefStream) {
	litSize := NumLiteralCodes + NumLengthCodes
	if cacheBits > 0 {
		litSize += 1 << cacheBits
	}
	litCounts := make([]uint32, litSize)
	var redCounts, blueCounts, alphaCounts [NumLiteralCodes]uint32
	var distCounts [NumDistanceCodes]uint32

	for i := range refs.refs {
		v := &refs.refs[i]
		switch {
		case v.IsLiteral():
			argb := v.Argb()
			alphaCounts[(argb>>24)&0xff]++
			redCounts[(argb>>16)&0xff]++
			litCounts[(argb>>8)&0xff]++
			blueCounts[argb&0xff]++
		case v.IsCacheIdx():
			idx := NumLiteralCodes + NumLengthCodes + v.CacheIndex()
			if idx < litSize {
				litCounts[idx]++
			}
		case v.IsCopy():
			if lenCode, _ := PrefixEncodeBitsNoLUT(v.Length()); lenCode < NumLengthCodes {
				litCounts[NumLiteralCodes+lenCode]++
			}
			planeCode := DistanceToPlaneCode(xsize, v.Distance())
			if distCode, _ := PrefixEncodeBitsNoLUT(planeCode); distCode < NumDistanceCodes {
				distCounts[distCode]++
			}
		}
	}

	populationToBitCost(litCounts, cm.literal)
	populationToBitCost(redCounts[:], cm.red[:])
	populationToBitCost(blueCounts[:], cm.blue[:])
	populationToBitCost(alphaCounts[:], cm.alpha[:])
	populationToBitCost(distCounts[:], cm.distance[:])
}

func (cm *traceCostModel) literalCost(v uint32) float64 {
	return cm.alpha[(v>>24)&0xff] + cm.red[(v>>16)&0xff] + cm.literal[(v>>8)&0xff] + cm.blue[v&0xff]
}

func (cm *traceCostModel) cacheCost(idx int) float64 {
	i := NumLiteralCodes + NumLengthCodes + idx
	if i >= len(cm.literal) {
		return math.MaxFloat64
	}
	return cm.literal[i]
}

func (cm *traceCostModel) lengthCost(length int) float64 {
	code, extra := PrefixEncodeBitsNoLUT(length)
	if code >= NumLengthCodes {
		return math.MaxFloat64
	}
	return cm.literal[NumLiteralCodes+code] + float64(extra)
}

func (cm *traceCostModel) distanceCost(distance int) float64 {
	code, extra := PrefixEncodeBitsNoLUT(distance)
	if code >= NumDistanceCodes {
		return math.MaxFloat64
	}
	return cm.distance[code] + float64(extra)
}

// costSpan is one [start, end) run of pixel positions for which a single
// (cost, sourcePos) candidate is the cheapest known way to reach them via
// a copy of the matching length. The trace-cost search keeps these in a
// sorted, non-overlapping linked list so later, cheaper spans can punch
// holes in or evict earlier, costlier ones.
type costSpan struct {
	cost           float64
	start, end     int
	sourcePos      int
	prev, next     *costSpan
}

// lengthCostBand groups consecutive lengths that share the same
// lengthCost, so pushSpan can process a whole band in one step instead of
// one length at a time.
type lengthCostBand struct {
	cost       float64
	start, end int // lengths [start, end)
}

const maxActiveSpans = 500

// traceCostTracker runs the shortest-path search: costs[i] is the cheapest
// total bit cost found so far to reach pixel i, and path[i] records how
// many pixels back the step that achieved it came from.
type traceCostTracker struct {
	head  *costSpan
	count int

	bands    []lengthCostBand
	lenCost  [matchLengthMax]float64

	costs []float64
	path  []uint16

	free []*costSpan
}

func newTraceCostTracker(path []uint16, pixCount int, cm *traceCostModel) *traceCostTracker {
	t := &traceCostTracker{path: path}

	n := pixCount
	if n > matchLengthMax {
		n = matchLengthMax
	}
	for i := 0; i < n; i++ {
		t.lenCost[i] = cm.lengthCost(i)
	}

	bandCount := 1
	for i := 1; i < n; i++ {
		if t.lenCost[i] != t.lenCost[i-1] {
			bandCount++
		}
	}
	t.bands = make([]lengthCostBand, bandCount)
	cur := 0
	t.bands[0] = lengthCostBand{start: 0, end: 1, cost: t.lenCost[0]}
	for i := 1; i < n; i++ {
		if t.lenCost[i] != t.bands[cur].cost {
			cur++
			t.bands[cur] = lengthCostBand{start: i, cost: t.lenCost[i]}
		}
		t.bands[cur].end = i + 1
	}

	t.costs = make([]float64, pixCount)
	for i := range t.costs {
		t.costs[i] = math.MaxFloat64
	}
	return t
}

func (t *traceCostTracker) alloc() *costSpan {
	if n := len(t.free); n > 0 {
		s := t.free[n-1]
		t.free = t.free[:n-1]
		*s = costSpan{}
		return s
	}
	return &costSpan{}
}

func (t *traceCostTracker) release(s *costSpan) { t.free = append(t.free, s) }

func (t *traceCostTracker) link(prev, next *costSpan) {
	if prev != nil {
		prev.next = next
	} else {
		t.head = next
	}
	if next != nil {
		next.prev = prev
	}
}

func (t *traceCostTracker) remove(s *costSpan) {
	if s == nil {
		return
	}
	t.link(s.prev, s.next)
	t.release(s)
	t.count--
}

func (t *traceCostTracker) relax(i, source int, cost float64) {
	if t.costs[i] > cost {
		t.costs[i] = cost
		t.path[i] = uint16(i - source + 1)
	}
}

func (t *traceCostTracker) relaxRange(start, end, source int, cost float64) {
	for i := start; i < end; i++ {
		t.relax(i, source, cost)
	}
}

// settle relaxes pixel i against every active span covering it, optionally
// dropping spans that have fully scrolled past i.
func (t *traceCostTracker) settle(i int, evict bool) {
	s := t.head
	for s != nil && s.start <= i {
		next := s.next
		if s.end <= i {
			if evict {
				t.remove(s)
			}
		} else {
			t.relax(i, s.sourcePos, s.cost)
		}
		s = next
	}
}

// insertSorted splices s into the list in start order, using hint as a
// nearby starting point to avoid scanning from the head every time.
func (t *traceCostTracker) insertSorted(s, hint *costSpan) {
	prev := hint
	if prev == nil {
		prev = t.head
	}
	for prev != nil && s.start < prev.start {
		prev = prev.prev
	}
	for prev != nil && prev.next != nil && prev.next.start < s.start {
		prev = prev.next
	}
	if prev != nil {
		t.link(s, prev.next)
	} else {
		t.link(s, t.head)
	}
	t.link(prev, s)
}

func (t *traceCostTracker) insert(hint *costSpan, cost float64, source, start, end int) {
	if start >= end {
		return
	}
	if t.count >= maxActiveSpans {
		t.relaxRange(start, end, source, cost)
		return
	}
	s := t.alloc()
	s.cost, s.sourcePos, s.start, s.end = cost, source, start, end
	t.insertSorted(s, hint)
	t.count++
}

// pushSpan folds a newly discovered candidate — reachable via a copy of up
// to length pixels starting at position, costing distanceCost plus the
// per-length cost — into the active span list, splitting or evicting
// whatever spans it beats.
func (t *traceCostTracker) pushSpan(distanceCost float64, position, length int) {
	const directThreshold = 10
	if length < directThreshold {
		for j := position; j < position+length; j++ {
			t.relax(j, position, distanceCost+t.lenCost[j-position])
		}
		return
	}

	span := t.head
	for bi := 0; bi < len(t.bands) && t.bands[bi].start < length; bi++ {
		start := position + t.bands[bi].start
		end := position + t.bands[bi].end
		if end > position+length {
			end = position + length
		}
		cost := distanceCost + t.bands[bi].cost

		for span != nil && span.start < end {
			nextSpan := span.next
			if start >= span.end {
				span = nextSpan
				continue
			}
			if cost >= span.cost {
				newStart := span.end
				t.insert(span, cost, position, start, span.start)
				start = newStart
				if start >= end {
					break
				}
				span = nextSpan
				continue
			}
			if start <= span.start {
				if span.end <= end {
					t.remove(span)
				} else {
					span.start = end
					break
				}
			} else if end < span.end {
				oldEnd := span.end
				span.end = start
				t.insert(span, span.cost, span.sourcePos, end, oldEnd)
				span = span.next
				break
			} else {
				span.end = start
			}
			span = nextSpan
		}
		t.insert(span, cost, position, start, end)
	}
}

// tryLiteralOrCacheHit evaluates encoding argb[idx] as a literal or cache
// hit and relaxes costs[idx] if that's cheaper than what's there.
//
// The 0.82/0.68 scale factors mirror the fixed-point DivRound weighting the
// reference entropy estimator applies to literal-vs-cache costs; they are
// tuned constants, not derived.
func tryLiteralOrCacheHit(argb []uint32, cc *ColorCache, cm *traceCostModel, idx int, useCache bool, prevCost float64, t *traceCostTracker) {
	cost := prevCost
	color := argb[idx]

	if useCache {
		if key, ok := cc.Contains(color); ok {
			cost += cm.cacheCost(key) * 0.68
			t.relax(idx, idx, cost)
			return
		}
		cc.Insert(color)
	}
	cost += cm.literalCost(color) * 0.82
	t.relax(idx, idx, cost)
}

// traceCheapestPath runs the forward cost-relaxation pass over every
// pixel, using the hash chain's matches as candidate copy spans, and
// writes the resulting step sizes into path.
func traceCheapestPath(xsize, ysize int, argb []uint32, cacheBits int, hc *HashChain, refs *RefStream, path []uint16) {
	pixCount := xsize * ysize
	useCache := cacheBits > 0

	cm := newCostModelTrace(cacheBits)
	cm.build(xsize, cacheBits, refs)

	t := newTraceCostTracker(path, pixCount, cm)

	var cc *ColorCache
	if useCache {
		cc = NewColorCache(cacheBits)
	}

	path[0] = 0
	tryLiteralOrCacheHit(argb, cc, cm, 0, useCache, 0, t)

	prevOffset, prevLength := -1, -1
	var offsetCost float64
	offsetJustChanged := false
	reach := 0

	for i := 1; i < pixCount; i++ {
		prevCost := t.costs[i-1]
		offset := hc.GetOffset(i)
		length := hc.GetLength(i)

		tryLiteralOrCacheHit(argb, cc, cm, i, useCache, prevCost, t)

		if length >= 2 {
			if offset != prevOffset {
				code := DistanceToPlaneCode(xsize, offset)
				offsetCost = cm.distanceCost(code)
				offsetJustChanged = true
				t.pushSpan(prevCost+offsetCost, i, length)
			} else {
				if offsetJustChanged {
					reach = i - 1 + prevLength - 1
					offsetJustChanged = false
				}
				if i+length-1 > reach {
					reach = extendSameOffsetSpan(t, hc, i, reach, offset, offsetCost)
				}
			}
		}

		t.settle(i, true)
		prevOffset, prevLength = offset, length
	}
}

// extendSameOffsetSpan is reached when a run of same-offset matches grows
// past the span already pushed for it; it walks forward to the end of the
// run and pushes a fresh span covering the newly exposed tail.
func extendSameOffsetSpan(t *traceCostTracker, hc *HashChain, i, reach, offset int, offsetCost float64) int {
	j := i
	var offsetJ, lenJ int
	for j <= reach {
		offsetJ, lenJ = hc.GetOffset(j+1), hc.GetLength(j+1)
		if offsetJ != offset {
			offsetJ, lenJ = hc.GetOffset(j), hc.GetLength(j)
			break
		}
		j++
	}
	if j > reach {
		offsetJ, lenJ = hc.GetOffset(j), hc.GetLength(j)
	}

	t.settle(j-1, false)
	t.settle(j, false)
	t.pushSpan(t.costs[j-1]+offsetCost, j, lenJ)
	return j + lenJ - 1
}

// unwindPath walks path right to left and packs the chosen step sizes at
// the tail of the same slice, returning that tail.
func unwindPath(path []uint16, n int) []uint16 {
	end := n
	cur := n - 1
	for cur >= 0 {
		step := int(path[cur])
		end--
		path[end] = uint16(step)
		cur -= step
	}
	return path[end:n]
}

// replayChosenPath walks the winning path and emits the final token
// stream, exactly mirroring the greedy emit logic but driven by
// precomputed step sizes instead of a live hash-chain lookup per pixel.
func replayChosenPath(argb []uint32, cacheBits int, chosen []uint16, hc *HashChain, out *RefStream) {
	cache := cacheForBits(cacheBits)
	out.Reset()

	i := 0
	for _, step := range chosen {
		length := int(step)
		if length != 1 {
			out.Add(CopyPixel(length, hc.GetOffset(i)))
			cache.fill(argb, i, length)
			i += length
			continue
		}
		out.Add(cache.emit(argb[i]))
		i++
	}
}

// BackwardReferencesTraceBackwards runs the cost-optimal trace-back search
// seeded by refsSrc and writes the winning tokens to refsDst.
func BackwardReferencesTraceBackwards(xsize, ysize int, argb []uint32, cacheBits int, hc *HashChain, refsSrc, refsDst *RefStream) bool {
	path := make([]uint16, xsize*ysize)
	return backwardReferencesTraceBackwardsWithDist(xsize, ysize, argb, cacheBits, hc, refsSrc, refsDst, path)
}

func backwardReferencesTraceBackwardsWithDist(xsize, ysize int, argb []uint32, cacheBits int, hc *HashChain, refsSrc, refsDst *RefStream, path []uint16) bool {
	n := xsize * ysize
	traceCheapestPath(xsize, ysize, argb, cacheBits, hc, refsSrc, path)
	chosen := unwindPath(path, n)
	replayChosenPath(argb, cacheBits, chosen, hc, refsDst)
	return true
}
