package lossless

import "github.com/losslesspix/vp8l/internal/bitio"

// decodeCodeLengths reads a run-length-coded sequence of code lengths for
// numSymbols symbols, using clTable (the code-length alphabet's own
// Huffman table) to decode each length or repeat instruction.
func (dec *Decoder) decodeCodeLengths(clTable []HuffmanCode, numSymbols int) ([]int, error) {
	lengths := dec.acquireCodeLengths(numSymbols)
	prevLen := DefaultCodeLength

	limit := numSymbols
	if dec.br.ReadBits(1) == 1 {
		lenNbits := 2 + 2*int(dec.br.ReadBits(3))
		limit = 2 + int(dec.br.ReadBits(lenNbits))
		if limit > numSymbols {
			return nil, ErrBitstream
		}
	}

	symbol, remaining := 0, limit
	for symbol < numSymbols && remaining > 0 {
		remaining--
		dec.br.FillBitWindow()
		entry := clTable[dec.br.PrefetchBits()&LengthsTableMask]
		dec.br.SetBitPos(dec.br.BitPos() + int(entry.Bits))
		codeLen := int(entry.Value)

		if codeLen < CodeLengthLiterals {
			lengths[symbol] = codeLen
			symbol++
			if codeLen != 0 {
				prevLen = codeLen
			}
			continue
		}

		slot := codeLen - CodeLengthLiterals
		count := int(dec.br.ReadBits(int(CodeLengthExtraBits[slot]))) + int(CodeLengthRepeatOffsets[slot])
		if symbol+count > numSymbols {
			return nil, ErrBitstream
		}
		fill := 0
		if codeLen == CodeLengthRepeatCode {
			fill = prevLen
		}
		for i := 0; i < count; i++ {
			lengths[symbol] = fill
			symbol++
		}
	}

	if dec.br.IsEndOfStream() {
		return nil, ErrBitstream
	}
	return lengths, nil
}

func (dec *Decoder) acquireCodeLengths(n int) []int {
	if cap(dec.codeLengthsBuf) >= n {
		buf := dec.codeLengthsBuf[:n]
		for i := range buf {
			buf[i] = 0
		}
		return buf
	}
	buf := make([]int, n)
	dec.codeLengthsBuf = buf
	return buf
}

// decodeHuffmanTree reads one of a meta-code's five trees: either a
// "simple" code (1-2 symbols written directly) or a full code-length
// table followed by decodeCodeLengths. Returns the built lookup table
// and the longest code length seen, the latter feeding the packed-table
// eligibility check in readHuffmanCodes.
func (dec *Decoder) decodeHuffmanTree(alphabetSize int) ([]HuffmanCode, int, error) {
	lengths := dec.acquireCodeLengths(alphabetSize)

	if dec.br.ReadBits(1) == 1 {
		if err := dec.decodeSimpleTree(lengths, alphabetSize); err != nil {
			return nil, 0, err
		}
	} else {
		decoded, err := dec.decodeFullTree(alphabetSize)
		if err != nil {
			return nil, 0, err
		}
		lengths = decoded
	}

	if dec.br.IsEndOfStream() {
		return nil, 0, ErrBitstream
	}

	maxLen := 0
	for _, cl := range lengths {
		if cl > maxLen {
			maxLen = cl
		}
	}

	table, err := BuildHuffmanTableScratch(HuffmanTableBits, lengths, &dec.huffScratch)
	if err != nil {
		return nil, 0, err
	}
	return table, maxLen, nil
}

// decodeSimpleTree fills lengths for a 1- or 2-symbol tree encoded
// directly in the bitstream (no code-length alphabet needed).
func (dec *Decoder) decodeSimpleTree(lengths []int, alphabetSize int) error {
	numSymbols := int(dec.br.ReadBits(1)) + 1
	symbolBits := 1
	if dec.br.ReadBits(1) != 0 {
		symbolBits = 8
	}

	symbol := int(dec.br.ReadBits(symbolBits))
	if symbol >= alphabetSize {
		return ErrBitstream
	}
	lengths[symbol] = 1

	if numSymbols == 2 {
		symbol2 := int(dec.br.ReadBits(8))
		if symbol2 >= alphabetSize {
			return ErrBitstream
		}
		lengths[symbol2] = 1
	}
	return nil
}

// decodeFullTree reads the code-length alphabet's own code lengths, builds
// its table, then uses that to decode the real alphabet's code lengths.
func (dec *Decoder) decodeFullTree(alphabetSize int) ([]int, error) {
	var clLengths [CodeLengthCodes]int
	numCodes := int(dec.br.ReadBits(4)) + 4
	if numCodes > CodeLengthCodes {
		numCodes = CodeLengthCodes
	}
	for i := 0; i < numCodes; i++ {
		clLengths[CodeLengthCodeOrder[i]] = int(dec.br.ReadBits(3))
	}

	clTable, err := BuildHuffmanTableScratch(LengthsTableBits, clLengths[:], &dec.huffScratch)
	if err != nil {
		return nil, err
	}
	return dec.decodeCodeLengths(clTable, alphabetSize)
}

// readHuffmanCodes reads the optional Huffman meta-image and every
// HTreeGroup it references. When metaHuffmanCount groups would be
// wasteful to allocate in full (e.g. a huge distinct-group count from a
// pathological bitstream), the groups actually used are compacted into a
// dense [0, numHTreeGroups) range via an index remap.
func (dec *Decoder) readHuffmanCodes(xsize, ysize, cacheBits int, allowMetaImage bool) error {
	numGroups, numGroupsMax := 1, 1
	var metaImage []uint32
	var remap []int // remap[rawGroup] == -1 means that raw group is unused

	if allowMetaImage && dec.br.ReadBits(1) == 1 {
		var err error
		metaImage, numGroupsMax, err = dec.readMetaHuffmanImage(xsize, ysize)
		if err != nil {
			return err
		}
		remap, numGroups = compactGroupIndices(metaImage, numGroupsMax, xsize*ysize)
	}

	if dec.br.IsEndOfStream() {
		return ErrBitstream
	}

	groups := dec.acquireHTreeGroups(numGroups)
	for raw := 0; raw < numGroupsMax; raw++ {
		dest := raw
		if remap != nil {
			dest = remap[raw]
		}
		if dest == -1 {
			// Bitstream order still carries this group's trees even though
			// no pixel references it; read and discard to stay in sync.
			if err := dec.skipHTreeGroup(cacheBits); err != nil {
				return err
			}
			continue
		}
		if err := dec.readHTreeGroupInto(&groups[dest], cacheBits); err != nil {
			return err
		}
	}

	dec.hdr.numHTreeGroups = numGroups
	dec.hdr.htreeGroups = groups
	dec.hdr.huffmanImage = metaImage
	return nil
}

// readMetaHuffmanImage decodes the Huffman meta-image sub-image and
// returns it alongside the largest raw group index it references.
func (dec *Decoder) readMetaHuffmanImage(xsize, ysize int) ([]uint32, int, error) {
	precision := MinHuffmanBits + int(dec.br.ReadBits(NumHuffmanBits))
	tilesX := VP8LSubSampleSize(xsize, precision)
	tilesY := VP8LSubSampleSize(ysize, precision)

	subImage, err := dec.decodeSubImage(tilesX, tilesY)
	if err != nil {
		return nil, 0, err
	}
	dec.hdr.huffmanSubsampleBits = precision

	maxGroup := 0
	for i, px := range subImage {
		group := int((px >> 8) & 0xffff)
		subImage[i] = uint32(group)
		if group+1 > maxGroup {
			maxGroup = group + 1
		}
	}
	return subImage, maxGroup, nil
}

// compactGroupIndices decides whether metaImage's raw group indices need
// remapping into a dense range (only worth it once the raw count is
// large relative to the image), and if so builds that remap in place.
func compactGroupIndices(metaImage []uint32, numGroupsMax, numPixels int) (remap []int, numGroups int) {
	if numGroupsMax <= 1000 && numGroupsMax <= numPixels {
		return nil, numGroupsMax
	}

	remap = make([]int, numGroupsMax)
	for i := range remap {
		remap[i] = -1
	}
	for i, px := range metaImage {
		g := int(px)
		if remap[g] == -1 {
			remap[g] = numGroups
			numGroups++
		}
		metaImage[i] = uint32(remap[g])
	}
	return remap, numGroups
}

func (dec *Decoder) acquireHTreeGroups(n int) []HTreeGroup {
	if cap(dec.htreeGroupsBuf) >= n {
		groups := dec.htreeGroupsBuf[:n]
		for i := range groups {
			groups[i] = HTreeGroup{}
		}
		return groups
	}
	groups := make([]HTreeGroup, n)
	dec.htreeGroupsBuf = groups
	return groups
}

// metaCodeAlphabetSize returns tree j's alphabet size, folding in cache
// slots for the green tree (j==0).
func metaCodeAlphabetSize(j, cacheBits int) int {
	size := kBaseAlphabetSize[j]
	if j == 0 && cacheBits > 0 {
		size += 1 << cacheBits
	}
	return size
}

// skipHTreeGroup reads and discards one meta-code's five trees, used to
// stay synchronized with the bitstream when a raw group index has no
// pixel referencing it.
func (dec *Decoder) skipHTreeGroup(cacheBits int) error {
	for j := 0; j < HuffmanCodesPerMetaCode; j++ {
		if _, _, err := dec.decodeHuffmanTree(metaCodeAlphabetSize(j, cacheBits)); err != nil {
			return err
		}
	}
	return nil
}

// readHTreeGroupInto decodes one meta-code's five trees into group and
// derives its fast-path flags (trivial literal/code, packed table).
func (dec *Decoder) readHTreeGroupInto(group *HTreeGroup, cacheBits int) error {
	isTrivialLiteral := true
	totalRootBits := 0
	maxBits := 0

	for j := 0; j < HuffmanCodesPerMetaCode; j++ {
		table, maxLen, err := dec.decodeHuffmanTree(metaCodeAlphabetSize(j, cacheBits))
		if err != nil {
			return err
		}
		group.HTrees[j] = table

		if isTrivialLiteral && KLiteralMap[j] == 1 {
			isTrivialLiteral = table[0].Bits == 0
		}
		totalRootBits += int(table[0].Bits)
		if j <= int(HuffAlpha) {
			maxBits += maxLen
		}
	}

	group.IsTrivialLiteral = isTrivialLiteral
	if isTrivialLiteral {
		red := uint32(group.HTrees[HuffRed][0].Value)
		blue := uint32(group.HTrees[HuffBlue][0].Value)
		alpha := uint32(group.HTrees[HuffAlpha][0].Value)
		group.LiteralARB = (alpha << 24) | (red << 16) | blue
		if totalRootBits == 0 && group.HTrees[HuffGreen][0].Value < NumLiteralCodes {
			group.IsTrivialCode = true
			group.LiteralARB |= uint32(group.HTrees[HuffGreen][0].Value) << 8
		}
	}

	group.UsePackedTable = !group.IsTrivialCode && maxBits < HuffmanPackedBits
	if group.UsePackedTable {
		fillPackedTable(group)
	}
	return nil
}

// packedCodeMarker flags a packed-table entry whose bits encode a
// non-literal green symbol rather than a full ARGB literal.
const packedCodeMarker = 0x100

// fillPackedTable precomputes, for every possible HuffmanPackedBits-wide
// prefetch value, either the full literal ARGB those bits decode to or
// (when green isn't a literal) the green symbol and bits consumed —
// letting the hot pixel loop skip per-channel tree walks entirely for
// images whose meta-codes fit in a few bits.
func fillPackedTable(group *HTreeGroup) {
	for bits := uint32(0); bits < HuffmanPackedTableSize; bits++ {
		entry := &group.PackedTable[bits]
		green := group.HTrees[HuffGreen][bits&HuffmanTableMask]

		if int(green.Value) >= NumLiteralCodes {
			entry.Bits = int(green.Bits) + packedCodeMarker
			entry.Value = uint32(green.Value)
			continue
		}

		remaining := bits
		entry.Bits, entry.Value = 0, 0
		n := foldPackedChannel(green, 8, entry)
		remaining >>= n
		n = foldPackedChannel(group.HTrees[HuffRed][remaining&HuffmanTableMask], 16, entry)
		remaining >>= n
		n = foldPackedChannel(group.HTrees[HuffBlue][remaining&HuffmanTableMask], 0, entry)
		remaining >>= n
		foldPackedChannel(group.HTrees[HuffAlpha][remaining&HuffmanTableMask], 24, entry)
	}
}

// foldPackedChannel merges one channel's decoded code into the packed
// entry being built and returns how many prefetch bits it consumed.
func foldPackedChannel(code HuffmanCode, shift int, entry *HuffmanCode32) int {
	entry.Bits += int(code.Bits)
	entry.Value |= uint32(code.Value) << shift
	return int(code.Bits)
}

// metaGroupIndex returns which HTreeGroup governs pixel (x, y).
func (dec *Decoder) metaGroupIndex(x, y int) int {
	if dec.hdr.huffmanSubsampleBits == 0 {
		return 0
	}
	shift := dec.hdr.huffmanSubsampleBits
	return int(dec.hdr.huffmanImage[dec.hdr.huffmanXSize*(y>>shift)+(x>>shift)])
}

func (dec *Decoder) getHTreeGroup(x, y int) *HTreeGroup {
	return &dec.hdr.htreeGroups[dec.metaGroupIndex(x, y)]
}

// lengthOrDistance recovers a copy length or distance from its VP8L
// prefix-code symbol plus whatever extra bits the symbol calls for; the
// length and distance alphabets share this same encoding.
func lengthOrDistance(symbol int, br bitReader) int {
	if symbol < 4 {
		return symbol + 1
	}
	extraBits := (symbol - 2) >> 1
	base := (2 + (symbol & 1)) << extraBits
	return base + int(br.ReadBits(extraBits)) + 1
}

// bitReader is the minimal surface lengthOrDistance needs — narrow enough
// that a test stub can satisfy it without mimicking bitio.BitSource's
// entire prefetch machinery.
type bitReader interface {
	ReadBits(n int) uint32
}

// decodeTreeSymbol reads one Huffman symbol from table via br, handling
// the fill/prefetch/commit sequence in one place.
func decodeTreeSymbol(table []HuffmanCode, br *bitio.BitSource) int {
	br.FillBitWindow()
	val, bitsUsed := ReadSymbol(table, br.PrefetchBits())
	br.SetBitPos(br.BitPos() + bitsUsed)
	return int(val)
}

// readPackedPixel tries the packed-table fast path for one pixel: ok is
// true when the full ARGB literal was decoded directly (argb valid),
// false when the packed bits instead named a non-literal green symbol
// (greenCode valid) that the caller must handle through the slow path.
func readPackedPixel(group *HTreeGroup, br *bitio.BitSource) (argb uint32, greenCode int, ok bool) {
	entry := group.PackedTable[br.PrefetchBits()&(HuffmanPackedTableSize-1)]
	if entry.Bits < packedCodeMarker {
		br.SetBitPos(br.BitPos() + entry.Bits)
		return entry.Value, 0, true
	}
	br.SetBitPos(br.BitPos() + entry.Bits - packedCodeMarker)
	return 0, int(entry.Value), false
}

// decodeImageData runs the entropy-decode loop, filling data[0:width*height]
// from the bitstream using the meta-codes and (if active) color cache set
// up by readHuffmanCodes. lastRow bounds how many rows actually need
// decoding (a sub-image's height, or the full image).
//
// The per-channel symbol reads below are written out by hand instead of
// calling decodeTreeSymbol/lengthOrDistance in the hot path: both cross
// Go's default inlining budget, and keeping each FillBitWindow/
// PrefetchBits/SetBitPos call site inline lets the bit-position state
// stay in registers across a whole pixel instead of round-tripping
// through a call. Color cache insertion is deferred to row boundaries
// (and to just before any read that depends on it) rather than done
// per-pixel, matching how the cache only needs to be consistent at those
// points.
func (dec *Decoder) decodeImageData(data []uint32, width, height, lastRow int) error {
	br := dec.br
	hdr := &dec.hdr

	lenCodeLimit := NumLiteralCodes + NumLengthCodes
	cacheCodeLimit := lenCodeLimit + hdr.colorCacheSize
	cache := hdr.colorCache
	tileMask := hdr.huffmanMask

	pos, cached := 0, 0
	row, col := 0, 0
	end := width * height
	decodeEnd := width * lastRow

	var group *HTreeGroup
	if pos < decodeEnd {
		group = dec.getHTreeGroup(col, row)
	}

	flushCache := func() {
		if cache == nil {
			return
		}
		for cached < pos {
			cache.Insert(data[cached])
			cached++
		}
	}
	advance := func() {
		pos++
		col++
		if col >= width {
			col = 0
			row++
			flushCache()
		}
	}

	for pos < decodeEnd {
		if (col & tileMask) == 0 {
			group = dec.getHTreeGroup(col, row)
		}

		if group.IsTrivialCode {
			data[pos] = group.LiteralARB
			advance()
			continue
		}

		br.FillBitWindow()

		var green int
		if group.UsePackedTable {
			argb, gc, literal := readPackedPixel(group, br)
			if br.IsEndOfStream() {
				break
			}
			if literal {
				data[pos] = argb
				advance()
				continue
			}
			green = gc
		} else {
			prefetch := br.PrefetchBits()
			val, bits := ReadSymbol(group.HTrees[HuffGreen], prefetch)
			br.SetBitPos(br.BitPos() + bits)
			green = int(val)
		}

		if br.IsEndOfStream() {
			break
		}

		switch {
		case green < NumLiteralCodes:
			if group.IsTrivialLiteral {
				data[pos] = group.LiteralARB | (uint32(green) << 8)
			} else {
				prefetch := br.PrefetchBits()
				redVal, redBits := ReadSymbol(group.HTrees[HuffRed], prefetch)
				br.SetBitPos(br.BitPos() + redBits)

				br.FillBitWindow()

				prefetch = br.PrefetchBits()
				blueVal, blueBits := ReadSymbol(group.HTrees[HuffBlue], prefetch)
				br.SetBitPos(br.BitPos() + blueBits)

				prefetch = br.PrefetchBits()
				alphaVal, alphaBits := ReadSymbol(group.HTrees[HuffAlpha], prefetch)
				br.SetBitPos(br.BitPos() + alphaBits)

				if br.IsEndOfStream() {
					break
				}
				data[pos] = (uint32(alphaVal) << 24) | (uint32(redVal) << 16) | (uint32(green) << 8) | uint32(blueVal)
			}
			advance()

		case green < lenCodeLimit:
			lengthSym := green - NumLiteralCodes
			var length int
			if lengthSym < 4 {
				length = lengthSym + 1
			} else {
				extraBits := (lengthSym - 2) >> 1
				base := (2 + (lengthSym & 1)) << extraBits
				br.FillBitWindow()
				length = base + int(br.PrefetchBits()&uint32((1<<extraBits)-1)) + 1
				br.SetBitPos(br.BitPos() + extraBits)
			}

			br.FillBitWindow()
			prefetch := br.PrefetchBits()
			distVal, distBits := ReadSymbol(group.HTrees[HuffDist], prefetch)
			br.SetBitPos(br.BitPos() + distBits)
			distSymbol := int(distVal)

			var distCode int
			if distSymbol < 4 {
				distCode = distSymbol + 1
			} else {
				extraBits := (distSymbol - 2) >> 1
				base := (2 + (distSymbol & 1)) << extraBits
				br.FillBitWindow()
				distCode = base + int(br.PrefetchBits()&uint32((1<<extraBits)-1)) + 1
				br.SetBitPos(br.BitPos() + extraBits)
			}
			dist := PlaneCodeToDistance(width, distCode)

			if br.IsEndOfStream() {
				break
			}
			if pos < dist || end-pos < length {
				return ErrBitstream
			}

			expandCopyBlock(data, pos, dist, length)
			pos += length
			col += length
			for col >= width {
				col -= width
				row++
			}
			if col&tileMask != 0 {
				group = dec.getHTreeGroup(col, row)
			}
			flushCache()

		case green < cacheCodeLimit:
			if cache != nil {
				flushCache()
				data[pos] = cache.Lookup(green - lenCodeLimit)
			}
			advance()

		default:
			return ErrBitstream
		}
	}

	if br.IsEndOfStream() && pos < end {
		return ErrBitstream
	}
	return nil
}

// expandCopyBlock copies a length-pixel run starting dist pixels back in
// data to position pos, handling the non-overlapping, single-value-fill,
// and overlapping-run cases separately since each admits a faster copy
// strategy than a naive element-by-element loop.
func expandCopyBlock(data []uint32, pos, dist, length int) {
	src := pos - dist
	switch {
	case dist >= length:
		copy(data[pos:pos+length], data[src:src+length])
	case dist == 1:
		val := data[src]
		for i := pos; i < pos+length; i++ {
			data[i] = val
		}
	default:
		copy(data[pos:pos+dist], data[src:src+dist])
		copied := dist
		for copied < length {
			n := length - copied
			if n > copied {
				n = copied
			}
			copy(data[pos+copied:pos+copied+n], data[pos:pos+n])
			copied += n
		}
	}
}
