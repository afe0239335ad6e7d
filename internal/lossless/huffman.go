package lossless

import "errors"

// Two-level canonical Huffman tables: codes up to rootBits long resolve in
// the root table directly; longer codes spill into second-level sub-tables
// addressed by an offset stashed in the root entry they fall under.

// HuffmanCode is one entry of a lookup table: Bits is how many bits the
// entry consumes (or, in a root-table slot pointing at a sub-table, the
// sub-table's total width), Value is the decoded symbol or sub-table offset.
type HuffmanCode struct {
	Bits  uint8
	Value uint16
}

// HuffmanCode32 packs a HuffmanCode-like entry for the wide literal
// packed-table fast path, where a symbol can need more than 16 bits of
// payload (a full ARGB literal) alongside its bit count.
type HuffmanCode32 struct {
	Bits  int
	Value uint32
}

// HTreeGroup bundles the five trees of one meta-code (green+length+cache,
// red, blue, alpha, distance) plus fast-path flags computed once so the
// pixel loop doesn't have to re-derive them per pixel.
type HTreeGroup struct {
	// HTrees holds the decoded tables, indexed by HuffIndex.
	HTrees [HuffmanCodesPerMetaCode][]HuffmanCode

	IsTrivialLiteral bool   // red, blue, alpha each collapse to one code
	LiteralARB       uint32 // packed trivial red/blue/alpha value (green bits zero)
	IsTrivialCode    bool   // IsTrivialLiteral and green also collapses to one code

	UsePackedTable bool
	PackedTable    [HuffmanPackedTableSize]HuffmanCode32
}

var (
	ErrInvalidTree      = errors.New("lossless: invalid Huffman tree")
	ErrEmptyCodeLengths = errors.New("lossless: all code lengths are zero")
)

// HuffmanTableScratch holds buffers BuildHuffmanTableScratch can reuse
// across calls instead of allocating a fresh table and sort buffer each
// time (useful when decoding many small per-tile meta-codes).
type HuffmanTableScratch struct {
	sorted  []uint16
	slab    []HuffmanCode
	slabOff int
}

// BuildHuffmanTable is BuildHuffmanTableScratch without reuse buffers.
func BuildHuffmanTable(rootBits int, codeLengths []int) ([]HuffmanCode, error) {
	return BuildHuffmanTableScratch(rootBits, codeLengths, nil)
}

// canonicalLayout holds the bookkeeping shared by the size-only pre-pass
// and the actual table-filling pass: per-length code counts, each
// length's starting offset into the symbol-sorted order, and the symbols
// sorted by code length (ties broken by symbol value).
type canonicalLayout struct {
	count  [MaxAllowedCodeLength + 1]int
	offset [MaxAllowedCodeLength + 1]int
	sorted []uint16
}

// buildCanonicalLayout validates codeLengths and sorts symbols by length.
// ok is false for a malformed or all-zero length table.
func buildCanonicalLayout(codeLengths []int, sorted []uint16) (layout canonicalLayout, ok bool) {
	n := len(codeLengths)
	for _, cl := range codeLengths {
		if cl > MaxAllowedCodeLength {
			return layout, false
		}
		layout.count[cl]++
	}
	if layout.count[0] == n {
		return layout, false
	}

	layout.offset[1] = 0
	for l := 1; l < MaxAllowedCodeLength; l++ {
		if layout.count[l] > (1 << l) {
			return layout, false
		}
		layout.offset[l+1] = layout.offset[l] + layout.count[l]
	}

	for symbol, cl := range codeLengths {
		if cl == 0 {
			continue
		}
		if layout.offset[cl] >= n {
			return layout, false
		}
		if sorted != nil {
			sorted[layout.offset[cl]] = uint16(symbol)
		}
		layout.offset[cl]++
	}
	layout.sorted = sorted
	return layout, true
}

// BuildHuffmanTableScratch constructs a two-level Huffman lookup table
// from per-symbol code lengths, using scratch's buffers when they're
// already large enough. rootBits sizes the first-level table (normally
// HuffmanTableBits). Returns ErrInvalidTree/ErrEmptyCodeLengths when
// codeLengths doesn't describe a complete, valid tree.
func BuildHuffmanTableScratch(rootBits int, codeLengths []int, scratch *HuffmanTableScratch) ([]HuffmanCode, error) {
	n := len(codeLengths)
	if n == 0 {
		return nil, ErrEmptyCodeLengths
	}

	totalSize := huffmanTableSize(rootBits, codeLengths)
	if totalSize == 0 {
		return nil, ErrInvalidTree
	}

	table := acquireTable(scratch, totalSize)
	sorted := acquireSortBuffer(scratch, n)

	layout, ok := buildCanonicalLayout(codeLengths, sorted)
	if !ok {
		return nil, ErrInvalidTree
	}

	if layout.offset[MaxAllowedCodeLength] == 1 {
		replicateValue(table, 1, totalSize, HuffmanCode{Bits: 0, Value: layout.sorted[0]})
		return table, nil
	}

	// offset[] was consumed as a cursor above; recompute the raw counts
	// for the fill pass below.
	layout.count = [MaxAllowedCodeLength + 1]int{}
	for _, cl := range codeLengths {
		layout.count[cl]++
	}

	numNodes, err := fillRootAndSubTables(table, rootBits, totalSize, &layout)
	if err != nil {
		return nil, err
	}
	if numNodes != 2*symbolCount(codeLengths)-1 {
		return nil, ErrInvalidTree
	}
	return table, nil
}

func symbolCount(codeLengths []int) int {
	n := 0
	for _, cl := range codeLengths {
		if cl > 0 {
			n++
		}
	}
	return n
}

func acquireTable(scratch *HuffmanTableScratch, size int) []HuffmanCode {
	if scratch == nil || scratch.slabOff+size > len(scratch.slab) {
		return make([]HuffmanCode, size)
	}
	table := scratch.slab[scratch.slabOff : scratch.slabOff+size : scratch.slabOff+size]
	scratch.slabOff += size
	for i := range table {
		table[i] = HuffmanCode{}
	}
	return table
}

func acquireSortBuffer(scratch *HuffmanTableScratch, size int) []uint16 {
	if scratch != nil && cap(scratch.sorted) >= size {
		buf := scratch.sorted[:size]
		for i := range buf {
			buf[i] = 0
		}
		return buf
	}
	buf := make([]uint16, size)
	if scratch != nil {
		scratch.sorted = buf
	}
	return buf
}

// fillRootAndSubTables writes every code's table entries: short codes
// (length <= rootBits) fill directly into the root table, longer codes
// spill into second-level sub-tables whose location is recorded in the
// root slot they share a prefix with.
func fillRootAndSubTables(table []HuffmanCode, rootBits, totalSize int, layout *canonicalLayout) (numNodes int, err error) {
	rootSize := 1 << rootBits
	var key uint32
	numNodes = 1
	numOpen := 1
	symbol := 0

	for l, step := 1, 2; l <= rootBits; l, step = l+1, step<<1 {
		numOpen <<= 1
		numNodes += numOpen
		numOpen -= layout.count[l]
		if numOpen < 0 {
			return 0, ErrInvalidTree
		}
		for ; layout.count[l] > 0; layout.count[l]-- {
			code := HuffmanCode{Bits: uint8(l), Value: layout.sorted[symbol]}
			symbol++
			replicateValue(table[key:], step, rootSize, code)
			key = nextCanonicalKey(key, l)
		}
	}

	mask := uint32(rootSize - 1)
	low := uint32(0xffffffff)
	subOff, subSize := 0, rootSize

	for l, step := rootBits+1, 2; l <= MaxAllowedCodeLength; l, step = l+1, step<<1 {
		numOpen <<= 1
		numNodes += numOpen
		numOpen -= layout.count[l]
		if numOpen < 0 {
			return 0, ErrInvalidTree
		}
		for ; layout.count[l] > 0; layout.count[l]-- {
			if (key & mask) != low {
				subOff += subSize
				subBits := subTableBits(layout.count[:], l, rootBits)
				subSize = 1 << subBits
				if subOff+subSize > totalSize {
					return 0, ErrInvalidTree
				}
				low = key & mask
				table[low] = HuffmanCode{Bits: uint8(subBits + rootBits), Value: uint16(subOff)}
			}
			code := HuffmanCode{Bits: uint8(l - rootBits), Value: layout.sorted[symbol]}
			symbol++
			off := subOff + int(key>>uint(rootBits))
			if off >= totalSize {
				return 0, ErrInvalidTree
			}
			replicateValue(table[off:], step, subSize, code)
			key = nextCanonicalKey(key, l)
		}
	}
	return numNodes, nil
}

// huffmanTableSize runs the same layout walk as BuildHuffmanTableScratch
// but only tallies the table size, letting the caller allocate exactly
// once instead of growing the table mid-build.
func huffmanTableSize(rootBits int, codeLengths []int) int {
	layout, ok := buildCanonicalLayout(codeLengths, nil)
	if !ok {
		return 0
	}
	rootSize := 1 << rootBits
	if layout.offset[MaxAllowedCodeLength] == 1 {
		return rootSize
	}

	count := [MaxAllowedCodeLength + 1]int{}
	for _, cl := range codeLengths {
		count[cl]++
	}

	var key uint32
	numNodes, numOpen := 1, 1
	for l := 1; l <= rootBits; l++ {
		numOpen <<= 1
		numNodes += numOpen
		numOpen -= count[l]
		if numOpen < 0 {
			return 0
		}
		for ; count[l] > 0; count[l]-- {
			key = nextCanonicalKey(key, l)
		}
	}

	total := rootSize
	mask := uint32(rootSize - 1)
	low := uint32(0xffffffff)
	subSize := rootSize
	for l := rootBits + 1; l <= MaxAllowedCodeLength; l++ {
		numOpen <<= 1
		numNodes += numOpen
		numOpen -= count[l]
		if numOpen < 0 {
			return 0
		}
		for ; count[l] > 0; count[l]-- {
			if (key & mask) != low {
				subSize = 1 << subTableBits(count[:], l, rootBits)
				total += subSize
				low = key & mask
			}
			key = nextCanonicalKey(key, l)
		}
	}

	if numNodes != 2*symbolCount(codeLengths)-1 {
		return 0
	}
	return total
}

// nextCanonicalKey advances a canonical Huffman key to the next code of
// the same length, in bit-reversed counting order.
func nextCanonicalKey(key uint32, length int) uint32 {
	step := uint32(1) << (length - 1)
	for key&step != 0 {
		step >>= 1
	}
	if step == 0 {
		return key
	}
	return (key & (step - 1)) + step
}

// replicateValue fans code out across every table slot a short code
// implicitly covers: table[0], table[step], ..., up to end.
func replicateValue(table []HuffmanCode, step, end int, code HuffmanCode) {
	for i := end - step; i >= 0; i -= step {
		table[i] = code
	}
}

// subTableBits picks the narrowest width a second-level sub-table can be
// while still covering every remaining code sharing its root prefix.
func subTableBits(count []int, length, rootBits int) int {
	remaining := 1 << (length - rootBits)
	for length < MaxAllowedCodeLength {
		remaining -= count[length]
		if remaining <= 0 {
			break
		}
		length++
		remaining <<= 1
	}
	return length - rootBits
}

// ReadSymbol decodes one symbol from table given prefetchBits worth of
// lookahead from the bitstream, returning the symbol and bits consumed (-1
// if the prefetched bits fell outside the table, which should not happen
// for a validly-built tree against a well-formed stream).
func ReadSymbol(table []HuffmanCode, prefetchBits uint32) (value uint16, bitsUsed int) {
	entry := table[prefetchBits&HuffmanTableMask]
	extra := int(entry.Bits) - HuffmanTableBits
	if extra <= 0 {
		return entry.Value, int(entry.Bits)
	}
	prefetchBits >>= HuffmanTableBits
	idx := int(entry.Value) + int(prefetchBits&((1<<extra)-1))
	if idx >= len(table) {
		return 0, -1
	}
	entry = table[idx]
	return entry.Value, HuffmanTableBits + int(entry.Bits)
}
