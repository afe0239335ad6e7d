package lossless

import "math/bits"

// Frame header layout.
const (
	VP8LMagicByte     = 0x2f
	VP8LVersionBits   = 3
	VP8LVersion       = 0
	VP8LImageSizeBits = 14
	VP8LHeaderSize    = 5 // 1 signature byte + 4 bytes of packed header fields
)

// Huffman alphabets. Each meta-code bundles five trees: green (carrying
// length symbols and, when a color cache is active, cache-index symbols
// too), red, blue, alpha, and distance.
const (
	NumLiteralCodes  = 256
	NumLengthCodes   = 24
	NumDistanceCodes = 40
	CodeLengthCodes  = 19

	MaxAllowedCodeLength = 15
	DefaultCodeLength    = 8 // initial "previous length" for RLE code-length decoding

	HuffmanCodesPerMetaCode = 5

	MaxCacheBits = 11
	MinCacheBits = 0

	MaxPaletteSize = 256
)

// First-level Huffman lookup table sizing.
const (
	HuffmanTableBits = 8
	HuffmanTableMask = (1 << HuffmanTableBits) - 1

	LengthsTableBits = 7
	LengthsTableMask = (1 << LengthsTableBits) - 1

	HuffmanPackedBits      = 6
	HuffmanPackedTableSize = 1 << HuffmanPackedBits
)

// Transform chain and meta-Huffman framing.
const (
	NumTransforms    = 4
	TransformPresent = 1

	MinHuffmanBits = 2
	NumHuffmanBits = 3

	MinTransformBits = 2
	NumTransformBits = 3

	ARGBBlack = 0xff000000

	CodeToPlaneCodesCount = 120
)

// HuffIndex enumerates the five Huffman trees carried by a meta-code.
type HuffIndex int

const (
	HuffGreen HuffIndex = iota
	HuffRed
	HuffBlue
	HuffAlpha
	HuffDist
)

// CodeLengthCodeOrder is the order code-length alphabet symbols are
// transmitted in (the RLE-friendly permutation shared with DEFLATE-family
// formats).
var CodeLengthCodeOrder = [CodeLengthCodes]int{
	17, 18, 0, 1, 2, 3, 4, 5, 16, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,
}

// KLiteralMap tags each of the five meta-code trees: 0 for a variable-size
// alphabet (green+length, distance), 1 for a fixed 256-symbol alphabet
// (red, blue, alpha).
var KLiteralMap = [HuffmanCodesPerMetaCode]uint8{0, 1, 1, 1, 0}

// kBaseAlphabetSize holds each tree's alphabet size before color-cache
// symbols are folded into green's.
var kBaseAlphabetSize = [HuffmanCodesPerMetaCode]int{
	NumLiteralCodes + NumLengthCodes,
	NumLiteralCodes,
	NumLiteralCodes,
	NumLiteralCodes,
	NumDistanceCodes,
}

// AlphabetSize returns the alphabet size for a meta-code tree, folding in
// colorCacheBits worth of cache-index symbols for the green tree.
func AlphabetSize(huffIndex HuffIndex, colorCacheBits int) int {
	size := kBaseAlphabetSize[huffIndex]
	if huffIndex == HuffGreen && KLiteralMap[huffIndex] == 0 {
		size += 1 << colorCacheBits
	}
	return size
}

// CodeToPlane maps a 1-based distance-code index to a packed (yoffset,
// xoffset) pair used by PlaneCodeToDistance to recover nearby-pixel
// distances without spending bits on the full offset.
var CodeToPlane = [CodeToPlaneCodesCount]uint8{
	0x18, 0x07, 0x17, 0x19, 0x28, 0x06, 0x27, 0x29, 0x16, 0x1a,
	0x26, 0x2a, 0x38, 0x05, 0x37, 0x39, 0x15, 0x1b, 0x36, 0x3a,
	0x25, 0x2b, 0x48, 0x04, 0x47, 0x49, 0x14, 0x1c, 0x35, 0x3b,
	0x46, 0x4a, 0x24, 0x2c, 0x58, 0x45, 0x4b, 0x34, 0x3c, 0x03,
	0x57, 0x59, 0x13, 0x1d, 0x56, 0x5a, 0x23, 0x2d, 0x44, 0x4c,
	0x55, 0x5b, 0x33, 0x3d, 0x68, 0x02, 0x67, 0x69, 0x12, 0x1e,
	0x66, 0x6a, 0x22, 0x2e, 0x54, 0x5c, 0x43, 0x4d, 0x65, 0x6b,
	0x32, 0x3e, 0x78, 0x01, 0x77, 0x79, 0x53, 0x5d, 0x11, 0x1f,
	0x64, 0x6c, 0x42, 0x4e, 0x76, 0x7a, 0x21, 0x2f, 0x75, 0x7b,
	0x31, 0x3f, 0x63, 0x6d, 0x52, 0x5e, 0x00, 0x74, 0x7c, 0x41,
	0x4f, 0x10, 0x20, 0x62, 0x6e, 0x30, 0x73, 0x7d, 0x51, 0x5f,
	0x40, 0x72, 0x7e, 0x61, 0x6f, 0x50, 0x71, 0x7f, 0x60, 0x70,
}

// PlaneCodeToDistance expands a VP8L distance code back into a pixel
// distance for an image of the given width.
func PlaneCodeToDistance(xsize int, planeCode int) int {
	switch {
	case planeCode <= 0:
		return 1
	case planeCode > CodeToPlaneCodesCount:
		return planeCode - CodeToPlaneCodesCount
	}
	packed := CodeToPlane[planeCode-1]
	yoffset := int(packed >> 4)
	xoffset := 8 - int(packed&0xf)
	if dist := yoffset*xsize + xoffset; dist >= 1 {
		return dist
	}
	return 1
}

// PrefixEncodeBitsNoLUT computes the prefix code and extra-bit count for a
// 1-based distance or length value, without consulting a lookup table.
func PrefixEncodeBitsNoLUT(distance int) (code int, extraBits int) {
	distance--
	if distance < 2 {
		return distance, 0
	}
	hi := bitsLog2Floor(distance)
	second := (distance >> uint(hi-1)) & 1
	return 2*hi + second, hi - 1
}

// PrefixEncodeNoLUT is PrefixEncodeBitsNoLUT plus the extra-bits payload
// itself.
func PrefixEncodeNoLUT(distance int) (code, extraBits, extraBitsValue int) {
	distance--
	if distance < 2 {
		return distance, 0, 0
	}
	hi := bitsLog2Floor(distance)
	second := (distance >> uint(hi-1)) & 1
	extraBits = hi - 1
	extraBitsValue = distance & ((1 << extraBits) - 1)
	return 2*hi + second, extraBits, extraBitsValue
}

// bitsLog2Floor returns floor(log2(n)) for n > 0.
func bitsLog2Floor(n int) int {
	return bits.Len(uint(n)) - 1
}

// VP8LSubSampleSize returns ceil(size / 2^samplingBits).
func VP8LSubSampleSize(size, samplingBits int) int {
	return (size + (1 << samplingBits) - 1) >> samplingBits
}

// Code-length alphabet: symbols 0-15 are literal lengths; 16-18 are RLE
// repeat codes with extraBits of payload and a minimum run given by the
// matching offset below.
const (
	CodeLengthLiterals   = 16
	CodeLengthRepeatCode = 16
)

var CodeLengthExtraBits = [3]uint8{2, 3, 7}
var CodeLengthRepeatOffsets = [3]uint8{3, 3, 11}

// FixedTableSize is the worst-case table size shared by the red, blue and
// alpha trees (630 entries each) plus the distance tree (410 entries).
const FixedTableSize = 630*3 + 410

// KTableSize gives the total first-level Huffman table allocation needed
// for each possible color-cache-bits value (0..11); the green tree grows
// with the cache.
var KTableSize = [MaxCacheBits + 1]int{
	FixedTableSize + 654, FixedTableSize + 656, FixedTableSize + 658,
	FixedTableSize + 662, FixedTableSize + 670, FixedTableSize + 686,
	FixedTableSize + 718, FixedTableSize + 782, FixedTableSize + 912,
	FixedTableSize + 1168, FixedTableSize + 1680, FixedTableSize + 2704,
}
