// Package container provides the RIFF/WebP container framing used to wrap
// a VP8L lossless bitstream into a complete .webp file.
package container

import "encoding/binary"

// FourCC creates a FourCC value from four bytes (little-endian).
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Container FourCC values used by the simple (single-frame, lossless) RIFF
// layout this encoder produces.
var (
	FourCCRIFF = FourCC('R', 'I', 'F', 'F')
	FourCCWEBP = FourCC('W', 'E', 'B', 'P')
	FourCCVP8L = FourCC('V', 'P', '8', 'L')
)

// VP8L format constants.
const (
	VP8LSignatureSize   = 1    // VP8L signature size
	VP8LMagicByte       = 0x2f // VP8L signature byte
	VP8LImageSizeBits   = 14   // bits used to store width and height, each minus one
	VP8LVersionBits     = 3    // bits reserved for version
	VP8LVersion         = 0    // the only version this format defines
	VP8LFrameHeaderSize = 5    // 1 signature byte + 4 header bytes
)

// Container structure sizes.
const (
	TagSize         = 4  // size of a chunk tag (e.g. "VP8L")
	ChunkHeaderSize = 8  // size of a chunk header (tag + payload size)
	RIFFHeaderSize  = 12 // size of the RIFF header ("RIFFnnnnWEBP")
)

// MaxChunkPayload bounds a single chunk's payload size to what fits in the
// 32-bit RIFF size field, leaving room for the chunk header itself.
const MaxChunkPayload = ^uint32(0) - ChunkHeaderSize - 1

// ReadLE32 reads a little-endian uint32 from data.
func ReadLE32(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data)
}

// PutLE32 writes a little-endian uint32 to data.
func PutLE32(data []byte, v uint32) {
	binary.LittleEndian.PutUint32(data, v)
}
