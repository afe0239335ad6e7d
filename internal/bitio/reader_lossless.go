package bitio

import "encoding/binary"

// VP8L packs raw bit fields in little-endian byte order, unlike the
// boolean-coder bitstream lossy VP8 uses. BitSource maintains a 64-bit
// sliding prefetch window and advances through the source 4 bytes at a
// time so callers can peek ahead before committing to consuming bits.
const (
	maxBitsPerRead  = 24
	prefetchBits    = 64 // width of the val register
	refillThreshold = 32 // val must hold at least this many valid bits after a refill
)

// BitSource is a forward-only bit reader over an in-memory VP8L payload.
type BitSource struct {
	val    uint64
	buf    []byte
	length int
	pos    int
	bitPos int
	eos    bool
}

// NewBitSource wraps data for bit-at-a-time reading, pre-loading up to the
// first 8 bytes into the prefetch window.
func NewBitSource(data []byte) *BitSource {
	bs := &BitSource{buf: data, length: len(data)}

	preload := len(data)
	if preload > 8 {
		preload = 8
	}
	var window uint64
	for i := 0; i < preload; i++ {
		window |= uint64(data[i]) << uint(8*i)
	}
	bs.val = window
	bs.pos = preload
	return bs
}

// FillBitWindow tops up the prefetch window once fewer than
// refillThreshold bits remain valid in it.
func (bs *BitSource) FillBitWindow() {
	if bs.bitPos >= refillThreshold {
		bs.refill()
	}
}

func (bs *BitSource) refill() {
	if bs.pos+4 <= bs.length {
		bs.val >>= refillThreshold
		bs.bitPos -= refillThreshold
		bs.val |= uint64(binary.LittleEndian.Uint32(bs.buf[bs.pos:])) << (prefetchBits - refillThreshold)
		bs.pos += 4
		return
	}
	bs.trickleBytes()
}

// trickleBytes is the near-end-of-buffer fallback: load one byte at a
// time since a full 4-byte word may run past the input.
func (bs *BitSource) trickleBytes() {
	for bs.bitPos >= 8 && bs.pos < bs.length {
		bs.val >>= 8
		bs.val |= uint64(bs.buf[bs.pos]) << (prefetchBits - 8)
		bs.pos++
		bs.bitPos -= 8
	}
	if bs.IsEndOfStream() {
		bs.markEndOfStream()
	}
}

func (bs *BitSource) markEndOfStream() {
	bs.eos = true
	bs.bitPos = 0
}

// ReadBits consumes and returns the next nBits (0..24) bits. Reading past
// end of stream, or requesting more than maxBitsPerRead bits, marks the
// source at EOS and returns zero.
func (bs *BitSource) ReadBits(nBits int) uint32 {
	if bs.eos || nBits < 0 || nBits > maxBitsPerRead {
		bs.markEndOfStream()
		return 0
	}
	val := bs.PrefetchBits() & readMask[nBits]
	bs.bitPos += nBits
	bs.trickleBytes()
	return val
}

// PrefetchBits exposes the bits currently sitting in the prefetch window
// without consuming them; callers typically decode a Huffman symbol
// against this directly, then commit the bits it consumed via SetBitPos.
// FillBitWindow must have been called recently enough to guarantee
// coverage.
func (bs *BitSource) PrefetchBits() uint32 {
	return uint32(bs.val >> uint(bs.bitPos&(prefetchBits-1)))
}

// SetBitPos commits a bit position chosen after inspecting PrefetchBits.
func (bs *BitSource) SetBitPos(val int) { bs.bitPos = val }

// BitPos returns the current bit cursor within the prefetch window.
func (bs *BitSource) BitPos() int { return bs.bitPos }

// IsEndOfStream reports whether a read has run past the available input.
func (bs *BitSource) IsEndOfStream() bool {
	return bs.eos || (bs.pos == bs.length && bs.bitPos > prefetchBits)
}

// readMask maps a bit count to its all-ones mask.
var readMask = [maxBitsPerRead + 1]uint32{
	0x000000, 0x000001, 0x000003, 0x000007, 0x00000f,
	0x00001f, 0x00003f, 0x00007f, 0x0000ff, 0x0001ff,
	0x0003ff, 0x0007ff, 0x000fff, 0x001fff, 0x003fff,
	0x007fff, 0x00ffff, 0x01ffff, 0x03ffff, 0x07ffff,
	0x0fffff, 0x1fffff, 0x3fffff, 0x7fffff, 0xffffff,
}
