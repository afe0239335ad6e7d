package lossless

import (
	"errors"
	"image"
	"runtime"
	"sync"

	"github.com/losslesspix/vp8l/internal/bitio"
)

// decoderPool recycles Decoder structs between calls so the pixel buffer
// and Huffman scratch slab survive from one image to the next.
var decoderPool sync.Pool

// acquireDecoder pulls a Decoder from the pool, resetting per-decode state
// while keeping its reusable buffers intact.
func acquireDecoder() *Decoder {
	if v := decoderPool.Get(); v != nil {
		dec := v.(*Decoder)
		dec.br = nil
		dec.Width = 0
		dec.Height = 0
		dec.HasAlpha = false
		dec.transformWidth = 0
		dec.nextTransform = 0
		dec.transformsSeen = 0
		dec.hdr = frameMeta{}
		return dec
	}
	return &Decoder{}
}

// releaseDecoder returns dec to decoderPool, dropping references to the
// just-finished image's data while keeping scratch buffers for reuse.
func releaseDecoder(dec *Decoder) {
	if dec == nil {
		return
	}
	dec.br = nil
	dec.argbCache = nil
	dec.hdr.htreeGroups = nil
	dec.hdr.huffmanImage = nil
	dec.hdr.colorCache = nil
	decoderPool.Put(dec)
}

var (
	ErrBadSignature  = errors.New("lossless: bad VP8L signature")
	ErrBadVersion    = errors.New("lossless: bad VP8L version")
	ErrBitstream     = errors.New("lossless: bitstream error")
	ErrTooManyGroups = errors.New("lossless: too many Huffman groups")
)

// Decoder turns a VP8L bitstream into an ARGB pixel buffer, then into an
// image.NRGBA. One Decoder is reused (via decoderPool) across many
// decodes to amortize its scratch allocations.
type Decoder struct {
	br *bitio.BitSource

	Width    int
	Height   int
	HasAlpha bool

	// transformWidth is the pixel width after every transform has been
	// applied (pixel-packing transforms such as color-indexing shrink it
	// below Width).
	transformWidth int

	pixels       []uint32 // decoded ARGB pixels, row-major
	argbCache    []uint32 // scratch window for inverse-transform application
	transformBuf []uint32 // reusable output buffer for applyInverseTransforms

	hdr frameMeta

	transforms     [NumTransforms]Transform
	nextTransform  int
	transformsSeen uint32

	codeLengthsBuf []int
	huffScratch    HuffmanTableScratch

	colorCacheBuf  []uint32
	htreeGroupsBuf []HTreeGroup
}

// frameMeta holds the Huffman/color-cache state for one decode level —
// the top-level image, or a transform/meta-Huffman sub-image decoded
// recursively.
type frameMeta struct {
	colorCacheSize       int
	colorCache           *ColorCache
	huffmanImage         []uint32
	huffmanSubsampleBits int
	huffmanXSize         int
	huffmanMask          int
	numHTreeGroups       int
	htreeGroups          []HTreeGroup
}

// huffmanSlabSize covers the table entries of most images in one
// allocation; BuildHuffmanTableScratch falls back to make() past that.
const huffmanSlabSize = 1 << 16

// DecodeVP8L decodes the payload following the VP8L fourcc and chunk size
// into an image.NRGBA.
func DecodeVP8L(data []byte) (*image.NRGBA, error) {
	dec := acquireDecoder()
	defer releaseDecoder(dec)

	if err := dec.decodeHeader(data); err != nil {
		return nil, err
	}
	dec.primeHuffmanSlab()

	if err := dec.decodeImageStream(dec.Width, dec.Height, true); err != nil {
		return nil, err
	}

	workWidth := dec.transformWidth
	if workWidth == 0 {
		workWidth = dec.Width
	}

	origPixels := dec.Width * dec.Height
	transPixels := workWidth * dec.Height
	bufPixels := origPixels
	if transPixels > bufPixels {
		bufPixels = transPixels
	}

	dec.allocateWorkingBuffers(bufPixels)

	if err := dec.decodeImageData(dec.pixels[:transPixels], workWidth, dec.Height, dec.Height); err != nil {
		return nil, err
	}

	out := dec.applyInverseTransforms(dec.pixels[:origPixels])
	return argbToNRGBA(out, dec.Width, dec.Height), nil
}

func (dec *Decoder) primeHuffmanSlab() {
	if cap(dec.huffScratch.slab) < huffmanSlabSize {
		dec.huffScratch.slab = make([]HuffmanCode, huffmanSlabSize)
	}
	dec.huffScratch.slabOff = 0
}

// allocateWorkingBuffers sizes dec.pixels (plus a trailing color-cache
// scratch window) and dec.transformBuf for bufPixels pixels, reusing
// existing backing arrays when they're already large enough.
func (dec *Decoder) allocateWorkingBuffers(bufPixels int) {
	needed := bufPixels + dec.Width + dec.Width*numArgbCacheRows
	if cap(dec.pixels) >= needed {
		dec.pixels = dec.pixels[:needed]
	} else {
		dec.pixels = make([]uint32, needed)
	}
	dec.argbCache = dec.pixels[bufPixels+dec.Width:]

	if cap(dec.transformBuf) >= bufPixels {
		dec.transformBuf = dec.transformBuf[:bufPixels]
	} else {
		dec.transformBuf = make([]uint32, bufPixels)
	}
}

// decodeHeader reads the 5-byte VP8L header: signature, width, height,
// alpha flag, version.
func (dec *Decoder) decodeHeader(data []byte) error {
	if len(data) < VP8LHeaderSize {
		return ErrBadSignature
	}
	if data[0] != VP8LMagicByte {
		return ErrBadSignature
	}

	dec.br = bitio.NewBitSource(data[1:])

	dec.Width = int(dec.br.ReadBits(VP8LImageSizeBits)) + 1
	dec.Height = int(dec.br.ReadBits(VP8LImageSizeBits)) + 1
	dec.HasAlpha = dec.br.ReadBits(1) != 0
	if dec.br.ReadBits(VP8LVersionBits) != VP8LVersion {
		return ErrBadVersion
	}
	if dec.br.IsEndOfStream() {
		return ErrBitstream
	}
	return nil
}

// decodeImageStream reads the transform chain (level 0 only), the
// color-cache flag, and the Huffman meta-code tables for one decode
// level. isLevel0 distinguishes the top-level image from a recursively
// decoded transform or meta-Huffman sub-image.
func (dec *Decoder) decodeImageStream(xsize, ysize int, isLevel0 bool) error {
	workXSize, workYSize := xsize, ysize

	if isLevel0 {
		for dec.br.ReadBits(1) == 1 {
			var err error
			workXSize, err = dec.readTransform(workXSize, workYSize)
			if err != nil {
				return err
			}
		}
	}

	cacheBits := 0
	if dec.br.ReadBits(1) == 1 {
		cacheBits = int(dec.br.ReadBits(4))
		if cacheBits < 1 || cacheBits > MaxCacheBits {
			return ErrBitstream
		}
	}

	if err := dec.readHuffmanCodes(workXSize, workYSize, cacheBits, isLevel0); err != nil {
		return err
	}
	dec.setupColorCache(cacheBits)
	dec.updateDecoder(workXSize, workYSize)
	return nil
}

// setupColorCache allocates (or clears and reuses) the color-cache
// backing array for cacheBits, or tears it down when cacheBits is 0.
func (dec *Decoder) setupColorCache(cacheBits int) {
	if cacheBits == 0 {
		dec.hdr.colorCacheSize = 0
		dec.hdr.colorCache = nil
		return
	}

	size := 1 << cacheBits
	dec.hdr.colorCacheSize = size
	if cap(dec.colorCacheBuf) >= size {
		dec.colorCacheBuf = dec.colorCacheBuf[:size]
		for i := range dec.colorCacheBuf {
			dec.colorCacheBuf[i] = 0
		}
	} else {
		dec.colorCacheBuf = make([]uint32, size)
	}
	dec.hdr.colorCache = &ColorCache{
		Colors:    dec.colorCacheBuf,
		HashShift: 32 - cacheBits,
		HashBits:  cacheBits,
	}
}

// decodeSubImage decodes a complete, self-contained sub-image (transform
// data or the meta-Huffman image) and returns its ARGB pixels, restoring
// the parent level's Huffman/color-cache metadata afterward.
func (dec *Decoder) decodeSubImage(xsize, ysize int) ([]uint32, error) {
	parentHdr := dec.hdr
	dec.hdr = frameMeta{}

	if err := dec.decodeImageStream(xsize, ysize, false); err != nil {
		dec.hdr = parentHdr
		return nil, err
	}

	data := make([]uint32, xsize*ysize)
	if err := dec.decodeImageData(data, xsize, ysize, ysize); err != nil {
		dec.hdr = parentHdr
		return nil, err
	}

	dec.hdr = parentHdr
	return data, nil
}

// updateDecoder records the transform-adjusted working width and derives
// the Huffman meta-code tile geometry from it.
func (dec *Decoder) updateDecoder(width, height int) {
	dec.transformWidth = width
	bits := dec.hdr.huffmanSubsampleBits
	dec.hdr.huffmanXSize = VP8LSubSampleSize(width, bits)
	if bits == 0 {
		dec.hdr.huffmanMask = ^0
	} else {
		dec.hdr.huffmanMask = (1 << bits) - 1
	}
}

const numArgbCacheRows = 16

// minPixelsForParallel is the image size below which argbToNRGBA converts
// all rows on the calling goroutine.
const minPixelsForParallel = 1 << 16

// argbToNRGBA converts a row-major ARGB buffer (alpha in bits 31..24,
// red 23..16, green 15..8, blue 7..0) to an image.NRGBA, splitting the
// conversion across rows for large images.
func argbToNRGBA(pixels []uint32, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	pix := img.Pix
	stride := img.Stride

	workers := runtime.GOMAXPROCS(0)
	if workers <= 1 || width*height < minPixelsForParallel {
		convertARGBRows(pixels, pix, stride, width, 0, height)
		return img
	}

	rowsPerWorker := height / workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		yStart := w * rowsPerWorker
		yEnd := yStart + rowsPerWorker
		if w == workers-1 {
			yEnd = height
		}
		go func(yStart, yEnd int) {
			defer wg.Done()
			convertARGBRows(pixels, pix, stride, width, yStart, yEnd)
		}(yStart, yEnd)
	}
	wg.Wait()
	return img
}

// convertARGBRows converts rows [yStart, yEnd) from packed ARGB to the
// NRGBA byte layout, unrolled 4 pixels at a time.
func convertARGBRows(pixels []uint32, pix []byte, stride, width, yStart, yEnd int) {
	for y := yStart; y < yEnd; y++ {
		row := pixels[y*width : y*width+width]
		dst := pix[y*stride : y*stride+width*4]

		i := 0
		for ; i+3 < len(row); i += 4 {
			off := i * 4
			_ = dst[off+15]
			for k := 0; k < 4; k++ {
				p := row[i+k]
				o := off + k*4
				dst[o+0] = uint8(p >> 16)
				dst[o+1] = uint8(p >> 8)
				dst[o+2] = uint8(p)
				dst[o+3] = uint8(p >> 24)
			}
		}
		for ; i < len(row); i++ {
			off := i * 4
			p := row[i]
			_ = dst[off+3]
			dst[off+0] = uint8(p >> 16)
			dst[off+1] = uint8(p >> 8)
			dst[off+2] = uint8(p)
			dst[off+3] = uint8(p >> 24)
		}
	}
}

// NRGBAToARGB converts an NRGBA image to a row-major []uint32 ARGB buffer.
func NRGBAToARGB(img *image.NRGBA) []uint32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pixels := make([]uint32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.NRGBAAt(x+bounds.Min.X, y+bounds.Min.Y)
			pixels[y*w+x] = uint32(c.A)<<24 | uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
		}
	}
	return pixels
}

// ARGBToNRGBA exposes argbToNRGBA for tests outside this file's scope.
func ARGBToNRGBA(pixels []uint32, width, height int) *image.NRGBA {
	return argbToNRGBA(pixels, width, height)
}
