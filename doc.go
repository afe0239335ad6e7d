// Package vp8l is a pure Go lossless (VP8L) WebP encoder.
//
// It takes an in-memory BGRA raster and produces a complete RIFF/WEBP byte
// stream: forward transforms (subtract-green, predictor, cross-color,
// color-indexing), LZ77-style backward references over a hash chain,
// entropy-clustered histograms, and canonical Huffman coding, all wrapped in
// RIFF container framing.
//
// The encoder runs a single fixed quality/method profile -- there are no
// quality or method knobs to tune, and the output is not guaranteed to be
// byte-identical to any other VP8L encoder. Decoding is out of scope as a
// product surface; a VP8L decoder is kept internally only to verify
// round-trip losslessness in this module's own tests.
//
// Basic usage:
//
//	data, err := vp8l.EncodeImage(img)
package vp8l
