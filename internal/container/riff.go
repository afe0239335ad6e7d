package container

import (
	"encoding/binary"
	"errors"
)

// Common errors raised while assembling a RIFF/WebP container.
var (
	ErrTooLarge   = errors.New("webp: file too large")
	ErrInvalidVP8 = errors.New("webp: invalid image dimensions")
)

// FourCCString returns a human-readable string for a FourCC value. Used in
// error messages and tests.
func FourCCString(fourcc uint32) string {
	b := [4]byte{
		byte(fourcc),
		byte(fourcc >> 8),
		byte(fourcc >> 16),
		byte(fourcc >> 24),
	}
	return string(b[:])
}

// PaddedSize returns size padded to an even number of bytes, as required by
// the RIFF format: every chunk payload is followed by a single zero pad byte
// when its size is odd.
func PaddedSize(size uint32) uint32 {
	return size + (size & 1)
}

// WriteRIFFSimple assembles a single-chunk RIFF/WEBP container around a VP8L
// bitstream payload: "RIFF" + file size + "WEBP" + "VP8L" + chunk size +
// payload (+ pad byte if the payload length is odd).
//
// This is the only container layout this encoder ever produces — no VP8X
// extended header, no alpha chunk, no animation frames.
func WriteRIFFSimple(vp8lPayload []byte) ([]byte, error) {
	payloadSize := uint32(len(vp8lPayload))
	if uint64(payloadSize) > uint64(MaxChunkPayload) {
		return nil, ErrTooLarge
	}

	padded := PaddedSize(payloadSize)
	riffSize := uint32(TagSize) + ChunkHeaderSize + padded // "WEBP" + chunk header + payload
	total := RIFFHeaderSize + ChunkHeaderSize + int(padded)

	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out[0:4], FourCCRIFF)
	binary.LittleEndian.PutUint32(out[4:8], riffSize)
	binary.LittleEndian.PutUint32(out[8:12], FourCCWEBP)
	binary.LittleEndian.PutUint32(out[12:16], FourCCVP8L)
	binary.LittleEndian.PutUint32(out[16:20], payloadSize)
	copy(out[20:20+len(vp8lPayload)], vp8lPayload)
	// the trailing pad byte, if any, is left as the zero value

	return out, nil
}
