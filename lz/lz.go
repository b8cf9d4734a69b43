// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

/*
Package lz implements the LZ10 and LZ11 whole-buffer back-reference codecs
used by Nintendo DS software for compressed files and archives.

Both variants share a 4-byte little-endian header: the low byte is the
variant tag (0x10 or 0x11), the upper 24 bits are the decoded length.
A zero 24-bit length is followed by a 32-bit extended length.

	packed, err := lz.Encode(data, lz.LZ11)
	if err != nil {
	    return err
	}
	plain, err := lz.Decode(packed)
*/
package lz

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Variant is the header tag that selects the back-reference encoding.
type Variant uint8

// Supported variants.
const (
	// LZ10 encodes back-references as 2 bytes: 4-bit length (3..18) and 12-bit displacement.
	LZ10 Variant = 0x10
	// LZ11 encodes back-references in three length tiers up to 65808 bytes.
	LZ11 Variant = 0x11
)

// Format limits.
const (
	// HeaderSize is the size of the short header.
	HeaderSize = 4
	// ExtendedHeaderSize is the size of the header carrying a 32-bit length.
	ExtendedHeaderSize = 8
	// MaxShortLength is the largest length stored in the 24-bit header field.
	MaxShortLength = 1<<24 - 1
	// MaxLength is the largest decoded length of any variant.
	MaxLength = 1<<32 - 1
	// WindowSize is the maximum back-reference displacement.
	WindowSize = 0x1000

	minMatch     = 3
	maxMatchLZ10 = 0x12
	maxMatchLZ11 = 0xFFFF + 0x111

	// maxExpansion bounds decoded/encoded ratio: one flag bit plus two
	// bytes can describe at most maxMatchLZ11 output bytes.
	maxExpansion = maxMatchLZ11 * 4
)

// Sentinel errors. Use errors.Is in callers.
var (
	// ErrUnknownFormat means the header tag is neither LZ10 nor LZ11.
	ErrUnknownFormat = errors.New("lz: unknown format tag")
	// ErrTruncated means input ended before the declared length was produced.
	ErrTruncated = errors.New("lz: truncated input")
	// ErrCorrupt means a back-reference or length is invalid.
	ErrCorrupt = errors.New("lz: corrupt input")
	// ErrTooLarge means input exceeds the length limit of the selected variant.
	ErrTooLarge = errors.New("lz: input too large for variant")
)

// Header is a parsed codec header.
type Header struct {
	// Variant is the header tag.
	Variant Variant
	// Length is the decoded length in bytes.
	Length uint32
	// Size is the header size in bytes (4 or 8).
	Size int
}

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case LZ10:
		return "lz10"
	case LZ11:
		return "lz11"
	default:
		return fmt.Sprintf("lz(0x%02x)", uint8(v))
	}
}

// Valid reports whether v is a supported variant.
func (v Variant) Valid() bool {
	return v == LZ10 || v == LZ11
}

// ParseVariant maps a case-sensitive name ("lz10", "lz11") to a variant.
func ParseVariant(name string) (Variant, error) {
	switch name {
	case "lz10", "10":
		return LZ10, nil
	case "lz11", "11":
		return LZ11, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// ParseHeader reads the codec header at the start of src.
func ParseHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header", ErrTruncated)
	}

	word := binary.LittleEndian.Uint32(src)
	h := Header{
		Variant: Variant(word & 0xFF),
		Length:  word >> 8,
		Size:    HeaderSize,
	}
	if !h.Variant.Valid() {
		return Header{}, fmt.Errorf("%w: 0x%02x", ErrUnknownFormat, uint8(h.Variant))
	}

	if h.Length == 0 && len(src) >= ExtendedHeaderSize {
		h.Length = binary.LittleEndian.Uint32(src[4:8])
		h.Size = ExtendedHeaderSize
	}

	return h, nil
}

// Detect reports the variant of src when its header looks plausible.
// The check is a heuristic: a valid tag and a decoded length that the
// payload could produce.
func Detect(src []byte) (Variant, bool) {
	h, err := ParseHeader(src)
	if err != nil {
		return 0, false
	}

	if err := checkPlausible(h, len(src)); err != nil {
		return 0, false
	}

	return h.Variant, true
}

// appendHeader writes the header for length n.
func appendHeader(dst []byte, v Variant, n int) []byte {
	if n == 0 || n > MaxShortLength {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(v))
		return binary.LittleEndian.AppendUint32(dst, uint32(n)) //nolint:gosec // bounded by MaxLength check in Encode
	}

	return binary.LittleEndian.AppendUint32(dst, uint32(v)|uint32(n)<<8) //nolint:gosec // n <= MaxShortLength
}

// checkPlausible rejects lengths the payload cannot possibly decode to.
func checkPlausible(h Header, total int) error {
	payload := total - h.Size
	if payload < 0 {
		return fmt.Errorf("%w: short header", ErrTruncated)
	}

	if h.Length > 0 && payload == 0 {
		return fmt.Errorf("%w: empty payload for length %d", ErrTruncated, h.Length)
	}

	if uint64(h.Length) > uint64(payload)*maxExpansion {
		return fmt.Errorf("%w: length %d cannot be produced by %d payload bytes", ErrCorrupt, h.Length, payload)
	}

	return nil
}
