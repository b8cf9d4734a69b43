// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package lz

import (
	"fmt"
	"math"
)

const (
	// hashBits sizes the substring index over 3-byte prefixes.
	hashBits = 14
	hashSize = 1 << hashBits
	// maxChainDepth bounds candidate scans per position.
	maxChainDepth = 128
	windowMask    = WindowSize - 1
)

// Decode decodes a complete LZ10 or LZ11 buffer including its header.
func Decode(src []byte) ([]byte, error) {
	h, err := ParseHeader(src)
	if err != nil {
		return nil, err
	}

	if err := checkPlausible(h, len(src)); err != nil {
		return nil, err
	}

	if uint64(h.Length) > uint64(math.MaxInt) {
		return nil, fmt.Errorf("%w: length %d", ErrTooLarge, h.Length)
	}

	out := make([]byte, int(h.Length))
	if err := decodePayload(out, src[h.Size:], h.Variant); err != nil {
		return nil, err
	}

	return out, nil
}

// decodePayload fills out from the token stream in.
func decodePayload(out []byte, in []byte, v Variant) error {
	n := len(out)
	o := 0
	pos := 0

	for o < n {
		if pos >= len(in) {
			return fmt.Errorf("%w: missing control byte at output %d/%d", ErrTruncated, o, n)
		}

		flags := in[pos]
		pos++

		for bit := 0; bit < 8 && o < n; bit++ {
			if flags&(0x80>>bit) == 0 {
				if pos >= len(in) {
					return fmt.Errorf("%w: missing literal at output %d/%d", ErrTruncated, o, n)
				}

				out[o] = in[pos]
				o++
				pos++
				continue
			}

			length, disp, used, err := readRef(in[pos:], v)
			if err != nil {
				return err
			}
			pos += used

			if disp > o {
				return fmt.Errorf("%w: displacement %d before start at output %d", ErrCorrupt, disp, o)
			}

			// Encoders may emit a final reference that overruns the declared length.
			length = min(length, n-o)
			from := o - disp
			for k := range length {
				out[o+k] = out[from+k]
			}
			o += length
		}
	}

	return nil
}

// readRef parses one back-reference and returns length, displacement and consumed bytes.
func readRef(in []byte, v Variant) (int, int, int, error) {
	if len(in) < 2 {
		return 0, 0, 0, fmt.Errorf("%w: short back-reference", ErrTruncated)
	}

	b0 := int(in[0])
	b1 := int(in[1])

	if v == LZ10 {
		return b0>>4 + minMatch, (b0&0x0F)<<8 | b1 + 1, 2, nil
	}

	switch b0 >> 4 {
	case 0:
		if len(in) < 3 {
			return 0, 0, 0, fmt.Errorf("%w: short back-reference", ErrTruncated)
		}

		b2 := int(in[2])
		length := ((b0&0x0F)<<4 | b1>>4) + 0x11
		disp := ((b1&0x0F)<<8 | b2) + 1
		return length, disp, 3, nil
	case 1:
		if len(in) < 4 {
			return 0, 0, 0, fmt.Errorf("%w: short back-reference", ErrTruncated)
		}

		b2 := int(in[2])
		b3 := int(in[3])
		length := ((b0&0x0F)<<12 | b1<<4 | b2>>4) + 0x111
		disp := ((b2&0x0F)<<8 | b3) + 1
		return length, disp, 4, nil
	default:
		return b0>>4 + 1, (b0&0x0F)<<8 | b1 + 1, 2, nil
	}
}

// Encode compresses src with the selected variant.
func Encode(src []byte, v Variant) ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFormat, uint8(v))
	}

	if uint64(len(src)) > MaxLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(src))
	}

	if v == LZ10 && len(src) > MaxShortLength {
		return nil, fmt.Errorf("%w: %d bytes exceed lz10 limit", ErrTooLarge, len(src))
	}

	maxMatch := maxMatchLZ10
	if v == LZ11 {
		maxMatch = maxMatchLZ11
	}

	out := make([]byte, 0, len(src)/2+ExtendedHeaderSize+8)
	out = appendHeader(out, v, len(src))

	idx := newMatchIndex(src)
	pos := 0
	for pos < len(src) {
		flagAt := len(out)
		out = append(out, 0)

		for bit := 0; bit < 8 && pos < len(src); bit++ {
			length, disp := idx.longest(pos, maxMatch)
			if length < minMatch {
				out = append(out, src[pos])
				idx.insert(pos)
				pos++
				continue
			}

			out[flagAt] |= 0x80 >> bit
			out = appendRef(out, v, length, disp)
			for k := range length {
				idx.insert(pos + k)
			}
			pos += length
		}
	}

	for len(out)%4 != 0 {
		out = append(out, 0)
	}

	return out, nil
}

// appendRef encodes one back-reference; length >= minMatch, 1 <= disp <= WindowSize.
func appendRef(dst []byte, v Variant, length int, disp int) []byte {
	d := disp - 1

	if v == LZ10 {
		return append(dst, byte((length-minMatch)<<4|d>>8), byte(d))
	}

	switch {
	case length <= 0x10:
		return append(dst, byte((length-1)<<4|d>>8), byte(d))
	case length <= 0x110:
		l := length - 0x11
		return append(dst, byte(l>>4), byte((l&0x0F)<<4|d>>8), byte(d))
	default:
		l := length - 0x111
		return append(dst, byte(0x10|l>>12), byte(l>>4), byte((l&0x0F)<<4|d>>8), byte(d))
	}
}

// matchIndex is a hash-chain index of 3-byte prefixes inside the sliding window.
type matchIndex struct {
	src  []byte
	head []int32
	prev [WindowSize]int32
}

// newMatchIndex creates an empty index over src.
func newMatchIndex(src []byte) *matchIndex {
	idx := &matchIndex{
		src:  src,
		head: make([]int32, hashSize),
	}
	for i := range idx.head {
		idx.head[i] = -1
	}

	return idx
}

// hash3 hashes the 3-byte prefix at pos.
func (idx *matchIndex) hash3(pos int) int {
	v := uint32(idx.src[pos])<<16 | uint32(idx.src[pos+1])<<8 | uint32(idx.src[pos+2])
	return int((v * 2654435761) >> (32 - hashBits))
}

// insert adds pos to the index.
func (idx *matchIndex) insert(pos int) {
	if pos+minMatch > len(idx.src) {
		return
	}

	h := idx.hash3(pos)
	idx.prev[pos&windowMask] = idx.head[h]
	idx.head[h] = int32(pos) //nolint:gosec // inputs are bounded by MaxLength
}

// longest returns the longest match for pos and its displacement.
func (idx *matchIndex) longest(pos int, maxMatch int) (int, int) {
	limit := min(maxMatch, len(idx.src)-pos)
	if limit < minMatch {
		return 0, 0
	}

	bestLen := 0
	bestDisp := 0
	cand := int(idx.head[idx.hash3(pos)])
	for depth := 0; cand >= 0 && depth < maxChainDepth; depth++ {
		disp := pos - cand
		if disp <= 0 || disp > WindowSize {
			break
		}

		n := 0
		for n < limit && idx.src[cand+n] == idx.src[pos+n] {
			n++
		}
		if n > bestLen {
			bestLen = n
			bestDisp = disp
			if n == limit {
				break
			}
		}

		next := int(idx.prev[cand&windowMask])
		if next >= cand {
			break
		}
		cand = next
	}

	return bestLen, bestDisp
}
