// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/woozymasta/lzss"
	"github.com/woozymasta/nitrofs/lz"
)

// scratchPackHeader is the u32 decoded length prefix of packed scratch files.
const scratchPackHeader = 4

// shouldPackScratch reports whether a staged payload is stored LZSS-packed.
func shouldPackScratch(opts StageOptions, matcher *ruleMatcher, path string, size int) bool {
	if size < int(opts.MinCompressSize) || size > int(opts.MaxCompressSize) {
		return false
	}

	return matcher.Match(path)
}

// packScratch LZSS-compresses data behind a decoded length prefix.
// It returns nil when packing does not make the payload smaller.
func packScratch(data []byte) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, nil
	}

	packed, err := lzss.Compress(data, lzss.DefaultCompressOptions())
	if err != nil {
		return nil, fmt.Errorf("lzss compress: %w", err)
	}

	if len(packed)+scratchPackHeader >= len(data) {
		return nil, nil
	}

	out := make([]byte, scratchPackHeader, scratchPackHeader+len(packed))
	binary.LittleEndian.PutUint32(out, uint32(len(data))) //nolint:gosec // bounded above
	return append(out, packed...), nil
}

// openPackedScratch returns a stream decoding a packed scratch file.
func openPackedScratch(name string, src io.ReadCloser) (io.ReadCloser, error) {
	var head [scratchPackHeader]byte
	if _, err := io.ReadFull(src, head[:]); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("read packed scratch header %s: %w", name, err)
	}

	outLen, err := checkedUint32ToInt(binary.LittleEndian.Uint32(head[:]))
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		defer func() { _ = src.Close() }()

		if _, err := lzss.DecompressToWriter(pw, src, outLen, nil); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("decompress scratch %s: %w", name, err))
			return
		}

		_ = pw.Close()
	}()

	return pr, nil
}

// checkedUint32ToInt converts uint32 to int with platform-safe overflow check.
func checkedUint32ToInt(v uint32) (int, error) {
	if uint64(v) > uint64(math.MaxInt) {
		return 0, ErrSizeOverflow
	}

	return int(v), nil
}

// compressionVariantOf maps a pack compression mode to an lz variant.
func compressionVariantOf(c Compression) (lz.Variant, error) {
	switch c {
	case CompressionLZ10:
		return lz.LZ10, nil
	case CompressionLZ11:
		return lz.LZ11, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, c)
	}
}
