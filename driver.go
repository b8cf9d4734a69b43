// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// FATEncoding is the on-disk shape of one FAT record.
type FATEncoding uint8

// Supported FAT record encodings.
const (
	// FATStartEnd stores u32 start and u32 end (NitroFS).
	FATStartEnd FATEncoding = iota
	// FATOffsetSize stores u32 offset, u32 size and 8 reserved bytes (SDAT).
	FATOffsetSize
)

// RecordSize returns the byte size of one encoded record.
func (e FATEncoding) RecordSize() int64 {
	if e == FATOffsetSize {
		return sdatRecordSize
	}

	return fatRecordSize
}

// decode reads one record from src.
func (e FATEncoding) decode(src []byte) FatRecord {
	a := binary.LittleEndian.Uint32(src)
	b := binary.LittleEndian.Uint32(src[4:])
	if e == FATOffsetSize {
		return FatRecord{Start: a, End: a + b}
	}

	return FatRecord{Start: a, End: b}
}

// encode writes the first 8 bytes of one record into dst.
func (e FATEncoding) encode(dst []byte, rec FatRecord) {
	binary.LittleEndian.PutUint32(dst, rec.Start)
	if e == FATOffsetSize {
		binary.LittleEndian.PutUint32(dst[4:], rec.Size())
		return
	}

	binary.LittleEndian.PutUint32(dst[4:], rec.End)
}

// FATLayout locates the FAT region of a container.
type FATLayout struct {
	// Offset is the absolute offset of record 0.
	Offset int64 `json:"offset" yaml:"offset"`
	// Count is the number of records.
	Count int `json:"count" yaml:"count"`
	// Encoding is the record shape.
	Encoding FATEncoding `json:"encoding" yaml:"encoding"`
}

// Size returns the byte size of the FAT region.
func (l FATLayout) Size() int64 {
	return int64(l.Count) * l.Encoding.RecordSize()
}

// End returns the absolute end of the FAT region.
func (l FATLayout) End() int64 {
	return l.Offset + l.Size()
}

// recordOffset returns the absolute offset of record id.
func (l FATLayout) recordOffset(id int) int64 {
	return l.Offset + int64(id)*l.Encoding.RecordSize()
}

// Relocation describes how a rewrite moved container bytes.
type Relocation struct {
	// Shift maps an original absolute offset to its rewritten absolute offset.
	Shift func(abs int64) int64 `json:"-" yaml:"-"`
	// Delta is the total size change.
	Delta int64 `json:"delta" yaml:"delta"`
	// OldSize is the original container size.
	OldSize int64 `json:"old_size" yaml:"old_size"`
	// NewSize is the rewritten container size.
	NewSize int64 `json:"new_size" yaml:"new_size"`
}

// shift32 applies Shift to a u32 header field.
func (r Relocation) shift32(v uint32) (uint32, error) {
	if r.Shift == nil {
		return v, nil
	}

	return checkedUint32(r.Shift(int64(v)))
}

// add32 adds Delta to a u32 size field.
func (r Relocation) add32(v uint32) (uint32, error) {
	return checkedUint32(int64(v) + r.Delta)
}

// Driver is the format-specific part of a container: where the FAT lives,
// where file data starts and how the header follows a rewrite.
type Driver interface {
	// Format returns the container format.
	Format() Format
	// BaseOffset is added to every FAT value to get an absolute offset.
	BaseOffset() int64
	// FAT locates the FAT region.
	FAT() FATLayout
	// Alignment is the inter-file alignment; 1 means none.
	Alignment() int64
	// Filler is the padding byte value.
	Filler() byte
	// Finalize writes header fields that depend on the rewrite and returns the updated driver.
	Finalize(w io.WriterAt, rel Relocation) (Driver, error)

	// nameRegion is the absolute range holding names the tree references.
	nameRegion() (offset int64, size int64)
	// buildTree parses the directory graph over the FAT records.
	buildTree(ra io.ReaderAt, records []FatRecord) (*tree, error)
}

// parseDriver parses the header of the given format.
func parseDriver(format Format, ra io.ReaderAt, size int64) (Driver, error) {
	switch format {
	case FormatROM:
		return parseROM(ra, size)
	case FormatNARC:
		return parseNARC(ra, size)
	case FormatSDAT:
		return parseSDAT(ra, size)
	case FormatUtility:
		return parseUtility(ra, size)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// DetectFormat identifies the container format from its header.
func DetectFormat(ra io.ReaderAt, size int64) (Format, error) {
	head := make([]byte, min(size, romHeaderSize))
	if _, err := ra.ReadAt(head, 0); err != nil && err != io.EOF {
		return "", fmt.Errorf("read header: %w", err)
	}

	switch {
	case len(head) >= 4 && string(head[:4]) == narcMagic:
		return FormatNARC, nil
	case len(head) >= 4 && string(head[:4]) == sdatMagic:
		return FormatSDAT, nil
	case looksLikeROM(head, size):
		return FormatROM, nil
	case looksLikeUtility(head, size):
		return FormatUtility, nil
	default:
		return "", ErrUnknownFormat
	}
}

// readRecords loads the FAT region described by layout.
func readRecords(ra io.ReaderAt, layout FATLayout) ([]FatRecord, error) {
	if layout.Count < 0 || layout.Count > maxFileCount {
		return nil, fmt.Errorf("%w: record count %d", ErrInvalidFAT, layout.Count)
	}

	buf := make([]byte, layout.Size())
	if _, err := ra.ReadAt(buf, layout.Offset); err != nil {
		return nil, fmt.Errorf("%w: read FAT: %w", ErrInvalidFAT, err)
	}

	step := layout.Encoding.RecordSize()
	records := make([]FatRecord, layout.Count)
	for i := range records {
		records[i] = layout.Encoding.decode(buf[int64(i)*step:])
	}

	return records, nil
}

// writeRecord encodes record id of the arena into w.
func writeRecord(w io.WriterAt, layout FATLayout, id int, rec FatRecord) error {
	var buf [fatRecordSize]byte
	layout.Encoding.encode(buf[:], rec)
	if _, err := w.WriteAt(buf[:], layout.recordOffset(id)); err != nil {
		return fmt.Errorf("write FAT record %d: %w", id, err)
	}

	return nil
}

// checkedUint32 narrows v to a u32 container field.
func checkedUint32(v int64) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: 0x%x", ErrSizeOverflow, v)
	}

	return uint32(v), nil
}

// putUint32At writes one little-endian u32 at off.
func putUint32At(w io.WriterAt, off int64, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.WriteAt(buf[:], off); err != nil {
		return fmt.Errorf("write field at 0x%x: %w", off, err)
	}

	return nil
}
