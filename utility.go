// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Utility blob layout.
const (
	utilityHeaderSize = 16
	utilityAlignment  = 0x20
	utilityFiller     = 0xFF
)

// UtilityHeader is the 16-byte header of a utility blob.
type UtilityHeader struct {
	FNTOffset uint32 `json:"fnt_offset" yaml:"fnt_offset"`
	FNTSize   uint32 `json:"fnt_size" yaml:"fnt_size"`
	FATOffset uint32 `json:"fat_offset" yaml:"fat_offset"`
	FATSize   uint32 `json:"fat_size" yaml:"fat_size"`
}

// Utility is the driver for bare utility blobs with absolute FAT offsets.
type Utility struct {
	Header UtilityHeader
}

// parseUtility reads and validates the utility header.
func parseUtility(ra io.ReaderAt, size int64) (*Utility, error) {
	var head [utilityHeaderSize]byte
	if _, err := ra.ReadAt(head[:], 0); err != nil {
		return nil, fmt.Errorf("%w: read utility header: %w", ErrInvalidHeader, err)
	}

	if !looksLikeUtility(head[:], size) {
		return nil, fmt.Errorf("%w: utility tables out of range", ErrInvalidHeader)
	}

	le := binary.LittleEndian
	return &Utility{Header: UtilityHeader{
		FNTOffset: le.Uint32(head[0:]),
		FNTSize:   le.Uint32(head[4:]),
		FATOffset: le.Uint32(head[8:]),
		FATSize:   le.Uint32(head[12:]),
	}}, nil
}

// looksLikeUtility reports whether head carries sane utility table bounds.
func looksLikeUtility(head []byte, size int64) bool {
	if len(head) < utilityHeaderSize {
		return false
	}

	le := binary.LittleEndian
	fntOff, fntSize := le.Uint32(head[0:]), le.Uint32(head[4:])
	fatOff, fatSize := le.Uint32(head[8:]), le.Uint32(head[12:])

	return fntOff >= utilityHeaderSize && fatOff >= utilityHeaderSize &&
		fntSize >= fntMainEntrySize && fatSize%fatRecordSize == 0 &&
		regionFits(fntOff, fntSize, size) && regionFits(fatOff, fatSize, size)
}

// Format returns FormatUtility.
func (d *Utility) Format() Format { return FormatUtility }

// BaseOffset returns 0: utility FAT values are absolute.
func (d *Utility) BaseOffset() int64 { return 0 }

// Alignment returns the utility file alignment.
func (d *Utility) Alignment() int64 { return utilityAlignment }

// Filler returns the utility padding byte.
func (d *Utility) Filler() byte { return utilityFiller }

// FAT returns the utility FAT layout.
func (d *Utility) FAT() FATLayout {
	return FATLayout{
		Offset:   int64(d.Header.FATOffset),
		Count:    int(d.Header.FATSize / fatRecordSize),
		Encoding: FATStartEnd,
	}
}

func (d *Utility) nameRegion() (int64, int64) {
	return int64(d.Header.FNTOffset), int64(d.Header.FNTSize)
}

func (d *Utility) buildTree(ra io.ReaderAt, records []FatRecord) (*tree, error) {
	return readTree(ra, int64(d.Header.FNTOffset), int64(d.Header.FNTSize), records)
}

// Finalize rewrites the header with shifted table offsets.
func (d *Utility) Finalize(w io.WriterAt, rel Relocation) (Driver, error) {
	next := *d

	var err error
	if next.Header.FNTOffset, err = rel.shift32(d.Header.FNTOffset); err != nil {
		return nil, fmt.Errorf("shift utility name table: %w", err)
	}

	if next.Header.FATOffset, err = rel.shift32(d.Header.FATOffset); err != nil {
		return nil, fmt.Errorf("shift utility FAT: %w", err)
	}

	var head [utilityHeaderSize]byte
	le := binary.LittleEndian
	le.PutUint32(head[0:], next.Header.FNTOffset)
	le.PutUint32(head[4:], next.Header.FNTSize)
	le.PutUint32(head[8:], next.Header.FATOffset)
	le.PutUint32(head[12:], next.Header.FATSize)

	if _, err := w.WriteAt(head[:], 0); err != nil {
		return nil, fmt.Errorf("write utility header: %w", err)
	}

	return &next, nil
}
