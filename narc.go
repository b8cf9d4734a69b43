// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"encoding/binary"
	"fmt"
	"io"
)

// NARC layout.
const (
	narcMagic         = "NARC"
	narcBTAFMagic     = "BTAF"
	narcBTNFMagic     = "BTNF"
	narcGMIFMagic     = "GMIF"
	narcBOM           = 0xFFFE
	narcVersion       = 0x0100
	narcHeaderSize    = 0x10
	narcSectionCount  = 3
	narcSectionHeader = 8
	narcBTAFHeader    = 12
	narcAlignment     = 4
	narcFiller        = 0xFF
)

// NARCHeader holds the section geometry of a NARC archive.
type NARCHeader struct {
	// FileSize is the archive size stored in the header.
	FileSize uint32 `json:"file_size" yaml:"file_size"`
	// BTAFOffset is the absolute offset of the FAT section.
	BTAFOffset uint32 `json:"btaf_offset" yaml:"btaf_offset"`
	// BTNFOffset is the absolute offset of the name table section.
	BTNFOffset uint32 `json:"btnf_offset" yaml:"btnf_offset"`
	// BTNFSize is the name table section size, header included.
	BTNFSize uint32 `json:"btnf_size" yaml:"btnf_size"`
	// GMIFOffset is the absolute offset of the file image section.
	GMIFOffset uint32 `json:"gmif_offset" yaml:"gmif_offset"`
	// GMIFSize is the file image section size, header included.
	GMIFSize uint32 `json:"gmif_size" yaml:"gmif_size"`
	// FileCount is the number of FAT records.
	FileCount uint16 `json:"file_count" yaml:"file_count"`
}

// NARC is the driver for Nitro archives.
type NARC struct {
	Header NARCHeader
}

// parseNARC reads and validates the NARC header and section chain.
func parseNARC(ra io.ReaderAt, size int64) (*NARC, error) {
	head := make([]byte, narcHeaderSize+narcBTAFHeader)
	if _, err := ra.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("%w: read NARC header: %w", ErrInvalidHeader, err)
	}

	le := binary.LittleEndian
	if string(head[:4]) != narcMagic || le.Uint16(head[4:]) != narcBOM {
		return nil, fmt.Errorf("%w: bad NARC magic", ErrInvalidHeader)
	}

	h := NARCHeader{
		FileSize:   le.Uint32(head[8:]),
		BTAFOffset: uint32(le.Uint16(head[0x0C:])),
	}

	if h.BTAFOffset != narcHeaderSize {
		return nil, fmt.Errorf("%w: NARC header size 0x%x", ErrInvalidHeader, h.BTAFOffset)
	}

	btaf := head[narcHeaderSize:]
	if string(btaf[:4]) != narcBTAFMagic {
		return nil, fmt.Errorf("%w: missing BTAF section", ErrInvalidHeader)
	}

	btafSize := le.Uint32(btaf[4:])
	h.FileCount = le.Uint16(btaf[8:])
	if int64(btafSize) < narcBTAFHeader+int64(h.FileCount)*fatRecordSize {
		return nil, fmt.Errorf("%w: BTAF size 0x%x too small for %d records", ErrInvalidHeader, btafSize, h.FileCount)
	}

	h.BTNFOffset = h.BTAFOffset + btafSize
	btnfSize, err := readSection(ra, int64(h.BTNFOffset), narcBTNFMagic, size)
	if err != nil {
		return nil, err
	}
	h.BTNFSize = btnfSize

	h.GMIFOffset = h.BTNFOffset + btnfSize
	gmifSize, err := readSection(ra, int64(h.GMIFOffset), narcGMIFMagic, size)
	if err != nil {
		return nil, err
	}
	h.GMIFSize = gmifSize

	return &NARC{Header: h}, nil
}

// readSection checks a section magic at off and returns its size.
func readSection(ra io.ReaderAt, off int64, magic string, total int64) (uint32, error) {
	var head [narcSectionHeader]byte
	if _, err := ra.ReadAt(head[:], off); err != nil {
		return 0, fmt.Errorf("%w: read %s section: %w", ErrInvalidHeader, magic, err)
	}

	if string(head[:4]) != magic {
		return 0, fmt.Errorf("%w: missing %s section at 0x%x", ErrInvalidHeader, magic, off)
	}

	size := binary.LittleEndian.Uint32(head[4:])
	if size < narcSectionHeader || off+int64(size) > total {
		return 0, fmt.Errorf("%w: %s section size 0x%x out of range", ErrInvalidHeader, magic, size)
	}

	return size, nil
}

// Format returns FormatNARC.
func (d *NARC) Format() Format { return FormatNARC }

// BaseOffset returns the start of GMIF file data.
func (d *NARC) BaseOffset() int64 { return int64(d.Header.GMIFOffset) + narcSectionHeader }

// Alignment returns the NARC file alignment.
func (d *NARC) Alignment() int64 { return narcAlignment }

// Filler returns the NARC padding byte.
func (d *NARC) Filler() byte { return narcFiller }

// FAT returns the BTAF record layout.
func (d *NARC) FAT() FATLayout {
	return FATLayout{
		Offset:   int64(d.Header.BTAFOffset) + narcBTAFHeader,
		Count:    int(d.Header.FileCount),
		Encoding: FATStartEnd,
	}
}

func (d *NARC) nameRegion() (int64, int64) {
	return int64(d.Header.BTNFOffset) + narcSectionHeader, int64(d.Header.BTNFSize) - narcSectionHeader
}

func (d *NARC) buildTree(ra io.ReaderAt, records []FatRecord) (*tree, error) {
	off, size := d.nameRegion()
	return readTree(ra, off, size, records)
}

// Finalize adds the size delta to the header file size and the GMIF section size.
func (d *NARC) Finalize(w io.WriterAt, rel Relocation) (Driver, error) {
	next := *d

	var err error
	if next.Header.FileSize, err = rel.add32(d.Header.FileSize); err != nil {
		return nil, fmt.Errorf("NARC file size: %w", err)
	}

	if next.Header.GMIFSize, err = rel.add32(d.Header.GMIFSize); err != nil {
		return nil, fmt.Errorf("NARC GMIF size: %w", err)
	}

	if err := putUint32At(w, 8, next.Header.FileSize); err != nil {
		return nil, err
	}

	if err := putUint32At(w, int64(next.Header.GMIFOffset)+4, next.Header.GMIFSize); err != nil {
		return nil, err
	}

	return &next, nil
}
