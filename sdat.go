// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SDAT layout.
const (
	sdatMagic       = "SDAT"
	sdatFATMagic    = "FAT "
	sdatFILEMagic   = "FILE"
	sdatINFOMagic   = "INFO"
	sdatSYMBMagic   = "SYMB"
	sdatHeaderSize  = 0x40
	sdatFATHeader   = 12
	sdatListCount   = 8
	sdatAlignment   = 0x20
	sdatFiller      = 0x00
	sdatBlockHeader = 8
)

// sdatKind is one INFO/SYMB record category that references files.
type sdatKind struct {
	name  string
	index int
	// symbStride is the u32 count per SYMB record (SEQARC carries a sub-table offset).
	symbStride int
}

// sdatKinds lists the file-backed categories in directory order.
var sdatKinds = []sdatKind{
	{name: "SEQ", index: 0, symbStride: 1},
	{name: "SEQARC", index: 1, symbStride: 2},
	{name: "BANK", index: 2, symbStride: 1},
	{name: "WAVEARC", index: 3, symbStride: 1},
	{name: "STRM", index: 7, symbStride: 1},
}

// SDATBlock locates one SDAT block.
type SDATBlock struct {
	// Offset is the absolute block offset; zero means absent.
	Offset uint32 `json:"offset" yaml:"offset"`
	// Size is the block size.
	Size uint32 `json:"size" yaml:"size"`
}

// SDATHeader holds the block geometry of a sound data archive.
type SDATHeader struct {
	SYMB      SDATBlock `json:"symb" yaml:"symb"`
	INFO      SDATBlock `json:"info" yaml:"info"`
	FAT       SDATBlock `json:"fat" yaml:"fat"`
	FILE      SDATBlock `json:"file" yaml:"file"`
	FileSize  uint32    `json:"file_size" yaml:"file_size"`
	FileCount uint32    `json:"file_count" yaml:"file_count"`
}

// SDAT is the driver for Nitro sound data archives.
type SDAT struct {
	Header SDATHeader
}

// parseSDAT reads and validates the SDAT header and FAT block.
func parseSDAT(ra io.ReaderAt, size int64) (*SDAT, error) {
	var head [sdatHeaderSize]byte
	if _, err := ra.ReadAt(head[:], 0); err != nil {
		return nil, fmt.Errorf("%w: read SDAT header: %w", ErrInvalidHeader, err)
	}

	le := binary.LittleEndian
	if string(head[:4]) != sdatMagic {
		return nil, fmt.Errorf("%w: bad SDAT magic", ErrInvalidHeader)
	}

	block := func(off int) SDATBlock {
		return SDATBlock{Offset: le.Uint32(head[off:]), Size: le.Uint32(head[off+4:])}
	}

	h := SDATHeader{
		FileSize: le.Uint32(head[8:]),
		SYMB:     block(0x10),
		INFO:     block(0x18),
		FAT:      block(0x20),
		FILE:     block(0x28),
	}

	for name, b := range map[string]SDATBlock{"SYMB": h.SYMB, "INFO": h.INFO, "FAT": h.FAT, "FILE": h.FILE} {
		if !regionFits(b.Offset, b.Size, size) {
			return nil, fmt.Errorf("%w: %s block outside SDAT", ErrInvalidHeader, name)
		}
	}

	var fatHead [sdatFATHeader]byte
	if _, err := ra.ReadAt(fatHead[:], int64(h.FAT.Offset)); err != nil {
		return nil, fmt.Errorf("%w: read FAT block: %w", ErrInvalidHeader, err)
	}

	if string(fatHead[:4]) != sdatFATMagic {
		return nil, fmt.Errorf("%w: missing FAT block", ErrInvalidHeader)
	}

	h.FileCount = le.Uint32(fatHead[8:])
	if int64(sdatFATHeader)+int64(h.FileCount)*sdatRecordSize > int64(h.FAT.Size) {
		return nil, fmt.Errorf("%w: FAT block too small for %d records", ErrInvalidHeader, h.FileCount)
	}

	return &SDAT{Header: h}, nil
}

// Format returns FormatSDAT.
func (d *SDAT) Format() Format { return FormatSDAT }

// BaseOffset returns 0: SDAT FAT offsets are absolute.
func (d *SDAT) BaseOffset() int64 { return 0 }

// Alignment returns the SDAT file alignment.
func (d *SDAT) Alignment() int64 { return sdatAlignment }

// Filler returns the SDAT padding byte.
func (d *SDAT) Filler() byte { return sdatFiller }

// FAT returns the FAT block record layout.
func (d *SDAT) FAT() FATLayout {
	return FATLayout{
		Offset:   int64(d.Header.FAT.Offset) + sdatFATHeader,
		Count:    int(d.Header.FileCount),
		Encoding: FATOffsetSize,
	}
}

func (d *SDAT) nameRegion() (int64, int64) {
	return int64(d.Header.SYMB.Offset), int64(d.Header.SYMB.Size)
}

// buildTree synthesizes one directory per file-backed category from INFO and SYMB.
func (d *SDAT) buildTree(ra io.ReaderAt, records []FatRecord) (*tree, error) {
	info, err := readBlock(ra, d.Header.INFO, sdatINFOMagic)
	if err != nil {
		return nil, err
	}

	var symb []byte
	if d.Header.SYMB.Offset != 0 && d.Header.SYMB.Size != 0 {
		if symb, err = readBlock(ra, d.Header.SYMB, sdatSYMBMagic); err != nil {
			return nil, err
		}
	}

	t := newTree(records)
	for i, kind := range sdatKinds {
		dir := &dirNode{
			id:   uint16(rootDirID + 1 + i), //nolint:gosec // few categories
			name: nameRef{kind: nameLiteral, literal: kind.name},
		}

		ids, err := sdatListEntries(info, kind.index, 1)
		if err != nil {
			return nil, err
		}

		var names []uint32
		if symb != nil {
			if names, err = sdatListEntries(symb, kind.index, kind.symbStride); err != nil {
				return nil, err
			}
		}

		for entry, recOff := range ids {
			if recOff == 0 {
				continue
			}

			if int(recOff)+2 > len(info) {
				return nil, fmt.Errorf("%w: INFO record 0x%x outside block", ErrInvalidNameTable, recOff)
			}

			id := binary.LittleEndian.Uint16(info[recOff:])
			name := nameRef{kind: nameLiteral, literal: fmt.Sprintf("%s_%04d", kind.name, entry)}
			if entry < len(names) && names[entry] != 0 && names[entry] < d.Header.SYMB.Size {
				name = nameRef{kind: nameCString, offset: int64(d.Header.SYMB.Offset) + int64(names[entry])}
			}

			if err := t.addFile(dir, id, name); err != nil {
				return nil, err
			}
		}

		if len(dir.files) > 0 {
			t.root.dirs = append(t.root.dirs, dir)
		}
	}

	return t, nil
}

// readBlock reads a whole SDAT block and checks its magic.
func readBlock(ra io.ReaderAt, b SDATBlock, magic string) ([]byte, error) {
	if b.Size < sdatBlockHeader+sdatListCount*4 {
		return nil, fmt.Errorf("%w: %s block too small", ErrInvalidHeader, magic)
	}

	buf := make([]byte, b.Size)
	if _, err := ra.ReadAt(buf, int64(b.Offset)); err != nil {
		return nil, fmt.Errorf("%w: read %s block: %w", ErrInvalidHeader, magic, err)
	}

	if string(buf[:4]) != magic {
		return nil, fmt.Errorf("%w: missing %s block", ErrInvalidHeader, magic)
	}

	return buf, nil
}

// sdatListEntries returns the first u32 of every record in list idx of an INFO or SYMB block.
func sdatListEntries(block []byte, idx int, stride int) ([]uint32, error) {
	le := binary.LittleEndian
	listOff := le.Uint32(block[sdatBlockHeader+idx*4:])
	if listOff == 0 {
		return nil, nil
	}

	if int64(listOff)+4 > int64(len(block)) {
		return nil, fmt.Errorf("%w: record list 0x%x outside block", ErrInvalidNameTable, listOff)
	}

	count := le.Uint32(block[listOff:])
	end := int64(listOff) + 4 + int64(count)*int64(stride)*4
	if end > int64(len(block)) {
		return nil, fmt.Errorf("%w: record list 0x%x with %d entries outside block", ErrInvalidNameTable, listOff, count)
	}

	out := make([]uint32, count)
	for i := range out {
		out[i] = le.Uint32(block[int64(listOff)+4+int64(i*stride)*4:])
	}

	return out, nil
}

// Finalize shifts block offsets and adds the size delta to the file size and FILE block size.
func (d *SDAT) Finalize(w io.WriterAt, rel Relocation) (Driver, error) {
	next := *d
	h := &next.Header

	var err error
	for _, b := range []*SDATBlock{&h.SYMB, &h.INFO, &h.FAT, &h.FILE} {
		if b.Offset == 0 {
			continue
		}

		if b.Offset, err = rel.shift32(b.Offset); err != nil {
			return nil, fmt.Errorf("shift SDAT block: %w", err)
		}
	}

	if h.FileSize, err = rel.add32(h.FileSize); err != nil {
		return nil, fmt.Errorf("SDAT file size: %w", err)
	}

	if h.FILE.Size, err = rel.add32(h.FILE.Size); err != nil {
		return nil, fmt.Errorf("SDAT FILE block size: %w", err)
	}

	fields := []struct {
		off int64
		v   uint32
	}{
		{8, h.FileSize},
		{0x10, h.SYMB.Offset},
		{0x18, h.INFO.Offset},
		{0x20, h.FAT.Offset},
		{0x28, h.FILE.Offset},
		{0x2C, h.FILE.Size},
		{int64(h.FILE.Offset) + 4, h.FILE.Size},
	}

	for _, f := range fields {
		if err := putUint32At(w, f.off, f.v); err != nil {
			return nil, err
		}
	}

	return &next, nil
}
