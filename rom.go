// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// ROM header layout.
const (
	romHeaderSize     = 0x200
	romCRCOffset      = 0x15E
	romCapacityOffset = 0x14
	romCapacityBase   = 0x20000
	romMaxCapacity    = 15
	romAlignment      = 0x200
	romFiller         = 0xFF

	bannerTitleOffset = 0x240
	bannerTitleSize   = 0x100
)

// BannerLanguage indexes the localized banner titles.
type BannerLanguage uint8

// Banner title languages in on-disk order.
const (
	BannerJapanese BannerLanguage = iota
	BannerEnglish
	BannerFrench
	BannerGerman
	BannerItalian
	BannerSpanish
)

// ROMRegion is one executable region described by the ROM header.
type ROMRegion struct {
	// Offset is the absolute ROM offset of the binary.
	Offset uint32 `json:"offset" yaml:"offset"`
	// Entry is the entry point address.
	Entry uint32 `json:"entry" yaml:"entry"`
	// RAMAddress is the load address.
	RAMAddress uint32 `json:"ram_address" yaml:"ram_address"`
	// Size is the binary size.
	Size uint32 `json:"size" yaml:"size"`
}

// ROMHeader holds the ROM header fields this package reads or patches.
type ROMHeader struct {
	Title             string    `json:"title" yaml:"title"`
	GameCode          string    `json:"game_code" yaml:"game_code"`
	MakerCode         string    `json:"maker_code" yaml:"maker_code"`
	ARM9              ROMRegion `json:"arm9" yaml:"arm9"`
	ARM7              ROMRegion `json:"arm7" yaml:"arm7"`
	FNTOffset         uint32    `json:"fnt_offset" yaml:"fnt_offset"`
	FNTSize           uint32    `json:"fnt_size" yaml:"fnt_size"`
	FATOffset         uint32    `json:"fat_offset" yaml:"fat_offset"`
	FATSize           uint32    `json:"fat_size" yaml:"fat_size"`
	ARM9OverlayOffset uint32    `json:"arm9_overlay_offset" yaml:"arm9_overlay_offset"`
	ARM9OverlaySize   uint32    `json:"arm9_overlay_size" yaml:"arm9_overlay_size"`
	ARM7OverlayOffset uint32    `json:"arm7_overlay_offset" yaml:"arm7_overlay_offset"`
	ARM7OverlaySize   uint32    `json:"arm7_overlay_size" yaml:"arm7_overlay_size"`
	BannerOffset      uint32    `json:"banner_offset" yaml:"banner_offset"`
	UsedSize          uint32    `json:"used_size" yaml:"used_size"`
	HeaderSize        uint32    `json:"header_size" yaml:"header_size"`
	HeaderCRC         uint16    `json:"header_crc" yaml:"header_crc"`
	UnitCode          uint8     `json:"unit_code" yaml:"unit_code"`
	DeviceCapacity    uint8     `json:"device_capacity" yaml:"device_capacity"`
}

// ROM is the driver for Nintendo DS ROM images.
type ROM struct {
	Header ROMHeader
	raw    [romHeaderSize]byte
}

// parseROM reads and validates the ROM header.
func parseROM(ra io.ReaderAt, size int64) (*ROM, error) {
	if size < romHeaderSize {
		return nil, fmt.Errorf("%w: ROM smaller than header", ErrInvalidHeader)
	}

	d := &ROM{}
	if _, err := ra.ReadAt(d.raw[:], 0); err != nil {
		return nil, fmt.Errorf("%w: read ROM header: %w", ErrInvalidHeader, err)
	}

	le := binary.LittleEndian
	h := &d.Header
	h.Title = trimASCII(d.raw[0x00:0x0C])
	h.GameCode = trimASCII(d.raw[0x0C:0x10])
	h.MakerCode = trimASCII(d.raw[0x10:0x12])
	h.UnitCode = d.raw[0x12]
	h.DeviceCapacity = d.raw[romCapacityOffset]
	h.ARM9 = readROMRegion(d.raw[0x20:])
	h.ARM7 = readROMRegion(d.raw[0x30:])
	h.FNTOffset = le.Uint32(d.raw[0x40:])
	h.FNTSize = le.Uint32(d.raw[0x44:])
	h.FATOffset = le.Uint32(d.raw[0x48:])
	h.FATSize = le.Uint32(d.raw[0x4C:])
	h.ARM9OverlayOffset = le.Uint32(d.raw[0x50:])
	h.ARM9OverlaySize = le.Uint32(d.raw[0x54:])
	h.ARM7OverlayOffset = le.Uint32(d.raw[0x58:])
	h.ARM7OverlaySize = le.Uint32(d.raw[0x5C:])
	h.BannerOffset = le.Uint32(d.raw[0x68:])
	h.UsedSize = le.Uint32(d.raw[0x80:])
	h.HeaderSize = le.Uint32(d.raw[0x84:])
	h.HeaderCRC = le.Uint16(d.raw[romCRCOffset:])

	if h.FATSize%fatRecordSize != 0 {
		return nil, fmt.Errorf("%w: FAT size 0x%x not a multiple of %d", ErrInvalidHeader, h.FATSize, fatRecordSize)
	}

	if !regionFits(h.FNTOffset, h.FNTSize, size) || !regionFits(h.FATOffset, h.FATSize, size) {
		return nil, fmt.Errorf("%w: name table or FAT outside ROM", ErrInvalidHeader)
	}

	return d, nil
}

// readROMRegion decodes one 16-byte executable region.
func readROMRegion(src []byte) ROMRegion {
	le := binary.LittleEndian
	return ROMRegion{
		Offset:     le.Uint32(src),
		Entry:      le.Uint32(src[4:]),
		RAMAddress: le.Uint32(src[8:]),
		Size:       le.Uint32(src[12:]),
	}
}

// looksLikeROM reports whether head is a ROM header with a valid CRC or sane tables.
func looksLikeROM(head []byte, size int64) bool {
	if len(head) < romHeaderSize {
		return false
	}

	if crc16(head[:romCRCOffset]) == binary.LittleEndian.Uint16(head[romCRCOffset:]) {
		return true
	}

	le := binary.LittleEndian
	headerSize := le.Uint32(head[0x84:])
	if headerSize != 0x4000 && headerSize != romHeaderSize {
		return false
	}

	fntOff, fntSize := le.Uint32(head[0x40:]), le.Uint32(head[0x44:])
	fatOff, fatSize := le.Uint32(head[0x48:]), le.Uint32(head[0x4C:])

	return fntOff >= romHeaderSize && fatOff >= romHeaderSize && fatSize%fatRecordSize == 0 &&
		regionFits(fntOff, fntSize, size) && regionFits(fatOff, fatSize, size)
}

// regionFits reports whether [off, off+size) lies within total.
func regionFits(off uint32, size uint32, total int64) bool {
	return int64(off)+int64(size) <= total
}

// trimASCII strips NUL and space padding from a fixed header string.
func trimASCII(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}

// Format returns FormatROM.
func (d *ROM) Format() Format { return FormatROM }

// BaseOffset returns 0: ROM FAT values are absolute.
func (d *ROM) BaseOffset() int64 { return 0 }

// Alignment returns the ROM file alignment.
func (d *ROM) Alignment() int64 { return romAlignment }

// Filler returns the ROM padding byte.
func (d *ROM) Filler() byte { return romFiller }

// FAT returns the ROM FAT layout.
func (d *ROM) FAT() FATLayout {
	return FATLayout{
		Offset:   int64(d.Header.FATOffset),
		Count:    int(d.Header.FATSize / fatRecordSize),
		Encoding: FATStartEnd,
	}
}

func (d *ROM) nameRegion() (int64, int64) {
	return int64(d.Header.FNTOffset), int64(d.Header.FNTSize)
}

func (d *ROM) buildTree(ra io.ReaderAt, records []FatRecord) (*tree, error) {
	return readTree(ra, int64(d.Header.FNTOffset), int64(d.Header.FNTSize), records)
}

// Finalize shifts header offsets, grows the used size and device capacity, and recomputes the header CRC.
func (d *ROM) Finalize(w io.WriterAt, rel Relocation) (Driver, error) {
	next := *d
	h := &next.Header

	var err error
	for _, field := range []*uint32{
		&h.ARM9.Offset, &h.ARM7.Offset,
		&h.FNTOffset, &h.FATOffset,
		&h.ARM9OverlayOffset, &h.ARM7OverlayOffset,
		&h.BannerOffset,
	} {
		if *field == 0 {
			continue
		}

		if *field, err = rel.shift32(*field); err != nil {
			return nil, fmt.Errorf("shift ROM header offset: %w", err)
		}
	}

	if h.UsedSize, err = rel.add32(h.UsedSize); err != nil {
		return nil, fmt.Errorf("ROM used size: %w", err)
	}

	h.DeviceCapacity = max(h.DeviceCapacity, deviceCapacity(int64(h.UsedSize)))
	next.encodeHeader()

	if _, err := w.WriteAt(next.raw[:], 0); err != nil {
		return nil, fmt.Errorf("write ROM header: %w", err)
	}

	return &next, nil
}

// encodeHeader stores patched fields into raw and recomputes the header CRC.
func (d *ROM) encodeHeader() {
	le := binary.LittleEndian
	h := &d.Header

	d.raw[romCapacityOffset] = h.DeviceCapacity
	le.PutUint32(d.raw[0x20:], h.ARM9.Offset)
	le.PutUint32(d.raw[0x30:], h.ARM7.Offset)
	le.PutUint32(d.raw[0x40:], h.FNTOffset)
	le.PutUint32(d.raw[0x48:], h.FATOffset)
	le.PutUint32(d.raw[0x50:], h.ARM9OverlayOffset)
	le.PutUint32(d.raw[0x58:], h.ARM7OverlayOffset)
	le.PutUint32(d.raw[0x68:], h.BannerOffset)
	le.PutUint32(d.raw[0x80:], h.UsedSize)

	h.HeaderCRC = crc16(d.raw[:romCRCOffset])
	le.PutUint16(d.raw[romCRCOffset:], h.HeaderCRC)
}

// deviceCapacity returns the smallest capacity code n with 0x20000<<n >= size.
func deviceCapacity(size int64) uint8 {
	var n uint8
	for n < romMaxCapacity && int64(romCapacityBase)<<n < size {
		n++
	}

	return n
}

// BannerTitle decodes the UTF-16 banner title for lang.
func (d *ROM) BannerTitle(ra io.ReaderAt, lang BannerLanguage) (string, error) {
	if d.Header.BannerOffset == 0 {
		return "", fmt.Errorf("%w: ROM has no banner", ErrInvalidHeader)
	}

	if lang > BannerSpanish {
		return "", fmt.Errorf("%w: banner language %d", ErrInvalidHeader, lang)
	}

	buf := make([]byte, bannerTitleSize)
	off := int64(d.Header.BannerOffset) + bannerTitleOffset + int64(lang)*bannerTitleSize
	if _, err := ra.ReadAt(buf, off); err != nil {
		return "", fmt.Errorf("read banner title: %w", err)
	}

	if end := utf16NUL(buf); end >= 0 {
		buf = buf[:end]
	}

	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(buf)
	if err != nil {
		return "", fmt.Errorf("decode banner title: %w", err)
	}

	return string(bytes.TrimSpace(decoded)), nil
}

// utf16NUL returns the byte offset of the first UTF-16 NUL code unit or -1.
func utf16NUL(buf []byte) int {
	for i := 0; i+1 < len(buf); i += 2 {
		if buf[i] == 0 && buf[i+1] == 0 {
			return i
		}
	}

	return -1
}
