// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/woozymasta/pathrules"
)

// fixtureFile is one file placed into a test container.
type fixtureFile struct {
	path string
	data []byte
	// offset is the absolute start; zero places the file after the previous one.
	offset int64
}

// filled returns n bytes of value b.
func filled(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// fixtureNameTable builds a name table and returns file data in id order.
func fixtureNameTable(t testing.TB, files []fixtureFile) ([]byte, []fixtureFile) {
	t.Helper()

	inputs := make([]Input, len(files))
	for i, f := range files {
		inputs[i] = Input{Path: f.path}
	}

	plan, err := planPack(inputs, false)
	if err != nil {
		t.Fatalf("planPack: %v", err)
	}

	fnt, err := plan.nameTable(false)
	if err != nil {
		t.Fatalf("nameTable: %v", err)
	}

	byPath := make(map[string]fixtureFile, len(files))
	for _, f := range files {
		byPath[NormalizePath(f.path)] = f
	}

	ordered := make([]fixtureFile, len(plan.files))
	for _, pf := range plan.files {
		ordered[pf.id] = byPath[pf.path]
	}

	return fnt, ordered
}

// layoutFiles places files from dataStart with alignment and writes them into img.
func layoutFiles(img []byte, files []fixtureFile, dataStart int64, align int64, filler byte) ([]byte, []FatRecord) {
	records := make([]FatRecord, len(files))
	pos := dataStart
	for i, f := range files {
		start := alignUp(pos, align)
		if f.offset != 0 {
			start = f.offset
		}

		end := start + int64(len(f.data))
		for int64(len(img)) < end {
			img = append(img, filler)
		}

		copy(img[start:], f.data)
		records[i] = FatRecord{Start: uint32(start), End: uint32(end)}
		pos = end
	}

	return img, records
}

// putRecords encodes start/end records at off.
func putRecords(img []byte, off int, records []FatRecord) {
	for i, rec := range records {
		FATStartEnd.encode(img[off+i*fatRecordSize:], rec)
	}
}

// buildUtility builds a utility blob: header, name table at 0x10, FAT, then files.
func buildUtility(t testing.TB, files []fixtureFile) []byte {
	t.Helper()

	fnt, ordered := fixtureNameTable(t, files)
	fntOff := utilityHeaderSize
	fatOff := int(alignUp(int64(fntOff+len(fnt)), 4))
	fatSize := len(ordered) * fatRecordSize

	img := filled(utilityFiller, fatOff+fatSize)
	copy(img[fntOff:], fnt)

	img, records := layoutFiles(img, ordered, alignUp(int64(fatOff+fatSize), utilityAlignment), utilityAlignment, utilityFiller)
	putRecords(img, fatOff, records)

	le := binary.LittleEndian
	le.PutUint32(img[0:], uint32(fntOff))
	le.PutUint32(img[4:], uint32(len(fnt)))
	le.PutUint32(img[8:], uint32(fatOff))
	le.PutUint32(img[12:], uint32(fatSize))

	return img
}

// buildROM builds a ROM image with the name table at 0x200, files from 0x400
// and a banner carrying englishTitle after the last file.
func buildROM(t testing.TB, files []fixtureFile, englishTitle string) []byte {
	t.Helper()

	fnt, ordered := fixtureNameTable(t, files)
	fntOff := romHeaderSize
	fatOff := int(alignUp(int64(fntOff+len(fnt)), 4))
	fatSize := len(ordered) * fatRecordSize

	img := filled(romFiller, fatOff+fatSize)
	clear(img[:romHeaderSize])
	copy(img[fntOff:], fnt)

	img, records := layoutFiles(img, ordered, alignUp(int64(fatOff+fatSize), romAlignment), romAlignment, romFiller)
	putRecords(img, fatOff, records)

	bannerOff := int(alignUp(int64(len(img)), romAlignment))
	banner := make([]byte, 0x840)
	binary.LittleEndian.PutUint16(banner, 1)
	for i, r := range englishTitle {
		binary.LittleEndian.PutUint16(banner[bannerTitleOffset+int(BannerEnglish)*bannerTitleSize+i*2:], uint16(r))
	}
	for len(img) < bannerOff {
		img = append(img, romFiller)
	}
	img = append(img, banner...)

	le := binary.LittleEndian
	copy(img[0x00:], "NITROFSTEST")
	copy(img[0x0C:], "NTRJ")
	copy(img[0x10:], "01")
	le.PutUint32(img[0x40:], uint32(fntOff))
	le.PutUint32(img[0x44:], uint32(len(fnt)))
	le.PutUint32(img[0x48:], uint32(fatOff))
	le.PutUint32(img[0x4C:], uint32(fatSize))
	le.PutUint32(img[0x68:], uint32(bannerOff))
	le.PutUint32(img[0x80:], uint32(len(img)))
	le.PutUint32(img[0x84:], 0x4000)
	le.PutUint16(img[romCRCOffset:], crc16(img[:romCRCOffset]))

	return img
}

// Fixed SDAT fixture geometry.
const (
	sdatFixtureSYMB = 0x40
	sdatFixtureINFO = 0x88
	sdatFixtureFAT  = 0xE0
	sdatFixtureFILE = 0x120
)

// buildSDAT builds a sound archive with two named sequences and one unnamed wave archive.
// Files: SEQ/BGM_TITLE (0x140, 0x30), SEQ/SE_JUMP (0x180, 0x10), WAVEARC/WAVEARC_0000 (0x1A0, 0x28).
func buildSDAT(t testing.TB) []byte {
	t.Helper()

	le := binary.LittleEndian
	img := make([]byte, 0x1C8)

	copy(img, sdatMagic)
	le.PutUint16(img[4:], 0xFEFF)
	le.PutUint16(img[6:], 0x0100)
	le.PutUint32(img[8:], uint32(len(img)))
	le.PutUint16(img[0x0C:], sdatHeaderSize)
	le.PutUint16(img[0x0E:], 4)

	blocks := []SDATBlock{
		{Offset: sdatFixtureSYMB, Size: 0x48},
		{Offset: sdatFixtureINFO, Size: 0x58},
		{Offset: sdatFixtureFAT, Size: 0x3C},
		{Offset: sdatFixtureFILE, Size: 0xA8},
	}
	for i, b := range blocks {
		le.PutUint32(img[0x10+i*8:], b.Offset)
		le.PutUint32(img[0x14+i*8:], b.Size)
	}

	symb := img[sdatFixtureSYMB:]
	copy(symb, sdatSYMBMagic)
	le.PutUint32(symb[4:], 0x48)
	le.PutUint32(symb[8:], 40)
	le.PutUint32(symb[40:], 2)
	le.PutUint32(symb[44:], 52)
	le.PutUint32(symb[48:], 62)
	copy(symb[52:], "BGM_TITLE\x00")
	copy(symb[62:], "SE_JUMP\x00")

	info := img[sdatFixtureINFO:]
	copy(info, sdatINFOMagic)
	le.PutUint32(info[4:], 0x58)
	le.PutUint32(info[8:], 40)
	le.PutUint32(info[8+3*4:], 76)
	le.PutUint32(info[40:], 2)
	le.PutUint32(info[44:], 52)
	le.PutUint32(info[48:], 64)
	le.PutUint16(info[52:], 0)
	le.PutUint16(info[64:], 1)
	le.PutUint32(info[76:], 1)
	le.PutUint32(info[80:], 84)
	le.PutUint16(info[84:], 2)

	fat := img[sdatFixtureFAT:]
	copy(fat, sdatFATMagic)
	le.PutUint32(fat[4:], 0x3C)
	le.PutUint32(fat[8:], 3)
	for i, rec := range []FatRecord{{0x140, 0x170}, {0x180, 0x190}, {0x1A0, 0x1C8}} {
		FATOffsetSize.encode(fat[sdatFATHeader+i*sdatRecordSize:], rec)
		copy(img[rec.Start:rec.End], filled(byte(0x11*(i+1)), int(rec.Size())))
	}

	file := img[sdatFixtureFILE:]
	copy(file, sdatFILEMagic)
	le.PutUint32(file[4:], 0xA8)
	le.PutUint32(file[8:], 3)

	return img
}

// buildNARC packs files into a NARC image.
func buildNARC(t testing.TB, files []fixtureFile, opts PackOptions) []byte {
	t.Helper()

	fs := afero.NewMemMapFs()
	f, err := fs.Create("/build.narc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := PackNARC(context.Background(), f, fixtureInputs(files), opts); err != nil {
		t.Fatalf("PackNARC: %v", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}

	img, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	return img
}

// fixtureInputs turns fixture files into pack inputs.
func fixtureInputs(files []fixtureFile) []Input {
	inputs := make([]Input, len(files))
	for i, f := range files {
		data := f.data
		inputs[i] = Input{
			Path: f.path,
			Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
		}
	}

	return inputs
}

// writeFixture stores img at path on a fresh in-memory store.
func writeFixture(t testing.TB, path string, img []byte) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, path, img, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	return fs
}

// openFixture opens path with a fixed scratch location.
func openFixture(t testing.TB, fs afero.Fs, path string, opts OpenOptions) *Container {
	t.Helper()

	if opts.ScratchRoot == "" {
		opts.ScratchRoot = "/scratch"
	}

	c, err := Open(fs, path, opts)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c
}

// readStore reads a whole store file.
func readStore(t testing.TB, fs afero.Fs, path string) []byte {
	t.Helper()

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	return data
}

// includeRules builds include rules for patterns.
func includeRules(patterns ...string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}

	return rules
}

// threeFileLayout is a utility layout with files at 0x100, 0x200 and 0x300.
func threeFileLayout() []fixtureFile {
	return []fixtureFile{
		{path: "a.bin", data: filled(0x01, 0x50), offset: 0x100},
		{path: "b.bin", data: filled(0x02, 0x80), offset: 0x200},
		{path: "c.bin", data: filled(0x03, 0x40), offset: 0x300},
	}
}
