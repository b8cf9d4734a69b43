// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/woozymasta/nitrofs/lz"
)

func TestPackNARCRoundTrip(t *testing.T) {
	t.Parallel()

	files := []fixtureFile{
		{path: "root.bin", data: []byte("root")},
		{path: "data/msg/en.bin", data: []byte("hello")},
		{path: "data/msg/ja.bin", data: []byte("konnichiwa")},
		{path: "data/icon.bin", data: filled(0x42, 33)},
		{path: `gfx\tiles.bin`, data: filled(0x07, 64)},
	}
	img := buildNARC(t, files, PackOptions{})

	le := binary.LittleEndian
	if string(img[:4]) != narcMagic || le.Uint16(img[4:]) != narcBOM {
		t.Fatalf("bad NARC magic %q", img[:6])
	}

	if got := le.Uint32(img[8:]); int(got) != len(img) {
		t.Fatalf("header size=%d, want %d", got, len(img))
	}

	fs := writeFixture(t, "/a.narc", img)
	c := openFixture(t, fs, "/a.narc", OpenOptions{})

	narc := c.Driver().(*NARC)
	if int64(narc.Header.GMIFOffset)+int64(narc.Header.GMIFSize) != int64(len(img)) {
		t.Fatalf("GMIF ends at 0x%x, want 0x%x", narc.Header.GMIFOffset+narc.Header.GMIFSize, len(img))
	}

	got, err := c.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	wantOrder := []string{"root.bin", "data/icon.bin", "data/msg/en.bin", "data/msg/ja.bin", "gfx/tiles.bin"}
	if len(got) != len(wantOrder) {
		t.Fatalf("len(files)=%d, want %d", len(got), len(wantOrder))
	}

	byPath := make(map[string][]byte, len(files))
	for _, f := range files {
		byPath[NormalizePath(f.path)] = f.data
	}

	for i, f := range got {
		if f.Path != wantOrder[i] || int(f.ID) != i {
			t.Fatalf("files[%d]=%s/%d, want %s/%d", i, f.Path, f.ID, wantOrder[i], i)
		}

		if f.Offset%narcAlignment != 0 {
			t.Fatalf("%s offset 0x%x not aligned", f.Path, f.Offset)
		}

		data, err := c.ReadFile(f.Path)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", f.Path, err)
		}

		if !bytes.Equal(data, byPath[f.Path]) {
			t.Fatalf("%s payload mismatch", f.Path)
		}
	}
}

func TestPackNARCCompressRules(t *testing.T) {
	t.Parallel()

	text := bytes.Repeat([]byte("abcabcabc "), 40)

	var (
		mu   sync.Mutex
		done = map[string]bool{}
	)

	fs := afero.NewMemMapFs()
	out, err := fs.Create("/c.narc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := PackNARC(context.Background(), out, fixtureInputs([]fixtureFile{
		{path: "script.txt", data: text},
		{path: "image.bin", data: text},
	}), PackOptions{
		Compress:    includeRules("*.txt"),
		Compression: CompressionLZ11,
		OnFileDone: func(file FileInfo, compressed bool) {
			mu.Lock()
			done[file.Path] = compressed
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("PackNARC: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if res.WrittenFiles != 2 || res.CompressedFiles != 1 || res.Directories != 1 {
		t.Fatalf("result=%+v", res)
	}

	if !done["script.txt"] || done["image.bin"] {
		t.Fatalf("OnFileDone flags=%v", done)
	}

	c := openFixture(t, fs, "/c.narc", OpenOptions{})

	stored, err := c.ReadFile("script.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if v, ok := lz.Detect(stored); !ok || v != lz.LZ11 {
		t.Fatalf("stored variant=%v ok=%v, want lz11", v, ok)
	}

	decoded, err := lz.Decode(stored)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded, text) {
		t.Fatal("decoded payload mismatch")
	}

	plain, err := c.ReadFile("image.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(plain, text) {
		t.Fatal("uncompressed payload mismatch")
	}
}

func TestPackNARCRejectsBadInputs(t *testing.T) {
	t.Parallel()

	one := fixtureInputs([]fixtureFile{{path: "a.bin", data: []byte("a")}})

	testCases := []struct {
		name   string
		inputs []Input
		opts   PackOptions
		want   error
	}{
		{name: "empty", want: ErrEmptyInputs},
		{
			name:   "duplicate",
			inputs: fixtureInputs([]fixtureFile{{path: "x/a.bin"}, {path: `x\a.bin`}}),
			want:   ErrDuplicatePath,
		},
		{
			name:   "file and dir",
			inputs: fixtureInputs([]fixtureFile{{path: "x"}, {path: "x/a.bin"}}),
			want:   ErrDuplicatePath,
		},
		{
			name:   "traversal",
			inputs: fixtureInputs([]fixtureFile{{path: "../a.bin"}}),
			want:   ErrInvalidPath,
		},
		{name: "compression", inputs: one, opts: PackOptions{Compression: "zip"}, want: ErrUnknownCompression},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf seekBuffer
			if _, err := PackNARC(context.Background(), &buf, tc.inputs, tc.opts); !errors.Is(err, tc.want) {
				t.Fatalf("PackNARC err=%v, want %v", err, tc.want)
			}
		})
	}

	if _, err := PackNARC(context.Background(), nil, one, PackOptions{}); !errors.Is(err, ErrNilWriter) {
		t.Fatalf("PackNARC(nil) err=%v, want ErrNilWriter", err)
	}
}

func TestPackNARCNameTableLayout(t *testing.T) {
	t.Parallel()

	plan, err := planPack(fixtureInputs([]fixtureFile{
		{path: "b/x.bin"},
		{path: "a/y.bin"},
		{path: "a/c/z.bin"},
		{path: "top.bin"},
	}), false)
	if err != nil {
		t.Fatalf("planPack: %v", err)
	}

	wantDirs := []struct {
		name   string
		id     uint16
		parent uint16
		first  uint16
	}{
		{name: "", id: 0xF000, first: 0},
		{name: "a", id: 0xF001, parent: 0xF000, first: 1},
		{name: "c", id: 0xF002, parent: 0xF001, first: 2},
		{name: "b", id: 0xF003, parent: 0xF000, first: 3},
	}

	if len(plan.dirs) != len(wantDirs) {
		t.Fatalf("dirs=%d, want %d", len(plan.dirs), len(wantDirs))
	}

	for i, w := range wantDirs {
		d := plan.dirs[i]
		if d.name != w.name || d.id != w.id || (i > 0 && d.parent != w.parent) || d.first != w.first {
			t.Fatalf("dir[%d]={%s 0x%x 0x%x %d}, want %+v", i, d.name, d.id, d.parent, d.first, w)
		}
	}

	fnt, err := plan.nameTable(false)
	if err != nil {
		t.Fatalf("nameTable: %v", err)
	}

	if len(fnt)%narcAlignment != 0 {
		t.Fatalf("name table size %d not aligned", len(fnt))
	}

	if got := binary.LittleEndian.Uint16(fnt[6:]); got != 4 {
		t.Fatalf("root entry dir count=%d, want 4", got)
	}
}

func TestNARCEditKeepsAlignmentAndSections(t *testing.T) {
	t.Parallel()

	img := buildNARC(t, []fixtureFile{
		{path: "a.bin", data: []byte("aaaaa")},
		{path: "b.bin", data: []byte("bbbbbbbb")},
	}, PackOptions{})
	fs := writeFixture(t, "/a.narc", img)
	c := openFixture(t, fs, "/a.narc", OpenOptions{})

	before := c.Driver().(*NARC).Header

	if err := c.Stage("a.bin", []byte("0123456789")); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	res, err := c.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	// 5 + 3 filler becomes 10 + 2 filler.
	if res.Delta != 4 {
		t.Fatalf("delta=%d, want 4", res.Delta)
	}

	after := c.Driver().(*NARC).Header
	if after.FileSize != before.FileSize+4 || after.GMIFSize != before.GMIFSize+4 {
		t.Fatalf("header=%+v, want sizes grown by 4 from %+v", after, before)
	}

	out := readStore(t, fs, "/a.narc")
	base := int(after.GMIFOffset) + narcSectionHeader
	if !bytes.Equal(out[base+10:base+12], []byte{narcFiller, narcFiller}) {
		t.Fatalf("padding=%x, want ffff", out[base+10:base+12])
	}

	info, err := c.Lookup("b.bin")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.Offset != 12 {
		t.Fatalf("b.bin offset=%d, want 12", info.Offset)
	}

	data, err := c.ReadFile("b.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "bbbbbbbb" {
		t.Fatalf("b.bin=%q", data)
	}
}

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	data []byte
	pos  int64
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		b.data = append(b.data, make([]byte, end-int64(len(b.data)))...)
	}

	copy(b.data[b.pos:], p)
	b.pos = end

	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += b.pos
	case io.SeekEnd:
		offset += int64(len(b.data))
	default:
		return 0, errors.New("bad whence")
	}

	if offset < 0 {
		return 0, errors.New("negative position")
	}

	b.pos = offset
	return offset, nil
}
