// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
)

func TestSDATTreeFromInfoAndSymbols(t *testing.T) {
	t.Parallel()

	fs := writeFixture(t, "/sound.sdat", buildSDAT(t))
	c := openFixture(t, fs, "/sound.sdat", OpenOptions{})

	if c.Driver().Format() != FormatSDAT {
		t.Fatalf("format=%s, want sdat", c.Driver().Format())
	}

	files, err := c.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	want := []FileInfo{
		{Path: "SEQ/BGM_TITLE", ID: 0, Offset: 0x140, Size: 0x30},
		{Path: "SEQ/SE_JUMP", ID: 1, Offset: 0x180, Size: 0x10},
		{Path: "WAVEARC/WAVEARC_0000", ID: 2, Offset: 0x1A0, Size: 0x28},
	}

	if len(files) != len(want) {
		t.Fatalf("len(files)=%d, want %d", len(files), len(want))
	}

	for i, w := range want {
		got := files[i]
		if got.Path != w.Path || got.ID != w.ID || got.Offset != w.Offset || got.Size != w.Size {
			t.Fatalf("files[%d]=%+v, want %+v", i, got, w)
		}
	}
}

func TestSDATSavePatchesBlocks(t *testing.T) {
	t.Parallel()

	fs := writeFixture(t, "/sound.sdat", buildSDAT(t))
	c := openFixture(t, fs, "/sound.sdat", OpenOptions{Format: FormatSDAT})

	if err := c.Stage("SEQ/SE_JUMP", filled(0x77, 0x40)); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	res, err := c.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if res.Delta != 0x20 || res.NewSize != 0x1E8 {
		t.Fatalf("result=%+v, want delta 0x20 size 0x1E8", res)
	}

	out := readStore(t, fs, "/sound.sdat")
	le := binary.LittleEndian

	if got := le.Uint32(out[8:]); got != 0x1E8 {
		t.Fatalf("header file size=0x%x, want 0x1E8", got)
	}

	if got := le.Uint32(out[0x2C:]); got != 0xC8 {
		t.Fatalf("header FILE size=0x%x, want 0xC8", got)
	}

	if got := le.Uint32(out[sdatFixtureFILE+4:]); got != 0xC8 {
		t.Fatalf("FILE block size=0x%x, want 0xC8", got)
	}

	wave := FATOffsetSize.decode(out[sdatFixtureFAT+sdatFATHeader+2*sdatRecordSize:])
	if wave.Start != 0x1C0 || wave.Size() != 0x28 {
		t.Fatalf("wave record=%+v, want start 0x1C0 size 0x28", wave)
	}

	got, err := c.ReadFile("WAVEARC/WAVEARC_0000")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, filled(0x33, 0x28)) {
		t.Fatal("shifted wave archive payload mismatch")
	}

	if sdat := c.Driver().(*SDAT); sdat.Header.FILE.Size != 0xC8 {
		t.Fatalf("driver FILE size=0x%x, want 0xC8", sdat.Header.FILE.Size)
	}
}
