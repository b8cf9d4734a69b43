// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/woozymasta/nitrofs/lz"
)

func TestSaveUnknownStagedPathWritesNothing(t *testing.T) {
	t.Parallel()

	img := buildUtility(t, threeFileLayout())
	fs := writeFixture(t, "/u.bin", img)
	c := openFixture(t, fs, "/u.bin", OpenOptions{Format: FormatUtility})

	if err := c.Stage("a.bin", []byte("new")); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	// A file dropped into the scratch area by hand that names no container file.
	ghost := filepath.Join(c.ScratchDir(), "ghost.bin")
	if err := afero.WriteFile(fs, ghost, []byte("boo"), 0o644); err != nil {
		t.Fatalf("write ghost: %v", err)
	}

	if _, err := c.SaveAs(context.Background(), "/out.bin"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("SaveAs err=%v, want ErrFileNotFound", err)
	}

	if ok, _ := afero.Exists(fs, "/out.bin"); ok {
		t.Fatal("failed save must not create output")
	}

	if !bytes.Equal(readStore(t, fs, "/u.bin"), img) {
		t.Fatal("failed save changed the source")
	}

	staged, err := c.Staged()
	if err != nil {
		t.Fatalf("Staged: %v", err)
	}
	if len(staged) != 2 {
		t.Fatalf("staged=%d, want 2 kept after resolution failure", len(staged))
	}

	if c.Path() != "/u.bin" {
		t.Fatalf("Path()=%s, want /u.bin", c.Path())
	}
}

func TestSaveAsKeepsSourceAndRepoints(t *testing.T) {
	t.Parallel()

	img := buildUtility(t, threeFileLayout())
	fs := writeFixture(t, "/u.bin", img)
	c := openFixture(t, fs, "/u.bin", OpenOptions{Format: FormatUtility})

	if err := c.Stage("c.bin", []byte("tail")); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	res, err := c.SaveAs(context.Background(), "/out/u2.bin")
	if err != nil {
		t.Fatalf("SaveAs: %v", err)
	}

	if !bytes.Equal(readStore(t, fs, "/u.bin"), img) {
		t.Fatal("SaveAs must leave the source untouched")
	}

	if c.Path() != "/out/u2.bin" || c.Size() != res.NewSize {
		t.Fatalf("Path()=%s Size()=%d, want /out/u2.bin %d", c.Path(), c.Size(), res.NewSize)
	}

	reopened := openFixture(t, fs, "/out/u2.bin", OpenOptions{})
	got, err := reopened.ReadFile("c.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "tail" {
		t.Fatalf("c.bin=%q, want tail", got)
	}
}

func TestSaveCompressedContainerKeepsVariant(t *testing.T) {
	t.Parallel()

	plain := buildUtility(t, threeFileLayout())
	packed, err := lz.Encode(plain, lz.LZ10)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	fs := writeFixture(t, "/u.lz", packed)
	c := openFixture(t, fs, "/u.lz", OpenOptions{Format: FormatUtility, Compression: CompressionAuto})

	if c.Compression() != CompressionLZ10 || c.Size() != int64(len(plain)) {
		t.Fatalf("Compression()=%s Size()=%d", c.Compression(), c.Size())
	}

	if err := c.Stage("b.bin", filled(0x44, 0x100)); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if _, err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stored := readStore(t, fs, "/u.lz")
	if v, ok := lz.Detect(stored); !ok || v != lz.LZ10 {
		t.Fatalf("stored variant=%v ok=%v, want lz10", v, ok)
	}

	decoded, err := lz.Decode(stored)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != 0x3C0 {
		t.Fatalf("decoded size=0x%x, want 0x3C0", len(decoded))
	}

	if ok, _ := afero.Exists(fs, c.rewriteTempPath()); ok {
		t.Fatal("temporary file must be removed after in-place save")
	}
}

func TestClosedContainerRejectsOperations(t *testing.T) {
	t.Parallel()

	fs := writeFixture(t, "/u.bin", buildUtility(t, threeFileLayout()))
	c := openFixture(t, fs, "/u.bin", OpenOptions{Format: FormatUtility})

	if err := c.Stage("a.bin", []byte("x")); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if ok, _ := afero.DirExists(fs, c.ScratchDir()); ok {
		t.Fatal("Close must remove the scratch area")
	}

	if _, err := c.Save(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Save err=%v, want ErrClosed", err)
	}

	if _, err := c.ReadFile("a.bin"); !errors.Is(err, ErrClosed) {
		t.Fatalf("ReadFile err=%v, want ErrClosed", err)
	}
}

func TestOpenRejectsBrokenContainers(t *testing.T) {
	t.Parallel()

	good := buildUtility(t, threeFileLayout())
	overlap := bytes.Clone(good)
	fatOff := int(binary.LittleEndian.Uint32(good[8:]))
	FATStartEnd.encode(overlap[fatOff+fatRecordSize:], FatRecord{Start: 0x140, End: 0x280})

	testCases := []struct {
		name string
		img  []byte
		opts OpenOptions
		want error
	}{
		{name: "unknown", img: []byte("garbage!"), want: ErrUnknownFormat},
		{name: "overlap", img: overlap, opts: OpenOptions{Format: FormatUtility}, want: ErrInvalidFAT},
		{name: "bad narc", img: []byte("NARC\xfe\xff\x00\x01"), opts: OpenOptions{Format: FormatNARC}, want: ErrInvalidHeader},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fs := writeFixture(t, "/c.bin", tc.img)
			_, err := Open(fs, "/c.bin", tc.opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Open err=%v, want %v", err, tc.want)
			}
		})
	}
}

// failOpenFs fails read-only opens of one path.
type failOpenFs struct {
	afero.Fs
	path string
}

func (f failOpenFs) Open(name string) (afero.File, error) {
	if name == f.path {
		return nil, os.ErrPermission
	}

	return f.Fs.Open(name)
}

func TestSaveAsDigestFailureKeepsResult(t *testing.T) {
	t.Parallel()

	img := buildUtility(t, threeFileLayout())
	fs := failOpenFs{Fs: writeFixture(t, "/u.bin", img), path: "/out.bin"}
	c := openFixture(t, fs, "/u.bin", OpenOptions{Format: FormatUtility})

	if err := c.Stage("c.bin", filled(0x0C, 0x10)); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	res, err := c.SaveAs(context.Background(), "/out.bin")
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("SaveAs err=%v, want os.ErrPermission", err)
	}

	if res == nil || res.Edits != 1 || res.Digest != "" {
		t.Fatalf("result=%+v, want committed result without digest", res)
	}

	if c.Path() != "/out.bin" {
		t.Fatalf("Path()=%s, want /out.bin", c.Path())
	}

	got, err := c.ReadFile("c.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, filled(0x0C, 0x10)) {
		t.Fatal("container view not updated after save")
	}
}
