// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/woozymasta/nitrofs/lz"
)

func TestCursorPassthroughReadWrite(t *testing.T) {
	t.Parallel()

	fs := writeFixture(t, "/plain.bin", []byte("hello world"))

	c, err := OpenCursor(fs, "/plain.bin", CursorReadWrite, CompressionNone)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}

	if _, err := c.WriteAt([]byte("HELLO"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := c.ReadAt(buf, 6); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "world" {
		t.Fatalf("ReadAt=%q, want world", buf)
	}

	if c.Compression() != CompressionNone {
		t.Fatalf("Compression()=%s, want none", c.Compression())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := readStore(t, fs, "/plain.bin"); string(got) != "HELLO world" {
		t.Fatalf("stored=%q, want %q", got, "HELLO world")
	}
}

func TestCursorCompressedAutoDetectAndReencode(t *testing.T) {
	t.Parallel()

	plain := bytes.Repeat([]byte("nitro-"), 300)
	packed, err := lz.Encode(plain, lz.LZ11)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fs := writeFixture(t, "/packed.bin", packed)

	c, err := OpenCursor(fs, "/packed.bin", CursorReadWrite, CompressionAuto)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}

	if c.Compression() != CompressionLZ11 {
		t.Fatalf("Compression()=%s, want lz11", c.Compression())
	}

	size, err := c.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != int64(len(plain)) {
		t.Fatalf("Size()=%d, want %d", size, len(plain))
	}

	// Writing past the end grows the buffer and zero-fills the hole.
	if _, err := c.WriteAt([]byte("tail"), size+8); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stored := readStore(t, fs, "/packed.bin")
	if v, ok := lz.Detect(stored); !ok || v != lz.LZ11 {
		t.Fatalf("stored variant=%v ok=%v, want lz11", v, ok)
	}

	decoded, err := lz.Decode(stored)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := append(append(append([]byte{}, plain...), make([]byte, 8)...), "tail"...)
	if !bytes.Equal(decoded, want) {
		t.Fatalf("decoded len=%d, want %d", len(decoded), len(want))
	}
}

func TestCursorAutoFallsBackToPassthrough(t *testing.T) {
	t.Parallel()

	fs := writeFixture(t, "/raw.bin", []byte{0x42, 0x00, 0x00, 0x00})

	c, err := OpenCursor(fs, "/raw.bin", CursorRead, CompressionAuto)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer func() { _ = c.Close() }()

	if c.Compression() != CompressionNone {
		t.Fatalf("Compression()=%s, want none", c.Compression())
	}

	data, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(data) != 4 {
		t.Fatalf("len(data)=%d, want 4", len(data))
	}
}

func TestCursorModeChecks(t *testing.T) {
	t.Parallel()

	fs := writeFixture(t, "/x.bin", []byte("abc"))

	r, err := OpenCursor(fs, "/x.bin", CursorRead, CompressionNone)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer func() { _ = r.Close() }()

	if _, err := r.Write([]byte("z")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Write on read cursor err=%v, want ErrReadOnly", err)
	}

	if _, err := OpenCursor(fs, "/y.bin", CursorWrite, CompressionAuto); !errors.Is(err, ErrUnknownCompression) {
		t.Fatalf("write cursor with auto err=%v, want ErrUnknownCompression", err)
	}
}

func TestCursorCopyFromAndDiscard(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	w, err := OpenCursor(fs, "/out.bin", CursorWrite, CompressionLZ10)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}

	if err := w.CopyFrom(bytes.NewReader(bytes.Repeat([]byte{7}, 100)), 64); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}

	if _, err := w.Seek(-1, io.SeekStart); !errors.Is(err, ErrNegativeOffset) {
		t.Fatalf("negative seek err=%v, want ErrNegativeOffset", err)
	}

	size, err := w.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 64 {
		t.Fatalf("Size()=%d, want 64", size)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	decoded, err := lz.Decode(readStore(t, fs, "/out.bin"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded, bytes.Repeat([]byte{7}, 64)) {
		t.Fatalf("decoded=%v", decoded)
	}

	d, err := OpenCursor(fs, "/out.bin", CursorReadWrite, CompressionLZ10)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	if _, err := d.WriteAt([]byte{1, 2, 3}, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := d.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	again, err := lz.Decode(readStore(t, fs, "/out.bin"))
	if err != nil {
		t.Fatalf("Decode after discard: %v", err)
	}
	if !bytes.Equal(again, decoded) {
		t.Fatal("Discard must not flush buffered writes")
	}
}

func TestCursorRejectsVariantMismatch(t *testing.T) {
	t.Parallel()

	packed, err := lz.Encode(bytes.Repeat([]byte("nitro-"), 64), lz.LZ11)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fs := writeFixture(t, "/packed.bin", packed)

	if _, err := OpenCursor(fs, "/packed.bin", CursorRead, CompressionLZ10); !errors.Is(err, ErrUnknownCompression) {
		t.Fatalf("OpenCursor(lz10 over lz11) err=%v, want ErrUnknownCompression", err)
	}

	c, err := OpenCursor(fs, "/packed.bin", CursorRead, CompressionLZ11)
	if err != nil {
		t.Fatalf("OpenCursor(lz11): %v", err)
	}
	_ = c.Close()
}
