// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

func TestInPlaceSaveRotatesBackups(t *testing.T) {
	t.Parallel()

	img := buildUtility(t, threeFileLayout())
	fs := writeFixture(t, "/u.bin", img)
	c := openFixture(t, fs, "/u.bin", OpenOptions{Format: FormatUtility, Backup: BackupOptions{Keep: 3}})

	generations := [][]byte{img}
	for i := range 4 {
		if err := c.Stage("a.bin", filled(byte(0xA0+i), 0x10+i)); err != nil {
			t.Fatalf("Stage #%d: %v", i, err)
		}

		if _, err := c.Save(context.Background()); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}

		generations = append(generations, readStore(t, fs, "/u.bin"))
	}

	// Four saves with Keep=3 leave the three states preceding the last save.
	want := map[string][]byte{
		"/u.bin.bak":   generations[3],
		"/u.bin.bak.1": generations[2],
		"/u.bin.bak.2": generations[1],
	}
	for path, data := range want {
		if !bytes.Equal(readStore(t, fs, path), data) {
			t.Fatalf("%s holds the wrong generation", path)
		}
	}

	if ok, _ := afero.Exists(fs, "/u.bin.bak.3"); ok {
		t.Fatal("backup generation beyond Keep must be removed")
	}
}

func TestZstdBackupAndRestore(t *testing.T) {
	t.Parallel()

	img := buildUtility(t, threeFileLayout())
	fs := writeFixture(t, "/u.bin", img)
	c := openFixture(t, fs, "/u.bin", OpenOptions{
		Format: FormatUtility,
		Backup: BackupOptions{Keep: 1, Compress: true},
	})

	if err := c.Stage("b.bin", []byte("replaced")); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if _, err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	compressed := readStore(t, fs, "/u.bin.bak.zst")
	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer dec.Close()

	plain, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if !bytes.Equal(plain, img) {
		t.Fatal("zstd backup does not hold the pre-save container")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	used, err := RestoreBackup(fs, "/u.bin")
	if err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}

	if used != "/u.bin.bak.zst" {
		t.Fatalf("RestoreBackup used %s, want /u.bin.bak.zst", used)
	}

	if !bytes.Equal(readStore(t, fs, "/u.bin"), img) {
		t.Fatal("restored container differs from original")
	}
}

func TestRestoreBackupWithoutBackup(t *testing.T) {
	t.Parallel()

	fs := writeFixture(t, "/u.bin", []byte("data"))
	if _, err := RestoreBackup(fs, "/u.bin"); !errors.Is(err, ErrNoBackup) {
		t.Fatalf("RestoreBackup err=%v, want ErrNoBackup", err)
	}
}

func TestSaveAsWritesNoBackup(t *testing.T) {
	t.Parallel()

	fs := writeFixture(t, "/u.bin", buildUtility(t, threeFileLayout()))
	c := openFixture(t, fs, "/u.bin", OpenOptions{Format: FormatUtility, Backup: BackupOptions{Keep: 2}})

	if _, err := c.SaveAs(context.Background(), "/other.bin"); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}

	for _, p := range []string{"/u.bin.bak", "/other.bin.bak"} {
		if ok, _ := afero.Exists(fs, p); ok {
			t.Fatalf("unexpected backup %s", p)
		}
	}
}
