// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

// Backup file suffixes.
const (
	backupSuffix     = ".bak"
	backupZstdSuffix = ".zst"
)

// backupPath returns the newest backup generation name for path.
func backupPath(path string, compressed bool) string {
	if compressed {
		return path + backupSuffix + backupZstdSuffix
	}

	return path + backupSuffix
}

// writeBackup rotates existing generations and copies path into a new newest backup.
func writeBackup(fsys afero.Fs, path string, opts BackupOptions) (string, error) {
	if opts.Keep <= 0 {
		return "", nil
	}

	target := backupPath(path, opts.Compress)
	if err := prepareBackupSlot(fsys, target, opts.Keep); err != nil {
		return "", err
	}

	if err := copyStoreFile(fsys, path, target, opts.Compress, false); err != nil {
		_ = removeIfExists(fsys, target)
		return "", fmt.Errorf("write backup: %w", err)
	}

	return target, nil
}

// RestoreBackup overwrites the container at path with its newest backup
// generation (plain or zstd-compressed) and returns the backup used.
func RestoreBackup(fsys afero.Fs, path string) (string, error) {
	if fsys == nil {
		return "", ErrNilReader
	}

	var (
		newest     string
		compressed bool
		newestInfo os.FileInfo
	)

	for _, zst := range []bool{false, true} {
		candidate := backupPath(path, zst)
		fi, err := fsys.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}

		if newestInfo == nil || fi.ModTime().After(newestInfo.ModTime()) {
			newest, compressed, newestInfo = candidate, zst, fi
		}
	}

	if newest == "" {
		return "", fmt.Errorf("%w: %s", ErrNoBackup, path)
	}

	if err := copyStoreFile(fsys, newest, path, false, compressed); err != nil {
		return "", fmt.Errorf("restore %s: %w", path, err)
	}

	return newest, nil
}

// copyStoreFile copies from to to, optionally zstd-encoding or decoding on the way.
func copyStoreFile(fsys afero.Fs, from string, to string, encode bool, decode bool) (err error) {
	src, err := fsys.Open(from)
	if err != nil {
		return fmt.Errorf("open %s: %w", from, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := fsys.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", to, err)
	}
	defer func() {
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", to, closeErr)
		}
	}()

	var r io.Reader = src
	if decode {
		dec, err := zstd.NewReader(src)
		if err != nil {
			return fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var w io.Writer = dst
	var enc *zstd.Encoder
	if encode {
		if enc, err = zstd.NewWriter(dst); err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		w = enc
	}

	arr := copyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	defer copyBufferPool.Put(arr)

	if _, err := io.CopyBuffer(w, r, arr[:]); err != nil {
		if enc != nil {
			_ = enc.Close()
		}
		return fmt.Errorf("copy %s to %s: %w", from, to, err)
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("finish zstd stream: %w", err)
		}
	}

	return nil
}

// prepareBackupSlot rotates/removes existing backup generations before a new backup.
func prepareBackupSlot(fsys afero.Fs, backup string, keep int) error {
	switch {
	case keep <= 1:
		return removeIfExists(fsys, backup)
	default:
		oldest := fmt.Sprintf("%s.%d", backup, keep-1)
		if err := removeIfExists(fsys, oldest); err != nil {
			return err
		}

		for i := keep - 2; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d", backup, i)
			to := fmt.Sprintf("%s.%d", backup, i+1)
			if err := renameIfExists(fsys, from, to); err != nil {
				return err
			}
		}

		return renameIfExists(fsys, backup, backup+".1")
	}
}

// renameIfExists renames source to destination when source exists.
func renameIfExists(fsys afero.Fs, from string, to string) error {
	_, err := fsys.Stat(from)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}

	if err := removeIfExists(fsys, to); err != nil {
		return err
	}

	if err := fsys.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	return nil
}
