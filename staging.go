// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// packedScratchSuffix marks scratch files stored LZSS-packed.
const packedScratchSuffix = ".lzss"

// Stage stores data as the replacement for the file at path.
func (c *Container) Stage(path string, data []byte) error {
	return c.StageReader(path, bytes.NewReader(data))
}

// StageReader stores the content of r as the replacement for the file at path.
// The path must resolve to an existing file.
func (c *Container) StageReader(path string, r io.Reader) error {
	if r == nil {
		return ErrNilReader
	}

	info, err := c.stageableLookup(path)
	if err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read replacement for %s: %w", info.Path, err)
	}

	target := c.scratchPath(info.Path)
	if err := c.removeScratch(target); err != nil {
		return err
	}

	if err := c.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	stored, packed := data, false
	if shouldPackScratch(c.opts.Stage, c.stageMatch, info.Path, len(data)) {
		out, err := packScratch(data)
		if err != nil {
			return fmt.Errorf("pack %s: %w", info.Path, err)
		}

		if out != nil {
			stored, packed = out, true
			target += packedScratchSuffix
		}
	}

	if err := afero.WriteFile(c.fs, target, stored, 0o644); err != nil {
		return fmt.Errorf("write scratch %s: %w", target, err)
	}

	c.logger.Debug("staged file",
		"path", info.Path,
		"size", len(data),
		"stored_size", len(stored),
		"packed", packed)

	return nil
}

// stageableLookup resolves path and rejects names that clash with packed scratch files.
func (c *Container) stageableLookup(path string) (FileInfo, error) {
	info, err := c.Lookup(path)
	if err != nil {
		return FileInfo{}, err
	}

	if strings.HasSuffix(info.Path, packedScratchSuffix) {
		return FileInfo{}, fmt.Errorf("%w: %s ends in %s and cannot be staged", ErrInvalidPath, info.Path, packedScratchSuffix)
	}

	return info, nil
}

// Staged lists the edits currently waiting in the scratch area, sorted by path.
// Raw files dropped by external editors are listed alongside packed ones;
// when both forms exist for one path the raw file wins.
func (c *Container) Staged() ([]StagedEdit, error) {
	if c.closed {
		return nil, ErrClosed
	}

	exists, err := afero.DirExists(c.fs, c.scratchDir)
	if err != nil {
		return nil, fmt.Errorf("stat scratch area: %w", err)
	}

	if !exists {
		return nil, nil
	}

	byPath := make(map[string]StagedEdit)
	err = afero.Walk(c.fs, c.scratchDir, func(p string, fi fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if fi.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(c.scratchDir, p)
		if err != nil {
			return err
		}

		edit := StagedEdit{
			Path:        filepath.ToSlash(rel),
			ScratchPath: p,
			StoredSize:  fi.Size(),
		}

		if strings.HasSuffix(edit.Path, packedScratchSuffix) {
			edit.Path = strings.TrimSuffix(edit.Path, packedScratchSuffix)
			edit.Packed = true
		}

		if prev, ok := byPath[edit.Path]; ok && !prev.Packed {
			return nil
		}

		byPath[edit.Path] = edit
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list scratch area: %w", err)
	}

	edits := make([]StagedEdit, 0, len(byPath))
	for _, edit := range byPath {
		edits = append(edits, edit)
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].Path < edits[j].Path })
	return edits, nil
}

// Unstage drops the staged edit for path.
func (c *Container) Unstage(path string) error {
	if c.closed {
		return ErrClosed
	}

	normalized := NormalizePath(path)
	if normalized == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	target := c.scratchPath(normalized)
	raw, err := afero.Exists(c.fs, target)
	if err != nil {
		return err
	}

	packed, err := afero.Exists(c.fs, target+packedScratchSuffix)
	if err != nil {
		return err
	}

	if !raw && !packed {
		return fmt.Errorf("%w: %s is not staged", ErrFileNotFound, normalized)
	}

	return c.removeScratch(target)
}

// DiscardStaged removes every staged edit.
func (c *Container) DiscardStaged() error {
	if c.closed {
		return ErrClosed
	}

	if err := c.fs.RemoveAll(c.scratchDir); err != nil {
		return fmt.Errorf("remove scratch area: %w", err)
	}

	return nil
}

// scratchPath maps a container path into the scratch area.
func (c *Container) scratchPath(path string) string {
	return filepath.Join(c.scratchDir, filepath.FromSlash(path))
}

// removeScratch removes both raw and packed scratch forms of target.
func (c *Container) removeScratch(target string) error {
	for _, p := range []string{target, target + packedScratchSuffix} {
		if err := removeIfExists(c.fs, p); err != nil {
			return err
		}
	}

	return nil
}

// openStaged opens the decoded payload of one staged edit.
func (c *Container) openStaged(edit StagedEdit) (io.ReadCloser, error) {
	f, err := c.fs.Open(edit.ScratchPath)
	if err != nil {
		return nil, fmt.Errorf("open scratch %s: %w", edit.ScratchPath, err)
	}

	if !edit.Packed {
		return f, nil
	}

	return openPackedScratch(edit.Path, f)
}

// OpenNested opens a container embedded in this one. The embedded file is
// staged verbatim (or its existing staged edit reused) and opened in the
// scratch area, so saving the nested container updates this container's
// staged edit; a later Save of this container folds it in.
func (c *Container) OpenNested(path string, opts OpenOptions) (*Container, error) {
	info, err := c.stageableLookup(path)
	if err != nil {
		return nil, err
	}

	target := c.scratchPath(info.Path)
	if err := c.materializeScratch(info, target); err != nil {
		return nil, err
	}

	if opts.ScratchRoot == "" {
		opts.ScratchRoot = c.opts.ScratchRoot
	}

	if opts.Logger == nil {
		opts.Logger = c.logger
	}

	if opts.ScratchID == c.opts.ScratchID {
		opts.ScratchID = 0
	}

	opts.Backup = BackupOptions{}

	nested, err := Open(c.fs, target, opts)
	if err != nil {
		return nil, fmt.Errorf("open nested %s: %w", info.Path, err)
	}

	return nested, nil
}

// materializeScratch ensures a raw scratch copy of the file exists at target.
func (c *Container) materializeScratch(info FileInfo, target string) error {
	raw, err := afero.Exists(c.fs, target)
	if err != nil {
		return err
	}

	if raw {
		return nil
	}

	var src io.ReadCloser
	packedPath := target + packedScratchSuffix
	if packed, _ := afero.Exists(c.fs, packedPath); packed {
		src, err = c.openStaged(StagedEdit{Path: info.Path, ScratchPath: packedPath, Packed: true})
	} else {
		src, err = c.OpenFile(info.Path)
	}
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	if err := c.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	out, err := OpenCursor(c.fs, target, CursorWrite, CompressionNone)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = removeIfExists(c.fs, target)
		return fmt.Errorf("stage nested %s: %w", info.Path, err)
	}

	if err := out.Close(); err != nil {
		return err
	}

	return removeIfExists(c.fs, packedPath)
}

// removeIfExists removes a store file when present.
func removeIfExists(fsys afero.Fs, path string) error {
	err := fsys.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("remove %s: %w", path, err)
}
