// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"
)

// Container is an open NitroFS container on a byte store.
// It is not safe for concurrent use.
type Container struct {
	fs          afero.Fs
	drv         Driver
	tree        *tree
	logger      *slog.Logger
	stageMatch  *ruleMatcher
	path        string
	scratchDir  string
	compression Compression
	opts        OpenOptions
	size        int64
	closed      bool
}

// Open parses the container at path on fs.
func Open(fs afero.Fs, path string, opts OpenOptions) (*Container, error) {
	if fs == nil {
		return nil, ErrNilReader
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty container path", ErrInvalidPath)
	}

	opts.applyDefaults()

	matcher, err := newRuleMatcher(opts.Stage.Compress, opts.Stage.CompressMatcherOptions, ErrInvalidCompressPattern)
	if err != nil {
		return nil, err
	}

	cur, err := OpenCursor(fs, path, CursorRead, opts.Compression)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close() }()

	size, err := cur.Size()
	if err != nil {
		return nil, err
	}

	format := opts.Format
	if format == FormatAuto {
		if format, err = DetectFormat(cur, size); err != nil {
			return nil, fmt.Errorf("detect format of %s: %w", path, err)
		}
	}

	drv, err := parseDriver(format, cur, size)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	records, err := readRecords(cur, drv.FAT())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := validateRecords(records, drv.BaseOffset(), size); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	t, err := drv.buildTree(cur, records)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	opts.Logger.Debug("opened container",
		"path", path,
		"format", format,
		"compression", cur.Compression(),
		"size", size,
		"records", len(records),
		"scratch_id", opts.ScratchID)

	return &Container{
		fs:          fs,
		drv:         drv,
		tree:        t,
		logger:      opts.Logger,
		stageMatch:  matcher,
		path:        path,
		scratchDir:  filepath.Join(opts.ScratchRoot, strconv.FormatUint(uint64(opts.ScratchID), 10)),
		compression: cur.Compression(),
		opts:        opts,
		size:        size,
	}, nil
}

// Path returns the container location on the byte store.
func (c *Container) Path() string {
	return c.path
}

// Driver returns the format driver of the container.
func (c *Container) Driver() Driver {
	return c.drv
}

// Compression returns the effective whole-file compression.
func (c *Container) Compression() Compression {
	return c.compression
}

// Size returns the decompressed container size.
func (c *Container) Size() int64 {
	return c.size
}

// ScratchDir returns the directory holding staged edits of this container.
func (c *Container) ScratchDir() string {
	return c.scratchDir
}

// readCursor opens a fresh read cursor over the stored container.
func (c *Container) readCursor() (*Cursor, error) {
	if c == nil {
		return nil, ErrNilReader
	}

	if c.closed {
		return nil, ErrClosed
	}

	return OpenCursor(c.fs, c.path, CursorRead, c.compression)
}

// Lookup resolves a container path to its file description.
func (c *Container) Lookup(path string) (FileInfo, error) {
	cur, err := c.readCursor()
	if err != nil {
		return FileInfo{}, err
	}
	defer func() { _ = cur.Close() }()

	f, err := c.tree.lookup(cur, path)
	if err != nil {
		return FileInfo{}, err
	}

	return c.fileInfo(NormalizePath(path), f), nil
}

// Files returns every named file in tree order.
func (c *Container) Files() ([]FileInfo, error) {
	cur, err := c.readCursor()
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close() }()

	files := make([]FileInfo, 0, len(c.tree.records))
	err = c.tree.walk(cur, func(path string, f *fileEntry) error {
		files = append(files, c.fileInfo(path, f))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// fileInfo describes one tree leaf.
func (c *Container) fileInfo(path string, f *fileEntry) FileInfo {
	return FileInfo{
		Path:   path,
		ID:     f.id,
		Offset: f.Offset(),
		Size:   f.Size(),
	}
}

// fileReader streams one file and owns the cursor below it.
type fileReader struct {
	*io.SectionReader
	cur *Cursor
}

// Close releases the underlying cursor.
func (r *fileReader) Close() error {
	return r.cur.Close()
}

// OpenFile opens one file of the container for reading.
func (c *Container) OpenFile(path string) (io.ReadCloser, error) {
	cur, err := c.readCursor()
	if err != nil {
		return nil, err
	}

	f, err := c.tree.lookup(cur, path)
	if err != nil {
		_ = cur.Close()
		return nil, err
	}

	return c.openEntry(cur, f), nil
}

// openEntry wraps the byte range of f on cur.
func (c *Container) openEntry(cur *Cursor, f *fileEntry) *fileReader {
	off := c.drv.BaseOffset() + int64(f.Offset())
	return &fileReader{
		SectionReader: io.NewSectionReader(cur, off, int64(f.Size())),
		cur:           cur,
	}
}

// ReadFile reads one file of the container.
func (c *Container) ReadFile(path string) ([]byte, error) {
	rc, err := c.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// Digest returns the sha256 digest of the container bytes as stored.
func (c *Container) Digest() (digest.Digest, error) {
	if c.closed {
		return "", ErrClosed
	}

	return fileDigest(c.fs, c.path)
}

// fileDigest hashes one byte-store file.
func fileDigest(fs afero.Fs, path string) (digest.Digest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	d, err := digest.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}

	return d, nil
}

// BannerTitle decodes one localized banner title of a ROM container.
func (c *Container) BannerTitle(lang BannerLanguage) (string, error) {
	rom, ok := c.drv.(*ROM)
	if !ok {
		return "", fmt.Errorf("%w: banner titles need a ROM, got %s", ErrUnknownFormat, c.drv.Format())
	}

	cur, err := c.readCursor()
	if err != nil {
		return "", err
	}
	defer func() { _ = cur.Close() }()

	return rom.BannerTitle(cur, lang)
}

// Close releases the container and removes its scratch area.
// Staged edits that were not saved are lost.
func (c *Container) Close() error {
	if c == nil || c.closed {
		return nil
	}

	c.closed = true
	if err := c.fs.RemoveAll(c.scratchDir); err != nil {
		return fmt.Errorf("remove scratch area: %w", err)
	}

	return nil
}
