// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Save folds every staged edit into the container in place. The rewrite goes
// to a temporary file first, which is then copied back over the container.
func (c *Container) Save(ctx context.Context) (*RewriteResult, error) {
	return c.save(ctx, c.path)
}

// SaveAs writes the container with every staged edit folded in to outPath
// and re-points the container at outPath on success.
func (c *Container) SaveAs(ctx context.Context, outPath string) (*RewriteResult, error) {
	outPath = strings.TrimSpace(outPath)
	if outPath == "" {
		return nil, fmt.Errorf("%w: empty output path", ErrInvalidPath)
	}

	return c.save(ctx, outPath)
}

// save runs one rewrite transaction. Unresolvable edits fail before any
// output exists and keep the scratch area; once output writing begins the
// scratch area is cleared whatever the outcome.
func (c *Container) save(ctx context.Context, outPath string) (res *RewriteResult, err error) {
	if c == nil {
		return nil, ErrNilReader
	}

	if c.closed {
		return nil, ErrClosed
	}

	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()

	staged, err := c.Staged()
	if err != nil {
		return nil, err
	}

	edits, err := c.resolveEdits(staged)
	if err != nil {
		return nil, err
	}

	inPlace := filepath.Clean(outPath) == filepath.Clean(c.path)
	target := outPath
	if inPlace {
		target = c.rewriteTempPath()
	}

	defer func() {
		if discardErr := c.DiscardStaged(); discardErr != nil {
			err = errors.Join(err, discardErr)
		}
	}()

	snapshot := c.tree.snapshot()
	next, res, err := c.rewrite(ctx, target, edits)
	if err != nil {
		_ = removeIfExists(c.fs, target)
		return nil, err
	}

	if inPlace {
		if err := c.replaceFromTemp(target); err != nil {
			c.tree.restore(snapshot)
			return nil, err
		}
	}

	c.drv = next
	c.size = res.NewSize
	c.path = outPath

	res.Duration = time.Since(started)
	if res.Digest, err = fileDigest(c.fs, c.path); err != nil {
		return res, fmt.Errorf("saved %s but digest failed: %w", c.path, err)
	}

	c.logger.Debug("saved container",
		"path", c.path,
		"edits", res.Edits,
		"delta", res.Delta,
		"size", res.NewSize,
		"digest", res.Digest,
		"duration", res.Duration)

	return res, nil
}

// resolveEdits binds staged edits to FAT records using one read cursor.
func (c *Container) resolveEdits(staged []StagedEdit) ([]resolvedEdit, error) {
	if len(staged) == 0 {
		return nil, nil
	}

	cur, err := c.readCursor()
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close() }()

	base := c.drv.BaseOffset()
	edits := make([]resolvedEdit, 0, len(staged))
	for _, edit := range staged {
		f, err := c.tree.lookup(cur, edit.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve staged edit %s: %w", edit.Path, err)
		}

		start := base + int64(f.Offset())
		edits = append(edits, resolvedEdit{
			open:  func() (io.ReadCloser, error) { return c.openStaged(edit) },
			path:  edit.Path,
			start: start,
			end:   start + int64(f.Size()),
			id:    f.id,
		})
	}

	return edits, nil
}

// rewrite relocates the container into target through a pair of cursors.
func (c *Container) rewrite(ctx context.Context, target string, edits []resolvedEdit) (Driver, *RewriteResult, error) {
	src, err := c.readCursor()
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = src.Close() }()

	if err := c.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output directory: %w", err)
	}

	dst, err := OpenCursor(c.fs, target, CursorWrite, c.compression)
	if err != nil {
		return nil, nil, err
	}

	snapshot := c.tree.snapshot()
	next, res, err := relocate(ctx, src, dst, c.drv, c.tree, edits, c.logger)
	if err != nil {
		_ = dst.Discard()
		return nil, nil, err
	}

	if err := dst.Close(); err != nil {
		c.tree.restore(snapshot)
		return nil, nil, err
	}

	return next, res, nil
}

// rewriteTempPath returns the in-place rewrite target. It sits next to the
// per-container scratch areas so a kept temp file never lands in the scratch
// area of a parent container.
func (c *Container) rewriteTempPath() string {
	return filepath.Join(c.opts.ScratchRoot, strconv.FormatUint(uint64(c.opts.ScratchID), 10)+".tmp")
}

// replaceFromTemp backs up the container, copies tmp over it and removes tmp.
// A failed copy-back keeps tmp for manual recovery.
func (c *Container) replaceFromTemp(tmp string) error {
	backup, err := writeBackup(c.fs, c.path, c.opts.Backup)
	if err != nil {
		_ = removeIfExists(c.fs, tmp)
		return err
	}

	if backup != "" {
		c.logger.Debug("wrote backup", "path", c.path, "backup", backup)
	}

	if err := copyStoreFile(c.fs, tmp, c.path, false, false); err != nil {
		return fmt.Errorf("copy rewritten container back (kept %s): %w", tmp, err)
	}

	c.logger.Debug("copied rewritten container back", "path", c.path, "temp", tmp)
	return removeIfExists(c.fs, tmp)
}
