// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// extractTask is one selected file with its host output path.
type extractTask struct {
	outPath string
	file    FileInfo
}

// Extract writes selected files to dstDir on dst. Work is spread over
// MaxWorkers goroutines, each with its own read cursor; the first error
// cancels the remaining work.
func (c *Container) Extract(ctx context.Context, dst afero.Fs, dstDir string, opts ExtractOptions) error {
	if dst == nil {
		return ErrNilWriter
	}

	if ctx == nil {
		ctx = context.Background()
	}

	filter, err := newRuleMatcher(opts.Filter, opts.FilterMatcherOptions, ErrInvalidFilterPattern)
	if err != nil {
		return err
	}

	files, err := c.Files()
	if err != nil {
		return err
	}

	selected := filterFiles(files, filter)
	if len(selected) == 0 {
		return nil
	}

	tasks, err := prepareExtractTasks(selected, dstDir, opts.RawNames)
	if err != nil {
		return err
	}

	if err := prepareExtractDirs(dst, dstDir, tasks); err != nil {
		return err
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = max(min(workers, len(tasks)), 1)

	taskCh := make(chan extractTask)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case taskCh <- task:
			}
		}

		return nil
	})

	for range workers {
		g.Go(func() error {
			cur, err := c.readCursor()
			if err != nil {
				return err
			}
			defer func() { _ = cur.Close() }()

			for task := range taskCh {
				if err := c.extractOne(gctx, dst, cur, task, opts.OnFileDone); err != nil {
					return err
				}
			}

			return nil
		})
	}

	return g.Wait()
}

// prepareExtractTasks maps selected files to host output paths.
func prepareExtractTasks(files []FileInfo, dstDir string, rawNames bool) ([]extractTask, error) {
	names := files
	if !rawNames {
		sanitized, err := sanitizeFiles(files)
		if err != nil {
			return nil, err
		}

		names = sanitized
	}

	// Raw names are not deduplicated by sanitizeFiles; SDAT symbols may repeat.
	used := make(map[string]struct{}, len(files))
	tasks := make([]extractTask, 0, len(files))
	for i, f := range files {
		rel, err := normalizeExtractPath(names[i].Path)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Path, err)
		}

		if rawNames {
			rel, err = uniquePath(rel, used)
			if err != nil {
				return nil, fmt.Errorf("extract %s: %w", f.Path, err)
			}
		}

		tasks = append(tasks, extractTask{
			outPath: filepath.Join(dstDir, filepath.FromSlash(rel)),
			file:    f,
		})
	}

	return tasks, nil
}

// prepareExtractDirs creates all unique parent directories needed by tasks.
func prepareExtractDirs(dst afero.Fs, dstDir string, tasks []extractTask) error {
	seen := make(map[string]struct{}, len(tasks))
	if err := dst.MkdirAll(dstDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	for _, task := range tasks {
		dir := filepath.Dir(task.outPath)
		if _, ok := seen[dir]; ok {
			continue
		}

		seen[dir] = struct{}{}
		if err := dst.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}

	return nil
}

// extractOne copies one file from cur to its output path.
func (c *Container) extractOne(
	ctx context.Context,
	dst afero.Fs,
	cur *Cursor,
	task extractTask,
	onFileDone func(file FileInfo, written int64, outputPath string),
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	off := c.drv.BaseOffset() + int64(task.file.Offset)
	src := io.NewSectionReader(cur, off, int64(task.file.Size))

	out, err := dst.OpenFile(task.outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", task.outPath, err)
	}

	arr := copyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	written, copyErr := io.CopyBuffer(out, src, arr[:])
	copyBufferPool.Put(arr)

	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("write %s: %w", task.file.Path, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", task.file.Path, closeErr)
	}

	if onFileDone != nil {
		onFileDone(task.file, written, task.outPath)
	}

	return nil
}

// normalizeExtractPath rejects absolute and traversal paths.
func normalizeExtractPath(p string) (string, error) {
	raw := strings.TrimSpace(p)
	if raw == "" || strings.ContainsRune(raw, 0) || strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, `\`) {
		return "", ErrInvalidExtractPath
	}

	if len(raw) >= 2 && raw[1] == ':' {
		return "", ErrInvalidExtractPath
	}

	parts, err := splitContainerPath(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidExtractPath, err)
	}

	return strings.Join(parts, "/"), nil
}
