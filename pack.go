// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/woozymasta/nitrofs/lz"
)

// packWriterBufferSize is the bufio size used while writing an archive.
const packWriterBufferSize = 256 * 1024

// packWriterPool reuses bufio writers between PackNARC calls.
var packWriterPool = sync.Pool{
	New: func() any {
		return bufio.NewWriterSize(io.Discard, packWriterBufferSize)
	},
}

// packDir is one directory of the archive being built.
type packDir struct {
	name   string
	files  []*packFile
	dirs   []*packDir
	id     uint16
	parent uint16
	first  uint16
}

// packFile is one input placed in the archive tree.
type packFile struct {
	input *Input
	name  string
	path  string
	id    uint16
}

// packPlan is the id-assigned archive tree.
type packPlan struct {
	root  *packDir
	dirs  []*packDir
	files []*packFile
}

// PackNARC writes a NARC archive built from inputs to out.
// Directories and files are sorted by name; file ids follow the name table
// walk, with each directory's files numbered before its subdirectories.
func PackNARC(ctx context.Context, out io.WriteSeeker, inputs []Input, opts PackOptions) (*PackResult, error) {
	startedAt := time.Now()

	if out == nil {
		return nil, ErrNilWriter
	}

	if len(inputs) == 0 {
		return nil, ErrEmptyInputs
	}

	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()

	variant, err := compressionVariantOf(opts.Compression)
	if err != nil {
		return nil, err
	}

	matcher, err := newRuleMatcher(opts.Compress, opts.CompressMatcherOptions, ErrInvalidCompressPattern)
	if err != nil {
		return nil, err
	}

	plan, err := planPack(inputs, opts.Nameless)
	if err != nil {
		return nil, err
	}

	fnt, err := plan.nameTable(opts.Nameless)
	if err != nil {
		return nil, err
	}

	w := packWriterPool.Get().(*bufio.Writer) //nolint:forcetypeassert // pool contains only *bufio.Writer
	w.Reset(out)
	defer func() {
		w.Reset(io.Discard)
		packWriterPool.Put(w)
	}()

	fileCount := len(plan.files)
	btafSize := narcBTAFHeader + fileCount*fatRecordSize
	btnfSize := narcSectionHeader + len(fnt)
	gmifOffset := narcHeaderSize + btafSize + btnfSize

	// Header, BTAF and GMIF sizes are patched once the payload is written.
	head := make([]byte, narcHeaderSize+btafSize)
	le := binary.LittleEndian
	copy(head, narcMagic)
	le.PutUint16(head[4:], narcBOM)
	le.PutUint16(head[6:], narcVersion)
	le.PutUint16(head[0x0C:], narcHeaderSize)
	le.PutUint16(head[0x0E:], narcSectionCount)
	copy(head[narcHeaderSize:], narcBTAFMagic)
	le.PutUint32(head[narcHeaderSize+4:], uint32(btafSize))  //nolint:gosec // bounded by maxFileCount
	le.PutUint16(head[narcHeaderSize+8:], uint16(fileCount)) //nolint:gosec // bounded by maxFileCount

	var section [narcSectionHeader]byte
	copy(section[:], narcBTNFMagic)
	le.PutUint32(section[4:], uint32(btnfSize)) //nolint:gosec // bounded by name table limits

	if _, err := w.Write(head); err != nil {
		return nil, fmt.Errorf("write NARC header: %w", err)
	}

	if _, err := w.Write(section[:]); err != nil {
		return nil, fmt.Errorf("write BTNF header: %w", err)
	}

	if _, err := w.Write(fnt); err != nil {
		return nil, fmt.Errorf("write name table: %w", err)
	}

	copy(section[:], narcGMIFMagic)
	le.PutUint32(section[4:], 0)
	if _, err := w.Write(section[:]); err != nil {
		return nil, fmt.Errorf("write GMIF header: %w", err)
	}

	records := make([]FatRecord, fileCount)
	result := &PackResult{Directories: len(plan.dirs)}

	var offset int64
	for _, f := range plan.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		compress := matcher.Match(f.path)
		n, err := writePackPayload(w, f, compress, variant)
		if err != nil {
			return nil, err
		}

		rec, err := packRecord(offset, n)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", f.path, err)
		}
		records[f.id] = rec

		offset += n
		pad := alignUp(offset, narcAlignment) - offset
		if err := writePackFiller(w, pad); err != nil {
			return nil, err
		}
		offset += pad

		result.WrittenFiles++
		if compress {
			result.CompressedFiles++
		}

		if opts.OnFileDone != nil {
			opts.OnFileDone(FileInfo{Path: f.path, ID: f.id, Offset: rec.Start, Size: rec.Size()}, compress)
		}
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush payload: %w", err)
	}

	total := int64(gmifOffset) + narcSectionHeader + offset
	if total >= maxContainerSize {
		return nil, fmt.Errorf("%w: archive size %d", ErrSizeOverflow, total)
	}

	le.PutUint32(head[8:], uint32(total)) //nolint:gosec // checked above
	for id, rec := range records {
		FATStartEnd.encode(head[narcHeaderSize+narcBTAFHeader+id*fatRecordSize:], rec)
	}

	if err := patchAt(out, 0, head); err != nil {
		return nil, fmt.Errorf("patch NARC header: %w", err)
	}

	var gmifSize [4]byte
	le.PutUint32(gmifSize[:], uint32(narcSectionHeader+offset)) //nolint:gosec // checked above
	if err := patchAt(out, int64(gmifOffset)+4, gmifSize[:]); err != nil {
		return nil, fmt.Errorf("patch GMIF size: %w", err)
	}

	if _, err := out.Seek(total, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek archive end: %w", err)
	}

	result.DataSize = offset
	result.Duration = time.Since(startedAt)

	return result, nil
}

// planPack normalizes inputs into a sorted tree and assigns ids.
func planPack(inputs []Input, nameless bool) (*packPlan, error) {
	sorted := make([]Input, len(inputs))
	copy(sorted, inputs)

	paths := make([][]string, len(sorted))
	for i := range sorted {
		parts, err := splitContainerPath(sorted[i].Path)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", sorted[i].Path, err)
		}

		paths[i] = parts
		sorted[i].Path = strings.Join(parts, "/")
	}

	if len(sorted) > maxFileCount {
		return nil, fmt.Errorf("%w: %d files exceed id space", ErrSizeOverflow, len(sorted))
	}

	plan := &packPlan{root: &packDir{id: rootDirID}}
	seen := make(map[string]struct{}, len(sorted))
	for i := range sorted {
		if _, dup := seen[sorted[i].Path]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, sorted[i].Path)
		}
		seen[sorted[i].Path] = struct{}{}

		parts := paths[i]
		if nameless {
			parts = []string{sorted[i].Path}
		}

		dir := plan.root
		for _, name := range parts[:len(parts)-1] {
			dir = dir.child(name)
		}

		dir.files = append(dir.files, &packFile{
			input: &sorted[i],
			name:  parts[len(parts)-1],
			path:  sorted[i].Path,
		})
	}

	if err := plan.assign(plan.root); err != nil {
		return nil, err
	}

	for _, d := range plan.dirs {
		if err := checkPackNames(d); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// child returns the subdirectory called name, creating it when missing.
func (d *packDir) child(name string) *packDir {
	for _, c := range d.dirs {
		if c.name == name {
			return c
		}
	}

	c := &packDir{name: name}
	d.dirs = append(d.dirs, c)

	return c
}

// assign numbers d and its subtree in name table order.
func (p *packPlan) assign(d *packDir) error {
	if len(p.dirs) >= maxDirCount {
		return fmt.Errorf("%w: more than %d directories", ErrSizeOverflow, maxDirCount)
	}

	d.id = uint16(rootDirID + len(p.dirs)) //nolint:gosec // bounded by maxDirCount
	p.dirs = append(p.dirs, d)

	slices.SortFunc(d.files, func(a, b *packFile) int { return strings.Compare(a.name, b.name) })
	slices.SortFunc(d.dirs, func(a, b *packDir) int { return strings.Compare(a.name, b.name) })

	d.first = uint16(len(p.files)) //nolint:gosec // bounded by maxFileCount
	for _, f := range d.files {
		f.id = uint16(len(p.files)) //nolint:gosec // bounded by maxFileCount
		p.files = append(p.files, f)
	}

	for _, c := range d.dirs {
		c.parent = d.id
		if err := p.assign(c); err != nil {
			return err
		}
	}

	return nil
}

// checkPackNames rejects a file and a directory sharing one name.
func checkPackNames(d *packDir) error {
	for _, f := range d.files {
		for _, c := range d.dirs {
			if f.name == c.name {
				return fmt.Errorf("%w: %s is both a file and a directory", ErrDuplicatePath, f.path)
			}
		}
	}

	return nil
}

// nameTable encodes the NitroFS name table of the plan, padded to the NARC alignment.
func (p *packPlan) nameTable(nameless bool) ([]byte, error) {
	le := binary.LittleEndian

	if nameless {
		fnt := make([]byte, fntMainEntrySize)
		le.PutUint32(fnt, 4)
		le.PutUint16(fnt[6:], 1)
		return fnt, nil
	}

	main := make([]byte, len(p.dirs)*fntMainEntrySize)
	var sub []byte

	for i, d := range p.dirs {
		off := i * fntMainEntrySize
		le.PutUint32(main[off:], uint32(len(main)+len(sub))) //nolint:gosec // bounded by name limits
		le.PutUint16(main[off+4:], d.first)
		if i == 0 {
			le.PutUint16(main[off+6:], uint16(len(p.dirs))) //nolint:gosec // bounded by maxDirCount
		} else {
			le.PutUint16(main[off+6:], d.parent)
		}

		for _, f := range d.files {
			sub = append(sub, byte(len(f.name)))
			sub = append(sub, f.name...)
		}

		for _, c := range d.dirs {
			sub = append(sub, 0x80|byte(len(c.name)))
			sub = append(sub, c.name...)
			sub = le.AppendUint16(sub, c.id)
		}

		sub = append(sub, 0)
	}

	fnt := append(main, sub...)
	for len(fnt)%narcAlignment != 0 {
		fnt = append(fnt, narcFiller)
	}

	if len(fnt) >= maxContainerSize {
		return nil, fmt.Errorf("%w: name table size %d", ErrSizeOverflow, len(fnt))
	}

	return fnt, nil
}

// writePackPayload writes one input, LZ-encoded when compress is set, and returns its stored size.
func writePackPayload(w *bufio.Writer, f *packFile, compress bool, variant lz.Variant) (int64, error) {
	if f.input.Open == nil {
		return 0, fmt.Errorf("input %s: Open is nil", f.path)
	}

	rc, err := f.input.Open()
	if err != nil {
		return 0, fmt.Errorf("open input %s: %w", f.path, err)
	}
	defer func() { _ = rc.Close() }()

	if !compress {
		arr := copyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
		defer copyBufferPool.Put(arr)

		n, err := io.CopyBuffer(w, rc, arr[:])
		if err != nil {
			return n, fmt.Errorf("copy input %s: %w", f.path, err)
		}

		return n, nil
	}

	data, err := io.ReadAll(rc)
	if err != nil {
		return 0, fmt.Errorf("read input %s: %w", f.path, err)
	}

	encoded, err := lz.Encode(data, variant)
	if err != nil {
		return 0, fmt.Errorf("encode input %s: %w", f.path, err)
	}

	n, err := w.Write(encoded)
	if err != nil {
		return int64(n), fmt.Errorf("write input %s: %w", f.path, err)
	}

	return int64(n), nil
}

// packRecord builds the FAT record of a payload written at offset.
func packRecord(offset int64, n int64) (FatRecord, error) {
	start, err := checkedUint32(offset)
	if err != nil {
		return FatRecord{}, err
	}

	end, err := checkedUint32(offset + n)
	if err != nil {
		return FatRecord{}, err
	}

	return FatRecord{Start: start, End: end}, nil
}

// writePackFiller writes n NARC filler bytes.
func writePackFiller(w *bufio.Writer, n int64) error {
	for range n {
		if err := w.WriteByte(narcFiller); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
	}

	return nil
}

// patchAt overwrites data at off on a seekable writer.
func patchAt(out io.WriteSeeker, off int64, data []byte) error {
	if _, err := out.Seek(off, io.SeekStart); err != nil {
		return err
	}

	_, err := out.Write(data)
	return err
}
