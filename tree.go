// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
)

// maxNameLength bounds NUL-terminated symbol names.
const maxNameLength = 0x100

// FatRecord is one FAT entry: a byte range relative to the container base offset.
type FatRecord struct {
	// Start is the first byte of the file.
	Start uint32 `json:"start" yaml:"start"`
	// End is one past the last byte of the file.
	End uint32 `json:"end" yaml:"end"`
}

// Size returns the byte length of the record.
func (r FatRecord) Size() uint32 {
	return r.End - r.Start
}

// nameKind selects how a nameRef is resolved.
type nameKind uint8

const (
	// nameLiteral is a synthesized name held in memory.
	nameLiteral nameKind = iota
	// nameFixed is a length-prefixed name table string.
	nameFixed
	// nameCString is a NUL-terminated string.
	nameCString
)

// nameRef locates a node name without holding the resolved string.
type nameRef struct {
	literal string
	offset  int64
	length  int
	kind    nameKind
}

// resolve reads the referenced name from ra.
func (n nameRef) resolve(ra io.ReaderAt) (string, error) {
	switch n.kind {
	case nameLiteral:
		return n.literal, nil
	case nameFixed:
		buf := make([]byte, n.length)
		if _, err := ra.ReadAt(buf, n.offset); err != nil {
			return "", fmt.Errorf("read name at 0x%x: %w", n.offset, err)
		}

		return string(buf), nil
	case nameCString:
		buf := make([]byte, maxNameLength)
		read, err := ra.ReadAt(buf, n.offset)
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read name at 0x%x: %w", n.offset, err)
		}

		buf = buf[:read]
		if end := bytes.IndexByte(buf, 0); end >= 0 {
			buf = buf[:end]
		}

		return string(buf), nil
	default:
		return "", fmt.Errorf("%w: unknown name kind %d", ErrInvalidNameTable, n.kind)
	}
}

// dirNode is one directory of the container tree.
type dirNode struct {
	name  nameRef
	dirs  []*dirNode
	files []*fileEntry
	id    uint16
}

// fileEntry is one file leaf; its byte range lives in the tree arena.
type fileEntry struct {
	tree *tree
	name nameRef
	id   uint16
}

// Offset returns the file start relative to the base offset.
func (f *fileEntry) Offset() uint32 {
	return f.tree.records[f.id].Start
}

// Size returns the file size.
func (f *fileEntry) Size() uint32 {
	return f.tree.records[f.id].Size()
}

// tree is the parsed directory graph plus the FAT arena indexed by file id.
type tree struct {
	root    *dirNode
	records []FatRecord
}

// newTree creates an empty tree over the given FAT records.
func newTree(records []FatRecord) *tree {
	return &tree{
		root:    &dirNode{id: rootDirID},
		records: records,
	}
}

// addFile appends a file leaf for id to dir.
func (t *tree) addFile(dir *dirNode, id uint16, name nameRef) error {
	if int(id) >= len(t.records) {
		return fmt.Errorf("%w: file id %d outside FAT (%d records)", ErrInvalidNameTable, id, len(t.records))
	}

	dir.files = append(dir.files, &fileEntry{tree: t, id: id, name: name})
	return nil
}

// snapshot copies the FAT arena.
func (t *tree) snapshot() []FatRecord {
	return slices.Clone(t.records)
}

// restore replaces the FAT arena with a snapshot.
func (t *tree) restore(records []FatRecord) {
	copy(t.records, records)
}

// lookup resolves a slash path to a file, reading names from ra.
func (t *tree) lookup(ra io.ReaderAt, path string) (*fileEntry, error) {
	parts, err := splitContainerPath(path)
	if err != nil {
		return nil, err
	}

	dir := t.root
	for _, part := range parts[:len(parts)-1] {
		next, err := findDir(ra, dir, part)
		if err != nil {
			return nil, err
		}

		if next == nil {
			if f, err := findFile(ra, dir, part); err != nil || f != nil {
				return nil, errors.Join(err, fmt.Errorf("%w: %q in %q", ErrNotDirectory, part, path))
			}

			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}

		dir = next
	}

	f, err := findFile(ra, dir, parts[len(parts)-1])
	if err != nil {
		return nil, err
	}

	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	return f, nil
}

// findFile returns the file named name in dir or nil.
func findFile(ra io.ReaderAt, dir *dirNode, name string) (*fileEntry, error) {
	for _, f := range dir.files {
		got, err := f.name.resolve(ra)
		if err != nil {
			return nil, err
		}

		if got == name {
			return f, nil
		}
	}

	return nil, nil
}

// findDir returns the child directory named name or nil.
func findDir(ra io.ReaderAt, dir *dirNode, name string) (*dirNode, error) {
	for _, child := range dir.dirs {
		got, err := child.name.resolve(ra)
		if err != nil {
			return nil, err
		}

		if got == name {
			return child, nil
		}
	}

	return nil, nil
}

// walk visits every file in tree order: files of a directory, then its sub-directories.
func (t *tree) walk(ra io.ReaderAt, fn func(path string, f *fileEntry) error) error {
	return walkDir(ra, t.root, "", fn)
}

// walkDir visits dir recursively.
func walkDir(ra io.ReaderAt, dir *dirNode, prefix string, fn func(path string, f *fileEntry) error) error {
	for _, f := range dir.files {
		name, err := f.name.resolve(ra)
		if err != nil {
			return err
		}

		if err := fn(joinContainerPath(prefix, name), f); err != nil {
			return err
		}
	}

	for _, child := range dir.dirs {
		name, err := child.name.resolve(ra)
		if err != nil {
			return err
		}

		if err := walkDir(ra, child, joinContainerPath(prefix, name), fn); err != nil {
			return err
		}
	}

	return nil
}

// fntEntry is one main table record of a NitroFS name table.
type fntEntry struct {
	subOffset uint32
	firstID   uint16
	parent    uint16
}

// nameTableReader parses one NitroFS name table held in memory.
type nameTableReader struct {
	tree    *tree
	fnt     []byte
	visited []bool
	base    int64
	dirs    int
}

// readTree parses a NitroFS name table located at fntOffset on ra.
// Name strings are not kept; nodes reference their absolute location instead.
func readTree(ra io.ReaderAt, fntOffset int64, fntSize int64, records []FatRecord) (*tree, error) {
	if fntSize < fntMainEntrySize {
		return nil, fmt.Errorf("%w: size %d below root entry", ErrInvalidNameTable, fntSize)
	}

	fnt := make([]byte, fntSize)
	if _, err := ra.ReadAt(fnt, fntOffset); err != nil {
		return nil, fmt.Errorf("%w: read name table: %w", ErrInvalidNameTable, err)
	}

	root := readFNTEntry(fnt, 0)
	dirCount := int(root.parent)
	if dirCount == 0 || dirCount > maxDirCount || int64(dirCount)*fntMainEntrySize > fntSize {
		return nil, fmt.Errorf("%w: directory count %d", ErrInvalidNameTable, dirCount)
	}

	t := newTree(records)
	if dirCount == 1 && int64(root.subOffset) >= fntSize {
		return t, fillNameless(t)
	}

	r := &nameTableReader{
		tree:    t,
		fnt:     fnt,
		base:    fntOffset,
		dirs:    dirCount,
		visited: make([]bool, dirCount),
	}

	if err := r.readDir(t.root); err != nil {
		return nil, err
	}

	if len(t.root.files) == 0 && len(t.root.dirs) == 0 && dirCount == 1 {
		return t, fillNameless(t)
	}

	return t, nil
}

// readFNTEntry decodes main table entry idx.
func readFNTEntry(fnt []byte, idx int) fntEntry {
	off := idx * fntMainEntrySize
	return fntEntry{
		subOffset: binary.LittleEndian.Uint32(fnt[off:]),
		firstID:   binary.LittleEndian.Uint16(fnt[off+4:]),
		parent:    binary.LittleEndian.Uint16(fnt[off+6:]),
	}
}

// readDir walks the sub-table of dir and recurses into child directories.
func (r *nameTableReader) readDir(dir *dirNode) error {
	idx := int(dir.id) - rootDirID
	if idx < 0 || idx >= r.dirs {
		return fmt.Errorf("%w: directory id 0x%04x out of range", ErrInvalidNameTable, dir.id)
	}

	if r.visited[idx] {
		return fmt.Errorf("%w: directory id 0x%04x referenced twice", ErrInvalidNameTable, dir.id)
	}
	r.visited[idx] = true

	entry := readFNTEntry(r.fnt, idx)
	pos := int(entry.subOffset)
	fileID := int(entry.firstID)

	for {
		if pos >= len(r.fnt) {
			return fmt.Errorf("%w: directory 0x%04x sub-table runs past end", ErrInvalidNameTable, dir.id)
		}

		tag := r.fnt[pos]
		pos++

		switch {
		case tag == 0:
			return nil
		case tag == 0x80:
			return fmt.Errorf("%w: reserved entry tag 0x80 at 0x%x", ErrInvalidNameTable, pos-1)
		}

		length := int(tag & 0x7F)
		if pos+length > len(r.fnt) {
			return fmt.Errorf("%w: name at 0x%x runs past end", ErrInvalidNameTable, pos)
		}

		name := nameRef{kind: nameFixed, offset: r.base + int64(pos), length: length}
		pos += length

		if tag&0x80 == 0 {
			if fileID >= maxFileCount {
				return fmt.Errorf("%w: file id %d exceeds id space", ErrInvalidNameTable, fileID)
			}

			if err := r.tree.addFile(dir, uint16(fileID), name); err != nil {
				return err
			}
			fileID++
			continue
		}

		if pos+2 > len(r.fnt) {
			return fmt.Errorf("%w: directory id at 0x%x runs past end", ErrInvalidNameTable, pos)
		}

		child := &dirNode{id: binary.LittleEndian.Uint16(r.fnt[pos:]), name: name}
		pos += 2

		if err := r.readDir(child); err != nil {
			return err
		}

		dir.dirs = append(dir.dirs, child)
	}
}

// fillNameless names every FAT record of a name-less table by its id.
func fillNameless(t *tree) error {
	for id := range t.records {
		if id >= maxFileCount {
			return fmt.Errorf("%w: %d records exceed id space", ErrInvalidFAT, len(t.records))
		}

		name := nameRef{kind: nameLiteral, literal: fmt.Sprintf("%04d.bin", id)}
		if err := t.addFile(t.root, uint16(id), name); err != nil {
			return err
		}
	}

	return nil
}

// validateRecords checks every record against the container bounds and for overlaps.
func validateRecords(records []FatRecord, base int64, size int64) error {
	type span struct {
		start uint32
		end   uint32
		id    int
	}

	spans := make([]span, 0, len(records))
	for id, rec := range records {
		if rec.Start > rec.End {
			return fmt.Errorf("%w: record %d start 0x%x after end 0x%x", ErrInvalidFAT, id, rec.Start, rec.End)
		}

		if base+int64(rec.End) > size {
			return fmt.Errorf("%w: record %d ends at 0x%x past container size 0x%x", ErrInvalidFAT, id, base+int64(rec.End), size)
		}

		if rec.Start != rec.End {
			spans = append(spans, span{start: rec.Start, end: rec.End, id: id})
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return fmt.Errorf("%w: records %d and %d overlap", ErrInvalidFAT, spans[i-1].id, spans[i].id)
		}
	}

	return nil
}
