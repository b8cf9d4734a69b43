// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
	"github.com/woozymasta/nitrofs/lz"
)

const (
	// copyBufferSize is the intermediate buffer used by CopyFrom.
	copyBufferSize = 64 * 1024
	// cursorGrowStep is the capacity granularity of decompressed buffers.
	cursorGrowStep = 4 * 1024
)

var (
	// copyBufferPool reuses fixed-size copy buffers between cursor copies.
	copyBufferPool = sync.Pool{
		New: func() any {
			return new([copyBufferSize]byte)
		},
	}
)

// CursorMode selects how a cursor opens its underlying file.
type CursorMode uint8

// Cursor open modes.
const (
	// CursorRead opens an existing file for reading.
	CursorRead CursorMode = iota + 1
	// CursorWrite creates or truncates a file for writing; reads see written data.
	CursorWrite
	// CursorReadWrite opens an existing file for reading and writing.
	CursorReadWrite
)

// Cursor is a random-access view over one byte-store file. With compression
// enabled the whole file is decoded into memory on open and re-encoded on
// Close; otherwise every call is forwarded to the store.
type Cursor struct {
	// file is the exclusively owned store handle.
	file afero.File
	// path is the store path used for diagnostics.
	path string
	// buf is the decoded buffer; len(buf) is the physical capacity.
	buf []byte
	// size is the logical length of the decoded buffer.
	size int64
	// off is the decoded cursor offset.
	off int64
	// mode is the open mode.
	mode CursorMode
	// variant is the codec used when compressed.
	variant lz.Variant
	// compressed reports whether buf holds the file content.
	compressed bool
	// dirty reports whether buf changed since open.
	dirty bool
	// closed reports whether Close or Discard was called.
	closed bool
}

// OpenCursor opens path on fs with the given mode and whole-file compression.
func OpenCursor(fs afero.Fs, path string, mode CursorMode, compression Compression) (*Cursor, error) {
	if fs == nil {
		return nil, ErrNilReader
	}

	flag, err := cursorOpenFlag(mode)
	if err != nil {
		return nil, err
	}

	if compression == "" {
		compression = CompressionNone
	}

	if mode == CursorWrite && compression == CompressionAuto {
		return nil, fmt.Errorf("%w: auto detection needs existing content", ErrUnknownCompression)
	}

	f, err := fs.OpenFile(path, flag, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	c := &Cursor{file: f, path: path, mode: mode}
	if err := c.init(compression); err != nil {
		_ = f.Close()
		return nil, err
	}

	return c, nil
}

// cursorOpenFlag maps cursor mode to os.OpenFile flags.
func cursorOpenFlag(mode CursorMode) (int, error) {
	switch mode {
	case CursorRead:
		return os.O_RDONLY, nil
	case CursorWrite:
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, nil
	case CursorReadWrite:
		return os.O_RDWR, nil
	default:
		return 0, fmt.Errorf("unknown cursor mode %d", mode)
	}
}

// init loads and decodes content for compressed modes.
func (c *Cursor) init(compression Compression) error {
	switch compression {
	case CompressionNone:
		return nil
	case CompressionLZ10, CompressionLZ11:
		c.compressed = true
		c.variant = compressionVariant(compression)
		if c.mode == CursorWrite {
			return nil
		}

		return c.load(false)
	case CompressionAuto:
		return c.load(true)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCompression, compression)
	}
}

// load reads the whole store file and decodes it into buf.
func (c *Cursor) load(detect bool) error {
	raw, err := io.ReadAll(c.file)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.path, err)
	}

	if detect {
		variant, ok := lz.Detect(raw)
		if !ok {
			if _, err := c.file.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind %s: %w", c.path, err)
			}

			return nil
		}

		c.compressed = true
		c.variant = variant
	}

	h, err := lz.ParseHeader(raw)
	if err != nil {
		return fmt.Errorf("decode %s: %w", c.path, err)
	}

	if h.Variant != c.variant {
		return fmt.Errorf("%w: %s is %s, not %s", ErrUnknownCompression, c.path, h.Variant, c.variant)
	}

	decoded, err := lz.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode %s: %w", c.path, err)
	}

	c.size = int64(len(decoded))
	c.buf = decoded
	if err := c.reserve(c.size); err != nil {
		return err
	}

	return nil
}

// compressionVariant maps compression mode to codec variant.
func compressionVariant(compression Compression) lz.Variant {
	if compression == CompressionLZ11 {
		return lz.LZ11
	}

	return lz.LZ10
}

// Compression reports the effective compression of the cursor.
func (c *Cursor) Compression() Compression {
	if !c.compressed {
		return CompressionNone
	}

	if c.variant == lz.LZ11 {
		return CompressionLZ11
	}

	return CompressionLZ10
}

// Path returns the store path of the cursor.
func (c *Cursor) Path() string {
	return c.path
}

// Size returns the logical (decoded) size of the file.
func (c *Cursor) Size() (int64, error) {
	if c.closed {
		return 0, ErrClosed
	}

	if c.compressed {
		return c.size, nil
	}

	fi, err := c.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", c.path, err)
	}

	return fi.Size(), nil
}

// Seek sets the offset for the next Read or Write.
func (c *Cursor) Seek(offset int64, whence int) (int64, error) {
	if c.closed {
		return 0, ErrClosed
	}

	if !c.compressed {
		return c.file.Seek(offset, whence)
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = c.off + offset
	case io.SeekEnd:
		abs = c.size + offset
	default:
		return 0, fmt.Errorf("seek %s: invalid whence %d", c.path, whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("seek %s: %w", c.path, ErrNegativeOffset)
	}

	c.off = abs
	return abs, nil
}

// Read reads up to len(p) bytes at the current offset.
func (c *Cursor) Read(p []byte) (int, error) {
	if err := c.checkReadable(); err != nil {
		return 0, err
	}

	if !c.compressed {
		return c.file.Read(p)
	}

	n, err := c.readAt(p, c.off)
	c.off += int64(n)
	return n, err
}

// ReadAt reads len(p) bytes at off without moving the cursor offset.
func (c *Cursor) ReadAt(p []byte, off int64) (int, error) {
	if err := c.checkReadable(); err != nil {
		return 0, err
	}

	if !c.compressed {
		return c.file.ReadAt(p, off)
	}

	n, err := c.readAt(p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}

	return n, err
}

// readAt copies decoded bytes at off.
func (c *Cursor) readAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	if off >= c.size {
		if len(p) == 0 {
			return 0, nil
		}

		return 0, io.EOF
	}

	return copy(p, c.buf[off:c.size]), nil
}

// Write writes p at the current offset.
func (c *Cursor) Write(p []byte) (int, error) {
	if err := c.checkWritable(); err != nil {
		return 0, err
	}

	if !c.compressed {
		return c.file.Write(p)
	}

	n, err := c.writeAt(p, c.off)
	c.off += int64(n)
	return n, err
}

// WriteAt writes p at off without moving the cursor offset.
func (c *Cursor) WriteAt(p []byte, off int64) (int, error) {
	if err := c.checkWritable(); err != nil {
		return 0, err
	}

	if !c.compressed {
		return c.file.WriteAt(p, off)
	}

	return c.writeAt(p, off)
}

// writeAt writes into the decoded buffer and extends the logical size.
func (c *Cursor) writeAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	end := off + int64(len(p))
	if err := c.reserve(end); err != nil {
		return 0, err
	}

	if off > c.size {
		clear(c.buf[c.size:off])
	}

	n := copy(c.buf[off:end], p)
	if end > c.size {
		c.size = end
	}
	c.dirty = true

	return n, nil
}

// reserve grows physical capacity to hold at least n bytes.
func (c *Cursor) reserve(n int64) error {
	if n <= int64(len(c.buf)) {
		return nil
	}

	if n > lz.MaxLength {
		return fmt.Errorf("%w: decoded size %d", ErrSizeOverflow, n)
	}

	capacity := max(int64(len(c.buf))*2, n)
	capacity = alignUp(capacity, cursorGrowStep)

	grown := make([]byte, capacity)
	copy(grown, c.buf[:c.size])
	c.buf = grown

	return nil
}

// CopyFrom streams exactly n bytes from src at its current offset to the cursor.
func (c *Cursor) CopyFrom(src io.Reader, n int64) error {
	if src == nil {
		return ErrNilReader
	}

	if n < 0 {
		return fmt.Errorf("copy %d bytes: %w", n, ErrNegativeOffset)
	}

	arr := copyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	defer copyBufferPool.Put(arr)

	written, err := io.CopyBuffer(c, io.LimitReader(src, n), arr[:])
	if err != nil {
		return fmt.Errorf("copy into %s: %w", c.path, err)
	}

	if written != n {
		return fmt.Errorf("copy into %s: %w (%d/%d)", c.path, io.ErrUnexpectedEOF, written, n)
	}

	return nil
}

// Close writes compressed content back when writable and releases the store handle.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}

	var flushErr error
	if c.compressed && c.mode != CursorRead && (c.dirty || c.mode == CursorWrite) {
		flushErr = c.flush()
	}

	return c.release(flushErr)
}

// Discard releases the store handle without compressed write-back.
func (c *Cursor) Discard() error {
	if c.closed {
		return nil
	}

	return c.release(nil)
}

// release closes the underlying file and marks the cursor closed.
func (c *Cursor) release(prior error) error {
	c.closed = true
	c.buf = nil

	if err := c.file.Close(); err != nil {
		return errors.Join(prior, fmt.Errorf("close %s: %w", c.path, err))
	}

	return prior
}

// flush encodes the decoded buffer and overwrites the store file.
func (c *Cursor) flush() error {
	encoded, err := lz.Encode(c.buf[:c.size], c.variant)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.path, err)
	}

	if _, err := c.file.WriteAt(encoded, 0); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}

	if err := c.file.Truncate(int64(len(encoded))); err != nil {
		return fmt.Errorf("truncate %s: %w", c.path, err)
	}

	return nil
}

// checkReadable validates cursor state for reads.
func (c *Cursor) checkReadable() error {
	if c == nil {
		return ErrNilReader
	}

	if c.closed {
		return ErrClosed
	}

	return nil
}

// checkWritable validates cursor state for writes.
func (c *Cursor) checkWritable() error {
	if c == nil {
		return ErrNilWriter
	}

	if c.closed {
		return ErrClosed
	}

	if c.mode == CursorRead {
		return fmt.Errorf("write %s: %w", c.path, ErrReadOnly)
	}

	return nil
}

// alignUp rounds v up to a multiple of align; align <= 1 returns v.
func alignUp(v int64, align int64) int64 {
	if align <= 1 {
		return v
	}

	return (v + align - 1) / align * align
}
