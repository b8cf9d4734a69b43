// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
)

// resolvedEdit is a staged replacement bound to its FAT record.
type resolvedEdit struct {
	// open returns the replacement payload.
	open func() (io.ReadCloser, error)
	// path is the in-container path used for diagnostics.
	path string
	// start and end are the original absolute byte range.
	start int64
	end   int64
	id    uint16
}

// shiftPoint records the size change applied after an original absolute offset.
type shiftPoint struct {
	start int64
	delta int64
}

// relocator holds the state of one rewrite pass.
type relocator struct {
	src    *Cursor
	dst    *Cursor
	drv    Driver
	tree   *tree
	logger *slog.Logger
	orig   []FatRecord
	shifts []shiftPoint
	layout FATLayout
	base   int64
	align  int64
	size   int64
	pos    int64
	delta  int64
	filler byte
}

// relocate streams src into dst substituting edits, patches FAT records in dst
// as it goes and runs the driver finalize hook. The tree arena is restored on failure.
func relocate(
	ctx context.Context,
	src *Cursor,
	dst *Cursor,
	drv Driver,
	t *tree,
	edits []resolvedEdit,
	logger *slog.Logger,
) (Driver, *RewriteResult, error) {
	size, err := src.Size()
	if err != nil {
		return nil, nil, err
	}

	r := &relocator{
		src:    src,
		dst:    dst,
		drv:    drv,
		tree:   t,
		logger: logger,
		orig:   t.snapshot(),
		layout: drv.FAT(),
		base:   drv.BaseOffset(),
		align:  max(drv.Alignment(), 1),
		filler: drv.Filler(),
		size:   size,
	}

	next, err := r.run(ctx, orderEdits(edits))
	if err != nil {
		t.restore(r.orig)
		return nil, nil, err
	}

	return next, &RewriteResult{
		Edits:   len(r.shifts),
		Files:   len(t.records),
		Delta:   r.delta,
		OldSize: size,
		NewSize: r.pos,
	}, nil
}

// orderEdits keeps the last edit per file id and sorts by original offset.
func orderEdits(edits []resolvedEdit) []resolvedEdit {
	last := make(map[uint16]int, len(edits))
	for i, e := range edits {
		last[e.id] = i
	}

	out := make([]resolvedEdit, 0, len(last))
	for i, e := range edits {
		if last[e.id] == i {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}

		return out[i].end < out[j].end
	})

	return out
}

// run performs prefix, per-edit and suffix copies and finalizes the header.
func (r *relocator) run(ctx context.Context, edits []resolvedEdit) (Driver, error) {
	if err := r.checkLayout(edits); err != nil {
		return nil, err
	}

	if len(edits) == 0 {
		if err := r.copyRange(0, r.size); err != nil {
			return nil, err
		}

		return r.finalize()
	}

	if err := r.copyRange(0, edits[0].start); err != nil {
		return nil, err
	}

	pending := make(map[uint16]bool, len(edits))
	for _, e := range edits {
		pending[e.id] = true
	}

	for i, e := range edits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		delete(pending, e.id)

		nextStart := r.size
		if i+1 < len(edits) {
			nextStart = edits[i+1].start
		}

		if err := r.apply(e, nextStart, pending); err != nil {
			return nil, fmt.Errorf("relocate %s: %w", e.path, err)
		}
	}

	return r.finalize()
}

// checkLayout rejects edits that would move the FAT or the name table.
func (r *relocator) checkLayout(edits []resolvedEdit) error {
	if len(edits) == 0 {
		return nil
	}

	nameOff, nameSize := r.drv.nameRegion()
	limit := max(r.layout.End(), nameOff+nameSize)
	if edits[0].start < limit {
		return fmt.Errorf("%w: %s at 0x%x precedes table end 0x%x", ErrLayout, edits[0].path, edits[0].start, limit)
	}

	return nil
}

// apply writes one replacement and its padding, patches the FAT and copies the gap up to nextStart.
func (r *relocator) apply(e resolvedEdit, nextStart int64, pending map[uint16]bool) error {
	written, err := r.writePayload(e)
	if err != nil {
		return err
	}

	if written > math.MaxUint32 {
		return fmt.Errorf("%w: replacement of %d bytes", ErrSizeOverflow, written)
	}

	newPad := r.padding(r.pos)
	if err := r.writeFiller(newPad); err != nil {
		return err
	}

	oldPad := r.oldPadding(e, nextStart)

	oldSize := e.end - e.start
	delta := (written + newPad) - (oldSize + oldPad)
	r.delta += delta
	r.shifts = append(r.shifts, shiftPoint{start: e.start, delta: delta})

	if err := r.patchRecords(e, written, delta, pending); err != nil {
		return err
	}

	r.logger.Debug("relocated file",
		"path", e.path,
		"id", e.id,
		"old_size", oldSize,
		"new_size", written,
		"padding", newPad,
		"delta", delta,
		"total_delta", r.delta)

	gapFrom := e.end + oldPad
	if nextStart < gapFrom {
		return fmt.Errorf("%w: next file at 0x%x inside 0x%x..0x%x", ErrLayout, nextStart, e.start, gapFrom)
	}

	return r.copyRange(gapFrom, nextStart)
}

// writePayload copies the staged bytes to the output at the current position.
func (r *relocator) writePayload(e resolvedEdit) (int64, error) {
	rc, err := e.open()
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	if _, err := r.dst.Seek(r.pos, io.SeekStart); err != nil {
		return 0, err
	}

	arr := copyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	defer copyBufferPool.Put(arr)

	written, err := io.CopyBuffer(r.dst, rc, arr[:])
	if err != nil {
		return 0, fmt.Errorf("write replacement: %w", err)
	}

	r.pos += written
	return written, nil
}

// padding returns the filler count that aligns abs relative to the base offset.
func (r *relocator) padding(abs int64) int64 {
	rel := abs - r.base
	return alignUp(rel, r.align) - rel
}

// writeFiller appends n filler bytes to the output.
func (r *relocator) writeFiller(n int64) error {
	if n == 0 {
		return nil
	}

	if _, err := r.dst.Seek(r.pos, io.SeekStart); err != nil {
		return err
	}

	if _, err := r.dst.Write(bytes.Repeat([]byte{r.filler}, int(n))); err != nil {
		return fmt.Errorf("write padding: %w", err)
	}

	r.pos += n
	return nil
}

// oldPadding returns the original alignment gap after the file end, bounded by
// the next aligned boundary, the next non-empty file and the next edit.
// Gap bytes are not inspected.
func (r *relocator) oldPadding(e resolvedEdit, nextEdit int64) int64 {
	limit := min(e.end+r.padding(e.end), nextEdit, r.size)
	for id, rec := range r.orig {
		if id == int(e.id) || rec.Start == rec.End {
			continue
		}

		start := r.base + int64(rec.Start)
		if start >= e.end && start < limit {
			limit = start
		}
	}

	return max(limit-e.end, 0)
}

// patchRecords updates the arena for one edit and writes changed records to the output FAT.
func (r *relocator) patchRecords(e resolvedEdit, written int64, delta int64, pending map[uint16]bool) error {
	origStart := e.start - r.base
	for id := range r.tree.records {
		rec := r.tree.records[id]
		origRec := r.orig[id]

		switch {
		case id == int(e.id):
			end, err := checkedUint32(int64(rec.Start) + written)
			if err != nil {
				return err
			}
			rec.End = end
		case int64(origRec.Start) > origStart,
			int64(origRec.Start) == origStart && pending[uint16(id)]: //nolint:gosec // ids are below maxFileCount
			if delta == 0 {
				continue
			}

			start, err := checkedUint32(int64(rec.Start) + delta)
			if err != nil {
				return err
			}

			end, err := checkedUint32(int64(rec.End) + delta)
			if err != nil {
				return err
			}
			rec = FatRecord{Start: start, End: end}
		default:
			continue
		}

		r.tree.records[id] = rec
		if err := writeRecord(r.dst, r.layout, id, rec); err != nil {
			return err
		}
	}

	return nil
}

// copyRange streams original bytes [from, to) to the output position.
func (r *relocator) copyRange(from int64, to int64) error {
	if to <= from {
		return nil
	}

	if _, err := r.src.Seek(from, io.SeekStart); err != nil {
		return err
	}

	if _, err := r.dst.Seek(r.pos, io.SeekStart); err != nil {
		return err
	}

	if err := r.dst.CopyFrom(r.src, to-from); err != nil {
		return err
	}

	r.pos += to - from
	return nil
}

// shift maps an original absolute offset to its rewritten offset.
func (r *relocator) shift(abs int64) int64 {
	out := abs
	for _, s := range r.shifts {
		if s.start < abs {
			out += s.delta
		}
	}

	return out
}

// finalize runs the driver hook over the output.
func (r *relocator) finalize() (Driver, error) {
	rel := Relocation{
		Delta:   r.delta,
		OldSize: r.size,
		NewSize: r.pos,
		Shift:   r.shift,
	}

	next, err := r.drv.Finalize(r.dst, rel)
	if err != nil {
		return nil, fmt.Errorf("finalize %s: %w", r.drv.Format(), err)
	}

	r.logger.Debug("finalized container",
		"format", r.drv.Format(),
		"delta", r.delta,
		"old_size", r.size,
		"new_size", r.pos)

	return next, nil
}
