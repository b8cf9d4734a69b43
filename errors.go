// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import "errors"

// Sentinel errors for container operations. Use errors.Is in callers.
var (
	// ErrInvalidHeader means the container header is missing, short, or carries a bad magic.
	ErrInvalidHeader = errors.New("invalid container header")
	// ErrInvalidFAT means one or more FAT records are out of range or overlap.
	ErrInvalidFAT = errors.New("invalid file allocation table")
	// ErrInvalidNameTable means the name table references unknown ids or is truncated.
	ErrInvalidNameTable = errors.New("invalid name table")
	// ErrLayout means the container layout cannot be rewritten (FAT overlaps file data).
	ErrLayout = errors.New("unsupported container layout")
	// ErrUnknownFormat means the container format could not be detected or is not supported.
	ErrUnknownFormat = errors.New("unknown container format")
	// ErrUnknownCompression means the compression mode is not supported for this operation.
	ErrUnknownCompression = errors.New("unknown compression mode")
	// ErrFileNotFound means a path does not resolve to a file in the container.
	ErrFileNotFound = errors.New("file not found in container")
	// ErrNotDirectory means an intermediate path component is not a directory.
	ErrNotDirectory = errors.New("path component is not a directory")
	// ErrInvalidPath means a container path is empty or malformed.
	ErrInvalidPath = errors.New("invalid container path")
	// ErrClosed means the container or cursor is already closed.
	ErrClosed = errors.New("container or cursor already closed")
	// ErrReadOnly means a write was issued on a cursor opened for reading.
	ErrReadOnly = errors.New("cursor is read-only")
	// ErrNegativeOffset means a seek resolved to a negative position.
	ErrNegativeOffset = errors.New("negative cursor offset")
	// ErrSizeOverflow means a size or offset exceeds the 32-bit container fields.
	ErrSizeOverflow = errors.New("size exceeds 32-bit container limit")
	// ErrNilReader means the reader or container is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means the writer is nil.
	ErrNilWriter = errors.New("writer is nil")
	// ErrEmptyInputs means no inputs were provided for pack.
	ErrEmptyInputs = errors.New("no inputs provided for pack")
	// ErrDuplicatePath means two inputs resolve to the same container path.
	ErrDuplicatePath = errors.New("duplicate container path")
	// ErrInvalidCompressPattern means one or more compression rules are invalid.
	ErrInvalidCompressPattern = errors.New("invalid compress rules")
	// ErrInvalidFilterPattern means one or more extract filter rules are invalid.
	ErrInvalidFilterPattern = errors.New("invalid filter rules")
	// ErrInvalidExtractPath means a container path is invalid for the extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrNoBackup means no backup generation exists for the container.
	ErrNoBackup = errors.New("no backup found")
)
