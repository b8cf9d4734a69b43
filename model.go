// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/woozymasta/pathrules"
)

// Internal binary layout and format limits.
const (
	fatRecordSize    = 8      // NitroFS FAT record: u32 start, u32 end
	sdatRecordSize   = 16     // SDAT FAT record: u32 offset, u32 size, 8 reserved
	fntMainEntrySize = 8      // name table main entry: u32 offset, u16 first id, u16 parent
	rootDirID        = 0xF000 // first directory id; the root directory
	maxDirCount      = 0x1000 // directory ids are 12-bit
	maxFileCount     = 0xF000 // file ids must stay below the directory id space
	maxContainerSize = 1 << 32
)

// Default tuning values.
const (
	DefaultMinCompressSize = 64
	DefaultMaxCompressSize = 16 * 1024 * 1024
	DefaultScratchDirName  = "nitrofs"
)

// Format identifies the concrete container layout.
type Format string

// Supported container formats.
const (
	// FormatAuto detects the format from the container header.
	FormatAuto Format = "auto"
	// FormatROM is a Nintendo DS ROM image.
	FormatROM Format = "rom"
	// FormatNARC is a Nitro archive.
	FormatNARC Format = "narc"
	// FormatSDAT is a Nitro sound data bank.
	FormatSDAT Format = "sdat"
	// FormatUtility is a bare utility blob: fnt/fat header with absolute offsets.
	FormatUtility Format = "utility"
)

// Compression is the whole-file compression applied to a container or cursor.
type Compression string

// Supported whole-file compression modes.
const (
	// CompressionNone passes every cursor call straight to the byte store.
	CompressionNone Compression = "none"
	// CompressionLZ10 decodes and re-encodes the file with LZ10.
	CompressionLZ10 Compression = "lz10"
	// CompressionLZ11 decodes and re-encodes the file with LZ11.
	CompressionLZ11 Compression = "lz11"
	// CompressionAuto detects LZ10/LZ11 from the file header and falls back to none.
	CompressionAuto Compression = "auto"
)

// FileInfo describes one file of a container tree.
type FileInfo struct {
	// Path is the slash-separated path inside the container.
	Path string `json:"path" yaml:"path"`
	// ID is the file id (FAT index).
	ID uint16 `json:"id" yaml:"id"`
	// Offset is the file start relative to the container base offset.
	Offset uint32 `json:"offset" yaml:"offset"`
	// Size is the file size in bytes.
	Size uint32 `json:"size" yaml:"size"`
}

// StagedEdit is one replacement file waiting in the scratch area.
type StagedEdit struct {
	// Path is the target path inside the container.
	Path string `json:"path" yaml:"path"`
	// ScratchPath is the scratch file location on the byte store.
	ScratchPath string `json:"scratch_path" yaml:"scratch_path"`
	// Packed reports whether the scratch file is LZSS-packed.
	Packed bool `json:"packed,omitempty" yaml:"packed,omitempty"`
	// StoredSize is the scratch file size on the store.
	StoredSize int64 `json:"stored_size" yaml:"stored_size"`
}

// RewriteResult contains rewrite statistics.
type RewriteResult struct {
	// Digest is the sha256 digest of the rewritten container as stored.
	Digest digest.Digest `json:"digest,omitempty" yaml:"digest,omitempty"`
	// Edits is the number of replaced files.
	Edits int `json:"edits" yaml:"edits"`
	// Files is the number of FAT records in the container.
	Files int `json:"files" yaml:"files"`
	// Delta is the total size change of the decompressed container.
	Delta int64 `json:"delta" yaml:"delta"`
	// OldSize is the decompressed container size before rewrite.
	OldSize int64 `json:"old_size" yaml:"old_size"`
	// NewSize is the decompressed container size after rewrite.
	NewSize int64 `json:"new_size" yaml:"new_size"`
	// Duration is end-to-end rewrite duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// StageOptions configures scratch storage of staged edits.
type StageOptions struct {
	// Compress defines ordered path rules selecting staged files stored LZSS-packed.
	// Empty rule set stores every staged file raw.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression path rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// MinCompressSize disables packing for payloads smaller than this size.
	MinCompressSize uint32 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// MaxCompressSize disables packing for payloads larger than this size.
	MaxCompressSize uint32 `json:"max_compress_size,omitempty" yaml:"max_compress_size,omitempty"`
}

// BackupOptions configures backups taken before an in-place save.
type BackupOptions struct {
	// Keep controls how many backup generations are kept.
	// 0 disables backups, 1 keeps only `<container>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	Keep int `json:"keep,omitempty" yaml:"keep,omitempty"`
	// Compress stores backups zstd-compressed as `<container>.bak.zst`.
	Compress bool `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Logger receives debug records; nil discards them.
	Logger *slog.Logger `json:"-" yaml:"-"`
	// Format selects the container driver; empty means FormatAuto.
	Format Format `json:"format,omitempty" yaml:"format,omitempty"`
	// Compression selects whole-file compression; empty means CompressionNone.
	Compression Compression `json:"compression,omitempty" yaml:"compression,omitempty"`
	// ScratchRoot is the directory holding per-container scratch areas.
	ScratchRoot string `json:"scratch_root,omitempty" yaml:"scratch_root,omitempty"`
	// Stage configures scratch storage of staged edits.
	Stage StageOptions `json:"stage,omitzero" yaml:"stage,omitzero"`
	// Backup configures in-place save backups.
	Backup BackupOptions `json:"backup,omitzero" yaml:"backup,omitzero"`
	// ScratchID namespaces the scratch area; zero draws a random id.
	ScratchID uint32 `json:"scratch_id,omitempty" yaml:"scratch_id,omitempty"`
}

// ExtractOptions configures Extract behavior.
type ExtractOptions struct {
	// OnFileDone is called after one file is fully written.
	OnFileDone func(file FileInfo, written int64, outputPath string) `json:"-" yaml:"-"`
	// Filter defines ordered path rules selecting files; empty means all files.
	Filter []pathrules.Rule `json:"filter,omitempty" yaml:"filter,omitempty"`
	// FilterMatcherOptions control filter rule matching.
	FilterMatcherOptions pathrules.MatcherOptions `json:"filter_matcher_options,omitzero" yaml:"filter_matcher_options,omitzero"`
	// MaxWorkers is number of extraction workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// RawNames disables default path sanitization during extract.
	// Colliding raw names still get a "~N" suffix.
	RawNames bool `json:"raw_names,omitempty" yaml:"raw_names,omitempty"`
}

// Input describes one source stream packed into a NARC.
type Input struct {
	// Open returns raw source stream for this file.
	Open func() (io.ReadCloser, error) `json:"-" yaml:"-"`
	// Path is destination path inside the archive.
	Path string `json:"path" yaml:"path"`
}

// PackOptions configures PackNARC.
type PackOptions struct {
	// OnFileDone is called after one file is written to the archive payload.
	OnFileDone func(file FileInfo, compressed bool) `json:"-" yaml:"-"`
	// Compress defines ordered path rules selecting files stored LZ-compressed.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression path rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// Compression is the codec used for selected files; empty means CompressionLZ10.
	Compression Compression `json:"compression,omitempty" yaml:"compression,omitempty"`
	// Nameless omits file names and writes a root-only name table.
	Nameless bool `json:"nameless,omitempty" yaml:"nameless,omitempty"`
}

// PackResult contains pack output statistics.
type PackResult struct {
	// WrittenFiles is number of files written to archive.
	WrittenFiles int `json:"written_files" yaml:"written_files"`
	// Directories is number of directories in the name table.
	Directories int `json:"directories" yaml:"directories"`
	// DataSize is total payload bytes written, alignment included.
	DataSize int64 `json:"data_size" yaml:"data_size"`
	// CompressedFiles is number of files stored LZ-compressed.
	CompressedFiles int `json:"compressed_files,omitempty" yaml:"compressed_files,omitempty"`
	// Duration is end-to-end pack duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// applyDefaults fills zero-valued open options with defaults.
func (opts *OpenOptions) applyDefaults() {
	if opts.Format == "" {
		opts.Format = FormatAuto
	}

	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}

	if opts.ScratchRoot == "" {
		opts.ScratchRoot = filepath.Join(os.TempDir(), DefaultScratchDirName)
	}

	for opts.ScratchID == 0 {
		opts.ScratchID = rand.Uint32()
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	opts.Stage.applyDefaults()

	if opts.Backup.Keep < 0 {
		opts.Backup.Keep = 0
	}
}

// applyDefaults fills zero-valued stage options with defaults.
func (opts *StageOptions) applyDefaults() {
	if opts.MinCompressSize == 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}

	if opts.MaxCompressSize == 0 || opts.MaxCompressSize <= opts.MinCompressSize {
		opts.MaxCompressSize = DefaultMaxCompressSize
	}

	opts.CompressMatcherOptions = matcherDefaults(opts.CompressMatcherOptions)
}

// applyDefaults fills zero-valued pack options with defaults.
func (opts *PackOptions) applyDefaults() {
	if opts.Compression == "" || opts.Compression == CompressionAuto {
		opts.Compression = CompressionLZ10
	}

	opts.CompressMatcherOptions = matcherDefaults(opts.CompressMatcherOptions)
}

// matcherDefaults returns case-sensitive exclude-by-default matcher options for zero values.
func matcherDefaults(opts pathrules.MatcherOptions) pathrules.MatcherOptions {
	if opts == (pathrules.MatcherOptions{}) {
		return pathrules.MatcherOptions{
			DefaultAction: pathrules.ActionExclude,
		}
	}

	if opts.DefaultAction == pathrules.ActionUnknown {
		opts.DefaultAction = pathrules.ActionExclude
	}

	return opts
}
