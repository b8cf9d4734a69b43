// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

import (
	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"
)

// ContainerInfo summarizes one open container.
type ContainerInfo struct {
	// Header is the format header (ROMHeader, NARCHeader, SDATHeader or UtilityHeader).
	Header any `json:"header" yaml:"header"`
	// Path is the container location on the byte store.
	Path string `json:"path" yaml:"path"`
	// Format is the detected or forced container format.
	Format Format `json:"format" yaml:"format"`
	// Compression is the effective whole-file compression.
	Compression Compression `json:"compression" yaml:"compression"`
	// Digest is the sha256 digest of the stored bytes.
	Digest digest.Digest `json:"digest" yaml:"digest"`
	// Size is the decompressed container size.
	Size int64 `json:"size" yaml:"size"`
	// BaseOffset is the absolute offset FAT values are relative to.
	BaseOffset int64 `json:"base_offset" yaml:"base_offset"`
	// Alignment is the inter-file alignment.
	Alignment int64 `json:"alignment" yaml:"alignment"`
	// Records is the number of FAT records.
	Records int `json:"records" yaml:"records"`
	// Files is the number of named files in the tree.
	Files int `json:"files" yaml:"files"`
}

// Info returns a summary of the container.
func (c *Container) Info() (*ContainerInfo, error) {
	files, err := c.Files()
	if err != nil {
		return nil, err
	}

	d, err := c.Digest()
	if err != nil {
		return nil, err
	}

	return &ContainerInfo{
		Header:      driverHeader(c.drv),
		Path:        c.path,
		Format:      c.drv.Format(),
		Compression: c.compression,
		Digest:      d,
		Size:        c.size,
		BaseOffset:  c.drv.BaseOffset(),
		Alignment:   c.drv.Alignment(),
		Records:     len(c.tree.records),
		Files:       len(files),
	}, nil
}

// Inspect opens the container at path, summarizes it and closes it again.
func Inspect(fs afero.Fs, path string, opts OpenOptions) (*ContainerInfo, error) {
	c, err := Open(fs, path, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	return c.Info()
}

// driverHeader returns the exported header value of a driver.
func driverHeader(drv Driver) any {
	switch d := drv.(type) {
	case *ROM:
		return d.Header
	case *NARC:
		return d.Header
	case *SDAT:
		return d.Header
	case *Utility:
		return d.Header
	default:
		return nil
	}
}
