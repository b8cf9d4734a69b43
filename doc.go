// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

/*
Package nitrofs reads and edits NitroFS file systems embedded in Nintendo DS
containers: full ROM images, NARC archives, SDAT sound banks and bare utility
blobs. All access goes through an afero.Fs, so containers can live on disk or
in memory. Reads stream straight from the store; file names are resolved from
the name table on demand and are never cached.

Edits are staged first and applied in one relocating rewrite on save. Every
replaced file keeps its start offset, following data moves by the size
difference and the FAT plus format header fields (ROM CRC and capacity, NARC
and SDAT section sizes) are patched to match. A failed save leaves the
container untouched.

# Reading

	c, err := nitrofs.Open(afero.NewOsFs(), "game.nds", nitrofs.OpenOptions{})
	if err != nil {
	    return err
	}
	defer c.Close()

	files, err := c.Files()
	if err != nil {
	    return err
	}
	for _, f := range files {
	    fmt.Println(f.Path, f.Size)
	}

	data, err := c.ReadFile("data/script/main.bin")

Containers stored whole-file LZ10/LZ11 compressed are opened with
OpenOptions.Compression set to CompressionAuto or an explicit variant; the
decoded image is edited in memory and re-encoded on close.

# Editing

	if err := c.Stage("data/script/main.bin", patched); err != nil {
	    return err
	}
	res, err := c.Save(ctx)

Save rewrites the container in place through a temporary file and, when
OpenOptions.Backup.Keep is set, rotates `<container>.bak` generations first
(zstd-compressed with Backup.Compress). SaveAs writes to another path and
leaves the source alone. Staged payloads wait in the scratch area under
OpenOptions.ScratchRoot; paths matched by StageOptions.Compress rules are
stored LZSS-packed there.

A NARC inside a ROM is edited as a nested container:

	narc, err := c.OpenNested("a/0/1/2", nitrofs.OpenOptions{})
	if err != nil {
	    return err
	}
	defer narc.Close()
	if err := narc.Stage("0003.bin", payload); err != nil {
	    return err
	}
	if _, err := narc.Save(ctx); err != nil { // writes the staged NARC back into c's scratch area
	    return err
	}
	if _, err := c.Save(ctx); err != nil {
	    return err
	}

# Extracting

	err := c.Extract(ctx, afero.NewOsFs(), "out", nitrofs.ExtractOptions{
	    Filter: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "data/**"},
	    },
	    MaxWorkers: 4,
	})

Output names are sanitized for the host unless ExtractOptions.RawNames is set.

# Packing

PackNARC builds a new archive from caller streams, optionally LZ-compressing
files selected by PackOptions.Compress rules:

	res, err := nitrofs.PackNARC(ctx, outFile, inputs, nitrofs.PackOptions{
	    Compress: []pathrules.Rule{
	        {Action: pathrules.ActionInclude, Pattern: "*.bin"},
	    },
	    Compression: nitrofs.CompressionLZ10,
	})
*/
package nitrofs
