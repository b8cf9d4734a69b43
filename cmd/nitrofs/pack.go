// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/woozymasta/nitrofs"
)

func (a *app) newPackCmd() *cobra.Command {
	var (
		compress    []string
		compression string
		nameless    bool
	)

	cmd := &cobra.Command{
		Use:   "pack-narc <dir> <out.narc>",
		Short: "Pack a host directory into a new NARC archive",
		Long: `pack-narc writes every regular file under <dir> into a NARC archive.
Files matched by --compress rules are stored LZ-compressed with the codec
chosen by --codec.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			inputs, err := collectInputs(a.fs, args[0])
			if err != nil {
				return err
			}

			out, err := a.fs.Create(args[1])
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := out.Close(); closeErr != nil {
					err = errors.Join(err, closeErr)
				}
				if err != nil {
					_ = a.fs.Remove(args[1])
				}
			}()

			bar := a.newBar(len(inputs))
			res, err := nitrofs.PackNARC(cmd.Context(), out, inputs, nitrofs.PackOptions{
				Compress:    parseRules(compress),
				Compression: nitrofs.Compression(compression),
				Nameless:    nameless,
				OnFileDone: func(file nitrofs.FileInfo, _ bool) {
					bar.Done(file.Path)
				},
			})
			bar.Finish()
			if err != nil {
				return fmt.Errorf("pack %s: %w", args[1], err)
			}

			a.logger.Info("packed",
				"archive", args[1],
				"files", res.WrittenFiles,
				"directories", res.Directories,
				"compressed", res.CompressedFiles,
				"data_size", res.DataSize,
				"duration", res.Duration)

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&compress, "compress", nil, "path rules selecting files to compress (prefix ! to exclude)")
	cmd.Flags().StringVar(&compression, "codec", "lz10", "codec for compressed files (lz10, lz11)")
	cmd.Flags().BoolVar(&nameless, "nameless", false, "omit file names from the name table")

	return cmd
}

// collectInputs lists regular files under root in lexical order.
func collectInputs(fs afero.Fs, root string) ([]nitrofs.Input, error) {
	var inputs []nitrofs.Input

	err := afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !fi.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		inputs = append(inputs, nitrofs.Input{
			Path: filepath.ToSlash(rel),
			Open: func() (io.ReadCloser, error) {
				return fs.Open(path)
			},
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	return inputs, nil
}
