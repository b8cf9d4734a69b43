// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/woozymasta/nitrofs/lz"
)

func (a *app) newLZCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lz",
		Short: "Encode or decode standalone LZ10/LZ11 files",
	}

	cmd.AddCommand(a.newLZDecodeCmd(), a.newLZEncodeCmd())

	return cmd
}

func (a *app) newLZDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <in> <out>",
		Short: "Decode an LZ10/LZ11 file",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			src, err := afero.ReadFile(a.fs, args[0])
			if err != nil {
				return err
			}

			h, err := lz.ParseHeader(src)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			out, err := lz.Decode(src)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			if err := afero.WriteFile(a.fs, args[1], out, 0o644); err != nil {
				return err
			}

			a.logger.Info("decoded", "variant", h.Variant, "in", len(src), "out", len(out))

			return nil
		},
	}
}

func (a *app) newLZEncodeCmd() *cobra.Command {
	var variant string

	cmd := &cobra.Command{
		Use:   "encode <in> <out>",
		Short: "Encode a file with LZ10 or LZ11",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			v, err := lz.ParseVariant(variant)
			if err != nil {
				return err
			}

			src, err := afero.ReadFile(a.fs, args[0])
			if err != nil {
				return err
			}

			out, err := lz.Encode(src, v)
			if err != nil {
				return fmt.Errorf("encode %s: %w", args[0], err)
			}

			if err := afero.WriteFile(a.fs, args[1], out, 0o644); err != nil {
				return err
			}

			a.logger.Info("encoded", "variant", v, "in", len(src), "out", len(out))

			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "lz10", "codec variant (lz10, lz11)")

	return cmd
}
