// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/woozymasta/nitrofs"
	"github.com/woozymasta/pathrules"
)

func (a *app) newExtractCmd() *cobra.Command {
	var (
		filters  []string
		nested   string
		rawNames bool
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "extract <container> <dir>",
		Short: "Extract container files to a host directory",
		Long: `Extract writes every selected file to <dir>, recreating the container
directory tree. Names are sanitized for the host file system unless
--raw-names is given; clashing names get a ~N suffix.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()

			c, inner, err := a.open(args[0], nested)
			if err != nil {
				return err
			}
			defer closeAll(c, inner)
			src := pick(c, inner)

			rules := parseRules(filters)
			files, err := src.Files()
			if err != nil {
				return err
			}

			selected, err := nitrofs.FilterFiles(files, rules, pathrules.MatcherOptions{})
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Workers
			}

			a.logger.Info("extracting", "container", args[0], "files", len(selected), "dst", args[1])

			bar := a.newBar(len(selected))
			var written atomic.Int64

			err = src.Extract(cmd.Context(), a.fs, args[1], nitrofs.ExtractOptions{
				Filter:     rules,
				MaxWorkers: workers,
				RawNames:   rawNames,
				OnFileDone: func(file nitrofs.FileInfo, n int64, _ string) {
					written.Add(n)
					bar.Done(file.Path)
				},
			})
			bar.Finish()
			if err != nil {
				return fmt.Errorf("extract %s: %w", args[0], err)
			}

			a.logger.Info("extracted",
				"files", len(selected),
				"bytes", written.Load(),
				"duration", time.Since(start).Round(time.Millisecond))

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&filters, "filter", nil, "path rules selecting files (prefix ! to exclude)")
	cmd.Flags().StringVar(&nested, "in", "", "extract the container embedded at this path")
	cmd.Flags().BoolVar(&rawNames, "raw-names", false, "keep container names as-is")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "extraction workers (0 means GOMAXPROCS)")

	return cmd
}
