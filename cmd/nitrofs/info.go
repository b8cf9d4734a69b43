// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/woozymasta/nitrofs"
	"gopkg.in/yaml.v3"
)

func (a *app) newInfoCmd() *cobra.Command {
	var (
		output string
		nested string
	)

	cmd := &cobra.Command{
		Use:   "info <container>",
		Short: "Show container format, header and digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, inner, err := a.open(args[0], nested)
			if err != nil {
				return err
			}
			defer closeAll(c, inner)

			info, err := pick(c, inner).Info()
			if err != nil {
				return err
			}

			var banner string
			if info.Format == nitrofs.FormatROM {
				banner, err = pick(c, inner).BannerTitle(nitrofs.BannerEnglish)
				if err != nil {
					a.logger.Warn("banner title unavailable", "error", err)
				}
			}

			return writeInfo(cmd.OutOrStdout(), info, banner, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	cmd.Flags().StringVar(&nested, "in", "", "inspect the container embedded at this path")

	return cmd
}

// writeInfo renders info as text, json or yaml. Banner is shown in text output only.
func writeInfo(w io.Writer, info *nitrofs.ContainerInfo, banner string, output string) error {
	switch strings.ToLower(output) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)

	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(info); err != nil {
			return err
		}
		return enc.Close()

	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "path:\t%s\n", info.Path)
		fmt.Fprintf(tw, "format:\t%s\n", info.Format)
		fmt.Fprintf(tw, "compression:\t%s\n", info.Compression)
		fmt.Fprintf(tw, "size:\t%d\n", info.Size)
		fmt.Fprintf(tw, "base offset:\t0x%X\n", info.BaseOffset)
		fmt.Fprintf(tw, "alignment:\t%d\n", info.Alignment)
		fmt.Fprintf(tw, "records:\t%d\n", info.Records)
		fmt.Fprintf(tw, "files:\t%d\n", info.Files)
		fmt.Fprintf(tw, "digest:\t%s\n", info.Digest)
		if rom, ok := info.Header.(nitrofs.ROMHeader); ok {
			fmt.Fprintf(tw, "title:\t%s\n", rom.Title)
			fmt.Fprintf(tw, "game code:\t%s\n", rom.GameCode)
			fmt.Fprintf(tw, "device capacity:\t%d\n", rom.DeviceCapacity)
		}
		if banner != "" {
			fmt.Fprintf(tw, "banner:\t%s\n", banner)
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

// pick returns the nested container when present.
func pick(outer *nitrofs.Container, inner *nitrofs.Container) *nitrofs.Container {
	if inner != nil {
		return inner
	}

	return outer
}

// closeAll closes the nested container before its parent.
func closeAll(outer *nitrofs.Container, inner *nitrofs.Container) {
	if inner != nil {
		_ = inner.Close()
	}

	_ = outer.Close()
}
