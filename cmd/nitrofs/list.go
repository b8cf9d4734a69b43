// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/woozymasta/nitrofs"
	"github.com/woozymasta/pathrules"
)

func (a *app) newListCmd() *cobra.Command {
	var (
		filters []string
		nested  string
		long    bool
	)

	cmd := &cobra.Command{
		Use:     "ls <container>",
		Aliases: []string{"list"},
		Short:   "List files in a container",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, inner, err := a.open(args[0], nested)
			if err != nil {
				return err
			}
			defer closeAll(c, inner)

			files, err := pick(c, inner).Files()
			if err != nil {
				return err
			}

			files, err = nitrofs.FilterFiles(files, parseRules(filters), pathrules.MatcherOptions{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !long {
				for _, f := range files {
					fmt.Fprintln(out, f.Path)
				}
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "ID\tOFFSET\tSIZE\t PATH")
			for _, f := range files {
				fmt.Fprintf(tw, "%d\t0x%08X\t%d\t %s\n", f.ID, f.Offset, f.Size, f.Path)
			}

			return tw.Flush()
		},
	}

	cmd.Flags().StringSliceVar(&filters, "filter", nil, "path rules selecting files (prefix ! to exclude)")
	cmd.Flags().StringVar(&nested, "in", "", "list the container embedded at this path")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show id, offset and size")

	return cmd
}

func (a *app) newCatCmd() *cobra.Command {
	var nested string

	cmd := &cobra.Command{
		Use:   "cat <container> <path>",
		Short: "Write one container file to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, inner, err := a.open(args[0], nested)
			if err != nil {
				return err
			}
			defer closeAll(c, inner)

			rc, err := pick(c, inner).OpenFile(args[1])
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()

			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		},
	}

	cmd.Flags().StringVar(&nested, "in", "", "read from the container embedded at this path")

	return cmd
}
