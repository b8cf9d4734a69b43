// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/woozymasta/nitrofs"
)

// replacement maps a container path to a host file.
type replacement struct {
	path string
	host string
}

func (a *app) newReplaceCmd() *cobra.Command {
	var (
		output string
		nested string
	)

	cmd := &cobra.Command{
		Use:   "replace <container> <path=hostfile>...",
		Short: "Replace container files and save",
		Long: `Replace stages each host file over the container path before the "=" and
saves once. The container is rewritten in place (with backups per config)
unless --output names another file. With --in the files are replaced in the
embedded container, which is then folded back into its parent.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			edits, err := parseReplacements(args[1:])
			if err != nil {
				return err
			}

			c, inner, err := a.open(args[0], nested)
			if err != nil {
				return err
			}
			defer closeAll(c, inner)

			if err := a.stageAll(pick(c, inner), edits); err != nil {
				return err
			}

			ctx := cmd.Context()
			if inner != nil {
				res, err := inner.Save(ctx)
				if err != nil {
					return fmt.Errorf("save nested %s: %w", nested, err)
				}
				a.logResult("nested saved", nested, res)
			}

			res, err := a.save(ctx, c, output)
			if err != nil {
				return err
			}

			target := args[0]
			if output != "" {
				target = output
			}
			a.logResult("saved", target, res)

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the edited container here instead of in place")
	cmd.Flags().StringVar(&nested, "in", "", "replace files in the container embedded at this path")

	return cmd
}

// parseReplacements splits path=hostfile arguments.
func parseReplacements(args []string) ([]replacement, error) {
	out := make([]replacement, 0, len(args))
	for _, arg := range args {
		path, host, ok := strings.Cut(arg, "=")
		if !ok || path == "" || host == "" {
			return nil, fmt.Errorf("%w: %q, want path=hostfile", nitrofs.ErrInvalidPath, arg)
		}

		out = append(out, replacement{path: path, host: host})
	}

	return out, nil
}

// stageAll stages every host file into c.
func (a *app) stageAll(c *nitrofs.Container, edits []replacement) error {
	for _, e := range edits {
		f, err := a.fs.Open(e.host)
		if err != nil {
			return err
		}

		err = c.StageReader(e.path, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("stage %s: %w", e.path, err)
		}

		a.logger.Debug("staged", "path", e.path, "host", e.host)
	}

	return nil
}

// save writes c in place or to output.
func (a *app) save(ctx context.Context, c *nitrofs.Container, output string) (*nitrofs.RewriteResult, error) {
	if output == "" {
		return c.Save(ctx)
	}

	return c.SaveAs(ctx, output)
}

// logResult reports rewrite statistics.
func (a *app) logResult(msg string, target string, res *nitrofs.RewriteResult) {
	a.logger.Info(msg,
		"target", target,
		"edits", res.Edits,
		"files", res.Files,
		"old_size", res.OldSize,
		"new_size", res.NewSize,
		"delta", res.Delta,
		"digest", res.Digest,
		"duration", res.Duration)
}
