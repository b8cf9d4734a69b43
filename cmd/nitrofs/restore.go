// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package main

import (
	"github.com/spf13/cobra"
	"github.com/woozymasta/nitrofs"
)

func (a *app) newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <container>",
		Short: "Restore a container from its newest backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			backup, err := nitrofs.RestoreBackup(a.fs, args[0])
			if err != nil {
				return err
			}

			a.logger.Info("restored", "container", args[0], "backup", backup)

			return nil
		},
	}
}
