// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

// Command nitrofs inspects, extracts and edits NitroFS containers.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/woozymasta/nitrofs"
	"github.com/woozymasta/nitrofs/internal/config"
	"github.com/woozymasta/nitrofs/internal/progress"
	"github.com/woozymasta/pathrules"
)

// app carries state shared by all subcommands.
type app struct {
	fs     afero.Fs
	cfg    *config.Config
	logger *slog.Logger
	// logOut receives log records.
	logOut io.Writer

	cfgFile     string
	format      string
	compression string
	logLevel    string
	logFormat   string
	noProgress  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(afero.NewOsFs(), os.Stderr).ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree over fs, logging to logOut.
func newRootCmd(fs afero.Fs, logOut io.Writer) *cobra.Command {
	a := &app{fs: fs, logOut: logOut}

	rootCmd := &cobra.Command{
		Use:   "nitrofs",
		Short: "NitroFS container inspection and editing tool",
		Long: `nitrofs reads and edits the file systems embedded in Nintendo DS
containers: ROM images, NARC archives, SDAT sound banks and utility blobs.

Replaced files keep their start offsets; following data is relocated and the
FAT plus format headers are patched on save.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is nitrofs.yaml in pwd or home)")
	rootCmd.PersistentFlags().StringVarP(&a.format, "format", "f", "", "container format (auto, rom, narc, sdat, utility)")
	rootCmd.PersistentFlags().StringVarP(&a.compression, "compression", "c", "", "whole-file compression (auto, none, lz10, lz11)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&a.noProgress, "no-progress", false, "disable progress bar")

	rootCmd.AddCommand(
		a.newInfoCmd(),
		a.newListCmd(),
		a.newCatCmd(),
		a.newExtractCmd(),
		a.newReplaceCmd(),
		a.newRestoreCmd(),
		a.newLZCmd(),
		a.newPackCmd(),
	)

	return rootCmd
}

// setup loads config, applies flag overrides and installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Format = a.format
	}
	if flags.Changed("compression") {
		cfg.Compression = a.compression
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if flags.Changed("no-progress") {
		cfg.Progress = !a.noProgress
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(a.logOut, &tint.Options{Level: level})
	}

	a.cfg = cfg
	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)

	a.logger.Debug("configuration",
		"format", cfg.Format,
		"compression", cfg.Compression,
		"scratch_dir", cfg.ScratchDir,
		"backup_keep", cfg.BackupKeep,
		"backup_compress", cfg.BackupCompress,
		"workers", cfg.Workers,
		"progress", cfg.Progress)

	return nil
}

// openOptions maps the loaded config to container open options.
func (a *app) openOptions() nitrofs.OpenOptions {
	return nitrofs.OpenOptions{
		Logger:      a.logger,
		Format:      nitrofs.Format(strings.ToLower(a.cfg.Format)),
		Compression: nitrofs.Compression(strings.ToLower(a.cfg.Compression)),
		ScratchRoot: a.cfg.ScratchDir,
		Stage: nitrofs.StageOptions{
			Compress: parseRules(a.cfg.StageCompress),
		},
		Backup: nitrofs.BackupOptions{
			Keep:     a.cfg.BackupKeep,
			Compress: a.cfg.BackupCompress,
		},
	}
}

// open opens a container and, when nested is set, the container embedded at
// that path. The caller closes both.
func (a *app) open(path string, nested string) (*nitrofs.Container, *nitrofs.Container, error) {
	c, err := nitrofs.Open(a.fs, path, a.openOptions())
	if err != nil {
		return nil, nil, err
	}

	if nested == "" {
		return c, nil, nil
	}

	inner, err := c.OpenNested(nested, nitrofs.OpenOptions{Format: nitrofs.FormatAuto, Compression: nitrofs.CompressionAuto})
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}

	return c, inner, nil
}

// newBar returns a file counter bar honoring the progress setting.
func (a *app) newBar(total int) *progress.Bar {
	return progress.New(total, a.cfg.Progress)
}

// parseRules turns CLI patterns into ordered rules; a leading "!" excludes.
func parseRules(patterns []string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, p := range patterns {
		if rest, ok := strings.CutPrefix(p, "!"); ok {
			rules = append(rules, pathrules.Rule{Action: pathrules.ActionExclude, Pattern: rest})
			continue
		}

		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}

	return rules
}
