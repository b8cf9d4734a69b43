// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

// Package config loads nitrofs CLI settings from a config file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. NITROFS_LOG_LEVEL.
const EnvPrefix = "NITROFS"

// ErrInvalid reports a config value outside its allowed set.
var ErrInvalid = errors.New("invalid configuration")

// Config holds CLI settings.
type Config struct {
	LogLevel       string   `mapstructure:"log_level"`
	LogFormat      string   `mapstructure:"log_format"`
	Format         string   `mapstructure:"format"`
	Compression    string   `mapstructure:"compression"`
	ScratchDir     string   `mapstructure:"scratch_dir"`
	StageCompress  []string `mapstructure:"stage_compress"`
	BackupKeep     int      `mapstructure:"backup_keep"`
	BackupCompress bool     `mapstructure:"backup_compress"`
	Workers        int      `mapstructure:"workers"`
	Progress       bool     `mapstructure:"progress"`
}

var (
	logLevels   = []string{"debug", "info", "warn", "error"}
	logFormats  = []string{"text", "json"}
	formats     = []string{"auto", "rom", "narc", "sdat", "utility"}
	compression = []string{"auto", "none", "lz10", "lz11"}
)

// Load reads cfgFile, or nitrofs.yaml from the working or home directory
// when cfgFile is empty, then applies NITROFS_* environment overrides.
// A missing default config file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("format", "auto")
	v.SetDefault("compression", "auto")
	v.SetDefault("scratch_dir", "")
	v.SetDefault("stage_compress", []string{})
	v.SetDefault("backup_keep", 1)
	v.SetDefault("backup_compress", false)
	v.SetDefault("workers", 0)
	v.SetDefault("progress", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName("nitrofs")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks enumerated values and numeric bounds.
func (c *Config) Validate() error {
	checks := []struct {
		key     string
		value   string
		allowed []string
	}{
		{key: "log_level", value: c.LogLevel, allowed: logLevels},
		{key: "log_format", value: c.LogFormat, allowed: logFormats},
		{key: "format", value: c.Format, allowed: formats},
		{key: "compression", value: c.Compression, allowed: compression},
	}

	for _, check := range checks {
		if !slices.Contains(check.allowed, strings.ToLower(check.value)) {
			return fmt.Errorf("%w: %s %q (want one of %s)", ErrInvalid, check.key, check.value, strings.Join(check.allowed, ", "))
		}
	}

	if c.BackupKeep < 0 {
		return fmt.Errorf("%w: backup_keep %d is negative", ErrInvalid, c.BackupKeep)
	}

	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d is negative", ErrInvalid, c.Workers)
	}

	return nil
}
