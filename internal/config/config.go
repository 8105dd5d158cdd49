// Package config loads the nowplaying configuration.
package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Defaults.
const (
	DefaultSourceAppID  = "spotify"
	DefaultCoverMaxSize = 256
)

type Config struct {
	SourceAppID  string `koanf:"source_app_id"`  // application to monitor, matched case-insensitively
	CoverMaxSize int    `koanf:"cover_max_size"` // decoded cover art bound in pixels
	LogLevel     string `koanf:"log_level"`      // "debug", "info", "warn" or "error"
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SourceAppID == "" {
		cfg.SourceAppID = DefaultSourceAppID
	}
	if cfg.CoverMaxSize <= 0 {
		cfg.CoverMaxSize = DefaultCoverMaxSize
	}
}

func getConfigPaths() []string {
	paths := []string{
		// 1. $XDG_CONFIG_HOME/nowplaying/config.toml
		filepath.Join(xdg.ConfigHome, "nowplaying", "config.toml"),
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

// activeConfigPath returns the first existing config file, or "".
func activeConfigPath() string {
	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Watch reloads the configuration whenever the config file changes and
// hands the result to fn. It returns a stop function. Without a config
// file there is nothing to watch and the stop function is a no-op.
func Watch(fn func(*Config)) (func(), error) {
	path := activeConfigPath()
	if path == "" {
		return func() {}, nil
	}

	provider := file.Provider(path)
	err := provider.Watch(func(_ interface{}, err error) {
		if err != nil {
			slog.Warn("config watch error", "error", err)
			return
		}
		cfg, err := Load()
		if err != nil {
			slog.Warn("config reload failed", "error", err)
			return
		}
		slog.Info("config reloaded", "path", path)
		fn(cfg)
	})
	if err != nil {
		return func() {}, err
	}
	return func() { _ = provider.Unwatch() }, nil
}
