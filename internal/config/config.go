// Package config loads voltchain settings from a YAML file, applies
// VOLTCHAIN_* environment overrides and checks the result against an
// embedded CUE schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "VOLTCHAIN_"

// Config holds all application configuration.
type Config struct {
	Namespace  string           `yaml:"namespace" json:"namespace"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Pool       PoolConfig       `yaml:"pool" json:"pool"`
	Log        LogConfig        `yaml:"log" json:"log"`
	Settlement SettlementConfig `yaml:"settlement" json:"settlement"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

type PoolConfig struct {
	// AssetField is the notification key that carries the pool's credit mint.
	AssetField string `yaml:"asset_field" json:"asset_field"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type SettlementConfig struct {
	Authority string `yaml:"authority" json:"authority"`
	Schedule  string `yaml:"schedule" json:"schedule"`
	Workers   int    `yaml:"workers" json:"workers"`
	ReportDir string `yaml:"report_dir" json:"report_dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Namespace: "default",
		Database:  DatabaseConfig{Path: "voltchain.db"},
		Pool:      PoolConfig{AssetField: "credit_mint"},
		Log:       LogConfig{Level: "info", Format: "text"},
		Settlement: SettlementConfig{
			Schedule:  "0 0 * * * *",
			Workers:   4,
			ReportDir: "reports",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos in the file surface early.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"NAMESPACE":   &cfg.Namespace,
		"DB":          &cfg.Database.Path,
		"ASSET_FIELD": &cfg.Pool.AssetField,
		"LOG_LEVEL":   &cfg.Log.Level,
		"LOG_FORMAT":  &cfg.Log.Format,
		"AUTHORITY":   &cfg.Settlement.Authority,
		"SCHEDULE":    &cfg.Settlement.Schedule,
		"REPORT_DIR":  &cfg.Settlement.ReportDir,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sWORKERS: %w", EnvPrefix, err)
		}
		cfg.Settlement.Workers = n
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a text or JSON slog logger writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
