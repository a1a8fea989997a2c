package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voltchain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_NoPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
namespace: coop-north
database:
  path: /var/lib/voltchain/ledger.db
pool:
  asset_field: enx_mint
log:
  level: debug
  format: json
settlement:
  authority: operator
  schedule: "0 */15 * * * *"
  workers: 8
  report_dir: /tmp/reports
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "coop-north", cfg.Namespace)
	assert.Equal(t, "/var/lib/voltchain/ledger.db", cfg.Database.Path)
	assert.Equal(t, "enx_mint", cfg.Pool.AssetField)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "operator", cfg.Settlement.Authority)
	assert.Equal(t, 8, cfg.Settlement.Workers)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "namespace: solar\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "solar", cfg.Namespace)
	assert.Equal(t, "credit_mint", cfg.Pool.AssetField)
	assert.Equal(t, 4, cfg.Settlement.Workers)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(writeConfig(t, "namespce: typo\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "namespce")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VOLTCHAIN_NAMESPACE", "from-env")
	t.Setenv("VOLTCHAIN_ASSET_FIELD", "voltchain_mint")
	t.Setenv("VOLTCHAIN_WORKERS", "2")
	t.Setenv("VOLTCHAIN_DB", "env.db")

	cfg, err := Load(writeConfig(t, "namespace: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Namespace)
	assert.Equal(t, "voltchain_mint", cfg.Pool.AssetField)
	assert.Equal(t, 2, cfg.Settlement.Workers)
	assert.Equal(t, "env.db", cfg.Database.Path)
}

func TestLoad_EnvWorkersNotNumber(t *testing.T) {
	t.Setenv("VOLTCHAIN_WORKERS", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VOLTCHAIN_WORKERS")
}

func TestValidate_Schema(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty namespace", func(c *Config) { c.Namespace = "" }, "namespace"},
		{"namespace with spaces", func(c *Config) { c.Namespace = "two words" }, "namespace"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "path"},
		{"asset field uppercase", func(c *Config) { c.Pool.AssetField = "Mint" }, "asset_field"},
		{"asset field shadows authority", func(c *Config) { c.Pool.AssetField = "authority" }, "asset_field"},
		{"asset field shadows payer", func(c *Config) { c.Pool.AssetField = "payer" }, "asset_field"},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }, "level"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "format"},
		{"zero workers", func(c *Config) { c.Settlement.Workers = 0 }, "workers"},
		{"too many workers", func(c *Config) { c.Settlement.Workers = 65 }, "workers"},
		{"empty schedule", func(c *Config) { c.Settlement.Schedule = "" }, "schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestSlogLevel(t *testing.T) {
	cfg := Default()
	for level, want := range map[string]string{
		"debug": "DEBUG",
		"info":  "INFO",
		"warn":  "WARN",
		"error": "ERROR",
		"":      "INFO",
	} {
		cfg.Log.Level = level
		assert.Equal(t, want, cfg.SlogLevel().String(), level)
	}
}
