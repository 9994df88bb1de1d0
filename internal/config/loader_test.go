package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfigWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolvedPath, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, path, resolvedPath)
	require.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "a default config file is written on first run")
}

func TestLoadReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9999\"\nlog_level: debug\n"), 0o600))

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Addr)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, Default().Environment, cfg.Environment, "unset keys keep their defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9999\"\n"), 0o600))
	t.Setenv("MESSAGING_ADDR", ":7777")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.Addr)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed\n"), 0o600))

	_, _, err := Load(nil, path)
	require.Error(t, err)
}
