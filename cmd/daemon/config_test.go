package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0o600))
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	stateDir := t.TempDir()
	cfg, err := loadConfig([]string{"--config_dir", t.TempDir(), "--state_dir", stateDir})
	require.NoError(t, err)

	assert.Equal(t, stateDir, cfg.StateDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "_lanpresence._tcp.local.", cfg.ServiceType)
	assert.Equal(t, "builtin", cfg.ZeroconfBackend)
	assert.Equal(t, 10*time.Second, cfg.BrowseInterval)
	assert.Equal(t, 3, cfg.ExpireRounds)
	assert.True(t, cfg.PublishOnStart)
	assert.True(t, cfg.Server.Enabled)
	assert.NotEmpty(t, cfg.DeviceName)

	// the announced port defaults to the api server one
	assert.Equal(t, cfg.Server.Port, cfg.AnnouncePort)
}

func TestLoadConfigFile(t *testing.T) {
	dir := writeConfigFile(t, `
log_level: debug
device_name: Kitchen
browse_interval: 30s
announce_port: 4000
publish_on_start: false
interfaces: [lo]
server:
  enabled: false
`)

	cfg, err := loadConfig([]string{"--config_dir", dir})
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "Kitchen", cfg.DeviceName)
	assert.Equal(t, 30*time.Second, cfg.BrowseInterval)
	assert.Equal(t, 4000, cfg.AnnouncePort)
	assert.Equal(t, []string{"lo"}, cfg.Interfaces)
	assert.False(t, cfg.PublishOnStart)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	dir := writeConfigFile(t, "log_level: debug\ndevice_name: Kitchen\npublish_on_start: false\n")

	cfg, err := loadConfig([]string{"--config_dir", dir, "--log_level", "trace"})
	require.NoError(t, err)

	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, "Kitchen", cfg.DeviceName)
	assert.False(t, cfg.PublishOnStart, "unset flags must not override the file")
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := loadConfig([]string{"--config_dir", writeConfigFile(t, "server:\n  enabled: false\n")})
	require.ErrorContains(t, err, "announce_port")

	_, err = loadConfig([]string{"--config_dir", writeConfigFile(t, "browse_interval: 10ms\n")})
	require.ErrorContains(t, err, "browse_interval")

	_, err = loadConfig([]string{"--config_dir", writeConfigFile(t, "expire_rounds: 0\n")})
	require.ErrorContains(t, err, "expire_rounds")

	_, err = loadConfig([]string{"--config_dir", writeConfigFile(t, "log_level: [\n")})
	require.ErrorContains(t, err, "failed reading configuration file")

	_, err = loadConfig([]string{"--help"})
	require.ErrorIs(t, err, pflag.ErrHelp)
}

func TestConfigInterfaces(t *testing.T) {
	cfg := &Config{Interfaces: []string{"definitely-not-an-interface0"}}
	_, err := cfg.interfaces()
	require.Error(t, err)

	cfg.Interfaces = nil
	ifaces, err := cfg.interfaces()
	require.NoError(t, err)
	assert.Empty(t, ifaces)
}
