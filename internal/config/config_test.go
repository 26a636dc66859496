package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseValidYAML() string {
	return `
local_ipv4: "10.0.0.1"
local_mac: "02:00:00:00:00:01"
ipv4_prefix: "10.0.0.0/24"
runtime: "virtual-test"
`
}

func TestLoadRequiresIdentity(t *testing.T) {
	_, err := Load("")
	require.Error(t, err, "local_ipv4/local_mac/ipv4_prefix have no sane default")
}

func TestLoadDefaultsWithIdentity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(baseValidYAML()), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.LocalIPv4)
	assert.Equal(t, 1460, cfg.TCPMSS)
	assert.True(t, cfg.TCPWindowScale)
	assert.True(t, cfg.TCPTimestamps)
	assert.Equal(t, 5, cfg.ARPRetryCount)
	assert.Equal(t, "1s", cfg.ARPRequestTimeout)
	assert.False(t, cfg.Admin.Enabled)
	assert.Equal(t, "INFO", cfg.Log.Level)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	content := baseValidYAML() + `
tcp_mss: 1000
tcp_nodelay: true
admin:
  enabled: true
  port: 9090
log:
  level: "debug"
  structured: true
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.TCPMSS)
	assert.True(t, cfg.TCPNoDelay)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, 9090, cfg.Admin.Port)
	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.True(t, cfg.Log.Structured)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tcp_mss: [invalid"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeRejectsUnknownRuntime(t *testing.T) {
	content := baseValidYAML() + "\nruntime: \"bogus\"\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeRequiresInterfaceForRawSocket(t *testing.T) {
	content := `
local_ipv4: "10.0.0.1"
local_mac: "02:00:00:00:00:01"
ipv4_prefix: "10.0.0.0/24"
runtime: "raw-socket"
raw_socket:
  interface: ""
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(baseValidYAML()), 0644))

	t.Setenv("INETSTACK_TCP_MSS", "536")
	t.Setenv("INETSTACK_LOG_LEVEL", "warn")
	t.Setenv("INETSTACK_ADMIN_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 536, cfg.TCPMSS)
	assert.Equal(t, "WARN", cfg.Log.Level)
	assert.True(t, cfg.Admin.Enabled)
}
