package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "127.0.0.1:1080", cfg.Server.Address)
	require.Equal(t, 15*time.Second, cfg.Server.ConnectTimeout)
	require.Empty(t, cfg.Server.CredentialsFile, "no-auth by default")
	require.False(t, cfg.WebSocket.Enabled)
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
log:
  level: debug
  format: json

server:
  address: "0.0.0.0:1080"
  max_connections: 500
  credentials_file: "/etc/socksd/users.json"
`
	cfg, err := Parse([]byte(yamlConfig))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "0.0.0.0:1080", cfg.Server.Address)
	require.Equal(t, 500, cfg.Server.MaxConnections)
	require.Equal(t, "/etc/socksd/users.json", cfg.Server.CredentialsFile)
}

func TestParse_InvalidLogLevel(t *testing.T) {
	_, err := Parse([]byte("log:\n  level: verbose\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "log.level")
}

func TestParse_NegativeMaxConnections(t *testing.T) {
	_, err := Parse([]byte("server:\n  max_connections: -1\n"))
	require.Error(t, err)
}

func TestParse_WebSocketRequiresTLSUnlessPlaintext(t *testing.T) {
	_, err := Parse([]byte("websocket:\n  enabled: true\n  address: \"0.0.0.0:8443\"\n"))
	require.Error(t, err)

	cfg, err := Parse([]byte("websocket:\n  enabled: true\n  address: \"0.0.0.0:8080\"\n  plaintext: true\n"))
	require.NoError(t, err)
	require.True(t, cfg.WebSocket.PlainText)
}

func TestParse_EnvVarExpansion(t *testing.T) {
	os.Setenv("SOCKSD_TEST_ADDR", "0.0.0.0:1081")
	defer os.Unsetenv("SOCKSD_TEST_ADDR")

	cfg, err := Parse([]byte("server:\n  address: \"${SOCKSD_TEST_ADDR}\"\n"))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:1081", cfg.Server.Address)
}

func TestParse_EnvVarDefault(t *testing.T) {
	os.Unsetenv("SOCKSD_MISSING_VAR")

	cfg, err := Parse([]byte("server:\n  address: \"${SOCKSD_MISSING_VAR:-127.0.0.1:9999}\"\n"))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.Server.Address)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoad_FromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \"127.0.0.1:1090\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:1090", cfg.Server.Address)
}
