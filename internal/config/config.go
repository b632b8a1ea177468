// Package config provides configuration parsing and validation for the proxy.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file shape. Credentials are not
// embedded here: they live in a separate JSON file named by
// Server.CredentialsFile (see internal/credentials), so rotating a password
// never requires touching this file.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Health    HealthConfig    `yaml:"health"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ServerConfig configures the TCP SOCKS5 listener.
type ServerConfig struct {
	Address            string        `yaml:"address"`
	MaxConnections     int           `yaml:"max_connections"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	CredentialsFile    string        `yaml:"credentials_file"`
}

// WebSocketConfig configures the optional WebSocket transport that tunnels
// the same SOCKS5 session over an HTTP(S) upgrade.
type WebSocketConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
	PlainText bool   `yaml:"plaintext"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
	BasicAuth bool   `yaml:"basic_auth"`
}

// HealthConfig configures the /healthz and /metrics HTTP endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the configuration the server runs with when no file is
// supplied: no credentials file (no-auth mode), WebSocket and health both off.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Address:            "127.0.0.1:1080",
			MaxConnections:     1000,
			NegotiationTimeout: 10 * time.Second,
			ConnectTimeout:     15 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Address: "127.0.0.1:1443",
			Path:    "/socks5",
		},
		Health: HealthConfig{
			Address: "127.0.0.1:9090",
		},
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, starting from Default and
// validating the result.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR references, including ${VAR:-default}.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors, collecting every problem
// found rather than failing on the first.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level: invalid value %q (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("log.format: invalid value %q (must be text or json)", c.Log.Format))
	}

	if c.Server.Address == "" {
		errs = append(errs, "server.address is required")
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, "server.max_connections must not be negative")
	}

	if c.WebSocket.Enabled {
		if c.WebSocket.Address == "" {
			errs = append(errs, "websocket.address is required when websocket.enabled")
		}
		if !c.WebSocket.PlainText && (c.WebSocket.TLSCert == "" || c.WebSocket.TLSKey == "") {
			errs = append(errs, "websocket.tls_cert and websocket.tls_key are required unless websocket.plaintext is set")
		}
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when health.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}
