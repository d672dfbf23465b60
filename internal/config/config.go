// Package config provides TOML configuration file loading and parsing for
// the gateway's local bootstrap settings. This is distinct from the
// protocol configuration the host pushes over the host-link after connect
// (require_auth, trusted_clients, tick_time, ...) which lives in
// internal/hostlink and is never file-backed.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the gateway's local bootstrap configuration. CLI flags always
// take precedence over values loaded from file.
type Config struct {
	// Addr is the host:port the HTTP/WebSocket surface listens on.
	// Default: 127.0.0.1:7125
	Addr string `toml:"addr"`

	// SocketPath is the filesystem path of the Unix socket the host
	// connects to. Default: ~/.printbridge/gateway.sock
	SocketPath string `toml:"socket_path"`

	// LogLevel controls zerolog verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// LogFile is the path for daemon log output. Empty means stderr.
	LogFile string `toml:"log_file"`

	// APIKeyPath is the path to the persisted API key file.
	// Default: ~/.printbridge/.gateway_api_key
	APIKeyPath string `toml:"api_key_path"`
}

// DefaultConfigPath returns ~/.printbridge/gateway.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".printbridge", "gateway.toml"), nil
}

// Defaults returns a Config populated with the gateway's built-in defaults.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".printbridge")
	return &Config{
		Addr:       "127.0.0.1:7125",
		SocketPath: filepath.Join(base, "gateway.sock"),
		LogLevel:   "info",
		APIKeyPath: filepath.Join(base, ".gateway_api_key"),
	}
}

// Load reads a TOML config file from the given path, starting from
// Defaults() and overlaying any values present in the file.
//
// If path is empty, Load tries the default location and returns the
// defaults unchanged if that file doesn't exist. If path is explicit,
// a missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// WriteDefault creates a config file with the built-in defaults at path,
// unless one already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	d := Defaults()
	content := fmt.Sprintf(`# printbridge gateway configuration

addr = %q
socket_path = %q
log_level = %q
api_key_path = %q
`, d.Addr, d.SocketPath, d.LogLevel, d.APIKeyPath)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
