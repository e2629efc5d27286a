package chat

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config carries the session wiring: where the chat channel and auth
// service live, where local state is kept, and how chatty the logs are.
type Config struct {
	// ServerURL is the websocket address of the chat server (ws:// or wss://).
	ServerURL string `yaml:"serverUrl" env:"CHATLINK_SERVER_URL"`
	// AuthURL is the base URL of the token issuer. Empty means connect
	// unauthenticated; the server may still serve read-only history.
	AuthURL string `yaml:"authUrl" env:"CHATLINK_AUTH_URL"`
	// KeyFile is the path to the local identity keyfile.
	KeyFile string `yaml:"keyFile" env:"CHATLINK_KEY_FILE"`
	// CacheDir is where issued credentials are persisted across restarts.
	CacheDir string `yaml:"cacheDir" env:"CHATLINK_CACHE_DIR"`
	// HandshakeTimeout bounds credential issuance plus the transport dial.
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout" env:"CHATLINK_HANDSHAKE_TIMEOUT"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel" env:"CHATLINK_LOG_LEVEL"`
}

// LoadConfig reads a YAML config file, applies environment overrides, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml from %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks required fields and fills defaults.
func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("serverUrl is required")
	}
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return fmt.Errorf("serverUrl must be a ws:// or wss:// address, got %q", c.ServerURL)
	}
	if c.AuthURL != "" && !strings.HasPrefix(c.AuthURL, "http://") && !strings.HasPrefix(c.AuthURL, "https://") {
		return fmt.Errorf("authUrl must be an http:// or https:// address, got %q", c.AuthURL)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logLevel must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}
