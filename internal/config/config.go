// Package config handles client configuration from environment variables.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all client configuration.
type Config struct {
	// Connection
	ServerURL  string // WebSocket URL (ws:// or wss://)
	ClientName string // Human-readable client name reported in the hello frame

	// Storage
	DataDir string // Directory for the durable key/value store

	// Liveness
	PingInterval     time.Duration // How often to send liveness probes
	StallThreshold   time.Duration // Silence after which the watchdog force-closes
	WatchdogInterval time.Duration // How often the watchdog checks for a stall

	// Reconnection
	ReconnectBase    time.Duration // Initial reconnect delay
	ReconnectCap     time.Duration // Maximum reconnect delay
	ReconnectCeiling int           // Attempts after which the client reports degraded mode

	// Local status endpoint
	HTTPAddr string // Listen address for /health and /status (empty disables)

	// Behavior
	LogLevel string // Logging level (debug, info, warn, error)
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		ClientName:       hostname,
		DataDir:          defaultDataDir(),
		PingInterval:     30 * time.Second,
		StallThreshold:   75 * time.Second,
		WatchdogInterval: 5 * time.Second,
		ReconnectBase:    1 * time.Second,
		ReconnectCap:     60 * time.Second,
		ReconnectCeiling: 8,
		HTTPAddr:         "127.0.0.1:8844",
		LogLevel:         "info",
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".screenerbot")
	}
	return ".screenerbot"
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	// Required
	cfg.ServerURL = os.Getenv("SCREENERBOT_URL")
	if cfg.ServerURL == "" {
		return nil, errors.New("SCREENERBOT_URL is required")
	}

	// Optional
	if name := os.Getenv("SCREENERBOT_CLIENT_NAME"); name != "" {
		cfg.ClientName = name
	}

	if dir := os.Getenv("SCREENERBOT_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	if interval := os.Getenv("SCREENERBOT_PING_INTERVAL"); interval != "" {
		seconds, err := strconv.Atoi(interval)
		if err != nil {
			return nil, errors.New("SCREENERBOT_PING_INTERVAL must be a number (seconds)")
		}
		cfg.PingInterval = time.Duration(seconds) * time.Second
	}

	if threshold := os.Getenv("SCREENERBOT_STALL_THRESHOLD"); threshold != "" {
		seconds, err := strconv.Atoi(threshold)
		if err != nil {
			return nil, errors.New("SCREENERBOT_STALL_THRESHOLD must be a number (seconds)")
		}
		cfg.StallThreshold = time.Duration(seconds) * time.Second
	}

	if addr := os.Getenv("SCREENERBOT_HTTP_ADDR"); addr != "" {
		if addr == "off" || addr == "disabled" {
			cfg.HTTPAddr = ""
		} else {
			cfg.HTTPAddr = addr
		}
	}

	if level := os.Getenv("SCREENERBOT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return errors.New("server URL must start with ws:// or wss://")
	}
	if c.PingInterval < time.Second {
		return errors.New("ping interval must be at least 1 second")
	}
	if c.StallThreshold <= c.PingInterval {
		return errors.New("stall threshold must be greater than the ping interval")
	}
	if c.ReconnectBase <= 0 || c.ReconnectCap < c.ReconnectBase {
		return errors.New("reconnect cap must be at least the base delay")
	}
	if c.ReconnectCeiling < 1 {
		return errors.New("reconnect ceiling must be at least 1")
	}
	return nil
}
