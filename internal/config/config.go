// Package config holds runtime settings for the engine and the relay.
// Precedence: file > environment > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	Engine  *EngineConfig  `json:"engine"`
	Relay   *RelayConfig   `json:"relay"`
	Archive *ArchiveConfig `json:"archive"`
}

// EngineConfig tunes a collaboration engine instance.
type EngineConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	BackoffBase       time.Duration `json:"backoff_base"`
	BackoffCap        time.Duration `json:"backoff_cap"`
	MaxRetries        int           `json:"max_retries"`
	StaleThreshold    time.Duration `json:"stale_threshold"`
	HistoryCap        int           `json:"history_cap"`
	StunServers       []string      `json:"stun_servers"`
}

// RelayConfig tunes the relay daemon's HTTP listener.
type RelayConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// ArchiveConfig tunes the relay's SQLite archive.
type ArchiveConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns production defaults: 30s heartbeat, 1s-to-30s
// exponential reconnect backoff with 5 attempts, 90s presence staleness,
// 500-message history cap.
func DefaultConfig() *Config {
	return &Config{
		Engine: &EngineConfig{
			HeartbeatInterval: 30 * time.Second,
			BackoffBase:       time.Second,
			BackoffCap:        30 * time.Second,
			MaxRetries:        5,
			StaleThreshold:    90 * time.Second,
			HistoryCap:        500,
			StunServers:       []string{"stun:stun.l.google.com:19302"},
		},
		Relay: &RelayConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Archive: &ArchiveConfig{
			Path:    "./roomsync.db",
			Timeout: 30 * time.Second,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Engine == nil {
		return fmt.Errorf("engine configuration is required")
	}
	if c.Engine.HeartbeatInterval <= 0 {
		return fmt.Errorf("engine heartbeat interval must be positive")
	}
	if c.Engine.BackoffBase <= 0 {
		return fmt.Errorf("engine backoff base must be positive")
	}
	if c.Engine.BackoffCap < c.Engine.BackoffBase {
		return fmt.Errorf("engine backoff cap must be at least the base")
	}
	if c.Engine.MaxRetries <= 0 {
		return fmt.Errorf("engine max retries must be positive")
	}
	if c.Engine.StaleThreshold <= 0 {
		return fmt.Errorf("engine stale threshold must be positive")
	}
	if c.Engine.HistoryCap <= 0 {
		return fmt.Errorf("engine history cap must be positive")
	}
	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay port must be between 1 and 65535")
	}
	if c.Relay.Host == "" {
		return fmt.Errorf("relay host cannot be empty")
	}
	if c.Relay.ReadTimeout <= 0 {
		return fmt.Errorf("relay read timeout must be positive")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay write timeout must be positive")
	}
	if c.Archive == nil {
		return fmt.Errorf("archive configuration is required")
	}
	if c.Archive.Path == "" {
		return fmt.Errorf("archive path cannot be empty")
	}
	if c.Archive.Timeout <= 0 {
		return fmt.Errorf("archive timeout must be positive")
	}
	return nil
}

// LoadFromEnv returns defaults overridden by ROOMSYNC_* variables.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if v := os.Getenv("ROOMSYNC_RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Relay.Port = port
		}
	}
	if v := os.Getenv("ROOMSYNC_RELAY_HOST"); v != "" {
		config.Relay.Host = v
	}
	if v := os.Getenv("ROOMSYNC_ARCHIVE_PATH"); v != "" {
		config.Archive.Path = v
	}
	if v := os.Getenv("ROOMSYNC_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Engine.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("ROOMSYNC_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Engine.BackoffBase = d
		}
	}
	if v := os.Getenv("ROOMSYNC_BACKOFF_CAP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Engine.BackoffCap = d
		}
	}
	if v := os.Getenv("ROOMSYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Engine.MaxRetries = n
		}
	}
	if v := os.Getenv("ROOMSYNC_STALE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Engine.StaleThreshold = d
		}
	}
	if v := os.Getenv("ROOMSYNC_HISTORY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Engine.HistoryCap = n
		}
	}

	return config
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	Engine *struct {
		HeartbeatInterval string   `json:"heartbeat_interval"`
		BackoffBase       string   `json:"backoff_base"`
		BackoffCap        string   `json:"backoff_cap"`
		MaxRetries        int      `json:"max_retries"`
		StaleThreshold    string   `json:"stale_threshold"`
		HistoryCap        int      `json:"history_cap"`
		StunServers       []string `json:"stun_servers"`
	} `json:"engine"`
	Relay *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"relay"`
	Archive *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"archive"`
}

// LoadFromFile reads a JSON configuration file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := DefaultConfig()

	if file.Engine != nil {
		setDuration(&config.Engine.HeartbeatInterval, file.Engine.HeartbeatInterval)
		setDuration(&config.Engine.BackoffBase, file.Engine.BackoffBase)
		setDuration(&config.Engine.BackoffCap, file.Engine.BackoffCap)
		setDuration(&config.Engine.StaleThreshold, file.Engine.StaleThreshold)
		if file.Engine.MaxRetries > 0 {
			config.Engine.MaxRetries = file.Engine.MaxRetries
		}
		if file.Engine.HistoryCap > 0 {
			config.Engine.HistoryCap = file.Engine.HistoryCap
		}
		if len(file.Engine.StunServers) > 0 {
			config.Engine.StunServers = file.Engine.StunServers
		}
	}
	if file.Relay != nil {
		if file.Relay.Host != "" {
			config.Relay.Host = file.Relay.Host
		}
		if file.Relay.Port > 0 {
			config.Relay.Port = file.Relay.Port
		}
		setDuration(&config.Relay.ReadTimeout, file.Relay.ReadTimeout)
		setDuration(&config.Relay.WriteTimeout, file.Relay.WriteTimeout)
	}
	if file.Archive != nil {
		if file.Archive.Path != "" {
			config.Archive.Path = file.Archive.Path
		}
		setDuration(&config.Archive.Timeout, file.Archive.Timeout)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadWithPrecedence applies file > environment > defaults. A missing or
// unreadable file falls back to the environment layer.
func LoadWithPrecedence(path string) *Config {
	config := LoadFromEnv()
	if path != "" {
		if fileConfig, err := LoadFromFile(path); err == nil {
			config = fileConfig
		}
	}
	return config
}

func setDuration(dst *time.Duration, s string) {
	if s == "" {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}
