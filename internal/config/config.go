package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/artemis/schema-migrate/internal/observability"
)

// Config holds all application configuration for migrationworkerd.
type Config struct {
	// Server configuration
	HTTPAddr string `json:"http_addr"`

	// Persistence configuration
	BadgerDir string `json:"badger_dir"`

	// Client database configuration
	ClientDSN          string        `json:"client_dsn"`
	ClientMaxOpenConns int           `json:"client_max_open_conns"`
	ClientMaxIdleConns int           `json:"client_max_idle_conns"`
	ClientConnLifetime time.Duration `json:"client_conn_lifetime"`

	// Worker configuration
	MailboxBuffer int `json:"mailbox_buffer"`

	// ScanInterval governs the optional reconciliation loop that re-kicks
	// workers for migrations ScanPending finds still Pending after a
	// restart (spec.md's "polling fallback" note).
	ScanInterval time.Duration `json:"scan_interval"`

	// Logging configuration
	LogLevel string `json:"log_level"`

	// Data directory for Badger state and config
	DataDir string `json:"data_dir"`

	mu sync.RWMutex
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:           ":8080",
		BadgerDir:          "",
		ClientDSN:          "",
		ClientMaxOpenConns: 10,
		ClientMaxIdleConns: 2,
		ClientConnLifetime: 5 * time.Minute,
		MailboxBuffer:      32,
		ScanInterval:       30 * time.Second,
		LogLevel:           "info",
		DataDir:            "",
	}
}

// LoadConfig loads configuration from a file or returns default config.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, ".schema-migrate", "config.json")
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if cfg.DataDir == "" {
			if homeDir, err := os.UserHomeDir(); err == nil {
				cfg.DataDir = filepath.Join(homeDir, ".schema-migrate")
			}
		}
		if cfg.BadgerDir == "" && cfg.DataDir != "" {
			cfg.BadgerDir = filepath.Join(cfg.DataDir, "badger")
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Save saves the configuration to a file via temp-file + atomic rename.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".schema-migrate", "config.json")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("config: failed to write config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: failed to rename config file: %w", err)
	}

	return nil
}

// Redact returns a redacted copy of the config for logging.
func (c *Config) Redact() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"http_addr":         c.HTTPAddr,
		"badger_dir":        c.BadgerDir,
		"client_dsn":        observability.RedactString(c.ClientDSN),
		"mailbox_buffer":    c.MailboxBuffer,
		"scan_interval":     c.ScanInterval,
		"log_level":         c.LogLevel,
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaults.HTTPAddr
	}
	if cfg.ClientMaxOpenConns == 0 {
		cfg.ClientMaxOpenConns = defaults.ClientMaxOpenConns
	}
	if cfg.ClientMaxIdleConns == 0 {
		cfg.ClientMaxIdleConns = defaults.ClientMaxIdleConns
	}
	if cfg.ClientConnLifetime == 0 {
		cfg.ClientConnLifetime = defaults.ClientConnLifetime
	}
	if cfg.MailboxBuffer == 0 {
		cfg.MailboxBuffer = defaults.MailboxBuffer
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = defaults.ScanInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.DataDir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(homeDir, ".schema-migrate")
		}
	}
	if cfg.BadgerDir == "" && cfg.DataDir != "" {
		cfg.BadgerDir = filepath.Join(cfg.DataDir, "badger")
	}
}
