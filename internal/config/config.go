package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.portalchat/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	Storage        Storage `toml:"storage"`
	Unread         Unread  `toml:"unread"`
	Alerts         Alerts  `toml:"alerts"`
	Metrics        Metrics `toml:"metrics"`
}

// Storage selects the key-value backend.
type Storage struct {
	// Backend is one of memory, sqlite, pebble or valkey.
	Backend string `toml:"backend"`
	// Codec is json or cbor.
	Codec      string `toml:"codec"`
	ValkeyAddr string `toml:"valkey_addr"`
}

// Unread selects how unread messages are counted.
type Unread struct {
	Mode string `toml:"mode"`
}

// Alerts configures new-message notifications.
type Alerts struct {
	Enabled   bool   `toml:"enabled"`
	Bell      bool   `toml:"bell"`
	Command   string `toml:"command"`
	PerMinute int    `toml:"per_minute"`
}

// Metrics configures the Prometheus listener. An empty Addr disables it.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Backends lists the accepted storage backend names.
var Backends = []string{"memory", "sqlite", "pebble", "valkey"}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Storage: Storage{
			Backend:    "sqlite",
			Codec:      "json",
			ValkeyAddr: "127.0.0.1:6379",
		},
		Unread: Unread{Mode: "watermark"},
		Alerts: Alerts{
			Enabled:   true,
			Bell:      true,
			Command:   "notify-send",
			PerMinute: 20,
		},
	}
}

// Load reads config from the given path on top of Default.
// Returns nil and an error if the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadEnvFile loads variables from a .env file into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// Environment variable names that override config values.
const (
	EnvProfile        = "PORTALCHAT_PROFILE"
	EnvStorageBackend = "PORTALCHAT_STORAGE_BACKEND"
	EnvStorageCodec   = "PORTALCHAT_STORAGE_CODEC"
	EnvValkeyAddr     = "PORTALCHAT_VALKEY_ADDR"
	EnvUnreadMode     = "PORTALCHAT_UNREAD_MODE"
	EnvMetricsAddr    = "PORTALCHAT_METRICS_ADDR"
)

// ApplyEnv overrides fields from environment variables read through lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvProfile, &c.DefaultProfile)
	set(EnvStorageBackend, &c.Storage.Backend)
	set(EnvStorageCodec, &c.Storage.Codec)
	set(EnvValkeyAddr, &c.Storage.ValkeyAddr)
	set(EnvUnreadMode, &c.Unread.Mode)
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.Metrics.Addr = strings.TrimSpace(v)
	}
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	backend := strings.ToLower(c.Storage.Backend)
	valid := false
	for _, b := range Backends {
		if backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("storage.backend %q: want one of %s", c.Storage.Backend, strings.Join(Backends, ", "))
	}
	switch strings.ToLower(c.Storage.Codec) {
	case "", "json", "cbor":
	default:
		return fmt.Errorf("storage.codec %q: want json or cbor", c.Storage.Codec)
	}
	switch strings.ToLower(c.Unread.Mode) {
	case "", "watermark", "receipts":
	default:
		return fmt.Errorf("unread.mode %q: want watermark or receipts", c.Unread.Mode)
	}
	if backend == "valkey" && c.Storage.ValkeyAddr == "" {
		return fmt.Errorf("storage.valkey_addr is required for the valkey backend")
	}
	if c.Alerts.PerMinute < 0 {
		return fmt.Errorf("alerts.per_minute must not be negative")
	}
	return nil
}
