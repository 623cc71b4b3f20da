package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config represents the global ~/.tribe/config.toml.
type Config struct {
	DefaultProfile string         `toml:"default_profile" envconfig:"PROFILE"`
	API            APIConfig      `toml:"api"`
	Upload         UploadConfig   `toml:"upload"`
	Drafts         DraftsConfig   `toml:"drafts"`
	Cache          CacheConfig    `toml:"cache"`
	Outbox         OutboxConfig   `toml:"outbox"`
	Keystore       KeystoreConfig `toml:"-"`
}

// KeystoreConfig holds secrets that never live in config.toml.
type KeystoreConfig struct {
	Passphrase string `envconfig:"PASSPHRASE"`
}

// APIConfig configures the authenticated REST client.
type APIConfig struct {
	BaseURL string   `toml:"base_url" envconfig:"BASE_URL"`
	Timeout Duration `toml:"timeout" envconfig:"TIMEOUT"`
	// RefreshWindow coalesces refresh calls completing within this window.
	RefreshWindow Duration `toml:"refresh_window" envconfig:"REFRESH_WINDOW"`
}

// UploadConfig selects and configures the media upload backend.
type UploadConfig struct {
	Backend     string `toml:"backend" envconfig:"BACKEND"` // "s3" or "http"
	Bucket      string `toml:"bucket" envconfig:"BUCKET"`
	Region      string `toml:"region" envconfig:"REGION"`
	Endpoint    string `toml:"endpoint" envconfig:"ENDPOINT"`
	PublicBase  string `toml:"public_base" envconfig:"PUBLIC_BASE"`
	AccessKey   string `toml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey   string `toml:"secret_key" envconfig:"SECRET_KEY"`
	HTTPBaseURL string `toml:"http_base_url" envconfig:"HTTP_BASE_URL"`
}

// DraftsConfig tunes the draft lifecycle.
type DraftsConfig struct {
	StuckAfter Duration `toml:"stuck_after" envconfig:"STUCK_AFTER"`
}

// CacheConfig tunes the local blob cache.
type CacheConfig struct {
	Expiry       Duration `toml:"expiry" envconfig:"EXPIRY"`
	TrimInterval Duration `toml:"trim_interval" envconfig:"TRIM_INTERVAL"`
}

// OutboxConfig tunes the draft poster.
type OutboxConfig struct {
	Interval Duration `toml:"interval" envconfig:"INTERVAL"`
}

// Duration is a time.Duration that decodes from strings like "10s" in both toml and env.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Timeout:       Duration{30 * time.Second},
			RefreshWindow: Duration{time.Second},
		},
		Upload: UploadConfig{Backend: "s3"},
		Drafts: DraftsConfig{StuckAfter: Duration{2 * time.Minute}},
		Cache: CacheConfig{
			Expiry:       Duration{10 * 24 * time.Hour},
			TrimInterval: Duration{time.Hour},
		},
		Outbox: OutboxConfig{Interval: Duration{2 * time.Second}},
	}
}

// Load reads config from the given path on top of Default. Returns error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv reads the config file if present, then applies TRIBE_* environment overrides.
// Nested sections map to TRIBE_<SECTION>_<FIELD>, e.g. TRIBE_API_BASE_URL.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}
	if err := envconfig.Process("tribe", cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
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
