package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent beacon configuration stored as config.toml
// in the .beacon/ directory. The TOML layout uses sections for logical
// grouping.
type Config struct {
	Version int           `toml:"version"`
	Storage StorageConfig `toml:"storage"`
	API     APIConfig     `toml:"api"`
	Auth    AuthConfig    `toml:"auth"`
	Keys    KeysConfig    `toml:"keys"`
	Flags   FlagsConfig   `toml:"flags"`
	Events  EventsConfig  `toml:"events"`
	Sync    SyncConfig    `toml:"sync"`
	Billing BillingConfig `toml:"billing"`
}

// StorageConfig selects and parameterizes the storage driver.
type StorageConfig struct {
	// Driver is one of "sqlite", "postgres", "inmemory".
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// AuthConfig holds bearer-token verification settings. Exactly one of
// HMACSecret or PublicKeyPath should be set; HMACSecret wins when both are.
type AuthConfig struct {
	Issuer        string `toml:"issuer,omitempty"`
	HMACSecret    string `toml:"hmac_secret,omitempty"`
	PublicKeyPath string `toml:"public_key_path,omitempty"`
}

// KeysConfig holds the provider-key encryption settings.
type KeysConfig struct {
	// EncryptionKey is the hex-encoded 32-byte AES-256 secret.
	EncryptionKey string `toml:"encryption_key,omitempty"`
}

// FlagsConfig holds feature-flag (Unleash) settings. Empty URL disables the
// client.
type FlagsConfig struct {
	URL    string `toml:"url,omitempty"`
	APIKey string `toml:"api_key,omitempty"`
}

// EventsConfig holds event streaming settings. Empty Brokers disables
// publishing.
type EventsConfig struct {
	// Brokers is a comma-separated Kafka broker list.
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`
}

// SyncConfig holds memory synchronization settings.
type SyncConfig struct {
	PageSize uint `toml:"page_size,omitempty"`
	Workers  uint `toml:"workers,omitempty"`
}

// BillingConfig holds billing webhook settings.
type BillingConfig struct {
	// WebhookSecret authenticates provider webhook posts. Empty disables
	// the endpoint.
	WebhookSecret string `toml:"webhook_secret,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on
// *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"auth.issuer": {
		get: func(c *Config) string { return c.Auth.Issuer },
		set: func(c *Config, v string) error { c.Auth.Issuer = v; return nil },
	},
	"auth.hmac_secret": {
		get: func(c *Config) string { return c.Auth.HMACSecret },
		set: func(c *Config, v string) error { c.Auth.HMACSecret = v; return nil },
	},
	"auth.public_key_path": {
		get: func(c *Config) string { return c.Auth.PublicKeyPath },
		set: func(c *Config, v string) error { c.Auth.PublicKeyPath = v; return nil },
	},
	"keys.encryption_key": {
		get: func(c *Config) string { return c.Keys.EncryptionKey },
		set: func(c *Config, v string) error { c.Keys.EncryptionKey = v; return nil },
	},
	"flags.url": {
		get: func(c *Config) string { return c.Flags.URL },
		set: func(c *Config, v string) error { c.Flags.URL = v; return nil },
	},
	"flags.api_key": {
		get: func(c *Config) string { return c.Flags.APIKey },
		set: func(c *Config, v string) error { c.Flags.APIKey = v; return nil },
	},
	"events.brokers": {
		get: func(c *Config) string { return c.Events.Brokers },
		set: func(c *Config, v string) error { c.Events.Brokers = v; return nil },
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
	"sync.page_size": {
		get: func(c *Config) string { return formatUint(c.Sync.PageSize) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for sync.page_size: %w", err)
			}
			c.Sync.PageSize = uint(n)
			return nil
		},
	},
	"sync.workers": {
		get: func(c *Config) string { return formatUint(c.Sync.Workers) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for sync.workers: %w", err)
			}
			c.Sync.Workers = uint(n)
			return nil
		},
	},
	"billing.webhook_secret": {
		get: func(c *Config) string { return c.Billing.WebhookSecret },
		set: func(c *Config, v string) error { c.Billing.WebhookSecret = v; return nil },
	},
}

func formatUint(n uint) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(n), 10)
}
