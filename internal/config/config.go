// Package config handles loading and parsing of ofuton configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration for ofuton, parsed from config.toml.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Bucket   BucketConfig   `toml:"bucket"`
	Account  AccountConfig  `toml:"account"`
	Sentry   SentryConfig   `toml:"sentry"`
	Debug    DebugConfig    `toml:"debug"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig selects and configures the metadata database.
type DatabaseConfig struct {
	// Provider is one of "sqlite", "sqlite_memory", or "postgres".
	Provider string         `toml:"provider"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Postgres PostgresConfig `toml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `toml:"path"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	User     string `toml:"user"`
	Password string `toml:"password"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
}

// BucketConfig holds blob storage settings.
type BucketConfig struct {
	// Path is the root directory for stored blobs.
	Path string `toml:"path"`
	// MaxUploadSizeMB caps request bodies on write routes, in mebibytes.
	MaxUploadSizeMB int64 `toml:"max_upload_size_mb"`
	// RequestExpirationSeconds is the TTL for idle multipart upload sessions.
	RequestExpirationSeconds int `toml:"request_expiration_seconds"`
}

// AccountConfig holds the shared SigV4 credential.
type AccountConfig struct {
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// SentryConfig holds error reporting settings. An empty DSN disables Sentry.
type SentryConfig struct {
	DSN string `toml:"dsn"`
}

// DebugConfig holds development settings.
type DebugConfig struct {
	// LogLevel is one of "debug", "info", "warn", "error". Empty means "info".
	LogLevel string `toml:"log_level"`
}

// defaultTOML is the bundled configuration written to disk when no config
// file exists yet, so a fresh deployment starts with a documented template.
const defaultTOML = `[server]
host = "0.0.0.0"
port = 3000

[database]
provider = "sqlite" # "sqlite" | "sqlite_memory" | "postgres"

[database.sqlite]
path = "./data/ofuton.db"

[database.postgres]
user = "ofuton"
password = ""
host = "127.0.0.1"
port = 5432
database = "ofuton"

[bucket]
path = "./data/bucket"
max_upload_size_mb = 100
request_expiration_seconds = 86400

[account]
access_key = "ofuton"
secret_key = "ofuton-secret"

[sentry]
dsn = ""

[debug]
log_level = ""
`

// Load reads the TOML configuration file at path. If the file does not exist,
// the bundled defaults are written to that path first and then loaded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultTOML), 0o644); err != nil {
			return nil, fmt.Errorf("writing default config file: %w", err)
		}
		data = []byte(defaultTOML)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills in any fields still at their zero value after decoding.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Database.Provider == "" {
		cfg.Database.Provider = "sqlite"
	}
	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "./data/ofuton.db"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Bucket.Path == "" {
		cfg.Bucket.Path = "./data/bucket"
	}
	if cfg.Bucket.MaxUploadSizeMB == 0 {
		cfg.Bucket.MaxUploadSizeMB = 100
	}
	if cfg.Bucket.RequestExpirationSeconds == 0 {
		cfg.Bucket.RequestExpirationSeconds = 86400
	}
	if cfg.Account.AccessKey == "" {
		cfg.Account.AccessKey = "ofuton"
	}
	if cfg.Account.SecretKey == "" {
		cfg.Account.SecretKey = "ofuton-secret"
	}
}

// MaxUploadSizeBytes returns the write-route body limit in bytes.
func (c *Config) MaxUploadSizeBytes() int64 {
	return c.Bucket.MaxUploadSizeMB * 1024 * 1024
}

// PostgresDSN assembles a pgx-compatible connection URL from the postgres section.
func (c *Config) PostgresDSN() string {
	p := c.Database.Postgres
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", p.User, p.Password, p.Host, p.Port, p.Database)
}
