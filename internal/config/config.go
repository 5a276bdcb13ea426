// Package config defines the top-level configuration for the signal bridge
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIGNALBRIDGE_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Guard     GuardConfig     `toml:"guard"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Brokers   BrokersConfig   `toml:"brokers"`
	Accounts  []AccountConfig `toml:"accounts"`
	Archive   ArchiveConfig   `toml:"archive"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit is the per-client request budget per RateWindow. Zero
	// disables HTTP rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`

	// SignalTimeout bounds background execution of one accepted signal.
	SignalTimeout duration `toml:"signal_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// GuardConfig holds signal rate-limit and idempotency parameters.
type GuardConfig struct {
	// RateLimit is the signal budget per source per RateWindow.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`

	// IdempotencyTTL is how long a signal fingerprint suppresses duplicates.
	IdempotencyTTL duration `toml:"idempotency_ttl"`
}

// LedgerConfig holds position ledger parameters.
type LedgerConfig struct {
	// Freshness is how long a persisted position counts as authoritative.
	Freshness duration `toml:"freshness"`

	// LockTTL bounds how long a position write may hold its lock.
	LockTTL duration `toml:"lock_ttl"`

	// CASRetries is how many times a write is retried after a lost race.
	CASRetries int `toml:"cas_retries"`
}

// BrokersConfig groups the per-venue adapter settings.
type BrokersConfig struct {
	Paper     PaperConfig     `toml:"paper"`
	Kalshi    KalshiConfig    `toml:"kalshi"`
	Tradovate TradovateConfig `toml:"tradovate"`
}

// PaperConfig holds the in-memory simulated venue settings.
type PaperConfig struct {
	Enabled bool `toml:"enabled"`
}

// KalshiConfig holds Kalshi exchange API credentials.
type KalshiConfig struct {
	Enabled           bool   `toml:"enabled"`
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	BaseURL           string `toml:"base_url"`
}

// TradovateConfig holds Tradovate API credentials. The API secret may be
// given inline or as an encrypted file plus password.
type TradovateConfig struct {
	Enabled             bool    `toml:"enabled"`
	ApiKey              string  `toml:"api_key"`
	ApiSecret           string  `toml:"api_secret"`
	EncryptedSecretPath string  `toml:"encrypted_secret_path"`
	SecretPassword      string  `toml:"secret_password"`
	BaseURL             string  `toml:"base_url"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
}

// AccountConfig declares one executable broker account. The first active
// account of an activation's account list is its leader.
type AccountConfig struct {
	ID     string `toml:"id"`
	Broker string `toml:"broker"`
	Active bool   `toml:"active"`
}

// ArchiveConfig holds closed-trade retention parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ReconcileConfig holds the broker reconciliation loop parameters.
type ReconcileConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:     0,
			RateWindow:    duration{time.Minute},
			SignalTimeout: duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "signalbridge",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Guard: GuardConfig{
			RateLimit:      10,
			RateWindow:     duration{time.Minute},
			IdempotencyTTL: duration{5 * time.Minute},
		},
		Ledger: LedgerConfig{
			Freshness:  duration{24 * time.Hour},
			LockTTL:    duration{10 * time.Second},
			CASRetries: 3,
		},
		Brokers: BrokersConfig{
			Paper: PaperConfig{Enabled: true},
			Kalshi: KalshiConfig{
				BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			},
			Tradovate: TradovateConfig{
				BaseURL:           "https://live.tradovateapi.com/v1",
				RequestsPerSecond: 5,
			},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "signalbridge-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"order_failed", "sync_discrepancy"},
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Interval: duration{15 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":     true,
	"reconcile": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, reconcile, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Guard
	if c.Guard.RateLimit < 1 {
		errs = append(errs, "guard: rate_limit must be >= 1")
	}
	if c.Guard.RateWindow.Duration <= 0 {
		errs = append(errs, "guard: rate_window must be positive")
	}
	if c.Guard.IdempotencyTTL.Duration <= 0 {
		errs = append(errs, "guard: idempotency_ttl must be positive")
	}

	// Ledger
	if c.Ledger.LockTTL.Duration <= 0 {
		errs = append(errs, "ledger: lock_ttl must be positive")
	}
	if c.Ledger.CASRetries < 0 {
		errs = append(errs, "ledger: cas_retries must be >= 0")
	}

	// Brokers
	if c.Brokers.Kalshi.Enabled {
		if c.Brokers.Kalshi.ApiKey == "" {
			errs = append(errs, "brokers.kalshi: api_key is required when enabled")
		}
		if c.Brokers.Kalshi.RsaPrivateKeyPath == "" {
			errs = append(errs, "brokers.kalshi: rsa_private_key_path is required when enabled")
		}
		if c.Brokers.Kalshi.BaseURL == "" {
			errs = append(errs, "brokers.kalshi: base_url must not be empty")
		}
	}
	if c.Brokers.Tradovate.Enabled {
		if c.Brokers.Tradovate.ApiKey == "" {
			errs = append(errs, "brokers.tradovate: api_key is required when enabled")
		}
		if c.Brokers.Tradovate.ApiSecret == "" && c.Brokers.Tradovate.EncryptedSecretPath == "" {
			errs = append(errs, "brokers.tradovate: either api_secret or encrypted_secret_path must be set")
		}
		if c.Brokers.Tradovate.EncryptedSecretPath != "" && c.Brokers.Tradovate.SecretPassword == "" {
			errs = append(errs, "brokers.tradovate: secret_password is required when encrypted_secret_path is set")
		}
		if c.Brokers.Tradovate.BaseURL == "" {
			errs = append(errs, "brokers.tradovate: base_url must not be empty")
		}
	}

	// Accounts
	enabled := map[string]bool{
		"paper":     c.Brokers.Paper.Enabled,
		"kalshi":    c.Brokers.Kalshi.Enabled,
		"tradovate": c.Brokers.Tradovate.Enabled,
	}
	seen := map[string]bool{}
	for i, a := range c.Accounts {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d]: id must not be empty", i))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Sprintf("accounts[%d]: duplicate account id %q", i, a.ID))
		}
		seen[a.ID] = true
		if ok, known := enabled[a.Broker]; !known {
			errs = append(errs, fmt.Sprintf("accounts[%d]: unknown broker %q (valid: paper, kalshi, tradovate)", i, a.Broker))
		} else if !ok && a.Active {
			errs = append(errs, fmt.Sprintf("accounts[%d]: broker %q is not enabled", i, a.Broker))
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive when enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Reconcile
	if c.Reconcile.Enabled && c.Reconcile.Interval.Duration <= 0 {
		errs = append(errs, "reconcile: interval must be positive when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
