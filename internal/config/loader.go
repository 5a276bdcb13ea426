package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SIGNALBRIDGE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIGNALBRIDGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "SIGNALBRIDGE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIGNALBRIDGE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SIGNALBRIDGE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SIGNALBRIDGE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SIGNALBRIDGE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SIGNALBRIDGE_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SignalTimeout, "SIGNALBRIDGE_SERVER_SIGNAL_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "SIGNALBRIDGE_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "SIGNALBRIDGE_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "SIGNALBRIDGE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SIGNALBRIDGE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SIGNALBRIDGE_DATABASE_NAME")
	setStr(&cfg.Database.User, "SIGNALBRIDGE_DATABASE_USER")
	setStr(&cfg.Database.Password, "SIGNALBRIDGE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SIGNALBRIDGE_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "SIGNALBRIDGE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SIGNALBRIDGE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SIGNALBRIDGE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SIGNALBRIDGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGNALBRIDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGNALBRIDGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGNALBRIDGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIGNALBRIDGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIGNALBRIDGE_REDIS_TLS_ENABLED")

	// ── Guard ──
	setInt(&cfg.Guard.RateLimit, "SIGNALBRIDGE_GUARD_RATE_LIMIT")
	setDuration(&cfg.Guard.RateWindow, "SIGNALBRIDGE_GUARD_RATE_WINDOW")
	setDuration(&cfg.Guard.IdempotencyTTL, "SIGNALBRIDGE_GUARD_IDEMPOTENCY_TTL")

	// ── Ledger ──
	setDuration(&cfg.Ledger.Freshness, "SIGNALBRIDGE_LEDGER_FRESHNESS")
	setDuration(&cfg.Ledger.LockTTL, "SIGNALBRIDGE_LEDGER_LOCK_TTL")
	setInt(&cfg.Ledger.CASRetries, "SIGNALBRIDGE_LEDGER_CAS_RETRIES")

	// ── Brokers ──
	setBool(&cfg.Brokers.Paper.Enabled, "SIGNALBRIDGE_BROKERS_PAPER_ENABLED")
	setBool(&cfg.Brokers.Kalshi.Enabled, "SIGNALBRIDGE_BROKERS_KALSHI_ENABLED")
	setStr(&cfg.Brokers.Kalshi.ApiKey, "SIGNALBRIDGE_BROKERS_KALSHI_API_KEY")
	setStr(&cfg.Brokers.Kalshi.RsaPrivateKeyPath, "SIGNALBRIDGE_BROKERS_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Brokers.Kalshi.BaseURL, "SIGNALBRIDGE_BROKERS_KALSHI_BASE_URL")
	setBool(&cfg.Brokers.Tradovate.Enabled, "SIGNALBRIDGE_BROKERS_TRADOVATE_ENABLED")
	setStr(&cfg.Brokers.Tradovate.ApiKey, "SIGNALBRIDGE_BROKERS_TRADOVATE_API_KEY")
	setStr(&cfg.Brokers.Tradovate.ApiSecret, "SIGNALBRIDGE_BROKERS_TRADOVATE_API_SECRET")
	setStr(&cfg.Brokers.Tradovate.EncryptedSecretPath, "SIGNALBRIDGE_BROKERS_TRADOVATE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Brokers.Tradovate.SecretPassword, "SIGNALBRIDGE_BROKERS_TRADOVATE_SECRET_PASSWORD")
	setStr(&cfg.Brokers.Tradovate.BaseURL, "SIGNALBRIDGE_BROKERS_TRADOVATE_BASE_URL")
	setFloat64(&cfg.Brokers.Tradovate.RequestsPerSecond, "SIGNALBRIDGE_BROKERS_TRADOVATE_REQUESTS_PER_SECOND")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SIGNALBRIDGE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "SIGNALBRIDGE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "SIGNALBRIDGE_ARCHIVE_RETENTION_DAYS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SIGNALBRIDGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SIGNALBRIDGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "SIGNALBRIDGE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SIGNALBRIDGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SIGNALBRIDGE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SIGNALBRIDGE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SIGNALBRIDGE_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIGNALBRIDGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGNALBRIDGE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGNALBRIDGE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGNALBRIDGE_NOTIFY_EVENTS")

	// ── Reconcile ──
	setBool(&cfg.Reconcile.Enabled, "SIGNALBRIDGE_RECONCILE_ENABLED")
	setDuration(&cfg.Reconcile.Interval, "SIGNALBRIDGE_RECONCILE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIGNALBRIDGE_MODE")
	setStr(&cfg.LogLevel, "SIGNALBRIDGE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
