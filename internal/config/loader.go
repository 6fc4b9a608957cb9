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
// built-in defaults, applies VEIL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known VEIL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Keys ──
	setStr(&cfg.Keys.AttestorKey, "VEIL_KEYS_ATTESTOR_KEY")
	setStr(&cfg.Keys.EncryptedKeyPath, "VEIL_KEYS_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keys.KeyPassword, "VEIL_KEYS_KEY_PASSWORD")

	// ── Market ──
	setStr(&cfg.Market.Owner, "VEIL_MARKET_OWNER")
	setStr(&cfg.Market.Oracle, "VEIL_MARKET_ORACLE")
	setUint64(&cfg.Market.StakeScale, "VEIL_MARKET_STAKE_SCALE")

	// ── Oracle ──
	setStr(&cfg.Oracle.Backend, "VEIL_ORACLE_BACKEND")
	setStr(&cfg.Oracle.Enclave.Path, "VEIL_ORACLE_ENCLAVE_PATH")
	setStr(&cfg.Oracle.Enclave.Password, "VEIL_ORACLE_ENCLAVE_PASSWORD")
	setStr(&cfg.Oracle.Gateway.BaseURL, "VEIL_ORACLE_GATEWAY_BASE_URL")
	setStr(&cfg.Oracle.Gateway.WsURL, "VEIL_ORACLE_GATEWAY_WS_URL")
	setStr(&cfg.Oracle.Gateway.KeyID, "VEIL_ORACLE_GATEWAY_KEY_ID")
	setStr(&cfg.Oracle.Gateway.Secret, "VEIL_ORACLE_GATEWAY_SECRET")
	setDuration(&cfg.Oracle.Gateway.Timeout, "VEIL_ORACLE_GATEWAY_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VEIL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "VEIL_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "VEIL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VEIL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VEIL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VEIL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VEIL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VEIL_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "VEIL_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "VEIL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VEIL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VEIL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VEIL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VEIL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VEIL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VEIL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VEIL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VEIL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "VEIL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VEIL_S3_REGION")
	setStr(&cfg.S3.Bucket, "VEIL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VEIL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VEIL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VEIL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VEIL_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "VEIL_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "VEIL_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "VEIL_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Schedule, "VEIL_ARCHIVE_SCHEDULE")
	setStr(&cfg.Archive.Prefix, "VEIL_ARCHIVE_PREFIX")

	// ── Executor ──
	setBool(&cfg.Executor.Enabled, "VEIL_EXECUTOR_ENABLED")
	setDuration(&cfg.Executor.DedupTTL, "VEIL_EXECUTOR_DEDUP_TTL")
	setDuration(&cfg.Executor.PollInterval, "VEIL_EXECUTOR_POLL_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VEIL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VEIL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VEIL_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "VEIL_SERVER_RATE_LIMIT_PER_MIN")
	setStr(&cfg.Server.APIKey, "VEIL_SERVER_API_KEY")
	setBool(&cfg.Server.DevEndpoints, "VEIL_SERVER_DEV_ENDPOINTS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VEIL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VEIL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VEIL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VEIL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VEIL_MODE")
	setStr(&cfg.LogLevel, "VEIL_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
