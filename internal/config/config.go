// Package config defines the top-level configuration for the veilmarket
// ledger and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VEIL_* environment variables.
type Config struct {
	Keys     KeysConfig     `toml:"keys"`
	Market   MarketConfig   `toml:"market"`
	Oracle   OracleConfig   `toml:"oracle"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Executor ExecutorConfig `toml:"executor"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// KeysConfig holds the oracle attestor signing key. Either a raw hex key
// or an encrypted key file plus password.
type KeysConfig struct {
	AttestorKey      string `toml:"attestor_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// MarketConfig holds ledger-wide market parameters.
type MarketConfig struct {
	// Owner has full administrative control and passes every
	// oracle-gated check.
	Owner string `toml:"owner"`
	// Oracle is the initial oracle authority; defaults to the owner.
	Oracle string `toml:"oracle"`
	// StakeScale is the number of native vault units per encrypted
	// credit. Attached stakes must be multiples of it.
	StakeScale uint64 `toml:"stake_scale"`
}

// OracleConfig selects and configures the encryption oracle backend.
type OracleConfig struct {
	// Backend selects the coprocessor implementation: "enclave" runs the
	// sealed local store, "gateway" talks to a remote coprocessor.
	Backend string        `toml:"backend"`
	Enclave EnclaveConfig `toml:"enclave"`
	Gateway GatewayConfig `toml:"gateway"`
}

// EnclaveConfig holds parameters for the local sealed ciphertext store.
type EnclaveConfig struct {
	Path     string `toml:"path"`
	Password string `toml:"password"`
}

// GatewayConfig holds parameters for a remote coprocessor gateway.
type GatewayConfig struct {
	BaseURL string   `toml:"base_url"`
	WsURL   string   `toml:"ws_url"`
	KeyID   string   `toml:"key_id"`
	Secret  string   `toml:"secret"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// ArchiveConfig holds settlement archival parameters. Schedule, when set,
// is a 5-field cron expression that replaces the fixed interval.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	Schedule      string   `toml:"schedule"`
	Prefix        string   `toml:"prefix"`
}

// ExecutorConfig holds reveal-executor parameters.
type ExecutorConfig struct {
	Enabled      bool     `toml:"enabled"`
	DedupTTL     duration `toml:"dedup_ttl"`
	PollInterval duration `toml:"poll_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
	// APIKey protects the HTTP API. An empty key disables authentication.
	APIKey string `toml:"api_key"`
	// DevEndpoints exposes the plaintext encryption helper. Never enable
	// outside local development.
	DevEndpoints bool `toml:"dev_endpoints"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			StakeScale: 1_000_000_000,
		},
		Oracle: OracleConfig{
			Backend: "enclave",
			Enclave: EnclaveConfig{
				Path: "data/enclave.db",
			},
			Gateway: GatewayConfig{
				Timeout: duration{10 * time.Second},
			},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "veilmarket",
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
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "veilmarket-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			Prefix:        "settlements/",
		},
		Executor: ExecutorConfig{
			Enabled:      true,
			DedupTTL:     duration{10 * time.Minute},
			PollInterval: duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
			DevEndpoints:    false,
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "outcome_decrypted", "volumes_decrypted", "profit_claimed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"executor": true,
	"archive":  true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validOracleBackends enumerates the accepted values for Oracle.Backend.
var validOracleBackends = map[string]bool{
	"enclave": true,
	"gateway": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, executor, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if c.Market.Owner == "" {
		errs = append(errs, "market: owner must be set")
	} else if !common.IsHexAddress(c.Market.Owner) {
		errs = append(errs, fmt.Sprintf("market: owner %q is not a hex address", c.Market.Owner))
	}
	if c.Market.Oracle != "" && !common.IsHexAddress(c.Market.Oracle) {
		errs = append(errs, fmt.Sprintf("market: oracle %q is not a hex address", c.Market.Oracle))
	}
	if c.Market.StakeScale == 0 {
		errs = append(errs, "market: stake_scale must be >= 1")
	}

	// Oracle backend
	backend := strings.ToLower(c.Oracle.Backend)
	if !validOracleBackends[backend] {
		errs = append(errs, fmt.Sprintf("oracle: unknown backend %q (valid: enclave, gateway)", c.Oracle.Backend))
	}
	if backend == "enclave" {
		if c.Oracle.Enclave.Path == "" {
			errs = append(errs, "oracle: enclave.path must not be empty")
		}
		if c.Oracle.Enclave.Password == "" {
			errs = append(errs, "oracle: enclave.password is required for the enclave backend")
		}
		if c.Keys.AttestorKey == "" && c.Keys.EncryptedKeyPath == "" {
			errs = append(errs, "keys: either attestor_key or encrypted_key_path must be set for the enclave backend")
		}
		if c.Keys.EncryptedKeyPath != "" && c.Keys.KeyPassword == "" {
			errs = append(errs, "keys: key_password is required when encrypted_key_path is set")
		}
	}
	if backend == "gateway" {
		if c.Oracle.Gateway.BaseURL == "" {
			errs = append(errs, "oracle: gateway.base_url must not be empty")
		}
		if c.Oracle.Gateway.KeyID == "" || c.Oracle.Gateway.Secret == "" {
			errs = append(errs, "oracle: gateway.key_id and gateway.secret must both be set")
		}
		if c.Oracle.Gateway.Timeout.Duration <= 0 {
			errs = append(errs, "oracle: gateway.timeout must be positive")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is required only when archival runs.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Executor
	if c.Executor.Enabled && c.Executor.DedupTTL.Duration <= 0 {
		errs = append(errs, "executor: dedup_ttl must be positive when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// OwnerAddress parses the configured owner. Call after Validate.
func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Market.Owner)
}

// OracleAuthority parses the configured oracle, falling back to the
// owner when unset. Call after Validate.
func (c *Config) OracleAuthority() common.Address {
	if c.Market.Oracle == "" {
		return c.OwnerAddress()
	}
	return common.HexToAddress(c.Market.Oracle)
}
