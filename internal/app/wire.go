package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/veilmarket/internal/blob/s3"
	"github.com/alanyoungcy/veilmarket/internal/cache/redis"
	"github.com/alanyoungcy/veilmarket/internal/config"
	"github.com/alanyoungcy/veilmarket/internal/crypto"
	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/alanyoungcy/veilmarket/internal/fhe/enclave"
	"github.com/alanyoungcy/veilmarket/internal/notify"
	"github.com/alanyoungcy/veilmarket/internal/platform/gateway"
	"github.com/alanyoungcy/veilmarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	BetStore      domain.BetStore
	PoolStore     domain.PoolStore
	SettingsStore domain.SettingsStore
	AuditStore    domain.AuditStore
	Vault         domain.Vault

	// Caches and coordination
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Encryption oracle. Feed is non-nil only for the gateway backend
	// with a WebSocket URL configured.
	Coprocessor fhe.Coprocessor
	Encryptor   fhe.Encryptor
	Decrypter   fhe.Decrypter
	Feed        *gateway.DecryptionFeed

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.SettlementArchiver

	// Notifications
	Notifier *notify.EventNotifier
}

// needsOracle returns true for modes that run the ledger engine and
// therefore need a coprocessor backend.
func needsOracle(mode string) bool {
	switch mode {
	case "server", "executor", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true when settlement archival will run.
func needsS3(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.Mode)
	if mode == "archive" {
		return true
	}
	return mode == "full" && cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	marketStore := postgres.NewMarketStore(pool)
	betStore := postgres.NewBetStore(pool)
	deps.MarketStore = marketStore
	deps.BetStore = betStore
	deps.PoolStore = postgres.NewPoolStore(pool)
	deps.SettingsStore = postgres.NewSettingsStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Vault = postgres.NewAccountStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Coprocessor backend (only for modes that run the engine) ---
	if needsOracle(strings.ToLower(cfg.Mode)) {
		switch strings.ToLower(cfg.Oracle.Backend) {
		case "enclave":
			attestorKey, err := crypto.LoadAttestorKey(crypto.KeyConfig{
				RawPrivateKey:    cfg.Keys.AttestorKey,
				EncryptedKeyPath: cfg.Keys.EncryptedKeyPath,
				KeyPassword:      cfg.Keys.KeyPassword,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: attestor key: %w", err)
			}
			enc, err := enclave.Open(enclave.Options{
				Path:        cfg.Oracle.Enclave.Path,
				Password:    cfg.Oracle.Enclave.Password,
				AttestorKey: attestorKey,
				Logger:      logger,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: enclave: %w", err)
			}
			closers = append(closers, func() { _ = enc.Close() })
			deps.Coprocessor = enc
			deps.Encryptor = enc
			deps.Decrypter = enc

		case "gateway":
			gwCfg := gateway.Config{
				BaseURL: cfg.Oracle.Gateway.BaseURL,
				WsURL:   cfg.Oracle.Gateway.WsURL,
				KeyID:   cfg.Oracle.Gateway.KeyID,
				Secret:  cfg.Oracle.Gateway.Secret,
				Timeout: cfg.Oracle.Gateway.Timeout.Duration,
			}
			gw := gateway.NewClient(gwCfg)
			deps.Coprocessor = gw
			deps.Encryptor = gw
			deps.Decrypter = gw
			if gwCfg.WsURL != "" {
				deps.Feed = gateway.NewDecryptionFeed(gwCfg, logger)
			}

		default:
			cleanup()
			return nil, nil, fmt.Errorf("wire: unknown oracle backend %q", cfg.Oracle.Backend)
		}
	}

	// --- S3 blob storage (only when archival runs) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			marketStore,
			betStore,
			deps.AuditStore,
			cfg.Archive.Prefix,
			0,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewEventNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
