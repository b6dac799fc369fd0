package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/veilbet/veilbet/internal/blob/s3"
	"github.com/veilbet/veilbet/internal/cache/redis"
	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/config"
	"github.com/veilbet/veilbet/internal/crypto"
	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/engine"
	"github.com/veilbet/veilbet/internal/notify"
	"github.com/veilbet/veilbet/internal/service"
	"github.com/veilbet/veilbet/internal/store/postgres"
	"github.com/veilbet/veilbet/internal/threshold"
	"github.com/veilbet/veilbet/internal/token"
	"github.com/veilbet/veilbet/internal/validate"
)

// Dependencies bundles everything the application modes need to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Confidential core
	Conf     *conf.Engine
	Ledger   *token.Ledger
	Quorum   *threshold.Quorum
	Oracle   *threshold.Oracle // nil when this process hosts no committee keys
	Engine   *engine.Engine
	Operator *crypto.Signer // nil in server and archive modes

	// Stores
	MarketStore     domain.MarketStore
	PositionStore   domain.PositionStore
	SettlementStore domain.SettlementStore
	AuditStore      domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Services
	Markets    *service.MarketService
	Resolution *service.ResolutionService
	Recorder   *service.EventRecorder

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	if !cfg.Archive.Enabled {
		return false
	}
	switch cfg.Mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// needsOperator returns true for modes that drive resolution themselves.
func needsOperator(mode string) bool {
	return mode == "resolver" || mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Confidential value store and token ledger ---
	masterKey := common.FromHex(cfg.Engine.MasterKey)
	cengine, err := conf.NewEngine(masterKey)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: confidential engine: %w", err)
	}
	deps.Conf = cengine

	self := common.HexToAddress(cfg.Engine.SelfAddress)
	deps.Ledger = token.NewLedger(cengine, self)

	// --- Decryption quorum ---
	members := make([]common.Address, 0, len(cfg.Committee.Members))
	for _, m := range cfg.Committee.Members {
		members = append(members, common.HexToAddress(m))
	}
	quorum, err := threshold.NewQuorum(cfg.Committee.Threshold, members)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: quorum: %w", err)
	}
	deps.Quorum = quorum

	// In-process oracle for any committee keys this deployment hosts.
	if len(cfg.Committee.MemberKeys) > 0 {
		oracleKeys, err := parseMemberKeys(cfg.Committee.MemberKeys)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: committee keys: %w", err)
		}
		deps.Oracle = threshold.NewOracle(cengine, oracleKeys)
	}

	// --- Market engine ---
	eng, err := engine.New(cengine, deps.Ledger, quorum, engine.Config{
		Self:      self,
		Owner:     common.HexToAddress(cfg.Engine.OwnerAddress),
		Collector: common.HexToAddress(cfg.Engine.CollectorAddress),
		FeeBps:    uint64(cfg.Engine.FeeBps),
		Bounds: validate.StakeBounds{
			Min: uint64(cfg.Engine.MinStake),
			Max: uint64(cfg.Engine.MaxStake),
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: engine: %w", err)
	}
	deps.Engine = eng

	// --- Operator signer ---
	if needsOperator(cfg.Mode) {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: operator signer: %w", err)
		}
		deps.Operator = signer
	}

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
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.SettlementStore = postgres.NewSettlementStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

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

	// --- S3 blob storage ---
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
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.SettlementStore, deps.AuditStore)
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services and event fan-out ---
	deps.Recorder = service.NewEventRecorder(deps.AuditStore, deps.SignalBus, logger)
	eng.SetEventSink(deps.Recorder.Record)

	deps.Markets = service.NewMarketService(eng, deps.MarketStore, deps.PositionStore, deps.MarketCache, logger)
	deps.Resolution = service.NewResolutionService(eng, deps.MarketStore, deps.SettlementStore, deps.MarketCache, deps.Notifier, logger)

	return deps, cleanup, nil
}

// parseMemberKeys decodes hex-encoded committee private keys.
func parseMemberKeys(hexKeys []string) ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for i, h := range hexKeys {
		k, err := ethcrypto.HexToECDSA(strings.TrimPrefix(h, "0x"))
		if err != nil {
			return nil, fmt.Errorf("member key %d: %w", i, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}
