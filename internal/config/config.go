// Package config defines the top-level configuration for the veilbet engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VEILBET_* environment variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Operator  OperatorConfig  `toml:"operator"`
	Committee CommitteeConfig `toml:"committee"`
	Resolver  ResolverConfig  `toml:"resolver"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds the market engine's deployment parameters: its own
// ledger identity, the privileged parties, the fee schedule, and the sealing
// key for the confidential value store.
type EngineConfig struct {
	// SelfAddress is the engine's principal on the confidential ACL.
	SelfAddress string `toml:"self_address"`
	// OwnerAddress is the deployer; it may act as fallback resolver.
	OwnerAddress string `toml:"owner_address"`
	// CollectorAddress receives protocol fees.
	CollectorAddress string `toml:"collector_address"`
	// MasterKey is the hex-encoded 32-byte sealing key. Inject via
	// VEILBET_ENGINE_MASTER_KEY in production.
	MasterKey string `toml:"master_key"`
	FeeBps    int64  `toml:"fee_bps"`
	MinStake  int64  `toml:"min_stake"`
	MaxStake  int64  `toml:"max_stake"`
}

// OperatorConfig holds the operator's ECDSA signing credentials. The key may
// be given inline or loaded from an encrypted key file.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// CommitteeConfig describes the t-of-n decryption committee. Members are the
// hex addresses accepted by proof verification; MemberKeys holds the private
// keys for committee members hosted by this process (the in-process oracle
// used in resolver and full modes).
type CommitteeConfig struct {
	Threshold  int      `toml:"threshold"`
	Members    []string `toml:"members"`
	MemberKeys []string `toml:"member_keys"`
}

// ResolverConfig holds the resolution worker's schedule parameters.
type ResolverConfig struct {
	Enabled      bool     `toml:"enabled"`
	PollInterval duration `toml:"poll_interval"`
	LockTTL      duration `toml:"lock_ttl"`
	DedupTTL     duration `toml:"dedup_ttl"`
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

// ArchiveConfig holds settlement-archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects write endpoints; empty disables authentication.
	APIKey string `toml:"api_key"`
	// RateLimitPerMin caps write requests per client IP per minute; 0
	// disables rate limiting.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
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
		Engine: EngineConfig{
			FeeBps:   200,
			MinStake: 1,
			MaxStake: 1_000_000_000,
		},
		Committee: CommitteeConfig{
			Threshold: 1,
		},
		Resolver: ResolverConfig{
			Enabled:      true,
			PollInterval: duration{30 * time.Second},
			LockTTL:      duration{30 * time.Second},
			DedupTTL:     duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
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
			Bucket:         "veilbet-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"outcome_set", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"resolver": true,
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

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, resolver, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	for _, f := range []struct{ name, addr string }{
		{"self_address", c.Engine.SelfAddress},
		{"owner_address", c.Engine.OwnerAddress},
		{"collector_address", c.Engine.CollectorAddress},
	} {
		if f.addr == "" {
			errs = append(errs, "engine: "+f.name+" must not be empty")
		} else if !common.IsHexAddress(f.addr) {
			errs = append(errs, fmt.Sprintf("engine: %s is not a valid address: %q", f.name, f.addr))
		}
	}
	if c.Engine.MasterKey == "" {
		errs = append(errs, "engine: master_key must be set (64 hex chars)")
	}
	if c.Engine.FeeBps < 0 || c.Engine.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("engine: fee_bps must be 0-10000, got %d", c.Engine.FeeBps))
	}
	if c.Engine.MinStake < 1 {
		errs = append(errs, "engine: min_stake must be >= 1")
	}
	if c.Engine.MaxStake < c.Engine.MinStake {
		errs = append(errs, "engine: max_stake must be >= min_stake")
	}

	// Operator — at least one credential source must be specified for modes
	// that drive resolution.
	needsOperator := c.Mode == "resolver" || c.Mode == "full"
	if needsOperator {
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			errs = append(errs, "operator: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
		}
	}

	// Committee
	if len(c.Committee.Members) == 0 {
		errs = append(errs, "committee: members must not be empty")
	}
	for i, m := range c.Committee.Members {
		if !common.IsHexAddress(m) {
			errs = append(errs, fmt.Sprintf("committee: members[%d] is not a valid address: %q", i, m))
		}
	}
	if c.Committee.Threshold < 1 || c.Committee.Threshold > len(c.Committee.Members) {
		errs = append(errs, fmt.Sprintf("committee: threshold must be 1-%d, got %d", len(c.Committee.Members), c.Committee.Threshold))
	}
	if needsOperator && len(c.Committee.MemberKeys) < c.Committee.Threshold {
		errs = append(errs, fmt.Sprintf("committee: at least %d member_keys are required for mode %s", c.Committee.Threshold, c.Mode))
	}

	// Resolver
	if c.Resolver.Enabled {
		if c.Resolver.PollInterval.Duration <= 0 {
			errs = append(errs, "resolver: poll_interval must be > 0")
		}
		if c.Resolver.LockTTL.Duration <= 0 {
			errs = append(errs, "resolver: lock_ttl must be > 0")
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

	// S3 — required only when archival is on.
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
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty when archive is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
