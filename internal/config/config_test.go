package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// validConfig returns a Defaults()-based config with the required secrets
// and addresses filled in.
func validConfig() Config {
	cfg := Defaults()
	cfg.Engine.SelfAddress = "0x1000000000000000000000000000000000000001"
	cfg.Engine.OwnerAddress = "0x1000000000000000000000000000000000000002"
	cfg.Engine.CollectorAddress = "0x1000000000000000000000000000000000000003"
	cfg.Engine.MasterKey = strings.Repeat("ab", 32)
	cfg.Operator.PrivateKey = strings.Repeat("cd", 32)
	cfg.Committee.Members = []string{"0x2000000000000000000000000000000000000001"}
	cfg.Committee.MemberKeys = []string{strings.Repeat("ef", 32)}
	cfg.Committee.Threshold = 1
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "scrape" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"missing self address", func(c *Config) { c.Engine.SelfAddress = "" }, "self_address"},
		{"malformed collector", func(c *Config) { c.Engine.CollectorAddress = "not-an-address" }, "collector_address"},
		{"missing master key", func(c *Config) { c.Engine.MasterKey = "" }, "master_key"},
		{"fee too high", func(c *Config) { c.Engine.FeeBps = 10_001 }, "fee_bps"},
		{"stake bounds inverted", func(c *Config) { c.Engine.MinStake, c.Engine.MaxStake = 100, 10 }, "max_stake"},
		{"missing operator key", func(c *Config) { c.Operator.PrivateKey = "" }, "operator"},
		{"empty committee", func(c *Config) { c.Committee.Members = nil }, "committee"},
		{"threshold above members", func(c *Config) { c.Committee.Threshold = 2 }, "threshold"},
		{"no redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis"},
		{"bad server port", func(c *Config) { c.Server.Port = 99999 }, "server"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateServerModeSkipsOperator(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "server"
	cfg.Operator.PrivateKey = ""
	cfg.Committee.MemberKeys = nil
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveRequiresS3(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "s3: bucket")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("VEILBET_MODE", "resolver")
	t.Setenv("VEILBET_ENGINE_FEE_BPS", "150")
	t.Setenv("VEILBET_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("VEILBET_RESOLVER_POLL_INTERVAL", "10s")
	t.Setenv("VEILBET_COMMITTEE_MEMBERS", "0xaaa0000000000000000000000000000000000001, 0xaaa0000000000000000000000000000000000002")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(t, "resolver", cfg.Mode)
	require.Equal(t, int64(150), cfg.Engine.FeeBps)
	require.Equal(t, "hunter2", cfg.Postgres.Password)
	require.Equal(t, 10*time.Second, cfg.Resolver.PollInterval.Duration)
	require.Len(t, cfg.Committee.Members, 2)
	require.Equal(t, "0xaaa0000000000000000000000000000000000002", cfg.Committee.Members[1])
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "secret"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "secret"

	red := RedactedConfig(&cfg)

	require.Equal(t, "***", red.Engine.MasterKey)
	require.Equal(t, "***", red.Operator.PrivateKey)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.S3.SecretKey)
	require.Equal(t, "***", red.Server.APIKey)
	require.Equal(t, []string{"***"}, red.Committee.MemberKeys)
	// Member addresses are public and survive redaction.
	require.Equal(t, cfg.Committee.Members, red.Committee.Members)
	// The original is untouched.
	require.Equal(t, "secret", cfg.Postgres.Password)
}
