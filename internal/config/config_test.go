package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalTOML = `
mode = "server"

[market]
owner = "0x1111111111111111111111111111111111111111"

[oracle]
backend = "enclave"

[oracle.enclave]
path = "/tmp/enclave.db"
password = "sealing-pw"

[keys]
attestor_key = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, uint64(1_000_000_000), cfg.Market.StakeScale)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Oracle.Gateway.Timeout.Duration)
	assert.False(t, cfg.Server.DevEndpoints)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VEIL_MARKET_ORACLE", "0x2222222222222222222222222222222222222222")
	t.Setenv("VEIL_MARKET_STAKE_SCALE", "1000")
	t.Setenv("VEIL_SERVER_PORT", "9001")
	t.Setenv("VEIL_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("VEIL_ARCHIVE_INTERVAL", "45m")
	t.Setenv("VEIL_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimalTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(1000), cfg.Market.StakeScale)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 45*time.Minute, cfg.Archive.Interval.Duration)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), cfg.OracleAuthority())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "spectate"
	cfg.Market.Owner = "not-an-address"
	cfg.Market.StakeScale = 0
	cfg.Oracle.Backend = "carrier-pigeon"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "not a hex address")
	assert.Contains(t, err.Error(), "stake_scale")
	assert.Contains(t, err.Error(), "unknown backend")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateGatewayBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Market.Owner = "0x1111111111111111111111111111111111111111"
	cfg.Oracle.Backend = "gateway"

	err := cfg.Validate()
	require.Error(t, err, "gateway backend needs endpoint and credentials")

	cfg.Oracle.Gateway.BaseURL = "https://coproc.example"
	cfg.Oracle.Gateway.KeyID = "veil-1"
	cfg.Oracle.Gateway.Secret = "s3cret"
	require.NoError(t, cfg.Validate(), "gateway backend does not need local attestor keys")
}

func TestOracleAuthorityFallsBackToOwner(t *testing.T) {
	cfg := Defaults()
	cfg.Market.Owner = "0x1111111111111111111111111111111111111111"
	assert.Equal(t, cfg.OwnerAddress(), cfg.OracleAuthority())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Keys.AttestorKey = "deadbeef"
	cfg.Oracle.Enclave.Password = "sealing-pw"
	cfg.Postgres.Password = "pgpass"
	cfg.S3.SecretKey = "s3secret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Keys.AttestorKey)
	assert.Equal(t, "***", red.Oracle.Enclave.Password)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)

	assert.Equal(t, "deadbeef", cfg.Keys.AttestorKey, "the original is untouched")

	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
