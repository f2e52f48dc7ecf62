package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-fi/custodian/config"
	"github.com/halcyon-fi/custodian/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "custodian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, types.DefaultConfig(), cfg)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.HashAttempts)
	assert.True(t, cfg.DelegationEnabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
hashAttempts: 5
hashCeiling: 3s
delegationEnabled: false
gatewayContract: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
reconcileDelays: [1s, 4s]
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.HashAttempts)
	assert.Equal(t, 3*time.Second, cfg.HashCeiling)
	assert.False(t, cfg.DelegationEnabled)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", cfg.GatewayContract)
	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second}, cfg.ReconcileDelays)

	// Untouched fields keep their defaults through Normalize.
	assert.Equal(t, 500*time.Millisecond, cfg.HashInterval)
	assert.Equal(t, 30*time.Minute, cfg.BurnIntentTTL)
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := writeConfig(t, "hashAttempts: [not, an, int]")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
gatewayContract: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
bridgePollInterval: 9s
`)
	t.Setenv("CUSTODIAN_GATEWAY_CONTRACT", "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	t.Setenv("CUSTODIAN_BRIDGE_POLL_INTERVAL", "1s")
	t.Setenv("CUSTODIAN_DELEGATION_ENABLED", "false")
	t.Setenv("CUSTODIAN_TOKEN_DECIMALS", "18")
	t.Setenv("CUSTODIAN_HASH_CEILING", "7s")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", cfg.GatewayContract)
	assert.Equal(t, time.Second, cfg.BridgePollInterval)
	assert.False(t, cfg.DelegationEnabled)
	assert.Equal(t, 18, cfg.TokenDecimals)
	assert.Equal(t, 7*time.Second, cfg.HashCeiling)
}

func TestEnvMalformedValuesIgnored(t *testing.T) {
	t.Setenv("CUSTODIAN_TOKEN_DECIMALS", "lots")
	t.Setenv("CUSTODIAN_DELEGATION_ENABLED", "perhaps")
	t.Setenv("CUSTODIAN_REFRESH_INTERVAL", "soonish")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.TokenDecimals)
	assert.True(t, cfg.DelegationEnabled)
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval)
}

func TestLoadValidationRejectsOutOfRange(t *testing.T) {
	t.Setenv("CUSTODIAN_TOKEN_DECIMALS", "31")
	_, err := config.Load("")
	assert.Error(t, err)
}
