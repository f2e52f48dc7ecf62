package types_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-fi/custodian/types"
)

func TestIntentStatusIsTerminal(t *testing.T) {
	assert.True(t, types.IntentSettled.IsTerminal())
	assert.True(t, types.IntentFailed.IsTerminal())
	assert.True(t, types.IntentCancelled.IsTerminal())
	assert.False(t, types.IntentDraft.IsTerminal())
	assert.False(t, types.IntentConfirmed.IsTerminal())
	assert.False(t, types.IntentAuthorizing.IsTerminal())
	assert.False(t, types.IntentSettling.IsTerminal())
}

func TestIntentAmountDecimal(t *testing.T) {
	intent := &types.Intent{Amount: "15.25"}
	d, err := intent.AmountDecimal()
	require.NoError(t, err)
	assert.Equal(t, "15.25", d.String())

	intent.Amount = "not-a-number"
	_, err = intent.AmountDecimal()
	assert.Error(t, err)

	intent.Amount = "-3"
	_, err = intent.AmountDecimal()
	assert.Error(t, err)
}

func TestValidateRoute(t *testing.T) {
	assert.NoError(t, types.ValidateRoute(types.ChainEthereum, types.ChainBase))

	err := types.ValidateRoute(types.Chain("solana"), types.ChainBase)
	require.Error(t, err)
	oe, ok := err.(*types.OrchestratorError)
	require.True(t, ok)
	assert.Equal(t, types.ErrUnsupportedRoute, oe.Code)
	assert.ElementsMatch(t, types.SupportedChains(), oe.Data["supportedChains"])

	err = types.ValidateRoute(types.ChainBase, types.ChainBase)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnsupportedRoute))
}

func TestSessionKeyActive(t *testing.T) {
	now := time.Now()
	key := &types.SessionKey{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, key.Active(now))

	// Lazy expiry: the grant object persists, Active just says no.
	assert.False(t, key.Active(now.Add(2*time.Hour)))

	key.Revoked = true
	assert.False(t, key.Active(now))
}

func TestSessionKeyCovers(t *testing.T) {
	key := &types.SessionKey{
		SpendingLimit: decimal.NewFromInt(50),
		SpendingUsed:  decimal.NewFromInt(5),
	}
	assert.True(t, key.Covers(decimal.NewFromInt(15)))
	assert.True(t, key.Covers(decimal.NewFromInt(45)), "exactly at the limit")
	assert.False(t, key.Covers(decimal.NewFromInt(46)))
}

func TestCredentialValidAndExpiry(t *testing.T) {
	now := time.Now()
	cred := types.Credential{AuthToken: "tok", EncryptionKey: "key", ExpiresAt: now.Add(2 * time.Minute)}
	assert.True(t, cred.Valid())
	assert.True(t, cred.ExpiresWithin(now, 5*time.Minute))
	assert.False(t, cred.ExpiresWithin(now, time.Minute))

	assert.False(t, types.Credential{}.Valid())
	assert.False(t, types.Credential{AuthToken: "tok"}.Valid())
}

func TestErrorTaxonomy(t *testing.T) {
	err := types.NewError(types.ErrInsufficientBalance, "amount exceeds balance")
	assert.Equal(t, "INSUFFICIENT_BALANCE: amount exceeds balance", err.Error())
	assert.Equal(t, types.ErrInsufficientBalance, types.ErrorCode(err))
	assert.True(t, types.IsCode(err, types.ErrInsufficientBalance))
	assert.False(t, types.IsCode(err, types.ErrSessionExpired))

	assert.True(t, types.IsTransient(types.NewError(types.ErrNetworkTransient, "rpc timeout")))
	assert.False(t, types.IsTransient(err))
	assert.Empty(t, types.ErrorCode(assert.AnError))
}

func TestConfigNormalize(t *testing.T) {
	var cfg types.Config
	cfg.Normalize()
	def := types.DefaultConfig()
	assert.Equal(t, def.HashAttempts, cfg.HashAttempts)
	assert.Equal(t, def.ChallengeInterval, cfg.ChallengeInterval)
	assert.Equal(t, def.GatewayContract, cfg.GatewayContract)
	assert.Equal(t, def.ReconcileDelays, cfg.ReconcileDelays)

	// Explicit values survive normalization.
	cfg = types.Config{HashAttempts: 3, TokenDecimals: 18}
	cfg.Normalize()
	assert.Equal(t, 3, cfg.HashAttempts)
	assert.Equal(t, 18, cfg.TokenDecimals)
}
