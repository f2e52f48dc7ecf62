package utils_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-fi/custodian/utils"
)

func TestIsTxHash(t *testing.T) {
	valid := "0x" + strings.Repeat("ab1f", 16)
	require.Len(t, valid, 66)

	assert.True(t, utils.IsTxHash(valid))
	assert.False(t, utils.IsTxHash(""), "empty")
	assert.False(t, utils.IsTxHash("ab12cd"), "no prefix")
	assert.False(t, utils.IsTxHash("0x1234"), "too short")
	assert.False(t, utils.IsTxHash(valid+"00"), "too long")
	assert.False(t, utils.IsTxHash("0x"+strings.Repeat("zz1f", 16)), "non hex")
	// Provider-internal operation ids must never pass.
	assert.False(t, utils.IsTxHash("6f8a2b1c-74f4-4d2e-905d-88f9f0c2a051"))
}

func TestValidateTxHash(t *testing.T) {
	assert.NoError(t, utils.ValidateTxHash("0x"+strings.Repeat("ab1f", 16)))
	assert.ErrorContains(t, utils.ValidateTxHash(""), "empty")
	assert.ErrorContains(t, utils.ValidateTxHash("ab12"), "0x")
	assert.ErrorContains(t, utils.ValidateTxHash("0xab12"), "66 characters")
}

func TestNormalizeAddress(t *testing.T) {
	// EIP-55 reference vector.
	got, err := utils.NormalizeAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", got)

	// Already-checksummed input is stable.
	again, err := utils.NormalizeAddress(got)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	_, err = utils.NormalizeAddress("")
	assert.Error(t, err)
	_, err = utils.NormalizeAddress("5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	assert.Error(t, err)
	_, err = utils.NormalizeAddress("0x5aaeb6")
	assert.Error(t, err)
}

func TestIsNullAddress(t *testing.T) {
	assert.True(t, utils.IsNullAddress("0x0000000000000000000000000000000000000000"))
	assert.False(t, utils.IsNullAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.False(t, utils.IsNullAddress(""), "malformed input is not the null address")
}

func TestValidateAmount(t *testing.T) {
	d, err := utils.ValidateAmount("12.5")
	require.NoError(t, err)
	assert.Equal(t, "12.5", d.String())

	_, err = utils.ValidateAmount("")
	assert.Error(t, err)
	_, err = utils.ValidateAmount("abc")
	assert.Error(t, err)
	_, err = utils.ValidateAmount("-1")
	assert.Error(t, err)
}

func TestToSmallestUnit(t *testing.T) {
	got, err := utils.ToSmallestUnit("12.5", 6)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(12_500_000), got)

	got, err = utils.ToSmallestUnit("0.000001", 6)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), got)

	// Excess precision is rejected, not silently truncated.
	_, err = utils.ToSmallestUnit("0.0000001", 6)
	assert.ErrorContains(t, err, "decimal places")
}

func TestFromSmallestUnit(t *testing.T) {
	assert.Equal(t, "12.5", utils.FromSmallestUnit(big.NewInt(12_500_000), 6))
	assert.Equal(t, "0.000001", utils.FromSmallestUnit(big.NewInt(1), 6))
	assert.Equal(t, "0", utils.FromSmallestUnit(big.NewInt(0), 6))
}
