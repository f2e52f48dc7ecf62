// Package utils holds validation and conversion helpers shared across the
// orchestrator: chain hash and address checks, decimal/smallest-unit
// conversion, and the bounded signature scan used by bridge signing.
package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var hexPattern = regexp.MustCompile("^[0-9a-fA-F]+$")

// IsTxHash reports whether s is a native chain digest: 0x plus 64 hex
// characters. Provider-internal ids (UUIDs and the like) fail this and must
// never be surfaced as explorer links.
func IsTxHash(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	return hexPattern.MatchString(s[2:])
}

// ValidateTxHash returns an error describing why s is not a chain hash.
func ValidateTxHash(s string) error {
	if s == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("transaction hash must start with 0x")
	}
	if len(s) != 66 {
		return fmt.Errorf("transaction hash must be 66 characters long, got %d", len(s))
	}
	if !hexPattern.MatchString(s[2:]) {
		return fmt.Errorf("transaction hash must be valid hex")
	}
	return nil
}

// NormalizeAddress validates an address and returns its EIP-55 checksum
// form.
func NormalizeAddress(address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("address cannot be empty")
	}
	if !strings.HasPrefix(address, "0x") {
		return "", fmt.Errorf("address must start with 0x")
	}
	if len(address) != 42 {
		return "", fmt.Errorf("address must be 42 characters long, got %d", len(address))
	}
	if !hexPattern.MatchString(address[2:]) {
		return "", fmt.Errorf("address must be valid hex")
	}
	return common.HexToAddress(address).Hex(), nil
}

// IsNullAddress reports whether address resolves to the chain's zero
// address.
func IsNullAddress(address string) bool {
	if len(address) != 42 || !strings.HasPrefix(address, "0x") {
		return false
	}
	return common.HexToAddress(address) == (common.Address{})
}

// ValidateAmount parses a non-negative decimal amount string.
func ValidateAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount cannot be negative")
	}
	return d, nil
}

// ToSmallestUnit converts a decimal amount string into the chain's smallest
// unit given the token's decimal precision.
func ToSmallestUnit(amount string, decimals int) (*big.Int, error) {
	d, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FromSmallestUnit formats a smallest-unit amount as a decimal string.
func FromSmallestUnit(amount *big.Int, decimals int) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
