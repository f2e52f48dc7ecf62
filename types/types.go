// Package types defines the shared data model for the custodian
// orchestrator: intents, challenges, session keys, bridge transfers and
// credentials, plus the error taxonomy every component reports through.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// IntentKind classifies the value-moving action a user asked for.
type IntentKind string

const (
	IntentTransfer       IntentKind = "transfer"
	IntentBridge         IntentKind = "bridge"
	IntentYieldSubscribe IntentKind = "yield-subscribe"
	IntentYieldRedeem    IntentKind = "yield-redeem"
)

// IntentStatus is the lifecycle state of an intent.
type IntentStatus string

const (
	IntentDraft       IntentStatus = "draft"
	IntentConfirmed   IntentStatus = "confirmed"
	IntentAuthorizing IntentStatus = "authorizing"
	IntentSettling    IntentStatus = "settling"
	IntentSettled     IntentStatus = "settled"
	IntentFailed      IntentStatus = "failed"
	IntentCancelled   IntentStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s IntentStatus) IsTerminal() bool {
	switch s {
	case IntentSettled, IntentFailed, IntentCancelled:
		return true
	default:
		return false
	}
}

// Intent is a requested value-moving action. It lives only in the active
// session; terminal intents are discarded, the on-chain record is the
// durable artifact.
type Intent struct {
	ID          string       `json:"id"`
	Kind        IntentKind   `json:"kind" validate:"required,oneof=transfer bridge yield-subscribe yield-redeem"`
	WalletID    string       `json:"walletId" validate:"required"`
	OwnerID     string       `json:"ownerId" validate:"required"`
	Amount      string       `json:"amount" validate:"required"`
	Destination string       `json:"destination,omitempty"`
	FromChain   Chain        `json:"fromChain,omitempty"`
	ToChain     Chain        `json:"toChain,omitempty"`
	BridgeMode  BridgeMode   `json:"bridgeMode,omitempty"`
	RiskScore   int          `json:"riskScore"`
	Status      IntentStatus `json:"status"`
	FailReason  string       `json:"failReason,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// AmountDecimal parses the intent amount. Amounts travel as strings because
// the custody provider speaks smallest-unit-safe decimal strings.
func (i *Intent) AmountDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(i.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid intent amount %q: %w", i.Amount, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("intent amount cannot be negative: %s", i.Amount)
	}
	return d, nil
}

// ChallengePurpose names what a custody-provider challenge authorizes.
type ChallengePurpose string

const (
	PurposeWalletCreation      ChallengePurpose = "wallet-creation"
	PurposeTransfer            ChallengePurpose = "transfer"
	PurposeGatewayDeposit      ChallengePurpose = "gateway-deposit"
	PurposeGatewayTransferSign ChallengePurpose = "gateway-transfer-sign"
	PurposeYieldApprove        ChallengePurpose = "yield-approve"
	PurposeYieldComplete       ChallengePurpose = "yield-complete"
)

// ResumeContext carries the minimal data needed to continue an intent once
// its challenge completes. Resumption must not depend on the live Intent
// object surviving, so everything settlement needs is here.
type ResumeContext struct {
	IntentID    string      `json:"intentId,omitempty"`
	WalletID    string      `json:"walletId"`
	OwnerID     string      `json:"ownerId"`
	Destination string      `json:"destination,omitempty"`
	Amount      string      `json:"amount,omitempty"`
	BridgeID    string      `json:"bridgeId,omitempty"`
	BurnIntent  *BurnIntent `json:"burnIntent,omitempty"`
}

// Challenge is a provider-issued interactive authorization request.
type Challenge struct {
	ChallengeID   string           `json:"challengeId"`
	OwnerUserID   string           `json:"ownerUserId"`
	WalletID      string           `json:"walletId"`
	AuthToken     string           `json:"authToken"`
	EncryptionKey string           `json:"encryptionKey"`
	Purpose       ChallengePurpose `json:"purpose"`
	ResumeContext ResumeContext    `json:"resumeContext"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// SessionKey is a scoped, time-boxed delegation grant. Expiry is checked
// lazily; grants are never actively evicted.
type SessionKey struct {
	SessionKeyID  string          `json:"sessionKeyId"`
	WalletID      string          `json:"walletId"`
	AgentID       string          `json:"agentId"`
	ActionType    IntentKind      `json:"actionType"`
	SpendingLimit decimal.Decimal `json:"spendingLimit"`
	SpendingUsed  decimal.Decimal `json:"spendingUsed"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	Revoked       bool            `json:"revoked"`
}

// Active reports whether the grant can still authorize anything at all.
func (k *SessionKey) Active(now time.Time) bool {
	return !k.Revoked && now.Before(k.ExpiresAt)
}

// Covers reports whether the grant can absorb one more spend of amount.
func (k *SessionKey) Covers(amount decimal.Decimal) bool {
	return k.SpendingUsed.Add(amount).LessThanOrEqual(k.SpendingLimit)
}

// BridgeMode selects the settlement protocol for a cross-chain transfer.
type BridgeMode string

const (
	// BridgeStandard is the burn/attest/mint CCTP cycle, minutes to settle.
	BridgeStandard BridgeMode = "standard"
	// BridgeFast is the Gateway-style pre-funded deposit channel, seconds.
	BridgeFast BridgeMode = "fast"
)

// BridgeStatus is the sub-state of a cross-chain settlement.
type BridgeStatus string

const (
	BridgeDepositing BridgeStatus = "depositing"
	BridgeSigning    BridgeStatus = "signing"
	BridgeSubmitting BridgeStatus = "submitting"
	BridgeMonitoring BridgeStatus = "monitoring"
	BridgeComplete   BridgeStatus = "complete"
	BridgeFailed     BridgeStatus = "failed"
)

// BurnIntent is the typed payload authorizing funds to be locked or burned
// on the source chain. It is only present in fast mode.
type BurnIntent struct {
	Depositor        string `json:"depositor"`
	Recipient        string `json:"recipient"`
	Value            string `json:"value"` // smallest units, decimal string
	SourceChain      Chain  `json:"sourceChain"`
	DestinationChain Chain  `json:"destinationChain"`
	Nonce            string `json:"nonce"` // bytes32 hex
	Expiry           int64  `json:"expiry"`
	Signature        string `json:"signature,omitempty"`
}

// BridgeTransfer is the cross-chain settlement record owned by exactly one
// bridge intent.
type BridgeTransfer struct {
	BridgeID     string       `json:"bridgeId"`
	IntentID     string       `json:"intentId"`
	WalletID     string       `json:"walletId"`
	OwnerID      string       `json:"ownerId"`
	FromChain    Chain        `json:"fromChain"`
	ToChain      Chain        `json:"toChain"`
	Amount       string       `json:"amount"`
	Mode         BridgeMode   `json:"mode"`
	SourceTxHash string       `json:"sourceTxHash,omitempty"`
	BurnIntent   *BurnIntent  `json:"burnIntent,omitempty"`
	Status       BridgeStatus `json:"status"`
	FailReason   string       `json:"failReason,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Credential is the provider auth token pair. Consumers capture a copy at
// the start of an operation and re-resolve rather than trusting a stale
// value; only the credential manager mutates it.
type Credential struct {
	AuthToken     string    `json:"authToken"`
	EncryptionKey string    `json:"encryptionKey"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Valid reports whether the credential carries a token at all.
func (c Credential) Valid() bool {
	return c.AuthToken != "" && c.EncryptionKey != ""
}

// ExpiresWithin reports whether the token expires inside the horizon.
func (c Credential) ExpiresWithin(now time.Time, horizon time.Duration) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now.Add(horizon))
}
