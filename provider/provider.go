// Package provider defines the boundary to the custodial wallet provider.
// The provider is a remote service; this package only names its operations
// and payload shapes, the way the orchestrator consumes them.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/halcyon-fi/custodian/types"
)

// Wallet is a provider-managed custodial wallet.
type Wallet struct {
	WalletID string      `json:"walletId"`
	OwnerID  string      `json:"ownerId"`
	Address  string      `json:"address"`
	Chain    types.Chain `json:"chain"`
	State    string      `json:"state"`
}

// Balance is a point-in-time token balance.
type Balance struct {
	WalletID string    `json:"walletId"`
	Token    string    `json:"token"`
	Amount   string    `json:"amount"` // decimal string
	AsOf     time.Time `json:"asOf"`
}

// TransactionState mirrors the provider's transaction lifecycle.
type TransactionState string

const (
	TxStateQueued    TransactionState = "queued"
	TxStateSent      TransactionState = "sent"
	TxStateConfirmed TransactionState = "confirmed"
	TxStateComplete  TransactionState = "complete"
	TxStateFailed    TransactionState = "failed"
)

// TransactionRecord is the provider's view of an operation. TxHash may lag
// the chain or be a provider-internal id; callers must validate it before
// surfacing it as a chain hash.
type TransactionRecord struct {
	OperationID string           `json:"operationId"`
	WalletID    string           `json:"walletId"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Amount      string           `json:"amount"`
	TxHash      string           `json:"txHash,omitempty"`
	State       TransactionState `json:"state"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// TransferResult is what SendTransfer returns: either an immediate
// transaction or a challenge the user must complete first.
type TransferResult struct {
	Transaction *TransactionRecord `json:"transaction,omitempty"`
	Challenge   *types.Challenge   `json:"challenge,omitempty"`
}

// ChallengeState is the provider-side status of a challenge.
type ChallengeState string

const (
	ChallengePending  ChallengeState = "pending"
	ChallengeComplete ChallengeState = "complete"
	ChallengeFailed   ChallengeState = "failed"
	ChallengeExpired  ChallengeState = "expired"
)

// ChallengeStatus is a challenge-status lookup result. The completion
// payload shape is not perfectly contractual, hence the untyped Result.
type ChallengeStatus struct {
	ChallengeID string         `json:"challengeId"`
	State       ChallengeState `json:"state"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// DelegatedResult is the outcome of a session-key execution.
type DelegatedResult struct {
	OperationID string `json:"operationId"`
	TxHash      string `json:"txHash,omitempty"`
}

// BridgeState is the settlement coordinator's view of a bridge transfer.
type BridgeState struct {
	BridgeID     string    `json:"bridgeId"`
	Phase        string    `json:"phase"` // burned | attested | minting | complete | failed
	SourceTxHash string    `json:"sourceTxHash,omitempty"`
	DestTxHash   string    `json:"destTxHash,omitempty"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TransferRequest is the provider transfer call payload.
type TransferRequest struct {
	WalletID    string `json:"walletId"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// ChallengeRequest asks the provider to raise an interactive challenge.
type ChallengeRequest struct {
	WalletID      string                 `json:"walletId"`
	OwnerID       string                 `json:"ownerId"`
	Purpose       types.ChallengePurpose `json:"purpose"`
	ResumeContext types.ResumeContext    `json:"resumeContext"`
}

// SessionKeyRequest creates a delegation grant after user approval.
type SessionKeyRequest struct {
	WalletID      string           `json:"walletId"`
	AgentID       string           `json:"agentId"`
	ActionType    types.IntentKind `json:"actionType"`
	SpendingLimit string           `json:"spendingLimit"`
	TTL           time.Duration    `json:"ttl"`
}

// TokenRefresher is the credential-refresh slice of the provider.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, ownerID string, current types.Credential) (types.Credential, error)
}

// WalletReader covers wallet and balance lookups.
type WalletReader interface {
	ListWallets(ctx context.Context, cred types.Credential, ownerID string) ([]Wallet, error)
	GetBalance(ctx context.Context, cred types.Credential, walletID string) (Balance, error)
	ListTransactions(ctx context.Context, cred types.Credential, walletID string, since time.Time) ([]TransactionRecord, error)
	GetTransaction(ctx context.Context, cred types.Credential, operationID string) (*TransactionRecord, error)
}

// TransferSender submits a value transfer.
type TransferSender interface {
	SendTransfer(ctx context.Context, cred types.Credential, req TransferRequest) (*TransferResult, error)
}

// Challenger raises and inspects interactive challenges.
type Challenger interface {
	CreateChallenge(ctx context.Context, cred types.Credential, req ChallengeRequest) (*types.Challenge, error)
	GetChallengeStatus(ctx context.Context, cred types.Credential, challengeID string) (*ChallengeStatus, error)
}

// Delegator covers the session-key fast path. DelegationEligible is the
// provider's own say on whether a delegated execution may run for the given
// action and amount; the local grant ledger is necessary but not sufficient.
type Delegator interface {
	CreateSessionKey(ctx context.Context, cred types.Credential, req SessionKeyRequest) (*types.SessionKey, error)
	RevokeSessionKey(ctx context.Context, cred types.Credential, sessionKeyID string) error
	DelegationEligible(ctx context.Context, cred types.Credential, walletID string, action types.IntentKind, amount string) (bool, error)
	DelegatedExecute(ctx context.Context, cred types.Credential, sessionKeyID string, req TransferRequest) (*DelegatedResult, error)
}

// Gateway covers the bridge settlement coordinator.
type Gateway interface {
	HasGatewayDeposit(ctx context.Context, cred types.Credential, walletID string, chain types.Chain) (bool, error)
	GatewayDeposit(ctx context.Context, cred types.Credential, walletID string, chain types.Chain, amount string) (*TransferResult, error)
	SubmitBurnIntent(ctx context.Context, cred types.Credential, intent types.BurnIntent) (*BridgeState, error)
	GetBridgeStatus(ctx context.Context, cred types.Credential, bridgeID string) (*BridgeState, error)
}

// WalletCreator provisions a new custodial wallet (PIN setup challenge).
type WalletCreator interface {
	CreateWallet(ctx context.Context, cred types.Credential, ownerID string, chain types.Chain) (*types.Challenge, error)
}

// CustodyProvider is the full provider surface. Components take the narrow
// interface they need; the facade takes this.
type CustodyProvider interface {
	TokenRefresher
	WalletReader
	WalletCreator
	TransferSender
	Challenger
	Delegator
	Gateway
}

// AuthRejectedError marks a provider rejection caused by a stale or expired
// auth token. Receiving it triggers exactly one refresh-and-retry.
type AuthRejectedError struct {
	Reason string
}

func (e *AuthRejectedError) Error() string {
	if e.Reason == "" {
		return "provider rejected authorization token"
	}
	return "provider rejected authorization token: " + e.Reason
}

// IsAuthRejected reports whether err is (or wraps) an auth rejection.
func IsAuthRejected(err error) bool {
	var are *AuthRejectedError
	return errors.As(err, &are)
}
