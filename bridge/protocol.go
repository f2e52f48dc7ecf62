// Package bridge runs cross-chain settlement as a sub-state machine nested
// under a bridge intent: deposit, typed-data signing, burn-intent
// submission, and destination-mint monitoring.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/halcyon-fi/custodian/confirm"
	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/monitor"
	"github.com/halcyon-fi/custodian/provider"
	"github.com/halcyon-fi/custodian/types"
	"github.com/halcyon-fi/custodian/utils"
)

// Tracker is the slice of the lifecycle manager the protocol drives. The
// manager routes gateway-purpose challenge completions back here through
// the registered handlers.
type Tracker interface {
	AnnounceChallenge(ch *types.Challenge)
	RegisterChallengeHandler(purpose types.ChallengePurpose, h func(ctx context.Context, challenge *types.Challenge, result map[string]any) error)
	BeginSettling(intent *types.Intent)
	SettleIntent(intent *types.Intent, hash string, state confirm.State)
	FailIntent(intent *types.Intent, reason *types.OrchestratorError) error
	IntentCancelled(id string) bool
	ScheduleReconciliation(ownerID, walletID string)
}

// CredentialSource matches credential.Manager.
type CredentialSource interface {
	Resolve(ctx context.Context, ownerID string) (types.Credential, error)
	WithRetry(ctx context.Context, ownerID string, fn func(cred types.Credential) error) error
}

// Protocol is the bridge settlement coordinator client side. One Protocol
// serves all bridge intents; each transfer record tracks its own sub-state.
type Protocol struct {
	gateway    provider.Gateway
	challenger provider.Challenger
	wallets    provider.WalletReader
	creds      CredentialSource
	mon        *monitor.Monitor
	tracker    Tracker
	clock      types.Clock
	log        logger.Logger
	rec        metrics.Recorder

	gatewayContract string
	tokenDecimals   int
	burnIntentTTL   time.Duration
	pollCfg         monitor.Config

	mu        sync.Mutex
	transfers map[string]*types.BridgeTransfer
	intents   map[string]*types.Intent // live intent per bridge id, may be nil after reload
}

func NewProtocol(gateway provider.Gateway, challenger provider.Challenger, wallets provider.WalletReader, creds CredentialSource, mon *monitor.Monitor, tracker Tracker, cfg types.Config, clock types.Clock, log logger.Logger, rec metrics.Recorder) *Protocol {
	p := &Protocol{
		gateway:         gateway,
		challenger:      challenger,
		wallets:         wallets,
		creds:           creds,
		mon:             mon,
		tracker:         tracker,
		clock:           clock,
		log:             log,
		rec:             rec,
		gatewayContract: cfg.GatewayContract,
		tokenDecimals:   cfg.TokenDecimals,
		burnIntentTTL:   cfg.BurnIntentTTL,
		pollCfg: monitor.Config{
			ActiveInterval: cfg.BridgePollInterval,
			IdleInterval:   cfg.IdleInterval,
			IdleThreshold:  cfg.IdleThreshold,
			PauseAfterIdle: cfg.PauseAfterIdle,
		},
		transfers: make(map[string]*types.BridgeTransfer),
		intents:   make(map[string]*types.Intent),
	}
	tracker.RegisterChallengeHandler(types.PurposeGatewayDeposit, p.onDepositComplete)
	tracker.RegisterChallengeHandler(types.PurposeGatewayTransferSign, p.onSignatureComplete)
	return p
}

// Transfer returns the settlement record for a bridge id.
func (p *Protocol) Transfer(bridgeID string) (*types.BridgeTransfer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.transfers[bridgeID]
	return t, ok
}

// Initiate starts settlement for a confirmed bridge intent. It returns the
// challenge the intent suspends on, or nil when settlement proceeds without
// further user interaction.
func (p *Protocol) Initiate(ctx context.Context, intent *types.Intent) (*types.Challenge, error) {
	mode := intent.BridgeMode
	if mode == "" {
		mode = types.BridgeFast
	}

	transfer := &types.BridgeTransfer{
		BridgeID:  uuid.NewString(),
		IntentID:  intent.ID,
		WalletID:  intent.WalletID,
		OwnerID:   intent.OwnerID,
		FromChain: intent.FromChain,
		ToChain:   intent.ToChain,
		Amount:    intent.Amount,
		Mode:      mode,
		Status:    types.BridgeDepositing,
		CreatedAt: p.clock.Now(),
		UpdatedAt: p.clock.Now(),
	}
	p.mu.Lock()
	p.transfers[transfer.BridgeID] = transfer
	p.intents[transfer.BridgeID] = intent
	p.mu.Unlock()

	p.log.Info("bridge settlement started", map[string]any{
		"bridge": transfer.BridgeID,
		"from":   intent.FromChain.String(),
		"to":     intent.ToChain.String(),
		"mode":   string(mode),
	})

	if mode == types.BridgeFast {
		return p.initiateFast(ctx, intent, transfer)
	}
	return p.initiateStandard(ctx, intent, transfer)
}

// initiateFast runs the pre-funded gateway channel: ensure a deposit
// exists, then move to signing.
func (p *Protocol) initiateFast(ctx context.Context, intent *types.Intent, transfer *types.BridgeTransfer) (*types.Challenge, error) {
	var deposited bool
	err := p.creds.WithRetry(ctx, intent.OwnerID, func(cred types.Credential) error {
		var checkErr error
		deposited, checkErr = p.gateway.HasGatewayDeposit(ctx, cred, intent.WalletID, intent.FromChain)
		return checkErr
	})
	if err != nil {
		return nil, p.failTransfer(transfer, intent, types.ErrNetworkTransient, fmt.Sprintf("gateway deposit lookup failed: %v", err))
	}

	if !deposited {
		// First use of the gateway on this chain. A deposit challenge is
		// raised; its completion re-enters through onDepositComplete and
		// retries initiation without a new user request.
		challenge, err := p.requestDeposit(ctx, intent, transfer)
		if err != nil {
			return nil, err
		}
		if challenge != nil {
			return challenge, nil
		}
		// Deposit settled without interaction, fall through to signing.
	}

	return p.beginSigning(ctx, intent, transfer)
}

// initiateStandard runs the burn/attest/mint cycle: a deposit to the
// settlement contract, then passive monitoring until the destination mint.
func (p *Protocol) initiateStandard(ctx context.Context, intent *types.Intent, transfer *types.BridgeTransfer) (*types.Challenge, error) {
	challenge, err := p.requestDeposit(ctx, intent, transfer)
	if err != nil {
		return nil, err
	}
	if challenge != nil {
		return challenge, nil
	}
	return nil, nil
}

// requestDeposit calls the gateway deposit and either suspends on the
// returned challenge or advances the sub-state immediately.
func (p *Protocol) requestDeposit(ctx context.Context, intent *types.Intent, transfer *types.BridgeTransfer) (*types.Challenge, error) {
	var result *provider.TransferResult
	err := p.creds.WithRetry(ctx, intent.OwnerID, func(cred types.Credential) error {
		var depErr error
		result, depErr = p.gateway.GatewayDeposit(ctx, cred, intent.WalletID, intent.FromChain, intent.Amount)
		return depErr
	})
	if err != nil {
		return nil, p.failTransfer(transfer, intent, types.ErrNetworkTransient, fmt.Sprintf("gateway deposit failed: %v", err))
	}

	if result.Challenge != nil {
		ch := result.Challenge
		ch.Purpose = types.PurposeGatewayDeposit
		ch.ResumeContext = types.ResumeContext{
			IntentID: intent.ID,
			WalletID: intent.WalletID,
			OwnerID:  intent.OwnerID,
			Amount:   intent.Amount,
			BridgeID: transfer.BridgeID,
		}
		p.tracker.AnnounceChallenge(ch)
		return ch, nil
	}

	return nil, p.afterDeposit(ctx, intent, transfer, result)
}

// afterDeposit advances the sub-state once the deposit leg is done. Fast
// mode goes on to signing; standard mode hands over to monitoring, where
// attestation and mint are observed rather than driven.
func (p *Protocol) afterDeposit(ctx context.Context, intent *types.Intent, transfer *types.BridgeTransfer, result *provider.TransferResult) error {
	if result != nil && result.Transaction != nil {
		p.setStatus(transfer, types.BridgeDepositing)
		if utils.IsTxHash(result.Transaction.TxHash) {
			transfer.SourceTxHash = result.Transaction.TxHash
		}
		if transfer.Mode == types.BridgeStandard {
			p.tracker.BeginSettling(intent)
			p.startMonitoring(intent, transfer, result.Transaction.OperationID)
			return nil
		}
	}
	if transfer.Mode == types.BridgeStandard {
		return p.failTransfer(transfer, intent, types.ErrNetworkTransient, "gateway deposit returned neither transaction nor challenge")
	}
	_, err := p.beginSigning(ctx, intent, transfer)
	return err
}

// beginSigning builds the burn intent and raises the signing challenge.
func (p *Protocol) beginSigning(ctx context.Context, intent *types.Intent, transfer *types.BridgeTransfer) (*types.Challenge, error) {
	p.setStatus(transfer, types.BridgeSigning)

	depositor, err := p.walletAddress(ctx, intent.OwnerID, intent.WalletID)
	if err != nil {
		return nil, p.failTransfer(transfer, intent, types.ErrNetworkTransient, fmt.Sprintf("depositor address lookup failed: %v", err))
	}
	recipient := intent.Destination
	if recipient == "" {
		// Same-owner bridge: funds arrive at the wallet's own address on
		// the destination chain.
		recipient = depositor
	}
	value, err := utils.ToSmallestUnit(intent.Amount, p.tokenDecimals)
	if err != nil {
		return nil, p.failTransfer(transfer, intent, types.ErrInsufficientBalance, err.Error())
	}

	bi := types.BurnIntent{
		Depositor:        depositor,
		Recipient:        recipient,
		Value:            value.String(),
		SourceChain:      intent.FromChain,
		DestinationChain: intent.ToChain,
		Nonce:            common.BytesToHash(crypto.Keccak256([]byte(uuid.NewString()))).Hex(),
		Expiry:           p.clock.Now().Add(p.burnIntentTTL).Unix(),
	}

	// Fail malformed intents here, before the user is asked to sign.
	digest, err := BurnIntentDigest(bi, p.gatewayContract)
	if err != nil {
		return nil, p.failTransfer(transfer, intent, types.ErrUnsupportedRoute, err.Error())
	}
	p.log.Debug("burn intent prepared", map[string]any{"bridge": transfer.BridgeID, "digest": digest.Hex()})

	transfer.BurnIntent = &bi

	var ch *types.Challenge
	err = p.creds.WithRetry(ctx, intent.OwnerID, func(cred types.Credential) error {
		var chErr error
		ch, chErr = p.challenger.CreateChallenge(ctx, cred, provider.ChallengeRequest{
			WalletID: intent.WalletID,
			OwnerID:  intent.OwnerID,
			Purpose:  types.PurposeGatewayTransferSign,
			ResumeContext: types.ResumeContext{
				IntentID:   intent.ID,
				WalletID:   intent.WalletID,
				OwnerID:    intent.OwnerID,
				Amount:     intent.Amount,
				BridgeID:   transfer.BridgeID,
				BurnIntent: &bi,
			},
		})
		return chErr
	})
	if err != nil {
		return nil, p.failTransfer(transfer, intent, types.ErrChallengeFailed, fmt.Sprintf("signing challenge creation failed: %v", err))
	}

	p.tracker.AnnounceChallenge(ch)
	return ch, nil
}

// onDepositComplete resumes after the deposit challenge: it re-issues the
// transfer initiation call so the user does not repeat the request.
func (p *Protocol) onDepositComplete(ctx context.Context, challenge *types.Challenge, result map[string]any) error {
	transfer, intent := p.resume(challenge)
	if transfer == nil {
		p.log.Warn("deposit completion for unknown bridge", map[string]any{"challenge": challenge.ChallengeID})
		return nil
	}
	if p.tracker.IntentCancelled(transfer.IntentID) {
		p.log.Info("deposit completed for cancelled bridge intent, dropping", map[string]any{"bridge": transfer.BridgeID})
		return nil
	}

	if transfer.Mode == types.BridgeStandard {
		p.tracker.BeginSettling(intent)
		p.startMonitoring(intent, transfer, p.monitorKey(transfer, result))
		return nil
	}
	_, err := p.beginSigning(ctx, intent, transfer)
	return err
}

// onSignatureComplete extracts the burn-intent signature from the
// completion payload and submits the signed intent to the coordinator.
func (p *Protocol) onSignatureComplete(ctx context.Context, challenge *types.Challenge, result map[string]any) error {
	transfer, intent := p.resume(challenge)
	if transfer == nil {
		p.log.Warn("signature completion for unknown bridge", map[string]any{"challenge": challenge.ChallengeID})
		return nil
	}
	if p.tracker.IntentCancelled(transfer.IntentID) {
		p.log.Info("signature completed for cancelled bridge intent, dropping", map[string]any{"bridge": transfer.BridgeID})
		return nil
	}

	sig := utils.ExtractSignature(result, "signature")
	if sig == "" {
		return p.failTransfer(transfer, intent, types.ErrSignatureNotFound,
			"signature not found in challenge completion payload; this is a known provider payload limitation, no funds have moved")
	}

	bi := transfer.BurnIntent
	if bi == nil && challenge.ResumeContext.BurnIntent != nil {
		// Process reload: the payload survives in the challenge record.
		bi = challenge.ResumeContext.BurnIntent
		transfer.BurnIntent = bi
	}
	if bi == nil {
		return p.failTransfer(transfer, intent, types.ErrChallengeFailed, "no burn intent recorded for signed bridge transfer")
	}
	bi.Signature = sig

	p.setStatus(transfer, types.BridgeSubmitting)
	start := time.Now()
	var state *provider.BridgeState
	err := p.creds.WithRetry(ctx, transfer.OwnerID, func(cred types.Credential) error {
		var subErr error
		state, subErr = p.gateway.SubmitBurnIntent(ctx, cred, *bi)
		return subErr
	})
	p.rec.ObserveLatency(metrics.OpBridgeSettle, time.Since(start), map[string]string{"wallet": transfer.WalletID})
	if err != nil {
		return p.failTransfer(transfer, intent, types.ErrNetworkTransient, fmt.Sprintf("burn intent submission failed: %v", err))
	}

	if utils.IsTxHash(state.SourceTxHash) {
		transfer.SourceTxHash = state.SourceTxHash
	}
	key := state.BridgeID
	if key == "" {
		key = transfer.BridgeID
	}

	p.tracker.BeginSettling(intent)
	p.startMonitoring(intent, transfer, key)
	return nil
}

// startMonitoring subscribes the adaptive monitor on the coordinator-side
// bridge id and drives the terminal transitions from its observations.
func (p *Protocol) startMonitoring(intent *types.Intent, transfer *types.BridgeTransfer, coordinatorID string) {
	p.setStatus(transfer, types.BridgeMonitoring)
	key := "bridge:" + transfer.BridgeID

	p.mon.Start(key, func(pollCtx context.Context) (bool, error) {
		cred, err := p.creds.Resolve(pollCtx, transfer.OwnerID)
		if err != nil {
			return false, err
		}
		state, err := p.gateway.GetBridgeStatus(pollCtx, cred, coordinatorID)
		if err != nil {
			return false, err
		}
		switch state.Phase {
		case "complete":
			p.onComplete(intent, transfer, state)
			go p.mon.Stop(key)
			return true, nil
		case "failed":
			p.onError(intent, transfer, state)
			go p.mon.Stop(key)
			return true, nil
		case "burned", "attested", "minting":
			return true, nil
		default:
			return false, nil
		}
	}, p.pollCfg)
}

func (p *Protocol) onComplete(intent *types.Intent, transfer *types.BridgeTransfer, state *provider.BridgeState) {
	p.setStatus(transfer, types.BridgeComplete)
	hash := state.DestTxHash
	hashState := confirm.StateResolved
	if !utils.IsTxHash(hash) {
		hash = ""
		hashState = confirm.StateUnresolved
	}
	p.log.Info("bridge settlement complete", map[string]any{"bridge": transfer.BridgeID, "destTxHash": hash})
	p.tracker.SettleIntent(intent, hash, hashState)
	p.tracker.ScheduleReconciliation(transfer.OwnerID, transfer.WalletID)
}

// onError reports a stalled destination leg. The source leg already
// succeeded, so the message must make clear the user's funds are intact.
func (p *Protocol) onError(intent *types.Intent, transfer *types.BridgeTransfer, state *provider.BridgeState) {
	msg := state.Error
	if msg == "" {
		msg = "destination mint did not complete"
	}
	p.setStatus(transfer, types.BridgeFailed)
	transfer.FailReason = msg
	p.tracker.FailIntent(intent, &types.OrchestratorError{
		Code:    types.ErrNetworkTransient,
		Message: fmt.Sprintf("bridge settlement stalled after submission: %s; your source funds are intact, the destination leg needs investigation or retry", msg),
		Data:    map[string]any{"bridgeId": transfer.BridgeID, "sourceTxHash": transfer.SourceTxHash},
	})
}

// resume looks up the transfer and live intent for a challenge, rebuilding
// a minimal intent from the resume context when the live one is gone.
func (p *Protocol) resume(challenge *types.Challenge) (*types.BridgeTransfer, *types.Intent) {
	rctx := challenge.ResumeContext

	p.mu.Lock()
	transfer := p.transfers[rctx.BridgeID]
	intent := p.intents[rctx.BridgeID]
	p.mu.Unlock()

	if transfer == nil {
		if rctx.BridgeID == "" {
			return nil, nil
		}
		// Process reload: rebuild the record from the resume context.
		transfer = &types.BridgeTransfer{
			BridgeID:   rctx.BridgeID,
			IntentID:   rctx.IntentID,
			WalletID:   rctx.WalletID,
			OwnerID:    rctx.OwnerID,
			Amount:     rctx.Amount,
			Mode:       types.BridgeFast,
			BurnIntent: rctx.BurnIntent,
			Status:     types.BridgeDepositing,
			CreatedAt:  p.clock.Now(),
			UpdatedAt:  p.clock.Now(),
		}
		if rctx.BurnIntent != nil {
			transfer.FromChain = rctx.BurnIntent.SourceChain
			transfer.ToChain = rctx.BurnIntent.DestinationChain
		}
		p.mu.Lock()
		p.transfers[transfer.BridgeID] = transfer
		p.mu.Unlock()
	}
	if intent == nil {
		intent = &types.Intent{
			ID:        rctx.IntentID,
			Kind:      types.IntentBridge,
			WalletID:  rctx.WalletID,
			OwnerID:   rctx.OwnerID,
			Amount:    transfer.Amount,
			FromChain: transfer.FromChain,
			ToChain:   transfer.ToChain,
			Status:    types.IntentAuthorizing,
		}
		p.mu.Lock()
		p.intents[transfer.BridgeID] = intent
		p.mu.Unlock()
	}
	return transfer, intent
}

// monitorKey picks the coordinator-side id for standard-mode monitoring
// from the deposit completion payload, falling back to the local id.
func (p *Protocol) monitorKey(transfer *types.BridgeTransfer, result map[string]any) string {
	if result != nil {
		if id, ok := result["operationId"].(string); ok && id != "" {
			return id
		}
	}
	return transfer.BridgeID
}

func (p *Protocol) walletAddress(ctx context.Context, ownerID, walletID string) (string, error) {
	var addr string
	err := p.creds.WithRetry(ctx, ownerID, func(cred types.Credential) error {
		wallets, listErr := p.wallets.ListWallets(ctx, cred, ownerID)
		if listErr != nil {
			return listErr
		}
		for _, w := range wallets {
			if w.WalletID == walletID {
				addr = w.Address
				return nil
			}
		}
		return fmt.Errorf("wallet %s not found for owner", walletID)
	})
	if err != nil {
		return "", err
	}
	return utils.NormalizeAddress(addr)
}

func (p *Protocol) setStatus(transfer *types.BridgeTransfer, next types.BridgeStatus) {
	p.mu.Lock()
	transfer.Status = next
	transfer.UpdatedAt = p.clock.Now()
	p.mu.Unlock()
}

// failTransfer marks both the transfer and its owning intent failed.
func (p *Protocol) failTransfer(transfer *types.BridgeTransfer, intent *types.Intent, code, message string) error {
	p.setStatus(transfer, types.BridgeFailed)
	p.mu.Lock()
	transfer.FailReason = message
	p.mu.Unlock()
	return p.tracker.FailIntent(intent, &types.OrchestratorError{
		Code:    code,
		Message: message,
		Data:    map[string]any{"bridgeId": transfer.BridgeID},
	})
}
