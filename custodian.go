// Package custodian orchestrates authorization and settlement for a
// custodial wallet: intent lifecycle, session-key delegation, interactive
// challenges, cross-chain bridge settlement, hash resolution, adaptive
// balance monitoring and credential refresh.
package custodian

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/halcyon-fi/custodian/authz"
	"github.com/halcyon-fi/custodian/bridge"
	"github.com/halcyon-fi/custodian/confirm"
	"github.com/halcyon-fi/custodian/credential"
	"github.com/halcyon-fi/custodian/indexer"
	"github.com/halcyon-fi/custodian/lifecycle"
	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/monitor"
	"github.com/halcyon-fi/custodian/provider"
	"github.com/halcyon-fi/custodian/types"
)

// Orchestrator is the host-facing surface. One Orchestrator serves one
// process; wallets and owners multiplex inside it.
type Orchestrator struct {
	prov   provider.CustodyProvider
	cfg    types.Config
	log    logger.Logger
	rec    metrics.Recorder
	clock  types.Clock
	idx    indexer.ChainIndexer
	store  credential.Store
	events lifecycle.Events
	scorer lifecycle.RiskScorer

	creds     *credential.Manager
	mon       *monitor.Monitor
	resolver  *confirm.Resolver
	ledger    *authz.Ledger
	authorize *authz.Resolver
	intents   *lifecycle.Manager
	bridge    *bridge.Protocol

	cancel context.CancelFunc
}

// New wires the orchestrator around a custody provider. Defaults: noop
// logging and metrics, in-memory credential store, no indexer fallback.
func New(prov provider.CustodyProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		prov:   prov,
		cfg:    types.DefaultConfig(),
		log:    logger.NoopLogger{},
		rec:    metrics.NoopRecorder{},
		clock:  types.SystemClock{},
		store:  credential.NewMemoryStore(),
		scorer: &lifecycle.DefaultScorer{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cfg.Normalize()

	o.creds = credential.NewManager(o.store, prov, o.cfg, o.log, o.rec, o.clock)
	o.mon = monitor.New(o.log, o.rec)
	o.resolver = confirm.NewResolver(prov, o.idx, o.creds, o.cfg, o.log, o.rec)
	o.ledger = authz.NewLedger(o.clock)
	o.authorize = authz.NewResolver(o.ledger, prov, prov, o.creds, o.cfg, o.log, o.rec)
	o.intents = lifecycle.NewManager(o.authorize, o.ledger, o.resolver, o.creds, prov, o.cfg, o.scorer, o.clock, o.log, o.rec, o.events)
	o.bridge = bridge.NewProtocol(prov, prov, prov, o.creds, o.mon, o.intents, o.cfg, o.clock, o.log, o.rec)
	o.intents.SetBridgeStarter(o.bridge.Initiate)

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.intents.BindLifetime(ctx)
	o.creds.Start(ctx)
	return o
}

// SeedCredential installs the credential obtained at login. Every provider
// call resolves through the credential manager from here on.
func (o *Orchestrator) SeedCredential(ctx context.Context, ownerID string, cred types.Credential) error {
	return o.creds.Put(ctx, ownerID, cred)
}

// ConfirmIntent takes a user-confirmed intent through authorization. The
// outcome reports which path was taken and, on the interactive path, the
// challenge the host must present.
func (o *Orchestrator) ConfirmIntent(ctx context.Context, intent *types.Intent) (*lifecycle.Outcome, error) {
	return o.intents.ConfirmIntent(ctx, intent)
}

// CancelIntent cancels an intent that has not begun settling.
func (o *Orchestrator) CancelIntent(id string) error {
	return o.intents.CancelIntent(id)
}

// OnChallengeResult is the challenge completion callback. The host calls
// it when the provider SDK reports the user finished (or failed) the
// out-of-band step.
func (o *Orchestrator) OnChallengeResult(ctx context.Context, challengeID string, result map[string]any, resultErr error) error {
	return o.intents.OnChallengeResult(ctx, challengeID, result, resultErr)
}

// PollChallengeStatus is a bounded fallback for hosts that lost the
// completion callback, for example after a page reload.
func (o *Orchestrator) PollChallengeStatus(ctx context.Context, ownerID, challengeID string) error {
	return o.intents.PollChallengeStatus(ctx, ownerID, challengeID)
}

// ResumeChallenge re-registers a challenge restored from host persistence
// so its completion is routed after a process reload.
func (o *Orchestrator) ResumeChallenge(ch *types.Challenge) {
	o.intents.TrackChallenge(ch)
}

// CreateWallet starts wallet provisioning. The returned challenge carries
// the provider's PIN-setup flow.
func (o *Orchestrator) CreateWallet(ctx context.Context, ownerID string, chain types.Chain) (*types.Challenge, error) {
	var ch *types.Challenge
	err := o.creds.WithRetry(ctx, ownerID, func(cred types.Credential) error {
		var createErr error
		ch, createErr = o.prov.CreateWallet(ctx, cred, ownerID, chain)
		return createErr
	})
	if err != nil {
		return nil, err
	}
	o.intents.TrackChallenge(ch)
	return ch, nil
}

// ApproveDelegation creates a session key after explicit user consent.
func (o *Orchestrator) ApproveDelegation(ctx context.Context, ownerID string, req provider.SessionKeyRequest) (*types.SessionKey, error) {
	return o.intents.ApproveDelegation(ctx, ownerID, req)
}

// RevokeDelegation revokes a session key locally and at the provider.
func (o *Orchestrator) RevokeDelegation(ctx context.Context, ownerID, sessionKeyID string) error {
	o.ledger.Revoke(sessionKeyID)
	return o.creds.WithRetry(ctx, ownerID, func(cred types.Credential) error {
		return o.prov.RevokeSessionKey(ctx, cred, sessionKeyID)
	})
}

// StartWalletMonitoring subscribes the adaptive monitor on the wallet's
// balance and incoming transfers.
func (o *Orchestrator) StartWalletMonitoring(ownerID, walletID, address string) {
	cfg := monitor.Config{
		ActiveInterval: o.cfg.ActiveInterval,
		IdleInterval:   o.cfg.IdleInterval,
		IdleThreshold:  o.cfg.IdleThreshold,
		PauseAfterIdle: o.cfg.PauseAfterIdle,
	}
	monitor.WatchBalance(o.mon, o.prov, o.creds, ownerID, walletID, address, cfg, func(bal provider.Balance) {
		if amount, err := decimal.NewFromString(bal.Amount); err == nil {
			o.intents.SetDisplayBalance(walletID, amount)
		}
	})
	monitor.WatchIncomingTransfers(o.mon, o.prov, o.creds, ownerID, walletID, address, cfg, func(tx provider.TransactionRecord) {
		o.log.Info("incoming transfer observed", map[string]any{
			"wallet": walletID,
			"op":     tx.OperationID,
			"amount": tx.Amount,
		})
	})
}

// StopWalletMonitoring drops the wallet's monitor subscriptions.
func (o *Orchestrator) StopWalletMonitoring(walletID, address string) {
	o.mon.Stop(monitor.BalanceKey(walletID, address))
	o.mon.Stop(monitor.TransferKey(walletID, address))
}

// BridgeTransfer returns the settlement record for a bridge id.
func (o *Orchestrator) BridgeTransfer(bridgeID string) (*types.BridgeTransfer, bool) {
	return o.bridge.Transfer(bridgeID)
}

// SessionKey returns the ledger's view of a delegation grant.
func (o *Orchestrator) SessionKey(sessionKeyID string) *types.SessionKey {
	return o.ledger.Get(sessionKeyID)
}

// Close stops background refresh and all monitor subscriptions. In-flight
// challenge records are not recalled; hosts persist and resume them.
func (o *Orchestrator) Close() {
	o.cancel()
	o.creds.Stop()
	o.mon.StopAll()
}
