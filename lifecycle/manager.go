// Package lifecycle is the central intent and challenge state machine. It
// owns pending intents, challenge records, the per-wallet reentrancy latch,
// and resumption after an interactive challenge completes.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/halcyon-fi/custodian/authz"
	"github.com/halcyon-fi/custodian/confirm"
	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/provider"
	"github.com/halcyon-fi/custodian/types"
	"github.com/halcyon-fi/custodian/utils"
)

// Events are the callbacks through which the manager reports back to the
// UI layer. All are optional.
type Events struct {
	OnIntentUpdate  func(intent *types.Intent)
	OnChallenge     func(challenge *types.Challenge)
	OnRiskWarning   func(intent *types.Intent, score int)
	OnNeedsApproval func(intent *types.Intent)
	OnSettled       func(intent *types.Intent, hash string, state confirm.State)
	OnFailed        func(intent *types.Intent, reason *types.OrchestratorError)
	OnBalance       func(walletID string, displayed decimal.Decimal)
}

// ChallengeHandler processes the completion of a challenge whose purpose
// belongs to another component (the bridge protocol registers these). It is
// a raw func signature so registrants need not import this package.
type ChallengeHandler = func(ctx context.Context, challenge *types.Challenge, result map[string]any) error

// BridgeStarter begins cross-chain settlement for a confirmed bridge
// intent. It may return a challenge the intent suspends on.
type BridgeStarter = func(ctx context.Context, intent *types.Intent) (*types.Challenge, error)

// CredentialSource matches credential.Manager.
type CredentialSource interface {
	Resolve(ctx context.Context, ownerID string) (types.Credential, error)
	WithRetry(ctx context.Context, ownerID string, fn func(cred types.Credential) error) error
	Subscribe(l func(ownerID string, cred types.Credential))
}

// Outcome is what ConfirmIntent reports back synchronously.
type Outcome struct {
	Path      authz.Path
	Challenge *types.Challenge
	Hash      string
	HashState confirm.State
}

// PathBridge marks an intent handed to the bridge settlement protocol
// without an immediate challenge; it settles asynchronously.
const PathBridge = authz.Path("bridge")

var transitions = map[types.IntentStatus][]types.IntentStatus{
	types.IntentDraft:       {types.IntentConfirmed, types.IntentFailed, types.IntentCancelled},
	types.IntentConfirmed:   {types.IntentAuthorizing, types.IntentFailed, types.IntentCancelled},
	types.IntentAuthorizing: {types.IntentSettling, types.IntentFailed, types.IntentCancelled},
	types.IntentSettling:    {types.IntentSettled, types.IntentFailed},
}

func canTransition(from, to types.IntentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Manager is the intent and challenge lifecycle manager.
type Manager struct {
	authz    *authz.Resolver
	resolver *confirm.Resolver
	creds    CredentialSource
	wallets  provider.WalletReader
	sender   provider.TransferSender
	granter  provider.Delegator
	status   provider.Challenger
	scorer   RiskScorer
	clock    types.Clock
	log      logger.Logger
	rec      metrics.Recorder
	events   Events

	challengeAttempts int
	challengeInterval time.Duration
	reconcileDelays   []time.Duration

	mu         sync.Mutex
	lifetime   context.Context
	intents    map[string]*types.Intent
	challenges map[string]*types.Challenge
	cancelled  map[string]bool // intent IDs cancelled before settlement
	latched    map[string]bool // walletID -> challenge result being processed
	displayed  map[string]decimal.Decimal
	handlers   map[types.ChallengePurpose]ChallengeHandler

	bridgeStart BridgeStarter
	ledger      *authz.Ledger
}

func NewManager(az *authz.Resolver, ledger *authz.Ledger, resolver *confirm.Resolver, creds CredentialSource, prov provider.CustodyProvider, cfg types.Config, scorer RiskScorer, clock types.Clock, log logger.Logger, rec metrics.Recorder, events Events) *Manager {
	m := &Manager{
		authz:             az,
		ledger:            ledger,
		resolver:          resolver,
		creds:             creds,
		wallets:           prov,
		sender:            prov,
		granter:           prov,
		status:            prov,
		scorer:            scorer,
		clock:             clock,
		log:               log,
		rec:               rec,
		events:            events,
		challengeAttempts: cfg.ChallengeAttempts,
		challengeInterval: cfg.ChallengeInterval,
		reconcileDelays:   cfg.ReconcileDelays,
		lifetime:          context.Background(),
		intents:           make(map[string]*types.Intent),
		challenges:        make(map[string]*types.Challenge),
		cancelled:         make(map[string]bool),
		latched:           make(map[string]bool),
		displayed:         make(map[string]decimal.Decimal),
		handlers:          make(map[types.ChallengePurpose]ChallengeHandler),
	}

	// A refreshed credential must reach in-flight challenges so a retry
	// does not reuse the stale token.
	creds.Subscribe(m.propagateCredential)
	return m
}

// RegisterChallengeHandler routes completions of the given purpose to
// another component. The bridge protocol registers its deposit and signing
// purposes here.
func (m *Manager) RegisterChallengeHandler(purpose types.ChallengePurpose, h ChallengeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[purpose] = h
}

// AnnounceChallenge records a challenge raised mid-flow (a follow-up the
// user never explicitly requested) and surfaces it to the UI layer.
func (m *Manager) AnnounceChallenge(ch *types.Challenge) {
	m.TrackChallenge(ch)
	m.rec.IncCounter(metrics.EventChallengeCreated, map[string]string{"wallet": ch.WalletID})
	if m.events.OnChallenge != nil {
		m.events.OnChallenge(ch)
	}
}

// SetBridgeStarter installs the bridge settlement entry point. Bridge
// intents fail with UNSUPPORTED_ROUTE when none is installed.
func (m *Manager) SetBridgeStarter(start BridgeStarter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridgeStart = start
}

// BindLifetime ties background reconciliation to the orchestrator lifetime
// instead of context.Background. Delayed reconciliation must outlive the
// request that scheduled it, but not the process shutdown.
func (m *Manager) BindLifetime(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifetime = ctx
}

// TrackChallenge records a challenge created by another component so that
// its completion is routed and latched like any other.
func (m *Manager) TrackChallenge(ch *types.Challenge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[ch.ChallengeID] = ch
}

// ConfirmIntent takes a draft intent through confirmation and
// authorization. On the delegated path it settles synchronously; on the
// challenge path it suspends until OnChallengeResult.
func (m *Manager) ConfirmIntent(ctx context.Context, intent *types.Intent) (*Outcome, error) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.Status == "" {
		intent.Status = types.IntentDraft
	}
	intent.CreatedAt = m.clock.Now()

	// draft -> confirmed: destination re-validation and risk re-check.
	if intent.Kind != types.IntentBridge {
		normalized, err := utils.NormalizeAddress(intent.Destination)
		if err != nil {
			return nil, m.fail(intent, types.ErrInvalidDestination, err.Error())
		}
		intent.Destination = normalized
	} else {
		if err := types.ValidateRoute(intent.FromChain, intent.ToChain); err != nil {
			oe, _ := err.(*types.OrchestratorError)
			return nil, m.failWith(intent, oe)
		}
		if intent.Destination != "" {
			normalized, err := utils.NormalizeAddress(intent.Destination)
			if err != nil {
				return nil, m.fail(intent, types.ErrInvalidDestination, err.Error())
			}
			intent.Destination = normalized
		}
	}

	if utils.IsNullAddress(intent.Destination) {
		// Hard stop regardless of user confirmation.
		return nil, m.fail(intent, types.ErrInvalidDestination, "destination resolves to the null address")
	}

	intent.RiskScore = m.scorer.Score(intent)
	if intent.RiskScore >= riskWarnThreshold && m.events.OnRiskWarning != nil {
		// Soft warning only; the user already confirmed.
		m.events.OnRiskWarning(intent, intent.RiskScore)
	}
	m.setStatus(intent, types.IntentConfirmed)
	m.mu.Lock()
	m.intents[intent.ID] = intent
	m.mu.Unlock()
	m.rec.IncCounter(metrics.EventIntentConfirmed, map[string]string{"wallet": intent.WalletID})

	// Fresh balance check immediately before submission, never a cached
	// value.
	if err := m.checkBalance(ctx, intent.OwnerID, intent.WalletID, intent.Amount); err != nil {
		return nil, m.failErr(intent, err)
	}

	m.setStatus(intent, types.IntentAuthorizing)

	if intent.Kind == types.IntentBridge {
		m.mu.Lock()
		start := m.bridgeStart
		m.mu.Unlock()
		if start == nil {
			return nil, m.fail(intent, types.ErrUnsupportedRoute, "bridge settlement is not configured")
		}
		challenge, err := start(ctx, intent)
		if err != nil {
			return nil, m.failErr(intent, err)
		}
		if challenge != nil {
			return &Outcome{Path: authz.PathChallenge, Challenge: challenge}, nil
		}
		return &Outcome{Path: PathBridge}, nil
	}

	decision, err := m.authz.Authorize(ctx, intent)
	if err != nil {
		return nil, m.failErr(intent, err)
	}

	switch decision.Path {
	case authz.PathDelegated:
		m.setStatus(intent, types.IntentSettling)
		m.applyOptimistic(intent.WalletID, intent.Amount)
		outcome, err := m.finishSettlement(ctx, intent, decision.Result.OperationID, confirm.Context{
			OwnerID:   intent.OwnerID,
			WalletID:  intent.WalletID,
			ToAddress: intent.Destination,
			Amount:    intent.Amount,
		})
		if err != nil {
			return nil, err
		}
		outcome.Path = authz.PathDelegated
		return outcome, nil

	case authz.PathNeedsApproval:
		if m.events.OnNeedsApproval != nil {
			m.events.OnNeedsApproval(intent)
		}
		return &Outcome{Path: authz.PathNeedsApproval}, nil

	default:
		m.mu.Lock()
		m.challenges[decision.Challenge.ChallengeID] = decision.Challenge
		m.mu.Unlock()
		return &Outcome{Path: authz.PathChallenge, Challenge: decision.Challenge}, nil
	}
}

// CancelIntent cancels an intent that has not begun settling. A challenge
// already dispatched to the provider is not recalled; its completion is
// later tolerated as a no-op.
func (m *Manager) CancelIntent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return types.NewError(types.ErrIntentNotFound, "unknown intent "+id)
	}
	if intent.Status != types.IntentConfirmed && intent.Status != types.IntentAuthorizing {
		return types.NewError(types.ErrIntentConflict, fmt.Sprintf("intent %s cannot be cancelled in status %s", id, intent.Status))
	}

	intent.Status = types.IntentCancelled
	intent.UpdatedAt = m.clock.Now()
	m.cancelled[id] = true
	delete(m.intents, id)
	m.rec.IncCounter(metrics.EventIntentCancelled, map[string]string{"wallet": intent.WalletID})
	if m.events.OnIntentUpdate != nil {
		m.events.OnIntentUpdate(intent)
	}
	return nil
}

// OnChallengeResult is the completion callback forwarded by the UI layer.
// A second completion for the same wallet while one is being processed is
// ignored, not double-processed.
func (m *Manager) OnChallengeResult(ctx context.Context, challengeID string, result map[string]any, resultErr error) error {
	m.mu.Lock()
	challenge, ok := m.challenges[challengeID]
	if !ok {
		m.mu.Unlock()
		m.log.Warn("completion for unknown challenge ignored", map[string]any{"challenge": challengeID})
		return nil
	}
	if m.latched[challenge.WalletID] {
		m.mu.Unlock()
		m.rec.IncCounter(metrics.EventChallengeIgnored, map[string]string{"wallet": challenge.WalletID})
		m.log.Warn("challenge completion ignored, one already processing", map[string]any{"challenge": challengeID, "wallet": challenge.WalletID})
		return nil
	}
	m.latched[challenge.WalletID] = true
	delete(m.challenges, challengeID)
	cancelled := challenge.ResumeContext.IntentID != "" && m.cancelled[challenge.ResumeContext.IntentID]
	m.mu.Unlock()

	// The latch must be released on every exit path, or the wallet can
	// never process another challenge.
	start := time.Now()
	defer func() {
		m.mu.Lock()
		delete(m.latched, challenge.WalletID)
		m.mu.Unlock()
		m.rec.ObserveLatency(metrics.OpChallengeProcess, time.Since(start), map[string]string{"wallet": challenge.WalletID})
	}()

	if cancelled {
		m.log.Info("completion for cancelled intent, dropping", map[string]any{"challenge": challengeID})
		return nil
	}

	if resultErr != nil {
		return m.failChallenge(challenge, resultErr)
	}

	m.mu.Lock()
	handler := m.handlers[challenge.Purpose]
	m.mu.Unlock()
	if handler != nil {
		return handler(ctx, challenge, result)
	}

	return m.resumeTransfer(ctx, challenge)
}

// resumeTransfer settles a transfer from the challenge's resume context.
// The live intent may be gone (page reload); destination and amount come
// from the challenge record, never from memory.
func (m *Manager) resumeTransfer(ctx context.Context, challenge *types.Challenge) error {
	rctx := challenge.ResumeContext

	intent := m.lookupIntent(rctx.IntentID)
	if intent == nil {
		// Re-derive a minimal intent so settlement and reporting still work.
		intent = &types.Intent{
			ID:          rctx.IntentID,
			Kind:        types.IntentTransfer,
			WalletID:    rctx.WalletID,
			OwnerID:     rctx.OwnerID,
			Amount:      rctx.Amount,
			Destination: rctx.Destination,
			Status:      types.IntentAuthorizing,
		}
	}

	// Fresh balance check before submission, same as the delegated path.
	if err := m.checkBalance(ctx, rctx.OwnerID, rctx.WalletID, rctx.Amount); err != nil {
		return m.failErr(intent, err)
	}

	var result *provider.TransferResult
	err := m.creds.WithRetry(ctx, rctx.OwnerID, func(cred types.Credential) error {
		var sendErr error
		result, sendErr = m.sender.SendTransfer(ctx, cred, provider.TransferRequest{
			WalletID:    rctx.WalletID,
			Destination: rctx.Destination,
			Amount:      rctx.Amount,
		})
		return sendErr
	})
	if err != nil {
		return m.failErr(intent, err)
	}
	if result.Challenge != nil {
		// The provider can demand a follow-up challenge; surface it and
		// suspend again.
		m.AnnounceChallenge(result.Challenge)
		return nil
	}

	m.setStatus(intent, types.IntentSettling)
	m.applyOptimistic(rctx.WalletID, rctx.Amount)
	_, err = m.finishSettlement(ctx, intent, result.Transaction.OperationID, confirm.Context{
		OwnerID:   rctx.OwnerID,
		WalletID:  rctx.WalletID,
		ToAddress: rctx.Destination,
		Amount:    rctx.Amount,
	})
	return err
}

// finishSettlement resolves the hash and drives the intent terminal. An
// unresolved hash is accepted as settled-optimistically: the balance effect
// is what the user sees, the hash is marked for manual lookup.
func (m *Manager) finishSettlement(ctx context.Context, intent *types.Intent, operationID string, rctx confirm.Context) (*Outcome, error) {
	m.scheduleReconciliation(intent.OwnerID, intent.WalletID)

	outcome, err := m.resolver.ResolveHash(ctx, operationID, rctx)
	if err != nil {
		return nil, m.failErr(intent, err)
	}

	m.setStatus(intent, types.IntentSettled)
	m.removeIntent(intent.ID)
	m.rec.IncCounter(metrics.EventIntentSettled, map[string]string{"wallet": intent.WalletID})
	if m.events.OnSettled != nil {
		m.events.OnSettled(intent, outcome.Hash, outcome.State)
	}
	return &Outcome{Hash: outcome.Hash, HashState: outcome.State}, nil
}

// BeginSettling moves an externally-driven intent into settling and
// applies its optimistic balance effect.
func (m *Manager) BeginSettling(intent *types.Intent) {
	m.setStatus(intent, types.IntentSettling)
	m.applyOptimistic(intent.WalletID, intent.Amount)
}

// SettleIntent drives an externally-driven intent terminal with the given
// settlement hash.
func (m *Manager) SettleIntent(intent *types.Intent, hash string, state confirm.State) {
	m.setStatus(intent, types.IntentSettled)
	m.removeIntent(intent.ID)
	m.rec.IncCounter(metrics.EventIntentSettled, map[string]string{"wallet": intent.WalletID})
	if m.events.OnSettled != nil {
		m.events.OnSettled(intent, hash, state)
	}
}

// FailIntent fails an externally-driven intent with the given reason.
func (m *Manager) FailIntent(intent *types.Intent, reason *types.OrchestratorError) error {
	return m.failWith(intent, reason)
}

// IntentCancelled reports whether the intent was cancelled before
// settlement began.
func (m *Manager) IntentCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[id]
}

// ScheduleReconciliation re-fetches the authoritative balance at expanding
// delays and overwrites the displayed value. The fetches run against the
// bound lifetime, not any caller context.
func (m *Manager) ScheduleReconciliation(ownerID, walletID string) {
	m.scheduleReconciliation(ownerID, walletID)
}

// ApproveDelegation is the first-time consent flow: it creates a session
// key through the provider and registers it in the ledger.
func (m *Manager) ApproveDelegation(ctx context.Context, ownerID string, req provider.SessionKeyRequest) (*types.SessionKey, error) {
	var key *types.SessionKey
	err := m.creds.WithRetry(ctx, ownerID, func(cred types.Credential) error {
		var createErr error
		key, createErr = m.granter.CreateSessionKey(ctx, cred, req)
		return createErr
	})
	if err != nil {
		return nil, fmt.Errorf("session key creation failed: %w", err)
	}
	m.ledger.Add(key)
	return key, nil
}

// PollChallengeStatus is the bounded fallback diagnostic for hosts that
// lost the completion callback. It is never the primary mechanism.
func (m *Manager) PollChallengeStatus(ctx context.Context, ownerID, challengeID string) error {
	for attempt := 0; attempt < m.challengeAttempts; attempt++ {
		cred, err := m.creds.Resolve(ctx, ownerID)
		if err != nil {
			return err
		}
		status, err := m.status.GetChallengeStatus(ctx, cred, challengeID)
		if err != nil {
			m.log.Warn("challenge status poll failed", map[string]any{"challenge": challengeID, "error": err.Error()})
		} else {
			switch status.State {
			case provider.ChallengeComplete:
				return m.OnChallengeResult(ctx, challengeID, status.Result, nil)
			case provider.ChallengeFailed:
				return m.OnChallengeResult(ctx, challengeID, nil, types.NewError(types.ErrChallengeFailed, status.Error))
			case provider.ChallengeExpired:
				return m.OnChallengeResult(ctx, challengeID, nil, types.NewError(types.ErrChallengeExpired, "challenge expired at the provider"))
			}
		}
		timer := time.NewTimer(m.challengeInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return types.NewError(types.ErrChallengeExpired, "challenge status polling exhausted, still pending")
}

// DisplayBalance returns the optimistic displayed balance for a wallet.
func (m *Manager) DisplayBalance(walletID string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.displayed[walletID]
	return d, ok
}

// SetDisplayBalance seeds the displayed balance (from an authoritative
// fetch).
func (m *Manager) SetDisplayBalance(walletID string, balance decimal.Decimal) {
	m.mu.Lock()
	m.displayed[walletID] = balance
	m.mu.Unlock()
	if m.events.OnBalance != nil {
		m.events.OnBalance(walletID, balance)
	}
}

// applyOptimistic decrements the displayed balance by the intent amount,
// floored at zero, pending authoritative confirmation.
func (m *Manager) applyOptimistic(walletID, amount string) {
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return
	}

	m.mu.Lock()
	current, ok := m.displayed[walletID]
	var next decimal.Decimal
	if ok {
		next = current.Sub(amt)
		if next.IsNegative() {
			next = decimal.Zero
		}
		m.displayed[walletID] = next
	}
	m.mu.Unlock()

	if ok && m.events.OnBalance != nil {
		m.events.OnBalance(walletID, next)
	}
}

// scheduleReconciliation overwrites the optimistic balance with
// authoritative fetches at expanding delays, absorbing provider indexing
// lag. The goroutines run on the manager's lifetime so a finished or
// cancelled request does not abort a pending reconciliation.
func (m *Manager) scheduleReconciliation(ownerID, walletID string) {
	m.mu.Lock()
	ctx := m.lifetime
	m.mu.Unlock()
	for _, delay := range m.reconcileDelays {
		go func(d time.Duration) {
			if d > 0 {
				timer := time.NewTimer(d)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			m.reconcileBalance(ctx, ownerID, walletID)
		}(delay)
	}
}

func (m *Manager) reconcileBalance(ctx context.Context, ownerID, walletID string) {
	cred, err := m.creds.Resolve(ctx, ownerID)
	if err != nil {
		return
	}
	bal, err := m.wallets.GetBalance(ctx, cred, walletID)
	if err != nil {
		m.log.Warn("balance reconciliation fetch failed", map[string]any{"wallet": walletID, "error": err.Error()})
		return
	}
	if amount, err := decimal.NewFromString(bal.Amount); err == nil {
		m.SetDisplayBalance(walletID, amount)
	}
}

func (m *Manager) checkBalance(ctx context.Context, ownerID, walletID, amount string) error {
	amt, err := utils.ValidateAmount(amount)
	if err != nil {
		return types.NewError(types.ErrInsufficientBalance, err.Error())
	}

	cred, err := m.creds.Resolve(ctx, ownerID)
	if err != nil {
		return err
	}
	bal, err := m.wallets.GetBalance(ctx, cred, walletID)
	if err != nil {
		return fmt.Errorf("fresh balance fetch failed: %w", err)
	}
	available, err := decimal.NewFromString(bal.Amount)
	if err != nil {
		return fmt.Errorf("provider returned malformed balance %q: %w", bal.Amount, err)
	}
	if amt.GreaterThan(available) {
		return &types.OrchestratorError{
			Code:    types.ErrInsufficientBalance,
			Message: fmt.Sprintf("amount %s exceeds available balance %s", amount, bal.Amount),
			Data:    map[string]any{"available": bal.Amount},
		}
	}
	return nil
}

func (m *Manager) failChallenge(challenge *types.Challenge, cause error) error {
	code := types.ErrChallengeFailed
	if types.IsCode(cause, types.ErrChallengeExpired) {
		code = types.ErrChallengeExpired
	}
	intent := m.lookupIntent(challenge.ResumeContext.IntentID)
	if intent == nil {
		m.log.Warn("challenge failed for unknown intent", map[string]any{"challenge": challenge.ChallengeID, "error": cause.Error()})
		return nil
	}
	return m.fail(intent, code, cause.Error())
}

func (m *Manager) failErr(intent *types.Intent, err error) error {
	if oe, ok := err.(*types.OrchestratorError); ok {
		return m.failWith(intent, oe)
	}
	return m.failWith(intent, &types.OrchestratorError{Code: types.ErrChallengeFailed, Message: err.Error()})
}

func (m *Manager) fail(intent *types.Intent, code, message string) error {
	return m.failWith(intent, &types.OrchestratorError{Code: code, Message: message})
}

func (m *Manager) failWith(intent *types.Intent, reason *types.OrchestratorError) error {
	intent.Status = types.IntentFailed
	intent.FailReason = reason.Message
	intent.UpdatedAt = m.clock.Now()
	m.removeIntent(intent.ID)
	m.rec.IncCounter(metrics.EventIntentFailed, map[string]string{"wallet": intent.WalletID})
	if m.events.OnFailed != nil {
		m.events.OnFailed(intent, reason)
	}
	return reason
}

func (m *Manager) setStatus(intent *types.Intent, next types.IntentStatus) {
	if intent.Status == next {
		return
	}
	if !canTransition(intent.Status, next) {
		m.log.Error("illegal intent transition blocked", map[string]any{
			"intent": intent.ID,
			"from":   string(intent.Status),
			"to":     string(next),
		})
		return
	}
	intent.Status = next
	intent.UpdatedAt = m.clock.Now()
	if m.events.OnIntentUpdate != nil {
		m.events.OnIntentUpdate(intent)
	}
}

func (m *Manager) lookupIntent(id string) *types.Intent {
	if id == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intents[id]
}

func (m *Manager) removeIntent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.intents, id)
}

// propagateCredential pushes a refreshed credential into every in-flight
// challenge owned by ownerID, so a retry never reuses the stale token.
func (m *Manager) propagateCredential(ownerID string, cred types.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.challenges {
		if ch.OwnerUserID == ownerID {
			ch.AuthToken = cred.AuthToken
			ch.EncryptionKey = cred.EncryptionKey
		}
	}
}
