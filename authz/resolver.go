// Package authz decides, per intent, whether to execute through a
// session-key delegation grant or raise an interactive challenge with the
// custody provider.
package authz

import (
	"context"
	"fmt"

	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/provider"
	"github.com/halcyon-fi/custodian/types"
)

// Path tags the authorization outcome.
type Path string

const (
	// PathDelegated means the operation already executed through a
	// session key; no interactive step.
	PathDelegated Path = "delegated"
	// PathChallenge means an interactive challenge was created and the
	// caller must suspend until it completes.
	PathChallenge Path = "challenge"
	// PathNeedsApproval means delegation is enabled but no grant exists;
	// the caller should offer the lower-friction first-time consent flow.
	PathNeedsApproval Path = "needs-approval"
)

// Decision is the tagged result of Authorize.
type Decision struct {
	Path      Path
	Result    *provider.DelegatedResult // set on PathDelegated
	Challenge *types.Challenge          // set on PathChallenge
}

// CredentialSource matches credential.Manager.
type CredentialSource interface {
	Resolve(ctx context.Context, ownerID string) (types.Credential, error)
	WithRetry(ctx context.Context, ownerID string, fn func(cred types.Credential) error) error
}

// Resolver implements the decision order: covering session key first, then
// first-time approval, then an interactive challenge.
type Resolver struct {
	ledger            *Ledger
	delegator         provider.Delegator
	challenger        provider.Challenger
	creds             CredentialSource
	delegationEnabled bool
	log               logger.Logger
	rec               metrics.Recorder
}

func NewResolver(ledger *Ledger, delegator provider.Delegator, challenger provider.Challenger, creds CredentialSource, cfg types.Config, log logger.Logger, rec metrics.Recorder) *Resolver {
	return &Resolver{
		ledger:            ledger,
		delegator:         delegator,
		challenger:        challenger,
		creds:             creds,
		delegationEnabled: cfg.DelegationEnabled,
		log:               log,
		rec:               rec,
	}
}

// Authorize resolves the path for an intent. A session key that exists but
// cannot cover the amount falls through to the interactive path; it never
// rejects the intent.
func (r *Resolver) Authorize(ctx context.Context, intent *types.Intent) (Decision, error) {
	amount, err := intent.AmountDecimal()
	if err != nil {
		return Decision{}, err
	}

	if r.delegationEnabled {
		key := r.ledger.Active(intent.WalletID, intent.Kind)
		if key == nil {
			return Decision{Path: PathNeedsApproval}, nil
		}
		if key.Covers(amount) {
			eligible, err := r.checkEligibility(ctx, intent)
			if err != nil {
				return Decision{}, err
			}
			if eligible {
				result, err := r.executeDelegated(ctx, key, intent)
				if err != nil {
					return Decision{}, err
				}
				r.ledger.RecordSpend(key.SessionKeyID, amount)
				r.rec.IncCounter(metrics.EventDelegatedExecute, map[string]string{"wallet": intent.WalletID})
				return Decision{Path: PathDelegated, Result: result}, nil
			}
			r.log.Info("provider declined delegated eligibility, falling back to challenge", map[string]any{
				"wallet": intent.WalletID,
				"amount": intent.Amount,
			})
		} else {
			r.log.Info("session key cannot cover amount, falling back to challenge", map[string]any{
				"wallet": intent.WalletID,
				"amount": intent.Amount,
				"limit":  key.SpendingLimit.String(),
				"used":   key.SpendingUsed.String(),
			})
		}
	}

	challenge, err := r.createChallenge(ctx, intent)
	if err != nil {
		return Decision{}, err
	}
	r.rec.IncCounter(metrics.EventChallengeCreated, map[string]string{"wallet": intent.WalletID})
	return Decision{Path: PathChallenge, Challenge: challenge}, nil
}

func (r *Resolver) checkEligibility(ctx context.Context, intent *types.Intent) (bool, error) {
	var eligible bool
	err := r.creds.WithRetry(ctx, intent.OwnerID, func(cred types.Credential) error {
		var checkErr error
		eligible, checkErr = r.delegator.DelegationEligible(ctx, cred, intent.WalletID, intent.Kind, intent.Amount)
		return checkErr
	})
	if err != nil {
		return false, fmt.Errorf("delegation eligibility check failed: %w", err)
	}
	return eligible, nil
}

func (r *Resolver) executeDelegated(ctx context.Context, key *types.SessionKey, intent *types.Intent) (*provider.DelegatedResult, error) {
	var result *provider.DelegatedResult
	err := r.creds.WithRetry(ctx, intent.OwnerID, func(cred types.Credential) error {
		var execErr error
		result, execErr = r.delegator.DelegatedExecute(ctx, cred, key.SessionKeyID, provider.TransferRequest{
			WalletID:    intent.WalletID,
			Destination: intent.Destination,
			Amount:      intent.Amount,
		})
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("delegated execution failed: %w", err)
	}
	return result, nil
}

func (r *Resolver) createChallenge(ctx context.Context, intent *types.Intent) (*types.Challenge, error) {
	var challenge *types.Challenge
	err := r.creds.WithRetry(ctx, intent.OwnerID, func(cred types.Credential) error {
		var createErr error
		challenge, createErr = r.challenger.CreateChallenge(ctx, cred, provider.ChallengeRequest{
			WalletID: intent.WalletID,
			OwnerID:  intent.OwnerID,
			Purpose:  purposeFor(intent.Kind),
			ResumeContext: types.ResumeContext{
				IntentID:    intent.ID,
				WalletID:    intent.WalletID,
				OwnerID:     intent.OwnerID,
				Destination: intent.Destination,
				Amount:      intent.Amount,
			},
		})
		return createErr
	})
	if err != nil {
		return nil, fmt.Errorf("challenge creation failed: %w", err)
	}
	return challenge, nil
}

func purposeFor(kind types.IntentKind) types.ChallengePurpose {
	switch kind {
	case types.IntentYieldSubscribe:
		return types.PurposeYieldApprove
	case types.IntentYieldRedeem:
		return types.PurposeYieldComplete
	default:
		return types.PurposeTransfer
	}
}
