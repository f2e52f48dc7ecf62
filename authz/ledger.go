package authz

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/halcyon-fi/custodian/types"
)

// Ledger tracks delegation grants and their spend accounting. Expiry is
// checked on lookup; expired grants are simply skipped, never evicted.
type Ledger struct {
	clock types.Clock

	mu   sync.Mutex
	keys map[string][]*types.SessionKey // walletID -> grants
}

func NewLedger(clock types.Clock) *Ledger {
	return &Ledger{
		clock: clock,
		keys:  make(map[string][]*types.SessionKey),
	}
}

// Add registers a grant created through explicit user approval.
func (l *Ledger) Add(key *types.SessionKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[key.WalletID] = append(l.keys[key.WalletID], key)
}

// Revoke marks the grant unusable.
func (l *Ledger) Revoke(sessionKeyID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, grants := range l.keys {
		for _, k := range grants {
			if k.SessionKeyID == sessionKeyID {
				k.Revoked = true
				return true
			}
		}
	}
	return false
}

// Active returns a non-expired grant for the wallet and action type, or nil.
// The grant may still be unable to cover a given amount; the resolver
// decides what that means.
func (l *Ledger) Active(walletID string, action types.IntentKind) *types.SessionKey {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range l.keys[walletID] {
		if k.ActionType == action && k.Active(now) {
			return k
		}
	}
	return nil
}

// RecordSpend adds amount to the grant's used total after a successful
// delegated execution.
func (l *Ledger) RecordSpend(sessionKeyID string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, grants := range l.keys {
		for _, k := range grants {
			if k.SessionKeyID == sessionKeyID {
				k.SpendingUsed = k.SpendingUsed.Add(amount)
				return
			}
		}
	}
}

// Get returns the grant by id, or nil.
func (l *Ledger) Get(sessionKeyID string) *types.SessionKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, grants := range l.keys {
		for _, k := range grants {
			if k.SessionKeyID == sessionKeyID {
				return k
			}
		}
	}
	return nil
}
