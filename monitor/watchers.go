package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/halcyon-fi/custodian/provider"
	"github.com/halcyon-fi/custodian/types"
)

// CredentialSource resolves a live credential per poll, so a refresh that
// happens mid-subscription is picked up on the next tick.
type CredentialSource interface {
	Resolve(ctx context.Context, ownerID string) (types.Credential, error)
}

// BalanceKey keys a balance subscription.
func BalanceKey(walletID, address string) string {
	return "balance:" + walletID + ":" + address
}

// TransferKey keys an incoming-transfer subscription.
func TransferKey(walletID, address string) string {
	return "transfers:" + walletID + ":" + address
}

// WatchBalance polls the wallet balance and invokes onChange when the
// reported amount differs from the last observation.
func WatchBalance(m *Monitor, reader provider.WalletReader, creds CredentialSource, ownerID, walletID, address string, cfg Config, onChange func(provider.Balance)) {
	var mu sync.Mutex
	var last string
	seeded := false

	m.Start(BalanceKey(walletID, address), func(ctx context.Context) (bool, error) {
		cred, err := creds.Resolve(ctx, ownerID)
		if err != nil {
			return false, err
		}
		bal, err := reader.GetBalance(ctx, cred, walletID)
		if err != nil {
			return false, err
		}

		mu.Lock()
		changed := !seeded || bal.Amount != last
		last = bal.Amount
		seeded = true
		mu.Unlock()

		if changed {
			onChange(bal)
		}
		return changed, nil
	}, cfg)
}

// WatchIncomingTransfers polls recent transactions and invokes onIncoming
// once per newly observed inbound operation.
func WatchIncomingTransfers(m *Monitor, reader provider.WalletReader, creds CredentialSource, ownerID, walletID, address string, cfg Config, onIncoming func(provider.TransactionRecord)) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	since := time.Now().Add(-time.Minute)

	m.Start(TransferKey(walletID, address), func(ctx context.Context) (bool, error) {
		cred, err := creds.Resolve(ctx, ownerID)
		if err != nil {
			return false, err
		}
		txs, err := reader.ListTransactions(ctx, cred, walletID, since)
		if err != nil {
			return false, err
		}

		changed := false
		for _, tx := range txs {
			if tx.To != address {
				continue
			}
			mu.Lock()
			_, dup := seen[tx.OperationID]
			if !dup {
				seen[tx.OperationID] = struct{}{}
			}
			mu.Unlock()
			if dup {
				continue
			}
			changed = true
			onIncoming(tx)
		}
		return changed, nil
	}, cfg)
}
