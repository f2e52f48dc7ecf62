// Package confirm resolves an opaque provider operation id to an on-chain
// transaction hash, merging the provider's transaction record with a
// secondary chain-indexer lookup. The provider may lag behind the chain;
// either source is authoritative once it yields a valid hash.
package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/halcyon-fi/custodian/indexer"
	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/provider"
	"github.com/halcyon-fi/custodian/types"
	"github.com/halcyon-fi/custodian/utils"
)

// State is the terminal classification of a resolution attempt.
type State string

const (
	// StateResolved means a valid chain hash was found.
	StateResolved State = "resolved"
	// StatePending means neither source has the hash yet and the ceiling
	// has not been reached; the caller may call again.
	StatePending State = "pending"
	// StateUnresolved means the ceiling was reached; the operation is
	// surfaced as "still processing" and marked for manual lookup, never
	// retried in the background.
	StateUnresolved State = "unresolved"
)

// Outcome is the result of ResolveHash.
type Outcome struct {
	State State
	Hash  string
}

// Context carries what the indexer fallback needs to find the transfer.
type Context struct {
	OwnerID     string
	WalletID    string
	FromAddress string
	ToAddress   string
	Amount      string // decimal string, token units
}

// CredentialSource matches credential.Manager.
type CredentialSource interface {
	Resolve(ctx context.Context, ownerID string) (types.Credential, error)
}

// Resolver merges the two hash sources with bounded polling.
type Resolver struct {
	txs   provider.WalletReader
	idx   indexer.ChainIndexer
	creds CredentialSource
	log   logger.Logger
	rec   metrics.Recorder

	attempts      int
	interval      time.Duration
	ceiling       time.Duration
	recency       time.Duration
	tokenDecimals int

	mu       sync.Mutex
	resolved map[string]string // operationID -> hash, idempotent stop
}

func NewResolver(txs provider.WalletReader, idx indexer.ChainIndexer, creds CredentialSource, cfg types.Config, log logger.Logger, rec metrics.Recorder) *Resolver {
	return &Resolver{
		txs:           txs,
		idx:           idx,
		creds:         creds,
		log:           log,
		rec:           rec,
		attempts:      cfg.HashAttempts,
		interval:      cfg.HashInterval,
		ceiling:       cfg.HashCeiling,
		recency:       cfg.IndexerRecency,
		tokenDecimals: cfg.TokenDecimals,
	}
}

// ResolveHash resolves operationID to a chain hash. Once a hash is found it
// is cached and returned on every later call without further provider or
// indexer traffic.
func (r *Resolver) ResolveHash(ctx context.Context, operationID string, rctx Context) (Outcome, error) {
	r.mu.Lock()
	if r.resolved == nil {
		r.resolved = make(map[string]string)
	}
	if hash, ok := r.resolved[operationID]; ok {
		r.mu.Unlock()
		return Outcome{State: StateResolved, Hash: hash}, nil
	}
	r.mu.Unlock()

	start := time.Now()
	defer func() {
		r.rec.ObserveLatency(metrics.OpResolveHash, time.Since(start), map[string]string{"wallet": rctx.WalletID})
	}()
	deadline := start.Add(r.ceiling)

	// Phase one: the provider's transaction record, a short fixed number
	// of attempts.
	for attempt := 0; attempt < r.attempts; attempt++ {
		if time.Now().After(deadline) {
			break
		}
		hash, err := r.fromProvider(ctx, operationID, rctx.OwnerID)
		if err != nil {
			if types.IsCode(err, types.ErrSessionExpired) {
				return Outcome{}, err
			}
			r.log.Warn("provider hash lookup failed", map[string]any{"operation": operationID, "error": err.Error()})
		}
		if hash != "" {
			return r.accept(operationID, hash), nil
		}
		if err := sleepCtx(ctx, r.interval); err != nil {
			return Outcome{}, err
		}
	}

	// Phase two: the chain indexer, keyed by sender, destination, amount
	// and a short recency window.
	if hash := r.fromIndexer(ctx, rctx); hash != "" {
		return r.accept(operationID, hash), nil
	}

	if time.Now().After(deadline) {
		r.log.Info("hash unresolved within ceiling, marking for manual lookup", map[string]any{"operation": operationID})
		return Outcome{State: StateUnresolved}, nil
	}
	return Outcome{State: StatePending}, nil
}

// Resolved returns the cached hash for operationID, if any.
func (r *Resolver) Resolved(operationID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, ok := r.resolved[operationID]
	return hash, ok
}

func (r *Resolver) accept(operationID, hash string) Outcome {
	r.mu.Lock()
	r.resolved[operationID] = hash
	r.mu.Unlock()
	return Outcome{State: StateResolved, Hash: hash}
}

func (r *Resolver) fromProvider(ctx context.Context, operationID, ownerID string) (string, error) {
	cred, err := r.creds.Resolve(ctx, ownerID)
	if err != nil {
		return "", err
	}
	tx, err := r.txs.GetTransaction(ctx, cred, operationID)
	if err != nil || tx == nil {
		return "", err
	}
	// The record may carry a provider-internal id in the hash field; only
	// a native chain digest counts.
	if utils.IsTxHash(tx.TxHash) {
		return tx.TxHash, nil
	}
	return "", nil
}

func (r *Resolver) fromIndexer(ctx context.Context, rctx Context) string {
	if r.idx == nil || rctx.FromAddress == "" || rctx.ToAddress == "" {
		return ""
	}
	amount, err := utils.ToSmallestUnit(rctx.Amount, r.tokenDecimals)
	if err != nil {
		r.log.Warn("indexer fallback skipped, bad amount", map[string]any{"amount": rctx.Amount, "error": err.Error()})
		return ""
	}

	found, err := r.idx.FindTransfer(ctx, indexer.TransferQuery{
		FromAddress: rctx.FromAddress,
		ToAddress:   rctx.ToAddress,
		Amount:      amount,
		Window:      r.recency,
	})
	if err != nil {
		r.log.Warn("indexer fallback failed", map[string]any{"error": err.Error()})
		return ""
	}
	if found == nil || !utils.IsTxHash(found.TxHash) {
		return ""
	}

	// A matching transfer alone is not proof: the indexer may surface a
	// pending or reverted transaction for the same sender, destination and
	// amount. Only a confirmed, successful status settles the hash.
	status, err := r.idx.TxStatusByHash(ctx, found.TxHash)
	if err != nil {
		r.log.Warn("indexer status lookup failed", map[string]any{"txHash": found.TxHash, "error": err.Error()})
		return ""
	}
	if status == nil || !status.Confirmed || !status.Success {
		return ""
	}
	return found.TxHash
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
