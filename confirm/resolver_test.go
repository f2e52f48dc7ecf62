package confirm_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-fi/custodian/confirm"
	"github.com/halcyon-fi/custodian/indexer"
	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/provider"
	"github.com/halcyon-fi/custodian/types"
)

var chainHash = "0x" + strings.Repeat("ab1f", 16)

type fakeReader struct {
	calls atomic.Int64
	tx    func(callNum int64) *provider.TransactionRecord
	err   error
}

func (f *fakeReader) ListWallets(context.Context, types.Credential, string) ([]provider.Wallet, error) {
	return nil, nil
}

func (f *fakeReader) GetBalance(context.Context, types.Credential, string) (provider.Balance, error) {
	return provider.Balance{}, nil
}

func (f *fakeReader) ListTransactions(context.Context, types.Credential, string, time.Time) ([]provider.TransactionRecord, error) {
	return nil, nil
}

func (f *fakeReader) GetTransaction(context.Context, types.Credential, string) (*provider.TransactionRecord, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.tx == nil {
		return nil, nil
	}
	return f.tx(n), nil
}

type fakeIndexer struct {
	found       *indexer.IndexedTransfer
	err         error
	status      *indexer.TxStatus
	statusErr   error
	calls       atomic.Int64
	statusCalls atomic.Int64
}

func (f *fakeIndexer) FindTransfer(context.Context, indexer.TransferQuery) (*indexer.IndexedTransfer, error) {
	f.calls.Add(1)
	return f.found, f.err
}

func (f *fakeIndexer) TxStatusByHash(_ context.Context, hash string) (*indexer.TxStatus, error) {
	f.statusCalls.Add(1)
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status != nil {
		return f.status, nil
	}
	return &indexer.TxStatus{TxHash: hash, Confirmed: true, Success: true}, nil
}

type staticCreds struct {
	err error
}

func (s staticCreds) Resolve(context.Context, string) (types.Credential, error) {
	if s.err != nil {
		return types.Credential{}, s.err
	}
	return types.Credential{AuthToken: "tok", EncryptionKey: "enc"}, nil
}

func testConfig() types.Config {
	cfg := types.DefaultConfig()
	cfg.HashAttempts = 3
	cfg.HashInterval = time.Millisecond
	cfg.HashCeiling = 10 * time.Second
	cfg.TokenDecimals = 6
	return cfg
}

func newResolver(reader *fakeReader, idx indexer.ChainIndexer, creds confirm.CredentialSource, cfg types.Config) *confirm.Resolver {
	return confirm.NewResolver(reader, idx, creds, cfg, logger.NoopLogger{}, metrics.NoopRecorder{})
}

func rctx() confirm.Context {
	return confirm.Context{
		OwnerID:     "owner-1",
		WalletID:    "wallet-1",
		FromAddress: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		ToAddress:   "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		Amount:      "12.5",
	}
}

func TestResolveHashFromProvider(t *testing.T) {
	reader := &fakeReader{tx: func(int64) *provider.TransactionRecord {
		return &provider.TransactionRecord{OperationID: "op-1", TxHash: chainHash}
	}}
	r := newResolver(reader, nil, staticCreds{}, testConfig())

	out, err := r.ResolveHash(context.Background(), "op-1", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StateResolved, out.State)
	assert.Equal(t, chainHash, out.Hash)
}

func TestResolveHashIgnoresProviderInternalIDs(t *testing.T) {
	// The provider reports its own operation id in the hash field until the
	// chain hash lands on the third lookup.
	reader := &fakeReader{tx: func(n int64) *provider.TransactionRecord {
		if n < 3 {
			return &provider.TransactionRecord{TxHash: "internal-op-ref-123"}
		}
		return &provider.TransactionRecord{TxHash: chainHash}
	}}
	r := newResolver(reader, nil, staticCreds{}, testConfig())

	out, err := r.ResolveHash(context.Background(), "op-1", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StateResolved, out.State)
	assert.Equal(t, chainHash, out.Hash)
	assert.Equal(t, int64(3), reader.calls.Load())
}

func TestResolveHashIndexerFallback(t *testing.T) {
	reader := &fakeReader{} // provider never has the hash
	idx := &fakeIndexer{found: &indexer.IndexedTransfer{TxHash: chainHash}}
	r := newResolver(reader, idx, staticCreds{}, testConfig())

	out, err := r.ResolveHash(context.Background(), "op-1", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StateResolved, out.State)
	assert.Equal(t, chainHash, out.Hash)
	assert.Equal(t, int64(1), idx.calls.Load())
	assert.Equal(t, int64(1), idx.statusCalls.Load(), "indexer hash must be status-checked before acceptance")
}

func TestResolveHashIndexerUnconfirmedNotAccepted(t *testing.T) {
	reader := &fakeReader{}
	idx := &fakeIndexer{
		found:  &indexer.IndexedTransfer{TxHash: chainHash},
		status: &indexer.TxStatus{TxHash: chainHash, Confirmed: false},
	}
	r := newResolver(reader, idx, staticCreds{}, testConfig())

	out, err := r.ResolveHash(context.Background(), "op-1", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StatePending, out.State)
	assert.Empty(t, out.Hash)

	_, cached := r.Resolved("op-1")
	assert.False(t, cached, "a pending transaction must not enter the cache")
}

func TestResolveHashIndexerRevertedNotAccepted(t *testing.T) {
	reader := &fakeReader{}
	idx := &fakeIndexer{
		found:  &indexer.IndexedTransfer{TxHash: chainHash},
		status: &indexer.TxStatus{TxHash: chainHash, Confirmed: true, Success: false},
	}
	r := newResolver(reader, idx, staticCreds{}, testConfig())

	out, err := r.ResolveHash(context.Background(), "op-1", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StatePending, out.State)
	assert.Empty(t, out.Hash)
}

func TestResolveHashIndexerStatusErrorNotAccepted(t *testing.T) {
	reader := &fakeReader{}
	idx := &fakeIndexer{
		found:     &indexer.IndexedTransfer{TxHash: chainHash},
		statusErr: context.DeadlineExceeded,
	}
	r := newResolver(reader, idx, staticCreds{}, testConfig())

	out, err := r.ResolveHash(context.Background(), "op-1", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StatePending, out.State)
	assert.Empty(t, out.Hash)
}

func TestResolveHashPendingThenCachedOnSuccess(t *testing.T) {
	reader := &fakeReader{tx: func(n int64) *provider.TransactionRecord {
		if n <= 3 {
			return nil
		}
		return &provider.TransactionRecord{TxHash: chainHash}
	}}
	r := newResolver(reader, nil, staticCreds{}, testConfig())

	// First pass exhausts the provider attempts without a hash and without
	// reaching the ceiling: pending, caller may retry.
	out, err := r.ResolveHash(context.Background(), "op-1", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StatePending, out.State)

	// Second pass finds it; from then on the cache answers.
	out, err = r.ResolveHash(context.Background(), "op-1", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StateResolved, out.State)

	calls := reader.calls.Load()
	out, err = r.ResolveHash(context.Background(), "op-1", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StateResolved, out.State)
	assert.Equal(t, chainHash, out.Hash)
	assert.Equal(t, calls, reader.calls.Load(), "cached result must not re-poll")

	hash, ok := r.Resolved("op-1")
	assert.True(t, ok)
	assert.Equal(t, chainHash, hash)
}

func TestResolveHashUnresolvedAtCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.HashAttempts = 50
	cfg.HashInterval = 2 * time.Millisecond
	cfg.HashCeiling = 10 * time.Millisecond

	reader := &fakeReader{}
	r := newResolver(reader, nil, staticCreds{}, cfg)

	out, err := r.ResolveHash(context.Background(), "op-lost", rctx())
	require.NoError(t, err)
	assert.Equal(t, confirm.StateUnresolved, out.State)
	assert.Empty(t, out.Hash)
}

func TestResolveHashSessionExpiredPassesThrough(t *testing.T) {
	reader := &fakeReader{}
	creds := staticCreds{err: types.NewError(types.ErrSessionExpired, "re-auth required")}
	r := newResolver(reader, nil, creds, testConfig())

	_, err := r.ResolveHash(context.Background(), "op-1", rctx())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrSessionExpired))
}
