package credential_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-fi/custodian/credential"
	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/provider"
	"github.com/halcyon-fi/custodian/types"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	next  types.Credential
	err   error
}

func (f *fakeRefresher) RefreshToken(_ context.Context, _ string, _ types.Credential) (types.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return types.Credential{}, f.err
	}
	return f.next, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestManager(t *testing.T, refresher *fakeRefresher, now time.Time) *credential.Manager {
	t.Helper()
	cfg := types.DefaultConfig()
	return credential.NewManager(
		credential.NewMemoryStore(),
		refresher,
		cfg,
		logger.NoopLogger{},
		metrics.NoopRecorder{},
		types.ClockFunc(func() time.Time { return now }),
	)
}

func liveCred(token string, now time.Time) types.Credential {
	return types.Credential{AuthToken: token, EncryptionKey: "enc-" + token, ExpiresAt: now.Add(time.Hour)}
}

func TestResolveReturnsSeededCredential(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{}
	m := newTestManager(t, refresher, now)

	seeded := liveCred("tok-1", now)
	require.NoError(t, m.Put(context.Background(), "owner-1", seeded))

	got, err := m.Resolve(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, seeded, got)
	assert.Zero(t, refresher.callCount(), "live credential must not trigger refresh")
}

func TestResolveWithoutSeedIsAuthUnavailable(t *testing.T) {
	m := newTestManager(t, &fakeRefresher{}, time.Now())

	_, err := m.Resolve(context.Background(), "unknown")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAuthUnavailable))
}

func TestResolveRefreshesExpiredCredential(t *testing.T) {
	now := time.Now()
	fresh := liveCred("tok-fresh", now)
	refresher := &fakeRefresher{next: fresh}
	m := newTestManager(t, refresher, now)

	expired := types.Credential{AuthToken: "tok-old", EncryptionKey: "enc", ExpiresAt: now.Add(-time.Minute)}
	require.NoError(t, m.Put(context.Background(), "owner-1", expired))

	got, err := m.Resolve(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, 1, refresher.callCount())
}

func TestRefreshFailureSurfacesRefreshFailed(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{err: errors.New("provider down")}
	m := newTestManager(t, refresher, now)
	require.NoError(t, m.Put(context.Background(), "owner-1", liveCred("tok", now)))

	_, err := m.Refresh(context.Background(), "owner-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRefreshFailed))
}

func TestListenersSeeRefreshedCredential(t *testing.T) {
	now := time.Now()
	fresh := liveCred("tok-2", now)
	refresher := &fakeRefresher{next: fresh}
	m := newTestManager(t, refresher, now)

	var mu sync.Mutex
	var seen []types.Credential
	m.Subscribe(func(_ string, cred types.Credential) {
		mu.Lock()
		seen = append(seen, cred)
		mu.Unlock()
	})

	require.NoError(t, m.Put(context.Background(), "owner-1", liveCred("tok-1", now)))
	_, err := m.Refresh(context.Background(), "owner-1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, fresh, seen[1])
}

func TestWithRetryRefreshesOnceOnAuthRejection(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{next: liveCred("tok-fresh", now)}
	m := newTestManager(t, refresher, now)
	require.NoError(t, m.Put(context.Background(), "owner-1", liveCred("tok-stale", now)))

	var tokens []string
	err := m.WithRetry(context.Background(), "owner-1", func(cred types.Credential) error {
		tokens = append(tokens, cred.AuthToken)
		if cred.AuthToken == "tok-stale" {
			return &provider.AuthRejectedError{Reason: "token expired"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-stale", "tok-fresh"}, tokens)
	assert.Equal(t, 1, refresher.callCount())
}

func TestWithRetrySecondRejectionIsSessionExpired(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{next: liveCred("tok-fresh", now)}
	m := newTestManager(t, refresher, now)
	require.NoError(t, m.Put(context.Background(), "owner-1", liveCred("tok-stale", now)))

	calls := 0
	err := m.WithRetry(context.Background(), "owner-1", func(types.Credential) error {
		calls++
		return &provider.AuthRejectedError{}
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrSessionExpired))
	assert.Equal(t, 2, calls, "exactly one retry")

	// Local state is invalidated; the next resolve demands re-auth or a
	// refresh from nothing, which cannot succeed.
	_, err = m.Resolve(context.Background(), "owner-1")
	assert.Error(t, err)
}

func TestWithRetryPassesThroughDomainErrors(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{next: liveCred("tok-fresh", now)}
	m := newTestManager(t, refresher, now)
	require.NoError(t, m.Put(context.Background(), "owner-1", liveCred("tok", now)))

	domainErr := types.NewError(types.ErrInsufficientBalance, "broke")
	err := m.WithRetry(context.Background(), "owner-1", func(types.Credential) error {
		return domainErr
	})
	assert.True(t, types.IsCode(err, types.ErrInsufficientBalance))
	assert.Zero(t, refresher.callCount(), "non-auth errors must not trigger refresh")
}
