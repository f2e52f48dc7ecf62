// Package credential owns the short-lived provider authorization token:
// resolution (cache, store, refresh), the proactive refresh loop, and the
// refresh-and-retry-once policy for auth-rejected provider calls.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/provider"
	"github.com/halcyon-fi/custodian/types"
)

// Listener is notified when an owner's credential changes, so in-flight
// challenge resume contexts can pick up the fresh token. It is an alias so
// Subscribe satisfies the consumers' plain-func interfaces.
type Listener = func(ownerID string, cred types.Credential)

// Manager is the credential lifecycle manager. It is the only component
// allowed to mutate credentials; everyone else resolves a copy.
type Manager struct {
	store     Store
	refresher provider.TokenRefresher
	clock     types.Clock
	log       logger.Logger
	rec       metrics.Recorder

	refreshInterval time.Duration
	expiryHorizon   time.Duration

	mu        sync.Mutex
	cache     map[string]types.Credential
	listeners []Listener

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager builds a credential manager. The proactive loop does not run
// until Start is called.
func NewManager(store Store, refresher provider.TokenRefresher, cfg types.Config, log logger.Logger, rec metrics.Recorder, clock types.Clock) *Manager {
	return &Manager{
		store:           store,
		refresher:       refresher,
		clock:           clock,
		log:             log,
		rec:             rec,
		refreshInterval: cfg.RefreshInterval,
		expiryHorizon:   cfg.ExpiryHorizon,
		cache:           make(map[string]types.Credential),
		stopCh:          make(chan struct{}),
	}
}

// Subscribe registers a listener for credential changes.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Put installs a credential obtained out of band (initial login). It is
// cached, persisted, and announced to listeners.
func (m *Manager) Put(ctx context.Context, ownerID string, cred types.Credential) error {
	if err := m.store.Save(ctx, ownerID, cred); err != nil {
		return err
	}
	m.install(ownerID, cred)
	return nil
}

// Resolve returns a live credential for ownerID: cache first, then the
// durable store, then a refresh attempt. Consumers must call this at the
// start of each operation rather than holding a copy across operations.
func (m *Manager) Resolve(ctx context.Context, ownerID string) (types.Credential, error) {
	now := m.clock.Now()

	m.mu.Lock()
	cached, ok := m.cache[ownerID]
	m.mu.Unlock()
	if ok && cached.Valid() && !cached.ExpiresWithin(now, 0) {
		return cached, nil
	}

	stored, err := m.store.Load(ctx, ownerID)
	if err != nil {
		m.log.Warn("credential store load failed", map[string]any{"owner": ownerID, "error": err.Error()})
	} else if stored.Valid() && !stored.ExpiresWithin(now, 0) {
		m.install(ownerID, stored)
		return stored, nil
	}

	// Nothing live anywhere: refresh from whatever token we last had.
	seed := cached
	if !seed.Valid() {
		seed = stored
	}
	if !seed.Valid() {
		return types.Credential{}, types.NewError(types.ErrAuthUnavailable, "no credential available for owner "+ownerID)
	}
	return m.Refresh(ctx, ownerID)
}

// Refresh exchanges the current token for a new one. Failures are reported,
// never swallowed: every dependent flow is unusable without a live token.
func (m *Manager) Refresh(ctx context.Context, ownerID string) (types.Credential, error) {
	m.mu.Lock()
	current := m.cache[ownerID]
	m.mu.Unlock()
	if !current.Valid() {
		if stored, err := m.store.Load(ctx, ownerID); err == nil && stored.Valid() {
			current = stored
		}
	}

	fresh, err := m.refresher.RefreshToken(ctx, ownerID, current)
	if err != nil {
		m.log.Error("credential refresh failed", map[string]any{"owner": ownerID, "error": err.Error()})
		return types.Credential{}, &types.OrchestratorError{
			Code:    types.ErrRefreshFailed,
			Message: fmt.Sprintf("credential refresh failed: %v", err),
		}
	}

	if err := m.store.Save(ctx, ownerID, fresh); err != nil {
		m.log.Warn("credential store save failed", map[string]any{"owner": ownerID, "error": err.Error()})
	}
	m.install(ownerID, fresh)
	m.rec.IncCounter(metrics.EventCredentialRefresh, map[string]string{"wallet": ""})
	return fresh, nil
}

// Invalidate drops all local credential state for ownerID. Used for
// SESSION_EXPIRED, the one error that forces a full re-authentication.
func (m *Manager) Invalidate(ctx context.Context, ownerID string) {
	m.mu.Lock()
	delete(m.cache, ownerID)
	m.mu.Unlock()
	if err := m.store.Clear(ctx, ownerID); err != nil {
		m.log.Warn("credential store clear failed", map[string]any{"owner": ownerID, "error": err.Error()})
	}
}

// WithRetry runs fn with a resolved credential. If fn reports an
// auth-rejected provider error, the credential is refreshed and fn retried
// exactly once; a second rejection surfaces SESSION_EXPIRED.
func (m *Manager) WithRetry(ctx context.Context, ownerID string, fn func(cred types.Credential) error) error {
	cred, err := m.Resolve(ctx, ownerID)
	if err != nil {
		return err
	}

	err = fn(cred)
	if err == nil || !provider.IsAuthRejected(err) {
		return err
	}

	fresh, refreshErr := m.Refresh(ctx, ownerID)
	if refreshErr != nil {
		return &types.OrchestratorError{
			Code:    types.ErrSessionExpired,
			Message: "authorization rejected and refresh failed; re-authentication required",
		}
	}

	if err := fn(fresh); err != nil {
		if provider.IsAuthRejected(err) {
			m.Invalidate(ctx, ownerID)
			return &types.OrchestratorError{
				Code:    types.ErrSessionExpired,
				Message: "authorization rejected after refresh; re-authentication required",
			}
		}
		return err
	}
	return nil
}

// Start launches the proactive refresh loop: every refreshInterval, any
// cached token expiring within expiryHorizon is refreshed.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.refreshExpiring(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the proactive loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) refreshExpiring(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	expiring := make([]string, 0)
	for ownerID, cred := range m.cache {
		if cred.ExpiresWithin(now, m.expiryHorizon) {
			expiring = append(expiring, ownerID)
		}
	}
	m.mu.Unlock()

	for _, ownerID := range expiring {
		if _, err := m.Refresh(ctx, ownerID); err != nil {
			m.log.Error("proactive credential refresh failed", map[string]any{"owner": ownerID, "error": err.Error()})
		}
	}
}

func (m *Manager) install(ownerID string, cred types.Credential) {
	m.mu.Lock()
	m.cache[ownerID] = cred
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l(ownerID, cred)
	}
}
