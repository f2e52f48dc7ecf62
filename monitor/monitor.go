// Package monitor is the orchestrator's only polling primitive: a
// backoff-aware engine that slows down after a quiet period and suspends
// entirely after prolonged idleness. Balance and incoming-transfer watchers
// are thin configurations of it.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
)

// PollFunc performs one poll. changed=true resets the idle clock. Errors
// are reported and polling continues; they never stop the subscription.
type PollFunc func(ctx context.Context) (changed bool, err error)

// Config tunes one subscription.
type Config struct {
	// ActiveInterval is the cadence while recently active.
	ActiveInterval time.Duration
	// IdleInterval is the slower cadence after IdleThreshold of quiet.
	IdleInterval time.Duration
	// IdleThreshold is how long without a change before idling.
	IdleThreshold time.Duration
	// PauseAfterIdle suspends polling entirely after this much quiet.
	// Zero means never pause.
	PauseAfterIdle time.Duration
}

func (c *Config) normalize() {
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = 5 * time.Second
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 3 * c.ActiveInterval
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 2 * time.Minute
	}
}

type subscription struct {
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Monitor runs keyed poll loops. Starting a key that is already running
// replaces the old loop; two loops never run for one key.
type Monitor struct {
	log logger.Logger
	rec metrics.Recorder

	mu   sync.Mutex
	subs map[string]*subscription
}

func New(log logger.Logger, rec metrics.Recorder) *Monitor {
	return &Monitor{
		log:  log,
		rec:  rec,
		subs: make(map[string]*subscription),
	}
}

// Start begins polling under key. Any running subscription for the same
// key is cancelled first.
func (m *Monitor) Start(key string, poll PollFunc, cfg Config) {
	cfg.normalize()

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{key: key, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if old, ok := m.subs[key]; ok {
		old.cancel()
	}
	m.subs[key] = sub
	m.mu.Unlock()

	go m.run(ctx, sub, poll, cfg)
}

// Stop cancels the subscription for key, if any.
func (m *Monitor) Stop(key string) {
	m.mu.Lock()
	sub, ok := m.subs[key]
	if ok {
		delete(m.subs, key)
	}
	m.mu.Unlock()
	if ok {
		sub.cancel()
		<-sub.done
	}
}

// StopAll cancels every subscription. Used on wallet disconnect and on
// orchestrator shutdown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

// Running reports whether key currently has a live subscription.
func (m *Monitor) Running(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[key]
	return ok
}

func (m *Monitor) run(ctx context.Context, sub *subscription, poll PollFunc, cfg Config) {
	defer close(sub.done)
	defer m.remove(sub)

	lastChange := time.Now()
	timer := time.NewTimer(cfg.ActiveInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		changed, err := poll(ctx)
		if ctx.Err() != nil {
			return
		}
		m.rec.IncCounter(metrics.EventPollTick, map[string]string{"wallet": sub.key})
		if err != nil {
			// Transient-network tolerant: report and keep going.
			m.rec.IncCounter(metrics.EventPollError, map[string]string{"wallet": sub.key})
			m.log.Warn("poll failed", map[string]any{"key": sub.key, "error": err.Error()})
		}
		if changed {
			lastChange = time.Now()
		}

		quiet := time.Since(lastChange)
		if cfg.PauseAfterIdle > 0 && quiet >= cfg.PauseAfterIdle {
			m.log.Info("monitor paused after prolonged idle", map[string]any{"key": sub.key})
			return
		}

		interval := cfg.ActiveInterval
		if quiet >= cfg.IdleThreshold {
			interval = cfg.IdleInterval
		}
		timer.Reset(interval)
	}
}

// remove drops sub from the table only if it is still the registered loop
// for its key; a replacement must not be evicted by its predecessor.
func (m *Monitor) remove(sub *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.subs[sub.key]; ok && cur == sub {
		delete(m.subs, sub.key)
	}
}
