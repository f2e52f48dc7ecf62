package monitor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/monitor"
)

func fastConfig() monitor.Config {
	return monitor.Config{
		ActiveInterval: 5 * time.Millisecond,
		IdleInterval:   10 * time.Millisecond,
		IdleThreshold:  time.Minute,
	}
}

func newMonitor() *monitor.Monitor {
	return monitor.New(logger.NoopLogger{}, metrics.NoopRecorder{})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestMonitorPollsAndStops(t *testing.T) {
	m := newMonitor()
	var polls atomic.Int64

	m.Start("k", func(context.Context) (bool, error) {
		polls.Add(1)
		return true, nil
	}, fastConfig())

	waitFor(t, func() bool { return polls.Load() >= 3 })
	assert.True(t, m.Running("k"))

	m.Stop("k")
	assert.False(t, m.Running("k"))

	settled := polls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, polls.Load(), "no polls after Stop")
}

func TestMonitorSurvivesPollErrors(t *testing.T) {
	m := newMonitor()
	defer m.StopAll()
	var polls atomic.Int64

	m.Start("k", func(context.Context) (bool, error) {
		polls.Add(1)
		return false, errors.New("rpc timeout")
	}, fastConfig())

	// Errors are reported, never fatal: the loop keeps polling.
	waitFor(t, func() bool { return polls.Load() >= 5 })
	assert.True(t, m.Running("k"))
}

func TestMonitorStartReplacesExistingKey(t *testing.T) {
	m := newMonitor()
	defer m.StopAll()
	var first, second atomic.Int64

	m.Start("k", func(context.Context) (bool, error) {
		first.Add(1)
		return false, nil
	}, fastConfig())
	waitFor(t, func() bool { return first.Load() >= 1 })

	m.Start("k", func(context.Context) (bool, error) {
		second.Add(1)
		return false, nil
	}, fastConfig())
	waitFor(t, func() bool { return second.Load() >= 3 })

	// The replaced loop must be dead while the replacement runs.
	stopped := first.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, first.Load())
	assert.True(t, m.Running("k"))
}

func TestMonitorPausesAfterProlongedIdle(t *testing.T) {
	m := newMonitor()
	cfg := fastConfig()
	cfg.PauseAfterIdle = 20 * time.Millisecond

	var polls atomic.Int64
	m.Start("k", func(context.Context) (bool, error) {
		polls.Add(1)
		return false, nil // never a change, so the idle clock runs out
	}, cfg)

	waitFor(t, func() bool { return !m.Running("k") })
	require.Positive(t, polls.Load())
}

func TestStopAll(t *testing.T) {
	m := newMonitor()
	for _, key := range []string{"a", "b", "c"} {
		m.Start(key, func(context.Context) (bool, error) { return false, nil }, fastConfig())
	}
	m.StopAll()
	assert.False(t, m.Running("a"))
	assert.False(t, m.Running("b"))
	assert.False(t, m.Running("c"))
}
