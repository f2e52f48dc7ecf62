package custodian

import (
	"github.com/halcyon-fi/custodian/credential"
	"github.com/halcyon-fi/custodian/indexer"
	"github.com/halcyon-fi/custodian/lifecycle"
	"github.com/halcyon-fi/custodian/logger"
	"github.com/halcyon-fi/custodian/metrics"
	"github.com/halcyon-fi/custodian/types"
)

type Option func(*Orchestrator)

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.rec = r
	}
}

func WithConfig(cfg types.Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

func WithClock(c types.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithIndexer enables the independent chain-indexer fallback for hash
// resolution. Without it only the provider source is consulted.
func WithIndexer(idx indexer.ChainIndexer) Option {
	return func(o *Orchestrator) {
		o.idx = idx
	}
}

// WithCredentialStore swaps the credential persistence backend, for
// example credential.NewRedisStore for multi-process hosts.
func WithCredentialStore(store credential.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithEvents installs the UI-layer callbacks.
func WithEvents(events lifecycle.Events) Option {
	return func(o *Orchestrator) {
		o.events = events
	}
}

// WithRiskScorer replaces the built-in destination heuristic.
func WithRiskScorer(s lifecycle.RiskScorer) Option {
	return func(o *Orchestrator) {
		o.scorer = s
	}
}
