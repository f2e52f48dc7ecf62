package types

import "time"

// Config tunes the orchestrator. Zero values fall back to the defaults
// below; Normalize fills them in.
type Config struct {
	// Credential lifecycle.
	RefreshInterval time.Duration `yaml:"refreshInterval" json:"refreshInterval"`
	ExpiryHorizon   time.Duration `yaml:"expiryHorizon" json:"expiryHorizon"`

	// Confirmation resolver.
	HashAttempts   int           `yaml:"hashAttempts" json:"hashAttempts" validate:"gte=0"`
	HashInterval   time.Duration `yaml:"hashInterval" json:"hashInterval"`
	HashCeiling    time.Duration `yaml:"hashCeiling" json:"hashCeiling"`
	IndexerRecency time.Duration `yaml:"indexerRecency" json:"indexerRecency"`
	TokenDecimals  int           `yaml:"tokenDecimals" json:"tokenDecimals" validate:"gte=0,lte=30"`

	// Challenge-status fallback polling.
	ChallengeAttempts int           `yaml:"challengeAttempts" json:"challengeAttempts" validate:"gte=0"`
	ChallengeInterval time.Duration `yaml:"challengeInterval" json:"challengeInterval"`

	// Adaptive monitor defaults.
	ActiveInterval time.Duration `yaml:"activeInterval" json:"activeInterval"`
	IdleInterval   time.Duration `yaml:"idleInterval" json:"idleInterval"`
	IdleThreshold  time.Duration `yaml:"idleThreshold" json:"idleThreshold"`
	PauseAfterIdle time.Duration `yaml:"pauseAfterIdle" json:"pauseAfterIdle"`

	// Authorization.
	DelegationEnabled bool `yaml:"delegationEnabled" json:"delegationEnabled"`

	// Bridge settlement.
	GatewayContract    string        `yaml:"gatewayContract" json:"gatewayContract"`
	BridgePollInterval time.Duration `yaml:"bridgePollInterval" json:"bridgePollInterval"`
	BurnIntentTTL      time.Duration `yaml:"burnIntentTTL" json:"burnIntentTTL"`

	// Optimistic balance reconciliation delays after settling.
	ReconcileDelays []time.Duration `yaml:"reconcileDelays" json:"reconcileDelays"`
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		RefreshInterval:    5 * time.Minute,
		ExpiryHorizon:      5 * time.Minute,
		HashAttempts:       20,
		HashInterval:       500 * time.Millisecond,
		HashCeiling:        10 * time.Second,
		IndexerRecency:     60 * time.Second,
		TokenDecimals:      6,
		ChallengeAttempts:  60,
		ChallengeInterval:  2 * time.Second,
		ActiveInterval:     5 * time.Second,
		IdleInterval:       15 * time.Second,
		IdleThreshold:      2 * time.Minute,
		PauseAfterIdle:     10 * time.Minute,
		DelegationEnabled:  true,
		GatewayContract:    "0x0077777d7EBA4688BDeF3E311b846F25870A19B9",
		BridgePollInterval: 3 * time.Second,
		BurnIntentTTL:      30 * time.Minute,
		ReconcileDelays:    []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second},
	}
}

// Normalize fills zero fields with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = def.RefreshInterval
	}
	if c.ExpiryHorizon <= 0 {
		c.ExpiryHorizon = def.ExpiryHorizon
	}
	if c.HashAttempts <= 0 {
		c.HashAttempts = def.HashAttempts
	}
	if c.HashInterval <= 0 {
		c.HashInterval = def.HashInterval
	}
	if c.HashCeiling <= 0 {
		c.HashCeiling = def.HashCeiling
	}
	if c.IndexerRecency <= 0 {
		c.IndexerRecency = def.IndexerRecency
	}
	if c.TokenDecimals <= 0 {
		c.TokenDecimals = def.TokenDecimals
	}
	if c.ChallengeAttempts <= 0 {
		c.ChallengeAttempts = def.ChallengeAttempts
	}
	if c.ChallengeInterval <= 0 {
		c.ChallengeInterval = def.ChallengeInterval
	}
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = def.ActiveInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = def.IdleInterval
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = def.IdleThreshold
	}
	if c.PauseAfterIdle <= 0 {
		c.PauseAfterIdle = def.PauseAfterIdle
	}
	if c.GatewayContract == "" {
		c.GatewayContract = def.GatewayContract
	}
	if c.BridgePollInterval <= 0 {
		c.BridgePollInterval = def.BridgePollInterval
	}
	if c.BurnIntentTTL <= 0 {
		c.BurnIntentTTL = def.BurnIntentTTL
	}
	if len(c.ReconcileDelays) == 0 {
		c.ReconcileDelays = def.ReconcileDelays
	}
}

// Clock abstracts time for expiry checks so tests are deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a func to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
