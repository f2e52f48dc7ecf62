package lifecycle

import (
	"github.com/shopspring/decimal"

	"github.com/halcyon-fi/custodian/types"
	"github.com/halcyon-fi/custodian/utils"
)

// RiskScorer computes a 0-100 score for an intent. Anything except the
// null-address hard stop is advisory: the user can proceed past a warning.
type RiskScorer interface {
	Score(intent *types.Intent) int
}

// riskWarnThreshold is where a score becomes a visible warning.
const riskWarnThreshold = 60

var largeAmountThreshold = decimal.NewFromInt(10_000)

// DefaultScorer is a small deterministic heuristic. Hosts with their own
// risk engine replace it through the facade option.
type DefaultScorer struct {
	// KnownDestinations suppresses the unknown-destination points for
	// addresses the user has transacted with before.
	KnownDestinations map[string]bool
}

func (s *DefaultScorer) Score(intent *types.Intent) int {
	if utils.IsNullAddress(intent.Destination) {
		return 100
	}

	score := 0
	if s.KnownDestinations != nil && !s.KnownDestinations[intent.Destination] {
		score += 30
	}
	if amount, err := intent.AmountDecimal(); err == nil && amount.GreaterThanOrEqual(largeAmountThreshold) {
		score += 40
	}
	if intent.Kind == types.IntentBridge {
		score += 10
	}
	return score
}
