package types

// Chain identifies a supported settlement chain. All supported chains are
// EVM, so hashes are 0x-prefixed 32-byte hex and addresses are EIP-55.
type Chain string

const (
	ChainEthereum  Chain = "ethereum"
	ChainBase      Chain = "base"
	ChainArbitrum  Chain = "arbitrum"
	ChainAvalanche Chain = "avalanche"
)

// SupportedChains returns the bridgeable chain set. Returned by value so
// callers can self-correct after an UnsupportedRoute rejection.
func SupportedChains() []Chain {
	return []Chain{ChainEthereum, ChainBase, ChainArbitrum, ChainAvalanche}
}

// IsSupported reports whether the chain is in the bridgeable set.
func (c Chain) IsSupported() bool {
	switch c {
	case ChainEthereum, ChainBase, ChainArbitrum, ChainAvalanche:
		return true
	default:
		return false
	}
}

func (c Chain) String() string {
	return string(c)
}

// ValidateRoute checks a bridge route. Every rejection carries the
// supported-chain list in the error Data so the caller can present it.
func ValidateRoute(from, to Chain) error {
	if !from.IsSupported() {
		return routeError("unsupported source chain: " + from.String())
	}
	if !to.IsSupported() {
		return routeError("unsupported destination chain: " + to.String())
	}
	if from == to {
		return routeError("source and destination chain must differ")
	}
	return nil
}

func routeError(msg string) error {
	return &OrchestratorError{
		Code:    ErrUnsupportedRoute,
		Message: msg,
		Data:    map[string]any{"supportedChains": SupportedChains()},
	}
}
