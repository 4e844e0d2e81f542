package core

import "fmt"

// ForkCancun is the only rule set the executor implements.
const ForkCancun = "cancun"

// ChainConfig holds the chain-level parameters of the simulated network.
type ChainConfig struct {
	// ChainID overrides the world state's chain id when non-zero.
	ChainID uint64
	// Fork names the pinned rule set.
	Fork string
	// EnforceBaseFee rejects transactions priced below the block base fee.
	EnforceBaseFee bool
}

// DefaultChainConfig returns a Cancun configuration that takes the chain id
// from the world state.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{Fork: ForkCancun}
}

// Validate checks the configuration.
func (c ChainConfig) Validate() error {
	if c.Fork != "" && c.Fork != ForkCancun {
		return fmt.Errorf("%w: %q (only %q is implemented)", ErrUnsupportedFork, c.Fork, ForkCancun)
	}
	return nil
}

// IsCancun reports whether Cancun rules apply. Always true for a valid
// configuration.
func (c ChainConfig) IsCancun() bool {
	return c.Fork == "" || c.Fork == ForkCancun
}
