package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/eth2030/agentsim/core"
	"github.com/eth2030/agentsim/core/vm"
)

// Config holds the runtime options of a simulation.
type Config struct {
	// Steps is the number of steps Run executes.
	Steps uint64
	// Seed feeds the stochastic agents built for this simulation.
	Seed uint64
	// BlockTime is the timestamp increment between steps, in seconds.
	BlockTime uint64
	// SnapshotEvery retains a world snapshot after every n-th step. Zero
	// keeps only the genesis snapshot.
	SnapshotEvery uint64
	// ParallelObserve polls agents concurrently during Collecting.
	ParallelObserve bool
	// Timeout is the wall-clock budget of Run, checked between steps.
	// Zero means unbounded.
	Timeout time.Duration

	Chain core.ChainConfig
	VM    vm.Config
}

// DefaultConfig returns the defaults used when a scenario leaves a value
// unset.
func DefaultConfig() Config {
	return Config{
		Steps:           10,
		BlockTime:       12,
		SnapshotEvery:   1,
		ParallelObserve: true,
		Chain:           core.DefaultChainConfig(),
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Steps == 0 {
		return errors.New("sim: steps must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("sim: negative timeout %v", c.Timeout)
	}
	if c.VM.MaxCallDepth < 0 || c.VM.MaxCallDepth > vm.MaxCallDepth {
		return fmt.Errorf("sim: max call depth %d outside [0, %d]", c.VM.MaxCallDepth, vm.MaxCallDepth)
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	return nil
}
