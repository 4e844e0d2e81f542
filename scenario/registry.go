package scenario

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eth2030/agentsim/agent"
	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/crypto"
)

// Env is what a Factory gets besides the agent's own spec.
type Env struct {
	Address  types.Address
	Settings agent.Settings
	// Seed is the simulation seed.
	Seed uint64
	// Resolve maps an address reference (0x address or agent name).
	Resolve func(ref string) (types.Address, error)
}

// Factory builds an agent of one kind.
type Factory func(spec *AgentSpec, env *Env) (agent.Agent, error)

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Factory{
		"user":     newUser,
		"scripted": newScripted,
		"random":   newRandom,
		"reactive": newReactive,
	}
)

// RegisterKind makes an agent kind available to scenarios. Registering a
// name twice is an error.
func RegisterKind(name string, f Factory) error {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	if _, ok := kinds[name]; ok {
		return fmt.Errorf("scenario: agent kind %q already registered", name)
	}
	kinds[name] = f
	return nil
}

// Kinds returns the registered kind names, sorted.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupKind(name string) (Factory, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	f, ok := kinds[name]
	return f, ok
}

// DeriveAddress returns the address of an agent declared without one.
func DeriveAddress(name string) types.Address {
	return types.BytesToAddress(crypto.Keccak256([]byte("agentsim-agent"), []byte(name))[12:])
}

func newUser(spec *AgentSpec, env *Env) (agent.Agent, error) {
	return agent.NewUser(spec.Name, env.Address), nil
}

func newScripted(spec *AgentSpec, env *Env) (agent.Agent, error) {
	calls := make([]agent.Call, 0, len(spec.Script))
	for _, e := range spec.Script {
		call := agent.Call{Step: e.Step, GasLimit: e.Gas}
		if e.To != "" {
			to, err := env.Resolve(e.To)
			if err != nil {
				return nil, err
			}
			call.To = &to
		}
		var err error
		if call.Value, err = parseQuantity(e.Value); err != nil {
			return nil, err
		}
		if call.Data, err = parseBytes(e.Data); err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return agent.NewScripted(spec.Name, env.Address, env.Settings, calls), nil
}

func newRandom(spec *AgentSpec, env *Env) (agent.Agent, error) {
	policy := agent.RandomPolicy{Probability: spec.Probability}
	for _, ref := range spec.Targets {
		addr, err := env.Resolve(ref)
		if err != nil {
			return nil, err
		}
		policy.Targets = append(policy.Targets, addr)
	}
	var err error
	if policy.MaxValue, err = parseQuantity(spec.MaxValue); err != nil {
		return nil, err
	}
	if policy.Data, err = parseBytes(spec.Data); err != nil {
		return nil, err
	}
	return agent.NewRandom(spec.Name, env.Address, env.Settings, policy, env.Seed)
}

func newReactive(spec *AgentSpec, env *Env) (agent.Agent, error) {
	trigger, err := parseTrigger(spec.On)
	if err != nil {
		return nil, err
	}
	var to *types.Address
	if spec.To != "" {
		addr, err := env.Resolve(spec.To)
		if err != nil {
			return nil, err
		}
		to = &addr
	}
	value, err := parseQuantity(spec.Value)
	if err != nil {
		return nil, err
	}
	data, err := parseBytes(spec.Data)
	if err != nil {
		return nil, err
	}
	base := agent.NewBase(spec.Name, env.Address, env.Settings)
	return agent.NewReactive(spec.Name, env.Address, env.Settings, agent.RepeatOn(trigger, func(uint64) *types.Transaction {
		return base.NewTx(to, value, data)
	})), nil
}

func parseTrigger(on string) (agent.Trigger, error) {
	switch on {
	case "", "any":
		return agent.OnAny, nil
	case "success":
		return agent.OnSuccess, nil
	case "revert":
		return agent.OnRevert, nil
	}
	return 0, fmt.Errorf("unknown trigger %q (want success, revert or any)", on)
}
