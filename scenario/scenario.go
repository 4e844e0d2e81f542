// Package scenario loads declarative simulation scenarios from TOML and
// builds ready-to-run simulations from them.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eth2030/agentsim/core"
	"github.com/eth2030/agentsim/core/types"
	"github.com/eth2030/agentsim/sim"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pelletier/go-toml"
)

// Scenario is the decoded form of a scenario file.
type Scenario struct {
	Name       string            `toml:"name"`
	Simulation SimulationSection `toml:"simulation"`
	Chain      ChainSection      `toml:"chain"`
	Accounts   []AccountSpec     `toml:"accounts"`
	Agents     []AgentSpec       `toml:"agents"`
}

// SimulationSection holds the run options.
type SimulationSection struct {
	Steps         uint64  `toml:"steps"`
	Seed          uint64  `toml:"seed"`
	BlockTime     uint64  `toml:"block_time"`
	SnapshotEvery *uint64 `toml:"snapshot_every"`
	Parallel      *bool   `toml:"parallel"`
	Timeout       string  `toml:"timeout"` // Go duration, e.g. "30s"
}

// ChainSection describes the simulated chain and its first block.
type ChainSection struct {
	Fork           string `toml:"fork"`
	ChainID        uint64 `toml:"chain_id"`
	BaseFee        string `toml:"base_fee"`
	EnforceBaseFee bool   `toml:"enforce_base_fee"`
	Coinbase       string `toml:"coinbase"`
	GasLimit       uint64 `toml:"gas_limit"`
	Timestamp      uint64 `toml:"timestamp"`
	Number         uint64 `toml:"number"`
}

// AccountSpec is one genesis account. Quantities are decimal or 0x-hex.
type AccountSpec struct {
	Address string            `toml:"address"`
	Balance string            `toml:"balance"`
	Nonce   uint64            `toml:"nonce"`
	Code    string            `toml:"code"`
	Storage map[string]string `toml:"storage"`
}

// AgentSpec configures one agent. Which fields apply depends on Kind.
type AgentSpec struct {
	Name     string `toml:"name"`
	Kind     string `toml:"kind"`
	Address  string `toml:"address"`
	Balance  string `toml:"balance"`
	GasLimit uint64 `toml:"gas_limit"`
	GasPrice string `toml:"gas_price"`
	// Watch subscribes the agent to logs emitted by these addresses.
	Watch []string `toml:"watch"`

	// scripted
	Script []ScriptEntry `toml:"script"`

	// random
	Targets     []string `toml:"targets"`
	MaxValue    string   `toml:"max_value"`
	Probability float64  `toml:"probability"`

	// random and reactive
	Data string `toml:"data"`

	// reactive
	To    string `toml:"to"`
	Value string `toml:"value"`
	On    string `toml:"on"`
}

// ScriptEntry is one transaction of a scripted agent. An empty To deploys
// Data as initcode.
type ScriptEntry struct {
	Step  uint64 `toml:"step"`
	To    string `toml:"to"`
	Value string `toml:"value"`
	Data  string `toml:"data"`
	Gas   uint64 `toml:"gas"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(baseName(path), ".toml")
	}
	return sc, nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	sc := new(Scenario)
	if err := toml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid scenario")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the scenario without building it.
func (sc *Scenario) Validate() error {
	if _, err := sc.timeout(); err != nil {
		return err
	}
	chain := core.ChainConfig{Fork: sc.Chain.Fork}
	if err := chain.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := parseQuantity(sc.Chain.BaseFee); err != nil {
		return invalidf("chain.base_fee: %v", err)
	}
	if sc.Chain.Coinbase != "" {
		if _, err := parseAddress(sc.Chain.Coinbase); err != nil {
			return invalidf("chain.coinbase: %v", err)
		}
	}

	accounts := make(map[types.Address]bool)
	for i, acct := range sc.Accounts {
		addr, err := parseAddress(acct.Address)
		if err != nil {
			return invalidf("accounts[%d].address: %v", i, err)
		}
		if accounts[addr] {
			return invalidf("accounts[%d]: duplicate address %v", i, addr)
		}
		accounts[addr] = true
		if _, err := parseQuantity(acct.Balance); err != nil {
			return invalidf("accounts[%d].balance: %v", i, err)
		}
		if _, err := parseBytes(acct.Code); err != nil {
			return invalidf("accounts[%d].code: %v", i, err)
		}
		for k, v := range acct.Storage {
			if _, err := types.ParseU256(k); err != nil {
				return invalidf("accounts[%d].storage key %q: %v", i, k, err)
			}
			if _, err := types.ParseU256(v); err != nil {
				return invalidf("accounts[%d].storage[%s]: %v", i, k, err)
			}
		}
	}

	blockGas := sc.blockGasLimit()
	names := make(map[string]bool)
	addrs := make(map[types.Address]string)
	for i := range sc.Agents {
		spec := &sc.Agents[i]
		if spec.Name == "" {
			return invalidf("agents[%d]: missing name", i)
		}
		if spec.Name == sim.AdminName {
			return invalidf("agents[%d]: name %q is reserved", i, spec.Name)
		}
		if names[spec.Name] {
			return invalidf("agents[%d]: duplicate name %q", i, spec.Name)
		}
		names[spec.Name] = true
		if _, ok := lookupKind(spec.Kind); !ok {
			return invalidf("agent %q: unknown kind %q", spec.Name, spec.Kind)
		}
		addr, err := spec.address()
		if err != nil {
			return invalidf("agent %q: address: %v", spec.Name, err)
		}
		if other, ok := addrs[addr]; ok {
			return invalidf("agent %q: address %v already used by %q", spec.Name, addr, other)
		}
		addrs[addr] = spec.Name
		for field, q := range map[string]string{"balance": spec.Balance, "gas_price": spec.GasPrice, "max_value": spec.MaxValue, "value": spec.Value} {
			if _, err := parseQuantity(q); err != nil {
				return invalidf("agent %q: %s: %v", spec.Name, field, err)
			}
		}
		if _, err := parseBytes(spec.Data); err != nil {
			return invalidf("agent %q: data: %v", spec.Name, err)
		}
		if spec.GasLimit > blockGas {
			return invalidf("agent %q: gas_limit %d above block gas limit %d", spec.Name, spec.GasLimit, blockGas)
		}
		for j, e := range spec.Script {
			if e.Step == 0 {
				return invalidf("agent %q: script[%d]: steps start at 1", spec.Name, j)
			}
			if e.Gas > blockGas {
				return invalidf("agent %q: script[%d].gas %d above block gas limit %d", spec.Name, j, e.Gas, blockGas)
			}
			if _, err := parseQuantity(e.Value); err != nil {
				return invalidf("agent %q: script[%d].value: %v", spec.Name, j, err)
			}
			if _, err := parseBytes(e.Data); err != nil {
				return invalidf("agent %q: script[%d].data: %v", spec.Name, j, err)
			}
		}
		if spec.Probability < 0 || spec.Probability > 1 {
			return invalidf("agent %q: probability %v outside [0, 1]", spec.Name, spec.Probability)
		}
		if _, err := parseTrigger(spec.On); err != nil {
			return invalidf("agent %q: %v", spec.Name, err)
		}
	}

	// Address references may name agents, so check them once all names are known.
	resolve := sc.resolver()
	for i := range sc.Agents {
		spec := &sc.Agents[i]
		refs := append(append([]string{spec.To}, spec.Targets...), spec.Watch...)
		for _, e := range spec.Script {
			refs = append(refs, e.To)
		}
		for _, ref := range refs {
			if ref == "" {
				continue
			}
			if _, err := resolve(ref); err != nil {
				return invalidf("agent %q: %v", spec.Name, err)
			}
		}
	}
	return nil
}

func (sc *Scenario) timeout() (time.Duration, error) {
	if sc.Simulation.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(sc.Simulation.Timeout)
	if err != nil || d < 0 {
		return 0, invalidf("simulation.timeout %q", sc.Simulation.Timeout)
	}
	return d, nil
}

// address returns the configured address, or one derived from the name.
func (spec *AgentSpec) address() (types.Address, error) {
	if spec.Address == "" {
		return DeriveAddress(spec.Name), nil
	}
	return parseAddress(spec.Address)
}

// resolver maps an address reference to an address. A reference is either
// a 0x-prefixed address or the name of an agent.
func (sc *Scenario) resolver() func(string) (types.Address, error) {
	byName := make(map[string]types.Address, len(sc.Agents))
	for i := range sc.Agents {
		if addr, err := sc.Agents[i].address(); err == nil {
			byName[sc.Agents[i].Name] = addr
		}
	}
	return func(ref string) (types.Address, error) {
		if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
			return parseAddress(ref)
		}
		if addr, ok := byName[ref]; ok {
			return addr, nil
		}
		return types.Address{}, fmt.Errorf("unknown address or agent %q", ref)
	}
}

func parseAddress(s string) (types.Address, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return types.Address{}, err
	}
	if len(b) != types.AddressLength {
		return types.Address{}, fmt.Errorf("address %q has %d bytes, want %d", s, len(b), types.AddressLength)
	}
	return types.BytesToAddress(b), nil
}

// parseQuantity parses a decimal or 0x-hex quantity. Empty means zero.
func parseQuantity(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return types.ParseU256(s)
}

// parseBytes decodes 0x-hex bytes. Empty means no bytes.
func parseBytes(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	return hexutil.Decode(s)
}
