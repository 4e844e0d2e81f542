package agent

import (
	"context"
	"sync"

	"github.com/eth2030/agentsim/core"
	"github.com/eth2030/agentsim/core/types"
)

// DecideFunc chooses transactions from the current observation and the
// most recent feedback, which is nil before the first step settles.
type DecideFunc func(obs Observation, last *Feedback) []*types.Transaction

// Reactive decides based on the last Feedback it received.
type Reactive struct {
	Base
	decide DecideFunc

	mu   sync.Mutex
	last *Feedback
}

// NewReactive creates an agent driven by decide.
func NewReactive(name string, addr types.Address, settings Settings, decide DecideFunc) *Reactive {
	return &Reactive{Base: NewBase(name, addr, settings), decide: decide}
}

func (r *Reactive) Observe(_ context.Context, obs Observation) ([]*types.Transaction, error) {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	return r.decide(obs, last), nil
}

// Notify records fb for the next decision.
func (r *Reactive) Notify(fb Feedback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = &fb
}

// Last returns the most recent feedback.
func (r *Reactive) Last() *Feedback {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Trigger selects which outcomes re-fire a RepeatOn agent.
type Trigger uint8

const (
	OnAny Trigger = iota
	OnSuccess
	OnRevert
)

// Matches reports whether an outcome of status s fires the trigger.
func (t Trigger) Matches(s core.Status) bool {
	switch t {
	case OnSuccess:
		return s == core.StatusSuccess
	case OnRevert:
		return s == core.StatusRevert
	}
	return true
}

// RepeatOn returns a decision function that sends a transaction built by
// build at the first step, and afterwards whenever one of the agent's
// results in the previous step matches trigger.
func RepeatOn(trigger Trigger, build func(step uint64) *types.Transaction) DecideFunc {
	return func(obs Observation, last *Feedback) []*types.Transaction {
		if last == nil {
			return []*types.Transaction{build(obs.Step)}
		}
		for _, r := range last.Results {
			if r.Outcome != nil && trigger.Matches(r.Outcome.Status) {
				return []*types.Transaction{build(obs.Step)}
			}
		}
		return nil
	}
}

// ObserveFunc is the signature of Func agents.
type ObserveFunc func(ctx context.Context, obs Observation) ([]*types.Transaction, error)

// Func adapts a plain function into an agent.
type Func struct {
	Base
	fn ObserveFunc
}

// NewFunc creates an agent calling fn on every step.
func NewFunc(name string, addr types.Address, settings Settings, fn ObserveFunc) *Func {
	return &Func{Base: NewBase(name, addr, settings), fn: fn}
}

func (f *Func) Observe(ctx context.Context, obs Observation) ([]*types.Transaction, error) {
	return f.fn(ctx, obs)
}
