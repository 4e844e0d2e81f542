package agent

import (
	"context"

	"github.com/eth2030/agentsim/core/types"
)

// User is a passive account holder. It never submits transactions; the
// simulation's default admin account is a User.
type User struct {
	Base
}

// NewUser creates a passive agent.
func NewUser(name string, addr types.Address) *User {
	return &User{Base: NewBase(name, addr, Settings{})}
}

func (u *User) Observe(context.Context, Observation) ([]*types.Transaction, error) {
	return nil, nil
}
