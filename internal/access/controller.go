// Package access holds the desk's fixed roles, the pause gate and the
// operator-tunable platform configuration.
package access

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized = errors.New("caller not authorized")
	ErrPaused       = errors.New("platform paused")
	ErrFeeTooHigh   = errors.New("fee rate exceeds 100%")
	ErrZeroRole     = errors.New("role address must not be zero")
)

// MaxFeeBps caps the fee rate at 100%.
const MaxFeeBps = 10000

// Roles are the three fixed identities, bound at startup and immutable
// for the life of the process.
type Roles struct {
	Operator     common.Address
	Treasury     common.Address
	EscrowKeeper common.Address
}

// Controller gates mutating operations and owns the tunable platform
// configuration.
type Controller struct {
	mu            sync.RWMutex
	roles         Roles
	paused        bool
	minOrderValue *big.Int
	feeBps        uint64
	log           *zap.Logger
}

// NewController validates the initial configuration and binds roles.
func NewController(roles Roles, minOrderValue *big.Int, feeBps uint64, log *zap.Logger) (*Controller, error) {
	if roles.Operator == (common.Address{}) || roles.Treasury == (common.Address{}) || roles.EscrowKeeper == (common.Address{}) {
		return nil, ErrZeroRole
	}
	if feeBps > MaxFeeBps {
		return nil, ErrFeeTooHigh
	}
	if minOrderValue == nil {
		minOrderValue = new(big.Int)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		roles:         roles,
		minOrderValue: new(big.Int).Set(minOrderValue),
		feeBps:        feeBps,
		log:           log,
	}, nil
}

// Roles returns the fixed role bindings.
func (c *Controller) Roles() Roles {
	return c.roles
}

// RequireOperator fails unless actor holds the operator role.
func (c *Controller) RequireOperator(actor common.Address) error {
	if actor != c.roles.Operator {
		return ErrUnauthorized
	}
	return nil
}

// RequireKeeper fails unless actor holds the escrow keeper role.
func (c *Controller) RequireKeeper(actor common.Address) error {
	if actor != c.roles.EscrowKeeper {
		return ErrUnauthorized
	}
	return nil
}

// RequireNotPaused fails while the platform is paused.
func (c *Controller) RequireNotPaused() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paused {
		return ErrPaused
	}
	return nil
}

// Paused reports the pause state.
func (c *Controller) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// SetPaused flips the pause gate. Operator only; idempotent.
func (c *Controller) SetPaused(actor common.Address, paused bool) error {
	if err := c.RequireOperator(actor); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
	c.log.Info("pause state changed", zap.Bool("paused", paused))
	return nil
}

// MinOrderValue returns a copy of the minimum order value.
func (c *Controller) MinOrderValue() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.minOrderValue)
}

// SetMinOrderValue updates the minimum order value and returns the
// previous one. Operator only.
func (c *Controller) SetMinOrderValue(actor common.Address, v *big.Int) (*big.Int, error) {
	if err := c.RequireOperator(actor); err != nil {
		return nil, err
	}
	if v == nil {
		v = new(big.Int)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.minOrderValue
	c.minOrderValue = new(big.Int).Set(v)
	return old, nil
}

// FeeBps returns the current fee rate in basis points.
func (c *Controller) FeeBps() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeBps
}

// SetFeeBps updates the fee rate and returns the previous one.
// Operator only; capped at MaxFeeBps.
func (c *Controller) SetFeeBps(actor common.Address, bps uint64) (uint64, error) {
	if err := c.RequireOperator(actor); err != nil {
		return 0, err
	}
	if bps > MaxFeeBps {
		return 0, ErrFeeTooHigh
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.feeBps
	c.feeBps = bps
	return old, nil
}
