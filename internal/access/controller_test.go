package access

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var testRoles = Roles{
	Operator:     common.HexToAddress("0x01"),
	Treasury:     common.HexToAddress("0x02"),
	EscrowKeeper: common.HexToAddress("0x03"),
}

func newController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(testRoles, big.NewInt(100), 25, zap.NewNop())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func TestNewControllerValidation(t *testing.T) {
	if _, err := NewController(Roles{}, nil, 0, nil); !errors.Is(err, ErrZeroRole) {
		t.Errorf("zero roles: got %v, want ErrZeroRole", err)
	}
	if _, err := NewController(testRoles, nil, MaxFeeBps+1, nil); !errors.Is(err, ErrFeeTooHigh) {
		t.Errorf("fee above cap: got %v, want ErrFeeTooHigh", err)
	}
}

func TestRoleChecks(t *testing.T) {
	c := newController(t)
	stranger := common.HexToAddress("0x09")

	if err := c.RequireOperator(testRoles.Operator); err != nil {
		t.Errorf("operator check: %v", err)
	}
	if err := c.RequireOperator(stranger); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger as operator: got %v, want ErrUnauthorized", err)
	}
	if err := c.RequireKeeper(testRoles.EscrowKeeper); err != nil {
		t.Errorf("keeper check: %v", err)
	}
	if err := c.RequireKeeper(testRoles.Operator); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("operator as keeper: got %v, want ErrUnauthorized", err)
	}
}

func TestPauseGate(t *testing.T) {
	c := newController(t)

	if err := c.RequireNotPaused(); err != nil {
		t.Errorf("fresh controller: %v", err)
	}
	if err := c.SetPaused(common.HexToAddress("0x09"), true); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger pause: got %v, want ErrUnauthorized", err)
	}
	if err := c.SetPaused(testRoles.Operator, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := c.RequireNotPaused(); !errors.Is(err, ErrPaused) {
		t.Errorf("paused gate: got %v, want ErrPaused", err)
	}
	if err := c.SetPaused(testRoles.Operator, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if c.Paused() {
		t.Error("still paused after resume")
	}
}

func TestConfigMutation(t *testing.T) {
	c := newController(t)

	old, err := c.SetFeeBps(testRoles.Operator, 50)
	if err != nil || old != 25 {
		t.Fatalf("set fee: old=%d err=%v", old, err)
	}
	if _, err := c.SetFeeBps(testRoles.Operator, MaxFeeBps+1); !errors.Is(err, ErrFeeTooHigh) {
		t.Errorf("fee above cap: got %v, want ErrFeeTooHigh", err)
	}
	// Exactly 100% is allowed.
	if _, err := c.SetFeeBps(testRoles.Operator, MaxFeeBps); err != nil {
		t.Errorf("fee at cap: %v", err)
	}

	oldMin, err := c.SetMinOrderValue(testRoles.Operator, big.NewInt(500))
	if err != nil || oldMin.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("set min: old=%s err=%v", oldMin, err)
	}
	if got := c.MinOrderValue(); got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("min order value: got %s, want 500", got)
	}
	if _, err := c.SetMinOrderValue(common.HexToAddress("0x09"), big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger set min: got %v, want ErrUnauthorized", err)
	}
}
