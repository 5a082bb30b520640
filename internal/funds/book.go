// Package funds is the value-transfer collaborator of the settlement
// engine: an in-memory book of account balances with all-or-nothing
// batch application.
package funds

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferRejected    = errors.New("transfer rejected by recipient")
	ErrNonPositiveAmount   = errors.New("amount must be positive")
)

// Move is one transfer leg of a batch.
type Move struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// Book holds account balances. Apply validates a whole batch before
// committing any leg, so a failing leg leaves every balance untouched.
type Book struct {
	mu        sync.Mutex
	balances  map[common.Address]*big.Int
	rejecting map[common.Address]bool
	onCredit  map[common.Address]func(amount *big.Int)
	log       *zap.Logger
}

// NewBook builds an empty book.
func NewBook(log *zap.Logger) *Book {
	if log == nil {
		log = zap.NewNop()
	}
	return &Book{
		balances:  make(map[common.Address]*big.Int),
		rejecting: make(map[common.Address]bool),
		onCredit:  make(map[common.Address]func(amount *big.Int)),
		log:       log,
	}
}

// Deposit credits an account from outside the system.
func (b *Book) Deposit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(addr, amount)
	return nil
}

// BalanceOf returns a copy of the account balance.
func (b *Book) BalanceOf(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Apply executes a batch of moves atomically. Legs are evaluated in
// order against a scratch copy, so a later leg may spend value credited
// by an earlier one. Any invalid leg aborts the whole batch.
func (b *Book) Apply(moves []Move) error {
	b.mu.Lock()

	scratch := make(map[common.Address]*big.Int, len(moves)*2)
	at := func(addr common.Address) *big.Int {
		if v, ok := scratch[addr]; ok {
			return v
		}
		v := new(big.Int)
		if bal, ok := b.balances[addr]; ok {
			v.Set(bal)
		}
		scratch[addr] = v
		return v
	}

	for i, m := range moves {
		if m.Amount == nil || m.Amount.Sign() <= 0 {
			b.mu.Unlock()
			return fmt.Errorf("leg %d: %w", i, ErrNonPositiveAmount)
		}
		if b.rejecting[m.To] {
			b.mu.Unlock()
			return fmt.Errorf("leg %d to %s: %w", i, m.To.Hex(), ErrTransferRejected)
		}
		src := at(m.From)
		if src.Cmp(m.Amount) < 0 {
			b.mu.Unlock()
			return fmt.Errorf("leg %d from %s: %w", i, m.From.Hex(), ErrInsufficientBalance)
		}
		src.Sub(src, m.Amount)
		at(m.To).Add(at(m.To), m.Amount)
	}

	for addr, v := range scratch {
		b.balances[addr] = v
	}

	// Collect credit hooks before releasing the lock so a hook that
	// calls back into the book cannot deadlock.
	type firing struct {
		fn     func(amount *big.Int)
		amount *big.Int
	}
	var firings []firing
	for _, m := range moves {
		if fn, ok := b.onCredit[m.To]; ok {
			firings = append(firings, firing{fn, new(big.Int).Set(m.Amount)})
		}
	}
	b.mu.Unlock()

	for _, f := range firings {
		f.fn(f.amount)
	}
	return nil
}

// SetRejecting marks an account as refusing inbound value. A batch
// with a leg to a rejecting account fails whole.
func (b *Book) SetRejecting(addr common.Address, rejecting bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rejecting {
		b.rejecting[addr] = true
	} else {
		delete(b.rejecting, addr)
	}
}

// OnCredit installs a hook fired after a committed batch credits addr.
// It models a recipient reacting to an inbound transfer.
func (b *Book) OnCredit(addr common.Address, fn func(amount *big.Int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn == nil {
		delete(b.onCredit, addr)
		return
	}
	b.onCredit[addr] = fn
}

func (b *Book) credit(addr common.Address, amount *big.Int) {
	if bal, ok := b.balances[addr]; ok {
		bal.Add(bal, amount)
		return
	}
	b.balances[addr] = new(big.Int).Set(amount)
}
