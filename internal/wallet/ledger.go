// Package wallet holds native-currency balances for the hosting platform:
// callers attach value from here and the engine pays out back into it.
package wallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	ErrZeroAddress         = errors.New("wallet: zero address")
	ErrRecipientRejected   = errors.New("wallet: recipient rejects native value")
)

type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]uint256.Int
	rejects  map[common.Address]bool
	touched  map[common.Address]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]uint256.Int),
		rejects:  make(map[common.Address]bool),
		touched:  make(map[common.Address]struct{}),
	}
}

// Credit adds freshly issued native value to an account.
func (l *Ledger) Credit(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[to]
	sum, overflow := new(uint256.Int).AddOverflow(&bal, amount)
	if overflow {
		return fmt.Errorf("wallet: credit overflows balance of %s", to.Hex())
	}
	l.balances[to] = *sum
	l.touched[to] = struct{}{}
	return nil
}

func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[account]
	return bal.Clone()
}

// Reject makes an account refuse incoming native value.
func (l *Ledger) Reject(account common.Address, reject bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if reject {
		l.rejects[account] = true
		return
	}
	delete(l.rejects, account)
}

func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rejects[to] {
		return ErrRecipientRejected
	}
	src := l.balances[from]
	if src.Lt(amount) {
		return ErrInsufficientBalance
	}
	dst := l.balances[to]
	l.balances[from] = *new(uint256.Int).Sub(&src, amount)
	l.balances[to] = *new(uint256.Int).Add(&dst, amount)
	l.touched[from] = struct{}{}
	l.touched[to] = struct{}{}
	return nil
}

// Checkpoint captures all balances; the returned func restores them.
func (l *Ledger) Checkpoint() (restore func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	saved := make(map[common.Address]uint256.Int, len(l.balances))
	for k, v := range l.balances {
		saved[k] = v
	}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.balances = saved
	}
}

// Payer returns a handle that sends native value out of from's balance.
func (l *Ledger) Payer(from common.Address) *Payer {
	return &Payer{ledger: l, from: from}
}

type Payer struct {
	ledger *Ledger
	from   common.Address
}

func (p *Payer) Send(to common.Address, amount *uint256.Int) error {
	return p.ledger.Transfer(p.from, to, amount)
}

func (p *Payer) BalanceOf(account common.Address) *uint256.Int {
	return p.ledger.BalanceOf(account)
}

// SetBalance overwrites an account balance, as when loading persisted state.
func (l *Ledger) SetBalance(account common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = *amount.Clone()
}

// Touched returns the current balance of every account changed since the
// previous call and forgets them.
func (l *Ledger) Touched() map[common.Address]uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[common.Address]uint256.Int, len(l.touched))
	for a := range l.touched {
		out[a] = l.balances[a]
	}
	l.touched = make(map[common.Address]struct{})
	return out
}
