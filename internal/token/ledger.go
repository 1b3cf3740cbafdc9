// Package token is an in-memory fungible token with ERC20-style allowances.
// It backs the secondary settlement currency for local runs and tests.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrRecipientBlocked      = errors.New("token: recipient rejects transfers")
)

type Ledger struct {
	mu         sync.Mutex
	symbol     string
	decimals   uint8
	balances   map[common.Address]uint256.Int
	allowances map[common.Address]map[common.Address]uint256.Int
	blocked    map[common.Address]bool
	touched    map[common.Address]struct{}
}

func NewLedger(symbol string, decimals uint8) *Ledger {
	return &Ledger{
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[common.Address]map[common.Address]uint256.Int),
		blocked:    make(map[common.Address]bool),
		touched:    make(map[common.Address]struct{}),
	}
}

func (l *Ledger) Symbol() string  { return l.symbol }
func (l *Ledger) Decimals() uint8 { return l.decimals }

// Mint credits new units to an account.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[to]
	sum, overflow := new(uint256.Int).AddOverflow(&bal, amount)
	if overflow {
		return fmt.Errorf("token: mint overflows balance of %s", to.Hex())
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

// Approve sets the amount spender may pull from owner.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[common.Address]uint256.Int)
		l.allowances[owner] = m
	}
	m[spender] = *amount.Clone()
	return nil
}

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.allowances[owner][spender]
	return a.Clone()
}

// Block makes an account refuse incoming transfers.
func (l *Ledger) Block(account common.Address, blocked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if blocked {
		l.blocked[account] = true
		return
	}
	delete(l.blocked, account)
}

func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// TransferFrom moves funds from `from` on behalf of spender, consuming allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := l.allowances[from][spender]
	if allowed.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	if m, ok := l.allowances[from]; ok {
		m[spender] = *new(uint256.Int).Sub(&allowed, amount)
	}
	return nil
}

func (l *Ledger) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if l.blocked[to] {
		return ErrRecipientBlocked
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

// Checkpoint captures balances and allowances; the returned func restores them.
func (l *Ledger) Checkpoint() (restore func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balances := make(map[common.Address]uint256.Int, len(l.balances))
	for k, v := range l.balances {
		balances[k] = v
	}
	allowances := make(map[common.Address]map[common.Address]uint256.Int, len(l.allowances))
	for owner, m := range l.allowances {
		cp := make(map[common.Address]uint256.Int, len(m))
		for spender, v := range m {
			cp[spender] = v
		}
		allowances[owner] = cp
	}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.balances = balances
		l.allowances = allowances
	}
}

// As returns a handle that acts on the ledger as account, the way a contract
// calls a token with itself as msg.sender.
func (l *Ledger) As(account common.Address) *Account {
	return &Account{ledger: l, self: account}
}

type Account struct {
	ledger *Ledger
	self   common.Address
}

func (a *Account) TransferFrom(from, to common.Address, amount *uint256.Int) error {
	return a.ledger.TransferFrom(a.self, from, to, amount)
}

func (a *Account) Transfer(to common.Address, amount *uint256.Int) error {
	return a.ledger.Transfer(a.self, to, amount)
}

func (a *Account) BalanceOf(account common.Address) *uint256.Int {
	return a.ledger.BalanceOf(account)
}

func (a *Account) Decimals() uint8 { return a.ledger.Decimals() }

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
