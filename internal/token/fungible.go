package token

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Fungible is a deterministic in-memory ledger with standard
// balance/allowance/transfer semantics. Amounts are int64 in the token's
// smallest unit.
type Fungible struct {
	id     string
	name   string
	symbol string

	mu         sync.RWMutex
	balances   map[string]int64
	allowances map[string]map[string]int64 // owner -> spender -> amount
}

// NewFungible creates an empty fungible ledger.
func NewFungible(id, name, symbol string) *Fungible {
	return &Fungible{
		id:         id,
		name:       name,
		symbol:     symbol,
		balances:   make(map[string]int64),
		allowances: make(map[string]map[string]int64),
	}
}

func (t *Fungible) ID() string     { return t.id }
func (t *Fungible) Name() string   { return t.name }
func (t *Fungible) Symbol() string { return t.symbol }

// Mint credits freshly created units to an account.
func (t *Fungible) Mint(to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("mint amount must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] += amount
	return nil
}

// BalanceOf returns the current balance of an account.
func (t *Fungible) BalanceOf(account string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[account]
}

// Transfer moves units from one account to another on behalf of the owner.
func (t *Fungible) Transfer(from, to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfer(from, to, amount)
}

// Approve grants a spender the right to pull up to amount from owner.
func (t *Fungible) Approve(owner, spender string, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[string]int64)
		t.allowances[owner] = m
	}
	m[spender] = amount
}

// Allowance returns the remaining amount a spender may pull from owner.
func (t *Fungible) Allowance(owner, spender string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[owner][spender]
}

// TransferFrom pulls units from owner to a recipient, consuming the spender's
// allowance. No unsolicited pulls: the allowance must have been granted first.
func (t *Fungible) TransferFrom(spender, owner, to string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowances[owner][spender]
	if allowed < amount {
		return fmt.Errorf("%w: spender %s has %d of %d", ErrInsufficientAllowance, spender, allowed, amount)
	}
	if err := t.transfer(owner, to, amount); err != nil {
		return err
	}
	t.allowances[owner][spender] = allowed - amount
	return nil
}

// transfer is the unguarded move; caller must hold the lock.
func (t *Fungible) transfer(from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	if t.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d of %d", ErrInsufficientBalance, from, t.balances[from], amount)
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}
