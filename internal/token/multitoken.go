package token

import (
	"fmt"
	"sync"
)

// MultiToken tracks per-id balances with operator-level approval, matching
// multi-token (id, amount) bundle semantics.
type MultiToken struct {
	id  string
	uri string

	mu        sync.RWMutex
	balances  map[uint64]map[string]int64 // token id -> account -> amount
	operators map[string]map[string]bool  // owner -> operator -> approved
}

// NewMultiToken creates an empty multi-token ledger.
func NewMultiToken(id, uri string) *MultiToken {
	return &MultiToken{
		id:        id,
		uri:       uri,
		balances:  make(map[uint64]map[string]int64),
		operators: make(map[string]map[string]bool),
	}
}

func (t *MultiToken) ID() string { return t.id }

// MintBatch credits amounts of several ids to an account.
func (t *MultiToken) MintBatch(to string, ids []uint64, amounts []int64) error {
	if len(ids) != len(amounts) {
		return fmt.Errorf("ids and amounts length mismatch")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, id := range ids {
		if amounts[i] < 0 {
			return fmt.Errorf("mint amount must be non-negative")
		}
		t.credit(to, id, amounts[i])
	}
	return nil
}

// BalanceOf returns the balance of one id for an account.
func (t *MultiToken) BalanceOf(account string, id uint64) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[id][account]
}

// SetApprovalForAll grants or revokes an operator over all of owner's ids.
func (t *MultiToken) SetApprovalForAll(owner, operator string, approved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.operators[owner]
	if !ok {
		m = make(map[string]bool)
		t.operators[owner] = m
	}
	m[operator] = approved
}

// IsApprovedForAll reports whether operator may move owner's tokens.
func (t *MultiToken) IsApprovedForAll(owner, operator string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.operators[owner][operator]
}

// BatchTransferFrom moves a bundle of (id, amount) pairs from one account to
// another. All balances are checked before any mutation so a failed transfer
// leaves the ledger untouched.
func (t *MultiToken) BatchTransferFrom(operator, from, to string, ids []uint64, amounts []int64) error {
	if len(ids) != len(amounts) {
		return fmt.Errorf("ids and amounts length mismatch")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if operator != from && !t.operators[from][operator] {
		return fmt.Errorf("%w: operator %s for %s", ErrNotApproved, operator, from)
	}
	for i, id := range ids {
		if amounts[i] < 0 {
			return fmt.Errorf("transfer amount must be non-negative")
		}
		if t.balances[id][from] < amounts[i] {
			return fmt.Errorf("%w: id %d, %s has %d of %d", ErrInsufficientBalance, id, from, t.balances[id][from], amounts[i])
		}
	}
	for i, id := range ids {
		t.balances[id][from] -= amounts[i]
		t.credit(to, id, amounts[i])
	}
	return nil
}

// credit is the unguarded add; caller must hold the lock.
func (t *MultiToken) credit(to string, id uint64, amount int64) {
	m, ok := t.balances[id]
	if !ok {
		m = make(map[string]int64)
		t.balances[id] = m
	}
	m[to] += amount
}
