package token

import "fmt"

// Wrapped is a fungible ledger whose supply mirrors native currency held on
// behalf of depositors. Deposit mints against attached native value, Withdraw
// burns and releases it. The native side is implicit; only the wrapped
// balances are tracked here.
type Wrapped struct {
	*Fungible
}

// NewWrapped creates a wrapped native-currency ledger.
func NewWrapped(id, name, symbol string) *Wrapped {
	return &Wrapped{Fungible: NewFungible(id, name, symbol)}
}

// Deposit mints wrapped units for attached native value.
func (t *Wrapped) Deposit(account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	return t.Mint(account, amount)
}

// Withdraw burns wrapped units, releasing the native value back to account.
func (t *Wrapped) Withdraw(account string, amount int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[account] < amount {
		return fmt.Errorf("%w: %s has %d of %d", ErrInsufficientBalance, account, t.balances[account], amount)
	}
	t.balances[account] -= amount
	return nil
}
