// Package vault implements share-accounted custody of pool margin. Pools
// deposit margin for proportional shares and redeem shares for margin; idle
// funds above a governed ratio are pushed into a yield source so the share
// price drifts upward as yield accrues.
package vault

import (
	"fmt"
	"sync"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/token"
)

const (
	// Base is the denominator for the staking ratio and tolerance band.
	Base int64 = 10000
	// PriceScale scales PricePerFullShare so integer division keeps precision.
	PriceScale int64 = 1e8

	version = "v1.0"
)

// ForwardVault holds pool margin under its own ledger account and tracks each
// depositor's claim as shares. Share price is total held value over total
// shares, so yield earned by the staked portion accrues to all holders.
type ForwardVault struct {
	margin     *token.Fungible
	source     YieldSource
	account    string
	governance string

	mu          sync.Mutex
	min         int64 // staked target, in Base units of total value
	tolerance   int64 // rebase dead band, in Base units of total value
	shares      map[string]int64
	totalShares int64
}

// NewForwardVault creates a vault over the margin ledger. source may be nil,
// in which case all funds stay idle and the share price only moves on
// donation. min and tolerance follow the same guards as SetMinTolerance.
func NewForwardVault(margin *token.Fungible, source YieldSource, account, governance string, min, tolerance int64) (*ForwardVault, error) {
	if err := checkMinTolerance(min, tolerance); err != nil {
		return nil, err
	}
	return &ForwardVault{
		margin:     margin,
		source:     source,
		account:    account,
		governance: governance,
		min:        min,
		tolerance:  tolerance,
		shares:     make(map[string]int64),
	}, nil
}

func checkMinTolerance(min, tolerance int64) error {
	if min < 0 || min > Base {
		return fmt.Errorf("min %d exceeds base %d", min, Base)
	}
	if tolerance < 0 || tolerance > min {
		return fmt.Errorf("tolerance %d exceeds min %d", tolerance, min)
	}
	return nil
}

// Account returns the vault's ledger account.
func (v *ForwardVault) Account() string { return v.account }

// Version reports the vault revision.
func (v *ForwardVault) Version() string { return version }

// Governance returns the current governance account.
func (v *ForwardVault) Governance() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.governance
}

// SetGovernance hands governance to a new account.
func (v *ForwardVault) SetGovernance(caller, governance string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.governance {
		return fmt.Errorf("%w: %s is not governance", domain.ErrUnauthorized, caller)
	}
	v.governance = governance
	return nil
}

// SetMinTolerance updates the staking target and rebase dead band.
func (v *ForwardVault) SetMinTolerance(caller string, min, tolerance int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.governance {
		return fmt.Errorf("%w: %s is not governance", domain.ErrUnauthorized, caller)
	}
	if err := checkMinTolerance(min, tolerance); err != nil {
		return err
	}
	v.min = min
	v.tolerance = tolerance
	return nil
}

// Balance is the total value the vault controls: idle margin on its account
// plus the redeemable value of its yield source position.
func (v *ForwardVault) Balance() (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance()
}

// balance is the unguarded total; caller must hold the lock.
func (v *ForwardVault) balance() (int64, error) {
	idle := v.margin.BalanceOf(v.account)
	if v.source == nil {
		return idle, nil
	}
	staked, err := v.source.ValueOf(v.account)
	if err != nil {
		return 0, err
	}
	return idle + staked, nil
}

// SharesOf returns the shares held by a depositor.
func (v *ForwardVault) SharesOf(owner string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shares[owner]
}

// TotalShares returns the outstanding share count.
func (v *ForwardVault) TotalShares() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalShares
}

// PricePerFullShare is the value of one share scaled by PriceScale. An empty
// vault prices at par.
func (v *ForwardVault) PricePerFullShare() (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.totalShares == 0 {
		return PriceScale, nil
	}
	total, err := v.balance()
	if err != nil {
		return 0, err
	}
	return total * PriceScale / v.totalShares, nil
}

// Deposit pulls amount of margin from the depositor and mints shares against
// the pre-deposit value, so existing holders are not diluted.
func (v *ForwardVault) Deposit(from string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("deposit amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	total, err := v.balance()
	if err != nil {
		return 0, err
	}
	var minted int64
	if v.totalShares == 0 {
		minted = amount
	} else {
		if total == 0 {
			return 0, fmt.Errorf("%w: shares outstanding against zero value", domain.ErrInsufficientVaultValue)
		}
		minted = amount * v.totalShares / total
	}
	if err := v.margin.Transfer(from, v.account, amount); err != nil {
		return 0, err
	}
	v.shares[from] += minted
	v.totalShares += minted
	return minted, nil
}

// Withdraw burns shares and releases the matching value to the owner,
// unstaking from the yield source when idle funds do not cover it.
func (v *ForwardVault) Withdraw(owner string, shares int64) (int64, error) {
	if shares <= 0 {
		return 0, fmt.Errorf("share amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if shares > v.shares[owner] {
		return 0, fmt.Errorf("%w: %s holds %d of %d shares", domain.ErrInsufficientVaultValue, owner, v.shares[owner], shares)
	}
	total, err := v.balance()
	if err != nil {
		return 0, err
	}
	amount := shares * total / v.totalShares
	if amount <= 0 {
		return 0, fmt.Errorf("%w: shares redeem to nothing", domain.ErrInsufficientVaultValue)
	}
	idle := v.margin.BalanceOf(v.account)
	if idle < amount {
		if v.source == nil {
			return 0, fmt.Errorf("%w: idle %d of %d", domain.ErrInsufficientVaultValue, idle, amount)
		}
		if _, err := v.source.WithdrawValue(v.account, amount-idle); err != nil {
			return 0, err
		}
	}
	if err := v.margin.Transfer(v.account, owner, amount); err != nil {
		return 0, err
	}
	v.shares[owner] -= shares
	v.totalShares -= shares
	return amount, nil
}

// Rebase moves idle margin into the yield source until the staked portion
// reaches min/Base of total value. Nothing moves while the gap stays inside
// the tolerance band. Anyone may call it.
func (v *ForwardVault) Rebase() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.source == nil {
		return nil
	}
	total, err := v.balance()
	if err != nil {
		return err
	}
	idle := v.margin.BalanceOf(v.account)
	staked := total - idle
	target := total * v.min / Base
	if target-staked <= total*v.tolerance/Base {
		return nil
	}
	_, err = v.source.Deposit(v.account, target-staked)
	return err
}
